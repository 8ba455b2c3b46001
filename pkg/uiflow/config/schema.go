package config

import (
	"github.com/hashicorp/hcl/v2"
)

var blockSchema = []hcl.BlockHeaderSchema{
	{
		Type:       "app",
		LabelNames: []string{"kind"},
	},
	{
		Type:       "const",
		LabelNames: []string{},
	},
	{
		Type:       "server",
		LabelNames: []string{"name"},
	},
	{
		Type:       "storage",
		LabelNames: []string{},
	},
}

var configSchema = &hcl.BodySchema{
	Blocks: blockSchema,
}
