package config

import "github.com/hashicorp/hcl/v2"

type BlockHandler interface {
	Preprocess(block *hcl.Block) hcl.Diagnostics
	FinishPreprocessing(config *Config) hcl.Diagnostics
	Process(config *Config, block *hcl.Block) hcl.Diagnostics
	FinishProcessing(config *Config) hcl.Diagnostics
}

type BlockHandlerBase struct {
}

func (b *BlockHandlerBase) Preprocess(block *hcl.Block) hcl.Diagnostics {
	return nil
}

func (b *BlockHandlerBase) FinishPreprocessing(config *Config) hcl.Diagnostics {
	return nil
}

func (b *BlockHandlerBase) Process(config *Config, block *hcl.Block) hcl.Diagnostics {
	return nil
}

func (b *BlockHandlerBase) FinishProcessing(config *Config) hcl.Diagnostics {
	return nil
}

// handlerOrder fixes the order of the Finish steps. Constants must be
// evaluated before anything else refers to them.
var handlerOrder = []string{"const", "server", "storage", "app"}

func GetBlockHandlers() map[string]BlockHandler {
	return map[string]BlockHandler{
		"app":     NewAppBlockHandler(),
		"const":   NewConstBlockHandler(),
		"server":  NewServerBlockHandler(),
		"storage": NewStorageBlockHandler(),
	}
}
