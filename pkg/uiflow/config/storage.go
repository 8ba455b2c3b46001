package config

import (
	"fmt"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/tsarna/uiflow/pkg/uiflow/storage"
)

const (
	StorageMemory = "memory"
	StorageFile   = "file"
	StorageS3     = "s3"
)

// StorageConfig is the decoded storage block.
type StorageConfig struct {
	Kind      string `hcl:"kind,optional"`
	Bucket    string `hcl:"bucket,optional"`
	Prefix    string `hcl:"prefix,optional"`
	Dir       string `hcl:"dir,optional"`
	Region    string `hcl:"region,optional"`
	Endpoint  string `hcl:"endpoint,optional"`
	PathStyle bool   `hcl:"path_style,optional"`

	DefRange hcl.Range
}

// Open creates the configured store.
func (s *StorageConfig) Open() (storage.Store, error) {
	switch s.Kind {
	case StorageMemory:
		return storage.NewMemoryStore(), nil
	case StorageFile:
		return storage.NewFileStore(s.Dir)
	case StorageS3:
		client := storage.NewS3Client(storage.S3ClientOptions{
			Region:       s.Region,
			Endpoint:     s.Endpoint,
			UsePathStyle: s.PathStyle,
		})
		return storage.NewS3Store(client, s.Bucket, s.Prefix), nil
	default:
		return nil, fmt.Errorf("unknown storage kind %q", s.Kind)
	}
}

type StorageBlockHandler struct {
	BlockHandlerBase
}

func NewStorageBlockHandler() *StorageBlockHandler {
	return &StorageBlockHandler{}
}

func (h *StorageBlockHandler) Process(config *Config, block *hcl.Block) hcl.Diagnostics {
	if config.Storage != nil {
		return hcl.Diagnostics{&hcl.Diagnostic{
			Severity: hcl.DiagError,
			Summary:  "Duplicate storage block",
			Detail:   fmt.Sprintf("Storage is already defined at %v", config.Storage.DefRange),
			Subject:  &block.DefRange,
		}}
	}

	s := &StorageConfig{Kind: StorageMemory}
	diags := gohcl.DecodeBody(block.Body, config.evalCtx, s)
	if diags.HasErrors() {
		return diags
	}
	s.DefRange = block.DefRange

	switch s.Kind {
	case StorageMemory:
	case StorageFile:
		if s.Dir == "" {
			diags = diags.Append(invalidAttr(block, "Missing storage directory", "File storage requires dir"))
		}
	case StorageS3:
		if s.Bucket == "" {
			diags = diags.Append(invalidAttr(block, "Missing storage bucket", "S3 storage requires bucket"))
		}
	default:
		diags = diags.Append(invalidAttr(block, "Invalid storage kind", fmt.Sprintf("kind must be one of %q, %q or %q, got %q", StorageMemory, StorageFile, StorageS3, s.Kind)))
	}

	if diags.HasErrors() {
		return diags
	}

	config.Storage = s
	return diags
}

func (h *StorageBlockHandler) FinishProcessing(config *Config) hcl.Diagnostics {
	if config.Storage == nil {
		config.Storage = &StorageConfig{Kind: StorageMemory}
	}
	return nil
}
