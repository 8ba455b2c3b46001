// Package config loads uiflow server configuration from HCL files.
//
// A configuration is made of server, storage, app, const and function
// blocks. Expressions may refer to env.* and to constants, and may call the
// cty standard library plus the go-cty-funcs additions.
package config

import (
	"github.com/hashicorp/hcl/v2"
	"github.com/zclconf/go-cty/cty"
	"github.com/zclconf/go-cty/cty/function"
	"go.uber.org/zap"
)

type ConfigBuilder struct {
	logger  *zap.Logger
	sources []any
}

type Config struct {
	Logger    *zap.Logger
	Functions map[string]function.Function
	Constants map[string]cty.Value
	evalCtx   *hcl.EvalContext

	Servers map[string]*ServerConfig
	Storage *StorageConfig
	Apps    []*AppConfig
}

// NewConfig starts building a Config. Sources are file or directory paths,
// byte slices or an embed.FS.
//
//	cfg, diags := config.NewConfig().
//	    WithLogger(logger).
//	    WithSources("uiflow.ucl").
//	    Build()
func NewConfig() *ConfigBuilder {
	return &ConfigBuilder{
		logger:  zap.NewNop(),
		sources: make([]any, 0),
	}
}

func (c *ConfigBuilder) WithLogger(logger *zap.Logger) *ConfigBuilder {
	if logger != nil {
		c.logger = logger
	}
	return c
}

func (c *ConfigBuilder) WithSources(sources ...any) *ConfigBuilder {
	c.sources = append(c.sources, sources...)
	return c
}

func (cb *ConfigBuilder) Build() (*Config, hcl.Diagnostics) {
	config := &Config{
		Logger:    cb.logger,
		Constants: make(map[string]cty.Value),
		Servers:   make(map[string]*ServerConfig),
	}

	bodies, diags := ParseConfigFiles(cb.sources...)
	if diags.HasErrors() {
		return nil, diags
	}

	userFuncs, nonFunctionBodies, addDiags := config.ExtractUserFunctions(bodies)
	diags = diags.Extend(addDiags)
	if diags.HasErrors() {
		return nil, diags
	}

	config.Functions, addDiags = config.GetFunctions(userFuncs)
	diags = diags.Extend(addDiags)
	if diags.HasErrors() {
		return nil, diags
	}

	blocks, addDiags := GetBlocks(nonFunctionBodies)
	diags = diags.Extend(addDiags)
	if diags.HasErrors() {
		return nil, diags
	}

	config.Constants["env"] = GetEnvObject()

	config.evalCtx = &hcl.EvalContext{
		Functions: config.Functions,
		Variables: config.Constants,
	}

	blockHandlers := GetBlockHandlers()

	for _, block := range blocks {
		if handler, ok := blockHandlers[block.Type]; ok {
			diags = diags.Extend(handler.Preprocess(block))
		}
	}
	if diags.HasErrors() {
		return nil, diags
	}

	for _, name := range handlerOrder {
		diags = diags.Extend(blockHandlers[name].FinishPreprocessing(config))
	}
	if diags.HasErrors() {
		return nil, diags
	}

	for _, block := range blocks {
		if handler, ok := blockHandlers[block.Type]; ok {
			diags = diags.Extend(handler.Process(config, block))
		}
	}
	if diags.HasErrors() {
		return nil, diags
	}

	for _, name := range handlerOrder {
		diags = diags.Extend(blockHandlers[name].FinishProcessing(config))
	}
	if diags.HasErrors() {
		return nil, diags
	}

	config.Logger.Info("Config built successfully",
		zap.Int("servers", len(config.Servers)),
		zap.String("storage", config.Storage.Kind),
		zap.Int("apps", len(config.Apps)),
	)

	return config, diags
}

// Server returns the named server, or the only one when name is empty.
func (c *Config) Server(name string) (*ServerConfig, bool) {
	if name == "" && len(c.Servers) == 1 {
		for _, s := range c.Servers {
			return s, true
		}
	}
	s, ok := c.Servers[name]
	return s, ok
}
