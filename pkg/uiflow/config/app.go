package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/tsarna/uiflow/pkg/uiflow/chat"
	"github.com/tsarna/uiflow/pkg/uiflow/memory"
)

const (
	AppMemory = "memory"
	AppChat   = "chat"

	DefaultMemoryPath = "/ws"
	DefaultChatPath   = "/chat"
)

// AppConfig is a decoded app block with its application built. Exactly one
// of Game and Chat is set, according to Kind.
type AppConfig struct {
	Kind     string
	Path     string
	Game     *memory.Game
	Chat     *chat.App
	DefRange hcl.Range
}

// DefaultMemoryApp serves the memory game with default settings on
// DefaultMemoryPath.
func DefaultMemoryApp() (*AppConfig, error) {
	game, err := memory.NewGameConfig().Build()
	if err != nil {
		return nil, err
	}
	return &AppConfig{Kind: AppMemory, Path: DefaultMemoryPath, Game: game}, nil
}

type memoryDefinition struct {
	Disabled  bool           `hcl:"disabled,optional"`
	Path      string         `hcl:"path,optional"`
	Mode      string         `hcl:"mode,optional"`
	Grid      []int          `hcl:"grid,optional"`
	FlipDelay hcl.Expression `hcl:"flip_delay,optional"`
	PolicyID  string         `hcl:"policy_id,optional"`
	Assets    []string       `hcl:"assets,optional"`
}

type chatDefinition struct {
	Disabled    bool   `hcl:"disabled,optional"`
	Path        string `hcl:"path,optional"`
	MaxMessages int    `hcl:"max_messages,optional"`
}

type AppBlockHandler struct {
	BlockHandlerBase
}

func NewAppBlockHandler() *AppBlockHandler {
	return &AppBlockHandler{}
}

func (h *AppBlockHandler) Process(config *Config, block *hcl.Block) hcl.Diagnostics {
	var app *AppConfig
	var diags hcl.Diagnostics

	switch block.Labels[0] {
	case AppMemory:
		app, diags = processMemoryApp(config, block)
	case AppChat:
		app, diags = processChatApp(config, block)
	default:
		return hcl.Diagnostics{&hcl.Diagnostic{
			Severity: hcl.DiagError,
			Summary:  "Invalid app kind",
			Detail:   fmt.Sprintf("Invalid app kind: %s", block.Labels[0]),
			Subject:  &block.DefRange,
		}}
	}

	if diags.HasErrors() || app == nil {
		return diags
	}

	if !strings.HasPrefix(app.Path, "/") {
		return diags.Append(invalidAttr(block, "Invalid app path", fmt.Sprintf("path must start with /, got %q", app.Path)))
	}
	app.Path = strings.TrimSuffix(app.Path, "/")
	for _, other := range config.Apps {
		if other.Path == app.Path {
			return diags.Append(invalidAttr(block, "Duplicate app path", fmt.Sprintf("Path %s is already used by the app at %v", app.Path, other.DefRange)))
		}
	}

	app.DefRange = block.DefRange
	config.Apps = append(config.Apps, app)
	return diags
}

func (h *AppBlockHandler) FinishProcessing(config *Config) hcl.Diagnostics {
	if len(config.Apps) > 0 {
		return nil
	}

	app, err := DefaultMemoryApp()
	if err != nil {
		return hcl.Diagnostics{&hcl.Diagnostic{
			Severity: hcl.DiagError,
			Summary:  "Failed to create default app",
			Detail:   err.Error(),
		}}
	}
	config.Apps = append(config.Apps, app)
	return nil
}

func processMemoryApp(config *Config, block *hcl.Block) (*AppConfig, hcl.Diagnostics) {
	def := memoryDefinition{}
	diags := gohcl.DecodeBody(block.Body, config.evalCtx, &def)
	if diags.HasErrors() || def.Disabled {
		return nil, diags
	}

	cfg := memory.DefaultConfig()
	if def.Mode != "" {
		cfg.Mode = memory.Mode(def.Mode)
	}
	if def.PolicyID != "" {
		cfg.PolicyID = def.PolicyID
	}

	if def.Grid != nil {
		if len(def.Grid) != 2 || def.Grid[0] < 1 || def.Grid[0] > 255 || def.Grid[1] < 1 || def.Grid[1] > 255 {
			return nil, diags.Append(invalidAttr(block, "Invalid grid", fmt.Sprintf("grid must be [rows, columns] between 1 and 255, got %v", def.Grid)))
		}
		cfg.GridSize = [2]uint8{uint8(def.Grid[0]), uint8(def.Grid[1])}
	}

	delay, durDiags := config.optionalDuration(def.FlipDelay, time.Duration(cfg.FlipDelayMs)*time.Millisecond)
	diags = diags.Extend(durDiags)
	if durDiags.HasErrors() {
		return nil, diags
	}
	cfg.FlipDelayMs = uint64(delay / time.Millisecond)

	builder := memory.NewGameConfig().WithDefaults(cfg)
	if len(def.Assets) > 0 {
		builder = builder.WithAssets(memory.StaticAssets(def.Assets))
	}

	game, err := builder.Build()
	if err != nil {
		return nil, diags.Append(invalidAttr(block, "Invalid memory game", err.Error()))
	}

	path := def.Path
	if path == "" {
		path = DefaultMemoryPath
	}
	return &AppConfig{Kind: AppMemory, Path: path, Game: game}, diags
}

func processChatApp(config *Config, block *hcl.Block) (*AppConfig, hcl.Diagnostics) {
	def := chatDefinition{}
	diags := gohcl.DecodeBody(block.Body, config.evalCtx, &def)
	if diags.HasErrors() || def.Disabled {
		return nil, diags
	}

	builder := chat.NewAppConfig()
	if def.MaxMessages != 0 {
		builder = builder.WithMaxMessages(def.MaxMessages)
	}

	app, err := builder.Build()
	if err != nil {
		return nil, diags.Append(invalidAttr(block, "Invalid chat app", err.Error()))
	}

	path := def.Path
	if path == "" {
		path = DefaultChatPath
	}
	return &AppConfig{Kind: AppChat, Path: path, Chat: app}, diags
}
