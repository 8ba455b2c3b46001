package config

import (
	"fmt"
	"time"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/robfig/cron/v3"
	"github.com/tsarna/uiflow/pkg/uiflow/room"
)

const (
	DefaultListen      = ":8080"
	DefaultServerName  = "main"
	MetricsNone        = "none"
	MetricsPrometheus  = "prometheus"
	MetricsOtel        = "otel"
	DefaultMetricsPath = "/metrics"
)

// ServerConfig is a decoded server block.
type ServerConfig struct {
	Name         string
	Listen       string
	QueueSize    int
	PingInterval time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
	IdleSweep    string
	Metrics      string
	MetricsPath  string
	Origins      []string
	DefRange     hcl.Range
}

// DefaultServer is used when the configuration has no server block.
func DefaultServer() *ServerConfig {
	return &ServerConfig{
		Name:         DefaultServerName,
		Listen:       DefaultListen,
		QueueSize:    room.DefaultQueueSize,
		PingInterval: room.DefaultPingInterval,
		ReadTimeout:  room.DefaultReadTimeout,
		WriteTimeout: room.DefaultWriteTimeout,
		IdleTimeout:  room.DefaultIdleTimeout,
		IdleSweep:    room.DefaultSweepSchedule,
		Metrics:      MetricsNone,
		MetricsPath:  DefaultMetricsPath,
	}
}

type serverDefinition struct {
	Disabled     bool           `hcl:"disabled,optional"`
	Listen       string         `hcl:"listen,optional"`
	QueueSize    int            `hcl:"queue_size,optional"`
	PingInterval hcl.Expression `hcl:"ping_interval,optional"`
	ReadTimeout  hcl.Expression `hcl:"read_timeout,optional"`
	WriteTimeout hcl.Expression `hcl:"write_timeout,optional"`
	IdleTimeout  hcl.Expression `hcl:"idle_timeout,optional"`
	IdleSweep    string         `hcl:"idle_sweep,optional"`
	Metrics      string         `hcl:"metrics,optional"`
	MetricsPath  string         `hcl:"metrics_path,optional"`
	Origins      []string       `hcl:"origins,optional"`
}

type ServerBlockHandler struct {
	BlockHandlerBase
}

func NewServerBlockHandler() *ServerBlockHandler {
	return &ServerBlockHandler{}
}

func (h *ServerBlockHandler) Process(config *Config, block *hcl.Block) hcl.Diagnostics {
	name := block.Labels[0]
	if prev, exists := config.Servers[name]; exists {
		return hcl.Diagnostics{&hcl.Diagnostic{
			Severity: hcl.DiagError,
			Summary:  "Duplicate server",
			Detail:   fmt.Sprintf("Server %s is already defined at %v", name, prev.DefRange),
			Subject:  &block.DefRange,
		}}
	}

	def := serverDefinition{}
	diags := gohcl.DecodeBody(block.Body, config.evalCtx, &def)
	if diags.HasErrors() {
		return diags
	}
	if def.Disabled {
		return nil
	}

	server := DefaultServer()
	server.Name = name
	server.DefRange = block.DefRange
	server.Origins = def.Origins

	if def.Listen != "" {
		server.Listen = def.Listen
	}
	if def.QueueSize < 0 {
		diags = diags.Append(invalidAttr(block, "Invalid queue size", "queue_size must be positive"))
	} else if def.QueueSize > 0 {
		server.QueueSize = def.QueueSize
	}
	if def.MetricsPath != "" {
		server.MetricsPath = def.MetricsPath
	}

	var durDiags hcl.Diagnostics
	server.PingInterval, durDiags = config.optionalDuration(def.PingInterval, server.PingInterval)
	diags = diags.Extend(durDiags)
	server.ReadTimeout, durDiags = config.optionalDuration(def.ReadTimeout, server.ReadTimeout)
	diags = diags.Extend(durDiags)
	server.WriteTimeout, durDiags = config.optionalDuration(def.WriteTimeout, server.WriteTimeout)
	diags = diags.Extend(durDiags)
	server.IdleTimeout, durDiags = config.optionalDuration(def.IdleTimeout, server.IdleTimeout)
	diags = diags.Extend(durDiags)

	if def.IdleSweep != "" {
		if _, err := sweepParser.Parse(def.IdleSweep); err != nil {
			diags = diags.Append(invalidAttr(block, "Invalid idle_sweep schedule", fmt.Sprintf("Failed to parse schedule %q: %s", def.IdleSweep, err)))
		}
		server.IdleSweep = def.IdleSweep
	}

	switch def.Metrics {
	case "":
	case MetricsNone, MetricsPrometheus, MetricsOtel:
		server.Metrics = def.Metrics
	default:
		diags = diags.Append(invalidAttr(block, "Invalid metrics provider", fmt.Sprintf("metrics must be one of %q, %q or %q, got %q", MetricsPrometheus, MetricsOtel, MetricsNone, def.Metrics)))
	}

	if diags.HasErrors() {
		return diags
	}

	config.Servers[name] = server
	return diags
}

func (h *ServerBlockHandler) FinishProcessing(config *Config) hcl.Diagnostics {
	if len(config.Servers) == 0 {
		config.Servers[DefaultServerName] = DefaultServer()
	}
	return nil
}

// sweepParser accepts the same schedules as the room hub.
var sweepParser = cron.NewParser(
	cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

func invalidAttr(block *hcl.Block, summary, detail string) *hcl.Diagnostic {
	return &hcl.Diagnostic{
		Severity: hcl.DiagError,
		Summary:  summary,
		Detail:   detail,
		Subject:  &block.DefRange,
	}
}
