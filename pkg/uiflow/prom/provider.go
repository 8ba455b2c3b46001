// Package prom implements o11y.MetricsProvider with Prometheus collectors.
package prom

import (
	"context"
	"net/http"
	"sort"
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tsarna/uiflow/pkg/uiflow/o11y"
)

// Config configures the provider.
type Config struct {
	// Namespace prefixes every metric name (default: "uiflow").
	Namespace string

	// Buckets are the histogram buckets (default: prometheus.DefBuckets).
	Buckets []float64

	// Registry receives the collectors. The default is a fresh registry so
	// that several providers can coexist in one process.
	Registry *prometheus.Registry
}

// Provider lazily creates one collector vector per metric name. Label names
// are fixed by the first use of a metric; later calls with different label
// keys are folded onto that set, missing values reported as "".
type Provider struct {
	config  Config
	factory promauto.Factory

	mu         sync.Mutex
	counters   map[string]*counterVec
	histograms map[string]*histogramVec
	gauges     map[string]*gaugeVec
}

// NewProvider creates a Prometheus backed metrics provider.
func NewProvider(config Config) *Provider {
	if config.Namespace == "" {
		config.Namespace = "uiflow"
	}
	if len(config.Buckets) == 0 {
		config.Buckets = prometheus.DefBuckets
	}
	if config.Registry == nil {
		config.Registry = prometheus.NewRegistry()
	}

	return &Provider{
		config:     config,
		factory:    promauto.With(config.Registry),
		counters:   make(map[string]*counterVec),
		histograms: make(map[string]*histogramVec),
		gauges:     make(map[string]*gaugeVec),
	}
}

// Registry returns the registry holding the provider's collectors.
func (p *Provider) Registry() *prometheus.Registry {
	return p.config.Registry
}

// Handler serves the registry in the Prometheus exposition format.
func (p *Provider) Handler() http.Handler {
	return promhttp.HandlerFor(p.config.Registry, promhttp.HandlerOpts{})
}

func (p *Provider) Counter(name string) o11y.Counter {
	return &counter{p: p, name: name}
}

func (p *Provider) Histogram(name string) o11y.Histogram {
	return &histogram{p: p, name: name}
}

func (p *Provider) Gauge(name string) o11y.Gauge {
	return &gauge{p: p, name: name}
}

type counterVec struct {
	keys []string
	vec  *prometheus.CounterVec
}

type histogramVec struct {
	keys []string
	vec  *prometheus.HistogramVec
}

type gaugeVec struct {
	keys []string
	vec  *prometheus.GaugeVec
}

func labelKeys(labels []o11y.Label) []string {
	keys := make([]string, 0, len(labels))
	for _, l := range labels {
		keys = append(keys, l.Key)
	}
	sort.Strings(keys)
	return keys
}

func labelValues(keys []string, labels []o11y.Label) prometheus.Labels {
	values := make(prometheus.Labels, len(keys))
	for _, k := range keys {
		values[k] = ""
	}
	for _, l := range labels {
		if _, ok := values[l.Key]; ok {
			values[l.Key] = l.Value
		}
	}
	return values
}

func help(name string) string {
	return strings.ReplaceAll(name, "_", " ")
}

func (p *Provider) counterFor(name string, labels []o11y.Label) *counterVec {
	p.mu.Lock()
	defer p.mu.Unlock()

	if v, ok := p.counters[name]; ok {
		return v
	}
	keys := labelKeys(labels)
	v := &counterVec{
		keys: keys,
		vec: p.factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: p.config.Namespace,
			Name:      name,
			Help:      help(name),
		}, keys),
	}
	p.counters[name] = v
	return v
}

func (p *Provider) histogramFor(name string, labels []o11y.Label) *histogramVec {
	p.mu.Lock()
	defer p.mu.Unlock()

	if v, ok := p.histograms[name]; ok {
		return v
	}
	keys := labelKeys(labels)
	v := &histogramVec{
		keys: keys,
		vec: p.factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: p.config.Namespace,
			Name:      name,
			Help:      help(name),
			Buckets:   p.config.Buckets,
		}, keys),
	}
	p.histograms[name] = v
	return v
}

func (p *Provider) gaugeFor(name string, labels []o11y.Label) *gaugeVec {
	p.mu.Lock()
	defer p.mu.Unlock()

	if v, ok := p.gauges[name]; ok {
		return v
	}
	keys := labelKeys(labels)
	v := &gaugeVec{
		keys: keys,
		vec: p.factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: p.config.Namespace,
			Name:      name,
			Help:      help(name),
		}, keys),
	}
	p.gauges[name] = v
	return v
}

type counter struct {
	p    *Provider
	name string
}

func (c *counter) Add(ctx context.Context, value int64, labels ...o11y.Label) {
	v := c.p.counterFor(c.name, labels)
	v.vec.With(labelValues(v.keys, labels)).Add(float64(value))
}

type histogram struct {
	p    *Provider
	name string
}

func (h *histogram) Record(ctx context.Context, value float64, labels ...o11y.Label) {
	v := h.p.histogramFor(h.name, labels)
	v.vec.With(labelValues(v.keys, labels)).Observe(value)
}

type gauge struct {
	p    *Provider
	name string
}

func (g *gauge) Set(ctx context.Context, value float64, labels ...o11y.Label) {
	v := g.p.gaugeFor(g.name, labels)
	v.vec.With(labelValues(v.keys, labels)).Set(value)
}
