// Package telemetry backs the ambient Metrics port with Prometheus
// collectors and wraps pass-through/orchestrator calls in otel spans.
package telemetry

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "ue_mcp_bridge"

// PromMetrics implements port.Metrics on top of ad hoc Prometheus
// collectors, registering each metric name lazily on first use so callers
// don't need to pre-declare every counter/gauge/histogram name up front.
type PromMetrics struct {
	reg *prometheus.Registry

	mu         sync.Mutex
	counters   map[string]*prometheus.CounterVec
	gauges     map[string]*prometheus.GaugeVec
	histograms map[string]*prometheus.HistogramVec
}

// NewPromMetrics builds a PromMetrics backed by a fresh registry.
func NewPromMetrics() *PromMetrics {
	return &PromMetrics{
		reg:        prometheus.NewRegistry(),
		counters:   map[string]*prometheus.CounterVec{},
		gauges:     map[string]*prometheus.GaugeVec{},
		histograms: map[string]*prometheus.HistogramVec{},
	}
}

// Registry exposes the underlying registry for the debug HTTP /metrics
// handler.
func (m *PromMetrics) Registry() *prometheus.Registry { return m.reg }

func sanitize(name string) string {
	out := make([]byte, len(name))
	for i := 0; i < len(name); i++ {
		c := name[i]
		if (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9') {
			out[i] = c
		} else {
			out[i] = '_'
		}
	}
	return string(out)
}

func labelNames(labels map[string]string) []string {
	names := make([]string, 0, len(labels))
	for k := range labels {
		names = append(names, k)
	}
	return names
}

func (m *PromMetrics) counterVec(name string, labels map[string]string) *prometheus.CounterVec {
	m.mu.Lock()
	defer m.mu.Unlock()
	cv, ok := m.counters[name]
	if !ok {
		cv = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      sanitize(name),
			Help:      name + " total",
		}, labelNames(labels))
		m.reg.MustRegister(cv)
		m.counters[name] = cv
	}
	return cv
}

func (m *PromMetrics) gaugeVec(name string, labels map[string]string) *prometheus.GaugeVec {
	m.mu.Lock()
	defer m.mu.Unlock()
	gv, ok := m.gauges[name]
	if !ok {
		gv = prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      sanitize(name),
			Help:      name + " gauge",
		}, labelNames(labels))
		m.reg.MustRegister(gv)
		m.gauges[name] = gv
	}
	return gv
}

func (m *PromMetrics) histogramVec(name string, labels map[string]string) *prometheus.HistogramVec {
	m.mu.Lock()
	defer m.mu.Unlock()
	hv, ok := m.histograms[name]
	if !ok {
		hv = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      sanitize(name),
			Help:      name + " seconds",
			Buckets:   prometheus.DefBuckets,
		}, labelNames(labels))
		m.reg.MustRegister(hv)
		m.histograms[name] = hv
	}
	return hv
}

// IncCounter implements port.Metrics.
func (m *PromMetrics) IncCounter(name string, labels map[string]string) {
	m.counterVec(name, labels).With(prometheus.Labels(labels)).Inc()
}

// ObserveHistogram implements port.Metrics.
func (m *PromMetrics) ObserveHistogram(name string, seconds float64, labels map[string]string) {
	m.histogramVec(name, labels).With(prometheus.Labels(labels)).Observe(seconds)
}

// SetGauge implements port.Metrics.
func (m *PromMetrics) SetGauge(name string, value float64, labels map[string]string) {
	m.gaugeVec(name, labels).With(prometheus.Labels(labels)).Set(value)
}

// Summary gathers every registered metric family into a flat map of
// fully-qualified name to summed value, for the best-effort periodic log
// line; not a substitute for the /metrics scrape format.
func (m *PromMetrics) Summary() map[string]float64 {
	families, err := m.reg.Gather()
	if err != nil {
		return nil
	}
	out := make(map[string]float64, len(families))
	for _, f := range families {
		var total float64
		for _, metric := range f.GetMetric() {
			switch {
			case metric.GetCounter() != nil:
				total += metric.GetCounter().GetValue()
			case metric.GetGauge() != nil:
				total += metric.GetGauge().GetValue()
			case metric.GetHistogram() != nil:
				total += float64(metric.GetHistogram().GetSampleCount())
			}
		}
		out[f.GetName()] = total
	}
	return out
}

// LogLoop periodically logs a one-line metrics summary for operators
// without a Prometheus scrape target. Exits when ctx is done.
func LogLoop(ctx context.Context, prom *PromMetrics, interval time.Duration, logger *slog.Logger) {
	if interval <= 0 || prom == nil {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			logger.Info("metrics summary", "metrics", prom.Summary())
		}
	}
}

// NoopMetrics discards every observation; used when metrics.enabled=false.
type NoopMetrics struct{}

func (NoopMetrics) IncCounter(string, map[string]string)            {}
func (NoopMetrics) ObserveHistogram(string, float64, map[string]string) {}
func (NoopMetrics) SetGauge(string, float64, map[string]string)     {}
