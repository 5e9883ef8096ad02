package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/agentforge/core/pkg/config"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// ComponentScores supplies the five inputs to the health score, each
// already normalized to a 0-100 scale by the caller: this keeps the
// collector itself free of domain-specific normalization rules (what
// "good" kernel status or validation latency looks like is a wiring-time
// decision, not this package's).
type ComponentScores struct {
	KernelStatus           func() float64
	ViolationRate          func() float64
	CapabilityCount        func() float64
	ValidationLatencyScore func() float64
	AuditErrorScore        func() float64
}

// Collector samples ComponentScores on a fixed cadence into a
// retention-bounded in-memory series, and exposes the same figures as
// Prometheus gauges.
type Collector struct {
	scores    ComponentScores
	retention time.Duration

	mu     sync.Mutex
	series []Sample

	healthGauge     prometheus.Gauge
	kernelGauge     prometheus.Gauge
	violationGauge  prometheus.Gauge
	capabilityGauge prometheus.Gauge
	latencyGauge    prometheus.Gauge
	auditGauge      prometheus.Gauge
}

// New constructs a Collector configured per cfg, registering its gauges
// on reg (typically prometheus.DefaultRegisterer).
func New(cfg *config.MetricsConfig, scores ComponentScores, reg prometheus.Registerer) *Collector {
	c := &Collector{
		scores:    scores,
		retention: cfg.Retention,

		healthGauge:     prometheus.NewGauge(prometheus.GaugeOpts{Namespace: "agentforge", Name: "health_score", Help: "Blended system health score, 0-100."}),
		kernelGauge:     prometheus.NewGauge(prometheus.GaugeOpts{Namespace: "agentforge", Name: "kernel_status_score", Help: "Security Kernel status component, 0-100."}),
		violationGauge:  prometheus.NewGauge(prometheus.GaugeOpts{Namespace: "agentforge", Name: "violation_rate_score", Help: "Violation rate component, 0-100 (higher is healthier)."}),
		capabilityGauge: prometheus.NewGauge(prometheus.GaugeOpts{Namespace: "agentforge", Name: "capability_count_score", Help: "Capability count component, 0-100."}),
		latencyGauge:    prometheus.NewGauge(prometheus.GaugeOpts{Namespace: "agentforge", Name: "validation_latency_score", Help: "Token validation latency component, 0-100 (higher is healthier)."}),
		auditGauge:      prometheus.NewGauge(prometheus.GaugeOpts{Namespace: "agentforge", Name: "audit_error_score", Help: "Audit error rate component, 0-100 (higher is healthier)."}),
	}
	if reg != nil {
		reg.MustRegister(c.healthGauge, c.kernelGauge, c.violationGauge, c.capabilityGauge, c.latencyGauge, c.auditGauge)
	}
	return c
}

// Sample takes one reading at now, storing it and pruning anything older
// than the configured retention. Intended to be called periodically
// (every sample_interval) by an external scheduler.
func (c *Collector) Sample(now time.Time) Sample {
	s := Sample{
		Timestamp:              now,
		KernelStatus:           c.scores.KernelStatus(),
		ViolationRate:          c.scores.ViolationRate(),
		CapabilityCount:        c.scores.CapabilityCount(),
		ValidationLatencyScore: c.scores.ValidationLatencyScore(),
		AuditErrorScore:        c.scores.AuditErrorScore(),
	}
	s.HealthScore = blend(s.KernelStatus, s.ViolationRate, s.CapabilityCount, s.ValidationLatencyScore, s.AuditErrorScore)

	c.mu.Lock()
	c.series = append(c.series, s)
	c.series = pruneOlderThan(c.series, now, c.retention)
	c.mu.Unlock()

	c.healthGauge.Set(s.HealthScore)
	c.kernelGauge.Set(s.KernelStatus)
	c.violationGauge.Set(s.ViolationRate)
	c.capabilityGauge.Set(s.CapabilityCount)
	c.latencyGauge.Set(s.ValidationLatencyScore)
	c.auditGauge.Set(s.AuditErrorScore)

	return s
}

// Series returns every retained sample, oldest first.
func (c *Collector) Series() []Sample {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Sample, len(c.series))
	copy(out, c.series)
	return out
}

// LatestHealthScore returns the most recent sample's health score, or
// ErrNoSamples if Sample has never been called.
func (c *Collector) LatestHealthScore() (float64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.series) == 0 {
		return 0, ErrNoSamples
	}
	return c.series[len(c.series)-1].HealthScore, nil
}

// Handler returns the promhttp handler for the admin surface's /metrics
// endpoint. If reg is nil, the default global registry is served.
func Handler(reg *prometheus.Registry) http.Handler {
	if reg == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
}

func pruneOlderThan(samples []Sample, now time.Time, retention time.Duration) []Sample {
	cutoff := now.Add(-retention)
	i := 0
	for i < len(samples) && samples[i].Timestamp.Before(cutoff) {
		i++
	}
	return samples[i:]
}
