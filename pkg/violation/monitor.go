package violation

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/agentforge/core/pkg/config"
	"github.com/agentforge/core/pkg/eventbus"
)

// baseSeverity gives each known violation type a default severity,
// escalated further by how far the window count exceeds its threshold.
// Security-relevant types (capability/token forgery, revoked-token use)
// start at high; everything else starts at medium; pattern-detector
// findings always start at critical since they represent an active
// attack signature rather than a rate anomaly.
var baseSeverity = map[string]Severity{
	"invalid_capability":     SeverityHigh,
	"token_revoked":          SeverityHigh,
	"permission_denied":      SeverityMedium,
	"rate_limit_exceeded":    SeverityMedium,
	"delegation_not_allowed": SeverityMedium,
}

const (
	patternPathTraversal = "path_traversal_attempt"
	patternBruteForce    = "potential_brute_force"
	patternDoS           = "potential_dos_attack"

	bruteForceThreshold = 20
	dosRPSThreshold     = 1000.0
)

// Monitor tracks per-type sliding windows of violation occurrences and
// raises severity-classified alerts on threshold breach, subject to a
// per-type cooldown.
type Monitor struct {
	window     time.Duration
	cooldown   time.Duration
	thresholds map[string]int
	bus        eventbus.EventBus

	mu          sync.Mutex
	occurrences map[string][]time.Time
	byPrincipal map[string]map[string][]time.Time // violation type -> principal -> timestamps
	lastAlert   map[string]time.Time
}

// New constructs a Monitor configured per cfg, publishing alerts on bus.
func New(cfg *config.ViolationConfig, bus eventbus.EventBus) *Monitor {
	thresholds := make(map[string]int, len(cfg.Thresholds))
	for k, v := range cfg.Thresholds {
		thresholds[k] = v
	}
	return &Monitor{
		window:      cfg.WindowDuration,
		cooldown:    cfg.Cooldown,
		thresholds:  thresholds,
		bus:         bus,
		occurrences: make(map[string][]time.Time),
		byPrincipal: make(map[string]map[string][]time.Time),
		lastAlert:   make(map[string]time.Time),
	}
}

// RecordViolation records rec, runs the pattern detectors, and returns
// every alert raised as a result (empty if none crossed threshold or all
// were within cooldown). Alerts are also published to
// eventbus.TopicSecurityAlerts.
func (m *Monitor) RecordViolation(ctx context.Context, rec Record) []Alert {
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now()
	}

	var alerts []Alert

	m.mu.Lock()
	m.occurrences[rec.Type] = prune(append(m.occurrences[rec.Type], rec.Timestamp), rec.Timestamp, m.window)
	count := len(m.occurrences[rec.Type])

	if threshold, ok := m.thresholds[rec.Type]; ok && count >= threshold {
		if m.readyLocked(rec.Type, rec.Timestamp) {
			ratio := float64(count) / float64(threshold)
			alerts = append(alerts, Alert{
				Type:        rec.Type,
				Severity:    escalate(severityFor(rec.Type), ratio),
				Count:       count,
				Threshold:   threshold,
				PrincipalID: rec.PrincipalID,
				Timestamp:   rec.Timestamp,
			})
			m.lastAlert[rec.Type] = rec.Timestamp
		}
	}

	if containsTraversalMarker(rec.Resource) && m.readyLocked(patternPathTraversal, rec.Timestamp) {
		alerts = append(alerts, Alert{Type: patternPathTraversal, Severity: SeverityCritical, Count: 1, Threshold: 1, PrincipalID: rec.PrincipalID, Timestamp: rec.Timestamp})
		m.lastAlert[patternPathTraversal] = rec.Timestamp
	}

	if rec.Type == "invalid_capability" && rec.PrincipalID != "" {
		perPrincipal := m.byPrincipal[rec.Type]
		if perPrincipal == nil {
			perPrincipal = make(map[string][]time.Time)
			m.byPrincipal[rec.Type] = perPrincipal
		}
		perPrincipal[rec.PrincipalID] = prune(append(perPrincipal[rec.PrincipalID], rec.Timestamp), rec.Timestamp, m.window)
		if len(perPrincipal[rec.PrincipalID]) > bruteForceThreshold && m.readyLocked(patternBruteForce, rec.Timestamp) {
			alerts = append(alerts, Alert{Type: patternBruteForce, Severity: SeverityCritical, Count: len(perPrincipal[rec.PrincipalID]), Threshold: bruteForceThreshold, PrincipalID: rec.PrincipalID, Timestamp: rec.Timestamp})
			m.lastAlert[patternBruteForce] = rec.Timestamp
		}
	}

	if rec.Type == "rate_limit_exceeded" {
		if rps, ok := requestsPerSec(rec.Details); ok && rps > dosRPSThreshold && m.readyLocked(patternDoS, rec.Timestamp) {
			alerts = append(alerts, Alert{Type: patternDoS, Severity: SeverityCritical, Count: 1, Threshold: 1, PrincipalID: rec.PrincipalID, Timestamp: rec.Timestamp})
			m.lastAlert[patternDoS] = rec.Timestamp
		}
	}
	m.mu.Unlock()

	for _, a := range alerts {
		m.publish(ctx, a)
	}
	return alerts
}

// readyLocked reports whether alertType is past its cooldown (or has
// never alerted). Must be called with m.mu held.
func (m *Monitor) readyLocked(alertType string, now time.Time) bool {
	last, ok := m.lastAlert[alertType]
	return !ok || now.Sub(last) >= m.cooldown
}

func (m *Monitor) publish(ctx context.Context, a Alert) {
	if m.bus == nil {
		return
	}
	event, err := eventbus.NewEvent(eventbus.TopicSecurityAlerts, nil, a)
	if err != nil {
		return
	}
	pctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := m.bus.Publish(pctx, eventbus.TopicSecurityAlerts, event); err != nil {
		slog.Warn("violation: alert publish failed", "type", a.Type, "error", err)
	}
}

func severityFor(violationType string) Severity {
	if s, ok := baseSeverity[violationType]; ok {
		return s
	}
	return SeverityMedium
}

func escalate(base Severity, ratio float64) Severity {
	switch {
	case ratio >= 3:
		return maxSeverity(base, SeverityCritical)
	case ratio >= 2:
		return maxSeverity(base, SeverityHigh)
	default:
		return base
	}
}

// Report adapts Monitor to pkg/token's ViolationReporter interface, so the
// stateless Validator can feed the Monitor directly without pkg/token
// importing pkg/violation. Any alerts raised are discarded; callers that
// need them should call RecordViolation directly.
func (m *Monitor) Report(violationType, principalID, resource, operation string, details map[string]any) {
	m.RecordViolation(context.Background(), Record{
		Type:        violationType,
		PrincipalID: principalID,
		Resource:    resource,
		Operation:   operation,
		Details:     details,
	})
}

// RecentCount returns the number of violations recorded across all types
// within the current sliding window, used by pkg/metrics to derive the
// violation-rate component of the blended health score.
func (m *Monitor) RecentCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	total := 0
	for _, times := range m.occurrences {
		total += len(times)
	}
	return total
}

func prune(times []time.Time, now time.Time, window time.Duration) []time.Time {
	cutoff := now.Add(-window)
	i := 0
	for i < len(times) && times[i].Before(cutoff) {
		i++
	}
	return times[i:]
}

func containsTraversalMarker(resource string) bool {
	lower := strings.ToLower(resource)
	return strings.Contains(lower, "../") || strings.Contains(lower, "..\\") || strings.Contains(lower, "%2e%2e")
}

func requestsPerSec(details map[string]any) (float64, bool) {
	v, ok := details["requests_per_sec"]
	if !ok {
		return 0, false
	}
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	default:
		return 0, false
	}
}
