// Package security implements the Security Kernel: the single-writer
// authority that serializes every capability lifecycle operation. It owns
// the capability store, the principal index, and the delegation tree, and
// enforces policy (via its embedded OPA evaluator) before constructing new
// capabilities.
package security

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/agentforge/core/pkg/capability"
)

// AuditSink is the subset of pkg/audit's Logger the kernel depends on,
// injected rather than imported directly so tests can swap in a fake and
// so pkg/audit need not import pkg/security.
type AuditSink interface {
	LogAsync(eventType, principalID string, details map[string]any)
}

// Stats summarises kernel activity for the metrics collector and admin
// surface.
type Stats struct {
	CapabilitiesIssued   int64
	CapabilitiesRevoked  int64
	DelegationsIssued    int64
	PolicyDenials        int64
	PermissionChecks     int64
	PermissionDenials    int64
}

// Kernel is the single-writer authority over all capabilities. Every
// mutating method takes an internal mutex; reads the kernel itself
// performs (e.g. CheckPermission) also take it for consistency, since the
// map of capabilities is not safe for concurrent read/write otherwise.
type Kernel struct {
	model  *capability.Model
	policy *PolicyEvaluator
	audit  AuditSink

	mu             sync.RWMutex
	capabilities   map[string]*capability.Capability
	byPrincipal    map[string]map[string]struct{}
	delegationTree map[string]map[string]struct{} // parent id -> child ids
	stats          Stats

	allowedOperations []string
	allowedPaths      []string
	allowedTools      []string

	rateLimitPerPrincipal int
	rateWindow            map[string][]time.Time
}

// Option configures optional policy whitelists on NewKernel.
type Option func(*Kernel)

// WithAllowedOperations sets the operations whitelist evaluated by the
// embedded policy in addition to the Rego rules.
func WithAllowedOperations(ops []string) Option {
	return func(k *Kernel) { k.allowedOperations = ops }
}

// WithAllowedPaths sets the filesystem path-prefix whitelist.
func WithAllowedPaths(paths []string) Option {
	return func(k *Kernel) { k.allowedPaths = paths }
}

// WithAllowedTools sets the MCP tool whitelist.
func WithAllowedTools(tools []string) Option {
	return func(k *Kernel) { k.allowedTools = tools }
}

// WithRateLimit bounds request_capability calls per principal per minute; 0 disables.
func WithRateLimit(perMinute int) Option {
	return func(k *Kernel) { k.rateLimitPerPrincipal = perMinute }
}

// NewKernel constructs a Security Kernel over the given signer and policy
// evaluator, with an injected audit sink.
func NewKernel(signer *capability.Signer, policy *PolicyEvaluator, audit AuditSink, opts ...Option) *Kernel {
	k := &Kernel{
		model:          capability.NewModel(signer),
		policy:         policy,
		audit:          audit,
		capabilities:   make(map[string]*capability.Capability),
		byPrincipal:    make(map[string]map[string]struct{}),
		delegationTree: make(map[string]map[string]struct{}),
		rateWindow:     make(map[string][]time.Time),
	}
	for _, opt := range opts {
		opt(k)
	}
	return k
}

// RequestCapability validates the request against policy, constructs the
// capability via pkg/capability, indexes it, and emits a capability_created
// audit event.
func (k *Kernel) RequestCapability(ctx context.Context, resourceType capability.ResourceType, constraints capability.Constraints, principal string, ttl *time.Duration) (*capability.Capability, error) {
	k.mu.Lock()
	defer k.mu.Unlock()

	if err := k.checkRateLimit(principal); err != nil {
		return nil, err
	}

	allowed, err := k.policy.Allow(ctx, PolicyInput{
		Operations:        constraints.Operations,
		Paths:             constraints.Paths,
		Tools:             constraints.AllowedTools,
		AllowedOperations: k.allowedOperations,
		AllowedPaths:      k.allowedPaths,
		AllowedTools:      k.allowedTools,
	})
	if err != nil {
		return nil, fmt.Errorf("evaluating policy: %w", err)
	}
	if !allowed {
		k.stats.PolicyDenials++
		return nil, fmt.Errorf("%w: request does not satisfy configured whitelists", ErrPolicyDenied)
	}

	c, err := k.model.Create(resourceType, constraints, principal, ttl)
	if err != nil {
		return nil, err
	}

	k.index(c)
	k.stats.CapabilitiesIssued++

	k.audit.LogAsync("capability_created", principal, map[string]any{
		"capability_id": c.ID,
		"resource_type": string(c.ResourceType),
	})

	return c, nil
}

// ValidateCapability verifies that c exists in storage AND its stored
// signature bit-matches the presented copy, which detects forgery or
// stale copies.
func (k *Kernel) ValidateCapability(c *capability.Capability, operation, resource string) error {
	k.mu.RLock()
	defer k.mu.RUnlock()

	stored, ok := k.capabilities[c.ID]
	if !ok {
		return capability.ErrNotFound
	}
	if stored.Signature != c.Signature {
		return capability.ErrSignatureMismatch
	}

	return k.model.Permits(stored, operation, resource)
}

// DelegateCapability performs parent validation and constructs a child via
// pkg/capability, linking it into the delegation tree.
func (k *Kernel) DelegateCapability(parentID, targetPrincipal string, added capability.Constraints) (*capability.Capability, error) {
	k.mu.Lock()
	defer k.mu.Unlock()

	parent, ok := k.capabilities[parentID]
	if !ok {
		return nil, capability.ErrNotFound
	}

	child, err := k.model.Delegate(parent, targetPrincipal, added)
	if err != nil {
		return nil, err
	}

	k.index(child)
	if k.delegationTree[parent.ID] == nil {
		k.delegationTree[parent.ID] = make(map[string]struct{})
	}
	k.delegationTree[parent.ID][child.ID] = struct{}{}
	k.stats.DelegationsIssued++

	k.audit.LogAsync("capability_delegated", targetPrincipal, map[string]any{
		"capability_id": child.ID,
		"parent_id":     parent.ID,
	})

	return child, nil
}

// RevokeCapability recursively marks c and every transitive descendant
// revoked (DFS on the delegation tree) and returns the cascade count
// (including c itself).
func (k *Kernel) RevokeCapability(id string) (int, error) {
	k.mu.Lock()
	defer k.mu.Unlock()

	c, ok := k.capabilities[id]
	if !ok {
		return 0, capability.ErrNotFound
	}

	count := k.revokeCascade(id)
	k.stats.CapabilitiesRevoked += int64(count)

	k.audit.LogAsync("capability_revoked", c.PrincipalID, map[string]any{
		"capability_id": id,
		"cascade_count": count,
	})

	return count, nil
}

// revokeCascade performs the DFS walk. Caller must hold k.mu.
func (k *Kernel) revokeCascade(id string) int {
	c, ok := k.capabilities[id]
	if !ok || c.Revoked {
		return 0
	}
	k.model.Revoke(c)
	count := 1

	for childID := range k.delegationTree[id] {
		count += k.revokeCascade(childID)
	}
	return count
}

// CheckPermission iterates principal's capabilities and returns the first
// one that permits operation on resource, or ErrPermissionDenied.
func (k *Kernel) CheckPermission(principal, resourceType, operation, resource string) (*capability.Capability, error) {
	k.mu.Lock()
	defer k.mu.Unlock()

	k.stats.PermissionChecks++

	for id := range k.byPrincipal[principal] {
		c, ok := k.capabilities[id]
		if !ok || string(c.ResourceType) != resourceType {
			continue
		}
		if err := k.model.Permits(c, operation, resource); err == nil {
			return c, nil
		}
	}

	k.stats.PermissionDenials++
	return nil, fmt.Errorf("%w: principal %s, resource_type %s, operation %s", capability.ErrPermissionDenied, principal, resourceType, operation)
}

// Sweep removes capabilities whose expires_at has passed and prunes the
// delegation tree. Intended to be called periodically (every 5 minutes by
// default) via pkg/recovery's robfig/cron scheduler.
func (k *Kernel) Sweep(now time.Time) int {
	k.mu.Lock()
	defer k.mu.Unlock()

	removed := 0
	for id, c := range k.capabilities {
		if c.IsExpired(now) {
			delete(k.capabilities, id)
			delete(k.byPrincipal[c.PrincipalID], id)
			delete(k.delegationTree, id)
			for _, children := range k.delegationTree {
				delete(children, id)
			}
			removed++
		}
	}
	if removed > 0 {
		slog.Info("security kernel swept expired capabilities", "removed", removed)
	}
	return removed
}

// Stats returns a snapshot of kernel activity counters.
func (k *Kernel) Stats() Stats {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return k.stats
}

// Get returns a stored capability by id for introspection/recovery.
func (k *Kernel) Get(id string) (*capability.Capability, bool) {
	k.mu.RLock()
	defer k.mu.RUnlock()
	c, ok := k.capabilities[id]
	return c, ok
}

// Snapshot returns a copy of all stored capabilities, for recovery backups.
func (k *Kernel) Snapshot() []*capability.Capability {
	k.mu.RLock()
	defer k.mu.RUnlock()
	out := make([]*capability.Capability, 0, len(k.capabilities))
	for _, c := range k.capabilities {
		cp := *c
		out = append(out, &cp)
	}
	return out
}

// Restore replaces the kernel's state from a recovery snapshot, rebuilding
// the principal index and delegation tree.
func (k *Kernel) Restore(caps []*capability.Capability) {
	k.mu.Lock()
	defer k.mu.Unlock()

	k.capabilities = make(map[string]*capability.Capability, len(caps))
	k.byPrincipal = make(map[string]map[string]struct{})
	k.delegationTree = make(map[string]map[string]struct{})

	for _, c := range caps {
		cp := *c
		k.index(&cp)
		if cp.ParentID != "" {
			if k.delegationTree[cp.ParentID] == nil {
				k.delegationTree[cp.ParentID] = make(map[string]struct{})
			}
			k.delegationTree[cp.ParentID][cp.ID] = struct{}{}
		}
	}
}

// index adds c to the capability map and principal index. Caller must hold k.mu.
func (k *Kernel) index(c *capability.Capability) {
	k.capabilities[c.ID] = c
	if k.byPrincipal[c.PrincipalID] == nil {
		k.byPrincipal[c.PrincipalID] = make(map[string]struct{})
	}
	k.byPrincipal[c.PrincipalID][c.ID] = struct{}{}
}

// checkRateLimit enforces rate_limit_per_principal using a sliding one
// minute window. Caller must hold k.mu.
func (k *Kernel) checkRateLimit(principal string) error {
	if k.rateLimitPerPrincipal <= 0 {
		return nil
	}
	now := time.Now()
	cutoff := now.Add(-time.Minute)

	window := k.rateWindow[principal]
	kept := window[:0]
	for _, t := range window {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	if len(kept) >= k.rateLimitPerPrincipal {
		k.rateWindow[principal] = kept
		return fmt.Errorf("%w: principal %s", ErrRateLimitExceeded, principal)
	}
	k.rateWindow[principal] = append(kept, now)
	return nil
}
