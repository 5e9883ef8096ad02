package capability

import (
	"strings"
	"time"
)

// IntersectConstraints computes the child constraint set for a delegation:
// set intersection for operations and allowed_tools, prefix-retention for
// paths, earlier-of for expires_at,
// smaller-of for max_delegations, and child-overrides-parent for unknown
// keys. Monotonically non-expanding: the result is always <= parent.
//
// Exported so pkg/token can apply the identical rule when computing a
// delegated token's claims from a decoded parent token, without the
// Security Kernel's storage round trip.
func IntersectConstraints(parent, added Constraints) Constraints {
	out := Constraints{
		Operations:        intersectSet(parent.Operations, added.Operations),
		AllowedTools:      intersectSet(parent.AllowedTools, added.AllowedTools),
		AllowedExtensions: intersectSet(parent.AllowedExtensions, added.AllowedExtensions),
		Paths:             intersectPaths(parent.Paths, added.Paths),
		MaxDelegations:    intersectMaxDelegations(parent.MaxDelegations, added.MaxDelegations),
		ExpiresAt:         earlierOf(parent.ExpiresAt, added.ExpiresAt),
		MaxFileSize:       smallerPositive(parent.MaxFileSize, added.MaxFileSize),
		RateLimit:         smallerPositiveInt(parent.RateLimit, added.RateLimit),
	}

	out.TimeWindow = parent.TimeWindow
	if added.TimeWindow != "" {
		out.TimeWindow = added.TimeWindow
	}

	if len(parent.Unknown) > 0 || len(added.Unknown) > 0 {
		out.Unknown = make(map[string]string, len(parent.Unknown)+len(added.Unknown))
		for k, v := range parent.Unknown {
			out.Unknown[k] = v
		}
		for k, v := range added.Unknown {
			out.Unknown[k] = v // child overrides parent, forward-compatible
		}
	}

	return out
}

// intersectSet applies "empty-parent means unrestricted; empty-child means
// no change" then set-intersects the two lists.
func intersectSet(parent, child []string) []string {
	if len(parent) == 0 {
		return append([]string(nil), child...)
	}
	if len(child) == 0 {
		return append([]string(nil), parent...)
	}
	parentSet := make(map[string]struct{}, len(parent))
	for _, p := range parent {
		parentSet[p] = struct{}{}
	}
	out := make([]string, 0, len(child))
	for _, c := range child {
		if _, ok := parentSet[c]; ok {
			out = append(out, c)
		}
	}
	return out
}

// intersectPaths retains a child path only if prefixed by some parent path;
// parent paths not covered by any child path are dropped. An empty child
// list means no change (inherit the parent's paths unrestricted).
func intersectPaths(parent, child []string) []string {
	if len(parent) == 0 {
		return append([]string(nil), child...)
	}
	if len(child) == 0 {
		return append([]string(nil), parent...)
	}
	out := make([]string, 0, len(child))
	for _, c := range child {
		for _, p := range parent {
			if hasPathPrefix(c, p) {
				out = append(out, c)
				break
			}
		}
	}
	return out
}

func hasPathPrefix(path, prefix string) bool {
	if path == prefix {
		return true
	}
	p := strings.TrimSuffix(prefix, "/")
	return strings.HasPrefix(path, p+"/")
}

func intersectMaxDelegations(parent, child *MaxDelegations) *MaxDelegations {
	switch {
	case parent == nil && child == nil:
		return nil
	case parent == nil:
		c := *child
		return &c
	case child == nil:
		p := *parent
		return &p
	case parent.Unlimited:
		c := *child
		return &c
	case child.Unlimited:
		p := *parent
		return &p
	case parent.Count < child.Count:
		p := *parent
		return &p
	default:
		c := *child
		return &c
	}
}

// earlierOf returns the earlier of two optional expiry times. A nil value
// means "no expiry"; any concrete time is earlier than no expiry.
func earlierOf(a, b *time.Time) *time.Time {
	switch {
	case a == nil && b == nil:
		return nil
	case a == nil:
		t := *b
		return &t
	case b == nil:
		t := *a
		return &t
	case a.Before(*b):
		t := *a
		return &t
	default:
		t := *b
		return &t
	}
}

func smallerPositive(a, b int64) int64 {
	if a == 0 {
		return b
	}
	if b == 0 {
		return a
	}
	if a < b {
		return a
	}
	return b
}

func smallerPositiveInt(a, b int) int {
	if a == 0 {
		return b
	}
	if b == 0 {
		return a
	}
	if a < b {
		return a
	}
	return b
}
