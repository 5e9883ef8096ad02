package cluster

import "context"

// StaticDiscovery returns a fixed, configured member list. Mandatory per
// spec.md §4.10; every other strategy is optional.
type StaticDiscovery struct {
	Members []string
}

// Discover returns the configured member list unchanged.
func (d StaticDiscovery) Discover(ctx context.Context) ([]string, error) {
	out := make([]string, len(d.Members))
	copy(out, d.Members)
	return out, nil
}
