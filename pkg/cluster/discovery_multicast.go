package cluster

import (
	"context"
	"fmt"
)

// MulticastDiscovery is a stub: no pack example grounds a UDP multicast
// discovery mechanism, so this strategy returns ErrNotImplemented rather
// than inventing an unconfirmed wire protocol.
type MulticastDiscovery struct{}

// Discover always fails with ErrNotImplemented.
func (d MulticastDiscovery) Discover(ctx context.Context) ([]string, error) {
	return nil, fmt.Errorf("%w: multicast discovery", ErrNotImplemented)
}
