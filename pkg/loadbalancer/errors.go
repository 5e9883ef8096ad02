package loadbalancer

import "errors"

var (
	// ErrNoCandidateNode indicates no cluster member is eligible to host
	// a new agent (e.g. an empty membership list).
	ErrNoCandidateNode = errors.New("no_candidate_node")

	// ErrUnknownStrategy indicates a PlacementStrategy value this package
	// does not implement.
	ErrUnknownStrategy = errors.New("unknown_placement_strategy")
)
