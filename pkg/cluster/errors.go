package cluster

import "errors"

var (
	// ErrNotImplemented is returned by discovery strategies with no
	// grounded implementation in the default build (multicast).
	ErrNotImplemented = errors.New("connection_ignored")

	// ErrConnectionFailed indicates a discovery round could not reach its
	// source of truth (e.g. the Kubernetes API server).
	ErrConnectionFailed = errors.New("connection_failed")

	// ErrDisconnectFailed indicates a node could not be cleanly removed
	// from cluster membership.
	ErrDisconnectFailed = errors.New("disconnect_failed")
)
