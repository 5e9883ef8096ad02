package registry

import "errors"

var (
	// ErrAgentNotFound indicates no entry exists for the given agent id.
	ErrAgentNotFound = errors.New("agent_not_found")

	// ErrNoSuitableAgent indicates the candidate set was empty after the
	// required-capabilities filter in FindBestAgentForTask.
	ErrNoSuitableAgent = errors.New("no_suitable_agent")

	// ErrMigrationFailed wraps any step of a cross-node agent move that
	// did not complete (snapshot, terminate, remote start).
	ErrMigrationFailed = errors.New("migration_failed")

	// ErrRebalanceFailed indicates rebalance_cluster could not make
	// progress (e.g. fewer than two live members).
	ErrRebalanceFailed = errors.New("rebalance_failed")

	// ErrRPCFailed wraps a circuit-broken or otherwise failed remote call.
	ErrRPCFailed = errors.New("rpc_failed")
)
