package session

import "errors"

var (
	// ErrSessionNotFound indicates the session id has no matching record.
	ErrSessionNotFound = errors.New("session_not_found")

	// ErrSubagentNotFound indicates a subagent id has no matching record,
	// either globally or within the session it was looked up under.
	ErrSubagentNotFound = errors.New("subagent_not_found")

	// ErrSessionStopping is returned when a spawn is attempted against a
	// session that is already in the process of being stopped.
	ErrSessionStopping = errors.New("session_stopping")
)
