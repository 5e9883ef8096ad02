package recovery

import "errors"

var (
	// ErrBackupNotFound is returned when a requested backup id has no
	// matching file in the backup directory.
	ErrBackupNotFound = errors.New("backup not found")
	// ErrStaleBackup is returned when a backup predates RecoveryConfig's
	// configured MaxAge and pre-restoration validation rejects it.
	ErrStaleBackup = errors.New("backup too stale to restore")
	// ErrIncompleteSnapshot is returned when a backup is missing a
	// mandatory field (id, created_at, or one of the four components).
	ErrIncompleteSnapshot = errors.New("incomplete snapshot")
	// ErrUnknownComponent is returned by PartialRecovery for a component
	// name outside {security, agents, sessions, config}.
	ErrUnknownComponent = errors.New("unknown recovery component")
)
