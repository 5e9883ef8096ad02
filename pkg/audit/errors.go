package audit

import "errors"

var (
	// ErrLoggerClosed indicates a log call arrived after Close.
	ErrLoggerClosed = errors.New("audit_logger_closed")

	// ErrInvalidDir indicates the configured audit directory could not be
	// created or is not writable.
	ErrInvalidDir = errors.New("invalid_audit_dir")
)
