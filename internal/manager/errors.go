package manager

import "errors"

var (
	ErrInvalidName    = errors.New("invalid bidder name")
	ErrAlreadyRunning = errors.New("already running")
	ErrNotRunning     = errors.New("not running")
	ErrSignalFailed   = errors.New("signal failed")
	// ErrPersistFailed reports a store failure after the in-memory change was
	// made. The change is not undone.
	ErrPersistFailed = errors.New("persist failed")
)
