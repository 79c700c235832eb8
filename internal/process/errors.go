package process

import "errors"

// Launch failures. Each is wrapped with the failing path or OS error; match
// them with errors.Is.
var (
	ErrConfigWriteFailed         = errors.New("config write failed")
	ErrSpawnFailed               = errors.New("spawn failed")
	ErrPidNotFound               = errors.New("pid not found")
	ErrProcessAbortedImmediately = errors.New("process aborted immediately")
)
