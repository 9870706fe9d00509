package gimbal

import "errors"

var (
	// ErrEntryNotFound is returned when an instance does not exist.
	ErrEntryNotFound = errors.New("blend stack entry not found")
	// ErrEntryCountMismatch is returned when save state does not describe
	// the live stacks.
	ErrEntryCountMismatch = errors.New("saved entries do not match live entries")
)
