package manager

import (
	"errors"
)

var (
	ErrNotFound = errors.New("session not found")
	// another active session has the same target
	ErrDuplicateTarget = errors.New("a session for this target is already active")
	ErrSelfTarget      = errors.New("refusing to target the operator's own account")
	ErrTooManyStarts   = errors.New("too many session starts, try again later")
	ErrClosed          = errors.New("manager is closed")
)
