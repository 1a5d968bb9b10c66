package chainblock

import "errors"

var (
	ErrNotConfirmed   = errors.New("session is not confirmed")
	ErrAlreadyRunning = errors.New("session is already running")
	// Start on a finished session needs a Rewind first
	ErrFinished = errors.New("session has finished")
	ErrNotBegun = errors.New("session run without Begin")
	// the upstream API left out following/followedBy; aborts the session
	ErrMalformedCandidate = errors.New("candidate is missing relationship flags")
)
