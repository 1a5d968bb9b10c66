package models

import (
	"fmt"
	"maps"
	"time"
)

type Status int

const (
	StatusInitial Status = iota
	StatusRunning
	StatusRateLimited
	StatusCompleted
	StatusStopped
	StatusError
)

var statusNames = map[Status]string{
	StatusInitial:     "initial",
	StatusRunning:     "running",
	StatusRateLimited: "rate-limited",
	StatusCompleted:   "completed",
	StatusStopped:     "stopped",
	StatusError:       "error",
}

func (s Status) String() string {
	if n, ok := statusNames[s]; ok {
		return n
	}
	return fmt.Sprintf("status(%d)", int(s))
}

func (s Status) MarshalText() ([]byte, error) {
	n, ok := statusNames[s]
	if !ok {
		return nil, fmt.Errorf("unknown session status: %d", int(s))
	}
	return []byte(n), nil
}

func (s *Status) UnmarshalText(b []byte) error {
	for k, n := range statusNames {
		if n == string(b) {
			*s = k
			return nil
		}
	}
	return fmt.Errorf("unknown session status: %q", string(b))
}

// IsTerminal reports whether the session loop has finished.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusStopped || s == StatusError
}

// IsActive reports whether a loop is (or would be) consuming pages.
func (s Status) IsActive() bool {
	return s == StatusRunning || s == StatusRateLimited
}

type Progress struct {
	Success map[Verb]int `json:"success"`
	Failure int          `json:"failure"`
	Already int          `json:"already"`
	Skipped int          `json:"skipped"`
	Error   int          `json:"error"`
	Scraped int          `json:"scraped"`
	// nil until the first successful page, or when the source can't tell
	Total *int `json:"total,omitempty"`
}

func NewProgress() Progress {
	p := Progress{Success: make(map[Verb]int, len(VerbsSomething))}
	for _, v := range VerbsSomething {
		p.Success[v] = 0
	}
	return p
}

// SuccessCount is the sum of successes over all verbs.
func (p *Progress) SuccessCount() int {
	n := 0
	for _, c := range p.Success {
		n += c
	}
	return n
}

// Processed is the number of candidates which landed in exactly one bucket.
func (p *Progress) Processed() int {
	return p.SuccessCount() + p.Failure + p.Already + p.Skipped + p.Error
}

func (p *Progress) Clone() Progress {
	out := *p
	out.Success = maps.Clone(p.Success)
	if p.Total != nil {
		t := *p.Total
		out.Total = &t
	}
	return out
}

// RateLimit is the API-side rate limit window for the session's read
// endpoint, as reported by the server.
type RateLimit struct {
	Limit     int       `json:"limit"`
	Remaining int       `json:"remaining"`
	Reset     time.Time `json:"reset"`
}

type SessionInfo struct {
	SessionID string          `json:"sessionId"`
	Request   *SessionRequest `json:"request"`
	Progress  Progress        `json:"progress"`
	Confirmed bool            `json:"confirmed"`
	Status    Status          `json:"status"`
	// set only while Status is RateLimited
	Limit *RateLimit `json:"limit,omitempty"`
}

// NewSessionID formats the "session/<unix-millis>" identifier.
func NewSessionID(now time.Time) string {
	return fmt.Sprintf("session/%d", now.UnixMilli())
}

// Clone returns a deep copy, safe to hand out to readers.
func (si *SessionInfo) Clone() *SessionInfo {
	out := *si
	if si.Request != nil {
		out.Request = si.Request.Clone()
	}
	out.Progress = si.Progress.Clone()
	if si.Limit != nil {
		l := *si.Limit
		out.Limit = &l
	}
	return &out
}

// MarkUser is the payload of a successful action against one account.
type MarkUser struct {
	UserID string `json:"userId"`
	Verb   Verb   `json:"verb"`
}
