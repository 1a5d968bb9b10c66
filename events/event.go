package events

import (
	"time"

	"github.com/redblock-app/chainblock/models"
)

type Kind string

const (
	KindStarted        Kind = "started"
	KindMarkUser       Kind = "mark-user"
	KindRateLimit      Kind = "rate-limit"
	KindRateLimitReset Kind = "rate-limit-reset"
	KindStopped        Kind = "stopped"
	KindComplete       Kind = "complete"
	KindError          Kind = "error"
)

// Event is a single session notification. Exactly one payload field is set,
// according to Kind (rate-limit-reset carries none).
type Event struct {
	Kind      Kind      `json:"kind"`
	SessionID string    `json:"sessionId"`
	Time      time.Time `json:"time"`

	// started, stopped, complete
	Info *models.SessionInfo `json:"info,omitempty"`
	// mark-user
	MarkUser *models.MarkUser `json:"markUser,omitempty"`
	// rate-limit
	Limit *models.RateLimit `json:"limit,omitempty"`
	// error
	Error string `json:"error,omitempty"`
}

// Terminal reports whether no more events follow for this session run.
func (e *Event) Terminal() bool {
	switch e.Kind {
	case KindStopped, KindComplete, KindError:
		return true
	}
	return false
}

func NewInfoEvent(kind Kind, info *models.SessionInfo) *Event {
	return &Event{
		Kind:      kind,
		SessionID: info.SessionID,
		Time:      time.Now(),
		Info:      info,
	}
}

func NewMarkUserEvent(sessionID string, mu models.MarkUser) *Event {
	return &Event{
		Kind:      KindMarkUser,
		SessionID: sessionID,
		Time:      time.Now(),
		MarkUser:  &mu,
	}
}

func NewRateLimitEvent(sessionID string, limit *models.RateLimit) *Event {
	return &Event{
		Kind:      KindRateLimit,
		SessionID: sessionID,
		Time:      time.Now(),
		Limit:     limit,
	}
}

func NewRateLimitResetEvent(sessionID string) *Event {
	return &Event{
		Kind:      KindRateLimitReset,
		SessionID: sessionID,
		Time:      time.Now(),
	}
}

func NewErrorEvent(sessionID string, err error) *Event {
	return &Event{
		Kind:      KindError,
		SessionID: sessionID,
		Time:      time.Now(),
		Error:     err.Error(),
	}
}

// SessionFilter matches only events for the given session.
func SessionFilter(sessionID string) func(*Event) bool {
	return func(e *Event) bool {
		return e.SessionID == sessionID
	}
}
