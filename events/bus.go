// Package events fans session events out to subscribers.
package events

import (
	"context"
	"errors"
	"log/slog"
	"sync"
)

var ErrBusClosed = errors.New("event bus shut down")

// Publisher is what sessions need from a Bus.
type Publisher interface {
	Publish(evt *Event)
}

// Bus delivers published events to every matching subscriber, in publish
// order. A subscriber whose buffer is full is disconnected (its channel is
// closed) instead of stalling publishers.
type Bus struct {
	subs []*subscriber

	ops        chan *operation
	closed     chan struct{}
	closeOnce  sync.Once
	bufferSize int

	logger *slog.Logger
}

const (
	opSubscribe = iota
	opUnsubscribe
	opSend
)

type operation struct {
	op  int
	sub *subscriber
	evt *Event
}

type subscriber struct {
	outgoing chan *Event
	filter   func(*Event) bool
	// set by the run loop once outgoing is closed
	gone bool
}

func NewBus(logger *slog.Logger, bufferSize int) *Bus {
	if logger == nil {
		logger = slog.Default()
	}
	if bufferSize <= 0 {
		bufferSize = 1024
	}
	b := &Bus{
		ops:        make(chan *operation),
		closed:     make(chan struct{}),
		bufferSize: bufferSize,
		logger:     logger.With("component", "events"),
	}
	go b.run()
	return b
}

func (b *Bus) run() {
	for {
		select {
		case <-b.closed:
			for _, s := range b.subs {
				b.disconnect(s)
			}
			b.subs = nil
			return
		case op := <-b.ops:
			switch op.op {
			case opSubscribe:
				b.subs = append(b.subs, op.sub)
				subscribersGauge.Inc()
			case opUnsubscribe:
				b.remove(op.sub)
			case opSend:
				eventsPublished.WithLabelValues(string(op.evt.Kind)).Inc()
				for _, s := range b.subs {
					if !s.filter(op.evt) {
						continue
					}
					select {
					case s.outgoing <- op.evt:
					default:
						b.logger.Warn("event subscriber overflow, disconnecting", "kind", op.evt.Kind, "session", op.evt.SessionID)
						subscribersDropped.Inc()
						b.remove(s)
					}
				}
			default:
				b.logger.Error("unrecognized event bus operation", "op", op.op)
			}
		}
	}
}

func (b *Bus) disconnect(s *subscriber) {
	if !s.gone {
		s.gone = true
		close(s.outgoing)
		subscribersGauge.Dec()
	}
}

// remove is safe to call while ranging over b.subs: it rebuilds the slice.
func (b *Bus) remove(sub *subscriber) {
	b.disconnect(sub)
	kept := b.subs[:0:0]
	for _, s := range b.subs {
		if s != sub {
			kept = append(kept, s)
		}
	}
	b.subs = kept
}

// Publish hands the event to the bus loop. It only waits for the loop to
// pick the event up, never for subscribers. Events published after
// Shutdown are discarded.
func (b *Bus) Publish(evt *Event) {
	select {
	case b.ops <- &operation{op: opSend, evt: evt}:
	case <-b.closed:
		b.logger.Debug("dropping event published after shutdown", "kind", evt.Kind)
	}
}

// Subscribe registers a subscriber and returns its channel along with a
// cleanup function. Events published after Subscribe returns are delivered.
// The subscription also ends when ctx is done. The channel is closed when
// the subscription ends for any reason.
func (b *Bus) Subscribe(ctx context.Context, filter func(*Event) bool) (<-chan *Event, func(), error) {
	if filter == nil {
		filter = func(*Event) bool { return true }
	}
	sub := &subscriber{
		outgoing: make(chan *Event, b.bufferSize),
		filter:   filter,
	}

	select {
	case b.ops <- &operation{op: opSubscribe, sub: sub}:
	case <-b.closed:
		return nil, nil, ErrBusClosed
	case <-ctx.Done():
		return nil, nil, ctx.Err()
	}

	done := make(chan struct{})
	var once sync.Once
	cleanup := func() {
		once.Do(func() {
			close(done)
			select {
			case b.ops <- &operation{op: opUnsubscribe, sub: sub}:
			case <-b.closed:
			}
		})
	}
	go func() {
		select {
		case <-ctx.Done():
			cleanup()
		case <-done:
		}
	}()

	return sub.outgoing, cleanup, nil
}

// Shutdown disconnects all subscribers and stops the bus loop.
func (b *Bus) Shutdown() {
	b.closeOnce.Do(func() {
		close(b.closed)
	})
}
