// Package notify lets a caller block until a booking mutation of interest
// commits, without polling the store. Events append to a journal with
// monotonic offsets; a watcher that records its last-seen offset resumes
// from there, so an event committed between two watch calls is never lost.
package notify

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/example/ridedispatch/internal/dispatch/domain"
)

// EventType labels the mutation that produced an event.
type EventType string

const (
	EventBookingCreated   EventType = "BookingCreated"
	EventBookingConfirmed EventType = "BookingConfirmed"
	EventBookingCancelled EventType = "BookingCancelled"
)

// Event is one committed booking mutation. Offset is assigned at append time
// and strictly increases in commit order.
type Event struct {
	Offset  int64          `json:"offset"`
	Type    EventType      `json:"type"`
	Booking domain.Booking `json:"booking"`
	At      time.Time      `json:"at"`
}

// Filter selects the events a watcher cares about.
type Filter func(Event) bool

// FromNow is the Await cursor meaning "future events only, no replay".
const FromNow int64 = -1

type waiter struct {
	filter Filter
	ch     chan Event
}

// Log is the append-only event journal plus the registry of single-shot
// watchers. The journal is bounded: entries beyond the retention cap are
// trimmed oldest-first, offsets stay monotonic.
type Log struct {
	mu        sync.Mutex
	events    []Event
	retain    int
	next      int64
	waiters   map[int64]*waiter
	nextToken int64
}

// NewLog constructs a journal retaining up to retain events (0 selects a
// default of 1024).
func NewLog(retain int) *Log {
	if retain <= 0 {
		retain = 1024
	}
	return &Log{retain: retain, waiters: make(map[int64]*waiter)}
}

// Append commits an event, assigns its offset and wakes every currently
// registered watcher whose filter matches. Delivery order follows append
// order; each watcher resolves at most once.
func (l *Log) Append(evt Event) Event {
	l.mu.Lock()
	l.next++
	evt.Offset = l.next
	if evt.At.IsZero() {
		evt.At = time.Now().UTC()
	}
	l.events = append(l.events, evt)
	if len(l.events) > l.retain {
		l.events = l.events[len(l.events)-l.retain:]
	}
	for token, w := range l.waiters {
		if w.filter(evt) {
			w.ch <- evt
			delete(l.waiters, token)
		}
	}
	l.mu.Unlock()
	return evt
}

// LastOffset returns the offset of the most recently appended event.
func (l *Log) LastOffset() int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.next
}

// Await resolves with the first event after the given offset matching the
// filter. Retained journal entries past the cursor resolve immediately;
// otherwise the call suspends until a matching append, the timeout elapses
// (ErrTimeout) or ctx is cancelled. Resolution is single-shot: the
// registration is discarded either way and must be re-issued to watch again.
// No lock is held while suspended, and cancellation releases the waiter slot
// immediately.
func (l *Log) Await(ctx context.Context, after int64, filter Filter, timeout time.Duration) (Event, error) {
	if filter == nil {
		filter = func(Event) bool { return true }
	}
	if after == FromNow {
		after = l.LastOffset()
	}

	l.mu.Lock()
	for _, evt := range l.events {
		if evt.Offset > after && filter(evt) {
			l.mu.Unlock()
			return evt, nil
		}
	}
	l.nextToken++
	token := l.nextToken
	w := &waiter{filter: filter, ch: make(chan Event, 1)}
	l.waiters[token] = w
	l.mu.Unlock()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case evt := <-w.ch:
		return evt, nil
	case <-timer.C:
		if evt, ok := l.resolveOrRemove(token, w); ok {
			return evt, nil
		}
		return Event{}, fmt.Errorf("%w after %s", domain.ErrTimeout, timeout)
	case <-ctx.Done():
		if evt, ok := l.resolveOrRemove(token, w); ok {
			return evt, nil
		}
		return Event{}, ctx.Err()
	}
}

// resolveOrRemove handles the race between expiry and a concurrent Append:
// if the waiter was already resolved, prefer the delivered event.
func (l *Log) resolveOrRemove(token int64, w *waiter) (Event, bool) {
	l.mu.Lock()
	_, registered := l.waiters[token]
	delete(l.waiters, token)
	l.mu.Unlock()
	if registered {
		return Event{}, false
	}
	return <-w.ch, true
}

// MatchType filters by event type.
func MatchType(t EventType) Filter {
	return func(evt Event) bool { return evt.Type == t }
}

// MatchUserConfirmation selects the confirmation of the given passenger's
// booking.
func MatchUserConfirmation(userID uuid.UUID) Filter {
	return func(evt Event) bool {
		return evt.Type == EventBookingConfirmed && evt.Booking.UserID == userID
	}
}
