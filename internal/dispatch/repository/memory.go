package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/example/ridedispatch/internal/dispatch/domain"
)

// MemoryStore is a mutex-guarded in-process implementation of domain.Store,
// suitable for tests and single-node deployments. The mutex makes every
// conditional write a single atomic step.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[uuid.UUID]memoryRecord
	clock   domain.Clock
	seq     int64
}

type memoryRecord struct {
	booking domain.Booking
	seq     int64
}

// NewMemoryStore constructs an empty store.
func NewMemoryStore(clock domain.Clock) *MemoryStore {
	if clock == nil {
		clock = domain.SystemClock{}
	}
	return &MemoryStore{records: make(map[uuid.UUID]memoryRecord), clock: clock}
}

// CreateBooking inserts a new pending record.
func (m *MemoryStore) CreateBooking(_ context.Context, booking domain.Booking) (domain.Booking, error) {
	if booking.UserID == uuid.Nil {
		return domain.Booking{}, fmt.Errorf("%w: user id is required", domain.ErrValidation)
	}
	if booking.Status != domain.StatusPending {
		return domain.Booking{}, fmt.Errorf("%w: new bookings must be pending", domain.ErrValidation)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if booking.ID == uuid.Nil {
		booking.ID = uuid.New()
	}
	if booking.CreatedAt.IsZero() {
		booking.CreatedAt = m.clock.Now()
	}
	if booking.Version == 0 {
		booking.Version = 1
	}
	m.seq++
	m.records[booking.ID] = memoryRecord{booking: booking, seq: m.seq}
	return booking, nil
}

// FindPendingNear filters pending bookings by great-circle distance and
// recency against current committed state. The read takes no per-record
// coordination; it is a snapshot under the read lock.
func (m *MemoryStore) FindPendingNear(_ context.Context, origin domain.GeoPoint, radiusMiles float64, maxAge time.Duration) ([]domain.Booking, error) {
	now := m.clock.Now()

	m.mu.RLock()
	matched := make([]memoryRecord, 0)
	for _, rec := range m.records {
		if rec.booking.Status != domain.StatusPending {
			continue
		}
		if domain.DistanceMiles(origin, rec.booking.Pickup) > radiusMiles {
			continue
		}
		if maxAge > 0 && now.Sub(rec.booking.CreatedAt) > maxAge {
			continue
		}
		matched = append(matched, rec)
	}
	m.mu.RUnlock()

	sort.SliceStable(matched, func(i, j int) bool {
		if !matched[i].booking.CreatedAt.Equal(matched[j].booking.CreatedAt) {
			return matched[i].booking.CreatedAt.After(matched[j].booking.CreatedAt)
		}
		return matched[i].seq < matched[j].seq
	})

	out := make([]domain.Booking, 0, len(matched))
	for _, rec := range matched {
		out = append(out, rec.booking)
	}
	return out, nil
}

// FindPendingByRequest resolves a pending booking by the original request key.
func (m *MemoryStore) FindPendingByRequest(_ context.Context, userID uuid.UUID, pickup, dropoff domain.GeoPoint) (domain.Booking, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, rec := range m.records {
		b := rec.booking
		if b.Status == domain.StatusPending && b.UserID == userID && b.Pickup == pickup && b.Dropoff == dropoff {
			return b, nil
		}
	}
	return domain.Booking{}, domain.ErrNotFound
}

// GetBooking retrieves a booking by id.
func (m *MemoryStore) GetBooking(_ context.Context, id uuid.UUID) (domain.Booking, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.records[id]
	if !ok {
		return domain.Booking{}, domain.ErrNotFound
	}
	return rec.booking, nil
}

// TryTransition performs the conditional status write. The check and the
// write happen under one lock acquisition, so concurrent callers with the
// same precondition yield exactly one winner.
func (m *MemoryStore) TryTransition(_ context.Context, id uuid.UUID, from, to domain.BookingStatus, driverID *uuid.UUID) (domain.Booking, error) {
	if !from.CanTransitionTo(to) {
		return domain.Booking{}, fmt.Errorf("%w: %s -> %s", domain.ErrValidation, from, to)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[id]
	if !ok {
		return domain.Booking{}, domain.ErrNotFound
	}
	if rec.booking.Status != from {
		return domain.Booking{}, fmt.Errorf("%w: status is %s", domain.ErrConflict, rec.booking.Status)
	}
	rec.booking.Status = to
	rec.booking.DriverID = driverID
	rec.booking.Version++
	m.records[id] = rec
	return rec.booking, nil
}

// TryTransitionByUser transitions the user's booking currently in state from.
// When the user holds several, the newest is taken.
func (m *MemoryStore) TryTransitionByUser(_ context.Context, userID uuid.UUID, from, to domain.BookingStatus) (domain.Booking, error) {
	if !from.CanTransitionTo(to) {
		return domain.Booking{}, fmt.Errorf("%w: %s -> %s", domain.ErrValidation, from, to)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	var target *memoryRecord
	for _, rec := range m.records {
		if rec.booking.UserID != userID || rec.booking.Status != from {
			continue
		}
		rec := rec
		if target == nil || rec.booking.CreatedAt.After(target.booking.CreatedAt) {
			target = &rec
		}
	}
	if target == nil {
		return domain.Booking{}, domain.ErrNotFound
	}
	target.booking.Status = to
	target.booking.Version++
	m.records[target.booking.ID] = *target
	return target.booking, nil
}
