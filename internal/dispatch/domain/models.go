package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// BookingStatus is the lifecycle state of a booking.
type BookingStatus string

const (
	StatusPending   BookingStatus = "pending"
	StatusConfirmed BookingStatus = "confirmed"
	StatusCancelled BookingStatus = "cancelled"
)

var allowedTransitions = map[BookingStatus][]BookingStatus{
	StatusPending: {StatusConfirmed, StatusCancelled},
}

// CanTransitionTo reports whether next is a legal successor state. Confirmed
// and cancelled are terminal; nothing ever leaves them.
func (s BookingStatus) CanTransitionTo(next BookingStatus) bool {
	for _, candidate := range allowedTransitions[s] {
		if candidate == next {
			return true
		}
	}
	return false
}

// Terminal reports whether the status admits no further transition.
func (s BookingStatus) Terminal() bool {
	return s == StatusConfirmed || s == StatusCancelled
}

// GeoPoint is a WGS84 coordinate pair.
type GeoPoint struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Booking is a single ride request and its lifecycle record. DriverID is set
// exactly once, on the transition to confirmed. Bookings are never deleted;
// terminal records persist as history.
type Booking struct {
	ID        uuid.UUID     `json:"id"`
	UserID    uuid.UUID     `json:"user_id"`
	DriverID  *uuid.UUID    `json:"driver_id,omitempty"`
	Pickup    GeoPoint      `json:"pickup"`
	Dropoff   GeoPoint      `json:"dropoff"`
	Price     *float64      `json:"price,omitempty"`
	Status    BookingStatus `json:"status"`
	CreatedAt time.Time     `json:"created_at"`
	Version   int64         `json:"version"`
}

// Store is the durable booking record store. TryTransition and
// TryTransitionByUser are single atomic compare-and-set steps: the status
// precondition is checked and the new state written in one step at the
// storage layer, never as a separate read followed by a write.
type Store interface {
	// CreateBooking inserts a new pending record. ErrValidation when the
	// user id is zero or the booking is not pending.
	CreateBooking(ctx context.Context, booking Booking) (Booking, error)

	// FindPendingNear returns pending bookings whose pickup lies within
	// radiusMiles great-circle distance of origin and whose CreatedAt is
	// within maxAge of now (maxAge <= 0 disables the recency filter).
	// Ordered newest-first, ties broken by insertion order. An empty
	// result is success, not an error.
	FindPendingNear(ctx context.Context, origin GeoPoint, radiusMiles float64, maxAge time.Duration) ([]Booking, error)

	// FindPendingByRequest locates the pending booking matching the
	// original request key (user plus exact pickup/dropoff pair).
	FindPendingByRequest(ctx context.Context, userID uuid.UUID, pickup, dropoff GeoPoint) (Booking, error)

	// GetBooking fetches a booking by id.
	GetBooking(ctx context.Context, id uuid.UUID) (Booking, error)

	// TryTransition applies from->to plus driverID in one conditional
	// write. ErrConflict when the record no longer holds from,
	// ErrNotFound when no record matches id.
	TryTransition(ctx context.Context, id uuid.UUID, from, to BookingStatus, driverID *uuid.UUID) (Booking, error)

	// TryTransitionByUser is the cancellation lookup: the caller's
	// current booking in state from, transitioned to to. ErrNotFound when
	// the user has no booking in state from.
	TryTransitionByUser(ctx context.Context, userID uuid.UUID, from, to BookingStatus) (Booking, error)
}

// DriverPosition is the locator's view of one driver.
type DriverPosition struct {
	DriverID  uuid.UUID
	Point     GeoPoint
	Available bool
	Known     bool
	Updated   time.Time
}

// DriverLocator resolves a driver's current coordinates and availability.
// The dispatch core only reads driver state, never writes it.
type DriverLocator interface {
	Locate(ctx context.Context, driverID uuid.UUID) (DriverPosition, error)
}

// LocationSink accepts driver position updates from the ingest path.
type LocationSink interface {
	UpdateLocation(ctx context.Context, driverID uuid.UUID, point GeoPoint) error
	SetAvailability(ctx context.Context, driverID uuid.UUID, available bool) error
}

type Clock interface {
	Now() time.Time
}

type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now().UTC() }
