package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/example/ridedispatch/internal/dispatch/domain"
	"github.com/example/ridedispatch/internal/dispatch/notify"
)

// Service enforces the booking lifecycle on top of the store's conditional
// write primitive and feeds the change journal. The only legal edges are
// pending->confirmed and pending->cancelled.
type Service struct {
	store   domain.Store
	journal *notify.Log
	clock   domain.Clock
}

// New constructs a Service with the required collaborators.
func New(store domain.Store, journal *notify.Log, clock domain.Clock) *Service {
	if clock == nil {
		clock = domain.SystemClock{}
	}
	return &Service{store: store, journal: journal, clock: clock}
}

// SubmitRequest is the passenger's ride request payload.
type SubmitRequest struct {
	UserID  uuid.UUID
	Pickup  *domain.GeoPoint
	Dropoff *domain.GeoPoint
	Price   *float64
}

// Submit creates a pending booking and appends a BookingCreated event.
func (s *Service) Submit(ctx context.Context, req SubmitRequest) (domain.Booking, error) {
	if req.UserID == uuid.Nil {
		return domain.Booking{}, fmt.Errorf("%w: user id is required", domain.ErrValidation)
	}
	if req.Pickup == nil || req.Dropoff == nil {
		return domain.Booking{}, fmt.Errorf("%w: pickup and dropoff locations are required", domain.ErrValidation)
	}

	booking := domain.Booking{
		ID:        uuid.New(),
		UserID:    req.UserID,
		Pickup:    *req.Pickup,
		Dropoff:   *req.Dropoff,
		Price:     req.Price,
		Status:    domain.StatusPending,
		CreatedAt: s.clock.Now(),
		Version:   1,
	}

	created, err := s.store.CreateBooking(ctx, booking)
	if err != nil {
		return domain.Booking{}, fmt.Errorf("create booking: %w", err)
	}

	s.append(notify.EventBookingCreated, created)
	return created, nil
}

// Confirm claims a pending booking for the driver through one conditional
// write. ErrConflict means another driver won the race; the booking is
// already taken, not transiently unavailable.
func (s *Service) Confirm(ctx context.Context, driverID, bookingID uuid.UUID) (domain.Booking, error) {
	if driverID == uuid.Nil {
		return domain.Booking{}, fmt.Errorf("%w: driver id is required", domain.ErrValidation)
	}

	confirmed, err := s.store.TryTransition(ctx, bookingID, domain.StatusPending, domain.StatusConfirmed, &driverID)
	if err != nil {
		return domain.Booking{}, err
	}

	s.append(notify.EventBookingConfirmed, confirmed)
	return confirmed, nil
}

// ConfirmRequest claims a pending booking located by the original request key
// (user plus exact pickup/dropoff), then runs the same conditional write.
func (s *Service) ConfirmRequest(ctx context.Context, driverID, userID uuid.UUID, pickup, dropoff domain.GeoPoint) (domain.Booking, error) {
	booking, err := s.store.FindPendingByRequest(ctx, userID, pickup, dropoff)
	if err != nil {
		return domain.Booking{}, err
	}
	return s.Confirm(ctx, driverID, booking.ID)
}

// Cancel withdraws the user's pending booking. ErrNotFound means there is
// nothing cancellable: no booking, or it was already confirmed or cancelled.
func (s *Service) Cancel(ctx context.Context, userID uuid.UUID) (domain.Booking, error) {
	if userID == uuid.Nil {
		return domain.Booking{}, fmt.Errorf("%w: user id is required", domain.ErrValidation)
	}

	cancelled, err := s.store.TryTransitionByUser(ctx, userID, domain.StatusPending, domain.StatusCancelled)
	if err != nil {
		return domain.Booking{}, err
	}

	s.append(notify.EventBookingCancelled, cancelled)
	return cancelled, nil
}

// Get retrieves a booking by id.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (domain.Booking, error) {
	return s.store.GetBooking(ctx, id)
}

// WatchPending blocks until a new pending booking appears after the given
// journal offset. Pass notify.FromNow to watch future events only.
func (s *Service) WatchPending(ctx context.Context, after int64, timeout time.Duration) (notify.Event, error) {
	return s.journal.Await(ctx, after, notify.MatchType(notify.EventBookingCreated), timeout)
}

// WatchConfirmation blocks until the user's booking is confirmed after the
// given journal offset.
func (s *Service) WatchConfirmation(ctx context.Context, userID uuid.UUID, after int64, timeout time.Duration) (notify.Event, error) {
	if userID == uuid.Nil {
		return notify.Event{}, fmt.Errorf("%w: user id is required", domain.ErrValidation)
	}
	return s.journal.Await(ctx, after, notify.MatchUserConfirmation(userID), timeout)
}

func (s *Service) append(eventType notify.EventType, booking domain.Booking) {
	if s.journal == nil {
		return
	}
	s.journal.Append(notify.Event{Type: eventType, Booking: booking, At: s.clock.Now()})
}
