package matching

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/example/ridedispatch/internal/dispatch/domain"
)

// Config tunes the matcher. The radius bounds the geospatial query to a
// locally relevant working set; the recency window keeps long-abandoned
// demand out of driver feeds.
type Config struct {
	RadiusMiles   float64
	RecencyWindow time.Duration
}

// DefaultRadiusMiles is the fixed search radius for driver feeds.
const DefaultRadiusMiles = 20.0

// Matcher surfaces currently-actionable demand to an available driver.
type Matcher struct {
	locator domain.DriverLocator
	store   domain.Store
	cfg     Config
}

// NewMatcher builds a matcher from its collaborators.
func NewMatcher(locator domain.DriverLocator, store domain.Store, cfg Config) (*Matcher, error) {
	if locator == nil {
		return nil, errors.New("driver locator is required")
	}
	if store == nil {
		return nil, errors.New("booking store is required")
	}
	if cfg.RadiusMiles <= 0 {
		cfg.RadiusMiles = DefaultRadiusMiles
	}
	return &Matcher{locator: locator, store: store, cfg: cfg}, nil
}

// NearbyRequests resolves the driver's position and returns pending bookings
// within the search radius, newest first. An empty list is a valid result;
// an unavailable driver or unknown location is a precondition failure, never
// silently an empty feed.
func (m *Matcher) NearbyRequests(ctx context.Context, driverID uuid.UUID) ([]domain.Booking, error) {
	start := time.Now()

	pos, err := m.locator.Locate(ctx, driverID)
	if err != nil {
		observeMatch("error", start)
		return nil, fmt.Errorf("locate driver: %w", err)
	}
	if !pos.Available {
		observeMatch("precondition", start)
		return nil, fmt.Errorf("%w: driver unavailable", domain.ErrPrecondition)
	}
	if !pos.Known {
		observeMatch("precondition", start)
		return nil, fmt.Errorf("%w: location unknown", domain.ErrPrecondition)
	}

	requests, err := m.store.FindPendingNear(ctx, pos.Point, m.cfg.RadiusMiles, m.cfg.RecencyWindow)
	if err != nil {
		observeMatch("error", start)
		return nil, err
	}
	if len(requests) == 0 {
		observeMatch("empty", start)
		return []domain.Booking{}, nil
	}
	observeMatch("ok", start)
	return requests, nil
}
