package domain_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/example/ridedispatch/internal/dispatch/domain"
)

func TestDistanceMilesZero(t *testing.T) {
	p := domain.GeoPoint{Lat: 40.70, Lng: -74.00}
	require.Zero(t, domain.DistanceMiles(p, p))
}

func TestDistanceMilesKnownPair(t *testing.T) {
	// NYC city hall to Newark Penn Station, roughly 8.5 statute miles
	a := domain.GeoPoint{Lat: 40.7128, Lng: -74.0060}
	b := domain.GeoPoint{Lat: 40.7346, Lng: -74.1645}
	require.InDelta(t, 8.5, domain.DistanceMiles(a, b), 0.5)
}

func TestDistanceMilesSymmetric(t *testing.T) {
	a := domain.GeoPoint{Lat: 40.70, Lng: -74.00}
	b := domain.GeoPoint{Lat: 41.20, Lng: -73.50}
	require.Equal(t, domain.DistanceMiles(a, b), domain.DistanceMiles(b, a))
}

func TestStatusTransitions(t *testing.T) {
	require.True(t, domain.StatusPending.CanTransitionTo(domain.StatusConfirmed))
	require.True(t, domain.StatusPending.CanTransitionTo(domain.StatusCancelled))
	require.False(t, domain.StatusConfirmed.CanTransitionTo(domain.StatusCancelled))
	require.False(t, domain.StatusCancelled.CanTransitionTo(domain.StatusConfirmed))
	require.False(t, domain.StatusConfirmed.CanTransitionTo(domain.StatusPending))

	require.False(t, domain.StatusPending.Terminal())
	require.True(t, domain.StatusConfirmed.Terminal())
	require.True(t, domain.StatusCancelled.Terminal())
}
