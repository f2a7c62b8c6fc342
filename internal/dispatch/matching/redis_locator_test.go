package matching_test

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/example/ridedispatch/internal/dispatch/domain"
	"github.com/example/ridedispatch/internal/dispatch/matching"
)

func newRedisLocator(t *testing.T) *matching.RedisLocator {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return matching.NewRedisLocator(client, "loctest:driver")
}

func TestRedisLocatorUnseenDriver(t *testing.T) {
	locator := newRedisLocator(t)
	pos, err := locator.Locate(context.Background(), uuid.New())
	require.NoError(t, err)
	require.False(t, pos.Known)
	require.False(t, pos.Available)
}

func TestRedisLocatorRoundtrip(t *testing.T) {
	locator := newRedisLocator(t)
	driverID := uuid.New()
	point := domain.GeoPoint{Lat: 40.70, Lng: -74.00}

	require.NoError(t, locator.UpdateLocation(context.Background(), driverID, point))
	require.NoError(t, locator.SetAvailability(context.Background(), driverID, true))

	pos, err := locator.Locate(context.Background(), driverID)
	require.NoError(t, err)
	require.True(t, pos.Known)
	require.True(t, pos.Available)
	// GEO storage quantizes to 52-bit geohash cells
	require.InDelta(t, point.Lat, pos.Point.Lat, 0.001)
	require.InDelta(t, point.Lng, pos.Point.Lng, 0.001)
	require.False(t, pos.Updated.IsZero())
}

func TestRedisLocatorAvailabilityToggle(t *testing.T) {
	locator := newRedisLocator(t)
	driverID := uuid.New()
	require.NoError(t, locator.UpdateLocation(context.Background(), driverID, domain.GeoPoint{Lat: 40.70, Lng: -74.00}))
	require.NoError(t, locator.SetAvailability(context.Background(), driverID, true))
	require.NoError(t, locator.SetAvailability(context.Background(), driverID, false))

	pos, err := locator.Locate(context.Background(), driverID)
	require.NoError(t, err)
	require.True(t, pos.Known)
	require.False(t, pos.Available)
}
