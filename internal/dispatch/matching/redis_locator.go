package matching

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/example/ridedispatch/internal/dispatch/domain"
)

const defaultLocatorPrefix = "dispatch:driver"

// RedisLocator shares driver positions across processes using Redis GEO
// commands for coordinates and a hash for availability flags. The location
// ingest service writes here; dispatch instances read.
type RedisLocator struct {
	client    redis.Cmdable
	keyPrefix string
}

// NewRedisLocator constructs the locator. An empty prefix selects
// "dispatch:driver".
func NewRedisLocator(client redis.Cmdable, prefix string) *RedisLocator {
	if prefix == "" {
		prefix = defaultLocatorPrefix
	}
	return &RedisLocator{client: client, keyPrefix: prefix}
}

func (r *RedisLocator) geoKey() string     { return r.keyPrefix + ":geo" }
func (r *RedisLocator) availKey() string   { return r.keyPrefix + ":avail" }
func (r *RedisLocator) updatedKey() string { return r.keyPrefix + ":updated" }

// Locate reads the driver's coordinates and availability flag. A driver with
// no GEO entry resolves as unknown.
func (r *RedisLocator) Locate(ctx context.Context, driverID uuid.UUID) (domain.DriverPosition, error) {
	pos := domain.DriverPosition{DriverID: driverID}

	coords, err := r.client.GeoPos(ctx, r.geoKey(), driverID.String()).Result()
	if err != nil {
		return pos, fmt.Errorf("%w: redis geopos: %v", domain.ErrStorage, err)
	}
	if len(coords) == 1 && coords[0] != nil {
		pos.Known = true
		pos.Point = domain.GeoPoint{Lat: coords[0].Latitude, Lng: coords[0].Longitude}
	}

	avail, err := r.client.HGet(ctx, r.availKey(), driverID.String()).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return pos, fmt.Errorf("%w: redis hget: %v", domain.ErrStorage, err)
	}
	pos.Available = avail == "1"

	if raw, err := r.client.HGet(ctx, r.updatedKey(), driverID.String()).Result(); err == nil {
		if ms, err := strconv.ParseInt(raw, 10, 64); err == nil {
			pos.Updated = time.UnixMilli(ms).UTC()
		}
	}
	return pos, nil
}

// UpdateLocation writes the driver's coordinates into the GEO index.
func (r *RedisLocator) UpdateLocation(ctx context.Context, driverID uuid.UUID, point domain.GeoPoint) error {
	pipe := r.client.TxPipeline()
	pipe.GeoAdd(ctx, r.geoKey(), &redis.GeoLocation{
		Name:      driverID.String(),
		Longitude: point.Lng,
		Latitude:  point.Lat,
	})
	pipe.HSet(ctx, r.updatedKey(), driverID.String(), strconv.FormatInt(time.Now().UnixMilli(), 10))
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("%w: redis geoadd: %v", domain.ErrStorage, err)
	}
	return nil
}

// SetAvailability flips the driver's availability flag.
func (r *RedisLocator) SetAvailability(ctx context.Context, driverID uuid.UUID, available bool) error {
	flag := "0"
	if available {
		flag = "1"
	}
	if err := r.client.HSet(ctx, r.availKey(), driverID.String(), flag).Err(); err != nil {
		return fmt.Errorf("%w: redis hset: %v", domain.ErrStorage, err)
	}
	return nil
}
