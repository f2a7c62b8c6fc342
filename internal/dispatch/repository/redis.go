package repository

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/example/ridedispatch/internal/dispatch/domain"
)

const defaultKeyPrefix = "dispatch"

// transitionLua is the conditional status write. The status check and the
// full update commit in one EVAL, so concurrent confirmers observe exactly
// one winner. Only the transitioned id leaves the per-user pending set, so a
// user's other pending bookings stay cancellable. Returns -1 when the booking
// hash is missing, 0 when the precondition no longer holds, 1 on success.
const transitionLua = `
local status = redis.call('HGET', KEYS[1], 'status')
if not status then
  return -1
end
if status ~= ARGV[1] then
  return 0
end
redis.call('HSET', KEYS[1], 'status', ARGV[2])
if ARGV[3] ~= '' then
  redis.call('HSET', KEYS[1], 'driver_id', ARGV[3])
end
redis.call('HINCRBY', KEYS[1], 'version', 1)
redis.call('ZREM', KEYS[2], ARGV[4])
redis.call('ZREM', KEYS[3], ARGV[4])
redis.call('ZREM', KEYS[4], ARGV[4])
return 1
`

// RedisStore implements domain.Store on Redis. Bookings live in one hash per
// record; pending pickups are additionally indexed in a GEO set for radius
// search and a ZSET scored by creation time for recency filtering. The status
// precondition rides on a Lua script so the read-check-write is atomic.
type RedisStore struct {
	client     redis.Cmdable
	keyPrefix  string
	clock      domain.Clock
	transition *redis.Script
}

// NewRedisStore constructs the store. An empty prefix selects "dispatch".
func NewRedisStore(client redis.Cmdable, prefix string, clock domain.Clock) *RedisStore {
	if prefix == "" {
		prefix = defaultKeyPrefix
	}
	if clock == nil {
		clock = domain.SystemClock{}
	}
	return &RedisStore{
		client:     client,
		keyPrefix:  prefix,
		clock:      clock,
		transition: redis.NewScript(transitionLua),
	}
}

func (r *RedisStore) bookingKey(id uuid.UUID) string { return r.keyPrefix + ":booking:" + id.String() }
func (r *RedisStore) geoKey() string                 { return r.keyPrefix + ":pending:geo" }
func (r *RedisStore) recentKey() string              { return r.keyPrefix + ":pending:recent" }
func (r *RedisStore) userPendingKey(userID uuid.UUID) string {
	return r.keyPrefix + ":pending:user:" + userID.String()
}

// CreateBooking writes the record hash and the pending indexes.
func (r *RedisStore) CreateBooking(ctx context.Context, booking domain.Booking) (domain.Booking, error) {
	if booking.UserID == uuid.Nil {
		return domain.Booking{}, fmt.Errorf("%w: user id is required", domain.ErrValidation)
	}
	if booking.Status != domain.StatusPending {
		return domain.Booking{}, fmt.Errorf("%w: new bookings must be pending", domain.ErrValidation)
	}
	if booking.ID == uuid.Nil {
		booking.ID = uuid.New()
	}
	if booking.CreatedAt.IsZero() {
		booking.CreatedAt = r.clock.Now()
	}
	if booking.Version == 0 {
		booking.Version = 1
	}

	seq, err := r.client.Incr(ctx, r.keyPrefix+":booking:seq").Result()
	if err != nil {
		return domain.Booking{}, fmt.Errorf("%w: redis incr: %v", domain.ErrStorage, err)
	}

	fields := map[string]any{
		"user_id":     booking.UserID.String(),
		"pickup_lat":  formatFloat(booking.Pickup.Lat),
		"pickup_lng":  formatFloat(booking.Pickup.Lng),
		"dropoff_lat": formatFloat(booking.Dropoff.Lat),
		"dropoff_lng": formatFloat(booking.Dropoff.Lng),
		"status":      string(booking.Status),
		"created_ms":  strconv.FormatInt(booking.CreatedAt.UnixMilli(), 10),
		"version":     strconv.FormatInt(booking.Version, 10),
		"seq":         strconv.FormatInt(seq, 10),
	}
	if booking.Price != nil {
		fields["price"] = formatFloat(*booking.Price)
	}

	pipe := r.client.TxPipeline()
	pipe.HSet(ctx, r.bookingKey(booking.ID), fields)
	pipe.GeoAdd(ctx, r.geoKey(), &redis.GeoLocation{
		Name:      booking.ID.String(),
		Longitude: booking.Pickup.Lng,
		Latitude:  booking.Pickup.Lat,
	})
	pipe.ZAdd(ctx, r.recentKey(), redis.Z{Score: float64(booking.CreatedAt.UnixMilli()), Member: booking.ID.String()})
	pipe.ZAdd(ctx, r.userPendingKey(booking.UserID), redis.Z{Score: float64(seq), Member: booking.ID.String()})
	if _, err := pipe.Exec(ctx); err != nil {
		return domain.Booking{}, fmt.Errorf("%w: redis create booking: %v", domain.ErrStorage, err)
	}
	return booking, nil
}

// FindPendingNear searches the GEO index, then filters by recency and orders
// newest-first with the insertion sequence breaking ties.
func (r *RedisStore) FindPendingNear(ctx context.Context, origin domain.GeoPoint, radiusMiles float64, maxAge time.Duration) ([]domain.Booking, error) {
	ids, err := r.client.GeoSearch(ctx, r.geoKey(), &redis.GeoSearchQuery{
		Longitude:  origin.Lng,
		Latitude:   origin.Lat,
		Radius:     radiusMiles,
		RadiusUnit: "mi",
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: redis geosearch: %v", domain.ErrStorage, err)
	}

	now := r.clock.Now()
	out := make([]domain.Booking, 0, len(ids))
	for _, raw := range ids {
		id, err := uuid.Parse(raw)
		if err != nil {
			continue
		}
		booking, err := r.GetBooking(ctx, id)
		if errors.Is(err, domain.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		if booking.Status != domain.StatusPending {
			continue
		}
		if maxAge > 0 && now.Sub(booking.CreatedAt) > maxAge {
			continue
		}
		if domain.DistanceMiles(origin, booking.Pickup) > radiusMiles {
			continue
		}
		out = append(out, booking)
	}

	seqs := make(map[uuid.UUID]int64, len(out))
	for _, b := range out {
		seq, err := r.client.HGet(ctx, r.bookingKey(b.ID), "seq").Int64()
		if err != nil {
			return nil, fmt.Errorf("%w: redis hget seq: %v", domain.ErrStorage, err)
		}
		seqs[b.ID] = seq
	}
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return seqs[out[i].ID] < seqs[out[j].ID]
	})
	return out, nil
}

// FindPendingByRequest resolves the pending booking whose pickup/dropoff pair
// matches the original request. The newest match wins when the user repeated
// the same request.
func (r *RedisStore) FindPendingByRequest(ctx context.Context, userID uuid.UUID, pickup, dropoff domain.GeoPoint) (domain.Booking, error) {
	bookings, err := r.pendingForUser(ctx, userID)
	if err != nil {
		return domain.Booking{}, err
	}
	for _, booking := range bookings {
		if booking.Pickup == pickup && booking.Dropoff == dropoff {
			return booking, nil
		}
	}
	return domain.Booking{}, domain.ErrNotFound
}

// GetBooking loads and decodes one booking hash.
func (r *RedisStore) GetBooking(ctx context.Context, id uuid.UUID) (domain.Booking, error) {
	fields, err := r.client.HGetAll(ctx, r.bookingKey(id)).Result()
	if err != nil {
		return domain.Booking{}, fmt.Errorf("%w: redis hgetall: %v", domain.ErrStorage, err)
	}
	if len(fields) == 0 {
		return domain.Booking{}, domain.ErrNotFound
	}
	return decodeBooking(id, fields)
}

// TryTransition runs the conditional write script.
func (r *RedisStore) TryTransition(ctx context.Context, id uuid.UUID, from, to domain.BookingStatus, driverID *uuid.UUID) (domain.Booking, error) {
	if !from.CanTransitionTo(to) {
		return domain.Booking{}, fmt.Errorf("%w: %s -> %s", domain.ErrValidation, from, to)
	}
	driver := ""
	if driverID != nil {
		driver = driverID.String()
	}

	booking, err := r.GetBooking(ctx, id)
	if err != nil {
		return domain.Booking{}, err
	}

	keys := []string{r.bookingKey(id), r.geoKey(), r.recentKey(), r.userPendingKey(booking.UserID)}
	result, err := r.transition.Run(ctx, r.client, keys, string(from), string(to), driver, id.String()).Int()
	if err != nil {
		return domain.Booking{}, fmt.Errorf("%w: redis transition: %v", domain.ErrStorage, err)
	}
	switch result {
	case -1:
		return domain.Booking{}, domain.ErrNotFound
	case 0:
		return domain.Booking{}, fmt.Errorf("%w: precondition %s no longer holds", domain.ErrConflict, from)
	}
	return r.GetBooking(ctx, id)
}

// TryTransitionByUser transitions the user's newest pending booking through
// the same conditional write. A booking lost to a racing confirmer is skipped
// in favour of the next pending one; ErrNotFound means none remain.
func (r *RedisStore) TryTransitionByUser(ctx context.Context, userID uuid.UUID, from, to domain.BookingStatus) (domain.Booking, error) {
	if !from.CanTransitionTo(to) {
		return domain.Booking{}, fmt.Errorf("%w: %s -> %s", domain.ErrValidation, from, to)
	}
	bookings, err := r.pendingForUser(ctx, userID)
	if err != nil {
		return domain.Booking{}, err
	}
	for _, booking := range bookings {
		updated, err := r.TryTransition(ctx, booking.ID, from, to, nil)
		if errors.Is(err, domain.ErrConflict) || errors.Is(err, domain.ErrNotFound) {
			continue
		}
		return updated, err
	}
	return domain.Booking{}, domain.ErrNotFound
}

// pendingForUser reads the user's pending set newest-first. Members are kept
// in insertion-sequence order and removed by the transition script, so every
// surviving entry should decode to a pending booking; anything else is
// skipped.
func (r *RedisStore) pendingForUser(ctx context.Context, userID uuid.UUID) ([]domain.Booking, error) {
	ids, err := r.client.ZRevRange(ctx, r.userPendingKey(userID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: redis zrevrange: %v", domain.ErrStorage, err)
	}
	out := make([]domain.Booking, 0, len(ids))
	for _, raw := range ids {
		id, err := uuid.Parse(raw)
		if err != nil {
			continue
		}
		booking, err := r.GetBooking(ctx, id)
		if errors.Is(err, domain.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		if booking.Status != domain.StatusPending {
			continue
		}
		out = append(out, booking)
	}
	return out, nil
}

func decodeBooking(id uuid.UUID, fields map[string]string) (domain.Booking, error) {
	userID, err := uuid.Parse(fields["user_id"])
	if err != nil {
		return domain.Booking{}, fmt.Errorf("%w: corrupt user_id for %s", domain.ErrStorage, id)
	}
	createdMS, _ := strconv.ParseInt(fields["created_ms"], 10, 64)
	version, _ := strconv.ParseInt(fields["version"], 10, 64)

	booking := domain.Booking{
		ID:     id,
		UserID: userID,
		Pickup: domain.GeoPoint{
			Lat: parseFloat(fields["pickup_lat"]),
			Lng: parseFloat(fields["pickup_lng"]),
		},
		Dropoff: domain.GeoPoint{
			Lat: parseFloat(fields["dropoff_lat"]),
			Lng: parseFloat(fields["dropoff_lng"]),
		},
		Status:    domain.BookingStatus(fields["status"]),
		CreatedAt: time.UnixMilli(createdMS).UTC(),
		Version:   version,
	}
	if raw, ok := fields["driver_id"]; ok && raw != "" {
		if driverID, err := uuid.Parse(raw); err == nil {
			booking.DriverID = &driverID
		}
	}
	if raw, ok := fields["price"]; ok && raw != "" {
		price := parseFloat(raw)
		booking.Price = &price
	}
	return booking, nil
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func parseFloat(raw string) float64 {
	v, _ := strconv.ParseFloat(raw, 64)
	return v
}
