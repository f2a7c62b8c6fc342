package handler_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/example/ridedispatch/internal/dispatch/domain"
	"github.com/example/ridedispatch/internal/dispatch/handler"
	"github.com/example/ridedispatch/internal/dispatch/matching"
	"github.com/example/ridedispatch/internal/dispatch/notify"
	"github.com/example/ridedispatch/internal/dispatch/repository"
	"github.com/example/ridedispatch/internal/dispatch/service"
)

type fixture struct {
	server  *httptest.Server
	svc     *service.Service
	locator *matching.MemoryLocator
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := repository.NewMemoryStore(nil)
	journal := notify.NewLog(0)
	svc := service.New(store, journal, nil)
	locator := matching.NewMemoryLocator()
	matcher, err := matching.NewMatcher(locator, store, matching.Config{RadiusMiles: 20})
	require.NoError(t, err)

	server := httptest.NewServer(handler.NewHTTP(svc, matcher).Router())
	t.Cleanup(server.Close)
	return &fixture{server: server, svc: svc, locator: locator}
}

func (f *fixture) postJSON(t *testing.T, path string, payload any) *http.Response {
	t.Helper()
	body, err := json.Marshal(payload)
	require.NoError(t, err)
	res, err := http.Post(f.server.URL+path, "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	return res
}

func decodeBooking(t *testing.T, res *http.Response) domain.Booking {
	t.Helper()
	defer res.Body.Close()
	var booking domain.Booking
	require.NoError(t, json.NewDecoder(res.Body).Decode(&booking))
	return booking
}

func TestSubmitBooking(t *testing.T) {
	f := newFixture(t)
	res := f.postJSON(t, "/v1/bookings", map[string]any{
		"user_id": uuid.New().String(),
		"pickup":  map[string]float64{"lat": 40.70, "lng": -74.00},
		"dropoff": map[string]float64{"lat": 40.75, "lng": -73.98},
		"price":   14.5,
	})
	require.Equal(t, http.StatusCreated, res.StatusCode)
	booking := decodeBooking(t, res)
	require.Equal(t, domain.StatusPending, booking.Status)
	require.NotEqual(t, uuid.Nil, booking.ID)
}

func TestSubmitBookingMissingLocations(t *testing.T) {
	f := newFixture(t)
	res := f.postJSON(t, "/v1/bookings", map[string]any{
		"user_id": uuid.New().String(),
		"pickup":  map[string]float64{"lat": 40.70, "lng": -74.00},
	})
	defer res.Body.Close()
	require.Equal(t, http.StatusBadRequest, res.StatusCode)
}

func TestSubmitBookingBadUserID(t *testing.T) {
	f := newFixture(t)
	res := f.postJSON(t, "/v1/bookings", map[string]any{"user_id": "not-a-uuid"})
	defer res.Body.Close()
	require.Equal(t, http.StatusBadRequest, res.StatusCode)
}

func TestGetBooking(t *testing.T) {
	f := newFixture(t)
	created, err := f.svc.Submit(context.Background(), service.SubmitRequest{
		UserID:  uuid.New(),
		Pickup:  &domain.GeoPoint{Lat: 40.70, Lng: -74.00},
		Dropoff: &domain.GeoPoint{Lat: 40.75, Lng: -73.98},
	})
	require.NoError(t, err)

	res, err := http.Get(f.server.URL + "/v1/bookings/" + created.ID.String())
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, res.StatusCode)
	require.Equal(t, created.ID, decodeBooking(t, res).ID)

	res, err = http.Get(f.server.URL + "/v1/bookings/" + uuid.New().String())
	require.NoError(t, err)
	defer res.Body.Close()
	require.Equal(t, http.StatusNotFound, res.StatusCode)
}

func TestConfirmBookingConflict(t *testing.T) {
	f := newFixture(t)
	created, err := f.svc.Submit(context.Background(), service.SubmitRequest{
		UserID:  uuid.New(),
		Pickup:  &domain.GeoPoint{Lat: 40.70, Lng: -74.00},
		Dropoff: &domain.GeoPoint{Lat: 40.75, Lng: -73.98},
	})
	require.NoError(t, err)

	path := "/v1/bookings/" + created.ID.String() + "/confirm"
	res := f.postJSON(t, path, map[string]string{"driver_id": uuid.New().String()})
	require.Equal(t, http.StatusOK, res.StatusCode)
	booking := decodeBooking(t, res)
	require.Equal(t, domain.StatusConfirmed, booking.Status)

	res = f.postJSON(t, path, map[string]string{"driver_id": uuid.New().String()})
	defer res.Body.Close()
	require.Equal(t, http.StatusConflict, res.StatusCode)
}

func TestConfirmByRequestKey(t *testing.T) {
	f := newFixture(t)
	userID := uuid.New()
	pickup := domain.GeoPoint{Lat: 40.70, Lng: -74.00}
	dropoff := domain.GeoPoint{Lat: 40.75, Lng: -73.98}
	_, err := f.svc.Submit(context.Background(), service.SubmitRequest{
		UserID: userID, Pickup: &pickup, Dropoff: &dropoff,
	})
	require.NoError(t, err)

	res := f.postJSON(t, "/v1/bookings/confirm", map[string]any{
		"driver_id": uuid.New().String(),
		"user_id":   userID.String(),
		"pickup":    map[string]float64{"lat": pickup.Lat, "lng": pickup.Lng},
		"dropoff":   map[string]float64{"lat": dropoff.Lat, "lng": dropoff.Lng},
	})
	require.Equal(t, http.StatusOK, res.StatusCode)
	require.Equal(t, domain.StatusConfirmed, decodeBooking(t, res).Status)
}

func TestCancelBooking(t *testing.T) {
	f := newFixture(t)
	userID := uuid.New()
	_, err := f.svc.Submit(context.Background(), service.SubmitRequest{
		UserID:  userID,
		Pickup:  &domain.GeoPoint{Lat: 40.70, Lng: -74.00},
		Dropoff: &domain.GeoPoint{Lat: 40.75, Lng: -73.98},
	})
	require.NoError(t, err)

	res := f.postJSON(t, "/v1/bookings/cancel", map[string]string{"user_id": userID.String()})
	require.Equal(t, http.StatusOK, res.StatusCode)
	require.Equal(t, domain.StatusCancelled, decodeBooking(t, res).Status)

	res = f.postJSON(t, "/v1/bookings/cancel", map[string]string{"user_id": userID.String()})
	defer res.Body.Close()
	require.Equal(t, http.StatusNotFound, res.StatusCode)
}

func TestListNearbyPreconditions(t *testing.T) {
	f := newFixture(t)
	driverID := uuid.New()

	// unknown and unavailable driver
	res, err := http.Get(f.server.URL + "/v1/drivers/" + driverID.String() + "/requests")
	require.NoError(t, err)
	defer res.Body.Close()
	require.Equal(t, http.StatusBadRequest, res.StatusCode)
}

func TestListNearbyReturnsFeed(t *testing.T) {
	f := newFixture(t)
	driverID := uuid.New()
	require.NoError(t, f.locator.UpdateLocation(context.Background(), driverID, domain.GeoPoint{Lat: 40.70, Lng: -74.00}))
	require.NoError(t, f.locator.SetAvailability(context.Background(), driverID, true))

	_, err := f.svc.Submit(context.Background(), service.SubmitRequest{
		UserID:  uuid.New(),
		Pickup:  &domain.GeoPoint{Lat: 40.71, Lng: -74.01},
		Dropoff: &domain.GeoPoint{Lat: 40.75, Lng: -73.98},
	})
	require.NoError(t, err)

	res, err := http.Get(f.server.URL + "/v1/drivers/" + driverID.String() + "/requests")
	require.NoError(t, err)
	defer res.Body.Close()
	require.Equal(t, http.StatusOK, res.StatusCode)

	var payload struct {
		Requests []domain.Booking `json:"requests"`
	}
	require.NoError(t, json.NewDecoder(res.Body).Decode(&payload))
	require.Len(t, payload.Requests, 1)
}

func TestWatchTimesOutWith408(t *testing.T) {
	f := newFixture(t)
	url := fmt.Sprintf("%s/v1/drivers/%s/watch?timeout_ms=50", f.server.URL, uuid.New())
	res, err := http.Get(url)
	require.NoError(t, err)
	defer res.Body.Close()
	require.Equal(t, http.StatusRequestTimeout, res.StatusCode)
}

func TestWatchTreatsNegativeOffsetAsFutureOnly(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.Submit(context.Background(), service.SubmitRequest{
		UserID:  uuid.New(),
		Pickup:  &domain.GeoPoint{Lat: 40.70, Lng: -74.00},
		Dropoff: &domain.GeoPoint{Lat: 40.75, Lng: -73.98},
	})
	require.NoError(t, err)

	// a negative cursor must not replay retained history
	url := fmt.Sprintf("%s/v1/drivers/%s/watch?after=-5&timeout_ms=50", f.server.URL, uuid.New())
	res, err := http.Get(url)
	require.NoError(t, err)
	defer res.Body.Close()
	require.Equal(t, http.StatusRequestTimeout, res.StatusCode)
}

func TestWatchReplaysByOffset(t *testing.T) {
	f := newFixture(t)
	userID := uuid.New()
	booking, err := f.svc.Submit(context.Background(), service.SubmitRequest{
		UserID:  userID,
		Pickup:  &domain.GeoPoint{Lat: 40.70, Lng: -74.00},
		Dropoff: &domain.GeoPoint{Lat: 40.75, Lng: -73.98},
	})
	require.NoError(t, err)
	_, err = f.svc.Confirm(context.Background(), uuid.New(), booking.ID)
	require.NoError(t, err)

	url := fmt.Sprintf("%s/v1/users/%s/watch?after=0&timeout_ms=100", f.server.URL, userID)
	res, err := http.Get(url)
	require.NoError(t, err)
	defer res.Body.Close()
	require.Equal(t, http.StatusOK, res.StatusCode)

	var evt notify.Event
	require.NoError(t, json.NewDecoder(res.Body).Decode(&evt))
	require.Equal(t, notify.EventBookingConfirmed, evt.Type)
	require.Equal(t, booking.ID, evt.Booking.ID)
}
