package middleware_test

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	mw "github.com/example/ridedispatch/internal/http/middleware"
)

func newLimited(t *testing.T, read, write mw.RateConfig) http.Handler {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	limiter := mw.NewRateLimiter(client, read, write)
	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	return limiter.Middleware(ok)
}

func doRequest(h http.Handler, method, clientID string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, "/v1/bookings", nil)
	req.Header.Set("X-Client-ID", clientID)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestRateLimiterExhaustsWriteBudget(t *testing.T) {
	h := newLimited(t, mw.RateConfig{Rate: 100, Burst: 100}, mw.RateConfig{Rate: 1, Burst: 2})

	require.Equal(t, http.StatusOK, doRequest(h, http.MethodPost, "client-a").Code)
	require.Equal(t, http.StatusOK, doRequest(h, http.MethodPost, "client-a").Code)

	rec := doRequest(h, http.MethodPost, "client-a")
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	require.NotEmpty(t, rec.Header().Get("Retry-After"))
}

func TestRateLimiterBudgetsPerClient(t *testing.T) {
	h := newLimited(t, mw.RateConfig{Rate: 100, Burst: 100}, mw.RateConfig{Rate: 1, Burst: 1})

	require.Equal(t, http.StatusOK, doRequest(h, http.MethodPost, "client-a").Code)
	require.Equal(t, http.StatusTooManyRequests, doRequest(h, http.MethodPost, "client-a").Code)
	require.Equal(t, http.StatusOK, doRequest(h, http.MethodPost, "client-b").Code)
}

func TestRateLimiterReadsUseSeparateBudget(t *testing.T) {
	h := newLimited(t, mw.RateConfig{Rate: 100, Burst: 100}, mw.RateConfig{Rate: 1, Burst: 1})

	require.Equal(t, http.StatusOK, doRequest(h, http.MethodPost, "client-a").Code)
	require.Equal(t, http.StatusTooManyRequests, doRequest(h, http.MethodPost, "client-a").Code)
	// the read budget is untouched
	require.Equal(t, http.StatusOK, doRequest(h, http.MethodGet, "client-a").Code)
}

func TestRateLimiterNilClientDisables(t *testing.T) {
	limiter := mw.NewRateLimiter(nil, mw.RateConfig{Rate: 1, Burst: 1}, mw.RateConfig{Rate: 1, Burst: 1})
	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })
	h := limiter.Middleware(ok)
	rec := doRequest(h, http.MethodPost, "client-a")
	require.Equal(t, http.StatusOK, rec.Code)
}
