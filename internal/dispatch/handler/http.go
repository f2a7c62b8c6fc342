package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/example/ridedispatch/internal/dispatch/domain"
	"github.com/example/ridedispatch/internal/dispatch/matching"
	"github.com/example/ridedispatch/internal/dispatch/notify"
	"github.com/example/ridedispatch/internal/dispatch/service"
)

const defaultWatchTimeout = 25 * time.Second

// HTTP exposes the dispatch endpoints.
type HTTP struct {
	svc     *service.Service
	matcher *matching.Matcher
}

// NewHTTP constructs a handler.
func NewHTTP(svc *service.Service, matcher *matching.Matcher) *HTTP {
	return &HTTP{svc: svc, matcher: matcher}
}

// Router builds the chi router with all endpoints and middlewares.
func (h *HTTP) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, middleware.Logger, middleware.Recoverer)
	r.Post("/v1/bookings", h.submitBooking)
	r.Get("/v1/bookings/{id}", h.getBooking)
	r.Post("/v1/bookings/{id}/confirm", h.confirmBooking)
	r.Post("/v1/bookings/confirm", h.confirmByRequest)
	r.Post("/v1/bookings/cancel", h.cancelBooking)
	r.Get("/v1/drivers/{id}/requests", h.listNearby)
	r.Get("/v1/drivers/{id}/watch", h.watchPending)
	r.Get("/v1/users/{id}/watch", h.watchConfirmation)
	return r
}

type geoPayload struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

type submitRequest struct {
	UserID  string      `json:"user_id"`
	Pickup  *geoPayload `json:"pickup"`
	Dropoff *geoPayload `json:"dropoff"`
	Price   *float64    `json:"price,omitempty"`
}

func (h *HTTP) submitBooking(w http.ResponseWriter, r *http.Request) {
	var payload submitRequest
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	userID, err := uuid.Parse(payload.UserID)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid user_id")
		return
	}

	booking, err := h.svc.Submit(r.Context(), service.SubmitRequest{
		UserID:  userID,
		Pickup:  toGeoPoint(payload.Pickup),
		Dropoff: toGeoPoint(payload.Dropoff),
		Price:   payload.Price,
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, booking)
}

func (h *HTTP) getBooking(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid id")
		return
	}
	booking, err := h.svc.Get(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, booking)
}

func (h *HTTP) confirmBooking(w http.ResponseWriter, r *http.Request) {
	bookingID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid id")
		return
	}
	var payload struct {
		DriverID string `json:"driver_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	driverID, err := uuid.Parse(payload.DriverID)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid driver_id")
		return
	}

	booking, err := h.svc.Confirm(r.Context(), driverID, bookingID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, booking)
}

func (h *HTTP) confirmByRequest(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		DriverID string      `json:"driver_id"`
		UserID   string      `json:"user_id"`
		Pickup   *geoPayload `json:"pickup"`
		Dropoff  *geoPayload `json:"dropoff"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	driverID, err := uuid.Parse(payload.DriverID)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid driver_id")
		return
	}
	userID, err := uuid.Parse(payload.UserID)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid user_id")
		return
	}
	if payload.Pickup == nil || payload.Dropoff == nil {
		writeError(w, http.StatusBadRequest, "pickup and dropoff are required")
		return
	}

	booking, err := h.svc.ConfirmRequest(r.Context(), driverID, userID,
		domain.GeoPoint(*payload.Pickup), domain.GeoPoint(*payload.Dropoff))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, booking)
}

func (h *HTTP) cancelBooking(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		UserID string `json:"user_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	userID, err := uuid.Parse(payload.UserID)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid user_id")
		return
	}

	booking, err := h.svc.Cancel(r.Context(), userID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, booking)
}

func (h *HTTP) listNearby(w http.ResponseWriter, r *http.Request) {
	driverID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid id")
		return
	}
	requests, err := h.matcher.NearbyRequests(r.Context(), driverID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"requests": requests})
}

func (h *HTTP) watchPending(w http.ResponseWriter, r *http.Request) {
	if _, err := uuid.Parse(chi.URLParam(r, "id")); err != nil {
		writeError(w, http.StatusBadRequest, "invalid id")
		return
	}
	after, timeout := watchParams(r)
	evt, err := h.svc.WatchPending(r.Context(), after, timeout)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, evt)
}

func (h *HTTP) watchConfirmation(w http.ResponseWriter, r *http.Request) {
	userID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid id")
		return
	}
	after, timeout := watchParams(r)
	evt, err := h.svc.WatchConfirmation(r.Context(), userID, after, timeout)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, evt)
}

// watchParams reads the resume offset and timeout. A missing or negative
// offset means "future events only"; clients pass their last-seen offset to
// resume without loss.
func watchParams(r *http.Request) (int64, time.Duration) {
	after := notify.FromNow
	if raw := r.URL.Query().Get("after"); raw != "" {
		if parsed, err := strconv.ParseInt(raw, 10, 64); err == nil && parsed >= 0 {
			after = parsed
		}
	}
	timeout := defaultWatchTimeout
	if raw := r.URL.Query().Get("timeout_ms"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			timeout = time.Duration(parsed) * time.Millisecond
		}
	}
	return after, timeout
}

func writeDomainError(w http.ResponseWriter, err error) {
	writeError(w, statusFor(err), err.Error())
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrValidation), errors.Is(err, domain.ErrPrecondition):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, domain.ErrTimeout):
		return http.StatusRequestTimeout
	case errors.Is(err, domain.ErrStorage):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func toGeoPoint(p *geoPayload) *domain.GeoPoint {
	if p == nil {
		return nil
	}
	return &domain.GeoPoint{Lat: p.Lat, Lng: p.Lng}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
