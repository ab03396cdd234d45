package controlplane

import (
	"errors"
	"net/http"

	"github.com/fentz26/cadence/internal/schedule"
	"github.com/fentz26/cadence/internal/store"
)

// Sentinel errors for control plane operations.
var (
	ErrNotFound     = errors.New("resource not found")
	ErrBadRequest   = errors.New("bad request")
	ErrTickInFlight = errors.New("a tick is already in flight")
	ErrUnavailable  = errors.New("component not configured")
)

// statusFor maps an error to the HTTP status reported to clients.
func statusFor(err error) int {
	var cronErr *schedule.CronError
	switch {
	case errors.Is(err, ErrNotFound), errors.Is(err, store.ErrNotFound), errors.Is(err, schedule.ErrJobNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrBadRequest), errors.Is(err, schedule.ErrInvalidSchedule), errors.As(err, &cronErr):
		return http.StatusBadRequest
	case errors.Is(err, ErrTickInFlight):
		return http.StatusConflict
	case errors.Is(err, ErrUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
