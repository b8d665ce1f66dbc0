package reservation

import (
	"errors"
	"fmt"
	"net/http"
)

// Failure is a reservation outcome the caller is expected to handle. It
// carries enough detail for transports to map it without inspecting text.
type Failure struct {
	Code       string
	Detail     string
	HTTPStatus int
	RetryAfter int64 // seconds
}

func (f Failure) Error() string {
	if f.Detail != "" {
		return fmt.Sprintf("%s: %s", f.Code, f.Detail)
	}
	return f.Code
}

// Is matches failures by code so callers can compare against the sentinels
// regardless of detail.
func (f Failure) Is(target error) bool {
	var other Failure
	if !errors.As(target, &other) {
		return false
	}
	return other.Code == f.Code
}

// WithDetail returns a copy of f carrying detail.
func (f Failure) WithDetail(format string, args ...any) Failure {
	f.Detail = fmt.Sprintf(format, args...)
	return f
}

var (
	// ErrInvalidRange is returned when check-out is not after check-in.
	ErrInvalidRange = Failure{Code: "invalid_range", Detail: "check-out must be after check-in", HTTPStatus: http.StatusBadRequest}
	// ErrIncompleteProvisioning is returned when a night in range has no
	// availability row.
	ErrIncompleteProvisioning = Failure{Code: "incomplete_provisioning", Detail: "Requested dates are outside of valid range", HTTPStatus: http.StatusBadRequest}
	// ErrUnavailable is returned when some night in range has no free unit.
	ErrUnavailable = Failure{Code: "unavailable", Detail: "room is not available for the requested dates", HTTPStatus: http.StatusConflict}
	// ErrInvalidRequest is returned for missing requester or target ids.
	ErrInvalidRequest = Failure{Code: "invalid_request", HTTPStatus: http.StatusBadRequest}
	// ErrBookingNotFound is returned when the booking does not exist or is
	// owned by someone else.
	ErrBookingNotFound = Failure{Code: "not_found", Detail: "booking not found", HTTPStatus: http.StatusNotFound}
	// ErrRoomNotFound is returned by room lookups.
	ErrRoomNotFound = Failure{Code: "not_found", Detail: "room not found", HTTPStatus: http.StatusNotFound}
	// ErrAlreadyCancelled is returned when cancelling a cancelled booking.
	ErrAlreadyCancelled = Failure{Code: "already_cancelled", Detail: "booking is already cancelled", HTTPStatus: http.StatusConflict}
	// ErrLockTimeout is returned when the configured lock wait elapses. It is
	// an infrastructure condition and safe to retry.
	ErrLockTimeout = Failure{Code: "lock_wait_timeout", Detail: "timed out waiting for availability lock", HTTPStatus: http.StatusServiceUnavailable, RetryAfter: 1}
)

// AsFailure extracts a Failure from err.
func AsFailure(err error) (Failure, bool) {
	var f Failure
	if errors.As(err, &f) {
		return f, true
	}
	return Failure{}, false
}
