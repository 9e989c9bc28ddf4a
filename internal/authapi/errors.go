package authapi

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrRequestFailed matches every failure to obtain a 2xx response from the
// Identity Service, whether the transport failed or the service refused.
var ErrRequestFailed = errors.New("identity service request failed")

// HTTPError is a non-2xx answer from the Identity Service.
type HTTPError struct {
	StatusCode int
	// Message is the service's "message" field, or the raw body when the
	// response was not JSON.
	Message string
}

func (e *HTTPError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return fmt.Sprintf("HTTP error! status: %d", e.StatusCode)
}

// Is lets errors.Is(err, ErrRequestFailed) match service refusals.
func (e *HTTPError) Is(target error) bool {
	return target == ErrRequestFailed
}

// IsUnauthorized reports whether err is the service rejecting the credential.
func IsUnauthorized(err error) bool {
	var httpErr *HTTPError
	if !errors.As(err, &httpErr) {
		return false
	}
	return httpErr.StatusCode == http.StatusUnauthorized || httpErr.StatusCode == http.StatusForbidden
}

// StatusCode returns the HTTP status carried by err, or 0 for transport failures.
func StatusCode(err error) int {
	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.StatusCode
	}
	return 0
}
