package session

import (
	"errors"

	"github.com/mwakai/touch-grass/internal/authapi"
)

var (
	// ErrNetworkFailure matches Identity Service transport failures and non-2xx answers.
	ErrNetworkFailure = authapi.ErrRequestFailed

	// ErrInvalidResponseShape is returned when a 2xx auth payload carries no
	// resolvable token or user record.
	ErrInvalidResponseShape = errors.New("invalid response from server")

	// ErrPersistenceUnavailable is returned by Restore when the credential
	// record could not be read. Nothing is cleared in that case.
	ErrPersistenceUnavailable = errors.New("persisted credentials unavailable")

	// ErrMalformedPersistedRecord is logged when the stored user record fails to parse.
	ErrMalformedPersistedRecord = errors.New("malformed persisted user record")
)
