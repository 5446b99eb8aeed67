// Package core holds the error taxonomy shared by every Aegis component.
package core

import (
	"errors"
	"net/http"
)

var (
	// ErrNotFound signals a missing POA, token, entry, or event.
	ErrNotFound = errors.New("not found")

	// ErrInvalidArgument signals a malformed or incomplete request.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrPolicyViolation signals a scope, limit, or expiry violation.
	ErrPolicyViolation = errors.New("policy violation")

	// ErrConflictState signals an illegal break-glass state transition.
	ErrConflictState = errors.New("conflict state")

	// ErrUnauthenticated signals a bad webhook signature or OTP mismatch.
	ErrUnauthenticated = errors.New("unauthenticated")

	// ErrCryptoFailure signals a key or cipher fault. Fatal to the operation.
	ErrCryptoFailure = errors.New("crypto failure")

	// ErrStorageFailure signals a persistence fault. Decisions fail closed.
	ErrStorageFailure = errors.New("storage failure")

	// ErrTimeout signals a deadline overrun on a latency-bounded path.
	ErrTimeout = errors.New("timeout")
)

// HTTPStatus maps an error to the status code the API layer responds with.
func HTTPStatus(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrInvalidArgument):
		return http.StatusBadRequest
	case errors.Is(err, ErrPolicyViolation):
		return http.StatusForbidden
	case errors.Is(err, ErrConflictState):
		return http.StatusConflict
	case errors.Is(err, ErrUnauthenticated):
		return http.StatusUnauthorized
	case errors.Is(err, ErrTimeout):
		return http.StatusGatewayTimeout
	case errors.Is(err, ErrStorageFailure):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
