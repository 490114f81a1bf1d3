package models

import "errors"

// Failure categories shared by the HTTP handlers and the realtime channel.
// Handlers map these to status codes; the hub maps them to error events.
var (
	ErrInvalidRequest = errors.New("invalid request")
	ErrNotFound       = errors.New("not found")
	ErrRelayFailure   = errors.New("message relay failure")
)

// UnauthorizedError is returned by token verification with the reason the
// credential was refused. The reason is safe to surface to the caller.
type UnauthorizedError struct {
	Reason string
}

func (e *UnauthorizedError) Error() string {
	return "unauthorized: " + e.Reason
}

var (
	ErrMissingToken = &UnauthorizedError{Reason: "missing token"}
	ErrTokenExpired = &UnauthorizedError{Reason: "expired"}
	ErrTokenInvalid = &UnauthorizedError{Reason: "invalid"}
	ErrUnknownUser  = &UnauthorizedError{Reason: "unknown user"}
)

// AsUnauthorized unwraps err to an UnauthorizedError if one is in the chain.
func AsUnauthorized(err error) (*UnauthorizedError, bool) {
	var ue *UnauthorizedError
	if errors.As(err, &ue) {
		return ue, true
	}
	return nil, false
}
