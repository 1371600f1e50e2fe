package protocol

import "errors"

var (
	// ErrTimeout is returned when a correlated request sees no reply
	// within its deadline.
	ErrTimeout = errors.New("request timed out")

	// ErrNoReceiver is returned when a message targets a context that is
	// not attached.
	ErrNoReceiver = errors.New("no receiving context")

	// ErrClosed is returned from operations on a torn-down component.
	ErrClosed = errors.New("closed")

	// ErrNotConnected is returned when an operation needs a live server
	// link and there is none.
	ErrNotConnected = errors.New("not connected to server")

	// ErrSessionNotFound is returned when the server no longer knows the
	// persisted session id.
	ErrSessionNotFound = errors.New("session not found")

	// ErrUnauthorized is returned when the server rejects our token.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrTokenExpired is returned when the stored token's expiry has
	// already passed.
	ErrTokenExpired = errors.New("auth token expired")
)
