package session

import "errors"

var (
	// ErrStoreUnavailable wraps any durable-store failure hit while loading or
	// seeding a session. In-memory state is left untouched when it is returned.
	ErrStoreUnavailable = errors.New("session store unavailable")

	ErrSessionNotFound = errors.New("session not found")

	// ErrSessionOwner is returned when a session id is presented by a user
	// other than the one that created it.
	ErrSessionOwner = errors.New("session belongs to another user")
)
