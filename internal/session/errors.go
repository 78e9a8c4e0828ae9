package session

import "errors"

var (
	ErrSessionNotFound  = errors.New("session not found or expired")
	ErrStoreUnavailable = errors.New("session store unavailable")
)
