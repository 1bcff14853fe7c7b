package domain

import "errors"

var (
	ErrNotFound            = errors.New("not found")
	ErrUnknownJob          = errors.New("unknown job")
	ErrInvalidState        = errors.New("invalid state")
	ErrProviderUnavailable = errors.New("provider unavailable")
	ErrProviderRejected    = errors.New("provider rejected")
	ErrRateLimited         = errors.New("rate limited")
	ErrUnrecognizedPayload = errors.New("unrecognized payload")
	ErrTimeout             = errors.New("timeout")
)
