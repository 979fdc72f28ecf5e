package webhook

import "errors"

var (
	// ErrUnauthorized indicates missing or wrong service hook credentials.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrInvalidPayload indicates a body that does not match the event schema.
	ErrInvalidPayload = errors.New("invalid payload")
)
