package classifier

import "errors"

var (
	ErrEmptyText             = errors.New("classification text is empty")
	ErrAttemptsExhausted     = errors.New("classification attempts exhausted")
	ErrCapabilityUnavailable = errors.New("classification capability unavailable")
	ErrMalformedResult       = errors.New("malformed classification result")
)
