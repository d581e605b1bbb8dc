package domain

import "errors"

// Sentinel errors shared across the engine. Callers classify failures with
// errors.Is: not-found maps to a 404-equivalent and is never retried,
// validation failures are rejected before any write.
var (
	ErrUserNotFound      = errors.New("user not found")
	ErrCommunityNotFound = errors.New("community not found")
	ErrLoanNotFound      = errors.New("loan not found")
	ErrValidation        = errors.New("validation failed")
)
