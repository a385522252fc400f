package store

import (
	"errors"
	"fmt"
	"math"
	"time"

	"qms/token-service/internal/models"
)

var (
	ErrInvalidPhoneNumber         = errors.New("invalid phone number")
	ErrRateLimited                = errors.New("rate limited")
	ErrDuplicateActiveToken       = errors.New("duplicate active token")
	ErrIllegalTransition          = errors.New("illegal transition")
	ErrCapacityExceeded           = errors.New("capacity exceeded")
	ErrInternalInvariantViolation = errors.New("internal invariant violation")
	ErrTokenNotFound              = errors.New("token not found")
	ErrUnknownQueue               = errors.New("unknown queue")
)

// Error kinds as exposed to callers. They are part of the transport contract
// and must not be renamed.
const (
	KindInvalidPhoneNumber         = "InvalidPhoneNumber"
	KindRateLimited                = "RateLimited"
	KindDuplicateActiveToken       = "DuplicateActiveToken"
	KindIllegalTransition          = "IllegalTransition"
	KindCapacityExceeded           = "CapacityExceeded"
	KindInternalInvariantViolation = "InternalInvariantViolation"
	KindUnknownQueue               = "UnknownQueue"
)

// Kind returns the error kind for err, or "" when err is not a domain error.
func Kind(err error) string {
	switch {
	case errors.Is(err, ErrInvalidPhoneNumber):
		return KindInvalidPhoneNumber
	case errors.Is(err, ErrRateLimited):
		return KindRateLimited
	case errors.Is(err, ErrDuplicateActiveToken):
		return KindDuplicateActiveToken
	case errors.Is(err, ErrIllegalTransition):
		return KindIllegalTransition
	case errors.Is(err, ErrCapacityExceeded):
		return KindCapacityExceeded
	case errors.Is(err, ErrInternalInvariantViolation):
		return KindInternalInvariantViolation
	case errors.Is(err, ErrUnknownQueue):
		return KindUnknownQueue
	default:
		return ""
	}
}

type RateLimitedError struct {
	Phone      string
	RetryAfter time.Duration
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("rate limited: retry after %ds", e.RetryAfterSeconds())
}

func (e *RateLimitedError) Unwrap() error { return ErrRateLimited }

// RetryAfterSeconds rounds up so a client that waits the advertised time is
// never rejected again.
func (e *RateLimitedError) RetryAfterSeconds() int {
	return int(math.Ceil(e.RetryAfter.Seconds()))
}

type DuplicateActiveTokenError struct {
	Existing models.Token
}

func (e *DuplicateActiveTokenError) Error() string {
	return fmt.Sprintf("duplicate active token: %s", e.Existing.TokenID)
}

func (e *DuplicateActiveTokenError) Unwrap() error { return ErrDuplicateActiveToken }

type IllegalTransitionError struct {
	From string
	To   string
}

func (e *IllegalTransitionError) Error() string {
	return fmt.Sprintf("illegal transition: %s -> %s", e.From, e.To)
}

func (e *IllegalTransitionError) Unwrap() error { return ErrIllegalTransition }

type InvariantViolationError struct {
	TokenID string
	Detail  string
}

func (e *InvariantViolationError) Error() string {
	return fmt.Sprintf("internal invariant violation: %s (token %s)", e.Detail, e.TokenID)
}

func (e *InvariantViolationError) Unwrap() error { return ErrInternalInvariantViolation }
