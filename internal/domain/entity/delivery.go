package entity

import (
	"errors"
	"fmt"
	"time"
)

// ErrForbidden marks a destination that can no longer be reached (bot blocked, no permission)
var ErrForbidden = errors.New("destination forbidden")

// RateLimitError is returned when the provider asks to back off before retrying
type RateLimitError struct {
	RetryAfter time.Duration
	Err        error
}

func (e *RateLimitError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("rate limited, retry after %s: %v", e.RetryAfter, e.Err)
	}
	return fmt.Sprintf("rate limited, retry after %s", e.RetryAfter)
}

func (e *RateLimitError) Unwrap() error { return e.Err }

// DeliveryOutcome is the terminal state of a delivery attempt
type DeliveryOutcome string

const (
	DeliverySent    DeliveryOutcome = "sent"
	DeliveryDropped DeliveryOutcome = "dropped"
)
