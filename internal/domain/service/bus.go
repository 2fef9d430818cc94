package service

import (
	"context"
	"time"

	"reminder-service/internal/domain/entity"
)

// FireTopic is the bus topic carrying delivery requests
const FireTopic = "reminder.fire"

// Publisher sends delivery requests to the bus. Events sharing a key keep their relative order.
type Publisher interface {
	Publish(ctx context.Context, key string, event *entity.FireEvent) error
	Close() error
}

// Delivery is a received event awaiting acknowledgement
type Delivery struct {
	ID    string
	Key   string
	Event *entity.FireEvent

	// Ack acknowledges consumption; the event will not be redelivered afterwards
	Ack func(ctx context.Context) error
}

// Consumer receives delivery requests one at a time, in order
type Consumer interface {
	Fetch(ctx context.Context) (*Delivery, error)
	Close() error
}

// Messenger is the outbound messaging API.
// Implementations report provider throttling as *entity.RateLimitError and
// unreachable destinations as entity.ErrForbidden.
type Messenger interface {
	Send(ctx context.Context, msg *entity.Message) error
}

// ThrottleState stores the last successful send per destination
type ThrottleState interface {
	LastSent(ctx context.Context, chatID int64) (time.Time, bool, error)
	SetLastSent(ctx context.Context, chatID int64, at time.Time) error
}
