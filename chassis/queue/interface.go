package queue

import (
	"context"
	"fmt"
	"strings"
)

// Driver - closed set of supported broker backends
type Driver string

const (
	// SERVICEBUS - HTTP-polling queue with lock/complete/abandon semantics
	SERVICEBUS Driver = "servicebus"
	// REDISSTREAM - log-based stream with consumer groups
	REDISSTREAM Driver = "redis"
)

// ParseDriver maps a configured driver name (including the legacy aliases)
// onto a Driver. Unknown names return ErrUnknownDriver.
func ParseDriver(name string) (Driver, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "servicebus", "azure", "queue":
		return SERVICEBUS, nil
	case "redis", "stream":
		return REDISSTREAM, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownDriver, name)
}

// DriverConfig is implemented by every backend-specific config variant.
type DriverConfig interface {
	Driver() Driver
	Validate() error
}

// Delivery unified presentation for a received message
type Delivery interface {
	ID() string
	Body() interface{}
	Raw() []byte
	Decode(v interface{}) error
	Properties() map[string]interface{}
}

// Acknowledgeable is implemented by deliveries that can be settled explicitly.
type Acknowledgeable interface {
	Complete(ctx context.Context) error
	Abandon(ctx context.Context, reason string, properties map[string]interface{}) error
}

// Handler processes one delivery. A nil return acknowledges it.
type Handler func(ctx context.Context, delivery Delivery) error

// Broker interface for queue interaction.
//
// Publish reports success as a bool; backends differ in whether a failure is
// also returned as an error (servicebus) or only logged (redis).
// Subscribe blocks until ctx is cancelled or the broker cannot continue.
type Broker interface {
	Publish(ctx context.Context, topic string, message interface{}) (bool, error)
	Subscribe(ctx context.Context, topic string, handler Handler) error
}
