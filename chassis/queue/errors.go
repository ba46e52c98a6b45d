package queue

import (
	"errors"
	"fmt"
)

var (
	// ErrUnknownDriver - driver name does not match any backend
	ErrUnknownDriver = errors.New("unsupported driver")
	// ErrAlreadySettled - message was already completed or abandoned
	ErrAlreadySettled = errors.New("message already settled")
)

// ConfigError - missing or invalid construction settings. Never retried.
type ConfigError struct {
	Key    string
	Reason string
}

func (e *ConfigError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("missing required configuration key: %s", e.Key)
	}
	return fmt.Sprintf("invalid configuration key %s: %s", e.Key, e.Reason)
}

// BrokerError - transport failure or unexpected status code
type BrokerError struct {
	Op     string
	Queue  string
	Status int
	Err    error
}

func (e *BrokerError) Error() string {
	msg := fmt.Sprintf("failed to %s message", e.Op)
	if e.Queue != "" {
		msg += fmt.Sprintf(" (queue=%s)", e.Queue)
	}
	if e.Status != 0 {
		msg += fmt.Sprintf(". Status code: %d", e.Status)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *BrokerError) Unwrap() error {
	return e.Err
}
