package queue

import (
	"context"
	"time"
)

const (
	// EmptyQueueDelay - pause after a receive that returned nothing
	EmptyQueueDelay = time.Second
	// RetryDelay - pause after a failed iteration
	RetryDelay = 5 * time.Second
	// StreamInterval - pause between stream polls
	StreamInterval = 100 * time.Millisecond
)

// Poller holds the timing policy of a subscribe loop.
type Poller struct {
	// Interval is slept after every iteration.
	Interval time.Duration
	// EmptyDelay is slept when a poll returned no message.
	EmptyDelay time.Duration
	// RetryDelay is slept after an error escaped an iteration.
	RetryDelay time.Duration
	// Sleep overrides the timer based wait, mostly for tests.
	Sleep func(ctx context.Context, d time.Duration) error
}

// QueuePoller - servicebus defaults: sleep only on empty, back off on error
func QueuePoller() *Poller {
	return &Poller{
		EmptyDelay: EmptyQueueDelay,
		RetryDelay: RetryDelay,
	}
}

// StreamPoller - redis defaults: fixed pause every iteration
func StreamPoller() *Poller {
	return &Poller{
		Interval:   StreamInterval,
		RetryDelay: RetryDelay,
	}
}

// Wait pauses for d or until ctx is done, whichever comes first.
func (p *Poller) Wait(ctx context.Context, d time.Duration) error {
	if p != nil && p.Sleep != nil {
		return p.Sleep(ctx, d)
	}
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
