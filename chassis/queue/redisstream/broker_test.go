package redisstream

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/freundallein/communicator/backend/chassis/metrics"
	"github.com/freundallein/communicator/backend/chassis/queue"
)

func stopAfter(n int, cancel context.CancelFunc, slept *[]time.Duration) *queue.Poller {
	p := queue.StreamPoller()
	p.Sleep = func(ctx context.Context, d time.Duration) error {
		*slept = append(*slept, d)
		if len(*slept) >= n {
			cancel()
			return ctx.Err()
		}
		return nil
	}
	return p
}

func newTestBroker(t *testing.T, client Commander, cfg Config, opts ...Option) (*Broker, *logtest.Hook) {
	t.Helper()
	logger, hook := logtest.NewNullLogger()
	b, err := New(client, cfg, logger, opts...)
	require.NoError(t, err)
	return b, hook
}

func eventCount(hook *logtest.Hook, event string) int {
	n := 0
	for _, e := range hook.AllEntries() {
		if e.Data["event"] == event {
			n++
		}
	}
	return n
}

func TestNew(t *testing.T) {
	logger, _ := logtest.NewNullLogger()

	_, err := New(nil, Config{}, logger)
	var cfgErr *queue.ConfigError
	require.True(t, errors.As(err, &cfgErr))
	assert.Equal(t, "connection", cfgErr.Key)

	_, err = New(newFakeRedis(), Config{}, nil)
	require.True(t, errors.As(err, &cfgErr))
	assert.Equal(t, "logger", cfgErr.Key)

	_, err = New(newFakeRedis(), Config{ClaimIdle: -time.Second}, logger)
	assert.Error(t, err)

	b, err := New(newFakeRedis(), Config{}, logger)
	require.NoError(t, err)
	assert.Equal(t, DefaultGroup, b.Group())
	assert.Equal(t, queue.REDISSTREAM, Config{}.Driver())
}

func TestPublishAndReceiveRoundTrip(t *testing.T) {
	rdb := newFakeRedis()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	var slept []time.Duration
	b, _ := newTestBroker(t, rdb, Config{GroupName: "workers"}, WithPoller(stopAfter(1, cancel, &slept)))

	ok, err := b.Publish(ctx, "t", map[string]interface{}{"a": 1})
	require.NoError(t, err)
	assert.True(t, ok)
	require.Len(t, rdb.streams["t"], 1)
	assert.Equal(t, `{"a":1}`, rdb.streams["t"][0].Values[PayloadField])

	var got []interface{}
	err = b.Subscribe(ctx, "t", func(_ context.Context, d queue.Delivery) error {
		got = append(got, d.Body())
		assert.Equal(t, "workers", d.Properties()["group"])
		return nil
	})
	assert.ErrorIs(t, err, context.Canceled)
	require.Len(t, got, 1)
	assert.Equal(t, map[string]interface{}{"a": float64(1)}, got[0])
	assert.Equal(t, []string{"1-0"}, rdb.acked)
	assert.Equal(t, []time.Duration{queue.StreamInterval}, slept)
}

func TestPublishFailureIsLoggedNotReturned(t *testing.T) {
	rdb := newFakeRedis()
	rdb.addErr = errors.New("connection reset")
	reg := prometheus.NewRegistry()
	collectors, err := metrics.New(reg)
	require.NoError(t, err)
	b, hook := newTestBroker(t, rdb, Config{}, WithMetrics(collectors))

	ok, err := b.Publish(context.Background(), "t", map[string]interface{}{"a": 1})
	assert.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, 1, eventCount(hook, "publish_failed"))

	ok, err = b.Publish(context.Background(), "t", make(chan int))
	assert.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, 2, eventCount(hook, "publish_failed"))
	assert.Equal(t, 2.0, testutil.ToFloat64(collectors.Published.WithLabelValues("redis", "t", "failure")))
}

func TestAcknowledgedEntriesAreNotRedelivered(t *testing.T) {
	rdb := newFakeRedis()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	var slept []time.Duration
	b, _ := newTestBroker(t, rdb, Config{ClaimIdle: time.Minute}, WithPoller(stopAfter(4, cancel, &slept)))

	_, err := b.Publish(ctx, "t", map[string]interface{}{"n": 1})
	require.NoError(t, err)
	_, err = b.Publish(ctx, "t", map[string]interface{}{"n": 2})
	require.NoError(t, err)

	seen := map[string]int{}
	err = b.Subscribe(ctx, "t", func(_ context.Context, d queue.Delivery) error {
		seen[d.ID()]++
		return nil
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, map[string]int{"1-0": 1, "2-0": 1}, seen)
	assert.Zero(t, rdb.pending("t", DefaultGroup))
	assert.Len(t, slept, 4, "sleeps after every iteration, empty or not")
}

func TestFreshConsumerNamePerPoll(t *testing.T) {
	rdb := newFakeRedis()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	var slept []time.Duration
	b, _ := newTestBroker(t, rdb, Config{}, WithPoller(stopAfter(3, cancel, &slept)))

	err := b.Subscribe(ctx, "t", func(context.Context, queue.Delivery) error { return nil })
	assert.ErrorIs(t, err, context.Canceled)
	require.Len(t, rdb.consumers, 3)
	unique := map[string]bool{}
	for _, c := range rdb.consumers {
		assert.True(t, strings.HasPrefix(c, "consumer_"))
		unique[c] = true
	}
	assert.Len(t, unique, 3)
}

func TestExistingGroupIsTolerated(t *testing.T) {
	rdb := newFakeRedis()
	b, _ := newTestBroker(t, rdb, Config{GroupName: "g"})
	ctx := context.Background()

	require.NoError(t, b.EnsureGroup(ctx, "t"))
	require.NoError(t, b.EnsureGroup(ctx, "t"))

	rdb.createErr = errors.New("WRONGTYPE Operation against a key holding the wrong kind of value")
	err := b.EnsureGroup(ctx, "t")
	assert.ErrorContains(t, err, "WRONGTYPE")

	err = b.Subscribe(ctx, "t", func(context.Context, queue.Delivery) error { return nil })
	assert.ErrorContains(t, err, "WRONGTYPE")
}

func TestHandlerErrorLeavesEntryPending(t *testing.T) {
	rdb := newFakeRedis()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	var slept []time.Duration
	b, hook := newTestBroker(t, rdb, Config{}, WithPoller(stopAfter(2, cancel, &slept)))
	_, err := b.Publish(ctx, "t", "job")
	require.NoError(t, err)

	calls := 0
	err = b.Subscribe(ctx, "t", func(context.Context, queue.Delivery) error {
		calls++
		return errors.New("boom")
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)
	assert.Empty(t, rdb.acked)
	assert.Equal(t, 1, rdb.pending("t", DefaultGroup))
	assert.Equal(t, 1, eventCount(hook, "processing_failed"))
	assert.Equal(t, []time.Duration{queue.StreamInterval, queue.StreamInterval}, slept)
}

func TestPendingEntryIsReclaimed(t *testing.T) {
	rdb := newFakeRedis()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	var slept []time.Duration
	b, _ := newTestBroker(t, rdb, Config{ClaimIdle: time.Second}, WithPoller(stopAfter(3, cancel, &slept)))
	_, err := b.Publish(ctx, "t", "job")
	require.NoError(t, err)

	calls := 0
	err = b.Subscribe(ctx, "t", func(context.Context, queue.Delivery) error {
		calls++
		if calls == 1 {
			return errors.New("transient")
		}
		return nil
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 2, calls)
	assert.Equal(t, []string{"1-0"}, rdb.acked)
	assert.Zero(t, rdb.pending("t", DefaultGroup))
}

func TestReadErrorBacksOff(t *testing.T) {
	rdb := newFakeRedis()
	rdb.readErrs = []error{errors.New("i/o timeout")}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	var slept []time.Duration
	b, hook := newTestBroker(t, rdb, Config{}, WithPoller(stopAfter(2, cancel, &slept)))

	err := b.Subscribe(ctx, "t", func(context.Context, queue.Delivery) error { return nil })
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, []time.Duration{queue.RetryDelay, queue.StreamInterval}, slept)
	assert.Equal(t, 1, eventCount(hook, "subscription_error"))
}

func TestAckErrorBacksOff(t *testing.T) {
	rdb := newFakeRedis()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	var slept []time.Duration
	b, hook := newTestBroker(t, rdb, Config{}, WithPoller(stopAfter(1, cancel, &slept)))
	_, err := b.Publish(ctx, "t", "job")
	require.NoError(t, err)
	rdb.ackErr = errors.New("READONLY")

	err = b.Subscribe(ctx, "t", func(context.Context, queue.Delivery) error { return nil })
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, []time.Duration{queue.RetryDelay}, slept)
	assert.Equal(t, 1, eventCount(hook, "subscription_error"))
}

func TestMalformedEntryIsAcknowledged(t *testing.T) {
	rdb := newFakeRedis()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	var slept []time.Duration
	b, hook := newTestBroker(t, rdb, Config{}, WithPoller(stopAfter(1, cancel, &slept)))
	require.NoError(t, b.EnsureGroup(ctx, "t"))
	rdb.streams["t"] = append(rdb.streams["t"], redisMessage("9-0", map[string]interface{}{PayloadField: "{not json"}))

	err := b.Subscribe(ctx, "t", func(context.Context, queue.Delivery) error {
		t.Fatal("handler must not see malformed entries")
		return nil
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, []string{"9-0"}, rdb.acked)
	assert.Equal(t, 1, eventCount(hook, "malformed_entry"))
}
