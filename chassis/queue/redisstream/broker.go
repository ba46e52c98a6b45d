package redisstream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/freundallein/communicator/backend/chassis/metrics"
	"github.com/freundallein/communicator/backend/chassis/queue"
)

const (
	// PayloadField - stream entry field holding the JSON document
	PayloadField = "payload"
	// DefaultGroup - consumer group used when none is configured
	DefaultGroup = "default_group"

	backendLabel   = string(queue.REDISSTREAM)
	consumerPrefix = "consumer_"
)

// Commander is the subset of the go-redis client used by the broker.
// *redis.Client and *redis.ClusterClient satisfy it.
type Commander interface {
	XGroupCreateMkStream(ctx context.Context, stream, group, start string) *redis.StatusCmd
	XAdd(ctx context.Context, a *redis.XAddArgs) *redis.StringCmd
	XReadGroup(ctx context.Context, a *redis.XReadGroupArgs) *redis.XStreamSliceCmd
	XAck(ctx context.Context, stream, group string, ids ...string) *redis.IntCmd
	XAutoClaim(ctx context.Context, a *redis.XAutoClaimArgs) *redis.XAutoClaimCmd
}

// Config - consumer group settings
type Config struct {
	GroupName string `yaml:"groupName"`
	// ClaimIdle enables reclaiming entries left unacknowledged for at
	// least this long. Zero disables it.
	ClaimIdle time.Duration `yaml:"claimIdle"`
	// MaxLen approximately caps the stream length on publish. Zero disables it.
	MaxLen int64 `yaml:"maxLen"`
}

// Driver ...
func (c Config) Driver() queue.Driver {
	return queue.REDISSTREAM
}

// Validate ...
func (c Config) Validate() error {
	if c.ClaimIdle < 0 {
		return &queue.ConfigError{Key: "claim_idle", Reason: "must not be negative"}
	}
	if c.MaxLen < 0 {
		return &queue.ConfigError{Key: "max_len", Reason: "must not be negative"}
	}
	return nil
}

type options struct {
	poller  *queue.Poller
	metrics *metrics.Collectors
}

// Option configures a Broker.
type Option func(*options)

// WithPoller replaces the default subscribe timing.
func WithPoller(poller *queue.Poller) Option {
	return func(o *options) { o.poller = poller }
}

// WithMetrics ...
func WithMetrics(c *metrics.Collectors) Option {
	return func(o *options) { o.metrics = c }
}

// Broker - redis streams implementation of queue.Broker
type Broker struct {
	client  Commander
	cfg     Config
	logger  logrus.FieldLogger
	poller  *queue.Poller
	metrics *metrics.Collectors
}

// New builds a broker over an established connection. The caller owns the
// client's lifecycle.
func New(client Commander, cfg Config, logger logrus.FieldLogger, opts ...Option) (*Broker, error) {
	if client == nil {
		return nil, &queue.ConfigError{Key: "connection"}
	}
	if logger == nil {
		return nil, &queue.ConfigError{Key: "logger"}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.GroupName == "" {
		cfg.GroupName = DefaultGroup
	}
	o := &options{}
	for _, opt := range opts {
		opt(o)
	}
	if o.poller == nil {
		o.poller = queue.StreamPoller()
	}
	return &Broker{
		client:  client,
		cfg:     cfg,
		logger:  logger,
		poller:  o.poller,
		metrics: o.metrics,
	}, nil
}

// Group ...
func (b *Broker) Group() string {
	return b.cfg.GroupName
}

// Publish appends message to the stream. Failures are logged and reported
// as false, never as an error.
func (b *Broker) Publish(ctx context.Context, topic string, message interface{}) (bool, error) {
	ok := b.publish(ctx, topic, message)
	b.metrics.ObservePublish(backendLabel, topic, ok)
	return ok, nil
}

func (b *Broker) publish(ctx context.Context, topic string, message interface{}) bool {
	payload, err := json.Marshal(message)
	if err != nil {
		b.logger.WithFields(logrus.Fields{
			"event": "publish_failed",
			"topic": topic,
			"error": err.Error(),
		}).Error("redis stream publish error")
		return false
	}
	args := &redis.XAddArgs{
		Stream: topic,
		ID:     "*",
		Values: map[string]interface{}{PayloadField: string(payload)},
	}
	if b.cfg.MaxLen > 0 {
		args.MaxLen = b.cfg.MaxLen
		args.Approx = true
	}
	id, err := b.client.XAdd(ctx, args).Result()
	if err != nil {
		b.logger.WithFields(logrus.Fields{
			"event": "publish_failed",
			"topic": topic,
			"error": err.Error(),
		}).Error("redis stream publish error")
		return false
	}
	b.logger.WithFields(logrus.Fields{
		"event": "message_published",
		"topic": topic,
		"id":    id,
	}).Debug("message published")
	return true
}

// EnsureGroup creates the consumer group (and the stream) unless it exists.
func (b *Broker) EnsureGroup(ctx context.Context, topic string) error {
	err := b.client.XGroupCreateMkStream(ctx, topic, b.cfg.GroupName, "0").Err()
	if err != nil && !strings.HasPrefix(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("create consumer group %s on %s: %w", b.cfg.GroupName, topic, err)
	}
	return nil
}

// Subscribe reads entries one at a time for the group until ctx is
// cancelled. A handler returning nil acknowledges the entry; on error it
// stays pending and can be reclaimed once ClaimIdle has passed.
func (b *Broker) Subscribe(ctx context.Context, topic string, handler queue.Handler) error {
	if err := b.EnsureGroup(ctx, topic); err != nil {
		return err
	}
	b.logger.WithFields(logrus.Fields{
		"event": "subscription_started",
		"topic": topic,
		"group": b.cfg.GroupName,
	}).Info("starting subscription")
	for {
		if err := ctx.Err(); err != nil {
			b.stopped(topic)
			return err
		}
		delay := b.poller.Interval
		if err := b.poll(ctx, topic, handler); err != nil {
			if ctx.Err() != nil {
				b.stopped(topic)
				return ctx.Err()
			}
			b.logger.WithFields(logrus.Fields{
				"event": "subscription_error",
				"topic": topic,
				"group": b.cfg.GroupName,
				"error": err.Error(),
			}).Error("unexpected error in subscription")
			if b.poller.RetryDelay > delay {
				delay = b.poller.RetryDelay
			}
		}
		if delay <= 0 {
			continue
		}
		if err := b.poller.Wait(ctx, delay); err != nil {
			b.stopped(topic)
			return err
		}
	}
}

func (b *Broker) poll(ctx context.Context, topic string, handler queue.Handler) error {
	consumer := consumerPrefix + uuid.NewString()

	var entries []redis.XMessage
	if b.cfg.ClaimIdle > 0 {
		claimed, _, err := b.client.XAutoClaim(ctx, &redis.XAutoClaimArgs{
			Stream:   topic,
			Group:    b.cfg.GroupName,
			Consumer: consumer,
			MinIdle:  b.cfg.ClaimIdle,
			Start:    "0-0",
			Count:    1,
		}).Result()
		if err != nil && !errors.Is(err, redis.Nil) {
			b.metrics.ObserveError(backendLabel, topic, "claim")
			return fmt.Errorf("claim pending entries: %w", err)
		}
		entries = claimed
	}
	if len(entries) == 0 {
		// Block < 0 omits BLOCK: the read returns immediately.
		streams, err := b.client.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    b.cfg.GroupName,
			Consumer: consumer,
			Streams:  []string{topic, ">"},
			Count:    1,
			Block:    -1,
		}).Result()
		if err != nil && !errors.Is(err, redis.Nil) {
			b.metrics.ObserveError(backendLabel, topic, "read")
			return fmt.Errorf("read group: %w", err)
		}
		for _, stream := range streams {
			entries = append(entries, stream.Messages...)
		}
	}
	for _, entry := range entries {
		if err := b.deliver(ctx, topic, consumer, entry, handler); err != nil {
			return err
		}
	}
	return nil
}

func (b *Broker) deliver(ctx context.Context, topic, consumer string, entry redis.XMessage, handler queue.Handler) error {
	fields := logrus.Fields{
		"topic": topic,
		"group": b.cfg.GroupName,
		"id":    entry.ID,
	}
	record, err := newRecord(topic, b.cfg.GroupName, consumer, entry)
	if err != nil {
		fields["event"] = "malformed_entry"
		b.logger.WithFields(fields).Warn(err)
		return b.ack(ctx, topic, entry.ID)
	}
	b.metrics.ObserveReceive(backendLabel, topic)

	if err := invoke(ctx, handler, record); err != nil {
		fields["event"] = "processing_failed"
		fields["error"] = err.Error()
		b.logger.WithFields(fields).Error("error processing entry")
		b.metrics.ObserveError(backendLabel, topic, "handler")
		return nil
	}
	return b.ack(ctx, topic, entry.ID)
}

func (b *Broker) ack(ctx context.Context, topic, id string) error {
	if err := b.client.XAck(ctx, topic, b.cfg.GroupName, id).Err(); err != nil {
		b.metrics.ObserveError(backendLabel, topic, "ack")
		return fmt.Errorf("ack %s: %w", id, err)
	}
	b.metrics.ObserveSettle(backendLabel, topic, "ack")
	return nil
}

func (b *Broker) stopped(topic string) {
	b.logger.WithFields(logrus.Fields{
		"event": "subscription_stopped",
		"topic": topic,
	}).Info("context canceled, stopping subscription")
}

func invoke(ctx context.Context, handler queue.Handler, delivery queue.Delivery) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return handler(ctx, delivery)
}
