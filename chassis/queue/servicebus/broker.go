package servicebus

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/freundallein/communicator/backend/chassis/metrics"
	"github.com/freundallein/communicator/backend/chassis/queue"
)

// PropertiesHeader carries the JSON encoded broker metadata of a delivery.
const PropertiesHeader = "BrokerProperties"

type options struct {
	client  *http.Client
	clock   func() time.Time
	poller  *queue.Poller
	metrics *metrics.Collectors
}

// Option configures a Broker.
type Option func(*options)

// WithHTTPClient replaces the default client (30s timeout).
func WithHTTPClient(client *http.Client) Option {
	return func(o *options) { o.client = client }
}

// WithClock replaces time.Now for token expiry checks.
func WithClock(clock func() time.Time) Option {
	return func(o *options) { o.clock = clock }
}

// WithPoller replaces the default subscribe timing.
func WithPoller(poller *queue.Poller) Option {
	return func(o *options) { o.poller = poller }
}

// WithMetrics ...
func WithMetrics(c *metrics.Collectors) Option {
	return func(o *options) { o.metrics = c }
}

// Broker - servicebus implementation of queue.Broker
type Broker struct {
	transport *transport
	logger    logrus.FieldLogger
	poller    *queue.Poller
	metrics   *metrics.Collectors
}

// New validates cfg and builds a broker. logger is required.
func New(cfg Config, logger logrus.FieldLogger, opts ...Option) (*Broker, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		return nil, &queue.ConfigError{Key: "logger"}
	}
	o := &options{}
	for _, opt := range opts {
		opt(o)
	}
	if o.client == nil {
		o.client = &http.Client{Timeout: cfg.timeout()}
	}
	if o.poller == nil {
		o.poller = queue.QueuePoller()
	}
	baseURL := strings.TrimRight(cfg.Endpoint, "/")
	return &Broker{
		transport: &transport{
			client:  o.client,
			baseURL: baseURL,
			tokens:  NewTokenProvider(cfg.Endpoint, cfg.SharedAccessKeyName, cfg.SharedAccessKey, o.clock),
		},
		logger:  logger,
		poller:  o.poller,
		metrics: o.metrics,
	}, nil
}

// Publish sends message as JSON. Only a 201 counts as success.
func (b *Broker) Publish(ctx context.Context, queueName string, message interface{}) (bool, error) {
	ok, err := b.publish(ctx, queueName, message)
	b.metrics.ObservePublish(backendLabel, queueName, ok)
	return ok, err
}

func (b *Broker) publish(ctx context.Context, queueName string, message interface{}) (bool, error) {
	payload, err := json.Marshal(message)
	if err != nil {
		return false, &queue.BrokerError{Op: "publish", Queue: queueName, Err: err}
	}
	resp, _, err := b.transport.do(ctx, http.MethodPost, queueName, "messages", json.RawMessage(payload))
	if err != nil {
		return false, &queue.BrokerError{Op: "publish", Queue: queueName, Err: err}
	}
	if resp.StatusCode != http.StatusCreated {
		return false, &queue.BrokerError{Op: "publish", Queue: queueName, Status: resp.StatusCode}
	}
	b.logger.WithFields(logrus.Fields{
		"event": "message_published",
		"queue": queueName,
	}).Debug("message published")
	return true, nil
}

// Receive locks the head of the queue. It returns nil, nil when the queue is empty.
func (b *Broker) Receive(ctx context.Context, queueName string) (*Message, error) {
	resp, raw, err := b.transport.do(ctx, http.MethodPost, queueName, "messages/head", nil)
	if err != nil {
		return nil, &queue.BrokerError{Op: "receive", Queue: queueName, Err: err}
	}
	if resp.StatusCode == http.StatusNoContent {
		return nil, nil
	}
	if resp.StatusCode != http.StatusCreated {
		return nil, &queue.BrokerError{Op: "receive", Queue: queueName, Status: resp.StatusCode}
	}

	properties := map[string]interface{}{}
	if header := resp.Header.Get(PropertiesHeader); header != "" {
		if err := json.Unmarshal([]byte(header), &properties); err != nil {
			return nil, &queue.BrokerError{Op: "receive", Queue: queueName, Err: fmt.Errorf("decode %s header: %w", PropertiesHeader, err)}
		}
	}
	lockToken, _ := properties["LockToken"].(string)
	if lockToken == "" {
		return nil, &queue.BrokerError{Op: "receive", Queue: queueName, Err: fmt.Errorf("received message without lock token")}
	}
	messageID, _ := properties["MessageId"].(string)
	if messageID == "" {
		return nil, &queue.BrokerError{Op: "receive", Queue: queueName, Err: fmt.Errorf("received message without MessageId")}
	}

	var body interface{}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &body); err != nil {
			b.logger.WithFields(logrus.Fields{
				"event":     "malformed_body",
				"queue":     queueName,
				"messageId": messageID,
			}).Warn(err)
			body = nil
		}
	}
	b.metrics.ObserveReceive(backendLabel, queueName)
	return &Message{
		transport:  b.transport,
		logger:     b.logger,
		metrics:    b.metrics,
		queueName:  queueName,
		messageID:  messageID,
		lockToken:  lockToken,
		body:       body,
		raw:        raw,
		properties: properties,
	}, nil
}

// Subscribe receives messages one at a time until ctx is cancelled.
// A handler returning nil completes the message, an error abandons it.
// Broker errors are logged and retried after a backoff.
func (b *Broker) Subscribe(ctx context.Context, queueName string, handler queue.Handler) error {
	b.logger.WithFields(logrus.Fields{
		"event": "subscription_started",
		"queue": queueName,
	}).Info("starting subscription")
	for {
		if err := ctx.Err(); err != nil {
			b.stopped(queueName)
			return err
		}
		delay, err := b.poll(ctx, queueName, handler)
		if err != nil {
			if ctx.Err() != nil {
				b.stopped(queueName)
				return ctx.Err()
			}
			b.logger.WithFields(logrus.Fields{
				"event": "subscription_error",
				"queue": queueName,
				"error": err.Error(),
			}).Error("unexpected error in subscription")
			delay = b.poller.RetryDelay
		}
		if delay <= 0 {
			continue
		}
		if err := b.poller.Wait(ctx, delay); err != nil {
			b.stopped(queueName)
			return err
		}
	}
}

// poll runs one iteration and returns how long to wait before the next one.
func (b *Broker) poll(ctx context.Context, queueName string, handler queue.Handler) (time.Duration, error) {
	msg, err := b.Receive(ctx, queueName)
	if err != nil {
		b.metrics.ObserveError(backendLabel, queueName, "receive")
		return 0, err
	}
	if msg == nil {
		return b.poller.EmptyDelay + b.poller.Interval, nil
	}

	if err := invoke(ctx, handler, msg); err != nil {
		b.logger.WithFields(logrus.Fields{
			"event":     "processing_failed",
			"queue":     queueName,
			"messageId": msg.ID(),
			"error":     err.Error(),
		}).Error("error processing message")
		b.metrics.ObserveError(backendLabel, queueName, "handler")
		// Abandon failures are already logged; the lock will expire and the
		// backend redelivers.
		_ = msg.Abandon(ctx, err.Error(), nil)
		return b.poller.Interval, nil
	}
	if err := msg.Complete(ctx); err != nil && err != queue.ErrAlreadySettled {
		return 0, err
	}
	return b.poller.Interval, nil
}

func (b *Broker) stopped(queueName string) {
	b.logger.WithFields(logrus.Fields{
		"event": "subscription_stopped",
		"queue": queueName,
	}).Info("context canceled, stopping subscription")
}

// invoke calls handler and turns a panic into an error.
func invoke(ctx context.Context, handler queue.Handler, delivery queue.Delivery) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return handler(ctx, delivery)
}
