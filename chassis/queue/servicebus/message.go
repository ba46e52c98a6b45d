package servicebus

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/freundallein/communicator/backend/chassis/metrics"
	"github.com/freundallein/communicator/backend/chassis/queue"
)

const backendLabel = string(queue.SERVICEBUS)

// Message is one locked delivery. Complete and Abandon always address the
// queue, message id and lock token captured when it was received.
type Message struct {
	transport *transport
	logger    logrus.FieldLogger
	metrics   *metrics.Collectors

	queueName  string
	messageID  string
	lockToken  string
	body       interface{}
	raw        []byte
	properties map[string]interface{}

	mu      sync.Mutex
	settled bool
}

// ID - stable message identifier, same across redeliveries
func (m *Message) ID() string { return m.messageID }

// LockToken - identifier of this delivery attempt
func (m *Message) LockToken() string { return m.lockToken }

// Queue ...
func (m *Message) Queue() string { return m.queueName }

// Body - decoded JSON payload, nil when the body was empty or not JSON
func (m *Message) Body() interface{} { return m.body }

// Raw ...
func (m *Message) Raw() []byte { return m.raw }

// Decode unmarshals the raw body into v.
func (m *Message) Decode(v interface{}) error {
	return json.Unmarshal(m.raw, v)
}

// Properties - decoded BrokerProperties header
func (m *Message) Properties() map[string]interface{} { return m.properties }

// DeliveryCount reports the backend's delivery counter, 0 when absent.
func (m *Message) DeliveryCount() int {
	if v, ok := m.properties["DeliveryCount"].(float64); ok {
		return int(v)
	}
	return 0
}

// Settled reports whether Complete or Abandon has succeeded.
func (m *Message) Settled() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.settled
}

func (m *Message) path() string {
	return fmt.Sprintf("messages/%s/%s", url.PathEscape(m.messageID), url.PathEscape(m.lockToken))
}

// Complete removes the message from the queue.
func (m *Message) Complete(ctx context.Context) error {
	return m.settle(ctx, "complete", "completed", http.MethodDelete, nil, "")
}

// Abandon releases the lock so the message can be redelivered. Extra
// properties are sent along; reason is omitted when empty.
func (m *Message) Abandon(ctx context.Context, reason string, properties map[string]interface{}) error {
	body := make(map[string]interface{}, len(properties)+2)
	for k, v := range properties {
		body[k] = v
	}
	body["MessageId"] = m.messageID
	if reason != "" {
		body["AbandonReason"] = reason
	}
	return m.settle(ctx, "abandon", "abandoned", http.MethodPut, body, reason)
}

func (m *Message) settle(ctx context.Context, op, done, method string, body interface{}, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.settled {
		return queue.ErrAlreadySettled
	}
	fields := logrus.Fields{
		"queue":     m.queueName,
		"messageId": m.messageID,
	}

	resp, _, err := m.transport.do(ctx, method, m.queueName, m.path(), body)
	if err != nil {
		err = &queue.BrokerError{Op: op, Queue: m.queueName, Err: err}
	} else if resp.StatusCode != http.StatusOK {
		err = &queue.BrokerError{Op: op, Queue: m.queueName, Status: resp.StatusCode}
	}
	if err != nil {
		fields["event"] = op + "_failed"
		fields["error"] = err.Error()
		m.logger.WithFields(fields).Errorf("failed to %s message", op)
		m.metrics.ObserveError(backendLabel, m.queueName, op)
		return err
	}

	m.settled = true
	fields["event"] = "message_" + done
	if reason != "" {
		fields["reason"] = reason
	}
	m.logger.WithFields(fields).Info("message " + done)
	m.metrics.ObserveSettle(backendLabel, m.queueName, op)
	return nil
}
