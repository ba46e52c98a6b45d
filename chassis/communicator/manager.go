// Package communicator selects one broker backend for the lifetime of a
// process and exposes it behind a single publish/subscribe façade.
package communicator

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/freundallein/communicator/backend/chassis/metrics"
	"github.com/freundallein/communicator/backend/chassis/queue"
	"github.com/freundallein/communicator/backend/chassis/queue/redisstream"
	"github.com/freundallein/communicator/backend/chassis/queue/servicebus"
)

// Settings keys understood by NewFromSettings.
const (
	KeyEndpoint            = "endpoint"
	KeySharedAccessKeyName = "shared_access_key_name"
	KeySharedAccessKey     = "shared_access_key"
	KeyTimeout             = "timeout"
	KeyGroupName           = "group_name"
	KeyClaimIdle           = "claim_idle"
	KeyMaxLen              = "max_len"
)

// Dependencies - collaborators handed to the selected broker
type Dependencies struct {
	// Logger is required.
	Logger logrus.FieldLogger
	// Redis is the established stream connection, required by the redis driver.
	Redis      redisstream.Commander
	HTTPClient *http.Client
	Metrics    *metrics.Collectors
	Poller     *queue.Poller
}

// Manager - backend independent publish/subscribe façade
type Manager struct {
	driver queue.Driver
	broker queue.Broker
}

// New builds the broker matching the config variant.
func New(cfg queue.DriverConfig, deps Dependencies) (*Manager, error) {
	if deps.Logger == nil {
		return nil, &queue.ConfigError{Key: "logger"}
	}
	var (
		broker queue.Broker
		err    error
	)
	switch c := cfg.(type) {
	case servicebus.Config:
		broker, err = newServiceBus(c, deps)
	case *servicebus.Config:
		broker, err = newServiceBus(*c, deps)
	case redisstream.Config:
		broker, err = newRedisStream(c, deps)
	case *redisstream.Config:
		broker, err = newRedisStream(*c, deps)
	default:
		return nil, fmt.Errorf("%w: config type %T", queue.ErrUnknownDriver, cfg)
	}
	if err != nil {
		return nil, err
	}
	deps.Logger.WithFields(logrus.Fields{
		"event":  "broker_selected",
		"driver": cfg.Driver(),
	}).Info("message broker initiated")
	return &Manager{driver: cfg.Driver(), broker: broker}, nil
}

// NewFromSettings resolves driverName and builds the typed config from a
// flat settings map. Unknown drivers fail before anything is dialled.
func NewFromSettings(driverName string, settings map[string]string, deps Dependencies) (*Manager, error) {
	driver, err := queue.ParseDriver(driverName)
	if err != nil {
		return nil, err
	}
	cfg, err := ConfigFromSettings(driver, settings)
	if err != nil {
		return nil, err
	}
	return New(cfg, deps)
}

// ConfigFromSettings maps a settings map onto the driver's config variant.
func ConfigFromSettings(driver queue.Driver, settings map[string]string) (queue.DriverConfig, error) {
	switch driver {
	case queue.SERVICEBUS:
		cfg := servicebus.Config{
			Endpoint:            settings[KeyEndpoint],
			SharedAccessKeyName: settings[KeySharedAccessKeyName],
			SharedAccessKey:     settings[KeySharedAccessKey],
		}
		timeout, err := duration(settings, KeyTimeout)
		if err != nil {
			return nil, err
		}
		cfg.Timeout = timeout
		return cfg, nil
	case queue.REDISSTREAM:
		cfg := redisstream.Config{GroupName: settings[KeyGroupName]}
		idle, err := duration(settings, KeyClaimIdle)
		if err != nil {
			return nil, err
		}
		cfg.ClaimIdle = idle
		if raw := settings[KeyMaxLen]; raw != "" {
			maxLen, err := strconv.ParseInt(raw, 10, 64)
			if err != nil {
				return nil, &queue.ConfigError{Key: KeyMaxLen, Reason: err.Error()}
			}
			cfg.MaxLen = maxLen
		}
		return cfg, nil
	}
	return nil, fmt.Errorf("%w: %q", queue.ErrUnknownDriver, driver)
}

func duration(settings map[string]string, key string) (time.Duration, error) {
	raw := settings[key]
	if raw == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, &queue.ConfigError{Key: key, Reason: err.Error()}
	}
	return d, nil
}

func newServiceBus(cfg servicebus.Config, deps Dependencies) (queue.Broker, error) {
	var opts []servicebus.Option
	if deps.HTTPClient != nil {
		opts = append(opts, servicebus.WithHTTPClient(deps.HTTPClient))
	}
	if deps.Poller != nil {
		opts = append(opts, servicebus.WithPoller(deps.Poller))
	}
	if deps.Metrics != nil {
		opts = append(opts, servicebus.WithMetrics(deps.Metrics))
	}
	return servicebus.New(cfg, deps.Logger, opts...)
}

func newRedisStream(cfg redisstream.Config, deps Dependencies) (queue.Broker, error) {
	var opts []redisstream.Option
	if deps.Poller != nil {
		opts = append(opts, redisstream.WithPoller(deps.Poller))
	}
	if deps.Metrics != nil {
		opts = append(opts, redisstream.WithMetrics(deps.Metrics))
	}
	return redisstream.New(deps.Redis, cfg, deps.Logger, opts...)
}

// Driver reports the selected backend.
func (m *Manager) Driver() queue.Driver {
	return m.driver
}

// Broker exposes the selected implementation.
func (m *Manager) Broker() queue.Broker {
	return m.broker
}

// Publish delegates to the selected broker.
func (m *Manager) Publish(ctx context.Context, topic string, message interface{}) (bool, error) {
	return m.broker.Publish(ctx, topic, message)
}

// Subscribe delegates to the selected broker and blocks until ctx is done.
func (m *Manager) Subscribe(ctx context.Context, topic string, handler queue.Handler) error {
	return m.broker.Subscribe(ctx, topic, handler)
}
