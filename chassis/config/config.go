package config

import (
	"errors"
	"os"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"gopkg.in/yaml.v2"

	"github.com/freundallein/communicator/backend/chassis/communicator"
	"github.com/freundallein/communicator/backend/chassis/queue"
	"github.com/freundallein/communicator/backend/chassis/queue/redisstream"
	"github.com/freundallein/communicator/backend/chassis/queue/servicebus"
)

// AppConfig ...
type AppConfig struct {
	Driver      string `yaml:"driver"`
	LogLevel    string `yaml:"logLevel"`
	MetricsAddr string `yaml:"metricsAddr"`

	ServiceBus servicebus.Config `yaml:"servicebus"`
	Redis      struct {
		Addr     string `yaml:"addr"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`

		redisstream.Config `yaml:",inline"`
	} `yaml:"redis"`
	Polling struct {
		Interval   time.Duration `yaml:"interval"`
		EmptyDelay time.Duration `yaml:"emptyDelay"`
		RetryDelay time.Duration `yaml:"retryDelay"`
	} `yaml:"polling"`
	Consumer struct {
		Topic     string  `yaml:"topic"`
		ForwardTo string  `yaml:"forwardTo"`
		Workers   int     `yaml:"workers"`
		ChaosRate float64 `yaml:"chaosRate"`
	} `yaml:"consumer"`
	Producer struct {
		Topic    string        `yaml:"topic"`
		Workers  int           `yaml:"workers"`
		Interval time.Duration `yaml:"interval"`
	} `yaml:"producer"`
}

// Read loads the file named by CFG_PATH and applies env overrides.
func Read() (*AppConfig, error) {
	filename := os.Getenv("CFG_PATH")
	if filename == "" {
		return nil, errors.New("CFG_PATH is not set")
	}
	buff, err := os.ReadFile(filename)
	if err != nil {
		return nil, err
	}
	return Parse(buff)
}

// Parse decodes YAML, applies env overrides and defaults.
func Parse(buff []byte) (*AppConfig, error) {
	cfg := &AppConfig{}
	if err := yaml.Unmarshal(buff, cfg); err != nil {
		return nil, err
	}
	cfg.applyEnv()
	cfg.applyDefaults()
	if _, err := queue.ParseDriver(cfg.Driver); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *AppConfig) applyEnv() {
	overrides := []struct {
		env    string
		target *string
	}{
		{"MICROSERVICE_COMMUNICATION_DRIVER", &c.Driver},
		{"AZURE_SERVICE_BUS_ENDPOINT", &c.ServiceBus.Endpoint},
		{"AZURE_SERVICE_BUS_KEY_NAME", &c.ServiceBus.SharedAccessKeyName},
		{"AZURE_SERVICE_BUS_KEY", &c.ServiceBus.SharedAccessKey},
		{"REDIS_STREAM_GROUP", &c.Redis.GroupName},
		{"REDIS_ADDR", &c.Redis.Addr},
		{"REDIS_PASSWORD", &c.Redis.Password},
	}
	for _, o := range overrides {
		if v, ok := os.LookupEnv(o.env); ok && v != "" {
			*o.target = v
		}
	}
	if v, ok := os.LookupEnv("REDIS_DB"); ok {
		if db, err := strconv.Atoi(v); err == nil {
			c.Redis.DB = db
		}
	}
}

func (c *AppConfig) applyDefaults() {
	if c.Driver == "" {
		c.Driver = string(queue.SERVICEBUS)
	}
	if c.Redis.GroupName == "" {
		c.Redis.GroupName = redisstream.DefaultGroup
	}
	if c.Redis.Addr == "" {
		c.Redis.Addr = "localhost:6379"
	}
	if c.MetricsAddr == "" {
		c.MetricsAddr = ":2112"
	}
	if c.Consumer.Workers <= 0 {
		c.Consumer.Workers = 1
	}
	if c.Producer.Workers <= 0 {
		c.Producer.Workers = 1
	}
	if c.Producer.Interval <= 0 {
		c.Producer.Interval = time.Second
	}
}

// DriverConfig returns the config variant of the selected driver.
func (c *AppConfig) DriverConfig() (queue.DriverConfig, error) {
	driver, err := queue.ParseDriver(c.Driver)
	if err != nil {
		return nil, err
	}
	if driver == queue.REDISSTREAM {
		return c.Redis.Config, nil
	}
	return c.ServiceBus, nil
}

// Settings renders the selected driver's flat settings map.
func (c *AppConfig) Settings() map[string]string {
	settings := map[string]string{}
	driver, err := queue.ParseDriver(c.Driver)
	if err != nil {
		return settings
	}
	switch driver {
	case queue.SERVICEBUS:
		settings[communicator.KeyEndpoint] = c.ServiceBus.Endpoint
		settings[communicator.KeySharedAccessKeyName] = c.ServiceBus.SharedAccessKeyName
		settings[communicator.KeySharedAccessKey] = c.ServiceBus.SharedAccessKey
		if c.ServiceBus.Timeout > 0 {
			settings[communicator.KeyTimeout] = c.ServiceBus.Timeout.String()
		}
	case queue.REDISSTREAM:
		settings[communicator.KeyGroupName] = c.Redis.GroupName
		if c.Redis.ClaimIdle > 0 {
			settings[communicator.KeyClaimIdle] = c.Redis.ClaimIdle.String()
		}
		if c.Redis.MaxLen > 0 {
			settings[communicator.KeyMaxLen] = strconv.FormatInt(c.Redis.MaxLen, 10)
		}
	}
	return settings
}

// Poller builds the subscribe timing of the selected driver, with any
// configured overrides applied.
func (c *AppConfig) Poller() *queue.Poller {
	p := queue.QueuePoller()
	if driver, _ := queue.ParseDriver(c.Driver); driver == queue.REDISSTREAM {
		p = queue.StreamPoller()
	}
	if c.Polling.Interval > 0 {
		p.Interval = c.Polling.Interval
	}
	if c.Polling.EmptyDelay > 0 {
		p.EmptyDelay = c.Polling.EmptyDelay
	}
	if c.Polling.RetryDelay > 0 {
		p.RetryDelay = c.Polling.RetryDelay
	}
	return p
}

// RedisOptions - connection options for the stream backend
func (c *AppConfig) RedisOptions() *redis.Options {
	return &redis.Options{
		Addr:     c.Redis.Addr,
		Password: c.Redis.Password,
		DB:       c.Redis.DB,
	}
}
