package servicebus

import (
	"net/url"
	"time"

	"github.com/freundallein/communicator/backend/chassis/queue"
)

// DefaultTimeout - per request timeout of the HTTP transport
const DefaultTimeout = 30 * time.Second

// Config - servicebus connection settings
type Config struct {
	Endpoint            string        `yaml:"endpoint"`
	SharedAccessKeyName string        `yaml:"sharedAccessKeyName"`
	SharedAccessKey     string        `yaml:"sharedAccessKey"`
	Timeout             time.Duration `yaml:"timeout"`
}

// Driver ...
func (c Config) Driver() queue.Driver {
	return queue.SERVICEBUS
}

// Validate checks that all credential material is present.
func (c Config) Validate() error {
	required := []struct {
		key   string
		value string
	}{
		{"endpoint", c.Endpoint},
		{"shared_access_key_name", c.SharedAccessKeyName},
		{"shared_access_key", c.SharedAccessKey},
	}
	for _, r := range required {
		if r.value == "" {
			return &queue.ConfigError{Key: r.key}
		}
	}
	u, err := url.Parse(c.Endpoint)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return &queue.ConfigError{Key: "endpoint", Reason: "must be an absolute URL"}
	}
	if c.Timeout < 0 {
		return &queue.ConfigError{Key: "timeout", Reason: "must not be negative"}
	}
	return nil
}

func (c Config) timeout() time.Duration {
	if c.Timeout == 0 {
		return DefaultTimeout
	}
	return c.Timeout
}
