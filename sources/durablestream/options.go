package durablestream

import (
	"net/http"
	"time"
)

// Logger is the logging interface. rstate.NewZerologLogger values satisfy it.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Error(msg string, args ...any)
}

// Option configures a Source.
type Option func(*config)

type config struct {
	httpClient    *http.Client
	timeout       time.Duration
	retryAttempts int
	retryBackoff  time.Duration
	logger        Logger
}

func defaultConfig() *config {
	return &config{
		httpClient:    http.DefaultClient,
		timeout:       30 * time.Second,
		retryAttempts: 3,
		retryBackoff:  100 * time.Millisecond,
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *config) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// WithTimeout sets the per-request timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *config) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithRetry configures retry behavior for network errors and 5xx responses.
func WithRetry(attempts int, backoff time.Duration) Option {
	return func(c *config) {
		if attempts >= 0 {
			c.retryAttempts = attempts
		}
		if backoff > 0 {
			c.retryBackoff = backoff
		}
	}
}

// WithLogger sets a logger. Malformed messages and request failures are
// reported through it.
func WithLogger(logger Logger) Option {
	return func(c *config) {
		c.logger = logger
	}
}
