package rstate

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"
)

// Config is the file form of the container options.
//
//	log:
//	  level: debug
//	  format: console
//	  output: stderr
//	recorder: isolated
type Config struct {
	Log LogConfig `yaml:"log"`
	// Recorder is "shared" (DefaultRecorder) or "isolated" (one recorder
	// for every container built from this config).
	Recorder string `yaml:"recorder" validate:"omitempty,oneof=shared isolated"`
}

// LogConfig configures the zerolog logger built by Config.Options.
type LogConfig struct {
	Level  string `yaml:"level" validate:"omitempty,oneof=debug info warn error disabled"`
	Format string `yaml:"format" validate:"omitempty,oneof=json console"`
	// Output is "stdout", "stderr" or a file path.
	Output string `yaml:"output"`
}

var validate = validator.New()

// ParseConfig decodes and validates YAML configuration.
func ParseConfig(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("rstate: parse config: %w", err)
	}
	if err := validate.Struct(&cfg); err != nil {
		return nil, fmt.Errorf("rstate: invalid config: %w", err)
	}
	return &cfg, nil
}

// LoadConfig reads a YAML configuration file.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("rstate: read config: %w", err)
	}
	return ParseConfig(data)
}

// Options turns the configuration into container options. The returned
// closer releases the log file opened for a path Output; it is a no-op
// otherwise and is safe to call more than once.
func (c *Config) Options() ([]Option, io.Closer, error) {
	logger, closer, err := c.Log.newLogger()
	if err != nil {
		return nil, nil, err
	}
	opts := []Option{WithLogger(logger)}
	if c.Recorder == "isolated" {
		opts = append(opts, WithRecorder(NewRecorder()))
	}
	return opts, closer, nil
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// onceCloser closes f the first time Close is called.
type onceCloser struct {
	once sync.Once
	f    *os.File
	err  error
}

func (c *onceCloser) Close() error {
	c.once.Do(func() { c.err = c.f.Close() })
	return c.err
}

func (c LogConfig) newLogger() (Logger, io.Closer, error) {
	if c.Level == "" || c.Level == "disabled" {
		return NopLogger(), nopCloser{}, nil
	}

	level, err := zerolog.ParseLevel(strings.ToLower(c.Level))
	if err != nil {
		return nil, nil, fmt.Errorf("rstate: log level: %w", err)
	}

	var w io.Writer
	var closer io.Closer = nopCloser{}
	switch c.Output {
	case "", "stderr":
		w = os.Stderr
	case "stdout":
		w = os.Stdout
	default:
		f, err := os.OpenFile(c.Output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, nil, fmt.Errorf("rstate: open log output: %w", err)
		}
		w = f
		closer = &onceCloser{f: f}
	}
	if c.Format == "console" {
		w = zerolog.ConsoleWriter{Out: w}
	}

	zlog := zerolog.New(w).Level(level).With().Timestamp().Str("component", "rstate").Logger()
	return NewZerologLogger(zlog), closer, nil
}
