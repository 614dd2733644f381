// Package durablestream backs async variables with a durable-streams server
// (https://github.com/durable-streams/durable-streams). Every set appends the
// value to a JSON stream; a get replays the stream and adopts the last value.
package durablestream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jilio/rstate"
)

var (
	// ErrStreamNotFound is returned when the stream does not exist.
	ErrStreamNotFound = errors.New("durablestream: stream not found")
	// ErrEmptyStream is returned by Latest when nothing was appended yet.
	ErrEmptyStream = errors.New("durablestream: stream has no values")
)

// Source reads and appends values of one stream.
type Source struct {
	client *client
	cfg    *config
}

// New creates a Source for the stream at streamURL, e.g.
// "https://server.example.com/v1/stream/settings", creating the stream if
// needed.
//
// Note: Stream creation uses context.Background() to ensure it completes fully.
// Use NewWithContext if you need cancellable initialization.
func New(streamURL string, opts ...Option) (*Source, error) {
	return NewWithContext(context.Background(), streamURL, opts...)
}

// NewWithContext is New with a context for the creation request.
func NewWithContext(ctx context.Context, streamURL string, opts ...Option) (*Source, error) {
	if streamURL == "" {
		return nil, fmt.Errorf("durablestream: streamURL is required")
	}

	cfg := defaultConfig()
	for _, opt := range opts {
		opt(cfg)
	}

	c := newClient(streamURL, cfg)
	if err := c.create(ctx); err != nil {
		return nil, fmt.Errorf("durablestream: create stream: %w", err)
	}

	return &Source{client: c, cfg: cfg}, nil
}

// Append adds one JSON message to the stream and returns the next offset.
func (s *Source) Append(ctx context.Context, message json.RawMessage) (string, error) {
	// JSON streams take an array and store each element as a message.
	data, err := json.Marshal([]json.RawMessage{message})
	if err != nil {
		return "", fmt.Errorf("durablestream: marshal message: %w", err)
	}

	offset, err := s.client.append(ctx, data)
	if err != nil {
		return "", fmt.Errorf("durablestream: append: %w", err)
	}

	if s.cfg.logger != nil {
		s.cfg.logger.Debug("appended message", "offset", offset, "bytes", len(message))
	}
	return offset, nil
}

// Latest reads the stream from the beginning and returns its last message,
// or ErrEmptyStream.
func (s *Source) Latest(ctx context.Context) (json.RawMessage, error) {
	var last json.RawMessage
	offset := "-1"

	for {
		resp, err := s.client.read(ctx, offset)
		if err != nil {
			return nil, fmt.Errorf("durablestream: read: %w", err)
		}
		if len(resp.Body) == 0 || string(resp.Body) == "[]" {
			break
		}

		var messages []json.RawMessage
		if err := json.Unmarshal(resp.Body, &messages); err != nil {
			return nil, fmt.Errorf("durablestream: unmarshal response: %w", err)
		}
		if len(messages) > 0 {
			last = messages[len(messages)-1]
		}

		if resp.UpToDate || resp.NextOffset == "" || resp.NextOffset == offset {
			break
		}
		offset = resp.NextOffset
	}

	if last == nil {
		return nil, ErrEmptyStream
	}
	return last, nil
}

// Close is a no-op for HTTP-based sources.
func (s *Source) Close() error {
	return nil
}

// Get returns a get operation that decodes the last message of the stream.
func Get[V any](s *Source) rstate.GetOperation[V] {
	return func(ctx context.Context) (V, error) {
		var v V
		msg, err := s.Latest(ctx)
		if err != nil {
			return v, err
		}
		if err := json.Unmarshal(msg, &v); err != nil {
			if s.cfg.logger != nil {
				s.cfg.logger.Error("malformed message", "err", err)
			}
			return v, fmt.Errorf("durablestream: decode: %w", err)
		}
		return v, nil
	}
}

// Set returns a set operation that appends value and resolves with it.
func Set[V any](s *Source) rstate.SetOperation[V] {
	return func(ctx context.Context, value V) (V, error) {
		data, err := json.Marshal(value)
		if err != nil {
			return value, fmt.Errorf("durablestream: encode: %w", err)
		}
		if _, err := s.Append(ctx, data); err != nil {
			return value, err
		}
		return value, nil
	}
}

// Options returns async options backed by the stream. An empty stream
// resolves to initial.
func Options[V any](s *Source, initial V) rstate.AsyncOptions[V] {
	get := Get[V](s)
	return rstate.AsyncOptions[V]{
		Get: func(ctx context.Context) (V, error) {
			v, err := get(ctx)
			if errors.Is(err, ErrEmptyStream) {
				return initial, nil
			}
			return v, err
		},
		Set:          Set[V](s),
		InitialValue: initial,
	}
}
