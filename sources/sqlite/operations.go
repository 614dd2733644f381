package sqlite

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jilio/rstate"
)

// Get returns a get operation that decodes the JSON value stored under key.
// A missing row rejects with ErrNotFound.
func Get[V any](s *Source, key string) rstate.GetOperation[V] {
	return func(ctx context.Context) (V, error) {
		var v V
		data, err := s.Load(ctx, key)
		if err != nil {
			return v, err
		}
		if err := json.Unmarshal(data, &v); err != nil {
			return v, fmt.Errorf("sqlite: decode %q: %w", key, err)
		}
		return v, nil
	}
}

// Set returns a set operation that stores value under key as JSON and
// resolves with it.
func Set[V any](s *Source, key string) rstate.SetOperation[V] {
	return func(ctx context.Context, value V) (V, error) {
		data, err := json.Marshal(value)
		if err != nil {
			return value, fmt.Errorf("sqlite: encode %q: %w", key, err)
		}
		if err := s.Save(ctx, key, data); err != nil {
			return value, err
		}
		return value, nil
	}
}

// Options returns async options backed by key. A key that was never saved
// resolves to initial instead of rejecting.
func Options[V any](s *Source, key string, initial V) rstate.AsyncOptions[V] {
	get := Get[V](s, key)
	return rstate.AsyncOptions[V]{
		Get: func(ctx context.Context) (V, error) {
			v, err := get(ctx)
			if errors.Is(err, ErrNotFound) {
				return initial, nil
			}
			return v, err
		},
		Set:          Set[V](s, key),
		InitialValue: initial,
	}
}
