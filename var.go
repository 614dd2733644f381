package rstate

import (
	"fmt"
	"reflect"
	"sync"
)

// StateVar is a plain synchronous variable: reads return the stored value,
// writes replace it and notify.
type StateVar[T any] struct {
	mu      sync.RWMutex
	value   T
	binding Binding
}

// Var declares a plain variable with an initial value.
func Var[T any](key string, initial T) Declaration {
	return Declaration{
		key: key,
		build: func(_ *Container, b Binding, _ *config) (Handler, error) {
			return &StateVar[T]{value: initial, binding: b}, nil
		},
	}
}

// Custom declares a variable backed by a caller-supplied handler. build is
// called once while the container is set up.
func Custom(key string, build func(c *Container, b Binding) (Handler, error)) Declaration {
	return Declaration{
		key: key,
		build: func(c *Container, b Binding, _ *config) (Handler, error) {
			if build == nil {
				return nil, configError(key, "declare", fmt.Errorf("nil handler builder"))
			}
			return build(c, b)
		},
	}
}

// Get returns the current value.
func (v *StateVar[T]) Get() any {
	return v.Value()
}

// Value returns the current value and records the read.
func (v *StateVar[T]) Value() T {
	v.binding.RecordRead()
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.value
}

// ShouldAcceptWrite reports whether value differs from the stored value.
// Values of the wrong type are accepted so Set can reject them.
func (v *StateVar[T]) ShouldAcceptWrite(value any) bool {
	t, ok := castValue[T](value)
	if !ok {
		return true
	}
	v.mu.RLock()
	defer v.mu.RUnlock()
	return !reflect.DeepEqual(v.value, t)
}

// Set stores value and notifies observers.
func (v *StateVar[T]) Set(value any) error {
	t, ok := castValue[T](value)
	if !ok {
		return misuseError(v.binding.Key, "write", fmt.Errorf("%w: have %T, want %v", ErrTypeMismatch, value, reflect.TypeFor[T]()))
	}
	v.mu.Lock()
	v.value = t
	v.mu.Unlock()

	v.binding.NotifyChange()
	return nil
}

func (v *StateVar[T]) snapshot() VarSnapshot {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return VarSnapshot{
		Key:   v.binding.Key,
		Kind:  "var",
		Value: v.value,
	}
}
