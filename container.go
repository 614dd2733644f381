package rstate

import (
	"fmt"
	"reflect"
)

// Handler backs one named variable of a Container.
type Handler interface {
	// Get returns the externally visible value. It may start work, such as
	// the first get operation of an async variable.
	Get() any
	// ShouldAcceptWrite reports whether value should be passed on to Set.
	// Returning false suppresses redundant writes and their notifications.
	ShouldAcceptWrite(value any) bool
	// Set stores value and notifies observers.
	Set(value any) error
}

// Binding connects a Handler to its container. It is handed to the handler
// when the container is set up.
type Binding struct {
	// Key is the variable's state key.
	Key string
	// RecordRead marks the variable as read in the open recording window.
	RecordRead func()
	// NotifyChange tells the container's observers that the variable changed.
	NotifyChange func()
}

type handlerFactory func(c *Container, b Binding, cfg *config) (Handler, error)

// Declaration names a variable and how to build its handler.
type Declaration struct {
	key   string
	build handlerFactory
}

// Key returns the declared state key.
func (d Declaration) Key() string {
	return d.key
}

// Container owns a fixed set of named state variables and mediates every
// read and write to them, so reads are recorded and writes are observed.
type Container struct {
	keys     []string
	handlers map[string]Handler
	registry *Registry
	cfg      *config
}

// NewContainer builds a container with the given variables. Declarations are
// set up in order.
func NewContainer(decls []Declaration, opts ...Option) (*Container, error) {
	cfg := applyOptions(opts)
	c := &Container{
		handlers: make(map[string]Handler, len(decls)),
		registry: newRegistry(cfg),
		cfg:      cfg,
	}

	for _, decl := range decls {
		if decl.key == "" {
			return nil, configError("", "declare", fmt.Errorf("empty state key"))
		}
		if _, exists := c.handlers[decl.key]; exists {
			return nil, configError(decl.key, "declare", ErrDuplicateKey)
		}

		key := decl.key
		b := Binding{
			Key:          key,
			RecordRead:   func() { c.recordRead(key) },
			NotifyChange: func() { c.Notify(key) },
		}
		h, err := decl.build(c, b, cfg)
		if err != nil {
			return nil, err
		}
		c.keys = append(c.keys, key)
		c.handlers[key] = h
	}

	cfg.logger.Debug("container created", "keys", c.keys)
	return c, nil
}

// Keys returns the declared state keys in declaration order.
func (c *Container) Keys() []string {
	out := make([]string, len(c.keys))
	copy(out, c.keys)
	return out
}

// Handler returns the handler behind key.
func (c *Container) Handler(key string) (Handler, bool) {
	h, ok := c.handlers[key]
	return h, ok
}

// Loop returns the loop on which this container's settlements are applied.
func (c *Container) Loop() *Loop {
	return c.cfg.loop
}

// Registry returns the container's observer registry.
func (c *Container) Registry() *Registry {
	return c.registry
}

// Read records that key was read and returns the handler's visible value.
// For async variables this is either the *AsyncVar or, for composite values,
// its *Proxy.
func (c *Container) Read(key string) (any, error) {
	h, ok := c.handlers[key]
	if !ok {
		return nil, misuseError(key, "read", ErrUnknownKey)
	}
	c.recordRead(key)
	return h.Get(), nil
}

// Write passes value to the handler unless the handler reports it as
// redundant.
func (c *Container) Write(key string, value any) error {
	h, ok := c.handlers[key]
	if !ok {
		return misuseError(key, "write", ErrUnknownKey)
	}
	if !h.ShouldAcceptWrite(value) {
		return nil
	}
	return h.Set(value)
}

// AddObserver registers o on this container. See Registry.AddObserver.
func (c *Container) AddObserver(o Observer, keys ...string) *Subscription {
	return c.registry.AddObserver(o, keys...)
}

// RemoveObserver removes every registration of o on this container.
func (c *Container) RemoveObserver(o Observer) error {
	return c.registry.RemoveObserver(o)
}

// Notify dispatches a change of key to the container's observers.
func (c *Container) Notify(key string) {
	c.registry.Notify(key)
}

func (c *Container) recordRead(key string) {
	c.cfg.recorder.RecordRead(c, key)
}

// ReadVar reads a plain variable declared with Var.
func ReadVar[T any](c *Container, key string) (T, error) {
	var zero T
	v, err := c.Read(key)
	if err != nil {
		return zero, err
	}
	t, ok := castValue[T](v)
	if !ok {
		return zero, misuseError(key, "read", fmt.Errorf("%w: have %T, want %v", ErrTypeMismatch, v, reflect.TypeFor[T]()))
	}
	return t, nil
}

// WriteVar writes a variable with a statically typed value.
func WriteVar[T any](c *Container, key string, value T) error {
	return c.Write(key, value)
}

// AsyncOf reads an async variable through the container, so the read is
// recorded and the first get operation may start, and returns its typed
// handler.
func AsyncOf[V any](c *Container, key string) (*AsyncVar[V], error) {
	if _, err := c.Read(key); err != nil {
		return nil, err
	}
	v, ok := c.handlers[key].(*AsyncVar[V])
	if !ok {
		return nil, misuseError(key, "read", fmt.Errorf("%w: %q is %T", ErrTypeMismatch, key, c.handlers[key]))
	}
	return v, nil
}

// castValue converts v to T, accepting an untyped nil for nilable T.
func castValue[T any](v any) (T, bool) {
	if t, ok := v.(T); ok {
		return t, true
	}
	var zero T
	if v != nil {
		return zero, false
	}
	switch reflect.TypeFor[T]().Kind() {
	case reflect.Interface, reflect.Pointer, reflect.Map, reflect.Slice, reflect.Func, reflect.Chan:
		return zero, true
	}
	return zero, false
}
