package rstate

import (
	"reflect"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Observer is notified when a state key it subscribed to changes.
type Observer interface {
	StateChanged(key string)
}

// observerFunc gives a plain function pointer identity so it can be removed
// again with RemoveObserver.
type observerFunc struct {
	fn func(key string)
}

func (o *observerFunc) StateChanged(key string) {
	o.fn(key)
}

// NewObserver wraps fn in an Observer. Each call returns a distinct observer.
func NewObserver(fn func(key string)) Observer {
	return &observerFunc{fn: fn}
}

// Subscription is one (observer, key filter) registration.
type Subscription struct {
	// ID identifies the registration in logs and traces.
	ID uuid.UUID

	observer Observer
	keys     []string
	registry *Registry
}

// Keys returns the key filter. A nil filter matches every key.
func (s *Subscription) Keys() []string {
	return s.keys
}

// Unsubscribe removes this registration only.
func (s *Subscription) Unsubscribe() {
	s.registry.remove(s)
}

func (s *Subscription) matches(key string) bool {
	return len(s.keys) == 0 || slices.Contains(s.keys, key)
}

// Registry holds observers for one container and dispatches change
// notifications to them.
type Registry struct {
	mu   sync.RWMutex
	subs []*Subscription
	cfg  *config
}

// NewRegistry creates an empty Registry. Only the logger, observability,
// context and panic handler options apply.
func NewRegistry(opts ...Option) *Registry {
	return newRegistry(applyOptions(opts))
}

func newRegistry(cfg *config) *Registry {
	return &Registry{cfg: cfg}
}

// AddObserver registers o for the given keys. Without keys, o is notified of
// every change.
func (r *Registry) AddObserver(o Observer, keys ...string) *Subscription {
	sub := &Subscription{
		ID:       uuid.New(),
		observer: o,
		registry: r,
	}
	if len(keys) > 0 {
		sub.keys = slices.Clone(keys)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.subs = append(r.subs, sub)
	return sub
}

// RemoveObserver removes every registration of o. The observer must be the
// exact value that was added.
func (r *Registry) RemoveObserver(o Observer) error {
	if o == nil || !reflect.TypeOf(o).Comparable() {
		return ErrObserverNotFound
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	kept := make([]*Subscription, 0, len(r.subs))
	for _, sub := range r.subs {
		if sub.observer != o {
			kept = append(kept, sub)
		}
	}
	if len(kept) == len(r.subs) {
		return ErrObserverNotFound
	}
	r.subs = kept
	return nil
}

func (r *Registry) remove(target *Subscription) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.subs = slices.DeleteFunc(r.subs, func(sub *Subscription) bool {
		return sub == target
	})
}

// Notify synchronously calls, in registration order, every observer whose
// filter is empty or includes key. A panicking observer is reported and the
// remaining observers still run.
func (r *Registry) Notify(key string) {
	// Copy subscriptions to avoid holding the lock during dispatch
	r.mu.RLock()
	subs := slices.Clone(r.subs)
	r.mu.RUnlock()

	ctx := r.cfg.obs.OnNotifyStart(r.cfg.ctx, key)
	delivered := 0
	for _, sub := range subs {
		if !sub.matches(key) {
			continue
		}
		start := time.Now()
		err := r.dispatch(sub, key)
		r.cfg.obs.OnObserverComplete(ctx, time.Since(start), err)
		delivered++
	}
	r.cfg.obs.OnNotifyComplete(ctx, delivered)
}

func (r *Registry) dispatch(sub *Subscription, key string) (err error) {
	defer func() {
		if v := recover(); v != nil {
			perr := &PanicError{Op: "observer", Value: v, StackTrace: captureStack()}
			r.cfg.logger.Error("observer panicked", "key", key, "subscription", sub.ID.String(), "panic", v)
			if r.cfg.panicHandler != nil {
				r.cfg.panicHandler(key, perr)
			}
			err = perr
		}
	}()

	sub.observer.StateChanged(key)
	return nil
}

// Len returns the number of registrations.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.subs)
}

// HasObservers reports whether a change of key would reach any observer.
func (r *Registry) HasObservers(key string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, sub := range r.subs {
		if sub.matches(key) {
			return true
		}
	}
	return false
}

// Clear removes all registrations.
func (r *Registry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.subs = nil
}
