package rstate

import (
	"slices"
	"sync"
)

// Tracker keeps one consumer subscribed to exactly the state it read during
// its most recent pass. Each Track call replaces the previous subscriptions,
// so keys that are no longer read stop triggering onChange.
//
// Example:
//
//	t := rstate.NewTracker(func(key string) { view.MarkNeedsRender() })
//	t.Track(func() {
//	    v, _ := rstate.AsyncOf[string](c, "greeting")
//	    render(v.GetValue(), v.IsPendingGet())
//	})
//	defer t.Dispose()
type Tracker struct {
	mu       sync.Mutex
	recorder *Recorder
	logger   Logger
	observer Observer
	subs     []*Subscription
	deps     ReadLog
	disposed bool
}

// NewTracker creates a tracker calling onChange with the changed key. Only
// the WithRecorder and WithLogger options apply.
func NewTracker(onChange func(key string), opts ...Option) *Tracker {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(cfg)
	}
	return &Tracker{
		recorder: cfg.recorder,
		logger:   cfg.logger,
		observer: NewObserver(onChange),
		deps:     ReadLog{},
	}
}

// Track runs render inside a recording window and resubscribes to exactly
// the keys it read. render must not suspend: reads made after it returns
// are not attributed to this pass.
func (t *Tracker) Track(render func()) {
	t.recorder.Start()
	defer func() {
		t.resubscribe(t.recorder.Finish())
	}()
	render()
}

func (t *Tracker) resubscribe(log ReadLog) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for _, sub := range t.subs {
		sub.Unsubscribe()
	}
	t.subs = nil
	t.deps = log

	if t.disposed {
		return
	}
	for c, keys := range log {
		t.subs = append(t.subs, c.AddObserver(t.observer, keys...))
	}
	t.logger.Debug("tracker resubscribed", "containers", len(log), "subscriptions", len(t.subs))
}

// Dependencies returns the keys read during the last pass.
func (t *Tracker) Dependencies() ReadLog {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make(ReadLog, len(t.deps))
	for c, keys := range t.deps {
		out[c] = slices.Clone(keys)
	}
	return out
}

// Dispose removes all subscriptions. Later Track calls still render but no
// longer subscribe.
func (t *Tracker) Dispose() {
	t.mu.Lock()
	defer t.mu.Unlock()

	for _, sub := range t.subs {
		sub.Unsubscribe()
	}
	t.subs = nil
	t.disposed = true
}
