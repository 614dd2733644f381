package rstate

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type outcome[V any] struct {
	value V
	err   error
}

// fakeOp is a host operation whose invocations block until the test settles
// them, by invocation index.
type fakeOp[V any] struct {
	mu    sync.Mutex
	slots []chan outcome[V]
	args  []V
}

func (f *fakeOp[V]) slot(i int) chan outcome[V] {
	f.mu.Lock()
	defer f.mu.Unlock()
	for len(f.slots) <= i {
		f.slots = append(f.slots, make(chan outcome[V], 1))
	}
	return f.slots[i]
}

func (f *fakeOp[V]) next(arg V) chan outcome[V] {
	f.mu.Lock()
	i := len(f.args)
	f.args = append(f.args, arg)
	f.mu.Unlock()
	return f.slot(i)
}

func (f *fakeOp[V]) get(ctx context.Context) (V, error) {
	var zero V
	o := <-f.next(zero)
	return o.value, o.err
}

func (f *fakeOp[V]) set(ctx context.Context, value V) (V, error) {
	o := <-f.next(value)
	return o.value, o.err
}

func (f *fakeOp[V]) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.args)
}

func (f *fakeOp[V]) arg(i int) V {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.args[i]
}

func (f *fakeOp[V]) resolve(i int, v V) {
	f.slot(i) <- outcome[V]{value: v}
}

func (f *fakeOp[V]) reject(i int, err error) {
	f.slot(i) <- outcome[V]{err: err}
}

// countingObserver counts notifications per key.
type countingObserver struct {
	mu   sync.Mutex
	keys []string
}

func (o *countingObserver) StateChanged(key string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.keys = append(o.keys, key)
}

func (o *countingObserver) count() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.keys)
}

func (o *countingObserver) countOf(key string) int {
	o.mu.Lock()
	defer o.mu.Unlock()
	n := 0
	for _, k := range o.keys {
		if k == key {
			n++
		}
	}
	return n
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	require.Eventually(t, cond, time.Second, time.Millisecond)
}

// newAsyncContainer declares a single async variable "data" with an
// isolated recorder and loop.
func newAsyncContainer[V any](t *testing.T, opts AsyncOptions[V]) (*Container, *AsyncVar[V]) {
	t.Helper()
	c, err := NewContainer([]Declaration{
		Async("data", func(*Container) AsyncOptions[V] { return opts }),
	}, WithRecorder(NewRecorder()))
	require.NoError(t, err)

	h, ok := c.Handler("data")
	require.True(t, ok)
	v, ok := h.(*AsyncVar[V])
	require.True(t, ok)
	return c, v
}
