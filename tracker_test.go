package rstate

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTrackerObserverPrecision(t *testing.T) {
	r := NewRecorder()
	c := newVarContainer(t, r, "a", "b")

	var changed []string
	tr := NewTracker(func(key string) { changed = append(changed, key) }, WithRecorder(r))
	tr.Track(func() {
		_, _ = c.Read("a")
	})

	require.NoError(t, c.Write("b", 1))
	assert.Empty(t, changed, "unread keys do not trigger")

	require.NoError(t, c.Write("a", 1))
	assert.Equal(t, []string{"a"}, changed)
}

func TestTrackerDropsStaleDependencies(t *testing.T) {
	r := NewRecorder()
	c := newVarContainer(t, r, "a", "b")

	changes := 0
	tr := NewTracker(func(string) { changes++ }, WithRecorder(r))
	tr.Track(func() { _, _ = c.Read("a") })
	tr.Track(func() { _, _ = c.Read("b") })

	assert.Equal(t, []string{"b"}, tr.Dependencies().Keys(c))
	assert.Equal(t, 1, c.Registry().Len())

	require.NoError(t, c.Write("a", 5))
	assert.Equal(t, 0, changes)
	require.NoError(t, c.Write("b", 5))
	assert.Equal(t, 1, changes)
}

func TestTrackerDispose(t *testing.T) {
	r := NewRecorder()
	c := newVarContainer(t, r, "a")

	changes := 0
	tr := NewTracker(func(string) { changes++ }, WithRecorder(r))
	tr.Track(func() { _, _ = c.Read("a") })
	tr.Dispose()

	require.NoError(t, c.Write("a", 1))
	assert.Equal(t, 0, changes)

	rendered := false
	tr.Track(func() {
		rendered = true
		_, _ = c.Read("a")
	})
	assert.True(t, rendered)
	assert.Equal(t, 0, c.Registry().Len())
}

func TestTrackerRecordsEvenWhenRenderPanics(t *testing.T) {
	r := NewRecorder()
	c := newVarContainer(t, r, "a")

	tr := NewTracker(func(string) {}, WithRecorder(r))
	assert.Panics(t, func() {
		tr.Track(func() {
			_, _ = c.Read("a")
			panic("render failed")
		})
	})
	assert.False(t, r.Recording())
	assert.Equal(t, []string{"a"}, tr.Dependencies().Keys(c))
}

// A consumer reading an async variable rerenders once per settlement.
func TestTrackerAsyncRerender(t *testing.T) {
	r := NewRecorder()
	c, err := NewContainer([]Declaration{
		Async("greeting", func(*Container) AsyncOptions[string] {
			return AsyncOptions[string]{
				Get:          func(context.Context) (string, error) { return "hello", nil },
				InitialValue: "init",
			}
		}),
	}, WithRecorder(r))
	require.NoError(t, err)

	var frames []string
	var tr *Tracker
	render := func() {
		v, err := AsyncOf[string](c, "greeting")
		require.NoError(t, err)
		frames = append(frames, v.GetValue())
	}
	tr = NewTracker(func(string) { tr.Track(render) }, WithRecorder(r))
	tr.Track(render)

	c.Loop().Settle()
	assert.Equal(t, []string{"init", "hello"}, frames)
}
