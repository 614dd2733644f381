package rstate

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAsyncVarBeforeFirstGet(t *testing.T) {
	op := &fakeOp[string]{}
	_, v := newAsyncContainer(t, AsyncOptions[string]{Get: op.get, InitialValue: "init"})

	assert.Equal(t, "init", v.GetValue())
	assert.False(t, v.IsPendingGet())
	assert.False(t, v.IsFulfilledGet())
	assert.False(t, v.IsRejectedGet())
	assert.Equal(t, 0, op.calls(), "queries alone must not start the get")
}

func TestAsyncVarGetResolves(t *testing.T) {
	c, v := newAsyncContainer(t, AsyncOptions[string]{
		Get:          func(context.Context) (string, error) { return "loaded", nil },
		InitialValue: "init",
	})
	obs := &countingObserver{}
	c.AddObserver(obs)

	got, err := c.Read("data")
	require.NoError(t, err)
	assert.Same(t, v, got, "primitive values are returned as the variable itself")
	assert.True(t, v.IsPendingGet())
	assert.Equal(t, 0, obs.count(), "the automatic get does not notify when it starts")

	c.Loop().Settle()

	assert.Equal(t, "loaded", v.GetValue())
	assert.True(t, v.IsFulfilledGet())
	assert.False(t, v.IsPendingGet())
	assert.False(t, v.IsRejectedGet())
	assert.NoError(t, v.GetErrorGet())
	assert.Equal(t, 1, obs.count(), "one notification per settlement")
}

func TestAsyncVarGetRejects(t *testing.T) {
	boom := errors.New("boom")
	c, v := newAsyncContainer(t, AsyncOptions[string]{
		Get:          func(context.Context) (string, error) { return "", boom },
		InitialValue: "init",
	})

	v.Read()
	c.Loop().Settle()

	assert.True(t, v.IsRejectedGet())
	assert.True(t, v.IsRejected())
	assert.False(t, v.IsFulfilledGet())
	assert.False(t, v.IsPendingGet())
	assert.Equal(t, "init", v.GetValue(), "resolved value unchanged")

	err := v.GetErrorGet()
	require.ErrorIs(t, err, boom)
	var opErr *OperationError
	require.ErrorAs(t, err, &opErr)
	assert.Equal(t, AxisGet, opErr.Axis)
	assert.Equal(t, "data", opErr.Key)
	assert.Equal(t, err, v.GetError())
}

func TestAsyncVarGetPanicIsRecovered(t *testing.T) {
	c, v := newAsyncContainer(t, AsyncOptions[int]{
		Get: func(context.Context) (int, error) { panic("host bug") },
	})

	v.Read()
	c.Loop().Settle()

	require.True(t, v.IsRejectedGet())
	var perr *PanicError
	require.ErrorAs(t, v.GetErrorGet(), &perr)
	assert.Equal(t, "host bug", perr.Value)
}

func TestAsyncVarGetStartsOnce(t *testing.T) {
	op := &fakeOp[int]{}
	c, v := newAsyncContainer(t, AsyncOptions[int]{Get: op.get})

	v.Read()
	v.Read()
	_, err := c.Read("data")
	require.NoError(t, err)

	waitFor(t, func() bool { return op.calls() == 1 })
	op.resolve(0, 7)
	c.Loop().Settle()

	v.Read()
	c.Loop().Settle()
	assert.Equal(t, 1, op.calls())
	assert.Equal(t, 7, v.GetValue())
}

func TestAsyncVarWriteStagesEdit(t *testing.T) {
	set := &fakeOp[string]{}
	c, v := newAsyncContainer(t, AsyncOptions[string]{Set: set.set, InitialValue: "a"})
	obs := &countingObserver{}
	c.AddObserver(obs)

	require.NoError(t, c.Write("data", "b"))

	assert.True(t, v.HasStagedEdit())
	assert.Equal(t, "b", v.GetValue())
	assert.Equal(t, 1, obs.count())
	assert.Equal(t, 0, set.calls(), "writing stages locally")

	require.NoError(t, v.Write("a"))
	assert.False(t, v.HasStagedEdit(), "writing the resolved value clears the edit")
	assert.False(t, v.CanRestore())
	assert.Equal(t, "a", v.GetValue())
	assert.Equal(t, 2, obs.count())
}

func TestAsyncVarRedundantContainerWriteIsSuppressed(t *testing.T) {
	c, v := newAsyncContainer(t, AsyncOptions[string]{
		Set:          func(_ context.Context, s string) (string, error) { return s, nil },
		InitialValue: "a",
	})
	obs := &countingObserver{}
	c.AddObserver(obs)

	require.NoError(t, c.Write("data", "b"))
	require.NoError(t, c.Write("data", "b"))
	assert.Equal(t, 1, obs.count())
	assert.True(t, v.HasStagedEdit())
}

func TestAsyncVarWriteGetOnlyIsMisuse(t *testing.T) {
	c, v := newAsyncContainer(t, AsyncOptions[string]{
		Get:          func(context.Context) (string, error) { return "x", nil },
		InitialValue: "init",
	})

	for _, value := range []string{"y", "init"} {
		err := c.Write("data", value)
		var misuse *MisuseError
		require.ErrorAs(t, err, &misuse, "write %q", value)
		assert.ErrorIs(t, err, ErrReadOnly)
		assert.False(t, v.HasStagedEdit())
	}
}

func TestAsyncVarMissingOperations(t *testing.T) {
	c, v := newAsyncContainer(t, AsyncOptions[string]{})

	var cfgErr *ConfigurationError
	require.ErrorAs(t, v.Reload(), &cfgErr)
	assert.ErrorIs(t, cfgErr, ErrMissingGet)
	assert.Equal(t, "reload", cfgErr.Op)

	require.ErrorAs(t, v.Push(), &cfgErr)
	assert.ErrorIs(t, cfgErr, ErrMissingSet)

	require.ErrorAs(t, v.Write("x"), &cfgErr)
	assert.ErrorIs(t, cfgErr, ErrMissingSet)

	// Through the container, even when the value equals the current one.
	require.ErrorAs(t, c.Write("data", ""), &cfgErr)
	assert.ErrorIs(t, cfgErr, ErrMissingSet)

	assert.NotPanics(t, func() { v.Read() }, "reading without a get operation is allowed")
	assert.False(t, v.IsPending())
}

func TestAsyncVarWriteWrongType(t *testing.T) {
	c, _ := newAsyncContainer(t, AsyncOptions[int]{
		Set: func(_ context.Context, n int) (int, error) { return n, nil },
	})

	err := c.Write("data", "not an int")
	assert.ErrorIs(t, err, ErrTypeMismatch)
}

func TestAsyncVarPushStagedEdit(t *testing.T) {
	set := &fakeOp[string]{}
	c, v := newAsyncContainer(t, AsyncOptions[string]{Set: set.set, InitialValue: "a"})
	obs := &countingObserver{}
	c.AddObserver(obs)

	require.NoError(t, v.Write("b"))
	require.NoError(t, v.Push())

	assert.True(t, v.IsPendingSet())
	assert.True(t, v.IsPending())
	waitFor(t, func() bool { return set.calls() == 1 })
	assert.Equal(t, "b", set.arg(0))

	set.resolve(0, "B")
	c.Loop().Settle()

	assert.Equal(t, "B", v.GetValue())
	assert.False(t, v.HasStagedEdit())
	assert.False(t, v.CanRestore())
	assert.True(t, v.IsFulfilledSet())
	assert.False(t, v.IsPendingSet())
	assert.Equal(t, 3, obs.count(), "write, push start, settlement")
}

func TestAsyncVarPushValueSources(t *testing.T) {
	set := &fakeOp[string]{}
	c, v := newAsyncContainer(t, AsyncOptions[string]{Set: set.set, InitialValue: "resolved"})

	require.NoError(t, v.Push())
	waitFor(t, func() bool { return set.calls() == 1 })
	assert.Equal(t, "resolved", set.arg(0), "without an edit the resolved value is pushed")

	require.NoError(t, v.Write("staged"))
	require.NoError(t, v.PushValue("explicit"))
	waitFor(t, func() bool { return set.calls() == 2 })
	assert.Equal(t, "explicit", set.arg(1))

	set.resolve(0, "resolved")
	waitFor(t, func() bool { return c.Loop().Len() == 1 })
	set.resolve(1, "explicit")
	c.Loop().Settle()
	assert.Equal(t, "explicit", v.GetValue())
}

func TestAsyncVarPushRejects(t *testing.T) {
	boom := errors.New("write failed")
	set := &fakeOp[string]{}
	c, v := newAsyncContainer(t, AsyncOptions[string]{Set: set.set, InitialValue: "a"})

	require.NoError(t, v.Write("b"))
	require.NoError(t, v.Push())
	waitFor(t, func() bool { return set.calls() == 1 })
	set.reject(0, boom)
	c.Loop().Settle()

	assert.True(t, v.IsRejectedSet())
	assert.False(t, v.IsFulfilledSet())
	assert.ErrorIs(t, v.GetErrorSet(), boom)
	assert.ErrorIs(t, v.GetError(), boom)
	assert.True(t, v.HasStagedEdit(), "a failed push keeps the edit")
	assert.Equal(t, "b", v.GetValue())
}

func TestAsyncVarPendingClearsAxisError(t *testing.T) {
	boom := errors.New("boom")
	get := &fakeOp[int]{}
	c, v := newAsyncContainer(t, AsyncOptions[int]{Get: get.get})

	v.Read()
	waitFor(t, func() bool { return get.calls() == 1 })
	get.reject(0, boom)
	c.Loop().Settle()
	require.True(t, v.IsRejectedGet())

	require.NoError(t, v.Reload())
	assert.True(t, v.IsPendingGet())
	assert.False(t, v.IsRejectedGet())
	assert.False(t, v.IsFulfilledGet())
	assert.NoError(t, v.GetErrorGet())

	waitFor(t, func() bool { return get.calls() == 2 })
	get.resolve(1, 3)
	c.Loop().Settle()
	assert.True(t, v.IsFulfilledGet())
	assert.Equal(t, 3, v.GetValue())
}

func TestAsyncVarCrossAxisRejectedReset(t *testing.T) {
	boom := errors.New("boom")
	get := &fakeOp[string]{}
	set := &fakeOp[string]{}
	c, v := newAsyncContainer(t, AsyncOptions[string]{Get: get.get, Set: set.set})

	v.Read()
	waitFor(t, func() bool { return get.calls() == 1 })
	get.reject(0, boom)
	c.Loop().Settle()
	require.True(t, v.IsRejectedGet())

	require.NoError(t, v.PushValue("x"))
	assert.False(t, v.IsRejectedGet(), "starting a set clears the get rejection")
	waitFor(t, func() bool { return set.calls() == 1 })
	set.reject(0, boom)
	c.Loop().Settle()
	require.True(t, v.IsRejectedSet())

	require.NoError(t, v.Reload())
	waitFor(t, func() bool { return get.calls() == 2 })
	get.resolve(1, "y")
	c.Loop().Settle()
	assert.False(t, v.IsRejectedSet(), "a get settlement clears the set rejection")
	assert.True(t, v.IsFulfilledGet())
}

func TestAsyncVarGetSettlementClearsEdit(t *testing.T) {
	get := &fakeOp[string]{}
	c, v := newAsyncContainer(t, AsyncOptions[string]{
		Get: get.get,
		Set: func(_ context.Context, s string) (string, error) { return s, nil },
	})

	v.Read()
	require.NoError(t, v.Write("edit"))
	v.Drop()
	require.True(t, v.CanRestore())

	waitFor(t, func() bool { return get.calls() == 1 })
	get.resolve(0, "server")
	c.Loop().Settle()

	assert.Equal(t, "server", v.GetValue())
	assert.False(t, v.HasStagedEdit())
	assert.False(t, v.CanRestore(), "a settlement discards even a hidden edit")
	v.Restore()
	assert.Equal(t, "server", v.GetValue())
}

func TestAsyncVarResetHidesEdit(t *testing.T) {
	boom := errors.New("boom")
	set := &fakeOp[string]{}
	c, v := newAsyncContainer(t, AsyncOptions[string]{Set: set.set, InitialValue: "a"})

	require.NoError(t, v.Write("b"))
	require.NoError(t, v.Push())
	waitFor(t, func() bool { return set.calls() == 1 })
	set.reject(0, boom)
	c.Loop().Settle()
	require.True(t, v.IsRejectedSet())

	v.Reset()

	assert.False(t, v.HasStagedEdit())
	assert.Equal(t, "a", v.GetValue())
	assert.False(t, v.IsRejectedSet())
	assert.False(t, v.IsFulfilled())
	assert.NoError(t, v.GetError())
	assert.Equal(t, 1, set.calls(), "reset makes no host call")

	// Reset only hides the edit; Restore brings it back.
	assert.True(t, v.CanRestore())
	v.Restore()
	assert.True(t, v.HasStagedEdit())
	assert.Equal(t, "b", v.GetValue())
}

func TestAsyncVarDropAndRestore(t *testing.T) {
	c, v := newAsyncContainer(t, AsyncOptions[string]{
		Set:          func(_ context.Context, s string) (string, error) { return s, nil },
		InitialValue: "a",
	})
	obs := &countingObserver{}
	c.AddObserver(obs)

	v.Restore()
	v.Drop()
	assert.Equal(t, 0, obs.count(), "restore and drop without an edit are no-ops")

	require.NoError(t, v.Write("b"))
	v.Drop()
	assert.False(t, v.HasStagedEdit())
	assert.Equal(t, "a", v.GetValue())

	v.Restore()
	assert.True(t, v.HasStagedEdit())
	assert.Equal(t, "b", v.GetValue())

	v.Restore()
	assert.Equal(t, 3, obs.count(), "restoring a visible edit does not notify")

	require.NoError(t, v.Write("c"))
	v.Drop()
	v.Restore()
	assert.Equal(t, "c", v.GetValue(), "a new write supersedes the hidden value")
}

func TestAsyncVarWriteResolvedDiscardsHiddenEdit(t *testing.T) {
	c, v := newAsyncContainer(t, AsyncOptions[string]{
		Set:          func(_ context.Context, s string) (string, error) { return s, nil },
		InitialValue: "a",
	})

	require.NoError(t, v.Write("b"))
	v.Drop()
	require.True(t, v.CanRestore())

	require.NoError(t, c.Write("data", "a"))
	assert.False(t, v.CanRestore())
	assert.False(t, v.HasStagedEdit())

	v.Restore()
	assert.False(t, v.HasStagedEdit(), "restore after the edit was discarded is a no-op")
	assert.Equal(t, "a", v.GetValue())
}

// Concurrent reloads are not de-duplicated. The settlement applied last
// decides the value, even when it belongs to the older call.
func TestAsyncVarConcurrentReloadLastSettlementWins(t *testing.T) {
	get := &fakeOp[string]{}
	c, v := newAsyncContainer(t, AsyncOptions[string]{Get: get.get})
	loop := c.Loop()

	require.NoError(t, v.Reload())
	waitFor(t, func() bool { return get.calls() == 1 })
	require.NoError(t, v.Reload())
	waitFor(t, func() bool { return get.calls() == 2 })

	get.resolve(1, "second call")
	waitFor(t, func() bool { return loop.Len() == 1 })
	loop.Flush()

	assert.Equal(t, "second call", v.GetValue())
	assert.False(t, v.IsPendingGet(), "the first settlement clears pending while the other call is in flight")

	get.resolve(0, "first call")
	loop.Settle()

	assert.Equal(t, "first call", v.GetValue())
	assert.True(t, v.IsFulfilledGet())
}

func TestAsyncVarConcurrentPushLastSettlementWins(t *testing.T) {
	boom := errors.New("boom")
	set := &fakeOp[int]{}
	c, v := newAsyncContainer(t, AsyncOptions[int]{Set: set.set})
	loop := c.Loop()

	require.NoError(t, v.PushValue(1))
	waitFor(t, func() bool { return set.calls() == 1 })
	require.NoError(t, v.PushValue(2))
	waitFor(t, func() bool { return set.calls() == 2 })

	set.resolve(1, 2)
	waitFor(t, func() bool { return loop.Len() == 1 })
	set.reject(0, boom)
	waitFor(t, func() bool { return loop.Len() == 2 })
	loop.Flush()

	assert.Equal(t, 2, v.GetValue(), "a failed settlement leaves the value alone")
	assert.True(t, v.IsRejectedSet())
	assert.False(t, v.IsFulfilledSet(), "one terminal flag per axis")
}

func TestAsyncVarDelayedGetEndToEnd(t *testing.T) {
	delayedResolve := func(value string) GetOperation[string] {
		return func(ctx context.Context) (string, error) {
			time.Sleep(20 * time.Millisecond)
			return value, nil
		}
	}
	c, v := newAsyncContainer(t, AsyncOptions[string]{Get: delayedResolve("hello"), InitialValue: "init"})

	_, err := c.Read("data")
	require.NoError(t, err)
	assert.Equal(t, "init", v.GetValue())
	assert.True(t, v.IsPendingGet())

	c.Loop().Settle()

	assert.Equal(t, "hello", v.GetValue())
	assert.True(t, v.IsFulfilledGet())
	assert.False(t, v.IsPendingGet())
}

func TestAsyncVarSiblingAccessFromFactory(t *testing.T) {
	c, err := NewContainer([]Declaration{
		Var("prefix", "user-"),
		Async("id", func(c *Container) AsyncOptions[string] {
			return AsyncOptions[string]{
				Get: func(context.Context) (string, error) {
					prefix, err := ReadVar[string](c, "prefix")
					return prefix + "42", err
				},
			}
		}),
	}, WithRecorder(NewRecorder()))
	require.NoError(t, err)

	v, err := AsyncOf[string](c, "id")
	require.NoError(t, err)
	c.Loop().Settle()
	assert.Equal(t, "user-42", v.GetValue())
}

func TestNewAsyncVarStandalone(t *testing.T) {
	loop := NewLoop()
	notified := 0
	v := NewAsyncVar(AsyncOptions[int]{
		Get: func(context.Context) (int, error) { return 5, nil },
	}, Binding{Key: "n", NotifyChange: func() { notified++ }}, WithLoop(loop))

	v.Read()
	loop.Settle()
	assert.Equal(t, 5, v.GetValue())
	assert.Equal(t, 1, notified)
	assert.Equal(t, "n", v.Key())
}
