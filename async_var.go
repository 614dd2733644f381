package rstate

import (
	"context"
	"fmt"
	"reflect"
	"sync"
	"time"
)

// GetOperation retrieves a variable's value from the host.
type GetOperation[V any] func(ctx context.Context) (V, error)

// SetOperation stores value on the host and returns the value to adopt.
type SetOperation[V any] func(ctx context.Context, value V) (V, error)

// AsyncOptions configures an async variable. At least one of Get and Set
// should be set; a missing operation is reported by the call that needs it.
type AsyncOptions[V any] struct {
	// Get retrieves the value. It runs automatically on the first read.
	Get GetOperation[V]
	// Set stores a value. Without it the variable cannot be written.
	Set SetOperation[V]
	// InitialValue is visible until the first get or set settles.
	InitialValue V
	// Equal compares values for write suppression and for telling a staged
	// edit apart from the resolved value. Defaults to reflect.DeepEqual.
	Equal func(a, b V) bool
}

// Async declares an async variable. factory runs once while the container
// is set up and receives the container, so its operations can reach sibling
// variables.
func Async[V any](key string, factory func(c *Container) AsyncOptions[V]) Declaration {
	return Declaration{
		key: key,
		build: func(c *Container, b Binding, cfg *config) (Handler, error) {
			if factory == nil {
				return nil, configError(key, "declare", fmt.Errorf("nil options factory"))
			}
			return newAsyncVar(factory(c), b, cfg), nil
		},
	}
}

type axisState struct {
	pending   bool
	fulfilled bool
	rejected  bool
	err       error
}

// begin enters Pending, clearing the axis's terminal flags and error.
func (a *axisState) begin() {
	a.pending = true
	a.fulfilled = false
	a.rejected = false
	a.err = nil
}

// AsyncVar is a variable whose value is produced and updated by host
// operations. It tracks retrieval (GET) and update (SET) on two independent
// axes, and holds an optional staged edit that is shown instead of the
// resolved value until it is pushed, dropped or superseded.
//
// Operations are not de-duplicated. Calling Reload or Push while the same
// axis is pending starts a second operation; whichever settles last decides
// the value and flags.
type AsyncVar[V any] struct {
	mu      sync.Mutex
	opts    AsyncOptions[V]
	binding Binding
	cfg     *config

	shape Shape

	value     V
	initiated bool
	get       axisState
	set       axisState

	// staged is true while a staged value exists, visible or not.
	staged      bool
	stagedValue V
	visible     bool
}

// NewAsyncVar creates an async variable outside of a container, bound to b.
// Most callers declare variables with Async instead.
func NewAsyncVar[V any](opts AsyncOptions[V], b Binding, options ...Option) *AsyncVar[V] {
	if b.RecordRead == nil {
		b.RecordRead = func() {}
	}
	if b.NotifyChange == nil {
		b.NotifyChange = func() {}
	}
	return newAsyncVar(opts, b, applyOptions(options))
}

func newAsyncVar[V any](opts AsyncOptions[V], b Binding, cfg *config) *AsyncVar[V] {
	if opts.Equal == nil {
		opts.Equal = func(a, b V) bool { return reflect.DeepEqual(a, b) }
	}
	v := &AsyncVar[V]{
		opts:    opts,
		binding: b,
		cfg:     cfg,
		value:   opts.InitialValue,
		shape:   shapeOfType(reflect.TypeFor[V]()),
	}
	if v.shape == ShapeUnknown {
		v.shape = shapeOfValue(any(opts.InitialValue))
	}
	return v
}

// Key returns the variable's state key.
func (v *AsyncVar[V]) Key() string {
	return v.binding.Key
}

// Read starts the first get operation if needed and returns the proxy when
// the visible value is composite, or the variable itself otherwise.
func (v *AsyncVar[V]) Read() any {
	v.initFirstGet()
	if p, ok := v.Wrapped(); ok {
		return p
	}
	return v
}

// Wrapped returns a Proxy over the visible value when it is composite.
func (v *AsyncVar[V]) Wrapped() (*Proxy[V], bool) {
	v.binding.RecordRead()
	v.mu.Lock()
	shape := v.shape
	v.mu.Unlock()

	if !shape.Composite() {
		return nil, false
	}
	return newProxy(v), true
}

// Shape returns how the variable's values are classified.
func (v *AsyncVar[V]) Shape() Shape {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.shape
}

// Get implements Handler.
func (v *AsyncVar[V]) Get() any {
	return v.Read()
}

// ShouldAcceptWrite implements Handler. A write equal to the visible value
// is redundant unless a hidden edit is waiting to be discarded. Values of
// the wrong type, and any write to a variable without a set operation, are
// accepted so Set can report the error.
func (v *AsyncVar[V]) ShouldAcceptWrite(value any) bool {
	if v.opts.Set == nil {
		// Write reports the misuse.
		return true
	}
	t, ok := castValue[V](value)
	if !ok {
		return true
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.staged && !v.visible {
		// A hidden edit is discarded by any write.
		return true
	}
	return !v.opts.Equal(v.visibleValue(), t)
}

// Set implements Handler.
func (v *AsyncVar[V]) Set(value any) error {
	t, ok := castValue[V](value)
	if !ok {
		return misuseError(v.binding.Key, "write", fmt.Errorf("%w: have %T, want %v", ErrTypeMismatch, value, reflect.TypeFor[V]()))
	}
	return v.Write(t)
}

// Write stages value as a local edit. Writing the resolved value clears the
// staged edit instead. No host operation is started.
func (v *AsyncVar[V]) Write(value V) error {
	if v.opts.Set == nil {
		if v.opts.Get != nil {
			return misuseError(v.binding.Key, "write", ErrReadOnly)
		}
		return configError(v.binding.Key, "write", ErrMissingSet)
	}

	v.mu.Lock()
	if v.opts.Equal(value, v.value) {
		v.clearOverlay()
	} else {
		v.staged = true
		v.stagedValue = value
		v.visible = true
		v.resolveShape(value)
	}
	v.mu.Unlock()

	v.binding.NotifyChange()
	return nil
}

// Push sends the visible staged edit, or the resolved value when there is
// none, to the set operation.
func (v *AsyncVar[V]) Push() error {
	return v.push(nil)
}

// PushValue sends value to the set operation.
func (v *AsyncVar[V]) PushValue(value V) error {
	return v.push(&value)
}

func (v *AsyncVar[V]) push(explicit *V) error {
	if v.opts.Set == nil {
		return configError(v.binding.Key, "push", ErrMissingSet)
	}

	v.mu.Lock()
	v.set.begin()
	v.get.fulfilled = false
	v.get.rejected = false
	value := v.visibleValue()
	if explicit != nil {
		value = *explicit
	}
	v.mu.Unlock()

	v.binding.NotifyChange()
	v.startSet(value)
	return nil
}

// Reload starts the get operation again, whether or not it ran before.
func (v *AsyncVar[V]) Reload() error {
	if v.opts.Get == nil {
		return configError(v.binding.Key, "reload", ErrMissingGet)
	}

	v.mu.Lock()
	v.initiated = true
	v.get.begin()
	v.mu.Unlock()

	v.binding.NotifyChange()
	v.startGet()
	return nil
}

// Reset hides the staged edit and clears every terminal flag and error. The
// staged value is kept and can be brought back with Restore. In-flight
// operations are not cancelled and no host operation is started.
func (v *AsyncVar[V]) Reset() {
	v.mu.Lock()
	v.visible = false
	v.get.fulfilled, v.get.rejected, v.get.err = false, false, nil
	v.set.fulfilled, v.set.rejected, v.set.err = false, false, nil
	v.mu.Unlock()

	v.binding.NotifyChange()
}

// Drop hides the staged edit without touching any status flag. It is a
// no-op when nothing is staged.
func (v *AsyncVar[V]) Drop() {
	v.mu.Lock()
	if !v.staged || !v.visible {
		v.mu.Unlock()
		return
	}
	v.visible = false
	v.mu.Unlock()

	v.binding.NotifyChange()
}

// Restore makes a hidden staged edit visible again. It is a no-op when
// nothing is staged or the edit is already visible.
func (v *AsyncVar[V]) Restore() {
	v.mu.Lock()
	if !v.staged || v.visible {
		v.mu.Unlock()
		return
	}
	v.visible = true
	v.mu.Unlock()

	v.binding.NotifyChange()
}

func (v *AsyncVar[V]) initFirstGet() {
	v.mu.Lock()
	if v.opts.Get == nil || v.initiated {
		v.mu.Unlock()
		return
	}
	v.initiated = true
	v.get.begin()
	v.mu.Unlock()

	v.startGet()
}

func (v *AsyncVar[V]) startGet() {
	ctx := v.cfg.obs.OnOperationStart(v.cfg.ctx, v.binding.Key, AxisGet)
	start := time.Now()
	op := v.opts.Get
	v.cfg.logger.Debug("get started", "key", v.binding.Key)

	v.cfg.loop.Go(func() {
		value, err := runOperation(AxisGet, func() (V, error) { return op(ctx) })
		v.dispatch(func() { v.settleGet(ctx, start, value, err) })
	})
}

func (v *AsyncVar[V]) startSet(value V) {
	ctx := v.cfg.obs.OnOperationStart(v.cfg.ctx, v.binding.Key, AxisSet)
	start := time.Now()
	op := v.opts.Set
	v.cfg.logger.Debug("set started", "key", v.binding.Key)

	v.cfg.loop.Go(func() {
		result, err := runOperation(AxisSet, func() (V, error) { return op(ctx, value) })
		v.dispatch(func() { v.settleSet(ctx, start, result, err) })
	})
}

func (v *AsyncVar[V]) dispatch(fn func()) {
	if !v.cfg.loop.Dispatch(fn) {
		v.cfg.logger.Error("settlement dropped", "key", v.binding.Key, "err", ErrLoopClosed)
	}
}

// settleGet applies a get settlement. It is applied unconditionally, even
// if a newer get was started in the meantime.
func (v *AsyncVar[V]) settleGet(ctx context.Context, start time.Time, value V, err error) {
	v.mu.Lock()
	if err != nil {
		v.get.fulfilled = false
		v.get.rejected = true
		v.get.err = &OperationError{Key: v.binding.Key, Axis: AxisGet, Err: err}
	} else {
		v.get.fulfilled = true
		v.get.rejected = false
		v.get.err = nil
		v.value = value
		v.clearOverlay()
		v.resolveShape(value)
	}
	v.get.pending = false
	v.set.rejected = false
	v.mu.Unlock()

	v.finish(ctx, AxisGet, start, err)
}

// settleSet applies a set settlement. Like settleGet it never checks for
// newer operations.
func (v *AsyncVar[V]) settleSet(ctx context.Context, start time.Time, value V, err error) {
	v.mu.Lock()
	if err != nil {
		v.set.fulfilled = false
		v.set.rejected = true
		v.set.err = &OperationError{Key: v.binding.Key, Axis: AxisSet, Err: err}
	} else {
		v.set.fulfilled = true
		v.set.rejected = false
		v.set.err = nil
		v.value = value
		v.clearOverlay()
		v.resolveShape(value)
	}
	v.set.pending = false
	v.get.rejected = false
	v.mu.Unlock()

	v.finish(ctx, AxisSet, start, err)
}

func (v *AsyncVar[V]) finish(ctx context.Context, axis Axis, start time.Time, err error) {
	elapsed := time.Since(start)
	v.cfg.obs.OnOperationComplete(ctx, elapsed, err)
	if err != nil {
		v.cfg.logger.Error("operation rejected", "key", v.binding.Key, "axis", axis.String(), "err", err)
	} else {
		v.cfg.logger.Debug("operation fulfilled", "key", v.binding.Key, "axis", axis.String(), "duration", elapsed)
	}
	v.binding.NotifyChange()
}

// runOperation calls op, turning a panic into an error.
func runOperation[V any](axis Axis, op func() (V, error)) (value V, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &PanicError{Op: axis.String(), Value: r, StackTrace: captureStack()}
		}
	}()
	return op()
}

// clearOverlay discards the staged edit. Callers hold v.mu.
func (v *AsyncVar[V]) clearOverlay() {
	var zero V
	v.staged = false
	v.visible = false
	v.stagedValue = zero
}

// visibleValue returns the staged value if visible, else the resolved one.
// Callers hold v.mu.
func (v *AsyncVar[V]) visibleValue() V {
	if v.visible {
		return v.stagedValue
	}
	return v.value
}

// resolveShape settles the shape of interface-typed variables on the first
// non-nil value. Callers hold v.mu.
func (v *AsyncVar[V]) resolveShape(value V) {
	if v.shape == ShapeUnknown {
		v.shape = shapeOfValue(any(value))
	}
}

// IsPending reports whether either axis is pending.
func (v *AsyncVar[V]) IsPending() bool {
	return v.IsPendingGet() || v.IsPendingSet()
}

// IsPendingGet reports whether a get operation is in flight.
func (v *AsyncVar[V]) IsPendingGet() bool {
	v.binding.RecordRead()
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.get.pending
}

// IsPendingSet reports whether a set operation is in flight.
func (v *AsyncVar[V]) IsPendingSet() bool {
	v.binding.RecordRead()
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.set.pending
}

// IsRejected reports whether either axis is rejected.
func (v *AsyncVar[V]) IsRejected() bool {
	return v.IsRejectedGet() || v.IsRejectedSet()
}

// IsRejectedGet reports whether the last get settlement failed.
func (v *AsyncVar[V]) IsRejectedGet() bool {
	v.binding.RecordRead()
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.get.rejected
}

// IsRejectedSet reports whether the last set settlement failed.
func (v *AsyncVar[V]) IsRejectedSet() bool {
	v.binding.RecordRead()
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.set.rejected
}

// GetError returns the get error, or the set error when there is none.
func (v *AsyncVar[V]) GetError() error {
	if err := v.GetErrorGet(); err != nil {
		return err
	}
	return v.GetErrorSet()
}

// GetErrorGet returns the *OperationError of the last failed get.
func (v *AsyncVar[V]) GetErrorGet() error {
	v.binding.RecordRead()
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.get.err
}

// GetErrorSet returns the *OperationError of the last failed set.
func (v *AsyncVar[V]) GetErrorSet() error {
	v.binding.RecordRead()
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.set.err
}

// IsFulfilled reports whether either axis is fulfilled.
func (v *AsyncVar[V]) IsFulfilled() bool {
	return v.IsFulfilledGet() || v.IsFulfilledSet()
}

// IsFulfilledGet reports whether the last get settlement succeeded.
func (v *AsyncVar[V]) IsFulfilledGet() bool {
	v.binding.RecordRead()
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.get.fulfilled
}

// IsFulfilledSet reports whether the last set settlement succeeded.
func (v *AsyncVar[V]) IsFulfilledSet() bool {
	v.binding.RecordRead()
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.set.fulfilled
}

// GetValue returns the visible staged edit, or the resolved value.
func (v *AsyncVar[V]) GetValue() V {
	v.binding.RecordRead()
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.visibleValue()
}

// HasStagedEdit reports whether a staged edit is visible.
func (v *AsyncVar[V]) HasStagedEdit() bool {
	v.binding.RecordRead()
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.visible
}

// CanRestore reports whether a hidden staged edit can be restored.
func (v *AsyncVar[V]) CanRestore() bool {
	v.binding.RecordRead()
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.staged && !v.visible
}

func (v *AsyncVar[V]) snapshot() VarSnapshot {
	v.mu.Lock()
	defer v.mu.Unlock()

	s := VarSnapshot{
		Key:            v.binding.Key,
		Kind:           "async",
		Value:          v.value,
		Shape:          v.shape.String(),
		Initiated:      v.initiated,
		Get:            axisSnapshot(v.get),
		Set:            axisSnapshot(v.set),
		Staged:         v.staged,
		OverlayVisible: v.visible,
	}
	if v.staged {
		s.StagedValue = v.stagedValue
	}
	return s
}
