package rstate

import (
	"context"
	"time"
)

// Observability receives lifecycle callbacks from containers. The otel
// sub-package provides an OpenTelemetry implementation.
type Observability interface {
	// OnOperationStart is called when a get or set operation is started.
	OnOperationStart(ctx context.Context, key string, axis Axis) context.Context
	// OnOperationComplete is called once the settlement has been applied.
	OnOperationComplete(ctx context.Context, duration time.Duration, err error)
	// OnNotifyStart is called before observers of key are dispatched.
	OnNotifyStart(ctx context.Context, key string) context.Context
	// OnObserverComplete is called after each observer returns or panics.
	OnObserverComplete(ctx context.Context, duration time.Duration, err error)
	// OnNotifyComplete is called after every matching observer ran.
	OnNotifyComplete(ctx context.Context, delivered int)
}

type noopObservability struct{}

func (noopObservability) OnOperationStart(ctx context.Context, _ string, _ Axis) context.Context {
	return ctx
}
func (noopObservability) OnOperationComplete(context.Context, time.Duration, error) {}
func (noopObservability) OnNotifyStart(ctx context.Context, _ string) context.Context {
	return ctx
}
func (noopObservability) OnObserverComplete(context.Context, time.Duration, error) {}
func (noopObservability) OnNotifyComplete(context.Context, int)                     {}
