package rstate

import "context"

// Option configures a Container or Registry.
type Option func(*config)

type config struct {
	ctx          context.Context
	loop         *Loop
	recorder     *Recorder
	logger       Logger
	obs          Observability
	panicHandler PanicHandler
}

func defaultConfig() *config {
	return &config{
		ctx:      context.Background(),
		recorder: DefaultRecorder,
		logger:   NopLogger(),
		obs:      noopObservability{},
	}
}

func applyOptions(opts []Option) *config {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(cfg)
	}
	if cfg.loop == nil {
		cfg.loop = NewLoop()
	}
	return cfg
}

// WithContext sets the context passed to host operations. Defaults to
// context.Background().
func WithContext(ctx context.Context) Option {
	return func(c *config) {
		if ctx != nil {
			c.ctx = ctx
		}
	}
}

// WithLoop sets the loop on which operation settlements are applied. Several
// containers may share one loop. Each container gets its own loop otherwise.
func WithLoop(loop *Loop) Option {
	return func(c *config) {
		c.loop = loop
	}
}

// WithRecorder sets the dependency recorder. Defaults to DefaultRecorder.
func WithRecorder(r *Recorder) Option {
	return func(c *config) {
		if r != nil {
			c.recorder = r
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger Logger) Option {
	return func(c *config) {
		if logger == nil {
			c.logger = NopLogger()
			return
		}
		c.logger = logger
	}
}

// WithObservability enables tracing and metrics hooks.
func WithObservability(obs Observability) Option {
	return func(c *config) {
		if obs != nil {
			c.obs = obs
		}
	}
}

// WithPanicHandler sets a function to be called when an observer panics.
func WithPanicHandler(handler PanicHandler) Option {
	return func(c *config) {
		c.panicHandler = handler
	}
}
