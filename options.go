package fastsync

import (
	"context"
	"errors"
	"time"

	"github.com/joeycumines/logiface"

	"github.com/joeycumines/go-fastsync/backend"
)

// DefaultRPCTimeout bounds server calls made without a caller context.
const DefaultRPCTimeout = 5 * time.Second

// Fallback performs a wait through the server-synchronous path, for handles
// the fast path answers ErrNotImplemented.
type Fallback interface {
	Wait(ctx context.Context, tid uint32, handles []Handle, opts WaitOptions) (WaitResult, error)
}

// FallbackFunc adapts a function to Fallback.
type FallbackFunc func(ctx context.Context, tid uint32, handles []Handle, opts WaitOptions) (WaitResult, error)

func (f FallbackFunc) Wait(ctx context.Context, tid uint32, handles []Handle, opts WaitOptions) (WaitResult, error) {
	return f(ctx, tid, handles, opts)
}

// processOptions holds configuration for New.
type processOptions struct {
	logger     *logiface.Logger[logiface.Event]
	fallback   Fallback
	fatal      func(*FatalError)
	getenv     func(string) string
	segmentDir string
	rpcTimeout time.Duration
	spin       int
	backend    backend.Kind
	backendSet bool
	metrics    bool
}

// Option configures a Process.
type Option interface {
	applyProcess(*processOptions) error
}

type processOptionImpl struct {
	applyProcessFunc func(*processOptions) error
}

func (o *processOptionImpl) applyProcess(opts *processOptions) error {
	return o.applyProcessFunc(opts)
}

// WithBackend selects the fast-path backend explicitly, overriding the
// environment (see ConfigFromEnv). backend.KindNone disables the fast path.
func WithBackend(kind backend.Kind) Option {
	return &processOptionImpl{func(opts *processOptions) error {
		switch kind {
		case backend.KindNone, backend.KindEventFD, backend.KindPort:
		default:
			return errors.New("fastsync: unknown backend " + kind.String())
		}
		opts.backend, opts.backendSet = kind, true
		return nil
	}}
}

// WithLogger sets the structured logger. A nil logger disables logging,
// which is the default.
func WithLogger(logger *logiface.Logger[logiface.Event]) Option {
	return &processOptionImpl{func(opts *processOptions) error {
		opts.logger = logger
		return nil
	}}
}

// WithSegmentDir sets the directory holding the shared segment, which
// defaults to shm.DefaultDir.
func WithSegmentDir(dir string) Option {
	return &processOptionImpl{func(opts *processOptions) error {
		opts.segmentDir = dir
		return nil
	}}
}

// WithFatalHandler replaces the default fatal handler, which logs the
// error and exits the process with status 1. If the handler returns, New
// returns the *FatalError.
func WithFatalHandler(fn func(*FatalError)) Option {
	return &processOptionImpl{func(opts *processOptions) error {
		opts.fatal = fn
		return nil
	}}
}

// WithMetrics enables counters, read with Process.Metrics.
func WithMetrics(enabled bool) Option {
	return &processOptionImpl{func(opts *processOptions) error {
		opts.metrics = enabled
		return nil
	}}
}

// WithFallback installs the server-synchronous waiter used, transparently,
// for waits that include handles the fast path cannot represent.
func WithFallback(f Fallback) Option {
	return &processOptionImpl{func(opts *processOptions) error {
		opts.fallback = f
		return nil
	}}
}

// WithRPCTimeout bounds server calls that have no caller context, such as
// the port backend's wait registrations. Defaults to DefaultRPCTimeout.
func WithRPCTimeout(d time.Duration) Option {
	return &processOptionImpl{func(opts *processOptions) error {
		if d <= 0 {
			return errors.New("fastsync: rpc timeout must be positive")
		}
		opts.rpcTimeout = d
		return nil
	}}
}

// WithSpinLimit sets how many times the manual-reset event lock spins before
// yielding. Defaults to shm.DefaultSpin.
func WithSpinLimit(n int) Option {
	return &processOptionImpl{func(opts *processOptions) error {
		if n <= 0 {
			return errors.New("fastsync: spin limit must be positive")
		}
		opts.spin = n
		return nil
	}}
}

// withGetenv replaces os.Getenv, for tests.
func withGetenv(fn func(string) string) Option {
	return &processOptionImpl{func(opts *processOptions) error {
		opts.getenv = fn
		return nil
	}}
}

func resolveProcessOptions(opts []Option) (*processOptions, error) {
	cfg := &processOptions{
		rpcTimeout: DefaultRPCTimeout,
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt.applyProcess(cfg); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}
