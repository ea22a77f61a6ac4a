//go:build linux

package fastsync

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/joeycumines/go-eventloop"
	"github.com/stretchr/testify/require"

	"github.com/joeycumines/go-fastsync/backend"
	"github.com/joeycumines/go-fastsync/internal/fakeserver"
	"github.com/joeycumines/go-fastsync/server"
)

// longDeadline bounds blocking waits that are expected to be satisfied.
func longDeadline() time.Time { return time.Now().Add(10 * time.Second) }

type testEnv struct {
	srv    *fakeserver.Server
	client *server.Client
	dir    string
	kind   backend.Kind
}

func newTestLoop(t *testing.T) *eventloop.Loop {
	t.Helper()
	loop, err := eventloop.New()
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = loop.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return loop
}

func newTestEnv(t *testing.T, kind backend.Kind) *testEnv {
	t.Helper()
	loop := newTestLoop(t)
	dir := t.TempDir()
	srv, err := fakeserver.New(dir, kind, loop)
	require.NoError(t, err)
	t.Cleanup(func() { _ = srv.Shutdown() })
	return &testEnv{srv: srv, client: srv.Client(loop), dir: dir, kind: kind}
}

func (e *testEnv) options(opts ...Option) []Option {
	return append([]Option{WithBackend(e.kind), WithSegmentDir(e.dir), WithMetrics(true)}, opts...)
}

func (e *testEnv) newProcess(t *testing.T, opts ...Option) *Process {
	t.Helper()
	p, err := New(context.Background(), e.client, e.options(opts...)...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.Close() })
	return p
}

func newThread(t *testing.T, p *Process, tid uint32) *Thread {
	t.Helper()
	th, err := p.NewThread(tid)
	require.NoError(t, err)
	return th
}

// forEachBackend runs fn against every backend this host supports.
func forEachBackend(t *testing.T, fn func(t *testing.T, env *testEnv)) {
	for _, kind := range []backend.Kind{backend.KindEventFD, backend.KindPort} {
		t.Run(kind.String(), func(t *testing.T) {
			env := newTestEnv(t, kind)
			if kind == backend.KindPort {
				p := env.newProcess(t)
				th, err := p.NewThread(1 << 30)
				if errors.Is(err, backend.ErrUnsupported) || errors.As(err, new(*BackendError)) {
					t.Skipf("port backend unavailable: %v", err)
				}
				require.NoError(t, err)
				th.Exit()
			}
			fn(t, env)
		})
	}
}

// result is a wait outcome delivered from a goroutine.
type result struct {
	res WaitResult
	err error
}

func waitAsync(ctx context.Context, th *Thread, handles []Handle, opts WaitOptions) <-chan result {
	ch := make(chan result, 1)
	go func() {
		res, err := th.Wait(ctx, handles, opts)
		ch <- result{res, err}
	}()
	return ch
}

func receive(t *testing.T, ch <-chan result) result {
	t.Helper()
	select {
	case r := <-ch:
		return r
	case <-time.After(10 * time.Second):
		t.Fatal("wait did not return")
		return result{}
	}
}

func requireBlocked(t *testing.T, ch <-chan result) {
	t.Helper()
	select {
	case r := <-ch:
		t.Fatalf("wait returned early: %+v %v", r.res, r.err)
	case <-time.After(50 * time.Millisecond):
	}
}
