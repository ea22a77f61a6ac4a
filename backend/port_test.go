package backend

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/joeycumines/go-eventloop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeSem is an in-memory kernelSem, registered by id so a LoopCoordinator
// can post it.
type fakeSem struct {
	ch     chan struct{}
	id     int
	closed atomic.Bool
}

type fakeSems struct {
	mu   sync.Mutex
	sems map[int]*fakeSem
	next int
}

func (f *fakeSems) new() (kernelSem, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.next++
	s := &fakeSem{id: f.next, ch: make(chan struct{}, 1024)}
	if f.sems == nil {
		f.sems = make(map[int]*fakeSem)
	}
	f.sems[s.id] = s
	return s, nil
}

func (f *fakeSems) post(id int) error {
	f.mu.Lock()
	s := f.sems[id]
	f.mu.Unlock()
	if s == nil {
		return nil
	}
	return s.Post()
}

func (s *fakeSem) ID() int { return s.id }

func (s *fakeSem) Reset() error {
	for {
		select {
		case <-s.ch:
		default:
			return nil
		}
	}
}

func (s *fakeSem) Post() error {
	select {
	case s.ch <- struct{}{}:
	default:
	}
	return nil
}

func (s *fakeSem) Wait(deadline time.Time) error {
	var timeout <-chan time.Time
	if !deadline.IsZero() {
		d := time.Until(deadline)
		if d <= 0 {
			return ErrTimeout
		}
		timer := time.NewTimer(d)
		defer timer.Stop()
		timeout = timer.C
	}
	select {
	case <-s.ch:
		return nil
	case <-timeout:
		return ErrTimeout
	}
}

func (s *fakeSem) Close() error {
	s.closed.Store(true)
	return nil
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

func newTestPort(t *testing.T) (*portBackend, *LoopCoordinator) {
	t.Helper()
	sems := &fakeSems{}
	coord := NewLoopCoordinator(newTestLoop(t))
	coord.post = sems.post
	b, err := NewPortBackend(coord, WithCoordinatorTimeout(time.Second), nil)
	require.NoError(t, err)
	pb := b.(*portBackend)
	pb.newSem = sems.new
	return pb, coord
}

func TestNewPortBackend_requiresCoordinator(t *testing.T) {
	_, err := NewPortBackend(nil)
	assert.Error(t, err)
}

func TestPortBackend_importIndexZero(t *testing.T) {
	b, _ := newTestPort(t)
	_, err := b.Import(0, Descriptor{})
	assert.ErrorIs(t, err, ErrNotImplemented)
	assert.Equal(t, KindPort, b.Kind())
}

func TestPortBackend_wake(t *testing.T) {
	b, coord := newTestPort(t)
	p1, err := b.Import(1, Descriptor{})
	require.NoError(t, err)
	p2, err := b.Import(2, Descriptor{})
	require.NoError(t, err)
	w, err := b.NewWaiter(7)
	require.NoError(t, err)
	defer w.Close()

	done := make(chan error, 1)
	registered := make(chan struct{})
	go func() {
		done <- w.Wait([]Primitive{p1, p2}, false, time.Now().Add(5*time.Second), func() bool {
			close(registered)
			return false
		})
	}()
	<-registered

	n, err := coord.Waiters(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	require.NoError(t, p2.Signal(1))
	require.NoError(t, <-done)

	// unregistered on return
	n, err = coord.Waiters(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestPortBackend_signalBeforeBlockIsNotLost(t *testing.T) {
	b, _ := newTestPort(t)
	p, err := b.Import(3, Descriptor{})
	require.NoError(t, err)
	w, err := b.NewWaiter(1)
	require.NoError(t, err)
	defer w.Close()

	// signal lands between registration and blocking
	err = w.Wait([]Primitive{p}, false, time.Now().Add(5*time.Second), func() bool {
		require.NoError(t, p.Signal(1))
		return false
	})
	require.NoError(t, err)
}

func TestPortBackend_timeout(t *testing.T) {
	b, _ := newTestPort(t)
	p, err := b.Import(3, Descriptor{})
	require.NoError(t, err)
	w, err := b.NewWaiter(1)
	require.NoError(t, err)
	defer w.Close()

	start := time.Now()
	err = w.Wait([]Primitive{p}, false, start.Add(20*time.Millisecond), nil)
	assert.ErrorIs(t, err, ErrTimeout)
	assert.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)
}

func TestPortBackend_alert(t *testing.T) {
	b, _ := newTestPort(t)
	p, err := b.Import(3, Descriptor{})
	require.NoError(t, err)
	w, err := b.NewWaiter(1)
	require.NoError(t, err)
	defer w.Close()

	require.NoError(t, w.Alert())
	require.NoError(t, w.Wait([]Primitive{p}, true, time.Now().Add(5*time.Second), nil))
	ok, err := w.TakeAlert()
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = w.TakeAlert()
	require.NoError(t, err)
	assert.False(t, ok)

	// a stale post from the consumed alert does not satisfy the next wait
	err = w.Wait([]Primitive{p}, true, time.Now().Add(20*time.Millisecond), nil)
	assert.ErrorIs(t, err, ErrTimeout)
}

func TestPortBackend_foreignPrimitive(t *testing.T) {
	b, _ := newTestPort(t)
	w, err := b.NewWaiter(1)
	require.NoError(t, err)
	defer w.Close()
	err = w.Wait([]Primitive{nopPrimitive{}}, false, time.Time{}, nil)
	assert.ErrorIs(t, err, ErrNotImplemented)
	assert.NoError(t, w.Close())
	assert.ErrorIs(t, w.Close(), ErrClosed)
}

type nopPrimitive struct{}

func (nopPrimitive) Signal(uint64) error      { return nil }
func (nopPrimitive) Consume() (uint64, error) { return 0, nil }
func (nopPrimitive) Pending() (bool, error)   { return false, nil }
func (nopPrimitive) Fd() int                  { return -1 }
func (nopPrimitive) Close() error             { return nil }

func TestLoopCoordinator_reregisterReplaces(t *testing.T) {
	var (
		mu     sync.Mutex
		posted []int
	)
	coord := NewLoopCoordinator(newTestLoop(t))
	coord.post = func(sem int) error {
		mu.Lock()
		defer mu.Unlock()
		posted = append(posted, sem)
		return nil
	}
	ctx := context.Background()
	require.NoError(t, coord.RegisterWait(ctx, 1, 100, []uint32{5, 6}))
	require.NoError(t, coord.RegisterWait(ctx, 1, 101, []uint32{6}))
	require.NoError(t, coord.RegisterWait(ctx, 2, 200, []uint32{6}))

	require.NoError(t, coord.Wake(ctx, 5))
	require.NoError(t, coord.Wake(ctx, 6))
	require.NoError(t, coord.UnregisterWait(ctx, 2))
	require.NoError(t, coord.UnregisterWait(ctx, 2))
	require.NoError(t, coord.Wake(ctx, 6))

	mu.Lock()
	defer mu.Unlock()
	assert.ElementsMatch(t, []int{101, 200, 101}, posted)
}

func TestLoopCoordinator_contextDone(t *testing.T) {
	block := make(chan struct{})
	coord := NewLoopCoordinator(newTestLoop(t))
	coord.post = func(int) error {
		<-block
		return nil
	}
	defer close(block)
	ctx := context.Background()
	require.NoError(t, coord.RegisterWait(ctx, 1, 1, []uint32{1}))

	go func() { _ = coord.Wake(ctx, 1) }()
	time.Sleep(10 * time.Millisecond)

	ctx, cancel := context.WithTimeout(ctx, 10*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, coord.Wake(ctx, 1), context.DeadlineExceeded)
}

func TestPortBackend_interrupt(t *testing.T) {
	b, _ := newTestPort(t)
	p, err := b.Import(3, Descriptor{})
	require.NoError(t, err)
	w, err := b.NewWaiter(1)
	require.NoError(t, err)
	defer w.Close()

	armed := make(chan struct{})
	go func() {
		<-armed
		_ = w.Interrupt()
	}()
	require.NoError(t, w.Wait([]Primitive{p}, false, time.Now().Add(5*time.Second), func() bool {
		close(armed)
		return false
	}))
	ok, err := w.TakeAlert()
	require.NoError(t, err)
	assert.False(t, ok)
}
