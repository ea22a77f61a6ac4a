package backend

import (
	"context"
	"slices"
)

// Loop runs submitted tasks serially, in submission order.
// *eventloop.Loop satisfies it.
type Loop interface {
	Submit(func()) error
}

type registration struct {
	indices []uint32
	sem     int
}

// LoopCoordinator is a Coordinator whose state is owned by a single event
// loop. Every call is a message executed on the loop, so registrations and
// wakes are totally ordered.
type LoopCoordinator struct {
	loop    Loop
	post    func(sem int) error
	waiters map[uint32]registration
	byIndex map[uint32]map[uint32]struct{}
}

// NewLoopCoordinator returns a coordinator executing on loop, which the
// caller must run.
func NewLoopCoordinator(loop Loop) *LoopCoordinator {
	return &LoopCoordinator{
		loop:    loop,
		post:    PostKernelSem,
		waiters: make(map[uint32]registration),
		byIndex: make(map[uint32]map[uint32]struct{}),
	}
}

var _ Coordinator = (*LoopCoordinator)(nil)

func (c *LoopCoordinator) RegisterWait(ctx context.Context, tid uint32, sem int, indices []uint32) error {
	indices = slices.Clone(indices)
	return c.call(ctx, func() error {
		c.unregister(tid)
		c.waiters[tid] = registration{sem: sem, indices: indices}
		for _, index := range indices {
			tids := c.byIndex[index]
			if tids == nil {
				tids = make(map[uint32]struct{})
				c.byIndex[index] = tids
			}
			tids[tid] = struct{}{}
		}
		return nil
	})
}

func (c *LoopCoordinator) UnregisterWait(ctx context.Context, tid uint32) error {
	return c.call(ctx, func() error {
		c.unregister(tid)
		return nil
	})
}

func (c *LoopCoordinator) Wake(ctx context.Context, index uint32) error {
	return c.call(ctx, func() error {
		var firstErr error
		for tid := range c.byIndex[index] {
			if err := c.post(c.waiters[tid].sem); err != nil && firstErr == nil {
				firstErr = err
			}
		}
		return firstErr
	})
}

// Waiters returns the number of registered threads.
func (c *LoopCoordinator) Waiters(ctx context.Context) (n int, err error) {
	err = c.call(ctx, func() error {
		n = len(c.waiters)
		return nil
	})
	return
}

// unregister must run on the loop.
func (c *LoopCoordinator) unregister(tid uint32) {
	reg, ok := c.waiters[tid]
	if !ok {
		return
	}
	delete(c.waiters, tid)
	for _, index := range reg.indices {
		if tids := c.byIndex[index]; tids != nil {
			delete(tids, tid)
			if len(tids) == 0 {
				delete(c.byIndex, index)
			}
		}
	}
}

func (c *LoopCoordinator) call(ctx context.Context, fn func() error) error {
	done := make(chan error, 1)
	if err := c.loop.Submit(func() { done <- fn() }); err != nil {
		return err
	}
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}
