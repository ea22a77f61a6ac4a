//go:build linux

package fastsync

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMutex(t *testing.T, p *Process, name string, owner uint32) Handle {
	t.Helper()
	h, err := p.CreateMutex(context.Background(), name, owner)
	require.NoError(t, err)
	return h
}

func TestMutex_recursion(t *testing.T) {
	forEachBackend(t, func(t *testing.T, env *testEnv) {
		ctx := context.Background()
		p := env.newProcess(t)
		h := newMutex(t, p, "", 0)
		a, b := newThread(t, p, 1), newThread(t, p, 2)

		for range 3 {
			res, err := a.WaitOne(ctx, h, time.Now())
			require.NoError(t, err)
			require.Equal(t, WaitObject, res.Status)
		}
		info, err := p.QueryMutex(ctx, h)
		require.NoError(t, err)
		assert.Equal(t, uint32(1), info.Owner)
		assert.Equal(t, uint32(3), info.Count)
		assert.False(t, info.Abandoned)

		_, err = b.ReleaseMutex(ctx, h)
		assert.ErrorIs(t, err, ErrNotOwner)
		res, err := b.WaitOne(ctx, h, time.Now())
		require.NoError(t, err)
		assert.Equal(t, WaitTimeout, res.Status)

		for want := uint32(3); want > 0; want-- {
			prev, err := a.ReleaseMutex(ctx, h)
			require.NoError(t, err)
			assert.Equal(t, want, prev)
		}
		_, err = a.ReleaseMutex(ctx, h)
		assert.ErrorIs(t, err, ErrNotOwner)

		res, err = b.WaitOne(ctx, h, time.Now())
		require.NoError(t, err)
		assert.Equal(t, WaitObject, res.Status)
	})
}

// two acquisitions need two releases before the pending waiter succeeds
func TestMutex_scenarioB(t *testing.T) {
	forEachBackend(t, func(t *testing.T, env *testEnv) {
		ctx := context.Background()
		p := env.newProcess(t)
		h := newMutex(t, p, "", 0)
		a, b := newThread(t, p, 1), newThread(t, p, 2)

		for range 2 {
			_, err := a.WaitOne(ctx, h, longDeadline())
			require.NoError(t, err)
		}
		waitB := waitAsync(ctx, b, []Handle{h}, WaitOptions{Deadline: longDeadline()})
		requireBlocked(t, waitB)

		_, err := a.ReleaseMutex(ctx, h)
		require.NoError(t, err)
		requireBlocked(t, waitB)

		_, err = a.ReleaseMutex(ctx, h)
		require.NoError(t, err)
		r := receive(t, waitB)
		require.NoError(t, r.err)
		assert.Equal(t, WaitObject, r.res.Status)

		info, err := p.QueryMutex(ctx, h)
		require.NoError(t, err)
		assert.Equal(t, uint32(2), info.Owner)
		assert.Equal(t, uint32(1), info.Count)
	})
}

func TestMutex_initialOwner(t *testing.T) {
	forEachBackend(t, func(t *testing.T, env *testEnv) {
		ctx := context.Background()
		p := env.newProcess(t)
		h := newMutex(t, p, "", 5)
		th := newThread(t, p, 5)
		prev, err := th.ReleaseMutex(ctx, h)
		require.NoError(t, err)
		assert.Equal(t, uint32(1), prev)

		_, err = p.CreateMutex(ctx, "", ^uint32(0))
		assert.ErrorIs(t, err, ErrInvalidParameter)
	})
}

// the owner exits holding the mutex: exactly one later acquirer, in another
// process, observes the abandonment
func TestMutex_abandonedOnce(t *testing.T) {
	forEachBackend(t, func(t *testing.T, env *testEnv) {
		ctx := context.Background()
		p1 := env.newProcess(t)
		p2 := env.newProcess(t)
		h1 := newMutex(t, p1, "abandon", 0)
		h2, _, err := p2.Open(ctx, "abandon")
		require.NoError(t, err)

		owner := newThread(t, p1, 1)
		for range 2 {
			_, err := owner.WaitOne(ctx, h1, longDeadline())
			require.NoError(t, err)
		}
		b, c := newThread(t, p2, 2), newThread(t, p2, 3)
		waitB := waitAsync(ctx, b, []Handle{h2}, WaitOptions{Deadline: longDeadline()})
		requireBlocked(t, waitB)

		owner.Exit()
		r := receive(t, waitB)
		require.NoError(t, r.err)
		assert.Equal(t, WaitResult{Index: 0, Status: WaitAbandoned}, r.res)

		info, err := p2.QueryMutex(ctx, h2)
		require.NoError(t, err)
		assert.Equal(t, uint32(2), info.Owner)
		assert.Equal(t, uint32(1), info.Count)
		assert.False(t, info.Abandoned)

		_, err = b.ReleaseMutex(ctx, h2)
		require.NoError(t, err)
		res, err := c.WaitOne(ctx, h2, time.Now())
		require.NoError(t, err)
		assert.Equal(t, WaitObject, res.Status)

		assert.Equal(t, uint64(1), p2.Metrics().Abandoned)
	})
}

func TestProcess_AbandonMutexes(t *testing.T) {
	forEachBackend(t, func(t *testing.T, env *testEnv) {
		ctx := context.Background()
		p := env.newProcess(t)
		m1, m2 := newMutex(t, p, "", 9), newMutex(t, p, "", 9)
		newMutex(t, p, "", 0)
		assert.Equal(t, 2, p.AbandonMutexes(9))
		assert.Equal(t, 0, p.AbandonMutexes(9))

		info, err := p.QueryMutex(ctx, m1)
		require.NoError(t, err)
		assert.True(t, info.Abandoned)
		assert.Equal(t, uint32(0), info.Owner)

		th := newThread(t, p, 1)
		res, err := th.Wait(ctx, []Handle{m1, m2}, WaitOptions{All: true, Deadline: time.Now()})
		require.NoError(t, err)
		assert.Equal(t, WaitAbandoned, res.Status)
		assert.Equal(t, 0, res.Index)
	})
}

// the owner's process stops caching the mutex, or goes away entirely, while
// the owner still holds it
func TestMutex_abandonedUncached(t *testing.T) {
	for _, tc := range []struct {
		name string
		// initial creates the mutex already owned, instead of waiting for it
		initial bool
		exit    func(t *testing.T, p *Process, owner *Thread, h Handle)
	}{
		{
			name: "close handle then exit",
			exit: func(t *testing.T, p *Process, owner *Thread, h Handle) {
				require.NoError(t, p.CloseHandle(context.Background(), h))
				owner.Exit()
			},
		},
		{
			name:    "initial owner closes handle then exits",
			initial: true,
			exit: func(t *testing.T, p *Process, owner *Thread, h Handle) {
				require.NoError(t, p.CloseHandle(context.Background(), h))
				owner.Exit()
			},
		},
		{
			name: "process close",
			exit: func(t *testing.T, p *Process, owner *Thread, h Handle) {
				require.NoError(t, p.Close())
			},
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			forEachBackend(t, func(t *testing.T, env *testEnv) {
				ctx := context.Background()
				p1, p2 := env.newProcess(t), env.newProcess(t)
				owner := newThread(t, p1, 1)
				var h1 Handle
				if tc.initial {
					h1 = newMutex(t, p1, "orphan", owner.ID())
				} else {
					h1 = newMutex(t, p1, "orphan", 0)
					res, err := owner.WaitOne(ctx, h1, longDeadline())
					require.NoError(t, err)
					require.Equal(t, WaitObject, res.Status)
				}
				h2, _, err := p2.Open(ctx, "orphan")
				require.NoError(t, err)

				waiter := newThread(t, p2, 2)
				ch := waitAsync(ctx, waiter, []Handle{h2}, WaitOptions{Deadline: longDeadline()})
				requireBlocked(t, ch)

				tc.exit(t, p1, owner, h1)
				r := receive(t, ch)
				require.NoError(t, r.err)
				assert.Equal(t, WaitResult{Index: 0, Status: WaitAbandoned}, r.res)

				info, err := p2.QueryMutex(ctx, h2)
				require.NoError(t, err)
				assert.Equal(t, uint32(2), info.Owner)
				assert.False(t, info.Abandoned)
			})
		})
	}
}

// a fully released mutex is no longer the thread's to abandon
func TestThread_Exit_afterRelease(t *testing.T) {
	forEachBackend(t, func(t *testing.T, env *testEnv) {
		ctx := context.Background()
		p := env.newProcess(t)
		h := newMutex(t, p, "", 0)
		a := newThread(t, p, 1)
		for range 2 {
			_, err := a.WaitOne(ctx, h, time.Now())
			require.NoError(t, err)
		}
		for range 2 {
			_, err := a.ReleaseMutex(ctx, h)
			require.NoError(t, err)
		}
		a.ownedMu.Lock()
		assert.Empty(t, a.owned)
		a.ownedMu.Unlock()
		a.Exit()

		info, err := p.QueryMutex(ctx, h)
		require.NoError(t, err)
		assert.False(t, info.Abandoned)
		assert.Equal(t, uint32(0), info.Owner)
	})
}
