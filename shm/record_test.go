package shm

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// heapRecord backs a record with ordinary (8-byte aligned) Go memory.
func heapRecord() Record {
	buf := make([]uint64, RecordSize/8)
	b := unsafeBytes(buf)
	return Record{b: b}
}

func TestSemaphore_releaseBounded(t *testing.T) {
	s := heapRecord().Semaphore()
	s.Init(1, 3)

	prev, err := s.Release(2)
	require.NoError(t, err)
	assert.Equal(t, uint32(1), prev)
	assert.Equal(t, uint32(3), s.Count())

	prev, err = s.Release(1)
	assert.ErrorIs(t, err, ErrLimitExceeded)
	assert.Equal(t, uint32(3), prev)
	assert.Equal(t, uint32(3), s.Count(), "failed release must not change the count")
}

func TestSemaphore_tryAcquire(t *testing.T) {
	s := heapRecord().Semaphore()
	s.Init(2, 2)
	assert.True(t, s.TryAcquire())
	assert.True(t, s.TryAcquire())
	assert.False(t, s.TryAcquire())
	assert.Equal(t, uint32(0), s.Count())
}

func TestSemaphore_concurrentConservation(t *testing.T) {
	const (
		workers = 8
		rounds  = 2000
	)
	s := heapRecord().Semaphore()
	s.Init(0, workers*rounds)

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < rounds; j++ {
				_, err := s.Release(1)
				if err != nil {
					t.Error(err)
					return
				}
			}
		}()
	}
	wg.Wait()

	var mu sync.Mutex
	taken := 0
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			n := 0
			for s.TryAcquire() {
				n++
			}
			mu.Lock()
			taken += n
			mu.Unlock()
		}()
	}
	wg.Wait()
	assert.Equal(t, workers*rounds, taken)
	assert.Equal(t, uint32(0), s.Count())
}

func TestMutex_recursion(t *testing.T) {
	m := heapRecord().Mutex()
	m.Init(NoOwner)

	for i := 0; i < 3; i++ {
		res, _, err := m.TryAcquire(7)
		require.NoError(t, err)
		require.Equal(t, Acquired, res)
	}
	owner, count := m.Load()
	assert.Equal(t, uint32(7), owner)
	assert.Equal(t, uint32(3), count)

	res, _, err := m.TryAcquire(8)
	require.NoError(t, err)
	assert.Equal(t, AcquireFailed, res)

	_, _, err = m.Release(8)
	assert.ErrorIs(t, err, ErrNotOwner)

	for i := 3; i > 0; i-- {
		prev, freed, err := m.Release(7)
		require.NoError(t, err)
		assert.Equal(t, uint32(i), prev)
		assert.Equal(t, i == 1, freed)
	}
	owner, count = m.Load()
	assert.Equal(t, NoOwner, owner)
	assert.Zero(t, count)
	assert.True(t, m.Available(8))
}

func TestMutex_abandonedObservedOnce(t *testing.T) {
	m := heapRecord().Mutex()
	m.Init(5)
	require.True(t, m.Abandon(5))
	require.False(t, m.Abandon(5))

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		abandoned int
	)
	for tid := uint32(10); tid < 30; tid++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, _, err := m.TryAcquire(tid)
			if err != nil {
				t.Error(err)
			}
			if res == AcquiredAbandoned {
				mu.Lock()
				abandoned++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, abandoned)
}

func TestMutex_restore(t *testing.T) {
	m := heapRecord().Mutex()
	m.Init(NoOwner)
	require.False(t, m.Abandon(NoOwner))

	m.Init(3)
	require.True(t, m.Abandon(3))
	res, prev, err := m.TryAcquire(4)
	require.NoError(t, err)
	require.Equal(t, AcquiredAbandoned, res)
	assert.True(t, m.Restore(4, prev))
	owner, count := m.Load()
	assert.Equal(t, Abandoned, owner)
	assert.Zero(t, count)

	m.Init(4)
	_, prev, err = m.TryAcquire(4)
	require.NoError(t, err)
	assert.False(t, m.Restore(4, prev), "recursive rollback keeps ownership")
	owner, count = m.Load()
	assert.Equal(t, uint32(4), owner)
	assert.Equal(t, uint32(1), count)
}

func TestEvent_setResetConsume(t *testing.T) {
	e := heapRecord().Event()
	e.Init(false)
	assert.False(t, e.TryConsume())
	assert.False(t, e.Set())
	assert.True(t, e.Set())
	assert.True(t, e.TryConsume())
	assert.False(t, e.Signaled())
	e.Set()
	assert.True(t, e.Reset())
	assert.False(t, e.Reset())
}

func TestEvent_lockExcludes(t *testing.T) {
	e := heapRecord().Event()
	e.Init(false)

	var (
		wg      sync.WaitGroup
		inside  int
		maxSeen int
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				e.Lock(4)
				inside++
				if inside > maxSeen {
					maxSeen = inside
				}
				inside--
				e.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, maxSeen)
	assert.False(t, e.Locked())
}
