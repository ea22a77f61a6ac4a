package fastsync

import "sync/atomic"

const (
	// cacheBlockSize is the number of entries per cache block.
	cacheBlockSize = 4096
	// cacheBlockCount bounds the cache; handles beyond it are not cacheable.
	cacheBlockCount = 256
)

// MaxCachedHandle is the largest handle value the fast path can cache.
const MaxCachedHandle = Handle(cacheBlockSize*cacheBlockCount<<2 - 1)

type cacheBlock [cacheBlockSize]atomic.Pointer[object]

// closing occupies the slot of a handle while the server closes it. It holds
// no references, so resolving it fails.
var closing = new(object)

// handleCache maps handle values to resolved objects. Blocks are allocated
// on demand and live as long as the process; slots are claimed and cleared
// with compare-and-swap, so lookups never lock.
type handleCache struct {
	blocks [cacheBlockCount]atomic.Pointer[cacheBlock]
}

// cacheIndex returns the slot index of h; handle values are multiples of 4.
func cacheIndex(h Handle) (block, entry uint32, ok bool) {
	i := uint32(h) >> 2
	if i == 0 || i/cacheBlockSize >= cacheBlockCount {
		return 0, 0, false
	}
	return i / cacheBlockSize, i % cacheBlockSize, true
}

// cacheable reports whether h fits in the cache.
func cacheable(h Handle) bool {
	_, _, ok := cacheIndex(h)
	return ok
}

func (c *handleCache) slot(h Handle, create bool) *atomic.Pointer[object] {
	bi, ei, ok := cacheIndex(h)
	if !ok {
		return nil
	}
	b := c.blocks[bi].Load()
	if b == nil {
		if !create {
			return nil
		}
		nb := new(cacheBlock)
		if c.blocks[bi].CompareAndSwap(nil, nb) {
			b = nb
		} else {
			b = c.blocks[bi].Load()
		}
	}
	return &b[ei]
}

// load returns the cached object for h, or nil.
func (c *handleCache) load(h Handle) *object {
	if s := c.slot(h, false); s != nil {
		return s.Load()
	}
	return nil
}

// insert stores obj for h unless the slot is taken, returning the object
// that ended up in the slot and whether it is obj.
func (c *handleCache) insert(h Handle, obj *object) (*object, bool) {
	s := c.slot(h, true)
	if s == nil {
		return nil, false
	}
	for {
		if s.CompareAndSwap(nil, obj) {
			return obj, true
		}
		if cur := s.Load(); cur != nil {
			return cur, false
		}
	}
}

// swap stores obj for h unconditionally, returning the previous entry.
func (c *handleCache) swap(h Handle, obj *object) *object {
	if s := c.slot(h, true); s != nil {
		return s.Swap(obj)
	}
	return nil
}

// remove clears the slot of h if it still holds obj.
func (c *handleCache) remove(h Handle, obj *object) bool {
	s := c.slot(h, false)
	return s != nil && s.CompareAndSwap(obj, nil)
}

// each calls fn for every cached object.
func (c *handleCache) each(fn func(*object)) {
	for i := range c.blocks {
		b := c.blocks[i].Load()
		if b == nil {
			continue
		}
		for j := range b {
			if obj := b[j].Load(); obj != nil && obj != closing {
				fn(obj)
			}
		}
	}
}
