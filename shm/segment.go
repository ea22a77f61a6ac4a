//go:build linux || darwin

package shm

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"golang.org/x/sys/unix"
)

const (
	// DefaultPageSize is the mapping granularity used when none is given.
	// It is a multiple of every supported OS page size.
	DefaultPageSize = 1 << 16

	// DefaultDir is where segments live when no directory is configured,
	// matching shm_open on Linux.
	DefaultDir = "/dev/shm"

	// maxPages bounds the page directory (1GiB at the default page size).
	maxPages = 1 << 14
)

// page is one mapped window of the segment. Never unmapped until Close.
type page struct {
	data []byte
}

// Segment is a lazily mapped view of the shared state segment.
//
// THREAD SAFE: Record may be called from any goroutine. Close must not race
// with Record callers that still use the returned records.
type Segment struct {
	path     string
	pages    []atomic.Pointer[page]
	fd       int
	pageSize int
	closeMu  sync.Mutex
	closed   atomic.Bool
}

// Open maps an existing segment file. The file must already exist, which is
// the server's responsibility; failing here is fatal for a client process.
func Open(path string, pageSize int) (*Segment, error) {
	return openSegment(path, pageSize, unix.O_RDWR|unix.O_CLOEXEC)
}

// Create opens or creates the segment file at path, for use by the process
// that allocates indices (see Segment.Grow).
func Create(path string, pageSize int) (*Segment, error) {
	return openSegment(path, pageSize, unix.O_RDWR|unix.O_CREAT|unix.O_CLOEXEC)
}

func openSegment(path string, pageSize int, flags int) (*Segment, error) {
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	if pageSize%os.Getpagesize() != 0 || pageSize%RecordSize != 0 {
		return nil, fmt.Errorf("shm: page size %d is not a multiple of the OS page size", pageSize)
	}
	fd, err := unix.Open(path, flags, 0o600)
	if err != nil {
		return nil, &os.PathError{Op: "open", Path: path, Err: err}
	}
	return &Segment{
		path:     path,
		pages:    make([]atomic.Pointer[page], maxPages),
		fd:       fd,
		pageSize: pageSize,
	}, nil
}

// Path returns the segment file path.
func (s *Segment) Path() string { return s.path }

// PageSize returns the mapping granularity.
func (s *Segment) PageSize() int { return s.pageSize }

// Record returns the state record for index, mapping its page on first use.
// Subsequent calls for any index on the same page are pure arithmetic.
func (s *Segment) Record(index uint32) (Record, error) {
	if index == 0 {
		return Record{}, ErrInvalidIndex
	}
	offset := uint64(index) * RecordSize
	pageIndex := offset / uint64(s.pageSize)
	if pageIndex >= maxPages {
		return Record{}, ErrInvalidIndex
	}
	within := int(offset % uint64(s.pageSize))

	p := s.pages[pageIndex].Load()
	if p == nil {
		var err error
		if p, err = s.mapPage(int(pageIndex)); err != nil {
			return Record{}, err
		}
	}
	return Record{b: p.data[within : within+RecordSize : within+RecordSize]}, nil
}

// mapPage maps page i, converging concurrent callers on a single mapping.
func (s *Segment) mapPage(i int) (*page, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}

	// touching memory past EOF raises SIGBUS, which the runtime cannot recover
	var st unix.Stat_t
	if err := unix.Fstat(s.fd, &st); err != nil {
		return nil, fmt.Errorf("shm: fstat %s: %w", s.path, err)
	}
	end := int64(i+1) * int64(s.pageSize)
	if st.Size < end {
		return nil, ErrOutOfRange
	}

	data, err := unix.Mmap(s.fd, int64(i)*int64(s.pageSize), s.pageSize, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return nil, fmt.Errorf("shm: mmap page %d of %s: %w", i, s.path, err)
	}
	p := &page{data: data}
	if !s.pages[i].CompareAndSwap(nil, p) {
		_ = unix.Munmap(data)
		p = s.pages[i].Load()
	}
	return p, nil
}

// Grow extends the segment file so the page holding index exists. It never
// shrinks the file. Used by the allocating side before handing out index.
func (s *Segment) Grow(index uint32) error {
	if index == 0 {
		return ErrInvalidIndex
	}
	pageIndex := uint64(index) * RecordSize / uint64(s.pageSize)
	if pageIndex >= maxPages {
		return ErrInvalidIndex
	}
	want := int64(pageIndex+1) * int64(s.pageSize)
	var st unix.Stat_t
	if err := unix.Fstat(s.fd, &st); err != nil {
		return fmt.Errorf("shm: fstat %s: %w", s.path, err)
	}
	if st.Size >= want {
		return nil
	}
	if err := unix.Ftruncate(s.fd, want); err != nil {
		return fmt.Errorf("shm: ftruncate %s: %w", s.path, err)
	}
	return nil
}

// Close unmaps every mapped page and closes the file. Records obtained from
// the segment must not be used afterwards.
func (s *Segment) Close() error {
	s.closeMu.Lock()
	defer s.closeMu.Unlock()
	if !s.closed.CompareAndSwap(false, true) {
		return ErrClosed
	}
	var firstErr error
	for i := range s.pages {
		if p := s.pages[i].Swap(nil); p != nil {
			if err := unix.Munmap(p.data); err != nil && firstErr == nil {
				firstErr = err
			}
		}
	}
	if err := unix.Close(s.fd); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

// Name derives the segment name for a host installation from a stable
// filesystem identifier (device and inode of dir), so every cooperating
// process agrees on it without communicating.
func Name(dir string) (string, error) {
	var st unix.Stat_t
	if err := unix.Stat(dir, &st); err != nil {
		return "", &os.PathError{Op: "stat", Path: dir, Err: err}
	}
	return fmt.Sprintf("fastsync-%x%08x", uint64(st.Dev), uint64(st.Ino)), nil
}

// PathFor joins a segment directory and name, defaulting the directory.
func PathFor(dir, name string) string {
	if dir == "" {
		dir = DefaultDir
	}
	return filepath.Join(dir, name)
}
