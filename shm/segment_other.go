//go:build !linux && !darwin

package shm

import (
	"errors"
	"path/filepath"
)

const (
	DefaultPageSize = 1 << 16
	DefaultDir      = ""
)

// ErrUnsupported is returned by every Segment constructor on this platform.
var ErrUnsupported = errors.New("shm: shared segments are not supported on this platform")

// Segment is unavailable on this platform.
type Segment struct{}

func Open(string, int) (*Segment, error)   { return nil, ErrUnsupported }
func Create(string, int) (*Segment, error) { return nil, ErrUnsupported }
func Name(string) (string, error)          { return "", ErrUnsupported }

func (*Segment) Path() string                  { return "" }
func (*Segment) PageSize() int                 { return 0 }
func (*Segment) Record(uint32) (Record, error) { return Record{}, ErrUnsupported }
func (*Segment) Grow(uint32) error             { return ErrUnsupported }
func (*Segment) Close() error                  { return ErrUnsupported }

func PathFor(dir, name string) string { return filepath.Join(dir, name) }
