//go:build !linux

package backend

// EventFD is unavailable on this platform.
type EventFD struct{}

// NewEventFD always fails with ErrUnsupported.
func NewEventFD(uint) (*EventFD, error) { return nil, ErrUnsupported }

// WrapEventFD always fails with ErrUnsupported.
func WrapEventFD(int) (*EventFD, error) { return nil, ErrUnsupported }

func (*EventFD) Fd() int                  { return -1 }
func (*EventFD) Signal(uint64) error      { return ErrUnsupported }
func (*EventFD) Consume() (uint64, error) { return 0, ErrUnsupported }
func (*EventFD) Pending() (bool, error)   { return false, ErrUnsupported }
func (*EventFD) Close() error             { return ErrUnsupported }

// NewEventFDBackend returns a backend whose every operation fails.
func NewEventFDBackend() Backend { return unsupportedBackend{kind: KindEventFD} }

// ImportFD always fails with ErrUnsupported.
func ImportFD(Descriptor) (int, error) { return -1, ErrUnsupported }

type unsupportedBackend struct{ kind Kind }

func (b unsupportedBackend) Kind() Kind { return b.kind }

func (unsupportedBackend) Import(uint32, Descriptor) (Primitive, error) {
	return nil, ErrUnsupported
}

func (unsupportedBackend) NewWaiter(uint32) (Waiter, error) { return nil, ErrUnsupported }

func (unsupportedBackend) Close() error { return nil }
