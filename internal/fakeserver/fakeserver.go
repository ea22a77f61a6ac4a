// Package fakeserver is an in-process coordinating server for tests. It
// allocates handles, shared indices and wake primitives the way a real
// server would, and embeds a LoopCoordinator for the port backend.
package fakeserver

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/joeycumines/go-inprocgrpc"

	"github.com/joeycumines/go-fastsync/backend"
	"github.com/joeycumines/go-fastsync/server"
	"github.com/joeycumines/go-fastsync/shm"
)

type object struct {
	prim  *backend.EventFD
	name  string
	refs  int
	index uint32
	kind  server.ObjectKind
}

// Server implements server.CoordinatorServer.
type Server struct {
	segment    *shm.Segment
	coord      *backend.LoopCoordinator
	handles    map[server.Handle]*object
	names      map[string]*object
	segName    string
	mu         sync.Mutex
	nextHandle server.Handle
	nextIndex  uint32
	backend    backend.Kind
	reported   backend.Kind
	closed     bool
}

var _ server.CoordinatorServer = (*Server)(nil)

// New creates a server whose segment lives in dir. The loop runs the port
// backend's coordinator and is unused by the eventfd backend.
func New(dir string, kind backend.Kind, loop backend.Loop) (*Server, error) {
	name, err := shm.Name(dir)
	if err != nil {
		return nil, err
	}
	seg, err := shm.Create(filepath.Join(dir, name), 0)
	if err != nil {
		return nil, err
	}
	s := &Server{
		segment:   seg,
		handles:   make(map[server.Handle]*object),
		names:     make(map[string]*object),
		segName:   name,
		nextIndex: 1,
		backend:   kind,
		reported:  kind,
	}
	if loop != nil {
		s.coord = backend.NewLoopCoordinator(loop)
	}
	return s, nil
}

// ReportBackend makes Hello claim a different backend than the one in use.
func (s *Server) ReportBackend(kind backend.Kind) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reported = kind
}

// Segment returns the server's own mapping of the shared segment.
func (s *Server) Segment() *shm.Segment { return s.segment }

// Shutdown releases every primitive and the segment mapping.
func (s *Server) Shutdown() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	for _, obj := range s.handles {
		if obj.prim != nil && obj.refs > 0 {
			obj.refs = 0
			_ = obj.prim.Close()
		}
	}
	return s.segment.Close()
}

func (s *Server) Hello(_ context.Context, in *server.HelloRequest) (*server.HelloReply, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return &server.HelloReply{
		Backend:  s.reported,
		Segment:  s.segName,
		PageSize: s.segment.PageSize(),
	}, nil
}

// descriptor must be called with mu held.
func (s *Server) descriptor(obj *object) backend.Descriptor {
	if obj.prim == nil {
		return backend.Descriptor{FD: -1}
	}
	return backend.Descriptor{PID: os.Getpid(), FD: obj.prim.Fd()}
}

// newObject must be called with mu held.
func (s *Server) newObject(kind server.ObjectKind, name string, signaled bool) (*object, error) {
	obj := &object{kind: kind, name: name, refs: 0}
	if kind.HasRecord() {
		obj.index = s.nextIndex
		if err := s.segment.Grow(obj.index); err != nil {
			return nil, fmt.Errorf("%w: %w", server.ErrExhausted, err)
		}
		s.nextIndex++
	}
	if kind != server.KindNone && s.backend == backend.KindEventFD {
		var initial uint
		if signaled {
			initial = 1
		}
		prim, err := backend.NewEventFD(initial)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", server.ErrExhausted, err)
		}
		obj.prim = prim
	}
	if name != "" {
		s.names[name] = obj
	}
	return obj, nil
}

// newHandle must be called with mu held.
func (s *Server) newHandle(obj *object) server.Handle {
	s.nextHandle += 4
	obj.refs++
	s.handles[s.nextHandle] = obj
	return s.nextHandle
}

func (s *Server) Create(_ context.Context, in *server.CreateRequest) (*server.CreateReply, error) {
	switch in.Kind {
	case server.KindSemaphore, server.KindMutex, server.KindAutoEvent, server.KindManualEvent:
	default:
		return nil, fmt.Errorf("%w: kind %s", server.ErrInvalidParameter, in.Kind)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if obj, ok := s.names[in.Name]; ok && in.Name != "" {
		if obj.kind != in.Kind {
			return nil, fmt.Errorf("%w: %q is a %s", server.ErrTypeMismatch, in.Name, obj.kind)
		}
		h := s.newHandle(obj)
		return &server.CreateReply{Handle: h, Index: obj.index, Descriptor: s.descriptor(obj), Existed: true}, nil
	}
	obj, err := s.newObject(in.Kind, in.Name, false)
	if err != nil {
		return nil, err
	}
	h := s.newHandle(obj)
	return &server.CreateReply{Handle: h, Index: obj.index, Descriptor: s.descriptor(obj)}, nil
}

func (s *Server) Open(_ context.Context, in *server.OpenRequest) (*server.OpenReply, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	obj, ok := s.names[in.Name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", server.ErrNotFound, in.Name)
	}
	h := s.newHandle(obj)
	return &server.OpenReply{Handle: h, Kind: obj.kind, Index: obj.index, Descriptor: s.descriptor(obj)}, nil
}

func (s *Server) GetDescriptor(_ context.Context, in *server.DescriptorRequest) (*server.DescriptorReply, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	obj, ok := s.handles[in.Handle]
	if !ok {
		return nil, fmt.Errorf("%w: %d", server.ErrInvalidHandle, in.Handle)
	}
	return &server.DescriptorReply{Kind: obj.kind, Index: obj.index, Descriptor: s.descriptor(obj)}, nil
}

func (s *Server) Close(_ context.Context, in *server.CloseRequest) (*server.Empty, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	obj, ok := s.handles[in.Handle]
	if !ok {
		return nil, fmt.Errorf("%w: %d", server.ErrInvalidHandle, in.Handle)
	}
	delete(s.handles, in.Handle)
	obj.refs--
	if obj.refs == 0 {
		if obj.name != "" && s.names[obj.name] == obj {
			delete(s.names, obj.name)
		}
		if obj.prim != nil {
			_ = obj.prim.Close()
		}
	}
	return &server.Empty{}, nil
}

func (s *Server) RegisterWait(ctx context.Context, in *server.RegisterWaitRequest) (*server.Empty, error) {
	if s.coord == nil {
		return nil, server.ErrNotImplemented
	}
	if err := s.coord.RegisterWait(ctx, in.TID, in.Semaphore, in.Indices); err != nil {
		return nil, err
	}
	return &server.Empty{}, nil
}

func (s *Server) UnregisterWait(ctx context.Context, in *server.UnregisterWaitRequest) (*server.Empty, error) {
	if s.coord == nil {
		return nil, server.ErrNotImplemented
	}
	if err := s.coord.UnregisterWait(ctx, in.TID); err != nil {
		return nil, err
	}
	return &server.Empty{}, nil
}

func (s *Server) Wake(ctx context.Context, in *server.WakeRequest) (*server.Empty, error) {
	if s.coord == nil {
		return nil, server.ErrNotImplemented
	}
	if err := s.coord.Wake(ctx, in.Index); err != nil {
		return nil, err
	}
	return &server.Empty{}, nil
}

// CreateServerEvent creates a server-managed event, which has no shared
// record: the wake primitive alone carries its state.
func (s *Server) CreateServerEvent(manual, signaled bool) (server.Handle, error) {
	kind := server.KindServerAuto
	if manual {
		kind = server.KindServerManual
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	obj, err := s.newObject(kind, "", signaled)
	if err != nil {
		return 0, err
	}
	return s.newHandle(obj), nil
}

// SignalServerEvent sets a server-managed event.
func (s *Server) SignalServerEvent(h server.Handle) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	obj, ok := s.handles[h]
	if !ok || obj.prim == nil || (obj.kind != server.KindServerAuto && obj.kind != server.KindServerManual) {
		return server.ErrInvalidHandle
	}
	if obj.kind == server.KindServerManual {
		if pending, err := obj.prim.Pending(); err != nil || pending {
			return err
		}
	}
	return obj.prim.Signal(1)
}

// CreateOpaque creates a handle to an object the fast path cannot
// represent, such as a process or a file.
func (s *Server) CreateOpaque() server.Handle {
	s.mu.Lock()
	defer s.mu.Unlock()
	obj, _ := s.newObject(server.KindNone, "", false)
	return s.newHandle(obj)
}

// Refs returns how many handles reference the object behind h.
func (s *Server) Refs(h server.Handle) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if obj, ok := s.handles[h]; ok {
		return obj.refs
	}
	return 0
}

// Client serves s in-process on loop, returning a client for it.
func (s *Server) Client(loop inprocgrpc.Loop) *server.Client {
	return server.NewClient(server.NewInProcess(loop, s))
}
