//go:build linux

package fakeserver

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joeycumines/go-fastsync/backend"
	"github.com/joeycumines/go-fastsync/server"
)

func newServer(t *testing.T) *Server {
	t.Helper()
	s, err := New(t.TempDir(), backend.KindEventFD, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Shutdown() })
	return s
}

func TestServer_namedObjects(t *testing.T) {
	ctx := context.Background()
	s := newServer(t)

	hello, err := s.Hello(ctx, &server.HelloRequest{Backend: backend.KindEventFD})
	require.NoError(t, err)
	assert.Equal(t, backend.KindEventFD, hello.Backend)
	assert.NotEmpty(t, hello.Segment)

	created, err := s.Create(ctx, &server.CreateRequest{Kind: server.KindSemaphore, Name: "a", Max: 1})
	require.NoError(t, err)
	assert.False(t, created.Existed)
	assert.Equal(t, uint32(1), created.Index)
	assert.GreaterOrEqual(t, created.Descriptor.FD, 0)

	again, err := s.Create(ctx, &server.CreateRequest{Kind: server.KindSemaphore, Name: "a", Max: 1})
	require.NoError(t, err)
	assert.True(t, again.Existed)
	assert.Equal(t, created.Index, again.Index)
	assert.Equal(t, 2, s.Refs(created.Handle))

	_, err = s.Create(ctx, &server.CreateRequest{Kind: server.KindMutex, Name: "a"})
	assert.ErrorIs(t, err, server.ErrTypeMismatch)
	_, err = s.Create(ctx, &server.CreateRequest{Kind: server.KindServerAuto})
	assert.ErrorIs(t, err, server.ErrInvalidParameter)

	opened, err := s.Open(ctx, &server.OpenRequest{Name: "a"})
	require.NoError(t, err)
	assert.Equal(t, server.KindSemaphore, opened.Kind)
	assert.Equal(t, 3, s.Refs(opened.Handle))

	for _, h := range []server.Handle{created.Handle, again.Handle, opened.Handle} {
		_, err := s.Close(ctx, &server.CloseRequest{Handle: h})
		require.NoError(t, err)
	}
	_, err = s.Open(ctx, &server.OpenRequest{Name: "a"})
	assert.ErrorIs(t, err, server.ErrNotFound)
	_, err = s.GetDescriptor(ctx, &server.DescriptorRequest{Handle: created.Handle})
	assert.ErrorIs(t, err, server.ErrInvalidHandle)
}

func TestServer_serverEvents(t *testing.T) {
	ctx := context.Background()
	s := newServer(t)

	h, err := s.CreateServerEvent(true, false)
	require.NoError(t, err)
	d, err := s.GetDescriptor(ctx, &server.DescriptorRequest{Handle: h})
	require.NoError(t, err)
	assert.Equal(t, server.KindServerManual, d.Kind)
	assert.Equal(t, uint32(0), d.Index)

	require.NoError(t, s.SignalServerEvent(h))
	require.NoError(t, s.SignalServerEvent(h))
	fd, err := backend.ImportFD(d.Descriptor)
	require.NoError(t, err)
	prim, err := backend.WrapEventFD(fd)
	require.NoError(t, err)
	defer prim.Close()
	n, err := prim.Consume()
	require.NoError(t, err)
	assert.Equal(t, uint64(1), n, "manual events are signalled once")

	opaque := s.CreateOpaque()
	d, err = s.GetDescriptor(ctx, &server.DescriptorRequest{Handle: opaque})
	require.NoError(t, err)
	assert.Equal(t, server.KindNone, d.Kind)
	assert.Equal(t, -1, d.Descriptor.FD)
	assert.ErrorIs(t, s.SignalServerEvent(opaque), server.ErrInvalidHandle)
}

func TestServer_waitsNeedCoordinator(t *testing.T) {
	ctx := context.Background()
	s := newServer(t)
	_, err := s.RegisterWait(ctx, &server.RegisterWaitRequest{TID: 1, Indices: []uint32{1}})
	assert.ErrorIs(t, err, server.ErrNotImplemented)
	_, err = s.UnregisterWait(ctx, &server.UnregisterWaitRequest{TID: 1})
	assert.ErrorIs(t, err, server.ErrNotImplemented)
	_, err = s.Wake(ctx, &server.WakeRequest{Index: 1})
	assert.ErrorIs(t, err, server.ErrNotImplemented)
}
