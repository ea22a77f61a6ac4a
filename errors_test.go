package fastsync

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/joeycumines/go-fastsync/backend"
	"github.com/joeycumines/go-fastsync/server"
	"github.com/joeycumines/go-fastsync/shm"
)

func TestErrorMapping(t *testing.T) {
	assert.NoError(t, serverError(nil))
	assert.NoError(t, recordError(nil))
	assert.NoError(t, backendError("wait", nil))

	for _, tc := range [...]struct {
		In   error
		Want error
	}{
		{serverError(server.ErrNotFound), ErrNotFound},
		{serverError(fmt.Errorf("wrapped: %w", server.ErrInvalidHandle)), ErrInvalidHandle},
		{serverError(server.ErrTypeMismatch), ErrTypeMismatch},
		{serverError(server.ErrNotImplemented), ErrNotImplemented},
		{serverError(server.ErrInvalidParameter), ErrInvalidParameter},
		{recordError(shm.ErrLimitExceeded), ErrLimitExceeded},
		{recordError(shm.ErrNotOwner), ErrNotOwner},
		{recordError(shm.ErrOutOfRange), ErrInvalidHandle},
		{backendError("wait", &backend.HangupError{Index: 2}), ErrInvalidHandle},
		{backendError("import", backend.ErrNotImplemented), ErrNotImplemented},
	} {
		assert.ErrorIs(t, tc.In, tc.Want)
	}

	cause := errors.New("boom")
	err := backendError("poll", cause)
	var be *BackendError
	if assert.ErrorAs(t, err, &be) {
		assert.Equal(t, "poll", be.Op)
		assert.Same(t, cause, errors.Unwrap(err))
		assert.Equal(t, "fastsync: backend poll: boom", err.Error())
	}

	assert.Equal(t, "fastsync: fatal: bad", (&FatalError{Reason: "bad"}).Error())
	assert.ErrorIs(t, &FatalError{Reason: "bad", Err: cause}, cause)
}

func TestWaitStatus_String(t *testing.T) {
	assert.Equal(t, "object", WaitObject.String())
	assert.Equal(t, "abandoned", WaitAbandoned.String())
	assert.Equal(t, "timeout", WaitTimeout.String())
	assert.Equal(t, "apc", WaitAPC.String())
	assert.Equal(t, "status(9)", WaitStatus(9).String())
}
