package server

import (
	"errors"
	"fmt"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Errors a Coordinator implementation returns, carried as gRPC status codes.
var (
	ErrNotFound         = errors.New("server: object not found")
	ErrInvalidHandle    = errors.New("server: invalid handle")
	ErrTypeMismatch     = errors.New("server: object type mismatch")
	ErrNotImplemented   = errors.New("server: not implemented")
	ErrInvalidParameter = errors.New("server: invalid parameter")
	ErrExhausted        = errors.New("server: resources exhausted")
)

var errorCodes = []struct {
	err  error
	code codes.Code
}{
	{ErrNotFound, codes.NotFound},
	{ErrInvalidHandle, codes.InvalidArgument},
	{ErrTypeMismatch, codes.FailedPrecondition},
	{ErrNotImplemented, codes.Unimplemented},
	{ErrInvalidParameter, codes.OutOfRange},
	{ErrExhausted, codes.ResourceExhausted},
}

// ToStatus converts one of the package's sentinel errors into a gRPC status
// error. Errors that already carry a status, or that match no sentinel, are
// returned unchanged.
func ToStatus(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := status.FromError(err); ok {
		return err
	}
	for _, e := range errorCodes {
		if errors.Is(err, e.err) {
			return status.Error(e.code, err.Error())
		}
	}
	return err
}

// FromStatus is the inverse of ToStatus: a status whose code maps to a
// sentinel is returned wrapping that sentinel.
func FromStatus(err error) error {
	if err == nil {
		return nil
	}
	st, ok := status.FromError(err)
	if !ok {
		return err
	}
	for _, e := range errorCodes {
		if st.Code() == e.code {
			return fmt.Errorf("%w: %s", e.err, st.Message())
		}
	}
	return err
}
