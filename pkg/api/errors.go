package api

import (
	"context"
	"errors"

	"github.com/cuemby/burrow/pkg/manager"
	"github.com/cuemby/burrow/pkg/storage"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// statusError is a sentinel-backed error rebuilt from a gRPC status
type statusError struct {
	sentinel error
	message  string
}

func (e *statusError) Error() string { return e.message }
func (e *statusError) Unwrap() error { return e.sentinel }

// sentinels pairs each known error with the status code it travels as.
// The first entry for a code is the one restored on the client.
var sentinels = []struct {
	err  error
	code codes.Code
}{
	{storage.ErrVolumeNotFound, codes.NotFound},
	{storage.ErrMemberNotFound, codes.NotFound},
	{storage.ErrVolumeExists, codes.AlreadyExists},
	{storage.ErrAmbiguousDevice, codes.FailedPrecondition},
	{manager.ErrInvalidToken, codes.Unauthenticated},
	{manager.ErrTokenExpired, codes.Unauthenticated},
	{manager.ErrNoLeader, codes.Unavailable},
	{manager.ErrNotLeader, codes.Unavailable},
	{context.DeadlineExceeded, codes.DeadlineExceeded},
	{context.Canceled, codes.Canceled},
}

// ToStatus converts err into a gRPC status error
func ToStatus(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := status.FromError(err); ok {
		return err
	}

	for _, s := range sentinels {
		if errors.Is(err, s.err) {
			return status.Error(s.code, err.Error())
		}
	}
	return status.Error(codes.Internal, err.Error())
}

// FromStatus converts a gRPC status error back into an error that matches
// the original sentinel with errors.Is.
func FromStatus(err error) error {
	if err == nil {
		return nil
	}

	st, ok := status.FromError(err)
	if !ok {
		return err
	}

	for _, s := range sentinels {
		if st.Code() == s.code {
			return &statusError{sentinel: s.err, message: st.Message()}
		}
	}
	return err
}
