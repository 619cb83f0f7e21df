package api

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/cuemby/burrow/pkg/manager"
	"github.com/cuemby/burrow/pkg/storage"
	"github.com/stretchr/testify/assert"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

func TestToStatus(t *testing.T) {
	tests := []struct {
		name string
		err  error
		code codes.Code
	}{
		{"not found", storage.ErrVolumeNotFound, codes.NotFound},
		{"wrapped not found", fmt.Errorf("update vol-1: %w", storage.ErrVolumeNotFound), codes.NotFound},
		{"exists", storage.ErrVolumeExists, codes.AlreadyExists},
		{"ambiguous", storage.ErrAmbiguousDevice, codes.FailedPrecondition},
		{"invalid token", manager.ErrInvalidToken, codes.Unauthenticated},
		{"not leader", manager.ErrNotLeader, codes.Unavailable},
		{"deadline", context.DeadlineExceeded, codes.DeadlineExceeded},
		{"unknown", errors.New("disk on fire"), codes.Internal},
		{"already a status", status.Error(codes.InvalidArgument, "bad"), codes.InvalidArgument},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			st := ToStatus(tt.err)
			assert.Equal(t, tt.code, status.Code(st))
		})
	}

	assert.NoError(t, ToStatus(nil))
}

func TestFromStatus(t *testing.T) {
	err := FromStatus(ToStatus(fmt.Errorf("update vol-1: %w", storage.ErrVolumeNotFound)))
	assert.ErrorIs(t, err, storage.ErrVolumeNotFound)
	assert.Equal(t, "update vol-1: volume not found", err.Error())

	err = FromStatus(ToStatus(manager.ErrNotLeader))
	assert.ErrorIs(t, err, manager.ErrNoLeader, "codes shared by several errors restore the first")

	plain := errors.New("not a status")
	assert.Equal(t, plain, FromStatus(plain))

	internal := status.Error(codes.Internal, "boom")
	assert.Equal(t, codes.Internal, status.Code(FromStatus(internal)))

	assert.NoError(t, FromStatus(nil))
}
