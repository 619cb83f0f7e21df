package storage

import (
	"context"
	"errors"

	"github.com/cuemby/burrow/pkg/types"
)

var (
	// ErrVolumeNotFound is returned when no record matches a lookup or update
	ErrVolumeNotFound = errors.New("volume not found")

	// ErrVolumeExists is returned when inserting a record whose ID is already live
	ErrVolumeExists = errors.New("volume already exists")

	// ErrAmbiguousDevice is returned when a device lookup matches more than one record
	ErrAmbiguousDevice = errors.New("device matches more than one volume")

	// ErrMemberNotFound is returned when a cluster member is unknown
	ErrMemberNotFound = errors.New("member not found")
)

// Store defines the interface for volume state storage.
// Implementations must apply UpdateVolumeFields as an atomic field merge.
type Store interface {
	// Volumes
	CreateVolume(ctx context.Context, volume *types.ServiceVolume) error
	GetVolume(ctx context.Context, id string) (*types.ServiceVolume, error)
	GetVolumeByDevice(ctx context.Context, owner types.Owner, device string) (*types.ServiceVolume, error)
	ListVolumes(ctx context.Context) ([]*types.ServiceVolume, error)
	UpdateVolumeFields(ctx context.Context, match types.VolumeMatch, fields types.VolumeFields) error
	DeleteVolume(ctx context.Context, id string) error

	// Members
	SaveMember(ctx context.Context, member *types.Member) error
	GetMember(ctx context.Context, nodeID string) (*types.Member, error)
	ListMembers(ctx context.Context) ([]*types.Member, error)

	// Utility
	Close() error
}

// selectByDevice returns the single volume of owner using device
func selectByDevice(volumes []*types.ServiceVolume, owner types.Owner, device string) (*types.ServiceVolume, error) {
	if device == "" {
		return nil, ErrVolumeNotFound
	}

	var found *types.ServiceVolume
	for _, v := range volumes {
		if v.Device != device || !owner.Matches(v) {
			continue
		}
		if found != nil {
			return nil, ErrAmbiguousDevice
		}
		found = v
	}
	if found == nil {
		return nil, ErrVolumeNotFound
	}
	return found, nil
}
