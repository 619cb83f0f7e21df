package storage

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/cuemby/burrow/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *BoltStore {
	t.Helper()
	store, err := NewBoltStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func testVolume(id string) *types.ServiceVolume {
	return &types.ServiceVolume{
		ID:              id,
		ApplicationName: "shop",
		ServiceName:     "postgres",
		State:           types.VolumeStateCreated,
	}
}

var shopPostgres = types.Owner{ApplicationName: "shop", ServiceName: "postgres"}

func TestBoltStore_CreateAndGetVolume(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	require.NoError(t, store.CreateVolume(ctx, testVolume("vol-1")))

	got, err := store.GetVolume(ctx, "vol-1")
	require.NoError(t, err)
	assert.Equal(t, "vol-1", got.ID)
	assert.Equal(t, types.VolumeStateCreated, got.State)
	assert.Equal(t, "shop", got.ApplicationName)
	assert.False(t, got.CreatedAt.IsZero())
	assert.Equal(t, got.CreatedAt, got.UpdatedAt)
}

func TestBoltStore_CreateVolume_Duplicate(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	require.NoError(t, store.CreateVolume(ctx, testVolume("vol-1")))

	err := store.CreateVolume(ctx, testVolume("vol-1"))
	assert.ErrorIs(t, err, ErrVolumeExists)

	volumes, err := store.ListVolumes(ctx)
	require.NoError(t, err)
	assert.Len(t, volumes, 1)
}

func TestBoltStore_GetVolume_NotFound(t *testing.T) {
	store := newTestStore(t)

	_, err := store.GetVolume(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrVolumeNotFound)
}

func TestBoltStore_GetVolumeByDevice(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	mine := testVolume("vol-1")
	mine.Device = "/dev/xvdf"
	other := testVolume("vol-2")
	other.ServiceName = "redis"
	other.Device = "/dev/xvdf"
	require.NoError(t, store.CreateVolume(ctx, mine))
	require.NoError(t, store.CreateVolume(ctx, other))

	got, err := store.GetVolumeByDevice(ctx, shopPostgres, "/dev/xvdf")
	require.NoError(t, err)
	assert.Equal(t, "vol-1", got.ID)

	_, err = store.GetVolumeByDevice(ctx, shopPostgres, "/dev/xvdg")
	assert.ErrorIs(t, err, ErrVolumeNotFound)

	_, err = store.GetVolumeByDevice(ctx, types.Owner{}, "/dev/xvdf")
	assert.ErrorIs(t, err, ErrAmbiguousDevice)

	_, err = store.GetVolumeByDevice(ctx, shopPostgres, "")
	assert.ErrorIs(t, err, ErrVolumeNotFound)
}

func TestBoltStore_UpdateVolumeFields(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	require.NoError(t, store.CreateVolume(ctx, testVolume("vol-1")))

	tests := []struct {
		name       string
		match      types.VolumeMatch
		fields     types.VolumeFields
		wantErr    error
		wantState  types.VolumeState
		wantDevice string
	}{
		{
			name:       "state and device by id",
			match:      types.MatchID("vol-1"),
			fields:     types.SetState(types.VolumeStateAttached).WithDevice("/dev/xvdf"),
			wantState:  types.VolumeStateAttached,
			wantDevice: "/dev/xvdf",
		},
		{
			name:       "state by device",
			match:      types.MatchDevice(shopPostgres, "/dev/xvdf"),
			fields:     types.SetState(types.VolumeStateMounted),
			wantState:  types.VolumeStateMounted,
			wantDevice: "/dev/xvdf",
		},
		{
			name:       "empty field set is a no-op",
			match:      types.MatchID("vol-1"),
			fields:     types.VolumeFields{},
			wantState:  types.VolumeStateMounted,
			wantDevice: "/dev/xvdf",
		},
		{
			name:       "clear device",
			match:      types.MatchID("vol-1"),
			fields:     types.SetState(types.VolumeStateDetached).WithDevice(""),
			wantState:  types.VolumeStateDetached,
			wantDevice: "",
		},
		{
			name:       "unknown id",
			match:      types.MatchID("vol-9"),
			fields:     types.SetState(types.VolumeStateMounted),
			wantErr:    ErrVolumeNotFound,
			wantState:  types.VolumeStateDetached,
			wantDevice: "",
		},
		{
			name:       "device owned by another service",
			match:      types.MatchDevice(types.Owner{ApplicationName: "shop", ServiceName: "redis"}, "/dev/xvdf"),
			fields:     types.SetState(types.VolumeStateMounted),
			wantErr:    ErrVolumeNotFound,
			wantState:  types.VolumeStateDetached,
			wantDevice: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := store.UpdateVolumeFields(ctx, tt.match, tt.fields)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			} else {
				assert.NoError(t, err)
			}

			got, err := store.GetVolume(ctx, "vol-1")
			require.NoError(t, err)
			assert.Equal(t, tt.wantState, got.State)
			assert.Equal(t, tt.wantDevice, got.Device)
			assert.Equal(t, "shop", got.ApplicationName, "owner must never change")
		})
	}
}

func TestBoltStore_ConcurrentDisjointUpdates(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	const volumes = 20
	for i := 0; i < volumes; i++ {
		require.NoError(t, store.CreateVolume(ctx, testVolume(fmt.Sprintf("vol-%d", i))))
	}

	var wg sync.WaitGroup
	for i := 0; i < volumes; i++ {
		id := fmt.Sprintf("vol-%d", i)
		device := fmt.Sprintf("/dev/xvd%c", 'a'+i)
		wg.Add(2)
		go func() {
			defer wg.Done()
			assert.NoError(t, store.UpdateVolumeFields(ctx, types.MatchID(id), types.SetState(types.VolumeStateAttached)))
		}()
		go func() {
			defer wg.Done()
			assert.NoError(t, store.UpdateVolumeFields(ctx, types.MatchID(id), types.VolumeFields{}.WithDevice(device)))
		}()
	}
	wg.Wait()

	for i := 0; i < volumes; i++ {
		got, err := store.GetVolume(ctx, fmt.Sprintf("vol-%d", i))
		require.NoError(t, err)
		assert.Equal(t, types.VolumeStateAttached, got.State)
		assert.Equal(t, fmt.Sprintf("/dev/xvd%c", 'a'+i), got.Device)
	}
}

func TestBoltStore_DeleteVolume(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	require.NoError(t, store.CreateVolume(ctx, testVolume("vol-1")))

	require.NoError(t, store.DeleteVolume(ctx, "vol-1"))

	_, err := store.GetVolume(ctx, "vol-1")
	assert.ErrorIs(t, err, ErrVolumeNotFound)

	// Deleting again is idempotent
	assert.NoError(t, store.DeleteVolume(ctx, "vol-1"))

	// The id can be reused once the record is gone
	assert.NoError(t, store.CreateVolume(ctx, testVolume("vol-1")))
}

func TestBoltStore_Members(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	require.NoError(t, store.SaveMember(ctx, &types.Member{NodeID: "node-1", RaftAddr: "10.0.0.1:7946", APIAddr: "10.0.0.1:8080"}))
	require.NoError(t, store.SaveMember(ctx, &types.Member{NodeID: "node-2", RaftAddr: "10.0.0.2:7946", APIAddr: "10.0.0.2:8080"}))

	member, err := store.GetMember(ctx, "node-2")
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.2:8080", member.APIAddr)

	members, err := store.ListMembers(ctx)
	require.NoError(t, err)
	assert.Len(t, members, 2)

	_, err = store.GetMember(ctx, "node-3")
	assert.ErrorIs(t, err, ErrMemberNotFound)
}

func TestBoltStore_Reset(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	require.NoError(t, store.CreateVolume(ctx, testVolume("vol-1")))
	require.NoError(t, store.SaveMember(ctx, &types.Member{NodeID: "node-1"}))

	require.NoError(t, store.Reset())

	volumes, err := store.ListVolumes(ctx)
	require.NoError(t, err)
	assert.Empty(t, volumes)

	members, err := store.ListMembers(ctx)
	require.NoError(t, err)
	assert.Empty(t, members)
}
