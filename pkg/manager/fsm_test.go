package manager

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"testing"
	"time"

	"github.com/cuemby/burrow/pkg/storage"
	"github.com/cuemby/burrow/pkg/types"
	"github.com/hashicorp/raft"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestFSM(t *testing.T) (*VolumeFSM, *storage.BoltStore) {
	t.Helper()
	store, err := storage.NewBoltStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return NewVolumeFSM(store), store
}

func logEntry(t *testing.T, op string, payload interface{}, at time.Time) *raft.Log {
	t.Helper()
	cmd, err := NewCommand(op, payload)
	require.NoError(t, err)
	data, err := json.Marshal(cmd)
	require.NoError(t, err)
	return &raft.Log{Data: data, AppendedAt: at}
}

func applyOK(t *testing.T, fsm *VolumeFSM, entry *raft.Log) {
	t.Helper()
	if resp := fsm.Apply(entry); resp != nil {
		t.Fatalf("apply returned %v", resp)
	}
}

func TestFSM_ApplyVolumeCommands(t *testing.T) {
	fsm, store := newTestFSM(t)
	ctx := context.Background()
	t0 := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	vol := &types.ServiceVolume{ID: "vol-1", ApplicationName: "shop", ServiceName: "db", State: types.VolumeStateCreated}
	applyOK(t, fsm, logEntry(t, OpCreateVolume, vol, t0))

	got, err := store.GetVolume(ctx, "vol-1")
	require.NoError(t, err)
	assert.Equal(t, types.VolumeStateCreated, got.State)
	assert.True(t, got.CreatedAt.Equal(t0))

	fields := types.SetState(types.VolumeStateAttached).WithDevice("/dev/xvdf")
	t1 := t0.Add(time.Minute)
	applyOK(t, fsm, logEntry(t, OpUpdateVolumeFields, UpdateFieldsPayload{Match: types.MatchID("vol-1"), Fields: fields}, t1))

	got, err = store.GetVolume(ctx, "vol-1")
	require.NoError(t, err)
	assert.Equal(t, types.VolumeStateAttached, got.State)
	assert.Equal(t, "/dev/xvdf", got.Device)
	assert.True(t, got.UpdatedAt.Equal(t1), "update time comes from the log entry")

	applyOK(t, fsm, logEntry(t, OpDeleteVolume, "vol-1", t1))
	_, err = store.GetVolume(ctx, "vol-1")
	assert.ErrorIs(t, err, storage.ErrVolumeNotFound)
}

func TestFSM_ApplyReturnsStoreErrors(t *testing.T) {
	fsm, _ := newTestFSM(t)
	now := time.Now()

	vol := &types.ServiceVolume{ID: "vol-1", State: types.VolumeStateCreated}
	applyOK(t, fsm, logEntry(t, OpCreateVolume, vol, now))

	resp := fsm.Apply(logEntry(t, OpCreateVolume, vol, now))
	err, ok := resp.(error)
	require.True(t, ok)
	assert.ErrorIs(t, err, storage.ErrVolumeExists)

	payload := UpdateFieldsPayload{Match: types.MatchID("missing"), Fields: types.SetState(types.VolumeStateDetached)}
	err, ok = fsm.Apply(logEntry(t, OpUpdateVolumeFields, payload, now)).(error)
	require.True(t, ok)
	assert.ErrorIs(t, err, storage.ErrVolumeNotFound)

	err, ok = fsm.Apply(logEntry(t, "drop_tables", "x", now)).(error)
	require.True(t, ok)
	assert.ErrorContains(t, err, "unknown command")

	err, ok = fsm.Apply(&raft.Log{Data: []byte("{not json")}).(error)
	require.True(t, ok)
	assert.Error(t, err)
}

// memorySink collects a persisted snapshot
type memorySink struct {
	bytes.Buffer
	canceled bool
	closed   bool
}

func (s *memorySink) ID() string    { return "test" }
func (s *memorySink) Cancel() error { s.canceled = true; return nil }
func (s *memorySink) Close() error  { s.closed = true; return nil }

func TestFSM_SnapshotRestore(t *testing.T) {
	source, _ := newTestFSM(t)
	now := time.Now()

	applyOK(t, source, logEntry(t, OpCreateVolume, &types.ServiceVolume{ID: "vol-1", State: types.VolumeStateMounted, Device: "/dev/xvdf"}, now))
	applyOK(t, source, logEntry(t, OpCreateVolume, &types.ServiceVolume{ID: "vol-2", State: types.VolumeStateCreated}, now))
	applyOK(t, source, logEntry(t, OpSaveMember, &types.Member{NodeID: "node-1", APIAddr: "10.0.0.1:7946"}, now))

	snapshot, err := source.Snapshot()
	require.NoError(t, err)

	sink := &memorySink{}
	require.NoError(t, snapshot.Persist(sink))
	assert.True(t, sink.closed)
	assert.False(t, sink.canceled)
	snapshot.Release()

	target, targetStore := newTestFSM(t)
	// Restore replaces whatever the target held before
	applyOK(t, target, logEntry(t, OpCreateVolume, &types.ServiceVolume{ID: "stale", State: types.VolumeStateCreated}, now))

	require.NoError(t, target.Restore(io.NopCloser(bytes.NewReader(sink.Bytes()))))

	ctx := context.Background()
	volumes, err := targetStore.ListVolumes(ctx)
	require.NoError(t, err)
	assert.Len(t, volumes, 2)

	got, err := targetStore.GetVolume(ctx, "vol-1")
	require.NoError(t, err)
	assert.Equal(t, types.VolumeStateMounted, got.State)
	assert.Equal(t, "/dev/xvdf", got.Device)

	_, err = targetStore.GetVolume(ctx, "stale")
	assert.ErrorIs(t, err, storage.ErrVolumeNotFound)

	member, err := targetStore.GetMember(ctx, "node-1")
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.1:7946", member.APIAddr)
}
