package manager

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/cuemby/burrow/pkg/storage"
	"github.com/cuemby/burrow/pkg/types"
	"github.com/hashicorp/raft"
)

// Raft command operations
const (
	OpCreateVolume       = "create_volume"
	OpUpdateVolumeFields = "update_volume_fields"
	OpDeleteVolume       = "delete_volume"
	OpSaveMember         = "save_member"
)

// FSMStore is the local store the FSM applies committed commands to
type FSMStore interface {
	storage.Store
	Reset() error
	SetNow(now func() time.Time)
}

// VolumeFSM implements the Raft Finite State Machine for volume state.
// Commands are applied one at a time, so every field merge is isolated from
// every other write in the cluster.
type VolumeFSM struct {
	mu    sync.RWMutex
	store FSMStore
}

// NewVolumeFSM creates a new FSM instance
func NewVolumeFSM(store FSMStore) *VolumeFSM {
	return &VolumeFSM{
		store: store,
	}
}

// Command represents a state change operation in the Raft log
type Command struct {
	Op   string          `json:"op"`
	Data json.RawMessage `json:"data"`
}

// UpdateFieldsPayload is the data of an update_volume_fields command
type UpdateFieldsPayload struct {
	Match  types.VolumeMatch  `json:"match"`
	Fields types.VolumeFields `json:"fields"`
}

// NewCommand marshals payload into a command for op
func NewCommand(op string, payload interface{}) (Command, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Command{}, fmt.Errorf("failed to marshal %s payload: %w", op, err)
	}
	return Command{Op: op, Data: data}, nil
}

// Apply applies a Raft log entry to the FSM
// This is called by Raft when a log entry is committed
func (f *VolumeFSM) Apply(log *raft.Log) interface{} {
	var cmd Command
	if err := json.Unmarshal(log.Data, &cmd); err != nil {
		return fmt.Errorf("failed to unmarshal command: %v", err)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	// Record times come from the log entry so every replica stores the same values
	if !log.AppendedAt.IsZero() {
		at := log.AppendedAt
		f.store.SetNow(func() time.Time { return at })
	}

	ctx := context.Background()

	switch cmd.Op {
	case OpCreateVolume:
		var volume types.ServiceVolume
		if err := json.Unmarshal(cmd.Data, &volume); err != nil {
			return err
		}
		return f.store.CreateVolume(ctx, &volume)

	case OpUpdateVolumeFields:
		var payload UpdateFieldsPayload
		if err := json.Unmarshal(cmd.Data, &payload); err != nil {
			return err
		}
		return f.store.UpdateVolumeFields(ctx, payload.Match, payload.Fields)

	case OpDeleteVolume:
		var volumeID string
		if err := json.Unmarshal(cmd.Data, &volumeID); err != nil {
			return err
		}
		return f.store.DeleteVolume(ctx, volumeID)

	case OpSaveMember:
		var member types.Member
		if err := json.Unmarshal(cmd.Data, &member); err != nil {
			return err
		}
		return f.store.SaveMember(ctx, &member)

	default:
		return fmt.Errorf("unknown command: %s", cmd.Op)
	}
}

// Snapshot creates a point-in-time snapshot of the FSM
// This is called periodically by Raft to compact the log
func (f *VolumeFSM) Snapshot() (raft.FSMSnapshot, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	ctx := context.Background()

	volumes, err := f.store.ListVolumes(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list volumes: %v", err)
	}

	members, err := f.store.ListMembers(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list members: %v", err)
	}

	return &VolumeSnapshot{
		Volumes: volumes,
		Members: members,
	}, nil
}

// Restore replaces the FSM state with a snapshot
// This is called when a node restarts or joins the cluster
func (f *VolumeFSM) Restore(rc io.ReadCloser) error {
	defer rc.Close()

	var snapshot VolumeSnapshot
	if err := json.NewDecoder(rc).Decode(&snapshot); err != nil {
		return fmt.Errorf("failed to decode snapshot: %v", err)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.store.Reset(); err != nil {
		return fmt.Errorf("failed to reset store: %v", err)
	}

	ctx := context.Background()

	for _, volume := range snapshot.Volumes {
		if err := f.store.CreateVolume(ctx, volume); err != nil {
			return fmt.Errorf("failed to restore volume: %v", err)
		}
	}

	for _, member := range snapshot.Members {
		if err := f.store.SaveMember(ctx, member); err != nil {
			return fmt.Errorf("failed to restore member: %v", err)
		}
	}

	return nil
}

// VolumeSnapshot represents a point-in-time snapshot of volume state
type VolumeSnapshot struct {
	Volumes []*types.ServiceVolume
	Members []*types.Member
}

// Persist writes the snapshot to the given SnapshotSink
func (s *VolumeSnapshot) Persist(sink raft.SnapshotSink) error {
	err := func() error {
		if err := json.NewEncoder(sink).Encode(s); err != nil {
			return err
		}
		return sink.Close()
	}()

	if err != nil {
		sink.Cancel()
	}

	return err
}

// Release releases the snapshot resources
func (s *VolumeSnapshot) Release() {}
