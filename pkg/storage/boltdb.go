package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"time"

	"github.com/cuemby/burrow/pkg/types"
	bolt "go.etcd.io/bbolt"
)

var (
	// Bucket names
	bucketVolumes = []byte("volumes")
	bucketMembers = []byte("members")
)

// BoltStore implements Store interface using BoltDB
type BoltStore struct {
	db  *bolt.DB
	now func() time.Time
}

// NewBoltStore creates a new BoltDB-backed store
func NewBoltStore(dataDir string) (*BoltStore, error) {
	dbPath := filepath.Join(dataDir, "burrow.db")

	db, err := bolt.Open(dbPath, 0600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, bucket := range [][]byte{bucketVolumes, bucketMembers} {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", bucket, err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &BoltStore{db: db, now: time.Now}, nil
}

// SetNow replaces the timestamp source for record times
func (s *BoltStore) SetNow(now func() time.Time) {
	s.now = now
}

// Close closes the database
func (s *BoltStore) Close() error {
	return s.db.Close()
}

// Volume operations
func (s *BoltStore) CreateVolume(ctx context.Context, volume *types.ServiceVolume) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketVolumes)
		if b.Get([]byte(volume.ID)) != nil {
			return fmt.Errorf("%w: %s", ErrVolumeExists, volume.ID)
		}

		if volume.CreatedAt.IsZero() {
			volume.CreatedAt = s.now()
		}
		if volume.UpdatedAt.IsZero() {
			volume.UpdatedAt = volume.CreatedAt
		}

		data, err := json.Marshal(volume)
		if err != nil {
			return err
		}
		return b.Put([]byte(volume.ID), data)
	})
}

func (s *BoltStore) GetVolume(ctx context.Context, id string) (*types.ServiceVolume, error) {
	var volume types.ServiceVolume
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketVolumes)
		data := b.Get([]byte(id))
		if data == nil {
			return fmt.Errorf("%w: %s", ErrVolumeNotFound, id)
		}
		return json.Unmarshal(data, &volume)
	})
	if err != nil {
		return nil, err
	}
	return &volume, nil
}

func (s *BoltStore) GetVolumeByDevice(ctx context.Context, owner types.Owner, device string) (*types.ServiceVolume, error) {
	volumes, err := s.ListVolumes(ctx)
	if err != nil {
		return nil, err
	}

	volume, err := selectByDevice(volumes, owner, device)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", err, device)
	}
	return volume, nil
}

func (s *BoltStore) ListVolumes(ctx context.Context) ([]*types.ServiceVolume, error) {
	var volumes []*types.ServiceVolume
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketVolumes)
		return b.ForEach(func(k, v []byte) error {
			var volume types.ServiceVolume
			if err := json.Unmarshal(v, &volume); err != nil {
				return err
			}
			volumes = append(volumes, &volume)
			return nil
		})
	})
	return volumes, err
}

// UpdateVolumeFields merges fields into the matched record.
// The lookup and the write happen in the same write transaction, so two updates
// touching disjoint fields never lose each other's changes.
func (s *BoltStore) UpdateVolumeFields(ctx context.Context, match types.VolumeMatch, fields types.VolumeFields) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketVolumes)

		volume, err := findForUpdate(b, match)
		if err != nil {
			return err
		}
		if fields.IsEmpty() {
			return nil
		}

		fields.ApplyTo(volume)
		volume.UpdatedAt = s.now()

		data, err := json.Marshal(volume)
		if err != nil {
			return err
		}
		return b.Put([]byte(volume.ID), data)
	})
}

func findForUpdate(b *bolt.Bucket, match types.VolumeMatch) (*types.ServiceVolume, error) {
	if match.ByID() {
		data := b.Get([]byte(match.ID))
		if data == nil {
			return nil, fmt.Errorf("%w: %s", ErrVolumeNotFound, match)
		}
		var volume types.ServiceVolume
		if err := json.Unmarshal(data, &volume); err != nil {
			return nil, err
		}
		if !match.Owner.Matches(&volume) {
			return nil, fmt.Errorf("%w: %s", ErrVolumeNotFound, match)
		}
		return &volume, nil
	}

	var volumes []*types.ServiceVolume
	err := b.ForEach(func(k, v []byte) error {
		var volume types.ServiceVolume
		if err := json.Unmarshal(v, &volume); err != nil {
			return err
		}
		volumes = append(volumes, &volume)
		return nil
	})
	if err != nil {
		return nil, err
	}

	volume, err := selectByDevice(volumes, match.Owner, match.Device)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", err, match)
	}
	return volume, nil
}

// DeleteVolume removes a volume record; deleting an unknown ID is not an error
func (s *BoltStore) DeleteVolume(ctx context.Context, id string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketVolumes)
		return b.Delete([]byte(id))
	})
}

// Member operations
func (s *BoltStore) SaveMember(ctx context.Context, member *types.Member) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketMembers)
		data, err := json.Marshal(member)
		if err != nil {
			return err
		}
		return b.Put([]byte(member.NodeID), data)
	})
}

func (s *BoltStore) GetMember(ctx context.Context, nodeID string) (*types.Member, error) {
	var member types.Member
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketMembers)
		data := b.Get([]byte(nodeID))
		if data == nil {
			return fmt.Errorf("%w: %s", ErrMemberNotFound, nodeID)
		}
		return json.Unmarshal(data, &member)
	})
	if err != nil {
		return nil, err
	}
	return &member, nil
}

func (s *BoltStore) ListMembers(ctx context.Context) ([]*types.Member, error) {
	var members []*types.Member
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketMembers)
		return b.ForEach(func(k, v []byte) error {
			var member types.Member
			if err := json.Unmarshal(v, &member); err != nil {
				return err
			}
			members = append(members, &member)
			return nil
		})
	})
	return members, err
}

// Reset removes every record, used before restoring a snapshot
func (s *BoltStore) Reset() error {
	return s.db.Update(func(tx *bolt.Tx) error {
		for _, bucket := range [][]byte{bucketVolumes, bucketMembers} {
			if tx.Bucket(bucket) != nil {
				if err := tx.DeleteBucket(bucket); err != nil {
					return fmt.Errorf("failed to drop bucket %s: %w", bucket, err)
				}
			}
			if _, err := tx.CreateBucket(bucket); err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", bucket, err)
			}
		}
		return nil
	})
}
