package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/cuemby/burrow/pkg/log"
	"github.com/cuemby/burrow/pkg/types"
	"github.com/rs/zerolog"
	clientv3 "go.etcd.io/etcd/client/v3"
	"go.etcd.io/etcd/client/v3/concurrency"
)

const (
	// DefaultEtcdPrefix is the key prefix used when none is configured
	DefaultEtcdPrefix = "/burrow"

	// maxMergeAttempts bounds compare-and-swap retries under contention
	maxMergeAttempts = 16
)

// EtcdConfig holds the connection settings for an etcd-backed store
type EtcdConfig struct {
	Endpoints   []string
	DialTimeout time.Duration
	Username    string
	Password    string
	Prefix      string
	SessionTTL  int // seconds
}

// etcdKV is the part of clientv3.KV the store uses
type etcdKV interface {
	Get(ctx context.Context, key string, opts ...clientv3.OpOption) (*clientv3.GetResponse, error)
	Put(ctx context.Context, key, val string, opts ...clientv3.OpOption) (*clientv3.PutResponse, error)
	Delete(ctx context.Context, key string, opts ...clientv3.OpOption) (*clientv3.DeleteResponse, error)
	Txn(ctx context.Context) clientv3.Txn
}

// volumeMutex is a distributed lock on one key, such as concurrency.Mutex
type volumeMutex interface {
	Lock(ctx context.Context) error
	Unlock(ctx context.Context) error
}

// EtcdStore implements Store on top of etcd.
// Field merges use a compare-and-swap on the record's ModRevision.
type EtcdStore struct {
	kv       etcdKV
	client   *clientv3.Client
	newMutex func(key string) (volumeMutex, error)
	mu       sync.Mutex
	session  *concurrency.Session
	prefix   string
	ttl      int
	now      func() time.Time
	logger   zerolog.Logger
}

// NewEtcdStore connects to etcd and returns a store rooted at cfg.Prefix
func NewEtcdStore(cfg EtcdConfig) (*EtcdStore, error) {
	if cfg.DialTimeout == 0 {
		cfg.DialTimeout = 5 * time.Second
	}
	if cfg.Prefix == "" {
		cfg.Prefix = DefaultEtcdPrefix
	}
	if cfg.SessionTTL == 0 {
		cfg.SessionTTL = 30
	}

	client, err := clientv3.New(clientv3.Config{
		Endpoints:   cfg.Endpoints,
		DialTimeout: cfg.DialTimeout,
		Username:    cfg.Username,
		Password:    cfg.Password,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to etcd: %w", err)
	}

	s := newEtcdStore(client, cfg.Prefix)
	s.client = client
	s.ttl = cfg.SessionTTL
	s.newMutex = s.sessionMutex
	s.logger.Info().Strs("endpoints", cfg.Endpoints).Msg("Connected to etcd")
	return s, nil
}

func newEtcdStore(kv etcdKV, prefix string) *EtcdStore {
	return &EtcdStore{
		kv:     kv,
		prefix: strings.TrimSuffix(prefix, "/"),
		now:    time.Now,
		logger: log.WithComponent("etcd-store"),
	}
}

// Close closes the lock session and the etcd client
func (s *EtcdStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.session != nil {
		s.session.Close()
	}
	if s.client == nil {
		return nil
	}
	return s.client.Close()
}

func (s *EtcdStore) volumeKey(id string) string {
	return s.prefix + "/volumes/" + id
}

func (s *EtcdStore) memberKey(nodeID string) string {
	return s.prefix + "/members/" + nodeID
}

// Volume operations
func (s *EtcdStore) CreateVolume(ctx context.Context, volume *types.ServiceVolume) error {
	if volume.CreatedAt.IsZero() {
		volume.CreatedAt = s.now()
	}
	if volume.UpdatedAt.IsZero() {
		volume.UpdatedAt = volume.CreatedAt
	}

	data, err := json.Marshal(volume)
	if err != nil {
		return fmt.Errorf("failed to marshal volume: %w", err)
	}

	key := s.volumeKey(volume.ID)
	resp, err := s.kv.Txn(ctx).
		If(clientv3.Compare(clientv3.CreateRevision(key), "=", 0)).
		Then(clientv3.OpPut(key, string(data))).
		Commit()
	if err != nil {
		return fmt.Errorf("failed to create volume: %w", err)
	}
	if !resp.Succeeded {
		return fmt.Errorf("%w: %s", ErrVolumeExists, volume.ID)
	}
	return nil
}

func (s *EtcdStore) GetVolume(ctx context.Context, id string) (*types.ServiceVolume, error) {
	volume, _, err := s.getVolume(ctx, id)
	return volume, err
}

func (s *EtcdStore) getVolume(ctx context.Context, id string) (*types.ServiceVolume, int64, error) {
	resp, err := s.kv.Get(ctx, s.volumeKey(id))
	if err != nil {
		return nil, 0, fmt.Errorf("failed to get volume: %w", err)
	}
	if len(resp.Kvs) == 0 {
		return nil, 0, fmt.Errorf("%w: %s", ErrVolumeNotFound, id)
	}

	var volume types.ServiceVolume
	if err := json.Unmarshal(resp.Kvs[0].Value, &volume); err != nil {
		return nil, 0, err
	}
	return &volume, resp.Kvs[0].ModRevision, nil
}

func (s *EtcdStore) GetVolumeByDevice(ctx context.Context, owner types.Owner, device string) (*types.ServiceVolume, error) {
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

func (s *EtcdStore) ListVolumes(ctx context.Context) ([]*types.ServiceVolume, error) {
	resp, err := s.kv.Get(ctx, s.prefix+"/volumes/", clientv3.WithPrefix())
	if err != nil {
		return nil, fmt.Errorf("failed to list volumes: %w", err)
	}

	volumes := make([]*types.ServiceVolume, 0, len(resp.Kvs))
	for _, kv := range resp.Kvs {
		var volume types.ServiceVolume
		if err := json.Unmarshal(kv.Value, &volume); err != nil {
			return nil, err
		}
		volumes = append(volumes, &volume)
	}
	return volumes, nil
}

// UpdateVolumeFields merges fields with a compare-and-swap loop so a concurrent
// writer touching other fields forces a re-read instead of being overwritten.
func (s *EtcdStore) UpdateVolumeFields(ctx context.Context, match types.VolumeMatch, fields types.VolumeFields) error {
	for attempt := 0; attempt < maxMergeAttempts; attempt++ {
		id := match.ID
		if !match.ByID() {
			volume, err := s.GetVolumeByDevice(ctx, match.Owner, match.Device)
			if err != nil {
				return err
			}
			id = volume.ID
		}

		volume, rev, err := s.getVolume(ctx, id)
		if err != nil {
			return err
		}
		if !match.Owner.Matches(volume) {
			return fmt.Errorf("%w: %s", ErrVolumeNotFound, match)
		}
		if !match.ByID() && volume.Device != match.Device {
			continue
		}
		if fields.IsEmpty() {
			return nil
		}

		fields.ApplyTo(volume)
		volume.UpdatedAt = s.now()

		data, err := json.Marshal(volume)
		if err != nil {
			return fmt.Errorf("failed to marshal volume: %w", err)
		}

		key := s.volumeKey(id)
		resp, err := s.kv.Txn(ctx).
			If(clientv3.Compare(clientv3.ModRevision(key), "=", rev)).
			Then(clientv3.OpPut(key, string(data))).
			Commit()
		if err != nil {
			return fmt.Errorf("failed to update volume: %w", err)
		}
		if resp.Succeeded {
			return nil
		}

		s.logger.Debug().
			Str("volume_id", id).
			Int("attempt", attempt+1).
			Msg("Volume changed concurrently, retrying merge")
	}

	return fmt.Errorf("failed to update volume %s: too much contention", match)
}

// DeleteVolume removes a volume record; deleting an unknown ID is not an error
func (s *EtcdStore) DeleteVolume(ctx context.Context, id string) error {
	if _, err := s.kv.Delete(ctx, s.volumeKey(id)); err != nil {
		return fmt.Errorf("failed to delete volume: %w", err)
	}
	return nil
}

// Member operations
func (s *EtcdStore) SaveMember(ctx context.Context, member *types.Member) error {
	data, err := json.Marshal(member)
	if err != nil {
		return err
	}
	if _, err := s.kv.Put(ctx, s.memberKey(member.NodeID), string(data)); err != nil {
		return fmt.Errorf("failed to save member: %w", err)
	}
	return nil
}

func (s *EtcdStore) GetMember(ctx context.Context, nodeID string) (*types.Member, error) {
	resp, err := s.kv.Get(ctx, s.memberKey(nodeID))
	if err != nil {
		return nil, fmt.Errorf("failed to get member: %w", err)
	}
	if len(resp.Kvs) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrMemberNotFound, nodeID)
	}

	var member types.Member
	if err := json.Unmarshal(resp.Kvs[0].Value, &member); err != nil {
		return nil, err
	}
	return &member, nil
}

func (s *EtcdStore) ListMembers(ctx context.Context) ([]*types.Member, error) {
	resp, err := s.kv.Get(ctx, s.prefix+"/members/", clientv3.WithPrefix())
	if err != nil {
		return nil, fmt.Errorf("failed to list members: %w", err)
	}

	members := make([]*types.Member, 0, len(resp.Kvs))
	for _, kv := range resp.Kvs {
		var member types.Member
		if err := json.Unmarshal(kv.Value, &member); err != nil {
			return nil, err
		}
		members = append(members, &member)
	}
	return members, nil
}

// LockVolume acquires a distributed lock scoped to one volume ID.
// The returned function releases it.
func (s *EtcdStore) LockVolume(ctx context.Context, volumeID string) (func(), error) {
	if s.newMutex == nil {
		return nil, fmt.Errorf("failed to lock volume %s: store has no lock session", volumeID)
	}
	mutex, err := s.newMutex(s.lockKey(volumeID))
	if err != nil {
		return nil, err
	}

	if err := mutex.Lock(ctx); err != nil {
		return nil, fmt.Errorf("failed to lock volume %s: %w", volumeID, err)
	}

	return func() {
		unlockCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := mutex.Unlock(unlockCtx); err != nil {
			s.logger.Warn().Err(err).Str("volume_id", volumeID).Msg("Failed to release volume lock")
		}
	}, nil
}

func (s *EtcdStore) lockKey(volumeID string) string {
	return s.prefix + "/locks/" + volumeID
}

// sessionMutex returns a mutex bound to the store's lease session
func (s *EtcdStore) sessionMutex(key string) (volumeMutex, error) {
	session, err := s.lockSession()
	if err != nil {
		return nil, err
	}
	return concurrency.NewMutex(session, key), nil
}

func (s *EtcdStore) lockSession() (*concurrency.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.session == nil {
		session, err := concurrency.NewSession(s.client, concurrency.WithTTL(s.ttl))
		if err != nil {
			return nil, fmt.Errorf("failed to create etcd session: %w", err)
		}
		s.session = session
	}
	return s.session, nil
}
