package volume

import (
	"context"

	"github.com/im7mortal/kmutex"
)

// Locker serializes operations sharing a key: a volume ID for driver-side
// operations, a device path for host operations.
// The returned function releases the lock.
type Locker interface {
	Lock(ctx context.Context, key string) (func(), error)
}

// KeyedLocker is an in-process Locker with one mutex per key
type KeyedLocker struct {
	km *kmutex.Kmutex
}

// NewKeyedLocker creates an in-process per-volume locker
func NewKeyedLocker() *KeyedLocker {
	return &KeyedLocker{km: kmutex.New()}
}

// Lock blocks until key is free. ctx is only checked before waiting.
func (l *KeyedLocker) Lock(ctx context.Context, key string) (func(), error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	l.km.Lock(key)
	return func() { l.km.Unlock(key) }, nil
}

// DistributedLocker is implemented by stores that can hold a cluster-wide lock
type DistributedLocker interface {
	LockVolume(ctx context.Context, volumeID string) (func(), error)
}

// StoreLocker adapts a DistributedLocker such as the etcd store to Locker
type StoreLocker struct {
	store DistributedLocker
}

// NewStoreLocker creates a Locker backed by store
func NewStoreLocker(store DistributedLocker) *StoreLocker {
	return &StoreLocker{store: store}
}

// Lock acquires the cluster-wide lock for key
func (l *StoreLocker) Lock(ctx context.Context, key string) (func(), error) {
	return l.store.LockVolume(ctx, key)
}

type noopLocker struct{}

func (noopLocker) Lock(ctx context.Context, key string) (func(), error) {
	return func() {}, nil
}
