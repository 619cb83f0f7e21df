/*
Package storage persists volume records and store members.

Three Store implementations share the same semantics:

  - BoltStore keeps records in a local bbolt file (burrow.db). It backs a
    single-host deployment directly and is the state machine storage of
    every Raft manager.
  - EtcdStore keeps records under a key prefix in etcd and offers
    LockVolume, a lease-backed lock used to serialize operations across
    hosts.
  - the Raft cluster itself, reached through package client.

Records are JSON. UpdateVolumeFields merges only the fields it is given
inside one transaction, matching by volume ID or by device within an owner.
Lookups return ErrVolumeNotFound, ErrVolumeExists or ErrAmbiguousDevice,
which survive the trip through the gRPC API.

MigrateVolumes copies every record from one store into another, skipping
records the target already has, and BoltStore.Backup snapshots the bolt file
before a migration.
*/
package storage
