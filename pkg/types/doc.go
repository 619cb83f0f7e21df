/*
Package types defines the volume records, storage templates and cluster
membership types shared by every other package.

The types here are plain data. They carry JSON tags because every store
serializes them as JSON: bbolt values, etcd values, Raft log entries and
structpb bodies on the wire all use the same encoding, so a record written
by one backend can be migrated to another unchanged.

# Volume Records

A ServiceVolume links a block-storage volume to the service instance that
owns it:

	┌──────────────── ServiceVolume ────────────────┐
	│  ID               backend volume id (key)       │
	│  ApplicationName  owner, with ServiceName       │
	│  ServiceName                                    │
	│  Device           host device path, or empty   │
	│  State            lifecycle phase               │
	│  CreatedAt        set on insert                 │
	│  UpdatedAt        set on every field merge      │
	└────────────────────────────────────────────────┘

The owner never changes after the record is written. Device is empty while
the volume is CREATED or DETACHED and names the host device in every other
state.

# Volume States

	CREATED ──attach──▶ ATTACHED ──format──▶ FORMATTED ──mount──▶ MOUNTED
	   ▲                   │                                        │
	   │                   │                                     unmount
	 (new)              detach                                      ▼
	                       ▼                                   UNMOUNTED
	                   DETACHED ◀──────────detach──────────────────┘

The lifecycle manager records whatever operation last succeeded and does not
enforce these edges. AllVolumeStates lists the known states and
VolumeState.Valid rejects anything else, which is how the reconciler spots
damaged records.

# Matching and Field Merges

Updates never replace a whole record. A VolumeMatch picks the record and a
VolumeFields names the fields to change:

	// attach: match by id, only if this service owns it
	match := types.MatchOwnedID(owner, "vol-0abc")
	fields := types.SetState(types.VolumeStateAttached).WithDevice("/dev/xvdf")

	// mount: match by device within the owning service
	match = types.MatchDevice(owner, "/dev/xvdf")
	fields = types.SetState(types.VolumeStateMounted)

	// detach: a non-nil empty device clears it
	fields = types.SetState(types.VolumeStateDetached).WithDevice("")

A zero Owner matches every record. Stores apply the merge atomically, so two
writers changing different fields of one record never lose each other's
change.

# Templates and Cluster Types

StorageTemplate describes what a provisioning driver should create: size in
GiB, volume type, device and filesystem hints, and driver-specific Custom
values. Templates are loaded from the config file by name.

Member, ClusterServer and ClusterInfo describe the Raft store cluster as
reported by `burrow cluster info`.
*/
package types
