/*
Package volume manages the lifecycle of block storage volumes used by one
service instance.

A LifecycleManager sits between three collaborators:

  - a ProvisioningDriver that creates, attaches, detaches and deletes volumes
    on a storage backend (see package provision for EBS and loopback)
  - HostOperations that mount, unmount and format devices on the local host
  - a StateStore holding the shared record of every volume, keyed by volume
    ID and owned by an application and service

Each operation performs its remote or host action first and then records the
result. A failed action leaves the record untouched and returns a typed error:

	RemoteOperationError       the provisioning driver failed
	LocalOperationError        a host command failed
	TimeoutError               the caller's timeout expired first
	UnsupportedPlatformError   the instance runs on an excluded platform
	PrivilegeRequiredError     a host operation needs root

# Lifecycle

Records move through these states:

	CreateVolume  ->  CREATED
	AttachVolume  ->  ATTACHED    (device recorded)
	Mount         ->  MOUNTED
	Unmount       ->  UNMOUNTED
	Format        ->  FORMATTED
	DetachVolume  ->  DETACHED    (device cleared)
	DeleteVolume  ->  record removed

The manager does not enforce an order between them. Mount, Unmount and Format
take a device rather than a volume ID and find the record through the
instance's owner, so two services may use the same device name without
clashing. A device matching more than one record of the same owner fails with
storage.ErrAmbiguousDevice.

# Attach readiness

A backend usually reports an attachment before the device is usable. When the
driver implements AttachmentChecker, AttachVolume polls it every
PollInterval until Timeout. Otherwise it waits SettleDelay once.

# Concurrency

Operations on the same volume are serialized through a Locker. KeyedLocker
covers a single process; StoreLocker takes an etcd lease-backed lock so
instances on different hosts serialize as well. Field updates are merged in
the store, so concurrent updates to disjoint fields of one record never
overwrite each other.

# Usage

	mgr, err := volume.NewLifecycleManager(volume.Config{
		Instance: volume.InstanceContext{
			ApplicationName: "shop",
			ServiceName:     "postgres",
			LocationID:      "eu-west-1a",
			BindAddress:     "i-0abc123",
			Platform:        runtime.GOOS,
			Privileged:      os.Geteuid() == 0,
		},
		Driver: driver,
		Host:   volume.NewExecHostOperations(volume.ExecRunner{}, true),
		Store:  store,
	})
	if err != nil {
		return err
	}

	id, err := mgr.CreateVolume(ctx, "small-ext4", 5*time.Minute)
	if err != nil {
		return err
	}
	if err := mgr.AttachVolume(ctx, id, "/dev/xvdf"); err != nil {
		return err
	}
	if err := mgr.Format(ctx, "/dev/xvdf", "ext4", time.Minute); err != nil {
		return err
	}
	return mgr.Mount(ctx, "/dev/xvdf", "/var/lib/postgresql", time.Minute)
*/
package volume
