package main

import (
	"context"
	"fmt"
	"os"

	"github.com/cuemby/burrow/pkg/client"
	"github.com/cuemby/burrow/pkg/config"
	"github.com/cuemby/burrow/pkg/provision"
	"github.com/cuemby/burrow/pkg/storage"
	"github.com/cuemby/burrow/pkg/volume"
	"github.com/juju/clock"
)

// stateBackend is an opened volume state store and the locker that goes with it
type stateBackend struct {
	store  volume.StateStore
	locker volume.Locker
	close  func() error
}

func openStateBackend(ctx context.Context, cfg *config.Config) (*stateBackend, error) {
	switch cfg.Store.Backend {
	case config.BackendRaft:
		c, err := client.Dial(ctx, cfg.Store.Manager, client.Options{CertDir: cfg.TLS.CertDir})
		if err != nil {
			return nil, err
		}
		return &stateBackend{store: c, locker: volume.NewKeyedLocker(), close: c.Close}, nil

	case config.BackendEtcd:
		s, err := storage.NewEtcdStore(cfg.EtcdStoreConfig())
		if err != nil {
			return nil, err
		}
		var locker volume.Locker = volume.NewKeyedLocker()
		if cfg.Store.Lock {
			locker = volume.NewStoreLocker(s)
		}
		return &stateBackend{store: s, locker: locker, close: s.Close}, nil

	default:
		s, err := openBoltStore(cfg.Store.DataDir)
		if err != nil {
			return nil, err
		}
		return &stateBackend{store: s, locker: volume.NewKeyedLocker(), close: s.Close}, nil
	}
}

func openBoltStore(dataDir string) (*storage.BoltStore, error) {
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}
	return storage.NewBoltStore(dataDir)
}

func newDriver(ctx context.Context, cfg *config.Config) (volume.ProvisioningDriver, error) {
	templates, err := provision.NewTemplates(cfg.Templates)
	if err != nil {
		return nil, err
	}

	switch cfg.Provisioner.Driver {
	case config.DriverEBS:
		ec2Client, err := provision.NewEC2Client(ctx, cfg.Provisioner.Region)
		if err != nil {
			return nil, err
		}
		return provision.NewEBSDriver(ec2Client, templates, clock.WallClock), nil
	default:
		return provision.NewLoopbackDriver(cfg.Provisioner.BasePath, templates, volume.ExecRunner{Sudo: cfg.Provisioner.Sudo})
	}
}

// newLifecycleManager builds a lifecycle manager from cfg. The returned
// function closes the state store.
func newLifecycleManager(ctx context.Context, cfg *config.Config) (*volume.LifecycleManager, func() error, error) {
	driver, err := newDriver(ctx, cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create provisioning driver: %w", err)
	}

	backend, err := openStateBackend(ctx, cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open state store: %w", err)
	}

	host := volume.NewExecHostOperations(volume.ExecRunner{Sudo: cfg.Host.Sudo}, cfg.Host.CreateMountPoint)

	mgr, err := volume.NewLifecycleManager(volume.Config{
		Instance: cfg.InstanceContext(),
		Driver:   driver,
		Host:     host,
		Store:    backend.store,
		Locker:   backend.locker,
		Attach:   cfg.AttachSettings(),
	})
	if err != nil {
		_ = backend.close()
		return nil, nil, err
	}
	return mgr, backend.close, nil
}
