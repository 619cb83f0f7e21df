package volume

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cuemby/burrow/pkg/events"
	"github.com/cuemby/burrow/pkg/log"
	"github.com/cuemby/burrow/pkg/metrics"
	"github.com/cuemby/burrow/pkg/types"
	"github.com/google/uuid"
	"github.com/juju/clock"
	"github.com/rs/zerolog"
)

const (
	opCreate      = "create"
	opAttach      = "attach"
	opDetach      = "detach"
	opDelete      = "delete"
	opMount       = "mount"
	opUnmount     = "unmount"
	opFormat      = "format"
	opGetTemplate = "get_template"
)

// ProvisioningDriver creates, attaches, detaches and deletes volumes on a
// remote storage backend.
type ProvisioningDriver interface {
	CreateVolume(ctx context.Context, templateName, location string) (string, error)
	AttachVolume(ctx context.Context, volumeID, device, bindAddress string) error
	DetachVolume(ctx context.Context, volumeID, bindAddress string) error
	DeleteVolume(ctx context.Context, location, volumeID string) error
	GetTemplate(name string) (*types.StorageTemplate, error)
}

// StateStore is the shared record of volume state.
// UpdateVolumeFields must merge fields atomically.
type StateStore interface {
	CreateVolume(ctx context.Context, volume *types.ServiceVolume) error
	GetVolume(ctx context.Context, id string) (*types.ServiceVolume, error)
	GetVolumeByDevice(ctx context.Context, owner types.Owner, device string) (*types.ServiceVolume, error)
	ListVolumes(ctx context.Context) ([]*types.ServiceVolume, error)
	UpdateVolumeFields(ctx context.Context, match types.VolumeMatch, fields types.VolumeFields) error
	DeleteVolume(ctx context.Context, id string) error
}

// InstanceContext describes the service instance the manager acts for
type InstanceContext struct {
	ApplicationName string
	ServiceName     string
	LocationID      string
	BindAddress     string
	Platform        string
	Privileged      bool
}

// Owner returns the owner used to scope device lookups
func (c InstanceContext) Owner() types.Owner {
	return types.Owner{ApplicationName: c.ApplicationName, ServiceName: c.ServiceName}
}

// AttachSettings controls how attach waits for a usable device
type AttachSettings struct {
	SettleDelay  time.Duration
	PollInterval time.Duration
	Timeout      time.Duration
}

// Config holds the collaborators of a LifecycleManager
type Config struct {
	Instance InstanceContext
	Driver   ProvisioningDriver
	Host     HostOperations
	Store    StateStore

	// Optional
	Clock  clock.Clock
	Locker Locker
	Events *events.Broker
	Attach AttachSettings
}

// LifecycleManager sequences provisioning, host operations and state updates
// for the volumes of one service instance. Every call is attempted once.
type LifecycleManager struct {
	instance InstanceContext
	driver   ProvisioningDriver
	host     HostOperations
	store    StateStore
	clock    clock.Clock
	locker   Locker
	events   *events.Broker
	attach   AttachSettings
	logger   zerolog.Logger
}

// NewLifecycleManager creates a lifecycle manager from cfg
func NewLifecycleManager(cfg Config) (*LifecycleManager, error) {
	if cfg.Driver == nil {
		return nil, fmt.Errorf("provisioning driver is required")
	}
	if cfg.Host == nil {
		return nil, fmt.Errorf("host operations are required")
	}
	if cfg.Store == nil {
		return nil, fmt.Errorf("state store is required")
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.WallClock
	}
	if cfg.Locker == nil {
		cfg.Locker = noopLocker{}
	}
	if cfg.Attach.SettleDelay <= 0 {
		cfg.Attach.SettleDelay = DefaultAttachSettleDelay
	}
	if cfg.Attach.PollInterval <= 0 {
		cfg.Attach.PollInterval = DefaultAttachPollInterval
	}
	if cfg.Attach.Timeout <= 0 {
		cfg.Attach.Timeout = DefaultAttachTimeout
	}

	return &LifecycleManager{
		instance: cfg.Instance,
		driver:   cfg.Driver,
		host:     cfg.Host,
		store:    cfg.Store,
		clock:    cfg.Clock,
		locker:   cfg.Locker,
		events:   cfg.Events,
		attach:   cfg.Attach,
		logger:   log.WithService(cfg.Instance.ApplicationName, cfg.Instance.ServiceName),
	}, nil
}

// CreateVolume provisions a volume from templateName in the instance's location
// and records it as CREATED. A zero timeout leaves the deadline to ctx.
func (m *LifecycleManager) CreateVolume(ctx context.Context, templateName string, timeout time.Duration) (volumeID string, err error) {
	timer := metrics.NewTimer()
	defer func() { m.finish(opCreate, timer, volumeID, "", err) }()

	ctx, cancel := withTimeout(ctx, timeout)
	defer cancel()

	volumeID, err = m.driver.CreateVolume(ctx, templateName, m.instance.LocationID)
	if err != nil {
		return "", remoteError(opCreate, "", timeout, err)
	}

	volume := &types.ServiceVolume{
		ID:              volumeID,
		ApplicationName: m.instance.ApplicationName,
		ServiceName:     m.instance.ServiceName,
		State:           types.VolumeStateCreated,
		Template:        templateName,
		Location:        m.instance.LocationID,
	}
	if err := m.store.CreateVolume(ctx, volume); err != nil {
		return volumeID, fmt.Errorf("volume %s created but not recorded: %w", volumeID, err)
	}

	m.publish(events.EventVolumeCreated, volumeID, "")
	return volumeID, nil
}

// AttachVolume attaches volumeID at device, records ATTACHED with the device,
// then blocks until the attachment is usable.
func (m *LifecycleManager) AttachVolume(ctx context.Context, volumeID, device string) (err error) {
	timer := metrics.NewTimer()
	defer func() { m.finish(opAttach, timer, volumeID, device, err) }()

	if err := m.checkPlatform(opAttach); err != nil {
		return err
	}

	unlock, err := m.lock(ctx, opAttach, volumeID)
	if err != nil {
		return err
	}
	defer unlock()

	if err := m.driver.AttachVolume(ctx, volumeID, device, m.instance.BindAddress); err != nil {
		return remoteError(opAttach, volumeID, 0, err)
	}

	fields := types.SetState(types.VolumeStateAttached).WithDevice(device)
	if err := m.store.UpdateVolumeFields(ctx, types.MatchOwnedID(m.instance.Owner(), volumeID), fields); err != nil {
		return fmt.Errorf("volume %s attached but not recorded: %w", volumeID, err)
	}

	if err := m.waitForAttachment(ctx, volumeID, device); err != nil {
		return err
	}

	m.publish(events.EventVolumeAttached, volumeID, device)
	return nil
}

// DetachVolume detaches volumeID, records DETACHED and clears its device
func (m *LifecycleManager) DetachVolume(ctx context.Context, volumeID string) (err error) {
	timer := metrics.NewTimer()
	defer func() { m.finish(opDetach, timer, volumeID, "", err) }()

	if err := m.checkPlatform(opDetach); err != nil {
		return err
	}

	unlock, err := m.lock(ctx, opDetach, volumeID)
	if err != nil {
		return err
	}
	defer unlock()

	if err := m.driver.DetachVolume(ctx, volumeID, m.instance.BindAddress); err != nil {
		return remoteError(opDetach, volumeID, 0, err)
	}

	fields := types.SetState(types.VolumeStateDetached).WithDevice("")
	if err := m.store.UpdateVolumeFields(ctx, types.MatchOwnedID(m.instance.Owner(), volumeID), fields); err != nil {
		return fmt.Errorf("volume %s detached but not recorded: %w", volumeID, err)
	}

	m.publish(events.EventVolumeDetached, volumeID, "")
	return nil
}

// DeleteVolume deletes volumeID from the backend and removes its record
func (m *LifecycleManager) DeleteVolume(ctx context.Context, volumeID string) (err error) {
	timer := metrics.NewTimer()
	defer func() { m.finish(opDelete, timer, volumeID, "", err) }()

	if err := m.checkPlatform(opDelete); err != nil {
		return err
	}

	unlock, err := m.lock(ctx, opDelete, volumeID)
	if err != nil {
		return err
	}
	defer unlock()

	if err := m.driver.DeleteVolume(ctx, m.instance.LocationID, volumeID); err != nil {
		return remoteError(opDelete, volumeID, 0, err)
	}

	if err := m.store.DeleteVolume(ctx, volumeID); err != nil {
		return fmt.Errorf("volume %s deleted but record not removed: %w", volumeID, err)
	}

	m.publish(events.EventVolumeDeleted, volumeID, "")
	return nil
}

// Mount mounts device at path and records the owning volume as MOUNTED
func (m *LifecycleManager) Mount(ctx context.Context, device, path string, timeout time.Duration) (err error) {
	return m.hostOperation(ctx, opMount, device, timeout, types.VolumeStateMounted, events.EventVolumeMounted,
		func(ctx context.Context) error { return m.host.Mount(ctx, device, path) })
}

// Unmount unmounts device and records the owning volume as UNMOUNTED
func (m *LifecycleManager) Unmount(ctx context.Context, device string, timeout time.Duration) (err error) {
	return m.hostOperation(ctx, opUnmount, device, timeout, types.VolumeStateUnmounted, events.EventVolumeUnmounted,
		func(ctx context.Context) error { return m.host.Unmount(ctx, device) })
}

// Format creates a fileSystem filesystem on device and records the owning volume as FORMATTED
func (m *LifecycleManager) Format(ctx context.Context, device, fileSystem string, timeout time.Duration) (err error) {
	return m.hostOperation(ctx, opFormat, device, timeout, types.VolumeStateFormatted, events.EventVolumeFormatted,
		func(ctx context.Context) error { return m.host.Format(ctx, device, fileSystem) })
}

func (m *LifecycleManager) hostOperation(ctx context.Context, op, device string, timeout time.Duration, state types.VolumeState, eventType events.EventType, run func(context.Context) error) (err error) {
	timer := metrics.NewTimer()
	defer func() { m.finish(op, timer, "", device, err) }()

	if err := m.checkHostAccess(op); err != nil {
		return err
	}

	unlock, err := m.lock(ctx, op, device)
	if err != nil {
		return err
	}
	defer unlock()

	runCtx, cancel := withTimeout(ctx, timeout)
	defer cancel()

	if err := run(runCtx); err != nil {
		return localError(op, device, timeout, err)
	}

	match := types.MatchDevice(m.instance.Owner(), device)
	if err := m.store.UpdateVolumeFields(ctx, match, types.SetState(state)); err != nil {
		return fmt.Errorf("%s of %s succeeded but not recorded: %w", op, device, err)
	}

	m.publish(eventType, "", device)
	return nil
}

// GetTemplate returns the named storage template from the driver
func (m *LifecycleManager) GetTemplate(ctx context.Context, templateName string) (*types.StorageTemplate, error) {
	template, err := m.driver.GetTemplate(templateName)
	if err != nil {
		return nil, &RemoteOperationError{Op: opGetTemplate, Err: err}
	}
	return template, nil
}

// GetVolume returns the record of volumeID
func (m *LifecycleManager) GetVolume(ctx context.Context, volumeID string) (*types.ServiceVolume, error) {
	return m.store.GetVolume(ctx, volumeID)
}

// ListVolumes returns the records owned by this instance's service
func (m *LifecycleManager) ListVolumes(ctx context.Context) ([]*types.ServiceVolume, error) {
	all, err := m.store.ListVolumes(ctx)
	if err != nil {
		return nil, err
	}

	owner := m.instance.Owner()
	volumes := make([]*types.ServiceVolume, 0, len(all))
	for _, v := range all {
		if owner.Matches(v) {
			volumes = append(volumes, v)
		}
	}
	return volumes, nil
}

func (m *LifecycleManager) lock(ctx context.Context, op, key string) (func(), error) {
	unlock, err := m.locker.Lock(ctx, key)
	if err != nil {
		return nil, &LocalOperationError{Op: op, Err: fmt.Errorf("failed to lock %s: %w", key, err)}
	}
	return unlock, nil
}

func (m *LifecycleManager) finish(op string, timer *metrics.Timer, volumeID, device string, err error) {
	timer.ObserveDurationVec(metrics.VolumeOperationDuration, op)
	metrics.VolumeOperationsTotal.WithLabelValues(op, metrics.Result(err)).Inc()

	logger := log.WithVolume(m.logger, volumeID, device)
	if err != nil {
		logger.Error().
			Err(err).
			Str("operation", op).
			Msg("Volume operation failed")
		m.publishFailure(op, volumeID, device, err)
		return
	}

	logger.Info().
		Str("operation", op).
		Dur("duration", timer.Duration()).
		Msg("Volume operation completed")
}

func (m *LifecycleManager) publish(eventType events.EventType, volumeID, device string) {
	if m.events == nil {
		return
	}
	m.events.Publish(&events.Event{
		ID:        uuid.New().String(),
		Type:      eventType,
		Timestamp: m.clock.Now(),
		Message:   describe(eventType, volumeID, device),
		Metadata:  m.eventMetadata(volumeID, device),
	})
}

func (m *LifecycleManager) publishFailure(op, volumeID, device string, err error) {
	if m.events == nil {
		return
	}
	metadata := m.eventMetadata(volumeID, device)
	metadata["operation"] = op
	m.events.Publish(&events.Event{
		ID:        uuid.New().String(),
		Type:      events.EventOperationFailed,
		Timestamp: m.clock.Now(),
		Message:   err.Error(),
		Metadata:  metadata,
	})
}

func (m *LifecycleManager) eventMetadata(volumeID, device string) map[string]string {
	metadata := map[string]string{
		"application": m.instance.ApplicationName,
		"service":     m.instance.ServiceName,
	}
	if volumeID != "" {
		metadata["volume_id"] = volumeID
	}
	if device != "" {
		metadata["device"] = device
	}
	return metadata
}

func describe(eventType events.EventType, volumeID, device string) string {
	if volumeID != "" {
		return fmt.Sprintf("%s: volume %s", eventType, volumeID)
	}
	return fmt.Sprintf("%s: device %s", eventType, device)
}

func withTimeout(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, timeout)
}

func remoteError(op, volumeID string, timeout time.Duration, err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return &TimeoutError{Op: op, Timeout: timeout, Err: err}
	}
	return &RemoteOperationError{Op: op, VolumeID: volumeID, Err: err}
}

func localError(op, device string, timeout time.Duration, err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return &TimeoutError{Op: op, Timeout: timeout, Err: err}
	}
	return &LocalOperationError{Op: op, Device: device, Err: err}
}
