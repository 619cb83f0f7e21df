package volume

import (
	"context"
	"fmt"
	"time"

	"github.com/cuemby/burrow/pkg/metrics"
)

const (
	// DefaultAttachSettleDelay is the fixed wait used when the driver cannot report readiness
	DefaultAttachSettleDelay = 10 * time.Second

	// DefaultAttachPollInterval is the delay between readiness queries
	DefaultAttachPollInterval = 2 * time.Second

	// DefaultAttachTimeout bounds the readiness polling loop
	DefaultAttachTimeout = 2 * time.Minute
)

// AttachmentChecker is implemented by drivers that can report whether an
// attachment is usable from the host.
type AttachmentChecker interface {
	AttachmentReady(ctx context.Context, volumeID, bindAddress string) (bool, error)
}

// waitForAttachment blocks until volumeID is observably attached.
// Drivers without a readiness query get the fixed settle delay.
func (m *LifecycleManager) waitForAttachment(ctx context.Context, volumeID, device string) error {
	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.AttachWaitDuration)

	checker, ok := m.driver.(AttachmentChecker)
	if !ok {
		return m.settle(ctx, device)
	}
	return m.pollAttachment(ctx, checker, volumeID, device)
}

func (m *LifecycleManager) settle(ctx context.Context, device string) error {
	m.logger.Debug().
		Str("device", device).
		Dur("delay", m.attach.SettleDelay).
		Msg("Waiting for attachment to settle")

	select {
	case <-m.clock.After(m.attach.SettleDelay):
		return nil
	case <-ctx.Done():
		return &LocalOperationError{
			Op:     opAttach,
			Device: device,
			Err:    fmt.Errorf("interrupted while waiting for attachment: %w", ctx.Err()),
		}
	}
}

func (m *LifecycleManager) pollAttachment(ctx context.Context, checker AttachmentChecker, volumeID, device string) error {
	deadline := m.clock.NewTimer(m.attach.Timeout)
	defer deadline.Stop()

	for attempt := 1; ; attempt++ {
		ready, err := checker.AttachmentReady(ctx, volumeID, m.instance.BindAddress)
		if err != nil {
			if ctx.Err() != nil {
				return &LocalOperationError{
					Op:     opAttach,
					Device: device,
					Err:    fmt.Errorf("interrupted while waiting for attachment: %w", ctx.Err()),
				}
			}
			return &RemoteOperationError{Op: opAttach, VolumeID: volumeID, Err: err}
		}
		if ready {
			m.logger.Debug().
				Str("volume_id", volumeID).
				Int("attempts", attempt).
				Msg("Attachment is ready")
			return nil
		}

		select {
		case <-deadline.Chan():
			return &TimeoutError{
				Op:      opAttach,
				Timeout: m.attach.Timeout,
				Err:     fmt.Errorf("volume %s not attached at %s", volumeID, device),
			}
		case <-ctx.Done():
			return &LocalOperationError{
				Op:     opAttach,
				Device: device,
				Err:    fmt.Errorf("interrupted while waiting for attachment: %w", ctx.Err()),
			}
		case <-m.clock.After(m.attach.PollInterval):
		}
	}
}
