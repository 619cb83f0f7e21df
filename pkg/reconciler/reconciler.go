package reconciler

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/cuemby/burrow/pkg/events"
	"github.com/cuemby/burrow/pkg/health"
	"github.com/cuemby/burrow/pkg/log"
	"github.com/cuemby/burrow/pkg/metrics"
	"github.com/cuemby/burrow/pkg/types"
	"github.com/google/uuid"
	"github.com/juju/clock"
	"github.com/rs/zerolog"
)

// Cluster is the view of a store node the reconciler inspects
type Cluster interface {
	ListMembers(ctx context.Context) ([]*types.Member, error)
	ListVolumes(ctx context.Context) ([]*types.ServiceVolume, error)
}

// Config configures a Reconciler
type Config struct {
	// NodeID is skipped when probing members
	NodeID string
	Probe  health.Config
	Events *events.Broker
	Clock  clock.Clock

	// NewChecker builds the probe for a member. Defaults to a TCP check
	// of the member's Raft address.
	NewChecker func(member *types.Member) health.Checker
}

// Report summarizes one reconciliation cycle
type Report struct {
	MembersChecked int
	Unreachable    []string
	Inconsistent   []string
}

// Reconciler periodically compares the store's records against reality:
// it probes every other member and flags volume records whose device
// does not fit their lifecycle state.
type Reconciler struct {
	cluster    Cluster
	nodeID     string
	probe      health.Config
	events     *events.Broker
	clock      clock.Clock
	newChecker func(member *types.Member) health.Checker

	mu           sync.Mutex
	statuses     map[string]*health.Status
	inconsistent map[string]bool

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
	logger   zerolog.Logger
}

// NewReconciler creates a new reconciler
func NewReconciler(cluster Cluster, cfg Config) *Reconciler {
	if cfg.Clock == nil {
		cfg.Clock = clock.WallClock
	}
	defaults := health.DefaultConfig()
	if cfg.Probe.Interval <= 0 {
		cfg.Probe.Interval = defaults.Interval
	}
	if cfg.Probe.Timeout <= 0 {
		cfg.Probe.Timeout = defaults.Timeout
	}
	if cfg.Probe.Retries <= 0 {
		cfg.Probe.Retries = defaults.Retries
	}
	if cfg.NewChecker == nil {
		timeout := cfg.Probe.Timeout
		cfg.NewChecker = func(member *types.Member) health.Checker {
			checker := health.NewTCPChecker(member.RaftAddr)
			checker.Timeout = timeout
			return checker
		}
	}

	return &Reconciler{
		cluster:      cluster,
		nodeID:       cfg.NodeID,
		probe:        cfg.Probe,
		events:       cfg.Events,
		clock:        cfg.Clock,
		newChecker:   cfg.NewChecker,
		statuses:     make(map[string]*health.Status),
		inconsistent: make(map[string]bool),
		stopCh:       make(chan struct{}),
		logger:       log.WithComponent("reconciler"),
	}
}

// Start begins the reconciliation loop
func (r *Reconciler) Start() {
	r.wg.Add(1)
	go r.run()
}

// Stop stops the reconciler and waits for the loop to exit
func (r *Reconciler) Stop() {
	r.stopOnce.Do(func() { close(r.stopCh) })
	r.wg.Wait()
}

func (r *Reconciler) run() {
	defer r.wg.Done()

	for {
		select {
		case <-r.clock.After(r.probe.Interval):
			ctx, cancel := context.WithTimeout(context.Background(), r.probe.Interval)
			if _, err := r.Reconcile(ctx); err != nil {
				r.logger.Warn().Err(err).Msg("Reconciliation cycle failed")
			}
			cancel()
		case <-r.stopCh:
			return
		}
	}
}

// Reconcile performs one reconciliation cycle
func (r *Reconciler) Reconcile(ctx context.Context) (*Report, error) {
	timer := metrics.NewTimer()
	defer func() {
		timer.ObserveDuration(metrics.ReconciliationDuration)
		metrics.ReconciliationCyclesTotal.Inc()
	}()

	r.mu.Lock()
	defer r.mu.Unlock()

	report := &Report{}
	if err := r.reconcileMembers(ctx, report); err != nil {
		return report, err
	}
	if err := r.reconcileVolumes(ctx, report); err != nil {
		return report, err
	}
	return report, nil
}

// reconcileMembers probes every other member and publishes reachability changes
func (r *Reconciler) reconcileMembers(ctx context.Context, report *Report) error {
	members, err := r.cluster.ListMembers(ctx)
	if err != nil {
		return fmt.Errorf("failed to list members: %w", err)
	}

	seen := make(map[string]bool, len(members))
	for _, member := range members {
		if member.NodeID == r.nodeID {
			continue
		}
		seen[member.NodeID] = true
		report.MembersChecked++

		result := health.Run(ctx, r.newChecker(member), r.probe.Timeout)

		status, ok := r.statuses[member.NodeID]
		if !ok {
			status = health.NewStatus()
			r.statuses[member.NodeID] = status
		}
		changed := status.Update(result, r.probe.Retries)

		metrics.UpdateComponent("member:"+member.NodeID, status.Healthy, result.Message)
		if status.Healthy {
			metrics.MemberReachable.WithLabelValues(member.NodeID).Set(1)
		} else {
			metrics.MemberReachable.WithLabelValues(member.NodeID).Set(0)
			report.Unreachable = append(report.Unreachable, member.NodeID)
		}

		if changed {
			r.memberChanged(member, status)
		}
	}

	// Forget members that left the cluster
	for nodeID := range r.statuses {
		if !seen[nodeID] {
			delete(r.statuses, nodeID)
			metrics.MemberReachable.DeleteLabelValues(nodeID)
			metrics.RemoveComponent("member:" + nodeID)
		}
	}

	sort.Strings(report.Unreachable)
	return nil
}

func (r *Reconciler) memberChanged(member *types.Member, status *health.Status) {
	eventType := events.EventMemberReachable
	message := fmt.Sprintf("Member %s is reachable again", member.NodeID)
	logEvent := r.logger.Info()
	if !status.Healthy {
		eventType = events.EventMemberUnreachable
		message = fmt.Sprintf("Member %s is unreachable", member.NodeID)
		logEvent = r.logger.Warn()
	}

	logEvent.
		Str("member", member.NodeID).
		Str("raft_addr", member.RaftAddr).
		Int("failures", status.ConsecutiveFailures).
		Str("last_result", status.LastResult.Message).
		Msg(message)

	r.events.Publish(&events.Event{
		ID:      uuid.New().String(),
		Type:    eventType,
		Message: message,
		Metadata: map[string]string{
			"node_id":   member.NodeID,
			"raft_addr": member.RaftAddr,
		},
	})
}

// reconcileVolumes flags records whose device does not fit their state.
// Records are reported, never rewritten: only the owning instance knows
// what the host actually looks like.
func (r *Reconciler) reconcileVolumes(ctx context.Context, report *Report) error {
	volumes, err := r.cluster.ListVolumes(ctx)
	if err != nil {
		return fmt.Errorf("failed to list volumes: %w", err)
	}

	current := make(map[string]bool)
	for _, v := range volumes {
		problem := checkRecord(v)
		if problem == "" {
			continue
		}
		current[v.ID] = true
		report.Inconsistent = append(report.Inconsistent, v.ID)

		if !r.inconsistent[v.ID] {
			r.logger.Warn().
				Str("volume_id", v.ID).
				Str("state", string(v.State)).
				Str("device", v.Device).
				Str("application", v.ApplicationName).
				Str("service", v.ServiceName).
				Msg(problem)
		}
	}
	r.inconsistent = current

	metrics.VolumesInconsistent.Set(float64(len(report.Inconsistent)))
	sort.Strings(report.Inconsistent)
	return nil
}

// checkRecord describes what is wrong with v, or returns ""
func checkRecord(v *types.ServiceVolume) string {
	switch v.State {
	case types.VolumeStateCreated, types.VolumeStateDetached:
		if v.Device != "" {
			return "Volume is not attached but still records a device"
		}
	case types.VolumeStateAttached, types.VolumeStateMounted, types.VolumeStateUnmounted, types.VolumeStateFormatted:
		if v.Device == "" {
			return "Volume is on a host but records no device"
		}
	default:
		return "Volume has an unknown state"
	}
	return ""
}
