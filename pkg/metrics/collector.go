package metrics

import (
	"context"
	"time"

	"github.com/cuemby/burrow/pkg/events"
	"github.com/cuemby/burrow/pkg/log"
	"github.com/cuemby/burrow/pkg/types"
)

// VolumeSource lists volume records and cluster members
type VolumeSource interface {
	ListVolumes(ctx context.Context) ([]*types.ServiceVolume, error)
	ListMembers(ctx context.Context) ([]*types.Member, error)
}

// RaftStats is implemented by sources that also run a Raft node
type RaftStats interface {
	IsLeader() bool
	PeerCount() int
	LastIndex() uint64
	AppliedIndex() uint64
}

// Collector periodically refreshes the state gauges from a VolumeSource
type Collector struct {
	source   VolumeSource
	interval time.Duration
	broker   *events.Broker
	trigger  events.Subscriber
	stopCh   chan struct{}
}

// NewCollector creates a new metrics collector
func NewCollector(source VolumeSource) *Collector {
	return &Collector{
		source:   source,
		interval: 15 * time.Second,
		stopCh:   make(chan struct{}),
	}
}

// RefreshOn makes the collector refresh whenever broker publishes a volume
// or membership event. Must be called before Start.
func (c *Collector) RefreshOn(broker *events.Broker) *Collector {
	refreshing := make([]events.EventType, 0, len(events.VolumeEvents)+len(events.MemberEvents))
	refreshing = append(refreshing, events.VolumeEvents...)
	refreshing = append(refreshing, events.MemberEvents...)

	c.broker = broker
	c.trigger = broker.Subscribe(refreshing...)
	return c
}

// Start begins collecting metrics
func (c *Collector) Start() {
	ticker := time.NewTicker(c.interval)
	trigger := c.trigger
	go func() {
		// Collect immediately on start
		c.collect()

		for {
			select {
			case <-ticker.C:
				c.collect()
			case event, ok := <-trigger:
				if !ok {
					trigger = nil
					continue
				}
				log.Logger.Debug().Str("event", string(event.Type)).Msg("Refreshing metrics")
				c.collect()
			case <-c.stopCh:
				ticker.Stop()
				return
			}
		}
	}()
}

// Stop stops the collector
func (c *Collector) Stop() {
	close(c.stopCh)
	if c.broker != nil {
		c.broker.Unsubscribe(c.trigger)
	}
}

func (c *Collector) collect() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	c.collectVolumeMetrics(ctx)
	c.collectMemberMetrics(ctx)

	if stats, ok := c.source.(RaftStats); ok {
		c.collectRaftMetrics(stats)
	}
}

func (c *Collector) collectVolumeMetrics(ctx context.Context) {
	volumes, err := c.source.ListVolumes(ctx)
	if err != nil {
		log.Logger.Debug().Err(err).Msg("Skipping volume metrics")
		return
	}

	counts := make(map[types.VolumeState]int, len(types.AllVolumeStates))
	for _, v := range volumes {
		counts[v.State]++
	}

	for _, state := range types.AllVolumeStates {
		VolumesTotal.WithLabelValues(string(state)).Set(float64(counts[state]))
	}
}

func (c *Collector) collectMemberMetrics(ctx context.Context) {
	members, err := c.source.ListMembers(ctx)
	if err != nil {
		return
	}
	MembersTotal.Set(float64(len(members)))
}

func (c *Collector) collectRaftMetrics(stats RaftStats) {
	if stats.IsLeader() {
		RaftLeader.Set(1)
	} else {
		RaftLeader.Set(0)
	}

	RaftPeers.Set(float64(stats.PeerCount()))
	RaftLogIndex.Set(float64(stats.LastIndex()))
	RaftAppliedIndex.Set(float64(stats.AppliedIndex()))
}
