package manager

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/cuemby/burrow/pkg/events"
	"github.com/cuemby/burrow/pkg/log"
	"github.com/cuemby/burrow/pkg/metrics"
	"github.com/cuemby/burrow/pkg/storage"
	"github.com/cuemby/burrow/pkg/types"
	"github.com/google/uuid"
	"github.com/hashicorp/raft"
	raftboltdb "github.com/hashicorp/raft-boltdb"
	"github.com/juju/clock"
	"github.com/rs/zerolog"
)

const (
	// DefaultApplyTimeout bounds a Raft apply when the caller sets no deadline
	DefaultApplyTimeout = 5 * time.Second

	joinTokenTTL      = 24 * time.Hour
	membershipTimeout = 10 * time.Second
)

var (
	// ErrNoLeader is returned when a write cannot reach a cluster leader
	ErrNoLeader = errors.New("no cluster leader")

	// ErrNotLeader is returned by leader-only operations on a follower
	ErrNotLeader = errors.New("not the leader")

	errRaftNotStarted = errors.New("raft not initialized")
)

// JoinRequest asks the leader to add a node to the cluster
type JoinRequest struct {
	NodeID   string
	RaftAddr string
	APIAddr  string
	Token    string
}

// LeaderClient is the remote API of the current leader, used by followers
// to forward writes.
type LeaderClient interface {
	CreateVolume(ctx context.Context, volume *types.ServiceVolume) error
	UpdateVolumeFields(ctx context.Context, match types.VolumeMatch, fields types.VolumeFields) error
	DeleteVolume(ctx context.Context, id string) error
	JoinCluster(ctx context.Context, req JoinRequest) error
	Close() error
}

// Dialer connects to the API of another node
type Dialer func(ctx context.Context, addr string) (LeaderClient, error)

// Manager represents a burrow state store node
type Manager struct {
	nodeID       string
	bindAddr     string
	apiAddr      string
	dataDir      string
	applyTimeout time.Duration

	raft         *raft.Raft
	transport    *raft.NetworkTransport
	logStore     *raftboltdb.BoltStore
	stableStore  *raftboltdb.BoltStore
	fsm          *VolumeFSM
	store        *storage.BoltStore
	tokenManager *TokenManager
	eventBroker  *events.Broker
	dialer       Dialer
	clock        clock.Clock
	logger       zerolog.Logger

	mu             sync.Mutex
	leaderConn     LeaderClient
	leaderConnAddr string

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// Config holds configuration for creating a Manager
type Config struct {
	NodeID   string
	BindAddr string // Raft transport address
	APIAddr  string // gRPC address other nodes forward writes to
	DataDir  string

	// JoinToken is a pre-shared voter token accepted alongside generated tokens
	JoinToken    string
	ApplyTimeout time.Duration
	Dialer       Dialer
	Events       *events.Broker
	Clock        clock.Clock
}

// NewManager creates a new Manager instance
func NewManager(cfg *Config) (*Manager, error) {
	if cfg.NodeID == "" {
		return nil, fmt.Errorf("node id is required")
	}
	if cfg.BindAddr == "" {
		return nil, fmt.Errorf("bind address is required")
	}

	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %v", err)
	}

	store, err := storage.NewBoltStore(cfg.DataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to create store: %v", err)
	}

	clk := cfg.Clock
	if clk == nil {
		clk = clock.WallClock
	}

	tokenManager := NewTokenManager(clk)
	tokenManager.AddStaticToken(cfg.JoinToken)

	applyTimeout := cfg.ApplyTimeout
	if applyTimeout <= 0 {
		applyTimeout = DefaultApplyTimeout
	}

	return &Manager{
		nodeID:       cfg.NodeID,
		bindAddr:     cfg.BindAddr,
		apiAddr:      cfg.APIAddr,
		dataDir:      cfg.DataDir,
		applyTimeout: applyTimeout,
		fsm:          NewVolumeFSM(store),
		store:        store,
		tokenManager: tokenManager,
		eventBroker:  cfg.Events,
		dialer:       cfg.Dialer,
		clock:        clk,
		logger:       log.WithNodeID(cfg.NodeID).With().Str("component", "manager").Logger(),
		stopCh:       make(chan struct{}),
	}, nil
}

// startRaft creates the Raft node and reports whether it found existing state
func (m *Manager) startRaft() (bool, error) {
	config := raft.DefaultConfig()
	config.LocalID = raft.ServerID(m.nodeID)

	// LAN timings: ~250ms heartbeats, elections settle in about a second
	config.HeartbeatTimeout = 500 * time.Millisecond
	config.ElectionTimeout = 500 * time.Millisecond
	config.CommitTimeout = 50 * time.Millisecond
	config.LeaderLeaseTimeout = 250 * time.Millisecond
	config.LogLevel = "INFO"
	config.LogOutput = log.WithComponent("raft")

	// An ephemeral port cannot be advertised, let the listener pick it
	var advertise net.Addr
	addr, err := net.ResolveTCPAddr("tcp", m.bindAddr)
	if err != nil {
		return false, fmt.Errorf("failed to resolve bind address: %v", err)
	}
	if addr.Port != 0 {
		advertise = addr
	}

	transport, err := raft.NewTCPTransport(m.bindAddr, advertise, 3, 10*time.Second, config.LogOutput)
	if err != nil {
		return false, fmt.Errorf("failed to create transport: %v", err)
	}

	snapshotStore, err := raft.NewFileSnapshotStore(m.dataDir, 2, config.LogOutput)
	if err != nil {
		transport.Close()
		return false, fmt.Errorf("failed to create snapshot store: %v", err)
	}

	logStore, err := raftboltdb.NewBoltStore(filepath.Join(m.dataDir, "raft-log.db"))
	if err != nil {
		transport.Close()
		return false, fmt.Errorf("failed to create log store: %v", err)
	}

	stableStore, err := raftboltdb.NewBoltStore(filepath.Join(m.dataDir, "raft-stable.db"))
	if err != nil {
		transport.Close()
		logStore.Close()
		return false, fmt.Errorf("failed to create stable store: %v", err)
	}

	hasState, err := raft.HasExistingState(logStore, stableStore, snapshotStore)
	if err != nil {
		transport.Close()
		logStore.Close()
		stableStore.Close()
		return false, fmt.Errorf("failed to inspect raft state: %v", err)
	}

	r, err := raft.NewRaft(config, m.fsm, logStore, stableStore, snapshotStore, transport)
	if err != nil {
		transport.Close()
		logStore.Close()
		stableStore.Close()
		return false, fmt.Errorf("failed to create raft: %v", err)
	}

	m.raft = r
	m.transport = transport
	m.logStore = logStore
	m.stableStore = stableStore

	m.wg.Add(1)
	go m.watchLeadership()

	return hasState, nil
}

// Bootstrap initializes a new single-node Raft cluster. A node restarting
// with existing state rejoins its previous configuration instead.
func (m *Manager) Bootstrap() error {
	hasState, err := m.startRaft()
	if err != nil {
		return err
	}

	if hasState {
		m.logger.Info().Msg("Existing raft state found, skipping bootstrap")
		return nil
	}

	configuration := raft.Configuration{
		Servers: []raft.Server{
			{
				ID:      raft.ServerID(m.nodeID),
				Address: m.transport.LocalAddr(),
			},
		},
	}

	if err := m.raft.BootstrapCluster(configuration).Error(); err != nil {
		return fmt.Errorf("failed to bootstrap cluster: %v", err)
	}

	m.logger.Info().
		Str("raft_addr", string(m.transport.LocalAddr())).
		Msg("Bootstrapped new cluster")
	return nil
}

// Join adds this node to an existing cluster through the API at leaderAddr
func (m *Manager) Join(ctx context.Context, leaderAddr string, token string) error {
	if m.dialer == nil {
		return fmt.Errorf("no dialer configured")
	}

	hasState, err := m.startRaft()
	if err != nil {
		return err
	}

	if hasState {
		m.logger.Info().Msg("Existing raft state found, skipping join")
		return nil
	}

	m.logger.Info().Str("leader", leaderAddr).Msg("Contacting cluster to join")

	c, err := m.dialer(ctx, leaderAddr)
	if err != nil {
		return fmt.Errorf("failed to connect to leader: %v", err)
	}
	defer c.Close()

	req := JoinRequest{
		NodeID:   m.nodeID,
		RaftAddr: string(m.transport.LocalAddr()),
		APIAddr:  m.apiAddr,
		Token:    token,
	}
	if err := c.JoinCluster(ctx, req); err != nil {
		return fmt.Errorf("failed to join cluster: %w", err)
	}

	m.logger.Info().Msg("Joined cluster")
	return nil
}

// JoinCluster validates req.Token and adds the node to the Raft configuration.
// Followers forward the request to the leader.
func (m *Manager) JoinCluster(ctx context.Context, req JoinRequest) error {
	if m.raft == nil {
		return errRaftNotStarted
	}
	if !m.IsLeader() {
		return m.forward(ctx, func(c LeaderClient) error { return c.JoinCluster(ctx, req) })
	}

	if req.NodeID == "" || req.RaftAddr == "" {
		return fmt.Errorf("node id and raft address are required")
	}

	role, err := m.ValidateJoinToken(req.Token)
	if err != nil {
		return fmt.Errorf("join rejected: %w", err)
	}

	switch role {
	case RoleNonvoter:
		err = m.AddNonvoter(req.NodeID, req.RaftAddr)
	default:
		err = m.AddVoter(req.NodeID, req.RaftAddr)
	}
	if err != nil {
		return err
	}

	member := &types.Member{
		NodeID:   req.NodeID,
		RaftAddr: req.RaftAddr,
		APIAddr:  req.APIAddr,
		JoinedAt: m.clock.Now(),
	}
	if err := m.apply(ctx, OpSaveMember, member); err != nil {
		return fmt.Errorf("failed to register member: %w", err)
	}

	m.publish(events.EventMemberJoined, fmt.Sprintf("node %s joined as %s", req.NodeID, role), map[string]string{
		"node_id": req.NodeID,
		"role":    role,
	})
	return nil
}

// AddVoter adds a new voting node to the Raft cluster
func (m *Manager) AddVoter(nodeID, address string) error {
	if m.raft == nil {
		return errRaftNotStarted
	}

	if !m.IsLeader() {
		return fmt.Errorf("%w, current leader: %s", ErrNotLeader, m.LeaderAddr())
	}

	m.logger.Info().Str("peer", nodeID).Str("address", address).Msg("Adding voter")

	future := m.raft.AddVoter(raft.ServerID(nodeID), raft.ServerAddress(address), 0, membershipTimeout)
	if err := future.Error(); err != nil {
		return fmt.Errorf("failed to add voter: %v", err)
	}
	return nil
}

// AddNonvoter adds a node that replicates state without voting
func (m *Manager) AddNonvoter(nodeID, address string) error {
	if m.raft == nil {
		return errRaftNotStarted
	}

	if !m.IsLeader() {
		return fmt.Errorf("%w, current leader: %s", ErrNotLeader, m.LeaderAddr())
	}

	m.logger.Info().Str("peer", nodeID).Str("address", address).Msg("Adding nonvoter")

	future := m.raft.AddNonvoter(raft.ServerID(nodeID), raft.ServerAddress(address), 0, membershipTimeout)
	if err := future.Error(); err != nil {
		return fmt.Errorf("failed to add nonvoter: %v", err)
	}
	return nil
}

// RemoveServer removes a server from the Raft cluster
func (m *Manager) RemoveServer(nodeID string) error {
	if m.raft == nil {
		return errRaftNotStarted
	}

	if !m.IsLeader() {
		return ErrNotLeader
	}

	future := m.raft.RemoveServer(raft.ServerID(nodeID), 0, membershipTimeout)
	if err := future.Error(); err != nil {
		return fmt.Errorf("failed to remove server: %v", err)
	}

	m.publish(events.EventMemberRemoved, fmt.Sprintf("node %s removed", nodeID), map[string]string{"node_id": nodeID})
	return nil
}

// WaitForLeader blocks until the cluster has elected a leader
func (m *Manager) WaitForLeader(ctx context.Context) error {
	if m.raft == nil {
		return errRaftNotStarted
	}

	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()

	for {
		if _, id := m.raft.LeaderWithID(); id != "" {
			return nil
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("waiting for leader: %w", ctx.Err())
		case <-ticker.C:
		}
	}
}

// IsLeader returns true if this node is the Raft leader
func (m *Manager) IsLeader() bool {
	if m.raft == nil {
		return false
	}
	return m.raft.State() == raft.Leader
}

// LeaderAddr returns the Raft address of the current leader
func (m *Manager) LeaderAddr() string {
	if m.raft == nil {
		return ""
	}
	addr, _ := m.raft.LeaderWithID()
	return string(addr)
}

// PeerCount returns the number of servers in the Raft configuration
func (m *Manager) PeerCount() int {
	servers, err := m.clusterServers()
	if err != nil {
		return 0
	}
	return len(servers)
}

// LastIndex returns the last Raft log index
func (m *Manager) LastIndex() uint64 {
	if m.raft == nil {
		return 0
	}
	return m.raft.LastIndex()
}

// AppliedIndex returns the last index applied to the FSM
func (m *Manager) AppliedIndex() uint64 {
	if m.raft == nil {
		return 0
	}
	return m.raft.AppliedIndex()
}

func (m *Manager) clusterServers() ([]raft.Server, error) {
	if m.raft == nil {
		return nil, errRaftNotStarted
	}

	future := m.raft.GetConfiguration()
	if err := future.Error(); err != nil {
		return nil, fmt.Errorf("failed to get configuration: %v", err)
	}
	return future.Configuration().Servers, nil
}

// ClusterInfo describes the cluster as seen by this node
func (m *Manager) ClusterInfo(ctx context.Context) (*types.ClusterInfo, error) {
	servers, err := m.clusterServers()
	if err != nil {
		return nil, err
	}

	members, err := m.store.ListMembers(ctx)
	if err != nil {
		return nil, err
	}

	leaderAddr, leaderID := m.raft.LeaderWithID()
	info := &types.ClusterInfo{
		NodeID:       m.nodeID,
		LeaderID:     string(leaderID),
		LeaderAddr:   string(leaderAddr),
		Members:      members,
		LastIndex:    m.raft.LastIndex(),
		AppliedIndex: m.raft.AppliedIndex(),
	}
	for _, s := range servers {
		info.Servers = append(info.Servers, types.ClusterServer{
			ID:       string(s.ID),
			Address:  string(s.Address),
			Suffrage: s.Suffrage.String(),
			Leader:   s.ID == leaderID,
		})
	}
	return info, nil
}

// CreateVolume inserts a volume record through the Raft log
func (m *Manager) CreateVolume(ctx context.Context, volume *types.ServiceVolume) error {
	if !m.IsLeader() {
		return m.forward(ctx, func(c LeaderClient) error { return c.CreateVolume(ctx, volume) })
	}
	if volume.CreatedAt.IsZero() {
		volume.CreatedAt = m.clock.Now()
	}
	return m.apply(ctx, OpCreateVolume, volume)
}

// UpdateVolumeFields merges fields into the record selected by match
func (m *Manager) UpdateVolumeFields(ctx context.Context, match types.VolumeMatch, fields types.VolumeFields) error {
	if !m.IsLeader() {
		return m.forward(ctx, func(c LeaderClient) error { return c.UpdateVolumeFields(ctx, match, fields) })
	}
	return m.apply(ctx, OpUpdateVolumeFields, UpdateFieldsPayload{Match: match, Fields: fields})
}

// DeleteVolume removes a volume record
func (m *Manager) DeleteVolume(ctx context.Context, id string) error {
	if !m.IsLeader() {
		return m.forward(ctx, func(c LeaderClient) error { return c.DeleteVolume(ctx, id) })
	}
	return m.apply(ctx, OpDeleteVolume, id)
}

// GetVolume retrieves a volume by ID (read from local store)
func (m *Manager) GetVolume(ctx context.Context, id string) (*types.ServiceVolume, error) {
	return m.store.GetVolume(ctx, id)
}

// GetVolumeByDevice retrieves the volume of owner using device (read from local store)
func (m *Manager) GetVolumeByDevice(ctx context.Context, owner types.Owner, device string) (*types.ServiceVolume, error) {
	return m.store.GetVolumeByDevice(ctx, owner, device)
}

// ListVolumes returns all volumes (read from local store)
func (m *Manager) ListVolumes(ctx context.Context) ([]*types.ServiceVolume, error) {
	return m.store.ListVolumes(ctx)
}

// GetMember retrieves a member by node ID (read from local store)
func (m *Manager) GetMember(ctx context.Context, nodeID string) (*types.Member, error) {
	return m.store.GetMember(ctx, nodeID)
}

// ListMembers returns all members (read from local store)
func (m *Manager) ListMembers(ctx context.Context) ([]*types.Member, error) {
	return m.store.ListMembers(ctx)
}

// GenerateJoinToken generates a new join token for adding nodes
func (m *Manager) GenerateJoinToken(role string) (*JoinToken, error) {
	if !m.IsLeader() {
		return nil, fmt.Errorf("%w, tokens can only be generated by the leader", ErrNotLeader)
	}
	return m.tokenManager.GenerateToken(role, joinTokenTTL)
}

// ValidateJoinToken validates a join token
func (m *Manager) ValidateJoinToken(token string) (string, error) {
	return m.tokenManager.ValidateToken(token)
}

// apply submits a command to the Raft log and returns the FSM result
func (m *Manager) apply(ctx context.Context, op string, payload interface{}) error {
	if m.raft == nil {
		return errRaftNotStarted
	}

	timeout, err := m.timeout(ctx)
	if err != nil {
		return err
	}

	cmd, err := NewCommand(op, payload)
	if err != nil {
		return err
	}

	data, err := json.Marshal(cmd)
	if err != nil {
		return fmt.Errorf("failed to marshal command: %v", err)
	}

	future := m.raft.Apply(data, timeout)
	if err := future.Error(); err != nil {
		if errors.Is(err, raft.ErrNotLeader) || errors.Is(err, raft.ErrLeadershipLost) {
			return fmt.Errorf("failed to apply %s: %w", op, ErrNotLeader)
		}
		return fmt.Errorf("failed to apply %s: %w", op, err)
	}

	if resp := future.Response(); resp != nil {
		if err, ok := resp.(error); ok && err != nil {
			return err
		}
	}
	return nil
}

// timeout derives the Raft apply timeout from the context deadline
func (m *Manager) timeout(ctx context.Context) (time.Duration, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if deadline, ok := ctx.Deadline(); ok {
		if d := time.Until(deadline); d > 0 {
			return d, nil
		}
		return 0, context.DeadlineExceeded
	}
	return m.applyTimeout, nil
}

// forward runs call against the leader's API
func (m *Manager) forward(ctx context.Context, call func(LeaderClient) error) error {
	c, err := m.leaderClient(ctx)
	if err != nil {
		return err
	}
	return call(c)
}

func (m *Manager) leaderClient(ctx context.Context) (LeaderClient, error) {
	if m.raft == nil {
		return nil, errRaftNotStarted
	}
	if m.dialer == nil {
		return nil, fmt.Errorf("%w and no dialer configured", ErrNotLeader)
	}

	_, leaderID := m.raft.LeaderWithID()
	if leaderID == "" {
		return nil, ErrNoLeader
	}

	member, err := m.store.GetMember(ctx, string(leaderID))
	if err != nil {
		return nil, fmt.Errorf("leader %s has no registered API address: %w", leaderID, err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.leaderConn != nil && m.leaderConnAddr == member.APIAddr {
		return m.leaderConn, nil
	}
	if m.leaderConn != nil {
		m.leaderConn.Close()
		m.leaderConn = nil
	}

	c, err := m.dialer(ctx, member.APIAddr)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to leader %s: %w", leaderID, err)
	}
	m.leaderConn = c
	m.leaderConnAddr = member.APIAddr
	return c, nil
}

// watchLeadership tracks leadership changes and registers this node as a
// member whenever it becomes leader.
func (m *Manager) watchLeadership() {
	defer m.wg.Done()

	leaderCh := m.raft.LeaderCh()
	for {
		select {
		case <-m.stopCh:
			return
		case isLeader := <-leaderCh:
			if isLeader {
				metrics.RaftLeader.Set(1)
				m.logger.Info().Msg("Acquired leadership")
				m.registerSelf()
			} else {
				metrics.RaftLeader.Set(0)
				m.logger.Warn().Msg("Lost leadership")
			}
			m.publish(events.EventLeadershipChanged, "leadership changed", map[string]string{
				"node_id":   m.nodeID,
				"is_leader": fmt.Sprintf("%t", isLeader),
			})
		}
	}
}

func (m *Manager) registerSelf() {
	ctx, cancel := context.WithTimeout(context.Background(), m.applyTimeout)
	defer cancel()

	raftAddr := string(m.transport.LocalAddr())
	existing, err := m.store.GetMember(ctx, m.nodeID)
	if err == nil && existing.APIAddr == m.apiAddr && existing.RaftAddr == raftAddr {
		return
	}

	member := &types.Member{
		NodeID:   m.nodeID,
		RaftAddr: raftAddr,
		APIAddr:  m.apiAddr,
		JoinedAt: m.clock.Now(),
	}
	if err := m.apply(ctx, OpSaveMember, member); err != nil {
		m.logger.Error().Err(err).Msg("Failed to register as member")
	}
}

func (m *Manager) publish(eventType events.EventType, message string, metadata map[string]string) {
	m.eventBroker.Publish(&events.Event{
		ID:        uuid.New().String(),
		Type:      eventType,
		Timestamp: m.clock.Now(),
		Message:   message,
		Metadata:  metadata,
	})
}

// Shutdown gracefully shuts down the manager
func (m *Manager) Shutdown() error {
	m.stopOnce.Do(func() { close(m.stopCh) })
	m.wg.Wait()

	m.mu.Lock()
	if m.leaderConn != nil {
		m.leaderConn.Close()
		m.leaderConn = nil
	}
	m.mu.Unlock()

	if m.raft != nil {
		if err := m.raft.Shutdown().Error(); err != nil {
			return fmt.Errorf("failed to shutdown raft: %v", err)
		}
		m.transport.Close()
		m.logStore.Close()
		m.stableStore.Close()
	}

	if m.store != nil {
		if err := m.store.Close(); err != nil {
			return fmt.Errorf("failed to close store: %v", err)
		}
	}

	return nil
}
