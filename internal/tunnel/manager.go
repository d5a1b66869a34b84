// Package tunnel manages the lifecycle of reverse tunnels: admission
// through the ACL engine, hub port assignment, the handshake window,
// reconnection, and teardown.
package tunnel

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/bcnelson/ztna-hub/internal/acl"
	"github.com/bcnelson/ztna-hub/internal/allocator"
	"github.com/bcnelson/ztna-hub/internal/domain"
	"github.com/bcnelson/ztna-hub/internal/events"
	"github.com/bcnelson/ztna-hub/internal/storage"
	"github.com/bcnelson/ztna-hub/internal/validation"
	"github.com/google/uuid"
)

// NodeDirectory resolves node IDs to their last-known addresses. Backed by
// the heartbeat monitor.
type NodeDirectory interface {
	Lookup(nodeID string) (*domain.Node, bool)
}

// Config carries the lifecycle timings and the hub identity used for
// implied ACL checks.
type Config struct {
	// HubAddress is the destination IP of the implied connection request a
	// tunnel represents.
	HubAddress string
	// ControlPorts maps a tunnel class to the destination port of its
	// implied connection request.
	ControlPorts map[domain.TunnelClass]int

	HandshakeTimeout time.Duration
	ReconnectBase    time.Duration
	ReconnectMax     time.Duration
	ReevalDebounce   time.Duration
}

// runtime is the in-memory companion of a persisted tunnel: the timers and
// channels that do not survive a restart.
type runtime struct {
	handshakeTimer  *time.Timer
	handshakeDone   chan struct{}
	reconnectCancel context.CancelFunc
}

// Manager owns all tunnel state transitions. The persisted record in
// storage is authoritative; Manager serializes every transition behind one
// mutex so a tunnel can never race itself.
type Manager struct {
	storage storage.Storage
	engine  *acl.Engine
	ports   *allocator.Allocator
	sink    events.Sink
	nodes   NodeDirectory
	cfg     Config

	mu      sync.Mutex
	tunnels map[string]*runtime

	debounceMu sync.Mutex
	debounce   *time.Timer
}

func NewManager(st storage.Storage, engine *acl.Engine, ports *allocator.Allocator, sink events.Sink, nodes NodeDirectory, cfg Config) *Manager {
	return &Manager{
		storage: st,
		engine:  engine,
		ports:   ports,
		sink:    sink,
		nodes:   nodes,
		cfg:     cfg,
		tunnels: make(map[string]*runtime),
	}
}

// impliedRequest is the connection a tunnel stands for: node to hub, TCP,
// on the class's control port. Admission and revocation both evaluate it.
func (m *Manager) impliedRequest(node *domain.Node, class domain.TunnelClass) *domain.ConnectionRequest {
	return &domain.ConnectionRequest{
		SourceIP: node.Address,
		DestIP:   m.cfg.HubAddress,
		Protocol: domain.ProtocolTCP,
		DestPort: m.cfg.ControlPorts[class],
	}
}

// Create admits a new tunnel. The ACL engine must allow the implied
// connection before any port is assigned; a denial surfaces the matched
// rule (or the default deny) to the caller.
func (m *Manager) Create(ctx context.Context, req *domain.CreateTunnelRequest) (*domain.Tunnel, error) {
	if err := validation.ValidateTunnelClass(req.Class); err != nil {
		return nil, fmt.Errorf("%w: %s", domain.ErrInvalidInput, err)
	}
	if err := validation.ValidateLocalPort(req.LocalPort); err != nil {
		return nil, fmt.Errorf("%w: %s", domain.ErrInvalidInput, err)
	}
	if req.NodeID == "" {
		return nil, fmt.Errorf("%w: node_id is required", domain.ErrInvalidInput)
	}

	node, ok := m.nodes.Lookup(req.NodeID)
	if !ok {
		return nil, fmt.Errorf("%w: node %s has never sent a heartbeat", domain.ErrNotFound, req.NodeID)
	}

	decision, err := m.engine.Evaluate(ctx, m.impliedRequest(node, req.Class))
	if err != nil {
		return nil, err
	}
	if decision.Outcome != domain.OutcomeAllow {
		return nil, &domain.AccessDeniedError{Rule: decision.MatchedRule}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	port, err := m.ports.Allocate(req.Class)
	if err != nil {
		return nil, err
	}

	tunnel := &domain.Tunnel{
		ID:            uuid.New().String(),
		NodeID:        req.NodeID,
		Class:         req.Class,
		LocalPort:     req.LocalPort,
		RemotePort:    port,
		Status:        domain.StatusPending,
		AutoReconnect: req.AutoReconnect,
		CreatedAt:     time.Now(),
	}
	if err := m.storage.CreateTunnel(ctx, tunnel); err != nil {
		m.ports.Release(req.Class, port)
		return nil, err
	}

	rt := &runtime{}
	m.tunnels[tunnel.ID] = rt
	m.armHandshakeTimer(tunnel.ID, rt)

	m.sink.Emit(ctx, &domain.Event{
		Type:     domain.EventTunnelCreated,
		TunnelID: tunnel.ID,
		NodeID:   tunnel.NodeID,
		Details: map[string]any{
			"class":       string(tunnel.Class),
			"remote_port": tunnel.RemotePort,
		},
	})
	return tunnel, nil
}

// armHandshakeTimer starts the window within which the agent must complete
// the handshake. Caller holds mu.
func (m *Manager) armHandshakeTimer(id string, rt *runtime) {
	rt.handshakeDone = make(chan struct{})
	rt.handshakeTimer = time.AfterFunc(m.cfg.HandshakeTimeout, func() {
		m.onHandshakeTimeout(id)
	})
}

// stopHandshakeTimer cancels a pending handshake window. Caller holds mu.
func (rt *runtime) stopHandshakeTimer() {
	if rt.handshakeTimer != nil {
		rt.handshakeTimer.Stop()
		rt.handshakeTimer = nil
	}
	if rt.handshakeDone != nil {
		close(rt.handshakeDone)
		rt.handshakeDone = nil
	}
}

func (m *Manager) onHandshakeTimeout(id string) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	m.mu.Lock()
	defer m.mu.Unlock()

	tunnel, err := m.storage.GetTunnel(ctx, id)
	if err != nil {
		return
	}
	if tunnel.Status != domain.StatusPending && tunnel.Status != domain.StatusConnecting {
		return
	}
	if rt, ok := m.tunnels[id]; ok {
		rt.stopHandshakeTimer()
	}
	m.toErrorLocked(ctx, tunnel, domain.ErrHandshakeTimeout.Error())
}

// toErrorLocked moves a tunnel to ERROR and returns its port to quarantine.
// Caller holds mu.
func (m *Manager) toErrorLocked(ctx context.Context, tunnel *domain.Tunnel, reason string) {
	if tunnel.RemotePort != 0 {
		m.ports.Release(tunnel.Class, tunnel.RemotePort)
		tunnel.RemotePort = 0
	}
	tunnel.Status = domain.StatusError
	tunnel.LastError = reason
	if err := m.storage.UpdateTunnel(ctx, tunnel); err != nil {
		log.Printf("Failed to persist tunnel %s error state: %v", tunnel.ID, err)
	}
	m.sink.Emit(ctx, &domain.Event{
		Type:     domain.EventTunnelError,
		TunnelID: tunnel.ID,
		NodeID:   tunnel.NodeID,
		Details:  map[string]any{"error": reason},
	})
	if tunnel.AutoReconnect {
		m.scheduleReconnectLocked(tunnel.ID)
	}
}

// Connecting records that the agent has opened its control connection and
// begun the handshake.
func (m *Manager) Connecting(ctx context.Context, id string) (*domain.Tunnel, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	tunnel, err := m.storage.GetTunnel(ctx, id)
	if err != nil {
		return nil, err
	}
	if tunnel.Status != domain.StatusPending {
		return nil, fmt.Errorf("%w: tunnel %s is %s, expected %s",
			domain.ErrInvalidInput, id, tunnel.Status, domain.StatusPending)
	}
	tunnel.Status = domain.StatusConnecting
	if err := m.storage.UpdateTunnel(ctx, tunnel); err != nil {
		return nil, err
	}
	return tunnel, nil
}

// Established completes the handshake and activates the tunnel.
func (m *Manager) Established(ctx context.Context, id string) (*domain.Tunnel, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	tunnel, err := m.storage.GetTunnel(ctx, id)
	if err != nil {
		return nil, err
	}
	if tunnel.Status != domain.StatusPending && tunnel.Status != domain.StatusConnecting {
		return nil, fmt.Errorf("%w: tunnel %s is %s, cannot activate",
			domain.ErrInvalidInput, id, tunnel.Status)
	}
	if rt, ok := m.tunnels[id]; ok {
		rt.stopHandshakeTimer()
	}
	tunnel.Status = domain.StatusActive
	tunnel.LastError = ""
	now := time.Now()
	tunnel.LastHeartbeatAt = &now
	if err := m.storage.UpdateTunnel(ctx, tunnel); err != nil {
		return nil, err
	}
	m.sink.Emit(ctx, &domain.Event{
		Type:     domain.EventTunnelActive,
		TunnelID: tunnel.ID,
		NodeID:   tunnel.NodeID,
		Details:  map[string]any{"remote_port": tunnel.RemotePort},
	})
	return tunnel, nil
}

// Fail records a transport failure on an active or connecting tunnel. The
// tunnel drops to ERROR, its port goes to quarantine, and reconnection
// starts if the tunnel was created with auto-reconnect. An agent that
// reports failure mid-handshake does not have to wait out the handshake
// window.
func (m *Manager) Fail(ctx context.Context, id string, req *domain.TransportFailureRequest) (*domain.Tunnel, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	tunnel, err := m.storage.GetTunnel(ctx, id)
	if err != nil {
		return nil, err
	}
	if tunnel.Status != domain.StatusActive && tunnel.Status != domain.StatusConnecting {
		return nil, fmt.Errorf("%w: tunnel %s is %s, cannot fail",
			domain.ErrInvalidInput, id, tunnel.Status)
	}
	if rt, ok := m.tunnels[id]; ok {
		rt.stopHandshakeTimer()
	}
	reason := req.Error
	if reason == "" {
		reason = "transport failure"
	}
	m.toErrorLocked(ctx, tunnel, reason)
	return tunnel, nil
}

// Close tears a tunnel down. Closing an already-closed tunnel is a no-op
// and returns the tunnel as is.
func (m *Manager) Close(ctx context.Context, id string, reason domain.CloseReason) (*domain.Tunnel, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closeLocked(ctx, id, reason)
}

func (m *Manager) closeLocked(ctx context.Context, id string, reason domain.CloseReason) (*domain.Tunnel, error) {
	tunnel, err := m.storage.GetTunnel(ctx, id)
	if err != nil {
		return nil, err
	}
	if tunnel.Status == domain.StatusClosed {
		return tunnel, nil
	}

	if rt, ok := m.tunnels[id]; ok {
		rt.stopHandshakeTimer()
		if rt.reconnectCancel != nil {
			rt.reconnectCancel()
			rt.reconnectCancel = nil
		}
		delete(m.tunnels, id)
	}
	if tunnel.RemotePort != 0 {
		m.ports.Release(tunnel.Class, tunnel.RemotePort)
		tunnel.RemotePort = 0
	}

	tunnel.Status = domain.StatusClosed
	tunnel.CloseReason = reason
	now := time.Now()
	tunnel.ClosedAt = &now
	if err := m.storage.UpdateTunnel(ctx, tunnel); err != nil {
		return nil, err
	}
	m.sink.Emit(ctx, &domain.Event{
		Type:     domain.EventTunnelClosed,
		TunnelID: tunnel.ID,
		NodeID:   tunnel.NodeID,
		Details:  map[string]any{"reason": string(reason)},
	})
	return tunnel, nil
}

// CloseNodeTunnels closes every open tunnel belonging to a node. Used by
// the heartbeat monitor when a node goes silent.
func (m *Manager) CloseNodeTunnels(ctx context.Context, nodeID string, reason domain.CloseReason) error {
	tunnels, err := m.storage.ListTunnels(ctx, domain.TunnelFilter{NodeID: nodeID})
	if err != nil {
		return err
	}
	for _, tunnel := range tunnels {
		if !tunnel.Open() {
			continue
		}
		if _, err := m.Close(ctx, tunnel.ID, reason); err != nil {
			log.Printf("Failed to close tunnel %s for silent node %s: %v", tunnel.ID, nodeID, err)
		}
	}
	return nil
}

// Touch refreshes the heartbeat timestamp on a node's open tunnels.
func (m *Manager) Touch(ctx context.Context, nodeID string, at time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()

	tunnels, err := m.storage.ListTunnels(ctx, domain.TunnelFilter{NodeID: nodeID})
	if err != nil {
		log.Printf("Failed to list tunnels for node %s: %v", nodeID, err)
		return
	}
	for _, tunnel := range tunnels {
		if !tunnel.Open() {
			continue
		}
		tunnel.LastHeartbeatAt = &at
		if err := m.storage.UpdateTunnel(ctx, tunnel); err != nil {
			log.Printf("Failed to touch tunnel %s: %v", tunnel.ID, err)
		}
	}
}

// Get returns a tunnel by ID.
func (m *Manager) Get(ctx context.Context, id string) (*domain.Tunnel, error) {
	return m.storage.GetTunnel(ctx, id)
}

// List returns tunnels matching the filter.
func (m *Manager) List(ctx context.Context, filter domain.TunnelFilter) ([]*domain.Tunnel, error) {
	return m.storage.ListTunnels(ctx, filter)
}

// Stats returns the observability view of one tunnel.
func (m *Manager) Stats(ctx context.Context, id string) (*domain.TunnelStats, error) {
	tunnel, err := m.storage.GetTunnel(ctx, id)
	if err != nil {
		return nil, err
	}
	stats := &domain.TunnelStats{
		ID:              tunnel.ID,
		Status:          tunnel.Status,
		RemotePort:      tunnel.RemotePort,
		Reconnects:      tunnel.Reconnects,
		LastError:       tunnel.LastError,
		LastHeartbeatAt: tunnel.LastHeartbeatAt,
	}
	if tunnel.Open() {
		stats.UptimeSeconds = int64(time.Since(tunnel.CreatedAt).Seconds())
	} else if tunnel.ClosedAt != nil {
		stats.UptimeSeconds = int64(tunnel.ClosedAt.Sub(tunnel.CreatedAt).Seconds())
	}
	return stats, nil
}

// Restore rebuilds manager state after a restart. Every tunnel that was
// open goes to ERROR: the hub cannot know whether the peer survived, so
// the agent must re-establish. Previously held ports pass through
// quarantine before reuse.
func (m *Manager) Restore(ctx context.Context) error {
	tunnels, err := m.storage.ListOpenTunnels(ctx)
	if err != nil {
		return fmt.Errorf("listing open tunnels: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	for _, tunnel := range tunnels {
		if tunnel.RemotePort != 0 {
			if err := m.ports.Reserve(tunnel.Class, tunnel.RemotePort); err != nil {
				log.Printf("Failed to reserve port %d for tunnel %s: %v", tunnel.RemotePort, tunnel.ID, err)
			}
		}
		m.toErrorLocked(ctx, tunnel, "hub restarted")
	}
	if len(tunnels) > 0 {
		log.Printf("Restored %d tunnels into error state", len(tunnels))
	}
	return nil
}
