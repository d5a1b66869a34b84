// Package heartbeat tracks node liveness. Nodes register implicitly with
// their first heartbeat; a node that falls silent past the timeout has all
// of its tunnels closed.
package heartbeat

import (
	"context"
	"fmt"
	"log"
	"net"
	"sort"
	"sync"
	"time"

	"github.com/bcnelson/ztna-hub/internal/domain"
)

// TunnelReaper is the slice of the tunnel manager the monitor needs:
// refreshing heartbeat timestamps and reaping tunnels of silent nodes.
type TunnelReaper interface {
	Touch(ctx context.Context, nodeID string, at time.Time)
	CloseNodeTunnels(ctx context.Context, nodeID string, reason domain.CloseReason) error
}

// Monitor is the in-memory node directory. Node records do not survive a
// restart; agents re-register with their next heartbeat.
type Monitor struct {
	reaper  TunnelReaper
	timeout time.Duration
	now     func() time.Time

	mu    sync.RWMutex
	nodes map[string]*domain.Node
}

func NewMonitor(timeout time.Duration) *Monitor {
	return &Monitor{
		timeout: timeout,
		now:     time.Now,
		nodes:   make(map[string]*domain.Node),
	}
}

// SetReaper wires in the tunnel manager. The manager needs the monitor as
// its node directory, so the reaper is attached after construction.
func (m *Monitor) SetReaper(reaper TunnelReaper) {
	m.reaper = reaper
}

// Receive processes one heartbeat. The first heartbeat from a node
// registers it. A timestamp older than the newest one already recorded is
// rejected: out-of-order beats must not roll liveness backwards.
// remoteAddr is the transport-level peer address, used when the heartbeat
// body does not name one.
func (m *Monitor) Receive(ctx context.Context, req *domain.HeartbeatRequest, remoteAddr string) (*domain.Node, error) {
	if req.NodeID == "" {
		return nil, fmt.Errorf("%w: node_id is required", domain.ErrInvalidInput)
	}
	at := req.Timestamp
	if at.IsZero() {
		at = m.now()
	}

	address := req.Address
	if address == "" {
		address = hostOnly(remoteAddr)
	}

	m.mu.Lock()
	node, ok := m.nodes[req.NodeID]
	if !ok {
		node = &domain.Node{
			ID:          req.NodeID,
			FirstSeenAt: at,
		}
		m.nodes[req.NodeID] = node
	} else if at.Before(node.LastSeenAt) {
		m.mu.Unlock()
		return nil, fmt.Errorf("%w: heartbeat timestamp %s predates last seen %s",
			domain.ErrInvalidInput, at.Format(time.RFC3339), node.LastSeenAt.Format(time.RFC3339))
	}
	node.LastSeenAt = at
	node.Online = true
	if address != "" {
		node.Address = address
	}
	view := *node
	m.mu.Unlock()

	if m.reaper != nil {
		m.reaper.Touch(ctx, req.NodeID, at)
	}
	return &view, nil
}

// hostOnly strips the port from a host:port peer address.
func hostOnly(addr string) string {
	if host, _, err := net.SplitHostPort(addr); err == nil {
		return host
	}
	return addr
}

// Lookup returns a node's last-known record.
func (m *Monitor) Lookup(nodeID string) (*domain.Node, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	node, ok := m.nodes[nodeID]
	if !ok {
		return nil, false
	}
	view := *node
	return &view, true
}

// Nodes returns all known nodes ordered by ID.
func (m *Monitor) Nodes() []*domain.Node {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*domain.Node, 0, len(m.nodes))
	for _, node := range m.nodes {
		view := *node
		out = append(out, &view)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Sweep marks nodes silent past the timeout as offline and closes their
// tunnels.
func (m *Monitor) Sweep(ctx context.Context) {
	cutoff := m.now().Add(-m.timeout)

	m.mu.Lock()
	var silent []string
	for id, node := range m.nodes {
		if node.Online && node.LastSeenAt.Before(cutoff) {
			node.Online = false
			silent = append(silent, id)
		}
	}
	m.mu.Unlock()

	if m.reaper == nil {
		return
	}
	for _, id := range silent {
		log.Printf("Node %s silent past %s, closing its tunnels", id, m.timeout)
		if err := m.reaper.CloseNodeTunnels(ctx, id, domain.CloseHeartbeatTimeout); err != nil {
			log.Printf("Failed to close tunnels for node %s: %v", id, err)
		}
	}
}

// Run sweeps on the given interval until the context ends.
func (m *Monitor) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Sweep(ctx)
		}
	}
}
