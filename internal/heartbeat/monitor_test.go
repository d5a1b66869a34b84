package heartbeat

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/bcnelson/ztna-hub/internal/domain"
)

// fakeReaper records reap calls.
type fakeReaper struct {
	mu      sync.Mutex
	touched map[string]time.Time
	reaped  []string
}

func newFakeReaper() *fakeReaper {
	return &fakeReaper{touched: make(map[string]time.Time)}
}

func (f *fakeReaper) Touch(_ context.Context, nodeID string, at time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.touched[nodeID] = at
}

func (f *fakeReaper) CloseNodeTunnels(_ context.Context, nodeID string, reason domain.CloseReason) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if reason != domain.CloseHeartbeatTimeout {
		return errors.New("unexpected close reason")
	}
	f.reaped = append(f.reaped, nodeID)
	return nil
}

func (f *fakeReaper) reapedNodes() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.reaped...)
}

func TestReceiveRegistersNode(t *testing.T) {
	reaper := newFakeReaper()
	m := NewMonitor(90*time.Second)
	m.SetReaper(reaper)

	at := time.Now()
	node, err := m.Receive(context.Background(), &domain.HeartbeatRequest{
		NodeID: "node-a", Timestamp: at,
	}, "10.0.0.5:41234")
	if err != nil {
		t.Fatalf("Receive failed: %v", err)
	}
	if node.Address != "10.0.0.5" {
		t.Errorf("Expected address from peer, got %q", node.Address)
	}
	if !node.Online {
		t.Error("Expected node online")
	}
	if !node.FirstSeenAt.Equal(at) || !node.LastSeenAt.Equal(at) {
		t.Error("Expected first and last seen set from the heartbeat")
	}
	if got, ok := reaper.touched["node-a"]; !ok || !got.Equal(at) {
		t.Error("Expected tunnels touched with the heartbeat timestamp")
	}
}

func TestReceiveExplicitAddressWins(t *testing.T) {
	m := NewMonitor(90*time.Second)
	m.SetReaper(newFakeReaper())

	node, err := m.Receive(context.Background(), &domain.HeartbeatRequest{
		NodeID: "node-a", Timestamp: time.Now(), Address: "192.168.7.7",
	}, "10.0.0.5:41234")
	if err != nil {
		t.Fatalf("Receive failed: %v", err)
	}
	if node.Address != "192.168.7.7" {
		t.Errorf("Expected body address to win, got %q", node.Address)
	}
}

func TestReceiveRejectsStaleTimestamp(t *testing.T) {
	m := NewMonitor(90*time.Second)
	m.SetReaper(newFakeReaper())

	now := time.Now()
	if _, err := m.Receive(context.Background(), &domain.HeartbeatRequest{
		NodeID: "node-a", Timestamp: now,
	}, "10.0.0.5:1"); err != nil {
		t.Fatalf("Receive failed: %v", err)
	}

	_, err := m.Receive(context.Background(), &domain.HeartbeatRequest{
		NodeID: "node-a", Timestamp: now.Add(-time.Minute),
	}, "10.0.0.5:1")
	if !errors.Is(err, domain.ErrInvalidInput) {
		t.Errorf("Expected stale heartbeat rejected, got %v", err)
	}

	// Liveness is unchanged by the rejected beat.
	node, ok := m.Lookup("node-a")
	if !ok {
		t.Fatal("Expected node still registered")
	}
	if !node.LastSeenAt.Equal(now) {
		t.Error("Expected last seen untouched by the stale beat")
	}
}

func TestReceiveRequiresNodeID(t *testing.T) {
	m := NewMonitor(90*time.Second)
	m.SetReaper(newFakeReaper())

	if _, err := m.Receive(context.Background(), &domain.HeartbeatRequest{}, "10.0.0.5:1"); !errors.Is(err, domain.ErrInvalidInput) {
		t.Errorf("Expected ErrInvalidInput, got %v", err)
	}
}

func TestLookupUnknownNode(t *testing.T) {
	m := NewMonitor(90*time.Second)
	m.SetReaper(newFakeReaper())

	if _, ok := m.Lookup("ghost"); ok {
		t.Error("Expected lookup miss for unknown node")
	}
}

func TestSweepReapsSilentNodes(t *testing.T) {
	reaper := newFakeReaper()
	m := NewMonitor(90*time.Second)
	m.SetReaper(reaper)
	current := time.Now()
	m.now = func() time.Time { return current }

	if _, err := m.Receive(context.Background(), &domain.HeartbeatRequest{
		NodeID: "silent", Timestamp: current,
	}, "10.0.0.5:1"); err != nil {
		t.Fatalf("Receive failed: %v", err)
	}
	if _, err := m.Receive(context.Background(), &domain.HeartbeatRequest{
		NodeID: "chatty", Timestamp: current,
	}, "10.0.0.6:1"); err != nil {
		t.Fatalf("Receive failed: %v", err)
	}

	// Only one node keeps heartbeating.
	current = current.Add(2 * time.Minute)
	if _, err := m.Receive(context.Background(), &domain.HeartbeatRequest{
		NodeID: "chatty", Timestamp: current,
	}, "10.0.0.6:1"); err != nil {
		t.Fatalf("Receive failed: %v", err)
	}

	m.Sweep(context.Background())

	reaped := reaper.reapedNodes()
	if len(reaped) != 1 || reaped[0] != "silent" {
		t.Errorf("Expected only the silent node reaped, got %v", reaped)
	}

	node, _ := m.Lookup("silent")
	if node.Online {
		t.Error("Expected silent node marked offline")
	}
	node, _ = m.Lookup("chatty")
	if !node.Online {
		t.Error("Expected chatty node still online")
	}

	// A second sweep does not reap the same node again.
	m.Sweep(context.Background())
	if len(reaper.reapedNodes()) != 1 {
		t.Error("Expected offline node not reaped twice")
	}
}

func TestHeartbeatRevivesOfflineNode(t *testing.T) {
	reaper := newFakeReaper()
	m := NewMonitor(90*time.Second)
	m.SetReaper(reaper)
	current := time.Now()
	m.now = func() time.Time { return current }

	if _, err := m.Receive(context.Background(), &domain.HeartbeatRequest{
		NodeID: "node-a", Timestamp: current,
	}, "10.0.0.5:1"); err != nil {
		t.Fatalf("Receive failed: %v", err)
	}

	current = current.Add(3 * time.Minute)
	m.Sweep(context.Background())

	node, err := m.Receive(context.Background(), &domain.HeartbeatRequest{
		NodeID: "node-a", Timestamp: current,
	}, "10.0.0.5:1")
	if err != nil {
		t.Fatalf("Receive failed: %v", err)
	}
	if !node.Online {
		t.Error("Expected node back online after heartbeat")
	}
}

func TestNodesSorted(t *testing.T) {
	m := NewMonitor(90*time.Second)
	m.SetReaper(newFakeReaper())

	for _, id := range []string{"charlie", "alpha", "bravo"} {
		if _, err := m.Receive(context.Background(), &domain.HeartbeatRequest{
			NodeID: id, Timestamp: time.Now(),
		}, "10.0.0.5:1"); err != nil {
			t.Fatalf("Receive failed: %v", err)
		}
	}

	nodes := m.Nodes()
	if len(nodes) != 3 {
		t.Fatalf("Expected 3 nodes, got %d", len(nodes))
	}
	for i, want := range []string{"alpha", "bravo", "charlie"} {
		if nodes[i].ID != want {
			t.Errorf("Expected node %d to be %s, got %s", i, want, nodes[i].ID)
		}
	}
}
