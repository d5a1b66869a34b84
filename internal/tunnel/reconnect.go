package tunnel

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math/rand"
	"time"

	"github.com/bcnelson/ztna-hub/internal/domain"
	"github.com/sethvargo/go-retry"
)

// fullJitter draws each delay uniformly from [0, d] so a fleet of agents
// knocked offline together does not reconnect in lockstep.
func fullJitter(b retry.Backoff) retry.Backoff {
	return retry.BackoffFunc(func() (time.Duration, bool) {
		d, stop := b.Next()
		if stop {
			return 0, true
		}
		return time.Duration(rand.Int63n(int64(d) + 1)), false
	})
}

// scheduleReconnectLocked starts the reconnect loop for a tunnel unless
// one is already running. Caller holds mu.
func (m *Manager) scheduleReconnectLocked(id string) {
	rt, ok := m.tunnels[id]
	if !ok {
		rt = &runtime{}
		m.tunnels[id] = rt
	}
	if rt.reconnectCancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	rt.reconnectCancel = cancel
	go m.reconnectLoop(ctx, id)
}

func (m *Manager) reconnectLoop(ctx context.Context, id string) {
	backoff := retry.WithCappedDuration(m.cfg.ReconnectMax, fullJitter(retry.NewExponential(m.cfg.ReconnectBase)))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		return m.attemptReconnect(ctx, id)
	})
	if err != nil && ctx.Err() == nil {
		log.Printf("Reconnect loop for tunnel %s stopped: %v", id, err)
	}

	m.mu.Lock()
	if rt, ok := m.tunnels[id]; ok && rt.reconnectCancel != nil {
		rt.reconnectCancel()
		rt.reconnectCancel = nil
	}
	// A failure that landed between the last attempt and this teardown
	// would otherwise find the cancel func still set and not start a new
	// loop. Re-check under the lock and reschedule if needed.
	if ctx.Err() == nil {
		if tunnel, err := m.storage.GetTunnel(context.Background(), id); err == nil &&
			tunnel.Status == domain.StatusError && tunnel.AutoReconnect {
			m.scheduleReconnectLocked(id)
		}
	}
	m.mu.Unlock()
}

// attemptReconnect performs one reconnection attempt: re-check the ACL,
// assign a fresh port, and give the agent one handshake window. A nil
// return stops the loop (success, closure, or revocation); a retryable
// error backs off and tries again.
func (m *Manager) attemptReconnect(ctx context.Context, id string) error {
	m.mu.Lock()

	tunnel, err := m.storage.GetTunnel(ctx, id)
	if err != nil {
		m.mu.Unlock()
		if errors.Is(err, domain.ErrNotFound) {
			return nil
		}
		return retry.RetryableError(err)
	}
	// Only an ERROR tunnel reconnects. ACTIVE means the agent completed
	// the handshake before this attempt started; touching it would demote
	// a healthy tunnel and orphan its port.
	if tunnel.Status != domain.StatusError {
		m.mu.Unlock()
		return nil
	}

	node, ok := m.nodes.Lookup(tunnel.NodeID)
	if !ok {
		m.mu.Unlock()
		return retry.RetryableError(fmt.Errorf("node %s not heartbeating", tunnel.NodeID))
	}

	// Access is re-checked on every attempt. A rule change while the
	// tunnel was down must not be bypassed by reconnection.
	decision, err := m.engine.Test(m.impliedRequest(node, tunnel.Class))
	if err != nil {
		m.mu.Unlock()
		return retry.RetryableError(err)
	}
	if decision.Outcome != domain.OutcomeAllow {
		if _, err := m.closeLocked(ctx, id, domain.CloseACLRevoked); err != nil {
			log.Printf("Failed to close revoked tunnel %s: %v", id, err)
		}
		m.mu.Unlock()
		return nil
	}

	port, err := m.ports.Allocate(tunnel.Class)
	if err != nil {
		m.mu.Unlock()
		return retry.RetryableError(err)
	}

	tunnel.RemotePort = port
	tunnel.Status = domain.StatusConnecting
	tunnel.LastError = ""
	tunnel.Reconnects++
	if err := m.storage.UpdateTunnel(ctx, tunnel); err != nil {
		m.ports.Release(tunnel.Class, port)
		m.mu.Unlock()
		return retry.RetryableError(err)
	}

	rt := m.tunnels[id]
	done := make(chan struct{})
	rt.handshakeDone = done
	m.mu.Unlock()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
		// Established or Close fired. Either way this attempt is over.
		current, err := m.storage.GetTunnel(ctx, id)
		if err != nil {
			return retry.RetryableError(err)
		}
		if current.Status == domain.StatusActive || !current.Open() {
			return nil
		}
		return retry.RetryableError(fmt.Errorf("tunnel %s handshake interrupted", id))
	case <-time.After(m.cfg.HandshakeTimeout):
		m.mu.Lock()
		current, err := m.storage.GetTunnel(ctx, id)
		if err != nil {
			m.mu.Unlock()
			return retry.RetryableError(err)
		}
		// The handshake may have completed or the tunnel been closed just
		// as the window lapsed. Those outcomes end the loop; only a tunnel
		// still mid-handshake times out.
		if current.Status == domain.StatusActive || !current.Open() {
			m.mu.Unlock()
			return nil
		}
		if current.Status == domain.StatusConnecting {
			rt.handshakeDone = nil
			m.toErrorLocked(ctx, current, domain.ErrHandshakeTimeout.Error())
		}
		m.mu.Unlock()
		return retry.RetryableError(domain.ErrHandshakeTimeout)
	}
}

// TriggerReevaluation schedules a sweep of open tunnels against the
// current rule set. Calls made in quick succession (a batch of rule edits)
// collapse into one sweep.
func (m *Manager) TriggerReevaluation() {
	m.debounceMu.Lock()
	defer m.debounceMu.Unlock()

	if m.debounce != nil {
		m.debounce.Reset(m.cfg.ReevalDebounce)
		return
	}
	m.debounce = time.AfterFunc(m.cfg.ReevalDebounce, func() {
		m.debounceMu.Lock()
		m.debounce = nil
		m.debounceMu.Unlock()

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		m.Reevaluate(ctx)
	})
}

// Reevaluate closes every open tunnel whose implied connection the rule
// set no longer allows.
func (m *Manager) Reevaluate(ctx context.Context) {
	tunnels, err := m.storage.ListOpenTunnels(ctx)
	if err != nil {
		log.Printf("Failed to list tunnels for re-evaluation: %v", err)
		return
	}

	for _, tunnel := range tunnels {
		node, ok := m.nodes.Lookup(tunnel.NodeID)
		if !ok {
			// No address on record; the heartbeat monitor will reap it.
			continue
		}
		decision, err := m.engine.Test(m.impliedRequest(node, tunnel.Class))
		if err != nil {
			log.Printf("Failed to re-evaluate tunnel %s: %v", tunnel.ID, err)
			continue
		}
		if decision.Outcome == domain.OutcomeAllow {
			continue
		}
		if _, err := m.Close(ctx, tunnel.ID, domain.CloseACLRevoked); err != nil {
			log.Printf("Failed to close revoked tunnel %s: %v", tunnel.ID, err)
		}
	}
}

// Run sweeps periodically as a backstop for revocations whose trigger was
// lost (for example a crash between a rule write and its debounce firing).
func (m *Manager) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Reevaluate(ctx)
		}
	}
}
