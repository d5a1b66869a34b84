package domain

import "time"

// TunnelClass selects which remote port range a tunnel draws from and which
// implied access path is checked before it opens. SYSTEM and TERMINAL tunnels
// ride the node's SSH control channel and share one range; HTTPS tunnels have
// their own.
type TunnelClass string

const (
	ClassSystem   TunnelClass = "system"
	ClassTerminal TunnelClass = "terminal"
	ClassHTTPS    TunnelClass = "https"
)

// TunnelStatus is the lifecycle state of a tunnel.
//
//	PENDING -> CONNECTING -> ACTIVE <-> ERROR -> CLOSED
//
// ERROR loops back to CONNECTING while auto-reconnect is enabled. CLOSED is
// terminal.
type TunnelStatus string

const (
	StatusPending    TunnelStatus = "pending"
	StatusConnecting TunnelStatus = "connecting"
	StatusActive     TunnelStatus = "active"
	StatusError      TunnelStatus = "error"
	StatusClosed     TunnelStatus = "closed"
)

// CloseReason explains why a tunnel reached CLOSED.
type CloseReason string

const (
	CloseRequested        CloseReason = "requested"
	CloseACLRevoked       CloseReason = "acl_revoked"
	CloseHeartbeatTimeout CloseReason = "heartbeat_timeout"
)

// Tunnel is a reverse tunnel from an edge node to the hub. RemotePort is the
// hub-side listener port; it is unique across all non-CLOSED tunnels and is
// zero while the tunnel sits in ERROR (the port is returned to the allocator
// and a fresh one is drawn on reconnect).
type Tunnel struct {
	ID            string       `json:"id" db:"id"`
	NodeID        string       `json:"node_id" db:"node_id"`
	Class         TunnelClass  `json:"class" db:"class"`
	LocalPort     int          `json:"local_port" db:"local_port"`
	RemotePort    int          `json:"remote_port" db:"remote_port"`
	Status        TunnelStatus `json:"status" db:"status"`
	AutoReconnect bool         `json:"auto_reconnect" db:"auto_reconnect"`
	CloseReason   CloseReason  `json:"close_reason,omitempty" db:"close_reason"`
	LastError     string       `json:"last_error,omitempty" db:"last_error"`
	Reconnects    int          `json:"reconnects" db:"reconnects"`

	CreatedAt       time.Time  `json:"created_at" db:"created_at"`
	LastHeartbeatAt *time.Time `json:"last_heartbeat_at,omitempty" db:"last_heartbeat_at"`
	ClosedAt        *time.Time `json:"closed_at,omitempty" db:"closed_at"`
}

// Open reports whether the tunnel still holds (or may reacquire) resources.
func (t *Tunnel) Open() bool {
	return t.Status != StatusClosed
}

// CreateTunnelRequest is the request body for creating a tunnel.
type CreateTunnelRequest struct {
	NodeID        string      `json:"node_id"`
	Class         TunnelClass `json:"class"`
	LocalPort     int         `json:"local_port"`
	AutoReconnect bool        `json:"auto_reconnect"`
}

// TunnelFilter narrows tunnel listings. Zero values match everything.
type TunnelFilter struct {
	NodeID string       `json:"node_id,omitempty"`
	Class  TunnelClass  `json:"class,omitempty"`
	Status TunnelStatus `json:"status,omitempty"`
}

// Matches reports whether a tunnel passes the filter.
func (f TunnelFilter) Matches(t *Tunnel) bool {
	if f.NodeID != "" && t.NodeID != f.NodeID {
		return false
	}
	if f.Class != "" && t.Class != f.Class {
		return false
	}
	if f.Status != "" && t.Status != f.Status {
		return false
	}
	return true
}

// TunnelStats is the observability view of a single tunnel.
type TunnelStats struct {
	ID              string       `json:"id"`
	Status          TunnelStatus `json:"status"`
	RemotePort      int          `json:"remote_port"`
	UptimeSeconds   int64        `json:"uptime_seconds"`
	Reconnects      int          `json:"reconnects"`
	LastError       string       `json:"last_error,omitempty"`
	LastHeartbeatAt *time.Time   `json:"last_heartbeat_at,omitempty"`
}

// TransportFailureRequest is reported by the transport layer when an
// established tunnel's connection drops.
type TransportFailureRequest struct {
	Error string `json:"error"`
}
