package domain

import "time"

// Node is an edge node known to the hub. Nodes register implicitly with
// their first heartbeat; liveness is runtime state and is not persisted.
type Node struct {
	ID          string    `json:"id"`
	Address     string    `json:"address"` // last reported source address
	FirstSeenAt time.Time `json:"first_seen_at"`
	LastSeenAt  time.Time `json:"last_seen_at"`
	Online      bool      `json:"online"`
}

// HeartbeatRequest is the heartbeat ingress body. Address is optional; when
// empty the hub records the request's remote address. Authentication of the
// (node_id, timestamp) pair is an external concern.
type HeartbeatRequest struct {
	NodeID    string    `json:"node_id"`
	Timestamp time.Time `json:"timestamp"`
	Address   string    `json:"address,omitempty"`
}
