package domain

import "time"

// Event types emitted to the audit sink.
const (
	EventTunnelCreated  = "tunnel.created"
	EventTunnelActive   = "tunnel.active"
	EventTunnelClosed   = "tunnel.closed"
	EventTunnelError    = "tunnel.error"
	EventACLDenied      = "acl.denied"
	EventACLDefaultDeny = "acl.default_deny"
	EventRuleMalformed  = "rule.malformed"
)

// Event is a structured audit record. Exactly one of TunnelID/RuleID/NodeID
// is usually set, but deny events may carry both a rule and the node whose
// tunnel was refused.
type Event struct {
	ID        string         `json:"id" db:"id"`
	Type      string         `json:"type" db:"type"`
	TunnelID  string         `json:"tunnel_id,omitempty" db:"tunnel_id"`
	RuleID    string         `json:"rule_id,omitempty" db:"rule_id"`
	NodeID    string         `json:"node_id,omitempty" db:"node_id"`
	Timestamp time.Time      `json:"timestamp" db:"timestamp"`
	Details   map[string]any `json:"details,omitempty" db:"-"` // serialized to JSON for storage
}

// EventFilter narrows event listings.
type EventFilter struct {
	Type     string
	TunnelID string
	Limit    int
	Offset   int
}
