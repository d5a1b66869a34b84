package domain

import (
	"strings"
	"time"
)

// RuleAction is the decision a matching rule produces.
type RuleAction string

const (
	ActionAllow RuleAction = "allow"
	ActionDeny  RuleAction = "deny"
)

// Protocol identifies the transport protocol a rule or connection applies to.
type Protocol string

const (
	ProtocolTCP  Protocol = "tcp"
	ProtocolUDP  Protocol = "udp"
	ProtocolICMP Protocol = "icmp"
	ProtocolAll  Protocol = "all"
)

// AccessRule represents a single entry in the ordered access control list.
// Rules are evaluated in (Priority ASC, Seq ASC) order; the first rule whose
// predicates all match decides the outcome. Priorities are not unique - Seq
// (creation order) breaks ties deterministically.
type AccessRule struct {
	ID       string     `json:"id" db:"id"`
	Priority int        `json:"priority" db:"priority"` // 1-100, lower evaluates first
	Seq      int64      `json:"-" db:"seq"`             // creation order, tie-break
	Action   RuleAction `json:"action" db:"action"`

	SourceNet string   `json:"src" db:"source_net"` // CIDR, 0.0.0.0/0 or ::/0 matches any
	DestNet   string   `json:"dst" db:"dest_net"`
	Protocol  Protocol `json:"protocol" db:"protocol"`
	DestPort  int      `json:"dest_port" db:"dest_port"` // 0 matches any port

	// Optional activity window. Nil timestamps are unbounded.
	ValidFrom  *time.Time `json:"valid_from,omitempty" db:"valid_from"`
	ValidUntil *time.Time `json:"valid_until,omitempty" db:"valid_until"`

	// Optional weekday restriction (lowercase English day names).
	DaysOfWeek []string `json:"days_of_week,omitempty" db:"-"`

	// Optional wall-clock window in "HH:MM" form, half-open [start, end).
	TimeStart string `json:"time_start,omitempty" db:"time_start"`
	TimeEnd   string `json:"time_end,omitempty" db:"time_end"`

	Enabled    bool  `json:"enabled" db:"enabled"`
	MatchCount int64 `json:"match_count" db:"match_count"` // observability only

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// HasTimeWindow reports whether the rule carries a wall-clock window.
func (r *AccessRule) HasTimeWindow() bool {
	return r.TimeStart != "" && r.TimeEnd != ""
}

// DaysCSV returns the weekday restriction as a comma-separated string for
// single-column storage. Empty when the rule has no weekday restriction.
func (r *AccessRule) DaysCSV() string {
	return strings.Join(r.DaysOfWeek, ",")
}

// SetDaysCSV populates DaysOfWeek from its stored comma-separated form.
func (r *AccessRule) SetDaysCSV(csv string) {
	if csv == "" {
		r.DaysOfWeek = nil
		return
	}
	r.DaysOfWeek = strings.Split(csv, ",")
}

// AsCreateRequest re-expresses the rule's user-settable fields as a create
// request so updated rules pass through the same validation.
func (r *AccessRule) AsCreateRequest() *CreateAccessRuleRequest {
	enabled := r.Enabled
	return &CreateAccessRuleRequest{
		Priority:   r.Priority,
		Action:     r.Action,
		SourceNet:  r.SourceNet,
		DestNet:    r.DestNet,
		Protocol:   r.Protocol,
		DestPort:   r.DestPort,
		ValidFrom:  r.ValidFrom,
		ValidUntil: r.ValidUntil,
		DaysOfWeek: r.DaysOfWeek,
		TimeStart:  r.TimeStart,
		TimeEnd:    r.TimeEnd,
		Enabled:    &enabled,
	}
}

// CreateAccessRuleRequest is the request body for creating an access rule.
type CreateAccessRuleRequest struct {
	Priority   int        `json:"priority"`
	Action     RuleAction `json:"action"`
	SourceNet  string     `json:"src"`
	DestNet    string     `json:"dst"`
	Protocol   Protocol   `json:"protocol"`
	DestPort   int        `json:"dest_port,omitempty"`
	ValidFrom  *time.Time `json:"valid_from,omitempty"`
	ValidUntil *time.Time `json:"valid_until,omitempty"`
	DaysOfWeek []string   `json:"days_of_week,omitempty"`
	TimeStart  string     `json:"time_start,omitempty"`
	TimeEnd    string     `json:"time_end,omitempty"`
	Enabled    *bool      `json:"enabled,omitempty"` // default true
}

// UpdateAccessRuleRequest is the request body for updating an access rule.
// Nil fields are left unchanged.
type UpdateAccessRuleRequest struct {
	Priority   *int        `json:"priority,omitempty"`
	Action     *RuleAction `json:"action,omitempty"`
	SourceNet  *string     `json:"src,omitempty"`
	DestNet    *string     `json:"dst,omitempty"`
	Protocol   *Protocol   `json:"protocol,omitempty"`
	DestPort   *int        `json:"dest_port,omitempty"`
	ValidFrom  *time.Time  `json:"valid_from,omitempty"`
	ValidUntil *time.Time  `json:"valid_until,omitempty"`
	DaysOfWeek []string    `json:"days_of_week,omitempty"`
	TimeStart  *string     `json:"time_start,omitempty"`
	TimeEnd    *string     `json:"time_end,omitempty"`
	Enabled    *bool       `json:"enabled,omitempty"`
}

// SetEnabledRequest toggles a rule without touching its predicates.
type SetEnabledRequest struct {
	Enabled bool `json:"enabled"`
}
