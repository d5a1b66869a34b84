package domain

import "time"

// Outcome is the result of evaluating a connection against the rule set.
type Outcome string

const (
	OutcomeAllow Outcome = "allow"
	OutcomeDeny  Outcome = "deny"
)

// ConnectionRequest describes a candidate connection to be evaluated.
// It is ephemeral input to the ACL engine and is never persisted.
//
// Timestamp is the evaluation time for the rule time-window predicates. A
// zero Timestamp means "now"; it is an explicit field so evaluations are
// deterministic and testable.
type ConnectionRequest struct {
	SourceIP  string    `json:"src_ip"`
	DestIP    string    `json:"dst_ip"`
	Protocol  Protocol  `json:"protocol"`
	DestPort  int       `json:"dst_port"`
	Timestamp time.Time `json:"timestamp,omitempty"`
}

// Decision is the outcome of a single evaluation. MatchedRule is nil when
// the outcome is the zero-trust default-deny (no rule matched).
type Decision struct {
	Outcome     Outcome     `json:"outcome"`
	MatchedRule *AccessRule `json:"matched_rule,omitempty"`
}

// DefaultDeny reports whether the decision is the implicit default-deny
// rather than the result of an explicit rule.
func (d Decision) DefaultDeny() bool {
	return d.Outcome == OutcomeDeny && d.MatchedRule == nil
}
