// Package acl implements the zero-trust access decision engine. Every
// connection is checked against an ordered rule list; nothing matches,
// nothing passes.
package acl

import (
	"context"
	"fmt"
	"log"
	"net/netip"
	"time"

	"github.com/bcnelson/ztna-hub/internal/domain"
	"github.com/bcnelson/ztna-hub/internal/events"
	"github.com/bcnelson/ztna-hub/internal/storage"
	"github.com/bcnelson/ztna-hub/internal/validation"
)

// Engine evaluates connection requests against the current rule snapshot.
// First match wins; an empty or exhausted list denies.
type Engine struct {
	rules   *Store
	storage storage.Storage
	sink    events.Sink
}

func NewEngine(rules *Store, st storage.Storage, sink events.Sink) *Engine {
	return &Engine{rules: rules, storage: st, sink: sink}
}

// Evaluate decides a live connection request. Matches are counted and
// denials are recorded as events.
func (e *Engine) Evaluate(ctx context.Context, req *domain.ConnectionRequest) (*domain.Decision, error) {
	decision, err := e.decide(req)
	if err != nil {
		return nil, err
	}

	if decision.MatchedRule != nil {
		e.countMatch(decision.MatchedRule.ID)
	}

	if decision.Outcome == domain.OutcomeDeny {
		event := &domain.Event{
			Details: map[string]any{
				"src":       req.SourceIP,
				"dst":       req.DestIP,
				"protocol":  string(req.Protocol),
				"dest_port": req.DestPort,
			},
		}
		if decision.MatchedRule != nil {
			event.Type = domain.EventACLDenied
			event.RuleID = decision.MatchedRule.ID
		} else {
			event.Type = domain.EventACLDefaultDeny
		}
		e.sink.Emit(ctx, event)
	}

	return decision, nil
}

// Test evaluates a request without counting matches or emitting events.
// Used for dry-run queries and periodic re-evaluation of open tunnels.
func (e *Engine) Test(req *domain.ConnectionRequest) (*domain.Decision, error) {
	return e.decide(req)
}

func (e *Engine) decide(req *domain.ConnectionRequest) (*domain.Decision, error) {
	if errs := validation.ValidateConnectionRequest(req); errs.HasErrors() {
		return nil, fmt.Errorf("%w: %s", domain.ErrInvalidInput, errs.Error())
	}

	src := netip.MustParseAddr(req.SourceIP).Unmap()
	dst := netip.MustParseAddr(req.DestIP).Unmap()
	at := req.Timestamp
	if at.IsZero() {
		at = time.Now()
	}

	snap := e.rules.current.Load()
	for _, cr := range snap.rules {
		if cr.malformed || !cr.rule.Enabled {
			continue
		}
		if !cr.matches(src, dst, req.Protocol, req.DestPort, at) {
			continue
		}
		outcome := domain.OutcomeDeny
		if cr.rule.Action == domain.ActionAllow {
			outcome = domain.OutcomeAllow
		}
		return &domain.Decision{Outcome: outcome, MatchedRule: cr.view()}, nil
	}

	return &domain.Decision{Outcome: domain.OutcomeDeny}, nil
}

// matches checks every predicate of a compiled rule. All must hold.
func (cr *compiledRule) matches(src, dst netip.Addr, proto domain.Protocol, destPort int, at time.Time) bool {
	rule := cr.rule

	if rule.ValidFrom != nil && at.Before(*rule.ValidFrom) {
		return false
	}
	if rule.ValidUntil != nil && !at.Before(*rule.ValidUntil) {
		return false
	}
	if cr.dayMask != 0 && cr.dayMask&weekdayBit(at.Weekday()) == 0 {
		return false
	}
	if cr.hasWindow && !cr.inWindow(at) {
		return false
	}

	if !cr.sourceNet.Contains(src) {
		return false
	}
	if !cr.destNet.Contains(dst) {
		return false
	}
	if rule.Protocol != domain.ProtocolAll && rule.Protocol != proto {
		return false
	}
	if rule.DestPort != 0 && rule.DestPort != destPort {
		return false
	}
	return true
}

// inWindow checks the half-open [start, end) wall-clock window. A window
// whose end precedes its start wraps across midnight.
func (cr *compiledRule) inWindow(at time.Time) bool {
	minute := at.Hour()*60 + at.Minute()
	if cr.startMin <= cr.endMin {
		return minute >= cr.startMin && minute < cr.endMin
	}
	return minute >= cr.startMin || minute < cr.endMin
}

func weekdayBit(day time.Weekday) uint8 {
	// time.Weekday starts at Sunday; our bit order starts at Monday.
	switch day {
	case time.Sunday:
		return dayBits["sunday"]
	default:
		return 1 << (uint8(day) - 1)
	}
}

// countMatch bumps the in-memory counter and persists asynchronously so
// evaluation latency never waits on the database.
func (e *Engine) countMatch(ruleID string) {
	snap := e.rules.current.Load()
	if cr, ok := snap.byID[ruleID]; ok {
		cr.matchCount.Add(1)
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := e.storage.IncrementRuleMatchCount(ctx, ruleID); err != nil {
			log.Printf("Failed to persist match count for rule %s: %v", ruleID, err)
		}
	}()
}
