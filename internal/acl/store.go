package acl

import (
	"context"
	"fmt"
	"net/netip"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bcnelson/ztna-hub/internal/domain"
	"github.com/bcnelson/ztna-hub/internal/events"
	"github.com/bcnelson/ztna-hub/internal/storage"
	"github.com/bcnelson/ztna-hub/internal/validation"
	"github.com/google/uuid"
)

var dayBits = map[string]uint8{
	"monday":    1 << 0,
	"tuesday":   1 << 1,
	"wednesday": 1 << 2,
	"thursday":  1 << 3,
	"friday":    1 << 4,
	"saturday":  1 << 5,
	"sunday":    1 << 6,
}

// compiledRule is an AccessRule with its predicates parsed ahead of time
// so evaluation never touches the string forms.
type compiledRule struct {
	rule      *domain.AccessRule
	sourceNet netip.Prefix
	destNet   netip.Prefix
	dayMask   uint8 // 0 means every day
	startMin  int   // minutes since midnight
	endMin    int
	hasWindow bool
	malformed bool

	matchCount *atomic.Int64
}

// snapshot is an immutable view of the compiled rule set, ordered by
// (priority, seq). Readers grab it once and evaluate without locks.
type snapshot struct {
	rules []*compiledRule
	byID  map[string]*compiledRule
}

// Store keeps the authoritative rule set. Writes go through to persistent
// storage and rebuild an immutable snapshot; evaluation reads the snapshot
// without taking the write lock.
type Store struct {
	storage storage.Storage
	sink    events.Sink

	mu      sync.Mutex // serializes writes
	current atomic.Pointer[snapshot]
	seq     atomic.Int64
}

func NewStore(st storage.Storage, sink events.Sink) *Store {
	s := &Store{storage: st, sink: sink}
	s.current.Store(&snapshot{byID: map[string]*compiledRule{}})
	return s
}

// Load reads all rules from storage and builds the initial snapshot.
// Called once at startup before the engine serves decisions.
func (s *Store) Load(ctx context.Context) error {
	rules, err := s.storage.ListAccessRules(ctx)
	if err != nil {
		return fmt.Errorf("loading access rules: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var maxSeq int64
	compiled := make([]*compiledRule, 0, len(rules))
	byID := make(map[string]*compiledRule, len(rules))
	for _, rule := range rules {
		if rule.Seq > maxSeq {
			maxSeq = rule.Seq
		}
		cr := s.compile(ctx, rule)
		compiled = append(compiled, cr)
		byID[rule.ID] = cr
	}
	s.seq.Store(maxSeq)
	s.current.Store(&snapshot{rules: compiled, byID: byID})
	return nil
}

// compile parses a rule's predicates. A rule that fails to parse is kept
// but marked malformed so the engine skips it instead of guessing.
func (s *Store) compile(ctx context.Context, rule *domain.AccessRule) *compiledRule {
	cr := &compiledRule{rule: rule, matchCount: &atomic.Int64{}}
	cr.matchCount.Store(rule.MatchCount)

	var parseErr error
	cr.sourceNet, parseErr = netip.ParsePrefix(rule.SourceNet)
	if parseErr == nil {
		cr.destNet, parseErr = netip.ParsePrefix(rule.DestNet)
	}
	if parseErr == nil {
		for _, day := range rule.DaysOfWeek {
			bit, ok := dayBits[strings.ToLower(day)]
			if !ok {
				parseErr = fmt.Errorf("unknown day %q", day)
				break
			}
			cr.dayMask |= bit
		}
	}
	if parseErr == nil && rule.HasTimeWindow() {
		cr.startMin, parseErr = validation.ParseTimeOfDay(rule.TimeStart)
		if parseErr == nil {
			cr.endMin, parseErr = validation.ParseTimeOfDay(rule.TimeEnd)
		}
		cr.hasWindow = true
	}

	if parseErr != nil {
		cr.malformed = true
		s.sink.Emit(ctx, &domain.Event{
			Type:   domain.EventRuleMalformed,
			RuleID: rule.ID,
			Details: map[string]any{
				"error": parseErr.Error(),
			},
		})
	}
	return cr
}

// rebuild swaps in a new snapshot from the given rule list. Caller holds mu.
func (s *Store) rebuild(ctx context.Context, rules []*domain.AccessRule) {
	old := s.current.Load()
	sort.SliceStable(rules, func(i, j int) bool {
		if rules[i].Priority != rules[j].Priority {
			return rules[i].Priority < rules[j].Priority
		}
		return rules[i].Seq < rules[j].Seq
	})
	compiled := make([]*compiledRule, 0, len(rules))
	byID := make(map[string]*compiledRule, len(rules))
	for _, rule := range rules {
		cr := s.compile(ctx, rule)
		if prev, ok := old.byID[rule.ID]; ok {
			cr.matchCount = prev.matchCount
		}
		compiled = append(compiled, cr)
		byID[rule.ID] = cr
	}
	s.current.Store(&snapshot{rules: compiled, byID: byID})
}

// currentRules returns the live rule list as domain rules. Caller holds mu.
func (s *Store) currentRules() []*domain.AccessRule {
	snap := s.current.Load()
	rules := make([]*domain.AccessRule, 0, len(snap.rules))
	for _, cr := range snap.rules {
		rules = append(rules, cr.rule)
	}
	return rules
}

// Create validates and persists a new rule, then swaps the snapshot.
func (s *Store) Create(ctx context.Context, req *domain.CreateAccessRuleRequest) (*domain.AccessRule, error) {
	if errs := validation.ValidateAccessRule(req); errs.HasErrors() {
		return nil, fmt.Errorf("%w: %s", domain.ErrInvalidInput, errs.Error())
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	enabled := true
	if req.Enabled != nil {
		enabled = *req.Enabled
	}
	rule := &domain.AccessRule{
		ID:         uuid.New().String(),
		Priority:   req.Priority,
		Seq:        s.seq.Add(1),
		Action:     req.Action,
		SourceNet:  req.SourceNet,
		DestNet:    req.DestNet,
		Protocol:   req.Protocol,
		DestPort:   req.DestPort,
		ValidFrom:  req.ValidFrom,
		ValidUntil: req.ValidUntil,
		DaysOfWeek: req.DaysOfWeek,
		TimeStart:  req.TimeStart,
		TimeEnd:    req.TimeEnd,
		Enabled:    enabled,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := s.storage.CreateAccessRule(ctx, rule); err != nil {
		return nil, err
	}

	s.rebuild(ctx, append(s.currentRules(), rule))
	return rule, nil
}

// Update applies the non-nil fields of req to an existing rule.
func (s *Store) Update(ctx context.Context, id string, req *domain.UpdateAccessRuleRequest) (*domain.AccessRule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := s.current.Load()
	cr, ok := snap.byID[id]
	if !ok {
		return nil, domain.ErrNotFound
	}

	updated := *cr.rule
	if req.Priority != nil {
		updated.Priority = *req.Priority
	}
	if req.Action != nil {
		updated.Action = *req.Action
	}
	if req.SourceNet != nil {
		updated.SourceNet = *req.SourceNet
	}
	if req.DestNet != nil {
		updated.DestNet = *req.DestNet
	}
	if req.Protocol != nil {
		updated.Protocol = *req.Protocol
	}
	if req.DestPort != nil {
		updated.DestPort = *req.DestPort
	}
	if req.ValidFrom != nil {
		updated.ValidFrom = req.ValidFrom
	}
	if req.ValidUntil != nil {
		updated.ValidUntil = req.ValidUntil
	}
	if req.DaysOfWeek != nil {
		updated.DaysOfWeek = req.DaysOfWeek
	}
	if req.TimeStart != nil {
		updated.TimeStart = *req.TimeStart
	}
	if req.TimeEnd != nil {
		updated.TimeEnd = *req.TimeEnd
	}
	if req.Enabled != nil {
		updated.Enabled = *req.Enabled
	}

	if errs := validation.ValidateAccessRule(updated.AsCreateRequest()); errs.HasErrors() {
		return nil, fmt.Errorf("%w: %s", domain.ErrInvalidInput, errs.Error())
	}

	if err := s.storage.UpdateAccessRule(ctx, &updated); err != nil {
		return nil, err
	}

	rules := make([]*domain.AccessRule, 0, len(snap.rules))
	for _, existing := range snap.rules {
		if existing.rule.ID == id {
			rules = append(rules, &updated)
		} else {
			rules = append(rules, existing.rule)
		}
	}
	s.rebuild(ctx, rules)
	return &updated, nil
}

// SetEnabled flips a rule on or off without touching its predicates.
func (s *Store) SetEnabled(ctx context.Context, id string, enabled bool) (*domain.AccessRule, error) {
	return s.Update(ctx, id, &domain.UpdateAccessRuleRequest{Enabled: &enabled})
}

// Delete removes a rule permanently.
func (s *Store) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.storage.DeleteAccessRule(ctx, id); err != nil {
		return err
	}

	snap := s.current.Load()
	rules := make([]*domain.AccessRule, 0, len(snap.rules))
	for _, existing := range snap.rules {
		if existing.rule.ID != id {
			rules = append(rules, existing.rule)
		}
	}
	s.rebuild(ctx, rules)
	return nil
}

// Get returns a single rule with its live match count.
func (s *Store) Get(id string) (*domain.AccessRule, error) {
	snap := s.current.Load()
	cr, ok := snap.byID[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return cr.view(), nil
}

// List returns all rules in evaluation order with live match counts.
func (s *Store) List() []*domain.AccessRule {
	snap := s.current.Load()
	rules := make([]*domain.AccessRule, 0, len(snap.rules))
	for _, cr := range snap.rules {
		rules = append(rules, cr.view())
	}
	return rules
}

// view returns a copy of the rule with the in-memory match count applied.
func (cr *compiledRule) view() *domain.AccessRule {
	rule := *cr.rule
	rule.MatchCount = cr.matchCount.Load()
	return &rule
}
