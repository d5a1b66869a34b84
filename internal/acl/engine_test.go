package acl

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/bcnelson/ztna-hub/internal/domain"
	"github.com/bcnelson/ztna-hub/internal/storage"
	"github.com/bcnelson/ztna-hub/internal/storage/memory"
	"github.com/google/uuid"
)

// captureSink records emitted events for assertions.
type captureSink struct {
	mu     sync.Mutex
	events []*domain.Event
}

func (s *captureSink) Emit(_ context.Context, event *domain.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
}

func (s *captureSink) byType(eventType string) []*domain.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*domain.Event
	for _, e := range s.events {
		if e.Type == eventType {
			out = append(out, e)
		}
	}
	return out
}

func newTestEngine(t *testing.T) (*Engine, *Store, storage.Storage, *captureSink) {
	t.Helper()
	st := memory.New()
	t.Cleanup(func() { st.Close() })
	sink := &captureSink{}
	rules := NewStore(st, sink)
	if err := rules.Load(context.Background()); err != nil {
		t.Fatalf("Failed to load rules: %v", err)
	}
	return NewEngine(rules, st, sink), rules, st, sink
}

func mustCreate(t *testing.T, rules *Store, req *domain.CreateAccessRuleRequest) *domain.AccessRule {
	t.Helper()
	rule, err := rules.Create(context.Background(), req)
	if err != nil {
		t.Fatalf("Failed to create rule: %v", err)
	}
	return rule
}

func request(src, dst string, proto domain.Protocol, port int) *domain.ConnectionRequest {
	return &domain.ConnectionRequest{SourceIP: src, DestIP: dst, Protocol: proto, DestPort: port}
}

func TestEvaluateEmptyRuleSetDeniesEverything(t *testing.T) {
	engine, _, _, _ := newTestEngine(t)

	decision, err := engine.Evaluate(context.Background(), request("10.0.0.1", "10.0.1.1", domain.ProtocolTCP, 443))
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	if decision.Outcome != domain.OutcomeDeny {
		t.Errorf("Expected deny, got %s", decision.Outcome)
	}
	if decision.MatchedRule != nil {
		t.Errorf("Expected nil matched rule for default deny, got %s", decision.MatchedRule.ID)
	}
	if !decision.DefaultDeny() {
		t.Error("Expected DefaultDeny() to report true")
	}
}

func TestEvaluateFirstMatchWins(t *testing.T) {
	engine, rules, _, _ := newTestEngine(t)

	deny := mustCreate(t, rules, &domain.CreateAccessRuleRequest{
		Priority: 10, Action: domain.ActionDeny,
		SourceNet: "10.0.0.0/24", DestNet: "0.0.0.0/0", Protocol: domain.ProtocolAll,
	})
	mustCreate(t, rules, &domain.CreateAccessRuleRequest{
		Priority: 20, Action: domain.ActionAllow,
		SourceNet: "10.0.0.0/16", DestNet: "0.0.0.0/0", Protocol: domain.ProtocolAll,
	})

	decision, err := engine.Evaluate(context.Background(), request("10.0.0.5", "192.168.1.1", domain.ProtocolTCP, 22))
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	if decision.Outcome != domain.OutcomeDeny {
		t.Errorf("Expected deny from higher-priority rule, got %s", decision.Outcome)
	}
	if decision.MatchedRule == nil || decision.MatchedRule.ID != deny.ID {
		t.Error("Expected the priority-10 deny rule to match first")
	}

	// A source outside the /24 falls through to the broader allow.
	decision, err = engine.Evaluate(context.Background(), request("10.0.5.5", "192.168.1.1", domain.ProtocolTCP, 22))
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	if decision.Outcome != domain.OutcomeAllow {
		t.Errorf("Expected allow from priority-20 rule, got %s", decision.Outcome)
	}
}

func TestEvaluateEqualPriorityUsesCreationOrder(t *testing.T) {
	engine, rules, _, _ := newTestEngine(t)

	first := mustCreate(t, rules, &domain.CreateAccessRuleRequest{
		Priority: 50, Action: domain.ActionAllow,
		SourceNet: "0.0.0.0/0", DestNet: "0.0.0.0/0", Protocol: domain.ProtocolAll,
	})
	mustCreate(t, rules, &domain.CreateAccessRuleRequest{
		Priority: 50, Action: domain.ActionDeny,
		SourceNet: "0.0.0.0/0", DestNet: "0.0.0.0/0", Protocol: domain.ProtocolAll,
	})

	decision, err := engine.Evaluate(context.Background(), request("10.0.0.1", "10.0.0.2", domain.ProtocolTCP, 80))
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	if decision.Outcome != domain.OutcomeAllow {
		t.Errorf("Expected the older rule to win the tie, got %s", decision.Outcome)
	}
	if decision.MatchedRule == nil || decision.MatchedRule.ID != first.ID {
		t.Error("Expected the first-created rule to match")
	}
}

func TestEvaluateDisabledRuleIsInert(t *testing.T) {
	engine, rules, _, _ := newTestEngine(t)

	disabled := false
	mustCreate(t, rules, &domain.CreateAccessRuleRequest{
		Priority: 1, Action: domain.ActionAllow,
		SourceNet: "0.0.0.0/0", DestNet: "0.0.0.0/0", Protocol: domain.ProtocolAll,
		Enabled: &disabled,
	})

	decision, err := engine.Evaluate(context.Background(), request("10.0.0.1", "10.0.0.2", domain.ProtocolTCP, 80))
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	if decision.Outcome != domain.OutcomeDeny {
		t.Errorf("Expected default deny past a disabled rule, got %s", decision.Outcome)
	}
}

func TestEvaluatePredicates(t *testing.T) {
	engine, rules, _, _ := newTestEngine(t)

	mustCreate(t, rules, &domain.CreateAccessRuleRequest{
		Priority: 10, Action: domain.ActionAllow,
		SourceNet: "10.1.0.0/16", DestNet: "10.2.0.0/16",
		Protocol: domain.ProtocolTCP, DestPort: 443,
	})

	tests := []struct {
		name string
		req  *domain.ConnectionRequest
		want domain.Outcome
	}{
		{"full match", request("10.1.3.4", "10.2.0.9", domain.ProtocolTCP, 443), domain.OutcomeAllow},
		{"wrong source net", request("10.3.0.1", "10.2.0.9", domain.ProtocolTCP, 443), domain.OutcomeDeny},
		{"wrong dest net", request("10.1.3.4", "10.9.0.9", domain.ProtocolTCP, 443), domain.OutcomeDeny},
		{"wrong protocol", request("10.1.3.4", "10.2.0.9", domain.ProtocolUDP, 443), domain.OutcomeDeny},
		{"wrong port", request("10.1.3.4", "10.2.0.9", domain.ProtocolTCP, 8443), domain.OutcomeDeny},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			decision, err := engine.Evaluate(context.Background(), tt.req)
			if err != nil {
				t.Fatalf("Evaluate failed: %v", err)
			}
			if decision.Outcome != tt.want {
				t.Errorf("Expected %s, got %s", tt.want, decision.Outcome)
			}
		})
	}
}

func TestEvaluateWildcardPredicates(t *testing.T) {
	engine, rules, _, _ := newTestEngine(t)

	mustCreate(t, rules, &domain.CreateAccessRuleRequest{
		Priority: 10, Action: domain.ActionAllow,
		SourceNet: "0.0.0.0/0", DestNet: "0.0.0.0/0",
		Protocol: domain.ProtocolAll, DestPort: 0,
	})

	for _, req := range []*domain.ConnectionRequest{
		request("1.2.3.4", "5.6.7.8", domain.ProtocolTCP, 1),
		request("10.0.0.1", "10.0.0.2", domain.ProtocolUDP, 65535),
		request("192.168.0.1", "172.16.0.1", domain.ProtocolICMP, 0),
	} {
		decision, err := engine.Evaluate(context.Background(), req)
		if err != nil {
			t.Fatalf("Evaluate failed: %v", err)
		}
		if decision.Outcome != domain.OutcomeAllow {
			t.Errorf("Expected wildcard rule to allow %s -> %s", req.SourceIP, req.DestIP)
		}
	}
}

func TestEvaluateTimeWindowBoundaries(t *testing.T) {
	engine, rules, _, _ := newTestEngine(t)

	mustCreate(t, rules, &domain.CreateAccessRuleRequest{
		Priority: 10, Action: domain.ActionAllow,
		SourceNet: "0.0.0.0/0", DestNet: "0.0.0.0/0", Protocol: domain.ProtocolAll,
		TimeStart: "09:00", TimeEnd: "17:00",
	})

	// Wednesday 2026-01-07.
	day := time.Date(2026, 1, 7, 0, 0, 0, 0, time.UTC)
	tests := []struct {
		clock string
		want  domain.Outcome
	}{
		{"08:59", domain.OutcomeDeny},
		{"09:00", domain.OutcomeAllow},
		{"12:30", domain.OutcomeAllow},
		{"16:59", domain.OutcomeAllow},
		{"17:00", domain.OutcomeDeny},
	}
	for _, tt := range tests {
		t.Run(tt.clock, func(t *testing.T) {
			at, _ := time.Parse("15:04", tt.clock)
			req := request("10.0.0.1", "10.0.0.2", domain.ProtocolTCP, 80)
			req.Timestamp = day.Add(time.Duration(at.Hour())*time.Hour + time.Duration(at.Minute())*time.Minute)
			decision, err := engine.Evaluate(context.Background(), req)
			if err != nil {
				t.Fatalf("Evaluate failed: %v", err)
			}
			if decision.Outcome != tt.want {
				t.Errorf("At %s expected %s, got %s", tt.clock, tt.want, decision.Outcome)
			}
		})
	}
}

func TestEvaluateTimeWindowWrapsMidnight(t *testing.T) {
	engine, rules, _, _ := newTestEngine(t)

	mustCreate(t, rules, &domain.CreateAccessRuleRequest{
		Priority: 10, Action: domain.ActionAllow,
		SourceNet: "0.0.0.0/0", DestNet: "0.0.0.0/0", Protocol: domain.ProtocolAll,
		TimeStart: "22:00", TimeEnd: "06:00",
	})

	day := time.Date(2026, 1, 7, 0, 0, 0, 0, time.UTC)
	tests := []struct {
		hour int
		want domain.Outcome
	}{
		{23, domain.OutcomeAllow},
		{2, domain.OutcomeAllow},
		{5, domain.OutcomeAllow},
		{6, domain.OutcomeDeny},
		{12, domain.OutcomeDeny},
		{21, domain.OutcomeDeny},
	}
	for _, tt := range tests {
		req := request("10.0.0.1", "10.0.0.2", domain.ProtocolTCP, 80)
		req.Timestamp = day.Add(time.Duration(tt.hour) * time.Hour)
		decision, err := engine.Evaluate(context.Background(), req)
		if err != nil {
			t.Fatalf("Evaluate failed: %v", err)
		}
		if decision.Outcome != tt.want {
			t.Errorf("At hour %d expected %s, got %s", tt.hour, tt.want, decision.Outcome)
		}
	}
}

func TestEvaluateDaysOfWeek(t *testing.T) {
	engine, rules, _, _ := newTestEngine(t)

	mustCreate(t, rules, &domain.CreateAccessRuleRequest{
		Priority: 10, Action: domain.ActionAllow,
		SourceNet: "0.0.0.0/0", DestNet: "0.0.0.0/0", Protocol: domain.ProtocolAll,
		DaysOfWeek: []string{"monday", "tuesday", "wednesday", "thursday", "friday"},
	})

	// 2026-01-10 is a Saturday, 2026-01-12 a Monday.
	saturday := request("10.0.0.1", "10.0.0.2", domain.ProtocolTCP, 80)
	saturday.Timestamp = time.Date(2026, 1, 10, 12, 0, 0, 0, time.UTC)
	decision, err := engine.Evaluate(context.Background(), saturday)
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	if decision.Outcome != domain.OutcomeDeny {
		t.Errorf("Expected deny on saturday, got %s", decision.Outcome)
	}

	monday := request("10.0.0.1", "10.0.0.2", domain.ProtocolTCP, 80)
	monday.Timestamp = time.Date(2026, 1, 12, 12, 0, 0, 0, time.UTC)
	decision, err = engine.Evaluate(context.Background(), monday)
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	if decision.Outcome != domain.OutcomeAllow {
		t.Errorf("Expected allow on monday, got %s", decision.Outcome)
	}
}

func TestEvaluateValidityBounds(t *testing.T) {
	engine, rules, _, _ := newTestEngine(t)

	from := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	until := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)
	mustCreate(t, rules, &domain.CreateAccessRuleRequest{
		Priority: 10, Action: domain.ActionAllow,
		SourceNet: "0.0.0.0/0", DestNet: "0.0.0.0/0", Protocol: domain.ProtocolAll,
		ValidFrom: &from, ValidUntil: &until,
	})

	tests := []struct {
		name string
		at   time.Time
		want domain.Outcome
	}{
		{"before window", from.Add(-time.Hour), domain.OutcomeDeny},
		{"at start", from, domain.OutcomeAllow},
		{"inside", from.AddDate(0, 0, 15), domain.OutcomeAllow},
		{"at end", until, domain.OutcomeDeny},
		{"after window", until.Add(time.Hour), domain.OutcomeDeny},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := request("10.0.0.1", "10.0.0.2", domain.ProtocolTCP, 80)
			req.Timestamp = tt.at
			decision, err := engine.Evaluate(context.Background(), req)
			if err != nil {
				t.Fatalf("Evaluate failed: %v", err)
			}
			if decision.Outcome != tt.want {
				t.Errorf("Expected %s, got %s", tt.want, decision.Outcome)
			}
		})
	}
}

func TestLoadSkipsMalformedRuleAndEmitsEvent(t *testing.T) {
	st := memory.New()
	t.Cleanup(func() { st.Close() })

	// Rules written by an older build can carry predicates the current
	// parser rejects. They must be skipped, not guessed at.
	now := time.Now()
	bad := &domain.AccessRule{
		ID: uuid.New().String(), Priority: 1, Seq: 1, Action: domain.ActionAllow,
		SourceNet: "not-a-cidr", DestNet: "0.0.0.0/0", Protocol: domain.ProtocolAll,
		Enabled: true, CreatedAt: now, UpdatedAt: now,
	}
	if err := st.CreateAccessRule(context.Background(), bad); err != nil {
		t.Fatalf("Failed to seed rule: %v", err)
	}

	sink := &captureSink{}
	rules := NewStore(st, sink)
	if err := rules.Load(context.Background()); err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	engine := NewEngine(rules, st, sink)

	decision, err := engine.Evaluate(context.Background(), request("10.0.0.1", "10.0.0.2", domain.ProtocolTCP, 80))
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	if decision.Outcome != domain.OutcomeDeny {
		t.Errorf("Expected malformed rule to be skipped, got %s", decision.Outcome)
	}
	if len(sink.byType(domain.EventRuleMalformed)) == 0 {
		t.Error("Expected a rule.malformed event")
	}
}

func TestEvaluateEmitsDenyEvents(t *testing.T) {
	engine, rules, _, sink := newTestEngine(t)

	deny := mustCreate(t, rules, &domain.CreateAccessRuleRequest{
		Priority: 10, Action: domain.ActionDeny,
		SourceNet: "10.0.0.0/8", DestNet: "0.0.0.0/0", Protocol: domain.ProtocolAll,
	})

	if _, err := engine.Evaluate(context.Background(), request("10.1.1.1", "10.2.2.2", domain.ProtocolTCP, 80)); err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	if _, err := engine.Evaluate(context.Background(), request("172.16.0.1", "10.2.2.2", domain.ProtocolTCP, 80)); err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}

	denied := sink.byType(domain.EventACLDenied)
	if len(denied) != 1 {
		t.Fatalf("Expected 1 acl.denied event, got %d", len(denied))
	}
	if denied[0].RuleID != deny.ID {
		t.Errorf("Expected deny event to carry rule %s, got %s", deny.ID, denied[0].RuleID)
	}
	if len(sink.byType(domain.EventACLDefaultDeny)) != 1 {
		t.Error("Expected 1 acl.default_deny event")
	}
}

func TestTestDoesNotCountOrEmit(t *testing.T) {
	engine, rules, _, sink := newTestEngine(t)

	rule := mustCreate(t, rules, &domain.CreateAccessRuleRequest{
		Priority: 10, Action: domain.ActionAllow,
		SourceNet: "0.0.0.0/0", DestNet: "0.0.0.0/0", Protocol: domain.ProtocolAll,
	})

	if _, err := engine.Test(request("10.0.0.1", "10.0.0.2", domain.ProtocolTCP, 80)); err != nil {
		t.Fatalf("Test failed: %v", err)
	}
	if _, err := engine.Test(request("172.16.0.1", "10.0.0.2", domain.ProtocolUDP, 80)); err != nil {
		t.Fatalf("Test failed: %v", err)
	}

	got, err := rules.Get(rule.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.MatchCount != 0 {
		t.Errorf("Expected dry-run to leave match count at 0, got %d", got.MatchCount)
	}
	if len(sink.byType(domain.EventACLDenied)) != 0 || len(sink.byType(domain.EventACLDefaultDeny)) != 0 {
		t.Error("Expected dry-run to emit no events")
	}
}

func TestEvaluateCountsMatches(t *testing.T) {
	engine, rules, _, _ := newTestEngine(t)

	rule := mustCreate(t, rules, &domain.CreateAccessRuleRequest{
		Priority: 10, Action: domain.ActionAllow,
		SourceNet: "0.0.0.0/0", DestNet: "0.0.0.0/0", Protocol: domain.ProtocolAll,
	})

	for i := 0; i < 3; i++ {
		if _, err := engine.Evaluate(context.Background(), request("10.0.0.1", "10.0.0.2", domain.ProtocolTCP, 80)); err != nil {
			t.Fatalf("Evaluate failed: %v", err)
		}
	}

	got, err := rules.Get(rule.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.MatchCount != 3 {
		t.Errorf("Expected match count 3, got %d", got.MatchCount)
	}
}

func TestEvaluateRejectsInvalidRequest(t *testing.T) {
	engine, _, _, _ := newTestEngine(t)

	if _, err := engine.Evaluate(context.Background(), request("not-an-ip", "10.0.0.2", domain.ProtocolTCP, 80)); err == nil {
		t.Error("Expected error for invalid source IP")
	}
	if _, err := engine.Evaluate(context.Background(), request("10.0.0.1", "10.0.0.2", "gopher", 80)); err == nil {
		t.Error("Expected error for invalid protocol")
	}
}

// Mirrors a contractor-access setup: business-hours SSH for one subnet,
// an always-on block for a quarantined host, and a broad HTTPS allowance.
func TestEvaluateLayeredPolicy(t *testing.T) {
	engine, rules, _, _ := newTestEngine(t)

	mustCreate(t, rules, &domain.CreateAccessRuleRequest{
		Priority: 5, Action: domain.ActionDeny,
		SourceNet: "10.0.0.66/32", DestNet: "0.0.0.0/0", Protocol: domain.ProtocolAll,
	})
	mustCreate(t, rules, &domain.CreateAccessRuleRequest{
		Priority: 10, Action: domain.ActionAllow,
		SourceNet: "10.0.0.0/24", DestNet: "10.1.0.0/24",
		Protocol: domain.ProtocolTCP, DestPort: 22,
		DaysOfWeek: []string{"monday", "tuesday", "wednesday", "thursday", "friday"},
		TimeStart:  "09:00", TimeEnd: "17:00",
	})
	mustCreate(t, rules, &domain.CreateAccessRuleRequest{
		Priority: 50, Action: domain.ActionAllow,
		SourceNet: "10.0.0.0/16", DestNet: "0.0.0.0/0",
		Protocol: domain.ProtocolTCP, DestPort: 443,
	})

	// Wednesday 2026-01-07 10:00 UTC.
	businessHours := time.Date(2026, 1, 7, 10, 0, 0, 0, time.UTC)
	// Saturday 2026-01-10 10:00 UTC.
	weekend := time.Date(2026, 1, 10, 10, 0, 0, 0, time.UTC)

	tests := []struct {
		name string
		req  *domain.ConnectionRequest
		at   time.Time
		want domain.Outcome
	}{
		{"ssh during business hours", request("10.0.0.5", "10.1.0.9", domain.ProtocolTCP, 22), businessHours, domain.OutcomeAllow},
		{"ssh on the weekend", request("10.0.0.5", "10.1.0.9", domain.ProtocolTCP, 22), weekend, domain.OutcomeDeny},
		{"quarantined host blocked even for https", request("10.0.0.66", "10.1.0.9", domain.ProtocolTCP, 443), businessHours, domain.OutcomeDeny},
		{"https any time", request("10.0.3.7", "8.8.8.8", domain.ProtocolTCP, 443), weekend, domain.OutcomeAllow},
		{"unlisted port falls to default deny", request("10.0.0.5", "10.1.0.9", domain.ProtocolTCP, 3306), businessHours, domain.OutcomeDeny},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.req.Timestamp = tt.at
			decision, err := engine.Evaluate(context.Background(), tt.req)
			if err != nil {
				t.Fatalf("Evaluate failed: %v", err)
			}
			if decision.Outcome != tt.want {
				t.Errorf("Expected %s, got %s", tt.want, decision.Outcome)
			}
		})
	}
}

func TestRuleStoreUpdateReordersSnapshot(t *testing.T) {
	engine, rules, _, _ := newTestEngine(t)

	allow := mustCreate(t, rules, &domain.CreateAccessRuleRequest{
		Priority: 10, Action: domain.ActionAllow,
		SourceNet: "0.0.0.0/0", DestNet: "0.0.0.0/0", Protocol: domain.ProtocolAll,
	})
	deny := mustCreate(t, rules, &domain.CreateAccessRuleRequest{
		Priority: 20, Action: domain.ActionDeny,
		SourceNet: "0.0.0.0/0", DestNet: "0.0.0.0/0", Protocol: domain.ProtocolAll,
	})

	// Move the deny ahead of the allow.
	newPriority := 5
	if _, err := rules.Update(context.Background(), deny.ID, &domain.UpdateAccessRuleRequest{Priority: &newPriority}); err != nil {
		t.Fatalf("Update failed: %v", err)
	}

	decision, err := engine.Evaluate(context.Background(), request("10.0.0.1", "10.0.0.2", domain.ProtocolTCP, 80))
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	if decision.Outcome != domain.OutcomeDeny {
		t.Errorf("Expected reprioritized deny to win, got %s", decision.Outcome)
	}

	// Removing it restores the allow.
	if err := rules.Delete(context.Background(), deny.ID); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	decision, err = engine.Evaluate(context.Background(), request("10.0.0.1", "10.0.0.2", domain.ProtocolTCP, 80))
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	if decision.Outcome != domain.OutcomeAllow || decision.MatchedRule.ID != allow.ID {
		t.Error("Expected the allow rule after deleting the deny")
	}
}

func TestRuleStoreSetEnabled(t *testing.T) {
	engine, rules, _, _ := newTestEngine(t)

	rule := mustCreate(t, rules, &domain.CreateAccessRuleRequest{
		Priority: 10, Action: domain.ActionAllow,
		SourceNet: "0.0.0.0/0", DestNet: "0.0.0.0/0", Protocol: domain.ProtocolAll,
	})

	if _, err := rules.SetEnabled(context.Background(), rule.ID, false); err != nil {
		t.Fatalf("SetEnabled failed: %v", err)
	}
	decision, err := engine.Evaluate(context.Background(), request("10.0.0.1", "10.0.0.2", domain.ProtocolTCP, 80))
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	if decision.Outcome != domain.OutcomeDeny {
		t.Errorf("Expected deny while disabled, got %s", decision.Outcome)
	}

	if _, err := rules.SetEnabled(context.Background(), rule.ID, true); err != nil {
		t.Fatalf("SetEnabled failed: %v", err)
	}
	decision, err = engine.Evaluate(context.Background(), request("10.0.0.1", "10.0.0.2", domain.ProtocolTCP, 80))
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	if decision.Outcome != domain.OutcomeAllow {
		t.Errorf("Expected allow after re-enable, got %s", decision.Outcome)
	}
}
