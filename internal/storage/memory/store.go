package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/bcnelson/ztna-hub/internal/domain"
)

// Store is an in-memory implementation of the storage interface for testing.
type Store struct {
	mu sync.RWMutex

	apiKeys map[string]*domain.APIKey
	rules   map[string]*domain.AccessRule
	tunnels map[string]*domain.Tunnel
	events  []*domain.Event
}

// New creates a new in-memory store.
func New() *Store {
	return &Store{
		apiKeys: make(map[string]*domain.APIKey),
		rules:   make(map[string]*domain.AccessRule),
		tunnels: make(map[string]*domain.Tunnel),
	}
}

func (s *Store) Close() error { return nil }

// ============================================
// API Keys
// ============================================

func (s *Store) CreateAPIKey(ctx context.Context, key *domain.APIKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.apiKeys[key.ID]; exists {
		return domain.ErrAlreadyExists
	}
	s.apiKeys[key.ID] = key
	return nil
}

func (s *Store) GetAPIKeyByHash(ctx context.Context, keyHash string) (*domain.APIKey, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, key := range s.apiKeys {
		if key.KeyHash == keyHash {
			return key, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (s *Store) ListAPIKeys(ctx context.Context) ([]*domain.APIKey, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	keys := make([]*domain.APIKey, 0, len(s.apiKeys))
	for _, key := range s.apiKeys {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].CreatedAt.After(keys[j].CreatedAt) })
	return keys, nil
}

func (s *Store) DeleteAPIKey(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.apiKeys[id]; !exists {
		return domain.ErrNotFound
	}
	delete(s.apiKeys, id)
	return nil
}

func (s *Store) UpdateAPIKeyLastUsed(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key, exists := s.apiKeys[id]
	if !exists {
		return domain.ErrNotFound
	}
	now := time.Now()
	key.LastUsedAt = &now
	return nil
}

func (s *Store) CountAPIKeys(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.apiKeys), nil
}

// ============================================
// Access Rules
// ============================================

func copyRule(rule *domain.AccessRule) *domain.AccessRule {
	c := *rule
	if rule.DaysOfWeek != nil {
		c.DaysOfWeek = append([]string(nil), rule.DaysOfWeek...)
	}
	return &c
}

func (s *Store) CreateAccessRule(ctx context.Context, rule *domain.AccessRule) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.rules[rule.ID]; exists {
		return domain.ErrAlreadyExists
	}
	s.rules[rule.ID] = copyRule(rule)
	return nil
}

func (s *Store) GetAccessRule(ctx context.Context, id string) (*domain.AccessRule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rule, exists := s.rules[id]
	if !exists {
		return nil, domain.ErrNotFound
	}
	return copyRule(rule), nil
}

func (s *Store) ListAccessRules(ctx context.Context) ([]*domain.AccessRule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rules := make([]*domain.AccessRule, 0, len(s.rules))
	for _, rule := range s.rules {
		rules = append(rules, copyRule(rule))
	}
	sort.Slice(rules, func(i, j int) bool {
		if rules[i].Priority != rules[j].Priority {
			return rules[i].Priority < rules[j].Priority
		}
		return rules[i].Seq < rules[j].Seq
	})
	return rules, nil
}

func (s *Store) UpdateAccessRule(ctx context.Context, rule *domain.AccessRule) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.rules[rule.ID]; !exists {
		return domain.ErrNotFound
	}
	s.rules[rule.ID] = copyRule(rule)
	return nil
}

func (s *Store) DeleteAccessRule(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.rules[id]; !exists {
		return domain.ErrNotFound
	}
	delete(s.rules, id)
	return nil
}

func (s *Store) IncrementRuleMatchCount(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rule, exists := s.rules[id]
	if !exists {
		return domain.ErrNotFound
	}
	rule.MatchCount++
	return nil
}

// ============================================
// Tunnels
// ============================================

func copyTunnel(t *domain.Tunnel) *domain.Tunnel {
	c := *t
	return &c
}

func (s *Store) CreateTunnel(ctx context.Context, tunnel *domain.Tunnel) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.tunnels[tunnel.ID]; exists {
		return domain.ErrAlreadyExists
	}
	s.tunnels[tunnel.ID] = copyTunnel(tunnel)
	return nil
}

func (s *Store) GetTunnel(ctx context.Context, id string) (*domain.Tunnel, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	tunnel, exists := s.tunnels[id]
	if !exists {
		return nil, domain.ErrNotFound
	}
	return copyTunnel(tunnel), nil
}

func (s *Store) ListTunnels(ctx context.Context, filter domain.TunnelFilter) ([]*domain.Tunnel, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	tunnels := make([]*domain.Tunnel, 0)
	for _, tunnel := range s.tunnels {
		if filter.Matches(tunnel) {
			tunnels = append(tunnels, copyTunnel(tunnel))
		}
	}
	sort.Slice(tunnels, func(i, j int) bool { return tunnels[i].CreatedAt.Before(tunnels[j].CreatedAt) })
	return tunnels, nil
}

func (s *Store) ListOpenTunnels(ctx context.Context) ([]*domain.Tunnel, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	tunnels := make([]*domain.Tunnel, 0)
	for _, tunnel := range s.tunnels {
		if tunnel.Open() {
			tunnels = append(tunnels, copyTunnel(tunnel))
		}
	}
	sort.Slice(tunnels, func(i, j int) bool { return tunnels[i].CreatedAt.Before(tunnels[j].CreatedAt) })
	return tunnels, nil
}

func (s *Store) UpdateTunnel(ctx context.Context, tunnel *domain.Tunnel) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.tunnels[tunnel.ID]; !exists {
		return domain.ErrNotFound
	}
	s.tunnels[tunnel.ID] = copyTunnel(tunnel)
	return nil
}

// ============================================
// Events
// ============================================

func (s *Store) CreateEvent(ctx context.Context, event *domain.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
	return nil
}

func (s *Store) ListEvents(ctx context.Context, filter domain.EventFilter) ([]*domain.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	matched := make([]*domain.Event, 0)
	// Newest first.
	for i := len(s.events) - 1; i >= 0; i-- {
		e := s.events[i]
		if filter.Type != "" && e.Type != filter.Type {
			continue
		}
		if filter.TunnelID != "" && e.TunnelID != filter.TunnelID {
			continue
		}
		matched = append(matched, e)
	}

	if filter.Offset > 0 {
		if filter.Offset >= len(matched) {
			return []*domain.Event{}, nil
		}
		matched = matched[filter.Offset:]
	}
	if filter.Limit > 0 && filter.Limit < len(matched) {
		matched = matched[:filter.Limit]
	}
	return matched, nil
}
