package storage

import (
	"context"

	"github.com/bcnelson/ztna-hub/internal/domain"
)

// Storage defines the interface for the persistence layer.
// Implementations must be safe for concurrent use.
type Storage interface {
	// Close closes the storage connection.
	Close() error

	// API Keys
	CreateAPIKey(ctx context.Context, key *domain.APIKey) error
	GetAPIKeyByHash(ctx context.Context, keyHash string) (*domain.APIKey, error)
	ListAPIKeys(ctx context.Context) ([]*domain.APIKey, error)
	DeleteAPIKey(ctx context.Context, id string) error
	UpdateAPIKeyLastUsed(ctx context.Context, id string) error
	CountAPIKeys(ctx context.Context) (int, error)

	// Access Rules. ListAccessRules returns rules ordered by
	// (priority ASC, seq ASC) - the evaluation order.
	CreateAccessRule(ctx context.Context, rule *domain.AccessRule) error
	GetAccessRule(ctx context.Context, id string) (*domain.AccessRule, error)
	ListAccessRules(ctx context.Context) ([]*domain.AccessRule, error)
	UpdateAccessRule(ctx context.Context, rule *domain.AccessRule) error
	DeleteAccessRule(ctx context.Context, id string) error
	IncrementRuleMatchCount(ctx context.Context, id string) error

	// Tunnels. Closed tunnels are kept for the audit trail; ListOpenTunnels
	// returns only non-CLOSED records (used to re-derive port allocations
	// on restart).
	CreateTunnel(ctx context.Context, tunnel *domain.Tunnel) error
	GetTunnel(ctx context.Context, id string) (*domain.Tunnel, error)
	ListTunnels(ctx context.Context, filter domain.TunnelFilter) ([]*domain.Tunnel, error)
	ListOpenTunnels(ctx context.Context) ([]*domain.Tunnel, error)
	UpdateTunnel(ctx context.Context, tunnel *domain.Tunnel) error

	// Audit events (append-only).
	CreateEvent(ctx context.Context, event *domain.Event) error
	ListEvents(ctx context.Context, filter domain.EventFilter) ([]*domain.Event, error)
}
