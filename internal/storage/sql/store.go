package sql

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/bcnelson/ztna-hub/internal/domain"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	"github.com/pressly/goose/v3"
)

//go:embed migrations/*.sql
var embedMigrations embed.FS

// isUniqueViolation checks if an error is a UNIQUE constraint violation.
func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	errStr := err.Error()
	// SQLite
	if strings.Contains(errStr, "UNIQUE constraint failed") {
		return true
	}
	// PostgreSQL
	if strings.Contains(errStr, "duplicate key value violates unique constraint") {
		return true
	}
	return false
}

// wrapUniqueError converts UNIQUE violations to domain.ErrAlreadyExists.
func wrapUniqueError(err error) error {
	if isUniqueViolation(err) {
		return domain.ErrAlreadyExists
	}
	return err
}

// Store implements the storage.Storage interface using SQL.
type Store struct {
	db     *sqlx.DB
	driver string
}

// New creates a new SQL store.
func New(driver, dsn string) (*Store, error) {
	db, err := sqlx.Connect(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("connecting to database: %w", err)
	}

	// Run migrations
	goose.SetBaseFS(embedMigrations)
	if err := goose.SetDialect(driver); err != nil {
		return nil, fmt.Errorf("setting goose dialect: %w", err)
	}

	if err := goose.Up(db.DB, "migrations"); err != nil {
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return &Store{db: db, driver: driver}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// ============================================
// API Keys
// ============================================

func (s *Store) CreateAPIKey(ctx context.Context, key *domain.APIKey) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO api_keys (id, name, key_hash, key_prefix, created_at, last_used_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		key.ID, key.Name, key.KeyHash, key.KeyPrefix, key.CreatedAt, key.LastUsedAt)
	return wrapUniqueError(err)
}

func (s *Store) GetAPIKeyByHash(ctx context.Context, keyHash string) (*domain.APIKey, error) {
	var key domain.APIKey
	err := s.db.GetContext(ctx, &key,
		`SELECT id, name, key_hash, key_prefix, created_at, last_used_at FROM api_keys WHERE key_hash = $1`, keyHash)
	if err == sql.ErrNoRows {
		return nil, domain.ErrNotFound
	}
	return &key, err
}

func (s *Store) ListAPIKeys(ctx context.Context) ([]*domain.APIKey, error) {
	var keys []*domain.APIKey
	err := s.db.SelectContext(ctx, &keys,
		`SELECT id, name, key_hash, key_prefix, created_at, last_used_at FROM api_keys ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	return keys, nil
}

func (s *Store) DeleteAPIKey(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM api_keys WHERE id = $1`, id)
	if err != nil {
		return err
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (s *Store) UpdateAPIKeyLastUsed(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE api_keys SET last_used_at = $1 WHERE id = $2`, time.Now(), id)
	return err
}

func (s *Store) CountAPIKeys(ctx context.Context) (int, error) {
	var count int
	err := s.db.GetContext(ctx, &count, `SELECT COUNT(*) FROM api_keys`)
	return count, err
}

// ============================================
// Access Rules
// ============================================

// ruleRow adds the single-column form of DaysOfWeek for scanning.
type ruleRow struct {
	domain.AccessRule
	DaysCSV sql.NullString `db:"days_of_week"`
}

func (r *ruleRow) rule() *domain.AccessRule {
	rule := r.AccessRule
	rule.SetDaysCSV(r.DaysCSV.String)
	return &rule
}

const ruleColumns = `id, priority, seq, action, source_net, dest_net, protocol, dest_port,
	valid_from, valid_until, days_of_week, time_start, time_end, enabled, match_count,
	created_at, updated_at`

func (s *Store) CreateAccessRule(ctx context.Context, rule *domain.AccessRule) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO access_rules (`+ruleColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)`,
		rule.ID, rule.Priority, rule.Seq, rule.Action, rule.SourceNet, rule.DestNet,
		rule.Protocol, rule.DestPort, rule.ValidFrom, rule.ValidUntil, rule.DaysCSV(),
		rule.TimeStart, rule.TimeEnd, rule.Enabled, rule.MatchCount,
		rule.CreatedAt, rule.UpdatedAt)
	return wrapUniqueError(err)
}

func (s *Store) GetAccessRule(ctx context.Context, id string) (*domain.AccessRule, error) {
	var row ruleRow
	err := s.db.GetContext(ctx, &row,
		`SELECT `+ruleColumns+` FROM access_rules WHERE id = $1`, id)
	if err == sql.ErrNoRows {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return row.rule(), nil
}

func (s *Store) ListAccessRules(ctx context.Context) ([]*domain.AccessRule, error) {
	var rows []*ruleRow
	err := s.db.SelectContext(ctx, &rows,
		`SELECT `+ruleColumns+` FROM access_rules ORDER BY priority, seq`)
	if err != nil {
		return nil, err
	}
	rules := make([]*domain.AccessRule, 0, len(rows))
	for _, row := range rows {
		rules = append(rules, row.rule())
	}
	return rules, nil
}

func (s *Store) UpdateAccessRule(ctx context.Context, rule *domain.AccessRule) error {
	rule.UpdatedAt = time.Now()
	result, err := s.db.ExecContext(ctx,
		`UPDATE access_rules SET priority = $1, action = $2, source_net = $3, dest_net = $4,
		 protocol = $5, dest_port = $6, valid_from = $7, valid_until = $8, days_of_week = $9,
		 time_start = $10, time_end = $11, enabled = $12, updated_at = $13
		 WHERE id = $14`,
		rule.Priority, rule.Action, rule.SourceNet, rule.DestNet, rule.Protocol,
		rule.DestPort, rule.ValidFrom, rule.ValidUntil, rule.DaysCSV(),
		rule.TimeStart, rule.TimeEnd, rule.Enabled, rule.UpdatedAt, rule.ID)
	if err != nil {
		return err
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (s *Store) DeleteAccessRule(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM access_rules WHERE id = $1`, id)
	if err != nil {
		return err
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (s *Store) IncrementRuleMatchCount(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE access_rules SET match_count = match_count + 1 WHERE id = $1`, id)
	if err != nil {
		return err
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// ============================================
// Tunnels
// ============================================

const tunnelColumns = `id, node_id, class, local_port, remote_port, status, auto_reconnect,
	close_reason, last_error, reconnects, created_at, last_heartbeat_at, closed_at`

func (s *Store) CreateTunnel(ctx context.Context, tunnel *domain.Tunnel) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO tunnels (`+tunnelColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		tunnel.ID, tunnel.NodeID, tunnel.Class, tunnel.LocalPort, tunnel.RemotePort,
		tunnel.Status, tunnel.AutoReconnect, tunnel.CloseReason, tunnel.LastError,
		tunnel.Reconnects, tunnel.CreatedAt, tunnel.LastHeartbeatAt, tunnel.ClosedAt)
	return wrapUniqueError(err)
}

func (s *Store) GetTunnel(ctx context.Context, id string) (*domain.Tunnel, error) {
	var tunnel domain.Tunnel
	err := s.db.GetContext(ctx, &tunnel,
		`SELECT `+tunnelColumns+` FROM tunnels WHERE id = $1`, id)
	if err == sql.ErrNoRows {
		return nil, domain.ErrNotFound
	}
	return &tunnel, err
}

func (s *Store) ListTunnels(ctx context.Context, filter domain.TunnelFilter) ([]*domain.Tunnel, error) {
	query := `SELECT ` + tunnelColumns + ` FROM tunnels`
	var clauses []string
	var args []any
	if filter.NodeID != "" {
		args = append(args, filter.NodeID)
		clauses = append(clauses, fmt.Sprintf("node_id = $%d", len(args)))
	}
	if filter.Class != "" {
		args = append(args, filter.Class)
		clauses = append(clauses, fmt.Sprintf("class = $%d", len(args)))
	}
	if filter.Status != "" {
		args = append(args, filter.Status)
		clauses = append(clauses, fmt.Sprintf("status = $%d", len(args)))
	}
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY created_at"

	var tunnels []*domain.Tunnel
	if err := s.db.SelectContext(ctx, &tunnels, query, args...); err != nil {
		return nil, err
	}
	return tunnels, nil
}

func (s *Store) ListOpenTunnels(ctx context.Context) ([]*domain.Tunnel, error) {
	var tunnels []*domain.Tunnel
	err := s.db.SelectContext(ctx, &tunnels,
		`SELECT `+tunnelColumns+` FROM tunnels WHERE status != $1 ORDER BY created_at`,
		domain.StatusClosed)
	if err != nil {
		return nil, err
	}
	return tunnels, nil
}

func (s *Store) UpdateTunnel(ctx context.Context, tunnel *domain.Tunnel) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE tunnels SET remote_port = $1, status = $2, auto_reconnect = $3,
		 close_reason = $4, last_error = $5, reconnects = $6, last_heartbeat_at = $7,
		 closed_at = $8 WHERE id = $9`,
		tunnel.RemotePort, tunnel.Status, tunnel.AutoReconnect, tunnel.CloseReason,
		tunnel.LastError, tunnel.Reconnects, tunnel.LastHeartbeatAt, tunnel.ClosedAt,
		tunnel.ID)
	if err != nil {
		return err
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// ============================================
// Events
// ============================================

// eventRow adds the serialized form of Details for scanning.
type eventRow struct {
	domain.Event
	DetailsJSON sql.NullString `db:"details"`
}

func (r *eventRow) event() (*domain.Event, error) {
	event := r.Event
	if r.DetailsJSON.Valid && r.DetailsJSON.String != "" {
		if err := json.Unmarshal([]byte(r.DetailsJSON.String), &event.Details); err != nil {
			return nil, fmt.Errorf("decoding event details: %w", err)
		}
	}
	return &event, nil
}

func (s *Store) CreateEvent(ctx context.Context, event *domain.Event) error {
	var details string
	if len(event.Details) > 0 {
		encoded, err := json.Marshal(event.Details)
		if err != nil {
			return fmt.Errorf("encoding event details: %w", err)
		}
		details = string(encoded)
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO events (id, type, tunnel_id, rule_id, node_id, timestamp, details)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		event.ID, event.Type, event.TunnelID, event.RuleID, event.NodeID,
		event.Timestamp, details)
	return err
}

func (s *Store) ListEvents(ctx context.Context, filter domain.EventFilter) ([]*domain.Event, error) {
	query := `SELECT id, type, tunnel_id, rule_id, node_id, timestamp, details FROM events`
	var clauses []string
	var args []any
	if filter.Type != "" {
		args = append(args, filter.Type)
		clauses = append(clauses, fmt.Sprintf("type = $%d", len(args)))
	}
	if filter.TunnelID != "" {
		args = append(args, filter.TunnelID)
		clauses = append(clauses, fmt.Sprintf("tunnel_id = $%d", len(args)))
	}
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY timestamp DESC"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}
	if filter.Offset > 0 {
		query += fmt.Sprintf(" OFFSET %d", filter.Offset)
	}

	var rows []*eventRow
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, err
	}
	events := make([]*domain.Event, 0, len(rows))
	for _, row := range rows {
		event, err := row.event()
		if err != nil {
			return nil, err
		}
		events = append(events, event)
	}
	return events, nil
}
