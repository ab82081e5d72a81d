// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package postgres provides a PostgreSQL ledger backend for deployments
// where several switchyard instances share one ledger.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/lib/pq"

	"github.com/tombee/switchyard/pkg/ledger"
)

// Compile-time interface assertions.
var (
	_ ledger.Store       = (*Backend)(nil)
	_ ledger.EventLister = (*Backend)(nil)
	_ ledger.Backend     = (*Backend)(nil)
)

// Backend is a PostgreSQL ledger.
type Backend struct {
	db   *sql.DB
	seed ledger.PolicyState
	now  func() time.Time
}

// Config contains PostgreSQL connection configuration.
type Config struct {
	// ConnectionString is the PostgreSQL connection string.
	ConnectionString string

	// MaxOpenConns is the maximum number of open connections.
	MaxOpenConns int

	// MaxIdleConns is the maximum number of idle connections.
	MaxIdleConns int

	// ConnMaxLifetime is the maximum connection lifetime.
	ConnMaxLifetime time.Duration

	// Seed becomes the PolicyState when none has been stored yet.
	Seed ledger.PolicyState
}

// New connects to PostgreSQL and runs migrations.
func New(cfg Config) (*Backend, error) {
	if cfg.ConnectionString == "" {
		return nil, errors.New("postgres: connection string is required")
	}

	db, err := sql.Open("postgres", cfg.ConnectionString)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	b := NewWithDB(db, cfg.Seed)
	if err := b.Migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	return b, nil
}

// NewWithDB wraps an existing connection. Migrate is not run.
func NewWithDB(db *sql.DB, seed ledger.PolicyState) *Backend {
	return &Backend{db: db, seed: seed.Clone(), now: time.Now}
}

// Migrate creates the ledger tables.
func (b *Backend) Migrate(ctx context.Context) error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS attempts (
			seq BIGSERIAL PRIMARY KEY,
			id TEXT NOT NULL UNIQUE,
			route_id TEXT,
			agent_type TEXT NOT NULL,
			provider TEXT NOT NULL,
			model TEXT,
			task_type TEXT NOT NULL,
			outcome TEXT NOT NULL,
			success BOOLEAN NOT NULL,
			reward DOUBLE PRECISION NOT NULL,
			latency_ms BIGINT NOT NULL,
			attempt_latency_ms BIGINT NOT NULL DEFAULT 0,
			meta JSONB,
			ts TIMESTAMPTZ NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_attempts_provider_ts ON attempts(provider, ts)`,
		`CREATE INDEX IF NOT EXISTS idx_attempts_route_id ON attempts(route_id)`,
		`CREATE TABLE IF NOT EXISTS policy_state (
			id SMALLINT PRIMARY KEY CHECK (id = 1),
			provider_priority TEXT[] NOT NULL,
			model_prefs JSONB NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL
		)`,
	}

	for _, migration := range migrations {
		if _, err := b.db.ExecContext(ctx, migration); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}
	return nil
}

// InsertEvent appends a record.
func (b *Backend) InsertEvent(ctx context.Context, rec ledger.AttemptRecord) error {
	rec = ledger.Normalize(rec, b.now())

	var meta sql.NullString
	if len(rec.Meta) > 0 {
		data, err := json.Marshal(rec.Meta)
		if err != nil {
			return fmt.Errorf("failed to marshal meta: %w", err)
		}
		meta = sql.NullString{String: string(data), Valid: true}
	}

	query := `
		INSERT INTO attempts (id, route_id, agent_type, provider, model, task_type,
			outcome, success, reward, latency_ms, attempt_latency_ms, meta, ts)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`
	_, err := b.db.ExecContext(ctx, query,
		rec.ID, nullString(rec.RouteID), rec.AgentType, rec.Provider, nullString(rec.Model), rec.TaskType,
		string(rec.Outcome), rec.Success, rec.Reward, rec.LatencyMS, rec.AttemptLatencyMS, meta, rec.Timestamp,
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return fmt.Errorf("attempt %s already recorded: %w", rec.ID, err)
		}
		return fmt.Errorf("failed to insert attempt: %w", err)
	}
	return nil
}

// SummaryByProvider aggregates records inside the window.
func (b *Backend) SummaryByProvider(ctx context.Context, window time.Duration) (map[string]ledger.ProviderHealthSummary, error) {
	query := `
		SELECT provider, COUNT(*), COUNT(*) FILTER (WHERE success), COALESCE(AVG(attempt_latency_ms), 0)
		FROM attempts
		WHERE agent_type <> $1 AND outcome <> $2`
	args := []any{ledger.AgentTypeFinOps, string(ledger.OutcomeCancelled)}
	if since := ledger.Since(b.now(), window); !since.IsZero() {
		query += ` AND ts >= $3`
		args = append(args, since)
	}
	query += ` GROUP BY provider`

	rows, err := b.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to summarize attempts: %w", err)
	}
	defer rows.Close()

	out := make(map[string]ledger.ProviderHealthSummary)
	for rows.Next() {
		var s ledger.ProviderHealthSummary
		if err := rows.Scan(&s.Provider, &s.Total, &s.Success, &s.AvgLatencyMS); err != nil {
			return nil, fmt.Errorf("failed to scan summary: %w", err)
		}
		out[s.Provider] = s
	}
	return out, rows.Err()
}

// ListEvents returns matching records in insertion order.
func (b *Backend) ListEvents(ctx context.Context, filter ledger.EventFilter) ([]ledger.AttemptRecord, error) {
	var where []string
	var args []any
	add := func(clause string, arg any) {
		args = append(args, arg)
		where = append(where, clause+" = $"+strconv.Itoa(len(args)))
	}
	if filter.RouteID != "" {
		add("route_id", filter.RouteID)
	}
	if filter.Provider != "" {
		add("provider", filter.Provider)
	}
	if filter.AgentType != "" {
		add("agent_type", filter.AgentType)
	}

	inner := `SELECT seq, id, route_id, agent_type, provider, model, task_type, outcome,
		success, reward, latency_ms, attempt_latency_ms, meta, ts FROM attempts`
	if len(where) > 0 {
		inner += " WHERE " + strings.Join(where, " AND ")
	}
	inner += " ORDER BY seq DESC"
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		inner += " LIMIT $" + strconv.Itoa(len(args))
	}
	query := "SELECT * FROM (" + inner + ") recent ORDER BY seq ASC"

	rows, err := b.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list attempts: %w", err)
	}
	defer rows.Close()

	var out []ledger.AttemptRecord
	for rows.Next() {
		var rec ledger.AttemptRecord
		var routeID, model sql.NullString
		var meta []byte
		var outcome string
		if err := rows.Scan(&rec.Seq, &rec.ID, &routeID, &rec.AgentType, &rec.Provider, &model,
			&rec.TaskType, &outcome, &rec.Success, &rec.Reward, &rec.LatencyMS, &rec.AttemptLatencyMS, &meta, &rec.Timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan attempt: %w", err)
		}
		rec.RouteID = routeID.String
		rec.Model = model.String
		rec.Outcome = ledger.Outcome(outcome)
		rec.Timestamp = rec.Timestamp.UTC()
		if len(meta) > 0 {
			if err := json.Unmarshal(meta, &rec.Meta); err != nil {
				return nil, fmt.Errorf("failed to unmarshal meta: %w", err)
			}
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// GetPolicyState returns the stored state, writing the seed on first use.
func (b *Backend) GetPolicyState(ctx context.Context) (ledger.PolicyState, error) {
	row := b.db.QueryRowContext(ctx,
		`SELECT provider_priority, model_prefs, updated_at FROM policy_state WHERE id = 1`)
	state, err := scanPolicy(row)
	if errors.Is(err, sql.ErrNoRows) {
		return b.SetPolicyState(ctx, ledger.PolicyUpdate{})
	}
	return state, err
}

// SetPolicyState merges u into the stored state. The row is locked for the
// duration of the transaction so concurrent writers serialize.
func (b *Backend) SetPolicyState(ctx context.Context, u ledger.PolicyUpdate) (ledger.PolicyState, error) {
	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return ledger.PolicyState{}, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	seed := ledger.Seed(b.seed, b.now())
	seedPrefs, err := json.Marshal(seed.ModelPrefs)
	if err != nil {
		return ledger.PolicyState{}, fmt.Errorf("failed to marshal model_prefs: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO policy_state (id, provider_priority, model_prefs, updated_at)
		VALUES (1, $1, $2, $3) ON CONFLICT (id) DO NOTHING`,
		pq.Array(seed.ProviderPriority), string(seedPrefs), seed.UpdatedAt,
	); err != nil {
		return ledger.PolicyState{}, fmt.Errorf("failed to seed policy state: %w", err)
	}

	current, err := scanPolicy(tx.QueryRowContext(ctx,
		`SELECT provider_priority, model_prefs, updated_at FROM policy_state WHERE id = 1 FOR UPDATE`))
	if err != nil {
		return ledger.PolicyState{}, err
	}

	next := current.Merge(u, b.now().UTC())
	prefs, err := json.Marshal(next.ModelPrefs)
	if err != nil {
		return ledger.PolicyState{}, fmt.Errorf("failed to marshal model_prefs: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE policy_state SET provider_priority = $1, model_prefs = $2, updated_at = $3 WHERE id = 1`,
		pq.Array(next.ProviderPriority), string(prefs), next.UpdatedAt,
	); err != nil {
		return ledger.PolicyState{}, fmt.Errorf("failed to store policy state: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return ledger.PolicyState{}, fmt.Errorf("failed to commit policy state: %w", err)
	}
	return next, nil
}

func scanPolicy(row *sql.Row) (ledger.PolicyState, error) {
	var state ledger.PolicyState
	var prefs []byte
	if err := row.Scan(pq.Array(&state.ProviderPriority), &prefs, &state.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ledger.PolicyState{}, err
		}
		return ledger.PolicyState{}, fmt.Errorf("failed to load policy state: %w", err)
	}
	if err := json.Unmarshal(prefs, &state.ModelPrefs); err != nil {
		return ledger.PolicyState{}, fmt.Errorf("failed to unmarshal model_prefs: %w", err)
	}
	if state.ModelPrefs == nil {
		state.ModelPrefs = map[string]map[string]string{}
	}
	state.UpdatedAt = state.UpdatedAt.UTC()
	return state, nil
}

// Close closes the database connection.
func (b *Backend) Close() error {
	return b.db.Close()
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
