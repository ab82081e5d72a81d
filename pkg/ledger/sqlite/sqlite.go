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

// Package sqlite provides a SQLite ledger backend for single-node deployments.
// PolicyState survives restarts.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/tombee/switchyard/pkg/ledger"
)

// Compile-time interface assertions.
var (
	_ ledger.Store       = (*Backend)(nil)
	_ ledger.EventLister = (*Backend)(nil)
	_ ledger.Backend     = (*Backend)(nil)
)

// Backend is a SQLite ledger.
type Backend struct {
	db   *sql.DB
	seed ledger.PolicyState
	now  func() time.Time
}

// Config contains SQLite connection configuration.
type Config struct {
	// Path is the database file path. Parent directories are created.
	Path string

	// WAL enables Write-Ahead Logging mode for concurrent reads.
	WAL bool

	// Seed becomes the PolicyState when none has been stored yet.
	Seed ledger.PolicyState
}

// New opens (or creates) the database and runs migrations.
func New(cfg Config) (*Backend, error) {
	if cfg.Path == "" {
		return nil, errors.New("sqlite: path is required")
	}
	if cfg.Path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o700); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite serializes writes, so only 1 connection for writes
	db.SetMaxOpenConns(1)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	b := &Backend{db: db, seed: cfg.Seed.Clone(), now: time.Now}

	if err := b.configurePragmas(ctx, cfg.WAL); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to configure pragmas: %w", err)
	}

	if err := b.migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return b, nil
}

// configurePragmas sets SQLite configuration options.
func (b *Backend) configurePragmas(ctx context.Context, enableWAL bool) error {
	pragmas := []string{
		"PRAGMA busy_timeout=5000",  // 5 second timeout for lock contention
		"PRAGMA synchronous=NORMAL", // Balance between performance and durability
	}

	if enableWAL {
		pragmas = append(pragmas, "PRAGMA journal_mode=WAL")
	}

	for _, pragma := range pragmas {
		if _, err := b.db.ExecContext(ctx, pragma); err != nil {
			return fmt.Errorf("failed to execute %s: %w", pragma, err)
		}
	}

	return nil
}

// migrate runs database migrations.
func (b *Backend) migrate(ctx context.Context) error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS attempts (
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			id TEXT NOT NULL UNIQUE,
			route_id TEXT,
			agent_type TEXT NOT NULL,
			provider TEXT NOT NULL,
			model TEXT,
			task_type TEXT NOT NULL,
			outcome TEXT NOT NULL,
			success INTEGER NOT NULL,
			reward REAL NOT NULL,
			latency_ms INTEGER NOT NULL,
			attempt_latency_ms INTEGER NOT NULL DEFAULT 0,
			meta TEXT,
			ts_unix_ms INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_attempts_provider_ts ON attempts(provider, ts_unix_ms)`,
		`CREATE INDEX IF NOT EXISTS idx_attempts_route_id ON attempts(route_id)`,
		`CREATE TABLE IF NOT EXISTS policy_state (
			id INTEGER PRIMARY KEY CHECK (id = 1),
			provider_priority TEXT NOT NULL,
			model_prefs TEXT NOT NULL,
			updated_at TEXT NOT NULL
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

	metaJSON, err := marshalMeta(rec.Meta)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO attempts (id, route_id, agent_type, provider, model, task_type,
			outcome, success, reward, latency_ms, attempt_latency_ms, meta, ts_unix_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err = b.db.ExecContext(ctx, query,
		rec.ID, nullString(rec.RouteID), rec.AgentType, rec.Provider, nullString(rec.Model), rec.TaskType,
		string(rec.Outcome), boolToInt(rec.Success), rec.Reward, rec.LatencyMS, rec.AttemptLatencyMS, metaJSON,
		rec.Timestamp.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert attempt: %w", err)
	}
	return nil
}

// SummaryByProvider aggregates records inside the window.
func (b *Backend) SummaryByProvider(ctx context.Context, window time.Duration) (map[string]ledger.ProviderHealthSummary, error) {
	var since int64
	if s := ledger.Since(b.now(), window); !s.IsZero() {
		since = s.UnixMilli()
	}

	query := `
		SELECT provider, COUNT(*), COALESCE(SUM(success), 0), COALESCE(AVG(attempt_latency_ms), 0)
		FROM attempts
		WHERE agent_type <> ? AND outcome <> ? AND ts_unix_ms >= ?
		GROUP BY provider
	`
	rows, err := b.db.QueryContext(ctx, query, ledger.AgentTypeFinOps, string(ledger.OutcomeCancelled), since)
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
	if filter.RouteID != "" {
		where = append(where, "route_id = ?")
		args = append(args, filter.RouteID)
	}
	if filter.Provider != "" {
		where = append(where, "provider = ?")
		args = append(args, filter.Provider)
	}
	if filter.AgentType != "" {
		where = append(where, "agent_type = ?")
		args = append(args, filter.AgentType)
	}

	query := `SELECT seq, id, route_id, agent_type, provider, model, task_type, outcome,
		success, reward, latency_ms, attempt_latency_ms, meta, ts_unix_ms FROM attempts`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY seq DESC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := b.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list attempts: %w", err)
	}
	defer rows.Close()

	var out []ledger.AttemptRecord
	for rows.Next() {
		var rec ledger.AttemptRecord
		var routeID, model, meta sql.NullString
		var outcome string
		var success int
		var tsMS int64
		if err := rows.Scan(&rec.Seq, &rec.ID, &routeID, &rec.AgentType, &rec.Provider, &model,
			&rec.TaskType, &outcome, &success, &rec.Reward, &rec.LatencyMS, &rec.AttemptLatencyMS, &meta, &tsMS); err != nil {
			return nil, fmt.Errorf("failed to scan attempt: %w", err)
		}
		rec.RouteID = routeID.String
		rec.Model = model.String
		rec.Outcome = ledger.Outcome(outcome)
		rec.Success = success != 0
		rec.Timestamp = time.UnixMilli(tsMS).UTC()
		if meta.Valid && meta.String != "" {
			if err := json.Unmarshal([]byte(meta.String), &rec.Meta); err != nil {
				return nil, fmt.Errorf("failed to unmarshal meta: %w", err)
			}
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Rows were read newest first so LIMIT keeps the most recent.
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

// GetPolicyState returns the stored state, writing the seed on first use.
func (b *Backend) GetPolicyState(ctx context.Context) (ledger.PolicyState, error) {
	state, found, err := b.loadPolicy(ctx, b.db)
	if err != nil {
		return ledger.PolicyState{}, err
	}
	if found {
		return state, nil
	}
	return b.SetPolicyState(ctx, ledger.PolicyUpdate{})
}

// SetPolicyState merges u into the stored state inside one transaction.
func (b *Backend) SetPolicyState(ctx context.Context, u ledger.PolicyUpdate) (ledger.PolicyState, error) {
	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return ledger.PolicyState{}, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	current, found, err := b.loadPolicy(ctx, tx)
	if err != nil {
		return ledger.PolicyState{}, err
	}
	if !found {
		current = ledger.Seed(b.seed, b.now())
	}
	next := current.Merge(u, b.now().UTC())

	prio, err := json.Marshal(next.ProviderPriority)
	if err != nil {
		return ledger.PolicyState{}, fmt.Errorf("failed to marshal provider_priority: %w", err)
	}
	prefs, err := json.Marshal(next.ModelPrefs)
	if err != nil {
		return ledger.PolicyState{}, fmt.Errorf("failed to marshal model_prefs: %w", err)
	}

	query := `
		INSERT INTO policy_state (id, provider_priority, model_prefs, updated_at)
		VALUES (1, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			provider_priority = excluded.provider_priority,
			model_prefs = excluded.model_prefs,
			updated_at = excluded.updated_at
	`
	if _, err := tx.ExecContext(ctx, query, string(prio), string(prefs), next.UpdatedAt.Format(time.RFC3339Nano)); err != nil {
		return ledger.PolicyState{}, fmt.Errorf("failed to store policy state: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return ledger.PolicyState{}, fmt.Errorf("failed to commit policy state: %w", err)
	}
	return next, nil
}

type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (b *Backend) loadPolicy(ctx context.Context, q querier) (ledger.PolicyState, bool, error) {
	var prio, prefs, updated string
	err := q.QueryRowContext(ctx,
		`SELECT provider_priority, model_prefs, updated_at FROM policy_state WHERE id = 1`,
	).Scan(&prio, &prefs, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return ledger.PolicyState{}, false, nil
	}
	if err != nil {
		return ledger.PolicyState{}, false, fmt.Errorf("failed to load policy state: %w", err)
	}

	var state ledger.PolicyState
	if err := json.Unmarshal([]byte(prio), &state.ProviderPriority); err != nil {
		return ledger.PolicyState{}, false, fmt.Errorf("failed to unmarshal provider_priority: %w", err)
	}
	if err := json.Unmarshal([]byte(prefs), &state.ModelPrefs); err != nil {
		return ledger.PolicyState{}, false, fmt.Errorf("failed to unmarshal model_prefs: %w", err)
	}
	if state.ModelPrefs == nil {
		state.ModelPrefs = map[string]map[string]string{}
	}
	state.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updated)
	return state, true, nil
}

// Close closes the database connection.
func (b *Backend) Close() error {
	return b.db.Close()
}

func marshalMeta(meta map[string]any) (sql.NullString, error) {
	if len(meta) == 0 {
		return sql.NullString{}, nil
	}
	data, err := json.Marshal(meta)
	if err != nil {
		return sql.NullString{}, fmt.Errorf("failed to marshal meta: %w", err)
	}
	return sql.NullString{String: string(data), Valid: true}, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
