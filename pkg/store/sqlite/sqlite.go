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

// Package sqlite provides a SQLite-backed execution store for single-node
// deployments.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/getnvoi/conveyor/pkg/errors"
	"github.com/getnvoi/conveyor/pkg/store"
)

// Compile-time interface assertion.
var _ store.Store = (*Store)(nil)

// Store is a SQLite execution store.
type Store struct {
	db *sql.DB
}

// Config contains SQLite connection configuration.
type Config struct {
	// Path is the database file path.
	Path string

	// WAL enables Write-Ahead Logging mode for concurrent reads.
	WAL bool
}

// New opens (or creates) the database, configures pragmas, and runs
// migrations.
func New(cfg Config) (*Store, error) {
	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite serializes writes, so a single connection avoids lock churn.
	db.SetMaxOpenConns(1)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	s := &Store{db: db}
	if err := s.configurePragmas(ctx, cfg.WAL); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to configure pragmas: %w", err)
	}
	if err := s.migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	return s, nil
}

// Close releases the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) configurePragmas(ctx context.Context, enableWAL bool) error {
	pragmas := []string{
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
		"PRAGMA auto_vacuum=INCREMENTAL",
		"PRAGMA synchronous=NORMAL",
	}
	if enableWAL {
		pragmas = append(pragmas, "PRAGMA journal_mode=WAL")
	}
	for _, pragma := range pragmas {
		if _, err := s.db.ExecContext(ctx, pragma); err != nil {
			return fmt.Errorf("failed to execute %s: %w", pragma, err)
		}
	}
	return nil
}

func (s *Store) migrate(ctx context.Context) error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS executions (
			id TEXT PRIMARY KEY,
			workflow_id TEXT NOT NULL,
			status TEXT NOT NULL,
			input TEXT,
			ctx TEXT,
			current_step TEXT,
			recover_to TEXT,
			halt TEXT,
			result TEXT,
			error TEXT,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL,
			completed_at TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_executions_status ON executions(status)`,
		`CREATE INDEX IF NOT EXISTS idx_executions_workflow ON executions(workflow_id)`,
		`CREATE INDEX IF NOT EXISTS idx_executions_created_at ON executions(created_at)`,
		`CREATE TABLE IF NOT EXISTS entries (
			execution_id TEXT NOT NULL,
			seq INTEGER NOT NULL,
			step_id TEXT NOT NULL,
			step_type TEXT,
			status TEXT NOT NULL,
			input TEXT,
			output TEXT,
			error TEXT,
			duration_ns INTEGER NOT NULL DEFAULT 0,
			timestamp TEXT NOT NULL,
			PRIMARY KEY (execution_id, seq),
			FOREIGN KEY (execution_id) REFERENCES executions(id) ON DELETE CASCADE
		)`,
		`CREATE INDEX IF NOT EXISTS idx_entries_execution ON entries(execution_id)`,
	}
	for _, migration := range migrations {
		if _, err := s.db.ExecContext(ctx, migration); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}
	return nil
}

// Save upserts an execution record.
func (s *Store) Save(ctx context.Context, exec *store.Execution) error {
	if exec == nil || exec.ID == "" {
		return &errors.ValidationError{
			Field:   "execution",
			Message: "execution requires an ID",
		}
	}

	inputJSON, err := json.Marshal(exec.Input)
	if err != nil {
		return fmt.Errorf("failed to marshal input: %w", err)
	}
	ctxJSON, err := json.Marshal(exec.Ctx)
	if err != nil {
		return fmt.Errorf("failed to marshal ctx: %w", err)
	}
	resultJSON, err := json.Marshal(exec.Result)
	if err != nil {
		return fmt.Errorf("failed to marshal result: %w", err)
	}
	var haltJSON []byte
	if exec.Halt != nil {
		haltJSON, err = json.Marshal(exec.Halt)
		if err != nil {
			return fmt.Errorf("failed to marshal halt: %w", err)
		}
	}

	now := time.Now()
	if exec.CreatedAt.IsZero() {
		exec.CreatedAt = now
	}
	exec.UpdatedAt = now

	query := `
		INSERT INTO executions (id, workflow_id, status, input, ctx, current_step,
			recover_to, halt, result, error, created_at, updated_at, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			workflow_id = excluded.workflow_id,
			status = excluded.status,
			input = excluded.input,
			ctx = excluded.ctx,
			current_step = excluded.current_step,
			recover_to = excluded.recover_to,
			halt = excluded.halt,
			result = excluded.result,
			error = excluded.error,
			updated_at = excluded.updated_at,
			completed_at = excluded.completed_at
	`
	_, err = s.db.ExecContext(ctx, query,
		exec.ID, exec.WorkflowID, string(exec.Status),
		string(inputJSON), string(ctxJSON),
		nullString(exec.CurrentStep), nullString(exec.RecoverTo),
		nullBytes(haltJSON), string(resultJSON), nullString(exec.Error),
		exec.CreatedAt.Format(time.RFC3339Nano),
		exec.UpdatedAt.Format(time.RFC3339Nano),
		formatTime(exec.CompletedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to save execution: %w", err)
	}
	return nil
}

// Load retrieves an execution by ID.
func (s *Store) Load(ctx context.Context, id string) (*store.Execution, error) {
	query := `
		SELECT id, workflow_id, status, input, ctx, current_step, recover_to,
			halt, result, error, created_at, updated_at, completed_at
		FROM executions WHERE id = ?
	`
	exec, err := scanExecution(s.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, &errors.NotFoundError{Resource: "execution", ID: id}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load execution: %w", err)
	}
	return exec, nil
}

// Delete removes an execution and, via the foreign key, its entries.
func (s *Store) Delete(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, "DELETE FROM executions WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("failed to delete execution: %w", err)
	}
	affected, _ := result.RowsAffected()
	if affected == 0 {
		return &errors.NotFoundError{Resource: "execution", ID: id}
	}
	return nil
}

// List returns executions matching the filter, newest first.
func (s *Store) List(ctx context.Context, filter store.Filter) ([]*store.Execution, error) {
	query := `
		SELECT id, workflow_id, status, input, ctx, current_step, recover_to,
			halt, result, error, created_at, updated_at, completed_at
		FROM executions WHERE 1=1
	`
	args := []any{}
	if filter.WorkflowID != "" {
		query += " AND workflow_id = ?"
		args = append(args, filter.WorkflowID)
	}
	if filter.Status != "" {
		query += " AND status = ?"
		args = append(args, string(filter.Status))
	}
	query += " ORDER BY created_at DESC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}
	if filter.Offset > 0 {
		query += " OFFSET ?"
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list executions: %w", err)
	}
	defer rows.Close()

	var executions []*store.Execution
	for rows.Next() {
		exec, err := scanExecution(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan execution: %w", err)
		}
		executions = append(executions, exec)
	}
	return executions, rows.Err()
}

// ExecutionIDs enumerates matching execution IDs, newest first.
func (s *Store) ExecutionIDs(ctx context.Context, filter store.Filter) ([]string, error) {
	query := "SELECT id FROM executions WHERE 1=1"
	args := []any{}
	if filter.WorkflowID != "" {
		query += " AND workflow_id = ?"
		args = append(args, filter.WorkflowID)
	}
	if filter.Status != "" {
		query += " AND status = ?"
		args = append(args, string(filter.Status))
	}
	query += " ORDER BY created_at DESC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}
	if filter.Offset > 0 {
		query += " OFFSET ?"
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to enumerate execution ids: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan execution id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// Record appends a step entry, assigning the next sequence number when
// the entry carries none.
func (s *Store) Record(ctx context.Context, entry *store.Entry) error {
	if entry == nil || entry.ExecutionID == "" {
		return &errors.ValidationError{
			Field:   "entry",
			Message: "entry requires an execution ID",
		}
	}

	var inputJSON, outputJSON []byte
	var err error
	if entry.Input != nil {
		inputJSON, err = json.Marshal(entry.Input)
		if err != nil {
			return fmt.Errorf("failed to marshal entry input: %w", err)
		}
	}
	if entry.Output != nil {
		outputJSON, err = json.Marshal(entry.Output)
		if err != nil {
			return fmt.Errorf("failed to marshal entry output: %w", err)
		}
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now()
	}

	if entry.Seq == 0 {
		// Seq assignment and insert share the single write connection, so
		// the subquery cannot race another writer.
		query := `
			INSERT INTO entries (execution_id, seq, step_id, step_type, status, input, output, error, duration_ns, timestamp)
			VALUES (?, (SELECT COALESCE(MAX(seq), 0) + 1 FROM entries WHERE execution_id = ?), ?, ?, ?, ?, ?, ?, ?, ?)
			RETURNING seq
		`
		err := s.db.QueryRowContext(ctx, query,
			entry.ExecutionID, entry.ExecutionID, entry.StepID,
			nullString(entry.StepType), entry.Status,
			nullBytes(inputJSON), nullBytes(outputJSON), nullString(entry.Error),
			int64(entry.Duration), entry.Timestamp.Format(time.RFC3339Nano),
		).Scan(&entry.Seq)
		if err != nil {
			return fmt.Errorf("failed to record entry: %w", err)
		}
		return nil
	}

	query := `
		INSERT INTO entries (execution_id, seq, step_id, step_type, status, input, output, error, duration_ns, timestamp)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err = s.db.ExecContext(ctx, query,
		entry.ExecutionID, entry.Seq, entry.StepID,
		nullString(entry.StepType), entry.Status,
		nullBytes(inputJSON), nullBytes(outputJSON), nullString(entry.Error),
		int64(entry.Duration), entry.Timestamp.Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("failed to record entry: %w", err)
	}
	return nil
}

// Entries returns an execution's step log in sequence order.
func (s *Store) Entries(ctx context.Context, executionID string) ([]*store.Entry, error) {
	query := `
		SELECT execution_id, seq, step_id, step_type, status, input, output, error, duration_ns, timestamp
		FROM entries WHERE execution_id = ? ORDER BY seq
	`
	rows, err := s.db.QueryContext(ctx, query, executionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list entries: %w", err)
	}
	defer rows.Close()

	var entries []*store.Entry
	for rows.Next() {
		var entry store.Entry
		var stepType, inputJSON, outputJSON, errStr sql.NullString
		var durationNS int64
		var timestamp string
		if err := rows.Scan(&entry.ExecutionID, &entry.Seq, &entry.StepID, &stepType,
			&entry.Status, &inputJSON, &outputJSON, &errStr, &durationNS, &timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan entry: %w", err)
		}
		if stepType.Valid {
			entry.StepType = stepType.String
		}
		if inputJSON.Valid && inputJSON.String != "" {
			if err := json.Unmarshal([]byte(inputJSON.String), &entry.Input); err != nil {
				return nil, fmt.Errorf("failed to unmarshal entry input: %w", err)
			}
		}
		if outputJSON.Valid && outputJSON.String != "" {
			if err := json.Unmarshal([]byte(outputJSON.String), &entry.Output); err != nil {
				return nil, fmt.Errorf("failed to unmarshal entry output: %w", err)
			}
		}
		if errStr.Valid {
			entry.Error = errStr.String
		}
		entry.Duration = time.Duration(durationNS)
		entry.Timestamp, _ = time.Parse(time.RFC3339Nano, timestamp)
		entries = append(entries, &entry)
	}
	return entries, rows.Err()
}

// scanner abstracts *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanExecution(row scanner) (*store.Execution, error) {
	var exec store.Execution
	var status string
	var inputJSON, ctxJSON, haltJSON, resultJSON sql.NullString
	var currentStep, recoverTo, errStr, completedAt sql.NullString
	var createdAt, updatedAt string

	err := row.Scan(
		&exec.ID, &exec.WorkflowID, &status,
		&inputJSON, &ctxJSON, &currentStep, &recoverTo,
		&haltJSON, &resultJSON, &errStr,
		&createdAt, &updatedAt, &completedAt,
	)
	if err != nil {
		return nil, err
	}

	exec.Status = store.Status(status)
	if currentStep.Valid {
		exec.CurrentStep = currentStep.String
	}
	if recoverTo.Valid {
		exec.RecoverTo = recoverTo.String
	}
	if errStr.Valid {
		exec.Error = errStr.String
	}
	if inputJSON.Valid && inputJSON.String != "" {
		if err := json.Unmarshal([]byte(inputJSON.String), &exec.Input); err != nil {
			return nil, fmt.Errorf("failed to unmarshal input: %w", err)
		}
	}
	if ctxJSON.Valid && ctxJSON.String != "" {
		if err := json.Unmarshal([]byte(ctxJSON.String), &exec.Ctx); err != nil {
			return nil, fmt.Errorf("failed to unmarshal ctx: %w", err)
		}
	}
	if resultJSON.Valid && resultJSON.String != "" {
		if err := json.Unmarshal([]byte(resultJSON.String), &exec.Result); err != nil {
			return nil, fmt.Errorf("failed to unmarshal result: %w", err)
		}
	}
	if haltJSON.Valid && haltJSON.String != "" {
		var halt store.Halt
		if err := json.Unmarshal([]byte(haltJSON.String), &halt); err != nil {
			return nil, fmt.Errorf("failed to unmarshal halt: %w", err)
		}
		exec.Halt = &halt
	}

	exec.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	exec.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updatedAt)
	if completedAt.Valid && completedAt.String != "" {
		t, _ := time.Parse(time.RFC3339Nano, completedAt.String)
		exec.CompletedAt = &t
	}
	return &exec, nil
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullBytes(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return string(b)
}

func formatTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.Format(time.RFC3339Nano)
}
