package pipeline

import (
	"context"
	"database/sql"
	"errors"

	_ "modernc.org/sqlite"
)

// SQLiteAuditStore persists audit events in SQLite.
type SQLiteAuditStore struct {
	db *sql.DB
}

// OpenSQLiteAuditStore opens (or creates) the audit database at path.
func OpenSQLiteAuditStore(path string) (*SQLiteAuditStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	return NewSQLiteAuditStore(db)
}

// NewSQLiteAuditStore creates a SQLite-backed audit store and ensures schema.
func NewSQLiteAuditStore(db *sql.DB) (*SQLiteAuditStore, error) {
	if db == nil {
		return nil, errors.New("db is nil")
	}
	if err := ensureAuditSchema(db); err != nil {
		return nil, err
	}
	return &SQLiteAuditStore{db: db}, nil
}

// Close releases the underlying database handle.
func (s *SQLiteAuditStore) Close() error {
	return s.db.Close()
}

// Record stores a single audit event.
func (s *SQLiteAuditStore) Record(ctx context.Context, event AuditEvent) error {
	output, err := encodeAuditOutput(event.Output)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO pipeline_audit_events (
			plan_id, run_id, step_id, capability, status, output_json, error_text, started_at, finished_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		event.PlanID,
		event.RunID,
		event.StepID,
		event.Capability,
		event.Status,
		string(output),
		event.Error,
		normalizeAuditTime(event.StartedAt),
		normalizeAuditTime(event.FinishedAt),
	)
	return err
}

// List returns audit events matching the filter.
func (s *SQLiteAuditStore) List(ctx context.Context, filter AuditFilter) ([]AuditEvent, error) {
	query := `
		SELECT plan_id, run_id, step_id, capability, status, output_json, error_text, started_at, finished_at
		FROM pipeline_audit_events
	`
	var args []any
	where := ""
	addFilter := func(clause string, value any) {
		if where == "" {
			where = " WHERE " + clause
		} else {
			where += " AND " + clause
		}
		args = append(args, value)
	}
	if filter.PlanID != "" {
		addFilter("plan_id = ?", filter.PlanID)
	}
	if filter.RunID != "" {
		addFilter("run_id = ?", filter.RunID)
	}
	if filter.StepID != "" {
		addFilter("step_id = ?", filter.StepID)
	}
	if filter.Status != "" {
		addFilter("status = ?", filter.Status)
	}
	query += where + " ORDER BY started_at ASC, rowid ASC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []AuditEvent
	for rows.Next() {
		var (
			event      AuditEvent
			outputJSON string
			started    sql.NullTime
			finished   sql.NullTime
		)
		if err := rows.Scan(
			&event.PlanID,
			&event.RunID,
			&event.StepID,
			&event.Capability,
			&event.Status,
			&outputJSON,
			&event.Error,
			&started,
			&finished,
		); err != nil {
			return nil, err
		}
		if outputJSON != "" {
			if out, err := decodeAuditOutput([]byte(outputJSON)); err == nil {
				event.Output = out
			}
		}
		if started.Valid {
			event.StartedAt = started.Time
		}
		if finished.Valid {
			event.FinishedAt = finished.Time
		}
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return events, nil
}

func ensureAuditSchema(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS pipeline_audit_events (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			plan_id TEXT NOT NULL,
			run_id TEXT,
			step_id TEXT NOT NULL,
			capability TEXT NOT NULL,
			status TEXT NOT NULL,
			output_json TEXT,
			error_text TEXT,
			started_at TIMESTAMP,
			finished_at TIMESTAMP
		);
		CREATE INDEX IF NOT EXISTS idx_pipeline_audit_plan ON pipeline_audit_events(plan_id);
		CREATE INDEX IF NOT EXISTS idx_pipeline_audit_run ON pipeline_audit_events(run_id);
		CREATE INDEX IF NOT EXISTS idx_pipeline_audit_status ON pipeline_audit_events(status);
	`)
	return err
}
