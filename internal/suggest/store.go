package suggest

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/ziadkadry99/automind/internal/db"
	"github.com/ziadkadry99/automind/internal/intent"
)

// Store persists detection runs and generated automations.
type Store struct {
	db *db.DB
}

// NewStore creates a new store.
func NewStore(database *db.DB) *Store {
	return &Store{db: database}
}

// SaveRun stores a run in a single statement, so readers see either the
// whole run or none of it.
func (s *Store) SaveRun(ctx context.Context, run Run) error {
	if run.ID == "" {
		run.ID = uuid.NewString()
	}
	ps, err := json.Marshal(nonNil(run.Patterns))
	if err != nil {
		return fmt.Errorf("marshalling patterns: %w", err)
	}
	ops, err := json.Marshal(nonNil(run.Opportunities))
	if err != nil {
		return fmt.Errorf("marshalling opportunities: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO detection_runs (id, started_at, finished_at, window_start, window_end, entity_count, transition_count, skipped_count, patterns, opportunities)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.StartedAt.UTC(), run.FinishedAt.UTC(), run.WindowStart.UTC(), run.WindowEnd.UTC(),
		run.EntityCount, run.TransitionCount, run.SkippedCount, string(ps), string(ops),
	)
	if err != nil {
		return fmt.Errorf("inserting run: %w", err)
	}
	return nil
}

// LatestRun returns the most recently finished run, or nil when no pass
// has completed yet.
func (s *Store) LatestRun(ctx context.Context) (*Run, error) {
	var run Run
	var ps, ops string
	err := s.db.QueryRowContext(ctx,
		`SELECT id, started_at, finished_at, window_start, window_end, entity_count, transition_count, skipped_count, patterns, opportunities
		 FROM detection_runs ORDER BY finished_at DESC, id DESC LIMIT 1`,
	).Scan(&run.ID, &run.StartedAt, &run.FinishedAt, &run.WindowStart, &run.WindowEnd,
		&run.EntityCount, &run.TransitionCount, &run.SkippedCount, &ps, &ops)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting latest run: %w", err)
	}
	if err := json.Unmarshal([]byte(ps), &run.Patterns); err != nil {
		return nil, fmt.Errorf("decoding patterns of run %s: %w", run.ID, err)
	}
	if err := json.Unmarshal([]byte(ops), &run.Opportunities); err != nil {
		return nil, fmt.Errorf("decoding opportunities of run %s: %w", run.ID, err)
	}
	return &run, nil
}

// PruneRuns deletes all but the keep most recent runs.
func (s *Store) PruneRuns(ctx context.Context, keep int) (int64, error) {
	if keep < 1 {
		keep = 1
	}
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM detection_runs WHERE id NOT IN (
		   SELECT id FROM detection_runs ORDER BY finished_at DESC, id DESC LIMIT ?)`, keep)
	if err != nil {
		return 0, fmt.Errorf("pruning runs: %w", err)
	}
	return res.RowsAffected()
}

// SaveAutomation records a generated automation.
func (s *Store) SaveAutomation(ctx context.Context, a Automation) (*Automation, error) {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}
	entities, err := json.Marshal(nonNil(a.Entities))
	if err != nil {
		return nil, fmt.Errorf("marshalling entities: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO generated_automations (id, request, session_id, opportunity_id, trigger_kind, entities, spec_yaml, submitted, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET spec_yaml = excluded.spec_yaml, submitted = excluded.submitted, trigger_kind = excluded.trigger_kind, entities = excluded.entities`,
		a.ID, a.Request, nullString(a.SessionID), nullString(a.OpportunityID), string(a.TriggerKind),
		string(entities), a.YAML, a.Submitted, a.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("inserting automation: %w", err)
	}
	return &a, nil
}

// ListAutomations returns generated automations, newest first. A limit of
// zero returns all of them.
func (s *Store) ListAutomations(ctx context.Context, limit int) ([]Automation, error) {
	query := `SELECT id, request, session_id, opportunity_id, trigger_kind, entities, spec_yaml, submitted, created_at
		 FROM generated_automations ORDER BY created_at DESC, id ASC`
	args := []interface{}{}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing automations: %w", err)
	}
	defer rows.Close()

	var out []Automation
	for rows.Next() {
		var a Automation
		var sessionID, opportunityID sql.NullString
		var kind, entities string
		if err := rows.Scan(&a.ID, &a.Request, &sessionID, &opportunityID, &kind, &entities, &a.YAML, &a.Submitted, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning automation: %w", err)
		}
		a.SessionID = sessionID.String
		a.OpportunityID = opportunityID.String
		a.TriggerKind = intent.TriggerKind(kind)
		if err := json.Unmarshal([]byte(entities), &a.Entities); err != nil {
			return nil, fmt.Errorf("decoding entities of automation %s: %w", a.ID, err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
