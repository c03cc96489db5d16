package telemetry

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/ziadkadry99/automind/internal/db"
)

// Store persists state transitions in SQLite.
type Store struct {
	db *db.DB
}

// NewStore creates a new transition store.
func NewStore(d *db.DB) *Store {
	return &Store{db: d}
}

// Append inserts transitions, ignoring exact duplicates. It returns the
// number of rows actually written.
func (s *Store) Append(ctx context.Context, transitions []StateTransition, source string) (int, error) {
	if len(transitions) == 0 {
		return 0, nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT OR IGNORE INTO state_transitions (entity_id, from_state, to_state, changed_at, source)
		 VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return 0, fmt.Errorf("preparing insert: %w", err)
	}
	defer stmt.Close()

	written := 0
	for _, tr := range transitions {
		res, err := stmt.ExecContext(ctx, tr.EntityID, tr.From, tr.To, tr.At.UnixMilli(), source)
		if err != nil {
			return 0, fmt.Errorf("inserting transition for %s: %w", tr.EntityID, err)
		}
		n, _ := res.RowsAffected()
		written += int(n)
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("committing transitions: %w", err)
	}
	return written, nil
}

// GetStateHistory returns the entity's transitions inside window, oldest first.
func (s *Store) GetStateHistory(ctx context.Context, entityID string, window Window) ([]StateTransition, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT entity_id, from_state, to_state, changed_at FROM state_transitions
		 WHERE entity_id = ? AND changed_at >= ? AND changed_at < ?
		 ORDER BY changed_at, id`,
		entityID, window.Start.UnixMilli(), window.End.UnixMilli())
	if err != nil {
		return nil, fmt.Errorf("querying history for %s: %w", entityID, err)
	}
	defer rows.Close()

	var out []StateTransition
	for rows.Next() {
		var tr StateTransition
		var ms int64
		if err := rows.Scan(&tr.EntityID, &tr.From, &tr.To, &ms); err != nil {
			return nil, fmt.Errorf("scanning transition: %w", err)
		}
		tr.At = time.UnixMilli(ms).UTC()
		out = append(out, tr)
	}
	return out, rows.Err()
}

// Entities lists the entity ids with at least one transition in window.
func (s *Store) Entities(ctx context.Context, window Window) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT DISTINCT entity_id FROM state_transitions
		 WHERE changed_at >= ? AND changed_at < ? ORDER BY entity_id`,
		window.Start.UnixMilli(), window.End.UnixMilli())
	if err != nil {
		return nil, fmt.Errorf("listing entities: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scanning entity id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// LastState returns the most recent recorded state of an entity, or "".
func (s *Store) LastState(ctx context.Context, entityID string) (string, error) {
	var state string
	err := s.db.QueryRowContext(ctx,
		`SELECT to_state FROM state_transitions WHERE entity_id = ? ORDER BY changed_at DESC, id DESC LIMIT 1`,
		entityID).Scan(&state)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("reading last state of %s: %w", entityID, err)
	}
	return state, nil
}

// Prune deletes transitions older than before and returns how many were removed.
func (s *Store) Prune(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM state_transitions WHERE changed_at < ?`, before.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("pruning transitions: %w", err)
	}
	return res.RowsAffected()
}
