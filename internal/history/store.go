package history

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/HerbHall/netreach/pkg/plugin"
	"github.com/HerbHall/netreach/pkg/reachability"
)

// Transition is one recorded change of a target's classification.
type Transition struct {
	ID       string              `json:"id"`
	Target   string              `json:"target"`
	Previous reachability.Status `json:"previous"`
	Current  reachability.Status `json:"current"`
	Flags    string              `json:"flags"`
	At       time.Time           `json:"at"`
}

// Filter narrows List. Zero values mean no restriction.
type Filter struct {
	Target string
	Since  time.Time
	Limit  int
}

// TransitionStore persists transitions in the shared SQLite database.
type TransitionStore struct {
	db *sql.DB
}

// NewTransitionStore returns a store over db. The history migrations must
// have been applied.
func NewTransitionStore(db *sql.DB) *TransitionStore {
	return &TransitionStore{db: db}
}

func (s *TransitionStore) Insert(ctx context.Context, t Transition) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO reach_transitions (id, target, previous, current, flags, at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		t.ID, t.Target, t.Previous.String(), t.Current.String(), t.Flags, t.At.UTC(),
	)
	if err != nil {
		return fmt.Errorf("insert transition for %q: %w", t.Target, err)
	}
	return nil
}

// List returns transitions newest first.
func (s *TransitionStore) List(ctx context.Context, f Filter) ([]Transition, error) {
	var (
		where []string
		args  []any
	)
	if f.Target != "" {
		where = append(where, "target = ?")
		args = append(args, f.Target)
	}
	if !f.Since.IsZero() {
		where = append(where, "at >= ?")
		args = append(args, f.Since.UTC())
	}

	query := `SELECT id, target, previous, current, flags, at FROM reach_transitions`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY at DESC, rowid DESC"
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list transitions: %w", err)
	}
	defer rows.Close()

	var out []Transition
	for rows.Next() {
		var (
			t              Transition
			previous, curr string
		)
		if err := rows.Scan(&t.ID, &t.Target, &previous, &curr, &t.Flags, &t.At); err != nil {
			return nil, fmt.Errorf("scan transition row: %w", err)
		}
		if err := t.Previous.UnmarshalText([]byte(previous)); err != nil {
			return nil, err
		}
		if err := t.Current.UnmarshalText([]byte(curr)); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// Prune deletes transitions recorded before cutoff and reports how many
// were removed.
func (s *TransitionStore) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM reach_transitions WHERE at < ?`, cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("prune transitions: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

func migrations() []plugin.Migration {
	return []plugin.Migration{
		{
			Version:     1,
			Description: "create reach_transitions table",
			Up: func(tx *sql.Tx) error {
				if _, err := tx.Exec(`
					CREATE TABLE reach_transitions (
						id       TEXT PRIMARY KEY,
						target   TEXT NOT NULL,
						previous TEXT NOT NULL,
						current  TEXT NOT NULL,
						flags    TEXT NOT NULL DEFAULT '',
						at       DATETIME NOT NULL
					)`); err != nil {
					return err
				}
				_, err := tx.Exec(`CREATE INDEX idx_reach_transitions_target_at ON reach_transitions (target, at)`)
				return err
			},
		},
	}
}
