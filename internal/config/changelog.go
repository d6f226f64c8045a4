package config

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/Smart-Samurai/Krapi-sub010/internal/model"
)

type changelogRow struct {
	ID          string    `db:"id"`
	EntityType  string    `db:"entity_type"`
	EntityID    string    `db:"entity_id"`
	Action      string    `db:"action"`
	ChangesJSON string    `db:"changes_json"`
	PerformedBy string    `db:"performed_by"`
	SessionID   string    `db:"session_id"`
	CreatedAt   time.Time `db:"created_at"`
}

func (r changelogRow) toModel() (model.ChangelogEntry, error) {
	e := model.ChangelogEntry{
		ID:          r.ID,
		EntityType:  r.EntityType,
		EntityID:    r.EntityID,
		Action:      model.ChangeAction(r.Action),
		PerformedBy: r.PerformedBy,
		SessionID:   r.SessionID,
		Timestamp:   r.CreatedAt.UTC(),
	}
	if err := json.Unmarshal([]byte(r.ChangesJSON), &e.Changes); err != nil {
		return e, fmt.Errorf("decode changes for entry %s: %w", r.ID, err)
	}
	return e, nil
}

// ChangelogFilter narrows ListChangelog. Zero fields match everything.
type ChangelogFilter struct {
	EntityType  string
	EntityID    string
	PerformedBy string
	Limit       int
}

// ---------------------------------------------------------------------------
// Changelog
// ---------------------------------------------------------------------------

// AppendChangelog inserts an entry. Re-inserting an entry with the same ID
// is reported as ErrConflict so retries can treat it as already written.
func (s *Store) AppendChangelog(ctx context.Context, e *model.ChangelogEntry) error {
	changes := e.Changes
	if changes == nil {
		changes = map[string]interface{}{}
	}
	changesJSON, err := json.Marshal(changes)
	if err != nil {
		return fmt.Errorf("marshal changes: %w", err)
	}
	row := changelogRow{
		ID:          e.ID,
		EntityType:  e.EntityType,
		EntityID:    e.EntityID,
		Action:      string(e.Action),
		ChangesJSON: string(changesJSON),
		PerformedBy: e.PerformedBy,
		SessionID:   e.SessionID,
		CreatedAt:   e.Timestamp.UTC(),
	}

	const q = `INSERT INTO changelog
		(id, entity_type, entity_id, action, changes_json, performed_by, session_id, created_at)
		VALUES
		(:id, :entity_type, :entity_id, :action, :changes_json, :performed_by, :session_id, :created_at)`

	if _, err := s.db.NamedExecContext(ctx, q, row); err != nil {
		return wrap("insert changelog entry", err)
	}
	return nil
}

// ListChangelog returns entries newest first.
func (s *Store) ListChangelog(ctx context.Context, f ChangelogFilter) ([]model.ChangelogEntry, error) {
	var (
		where []string
		args  []interface{}
	)
	if f.EntityType != "" {
		where = append(where, "entity_type = ?")
		args = append(args, f.EntityType)
	}
	if f.EntityID != "" {
		where = append(where, "entity_id = ?")
		args = append(args, f.EntityID)
	}
	if f.PerformedBy != "" {
		where = append(where, "performed_by = ?")
		args = append(args, f.PerformedBy)
	}

	q := "SELECT id, entity_type, entity_id, action, changes_json, performed_by, session_id, created_at FROM changelog"
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	q += " ORDER BY created_at DESC, id DESC"
	if f.Limit > 0 {
		q += fmt.Sprintf(" LIMIT %d", f.Limit)
	}

	var rows []changelogRow
	if err := s.sel(ctx, &rows, q, args...); err != nil {
		return nil, wrap("list changelog", err)
	}
	out := make([]model.ChangelogEntry, 0, len(rows))
	for _, r := range rows {
		e, err := r.toModel()
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}

// ---------------------------------------------------------------------------
// Audit dead letters
// ---------------------------------------------------------------------------

type deadLetterRow struct {
	ID        string    `db:"id"`
	EntryJSON string    `db:"entry_json"`
	LastError string    `db:"last_error"`
	Attempts  int       `db:"attempts"`
	CreatedAt time.Time `db:"created_at"`
}

// AddDeadLetter stores a changelog entry that could not be written.
func (s *Store) AddDeadLetter(ctx context.Context, dl *model.DeadLetter) error {
	entryJSON, err := json.Marshal(dl.Entry)
	if err != nil {
		return fmt.Errorf("marshal dead letter entry: %w", err)
	}
	if dl.CreatedAt.IsZero() {
		dl.CreatedAt = time.Now().UTC()
	}
	row := deadLetterRow{
		ID:        dl.ID,
		EntryJSON: string(entryJSON),
		LastError: dl.LastError,
		Attempts:  dl.Attempts,
		CreatedAt: dl.CreatedAt.UTC(),
	}

	const q = `INSERT INTO audit_dead_letters (id, entry_json, last_error, attempts, created_at)
		VALUES (:id, :entry_json, :last_error, :attempts, :created_at)`

	if _, err := s.db.NamedExecContext(ctx, q, row); err != nil {
		return wrap("insert dead letter", err)
	}
	return nil
}

// ListDeadLetters returns dead letters oldest first.
func (s *Store) ListDeadLetters(ctx context.Context) ([]model.DeadLetter, error) {
	var rows []deadLetterRow
	if err := s.sel(ctx, &rows,
		"SELECT id, entry_json, last_error, attempts, created_at FROM audit_dead_letters ORDER BY created_at"); err != nil {
		return nil, wrap("list dead letters", err)
	}
	out := make([]model.DeadLetter, 0, len(rows))
	for _, r := range rows {
		dl := model.DeadLetter{
			ID:        r.ID,
			LastError: r.LastError,
			Attempts:  r.Attempts,
			CreatedAt: r.CreatedAt.UTC(),
		}
		if err := json.Unmarshal([]byte(r.EntryJSON), &dl.Entry); err != nil {
			return nil, fmt.Errorf("decode dead letter %s: %w", r.ID, err)
		}
		out = append(out, dl)
	}
	return out, nil
}

// DeleteDeadLetter removes a dead letter after it has been replayed.
func (s *Store) DeleteDeadLetter(ctx context.Context, id string) error {
	if _, err := s.exec(ctx, "DELETE FROM audit_dead_letters WHERE id = ?", id); err != nil {
		return wrap("delete dead letter", err)
	}
	return nil
}
