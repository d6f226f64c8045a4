package config

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/Smart-Samurai/Krapi-sub010/internal/model"
)

type sessionRow struct {
	ID           string         `db:"id"`
	TokenHash    string         `db:"token_hash"`
	SessionType  string         `db:"session_type"`
	UserID       string         `db:"user_id"`
	ProjectID    sql.NullString `db:"project_id"`
	APIKeyID     sql.NullString `db:"api_key_id"`
	ProjectIDs   sql.NullString `db:"project_ids_json"`
	ScopesJSON   string         `db:"scopes_json"`
	MetadataJSON string         `db:"metadata_json"`
	CreatedAt    time.Time      `db:"created_at"`
	ExpiresAt    time.Time      `db:"expires_at"`
	Consumed     bool           `db:"consumed"`
	ConsumedAt   sql.NullTime   `db:"consumed_at"`
	LastSeenAt   sql.NullTime   `db:"last_seen_at"`
}

const sessionColumns = `id, token_hash, session_type, user_id, project_id, api_key_id, project_ids_json, scopes_json,
	metadata_json, created_at, expires_at, consumed, consumed_at, last_seen_at`

func sessionRowFromModel(sess *model.Session) (sessionRow, error) {
	scopes := sess.Scopes
	if scopes == nil {
		scopes = model.NewScopeSet()
	}
	scopesJSON, err := json.Marshal(scopes)
	if err != nil {
		return sessionRow{}, fmt.Errorf("marshal session scopes: %w", err)
	}
	meta := sess.Metadata
	if meta == nil {
		meta = map[string]string{}
	}
	metaJSON, err := json.Marshal(meta)
	if err != nil {
		return sessionRow{}, fmt.Errorf("marshal session metadata: %w", err)
	}
	row := sessionRow{
		ID:           sess.ID,
		TokenHash:    sess.TokenHash,
		SessionType:  string(sess.Type),
		UserID:       sess.UserID,
		ProjectID:    nullString(sess.ProjectID),
		APIKeyID:     nullString(sess.APIKeyID),
		ScopesJSON:   string(scopesJSON),
		MetadataJSON: string(metaJSON),
		CreatedAt:    sess.CreatedAt.UTC(),
		ExpiresAt:    sess.ExpiresAt.UTC(),
		Consumed:     sess.Consumed,
		ConsumedAt:   nullTime(sess.ConsumedAt),
		LastSeenAt:   nullTime(sess.LastSeenAt),
	}
	if sess.ProjectIDs != nil {
		ids, err := json.Marshal(sess.ProjectIDs)
		if err != nil {
			return sessionRow{}, fmt.Errorf("marshal session project ids: %w", err)
		}
		row.ProjectIDs = sql.NullString{String: string(ids), Valid: true}
	}
	return row, nil
}

func (r sessionRow) toModel() (*model.Session, error) {
	scopes, err := model.DecodeStoredScopes([]byte(r.ScopesJSON))
	if err != nil {
		return nil, fmt.Errorf("decode scopes for session %s: %w", r.ID, err)
	}
	var meta map[string]string
	if err := json.Unmarshal([]byte(r.MetadataJSON), &meta); err != nil {
		return nil, fmt.Errorf("decode metadata for session %s: %w", r.ID, err)
	}
	sess := &model.Session{
		ID:         r.ID,
		TokenHash:  r.TokenHash,
		Type:       model.SessionType(r.SessionType),
		UserID:     r.UserID,
		ProjectID:  stringPtr(r.ProjectID),
		APIKeyID:   stringPtr(r.APIKeyID),
		Scopes:     scopes,
		Metadata:   meta,
		CreatedAt:  r.CreatedAt.UTC(),
		ExpiresAt:  r.ExpiresAt.UTC(),
		Consumed:   r.Consumed,
		ConsumedAt: timePtr(r.ConsumedAt),
		LastSeenAt: timePtr(r.LastSeenAt),
	}
	if r.ProjectIDs.Valid {
		ids := []string{}
		if err := json.Unmarshal([]byte(r.ProjectIDs.String), &ids); err != nil {
			return nil, fmt.Errorf("decode project ids for session %s: %w", r.ID, err)
		}
		sess.ProjectIDs = ids
	}
	return sess, nil
}

// ---------------------------------------------------------------------------
// Sessions
// ---------------------------------------------------------------------------

// CreateSession inserts a session record. TokenHash must already be set.
func (s *Store) CreateSession(ctx context.Context, sess *model.Session) error {
	row, err := sessionRowFromModel(sess)
	if err != nil {
		return err
	}

	const q = `INSERT INTO sessions
		(id, token_hash, session_type, user_id, project_id, api_key_id, project_ids_json, scopes_json,
		 metadata_json, created_at, expires_at, consumed, consumed_at, last_seen_at)
		VALUES
		(:id, :token_hash, :session_type, :user_id, :project_id, :api_key_id, :project_ids_json, :scopes_json,
		 :metadata_json, :created_at, :expires_at, :consumed, :consumed_at, :last_seen_at)`

	if _, err := s.db.NamedExecContext(ctx, q, row); err != nil {
		return wrap("insert session", err)
	}
	return nil
}

// TouchSession stamps last_seen_at on a session that is not consumed and
// returns the stored record. The stamp is a conditional write on the
// consumed flag, so a consumption committed first is always observed.
// Expiry is left to the caller's clock.
func (s *Store) TouchSession(ctx context.Context, tokenHash string, at time.Time) (*model.Session, error) {
	if _, err := s.exec(ctx,
		"UPDATE sessions SET last_seen_at = ? WHERE token_hash = ? AND consumed = ?",
		at.UTC(), tokenHash, false); err != nil {
		return nil, wrap("touch session", err)
	}
	return s.GetSessionByTokenHash(ctx, tokenHash)
}

// GetSessionByTokenHash returns a session without modifying it.
func (s *Store) GetSessionByTokenHash(ctx context.Context, tokenHash string) (*model.Session, error) {
	var row sessionRow
	if err := s.get(ctx, &row, "SELECT "+sessionColumns+" FROM sessions WHERE token_hash = ?", tokenHash); err != nil {
		return nil, wrap("get session", err)
	}
	return row.toModel()
}

// ConsumeSession marks a session consumed. Consuming an already consumed or
// unknown session is a no-op.
func (s *Store) ConsumeSession(ctx context.Context, tokenHash string, at time.Time) error {
	if _, err := s.exec(ctx,
		"UPDATE sessions SET consumed = ?, consumed_at = ? WHERE token_hash = ? AND consumed = ?",
		true, at.UTC(), tokenHash, false); err != nil {
		return wrap("consume session", err)
	}
	return nil
}

// PurgeSessions deletes sessions that expired, or were consumed, before the
// given instant. It returns the number of rows removed.
func (s *Store) PurgeSessions(ctx context.Context, before time.Time) (int64, error) {
	result, err := s.exec(ctx,
		"DELETE FROM sessions WHERE expires_at < ? OR (consumed = ? AND consumed_at < ?)",
		before.UTC(), true, before.UTC())
	if err != nil {
		return 0, wrap("purge sessions", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("purge sessions rows affected: %w", err)
	}
	return n, nil
}
