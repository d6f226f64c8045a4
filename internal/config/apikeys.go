package config

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/Smart-Samurai/Krapi-sub010/internal/model"
)

type apiKeyRow struct {
	ID             string         `db:"id"`
	OwnerID        string         `db:"owner_id"`
	Name           string         `db:"name"`
	KeyHash        string         `db:"key_hash"`
	KeyPrefix      string         `db:"key_prefix"`
	KeyType        string         `db:"key_type"`
	ScopesJSON     string         `db:"scopes_json"`
	ProjectIDsJSON sql.NullString `db:"project_ids_json"`
	ExpiresAt      sql.NullTime   `db:"expires_at"`
	IsActive       bool           `db:"is_active"`
	UseCount       int64          `db:"use_count"`
	CreatedAt      time.Time      `db:"created_at"`
	LastUsedAt     sql.NullTime   `db:"last_used_at"`
}

const apiKeyColumns = `id, owner_id, name, key_hash, key_prefix, key_type, scopes_json,
	project_ids_json, expires_at, is_active, use_count, created_at, last_used_at`

func apiKeyRowFromModel(k *model.APIKey) (apiKeyRow, error) {
	scopes := k.Scopes
	if scopes == nil {
		scopes = model.NewScopeSet()
	}
	scopesJSON, err := json.Marshal(scopes)
	if err != nil {
		return apiKeyRow{}, fmt.Errorf("marshal scopes: %w", err)
	}
	row := apiKeyRow{
		ID:         k.ID,
		OwnerID:    k.OwnerID,
		Name:       k.Name,
		KeyHash:    k.KeyHash,
		KeyPrefix:  k.KeyPrefix,
		KeyType:    string(k.Type),
		ScopesJSON: string(scopesJSON),
		ExpiresAt:  nullTime(k.ExpiresAt),
		IsActive:   k.IsActive,
		UseCount:   k.UseCount,
		CreatedAt:  k.CreatedAt,
		LastUsedAt: nullTime(k.LastUsedAt),
	}
	if k.ProjectIDs != nil {
		ids, err := json.Marshal(k.ProjectIDs)
		if err != nil {
			return apiKeyRow{}, fmt.Errorf("marshal project ids: %w", err)
		}
		row.ProjectIDsJSON = sql.NullString{String: string(ids), Valid: true}
	}
	return row, nil
}

func (r apiKeyRow) toModel() (*model.APIKey, error) {
	scopes, err := model.DecodeStoredScopes([]byte(r.ScopesJSON))
	if err != nil {
		return nil, fmt.Errorf("decode scopes for api key %s: %w", r.ID, err)
	}
	k := &model.APIKey{
		ID:         r.ID,
		OwnerID:    r.OwnerID,
		Name:       r.Name,
		KeyHash:    r.KeyHash,
		KeyPrefix:  r.KeyPrefix,
		Type:       model.KeyType(r.KeyType),
		Scopes:     scopes,
		ExpiresAt:  timePtr(r.ExpiresAt),
		IsActive:   r.IsActive,
		UseCount:   r.UseCount,
		CreatedAt:  r.CreatedAt.UTC(),
		LastUsedAt: timePtr(r.LastUsedAt),
	}
	if r.ProjectIDsJSON.Valid {
		ids := []string{}
		if err := json.Unmarshal([]byte(r.ProjectIDsJSON.String), &ids); err != nil {
			return nil, fmt.Errorf("decode project ids for api key %s: %w", r.ID, err)
		}
		k.ProjectIDs = ids
	}
	return k, nil
}

// ---------------------------------------------------------------------------
// API Key management
// ---------------------------------------------------------------------------

// CreateAPIKey inserts a registry key. The ID and KeyHash must already be set
// (use HashSecret). CreatedAt is stamped here.
func (s *Store) CreateAPIKey(ctx context.Context, k *model.APIKey) error {
	k.CreatedAt = time.Now().UTC()
	row, err := apiKeyRowFromModel(k)
	if err != nil {
		return err
	}

	const q = `INSERT INTO api_keys
		(id, owner_id, name, key_hash, key_prefix, key_type, scopes_json, project_ids_json,
		 expires_at, is_active, use_count, created_at, last_used_at)
		VALUES
		(:id, :owner_id, :name, :key_hash, :key_prefix, :key_type, :scopes_json, :project_ids_json,
		 :expires_at, :is_active, :use_count, :created_at, :last_used_at)`

	if _, err := s.db.NamedExecContext(ctx, q, row); err != nil {
		return wrap("insert api key", err)
	}
	return nil
}

func (s *Store) getAPIKey(ctx context.Context, op, where string, arg interface{}) (*model.APIKey, error) {
	var row apiKeyRow
	if err := s.get(ctx, &row, "SELECT "+apiKeyColumns+" FROM api_keys WHERE "+where, arg); err != nil {
		return nil, wrap(op, err)
	}
	return row.toModel()
}

// GetAPIKey returns a registry key by ID.
func (s *Store) GetAPIKey(ctx context.Context, id string) (*model.APIKey, error) {
	return s.getAPIKey(ctx, "get api key", "id = ?", id)
}

// GetAPIKeyByHash looks up a registry key by its SHA-256 hash.
func (s *Store) GetAPIKeyByHash(ctx context.Context, hash string) (*model.APIKey, error) {
	return s.getAPIKey(ctx, "get api key by hash", "key_hash = ?", hash)
}

// ListAPIKeys returns registry keys, newest first. An empty ownerID lists all.
func (s *Store) ListAPIKeys(ctx context.Context, ownerID string) ([]model.APIKey, error) {
	var (
		rows []apiKeyRow
		err  error
	)
	if ownerID == "" {
		err = s.sel(ctx, &rows, "SELECT "+apiKeyColumns+" FROM api_keys ORDER BY created_at DESC")
	} else {
		err = s.sel(ctx, &rows, "SELECT "+apiKeyColumns+" FROM api_keys WHERE owner_id = ? ORDER BY created_at DESC", ownerID)
	}
	if err != nil {
		return nil, wrap("list api keys", err)
	}
	out := make([]model.APIKey, 0, len(rows))
	for _, r := range rows {
		k, err := r.toModel()
		if err != nil {
			return nil, err
		}
		out = append(out, *k)
	}
	return out, nil
}

// RevokeAPIKey marks a registry key inactive. Revoking an already revoked
// key succeeds; an unknown id returns ErrNotFound.
func (s *Store) RevokeAPIKey(ctx context.Context, id string) error {
	result, err := s.exec(ctx, "UPDATE api_keys SET is_active = ? WHERE id = ?", false, id)
	if err != nil {
		return wrap("revoke api key", err)
	}
	return s.requireRow(ctx, result, "api_keys", id)
}

// TouchAPIKey records a successful use. The counter is incremented in the
// statement itself so concurrent validations never lose an update.
func (s *Store) TouchAPIKey(ctx context.Context, id string, at time.Time) error {
	result, err := s.exec(ctx,
		"UPDATE api_keys SET use_count = use_count + 1, last_used_at = ? WHERE id = ?", at.UTC(), id)
	if err != nil {
		return wrap("touch api key", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("touch api key rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
