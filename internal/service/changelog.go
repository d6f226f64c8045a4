package service

import (
	"context"

	"github.com/Smart-Samurai/Krapi-sub010/internal/config"
	"github.com/Smart-Samurai/Krapi-sub010/internal/model"
)

// ChangelogStore reads committed changelog entries.
type ChangelogStore interface {
	ListChangelog(ctx context.Context, f config.ChangelogFilter) ([]model.ChangelogEntry, error)
}

// maxChangelogPage caps a single changelog read.
const maxChangelogPage = 500

// ChangelogReader serves the audit trail to callers holding admin:read.
type ChangelogReader struct {
	store ChangelogStore
	guard *Guard
}

// NewChangelogReader creates a ChangelogReader.
func NewChangelogReader(store ChangelogStore, guard *Guard) *ChangelogReader {
	return &ChangelogReader{store: store, guard: guard}
}

// List returns matching entries, newest first.
func (r *ChangelogReader) List(ctx context.Context, actx *AuthContext, f config.ChangelogFilter) ([]model.ChangelogEntry, error) {
	if err := r.guard.RequireScope(actx, model.ScopeAdminRead); err != nil {
		return nil, err
	}
	if f.Limit <= 0 || f.Limit > maxChangelogPage {
		f.Limit = maxChangelogPage
	}
	entries, err := r.store.ListChangelog(ctx, f)
	if err != nil {
		return nil, Classify(err)
	}
	return entries, nil
}
