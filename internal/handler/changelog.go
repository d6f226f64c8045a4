package handler

import (
	"net/http"

	"github.com/Smart-Samurai/Krapi-sub010/internal/config"
	"github.com/Smart-Samurai/Krapi-sub010/internal/service"
)

// ChangelogHandler serves the audit trail.
type ChangelogHandler struct {
	reader *service.ChangelogReader
}

// NewChangelogHandler creates a new ChangelogHandler.
func NewChangelogHandler(reader *service.ChangelogReader) *ChangelogHandler {
	return &ChangelogHandler{reader: reader}
}

// ListChangelog returns entries newest first.
// GET /krapi/k1/changelog?entity_type=&entity_id=&performed_by=&limit=
func (h *ChangelogHandler) ListChangelog(w http.ResponseWriter, r *http.Request) {
	limit := clampInt(queryInt(r, "limit", 100), 1, 500)
	entries, err := h.reader.List(r.Context(), service.AuthContextFrom(r.Context()), config.ChangelogFilter{
		EntityType:  queryString(r, "entity_type"),
		EntityID:    queryString(r, "entity_id"),
		PerformedBy: queryString(r, "performed_by"),
		Limit:       limit,
	})
	if err != nil {
		WriteServiceError(w, r, err)
		return
	}
	writeList(w, entries, len(entries), limit)
}
