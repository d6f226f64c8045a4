package handler

import (
	"net/http"

	"github.com/Smart-Samurai/Krapi-sub010/internal/openapi"
)

// OpenAPIHandler serves the OpenAPI 3.1 document of the HTTP API.
type OpenAPIHandler struct {
	basePath string
	version  string
}

// NewOpenAPIHandler creates a new OpenAPIHandler for routes mounted under
// basePath.
func NewOpenAPIHandler(basePath, version string) *OpenAPIHandler {
	return &OpenAPIHandler{basePath: basePath, version: version}
}

// ServeSpec returns the document with a server URL derived from the request.
// GET /krapi/k1/openapi.json
func (h *OpenAPIHandler) ServeSpec(w http.ResponseWriter, r *http.Request) {
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	if fwd := r.Header.Get("X-Forwarded-Proto"); fwd != "" {
		scheme = fwd
	}
	doc := openapi.Generate(scheme+"://"+r.Host+h.basePath, h.version)
	writeJSON(w, http.StatusOK, doc)
}
