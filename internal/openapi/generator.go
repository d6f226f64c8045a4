package openapi

import (
	"strings"

	"github.com/getkin/kin-openapi/openapi3"
)

// operation describes one route of the HTTP API.
type operation struct {
	method  string
	path    string
	tag     string
	id      string
	summary string
	public  bool
	request string // component schema name of the body, if any
	status  string
	data    *openapi3.SchemaRef
	params  openapi3.Parameters
}

// Generate builds the OpenAPI 3.1 document for the auth API served under
// serverURL (scheme, host and base path).
func Generate(serverURL, version string) *openapi3.T {
	if version == "" {
		version = "1.0.0"
	}
	doc := &openapi3.T{
		OpenAPI: "3.1.0",
		Info: &openapi3.Info{
			Title:       "Krapi Auth API",
			Description: "Admin authentication, API keys, sessions and the audit changelog.",
			Version:     version,
		},
		Servers: openapi3.Servers{
			{URL: serverURL},
		},
	}

	components := openapi3.NewComponents()
	components.Schemas = openapi3.Schemas{}
	components.SecuritySchemes = openapi3.SecuritySchemes{}
	doc.Components = &components

	doc.Components.SecuritySchemes["bearerAuth"] = &openapi3.SecuritySchemeRef{
		Value: &openapi3.SecurityScheme{
			Type:        "http",
			Scheme:      "bearer",
			Description: "Opaque session token returned by the login endpoints.",
		},
	}
	doc.Components.SecuritySchemes["apiKey"] = &openapi3.SecuritySchemeRef{
		Value: &openapi3.SecurityScheme{
			Type:        "apiKey",
			In:          "header",
			Name:        "X-API-Key",
			Description: "Accepted by the API key login endpoint only.",
		},
	}
	doc.Security = openapi3.SecurityRequirements{
		{"bearerAuth": {}},
	}

	addSchemas(doc.Components.Schemas)

	doc.Paths = openapi3.NewPaths()
	for _, op := range operations() {
		addOperation(doc, op)
	}
	return doc
}

func addOperation(doc *openapi3.T, op operation) {
	o := &openapi3.Operation{
		Tags:        []string{op.tag},
		Summary:     op.summary,
		OperationID: op.id,
		Parameters:  op.params,
		Responses:   newResponses(op.status, op.summary, envelopeOf(op.data)),
	}
	if op.public {
		o.Security = &openapi3.SecurityRequirements{}
	}
	if op.request != "" {
		o.RequestBody = &openapi3.RequestBodyRef{
			Value: &openapi3.RequestBody{
				Required: true,
				Content:  openapi3.NewContentWithJSONSchemaRef(ref(op.request)),
			},
		}
	}
	if !op.public {
		forbiddenDesc := "Missing scope or role"
		o.Responses.Set("403", &openapi3.ResponseRef{
			Value: &openapi3.Response{
				Description: &forbiddenDesc,
				Content:     openapi3.NewContentWithJSONSchemaRef(ref("ErrorResponse")),
			},
		})
	}

	item := doc.Paths.Value(op.path)
	if item == nil {
		item = &openapi3.PathItem{}
		doc.Paths.Set(op.path, item)
	}
	switch op.method {
	case "GET":
		item.Get = o
	case "POST":
		item.Post = o
	case "PUT":
		item.Put = o
	case "DELETE":
		item.Delete = o
	}
}

func operations() []operation {
	idParam := openapi3.Parameters{pathParam("id")}
	return []operation{
		{method: "POST", path: "/auth/admin/login", tag: "auth", id: "login", summary: "Log in with username or email and password",
			public: true, request: "LoginRequest", status: "200", data: ref("LoginResult")},
		{method: "POST", path: "/auth/admin/api-login", tag: "auth", id: "apiLogin", summary: "Exchange an API key for a session",
			public: true, request: "APILoginRequest", status: "200", data: ref("LoginResult")},
		{method: "POST", path: "/auth/session/validate", tag: "auth", id: "validateSession", summary: "Check a session token",
			public: true, request: "ValidateRequest", status: "200", data: ref("ValidateResult")},
		{method: "POST", path: "/auth/logout", tag: "auth", id: "logout", summary: "Consume the bearer session",
			status: "200", data: messageSchema()},
		{method: "GET", path: "/auth/me", tag: "auth", id: "me", summary: "Current account and session scopes",
			status: "200", data: ref("CurrentUser")},
		{method: "POST", path: "/auth/change-password", tag: "auth", id: "changePassword", summary: "Change the caller's password",
			request: "ChangePasswordRequest", status: "200", data: messageSchema()},
		{method: "POST", path: "/auth/regenerate-api-key", tag: "auth", id: "regenerateApiKey", summary: "Replace the caller's inline API key",
			status: "200", data: objectOf(openapi3.Schemas{"api_key": stringSchema("")})},

		{method: "GET", path: "/admin/users", tag: "admins", id: "listAdmins", summary: "List admin accounts",
			status: "200", data: listOf(ref("AdminUser"))},
		{method: "POST", path: "/admin/users", tag: "admins", id: "createAdmin", summary: "Create an admin account",
			request: "CreateAdminRequest", status: "201", data: ref("AdminUser")},
		{method: "GET", path: "/admin/users/{id}", tag: "admins", id: "getAdmin", summary: "Get an admin account",
			params: idParam, status: "200", data: ref("AdminUser")},
		{method: "PUT", path: "/admin/users/{id}", tag: "admins", id: "updateAdmin", summary: "Update an admin account",
			params: idParam, request: "UpdateAdminRequest", status: "200", data: ref("AdminUser")},
		{method: "DELETE", path: "/admin/users/{id}", tag: "admins", id: "deleteAdmin", summary: "Delete an admin account",
			params: idParam, status: "200", data: objectOf(openapi3.Schemas{"id": stringSchema("")})},

		{method: "GET", path: "/apikeys", tag: "apikeys", id: "listApiKeys", summary: "List API keys",
			params: openapi3.Parameters{queryParam("owner_id", "Owner account id; * lists every key.", "string")},
			status: "200", data: listOf(ref("APIKey"))},
		{method: "POST", path: "/apikeys", tag: "apikeys", id: "createApiKey", summary: "Issue an API key",
			request: "CreateAPIKeyRequest", status: "201", data: objectOf(openapi3.Schemas{
				"api_key": stringSchema(""),
				"key":     ref("APIKey"),
			})},
		{method: "DELETE", path: "/apikeys/{id}", tag: "apikeys", id: "revokeApiKey", summary: "Revoke an API key",
			params: idParam, status: "200", data: objectOf(openapi3.Schemas{"id": stringSchema(""), "is_active": boolSchema()})},

		{method: "GET", path: "/changelog", tag: "changelog", id: "listChangelog", summary: "Read the audit trail, newest first",
			params: openapi3.Parameters{
				queryParam("entity_type", "Filter by entity type.", "string"),
				queryParam("entity_id", "Filter by entity id.", "string"),
				queryParam("performed_by", "Filter by acting account id.", "string"),
				queryParam("limit", "Maximum entries returned (1-500).", "integer"),
			},
			status: "200", data: listOf(ref("ChangelogEntry"))},
	}
}

func addSchemas(s openapi3.Schemas) {
	s["ErrorResponse"] = objectOf(openapi3.Schemas{
		"success": boolSchema(),
		"error":   stringSchema(""),
		"code":    stringSchema(""),
	})
	s["AdminUser"] = objectOf(openapi3.Schemas{
		"id":             stringSchema("uuid"),
		"username":       stringSchema(""),
		"email":          stringSchema("email"),
		"role":           enumSchema("master_admin", "admin", "developer"),
		"access_level":   enumSchema("full", "read_write", "read_only"),
		"permissions":    arrayOf(stringSchema("")),
		"scopes":         arrayOf(stringSchema("")),
		"active":         boolSchema(),
		"api_key_prefix": stringSchema(""),
		"created_at":     stringSchema("date-time"),
		"last_login":     stringSchema("date-time"),
	})
	s["APIKey"] = objectOf(openapi3.Schemas{
		"id":           stringSchema("uuid"),
		"name":         stringSchema(""),
		"key_prefix":   stringSchema(""),
		"type":         enumSchema("master", "admin", "project"),
		"owner_id":     stringSchema("uuid"),
		"use_count":    {Value: &openapi3.Schema{Type: &openapi3.Types{"integer"}, Format: "int64"}},
		"scopes":       arrayOf(stringSchema("")),
		"project_ids":  arrayOf(stringSchema("")),
		"is_active":    boolSchema(),
		"expires_at":   stringSchema("date-time"),
		"last_used_at": stringSchema("date-time"),
		"created_at":   stringSchema("date-time"),
	})
	s["ChangelogEntry"] = objectOf(openapi3.Schemas{
		"id":           stringSchema("uuid"),
		"entity_type":  stringSchema(""),
		"entity_id":    stringSchema(""),
		"action":       enumSchema("created", "updated", "deleted"),
		"changes":      {Value: &openapi3.Schema{Type: &openapi3.Types{"object"}}},
		"performed_by": stringSchema(""),
		"session_id":   stringSchema(""),
		"timestamp":    stringSchema("date-time"),
	})
	s["LoginResult"] = objectOf(openapi3.Schemas{
		"token":         stringSchema(""),
		"session_token": stringSchema(""),
		"expires_at":    stringSchema("date-time"),
		"session_type":  enumSchema("admin", "project"),
		"user":          ref("AdminUser"),
	})
	s["ValidateResult"] = objectOf(openapi3.Schemas{
		"valid":      boolSchema(),
		"expires_at": stringSchema("date-time"),
		"type":       enumSchema("admin", "project"),
	})
	s["CurrentUser"] = objectOf(openapi3.Schemas{
		"user":         ref("AdminUser"),
		"scopes":       arrayOf(stringSchema("")),
		"session_type": enumSchema("admin", "project"),
		"expires_at":   stringSchema("date-time"),
	})

	s["LoginRequest"] = required(objectOf(openapi3.Schemas{
		"identifier": stringSchema(""),
		"username":   stringSchema(""),
		"email":      stringSchema(""),
		"password":   stringSchema("password"),
	}), "password")
	s["APILoginRequest"] = objectOf(openapi3.Schemas{
		"api_key": stringSchema(""),
	})
	s["ValidateRequest"] = required(objectOf(openapi3.Schemas{
		"session_token": stringSchema(""),
	}), "session_token")
	s["ChangePasswordRequest"] = required(objectOf(openapi3.Schemas{
		"current_password": stringSchema("password"),
		"new_password":     stringSchema("password"),
	}), "current_password", "new_password")
	s["CreateAdminRequest"] = required(objectOf(openapi3.Schemas{
		"email":        stringSchema("email"),
		"username":     stringSchema(""),
		"password":     stringSchema("password"),
		"role":         enumSchema("master_admin", "admin", "developer"),
		"access_level": enumSchema("full", "read_write", "read_only"),
		"permissions":  arrayOf(stringSchema("")),
		"active":       boolSchema(),
	}), "email", "username", "password", "role")
	s["UpdateAdminRequest"] = objectOf(openapi3.Schemas{
		"email":        stringSchema("email"),
		"username":     stringSchema(""),
		"role":         enumSchema("master_admin", "admin", "developer"),
		"access_level": enumSchema("full", "read_write", "read_only"),
		"permissions":  arrayOf(stringSchema("")),
		"active":       boolSchema(),
	})
	s["CreateAPIKeyRequest"] = required(objectOf(openapi3.Schemas{
		"name":        stringSchema(""),
		"type":        enumSchema("master", "admin", "project"),
		"owner_id":    stringSchema("uuid"),
		"scopes":      arrayOf(stringSchema("")),
		"project_ids": arrayOf(stringSchema("")),
		"expires_at":  stringSchema("date-time"),
	}), "name", "type")
}

// newResponses builds a Responses map with a success response and standard error responses.
func newResponses(statusCode, description string, schema *openapi3.SchemaRef) *openapi3.Responses {
	responses := openapi3.NewResponses()

	successDesc := description
	responses.Set(statusCode, &openapi3.ResponseRef{
		Value: &openapi3.Response{
			Description: &successDesc,
			Content:     openapi3.NewContentWithJSONSchemaRef(schema),
		},
	})

	errorRef := ref("ErrorResponse")
	for _, e := range []struct{ code, desc string }{
		{"400", "Bad request"},
		{"401", "Unauthorized"},
		{"404", "Not found"},
		{"409", "Conflict"},
		{"500", "Internal server error"},
		{"503", "Storage backend unavailable"},
	} {
		desc := e.desc
		responses.Set(e.code, &openapi3.ResponseRef{
			Value: &openapi3.Response{
				Description: &desc,
				Content:     openapi3.NewContentWithJSONSchemaRef(errorRef),
			},
		})
	}
	return responses
}

// envelopeOf wraps a data schema in the success envelope.
func envelopeOf(data *openapi3.SchemaRef) *openapi3.SchemaRef {
	return required(objectOf(openapi3.Schemas{
		"success": boolSchema(),
		"data":    data,
	}), "success")
}

// listOf is the list payload: resource plus meta.
func listOf(item *openapi3.SchemaRef) *openapi3.SchemaRef {
	return objectOf(openapi3.Schemas{
		"resource": arrayOf(item),
		"meta":     metaSchema(),
	})
}

// metaSchema returns the schema for the "meta" field in list responses.
func metaSchema() *openapi3.SchemaRef {
	return objectOf(openapi3.Schemas{
		"count": {Value: &openapi3.Schema{
			Type:        &openapi3.Types{"integer"},
			Format:      "int64",
			Description: "Number of records returned.",
		}},
		"limit": {Value: &openapi3.Schema{
			Type:        &openapi3.Types{"integer"},
			Format:      "int32",
			Description: "Maximum records requested, 0 when unbounded.",
		}},
	})
}

func messageSchema() *openapi3.SchemaRef {
	return objectOf(openapi3.Schemas{"message": stringSchema("")})
}

// ─── Schema Helpers ─────────────────────────────────────────────────────────

func ref(name string) *openapi3.SchemaRef {
	return openapi3.NewSchemaRef("#/components/schemas/"+name, nil)
}

func objectOf(props openapi3.Schemas) *openapi3.SchemaRef {
	return &openapi3.SchemaRef{Value: &openapi3.Schema{Type: &openapi3.Types{"object"}, Properties: props}}
}

func arrayOf(item *openapi3.SchemaRef) *openapi3.SchemaRef {
	return &openapi3.SchemaRef{Value: &openapi3.Schema{Type: &openapi3.Types{"array"}, Items: item}}
}

func stringSchema(format string) *openapi3.SchemaRef {
	return &openapi3.SchemaRef{Value: &openapi3.Schema{Type: &openapi3.Types{"string"}, Format: format}}
}

func boolSchema() *openapi3.SchemaRef {
	return &openapi3.SchemaRef{Value: &openapi3.Schema{Type: &openapi3.Types{"boolean"}}}
}

func enumSchema(values ...string) *openapi3.SchemaRef {
	enum := make([]interface{}, len(values))
	for i, v := range values {
		enum[i] = v
	}
	return &openapi3.SchemaRef{Value: &openapi3.Schema{Type: &openapi3.Types{"string"}, Enum: enum}}
}

func required(s *openapi3.SchemaRef, names ...string) *openapi3.SchemaRef {
	s.Value.Required = names
	return s
}

func pathParam(name string) *openapi3.ParameterRef {
	return &openapi3.ParameterRef{Value: &openapi3.Parameter{
		Name:     name,
		In:       "path",
		Required: true,
		Schema:   stringSchema(""),
	}}
}

func queryParam(name, desc, typ string) *openapi3.ParameterRef {
	return &openapi3.ParameterRef{Value: &openapi3.Parameter{
		Name:        name,
		In:          "query",
		Description: desc,
		Schema:      &openapi3.SchemaRef{Value: &openapi3.Schema{Type: &openapi3.Types{typ}}},
	}}
}

// OperationIDs lists every operation id in document order, for tooling that
// checks coverage.
func OperationIDs() []string {
	ops := operations()
	ids := make([]string, 0, len(ops))
	for _, op := range ops {
		ids = append(ids, op.id)
	}
	return ids
}

// PublicPaths returns the routes that take no bearer token.
func PublicPaths() []string {
	var out []string
	for _, op := range operations() {
		if op.public {
			out = append(out, op.path)
		}
	}
	return out
}

// IsPublicPath reports whether path (relative to the base path) takes no
// bearer token.
func IsPublicPath(path string) bool {
	path = "/" + strings.Trim(path, "/")
	for _, p := range PublicPaths() {
		if p == path {
			return true
		}
	}
	return false
}
