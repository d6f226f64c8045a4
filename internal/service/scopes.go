package service

import "github.com/Smart-Samurai/Krapi-sub010/internal/model"

// projectScopes are the capabilities that make sense inside one project.
var projectScopes = []model.Scope{
	model.ScopeProjectsRead, model.ScopeProjectsWrite,
	model.ScopeCollectionsRead, model.ScopeCollectionsWrite, model.ScopeCollectionsDelete,
	model.ScopeDocumentsRead, model.ScopeDocumentsWrite, model.ScopeDocumentsDelete,
	model.ScopeStorageRead, model.ScopeStorageWrite, model.ScopeStorageDelete,
	model.ScopeEmailSend, model.ScopeEmailRead,
	model.ScopeFunctionsExecute,
}

// roleScopes is the one mapping from role to base scopes.
var roleScopes = map[model.Role][]model.Scope{
	model.RoleMasterAdmin: {model.ScopeMaster},
	model.RoleAdmin:       nonMaster(),
	model.RoleDeveloper: {
		model.ScopeAdminRead,
		model.ScopeProjectsRead, model.ScopeProjectsWrite,
		model.ScopeCollectionsRead, model.ScopeCollectionsWrite,
		model.ScopeDocumentsRead, model.ScopeDocumentsWrite,
		model.ScopeStorageRead, model.ScopeStorageWrite,
		model.ScopeFunctionsExecute,
	},
}

func nonMaster() []model.Scope {
	var out []model.Scope
	for _, s := range model.AllScopes() {
		if s != model.ScopeMaster {
			out = append(out, s)
		}
	}
	return out
}

// DeriveFromRole returns the base scopes of role unioned with the explicit
// permissions. The master scope is only ever granted through the role table.
func DeriveFromRole(role model.Role, permissions model.ScopeSet) model.ScopeSet {
	set := model.NewScopeSet(roleScopes[role]...)
	for s := range permissions {
		if s == model.ScopeMaster || !s.Valid() {
			continue
		}
		set.Add(s)
	}
	return set
}

// DeriveFromAPIKey returns the key's stored scopes verbatim.
func DeriveFromAPIKey(k *model.APIKey) model.ScopeSet {
	return k.Scopes.Clone()
}

// DefaultKeyScopes returns the scopes a new key of type t receives when the
// caller names none, limited to what the actor holds.
func DefaultKeyScopes(t model.KeyType, actor model.ScopeSet) model.ScopeSet {
	var base []model.Scope
	switch t {
	case model.KeyTypeMaster:
		base = []model.Scope{model.ScopeMaster}
	case model.KeyTypeAdmin:
		base = roleScopes[model.RoleAdmin]
	default:
		base = projectScopes
	}
	out := model.NewScopeSet()
	for _, s := range base {
		if model.HasScope(actor, s) {
			out.Add(s)
		}
	}
	return out
}
