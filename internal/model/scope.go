package model

import (
	"encoding/json"
	"fmt"
	"sort"
)

// Scope is a named permission unit gating one capability, e.g. "projects:read".
type Scope string

// ScopeMaster implies every other scope. It is never enumerated.
const ScopeMaster Scope = "master"

const (
	ScopeAdminRead   Scope = "admin:read"
	ScopeAdminWrite  Scope = "admin:write"
	ScopeAdminDelete Scope = "admin:delete"

	ScopeProjectsRead   Scope = "projects:read"
	ScopeProjectsWrite  Scope = "projects:write"
	ScopeProjectsDelete Scope = "projects:delete"

	ScopeCollectionsRead   Scope = "collections:read"
	ScopeCollectionsWrite  Scope = "collections:write"
	ScopeCollectionsDelete Scope = "collections:delete"

	ScopeDocumentsRead   Scope = "documents:read"
	ScopeDocumentsWrite  Scope = "documents:write"
	ScopeDocumentsDelete Scope = "documents:delete"

	ScopeStorageRead   Scope = "storage:read"
	ScopeStorageWrite  Scope = "storage:write"
	ScopeStorageDelete Scope = "storage:delete"

	ScopeEmailSend Scope = "email:send"
	ScopeEmailRead Scope = "email:read"

	ScopeFunctionsExecute Scope = "functions:execute"
)

// allScopes is the closed set of known scopes, master included.
var allScopes = []Scope{
	ScopeMaster,
	ScopeAdminRead, ScopeAdminWrite, ScopeAdminDelete,
	ScopeProjectsRead, ScopeProjectsWrite, ScopeProjectsDelete,
	ScopeCollectionsRead, ScopeCollectionsWrite, ScopeCollectionsDelete,
	ScopeDocumentsRead, ScopeDocumentsWrite, ScopeDocumentsDelete,
	ScopeStorageRead, ScopeStorageWrite, ScopeStorageDelete,
	ScopeEmailSend, ScopeEmailRead,
	ScopeFunctionsExecute,
}

var knownScopes = func() map[Scope]struct{} {
	m := make(map[Scope]struct{}, len(allScopes))
	for _, s := range allScopes {
		m[s] = struct{}{}
	}
	return m
}()

// AllScopes returns a copy of every known scope.
func AllScopes() []Scope {
	out := make([]Scope, len(allScopes))
	copy(out, allScopes)
	return out
}

// Valid reports whether s is one of the known scopes.
func (s Scope) Valid() bool {
	_, ok := knownScopes[s]
	return ok
}

// ParseScope converts a string into a known Scope.
func ParseScope(v string) (Scope, error) {
	s := Scope(v)
	if !s.Valid() {
		return "", fmt.Errorf("unknown scope %q", v)
	}
	return s, nil
}

// ScopeSet is an unordered set of scopes. A nil set is empty but Add
// requires a set built with NewScopeSet.
type ScopeSet map[Scope]struct{}

// NewScopeSet builds a set from the given scopes.
func NewScopeSet(scopes ...Scope) ScopeSet {
	set := make(ScopeSet, len(scopes))
	for _, s := range scopes {
		set[s] = struct{}{}
	}
	return set
}

// ParseScopeSet parses raw strings into a set, failing on the first unknown one.
func ParseScopeSet(raw []string) (ScopeSet, error) {
	set := make(ScopeSet, len(raw))
	for _, v := range raw {
		s, err := ParseScope(v)
		if err != nil {
			return nil, err
		}
		set[s] = struct{}{}
	}
	return set, nil
}

// KnownScopeSet keeps the recognised names in raw and drops the rest. It is
// for rows written earlier, which may hold scopes retired since; request
// bodies go through ParseScopeSet.
func KnownScopeSet(raw []string) (set ScopeSet, dropped []string) {
	set = make(ScopeSet, len(raw))
	for _, v := range raw {
		if s := Scope(v); s.Valid() {
			set[s] = struct{}{}
			continue
		}
		dropped = append(dropped, v)
	}
	return set, dropped
}

// DecodeStoredScopes decodes a persisted JSON array with KnownScopeSet.
func DecodeStoredScopes(data []byte) (ScopeSet, error) {
	var raw []string
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, err
	}
	set, _ := KnownScopeSet(raw)
	return set, nil
}

// Add inserts scopes into the set.
func (set ScopeSet) Add(scopes ...Scope) {
	for _, s := range scopes {
		set[s] = struct{}{}
	}
}

// Contains is literal membership. Use HasScope for authorization checks.
func (set ScopeSet) Contains(s Scope) bool {
	_, ok := set[s]
	return ok
}

// Union returns a new set holding the members of both sets.
func (set ScopeSet) Union(other ScopeSet) ScopeSet {
	out := make(ScopeSet, len(set)+len(other))
	for s := range set {
		out[s] = struct{}{}
	}
	for s := range other {
		out[s] = struct{}{}
	}
	return out
}

// Clone returns an independent copy of the set.
func (set ScopeSet) Clone() ScopeSet {
	return set.Union(nil)
}

// Sorted returns the members in lexical order.
func (set ScopeSet) Sorted() []Scope {
	out := make([]Scope, 0, len(set))
	for s := range set {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Strings returns the members as sorted strings.
func (set ScopeSet) Strings() []string {
	sorted := set.Sorted()
	out := make([]string, len(sorted))
	for i, s := range sorted {
		out[i] = string(s)
	}
	return out
}

// HasScope is the single authorization predicate. A set holding the master
// scope satisfies every request.
func HasScope(set ScopeSet, want Scope) bool {
	if set.Contains(ScopeMaster) {
		return true
	}
	return set.Contains(want)
}

// Covers reports whether every scope in requested is granted by set.
func (set ScopeSet) Covers(requested ScopeSet) bool {
	for s := range requested {
		if !HasScope(set, s) {
			return false
		}
	}
	return true
}

// MarshalJSON encodes the set as a sorted array.
func (set ScopeSet) MarshalJSON() ([]byte, error) {
	return json.Marshal(set.Strings())
}

// UnmarshalJSON decodes an array of scope names, rejecting unknown ones.
// Stored rows use DecodeStoredScopes instead.
func (set *ScopeSet) UnmarshalJSON(data []byte) error {
	var raw []string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	parsed, err := ParseScopeSet(raw)
	if err != nil {
		return err
	}
	*set = parsed
	return nil
}
