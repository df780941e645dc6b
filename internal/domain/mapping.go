package domain

import (
	"strings"
	"time"
)

// MappingKind separates account mappings from voucher type mappings
type MappingKind string

const (
	MappingAccount     MappingKind = "account"
	MappingVoucherType MappingKind = "voucher_type"
)

// Scope is either global or bound to one import
type Scope struct {
	ImportID string `json:"import_id,omitempty"`
}

// GlobalScope is the scope shared by every import
var GlobalScope = Scope{}

// ImportScope restricts a mapping to a single import
func ImportScope(importID string) Scope {
	return Scope{ImportID: importID}
}

// IsGlobal reports whether the scope applies to every import
func (s Scope) IsGlobal() bool {
	return s.ImportID == ""
}

// String returns the persisted form of the scope
func (s Scope) String() string {
	if s.IsGlobal() {
		return "global"
	}
	return "import:" + s.ImportID
}

// ParseScope is the inverse of Scope.String
func ParseScope(s string) Scope {
	if rest, ok := strings.CutPrefix(s, "import:"); ok {
		return ImportScope(rest)
	}
	return GlobalScope
}

// AccountMapping resolves an external reference to an internal identifier
type AccountMapping struct {
	ID                string      `json:"id" db:"id"`
	Kind              MappingKind `json:"kind" db:"kind"`
	ExternalRef       string      `json:"external_ref" db:"external_ref"`
	InternalAccountID string      `json:"internal_account_id" db:"internal_account_id"`
	Scope             Scope       `json:"scope" db:"scope"`
	CreatedBy         string      `json:"created_by" db:"created_by"`
	CreatedAt         time.Time   `json:"created_at" db:"created_at"`
	LastUsedAt        time.Time   `json:"last_used_at" db:"last_used_at"`
}

// MappingKey is the (kind, externalRef, scope) lookup key
type MappingKey struct {
	Kind        MappingKind
	ExternalRef string
	Scope       Scope
}

// Key returns the lookup key of the mapping
func (m AccountMapping) Key() MappingKey {
	return MappingKey{Kind: m.Kind, ExternalRef: m.ExternalRef, Scope: m.Scope}
}

// String is used for lock and cache keys
func (k MappingKey) String() string {
	return "mapping:" + string(k.Kind) + ":" + k.Scope.String() + ":" + NormalizeRef(k.ExternalRef)
}

// NormalizeRef folds case and collapses whitespace
func NormalizeRef(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}

// Account is an entry of the internal chart of accounts
type Account struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// MappingSuggestion is a fuzzy match proposal; it is never applied automatically
type MappingSuggestion struct {
	InternalAccountID string  `json:"internal_account_id"`
	Name              string  `json:"name"`
	Score             float64 `json:"score"`
}
