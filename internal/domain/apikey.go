package domain

import "time"

// APIKeyScope limits what an API key may do.
type APIKeyScope string

const (
	// ScopeRead allows inventory, plan, report and run history.
	ScopeRead APIKeyScope = "read"
	// ScopeExecute additionally allows mutating the organization and managing keys.
	ScopeExecute APIKeyScope = "execute"
)

// Allows reports whether a key with scope s may act with scope want.
func (s APIKeyScope) Allows(want APIKeyScope) bool {
	return s == ScopeExecute || s == want
}

// APIKey authenticates a caller of the HTTP API.
// The actual key is only returned once on creation.
type APIKey struct {
	ID         string      `json:"id" db:"id"`
	Name       string      `json:"name" db:"name"`
	KeyHash    string      `json:"-" db:"key_hash"`
	KeyPrefix  string      `json:"key_prefix" db:"key_prefix"` // first 8 chars for identification
	Scope      APIKeyScope `json:"scope" db:"scope"`
	CreatedAt  time.Time   `json:"created_at" db:"created_at"`
	LastUsedAt *time.Time  `json:"last_used_at,omitempty" db:"last_used_at"`
}

// CreateAPIKeyRequest is the request body for creating an API key.
type CreateAPIKeyRequest struct {
	Name  string      `json:"name" validate:"required,max=128"`
	Scope APIKeyScope `json:"scope" validate:"omitempty,oneof=read execute"`
}

// CreateAPIKeyResponse is returned when creating an API key.
type CreateAPIKeyResponse struct {
	ID        string      `json:"id"`
	Name      string      `json:"name"`
	Key       string      `json:"key"`
	KeyPrefix string      `json:"key_prefix"`
	Scope     APIKeyScope `json:"scope"`
	CreatedAt time.Time   `json:"created_at"`
}
