// Package apikey implements the API-key service from spec.md §4.6: key
// issuance, validation, lifecycle management, and an append-only audit
// trail. Hashing follows the teacher's pkg/crypto conventions; only the
// SHA-256 digest of a key is ever persisted or logged.
package apikey

import "time"

type Status string

const (
	StatusActive  Status = "active"
	StatusExpired Status = "expired"
	StatusRevoked Status = "revoked"
)

// prefix and keyHexLen define the wire format from spec.md §6:
// es_live_ + 48 lowercase hex chars (24 bytes of randomness).
const (
	prefix    = "es_live_"
	keyBytes  = 24
	keyHexLen = keyBytes * 2
)

// APIKey is the persisted entity; PlaintextKey is never stored — only
// returned once, at creation time, by Service.Create.
type APIKey struct {
	ID          string                 `json:"id"`
	OwnerID     string                 `json:"ownerId"`
	Name        string                 `json:"name"`
	KeyHash     string                 `json:"keyHash"`
	Permissions []string               `json:"permissions"`
	Status      Status                 `json:"status"`
	AutoRenew   bool                   `json:"autoRenew"`
	Settings    map[string]interface{} `json:"settings,omitempty"`
	CreatedAt   time.Time              `json:"createdAt"`
	ExpiresAt   time.Time              `json:"expiresAt"`
	LastUsedAt  *time.Time             `json:"lastUsedAt,omitempty"`
	RevokedAt   *time.Time             `json:"revokedAt,omitempty"`
}

// AuditEntry is one append-only row recording a state-changing or
// validation operation against a key. The plaintext key is never
// included in Metadata.
type AuditEntry struct {
	ID        string                 `json:"id"`
	KeyID     string                 `json:"keyId"`
	Action    string                 `json:"action"`
	UserID    string                 `json:"userId,omitempty"`
	IPAddress string                 `json:"ipAddress,omitempty"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	CreatedAt time.Time              `json:"createdAt"`
}

// Stats summarizes an owner's keys for the dashboard surface.
type Stats struct {
	Total        int `json:"total"`
	Active       int `json:"active"`
	Expired      int `json:"expired"`
	Revoked      int `json:"revoked"`
	ExpiringSoon int `json:"expiringSoon"`
}

// RequestContext carries the caller metadata audited alongside a
// successful validate() call.
type RequestContext struct {
	IPAddress string
	UserAgent string
}
