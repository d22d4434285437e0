package domain

import (
	"time"
)

// APIKey is a long-lived administrative credential for the management API.
type APIKey struct {
	ID        string     `json:"id"`
	Name      string     `json:"name"`       // Human-readable label, e.g. "ci-provisioning-key"
	KeyHash   string     `json:"-"`          // SHA-256 hash of the key (never store raw)
	KeyPrefix string     `json:"key_prefix"` // First 8 chars for identification
	Active    bool       `json:"active"`
	CreatedAt time.Time  `json:"created_at"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

// AdminLogin is the credential payload for the admin login endpoint.
// PasswordHash is the client-side SHA-256 pre-hash of the password; the raw
// password never travels to the server.
type AdminLogin struct {
	Username     string `json:"username" validate:"required"`
	PasswordHash string `json:"password_hash" validate:"required,len=64,hexadecimal"`
}

// AdminToken is the login response carrying a short-lived access token.
type AdminToken struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
}
