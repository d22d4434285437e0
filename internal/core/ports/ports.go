package ports

import (
	"context"

	"github.com/luminahq/lumina/internal/core/domain"
)

// LicenseStore is the persistence contract shared by all backends. Every
// implementation must expose byte-for-byte equivalent semantics so data can
// migrate between backends without loss.
//
// AddActivation is the authoritative critical section for the activation
// quota: within one serialized unit per license it re-checks whether the
// identity is already present (created=false, nil error), re-counts the
// ledger against MaxActivations (domain.ErrMaxActivations), and appends.
type LicenseStore interface {
	GetByKey(ctx context.Context, key string) (*domain.License, error)
	GetAll(ctx context.Context) ([]domain.License, error)
	// Create persists the license exactly as given, including timestamps and
	// any pre-existing activation ledger; domain.ErrAlreadyExists on collision.
	Create(ctx context.Context, lic *domain.License) error
	Update(ctx context.Context, key string, upd domain.LicenseUpdate) (*domain.License, error)
	Delete(ctx context.Context, key string) error
	Exists(ctx context.Context, key string) (bool, error)
	AddActivation(ctx context.Context, key, machineCode, ip string) (created bool, err error)
	UpdateVerification(ctx context.Context, key, machineCode, ip string) (bool, error)
	CountActivations(ctx context.Context, key string) (int, error)
	Ping(ctx context.Context) error
}

// APIKeyStore persists long-lived administrative API keys.
type APIKeyStore interface {
	CreateAPIKey(ctx context.Context, key *domain.APIKey) error
	GetAPIKeyByHash(ctx context.Context, keyHash string) (*domain.APIKey, error)
	ListAPIKeys(ctx context.Context) ([]domain.APIKey, error)
	RevokeAPIKey(ctx context.Context, id string) error
}

// Store is the full backend surface implemented by every adapter.
type Store interface {
	LicenseStore
	APIKeyStore
}

// LicenseService is the verification engine plus the administrative
// operations gated behind the Auth Gate.
type LicenseService interface {
	Verify(ctx context.Context, req domain.VerifyRequest) (*domain.VerifyResult, error)
	Create(ctx context.Context, lic *domain.License) (*domain.License, error)
	Get(ctx context.Context, key string) (*domain.License, error)
	GetAll(ctx context.Context) ([]domain.License, error)
	Update(ctx context.Context, key string, upd domain.LicenseUpdate) (*domain.License, error)
	Delete(ctx context.Context, key string) error
	HealthCheck(ctx context.Context) error
}

// AuthGate authenticates administrative callers. Authenticate exchanges the
// admin username and client-side password pre-hash for a short-lived signed
// token; the Verify* methods gate individual requests.
type AuthGate interface {
	Authenticate(ctx context.Context, username, passwordHash string) (string, error)
	VerifyToken(token string) error
	VerifyAPIKey(ctx context.Context, key string) bool
	VerifyTokenOrAPIKey(ctx context.Context, cred string) bool
}
