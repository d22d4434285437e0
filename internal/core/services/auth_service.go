package services

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/luminahq/lumina/internal/core/domain"
	"github.com/luminahq/lumina/internal/core/ports"
	"github.com/luminahq/lumina/internal/infrastructure/metrics"
)

// AuthConfig carries the admin credential material. AdminPasswordHash is the
// hex SHA-256 of the admin password, the same pre-hash clients send so the
// plaintext never crosses the wire.
type AuthConfig struct {
	AdminUsername     string
	AdminPasswordHash string
	APIKey            string
	SecretKey         string
	TokenTTL          time.Duration
}

type authService struct {
	store     ports.APIKeyStore
	username  string
	secret    []byte
	reference []byte
	apiKeyRef []byte
	tokenTTL  time.Duration
}

// NewAuthService builds the gate. The stored credential reference is the
// HMAC of the configured pre-hash, so Authenticate never handles the raw
// configured value at compare time.
func NewAuthService(store ports.APIKeyStore, cfg AuthConfig) ports.AuthGate {
	ttl := cfg.TokenTTL
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	s := &authService{
		store:    store,
		username: cfg.AdminUsername,
		secret:   []byte(cfg.SecretKey),
		tokenTTL: ttl,
	}
	s.reference = s.credentialMAC(cfg.AdminPasswordHash)
	if cfg.APIKey != "" {
		sum := sha256.Sum256([]byte(cfg.APIKey))
		s.apiKeyRef = []byte(hex.EncodeToString(sum[:]))
	}
	return s
}

func (s *authService) credentialMAC(passwordHash string) []byte {
	mac := hmac.New(sha256.New, s.secret)
	mac.Write([]byte(strings.ToLower(passwordHash)))
	return mac.Sum(nil)
}

func (s *authService) Authenticate(ctx context.Context, username, passwordHash string) (string, error) {
	userOK := subtle.ConstantTimeCompare([]byte(username), []byte(s.username)) == 1
	credOK := subtle.ConstantTimeCompare(s.credentialMAC(passwordHash), s.reference) == 1
	if !userOK || !credOK {
		metrics.AuthFailuresTotal.WithLabelValues("password").Inc()
		return "", fmt.Errorf("%w: invalid credentials", domain.ErrAuth)
	}

	now := time.Now()
	claims := jwt.MapClaims{
		"sub":  username,
		"type": "admin",
		"iat":  now.Unix(),
		"exp":  now.Add(s.tokenTTL).Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

func (s *authService) VerifyToken(tokenString string) error {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.secret, nil
	})
	if err != nil {
		metrics.AuthFailuresTotal.WithLabelValues("token").Inc()
		return fmt.Errorf("%w: %v", domain.ErrAuth, err)
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || claims["type"] != "admin" {
		metrics.AuthFailuresTotal.WithLabelValues("token").Inc()
		return fmt.Errorf("%w: not an admin token", domain.ErrAuth)
	}
	return nil
}

// VerifyAPIKey hashes the presented key and accepts either the configured
// key or an active, unexpired key from the store. Store revocations take
// effect immediately because the lookup is live.
func (s *authService) VerifyAPIKey(ctx context.Context, key string) bool {
	sum := sha256.Sum256([]byte(key))
	hash := hex.EncodeToString(sum[:])

	if s.apiKeyRef != nil && subtle.ConstantTimeCompare([]byte(hash), s.apiKeyRef) == 1 {
		return true
	}

	if s.store != nil {
		stored, err := s.store.GetAPIKeyByHash(ctx, hash)
		if err == nil && stored != nil && stored.Active {
			if stored.ExpiresAt == nil || time.Now().Before(*stored.ExpiresAt) {
				return true
			}
		}
	}

	metrics.AuthFailuresTotal.WithLabelValues("api_key").Inc()
	return false
}

func (s *authService) VerifyTokenOrAPIKey(ctx context.Context, cred string) bool {
	if cred == "" {
		return false
	}
	if s.VerifyToken(cred) == nil {
		return true
	}
	return s.VerifyAPIKey(ctx, cred)
}
