package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/luminahq/lumina/internal/core/domain"
)

// JSONFileStore persists all licenses in a single JSON document. Every
// mutation runs load -> modify -> atomic rename under one mutex, so the
// scan-then-append sequence for a license is a single critical section
// within the process. A best-effort flock guards against a second process
// rewriting the same file.
type JSONFileStore struct {
	path string
	mu   sync.Mutex
}

type jsonDocument struct {
	Licenses []domain.License `json:"licenses"`
	APIKeys  []jsonAPIKey     `json:"api_keys"`
	Metadata jsonMetadata     `json:"metadata"`
}

type jsonMetadata struct {
	Version       string    `json:"version"`
	TotalLicenses int       `json:"total_licenses"`
	LastUpdated   time.Time `json:"last_updated"`
}

// jsonAPIKey mirrors domain.APIKey but serializes the key hash, which the
// domain type deliberately hides from JSON output.
type jsonAPIKey struct {
	ID        string     `json:"id"`
	Name      string     `json:"name"`
	KeyHash   string     `json:"key_hash"`
	KeyPrefix string     `json:"key_prefix"`
	Active    bool       `json:"active"`
	CreatedAt time.Time  `json:"created_at"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

// NewJSONFileStore opens (creating if necessary) the document at path.
func NewJSONFileStore(path string) (*JSONFileStore, error) {
	s := &JSONFileStore{path: path}

	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, fmt.Errorf("create data directory: %w", err)
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		doc := &jsonDocument{Licenses: []domain.License{}, APIKeys: []jsonAPIKey{}}
		if err := s.save(doc); err != nil {
			return nil, err
		}
	} else if err != nil {
		return nil, err
	}

	return s, nil
}

func (s *JSONFileStore) load() (*jsonDocument, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return nil, fmt.Errorf("read license file: %w", err)
	}

	var doc jsonDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse license file: %w", err)
	}
	return &doc, nil
}

// save rewrites the document via a temp file and rename so readers never
// observe a torn write.
func (s *JSONFileStore) save(doc *jsonDocument) error {
	doc.Metadata.Version = "1.0"
	doc.Metadata.TotalLicenses = len(doc.Licenses)
	doc.Metadata.LastUpdated = time.Now().UTC()

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("encode license file: %w", err)
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write license file: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("replace license file: %w", err)
	}
	return nil
}

// mutate runs fn against the loaded document and, when fn reports dirty,
// commits the rewrite. The file lock covers the full cycle.
func (s *JSONFileStore) mutate(fn func(doc *jsonDocument) (bool, error)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	unlock, err := lockFile(s.path + ".lock")
	if err != nil {
		return fmt.Errorf("lock license file: %w", err)
	}
	defer unlock()

	doc, err := s.load()
	if err != nil {
		return err
	}

	dirty, err := fn(doc)
	if err != nil {
		return err
	}
	if !dirty {
		return nil
	}
	return s.save(doc)
}

func (s *JSONFileStore) GetByKey(ctx context.Context, key string) (*domain.License, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.load()
	if err != nil {
		return nil, err
	}
	for i := range doc.Licenses {
		if doc.Licenses[i].Key == key {
			lic := cloneLicense(&doc.Licenses[i])
			return lic, nil
		}
	}
	return nil, nil
}

func (s *JSONFileStore) GetAll(ctx context.Context) ([]domain.License, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.load()
	if err != nil {
		return nil, err
	}
	out := make([]domain.License, 0, len(doc.Licenses))
	for i := range doc.Licenses {
		out = append(out, *cloneLicense(&doc.Licenses[i]))
	}
	return out, nil
}

func (s *JSONFileStore) Create(ctx context.Context, lic *domain.License) error {
	return s.mutate(func(doc *jsonDocument) (bool, error) {
		for i := range doc.Licenses {
			if doc.Licenses[i].Key == lic.Key {
				return false, fmt.Errorf("%w: %s", domain.ErrAlreadyExists, lic.Key)
			}
		}
		doc.Licenses = append(doc.Licenses, *cloneLicense(lic))
		return true, nil
	})
}

func (s *JSONFileStore) Update(ctx context.Context, key string, upd domain.LicenseUpdate) (*domain.License, error) {
	var updated *domain.License
	err := s.mutate(func(doc *jsonDocument) (bool, error) {
		for i := range doc.Licenses {
			if doc.Licenses[i].Key != key {
				continue
			}
			applyUpdate(&doc.Licenses[i], upd)
			doc.Licenses[i].UpdatedAt = time.Now().UTC()
			updated = cloneLicense(&doc.Licenses[i])
			return true, nil
		}
		return false, fmt.Errorf("%w: %s", domain.ErrNotFound, key)
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

func (s *JSONFileStore) Delete(ctx context.Context, key string) error {
	return s.mutate(func(doc *jsonDocument) (bool, error) {
		for i := range doc.Licenses {
			if doc.Licenses[i].Key == key {
				doc.Licenses = append(doc.Licenses[:i], doc.Licenses[i+1:]...)
				return true, nil
			}
		}
		return false, fmt.Errorf("%w: %s", domain.ErrNotFound, key)
	})
}

func (s *JSONFileStore) Exists(ctx context.Context, key string) (bool, error) {
	lic, err := s.GetByKey(ctx, key)
	if err != nil {
		return false, err
	}
	return lic != nil, nil
}

func (s *JSONFileStore) AddActivation(ctx context.Context, key, machineCode, ip string) (bool, error) {
	created := false
	err := s.mutate(func(doc *jsonDocument) (bool, error) {
		for i := range doc.Licenses {
			lic := &doc.Licenses[i]
			if lic.Key != key {
				continue
			}
			if lic.FindActivation(machineCode, ip) != nil {
				return false, nil
			}
			if len(lic.Activations) >= lic.MaxActivations {
				return false, domain.ErrMaxActivations
			}
			// The appending verify counts as the first verification.
			now := time.Now().UTC()
			lic.Activations = append(lic.Activations, domain.ActivationRecord{
				ID:                uuid.New().String(),
				MachineCode:       machineCode,
				IP:                ip,
				ActivatedAt:       now,
				LastVerified:      &now,
				VerificationCount: 1,
			})
			lic.UpdatedAt = now
			created = true
			return true, nil
		}
		return false, fmt.Errorf("%w: %s", domain.ErrNotFound, key)
	})
	return created, err
}

func (s *JSONFileStore) UpdateVerification(ctx context.Context, key, machineCode, ip string) (bool, error) {
	found := false
	err := s.mutate(func(doc *jsonDocument) (bool, error) {
		for i := range doc.Licenses {
			lic := &doc.Licenses[i]
			if lic.Key != key {
				continue
			}
			act := lic.FindActivation(machineCode, ip)
			if act == nil {
				return false, nil
			}
			now := time.Now().UTC()
			act.VerificationCount++
			act.LastVerified = &now
			if machineCode != "" && ip != "" {
				act.IP = ip
			}
			lic.UpdatedAt = now
			found = true
			return true, nil
		}
		return false, fmt.Errorf("%w: %s", domain.ErrNotFound, key)
	})
	return found, err
}

func (s *JSONFileStore) CountActivations(ctx context.Context, key string) (int, error) {
	lic, err := s.GetByKey(ctx, key)
	if err != nil || lic == nil {
		return 0, err
	}
	return len(lic.Activations), nil
}

func (s *JSONFileStore) Ping(ctx context.Context) error {
	_, err := os.Stat(s.path)
	return err
}

func (s *JSONFileStore) CreateAPIKey(ctx context.Context, key *domain.APIKey) error {
	return s.mutate(func(doc *jsonDocument) (bool, error) {
		for i := range doc.APIKeys {
			if doc.APIKeys[i].ID == key.ID || doc.APIKeys[i].KeyHash == key.KeyHash {
				return false, fmt.Errorf("%w: api key %s", domain.ErrAlreadyExists, key.ID)
			}
		}
		doc.APIKeys = append(doc.APIKeys, jsonAPIKey{
			ID:        key.ID,
			Name:      key.Name,
			KeyHash:   key.KeyHash,
			KeyPrefix: key.KeyPrefix,
			Active:    key.Active,
			CreatedAt: key.CreatedAt,
			ExpiresAt: key.ExpiresAt,
		})
		return true, nil
	})
}

func (s *JSONFileStore) GetAPIKeyByHash(ctx context.Context, keyHash string) (*domain.APIKey, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.load()
	if err != nil {
		return nil, err
	}
	for _, k := range doc.APIKeys {
		if k.KeyHash == keyHash {
			return k.toDomain(), nil
		}
	}
	return nil, nil
}

func (s *JSONFileStore) ListAPIKeys(ctx context.Context) ([]domain.APIKey, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.load()
	if err != nil {
		return nil, err
	}
	keys := make([]domain.APIKey, 0, len(doc.APIKeys))
	for _, k := range doc.APIKeys {
		keys = append(keys, *k.toDomain())
	}
	return keys, nil
}

func (s *JSONFileStore) RevokeAPIKey(ctx context.Context, id string) error {
	return s.mutate(func(doc *jsonDocument) (bool, error) {
		for i := range doc.APIKeys {
			if doc.APIKeys[i].ID == id {
				doc.APIKeys[i].Active = false
				return true, nil
			}
		}
		return false, fmt.Errorf("%w: api key %s", domain.ErrNotFound, id)
	})
}

func (k *jsonAPIKey) toDomain() *domain.APIKey {
	return &domain.APIKey{
		ID:        k.ID,
		Name:      k.Name,
		KeyHash:   k.KeyHash,
		KeyPrefix: k.KeyPrefix,
		Active:    k.Active,
		CreatedAt: k.CreatedAt,
		ExpiresAt: k.ExpiresAt,
	}
}

// cloneLicense deep-copies a license so callers can't mutate store state
// through the returned pointer.
func cloneLicense(lic *domain.License) *domain.License {
	out := *lic
	out.IPWhitelist = append([]string(nil), lic.IPWhitelist...)
	out.Activations = append([]domain.ActivationRecord(nil), lic.Activations...)
	return &out
}

// applyUpdate copies the set fields of upd onto lic.
func applyUpdate(lic *domain.License, upd domain.LicenseUpdate) {
	if upd.Product != nil {
		lic.Product = *upd.Product
	}
	if upd.Version != nil {
		lic.Version = *upd.Version
	}
	if upd.Customer != nil {
		lic.Customer = *upd.Customer
	}
	if upd.Email != nil {
		lic.Email = *upd.Email
	}
	if upd.MaxActivations != nil {
		lic.MaxActivations = *upd.MaxActivations
	}
	if upd.MachineBinding != nil {
		lic.MachineBinding = *upd.MachineBinding
	}
	if upd.IPWhitelist != nil {
		lic.IPWhitelist = append([]string(nil), upd.IPWhitelist...)
	}
	if upd.ExpiryDate != nil {
		lic.ExpiryDate = upd.ExpiryDate
	}
	if upd.Status != nil {
		lic.Status = *upd.Status
	}
}
