package main

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/luminahq/lumina/internal/adapters/repository"
	"github.com/luminahq/lumina/internal/config"
	"github.com/luminahq/lumina/internal/core/domain"
)

func TestParseTarget(t *testing.T) {
	cases := []struct {
		in      string
		backend string
		wantErr bool
	}{
		{"json:data/licenses.json", config.BackendJSON, false},
		{"sqlite:data/licenses.db", config.BackendSQLite, false},
		{"postgres:postgres://u:p@localhost/db", config.BackendPostgres, false},
		{"json", "", true},
		{"json:", "", true},
		{"mongodb:foo", "", true},
	}

	for _, tc := range cases {
		cfg, err := parseTarget(tc.in)
		if tc.wantErr {
			if err == nil {
				t.Errorf("parseTarget(%q) expected error", tc.in)
			}
			continue
		}
		if err != nil {
			t.Errorf("parseTarget(%q) failed: %v", tc.in, err)
			continue
		}
		if cfg.Backend != tc.backend {
			t.Errorf("parseTarget(%q) backend = %q, want %q", tc.in, cfg.Backend, tc.backend)
		}
	}
}

func TestMigrate(t *testing.T) {
	ctx := context.Background()
	src, err := repository.NewJSONFileStore(filepath.Join(t.TempDir(), "src.json"))
	if err != nil {
		t.Fatalf("failed to create source: %v", err)
	}
	dst, err := repository.NewSQLiteStore(filepath.Join(t.TempDir(), "dst.db"))
	if err != nil {
		t.Fatalf("failed to create destination: %v", err)
	}
	defer dst.Close()

	// Seed a license with a ledger and an expiry, plus an API key.
	created := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	verified := created.Add(48 * time.Hour)
	expiry := created.AddDate(1, 0, 0)
	lic := &domain.License{
		Key:            "LS-2025-AAAABBBBCCCCDDDD",
		Product:        "lumina-pro",
		Version:        "2.1.0",
		Customer:       "Acme Corp",
		MaxActivations: 3,
		MachineBinding: true,
		IPWhitelist:    []string{"10.0.0.1"},
		ExpiryDate:     &expiry,
		Status:         domain.StatusActive,
		CreatedAt:      created,
		UpdatedAt:      verified,
		Activations: []domain.ActivationRecord{{
			ID:                "act-1",
			MachineCode:       "MACHINE-MIGRATE-01",
			IP:                "10.0.0.1",
			ActivatedAt:       created,
			LastVerified:      &verified,
			VerificationCount: 7,
		}},
	}
	if err := src.Create(ctx, lic); err != nil {
		t.Fatalf("failed to seed source: %v", err)
	}
	if err := src.CreateAPIKey(ctx, &domain.APIKey{
		ID: "k1", Name: "ci", KeyHash: "deadbeef", KeyPrefix: "lmn_abcd",
		Active: true, CreatedAt: created,
	}); err != nil {
		t.Fatalf("failed to seed api key: %v", err)
	}

	out := &bytes.Buffer{}
	if err := migrate(src, dst, out); err != nil {
		t.Fatalf("migrate failed: %v", err)
	}

	// Everything must survive verbatim, counters and timestamps included.
	got, err := dst.GetByKey(ctx, lic.Key)
	if err != nil || got == nil {
		t.Fatalf("GetByKey: got=%+v err=%v", got, err)
	}
	if !got.CreatedAt.Equal(created) || !got.UpdatedAt.Equal(verified) {
		t.Errorf("Timestamps not preserved: %+v", got)
	}
	if len(got.Activations) != 1 {
		t.Fatalf("Expected one activation, got %d", len(got.Activations))
	}
	act := got.Activations[0]
	if act.VerificationCount != 7 || act.MachineCode != "MACHINE-MIGRATE-01" {
		t.Errorf("Ledger not preserved: %+v", act)
	}
	if act.LastVerified == nil || !act.LastVerified.Equal(verified) {
		t.Errorf("LastVerified not preserved: %+v", act)
	}

	key, err := dst.GetAPIKeyByHash(ctx, "deadbeef")
	if err != nil || key == nil || key.Name != "ci" {
		t.Errorf("API key not migrated: got=%+v err=%v", key, err)
	}

	// A second run skips everything already present.
	out.Reset()
	if err := migrate(src, dst, out); err != nil {
		t.Fatalf("second migrate failed: %v", err)
	}
	if !bytes.Contains(out.Bytes(), []byte("0 licenses (1 skipped)")) {
		t.Errorf("Unexpected summary: %s", out.String())
	}
	if !bytes.Contains(out.Bytes(), []byte("0 api keys")) {
		t.Errorf("Expected rerun to copy no api keys: %s", out.String())
	}
	keys, err := dst.ListAPIKeys(ctx)
	if err != nil || len(keys) != 1 {
		t.Errorf("Expected one api key after rerun: err=%v len=%d", err, len(keys))
	}
}
