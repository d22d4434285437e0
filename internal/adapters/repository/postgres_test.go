package repository

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/luminahq/lumina/internal/core/domain"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

func setupTestDB(t *testing.T) (*sql.DB, func()) {
	ctx := context.Background()

	pgContainer, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("lumina_test"),
		postgres.WithUsername("postgres"),
		postgres.WithPassword("postgres"),
		testcontainers.WithWaitStrategy(
			wait.ForListeningPort("5432").
				WithStartupTimeout(60*time.Second)),
	)
	if err != nil {
		t.Fatalf("failed to start container: %s", err)
	}

	connStr, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatalf("failed to get connection string: %s", err)
	}

	db, err := sql.Open("pgx", connStr)
	if err != nil {
		t.Fatalf("failed to open db: %s", err)
	}

	schemaPath := filepath.Join(".", "schema.sql")
	schema, err := os.ReadFile(schemaPath)
	if err != nil {
		t.Fatalf("failed to read schema: %s", err)
	}

	if _, err := db.Exec(string(schema)); err != nil {
		t.Fatalf("failed to apply schema: %s", err)
	}

	return db, func() {
		db.Close()
		pgContainer.Terminate(ctx)
	}
}

func TestPostgresStore_Integration(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}

	db, cleanup := setupTestDB(t)
	defer cleanup()

	store := NewPostgresStore(db)
	ctx := context.Background()

	// 1. Test Create and GetByKey round trip
	expiry := time.Now().UTC().Add(90 * 24 * time.Hour).Truncate(time.Microsecond)
	lic := testLicense("LS-2026-AAAABBBBCCCCDDDD")
	lic.ExpiryDate = &expiry
	lic.IPWhitelist = []string{"10.0.0.1", "10.0.0.2"}
	if err := store.Create(ctx, lic); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	got, err := store.GetByKey(ctx, lic.Key)
	if err != nil {
		t.Fatalf("GetByKey failed: %v", err)
	}
	if got == nil || got.Customer != "Acme Corp" || len(got.IPWhitelist) != 2 {
		t.Fatalf("Unexpected license: %+v", got)
	}
	if got.ExpiryDate == nil || !got.ExpiryDate.Equal(expiry) {
		t.Errorf("Expiry not preserved: %v", got.ExpiryDate)
	}

	// 2. Test duplicate Create
	if err := store.Create(ctx, lic); !errors.Is(err, domain.ErrAlreadyExists) {
		t.Errorf("Expected ErrAlreadyExists, got %v", err)
	}

	// 3. Test activation quota across concurrent transactions
	const racers = 6
	done := make(chan error, racers)
	for i := 0; i < racers; i++ {
		go func(n int) {
			machine := string(rune('A'+n)) + "-MACHINE-RACE-001"
			_, err := store.AddActivation(ctx, lic.Key, machine, "10.0.0.1")
			done <- err
		}(i)
	}
	var won, rejected int
	for i := 0; i < racers; i++ {
		switch err := <-done; {
		case err == nil:
			won++
		case errors.Is(err, domain.ErrMaxActivations):
			rejected++
		default:
			t.Errorf("Unexpected error: %v", err)
		}
	}
	if won != lic.MaxActivations {
		t.Errorf("Expected %d winners, got %d", lic.MaxActivations, won)
	}
	count, err := store.CountActivations(ctx, lic.Key)
	if err != nil || count != lic.MaxActivations {
		t.Errorf("CountActivations: err=%v count=%d", err, count)
	}

	// 4. Test UpdateVerification
	found, err := store.UpdateVerification(ctx, lic.Key, "A-MACHINE-RACE-001", "10.9.9.9")
	if err != nil || !found {
		t.Fatalf("UpdateVerification: found=%v err=%v", found, err)
	}
	got, _ = store.GetByKey(ctx, lic.Key)
	act := got.FindActivation("A-MACHINE-RACE-001", "")
	if act == nil || act.VerificationCount != 2 || act.IP != "10.9.9.9" {
		t.Errorf("Unexpected activation state: %+v", act)
	}

	// 5. Test Update and whitelist replacement
	status := domain.StatusSuspended
	updated, err := store.Update(ctx, lic.Key, domain.LicenseUpdate{
		Status:      &status,
		IPWhitelist: []string{"172.16.0.1"},
	})
	if err != nil {
		t.Fatalf("Update failed: %v", err)
	}
	if updated.Status != domain.StatusSuspended || len(updated.IPWhitelist) != 1 {
		t.Errorf("Update not applied: %+v", updated)
	}

	// 6. Test Delete cascades
	if err := store.Delete(ctx, lic.Key); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	count, err = store.CountActivations(ctx, lic.Key)
	if err != nil || count != 0 {
		t.Errorf("Expected activations to cascade: err=%v count=%d", err, count)
	}

	// 7. Test API keys
	key := &domain.APIKey{
		ID:        "k1",
		Name:      "ci",
		KeyHash:   "deadbeef",
		KeyPrefix: "lmn_abcd",
		Active:    true,
		CreatedAt: time.Now().UTC(),
	}
	if err := store.CreateAPIKey(ctx, key); err != nil {
		t.Fatalf("CreateAPIKey failed: %v", err)
	}
	gotKey, err := store.GetAPIKeyByHash(ctx, "deadbeef")
	if err != nil || gotKey == nil || gotKey.Name != "ci" {
		t.Errorf("GetAPIKeyByHash: err=%v got=%+v", err, gotKey)
	}
	dup := *key
	dup.ID = "k2"
	if err := store.CreateAPIKey(ctx, &dup); !errors.Is(err, domain.ErrAlreadyExists) {
		t.Errorf("Expected ErrAlreadyExists for duplicate key hash, got %v", err)
	}
	if err := store.RevokeAPIKey(ctx, "k1"); err != nil {
		t.Fatalf("RevokeAPIKey failed: %v", err)
	}
	gotKey, _ = store.GetAPIKeyByHash(ctx, "deadbeef")
	if gotKey == nil || gotKey.Active {
		t.Errorf("Expected revoked key to be inactive: %+v", gotKey)
	}
}
