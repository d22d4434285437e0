package repository

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/luminahq/lumina/internal/core/domain"
)

func newTestCachedStore(t *testing.T) (*CachedStore, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("Failed to run miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	backing := newTestJSONStore(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return newCachedStoreWithClient(backing, client, time.Minute), mr
}

func TestCachedStore_ReadThrough(t *testing.T) {
	store, mr := newTestCachedStore(t)
	ctx := context.Background()

	lic := testLicense("LS-2026-AAAABBBBCCCCDDDD")
	if err := store.Create(ctx, lic); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	// 1. First read populates the cache
	got, err := store.GetByKey(ctx, lic.Key)
	if err != nil || got == nil {
		t.Fatalf("GetByKey: got=%+v err=%v", got, err)
	}
	if !mr.Exists(licenseKeyPrefix + lic.Key) {
		t.Error("Expected license to be cached after read")
	}

	// 2. Second read is served from the cache
	got, err = store.GetByKey(ctx, lic.Key)
	if err != nil || got == nil || got.Customer != "Acme Corp" {
		t.Errorf("Cached read: got=%+v err=%v", got, err)
	}

	// 3. Missing keys are not cached
	got, err = store.GetByKey(ctx, "LS-2026-MISSINGMISSINGAA")
	if err != nil || got != nil {
		t.Errorf("Expected nil, nil for missing key, got %+v, %v", got, err)
	}
	if mr.Exists(licenseKeyPrefix + "LS-2026-MISSINGMISSINGAA") {
		t.Error("Missing key must not be cached")
	}
}

func TestCachedStore_InvalidateOnMutation(t *testing.T) {
	store, mr := newTestCachedStore(t)
	ctx := context.Background()

	lic := testLicense("LS-2026-EEEEFFFFGGGGHHHH")
	if err := store.Create(ctx, lic); err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if _, err := store.GetByKey(ctx, lic.Key); err != nil {
		t.Fatalf("GetByKey failed: %v", err)
	}

	// 1. Update drops the cached entry
	customer := "Globex"
	if _, err := store.Update(ctx, lic.Key, domain.LicenseUpdate{Customer: &customer}); err != nil {
		t.Fatalf("Update failed: %v", err)
	}
	if mr.Exists(licenseKeyPrefix + lic.Key) {
		t.Error("Expected cache invalidation after Update")
	}
	got, _ := store.GetByKey(ctx, lic.Key)
	if got.Customer != "Globex" {
		t.Errorf("Stale read after update: %+v", got)
	}

	// 2. AddActivation drops the cached entry
	if _, err := store.AddActivation(ctx, lic.Key, "MACHINE-CACHE-0001", "10.0.0.1"); err != nil {
		t.Fatalf("AddActivation failed: %v", err)
	}
	if mr.Exists(licenseKeyPrefix + lic.Key) {
		t.Error("Expected cache invalidation after AddActivation")
	}
	got, _ = store.GetByKey(ctx, lic.Key)
	if len(got.Activations) != 1 {
		t.Errorf("Stale activation ledger: %+v", got.Activations)
	}

	// 3. UpdateVerification drops the cached entry
	if _, err := store.UpdateVerification(ctx, lic.Key, "MACHINE-CACHE-0001", ""); err != nil {
		t.Fatalf("UpdateVerification failed: %v", err)
	}
	if mr.Exists(licenseKeyPrefix + lic.Key) {
		t.Error("Expected cache invalidation after UpdateVerification")
	}

	// 4. Delete drops the cached entry
	if _, err := store.GetByKey(ctx, lic.Key); err != nil {
		t.Fatalf("GetByKey failed: %v", err)
	}
	if err := store.Delete(ctx, lic.Key); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if mr.Exists(licenseKeyPrefix + lic.Key) {
		t.Error("Expected cache invalidation after Delete")
	}
}

func TestCachedStore_CorruptEntry(t *testing.T) {
	store, mr := newTestCachedStore(t)
	ctx := context.Background()

	lic := testLicense("LS-2026-IIIIJJJJKKKKLLLL")
	if err := store.Create(ctx, lic); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	// A garbage entry falls through to the backing store.
	mr.Set(licenseKeyPrefix+lic.Key, "{not json")
	got, err := store.GetByKey(ctx, lic.Key)
	if err != nil {
		t.Fatalf("GetByKey failed: %v", err)
	}
	if got == nil || got.Customer != "Acme Corp" {
		t.Errorf("Unexpected license: %+v", got)
	}
}

func TestCachedStore_Ping(t *testing.T) {
	store, mr := newTestCachedStore(t)
	ctx := context.Background()

	if err := store.Ping(ctx); err != nil {
		t.Errorf("Ping failed: %v", err)
	}

	mr.Close()
	if err := store.Ping(ctx); err == nil {
		t.Error("Expected Ping to fail after redis shutdown")
	}
}
