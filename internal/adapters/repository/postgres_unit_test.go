package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/luminahq/lumina/internal/core/domain"
)

func TestPostgresStore_Unit(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to open sqlmock: %s", err)
	}
	defer db.Close()

	store := NewPostgresStore(db)
	ctx := context.Background()

	// 1. Test GetByKey
	t.Run("GetByKey", func(t *testing.T) {
		now := time.Now().UTC()
		licRows := sqlmock.NewRows([]string{"key", "product", "version", "customer", "email",
			"max_activations", "machine_binding", "expiry_date", "status", "created_at", "updated_at"}).
			AddRow("LS-2026-AAAABBBBCCCCDDDD", "lumina-pro", "1.0.0", "Acme", "ops@acme.test",
				3, true, nil, "active", now, now)

		mock.ExpectQuery(`SELECT (.+) FROM licenses WHERE key = \$1`).
			WithArgs("LS-2026-AAAABBBBCCCCDDDD").
			WillReturnRows(licRows)
		mock.ExpectQuery(`SELECT ip FROM ip_whitelist WHERE license_key = \$1`).
			WithArgs("LS-2026-AAAABBBBCCCCDDDD").
			WillReturnRows(sqlmock.NewRows([]string{"ip"}).AddRow("10.0.0.1"))
		mock.ExpectQuery(`SELECT (.+) FROM activations WHERE license_key = \$1`).
			WithArgs("LS-2026-AAAABBBBCCCCDDDD").
			WillReturnRows(sqlmock.NewRows([]string{"id", "machine_code", "ip", "activated_at",
				"last_verified", "verification_count"}).
				AddRow("a1", "MACHINE-AAAA-0001", "10.0.0.1", now, nil, 4))

		lic, err := store.GetByKey(ctx, "LS-2026-AAAABBBBCCCCDDDD")
		if err != nil {
			t.Errorf("GetByKey failed: %v", err)
		}
		if lic == nil || lic.Product != "lumina-pro" || len(lic.IPWhitelist) != 1 || len(lic.Activations) != 1 {
			t.Errorf("Unexpected license: %+v", lic)
		}
		if lic != nil && lic.Activations[0].VerificationCount != 4 {
			t.Errorf("Unexpected activation: %+v", lic.Activations[0])
		}
	})

	// 2. Test Create
	t.Run("Create", func(t *testing.T) {
		lic := testLicense("LS-2026-EEEEFFFFGGGGHHHH")
		lic.IPWhitelist = []string{"10.0.0.1"}

		mock.ExpectBegin()
		mock.ExpectExec(`INSERT INTO licenses`).
			WithArgs(lic.Key, lic.Product, lic.Version, lic.Customer, sqlmock.AnyArg(),
				lic.MaxActivations, lic.MachineBinding, sqlmock.AnyArg(), lic.Status,
				sqlmock.AnyArg(), sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(1, 1))
		mock.ExpectExec(`INSERT INTO ip_whitelist`).
			WithArgs(lic.Key, "10.0.0.1").
			WillReturnResult(sqlmock.NewResult(1, 1))
		mock.ExpectCommit()

		if err := store.Create(ctx, lic); err != nil {
			t.Errorf("Create failed: %v", err)
		}
	})

	// 3. Test Create duplicate key
	t.Run("CreateDuplicate", func(t *testing.T) {
		lic := testLicense("LS-2026-EEEEFFFFGGGGHHHH")

		mock.ExpectBegin()
		mock.ExpectExec(`INSERT INTO licenses`).
			WillReturnError(&pgconn.PgError{Code: pgUniqueViolation})
		mock.ExpectRollback()

		if err := store.Create(ctx, lic); !errors.Is(err, domain.ErrAlreadyExists) {
			t.Errorf("Expected ErrAlreadyExists, got %v", err)
		}
	})

	// 4. Test AddActivation quota rejection
	t.Run("AddActivationQuota", func(t *testing.T) {
		mock.ExpectBegin()
		mock.ExpectQuery(`SELECT max_activations, machine_binding FROM licenses WHERE key = \$1 FOR UPDATE`).
			WithArgs("LS-2026-EEEEFFFFGGGGHHHH").
			WillReturnRows(sqlmock.NewRows([]string{"max_activations", "machine_binding"}).AddRow(1, true))
		mock.ExpectQuery(`SELECT COUNT\(\*\) FROM activations WHERE license_key = \$1 AND machine_code = \$2`).
			WithArgs("LS-2026-EEEEFFFFGGGGHHHH", "MACHINE-BBBB-0002").
			WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))
		mock.ExpectQuery(`SELECT COUNT\(\*\) FROM activations WHERE license_key = \$1`).
			WithArgs("LS-2026-EEEEFFFFGGGGHHHH").
			WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))
		mock.ExpectRollback()

		created, err := store.AddActivation(ctx, "LS-2026-EEEEFFFFGGGGHHHH", "MACHINE-BBBB-0002", "10.0.0.2")
		if !errors.Is(err, domain.ErrMaxActivations) {
			t.Errorf("Expected ErrMaxActivations, got %v", err)
		}
		if created {
			t.Error("Expected no activation to be created")
		}
	})

	// 5. Test AddActivation success
	t.Run("AddActivation", func(t *testing.T) {
		mock.ExpectBegin()
		mock.ExpectQuery(`SELECT max_activations, machine_binding FROM licenses WHERE key = \$1 FOR UPDATE`).
			WithArgs("LS-2026-EEEEFFFFGGGGHHHH").
			WillReturnRows(sqlmock.NewRows([]string{"max_activations", "machine_binding"}).AddRow(3, true))
		mock.ExpectQuery(`SELECT COUNT\(\*\) FROM activations WHERE license_key = \$1 AND machine_code = \$2`).
			WithArgs("LS-2026-EEEEFFFFGGGGHHHH", "MACHINE-BBBB-0002").
			WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))
		mock.ExpectQuery(`SELECT COUNT\(\*\) FROM activations WHERE license_key = \$1`).
			WithArgs("LS-2026-EEEEFFFFGGGGHHHH").
			WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))
		mock.ExpectExec(`INSERT INTO activations`).
			WithArgs(sqlmock.AnyArg(), "LS-2026-EEEEFFFFGGGGHHHH", sqlmock.AnyArg(), sqlmock.AnyArg(),
				sqlmock.AnyArg(), sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(1, 1))
		mock.ExpectExec(`UPDATE licenses SET updated_at`).
			WithArgs(sqlmock.AnyArg(), "LS-2026-EEEEFFFFGGGGHHHH").
			WillReturnResult(sqlmock.NewResult(1, 1))
		mock.ExpectCommit()

		created, err := store.AddActivation(ctx, "LS-2026-EEEEFFFFGGGGHHHH", "MACHINE-BBBB-0002", "10.0.0.2")
		if err != nil {
			t.Errorf("AddActivation failed: %v", err)
		}
		if !created {
			t.Error("Expected activation to be created")
		}
	})

	// 6. Test Delete not found
	t.Run("DeleteNotFound", func(t *testing.T) {
		mock.ExpectExec(`DELETE FROM licenses WHERE key = \$1`).
			WithArgs("LS-2026-MISSINGMISSINGAA").
			WillReturnResult(sqlmock.NewResult(0, 0))

		if err := store.Delete(ctx, "LS-2026-MISSINGMISSINGAA"); !errors.Is(err, domain.ErrNotFound) {
			t.Errorf("Expected ErrNotFound, got %v", err)
		}
	})

	// 7. Test UpdateVerification no matching activation
	t.Run("UpdateVerificationMiss", func(t *testing.T) {
		mock.ExpectBegin()
		mock.ExpectQuery(`SELECT machine_binding FROM licenses WHERE key = \$1 FOR UPDATE`).
			WithArgs("LS-2026-EEEEFFFFGGGGHHHH").
			WillReturnRows(sqlmock.NewRows([]string{"machine_binding"}).AddRow(true))
		mock.ExpectExec(`UPDATE activations SET verification_count`).
			WithArgs(sqlmock.AnyArg(), "10.0.0.9", "LS-2026-EEEEFFFFGGGGHHHH", "MACHINE-ZZZZ-9999").
			WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectCommit()

		found, err := store.UpdateVerification(ctx, "LS-2026-EEEEFFFFGGGGHHHH", "MACHINE-ZZZZ-9999", "10.0.0.9")
		if err != nil {
			t.Errorf("UpdateVerification failed: %v", err)
		}
		if found {
			t.Error("Expected no activation to match")
		}
	})

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}
