package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/luminahq/lumina/internal/core/domain"
)

// pgUniqueViolation is the PostgreSQL error code for a unique constraint hit.
const pgUniqueViolation = "23505"

// PostgresStore implements ports.Store using PostgreSQL. The scan-then-append
// activation sequence runs inside a transaction holding a row lock on the
// license, so concurrent first-time activations serialize on the database.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates and returns a new PostgresStore instance.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) GetByKey(ctx context.Context, key string) (*domain.License, error) {
	query := `SELECT key, product, version, customer, email, max_activations, machine_binding,
	                 expiry_date, status, created_at, updated_at
	          FROM licenses WHERE key = $1`

	var lic domain.License
	var email sql.NullString
	var expiry sql.NullTime
	errRow := s.db.QueryRowContext(ctx, query, key).Scan(
		&lic.Key, &lic.Product, &lic.Version, &lic.Customer, &email,
		&lic.MaxActivations, &lic.MachineBinding, &expiry, &lic.Status,
		&lic.CreatedAt, &lic.UpdatedAt)
	if errors.Is(errRow, sql.ErrNoRows) {
		return nil, nil
	}
	if errRow != nil {
		return nil, errRow
	}
	if email.Valid {
		lic.Email = email.String
	}
	if expiry.Valid {
		t := expiry.Time.UTC()
		lic.ExpiryDate = &t
	}

	whitelist, errWl := s.loadWhitelist(ctx, key)
	if errWl != nil {
		return nil, errWl
	}
	lic.IPWhitelist = whitelist

	activations, errAct := s.loadActivations(ctx, key)
	if errAct != nil {
		return nil, errAct
	}
	lic.Activations = activations

	return &lic, nil
}

func (s *PostgresStore) loadWhitelist(ctx context.Context, key string) ([]string, error) {
	rows, errQuery := s.db.QueryContext(ctx,
		`SELECT ip FROM ip_whitelist WHERE license_key = $1 ORDER BY id`, key)
	if errQuery != nil {
		return nil, errQuery
	}
	defer func() {
		if errClose := rows.Close(); errClose != nil {
			log.Printf("failed to close rows: %v", errClose)
		}
	}()

	ips := []string{}
	for rows.Next() {
		var ip string
		if errScan := rows.Scan(&ip); errScan != nil {
			return nil, errScan
		}
		ips = append(ips, ip)
	}
	return ips, rows.Err()
}

func (s *PostgresStore) loadActivations(ctx context.Context, key string) ([]domain.ActivationRecord, error) {
	rows, errQuery := s.db.QueryContext(ctx,
		`SELECT id, machine_code, ip, activated_at, last_verified, verification_count
		 FROM activations WHERE license_key = $1 ORDER BY activated_at, id`, key)
	if errQuery != nil {
		return nil, errQuery
	}
	defer func() {
		if errClose := rows.Close(); errClose != nil {
			log.Printf("failed to close rows: %v", errClose)
		}
	}()

	acts := []domain.ActivationRecord{}
	for rows.Next() {
		var act domain.ActivationRecord
		var code, ip sql.NullString
		var lastVerified sql.NullTime
		if errScan := rows.Scan(&act.ID, &code, &ip, &act.ActivatedAt, &lastVerified, &act.VerificationCount); errScan != nil {
			return nil, errScan
		}
		if code.Valid {
			act.MachineCode = code.String
		}
		if ip.Valid {
			act.IP = ip.String
		}
		if lastVerified.Valid {
			t := lastVerified.Time.UTC()
			act.LastVerified = &t
		}
		act.ActivatedAt = act.ActivatedAt.UTC()
		acts = append(acts, act)
	}
	return acts, rows.Err()
}

func (s *PostgresStore) GetAll(ctx context.Context) ([]domain.License, error) {
	rows, errQuery := s.db.QueryContext(ctx, `SELECT key FROM licenses ORDER BY created_at`)
	if errQuery != nil {
		return nil, errQuery
	}
	defer func() {
		if errClose := rows.Close(); errClose != nil {
			log.Printf("failed to close rows: %v", errClose)
		}
	}()

	var keys []string
	for rows.Next() {
		var key string
		if errScan := rows.Scan(&key); errScan != nil {
			return nil, errScan
		}
		keys = append(keys, key)
	}
	if errRows := rows.Err(); errRows != nil {
		return nil, errRows
	}

	licenses := make([]domain.License, 0, len(keys))
	for _, key := range keys {
		lic, errGet := s.GetByKey(ctx, key)
		if errGet != nil {
			return nil, errGet
		}
		if lic != nil {
			licenses = append(licenses, *lic)
		}
	}
	return licenses, nil
}

func (s *PostgresStore) Create(ctx context.Context, lic *domain.License) error {
	tx, errTx := s.db.BeginTx(ctx, nil)
	if errTx != nil {
		return errTx
	}
	defer func() {
		if errRollback := tx.Rollback(); errRollback != nil && !errors.Is(errRollback, sql.ErrTxDone) {
			log.Printf("failed to rollback transaction: %v", errRollback)
		}
	}()

	query := `INSERT INTO licenses (key, product, version, customer, email, max_activations,
	                                machine_binding, expiry_date, status, created_at, updated_at)
	          VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`
	_, errExec := tx.ExecContext(ctx, query, lic.Key, lic.Product, lic.Version, lic.Customer,
		nullString(lic.Email), lic.MaxActivations, lic.MachineBinding,
		nullTime(lic.ExpiryDate), lic.Status, lic.CreatedAt, lic.UpdatedAt)
	if errExec != nil {
		var pgErr *pgconn.PgError
		if errors.As(errExec, &pgErr) && pgErr.Code == pgUniqueViolation {
			return fmt.Errorf("%w: %s", domain.ErrAlreadyExists, lic.Key)
		}
		return errExec
	}

	for _, ip := range lic.IPWhitelist {
		if _, errIP := tx.ExecContext(ctx,
			`INSERT INTO ip_whitelist (license_key, ip) VALUES ($1, $2)`, lic.Key, ip); errIP != nil {
			return errIP
		}
	}

	// Preserve any ledger carried in, e.g. during a backend migration.
	for _, act := range lic.Activations {
		id := act.ID
		if id == "" {
			id = uuid.New().String()
		}
		if _, errAct := tx.ExecContext(ctx,
			`INSERT INTO activations (id, license_key, machine_code, ip, activated_at, last_verified, verification_count)
			 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			id, lic.Key, nullString(act.MachineCode), nullString(act.IP),
			act.ActivatedAt, nullTime(act.LastVerified), act.VerificationCount); errAct != nil {
			return errAct
		}
	}

	return tx.Commit()
}

func (s *PostgresStore) Update(ctx context.Context, key string, upd domain.LicenseUpdate) (*domain.License, error) {
	setClauses := []string{}
	values := []interface{}{}
	add := func(col string, v interface{}) {
		values = append(values, v)
		setClauses = append(setClauses, fmt.Sprintf("%s = $%d", col, len(values)))
	}

	if upd.Product != nil {
		add("product", *upd.Product)
	}
	if upd.Version != nil {
		add("version", *upd.Version)
	}
	if upd.Customer != nil {
		add("customer", *upd.Customer)
	}
	if upd.Email != nil {
		add("email", *upd.Email)
	}
	if upd.MaxActivations != nil {
		add("max_activations", *upd.MaxActivations)
	}
	if upd.MachineBinding != nil {
		add("machine_binding", *upd.MachineBinding)
	}
	if upd.ExpiryDate != nil {
		add("expiry_date", upd.ExpiryDate.UTC())
	}
	if upd.Status != nil {
		add("status", *upd.Status)
	}
	add("updated_at", time.Now().UTC())

	tx, errTx := s.db.BeginTx(ctx, nil)
	if errTx != nil {
		return nil, errTx
	}
	defer func() {
		if errRollback := tx.Rollback(); errRollback != nil && !errors.Is(errRollback, sql.ErrTxDone) {
			log.Printf("failed to rollback transaction: %v", errRollback)
		}
	}()

	values = append(values, key)
	query := fmt.Sprintf("UPDATE licenses SET %s WHERE key = $%d",
		strings.Join(setClauses, ", "), len(values))
	res, errExec := tx.ExecContext(ctx, query, values...)
	if errExec != nil {
		return nil, errExec
	}
	affected, errAff := res.RowsAffected()
	if errAff != nil {
		return nil, errAff
	}
	if affected == 0 {
		return nil, fmt.Errorf("%w: %s", domain.ErrNotFound, key)
	}

	if upd.IPWhitelist != nil {
		if _, errDel := tx.ExecContext(ctx,
			`DELETE FROM ip_whitelist WHERE license_key = $1`, key); errDel != nil {
			return nil, errDel
		}
		for _, ip := range upd.IPWhitelist {
			if _, errIP := tx.ExecContext(ctx,
				`INSERT INTO ip_whitelist (license_key, ip) VALUES ($1, $2)`, key, ip); errIP != nil {
				return nil, errIP
			}
		}
	}

	if errCommit := tx.Commit(); errCommit != nil {
		return nil, errCommit
	}
	return s.GetByKey(ctx, key)
}

func (s *PostgresStore) Delete(ctx context.Context, key string) error {
	res, errExec := s.db.ExecContext(ctx, `DELETE FROM licenses WHERE key = $1`, key)
	if errExec != nil {
		return errExec
	}
	affected, errAff := res.RowsAffected()
	if errAff != nil {
		return errAff
	}
	if affected == 0 {
		return fmt.Errorf("%w: %s", domain.ErrNotFound, key)
	}
	return nil
}

func (s *PostgresStore) Exists(ctx context.Context, key string) (bool, error) {
	var exists bool
	errRow := s.db.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM licenses WHERE key = $1)`, key).Scan(&exists)
	return exists, errRow
}

func (s *PostgresStore) AddActivation(ctx context.Context, key, machineCode, ip string) (bool, error) {
	tx, errTx := s.db.BeginTx(ctx, nil)
	if errTx != nil {
		return false, errTx
	}
	defer func() {
		if errRollback := tx.Rollback(); errRollback != nil && !errors.Is(errRollback, sql.ErrTxDone) {
			log.Printf("failed to rollback transaction: %v", errRollback)
		}
	}()

	// Row lock serializes concurrent activations of the same license.
	var maxActivations int
	var machineBinding bool
	errRow := tx.QueryRowContext(ctx,
		`SELECT max_activations, machine_binding FROM licenses WHERE key = $1 FOR UPDATE`, key).
		Scan(&maxActivations, &machineBinding)
	if errors.Is(errRow, sql.ErrNoRows) {
		return false, fmt.Errorf("%w: %s", domain.ErrNotFound, key)
	}
	if errRow != nil {
		return false, errRow
	}

	var existing int
	if errCount := identityCountRow(ctx, tx, key, machineBinding, machineCode, ip).Scan(&existing); errCount != nil {
		return false, errCount
	}
	if existing > 0 {
		return false, tx.Commit()
	}

	var count int
	if errCount := tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM activations WHERE license_key = $1`, key).Scan(&count); errCount != nil {
		return false, errCount
	}
	if count >= maxActivations {
		return false, domain.ErrMaxActivations
	}

	// The appending verify counts as the first verification.
	now := time.Now().UTC()
	if _, errIns := tx.ExecContext(ctx,
		`INSERT INTO activations (id, license_key, machine_code, ip, activated_at, last_verified, verification_count)
		 VALUES ($1, $2, $3, $4, $5, $6, 1)`,
		uuid.New().String(), key, nullString(machineCode), nullString(ip), now, now); errIns != nil {
		return false, errIns
	}
	if _, errUpd := tx.ExecContext(ctx,
		`UPDATE licenses SET updated_at = $1 WHERE key = $2`, now, key); errUpd != nil {
		return false, errUpd
	}

	return true, tx.Commit()
}

func (s *PostgresStore) UpdateVerification(ctx context.Context, key, machineCode, ip string) (bool, error) {
	tx, errTx := s.db.BeginTx(ctx, nil)
	if errTx != nil {
		return false, errTx
	}
	defer func() {
		if errRollback := tx.Rollback(); errRollback != nil && !errors.Is(errRollback, sql.ErrTxDone) {
			log.Printf("failed to rollback transaction: %v", errRollback)
		}
	}()

	var machineBinding bool
	errRow := tx.QueryRowContext(ctx,
		`SELECT machine_binding FROM licenses WHERE key = $1 FOR UPDATE`, key).Scan(&machineBinding)
	if errors.Is(errRow, sql.ErrNoRows) {
		return false, fmt.Errorf("%w: %s", domain.ErrNotFound, key)
	}
	if errRow != nil {
		return false, errRow
	}

	now := time.Now().UTC()
	var res sql.Result
	var errExec error
	if machineBinding && machineCode != "" {
		if ip != "" {
			res, errExec = tx.ExecContext(ctx,
				`UPDATE activations SET verification_count = verification_count + 1,
				        last_verified = $1, ip = $2
				 WHERE license_key = $3 AND machine_code = $4`, now, ip, key, machineCode)
		} else {
			res, errExec = tx.ExecContext(ctx,
				`UPDATE activations SET verification_count = verification_count + 1,
				        last_verified = $1
				 WHERE license_key = $2 AND machine_code = $3`, now, key, machineCode)
		}
	} else {
		res, errExec = tx.ExecContext(ctx,
			`UPDATE activations SET verification_count = verification_count + 1,
			        last_verified = $1
			 WHERE license_key = $2 AND ip = $3`, now, key, ip)
	}
	if errExec != nil {
		return false, errExec
	}
	affected, errAff := res.RowsAffected()
	if errAff != nil {
		return false, errAff
	}
	if affected == 0 {
		return false, tx.Commit()
	}

	if _, errUpd := tx.ExecContext(ctx,
		`UPDATE licenses SET updated_at = $1 WHERE key = $2`, now, key); errUpd != nil {
		return false, errUpd
	}
	return true, tx.Commit()
}

func identityCountRow(ctx context.Context, tx *sql.Tx, key string, machineBinding bool, machineCode, ip string) *sql.Row {
	if machineBinding && machineCode != "" {
		return tx.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM activations WHERE license_key = $1 AND machine_code = $2`,
			key, machineCode)
	}
	return tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM activations WHERE license_key = $1 AND ip = $2`, key, ip)
}

func (s *PostgresStore) CountActivations(ctx context.Context, key string) (int, error) {
	var count int
	errRow := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM activations WHERE license_key = $1`, key).Scan(&count)
	return count, errRow
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *PostgresStore) CreateAPIKey(ctx context.Context, key *domain.APIKey) error {
	query := `INSERT INTO api_keys (id, name, key_hash, key_prefix, active, created_at, expires_at)
	          VALUES ($1, $2, $3, $4, $5, $6, $7)`
	_, errExec := s.db.ExecContext(ctx, query, key.ID, key.Name, key.KeyHash, key.KeyPrefix,
		key.Active, key.CreatedAt, nullTime(key.ExpiresAt))
	var pgErr *pgconn.PgError
	if errors.As(errExec, &pgErr) && pgErr.Code == pgUniqueViolation {
		return fmt.Errorf("%w: api key %s", domain.ErrAlreadyExists, key.ID)
	}
	return errExec
}

func (s *PostgresStore) GetAPIKeyByHash(ctx context.Context, keyHash string) (*domain.APIKey, error) {
	query := `SELECT id, name, key_hash, key_prefix, active, created_at, expires_at
	          FROM api_keys WHERE key_hash = $1`
	var k domain.APIKey
	var expires sql.NullTime
	errRow := s.db.QueryRowContext(ctx, query, keyHash).Scan(
		&k.ID, &k.Name, &k.KeyHash, &k.KeyPrefix, &k.Active, &k.CreatedAt, &expires)
	if errors.Is(errRow, sql.ErrNoRows) {
		return nil, nil
	}
	if errRow != nil {
		return nil, errRow
	}
	if expires.Valid {
		t := expires.Time.UTC()
		k.ExpiresAt = &t
	}
	return &k, nil
}

func (s *PostgresStore) ListAPIKeys(ctx context.Context) ([]domain.APIKey, error) {
	rows, errQuery := s.db.QueryContext(ctx,
		`SELECT id, name, key_hash, key_prefix, active, created_at, expires_at
		 FROM api_keys ORDER BY created_at`)
	if errQuery != nil {
		return nil, errQuery
	}
	defer func() {
		if errClose := rows.Close(); errClose != nil {
			log.Printf("failed to close rows: %v", errClose)
		}
	}()

	var keys []domain.APIKey
	for rows.Next() {
		var k domain.APIKey
		var expires sql.NullTime
		if errScan := rows.Scan(&k.ID, &k.Name, &k.KeyHash, &k.KeyPrefix, &k.Active, &k.CreatedAt, &expires); errScan != nil {
			return nil, errScan
		}
		if expires.Valid {
			t := expires.Time.UTC()
			k.ExpiresAt = &t
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

func (s *PostgresStore) RevokeAPIKey(ctx context.Context, id string) error {
	res, errExec := s.db.ExecContext(ctx, `UPDATE api_keys SET active = FALSE WHERE id = $1`, id)
	if errExec != nil {
		return errExec
	}
	affected, errAff := res.RowsAffected()
	if errAff != nil {
		return errAff
	}
	if affected == 0 {
		return fmt.Errorf("%w: api key %s", domain.ErrNotFound, id)
	}
	return nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}
