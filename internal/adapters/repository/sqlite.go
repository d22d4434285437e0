package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/luminahq/lumina/internal/core/domain"
	"modernc.org/sqlite"
)

// SQLite extended result codes for constraint violations.
const (
	sqliteConstraintPrimaryKey = 1555
	sqliteConstraintUnique     = 2067
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS licenses (
    key             TEXT PRIMARY KEY,
    product         TEXT NOT NULL,
    version         TEXT NOT NULL DEFAULT '1.0.0',
    customer        TEXT NOT NULL,
    email           TEXT,
    max_activations INTEGER NOT NULL DEFAULT 1,
    machine_binding INTEGER NOT NULL DEFAULT 1,
    expiry_date     TEXT,
    status          TEXT NOT NULL DEFAULT 'active',
    created_at      TEXT NOT NULL,
    updated_at      TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS ip_whitelist (
    id          INTEGER PRIMARY KEY AUTOINCREMENT,
    license_key TEXT NOT NULL REFERENCES licenses(key) ON DELETE CASCADE,
    ip          TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS activations (
    id                 TEXT PRIMARY KEY,
    license_key        TEXT NOT NULL REFERENCES licenses(key) ON DELETE CASCADE,
    machine_code       TEXT,
    ip                 TEXT,
    activated_at       TEXT NOT NULL,
    last_verified      TEXT,
    verification_count INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS api_keys (
    id         TEXT PRIMARY KEY,
    name       TEXT NOT NULL,
    key_hash   TEXT NOT NULL UNIQUE,
    key_prefix TEXT NOT NULL,
    active     INTEGER NOT NULL DEFAULT 1,
    created_at TEXT NOT NULL,
    expires_at TEXT
);
`

// SQLiteStore implements ports.Store on an embedded SQLite database
// (modernc.org/sqlite, no cgo). The pool is capped at one connection so
// every transaction owns the database exclusively, which serializes the
// scan-then-append activation sequence.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (creating if necessary) the database at path and
// ensures the schema exists.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, fmt.Errorf("create data directory: %w", err)
	}

	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply sqlite schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// Close releases the underlying database handle.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func isSQLiteConstraint(err error) bool {
	var liteErr *sqlite.Error
	if !errors.As(err, &liteErr) {
		return false
	}
	code := liteErr.Code()
	return code == sqliteConstraintPrimaryKey || code == sqliteConstraintUnique
}

func (s *SQLiteStore) GetByKey(ctx context.Context, key string) (*domain.License, error) {
	query := `SELECT key, product, version, customer, email, max_activations, machine_binding,
	                 expiry_date, status, created_at, updated_at
	          FROM licenses WHERE key = ?`

	var lic domain.License
	var email, expiry sql.NullString
	var createdAt, updatedAt string
	errRow := s.db.QueryRowContext(ctx, query, key).Scan(
		&lic.Key, &lic.Product, &lic.Version, &lic.Customer, &email,
		&lic.MaxActivations, &lic.MachineBinding, &expiry, &lic.Status,
		&createdAt, &updatedAt)
	if errors.Is(errRow, sql.ErrNoRows) {
		return nil, nil
	}
	if errRow != nil {
		return nil, errRow
	}
	if email.Valid {
		lic.Email = email.String
	}

	var errParse error
	if lic.CreatedAt, errParse = parseSQLiteTime(createdAt); errParse != nil {
		return nil, errParse
	}
	if lic.UpdatedAt, errParse = parseSQLiteTime(updatedAt); errParse != nil {
		return nil, errParse
	}
	if expiry.Valid {
		t, errExp := parseSQLiteTime(expiry.String)
		if errExp != nil {
			return nil, errExp
		}
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

func (s *SQLiteStore) loadWhitelist(ctx context.Context, key string) ([]string, error) {
	rows, errQuery := s.db.QueryContext(ctx,
		`SELECT ip FROM ip_whitelist WHERE license_key = ? ORDER BY id`, key)
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

func (s *SQLiteStore) loadActivations(ctx context.Context, key string) ([]domain.ActivationRecord, error) {
	rows, errQuery := s.db.QueryContext(ctx,
		`SELECT id, machine_code, ip, activated_at, last_verified, verification_count
		 FROM activations WHERE license_key = ? ORDER BY activated_at, id`, key)
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
		var code, ip, lastVerified sql.NullString
		var activatedAt string
		if errScan := rows.Scan(&act.ID, &code, &ip, &activatedAt, &lastVerified, &act.VerificationCount); errScan != nil {
			return nil, errScan
		}
		if code.Valid {
			act.MachineCode = code.String
		}
		if ip.Valid {
			act.IP = ip.String
		}

		var errParse error
		if act.ActivatedAt, errParse = parseSQLiteTime(activatedAt); errParse != nil {
			return nil, errParse
		}
		if lastVerified.Valid {
			t, errLv := parseSQLiteTime(lastVerified.String)
			if errLv != nil {
				return nil, errLv
			}
			act.LastVerified = &t
		}
		acts = append(acts, act)
	}
	return acts, rows.Err()
}

func (s *SQLiteStore) GetAll(ctx context.Context) ([]domain.License, error) {
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

func (s *SQLiteStore) Create(ctx context.Context, lic *domain.License) error {
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
	          VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, errExec := tx.ExecContext(ctx, query, lic.Key, lic.Product, lic.Version, lic.Customer,
		nullString(lic.Email), lic.MaxActivations, lic.MachineBinding,
		fmtSQLiteTimePtr(lic.ExpiryDate), lic.Status,
		fmtSQLiteTime(lic.CreatedAt), fmtSQLiteTime(lic.UpdatedAt))
	if errExec != nil {
		if isSQLiteConstraint(errExec) {
			return fmt.Errorf("%w: %s", domain.ErrAlreadyExists, lic.Key)
		}
		return errExec
	}

	for _, ip := range lic.IPWhitelist {
		if _, errIP := tx.ExecContext(ctx,
			`INSERT INTO ip_whitelist (license_key, ip) VALUES (?, ?)`, lic.Key, ip); errIP != nil {
			return errIP
		}
	}

	for _, act := range lic.Activations {
		id := act.ID
		if id == "" {
			id = uuid.New().String()
		}
		if _, errAct := tx.ExecContext(ctx,
			`INSERT INTO activations (id, license_key, machine_code, ip, activated_at, last_verified, verification_count)
			 VALUES (?, ?, ?, ?, ?, ?, ?)`,
			id, lic.Key, nullString(act.MachineCode), nullString(act.IP),
			fmtSQLiteTime(act.ActivatedAt), fmtSQLiteTimePtr(act.LastVerified), act.VerificationCount); errAct != nil {
			return errAct
		}
	}

	return tx.Commit()
}

func (s *SQLiteStore) Update(ctx context.Context, key string, upd domain.LicenseUpdate) (*domain.License, error) {
	setClauses := []string{}
	values := []interface{}{}
	add := func(col string, v interface{}) {
		setClauses = append(setClauses, col+" = ?")
		values = append(values, v)
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
		add("expiry_date", fmtSQLiteTime(*upd.ExpiryDate))
	}
	if upd.Status != nil {
		add("status", *upd.Status)
	}
	add("updated_at", fmtSQLiteTime(time.Now().UTC()))

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
	query := fmt.Sprintf("UPDATE licenses SET %s WHERE key = ?", strings.Join(setClauses, ", "))
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
			`DELETE FROM ip_whitelist WHERE license_key = ?`, key); errDel != nil {
			return nil, errDel
		}
		for _, ip := range upd.IPWhitelist {
			if _, errIP := tx.ExecContext(ctx,
				`INSERT INTO ip_whitelist (license_key, ip) VALUES (?, ?)`, key, ip); errIP != nil {
				return nil, errIP
			}
		}
	}

	if errCommit := tx.Commit(); errCommit != nil {
		return nil, errCommit
	}
	return s.GetByKey(ctx, key)
}

func (s *SQLiteStore) Delete(ctx context.Context, key string) error {
	res, errExec := s.db.ExecContext(ctx, `DELETE FROM licenses WHERE key = ?`, key)
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

func (s *SQLiteStore) Exists(ctx context.Context, key string) (bool, error) {
	var one int
	errRow := s.db.QueryRowContext(ctx,
		`SELECT 1 FROM licenses WHERE key = ?`, key).Scan(&one)
	if errors.Is(errRow, sql.ErrNoRows) {
		return false, nil
	}
	if errRow != nil {
		return false, errRow
	}
	return true, nil
}

func (s *SQLiteStore) AddActivation(ctx context.Context, key, machineCode, ip string) (bool, error) {
	tx, errTx := s.db.BeginTx(ctx, nil)
	if errTx != nil {
		return false, errTx
	}
	defer func() {
		if errRollback := tx.Rollback(); errRollback != nil && !errors.Is(errRollback, sql.ErrTxDone) {
			log.Printf("failed to rollback transaction: %v", errRollback)
		}
	}()

	var maxActivations int
	var machineBinding bool
	errRow := tx.QueryRowContext(ctx,
		`SELECT max_activations, machine_binding FROM licenses WHERE key = ?`, key).
		Scan(&maxActivations, &machineBinding)
	if errors.Is(errRow, sql.ErrNoRows) {
		return false, fmt.Errorf("%w: %s", domain.ErrNotFound, key)
	}
	if errRow != nil {
		return false, errRow
	}

	var existing int
	var errCount error
	if machineBinding && machineCode != "" {
		errCount = tx.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM activations WHERE license_key = ? AND machine_code = ?`,
			key, machineCode).Scan(&existing)
	} else {
		errCount = tx.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM activations WHERE license_key = ? AND ip = ?`,
			key, ip).Scan(&existing)
	}
	if errCount != nil {
		return false, errCount
	}
	if existing > 0 {
		return false, tx.Commit()
	}

	var count int
	if errCnt := tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM activations WHERE license_key = ?`, key).Scan(&count); errCnt != nil {
		return false, errCnt
	}
	if count >= maxActivations {
		return false, domain.ErrMaxActivations
	}

	// The appending verify counts as the first verification.
	now := time.Now().UTC()
	if _, errIns := tx.ExecContext(ctx,
		`INSERT INTO activations (id, license_key, machine_code, ip, activated_at, last_verified, verification_count)
		 VALUES (?, ?, ?, ?, ?, ?, 1)`,
		uuid.New().String(), key, nullString(machineCode), nullString(ip),
		fmtSQLiteTime(now), fmtSQLiteTime(now)); errIns != nil {
		return false, errIns
	}
	if _, errUpd := tx.ExecContext(ctx,
		`UPDATE licenses SET updated_at = ? WHERE key = ?`, fmtSQLiteTime(now), key); errUpd != nil {
		return false, errUpd
	}

	return true, tx.Commit()
}

func (s *SQLiteStore) UpdateVerification(ctx context.Context, key, machineCode, ip string) (bool, error) {
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
		`SELECT machine_binding FROM licenses WHERE key = ?`, key).Scan(&machineBinding)
	if errors.Is(errRow, sql.ErrNoRows) {
		return false, fmt.Errorf("%w: %s", domain.ErrNotFound, key)
	}
	if errRow != nil {
		return false, errRow
	}

	now := fmtSQLiteTime(time.Now().UTC())
	var res sql.Result
	var errExec error
	if machineBinding && machineCode != "" {
		if ip != "" {
			res, errExec = tx.ExecContext(ctx,
				`UPDATE activations SET verification_count = verification_count + 1,
				        last_verified = ?, ip = ?
				 WHERE license_key = ? AND machine_code = ?`, now, ip, key, machineCode)
		} else {
			res, errExec = tx.ExecContext(ctx,
				`UPDATE activations SET verification_count = verification_count + 1,
				        last_verified = ?
				 WHERE license_key = ? AND machine_code = ?`, now, key, machineCode)
		}
	} else {
		res, errExec = tx.ExecContext(ctx,
			`UPDATE activations SET verification_count = verification_count + 1,
			        last_verified = ?
			 WHERE license_key = ? AND ip = ?`, now, key, ip)
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
		`UPDATE licenses SET updated_at = ? WHERE key = ?`, now, key); errUpd != nil {
		return false, errUpd
	}
	return true, tx.Commit()
}

func (s *SQLiteStore) CountActivations(ctx context.Context, key string) (int, error) {
	var count int
	errRow := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM activations WHERE license_key = ?`, key).Scan(&count)
	return count, errRow
}

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQLiteStore) CreateAPIKey(ctx context.Context, key *domain.APIKey) error {
	query := `INSERT INTO api_keys (id, name, key_hash, key_prefix, active, created_at, expires_at)
	          VALUES (?, ?, ?, ?, ?, ?, ?)`
	_, errExec := s.db.ExecContext(ctx, query, key.ID, key.Name, key.KeyHash, key.KeyPrefix,
		key.Active, fmtSQLiteTime(key.CreatedAt), fmtSQLiteTimePtr(key.ExpiresAt))
	if isSQLiteConstraint(errExec) {
		return fmt.Errorf("%w: api key %s", domain.ErrAlreadyExists, key.ID)
	}
	return errExec
}

func (s *SQLiteStore) GetAPIKeyByHash(ctx context.Context, keyHash string) (*domain.APIKey, error) {
	query := `SELECT id, name, key_hash, key_prefix, active, created_at, expires_at
	          FROM api_keys WHERE key_hash = ?`
	var k domain.APIKey
	var createdAt string
	var expires sql.NullString
	errRow := s.db.QueryRowContext(ctx, query, keyHash).Scan(
		&k.ID, &k.Name, &k.KeyHash, &k.KeyPrefix, &k.Active, &createdAt, &expires)
	if errors.Is(errRow, sql.ErrNoRows) {
		return nil, nil
	}
	if errRow != nil {
		return nil, errRow
	}

	var errParse error
	if k.CreatedAt, errParse = parseSQLiteTime(createdAt); errParse != nil {
		return nil, errParse
	}
	if expires.Valid {
		t, errExp := parseSQLiteTime(expires.String)
		if errExp != nil {
			return nil, errExp
		}
		k.ExpiresAt = &t
	}
	return &k, nil
}

func (s *SQLiteStore) ListAPIKeys(ctx context.Context) ([]domain.APIKey, error) {
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
		var createdAt string
		var expires sql.NullString
		if errScan := rows.Scan(&k.ID, &k.Name, &k.KeyHash, &k.KeyPrefix, &k.Active, &createdAt, &expires); errScan != nil {
			return nil, errScan
		}

		var errParse error
		if k.CreatedAt, errParse = parseSQLiteTime(createdAt); errParse != nil {
			return nil, errParse
		}
		if expires.Valid {
			t, errExp := parseSQLiteTime(expires.String)
			if errExp != nil {
				return nil, errExp
			}
			k.ExpiresAt = &t
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

func (s *SQLiteStore) RevokeAPIKey(ctx context.Context, id string) error {
	res, errExec := s.db.ExecContext(ctx, `UPDATE api_keys SET active = 0 WHERE id = ?`, id)
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

// SQLite stores timestamps as RFC 3339 text in UTC.
func fmtSQLiteTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func fmtSQLiteTimePtr(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: fmtSQLiteTime(*t), Valid: true}
}

func parseSQLiteTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse stored timestamp %q: %w", s, err)
	}
	return t.UTC(), nil
}
