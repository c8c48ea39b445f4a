package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/ovaphlow/pitchfork/service-streaming-core/internal/account/entity"
	"github.com/ovaphlow/pitchfork/service-streaming-core/pkg/database"
)

// SQLStore persists accounts in two tables: accounts and device_sessions,
// the latter ordered by seq to keep session order stable. It works with both
// the postgres and the sqlite driver.
type SQLStore struct {
	db *sqlx.DB
}

func NewSQLStore(db *sqlx.DB) *SQLStore { return &SQLStore{db: db} }

func (s *SQLStore) postgres() bool { return s.db.DriverName() == database.DriverPostgres }

// EnsureTables creates the tables if they do not exist (idempotent).
// Prefer migrations in production.
func (s *SQLStore) EnsureTables(ctx context.Context) error {
	ts := "TIMESTAMP"
	if s.postgres() {
		ts = "TIMESTAMPTZ"
	}
	ddl := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS accounts (
  id BIGINT PRIMARY KEY,
  email TEXT NOT NULL UNIQUE,
  password_hash TEXT NOT NULL,
  failed_attempts INTEGER NOT NULL DEFAULT 0,
  locked_until %[1]s,
  last_login_at %[1]s,
  version BIGINT NOT NULL DEFAULT 1,
  created_at %[1]s NOT NULL,
  updated_at %[1]s NOT NULL
)`, ts),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS device_sessions (
  id TEXT PRIMARY KEY,
  account_id BIGINT NOT NULL REFERENCES accounts(id) ON DELETE CASCADE,
  seq INTEGER NOT NULL,
  device_id TEXT NOT NULL,
  device_type TEXT NOT NULL,
  device_name TEXT NOT NULL DEFAULT '',
  ip_address TEXT NOT NULL DEFAULT '',
  user_agent TEXT NOT NULL DEFAULT '',
  last_activity %[1]s NOT NULL,
  active BOOLEAN NOT NULL,
  created_at %[1]s NOT NULL
)`, ts),
		`CREATE INDEX IF NOT EXISTS idx_device_sessions_account ON device_sessions(account_id, seq)`,
		`CREATE INDEX IF NOT EXISTS idx_accounts_locked_until ON accounts(locked_until)`,
	}
	for _, q := range ddl {
		if _, err := s.db.ExecContext(ctx, q); err != nil {
			return err
		}
	}
	return nil
}

type accountRow struct {
	ID             int64      `db:"id"`
	Email          string     `db:"email"`
	PasswordHash   string     `db:"password_hash"`
	FailedAttempts int        `db:"failed_attempts"`
	LockedUntil    *time.Time `db:"locked_until"`
	LastLoginAt    *time.Time `db:"last_login_at"`
	Version        int64      `db:"version"`
	CreatedAt      time.Time  `db:"created_at"`
	UpdatedAt      time.Time  `db:"updated_at"`
}

type sessionRow struct {
	ID           string    `db:"id"`
	AccountID    int64     `db:"account_id"`
	Seq          int       `db:"seq"`
	DeviceID     string    `db:"device_id"`
	DeviceType   string    `db:"device_type"`
	DeviceName   string    `db:"device_name"`
	IPAddress    string    `db:"ip_address"`
	UserAgent    string    `db:"user_agent"`
	LastActivity time.Time `db:"last_activity"`
	Active       bool      `db:"active"`
	CreatedAt    time.Time `db:"created_at"`
}

const accountColumns = `id, email, password_hash, failed_attempts, locked_until, last_login_at, version, created_at, updated_at`

func (r accountRow) toEntity(sessions []sessionRow) *entity.Account {
	a := &entity.Account{
		ID:             r.ID,
		Email:          r.Email,
		PasswordHash:   r.PasswordHash,
		FailedAttempts: r.FailedAttempts,
		LockedUntil:    r.LockedUntil,
		LastLoginAt:    r.LastLoginAt,
		Version:        r.Version,
		CreatedAt:      r.CreatedAt,
		UpdatedAt:      r.UpdatedAt,
	}
	for _, sr := range sessions {
		a.DeviceSessions = append(a.DeviceSessions, entity.DeviceSession{
			ID:           sr.ID,
			DeviceID:     sr.DeviceID,
			DeviceType:   entity.DeviceType(sr.DeviceType),
			DeviceName:   sr.DeviceName,
			IPAddress:    sr.IPAddress,
			UserAgent:    sr.UserAgent,
			LastActivity: sr.LastActivity,
			Active:       sr.Active,
			CreatedAt:    sr.CreatedAt,
		})
	}
	return a
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}

func (s *SQLStore) Create(ctx context.Context, a *entity.Account) error {
	if a.Version == 0 {
		a.Version = 1
	}
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, tx.Rebind(`INSERT INTO accounts (`+accountColumns+`) VALUES (?,?,?,?,?,?,?,?,?)`),
		a.ID, a.Email, a.PasswordHash, a.FailedAttempts, utcPtr(a.LockedUntil), utcPtr(a.LastLoginAt),
		a.Version, a.CreatedAt.UTC(), a.UpdatedAt.UTC())
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicate
		}
		return err
	}
	if err := insertSessions(ctx, tx, a); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *SQLStore) Get(ctx context.Context, id int64) (*entity.Account, error) {
	return s.load(ctx, s.db, `SELECT `+accountColumns+` FROM accounts WHERE id = ?`, id)
}

func (s *SQLStore) GetByEmail(ctx context.Context, email string) (*entity.Account, error) {
	return s.load(ctx, s.db, `SELECT `+accountColumns+` FROM accounts WHERE email = ?`, email)
}

func (s *SQLStore) load(ctx context.Context, q sqlx.QueryerContext, query string, arg any) (*entity.Account, error) {
	var row accountRow
	if err := sqlx.GetContext(ctx, q, &row, s.db.Rebind(query), arg); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	var sessions []sessionRow
	err := sqlx.SelectContext(ctx, q, &sessions, s.db.Rebind(
		`SELECT id, account_id, seq, device_id, device_type, device_name, ip_address, user_agent, last_activity, active, created_at
		 FROM device_sessions WHERE account_id = ? ORDER BY seq`), row.ID)
	if err != nil {
		return nil, err
	}
	return row.toEntity(sessions), nil
}

// Update runs fn inside a transaction and commits only if fn succeeds. On
// postgres the row is locked with FOR UPDATE; the version check additionally
// catches writers that bypass the lock, in which case fn is run again on a
// fresh copy.
func (s *SQLStore) Update(ctx context.Context, id int64, fn func(*entity.Account) error) (*entity.Account, error) {
	return retryConflicts(ctx, func() (*entity.Account, error) { return s.updateOnce(ctx, id, fn) })
}

func (s *SQLStore) updateOnce(ctx context.Context, id int64, fn func(*entity.Account) error) (*entity.Account, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	q := `SELECT ` + accountColumns + ` FROM accounts WHERE id = ?`
	if s.postgres() {
		q += ` FOR UPDATE`
	}
	cur, err := s.load(ctx, tx, q, id)
	if err != nil {
		return nil, err
	}
	next := cur.Clone()
	if err := fn(next); err != nil {
		if errors.Is(err, ErrNoChange) {
			return cur, nil
		}
		return nil, err
	}
	next.ID = cur.ID
	next.Email = cur.Email
	next.Version = cur.Version + 1

	res, err := tx.ExecContext(ctx, tx.Rebind(`UPDATE accounts
		SET password_hash = ?, failed_attempts = ?, locked_until = ?, last_login_at = ?, version = ?, updated_at = ?
		WHERE id = ? AND version = ?`),
		next.PasswordHash, next.FailedAttempts, utcPtr(next.LockedUntil), utcPtr(next.LastLoginAt),
		next.Version, next.UpdatedAt.UTC(), id, cur.Version)
	if err != nil {
		return nil, err
	}
	if n, err := res.RowsAffected(); err != nil {
		return nil, err
	} else if n != 1 {
		return nil, ErrConflict
	}

	if _, err := tx.ExecContext(ctx, tx.Rebind(`DELETE FROM device_sessions WHERE account_id = ?`), id); err != nil {
		return nil, err
	}
	if err := insertSessions(ctx, tx, next); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return next, nil
}

func insertSessions(ctx context.Context, tx *sqlx.Tx, a *entity.Account) error {
	const q = `INSERT INTO device_sessions
		(id, account_id, seq, device_id, device_type, device_name, ip_address, user_agent, last_activity, active, created_at)
		VALUES (:id, :account_id, :seq, :device_id, :device_type, :device_name, :ip_address, :user_agent, :last_activity, :active, :created_at)`
	for i, ds := range a.DeviceSessions {
		row := sessionRow{
			ID:           ds.ID,
			AccountID:    a.ID,
			Seq:          i,
			DeviceID:     ds.DeviceID,
			DeviceType:   string(ds.DeviceType),
			DeviceName:   ds.DeviceName,
			IPAddress:    ds.IPAddress,
			UserAgent:    ds.UserAgent,
			LastActivity: ds.LastActivity.UTC(),
			Active:       ds.Active,
			CreatedAt:    ds.CreatedAt.UTC(),
		}
		if _, err := tx.NamedExecContext(ctx, q, row); err != nil {
			return err
		}
	}
	return nil
}

// ExpiredLocks lists accounts whose stored lock ended at or before now.
// The comparison is done here rather than in SQL because sqlite stores
// timestamps as text.
func (s *SQLStore) ExpiredLocks(ctx context.Context, now time.Time) ([]int64, error) {
	var rows []struct {
		ID          int64     `db:"id"`
		LockedUntil time.Time `db:"locked_until"`
	}
	if err := s.db.SelectContext(ctx, &rows, `SELECT id, locked_until FROM accounts WHERE locked_until IS NOT NULL`); err != nil {
		return nil, err
	}
	var ids []int64
	for _, r := range rows {
		if !now.Before(r.LockedUntil) {
			ids = append(ids, r.ID)
		}
	}
	return ids, nil
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	var liteErr *sqlite.Error
	if errors.As(err, &liteErr) {
		return liteErr.Code()&0xff == sqlite3.SQLITE_CONSTRAINT
	}
	return false
}
