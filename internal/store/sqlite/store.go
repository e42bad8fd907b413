package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/banglalekha/backend/internal/ledger"
	"github.com/banglalekha/backend/internal/models"
	"github.com/rs/zerolog/log"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

const entryColumns = `entry_id, account_id, kind, amount, balance_after, external_ref, idempotency_key, created_at`

// Store implements ledger.Store on an embedded SQLite database. The pool is
// capped at one connection, so transactions serialize on the database and a
// Tx owns every account it touches until it ends.
type Store struct {
	db *sql.DB
}

// Open creates the database file at path and applies the schema.
func Open(ctx context.Context, path string) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("sqlite path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	// Pragmas in the DSN so every pool connection is configured
	dsn := path + "?" + url.Values{
		"_pragma": []string{
			"busy_timeout(5000)",
			"journal_mode(WAL)",
			"synchronous(NORMAL)",
			"foreign_keys(ON)",
		},
	}.Encode()
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open ledger database: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	s := &Store{db: db}
	if err := s.initSchema(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	log.Info().Str("dbPath", path).Msg("SQLite ledger store initialized")
	return s, nil
}

func (s *Store) initSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS accounts (
		account_id  TEXT PRIMARY KEY,
		balance     INTEGER NOT NULL DEFAULT 0 CHECK (balance >= 0),
		version     INTEGER NOT NULL DEFAULT 1,
		status      TEXT NOT NULL DEFAULT 'active',
		created_at  INTEGER NOT NULL,
		updated_at  INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS ledger_entries (
		seq              INTEGER PRIMARY KEY AUTOINCREMENT,
		entry_id         TEXT NOT NULL UNIQUE,
		account_id       TEXT NOT NULL REFERENCES accounts (account_id),
		kind             TEXT NOT NULL CHECK (kind IN ('purchase', 'debit_usage', 'refund', 'adjustment')),
		amount           INTEGER NOT NULL CHECK (amount <> 0),
		balance_after    INTEGER NOT NULL CHECK (balance_after >= 0),
		external_ref     TEXT,
		idempotency_key  TEXT NOT NULL UNIQUE,
		created_at       INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_ledger_entries_account_seq ON ledger_entries (account_id, seq);
	CREATE INDEX IF NOT EXISTS idx_ledger_entries_external_ref ON ledger_entries (external_ref);

	CREATE TRIGGER IF NOT EXISTS trg_ledger_entries_no_update
	BEFORE UPDATE ON ledger_entries
	BEGIN
		SELECT RAISE(ABORT, 'ledger_entries is append-only');
	END;

	CREATE TRIGGER IF NOT EXISTS trg_ledger_entries_no_delete
	BEFORE DELETE ON ledger_entries
	BEGIN
		SELECT RAISE(ABORT, 'ledger_entries is append-only');
	END;
	`
	_, err := s.db.ExecContext(ctx, schema)
	return err
}

func (s *Store) Begin(ctx context.Context) (ledger.Tx, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, classify("begin", err)
	}
	return &liteTx{tx: tx}, nil
}

func (s *Store) CreateAccount(ctx context.Context, account *models.Account) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO accounts (account_id, balance, version, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		account.ID, account.Balance, account.Version, account.Status,
		account.CreatedAt.UnixNano(), account.UpdatedAt.UnixNano())
	if isConstraint(err, sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY, sqlite3.SQLITE_CONSTRAINT_UNIQUE) {
		return ledger.ErrAccountExists
	}
	return classify("create account", err)
}

func (s *Store) GetAccount(ctx context.Context, accountID string) (*models.Account, error) {
	return getAccount(ctx, s.db, accountID)
}

func (s *Store) SetAccountStatus(ctx context.Context, accountID, status string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE accounts SET status = ?, updated_at = ? WHERE account_id = ?`,
		status, time.Now().UTC().UnixNano(), accountID)
	if err != nil {
		return classify("set account status", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return classify("set account status", err)
	}
	if n == 0 {
		return ledger.ErrAccountNotFound
	}
	return nil
}

func (s *Store) EntryByKey(ctx context.Context, key string) (*models.LedgerEntry, error) {
	return entryByKey(ctx, s.db, key)
}

func (s *Store) ListEntries(ctx context.Context, accountID string, opts ledger.ListOptions) ([]models.LedgerEntry, error) {
	var sb strings.Builder
	args := []any{accountID}

	sb.WriteString(`SELECT ` + entryColumns + ` FROM ledger_entries WHERE account_id = ?`)
	if opts.Kind != "" {
		sb.WriteString(` AND kind = ?`)
		args = append(args, string(opts.Kind))
	}
	if opts.Ascending {
		sb.WriteString(` ORDER BY seq ASC`)
	} else {
		sb.WriteString(` ORDER BY seq DESC`)
	}
	if opts.Limit > 0 || opts.Offset > 0 {
		limit := opts.Limit
		if limit <= 0 {
			limit = -1
		}
		sb.WriteString(` LIMIT ? OFFSET ?`)
		args = append(args, limit, opts.Offset)
	}

	rows, err := s.db.QueryContext(ctx, sb.String(), args...)
	if err != nil {
		return nil, classify("list entries", err)
	}
	defer rows.Close()

	entries := []models.LedgerEntry{}
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, classify("scan entry", err)
		}
		entries = append(entries, *entry)
	}
	return entries, classify("list entries", rows.Err())
}

func (s *Store) UsageSummary(ctx context.Context, accountID string) ([]models.FeatureUsage, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT d.external_ref,
		       COUNT(d.entry_id),
		       COUNT(r.entry_id),
		       COALESCE(SUM(-d.amount), 0) - COALESCE(SUM(r.amount), 0)
		FROM ledger_entries d
		LEFT JOIN ledger_entries r
		       ON r.kind = 'refund' AND r.account_id = d.account_id AND r.external_ref = d.idempotency_key
		WHERE d.account_id = ? AND d.kind = 'debit_usage' AND d.external_ref IS NOT NULL
		GROUP BY d.external_ref
		ORDER BY d.external_ref`, accountID)
	if err != nil {
		return nil, classify("usage summary", err)
	}
	defer rows.Close()

	usage := []models.FeatureUsage{}
	for rows.Next() {
		var u models.FeatureUsage
		var feature string
		if err := rows.Scan(&feature, &u.Invocations, &u.Refunds, &u.CreditsUsed); err != nil {
			return nil, classify("scan usage", err)
		}
		u.Feature = models.Feature(feature)
		usage = append(usage, u)
	}
	return usage, classify("usage summary", rows.Err())
}

func (s *Store) Ping(ctx context.Context) error {
	return classify("ping", s.db.PingContext(ctx))
}

func (s *Store) Close() error {
	return s.db.Close()
}

type liteTx struct {
	tx *sql.Tx
}

// LockAccount needs no row lock: the single pooled connection already gives
// this Tx exclusive access until it ends.
func (t *liteTx) LockAccount(ctx context.Context, accountID string) (*models.Account, error) {
	return getAccount(ctx, t.tx, accountID)
}

func (t *liteTx) EntryByKey(ctx context.Context, key string) (*models.LedgerEntry, error) {
	return entryByKey(ctx, t.tx, key)
}

func (t *liteTx) InsertEntry(ctx context.Context, entry *models.LedgerEntry) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO ledger_entries (`+entryColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.ID, entry.AccountID, string(entry.Kind), entry.Amount, entry.BalanceAfter,
		entry.ExternalRef, entry.IdempotencyKey, entry.CreatedAt.UnixNano())
	if isConstraint(err, sqlite3.SQLITE_CONSTRAINT_UNIQUE) {
		return ledger.ErrDuplicateKey
	}
	return classify("insert entry", err)
}

func (t *liteTx) UpdateBalance(ctx context.Context, accountID string, balance, version int64, at time.Time) error {
	result, err := t.tx.ExecContext(ctx, `
		UPDATE accounts
		SET balance = ?, version = version + 1, updated_at = ?
		WHERE account_id = ? AND version = ?`,
		balance, at.UnixNano(), accountID, version)
	if isConstraint(err, sqlite3.SQLITE_CONSTRAINT_CHECK) {
		return ledger.ErrInsufficientBalance
	}
	if err != nil {
		return classify("update balance", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return classify("update balance", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: account %s", ledger.ErrVersionConflict, accountID)
	}
	return nil
}

func (t *liteTx) Commit() error {
	return classify("commit", t.tx.Commit())
}

func (t *liteTx) Rollback() error {
	if err := t.tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		return err
	}
	return nil
}

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func getAccount(ctx context.Context, q queryer, accountID string) (*models.Account, error) {
	var account models.Account
	var created, updated int64
	err := q.QueryRowContext(ctx, `
		SELECT account_id, balance, version, status, created_at, updated_at
		FROM accounts WHERE account_id = ?`, accountID).
		Scan(&account.ID, &account.Balance, &account.Version, &account.Status, &created, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ledger.ErrAccountNotFound
	}
	if err != nil {
		return nil, classify("get account", err)
	}
	account.CreatedAt = time.Unix(0, created).UTC()
	account.UpdatedAt = time.Unix(0, updated).UTC()
	return &account, nil
}

func entryByKey(ctx context.Context, q queryer, key string) (*models.LedgerEntry, error) {
	row := q.QueryRowContext(ctx, `
		SELECT `+entryColumns+` FROM ledger_entries WHERE idempotency_key = ?`, key)
	entry, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ledger.ErrEntryNotFound
	}
	if err != nil {
		return nil, classify("entry by key", err)
	}
	return entry, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanEntry(row scanner) (*models.LedgerEntry, error) {
	var entry models.LedgerEntry
	var kind string
	var ref sql.NullString
	var created int64
	if err := row.Scan(&entry.ID, &entry.AccountID, &kind, &entry.Amount, &entry.BalanceAfter,
		&ref, &entry.IdempotencyKey, &created); err != nil {
		return nil, err
	}
	entry.Kind = models.EntryKind(kind)
	if ref.Valid {
		entry.ExternalRef = &ref.String
	}
	entry.CreatedAt = time.Unix(0, created).UTC()
	return &entry, nil
}

func isConstraint(err error, codes ...int) bool {
	var liteErr *sqlite.Error
	if !errors.As(err, &liteErr) {
		return false
	}
	for _, code := range codes {
		if liteErr.Code() == code {
			return true
		}
	}
	return false
}

func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	var liteErr *sqlite.Error
	switch {
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled), errors.Is(err, sql.ErrConnDone):
		return ledger.Unavailable(op, err)
	case errors.As(err, &liteErr):
		// Primary result code lives in the low byte.
		switch liteErr.Code() & 0xff {
		case sqlite3.SQLITE_BUSY, sqlite3.SQLITE_LOCKED, sqlite3.SQLITE_IOERR, sqlite3.SQLITE_CANTOPEN:
			return ledger.Unavailable(op, err)
		}
	}
	return fmt.Errorf("%s: %w", op, err)
}
