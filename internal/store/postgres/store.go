package postgres

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/banglalekha/backend/internal/ledger"
	"github.com/banglalekha/backend/internal/models"
	"github.com/lib/pq"
)

const (
	uniqueViolation = "23505"
	checkViolation  = "23514"

	entryColumns = `entry_id, account_id, kind, amount, balance_after, external_ref, idempotency_key, created_at`
)

// Store implements ledger.Store on PostgreSQL. Balance mutations lock the
// account row with SELECT ... FOR UPDATE and guard the update with a version
// check.
type Store struct {
	db *sql.DB
}

func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// DB exposes the handle for collaborators sharing the connection pool.
func (s *Store) DB() *sql.DB {
	return s.db
}

func (s *Store) Begin(ctx context.Context) (ledger.Tx, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, classify("begin", err)
	}
	return &pgTx{tx: tx}, nil
}

func (s *Store) CreateAccount(ctx context.Context, account *models.Account) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO accounts (account_id, balance, version, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		account.ID, account.Balance, account.Version, account.Status, account.CreatedAt, account.UpdatedAt)
	if isCode(err, uniqueViolation) {
		return ledger.ErrAccountExists
	}
	return classify("create account", err)
}

func (s *Store) GetAccount(ctx context.Context, accountID string) (*models.Account, error) {
	var account models.Account
	err := s.db.QueryRowContext(ctx, `
		SELECT account_id, balance, version, status, created_at, updated_at
		FROM accounts
		WHERE account_id = $1`, accountID).
		Scan(&account.ID, &account.Balance, &account.Version, &account.Status, &account.CreatedAt, &account.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ledger.ErrAccountNotFound
	}
	if err != nil {
		return nil, classify("get account", err)
	}
	return &account, nil
}

func (s *Store) SetAccountStatus(ctx context.Context, accountID, status string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE accounts
		SET status = $1, updated_at = $2
		WHERE account_id = $3`,
		status, time.Now().UTC(), accountID)
	if err != nil {
		return classify("set account status", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return classify("set account status", err)
	}
	if rowsAffected == 0 {
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

	sb.WriteString(`SELECT ` + entryColumns + ` FROM ledger_entries WHERE account_id = $1`)
	if opts.Kind != "" {
		args = append(args, string(opts.Kind))
		fmt.Fprintf(&sb, ` AND kind = $%d`, len(args))
	}
	if opts.Ascending {
		sb.WriteString(` ORDER BY seq ASC`)
	} else {
		sb.WriteString(` ORDER BY seq DESC`)
	}
	if opts.Limit > 0 {
		args = append(args, opts.Limit)
		fmt.Fprintf(&sb, ` LIMIT $%d`, len(args))
	}
	if opts.Offset > 0 {
		args = append(args, opts.Offset)
		fmt.Fprintf(&sb, ` OFFSET $%d`, len(args))
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
	if err := rows.Err(); err != nil {
		return nil, classify("list entries", err)
	}
	return entries, nil
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
		WHERE d.account_id = $1 AND d.kind = 'debit_usage' AND d.external_ref IS NOT NULL
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
	if err := rows.Err(); err != nil {
		return nil, classify("usage summary", err)
	}
	return usage, nil
}

func (s *Store) Ping(ctx context.Context) error {
	return classify("ping", s.db.PingContext(ctx))
}

func (s *Store) Close() error {
	return s.db.Close()
}

type pgTx struct {
	tx *sql.Tx
}

func (t *pgTx) LockAccount(ctx context.Context, accountID string) (*models.Account, error) {
	var account models.Account
	err := t.tx.QueryRowContext(ctx, `
		SELECT account_id, balance, version, status, created_at, updated_at
		FROM accounts
		WHERE account_id = $1
		FOR UPDATE`, accountID).
		Scan(&account.ID, &account.Balance, &account.Version, &account.Status, &account.CreatedAt, &account.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ledger.ErrAccountNotFound
	}
	if err != nil {
		return nil, classify("lock account", err)
	}
	return &account, nil
}

func (t *pgTx) EntryByKey(ctx context.Context, key string) (*models.LedgerEntry, error) {
	return entryByKey(ctx, t.tx, key)
}

func (t *pgTx) InsertEntry(ctx context.Context, entry *models.LedgerEntry) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO ledger_entries (`+entryColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		entry.ID, entry.AccountID, string(entry.Kind), entry.Amount, entry.BalanceAfter,
		entry.ExternalRef, entry.IdempotencyKey, entry.CreatedAt)
	if isCode(err, uniqueViolation) {
		return ledger.ErrDuplicateKey
	}
	return classify("insert entry", err)
}

func (t *pgTx) UpdateBalance(ctx context.Context, accountID string, balance, version int64, at time.Time) error {
	result, err := t.tx.ExecContext(ctx, `
		UPDATE accounts
		SET balance = $1, version = version + 1, updated_at = $2
		WHERE account_id = $3 AND version = $4`,
		balance, at, accountID, version)
	if isCode(err, checkViolation) {
		return ledger.ErrInsufficientBalance
	}
	if err != nil {
		return classify("update balance", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return classify("update balance", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("%w: account %s", ledger.ErrVersionConflict, accountID)
	}
	return nil
}

func (t *pgTx) Commit() error {
	err := t.tx.Commit()
	if isCode(err, uniqueViolation) {
		return ledger.ErrDuplicateKey
	}
	return classify("commit", err)
}

func (t *pgTx) Rollback() error {
	if err := t.tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		return err
	}
	return nil
}

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func entryByKey(ctx context.Context, q queryer, key string) (*models.LedgerEntry, error) {
	row := q.QueryRowContext(ctx, `
		SELECT `+entryColumns+`
		FROM ledger_entries
		WHERE idempotency_key = $1`, key)
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
	if err := row.Scan(&entry.ID, &entry.AccountID, &kind, &entry.Amount, &entry.BalanceAfter,
		&ref, &entry.IdempotencyKey, &entry.CreatedAt); err != nil {
		return nil, err
	}
	entry.Kind = models.EntryKind(kind)
	if ref.Valid {
		entry.ExternalRef = &ref.String
	}
	return &entry, nil
}

func isCode(err error, code string) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && string(pqErr.Code) == code
}

// classify marks connectivity failures as ledger.ErrUnavailable and passes
// everything else through with context.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	var pqErr *pq.Error
	var netErr net.Error
	switch {
	case errors.Is(err, driver.ErrBadConn),
		errors.Is(err, sql.ErrConnDone),
		errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, context.Canceled),
		errors.As(err, &netErr):
		return ledger.Unavailable(op, err)
	case errors.As(err, &pqErr):
		// Class 08: connection exception; 57P0x: operator intervention.
		if strings.HasPrefix(string(pqErr.Code), "08") || strings.HasPrefix(string(pqErr.Code), "57P0") {
			return ledger.Unavailable(op, err)
		}
	}
	return fmt.Errorf("%s: %w", op, err)
}
