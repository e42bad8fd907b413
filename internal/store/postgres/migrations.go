package postgres

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"
)

type migration struct {
	Version string
	Name    string
	SQL     string
}

var migrations = []migration{
	{
		Version: "20250101000001",
		Name:    "create_accounts",
		SQL: `
CREATE TABLE IF NOT EXISTS accounts (
    account_id  TEXT PRIMARY KEY,
    balance     BIGINT NOT NULL DEFAULT 0 CHECK (balance >= 0),
    version     BIGINT NOT NULL DEFAULT 1,
    status      TEXT NOT NULL DEFAULT 'active',
    created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
);`,
	},
	{
		Version: "20250101000002",
		Name:    "create_ledger_entries",
		SQL: `
CREATE TABLE IF NOT EXISTS ledger_entries (
    seq              BIGSERIAL PRIMARY KEY,
    entry_id         TEXT NOT NULL UNIQUE,
    account_id       TEXT NOT NULL REFERENCES accounts (account_id),
    kind             TEXT NOT NULL CHECK (kind IN ('purchase', 'debit_usage', 'refund', 'adjustment')),
    amount           BIGINT NOT NULL CHECK (amount <> 0),
    balance_after    BIGINT NOT NULL CHECK (balance_after >= 0),
    external_ref     TEXT,
    idempotency_key  TEXT NOT NULL,
    created_at       TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_ledger_entries_idempotency_key ON ledger_entries (idempotency_key);
CREATE INDEX IF NOT EXISTS idx_ledger_entries_account_seq ON ledger_entries (account_id, seq);
CREATE INDEX IF NOT EXISTS idx_ledger_entries_external_ref ON ledger_entries (external_ref);`,
	},
	{
		Version: "20250101000003",
		Name:    "ledger_entries_append_only",
		SQL: `
CREATE OR REPLACE FUNCTION ledger_entries_reject_mutation() RETURNS trigger AS $$
BEGIN
    RAISE EXCEPTION 'ledger_entries is append-only';
END;
$$ LANGUAGE plpgsql;

DROP TRIGGER IF EXISTS trg_ledger_entries_append_only ON ledger_entries;
CREATE TRIGGER trg_ledger_entries_append_only
    BEFORE UPDATE OR DELETE ON ledger_entries
    FOR EACH ROW EXECUTE FUNCTION ledger_entries_reject_mutation();`,
	},
	{
		Version: "20250101000004",
		Name:    "create_credit_packages",
		SQL: `
CREATE TABLE IF NOT EXISTS credit_packages (
    id            TEXT PRIMARY KEY,
    name          TEXT NOT NULL,
    credits       BIGINT NOT NULL CHECK (credits > 0),
    bonus         BIGINT NOT NULL DEFAULT 0 CHECK (bonus >= 0),
    price         BIGINT NOT NULL CHECK (price > 0),
    currency      TEXT NOT NULL DEFAULT 'BDT',
    description   TEXT NOT NULL DEFAULT '',
    is_popular    BOOLEAN NOT NULL DEFAULT FALSE,
    active        BOOLEAN NOT NULL DEFAULT TRUE,
    created_at    TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at    TIMESTAMPTZ NOT NULL DEFAULT NOW()
);`,
	},
}

// Migrate applies pending schema migrations in order, each in its own transaction.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version     TEXT PRIMARY KEY,
			name        TEXT NOT NULL,
			applied_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`); err != nil {
		return fmt.Errorf("create schema_migrations: %w", err)
	}

	for _, m := range migrations {
		var exists bool
		if err := s.db.QueryRowContext(ctx,
			`SELECT EXISTS (SELECT 1 FROM schema_migrations WHERE version = $1)`, m.Version).Scan(&exists); err != nil {
			return fmt.Errorf("check migration %s: %w", m.Version, err)
		}
		if exists {
			continue
		}

		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin migration %s: %w", m.Version, err)
		}
		if _, err := tx.ExecContext(ctx, m.SQL); err != nil {
			tx.Rollback()
			return fmt.Errorf("apply migration %s (%s): %w", m.Version, m.Name, err)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO schema_migrations (version, name) VALUES ($1, $2)`, m.Version, m.Name); err != nil {
			tx.Rollback()
			return fmt.Errorf("record migration %s: %w", m.Version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %s: %w", m.Version, err)
		}
		log.Info().Str("version", m.Version).Str("name", m.Name).Msg("applied migration")
	}
	return nil
}
