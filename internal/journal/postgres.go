package journal

import (
	"context"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/stakeflow/stakeflow/internal/chain"
)

// Schema creates the journal table. Amounts are stored as NUMERIC(78,0) so any
// uint256 fits.
const Schema = `
CREATE TABLE IF NOT EXISTS pending_transactions (
    id           UUID PRIMARY KEY,
    kind         TEXT NOT NULL,
    account      TEXT NOT NULL,
    amount       NUMERIC(78, 0) NOT NULL,
    tx_hash      TEXT,
    state        TEXT NOT NULL,
    error        TEXT,
    submitted_at TIMESTAMPTZ NOT NULL,
    resolved_at  TIMESTAMPTZ
);
CREATE INDEX IF NOT EXISTS pending_transactions_submitted_at_idx
    ON pending_transactions (submitted_at DESC);`

// PostgresJournal persists PendingTransaction records in PostgreSQL.
type PostgresJournal struct {
	db *pgxpool.Pool
}

// NewPostgresJournal constructs a Postgres-backed journal.
func NewPostgresJournal(db *pgxpool.Pool) *PostgresJournal {
	return &PostgresJournal{db: db}
}

// EnsureSchema creates the journal table when missing.
func (j *PostgresJournal) EnsureSchema(ctx context.Context) error {
	if _, err := j.db.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("ensure journal schema: %w", err)
	}
	return nil
}

// Record inserts a new entry.
func (j *PostgresJournal) Record(ctx context.Context, e Entry) error {
	_, err := j.db.Exec(ctx, `INSERT INTO pending_transactions
        (id, kind, account, amount, tx_hash, state, error, submitted_at, resolved_at)
        VALUES ($1, $2, $3, $4::numeric, $5, $6, $7, $8, $9)`,
		e.ID, string(e.Kind), e.Account.Hex(), amountText(e.Amount), hashText(e.Hash),
		e.State, nullable(e.Error), e.SubmittedAt.UTC(), nullableTime(e.ResolvedAt))
	return err
}

// Update overwrites the mutable columns of an existing entry.
func (j *PostgresJournal) Update(ctx context.Context, e Entry) error {
	tag, err := j.db.Exec(ctx, `UPDATE pending_transactions
        SET tx_hash = $2, state = $3, error = $4, resolved_at = $5
        WHERE id = $1`,
		e.ID, hashText(e.Hash), e.State, nullable(e.Error), nullableTime(e.ResolvedAt))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// Recent lists the newest entries first.
func (j *PostgresJournal) Recent(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := j.db.Query(ctx, `SELECT id, kind, account, amount::text, tx_hash, state, error, submitted_at, resolved_at
        FROM pending_transactions ORDER BY submitted_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func scanEntry(row pgx.Row) (Entry, error) {
	var (
		e          Entry
		kind       string
		account    string
		amountStr  string
		hash       *string
		errMsg     *string
		resolvedAt *time.Time
	)
	if err := row.Scan(&e.ID, &kind, &account, &amountStr, &hash, &e.State, &errMsg, &e.SubmittedAt, &resolvedAt); err != nil {
		return Entry{}, err
	}
	amount, err := uint256.FromDecimal(amountStr)
	if err != nil {
		return Entry{}, fmt.Errorf("decode amount %q: %w", amountStr, err)
	}
	e.Kind = chain.Kind(kind)
	e.Account = common.HexToAddress(account)
	e.Amount = amount
	e.SubmittedAt = e.SubmittedAt.UTC()
	if hash != nil {
		e.Hash = common.HexToHash(*hash)
	}
	if errMsg != nil {
		e.Error = *errMsg
	}
	if resolvedAt != nil {
		e.ResolvedAt = resolvedAt.UTC()
	}
	return e, nil
}

func amountText(v *uint256.Int) string {
	if v == nil {
		return "0"
	}
	return v.Dec()
}

func hashText(h common.Hash) *string {
	if h == (common.Hash{}) {
		return nil
	}
	s := h.Hex()
	return &s
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	u := t.UTC()
	return &u
}
