package treasury

import (
	"context"
	"errors"
	"strconv"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// Repository persists ledger entries in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// TxRepository exposes transactional ledger operations. Other modules that
// need ledger writes inside their own transaction wrap their pgx.Tx with
// NewTxRepository so the paired insert and the balance check share one
// transaction.
type TxRepository interface {
	InsertEntry(ctx context.Context, entry LedgerEntry) error
	GetEntryForUpdate(ctx context.Context, id uuid.UUID) (*LedgerEntry, error)
	MarkReversed(ctx context.Context, id uuid.UUID) error
	AccountBalance(ctx context.Context, account AccountID) (decimal.Decimal, error)
	UpdateCosmetic(ctx context.Context, id uuid.UUID, description, reference *string) error
	EntriesByInvoice(ctx context.Context, invoiceID uuid.UUID) ([]LedgerEntry, error)
}

type txRepo struct {
	tx pgx.Tx
}

// NewTxRepository wraps an open transaction with ledger operations.
func NewTxRepository(tx pgx.Tx) TxRepository {
	return &txRepo{tx: tx}
}

// WithTx executes the callback inside a repeatable-read transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if err := fn(ctx, &txRepo{tx: tx}); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

const entryColumns = `id, account_id, kind, amount, description, reference, linked_invoice_id, reversed, reversal_of, created_at`

func scanEntry(row pgx.Row) (*LedgerEntry, error) {
	var e LedgerEntry
	err := row.Scan(&e.ID, &e.AccountID, &e.Kind, &e.Amount, &e.Description, &e.Reference, &e.LinkedInvoiceID, &e.Reversed, &e.ReversalOf, &e.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &e, nil
}

// GetEntry loads one entry outside a transaction.
func (r *Repository) GetEntry(ctx context.Context, id uuid.UUID) (*LedgerEntry, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+entryColumns+` FROM ledger_entries WHERE id=$1`, id)
	return scanEntry(row)
}

// ListEntries returns entries, newest first.
func (r *Repository) ListEntries(ctx context.Context, filter EntryFilter) ([]LedgerEntry, error) {
	query := `SELECT ` + entryColumns + ` FROM ledger_entries WHERE 1=1`
	args := []any{}
	if filter.AccountID != "" {
		args = append(args, filter.AccountID)
		query += ` AND account_id=$1`
	}
	if filter.Reference != "" {
		args = append(args, filter.Reference)
		query += ` AND reference=$` + strconv.Itoa(len(args))
	}
	query += ` ORDER BY created_at DESC`
	limit := filter.Limit
	if limit <= 0 {
		limit = 200
	}
	args = append(args, limit)
	query += ` LIMIT $` + strconv.Itoa(len(args))

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []LedgerEntry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, *e)
	}
	return entries, rows.Err()
}

const balanceExpr = `COALESCE(SUM(CASE WHEN kind IN ('income','transfer_in') THEN amount ELSE -amount END), 0)`

// Balance derives one account's balance from its entries.
func (r *Repository) Balance(ctx context.Context, account AccountID) (decimal.Decimal, error) {
	var balance decimal.Decimal
	err := r.pool.QueryRow(ctx, `SELECT `+balanceExpr+` FROM ledger_entries WHERE account_id=$1`, account).Scan(&balance)
	return balance, err
}

// Balances derives every account balance in one query.
func (r *Repository) Balances(ctx context.Context) (map[AccountID]decimal.Decimal, error) {
	rows, err := r.pool.Query(ctx, `SELECT account_id, `+balanceExpr+` FROM ledger_entries GROUP BY account_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	balances := make(map[AccountID]decimal.Decimal)
	for rows.Next() {
		var id AccountID
		var balance decimal.Decimal
		if err := rows.Scan(&id, &balance); err != nil {
			return nil, err
		}
		balances[id] = balance
	}
	return balances, rows.Err()
}

func (t *txRepo) InsertEntry(ctx context.Context, entry LedgerEntry) error {
	_, err := t.tx.Exec(ctx, `INSERT INTO ledger_entries (`+entryColumns+`)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		entry.ID, entry.AccountID, entry.Kind, entry.Amount, entry.Description, entry.Reference,
		entry.LinkedInvoiceID, entry.Reversed, entry.ReversalOf, entry.CreatedAt)
	return err
}

func (t *txRepo) GetEntryForUpdate(ctx context.Context, id uuid.UUID) (*LedgerEntry, error) {
	row := t.tx.QueryRow(ctx, `SELECT `+entryColumns+` FROM ledger_entries WHERE id=$1 FOR UPDATE`, id)
	return scanEntry(row)
}

func (t *txRepo) MarkReversed(ctx context.Context, id uuid.UUID) error {
	tag, err := t.tx.Exec(ctx, `UPDATE ledger_entries SET reversed=true WHERE id=$1 AND NOT reversed`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrAlreadyReversed
	}
	return nil
}

func (t *txRepo) AccountBalance(ctx context.Context, account AccountID) (decimal.Decimal, error) {
	var balance decimal.Decimal
	err := t.tx.QueryRow(ctx, `SELECT `+balanceExpr+` FROM ledger_entries WHERE account_id=$1`, account).Scan(&balance)
	return balance, err
}

// EntriesByInvoice locks and returns the live (non-reversal) entries
// linked to one invoice. Cancellation reverses each of them.
func (t *txRepo) EntriesByInvoice(ctx context.Context, invoiceID uuid.UUID) ([]LedgerEntry, error) {
	rows, err := t.tx.Query(ctx, `SELECT `+entryColumns+` FROM ledger_entries
WHERE linked_invoice_id=$1 AND reversal_of IS NULL ORDER BY created_at FOR UPDATE`, invoiceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []LedgerEntry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, *e)
	}
	return entries, rows.Err()
}

func (t *txRepo) UpdateCosmetic(ctx context.Context, id uuid.UUID, description, reference *string) error {
	tag, err := t.tx.Exec(ctx, `UPDATE ledger_entries
SET description=COALESCE($2, description), reference=COALESCE($3, reference)
WHERE id=$1`, id, description, reference)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
