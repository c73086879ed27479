package invoicing

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/sealforge-erp/sealforge-erp/internal/inventory"
	"github.com/sealforge-erp/sealforge-erp/internal/parties"
	"github.com/sealforge-erp/sealforge-erp/internal/platform/db"
	"github.com/sealforge-erp/sealforge-erp/internal/treasury"
)

// Repository persists invoices, payments, the archive and snapshots.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// TxRepository exposes the invoice-side writes of a lifecycle transaction.
type TxRepository interface {
	NextNumber(ctx context.Context) (int64, error)
	InsertInvoice(ctx context.Context, inv Invoice) error
	GetInvoiceForUpdate(ctx context.Context, id uuid.UUID) (*Invoice, error)
	UpdateInvoice(ctx context.Context, inv Invoice) error
	DeleteInvoice(ctx context.Context, id uuid.UUID) error
	InsertArchived(ctx context.Context, arch ArchivedInvoice) error
	GetArchivedForUpdate(ctx context.Context, id uuid.UUID) (*ArchivedInvoice, error)
	DeleteArchived(ctx context.Context, id uuid.UUID) error
	InsertPayment(ctx context.Context, p Payment) error
	InsertSnapshot(ctx context.Context, s Snapshot) error
	GetSnapshot(ctx context.Context, id uuid.UUID) (*Snapshot, error)
}

// LifecycleTx bundles every repository view sharing one transaction, so an
// invoice mutation, its ledger entries, its inventory cuts and its supplier
// transactions commit or roll back together.
type LifecycleTx struct {
	Invoices TxRepository
	Ledger   treasury.TxRepository
	Stock    inventory.TxRepository
	Parties  parties.TxRepository
}

// LifecycleRunner runs a function against a LifecycleTx.
type LifecycleRunner interface {
	WithLifecycleTx(ctx context.Context, fn func(ctx context.Context, tx LifecycleTx) error) error
}

// WithLifecycleTx opens one repeatable-read transaction and hands out the
// four transactional views over it.
func (r *Repository) WithLifecycleTx(ctx context.Context, fn func(ctx context.Context, tx LifecycleTx) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, LifecycleTx{
			Invoices: &txRepo{tx: tx},
			Ledger:   treasury.NewTxRepository(tx),
			Stock:    inventory.NewTxRepository(tx),
			Parties:  parties.NewTxRepository(tx),
		})
	})
}

type txRepo struct {
	tx pgx.Tx
}

// NewTxRepository wraps an open transaction with invoice operations.
func NewTxRepository(tx pgx.Tx) TxRepository {
	return &txRepo{tx: tx}
}

const invoiceColumns = `id, number, customer_id, items, subtotal, discount_type, discount_value, total,
payment_method, status, paid, courier_executed, ledger_entry_id, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanInvoice(row rowScanner) (*Invoice, error) {
	var inv Invoice
	var items []byte
	err := row.Scan(&inv.ID, &inv.Number, &inv.CustomerID, &items, &inv.Subtotal, &inv.DiscountType,
		&inv.DiscountValue, &inv.Total, &inv.Method, &inv.Status, &inv.Paid, &inv.CourierExecuted,
		&inv.LedgerEntryID, &inv.CreatedAt, &inv.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if err := json.Unmarshal(items, &inv.Items); err != nil {
		return nil, err
	}
	return &inv, nil
}

func invoiceArgs(inv Invoice) ([]any, error) {
	items, err := json.Marshal(inv.Items)
	if err != nil {
		return nil, err
	}
	return []any{
		inv.ID, inv.Number, inv.CustomerID, items, inv.Subtotal, inv.DiscountType,
		inv.DiscountValue, inv.Total, inv.Method, inv.Status, inv.Paid, inv.CourierExecuted,
		inv.LedgerEntryID, inv.CreatedAt, inv.UpdatedAt,
	}, nil
}

func (t *txRepo) NextNumber(ctx context.Context) (int64, error) {
	var seq int64
	err := t.tx.QueryRow(ctx, `SELECT nextval('invoice_number_seq')`).Scan(&seq)
	return seq, err
}

func (t *txRepo) InsertInvoice(ctx context.Context, inv Invoice) error {
	args, err := invoiceArgs(inv)
	if err != nil {
		return err
	}
	_, err = t.tx.Exec(ctx, `INSERT INTO invoices (`+invoiceColumns+`)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`, args...)
	return err
}

func (t *txRepo) GetInvoiceForUpdate(ctx context.Context, id uuid.UUID) (*Invoice, error) {
	row := t.tx.QueryRow(ctx, `SELECT `+invoiceColumns+` FROM invoices WHERE id=$1 FOR UPDATE`, id)
	return scanInvoice(row)
}

func (t *txRepo) UpdateInvoice(ctx context.Context, inv Invoice) error {
	items, err := json.Marshal(inv.Items)
	if err != nil {
		return err
	}
	tag, err := t.tx.Exec(ctx, `UPDATE invoices SET items=$2, subtotal=$3, discount_type=$4,
discount_value=$5, total=$6, payment_method=$7, status=$8, paid=$9, courier_executed=$10,
ledger_entry_id=$11, updated_at=$12 WHERE id=$1`,
		inv.ID, items, inv.Subtotal, inv.DiscountType, inv.DiscountValue, inv.Total,
		inv.Method, inv.Status, inv.Paid, inv.CourierExecuted, inv.LedgerEntryID, inv.UpdatedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (t *txRepo) DeleteInvoice(ctx context.Context, id uuid.UUID) error {
	tag, err := t.tx.Exec(ctx, `DELETE FROM invoices WHERE id=$1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

const archiveColumns = invoiceColumns + `, cancelled_at, cancelled_by`

func (t *txRepo) InsertArchived(ctx context.Context, arch ArchivedInvoice) error {
	args, err := invoiceArgs(arch.Invoice)
	if err != nil {
		return err
	}
	args = append(args, arch.CancelledAt, arch.CancelledBy)
	_, err = t.tx.Exec(ctx, `INSERT INTO archived_invoices (`+archiveColumns+`)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)`, args...)
	return err
}

func scanArchived(row rowScanner) (*ArchivedInvoice, error) {
	var arch ArchivedInvoice
	var items []byte
	err := row.Scan(&arch.ID, &arch.Number, &arch.CustomerID, &items, &arch.Subtotal, &arch.DiscountType,
		&arch.DiscountValue, &arch.Total, &arch.Method, &arch.Status, &arch.Paid, &arch.CourierExecuted,
		&arch.LedgerEntryID, &arch.CreatedAt, &arch.UpdatedAt, &arch.CancelledAt, &arch.CancelledBy)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if err := json.Unmarshal(items, &arch.Items); err != nil {
		return nil, err
	}
	return &arch, nil
}

func (t *txRepo) GetArchivedForUpdate(ctx context.Context, id uuid.UUID) (*ArchivedInvoice, error) {
	row := t.tx.QueryRow(ctx, `SELECT `+archiveColumns+` FROM archived_invoices WHERE id=$1 FOR UPDATE`, id)
	return scanArchived(row)
}

func (t *txRepo) DeleteArchived(ctx context.Context, id uuid.UUID) error {
	tag, err := t.tx.Exec(ctx, `DELETE FROM archived_invoices WHERE id=$1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (t *txRepo) InsertPayment(ctx context.Context, p Payment) error {
	_, err := t.tx.Exec(ctx, `INSERT INTO invoice_payments (id, invoice_id, method, amount, notes, actor, ledger_entry_id, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		p.ID, p.InvoiceID, p.Method, p.Amount, p.Notes, p.Actor, p.LedgerEntryID, p.CreatedAt)
	return err
}

func (t *txRepo) InsertSnapshot(ctx context.Context, s Snapshot) error {
	_, err := t.tx.Exec(ctx, `INSERT INTO invoice_snapshots (id, invoice_id, reason, payload, summary, actor, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		s.ID, s.InvoiceID, s.Reason, s.Payload, s.Summary, s.Actor, s.CreatedAt)
	return err
}

func (t *txRepo) GetSnapshot(ctx context.Context, id uuid.UUID) (*Snapshot, error) {
	row := t.tx.QueryRow(ctx, `SELECT id, invoice_id, reason, payload, summary, actor, created_at
FROM invoice_snapshots WHERE id=$1`, id)
	var s Snapshot
	err := row.Scan(&s.ID, &s.InvoiceID, &s.Reason, &s.Payload, &s.Summary, &s.Actor, &s.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrSnapshotNotFound
		}
		return nil, err
	}
	return &s, nil
}

// --- pool-level reads ---

// GetInvoice loads one active invoice.
func (r *Repository) GetInvoice(ctx context.Context, id uuid.UUID) (*Invoice, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+invoiceColumns+` FROM invoices WHERE id=$1`, id)
	return scanInvoice(row)
}

// InvoiceFilter narrows invoice listings.
type InvoiceFilter struct {
	CustomerID *uuid.UUID
	Status     Status
	Method     PaymentMethod
	Limit      int
}

// ListInvoices returns active invoices, newest first.
func (r *Repository) ListInvoices(ctx context.Context, filter InvoiceFilter) ([]Invoice, error) {
	query := `SELECT ` + invoiceColumns + ` FROM invoices WHERE 1=1`
	args := []any{}
	if filter.CustomerID != nil {
		args = append(args, *filter.CustomerID)
		query += ` AND customer_id=$` + strconv.Itoa(len(args))
	}
	if filter.Status != "" {
		args = append(args, filter.Status)
		query += ` AND status=$` + strconv.Itoa(len(args))
	}
	if filter.Method != "" {
		args = append(args, filter.Method)
		query += ` AND payment_method=$` + strconv.Itoa(len(args))
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

	var out []Invoice
	for rows.Next() {
		inv, err := scanInvoice(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *inv)
	}
	return out, rows.Err()
}

// ListOpenDeferred returns a customer's deferred invoices with an open
// balance, oldest first with the invoice number as tie-break. Settlement
// allocation depends on this ordering.
func (r *Repository) ListOpenDeferred(ctx context.Context, customerID uuid.UUID) ([]Invoice, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+invoiceColumns+` FROM invoices
WHERE customer_id=$1 AND payment_method=$2 AND paid < total
ORDER BY created_at ASC, number ASC`, customerID, MethodDeferred)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Invoice
	for rows.Next() {
		inv, err := scanInvoice(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *inv)
	}
	return out, rows.Err()
}

// CustomerDebt sums the remaining amounts of a customer's open deferred
// invoices.
func (r *Repository) CustomerDebt(ctx context.Context, customerID uuid.UUID) (decimal.Decimal, error) {
	var debt decimal.Decimal
	err := r.pool.QueryRow(ctx, `SELECT COALESCE(SUM(total - paid), 0) FROM invoices
WHERE customer_id=$1 AND payment_method=$2 AND paid < total`, customerID, MethodDeferred).Scan(&debt)
	return debt, err
}

// GetArchived loads one cancelled invoice.
func (r *Repository) GetArchived(ctx context.Context, id uuid.UUID) (*ArchivedInvoice, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+archiveColumns+` FROM archived_invoices WHERE id=$1`, id)
	return scanArchived(row)
}

// ListArchived returns cancelled invoices, newest cancellation first.
func (r *Repository) ListArchived(ctx context.Context) ([]ArchivedInvoice, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+archiveColumns+` FROM archived_invoices ORDER BY cancelled_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ArchivedInvoice
	for rows.Next() {
		arch, err := scanArchived(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *arch)
	}
	return out, rows.Err()
}

// ListPayments returns the payments applied to one invoice.
func (r *Repository) ListPayments(ctx context.Context, invoiceID uuid.UUID) ([]Payment, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, invoice_id, method, amount, notes, actor, ledger_entry_id, created_at
FROM invoice_payments WHERE invoice_id=$1 ORDER BY created_at ASC`, invoiceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Payment
	for rows.Next() {
		var p Payment
		if err := rows.Scan(&p.ID, &p.InvoiceID, &p.Method, &p.Amount, &p.Notes, &p.Actor, &p.LedgerEntryID, &p.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// ListSnapshots returns an invoice's edit history, newest first.
func (r *Repository) ListSnapshots(ctx context.Context, invoiceID uuid.UUID) ([]Snapshot, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, invoice_id, reason, payload, summary, actor, created_at
FROM invoice_snapshots WHERE invoice_id=$1 ORDER BY created_at DESC`, invoiceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Snapshot
	for rows.Next() {
		var s Snapshot
		if err := rows.Scan(&s.ID, &s.InvoiceID, &s.Reason, &s.Payload, &s.Summary, &s.Actor, &s.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}
