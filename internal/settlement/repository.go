package settlement

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/sealforge-erp/sealforge-erp/internal/invoicing"
	"github.com/sealforge-erp/sealforge-erp/internal/parties"
	"github.com/sealforge-erp/sealforge-erp/internal/platform/db"
)

// Repository persists reconciliation records.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// ReconTx groups the writes of one reconciliation: the invoice-side
// allocation, the supplier decrement and the record row all share one
// transaction, so a netting run either lands whole or not at all.
type ReconTx interface {
	Suppliers() parties.TxRepository
	Invoices() invoicing.TxRepository
	InsertRecord(ctx context.Context, rec ReconciliationRecord) error
}

type reconTx struct {
	tx pgx.Tx
}

func (t *reconTx) Suppliers() parties.TxRepository {
	return parties.NewTxRepository(t.tx)
}

func (t *reconTx) Invoices() invoicing.TxRepository {
	return invoicing.NewTxRepository(t.tx)
}

func (t *reconTx) InsertRecord(ctx context.Context, rec ReconciliationRecord) error {
	invoiceIDs, err := json.Marshal(rec.InvoiceIDs)
	if err != nil {
		return err
	}
	_, err = t.tx.Exec(ctx, `INSERT INTO reconciliation_records
(id, customer_id, supplier_id, amount, supplier_before, supplier_after, debt_before, debt_after, invoice_ids, actor, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		rec.ID, rec.CustomerID, rec.SupplierID, rec.Amount, rec.SupplierBefore, rec.SupplierAfter,
		rec.DebtBefore, rec.DebtAfter, invoiceIDs, rec.Actor, rec.CreatedAt)
	return err
}

// WithReconTx runs the callback inside one repeatable-read transaction.
func (r *Repository) WithReconTx(ctx context.Context, fn func(ctx context.Context, tx ReconTx) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &reconTx{tx: tx})
	})
}

// ListRecords returns a party's reconciliation history, newest first.
func (r *Repository) ListRecords(ctx context.Context, customerID uuid.UUID) ([]ReconciliationRecord, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, customer_id, supplier_id, amount, supplier_before, supplier_after,
debt_before, debt_after, invoice_ids, actor, created_at
FROM reconciliation_records WHERE customer_id=$1 ORDER BY created_at DESC`, customerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ReconciliationRecord
	for rows.Next() {
		var rec ReconciliationRecord
		var invoiceIDs []byte
		if err := rows.Scan(&rec.ID, &rec.CustomerID, &rec.SupplierID, &rec.Amount, &rec.SupplierBefore,
			&rec.SupplierAfter, &rec.DebtBefore, &rec.DebtAfter, &invoiceIDs, &rec.Actor, &rec.CreatedAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(invoiceIDs, &rec.InvoiceIDs); err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}
