package reports

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/sealforge-erp/sealforge-erp/internal/invoicing"
	"github.com/sealforge-erp/sealforge-erp/internal/parties"
)

type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

type methodRow struct {
	Method string
	Total  decimal.Decimal
	Count  int64
}

type dailyFigures struct {
	CashSales     decimal.Decimal
	DeferredSales decimal.Decimal
	InvoiceCount  int64
	Collections   []methodRow
}

// DailyFigures aggregates one calendar day of invoices and payments.
// Cash sales include invoices under any immediate method plus deferred
// invoices fully settled on the same day they were issued.
func (r *Repository) DailyFigures(ctx context.Context, from, to time.Time) (dailyFigures, error) {
	var f dailyFigures
	err := r.pool.QueryRow(ctx, `SELECT
COALESCE(SUM(total) FILTER (WHERE payment_method <> $3), 0),
COALESCE(SUM(total) FILTER (WHERE payment_method = $3 AND NOT (paid >= total AND updated_at >= $1 AND updated_at < $2)), 0),
COUNT(*)
FROM invoices WHERE created_at >= $1 AND created_at < $2`,
		from, to, invoicing.MethodDeferred).Scan(&f.CashSales, &f.DeferredSales, &f.InvoiceCount)
	if err != nil {
		return dailyFigures{}, err
	}

	// Deferred invoices opened and fully paid the same day count as cash sales.
	var sameDaySettled decimal.Decimal
	err = r.pool.QueryRow(ctx, `SELECT COALESCE(SUM(total), 0) FROM invoices
WHERE payment_method = $3 AND paid >= total
AND created_at >= $1 AND created_at < $2
AND updated_at >= $1 AND updated_at < $2`,
		from, to, invoicing.MethodDeferred).Scan(&sameDaySettled)
	if err != nil {
		return dailyFigures{}, err
	}
	f.CashSales = f.CashSales.Add(sameDaySettled)

	rows, err := r.pool.Query(ctx, `SELECT p.method, COALESCE(SUM(p.amount), 0), COUNT(*)
FROM invoice_payments p
JOIN invoices i ON i.id = p.invoice_id
WHERE i.payment_method = $3 AND p.created_at >= $1 AND p.created_at < $2
GROUP BY p.method ORDER BY p.method`,
		from, to, invoicing.MethodDeferred)
	if err != nil {
		return dailyFigures{}, err
	}
	defer rows.Close()
	for rows.Next() {
		var m methodRow
		if err := rows.Scan(&m.Method, &m.Total, &m.Count); err != nil {
			return dailyFigures{}, err
		}
		f.Collections = append(f.Collections, m)
	}
	return f, rows.Err()
}

type statementCustomer struct {
	ID               uuid.UUID
	Name             string
	Phone            string
	LinkedSupplierID *uuid.UUID
}

type statementInvoice struct {
	Number    string
	Total     decimal.Decimal
	CreatedAt time.Time
}

type statementPayment struct {
	InvoiceNumber string
	Method        string
	Amount        decimal.Decimal
	CreatedAt     time.Time
}

type statementSupplierTx struct {
	Type        string
	Amount      decimal.Decimal
	Description string
	CreatedAt   time.Time
}

type statementFigures struct {
	Customer    statementCustomer
	Invoices    []statementInvoice
	Payments    []statementPayment
	SupplierTxs []statementSupplierTx
}

// StatementFigures loads the raw movements behind a customer statement:
// the customer's invoices, the payments on them, and — when the customer
// is linked to a supplier — that supplier's balance movements. Nil bounds
// mean an unbounded window.
func (r *Repository) StatementFigures(ctx context.Context, customerID uuid.UUID, from, to *time.Time) (statementFigures, error) {
	var f statementFigures
	err := r.pool.QueryRow(ctx, `SELECT id, name, phone, linked_supplier_id
FROM customers WHERE id=$1`, customerID).
		Scan(&f.Customer.ID, &f.Customer.Name, &f.Customer.Phone, &f.Customer.LinkedSupplierID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return statementFigures{}, parties.ErrNotFound
		}
		return statementFigures{}, err
	}

	rows, err := r.pool.Query(ctx, `SELECT number, total, created_at FROM invoices
WHERE customer_id=$1 AND ($2::timestamptz IS NULL OR created_at >= $2)
AND ($3::timestamptz IS NULL OR created_at < $3)
ORDER BY created_at`, customerID, from, to)
	if err != nil {
		return statementFigures{}, err
	}
	defer rows.Close()
	for rows.Next() {
		var inv statementInvoice
		if err := rows.Scan(&inv.Number, &inv.Total, &inv.CreatedAt); err != nil {
			return statementFigures{}, err
		}
		f.Invoices = append(f.Invoices, inv)
	}
	if err := rows.Err(); err != nil {
		return statementFigures{}, err
	}

	rows, err = r.pool.Query(ctx, `SELECT i.number, p.method, p.amount, p.created_at
FROM invoice_payments p JOIN invoices i ON i.id = p.invoice_id
WHERE i.customer_id=$1 AND ($2::timestamptz IS NULL OR p.created_at >= $2)
AND ($3::timestamptz IS NULL OR p.created_at < $3)
ORDER BY p.created_at`, customerID, from, to)
	if err != nil {
		return statementFigures{}, err
	}
	defer rows.Close()
	for rows.Next() {
		var p statementPayment
		if err := rows.Scan(&p.InvoiceNumber, &p.Method, &p.Amount, &p.CreatedAt); err != nil {
			return statementFigures{}, err
		}
		f.Payments = append(f.Payments, p)
	}
	if err := rows.Err(); err != nil {
		return statementFigures{}, err
	}

	if f.Customer.LinkedSupplierID == nil {
		return f, nil
	}
	rows, err = r.pool.Query(ctx, `SELECT type, amount, description, created_at
FROM supplier_transactions
WHERE supplier_id=$1 AND ($2::timestamptz IS NULL OR created_at >= $2)
AND ($3::timestamptz IS NULL OR created_at < $3)
ORDER BY created_at`, *f.Customer.LinkedSupplierID, from, to)
	if err != nil {
		return statementFigures{}, err
	}
	defer rows.Close()
	for rows.Next() {
		var tx statementSupplierTx
		if err := rows.Scan(&tx.Type, &tx.Amount, &tx.Description, &tx.CreatedAt); err != nil {
			return statementFigures{}, err
		}
		f.SupplierTxs = append(f.SupplierTxs, tx)
	}
	return f, rows.Err()
}

type dashboardFigures struct {
	Active          int64
	Unpaid          int64
	Partial         int64
	Waiting         int64
	Cancelled       int64
	TotalRevenue    decimal.Decimal
	OutstandingDebt decimal.Decimal
	LowStockLots    int64
}

func (r *Repository) DashboardFigures(ctx context.Context) (dashboardFigures, error) {
	var f dashboardFigures
	err := r.pool.QueryRow(ctx, `SELECT
COUNT(*),
COUNT(*) FILTER (WHERE status = $1),
COUNT(*) FILTER (WHERE status = $2),
COUNT(*) FILTER (WHERE status = $3),
COALESCE(SUM(paid), 0),
COALESCE(SUM(total - paid) FILTER (WHERE payment_method = $4), 0)
FROM invoices`,
		invoicing.StatusUnpaid, invoicing.StatusPartial, invoicing.StatusWaiting,
		invoicing.MethodDeferred).
		Scan(&f.Active, &f.Unpaid, &f.Partial, &f.Waiting, &f.TotalRevenue, &f.OutstandingDebt)
	if err != nil {
		return dashboardFigures{}, err
	}
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM archived_invoices`).Scan(&f.Cancelled); err != nil {
		return dashboardFigures{}, err
	}
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM raw_material_lots WHERE height_mm <= min_height_mm`).Scan(&f.LowStockLots); err != nil {
		return dashboardFigures{}, err
	}
	return f, nil
}
