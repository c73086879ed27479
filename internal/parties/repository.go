package parties

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/sealforge-erp/sealforge-erp/internal/platform/db"
	"github.com/sealforge-erp/sealforge-erp/internal/treasury"
)

// Repository persists parties in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// TxRepository exposes transactional supplier-side operations used by
// invoice posting (local-product purchases) and reconciliation.
type TxRepository interface {
	GetSupplierForUpdate(ctx context.Context, id uuid.UUID) (*Supplier, error)
	SetSupplierBalance(ctx context.Context, id uuid.UUID, balance, totalPurchases decimal.Decimal) error
	InsertSupplierTransaction(ctx context.Context, tx SupplierTransaction) error
	IncrementLocalProductSold(ctx context.Context, productID uuid.UUID, count int64) error
	GetLocalProduct(ctx context.Context, productID uuid.UUID) (*LocalProduct, error)
}

type txRepo struct {
	tx pgx.Tx
}

// NewTxRepository wraps an open transaction with party operations.
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

// WithPaymentTx runs the ledger side and the supplier side of a payment
// in the same transaction.
func (r *Repository) WithPaymentTx(ctx context.Context, fn func(ctx context.Context, ledger treasury.TxRepository, suppliers TxRepository) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, treasury.NewTxRepository(tx), NewTxRepository(tx))
	})
}

// --- customers ---

const customerColumns = `id, name, phone, address, linked_supplier_id, created_at`

func scanCustomer(row pgx.Row) (*Customer, error) {
	var c Customer
	err := row.Scan(&c.ID, &c.Name, &c.Phone, &c.Address, &c.LinkedSupplierID, &c.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &c, nil
}

// CreateCustomer inserts a customer.
func (r *Repository) CreateCustomer(ctx context.Context, input CustomerInput) (*Customer, error) {
	c := Customer{
		ID:               uuid.New(),
		Name:             input.Name,
		Phone:            input.Phone,
		Address:          input.Address,
		LinkedSupplierID: input.LinkedSupplierID,
		CreatedAt:        time.Now(),
	}
	_, err := r.pool.Exec(ctx, `INSERT INTO customers (`+customerColumns+`) VALUES ($1, $2, $3, $4, $5, $6)`,
		c.ID, c.Name, c.Phone, c.Address, c.LinkedSupplierID, c.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// GetCustomer loads one customer.
func (r *Repository) GetCustomer(ctx context.Context, id uuid.UUID) (*Customer, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+customerColumns+` FROM customers WHERE id=$1`, id)
	return scanCustomer(row)
}

// ListCustomers returns all customers.
func (r *Repository) ListCustomers(ctx context.Context) ([]Customer, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+customerColumns+` FROM customers ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Customer
	for rows.Next() {
		c, err := scanCustomer(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *c)
	}
	return out, rows.Err()
}

// UpdateCustomer updates customer master data.
func (r *Repository) UpdateCustomer(ctx context.Context, id uuid.UUID, input CustomerInput) error {
	tag, err := r.pool.Exec(ctx, `UPDATE customers SET name=$2, phone=$3, address=$4, linked_supplier_id=$5 WHERE id=$1`,
		id, input.Name, input.Phone, input.Address, input.LinkedSupplierID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// --- suppliers ---

const supplierColumns = `id, name, phone, balance, total_purchases, linked_customer_id, created_at`

func scanSupplier(row pgx.Row) (*Supplier, error) {
	var s Supplier
	err := row.Scan(&s.ID, &s.Name, &s.Phone, &s.Balance, &s.TotalPurchases, &s.LinkedCustomerID, &s.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &s, nil
}

// CreateSupplier inserts a supplier.
func (r *Repository) CreateSupplier(ctx context.Context, input SupplierInput) (*Supplier, error) {
	s := Supplier{
		ID:               uuid.New(),
		Name:             input.Name,
		Phone:            input.Phone,
		Balance:          decimal.Zero,
		TotalPurchases:   decimal.Zero,
		LinkedCustomerID: input.LinkedCustomerID,
		CreatedAt:        time.Now(),
	}
	_, err := r.pool.Exec(ctx, `INSERT INTO suppliers (`+supplierColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		s.ID, s.Name, s.Phone, s.Balance, s.TotalPurchases, s.LinkedCustomerID, s.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// GetSupplier loads one supplier.
func (r *Repository) GetSupplier(ctx context.Context, id uuid.UUID) (*Supplier, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+supplierColumns+` FROM suppliers WHERE id=$1`, id)
	return scanSupplier(row)
}

// ListSuppliers returns all suppliers.
func (r *Repository) ListSuppliers(ctx context.Context) ([]Supplier, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+supplierColumns+` FROM suppliers ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Supplier
	for rows.Next() {
		s, err := scanSupplier(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *s)
	}
	return out, rows.Err()
}

// ListSupplierTransactions returns a supplier's balance movements.
func (r *Repository) ListSupplierTransactions(ctx context.Context, supplierID uuid.UUID) ([]SupplierTransaction, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, supplier_id, type, amount, description, ref_invoice_id, created_at
FROM supplier_transactions WHERE supplier_id=$1 ORDER BY created_at DESC`, supplierID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []SupplierTransaction
	for rows.Next() {
		var t SupplierTransaction
		if err := rows.Scan(&t.ID, &t.SupplierID, &t.Type, &t.Amount, &t.Description, &t.RefInvoiceID, &t.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// --- local products ---

const productColumns = `id, supplier_id, name, purchase_price, selling_price, total_sold, created_at`

func scanProduct(row pgx.Row) (*LocalProduct, error) {
	var p LocalProduct
	err := row.Scan(&p.ID, &p.SupplierID, &p.Name, &p.PurchasePrice, &p.SellingPrice, &p.TotalSold, &p.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &p, nil
}

// CreateLocalProduct inserts a catalogue item.
func (r *Repository) CreateLocalProduct(ctx context.Context, input LocalProductInput) (*LocalProduct, error) {
	p := LocalProduct{
		ID:            uuid.New(),
		SupplierID:    input.SupplierID,
		Name:          input.Name,
		PurchasePrice: input.PurchasePrice,
		SellingPrice:  input.SellingPrice,
		CreatedAt:     time.Now(),
	}
	_, err := r.pool.Exec(ctx, `INSERT INTO local_products (`+productColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		p.ID, p.SupplierID, p.Name, p.PurchasePrice, p.SellingPrice, p.TotalSold, p.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// ListLocalProducts returns catalogue items, optionally per supplier.
func (r *Repository) ListLocalProducts(ctx context.Context, supplierID *uuid.UUID) ([]LocalProduct, error) {
	query := `SELECT ` + productColumns + ` FROM local_products`
	args := []any{}
	if supplierID != nil {
		query += ` WHERE supplier_id=$1`
		args = append(args, *supplierID)
	}
	query += ` ORDER BY name`

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []LocalProduct
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *p)
	}
	return out, rows.Err()
}

func (t *txRepo) GetSupplierForUpdate(ctx context.Context, id uuid.UUID) (*Supplier, error) {
	row := t.tx.QueryRow(ctx, `SELECT `+supplierColumns+` FROM suppliers WHERE id=$1 FOR UPDATE`, id)
	return scanSupplier(row)
}

func (t *txRepo) SetSupplierBalance(ctx context.Context, id uuid.UUID, balance, totalPurchases decimal.Decimal) error {
	tag, err := t.tx.Exec(ctx, `UPDATE suppliers SET balance=$2, total_purchases=$3 WHERE id=$1`, id, balance, totalPurchases)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (t *txRepo) InsertSupplierTransaction(ctx context.Context, stx SupplierTransaction) error {
	_, err := t.tx.Exec(ctx, `INSERT INTO supplier_transactions (id, supplier_id, type, amount, description, ref_invoice_id, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		stx.ID, stx.SupplierID, stx.Type, stx.Amount, stx.Description, stx.RefInvoiceID, stx.CreatedAt)
	return err
}

func (t *txRepo) IncrementLocalProductSold(ctx context.Context, productID uuid.UUID, count int64) error {
	tag, err := t.tx.Exec(ctx, `UPDATE local_products SET total_sold = total_sold + $2 WHERE id=$1`, productID, count)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (t *txRepo) GetLocalProduct(ctx context.Context, productID uuid.UUID) (*LocalProduct, error) {
	row := t.tx.QueryRow(ctx, `SELECT `+productColumns+` FROM local_products WHERE id=$1`, productID)
	return scanProduct(row)
}
