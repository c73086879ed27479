package inventory

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// Repository persists raw-material lots in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// TxRepository exposes transactional lot operations. Invoice posting wraps
// its own pgx.Tx with NewTxRepository so consumption and the invoice insert
// commit together.
type TxRepository interface {
	GetLotForUpdate(ctx context.Context, unitCode string, innerD, outerD float64) (*RawMaterialLot, error)
	SetLotHeight(ctx context.Context, lotID uuid.UUID, height decimal.Decimal) error
	InsertMovement(ctx context.Context, movement Movement) error
}

type txRepo struct {
	tx pgx.Tx
}

// NewTxRepository wraps an open transaction with lot operations.
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

const lotColumns = `id, unit_code, material_type, inner_diameter, outer_diameter, height_mm, min_height_mm, created_at, updated_at`

func scanLot(row pgx.Row) (*RawMaterialLot, error) {
	var l RawMaterialLot
	err := row.Scan(&l.ID, &l.UnitCode, &l.MaterialType, &l.InnerDiameter, &l.OuterDiameter, &l.HeightMM, &l.MinHeightMM, &l.CreatedAt, &l.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrLotNotFound
		}
		return nil, err
	}
	return &l, nil
}

// CreateLot inserts a new lot.
func (r *Repository) CreateLot(ctx context.Context, input LotInput) (*RawMaterialLot, error) {
	lot := RawMaterialLot{
		ID:            uuid.New(),
		UnitCode:      input.UnitCode,
		MaterialType:  input.MaterialType,
		InnerDiameter: input.InnerDiameter,
		OuterDiameter: input.OuterDiameter,
		HeightMM:      input.HeightMM,
		MinHeightMM:   input.MinHeightMM,
		CreatedAt:     time.Now(),
		UpdatedAt:     time.Now(),
	}
	_, err := r.pool.Exec(ctx, `INSERT INTO raw_material_lots (`+lotColumns+`)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		lot.ID, lot.UnitCode, lot.MaterialType, lot.InnerDiameter, lot.OuterDiameter,
		lot.HeightMM, lot.MinHeightMM, lot.CreatedAt, lot.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &lot, nil
}

// UpdateLot updates lot master data.
func (r *Repository) UpdateLot(ctx context.Context, id uuid.UUID, input LotInput) error {
	tag, err := r.pool.Exec(ctx, `UPDATE raw_material_lots
SET unit_code=$2, material_type=$3, inner_diameter=$4, outer_diameter=$5, height_mm=$6, min_height_mm=$7, updated_at=NOW()
WHERE id=$1`,
		id, input.UnitCode, input.MaterialType, input.InnerDiameter, input.OuterDiameter, input.HeightMM, input.MinHeightMM)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrLotNotFound
	}
	return nil
}

// DeleteLot removes a lot.
func (r *Repository) DeleteLot(ctx context.Context, id uuid.UUID) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM raw_material_lots WHERE id=$1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrLotNotFound
	}
	return nil
}

// GetLot loads one lot by id.
func (r *Repository) GetLot(ctx context.Context, id uuid.UUID) (*RawMaterialLot, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+lotColumns+` FROM raw_material_lots WHERE id=$1`, id)
	return scanLot(row)
}

// FindLot resolves a lot by its selector fields.
func (r *Repository) FindLot(ctx context.Context, unitCode string, innerD, outerD float64) (*RawMaterialLot, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+lotColumns+` FROM raw_material_lots
WHERE unit_code=$1 AND inner_diameter=$2 AND outer_diameter=$3`, unitCode, innerD, outerD)
	return scanLot(row)
}

// ListLots returns all lots ordered by unit code.
func (r *Repository) ListLots(ctx context.Context) ([]RawMaterialLot, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+lotColumns+` FROM raw_material_lots ORDER BY unit_code`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var lots []RawMaterialLot
	for rows.Next() {
		l, err := scanLot(rows)
		if err != nil {
			return nil, err
		}
		lots = append(lots, *l)
	}
	return lots, rows.Err()
}

// ListLowStock returns lots at or under their threshold.
func (r *Repository) ListLowStock(ctx context.Context) ([]RawMaterialLot, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+lotColumns+` FROM raw_material_lots WHERE height_mm <= min_height_mm ORDER BY unit_code`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var lots []RawMaterialLot
	for rows.Next() {
		l, err := scanLot(rows)
		if err != nil {
			return nil, err
		}
		lots = append(lots, *l)
	}
	return lots, rows.Err()
}

func (t *txRepo) GetLotForUpdate(ctx context.Context, unitCode string, innerD, outerD float64) (*RawMaterialLot, error) {
	row := t.tx.QueryRow(ctx, `SELECT `+lotColumns+` FROM raw_material_lots
WHERE unit_code=$1 AND inner_diameter=$2 AND outer_diameter=$3 FOR UPDATE`, unitCode, innerD, outerD)
	return scanLot(row)
}

func (t *txRepo) SetLotHeight(ctx context.Context, lotID uuid.UUID, height decimal.Decimal) error {
	tag, err := t.tx.Exec(ctx, `UPDATE raw_material_lots SET height_mm=$2, updated_at=NOW() WHERE id=$1`, lotID, height)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrLotNotFound
	}
	return nil
}

func (t *txRepo) InsertMovement(ctx context.Context, movement Movement) error {
	_, err := t.tx.Exec(ctx, `INSERT INTO inventory_movements (id, lot_id, delta_mm, reason, linked_invoice_id, note, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		movement.ID, movement.LotID, movement.DeltaMM, movement.Reason, movement.LinkedInvoiceID, movement.Note, movement.CreatedAt)
	return err
}
