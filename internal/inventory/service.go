package inventory

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// RepositoryPort abstracts persistence for the service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	CreateLot(ctx context.Context, input LotInput) (*RawMaterialLot, error)
	UpdateLot(ctx context.Context, id uuid.UUID, input LotInput) error
	DeleteLot(ctx context.Context, id uuid.UUID) error
	GetLot(ctx context.Context, id uuid.UUID) (*RawMaterialLot, error)
	FindLot(ctx context.Context, unitCode string, innerD, outerD float64) (*RawMaterialLot, error)
	ListLots(ctx context.Context) ([]RawMaterialLot, error)
	ListLowStock(ctx context.Context) ([]RawMaterialLot, error)
}

// Service coordinates raw-material operations.
type Service struct {
	repo   RepositoryPort
	logger *slog.Logger
}

// NewService builds Service.
func NewService(repo RepositoryPort, logger *slog.Logger) *Service {
	return &Service{repo: repo, logger: logger}
}

func validateLine(line ConsumptionLine) error {
	if line.UnitCode == "" {
		return fmt.Errorf("%w: unit code required", ErrInvalidLine)
	}
	if line.Count <= 0 {
		return fmt.Errorf("%w: count must be positive", ErrInvalidLine)
	}
	if line.SealHeightMM.LessThanOrEqual(decimal.Zero) {
		return fmt.Errorf("%w: seal height must be positive", ErrInvalidLine)
	}
	return nil
}

// ConsumeInTx cuts material for every line inside the caller's transaction.
// The stock check runs on the locked row; if any lot cannot cover its line
// the whole transaction is expected to roll back.
func ConsumeInTx(ctx context.Context, tx TxRepository, lines []ConsumptionLine, invoiceID *uuid.UUID) error {
	for _, line := range lines {
		if err := validateLine(line); err != nil {
			return err
		}
		lot, err := tx.GetLotForUpdate(ctx, line.UnitCode, line.InnerDiameter, line.OuterDiameter)
		if err != nil {
			return err
		}
		required := line.RequiredMM()
		if lot.HeightMM.LessThan(required) {
			return fmt.Errorf("%w: lot %s has %smm, need %smm", ErrInsufficientStock, lot.UnitCode, lot.HeightMM, required)
		}
		if err := tx.SetLotHeight(ctx, lot.ID, lot.HeightMM.Sub(required)); err != nil {
			return err
		}
		if err := tx.InsertMovement(ctx, Movement{
			ID:              uuid.New(),
			LotID:           lot.ID,
			DeltaMM:         required.Neg(),
			Reason:          ReasonConsume,
			LinkedInvoiceID: invoiceID,
			CreatedAt:       time.Now(),
		}); err != nil {
			return err
		}
	}
	return nil
}

// RestoreInTx returns previously consumed material inside the caller's
// transaction (invoice cancellation).
func RestoreInTx(ctx context.Context, tx TxRepository, lines []ConsumptionLine, invoiceID *uuid.UUID) error {
	for _, line := range lines {
		if err := validateLine(line); err != nil {
			return err
		}
		lot, err := tx.GetLotForUpdate(ctx, line.UnitCode, line.InnerDiameter, line.OuterDiameter)
		if err != nil {
			return err
		}
		restored := line.RequiredMM()
		if err := tx.SetLotHeight(ctx, lot.ID, lot.HeightMM.Add(restored)); err != nil {
			return err
		}
		if err := tx.InsertMovement(ctx, Movement{
			ID:              uuid.New(),
			LotID:           lot.ID,
			DeltaMM:         restored,
			Reason:          ReasonRestore,
			LinkedInvoiceID: invoiceID,
			CreatedAt:       time.Now(),
		}); err != nil {
			return err
		}
	}
	return nil
}

// CheckAvailability reports whether every line can be satisfied, without
// mutating anything. Posting re-checks under lock; this is advisory.
func (s *Service) CheckAvailability(ctx context.Context, lines []ConsumptionLine) (bool, []string, error) {
	var shortages []string
	for _, line := range lines {
		if err := validateLine(line); err != nil {
			return false, nil, err
		}
		lot, err := s.repo.FindLot(ctx, line.UnitCode, line.InnerDiameter, line.OuterDiameter)
		if err != nil {
			if err == ErrLotNotFound {
				shortages = append(shortages, fmt.Sprintf("lot %s not found", line.UnitCode))
				continue
			}
			return false, nil, err
		}
		if lot.HeightMM.LessThan(line.RequiredMM()) {
			shortages = append(shortages, fmt.Sprintf("lot %s short by %smm", lot.UnitCode, line.RequiredMM().Sub(lot.HeightMM)))
		}
	}
	return len(shortages) == 0, shortages, nil
}

// CreateLot registers a new raw-material lot.
func (s *Service) CreateLot(ctx context.Context, input LotInput) (*RawMaterialLot, error) {
	if input.UnitCode == "" {
		return nil, fmt.Errorf("%w: unit code required", ErrInvalidLine)
	}
	if input.HeightMM.IsNegative() {
		return nil, fmt.Errorf("%w: height cannot be negative", ErrInvalidLine)
	}
	return s.repo.CreateLot(ctx, input)
}

// UpdateLot updates lot master data.
func (s *Service) UpdateLot(ctx context.Context, id uuid.UUID, input LotInput) error {
	return s.repo.UpdateLot(ctx, id, input)
}

// DeleteLot removes a lot.
func (s *Service) DeleteLot(ctx context.Context, id uuid.UUID) error {
	return s.repo.DeleteLot(ctx, id)
}

// GetLot loads one lot.
func (s *Service) GetLot(ctx context.Context, id uuid.UUID) (*RawMaterialLot, error) {
	return s.repo.GetLot(ctx, id)
}

// ListLots returns all lots.
func (s *Service) ListLots(ctx context.Context) ([]RawMaterialLot, error) {
	return s.repo.ListLots(ctx)
}

// ListLowStock returns lots at or under threshold.
func (s *Service) ListLowStock(ctx context.Context) ([]RawMaterialLot, error) {
	return s.repo.ListLowStock(ctx)
}
