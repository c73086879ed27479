package parties

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/sealforge-erp/sealforge-erp/internal/shared"
	"github.com/sealforge-erp/sealforge-erp/internal/treasury"
)

// RepositoryPort abstracts party persistence.
type RepositoryPort interface {
	CreateCustomer(ctx context.Context, input CustomerInput) (*Customer, error)
	GetCustomer(ctx context.Context, id uuid.UUID) (*Customer, error)
	ListCustomers(ctx context.Context) ([]Customer, error)
	UpdateCustomer(ctx context.Context, id uuid.UUID, input CustomerInput) error

	CreateSupplier(ctx context.Context, input SupplierInput) (*Supplier, error)
	GetSupplier(ctx context.Context, id uuid.UUID) (*Supplier, error)
	ListSuppliers(ctx context.Context) ([]Supplier, error)
	ListSupplierTransactions(ctx context.Context, supplierID uuid.UUID) ([]SupplierTransaction, error)

	CreateLocalProduct(ctx context.Context, input LocalProductInput) (*LocalProduct, error)
	ListLocalProducts(ctx context.Context, supplierID *uuid.UUID) ([]LocalProduct, error)
}

// PaymentTxRunner runs a supplier payment atomically: the ledger expense
// and the supplier balance change commit or roll back together.
type PaymentTxRunner interface {
	WithPaymentTx(ctx context.Context, fn func(ctx context.Context, ledger treasury.TxRepository, suppliers TxRepository) error) error
}

// LockPort abstracts per-resource mutual exclusion.
type LockPort interface {
	Acquire(ctx context.Context, key string) (func(), error)
}

// AuditPort abstracts audit logging.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// PaySupplierInput describes a cash settlement toward a supplier balance.
type PaySupplierInput struct {
	SupplierID  uuid.UUID
	AccountID   treasury.AccountID
	Amount      decimal.Decimal
	Description string
	Actor       string
}

// Service coordinates customers, suppliers and the local-product catalogue.
type Service struct {
	repo   RepositoryPort
	txns   PaymentTxRunner
	locks  LockPort
	audit  AuditPort
	logger *slog.Logger
}

// NewService builds Service.
func NewService(repo RepositoryPort, txns PaymentTxRunner, locks LockPort, audit AuditPort, logger *slog.Logger) *Service {
	return &Service{repo: repo, txns: txns, locks: locks, audit: audit, logger: logger}
}

// CreateCustomer registers a customer.
func (s *Service) CreateCustomer(ctx context.Context, input CustomerInput) (*Customer, error) {
	if input.Name == "" {
		return nil, fmt.Errorf("%w: customer name required", ErrInvalidInput)
	}
	return s.repo.CreateCustomer(ctx, input)
}

// GetCustomer loads a customer.
func (s *Service) GetCustomer(ctx context.Context, id uuid.UUID) (*Customer, error) {
	return s.repo.GetCustomer(ctx, id)
}

// ListCustomers returns all customers.
func (s *Service) ListCustomers(ctx context.Context) ([]Customer, error) {
	return s.repo.ListCustomers(ctx)
}

// UpdateCustomer updates master data.
func (s *Service) UpdateCustomer(ctx context.Context, id uuid.UUID, input CustomerInput) error {
	if input.Name == "" {
		return fmt.Errorf("%w: customer name required", ErrInvalidInput)
	}
	return s.repo.UpdateCustomer(ctx, id, input)
}

// CreateSupplier registers a supplier.
func (s *Service) CreateSupplier(ctx context.Context, input SupplierInput) (*Supplier, error) {
	if input.Name == "" {
		return nil, fmt.Errorf("%w: supplier name required", ErrInvalidInput)
	}
	return s.repo.CreateSupplier(ctx, input)
}

// GetSupplier loads a supplier.
func (s *Service) GetSupplier(ctx context.Context, id uuid.UUID) (*Supplier, error) {
	return s.repo.GetSupplier(ctx, id)
}

// ListSuppliers returns all suppliers.
func (s *Service) ListSuppliers(ctx context.Context) ([]Supplier, error) {
	return s.repo.ListSuppliers(ctx)
}

// SupplierTransactions returns a supplier's balance movements.
func (s *Service) SupplierTransactions(ctx context.Context, supplierID uuid.UUID) ([]SupplierTransaction, error) {
	return s.repo.ListSupplierTransactions(ctx, supplierID)
}

// CreateLocalProduct registers a resale item sourced from a supplier.
func (s *Service) CreateLocalProduct(ctx context.Context, input LocalProductInput) (*LocalProduct, error) {
	if input.Name == "" {
		return nil, fmt.Errorf("%w: product name required", ErrInvalidInput)
	}
	if input.SellingPrice.IsNegative() || input.PurchasePrice.IsNegative() {
		return nil, fmt.Errorf("%w: prices must not be negative", ErrInvalidInput)
	}
	if _, err := s.repo.GetSupplier(ctx, input.SupplierID); err != nil {
		return nil, err
	}
	return s.repo.CreateLocalProduct(ctx, input)
}

// ListLocalProducts returns the catalogue, optionally filtered by supplier.
func (s *Service) ListLocalProducts(ctx context.Context, supplierID *uuid.UUID) ([]LocalProduct, error) {
	return s.repo.ListLocalProducts(ctx, supplierID)
}

// PaySupplier settles part of a supplier balance from a treasury account.
// Posts the expense entry and decrements the balance in one transaction.
func (s *Service) PaySupplier(ctx context.Context, input PaySupplierInput) error {
	if !input.Amount.IsPositive() {
		return fmt.Errorf("%w: payment amount must be positive", ErrInvalidInput)
	}
	if input.AccountID == treasury.AccountDeferred {
		return fmt.Errorf("%w: supplier payments must come from a cash account", ErrInvalidInput)
	}

	release, err := s.locks.Acquire(ctx, shared.AccountLockKey(string(input.AccountID)))
	if err != nil {
		return err
	}
	defer release()

	err = s.txns.WithPaymentTx(ctx, func(ctx context.Context, ledger treasury.TxRepository, suppliers TxRepository) error {
		supplier, err := suppliers.GetSupplierForUpdate(ctx, input.SupplierID)
		if err != nil {
			return err
		}
		if supplier.Balance.LessThan(input.Amount) {
			return fmt.Errorf("%w: balance %s is below payment %s",
				ErrInvalidInput, supplier.Balance, input.Amount)
		}

		balance, err := ledger.AccountBalance(ctx, input.AccountID)
		if err != nil {
			return err
		}
		if balance.LessThan(input.Amount) {
			return fmt.Errorf("%w: account %s holds %s, needs %s",
				treasury.ErrInsufficientFunds, input.AccountID, balance, input.Amount)
		}

		desc := input.Description
		if desc == "" {
			desc = fmt.Sprintf("supplier payment: %s", supplier.Name)
		}
		entry, err := treasury.NewEntry(input.AccountID, treasury.KindExpense, input.Amount, desc,
			fmt.Sprintf("supplier:%s", supplier.ID), nil)
		if err != nil {
			return err
		}
		if err := ledger.InsertEntry(ctx, entry); err != nil {
			return err
		}

		if err := suppliers.SetSupplierBalance(ctx, supplier.ID,
			supplier.Balance.Sub(input.Amount), supplier.TotalPurchases); err != nil {
			return err
		}
		return suppliers.InsertSupplierTransaction(ctx, SupplierTransaction{
			ID:          uuid.New(),
			SupplierID:  supplier.ID,
			Type:        SupplierTxPayment,
			Amount:      input.Amount.Neg(),
			Description: desc,
			CreatedAt:   time.Now(),
		})
	})
	if err != nil {
		return err
	}

	if s.audit != nil {
		_ = s.audit.Record(ctx, shared.AuditLog{
			Actor:    input.Actor,
			Action:   "supplier.pay",
			Entity:   "supplier",
			EntityID: input.SupplierID.String(),
			Meta:     map[string]any{"amount": input.Amount.String(), "account": input.AccountID},
		})
	}
	s.logger.Info("supplier paid", "supplier", input.SupplierID, "amount", input.Amount, "account", input.AccountID)
	return nil
}
