package settlement

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/sealforge-erp/sealforge-erp/internal/invoicing"
	"github.com/sealforge-erp/sealforge-erp/internal/parties"
	"github.com/sealforge-erp/sealforge-erp/internal/shared"
)

// InvoicingPort is the slice of the invoice service the allocator needs.
type InvoicingPort interface {
	OpenDeferred(ctx context.Context, customerID uuid.UUID) ([]invoicing.Invoice, error)
	RecordPayment(ctx context.Context, input invoicing.PaymentInput) (*invoicing.Payment, error)
}

// PartyPort is the slice of the party service reconciliation needs.
type PartyPort interface {
	GetCustomer(ctx context.Context, id uuid.UUID) (*parties.Customer, error)
	GetSupplier(ctx context.Context, id uuid.UUID) (*parties.Supplier, error)
}

// ReconRunner persists reconciliation effects atomically.
type ReconRunner interface {
	WithReconTx(ctx context.Context, fn func(ctx context.Context, tx ReconTx) error) error
}

// AuditPort abstracts audit logging.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Service distributes payments across open deferred invoices and nets
// linked customer/supplier positions.
type Service struct {
	invoices InvoicingPort
	partyDir PartyPort
	recons   ReconRunner
	audit    AuditPort
	logger   *slog.Logger
}

// NewService builds Service.
func NewService(invoices InvoicingPort, partyDir PartyPort, recons ReconRunner, audit AuditPort, logger *slog.Logger) *Service {
	return &Service{invoices: invoices, partyDir: partyDir, recons: recons, audit: audit, logger: logger}
}

// Settle distributes amount over the customer's open deferred invoices,
// oldest first, paying each through the invoice service. Whatever cannot
// be applied comes back as the remainder.
func (s *Service) Settle(ctx context.Context, customerID uuid.UUID, amount decimal.Decimal, method invoicing.PaymentMethod, actor string) (*Result, error) {
	if !amount.IsPositive() {
		return nil, ErrInvalidAmount
	}
	if _, ledgerBacked := method.Account(); !ledgerBacked {
		return nil, fmt.Errorf("%w: %s", invoicing.ErrUnknownMethod, method)
	}
	open, err := s.invoices.OpenDeferred(ctx, customerID)
	if err != nil {
		return nil, err
	}

	result := &Result{Distributed: decimal.Zero, Remainder: amount}
	left := amount
	for _, inv := range open {
		if !left.IsPositive() {
			break
		}
		apply := decimal.Min(inv.Remaining(), left)
		if _, err := s.invoices.RecordPayment(ctx, invoicing.PaymentInput{
			InvoiceID: inv.ID,
			Method:    method,
			Amount:    apply,
			Notes:     fmt.Sprintf("settlement run for customer %s", customerID),
			Actor:     actor,
		}); err != nil {
			return nil, fmt.Errorf("settlement: invoice %s: %w", inv.Number, err)
		}
		left = left.Sub(apply)
		result.Distributed = result.Distributed.Add(apply)
		result.PaidInvoices = append(result.PaidInvoices, PaidInvoice{
			InvoiceID: inv.ID,
			Number:    inv.Number,
			Applied:   apply,
			Remaining: inv.Remaining().Sub(apply),
		})
	}
	result.Remainder = left

	if s.audit != nil {
		_ = s.audit.Record(ctx, shared.AuditLog{
			Actor:    actor,
			Action:   "settlement.run",
			Entity:   "customer",
			EntityID: customerID.String(),
			Meta: map[string]any{
				"amount": amount.String(), "distributed": result.Distributed.String(),
				"remainder": result.Remainder.String(), "invoices": len(result.PaidInvoices),
			},
		})
	}
	s.logger.Info("settlement distributed", "customer_id", customerID,
		"distributed", result.Distributed, "remainder", result.Remainder)
	return result, nil
}

// Reconcile nets a customer's deferred debt against their linked
// supplier's balance. No treasury account moves; the run is recorded in
// its own table. The allocation, the supplier decrement and the record
// row land in one transaction.
func (s *Service) Reconcile(ctx context.Context, customerID uuid.UUID, actor string) (*ReconcileResult, error) {
	customer, err := s.partyDir.GetCustomer(ctx, customerID)
	if err != nil {
		return nil, err
	}
	if customer.LinkedSupplierID == nil {
		return nil, fmt.Errorf("%w: customer %s has no linked supplier", parties.ErrNotLinked, customerID)
	}
	supplier, err := s.partyDir.GetSupplier(ctx, *customer.LinkedSupplierID)
	if err != nil {
		return nil, err
	}
	open, err := s.invoices.OpenDeferred(ctx, customerID)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	var result *ReconcileResult
	err = s.recons.WithReconTx(ctx, func(ctx context.Context, tx ReconTx) error {
		suppliers := tx.Suppliers()
		locked, err := suppliers.GetSupplierForUpdate(ctx, supplier.ID)
		if err != nil {
			return err
		}
		invoices := tx.Invoices()

		// Re-read each candidate under the row lock; the pre-tx list is
		// only a candidate set.
		debt := decimal.Zero
		distributed := decimal.Zero
		var paid []PaidInvoice
		var invoiceIDs []uuid.UUID
		for _, candidate := range open {
			inv, err := invoices.GetInvoiceForUpdate(ctx, candidate.ID)
			if err != nil {
				return err
			}
			remaining := inv.Remaining()
			if !inv.Method.Deferred() || !remaining.IsPositive() {
				continue
			}
			debt = debt.Add(remaining)
			left := locked.Balance.Sub(distributed)
			if !left.IsPositive() {
				continue
			}
			apply := decimal.Min(remaining, left)
			if err := invoices.InsertPayment(ctx, invoicing.Payment{
				ID:        uuid.New(),
				InvoiceID: inv.ID,
				Method:    invoicing.MethodReconciliation,
				Amount:    apply,
				Notes:     fmt.Sprintf("netted against supplier %s", locked.Name),
				Actor:     actor,
				CreatedAt: now,
			}); err != nil {
				return err
			}
			inv.Paid = inv.Paid.Add(apply)
			inv.Status = invoicing.DeriveStatus(inv.Method, inv.CourierExecuted, inv.Paid, inv.Total)
			inv.UpdatedAt = now
			if err := invoices.UpdateInvoice(ctx, *inv); err != nil {
				return err
			}
			distributed = distributed.Add(apply)
			paid = append(paid, PaidInvoice{
				InvoiceID: inv.ID,
				Number:    inv.Number,
				Applied:   apply,
				Remaining: remaining.Sub(apply),
			})
			invoiceIDs = append(invoiceIDs, inv.ID)
		}
		if !distributed.IsPositive() {
			return fmt.Errorf("%w: supplier balance %s, customer debt %s",
				ErrNothingToReconcile, locked.Balance, debt)
		}

		if err := suppliers.SetSupplierBalance(ctx, locked.ID,
			locked.Balance.Sub(distributed), locked.TotalPurchases); err != nil {
			return err
		}
		if err := suppliers.InsertSupplierTransaction(ctx, parties.SupplierTransaction{
			ID:          uuid.New(),
			SupplierID:  locked.ID,
			Type:        parties.SupplierTxReconciliation,
			Amount:      distributed.Neg(),
			Description: fmt.Sprintf("netted against customer %s debt", customerID),
			CreatedAt:   now,
		}); err != nil {
			return err
		}
		rec := ReconciliationRecord{
			ID:             uuid.New(),
			CustomerID:     customerID,
			SupplierID:     locked.ID,
			Amount:         distributed,
			SupplierBefore: locked.Balance,
			SupplierAfter:  locked.Balance.Sub(distributed),
			DebtBefore:     debt,
			DebtAfter:      debt.Sub(distributed),
			InvoiceIDs:     invoiceIDs,
			Actor:          actor,
			CreatedAt:      now,
		}
		if err := tx.InsertRecord(ctx, rec); err != nil {
			return err
		}
		result = &ReconcileResult{Record: rec, PaidInvoices: paid}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if s.audit != nil {
		_ = s.audit.Record(ctx, shared.AuditLog{
			Actor:    actor,
			Action:   "settlement.reconcile",
			Entity:   "customer",
			EntityID: customerID.String(),
			Meta:     map[string]any{"amount": result.Record.Amount.String(), "supplier_id": supplier.ID.String()},
		})
	}
	s.logger.Info("reconciliation complete", "customer_id", customerID,
		"supplier_id", supplier.ID, "amount", result.Record.Amount)
	return result, nil
}
