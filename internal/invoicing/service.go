package invoicing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/sealforge-erp/sealforge-erp/internal/inventory"
	"github.com/sealforge-erp/sealforge-erp/internal/parties"
	"github.com/sealforge-erp/sealforge-erp/internal/shared"
	"github.com/sealforge-erp/sealforge-erp/internal/treasury"
)

// RepositoryPort abstracts invoice persistence.
type RepositoryPort interface {
	LifecycleRunner
	GetInvoice(ctx context.Context, id uuid.UUID) (*Invoice, error)
	ListInvoices(ctx context.Context, filter InvoiceFilter) ([]Invoice, error)
	ListOpenDeferred(ctx context.Context, customerID uuid.UUID) ([]Invoice, error)
	CustomerDebt(ctx context.Context, customerID uuid.UUID) (decimal.Decimal, error)
	GetArchived(ctx context.Context, id uuid.UUID) (*ArchivedInvoice, error)
	ListArchived(ctx context.Context) ([]ArchivedInvoice, error)
	ListPayments(ctx context.Context, invoiceID uuid.UUID) ([]Payment, error)
	ListSnapshots(ctx context.Context, invoiceID uuid.UUID) ([]Snapshot, error)
}

// IdempotencyPort guards double-submitted creates. Reserve claims the key,
// Bind ties it to the invoice it produced, Release frees it on failure.
type IdempotencyPort interface {
	Reserve(ctx context.Context, key, scope string) error
	Bind(ctx context.Context, key string, entityID uuid.UUID) error
	Release(ctx context.Context, key string) error
}

// LockPort abstracts per-resource mutual exclusion.
type LockPort interface {
	Acquire(ctx context.Context, key string) (func(), error)
}

// AuditPort abstracts audit logging.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// ApprovalPort verifies privileged confirmation.
type ApprovalPort interface {
	Verify(ctx context.Context, scope, password, actor string) error
}

const idempotencyScope = "invoicing"

// RestoreWarning is returned alongside a restored invoice: restore
// reactivates the record only, it does not replay ledger or inventory
// effects.
const RestoreWarning = "ledger and inventory effects were not re-applied; reconcile manually"

// Service runs the invoice lifecycle. Every mutation holds the invoice
// lock and commits its invoice, ledger, inventory and supplier effects in
// one transaction.
type Service struct {
	repo   RepositoryPort
	idem   IdempotencyPort
	locks  LockPort
	audit  AuditPort
	guard  ApprovalPort
	logger *slog.Logger
}

// NewService builds Service.
func NewService(repo RepositoryPort, idem IdempotencyPort, locks LockPort, audit AuditPort, guard ApprovalPort, logger *slog.Logger) *Service {
	return &Service{repo: repo, idem: idem, locks: locks, audit: audit, guard: guard, logger: logger}
}

// CreateInput groups fields for posting a new invoice.
type CreateInput struct {
	IdempotencyKey string
	CustomerID     uuid.UUID
	Items          []InvoiceItem
	DiscountType   DiscountType
	DiscountValue  decimal.Decimal
	Method         PaymentMethod
	Notes          string
	Actor          string
}

// Create posts a new invoice: cuts raw material, records local-product
// purchases against their suppliers, posts the ledger entry for immediate
// methods, and persists the invoice. All of it applies or none of it does.
func (s *Service) Create(ctx context.Context, input CreateInput) (*Invoice, error) {
	if !input.Method.valid() {
		return nil, fmt.Errorf("%w: %s", ErrUnknownMethod, input.Method)
	}
	if len(input.Items) == 0 {
		return nil, ErrNoItems
	}
	subtotal := decimal.Zero
	for _, item := range input.Items {
		if err := item.validate(); err != nil {
			return nil, err
		}
		subtotal = subtotal.Add(item.LineTotal())
	}
	total, err := ApplyDiscount(subtotal, input.DiscountType, input.DiscountValue)
	if err != nil {
		return nil, err
	}

	if err := s.idem.Reserve(ctx, input.IdempotencyKey, idempotencyScope); err != nil {
		if errors.Is(err, shared.ErrIdempotencyConflict) {
			return nil, ErrDuplicate
		}
		return nil, err
	}

	now := time.Now()
	inv := Invoice{
		ID:            uuid.New(),
		CustomerID:    input.CustomerID,
		Items:         input.Items,
		Subtotal:      subtotal,
		DiscountType:  input.DiscountType,
		DiscountValue: input.DiscountValue,
		Total:         total,
		Method:        input.Method,
		Paid:          decimal.Zero,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	err = s.repo.WithLifecycleTx(ctx, func(ctx context.Context, tx LifecycleTx) error {
		seq, err := tx.Invoices.NextNumber(ctx)
		if err != nil {
			return err
		}
		inv.Number = FormatNumber(seq)

		if err := inventory.ConsumeInTx(ctx, tx.Stock, inv.MaterialLines(), &inv.ID); err != nil {
			return err
		}
		if err := recordLocalPurchases(ctx, tx.Parties, inv, 1); err != nil {
			return err
		}

		if account, ok := inv.Method.Account(); ok {
			inv.Paid = total
			if total.IsPositive() {
				entry, err := treasury.NewEntry(account, treasury.KindIncome, total,
					fmt.Sprintf("invoice %s", inv.Number), invoiceRef(inv.Number), &inv.ID)
				if err != nil {
					return err
				}
				if err := tx.Ledger.InsertEntry(ctx, entry); err != nil {
					return err
				}
				inv.LedgerEntryID = &entry.ID
			}
		}
		inv.Status = DeriveStatus(inv.Method, inv.CourierExecuted, inv.Paid, inv.Total)
		return tx.Invoices.InsertInvoice(ctx, inv)
	})
	if err != nil {
		if relErr := s.idem.Release(ctx, input.IdempotencyKey); relErr != nil {
			s.logger.Warn("idempotency key release failed", "key", input.IdempotencyKey, "error", relErr)
		}
		return nil, err
	}
	if bindErr := s.idem.Bind(ctx, input.IdempotencyKey, inv.ID); bindErr != nil {
		s.logger.Warn("idempotency key bind failed", "key", input.IdempotencyKey, "error", bindErr)
	}

	s.recordAudit(ctx, input.Actor, "invoice.create", inv.ID, map[string]any{
		"number": inv.Number, "total": inv.Total.String(), "method": inv.Method,
	})
	s.logger.Info("invoice created", "number", inv.Number, "total", inv.Total, "method", inv.Method)
	return &inv, nil
}

// recordLocalPurchases books each local-product line as a supplier
// purchase: the catalogue counter moves and the supplier balance grows by
// the purchase cost. direction is +1 on create and -1 on cancel.
func recordLocalPurchases(ctx context.Context, tx parties.TxRepository, inv Invoice, direction int64) error {
	for _, item := range inv.Items {
		if item.Type != ItemLocal {
			continue
		}
		product, err := tx.GetLocalProduct(ctx, *item.ProductID)
		if err != nil {
			return err
		}
		if err := tx.IncrementLocalProductSold(ctx, product.ID, direction*item.Quantity); err != nil {
			return err
		}
		supplier, err := tx.GetSupplierForUpdate(ctx, product.SupplierID)
		if err != nil {
			return err
		}
		cost := product.PurchasePrice.Mul(decimal.NewFromInt(direction * item.Quantity))
		if err := tx.SetSupplierBalance(ctx, supplier.ID,
			supplier.Balance.Add(cost), supplier.TotalPurchases.Add(cost)); err != nil {
			return err
		}
		desc := fmt.Sprintf("local product %s on invoice %s", product.Name, inv.Number)
		if direction < 0 {
			desc = fmt.Sprintf("local product %s returned, invoice %s cancelled", product.Name, inv.Number)
		}
		if err := tx.InsertSupplierTransaction(ctx, parties.SupplierTransaction{
			ID:           uuid.New(),
			SupplierID:   supplier.ID,
			Type:         parties.SupplierTxPurchase,
			Amount:       cost,
			Description:  desc,
			RefInvoiceID: &inv.ID,
			CreatedAt:    time.Now(),
		}); err != nil {
			return err
		}
	}
	return nil
}

// Cancel archives an invoice after undoing its side effects: consumed
// material is restored, every live linked ledger entry is reversed, the
// supplier purchases are backed out, and a snapshot records the final
// state. Requires the operations password.
func (s *Service) Cancel(ctx context.Context, id uuid.UUID, password, actor string) error {
	if err := s.guard.Verify(ctx, shared.ScopeInvoiceOps, password, actor); err != nil {
		return err
	}
	release, err := s.locks.Acquire(ctx, shared.InvoiceLockKey(id.String()))
	if err != nil {
		return err
	}
	defer release()

	err = s.repo.WithLifecycleTx(ctx, func(ctx context.Context, tx LifecycleTx) error {
		inv, err := tx.Invoices.GetInvoiceForUpdate(ctx, id)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				if _, archErr := tx.Invoices.GetArchivedForUpdate(ctx, id); archErr == nil {
					return ErrAlreadyCancelled
				}
			}
			return err
		}

		if err := snapshotInvoice(ctx, tx.Invoices, *inv, SnapshotReasonCancel, "invoice cancelled", actor); err != nil {
			return err
		}
		if err := inventory.RestoreInTx(ctx, tx.Stock, inv.MaterialLines(), &inv.ID); err != nil {
			return err
		}
		entries, err := tx.Ledger.EntriesByInvoice(ctx, inv.ID)
		if err != nil {
			return err
		}
		for _, entry := range entries {
			if entry.Reversed {
				continue
			}
			if _, err := treasury.ReverseInTx(ctx, tx.Ledger, entry.ID, actor); err != nil {
				return err
			}
		}
		if err := recordLocalPurchases(ctx, tx.Parties, *inv, -1); err != nil {
			return err
		}

		if err := tx.Invoices.DeleteInvoice(ctx, inv.ID); err != nil {
			return err
		}
		arch := ArchivedInvoice{Invoice: *inv, CancelledAt: time.Now(), CancelledBy: actor}
		arch.Status = StatusCancelled
		return tx.Invoices.InsertArchived(ctx, arch)
	})
	if err != nil {
		return err
	}

	s.recordAudit(ctx, actor, "invoice.cancel", id, nil)
	s.logger.Info("invoice cancelled", "invoice_id", id, "actor", actor)
	return nil
}

// ChangePaymentMethod reclassifies an invoice: every live linked entry is
// reversed and, for immediate targets, a fresh entry is posted for the
// full total. A partially paid invoice cannot be reclassified.
func (s *Service) ChangePaymentMethod(ctx context.Context, id uuid.UUID, newMethod PaymentMethod, password, actor string) error {
	if !newMethod.valid() {
		return fmt.Errorf("%w: %s", ErrUnknownMethod, newMethod)
	}
	if err := s.guard.Verify(ctx, shared.ScopeInvoiceOps, password, actor); err != nil {
		return err
	}
	release, err := s.locks.Acquire(ctx, shared.InvoiceLockKey(id.String()))
	if err != nil {
		return err
	}
	defer release()

	err = s.repo.WithLifecycleTx(ctx, func(ctx context.Context, tx LifecycleTx) error {
		inv, err := tx.Invoices.GetInvoiceForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if inv.Method == newMethod {
			return nil
		}
		if inv.Paid.IsPositive() && inv.Paid.LessThan(inv.Total) {
			return fmt.Errorf("%w: paid %s of %s", ErrPartiallyPaid, inv.Paid, inv.Total)
		}

		entries, err := tx.Ledger.EntriesByInvoice(ctx, inv.ID)
		if err != nil {
			return err
		}
		for _, entry := range entries {
			if entry.Reversed {
				continue
			}
			if _, err := treasury.ReverseInTx(ctx, tx.Ledger, entry.ID, actor); err != nil {
				return err
			}
		}

		inv.Method = newMethod
		inv.CourierExecuted = false
		inv.LedgerEntryID = nil
		if account, ok := newMethod.Account(); ok {
			inv.Paid = inv.Total
			if inv.Total.IsPositive() {
				entry, err := treasury.NewEntry(account, treasury.KindIncome, inv.Total,
					fmt.Sprintf("invoice %s reclassified to %s", inv.Number, newMethod), invoiceRef(inv.Number), &inv.ID)
				if err != nil {
					return err
				}
				if err := tx.Ledger.InsertEntry(ctx, entry); err != nil {
					return err
				}
				inv.LedgerEntryID = &entry.ID
			}
		} else {
			inv.Paid = decimal.Zero
		}
		inv.Status = DeriveStatus(inv.Method, inv.CourierExecuted, inv.Paid, inv.Total)
		inv.UpdatedAt = time.Now()
		return tx.Invoices.UpdateInvoice(ctx, *inv)
	})
	if err != nil {
		return err
	}

	s.recordAudit(ctx, actor, "invoice.change_method", id, map[string]any{"new_method": newMethod})
	s.logger.Info("invoice payment method changed", "invoice_id", id, "new_method", newMethod)
	return nil
}

// PaymentInput groups fields for settling part of an invoice.
type PaymentInput struct {
	InvoiceID uuid.UUID
	Method    PaymentMethod
	Amount    decimal.Decimal
	Notes     string
	Actor     string
}

// RecordPayment applies a payment to an invoice and posts the matching
// income entry on the method's account. Only ledger-backed methods are
// accepted here; reconciliation payments exist solely inside a netting
// run. Paying more than the remaining amount fails.
func (s *Service) RecordPayment(ctx context.Context, input PaymentInput) (*Payment, error) {
	if !input.Amount.IsPositive() {
		return nil, treasury.ErrInvalidAmount
	}
	account, ledgerBacked := input.Method.Account()
	if !ledgerBacked {
		return nil, fmt.Errorf("%w: %s", ErrUnknownMethod, input.Method)
	}

	release, err := s.locks.Acquire(ctx, shared.InvoiceLockKey(input.InvoiceID.String()))
	if err != nil {
		return nil, err
	}
	defer release()

	payment := Payment{
		ID:        uuid.New(),
		InvoiceID: input.InvoiceID,
		Method:    input.Method,
		Amount:    input.Amount,
		Notes:     input.Notes,
		Actor:     input.Actor,
		CreatedAt: time.Now(),
	}
	err = s.repo.WithLifecycleTx(ctx, func(ctx context.Context, tx LifecycleTx) error {
		inv, err := tx.Invoices.GetInvoiceForUpdate(ctx, input.InvoiceID)
		if err != nil {
			return err
		}
		remaining := inv.Remaining()
		if input.Amount.GreaterThan(remaining) {
			return fmt.Errorf("%w: %s remaining, got %s", ErrOverPayment, remaining, input.Amount)
		}

		entry, err := treasury.NewEntry(account, treasury.KindIncome, input.Amount,
			fmt.Sprintf("payment on invoice %s", inv.Number), invoiceRef(inv.Number), &inv.ID)
		if err != nil {
			return err
		}
		if err := tx.Ledger.InsertEntry(ctx, entry); err != nil {
			return err
		}
		payment.LedgerEntryID = &entry.ID

		inv.Paid = inv.Paid.Add(input.Amount)
		inv.Status = DeriveStatus(inv.Method, inv.CourierExecuted, inv.Paid, inv.Total)
		inv.UpdatedAt = time.Now()
		if err := tx.Invoices.UpdateInvoice(ctx, *inv); err != nil {
			return err
		}
		return tx.Invoices.InsertPayment(ctx, payment)
	})
	if err != nil {
		return nil, err
	}

	s.recordAudit(ctx, input.Actor, "invoice.payment", input.InvoiceID, map[string]any{
		"amount": input.Amount.String(), "method": input.Method,
	})
	s.logger.Info("payment recorded", "invoice_id", input.InvoiceID, "amount", input.Amount, "method", input.Method)
	return &payment, nil
}

// ExecuteCourier marks a courier hand-off as collected, moving the
// invoice from waiting to executed.
func (s *Service) ExecuteCourier(ctx context.Context, id uuid.UUID, actor string) error {
	release, err := s.locks.Acquire(ctx, shared.InvoiceLockKey(id.String()))
	if err != nil {
		return err
	}
	defer release()

	err = s.repo.WithLifecycleTx(ctx, func(ctx context.Context, tx LifecycleTx) error {
		inv, err := tx.Invoices.GetInvoiceForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if !inv.Method.Waiting() {
			return fmt.Errorf("%w: invoice %s is not courier-settled", ErrUnknownMethod, inv.Number)
		}
		inv.CourierExecuted = true
		inv.Status = DeriveStatus(inv.Method, true, inv.Paid, inv.Total)
		inv.UpdatedAt = time.Now()
		return tx.Invoices.UpdateInvoice(ctx, *inv)
	})
	if err != nil {
		return err
	}

	s.recordAudit(ctx, actor, "invoice.courier_executed", id, nil)
	return nil
}

// Restore moves a cancelled invoice back into the active set. Ledger and
// inventory effects are NOT re-applied; the returned warning says so.
func (s *Service) Restore(ctx context.Context, id uuid.UUID, password, actor string) (*Invoice, string, error) {
	if err := s.guard.Verify(ctx, shared.ScopeArchive, password, actor); err != nil {
		return nil, "", err
	}
	release, err := s.locks.Acquire(ctx, shared.InvoiceLockKey(id.String()))
	if err != nil {
		return nil, "", err
	}
	defer release()

	var restored Invoice
	err = s.repo.WithLifecycleTx(ctx, func(ctx context.Context, tx LifecycleTx) error {
		arch, err := tx.Invoices.GetArchivedForUpdate(ctx, id)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				return ErrNotCancelled
			}
			return err
		}
		if err := tx.Invoices.DeleteArchived(ctx, id); err != nil {
			return err
		}
		restored = arch.Invoice
		restored.Status = DeriveStatus(restored.Method, restored.CourierExecuted, restored.Paid, restored.Total)
		restored.UpdatedAt = time.Now()
		return tx.Invoices.InsertInvoice(ctx, restored)
	})
	if err != nil {
		return nil, "", err
	}

	s.recordAudit(ctx, actor, "invoice.restore", id, map[string]any{"warning": RestoreWarning})
	s.logger.Warn("invoice restored from archive", "invoice_id", id, "actor", actor)
	return &restored, RestoreWarning, nil
}

// Get loads one active invoice.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Invoice, error) {
	return s.repo.GetInvoice(ctx, id)
}

// List returns invoices matching the filter.
func (s *Service) List(ctx context.Context, filter InvoiceFilter) ([]Invoice, error) {
	return s.repo.ListInvoices(ctx, filter)
}

// ListArchived returns cancelled invoices.
func (s *Service) ListArchived(ctx context.Context) ([]ArchivedInvoice, error) {
	return s.repo.ListArchived(ctx)
}

// Payments returns the payments applied to one invoice.
func (s *Service) Payments(ctx context.Context, invoiceID uuid.UUID) ([]Payment, error) {
	return s.repo.ListPayments(ctx, invoiceID)
}

// OpenDeferred returns the customer's deferred invoices with an open
// balance, in allocation order.
func (s *Service) OpenDeferred(ctx context.Context, customerID uuid.UUID) ([]Invoice, error) {
	return s.repo.ListOpenDeferred(ctx, customerID)
}

// CustomerDebt sums the customer's open deferred remainders.
func (s *Service) CustomerDebt(ctx context.Context, customerID uuid.UUID) (decimal.Decimal, error) {
	return s.repo.CustomerDebt(ctx, customerID)
}

func invoiceRef(number string) string {
	return fmt.Sprintf("invoice:%s", number)
}

func snapshotInvoice(ctx context.Context, tx TxRepository, inv Invoice, reason, summary, actor string) error {
	payload, err := json.Marshal(inv)
	if err != nil {
		return err
	}
	return tx.InsertSnapshot(ctx, Snapshot{
		ID:        uuid.New(),
		InvoiceID: inv.ID,
		Reason:    reason,
		Payload:   payload,
		Summary:   summary,
		Actor:     actor,
		CreatedAt: time.Now(),
	})
}

func (s *Service) recordAudit(ctx context.Context, actor, action string, entityID uuid.UUID, meta map[string]any) {
	if s.audit == nil {
		return
	}
	_ = s.audit.Record(ctx, shared.AuditLog{
		Actor:    actor,
		Action:   action,
		Entity:   "invoice",
		EntityID: entityID.String(),
		Meta:     meta,
	})
}
