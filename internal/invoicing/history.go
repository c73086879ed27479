package invoicing

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/sealforge-erp/sealforge-erp/internal/shared"
	"github.com/sealforge-erp/sealforge-erp/internal/treasury"
)

// UpdateInput groups fields for a structural invoice edit.
type UpdateInput struct {
	ID            uuid.UUID
	Items         []InvoiceItem
	DiscountType  DiscountType
	DiscountValue decimal.Decimal
	Password      string
	Actor         string
}

// Update rewrites an invoice's items and discount. The prior payload is
// snapshotted first; when the new total differs from a ledger-posted
// figure, a compensating adjustment entry keeps the account in line.
// Material consumption is not recalculated here; lines that change stock
// go through cancel-and-recreate.
func (s *Service) Update(ctx context.Context, input UpdateInput) (*Invoice, error) {
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
	if err := s.guard.Verify(ctx, shared.ScopeInvoiceOps, input.Password, input.Actor); err != nil {
		return nil, err
	}

	release, err := s.locks.Acquire(ctx, shared.InvoiceLockKey(input.ID.String()))
	if err != nil {
		return nil, err
	}
	defer release()

	var updated Invoice
	err = s.repo.WithLifecycleTx(ctx, func(ctx context.Context, tx LifecycleTx) error {
		inv, err := tx.Invoices.GetInvoiceForUpdate(ctx, input.ID)
		if err != nil {
			return err
		}
		summary := fmt.Sprintf("total %s -> %s", inv.Total, total)
		if err := snapshotInvoice(ctx, tx.Invoices, *inv, SnapshotReasonEdit, summary, input.Actor); err != nil {
			return err
		}

		if err := adjustLedgerForTotal(ctx, tx.Ledger, inv, total, input.Actor); err != nil {
			return err
		}

		inv.Items = input.Items
		inv.Subtotal = subtotal
		inv.DiscountType = input.DiscountType
		inv.DiscountValue = input.DiscountValue
		inv.Total = total
		if _, immediate := inv.Method.Account(); immediate {
			inv.Paid = total
		} else if inv.Paid.GreaterThan(total) {
			return fmt.Errorf("%w: already paid %s, new total %s", ErrOverPayment, inv.Paid, total)
		}
		inv.Status = DeriveStatus(inv.Method, inv.CourierExecuted, inv.Paid, inv.Total)
		inv.UpdatedAt = time.Now()
		updated = *inv
		return tx.Invoices.UpdateInvoice(ctx, *inv)
	})
	if err != nil {
		return nil, err
	}

	s.recordAudit(ctx, input.Actor, "invoice.update", input.ID, map[string]any{"total": total.String()})
	s.logger.Info("invoice updated", "invoice_id", input.ID, "total", total)
	return &updated, nil
}

// Revert restores a snapshot as the current invoice state. The state being
// replaced is snapshotted too, so a revert can itself be reverted. When the
// restored total differs from the ledger-posted figure a compensating
// adjustment entry is posted.
func (s *Service) Revert(ctx context.Context, invoiceID, snapshotID uuid.UUID, password, actor string) (*Invoice, error) {
	if err := s.guard.Verify(ctx, shared.ScopeInvoiceOps, password, actor); err != nil {
		return nil, err
	}
	release, err := s.locks.Acquire(ctx, shared.InvoiceLockKey(invoiceID.String()))
	if err != nil {
		return nil, err
	}
	defer release()

	var restored Invoice
	err = s.repo.WithLifecycleTx(ctx, func(ctx context.Context, tx LifecycleTx) error {
		snap, err := tx.Invoices.GetSnapshot(ctx, snapshotID)
		if err != nil {
			return err
		}
		if snap.InvoiceID != invoiceID {
			return fmt.Errorf("%w: snapshot belongs to another invoice", ErrSnapshotNotFound)
		}
		inv, err := tx.Invoices.GetInvoiceForUpdate(ctx, invoiceID)
		if err != nil {
			return err
		}
		if err := snapshotInvoice(ctx, tx.Invoices, *inv, SnapshotReasonRevert,
			fmt.Sprintf("state before revert to snapshot %s", snap.ID), actor); err != nil {
			return err
		}

		if err := json.Unmarshal(snap.Payload, &restored); err != nil {
			return fmt.Errorf("invoicing: decode snapshot payload: %w", err)
		}
		restored.ID = inv.ID
		restored.Number = inv.Number

		// Compensation below targets the current method's account; a
		// snapshot taken under a different method would leave live
		// entries on the old account. Change the method back first.
		if restored.Method != inv.Method {
			return fmt.Errorf("%w: snapshot %s, invoice %s", ErrMethodMismatch, restored.Method, inv.Method)
		}

		if err := adjustLedgerForTotal(ctx, tx.Ledger, inv, restored.Total, actor); err != nil {
			return err
		}
		restored.Status = DeriveStatus(restored.Method, restored.CourierExecuted, restored.Paid, restored.Total)
		restored.UpdatedAt = time.Now()
		return tx.Invoices.UpdateInvoice(ctx, restored)
	})
	if err != nil {
		return nil, err
	}

	s.recordAudit(ctx, actor, "invoice.revert", invoiceID, map[string]any{"snapshot_id": snapshotID.String()})
	s.logger.Info("invoice reverted", "invoice_id", invoiceID, "snapshot_id", snapshotID)
	return &restored, nil
}

// History lists an invoice's snapshots, newest first.
func (s *Service) History(ctx context.Context, invoiceID uuid.UUID) ([]Snapshot, error) {
	return s.repo.ListSnapshots(ctx, invoiceID)
}

// adjustLedgerForTotal posts a compensating entry on the invoice's method
// account when the invoice total moves away from the posted figure. The
// original entries stay untouched; the adjustment carries its own
// reference so it reads distinctly in the ledger.
func adjustLedgerForTotal(ctx context.Context, ledger treasury.TxRepository, inv *Invoice, newTotal decimal.Decimal, actor string) error {
	account, ok := inv.Method.Account()
	if !ok {
		return nil
	}
	diff := newTotal.Sub(inv.Total)
	if diff.IsZero() {
		return nil
	}
	kind := treasury.KindIncome
	if diff.IsNegative() {
		kind = treasury.KindExpense
		diff = diff.Abs()
	}
	entry, err := treasury.NewEntry(account, kind, diff,
		fmt.Sprintf("adjustment for invoice %s, total %s -> %s", inv.Number, inv.Total, newTotal),
		fmt.Sprintf("adjustment:%s", inv.Number), &inv.ID)
	if err != nil {
		return err
	}
	return ledger.InsertEntry(ctx, entry)
}
