package invoicing

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/sealforge-erp/sealforge-erp/internal/inventory"
	"github.com/sealforge-erp/sealforge-erp/internal/treasury"
)

// PaymentMethod names how an invoice is (or will be) paid. Every method
// except deferred and reconciliation maps onto one treasury account.
type PaymentMethod string

const (
	MethodCash       PaymentMethod = "cash"
	MethodWalletSawy PaymentMethod = "wallet_sawy"
	MethodWalletWael PaymentMethod = "wallet_wael"
	MethodInstapay   PaymentMethod = "instapay"
	MethodCourier    PaymentMethod = "courier"
	MethodDeferred   PaymentMethod = "deferred"

	// MethodReconciliation is the reserved non-ledger method used when a
	// supplier balance settles a customer's deferred invoices. It never
	// touches a treasury account.
	MethodReconciliation PaymentMethod = "reconciliation"
)

// Account resolves the treasury account funded by this method. Returns
// false for deferred (no cash moves yet) and reconciliation (no cash
// moves at all).
func (m PaymentMethod) Account() (treasury.AccountID, bool) {
	switch m {
	case MethodCash:
		return treasury.AccountCash, true
	case MethodWalletSawy:
		return treasury.AccountWalletSawy, true
	case MethodWalletWael:
		return treasury.AccountWalletWael, true
	case MethodInstapay:
		return treasury.AccountInstapay, true
	case MethodCourier:
		return treasury.AccountCourier, true
	}
	return "", false
}

// Deferred reports whether payment is postponed entirely.
func (m PaymentMethod) Deferred() bool { return m == MethodDeferred }

// Waiting reports whether the method settles through a courier hand-off
// and therefore starts in the waiting state.
func (m PaymentMethod) Waiting() bool { return m == MethodCourier }

func (m PaymentMethod) valid() bool {
	switch m {
	case MethodCash, MethodWalletSawy, MethodWalletWael, MethodInstapay, MethodCourier, MethodDeferred:
		return true
	}
	return false
}

// Status is derived, never hand-set; see DeriveStatus.
type Status string

const (
	StatusUnpaid    Status = "unpaid"
	StatusPartial   Status = "partial"
	StatusPaid      Status = "paid"
	StatusWaiting   Status = "waiting"
	StatusExecuted  Status = "executed"
	StatusCancelled Status = "cancelled"
)

// DeriveStatus computes invoice status as a pure function of the payment
// method, the courier hand-off flag, and paid vs total.
func DeriveStatus(method PaymentMethod, courierExecuted bool, paid, total decimal.Decimal) Status {
	if method.Waiting() {
		if courierExecuted {
			return StatusExecuted
		}
		return StatusWaiting
	}
	switch {
	case paid.LessThanOrEqual(decimal.Zero):
		return StatusUnpaid
	case paid.LessThan(total):
		return StatusPartial
	default:
		return StatusPaid
	}
}

// DiscountType distinguishes a flat amount from a percentage.
type DiscountType string

const (
	DiscountFixed      DiscountType = "fixed"
	DiscountPercentage DiscountType = "percentage"
)

// ApplyDiscount returns the post-discount total, validating bounds.
func ApplyDiscount(subtotal decimal.Decimal, kind DiscountType, value decimal.Decimal) (decimal.Decimal, error) {
	if value.IsNegative() {
		return decimal.Zero, fmt.Errorf("%w: discount must not be negative", ErrInvalidDiscount)
	}
	switch kind {
	case DiscountFixed, "":
		if value.GreaterThan(subtotal) {
			return decimal.Zero, fmt.Errorf("%w: discount %s exceeds subtotal %s", ErrInvalidDiscount, value, subtotal)
		}
		return subtotal.Sub(value), nil
	case DiscountPercentage:
		if value.GreaterThan(decimal.NewFromInt(100)) {
			return decimal.Zero, fmt.Errorf("%w: percentage discount above 100", ErrInvalidDiscount)
		}
		cut := subtotal.Mul(value).Div(decimal.NewFromInt(100))
		return subtotal.Sub(cut), nil
	default:
		return decimal.Zero, fmt.Errorf("%w: unknown discount type %q", ErrInvalidDiscount, kind)
	}
}

// ItemType distinguishes manufactured seals from local resale products.
type ItemType string

const (
	ItemManufactured ItemType = "manufactured"
	ItemLocal        ItemType = "local"
)

// InvoiceItem is one invoice line. Manufactured items carry the seal
// specification plus the raw-material selections cut for it; local items
// reference a supplier's catalogue product.
type InvoiceItem struct {
	Type      ItemType        `json:"type"`
	Quantity  int64           `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`

	// manufactured
	SealInnerDiameter float64                     `json:"seal_inner_diameter,omitempty"`
	SealOuterDiameter float64                     `json:"seal_outer_diameter,omitempty"`
	SealHeightMM      decimal.Decimal             `json:"seal_height_mm,omitempty"`
	Materials         []inventory.ConsumptionLine `json:"materials,omitempty"`

	// local
	ProductID *uuid.UUID `json:"product_id,omitempty"`
}

// LineTotal is quantity times unit price.
func (i InvoiceItem) LineTotal() decimal.Decimal {
	return i.UnitPrice.Mul(decimal.NewFromInt(i.Quantity))
}

func (i InvoiceItem) validate() error {
	if i.Quantity <= 0 {
		return fmt.Errorf("%w: item quantity must be positive", ErrInvalidItem)
	}
	if i.UnitPrice.IsNegative() {
		return fmt.Errorf("%w: unit price must not be negative", ErrInvalidItem)
	}
	switch i.Type {
	case ItemManufactured:
		if len(i.Materials) == 0 {
			return fmt.Errorf("%w: manufactured item needs material selections", ErrInvalidItem)
		}
	case ItemLocal:
		if i.ProductID == nil {
			return fmt.Errorf("%w: local item needs a product reference", ErrInvalidItem)
		}
	default:
		return fmt.Errorf("%w: unknown item type %q", ErrInvalidItem, i.Type)
	}
	return nil
}

// Invoice is the posted sales document. Status, paid and remaining move
// through the lifecycle operations only.
type Invoice struct {
	ID              uuid.UUID       `json:"id"`
	Number          string          `json:"number"`
	CustomerID      uuid.UUID       `json:"customer_id"`
	Items           []InvoiceItem   `json:"items"`
	Subtotal        decimal.Decimal `json:"subtotal"`
	DiscountType    DiscountType    `json:"discount_type"`
	DiscountValue   decimal.Decimal `json:"discount_value"`
	Total           decimal.Decimal `json:"total"`
	Method          PaymentMethod   `json:"payment_method"`
	Status          Status          `json:"status"`
	Paid            decimal.Decimal `json:"paid_amount"`
	CourierExecuted bool            `json:"courier_executed"`
	LedgerEntryID   *uuid.UUID      `json:"ledger_entry_id,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

// Remaining is total minus paid, floored at zero.
func (inv Invoice) Remaining() decimal.Decimal {
	r := inv.Total.Sub(inv.Paid)
	if r.IsNegative() {
		return decimal.Zero
	}
	return r
}

// MaterialLines flattens every manufactured item's selections.
func (inv Invoice) MaterialLines() []inventory.ConsumptionLine {
	var lines []inventory.ConsumptionLine
	for _, item := range inv.Items {
		if item.Type == ItemManufactured {
			lines = append(lines, item.Materials...)
		}
	}
	return lines
}

// ArchivedInvoice is a cancelled invoice moved out of the active set.
type ArchivedInvoice struct {
	Invoice
	CancelledAt time.Time `json:"cancelled_at"`
	CancelledBy string    `json:"cancelled_by"`
}

// Payment records one settlement applied to an invoice.
type Payment struct {
	ID            uuid.UUID       `json:"id"`
	InvoiceID     uuid.UUID       `json:"invoice_id"`
	Method        PaymentMethod   `json:"method"`
	Amount        decimal.Decimal `json:"amount"`
	Notes         string          `json:"notes"`
	Actor         string          `json:"actor"`
	LedgerEntryID *uuid.UUID      `json:"ledger_entry_id,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
}

// Snapshot preserves the full invoice payload before a structural change.
type Snapshot struct {
	ID        uuid.UUID `json:"id"`
	InvoiceID uuid.UUID `json:"invoice_id"`
	Reason    string    `json:"reason"`
	Payload   []byte    `json:"payload"`
	Summary   string    `json:"changes_summary"`
	Actor     string    `json:"edited_by"`
	CreatedAt time.Time `json:"edited_at"`
}

const (
	SnapshotReasonEdit   = "edit"
	SnapshotReasonCancel = "cancel"
	SnapshotReasonRevert = "revert"
)

var (
	ErrNotFound         = errors.New("invoicing: invoice not found")
	ErrAlreadyCancelled = errors.New("invoicing: invoice already cancelled")
	ErrNotCancelled     = errors.New("invoicing: invoice is not in the archive")
	ErrPartiallyPaid    = errors.New("invoicing: partially paid invoice cannot be reclassified")
	ErrOverPayment      = errors.New("invoicing: payment exceeds remaining amount")
	ErrNoItems          = errors.New("invoicing: invoice needs at least one item")
	ErrInvalidItem      = errors.New("invoicing: invalid invoice item")
	ErrInvalidDiscount  = errors.New("invoicing: invalid discount")
	ErrUnknownMethod    = errors.New("invoicing: unknown payment method")
	ErrDuplicate        = errors.New("invoicing: duplicate create request")
	ErrSnapshotNotFound = errors.New("invoicing: snapshot not found")
	ErrMethodMismatch   = errors.New("invoicing: snapshot predates a payment-method change")
)

// FormatNumber renders the sequential human-facing invoice number.
func FormatNumber(seq int64) string {
	return fmt.Sprintf("INV-%06d", seq)
}
