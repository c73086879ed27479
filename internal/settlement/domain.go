package settlement

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// PaidInvoice is one allocation line of a settlement run.
type PaidInvoice struct {
	InvoiceID uuid.UUID       `json:"invoice_id"`
	Number    string          `json:"number"`
	Applied   decimal.Decimal `json:"applied"`
	Remaining decimal.Decimal `json:"remaining"`
}

// Result reports how a settlement amount was distributed. Remainder is
// returned to the caller, never silently kept.
type Result struct {
	PaidInvoices []PaidInvoice   `json:"paid_invoices"`
	Distributed  decimal.Decimal `json:"distributed"`
	Remainder    decimal.Decimal `json:"remainder"`
}

// ReconciliationRecord is the audit row for a no-cash netting between a
// customer's debt and their linked supplier's balance. It exists because
// the netting touches no treasury account and would otherwise be
// invisible.
type ReconciliationRecord struct {
	ID             uuid.UUID       `json:"id"`
	CustomerID     uuid.UUID       `json:"customer_id"`
	SupplierID     uuid.UUID       `json:"supplier_id"`
	Amount         decimal.Decimal `json:"amount"`
	SupplierBefore decimal.Decimal `json:"supplier_before"`
	SupplierAfter  decimal.Decimal `json:"supplier_after"`
	DebtBefore     decimal.Decimal `json:"debt_before"`
	DebtAfter      decimal.Decimal `json:"debt_after"`
	InvoiceIDs     []uuid.UUID     `json:"invoice_ids"`
	Actor          string          `json:"actor"`
	CreatedAt      time.Time       `json:"created_at"`
}

// ReconcileResult is returned to the caller after a netting run.
type ReconcileResult struct {
	Record       ReconciliationRecord `json:"record"`
	PaidInvoices []PaidInvoice        `json:"paid_invoices"`
}

var (
	// ErrNothingToReconcile indicates the party lacks either supplier
	// balance or customer debt.
	ErrNothingToReconcile = errors.New("settlement: nothing to reconcile")
	// ErrInvalidAmount indicates a non-positive settlement amount.
	ErrInvalidAmount = errors.New("settlement: amount must be positive")
)
