package parties

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Customer is a buying party. LinkedSupplierID joins the customer to the
// supplier record of the same legal entity; reconciliation requires the
// explicit link, never a name-string match.
type Customer struct {
	ID               uuid.UUID  `json:"id"`
	Name             string     `json:"name"`
	Phone            string     `json:"phone"`
	Address          string     `json:"address"`
	LinkedSupplierID *uuid.UUID `json:"linked_supplier_id,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
}

// Supplier is a selling party. Balance is what the company owes the
// supplier (purchases minus payments and reconciliations).
type Supplier struct {
	ID               uuid.UUID       `json:"id"`
	Name             string          `json:"name"`
	Phone            string          `json:"phone"`
	Balance          decimal.Decimal `json:"balance"`
	TotalPurchases   decimal.Decimal `json:"total_purchases"`
	LinkedCustomerID *uuid.UUID      `json:"linked_customer_id,omitempty"`
	CreatedAt        time.Time       `json:"created_at"`
}

// LocalProduct is a resold catalogue item bought from a supplier.
type LocalProduct struct {
	ID            uuid.UUID       `json:"id"`
	SupplierID    uuid.UUID       `json:"supplier_id"`
	Name          string          `json:"name"`
	PurchasePrice decimal.Decimal `json:"purchase_price"`
	SellingPrice  decimal.Decimal `json:"selling_price"`
	TotalSold     int64           `json:"total_sold"`
	CreatedAt     time.Time       `json:"created_at"`
}

// SupplierTransactionType enumerates supplier ledger movements.
type SupplierTransactionType string

const (
	SupplierTxPurchase       SupplierTransactionType = "purchase"
	SupplierTxPayment        SupplierTransactionType = "payment"
	SupplierTxReconciliation SupplierTransactionType = "reconciliation"
)

// SupplierTransaction records one movement on a supplier balance.
type SupplierTransaction struct {
	ID           uuid.UUID               `json:"id"`
	SupplierID   uuid.UUID               `json:"supplier_id"`
	Type         SupplierTransactionType `json:"type"`
	Amount       decimal.Decimal         `json:"amount"`
	Description  string                  `json:"description"`
	RefInvoiceID *uuid.UUID              `json:"ref_invoice_id,omitempty"`
	CreatedAt    time.Time               `json:"created_at"`
}

var (
	// ErrNotFound indicates a missing party.
	ErrNotFound = errors.New("parties: not found")
	// ErrNotLinked indicates the customer has no linked supplier record.
	ErrNotLinked = errors.New("parties: customer has no linked supplier")
	// ErrInvalidInput indicates malformed party data.
	ErrInvalidInput = errors.New("parties: invalid input")
)

// CustomerInput groups fields for customer create/update.
type CustomerInput struct {
	Name             string     `json:"name"`
	Phone            string     `json:"phone"`
	Address          string     `json:"address"`
	LinkedSupplierID *uuid.UUID `json:"linked_supplier_id,omitempty"`
}

// SupplierInput groups fields for supplier create/update.
type SupplierInput struct {
	Name             string     `json:"name"`
	Phone            string     `json:"phone"`
	LinkedCustomerID *uuid.UUID `json:"linked_customer_id,omitempty"`
}

// LocalProductInput groups fields for local product create/update.
type LocalProductInput struct {
	SupplierID    uuid.UUID       `json:"supplier_id"`
	Name          string          `json:"name"`
	PurchasePrice decimal.Decimal `json:"purchase_price"`
	SellingPrice  decimal.Decimal `json:"selling_price"`
}
