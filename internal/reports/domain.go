package reports

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// MethodTotal is one payment-method slice of a day's collections.
type MethodTotal struct {
	Method       string          `json:"method"`
	Total        decimal.Decimal `json:"total"`
	TotalDisplay string          `json:"total_display"`
	Count        int64           `json:"count"`
}

// DailySalesReport summarises one business day. Cash sales cover every
// invoice posted that day under an immediate method; deferred sales are
// that day's credit invoices; deferred collections are payments recorded
// that day against deferred invoices, split by method.
type DailySalesReport struct {
	Date                 string          `json:"date"`
	CashSales            decimal.Decimal `json:"cash_sales"`
	CashSalesDisplay     string          `json:"cash_sales_display"`
	DeferredSales        decimal.Decimal `json:"deferred_sales"`
	DeferredSalesDisplay string          `json:"deferred_sales_display"`
	DeferredCollections  []MethodTotal   `json:"deferred_collections"`
	TotalCollected       decimal.Decimal `json:"total_collected"`
	TotalDisplay         string          `json:"total_display"`
	InvoiceCount         int64           `json:"invoice_count"`
}

// StatementLine is one movement on a customer statement. Invoices credit
// the account, payments and supplier-side movements debit it; Balance is
// the running position after the line.
type StatementLine struct {
	Date        time.Time       `json:"date"`
	Type        string          `json:"type"`
	Description string          `json:"description"`
	Reference   string          `json:"reference"`
	Debit       decimal.Decimal `json:"debit"`
	Credit      decimal.Decimal `json:"credit"`
	Balance     decimal.Decimal `json:"balance"`
}

// CustomerStatement is the full account history of one customer, with the
// linked supplier's purchases and payments folded in when the party acts
// on both sides.
type CustomerStatement struct {
	CustomerID          uuid.UUID       `json:"customer_id"`
	CustomerName        string          `json:"customer_name"`
	CustomerPhone       string          `json:"customer_phone"`
	IsAlsoSupplier      bool            `json:"is_also_supplier"`
	From                string          `json:"from,omitempty"`
	To                  string          `json:"to,omitempty"`
	Lines               []StatementLine `json:"transactions"`
	TotalCredit         decimal.Decimal `json:"total_credit"`
	TotalCreditDisplay  string          `json:"total_credit_display"`
	TotalDebit          decimal.Decimal `json:"total_debit"`
	TotalDebitDisplay   string          `json:"total_debit_display"`
	FinalBalance        decimal.Decimal `json:"final_balance"`
	FinalBalanceDisplay string          `json:"final_balance_display"`
}

// DashboardStats is the landing-page summary.
type DashboardStats struct {
	ActiveInvoices         int64           `json:"active_invoices"`
	UnpaidInvoices         int64           `json:"unpaid_invoices"`
	PartialInvoices        int64           `json:"partial_invoices"`
	WaitingInvoices        int64           `json:"waiting_invoices"`
	CancelledInvoices      int64           `json:"cancelled_invoices"`
	TotalRevenue           decimal.Decimal `json:"total_revenue"`
	TotalRevenueDisplay    string          `json:"total_revenue_display"`
	OutstandingDebt        decimal.Decimal `json:"outstanding_debt"`
	OutstandingDebtDisplay string          `json:"outstanding_debt_display"`
	LowStockLots           int64           `json:"low_stock_lots"`
}
