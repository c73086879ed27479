package reports

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/sealforge-erp/sealforge-erp/internal/parties"
)

// FiguresPort is the read-only aggregation layer the service formats.
type FiguresPort interface {
	DailyFigures(ctx context.Context, from, to time.Time) (dailyFigures, error)
	DashboardFigures(ctx context.Context) (dashboardFigures, error)
	StatementFigures(ctx context.Context, customerID uuid.UUID, from, to *time.Time) (statementFigures, error)
}

type Service struct {
	figures FiguresPort
	printer *message.Printer
}

func NewService(figures FiguresPort) *Service {
	return &Service{
		figures: figures,
		printer: message.NewPrinter(language.English),
	}
}

// formatAmount renders a monetary value with locale-aware digit grouping
// for display next to the raw decimal.
func (s *Service) formatAmount(d decimal.Decimal) string {
	f, _ := d.Float64()
	return s.printer.Sprintf("%.2f", f)
}

// DailySales builds the report for the calendar day containing the given
// time, in the server's local zone.
func (s *Service) DailySales(ctx context.Context, day time.Time) (*DailySalesReport, error) {
	from := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, day.Location())
	to := from.AddDate(0, 0, 1)

	f, err := s.figures.DailyFigures(ctx, from, to)
	if err != nil {
		return nil, fmt.Errorf("reports: daily figures: %w", err)
	}

	rep := &DailySalesReport{
		Date:          from.Format("2006-01-02"),
		CashSales:     f.CashSales,
		DeferredSales: f.DeferredSales,
		InvoiceCount:  f.InvoiceCount,
	}
	collected := f.CashSales
	for _, row := range f.Collections {
		rep.DeferredCollections = append(rep.DeferredCollections, MethodTotal{
			Method:       row.Method,
			Total:        row.Total,
			TotalDisplay: s.formatAmount(row.Total),
			Count:        row.Count,
		})
		collected = collected.Add(row.Total)
	}
	rep.TotalCollected = collected
	rep.CashSalesDisplay = s.formatAmount(rep.CashSales)
	rep.DeferredSalesDisplay = s.formatAmount(rep.DeferredSales)
	rep.TotalDisplay = s.formatAmount(rep.TotalCollected)
	return rep, nil
}

// Statement builds a customer's account history. Invoices appear as
// credits and payments as debits; for a customer who also supplies, the
// supplier-side purchases and payouts show as debits too. Reconciliation
// rows on the supplier side are skipped because the matching netting
// payments already appear on the invoice side.
func (s *Service) Statement(ctx context.Context, customerID uuid.UUID, from, to *time.Time) (*CustomerStatement, error) {
	// to names a calendar day and is inclusive; the query bound is the
	// following midnight.
	var queryTo *time.Time
	if to != nil {
		end := to.AddDate(0, 0, 1)
		queryTo = &end
	}
	f, err := s.figures.StatementFigures(ctx, customerID, from, queryTo)
	if err != nil {
		return nil, err
	}

	var lines []StatementLine
	for _, inv := range f.Invoices {
		lines = append(lines, StatementLine{
			Date:        inv.CreatedAt,
			Type:        "invoice",
			Description: fmt.Sprintf("sales invoice %s", inv.Number),
			Reference:   inv.Number,
			Credit:      inv.Total,
			Debit:       decimal.Zero,
		})
	}
	for _, p := range f.Payments {
		lines = append(lines, StatementLine{
			Date:        p.CreatedAt,
			Type:        "payment",
			Description: fmt.Sprintf("payment on invoice %s via %s", p.InvoiceNumber, p.Method),
			Reference:   p.InvoiceNumber,
			Debit:       p.Amount,
			Credit:      decimal.Zero,
		})
	}
	for _, tx := range f.SupplierTxs {
		switch tx.Type {
		case string(parties.SupplierTxPurchase):
			lines = append(lines, StatementLine{
				Date:        tx.CreatedAt,
				Type:        "purchase",
				Description: fmt.Sprintf("purchase from %s: %s", f.Customer.Name, tx.Description),
				Debit:       tx.Amount.Abs(),
				Credit:      decimal.Zero,
			})
		case string(parties.SupplierTxPayment):
			lines = append(lines, StatementLine{
				Date:        tx.CreatedAt,
				Type:        "supplier_payment",
				Description: fmt.Sprintf("payout to %s: %s", f.Customer.Name, tx.Description),
				Debit:       tx.Amount.Abs(),
				Credit:      decimal.Zero,
			})
		}
	}
	sort.SliceStable(lines, func(i, j int) bool { return lines[i].Date.Before(lines[j].Date) })

	balance := decimal.Zero
	totalCredit := decimal.Zero
	totalDebit := decimal.Zero
	for i := range lines {
		balance = balance.Add(lines[i].Credit).Sub(lines[i].Debit)
		lines[i].Balance = balance
		totalCredit = totalCredit.Add(lines[i].Credit)
		totalDebit = totalDebit.Add(lines[i].Debit)
	}

	st := &CustomerStatement{
		CustomerID:          f.Customer.ID,
		CustomerName:        f.Customer.Name,
		CustomerPhone:       f.Customer.Phone,
		IsAlsoSupplier:      f.Customer.LinkedSupplierID != nil,
		Lines:               lines,
		TotalCredit:         totalCredit,
		TotalCreditDisplay:  s.formatAmount(totalCredit),
		TotalDebit:          totalDebit,
		TotalDebitDisplay:   s.formatAmount(totalDebit),
		FinalBalance:        balance,
		FinalBalanceDisplay: s.formatAmount(balance),
	}
	if from != nil {
		st.From = from.Format("2006-01-02")
	}
	if to != nil {
		st.To = to.Format("2006-01-02")
	}
	return st, nil
}

func (s *Service) Dashboard(ctx context.Context) (*DashboardStats, error) {
	f, err := s.figures.DashboardFigures(ctx)
	if err != nil {
		return nil, fmt.Errorf("reports: dashboard figures: %w", err)
	}
	return &DashboardStats{
		ActiveInvoices:         f.Active,
		UnpaidInvoices:         f.Unpaid,
		PartialInvoices:        f.Partial,
		WaitingInvoices:        f.Waiting,
		CancelledInvoices:      f.Cancelled,
		TotalRevenue:           f.TotalRevenue,
		TotalRevenueDisplay:    s.formatAmount(f.TotalRevenue),
		OutstandingDebt:        f.OutstandingDebt,
		OutstandingDebtDisplay: s.formatAmount(f.OutstandingDebt),
		LowStockLots:           f.LowStockLots,
	}, nil
}
