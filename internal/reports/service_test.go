package reports

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

type fakeFigures struct {
	daily     dailyFigures
	dashboard dashboardFigures
	statement statementFigures
	from, to  time.Time
}

func (f *fakeFigures) DailyFigures(_ context.Context, from, to time.Time) (dailyFigures, error) {
	f.from, f.to = from, to
	return f.daily, nil
}

func (f *fakeFigures) DashboardFigures(context.Context) (dashboardFigures, error) {
	return f.dashboard, nil
}

func (f *fakeFigures) StatementFigures(_ context.Context, _ uuid.UUID, from, to *time.Time) (statementFigures, error) {
	if from != nil {
		f.from = *from
	}
	if to != nil {
		f.to = *to
	}
	return f.statement, nil
}

func TestDailySalesAggregatesCollections(t *testing.T) {
	figures := &fakeFigures{daily: dailyFigures{
		CashSales:     dec("12500.50"),
		DeferredSales: dec("3000"),
		InvoiceCount:  7,
		Collections: []methodRow{
			{Method: "cash", Total: dec("400"), Count: 2},
			{Method: "instapay", Total: dec("150"), Count: 1},
		},
	}}
	svc := NewService(figures)

	day := time.Date(2026, 3, 14, 15, 30, 0, 0, time.UTC)
	rep, err := svc.DailySales(context.Background(), day)
	require.NoError(t, err)

	require.Equal(t, "2026-03-14", rep.Date)
	require.Equal(t, time.Date(2026, 3, 14, 0, 0, 0, 0, time.UTC), figures.from)
	require.Equal(t, time.Date(2026, 3, 15, 0, 0, 0, 0, time.UTC), figures.to)
	require.True(t, dec("13050.50").Equal(rep.TotalCollected))
	require.Len(t, rep.DeferredCollections, 2)
	require.Equal(t, "12,500.50", rep.CashSalesDisplay)
	require.Equal(t, "13,050.50", rep.TotalDisplay)
}

func TestDashboardFormatsTotals(t *testing.T) {
	figures := &fakeFigures{dashboard: dashboardFigures{
		Active:          12,
		Unpaid:          3,
		Partial:         2,
		Cancelled:       1,
		TotalRevenue:    dec("1234567.89"),
		OutstandingDebt: dec("980"),
		LowStockLots:    4,
	}}
	svc := NewService(figures)

	stats, err := svc.Dashboard(context.Background())
	require.NoError(t, err)
	require.Equal(t, int64(12), stats.ActiveInvoices)
	require.Equal(t, "1,234,567.89", stats.TotalRevenueDisplay)
	require.Equal(t, "980.00", stats.OutstandingDebtDisplay)
	require.Equal(t, int64(4), stats.LowStockLots)
}

func TestStatementMergesMovementsChronologically(t *testing.T) {
	customerID := uuid.New()
	supplierID := uuid.New()
	day := func(d int) time.Time { return time.Date(2026, 4, d, 10, 0, 0, 0, time.UTC) }

	figures := &fakeFigures{statement: statementFigures{
		Customer: statementCustomer{ID: customerID, Name: "seal works", Phone: "0100", LinkedSupplierID: &supplierID},
		Invoices: []statementInvoice{
			{Number: "INV-000001", Total: dec("1000"), CreatedAt: day(1)},
			{Number: "INV-000002", Total: dec("500"), CreatedAt: day(3)},
		},
		Payments: []statementPayment{
			{InvoiceNumber: "INV-000001", Method: "cash", Amount: dec("400"), CreatedAt: day(2)},
		},
		SupplierTxs: []statementSupplierTx{
			{Type: "purchase", Amount: dec("250"), Description: "rubber sheets", CreatedAt: day(4)},
			{Type: "reconciliation", Amount: dec("-100"), CreatedAt: day(5)},
		},
	}}
	svc := NewService(figures)

	st, err := svc.Statement(context.Background(), customerID, nil, nil)
	require.NoError(t, err)

	require.Equal(t, "seal works", st.CustomerName)
	require.True(t, st.IsAlsoSupplier)

	// reconciliation rows are folded into payments, not listed twice
	require.Len(t, st.Lines, 4)
	require.Equal(t, []string{"invoice", "payment", "invoice", "purchase"}, []string{
		st.Lines[0].Type, st.Lines[1].Type, st.Lines[2].Type, st.Lines[3].Type,
	})
	require.True(t, dec("1000").Equal(st.Lines[0].Balance))
	require.True(t, dec("600").Equal(st.Lines[1].Balance))
	require.True(t, dec("1100").Equal(st.Lines[2].Balance))
	require.True(t, dec("850").Equal(st.Lines[3].Balance))

	require.True(t, dec("1500").Equal(st.TotalCredit))
	require.True(t, dec("650").Equal(st.TotalDebit))
	require.True(t, dec("850").Equal(st.FinalBalance))
	require.Equal(t, "1,500.00", st.TotalCreditDisplay)
	require.Equal(t, "850.00", st.FinalBalanceDisplay)
}

func TestStatementWindowIsInclusiveOfEndDate(t *testing.T) {
	figures := &fakeFigures{}
	svc := NewService(figures)

	from := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)
	to := time.Date(2026, 4, 30, 0, 0, 0, 0, time.UTC)
	st, err := svc.Statement(context.Background(), uuid.New(), &from, &to)
	require.NoError(t, err)

	require.Equal(t, from, figures.from)
	require.Equal(t, time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC), figures.to)
	require.Equal(t, "2026-04-01", st.From)
	require.Equal(t, "2026-04-30", st.To)
	require.Empty(t, st.Lines)
	require.True(t, st.FinalBalance.IsZero())
}
