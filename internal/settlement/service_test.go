package settlement

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"sort"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/sealforge-erp/sealforge-erp/internal/invoicing"
	"github.com/sealforge-erp/sealforge-erp/internal/parties"
	"github.com/sealforge-erp/sealforge-erp/internal/shared"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

// fakeInvoices keeps deferred invoices in memory and applies payments to
// them the way the invoice service would.
type fakeInvoices struct {
	invoices map[uuid.UUID]*invoicing.Invoice
	payments []invoicing.PaymentInput
}

func newFakeInvoices() *fakeInvoices {
	return &fakeInvoices{invoices: map[uuid.UUID]*invoicing.Invoice{}}
}

func (f *fakeInvoices) add(customerID uuid.UUID, number string, total string, createdAt time.Time) uuid.UUID {
	inv := &invoicing.Invoice{
		ID:         uuid.New(),
		Number:     number,
		CustomerID: customerID,
		Total:      dec(total),
		Paid:       decimal.Zero,
		Method:     invoicing.MethodDeferred,
		Status:     invoicing.StatusUnpaid,
		CreatedAt:  createdAt,
	}
	f.invoices[inv.ID] = inv
	return inv.ID
}

func (f *fakeInvoices) OpenDeferred(_ context.Context, customerID uuid.UUID) ([]invoicing.Invoice, error) {
	var out []invoicing.Invoice
	for _, inv := range f.invoices {
		if inv.CustomerID == customerID && inv.Paid.LessThan(inv.Total) {
			out = append(out, *inv)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].Number < out[j].Number
	})
	return out, nil
}

func (f *fakeInvoices) CustomerDebt(_ context.Context, customerID uuid.UUID) (decimal.Decimal, error) {
	debt := decimal.Zero
	for _, inv := range f.invoices {
		if inv.CustomerID == customerID && inv.Paid.LessThan(inv.Total) {
			debt = debt.Add(inv.Remaining())
		}
	}
	return debt, nil
}

func (f *fakeInvoices) RecordPayment(_ context.Context, input invoicing.PaymentInput) (*invoicing.Payment, error) {
	inv, ok := f.invoices[input.InvoiceID]
	if !ok {
		return nil, invoicing.ErrNotFound
	}
	if input.Amount.GreaterThan(inv.Remaining()) {
		return nil, invoicing.ErrOverPayment
	}
	inv.Paid = inv.Paid.Add(input.Amount)
	inv.Status = invoicing.DeriveStatus(inv.Method, false, inv.Paid, inv.Total)
	f.payments = append(f.payments, input)
	return &invoicing.Payment{ID: uuid.New(), InvoiceID: inv.ID, Method: input.Method, Amount: input.Amount}, nil
}

type fakeParties struct {
	customers map[uuid.UUID]*parties.Customer
	suppliers map[uuid.UUID]*parties.Supplier
}

func (f *fakeParties) GetCustomer(_ context.Context, id uuid.UUID) (*parties.Customer, error) {
	c, ok := f.customers[id]
	if !ok {
		return nil, parties.ErrNotFound
	}
	return c, nil
}

func (f *fakeParties) GetSupplier(_ context.Context, id uuid.UUID) (*parties.Supplier, error) {
	s, ok := f.suppliers[id]
	if !ok {
		return nil, parties.ErrNotFound
	}
	return s, nil
}

// fakeRecon implements ReconRunner over the fakeParties and fakeInvoices
// maps. It stages every write against copies and commits only when the
// callback succeeds, mirroring the database transaction.
type fakeRecon struct {
	dir        *fakeParties
	inv        *fakeInvoices
	failRecord bool
	records    []ReconciliationRecord
	txs        []parties.SupplierTransaction
	payments   []invoicing.Payment
}

func (f *fakeRecon) WithReconTx(ctx context.Context, fn func(ctx context.Context, tx ReconTx) error) error {
	tx := &fakeReconTx{
		suppliers:  map[uuid.UUID]*parties.Supplier{},
		invoices:   map[uuid.UUID]*invoicing.Invoice{},
		failRecord: f.failRecord,
	}
	if f.dir != nil {
		for id, s := range f.dir.suppliers {
			cp := *s
			tx.suppliers[id] = &cp
		}
	}
	if f.inv != nil {
		for id, inv := range f.inv.invoices {
			cp := *inv
			tx.invoices[id] = &cp
		}
	}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	for id, s := range tx.suppliers {
		f.dir.suppliers[id] = s
	}
	for id, inv := range tx.invoices {
		f.inv.invoices[id] = inv
	}
	f.records = append(f.records, tx.records...)
	f.txs = append(f.txs, tx.txs...)
	f.payments = append(f.payments, tx.payments...)
	return nil
}

type fakeReconTx struct {
	invoicing.TxRepository // unused invoice methods panic if called
	suppliers              map[uuid.UUID]*parties.Supplier
	invoices               map[uuid.UUID]*invoicing.Invoice
	records                []ReconciliationRecord
	txs                    []parties.SupplierTransaction
	payments               []invoicing.Payment
	failRecord             bool
}

func (t *fakeReconTx) Suppliers() parties.TxRepository  { return t }
func (t *fakeReconTx) Invoices() invoicing.TxRepository { return t }

func (t *fakeReconTx) InsertRecord(_ context.Context, rec ReconciliationRecord) error {
	if t.failRecord {
		return errDown
	}
	t.records = append(t.records, rec)
	return nil
}

func (t *fakeReconTx) GetSupplierForUpdate(_ context.Context, id uuid.UUID) (*parties.Supplier, error) {
	s, ok := t.suppliers[id]
	if !ok {
		return nil, parties.ErrNotFound
	}
	return s, nil
}

func (t *fakeReconTx) SetSupplierBalance(_ context.Context, id uuid.UUID, balance, totalPurchases decimal.Decimal) error {
	s, ok := t.suppliers[id]
	if !ok {
		return parties.ErrNotFound
	}
	s.Balance, s.TotalPurchases = balance, totalPurchases
	return nil
}

func (t *fakeReconTx) InsertSupplierTransaction(_ context.Context, tx parties.SupplierTransaction) error {
	t.txs = append(t.txs, tx)
	return nil
}

func (t *fakeReconTx) IncrementLocalProductSold(context.Context, uuid.UUID, int64) error { return nil }

func (t *fakeReconTx) GetLocalProduct(context.Context, uuid.UUID) (*parties.LocalProduct, error) {
	return nil, parties.ErrNotFound
}

func (t *fakeReconTx) GetInvoiceForUpdate(_ context.Context, id uuid.UUID) (*invoicing.Invoice, error) {
	inv, ok := t.invoices[id]
	if !ok {
		return nil, invoicing.ErrNotFound
	}
	return inv, nil
}

func (t *fakeReconTx) UpdateInvoice(_ context.Context, inv invoicing.Invoice) error {
	t.invoices[inv.ID] = &inv
	return nil
}

func (t *fakeReconTx) InsertPayment(_ context.Context, p invoicing.Payment) error {
	t.payments = append(t.payments, p)
	return nil
}

var errDown = errors.New("records table unavailable")

type noopAudit struct{}

func (noopAudit) Record(context.Context, shared.AuditLog) error { return nil }

func newTestService(invoices *fakeInvoices, dir *fakeParties, recon *fakeRecon) *Service {
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	return NewService(invoices, dir, recon, noopAudit{}, logger)
}

func TestSettleOldestFirst(t *testing.T) {
	ctx := context.Background()
	customerID := uuid.New()
	invoices := newFakeInvoices()
	day1 := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	first := invoices.add(customerID, "INV-000001", "100", day1)
	second := invoices.add(customerID, "INV-000002", "50", day1.AddDate(0, 0, 1))

	svc := newTestService(invoices, &fakeParties{}, &fakeRecon{})

	result, err := svc.Settle(ctx, customerID, dec("120"), invoicing.MethodCash, "owner")
	require.NoError(t, err)

	require.True(t, dec("120").Equal(result.Distributed))
	require.True(t, result.Remainder.IsZero())
	require.Len(t, result.PaidInvoices, 2)
	require.Equal(t, first, result.PaidInvoices[0].InvoiceID)
	require.True(t, dec("100").Equal(result.PaidInvoices[0].Applied))
	require.True(t, result.PaidInvoices[0].Remaining.IsZero())
	require.Equal(t, second, result.PaidInvoices[1].InvoiceID)
	require.True(t, dec("20").Equal(result.PaidInvoices[1].Applied))
	require.True(t, dec("30").Equal(result.PaidInvoices[1].Remaining))
	require.True(t, dec("30").Equal(invoices.invoices[second].Remaining()))
}

func TestSettleReportsRemainder(t *testing.T) {
	ctx := context.Background()
	customerID := uuid.New()
	invoices := newFakeInvoices()
	invoices.add(customerID, "INV-000001", "100", time.Now())

	svc := newTestService(invoices, &fakeParties{}, &fakeRecon{})

	result, err := svc.Settle(ctx, customerID, dec("150"), invoicing.MethodCash, "owner")
	require.NoError(t, err)
	require.True(t, dec("100").Equal(result.Distributed))
	require.True(t, dec("50").Equal(result.Remainder))
}

func TestSettleTieBreaksByNumber(t *testing.T) {
	ctx := context.Background()
	customerID := uuid.New()
	invoices := newFakeInvoices()
	sameMoment := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	second := invoices.add(customerID, "INV-000002", "50", sameMoment)
	first := invoices.add(customerID, "INV-000001", "50", sameMoment)

	svc := newTestService(invoices, &fakeParties{}, &fakeRecon{})

	result, err := svc.Settle(ctx, customerID, dec("60"), invoicing.MethodCash, "owner")
	require.NoError(t, err)
	require.Equal(t, first, result.PaidInvoices[0].InvoiceID)
	require.Equal(t, second, result.PaidInvoices[1].InvoiceID)
	require.True(t, dec("10").Equal(result.PaidInvoices[1].Applied))
}

func TestSettleRejectsNonPositiveAmount(t *testing.T) {
	svc := newTestService(newFakeInvoices(), &fakeParties{}, &fakeRecon{})
	_, err := svc.Settle(context.Background(), uuid.New(), dec("0"), invoicing.MethodCash, "owner")
	require.ErrorIs(t, err, ErrInvalidAmount)
}

func reconcileFixture(supplierBalance string, invoiceTotals []string) (*Service, uuid.UUID, *fakeInvoices, *fakeParties, *fakeRecon) {
	customerID := uuid.New()
	supplierID := uuid.New()
	dir := &fakeParties{
		customers: map[uuid.UUID]*parties.Customer{
			customerID: {ID: customerID, Name: "seal works", LinkedSupplierID: &supplierID},
		},
		suppliers: map[uuid.UUID]*parties.Supplier{
			supplierID: {ID: supplierID, Name: "seal works", Balance: dec(supplierBalance)},
		},
	}
	invoices := newFakeInvoices()
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	for i, total := range invoiceTotals {
		invoices.add(customerID, invoicing.FormatNumber(int64(i+1)), total, base.AddDate(0, 0, i))
	}
	recon := &fakeRecon{dir: dir, inv: invoices}
	return newTestService(invoices, dir, recon), customerID, invoices, dir, recon
}

func TestReconcileBoundedBySupplierBalance(t *testing.T) {
	ctx := context.Background()
	svc, customerID, invoices, dir, recon := reconcileFixture("300", []string{"200", "300"})

	result, err := svc.Reconcile(ctx, customerID, "owner")
	require.NoError(t, err)

	// min(supplier 300, debt 500) = 300
	require.True(t, dec("300").Equal(result.Record.Amount))
	require.True(t, dec("300").Equal(result.Record.SupplierBefore))
	require.True(t, result.Record.SupplierAfter.IsZero())
	require.True(t, dec("500").Equal(result.Record.DebtBefore))
	require.True(t, dec("200").Equal(result.Record.DebtAfter))

	debt, err := invoices.CustomerDebt(ctx, customerID)
	require.NoError(t, err)
	require.True(t, dec("200").Equal(debt))
	supplier := dir.suppliers[result.Record.SupplierID]
	require.True(t, supplier.Balance.IsZero())

	// netting is recorded, and no payment touched a cash account
	require.Len(t, recon.records, 1)
	require.NotEmpty(t, recon.payments)
	for _, p := range recon.payments {
		require.Equal(t, invoicing.MethodReconciliation, p.Method)
	}
	require.Len(t, recon.txs, 1)
	require.Equal(t, parties.SupplierTxReconciliation, recon.txs[0].Type)
}

func TestReconcileFailureLeavesEverythingUntouched(t *testing.T) {
	ctx := context.Background()
	svc, customerID, invoices, dir, recon := reconcileFixture("300", []string{"200", "300"})
	recon.failRecord = true

	_, err := svc.Reconcile(ctx, customerID, "owner")
	require.ErrorIs(t, err, errDown)

	// the staged allocation and supplier decrement rolled back with it
	debt, err := invoices.CustomerDebt(ctx, customerID)
	require.NoError(t, err)
	require.True(t, dec("500").Equal(debt))
	for _, s := range dir.suppliers {
		require.True(t, dec("300").Equal(s.Balance))
	}
	require.Empty(t, recon.records)
	require.Empty(t, recon.txs)
	require.Empty(t, recon.payments)
}

func TestSettleRejectsReservedMethod(t *testing.T) {
	ctx := context.Background()
	customerID := uuid.New()
	invoices := newFakeInvoices()
	invoices.add(customerID, "INV-000001", "100", time.Now())

	svc := newTestService(invoices, &fakeParties{}, &fakeRecon{})

	for _, method := range []invoicing.PaymentMethod{invoicing.MethodReconciliation, invoicing.MethodDeferred} {
		_, err := svc.Settle(ctx, customerID, dec("50"), method, "owner")
		require.ErrorIs(t, err, invoicing.ErrUnknownMethod)
	}
	require.Empty(t, invoices.payments)
}

func TestReconcileNothingToDo(t *testing.T) {
	ctx := context.Background()
	svc, customerID, _, dir, _ := reconcileFixture("300", nil)

	_, err := svc.Reconcile(ctx, customerID, "owner")
	require.ErrorIs(t, err, ErrNothingToReconcile)

	for _, s := range dir.suppliers {
		require.True(t, dec("300").Equal(s.Balance))
	}
}

func TestReconcileRequiresLinkedSupplier(t *testing.T) {
	ctx := context.Background()
	customerID := uuid.New()
	dir := &fakeParties{
		customers: map[uuid.UUID]*parties.Customer{
			customerID: {ID: customerID, Name: "unlinked"},
		},
	}
	svc := newTestService(newFakeInvoices(), dir, &fakeRecon{dir: dir})

	_, err := svc.Reconcile(ctx, customerID, "owner")
	require.ErrorIs(t, err, parties.ErrNotLinked)
}
