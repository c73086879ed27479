package invoicing

import (
	"context"
	"log/slog"
	"os"
	"sort"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/sealforge-erp/sealforge-erp/internal/inventory"
	"github.com/sealforge-erp/sealforge-erp/internal/parties"
	"github.com/sealforge-erp/sealforge-erp/internal/shared"
	"github.com/sealforge-erp/sealforge-erp/internal/treasury"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

// memoryState holds every table the lifecycle touches. The fake runner
// stages a deep copy and commits it only when the callback succeeds, so
// rollback behaviour is observable in tests.
type memoryState struct {
	seq         int64
	invoices    map[uuid.UUID]Invoice
	archive     map[uuid.UUID]ArchivedInvoice
	payments    []Payment
	snapshots   map[uuid.UUID]Snapshot
	entries     []treasury.LedgerEntry
	lots        []inventory.RawMaterialLot
	movements   []inventory.Movement
	suppliers   map[uuid.UUID]parties.Supplier
	products    map[uuid.UUID]parties.LocalProduct
	supplierTxs []parties.SupplierTransaction
}

func newMemoryState() *memoryState {
	return &memoryState{
		invoices:  map[uuid.UUID]Invoice{},
		archive:   map[uuid.UUID]ArchivedInvoice{},
		snapshots: map[uuid.UUID]Snapshot{},
		suppliers: map[uuid.UUID]parties.Supplier{},
		products:  map[uuid.UUID]parties.LocalProduct{},
	}
}

func (s *memoryState) clone() *memoryState {
	c := &memoryState{
		seq:         s.seq,
		invoices:    make(map[uuid.UUID]Invoice, len(s.invoices)),
		archive:     make(map[uuid.UUID]ArchivedInvoice, len(s.archive)),
		payments:    append([]Payment(nil), s.payments...),
		snapshots:   make(map[uuid.UUID]Snapshot, len(s.snapshots)),
		entries:     append([]treasury.LedgerEntry(nil), s.entries...),
		lots:        append([]inventory.RawMaterialLot(nil), s.lots...),
		movements:   append([]inventory.Movement(nil), s.movements...),
		suppliers:   make(map[uuid.UUID]parties.Supplier, len(s.suppliers)),
		products:    make(map[uuid.UUID]parties.LocalProduct, len(s.products)),
		supplierTxs: append([]parties.SupplierTransaction(nil), s.supplierTxs...),
	}
	for k, v := range s.invoices {
		c.invoices[k] = v
	}
	for k, v := range s.archive {
		c.archive[k] = v
	}
	for k, v := range s.snapshots {
		c.snapshots[k] = v
	}
	for k, v := range s.suppliers {
		c.suppliers[k] = v
	}
	for k, v := range s.products {
		c.products[k] = v
	}
	return c
}

type memoryRepo struct {
	state *memoryState
}

func (r *memoryRepo) WithLifecycleTx(ctx context.Context, fn func(ctx context.Context, tx LifecycleTx) error) error {
	staged := r.state.clone()
	mt := &memTx{state: staged}
	if err := fn(ctx, LifecycleTx{Invoices: mt, Ledger: mt, Stock: mt, Parties: mt}); err != nil {
		return err
	}
	r.state = staged
	return nil
}

func (r *memoryRepo) GetInvoice(_ context.Context, id uuid.UUID) (*Invoice, error) {
	inv, ok := r.state.invoices[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &inv, nil
}

func (r *memoryRepo) ListInvoices(_ context.Context, filter InvoiceFilter) ([]Invoice, error) {
	var out []Invoice
	for _, inv := range r.state.invoices {
		if filter.CustomerID != nil && inv.CustomerID != *filter.CustomerID {
			continue
		}
		if filter.Status != "" && inv.Status != filter.Status {
			continue
		}
		if filter.Method != "" && inv.Method != filter.Method {
			continue
		}
		out = append(out, inv)
	}
	return out, nil
}

func (r *memoryRepo) ListOpenDeferred(_ context.Context, customerID uuid.UUID) ([]Invoice, error) {
	var out []Invoice
	for _, inv := range r.state.invoices {
		if inv.CustomerID == customerID && inv.Method == MethodDeferred && inv.Paid.LessThan(inv.Total) {
			out = append(out, inv)
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

func (r *memoryRepo) CustomerDebt(_ context.Context, customerID uuid.UUID) (decimal.Decimal, error) {
	debt := decimal.Zero
	for _, inv := range r.state.invoices {
		if inv.CustomerID == customerID && inv.Method == MethodDeferred && inv.Paid.LessThan(inv.Total) {
			debt = debt.Add(inv.Remaining())
		}
	}
	return debt, nil
}

func (r *memoryRepo) GetArchived(_ context.Context, id uuid.UUID) (*ArchivedInvoice, error) {
	arch, ok := r.state.archive[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &arch, nil
}

func (r *memoryRepo) ListArchived(_ context.Context) ([]ArchivedInvoice, error) {
	var out []ArchivedInvoice
	for _, arch := range r.state.archive {
		out = append(out, arch)
	}
	return out, nil
}

func (r *memoryRepo) ListPayments(_ context.Context, invoiceID uuid.UUID) ([]Payment, error) {
	var out []Payment
	for _, p := range r.state.payments {
		if p.InvoiceID == invoiceID {
			out = append(out, p)
		}
	}
	return out, nil
}

func (r *memoryRepo) ListSnapshots(_ context.Context, invoiceID uuid.UUID) ([]Snapshot, error) {
	var out []Snapshot
	for _, s := range r.state.snapshots {
		if s.InvoiceID == invoiceID {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

// memTx implements all four transactional views over the staged state.
type memTx struct {
	state *memoryState
}

func (t *memTx) NextNumber(context.Context) (int64, error) {
	t.state.seq++
	return t.state.seq, nil
}

func (t *memTx) InsertInvoice(_ context.Context, inv Invoice) error {
	t.state.invoices[inv.ID] = inv
	return nil
}

func (t *memTx) GetInvoiceForUpdate(_ context.Context, id uuid.UUID) (*Invoice, error) {
	inv, ok := t.state.invoices[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &inv, nil
}

func (t *memTx) UpdateInvoice(_ context.Context, inv Invoice) error {
	if _, ok := t.state.invoices[inv.ID]; !ok {
		return ErrNotFound
	}
	t.state.invoices[inv.ID] = inv
	return nil
}

func (t *memTx) DeleteInvoice(_ context.Context, id uuid.UUID) error {
	if _, ok := t.state.invoices[id]; !ok {
		return ErrNotFound
	}
	delete(t.state.invoices, id)
	return nil
}

func (t *memTx) InsertArchived(_ context.Context, arch ArchivedInvoice) error {
	t.state.archive[arch.ID] = arch
	return nil
}

func (t *memTx) GetArchivedForUpdate(_ context.Context, id uuid.UUID) (*ArchivedInvoice, error) {
	arch, ok := t.state.archive[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &arch, nil
}

func (t *memTx) DeleteArchived(_ context.Context, id uuid.UUID) error {
	if _, ok := t.state.archive[id]; !ok {
		return ErrNotFound
	}
	delete(t.state.archive, id)
	return nil
}

func (t *memTx) InsertPayment(_ context.Context, p Payment) error {
	t.state.payments = append(t.state.payments, p)
	return nil
}

func (t *memTx) InsertSnapshot(_ context.Context, s Snapshot) error {
	t.state.snapshots[s.ID] = s
	return nil
}

func (t *memTx) GetSnapshot(_ context.Context, id uuid.UUID) (*Snapshot, error) {
	s, ok := t.state.snapshots[id]
	if !ok {
		return nil, ErrSnapshotNotFound
	}
	return &s, nil
}

func (t *memTx) InsertEntry(_ context.Context, entry treasury.LedgerEntry) error {
	t.state.entries = append(t.state.entries, entry)
	return nil
}

func (t *memTx) GetEntryForUpdate(_ context.Context, id uuid.UUID) (*treasury.LedgerEntry, error) {
	for i := range t.state.entries {
		if t.state.entries[i].ID == id {
			e := t.state.entries[i]
			return &e, nil
		}
	}
	return nil, treasury.ErrNotFound
}

func (t *memTx) MarkReversed(_ context.Context, id uuid.UUID) error {
	for i := range t.state.entries {
		if t.state.entries[i].ID == id {
			if t.state.entries[i].Reversed {
				return treasury.ErrAlreadyReversed
			}
			t.state.entries[i].Reversed = true
			return nil
		}
	}
	return treasury.ErrNotFound
}

func (t *memTx) AccountBalance(_ context.Context, account treasury.AccountID) (decimal.Decimal, error) {
	total := decimal.Zero
	for _, e := range t.state.entries {
		if e.AccountID == account {
			total = total.Add(e.Signed())
		}
	}
	return total, nil
}

func (t *memTx) UpdateCosmetic(_ context.Context, id uuid.UUID, description, reference *string) error {
	return nil
}

func (t *memTx) EntriesByInvoice(_ context.Context, invoiceID uuid.UUID) ([]treasury.LedgerEntry, error) {
	var out []treasury.LedgerEntry
	for _, e := range t.state.entries {
		if e.LinkedInvoiceID != nil && *e.LinkedInvoiceID == invoiceID && e.ReversalOf == nil {
			out = append(out, e)
		}
	}
	return out, nil
}

func (t *memTx) GetLotForUpdate(_ context.Context, unitCode string, innerD, outerD float64) (*inventory.RawMaterialLot, error) {
	for i := range t.state.lots {
		lot := t.state.lots[i]
		if lot.UnitCode == unitCode && lot.InnerDiameter == innerD && lot.OuterDiameter == outerD {
			return &lot, nil
		}
	}
	return nil, inventory.ErrLotNotFound
}

func (t *memTx) SetLotHeight(_ context.Context, lotID uuid.UUID, height decimal.Decimal) error {
	for i := range t.state.lots {
		if t.state.lots[i].ID == lotID {
			t.state.lots[i].HeightMM = height
			return nil
		}
	}
	return inventory.ErrLotNotFound
}

func (t *memTx) InsertMovement(_ context.Context, movement inventory.Movement) error {
	t.state.movements = append(t.state.movements, movement)
	return nil
}

func (t *memTx) GetSupplierForUpdate(_ context.Context, id uuid.UUID) (*parties.Supplier, error) {
	s, ok := t.state.suppliers[id]
	if !ok {
		return nil, parties.ErrNotFound
	}
	return &s, nil
}

func (t *memTx) SetSupplierBalance(_ context.Context, id uuid.UUID, balance, totalPurchases decimal.Decimal) error {
	s, ok := t.state.suppliers[id]
	if !ok {
		return parties.ErrNotFound
	}
	s.Balance, s.TotalPurchases = balance, totalPurchases
	t.state.suppliers[id] = s
	return nil
}

func (t *memTx) InsertSupplierTransaction(_ context.Context, tx parties.SupplierTransaction) error {
	t.state.supplierTxs = append(t.state.supplierTxs, tx)
	return nil
}

func (t *memTx) IncrementLocalProductSold(_ context.Context, productID uuid.UUID, count int64) error {
	p, ok := t.state.products[productID]
	if !ok {
		return parties.ErrNotFound
	}
	p.TotalSold += count
	t.state.products[productID] = p
	return nil
}

func (t *memTx) GetLocalProduct(_ context.Context, productID uuid.UUID) (*parties.LocalProduct, error) {
	p, ok := t.state.products[productID]
	if !ok {
		return nil, parties.ErrNotFound
	}
	return &p, nil
}

type fakeIdempotency struct {
	keys  map[string]bool
	bound map[string]uuid.UUID
}

func (f *fakeIdempotency) Reserve(_ context.Context, key, scope string) error {
	if f.keys[key] {
		return shared.ErrIdempotencyConflict
	}
	f.keys[key] = true
	return nil
}

func (f *fakeIdempotency) Bind(_ context.Context, key string, entityID uuid.UUID) error {
	if f.bound == nil {
		f.bound = map[string]uuid.UUID{}
	}
	f.bound[key] = entityID
	return nil
}

func (f *fakeIdempotency) Release(_ context.Context, key string) error {
	delete(f.keys, key)
	return nil
}

type noopLocks struct{}

func (noopLocks) Acquire(context.Context, string) (func(), error) { return func() {}, nil }

type noopAudit struct{}

func (noopAudit) Record(context.Context, shared.AuditLog) error { return nil }

type fakeGuard struct {
	password string
}

func (g fakeGuard) Verify(_ context.Context, scope, password, actor string) error {
	if password != g.password || actor == "" {
		return shared.ErrForbidden
	}
	return nil
}

type fixture struct {
	repo *memoryRepo
	idem *fakeIdempotency
	svc  *Service
}

func newFixture() *fixture {
	repo := &memoryRepo{state: newMemoryState()}
	idem := &fakeIdempotency{keys: map[string]bool{}}
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	svc := NewService(repo, idem, noopLocks{}, noopAudit{}, fakeGuard{password: "sesame"}, logger)
	return &fixture{repo: repo, idem: idem, svc: svc}
}

func (f *fixture) addLot(unitCode string, innerD, outerD float64, heightMM string) uuid.UUID {
	lot := inventory.RawMaterialLot{
		ID:            uuid.New(),
		UnitCode:      unitCode,
		InnerDiameter: innerD,
		OuterDiameter: outerD,
		HeightMM:      dec(heightMM),
	}
	f.repo.state.lots = append(f.repo.state.lots, lot)
	return lot.ID
}

func (f *fixture) lotHeight(id uuid.UUID) decimal.Decimal {
	for _, lot := range f.repo.state.lots {
		if lot.ID == id {
			return lot.HeightMM
		}
	}
	return decimal.NewFromInt(-1)
}

func (f *fixture) accountBalance(account treasury.AccountID) decimal.Decimal {
	total := decimal.Zero
	for _, e := range f.repo.state.entries {
		if e.AccountID == account {
			total = total.Add(e.Signed())
		}
	}
	return total
}

func manufacturedItem(unitCode string, innerD, outerD float64, height string, qty int64, price string) InvoiceItem {
	return InvoiceItem{
		Type:              ItemManufactured,
		Quantity:          qty,
		UnitPrice:         dec(price),
		SealInnerDiameter: innerD,
		SealOuterDiameter: outerD,
		SealHeightMM:      dec(height),
		Materials: []inventory.ConsumptionLine{{
			UnitCode:      unitCode,
			InnerDiameter: innerD,
			OuterDiameter: outerD,
			SealHeightMM:  dec(height),
			Count:         qty,
		}},
	}
}

func TestDeriveStatusIsPure(t *testing.T) {
	cases := []struct {
		name     string
		method   PaymentMethod
		executed bool
		paid     string
		total    string
		want     Status
	}{
		{"deferred unpaid", MethodDeferred, false, "0", "100", StatusUnpaid},
		{"deferred partial", MethodDeferred, false, "40", "100", StatusPartial},
		{"deferred paid", MethodDeferred, false, "100", "100", StatusPaid},
		{"cash paid", MethodCash, false, "100", "100", StatusPaid},
		{"courier waiting", MethodCourier, false, "100", "100", StatusWaiting},
		{"courier executed", MethodCourier, true, "100", "100", StatusExecuted},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := DeriveStatus(tc.method, tc.executed, dec(tc.paid), dec(tc.total))
			require.Equal(t, tc.want, got)
		})
	}
}

func TestApplyDiscountBounds(t *testing.T) {
	_, err := ApplyDiscount(dec("100"), DiscountFixed, dec("150"))
	require.ErrorIs(t, err, ErrInvalidDiscount)

	_, err = ApplyDiscount(dec("100"), DiscountPercentage, dec("101"))
	require.ErrorIs(t, err, ErrInvalidDiscount)

	total, err := ApplyDiscount(dec("200"), DiscountPercentage, dec("10"))
	require.NoError(t, err)
	require.True(t, dec("180").Equal(total))
}

func TestCreateImmediateInvoice(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	lotID := f.addLot("NBR-25-40", 25, 40, "100")

	inv, err := f.svc.Create(ctx, CreateInput{
		IdempotencyKey: uuid.NewString(),
		CustomerID:     uuid.New(),
		Items:          []InvoiceItem{manufacturedItem("NBR-25-40", 25, 40, "8", 5, "30")},
		Method:         MethodCash,
		Actor:          "owner",
	})
	require.NoError(t, err)

	require.Equal(t, "INV-000001", inv.Number)
	require.Equal(t, StatusPaid, inv.Status)
	require.True(t, dec("150").Equal(inv.Total))
	require.True(t, inv.Remaining().IsZero())
	// (8 + 2 waste) x 5 = 50mm cut
	require.True(t, dec("50").Equal(f.lotHeight(lotID)))
	require.True(t, dec("150").Equal(f.accountBalance(treasury.AccountCash)))
	require.NotNil(t, inv.LedgerEntryID)
}

func TestCreateDeferredInvoicePostsNoEntry(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	f.addLot("NBR-25-40", 25, 40, "100")

	inv, err := f.svc.Create(ctx, CreateInput{
		IdempotencyKey: uuid.NewString(),
		CustomerID:     uuid.New(),
		Items:          []InvoiceItem{manufacturedItem("NBR-25-40", 25, 40, "8", 2, "50")},
		Method:         MethodDeferred,
		Actor:          "owner",
	})
	require.NoError(t, err)

	require.Equal(t, StatusUnpaid, inv.Status)
	require.True(t, dec("100").Equal(inv.Remaining()))
	require.Empty(t, f.repo.state.entries)
	require.Nil(t, inv.LedgerEntryID)
}

func TestCreateInsufficientStockRollsBackEverything(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	lotID := f.addLot("NBR-25-40", 25, 40, "30")
	key := uuid.NewString()

	_, err := f.svc.Create(ctx, CreateInput{
		IdempotencyKey: key,
		CustomerID:     uuid.New(),
		Items:          []InvoiceItem{manufacturedItem("NBR-25-40", 25, 40, "8", 5, "30")},
		Method:         MethodCash,
		Actor:          "owner",
	})
	require.ErrorIs(t, err, inventory.ErrInsufficientStock)

	require.Empty(t, f.repo.state.invoices)
	require.Empty(t, f.repo.state.entries)
	require.True(t, dec("30").Equal(f.lotHeight(lotID)))
	// key released so the client may retry after fixing stock
	require.False(t, f.idem.keys[key])
}

func TestCreateDuplicateSubmitRejected(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	f.addLot("NBR-25-40", 25, 40, "500")
	key := uuid.NewString()

	input := CreateInput{
		IdempotencyKey: key,
		CustomerID:     uuid.New(),
		Items:          []InvoiceItem{manufacturedItem("NBR-25-40", 25, 40, "8", 1, "30")},
		Method:         MethodCash,
		Actor:          "owner",
	}
	inv, err := f.svc.Create(ctx, input)
	require.NoError(t, err)
	require.Equal(t, inv.ID, f.idem.bound[key])

	_, err = f.svc.Create(ctx, input)
	require.ErrorIs(t, err, ErrDuplicate)
	require.Len(t, f.repo.state.invoices, 1)
}

func TestCreateLocalProductBooksSupplierPurchase(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	supplierID := uuid.New()
	productID := uuid.New()
	f.repo.state.suppliers[supplierID] = parties.Supplier{ID: supplierID, Name: "rubber co", Balance: decimal.Zero, TotalPurchases: decimal.Zero}
	f.repo.state.products[productID] = parties.LocalProduct{ID: productID, SupplierID: supplierID, Name: "bearing seal", PurchasePrice: dec("10"), SellingPrice: dec("18")}

	inv, err := f.svc.Create(ctx, CreateInput{
		IdempotencyKey: uuid.NewString(),
		CustomerID:     uuid.New(),
		Items: []InvoiceItem{{
			Type: ItemLocal, Quantity: 3, UnitPrice: dec("18"), ProductID: &productID,
		}},
		Method: MethodCash,
		Actor:  "owner",
	})
	require.NoError(t, err)
	require.True(t, dec("54").Equal(inv.Total))

	supplier := f.repo.state.suppliers[supplierID]
	require.True(t, dec("30").Equal(supplier.Balance))
	require.Equal(t, int64(3), f.repo.state.products[productID].TotalSold)
	require.Len(t, f.repo.state.supplierTxs, 1)
	require.Equal(t, parties.SupplierTxPurchase, f.repo.state.supplierTxs[0].Type)
}

func TestRecordPaymentLifecycle(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	f.addLot("NBR-25-40", 25, 40, "500")

	inv, err := f.svc.Create(ctx, CreateInput{
		IdempotencyKey: uuid.NewString(),
		CustomerID:     uuid.New(),
		Items:          []InvoiceItem{manufacturedItem("NBR-25-40", 25, 40, "8", 2, "50")},
		Method:         MethodDeferred,
		Actor:          "owner",
	})
	require.NoError(t, err)

	_, err = f.svc.RecordPayment(ctx, PaymentInput{InvoiceID: inv.ID, Method: MethodWalletSawy, Amount: dec("40"), Actor: "owner"})
	require.NoError(t, err)

	got, err := f.svc.Get(ctx, inv.ID)
	require.NoError(t, err)
	require.Equal(t, StatusPartial, got.Status)
	require.True(t, dec("60").Equal(got.Remaining()))
	require.True(t, dec("40").Equal(f.accountBalance(treasury.AccountWalletSawy)))

	_, err = f.svc.RecordPayment(ctx, PaymentInput{InvoiceID: inv.ID, Method: MethodCash, Amount: dec("60"), Actor: "owner"})
	require.NoError(t, err)

	got, err = f.svc.Get(ctx, inv.ID)
	require.NoError(t, err)
	require.Equal(t, StatusPaid, got.Status)
	require.True(t, got.Remaining().IsZero())
}

func TestRecordPaymentOverpaymentRejected(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	f.addLot("NBR-25-40", 25, 40, "500")

	inv, err := f.svc.Create(ctx, CreateInput{
		IdempotencyKey: uuid.NewString(),
		CustomerID:     uuid.New(),
		Items:          []InvoiceItem{manufacturedItem("NBR-25-40", 25, 40, "8", 2, "50")},
		Method:         MethodDeferred,
		Actor:          "owner",
	})
	require.NoError(t, err)

	_, err = f.svc.RecordPayment(ctx, PaymentInput{InvoiceID: inv.ID, Method: MethodCash, Amount: dec("100.01"), Actor: "owner"})
	require.ErrorIs(t, err, ErrOverPayment)
	require.Empty(t, f.repo.state.entries)
}

func TestRecordPaymentRejectsNonLedgerMethods(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	f.addLot("NBR-25-40", 25, 40, "500")

	inv, err := f.svc.Create(ctx, CreateInput{
		IdempotencyKey: uuid.NewString(),
		CustomerID:     uuid.New(),
		Items:          []InvoiceItem{manufacturedItem("NBR-25-40", 25, 40, "8", 2, "50")},
		Method:         MethodDeferred,
		Actor:          "owner",
	})
	require.NoError(t, err)

	for _, method := range []PaymentMethod{MethodReconciliation, MethodDeferred} {
		_, err = f.svc.RecordPayment(ctx, PaymentInput{InvoiceID: inv.ID, Method: method, Amount: dec("100"), Actor: "owner"})
		require.ErrorIs(t, err, ErrUnknownMethod)
	}

	got, err := f.svc.Get(ctx, inv.ID)
	require.NoError(t, err)
	require.True(t, dec("100").Equal(got.Remaining()))
	require.Empty(t, f.repo.state.entries)
	require.Empty(t, f.repo.state.payments)
}

func TestCancelRoundTrip(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	lotID := f.addLot("NBR-25-40", 25, 40, "100")

	inv, err := f.svc.Create(ctx, CreateInput{
		IdempotencyKey: uuid.NewString(),
		CustomerID:     uuid.New(),
		Items:          []InvoiceItem{manufacturedItem("NBR-25-40", 25, 40, "8", 5, "30")},
		Method:         MethodCash,
		Actor:          "owner",
	})
	require.NoError(t, err)
	require.True(t, dec("50").Equal(f.lotHeight(lotID)))

	err = f.svc.Cancel(ctx, inv.ID, "wrong", "owner")
	require.ErrorIs(t, err, shared.ErrForbidden)

	err = f.svc.Cancel(ctx, inv.ID, "sesame", "owner")
	require.NoError(t, err)

	// stock back, cash netted to zero, record archived with a snapshot
	require.True(t, dec("100").Equal(f.lotHeight(lotID)))
	require.True(t, f.accountBalance(treasury.AccountCash).IsZero())
	_, err = f.svc.Get(ctx, inv.ID)
	require.ErrorIs(t, err, ErrNotFound)
	arch, err := f.repo.GetArchived(ctx, inv.ID)
	require.NoError(t, err)
	require.Equal(t, StatusCancelled, arch.Status)
	snaps, err := f.svc.History(ctx, inv.ID)
	require.NoError(t, err)
	require.Len(t, snaps, 1)
	require.Equal(t, SnapshotReasonCancel, snaps[0].Reason)

	err = f.svc.Cancel(ctx, inv.ID, "sesame", "owner")
	require.ErrorIs(t, err, ErrAlreadyCancelled)
}

func TestRestoreFromArchiveWarns(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	lotID := f.addLot("NBR-25-40", 25, 40, "100")

	inv, err := f.svc.Create(ctx, CreateInput{
		IdempotencyKey: uuid.NewString(),
		CustomerID:     uuid.New(),
		Items:          []InvoiceItem{manufacturedItem("NBR-25-40", 25, 40, "8", 5, "30")},
		Method:         MethodCash,
		Actor:          "owner",
	})
	require.NoError(t, err)
	require.NoError(t, f.svc.Cancel(ctx, inv.ID, "sesame", "owner"))

	restored, warning, err := f.svc.Restore(ctx, inv.ID, "sesame", "owner")
	require.NoError(t, err)
	require.Equal(t, RestoreWarning, warning)
	require.Equal(t, StatusPaid, restored.Status)

	// deliberately untouched: no material re-cut, no fresh ledger entry
	require.True(t, dec("100").Equal(f.lotHeight(lotID)))
	require.True(t, f.accountBalance(treasury.AccountCash).IsZero())

	_, _, err = f.svc.Restore(ctx, inv.ID, "sesame", "owner")
	require.ErrorIs(t, err, ErrNotCancelled)
}

func TestChangeMethodPartiallyPaidRejected(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	f.addLot("NBR-25-40", 25, 40, "500")

	inv, err := f.svc.Create(ctx, CreateInput{
		IdempotencyKey: uuid.NewString(),
		CustomerID:     uuid.New(),
		Items:          []InvoiceItem{manufacturedItem("NBR-25-40", 25, 40, "8", 2, "50")},
		Method:         MethodDeferred,
		Actor:          "owner",
	})
	require.NoError(t, err)
	_, err = f.svc.RecordPayment(ctx, PaymentInput{InvoiceID: inv.ID, Method: MethodCash, Amount: dec("40"), Actor: "owner"})
	require.NoError(t, err)

	err = f.svc.ChangePaymentMethod(ctx, inv.ID, MethodCash, "sesame", "owner")
	require.ErrorIs(t, err, ErrPartiallyPaid)
}

func TestChangeMethodDeferredToCash(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	f.addLot("NBR-25-40", 25, 40, "500")

	inv, err := f.svc.Create(ctx, CreateInput{
		IdempotencyKey: uuid.NewString(),
		CustomerID:     uuid.New(),
		Items:          []InvoiceItem{manufacturedItem("NBR-25-40", 25, 40, "8", 2, "50")},
		Method:         MethodDeferred,
		Actor:          "owner",
	})
	require.NoError(t, err)

	err = f.svc.ChangePaymentMethod(ctx, inv.ID, MethodCash, "sesame", "owner")
	require.NoError(t, err)

	got, err := f.svc.Get(ctx, inv.ID)
	require.NoError(t, err)
	require.Equal(t, MethodCash, got.Method)
	require.Equal(t, StatusPaid, got.Status)
	require.True(t, dec("100").Equal(f.accountBalance(treasury.AccountCash)))
}

func TestChangeMethodCashToDeferredReversesEntry(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	f.addLot("NBR-25-40", 25, 40, "500")

	inv, err := f.svc.Create(ctx, CreateInput{
		IdempotencyKey: uuid.NewString(),
		CustomerID:     uuid.New(),
		Items:          []InvoiceItem{manufacturedItem("NBR-25-40", 25, 40, "8", 2, "50")},
		Method:         MethodCash,
		Actor:          "owner",
	})
	require.NoError(t, err)
	require.True(t, dec("100").Equal(f.accountBalance(treasury.AccountCash)))

	err = f.svc.ChangePaymentMethod(ctx, inv.ID, MethodDeferred, "sesame", "owner")
	require.NoError(t, err)

	got, err := f.svc.Get(ctx, inv.ID)
	require.NoError(t, err)
	require.Equal(t, StatusUnpaid, got.Status)
	require.True(t, dec("100").Equal(got.Remaining()))
	require.True(t, f.accountBalance(treasury.AccountCash).IsZero())
}

func TestUpdatePostsCompensatingAdjustment(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	f.addLot("NBR-25-40", 25, 40, "500")

	inv, err := f.svc.Create(ctx, CreateInput{
		IdempotencyKey: uuid.NewString(),
		CustomerID:     uuid.New(),
		Items:          []InvoiceItem{manufacturedItem("NBR-25-40", 25, 40, "8", 2, "50")},
		Method:         MethodCash,
		Actor:          "owner",
	})
	require.NoError(t, err)

	updated, err := f.svc.Update(ctx, UpdateInput{
		ID:       inv.ID,
		Items:    []InvoiceItem{manufacturedItem("NBR-25-40", 25, 40, "8", 2, "40")},
		Password: "sesame",
		Actor:    "owner",
	})
	require.NoError(t, err)
	require.True(t, dec("80").Equal(updated.Total))
	// original 100 income + 20 expense adjustment
	require.True(t, dec("80").Equal(f.accountBalance(treasury.AccountCash)))

	snaps, err := f.svc.History(ctx, inv.ID)
	require.NoError(t, err)
	require.Len(t, snaps, 1)
	require.Equal(t, SnapshotReasonEdit, snaps[0].Reason)
}

func TestRevertRestoresSnapshotState(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	f.addLot("NBR-25-40", 25, 40, "500")

	inv, err := f.svc.Create(ctx, CreateInput{
		IdempotencyKey: uuid.NewString(),
		CustomerID:     uuid.New(),
		Items:          []InvoiceItem{manufacturedItem("NBR-25-40", 25, 40, "8", 2, "50")},
		Method:         MethodCash,
		Actor:          "owner",
	})
	require.NoError(t, err)

	_, err = f.svc.Update(ctx, UpdateInput{
		ID:       inv.ID,
		Items:    []InvoiceItem{manufacturedItem("NBR-25-40", 25, 40, "8", 2, "40")},
		Password: "sesame",
		Actor:    "owner",
	})
	require.NoError(t, err)

	snaps, err := f.svc.History(ctx, inv.ID)
	require.NoError(t, err)
	require.Len(t, snaps, 1)

	restored, err := f.svc.Revert(ctx, inv.ID, snaps[0].ID, "sesame", "owner")
	require.NoError(t, err)
	require.True(t, dec("100").Equal(restored.Total))
	// 100 - 20 + 20: adjustments net back to the original figure
	require.True(t, dec("100").Equal(f.accountBalance(treasury.AccountCash)))

	snaps, err = f.svc.History(ctx, inv.ID)
	require.NoError(t, err)
	require.Len(t, snaps, 2)
}

func TestRevertAcrossMethodChangeRejected(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	f.addLot("NBR-25-40", 25, 40, "500")

	inv, err := f.svc.Create(ctx, CreateInput{
		IdempotencyKey: uuid.NewString(),
		CustomerID:     uuid.New(),
		Items:          []InvoiceItem{manufacturedItem("NBR-25-40", 25, 40, "8", 2, "50")},
		Method:         MethodCash,
		Actor:          "owner",
	})
	require.NoError(t, err)

	// snapshot taken while the invoice was still cash
	_, err = f.svc.Update(ctx, UpdateInput{
		ID:       inv.ID,
		Items:    []InvoiceItem{manufacturedItem("NBR-25-40", 25, 40, "8", 2, "40")},
		Password: "sesame",
		Actor:    "owner",
	})
	require.NoError(t, err)

	require.NoError(t, f.svc.ChangePaymentMethod(ctx, inv.ID, MethodDeferred, "sesame", "owner"))

	snaps, err := f.svc.History(ctx, inv.ID)
	require.NoError(t, err)

	before := f.accountBalance(treasury.AccountCash)
	_, err = f.svc.Revert(ctx, inv.ID, snaps[len(snaps)-1].ID, "sesame", "owner")
	require.ErrorIs(t, err, ErrMethodMismatch)
	require.True(t, before.Equal(f.accountBalance(treasury.AccountCash)))

	got, err := f.svc.Get(ctx, inv.ID)
	require.NoError(t, err)
	require.Equal(t, MethodDeferred, got.Method)
}
