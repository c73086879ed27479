package treasury

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// AccountID identifies one of the fixed monetary accounts.
type AccountID string

const (
	AccountCash       AccountID = "cash"
	AccountWalletSawy AccountID = "wallet_sawy"
	AccountWalletWael AccountID = "wallet_wael"
	AccountInstapay   AccountID = "instapay"
	AccountCourier    AccountID = "courier"
	AccountDeferred   AccountID = "deferred"
	AccountVault      AccountID = "vault"
)

// Account models one payment channel or vault. Balance is always derived
// from ledger entries, never stored on the account itself.
type Account struct {
	ID   AccountID `json:"id"`
	Name string    `json:"name"`
}

// Registry exposes the closed set of accounts.
type Registry struct {
	accounts []Account
	index    map[AccountID]Account
}

// NewRegistry builds the registry with the fixed account set.
func NewRegistry() *Registry {
	accounts := []Account{
		{ID: AccountCash, Name: "Cash"},
		{ID: AccountWalletSawy, Name: "Wallet 010"},
		{ID: AccountWalletWael, Name: "Wallet 0100"},
		{ID: AccountInstapay, Name: "Instapay"},
		{ID: AccountCourier, Name: "Courier"},
		{ID: AccountDeferred, Name: "Deferred"},
		{ID: AccountVault, Name: "Main Vault"},
	}
	index := make(map[AccountID]Account, len(accounts))
	for _, a := range accounts {
		index[a.ID] = a
	}
	return &Registry{accounts: accounts, index: index}
}

// All returns every account in registry order.
func (r *Registry) All() []Account {
	out := make([]Account, len(r.accounts))
	copy(out, r.accounts)
	return out
}

// Lookup resolves an account by id.
func (r *Registry) Lookup(id AccountID) (Account, bool) {
	a, ok := r.index[id]
	return a, ok
}

// EntryKind enumerates signed entry kinds.
type EntryKind string

const (
	KindIncome      EntryKind = "income"
	KindExpense     EntryKind = "expense"
	KindTransferIn  EntryKind = "transfer_in"
	KindTransferOut EntryKind = "transfer_out"
)

// Sign reports +1 for credits and -1 for debits.
func (k EntryKind) Sign() int {
	switch k {
	case KindIncome, KindTransferIn:
		return 1
	default:
		return -1
	}
}

// Opposite returns the compensating kind used by reversals.
func (k EntryKind) Opposite() EntryKind {
	switch k {
	case KindIncome:
		return KindExpense
	case KindExpense:
		return KindIncome
	case KindTransferIn:
		return KindTransferOut
	default:
		return KindTransferIn
	}
}

func (k EntryKind) valid() bool {
	switch k {
	case KindIncome, KindExpense, KindTransferIn, KindTransferOut:
		return true
	}
	return false
}

// LedgerEntry is an immutable signed monetary record posted to one account.
// Amount never changes after posting; reversal appends a counter-entry.
type LedgerEntry struct {
	ID              uuid.UUID       `json:"id"`
	AccountID       AccountID       `json:"account_id"`
	Kind            EntryKind       `json:"kind"`
	Amount          decimal.Decimal `json:"amount"`
	Description     string          `json:"description"`
	Reference       string          `json:"reference"`
	LinkedInvoiceID *uuid.UUID      `json:"linked_invoice_id,omitempty"`
	Reversed        bool            `json:"reversed"`
	ReversalOf      *uuid.UUID      `json:"reversal_of,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
}

// Signed returns the entry's contribution to its account balance.
func (e LedgerEntry) Signed() decimal.Decimal {
	if e.Kind.Sign() > 0 {
		return e.Amount
	}
	return e.Amount.Neg()
}

var (
	// ErrInvalidAmount indicates a non-positive amount.
	ErrInvalidAmount = errors.New("treasury: amount must be positive")
	// ErrUnknownAccount indicates an account id outside the registry.
	ErrUnknownAccount = errors.New("treasury: unknown account")
	// ErrInsufficientFunds indicates the source balance cannot cover a transfer.
	ErrInsufficientFunds = errors.New("treasury: insufficient funds")
	// ErrAlreadyReversed indicates the entry already has a counter-entry.
	ErrAlreadyReversed = errors.New("treasury: entry already reversed")
	// ErrNotFound indicates a missing ledger entry.
	ErrNotFound = errors.New("treasury: entry not found")
	// ErrSameAccount indicates a transfer between identical accounts.
	ErrSameAccount = errors.New("treasury: transfer requires two distinct accounts")
)

// NewEntry validates and builds a ledger entry ready for insertion.
func NewEntry(account AccountID, kind EntryKind, amount decimal.Decimal, description, reference string, linkedInvoice *uuid.UUID) (LedgerEntry, error) {
	if !kind.valid() {
		return LedgerEntry{}, errors.New("treasury: invalid entry kind")
	}
	if amount.LessThanOrEqual(decimal.Zero) {
		return LedgerEntry{}, ErrInvalidAmount
	}
	return LedgerEntry{
		ID:              uuid.New(),
		AccountID:       account,
		Kind:            kind,
		Amount:          amount,
		Description:     description,
		Reference:       reference,
		LinkedInvoiceID: linkedInvoice,
		CreatedAt:       time.Now(),
	}, nil
}

// EntryFilter narrows ledger listings.
type EntryFilter struct {
	AccountID AccountID
	Reference string
	Limit     int
}

// PostInput groups fields for posting a manual entry.
type PostInput struct {
	AccountID       AccountID
	Kind            EntryKind
	Amount          decimal.Decimal
	Description     string
	Reference       string
	LinkedInvoiceID *uuid.UUID
}

// TransferInput groups fields for a paired transfer. Password is only
// consulted when the vault is one of the two accounts.
type TransferInput struct {
	From     AccountID
	To       AccountID
	Amount   decimal.Decimal
	Notes    string
	Actor    string
	Password string
}
