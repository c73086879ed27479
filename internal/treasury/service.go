package treasury

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/sealforge-erp/sealforge-erp/internal/shared"
)

// RepositoryPort abstracts persistence for the service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetEntry(ctx context.Context, id uuid.UUID) (*LedgerEntry, error)
	ListEntries(ctx context.Context, filter EntryFilter) ([]LedgerEntry, error)
	Balance(ctx context.Context, account AccountID) (decimal.Decimal, error)
	Balances(ctx context.Context) (map[AccountID]decimal.Decimal, error)
}

// LockPort abstracts the per-resource mutual exclusion discipline.
type LockPort interface {
	Acquire(ctx context.Context, key string) (func(), error)
	AcquireOrdered(ctx context.Context, keys ...string) (func(), error)
}

// AuditPort abstracts audit logging.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// ApprovalPort verifies privileged confirmation.
type ApprovalPort interface {
	Verify(ctx context.Context, scope, password, actor string) error
}

// Service coordinates ledger operations. Every balance read-modify-write
// holds the touched accounts' locks; the funds check runs inside the same
// transaction as the mutation.
type Service struct {
	repo     RepositoryPort
	registry *Registry
	locks    LockPort
	audit    AuditPort
	guard    ApprovalPort
	logger   *slog.Logger
}

// NewService builds Service.
func NewService(repo RepositoryPort, registry *Registry, locks LockPort, audit AuditPort, guard ApprovalPort, logger *slog.Logger) *Service {
	return &Service{repo: repo, registry: registry, locks: locks, audit: audit, guard: guard, logger: logger}
}

// Registry returns the account registry.
func (s *Service) Registry() *Registry {
	return s.registry
}

// Post appends one entry and returns its id.
func (s *Service) Post(ctx context.Context, input PostInput) (uuid.UUID, error) {
	if _, ok := s.registry.Lookup(input.AccountID); !ok {
		return uuid.Nil, fmt.Errorf("%w: %s", ErrUnknownAccount, input.AccountID)
	}
	entry, err := NewEntry(input.AccountID, input.Kind, input.Amount, input.Description, input.Reference, input.LinkedInvoiceID)
	if err != nil {
		return uuid.Nil, err
	}

	release, err := s.locks.Acquire(ctx, shared.AccountLockKey(string(input.AccountID)))
	if err != nil {
		return uuid.Nil, err
	}
	defer release()

	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		return tx.InsertEntry(ctx, entry)
	})
	if err != nil {
		return uuid.Nil, err
	}
	return entry.ID, nil
}

// Transfer moves funds between two accounts as a paired debit/credit.
// Both entries commit together or not at all.
func (s *Service) Transfer(ctx context.Context, input TransferInput) (uuid.UUID, uuid.UUID, error) {
	if input.From == input.To {
		return uuid.Nil, uuid.Nil, ErrSameAccount
	}
	for _, id := range []AccountID{input.From, input.To} {
		if _, ok := s.registry.Lookup(id); !ok {
			return uuid.Nil, uuid.Nil, fmt.Errorf("%w: %s", ErrUnknownAccount, id)
		}
	}
	if input.Amount.LessThanOrEqual(decimal.Zero) {
		return uuid.Nil, uuid.Nil, ErrInvalidAmount
	}
	if input.From == AccountVault || input.To == AccountVault {
		if err := s.guard.Verify(ctx, shared.ScopeVault, input.Password, input.Actor); err != nil {
			return uuid.Nil, uuid.Nil, err
		}
	}

	pairRef := fmt.Sprintf("transfer:%s", uuid.New())
	debit, err := NewEntry(input.From, KindTransferOut, input.Amount, input.Notes, pairRef, nil)
	if err != nil {
		return uuid.Nil, uuid.Nil, err
	}
	credit, err := NewEntry(input.To, KindTransferIn, input.Amount, input.Notes, pairRef, nil)
	if err != nil {
		return uuid.Nil, uuid.Nil, err
	}

	release, err := s.locks.AcquireOrdered(ctx,
		shared.AccountLockKey(string(input.From)),
		shared.AccountLockKey(string(input.To)))
	if err != nil {
		return uuid.Nil, uuid.Nil, err
	}
	defer release()

	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		balance, err := tx.AccountBalance(ctx, input.From)
		if err != nil {
			return err
		}
		if balance.LessThan(input.Amount) {
			return fmt.Errorf("%w: %s has %s, need %s", ErrInsufficientFunds, input.From, balance, input.Amount)
		}
		if err := tx.InsertEntry(ctx, debit); err != nil {
			return err
		}
		return tx.InsertEntry(ctx, credit)
	})
	if err != nil {
		return uuid.Nil, uuid.Nil, err
	}

	if s.audit != nil {
		_ = s.audit.Record(ctx, shared.AuditLog{
			Actor:    input.Actor,
			Action:   "treasury.transfer",
			Entity:   "ledger_entry",
			EntityID: debit.ID.String(),
			Meta:     map[string]any{"from": input.From, "to": input.To, "amount": input.Amount.String()},
		})
	}
	return debit.ID, credit.ID, nil
}

// Reverse appends an equal-and-opposite counter-entry and stamps the
// original as reversed. The original is never mutated beyond the stamp.
func (s *Service) Reverse(ctx context.Context, entryID uuid.UUID, actor string) (uuid.UUID, error) {
	existing, err := s.repo.GetEntry(ctx, entryID)
	if err != nil {
		return uuid.Nil, err
	}

	release, err := s.locks.Acquire(ctx, shared.AccountLockKey(string(existing.AccountID)))
	if err != nil {
		return uuid.Nil, err
	}
	defer release()

	var counterID uuid.UUID
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		id, err := ReverseInTx(ctx, tx, entryID, actor)
		if err != nil {
			return err
		}
		counterID = id
		return nil
	})
	if err != nil {
		return uuid.Nil, err
	}

	if s.audit != nil {
		_ = s.audit.Record(ctx, shared.AuditLog{
			Actor:    actor,
			Action:   "treasury.reverse",
			Entity:   "ledger_entry",
			EntityID: entryID.String(),
			Meta:     map[string]any{"counter_entry": counterID.String()},
		})
	}
	return counterID, nil
}

// ReverseInTx performs the reversal inside an already-open transaction. It
// is reused by modules that reverse ledger effects as one step of a larger
// all-or-nothing operation (invoice cancel, payment-method change).
func ReverseInTx(ctx context.Context, tx TxRepository, entryID uuid.UUID, actor string) (uuid.UUID, error) {
	entry, err := tx.GetEntryForUpdate(ctx, entryID)
	if err != nil {
		return uuid.Nil, err
	}
	if entry.Reversed {
		return uuid.Nil, ErrAlreadyReversed
	}

	counter, err := NewEntry(entry.AccountID, entry.Kind.Opposite(), entry.Amount,
		fmt.Sprintf("reversal of %s", entry.Description),
		fmt.Sprintf("reversal:%s", entry.ID), entry.LinkedInvoiceID)
	if err != nil {
		return uuid.Nil, err
	}
	counter.ReversalOf = &entry.ID

	if err := tx.MarkReversed(ctx, entry.ID); err != nil {
		return uuid.Nil, err
	}
	if err := tx.InsertEntry(ctx, counter); err != nil {
		return uuid.Nil, err
	}
	return counter.ID, nil
}

// EditCosmetic changes description/reference of a posted entry. The amount
// is immutable; only the approval-holding actor may edit.
func (s *Service) EditCosmetic(ctx context.Context, entryID uuid.UUID, description, reference *string, actor, password string) error {
	if err := s.guard.Verify(ctx, shared.ScopeLedgerEdits, password, actor); err != nil {
		return err
	}
	if description == nil && reference == nil {
		return fmt.Errorf("%w: nothing to edit", shared.ErrValidation)
	}

	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		return tx.UpdateCosmetic(ctx, entryID, description, reference)
	})
	if err != nil {
		return err
	}

	if s.audit != nil {
		_ = s.audit.Record(ctx, shared.AuditLog{
			Actor:    actor,
			Action:   "treasury.edit_cosmetic",
			Entity:   "ledger_entry",
			EntityID: entryID.String(),
		})
	}
	return nil
}

// Balance returns one derived account balance.
func (s *Service) Balance(ctx context.Context, account AccountID) (decimal.Decimal, error) {
	if _, ok := s.registry.Lookup(account); !ok {
		return decimal.Zero, fmt.Errorf("%w: %s", ErrUnknownAccount, account)
	}
	return s.repo.Balance(ctx, account)
}

// Balances returns every account's derived balance, zero-filled for
// accounts without entries.
func (s *Service) Balances(ctx context.Context) (map[AccountID]decimal.Decimal, error) {
	balances, err := s.repo.Balances(ctx)
	if err != nil {
		return nil, err
	}
	for _, account := range s.registry.All() {
		if _, ok := balances[account.ID]; !ok {
			balances[account.ID] = decimal.Zero
		}
	}
	return balances, nil
}

// Entries lists ledger entries.
func (s *Service) Entries(ctx context.Context, filter EntryFilter) ([]LedgerEntry, error) {
	if filter.AccountID != "" {
		if _, ok := s.registry.Lookup(filter.AccountID); !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnknownAccount, filter.AccountID)
		}
	}
	return s.repo.ListEntries(ctx, filter)
}
