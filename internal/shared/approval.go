package shared

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/crypto/bcrypt"
)

// ApprovalGuard verifies the operations password that gates destructive
// financial operations (cancel, payment-method change, structural edit).
// The password is stored as a bcrypt hash; the caller supplies the actor
// name so that every approved operation is attributable.
type ApprovalGuard struct {
	pool         *pgxpool.Pool
	logger       *slog.Logger
	fallbackHash string
}

// NewApprovalGuard constructs ApprovalGuard. fallbackHash is used until a
// password row exists in the database.
func NewApprovalGuard(pool *pgxpool.Pool, logger *slog.Logger, fallbackHash string) *ApprovalGuard {
	return &ApprovalGuard{pool: pool, logger: logger, fallbackHash: fallbackHash}
}

// Verify checks password against the stored hash for the given scope.
// Returns ErrForbidden on mismatch; the check never reveals which part failed.
func (g *ApprovalGuard) Verify(ctx context.Context, scope, password, actor string) error {
	if g == nil {
		return errors.New("approval guard not initialised")
	}
	if actor == "" {
		return fmt.Errorf("%w: actor required", ErrForbidden)
	}
	hash := g.fallbackHash
	if g.pool != nil {
		var stored string
		err := g.pool.QueryRow(ctx, `SELECT password_hash FROM operation_passwords WHERE scope=$1`, scope).Scan(&stored)
		if err == nil {
			hash = stored
		}
	}
	if hash == "" {
		return fmt.Errorf("%w: no password configured for %s", ErrForbidden, scope)
	}
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)); err != nil {
		if g.logger != nil {
			g.logger.Warn("operations password rejected", slog.String("scope", scope), slog.String("actor", actor))
		}
		return ErrForbidden
	}
	return nil
}

// SetPassword stores a new bcrypt hash for the scope.
func (g *ApprovalGuard) SetPassword(ctx context.Context, scope, current, next string) error {
	if err := g.Verify(ctx, scope, current, "password-change"); err != nil {
		return err
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(next), bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	_, err = g.pool.Exec(ctx, `INSERT INTO operation_passwords (scope, password_hash, updated_at)
VALUES ($1, $2, $3)
ON CONFLICT (scope) DO UPDATE SET password_hash=EXCLUDED.password_hash, updated_at=EXCLUDED.updated_at`,
		scope, string(hash), time.Now())
	return err
}

// Approval scopes.
const (
	ScopeInvoiceOps  = "invoice_operations"
	ScopeArchive     = "deleted_invoices"
	ScopeVault       = "main_treasury"
	ScopeLedgerEdits = "ledger_edits"
)
