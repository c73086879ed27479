package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	jobmetrics "github.com/sealforge-erp/sealforge-erp/internal/jobs"
)

// LedgerIntegrityJob cross-checks the append-only ledger. Two properties
// must hold at all times: no account's derived balance is negative, and
// every entry marked reversed has exactly one live counter-entry.
type LedgerIntegrityJob struct {
	pool    *pgxpool.Pool
	logger  *slog.Logger
	metrics *jobmetrics.Metrics
}

func NewLedgerIntegrityJob(pool *pgxpool.Pool, logger *slog.Logger, metrics *jobmetrics.Metrics) *LedgerIntegrityJob {
	return &LedgerIntegrityJob{pool: pool, logger: logger, metrics: metrics}
}

// Handle processes TaskLedgerIntegrity tasks.
func (j *LedgerIntegrityJob) Handle(ctx context.Context, t *asynq.Task) error {
	tracker := j.metrics.Track("ledger_integrity")
	var payload LedgerIntegrityPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return tracker.End(asynq.SkipRetry)
	}

	violations := 0

	rows, err := j.pool.Query(ctx, `SELECT account_id,
COALESCE(SUM(CASE WHEN kind IN ('income','transfer_in') THEN amount ELSE -amount END), 0) AS balance
FROM ledger_entries GROUP BY account_id
HAVING COALESCE(SUM(CASE WHEN kind IN ('income','transfer_in') THEN amount ELSE -amount END), 0) < 0`)
	if err != nil {
		return tracker.End(fmt.Errorf("ledger integrity: balances: %w", err))
	}
	for rows.Next() {
		var account string
		var balance decimal.Decimal
		if err := rows.Scan(&account, &balance); err != nil {
			rows.Close()
			return tracker.End(err)
		}
		violations++
		j.logger.Error("account balance is negative",
			slog.String("account", account),
			slog.String("balance", balance.String()))
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return tracker.End(err)
	}

	var orphaned int64
	err = j.pool.QueryRow(ctx, `SELECT COUNT(*) FROM ledger_entries e
WHERE e.reversed AND NOT EXISTS (
	SELECT 1 FROM ledger_entries c WHERE c.reversal_of = e.id
)`).Scan(&orphaned)
	if err != nil {
		return tracker.End(fmt.Errorf("ledger integrity: reversals: %w", err))
	}
	if orphaned > 0 {
		violations += int(orphaned)
		j.logger.Error("reversed entries without counter-entry", slog.Int64("count", orphaned))
	}

	if violations > 0 {
		return tracker.End(fmt.Errorf("ledger integrity: %d violations", violations))
	}
	j.logger.Info("ledger integrity check passed")
	return tracker.End(nil)
}
