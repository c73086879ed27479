package jobs

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/hibiken/asynq"

	"github.com/sealforge-erp/sealforge-erp/internal/inventory"
	jobmetrics "github.com/sealforge-erp/sealforge-erp/internal/jobs"
)

// LowStockLister returns lots at or under their minimum height.
type LowStockLister interface {
	ListLowStock(ctx context.Context) ([]inventory.RawMaterialLot, error)
}

// LowStockScanJob surfaces lots that can no longer cover typical orders.
type LowStockScanJob struct {
	inv     LowStockLister
	logger  *slog.Logger
	metrics *jobmetrics.Metrics
}

func NewLowStockScanJob(inv LowStockLister, logger *slog.Logger, metrics *jobmetrics.Metrics) *LowStockScanJob {
	return &LowStockScanJob{inv: inv, logger: logger, metrics: metrics}
}

// Handle processes TaskLowStockScan tasks.
func (j *LowStockScanJob) Handle(ctx context.Context, t *asynq.Task) error {
	tracker := j.metrics.Track("low_stock_scan")
	var payload LowStockScanPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return tracker.End(asynq.SkipRetry)
	}
	lots, err := j.inv.ListLowStock(ctx)
	if err != nil {
		j.logger.Error("low stock scan failed", slog.Any("error", err))
		return tracker.End(err)
	}
	j.metrics.SetLowStock(len(lots))
	for _, lot := range lots {
		j.logger.Warn("raw material lot below threshold",
			slog.String("unit", lot.UnitCode),
			slog.String("height_mm", lot.HeightMM.String()),
			slog.String("min_height_mm", lot.MinHeightMM.String()))
	}
	j.logger.Info("low stock scan completed", slog.Int("low_lots", len(lots)))
	return tracker.End(nil)
}
