package jobs

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/sealforge-erp/sealforge-erp/internal/inventory"
)

type fakeCleaner struct {
	olderThan time.Duration
	err       error
}

func (f *fakeCleaner) Cleanup(_ context.Context, olderThan time.Duration) error {
	f.olderThan = olderThan
	return f.err
}

type fakeLister struct {
	lots []inventory.RawMaterialLot
}

func (f *fakeLister) ListLowStock(context.Context) ([]inventory.RawMaterialLot, error) {
	return f.lots, nil
}

func TestIdempotencyCleanupUsesPayloadWindow(t *testing.T) {
	cleaner := &fakeCleaner{}
	job := NewIdempotencyCleanupJob(cleaner, slog.Default(), nil)

	task, err := NewIdempotencyCleanupTask(6 * time.Hour)
	require.NoError(t, err)
	require.NoError(t, job.Handle(context.Background(), task))
	require.Equal(t, 6*time.Hour, cleaner.olderThan)
}

func TestIdempotencyCleanupDefaultsWindow(t *testing.T) {
	cleaner := &fakeCleaner{}
	job := NewIdempotencyCleanupJob(cleaner, slog.Default(), nil)

	task, err := NewIdempotencyCleanupTask(0)
	require.NoError(t, err)
	require.NoError(t, job.Handle(context.Background(), task))
	require.Equal(t, 24*time.Hour, cleaner.olderThan)
}

func TestIdempotencyCleanupPropagatesStoreError(t *testing.T) {
	cleaner := &fakeCleaner{err: errors.New("db down")}
	job := NewIdempotencyCleanupJob(cleaner, slog.Default(), nil)

	task, err := NewIdempotencyCleanupTask(time.Hour)
	require.NoError(t, err)
	require.Error(t, job.Handle(context.Background(), task))
}

func TestLowStockScanReportsLots(t *testing.T) {
	lister := &fakeLister{lots: []inventory.RawMaterialLot{
		{UnitCode: "U-4060", HeightMM: decimal.NewFromInt(80), MinHeightMM: decimal.NewFromInt(100)},
	}}
	job := NewLowStockScanJob(lister, slog.Default(), nil)

	task, err := NewLowStockScanTask(time.Now())
	require.NoError(t, err)
	require.NoError(t, job.Handle(context.Background(), task))
}
