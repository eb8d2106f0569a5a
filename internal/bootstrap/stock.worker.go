package bootstrap

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/lunamall/seckill/internal/services/command"
	"github.com/lunamall/seckill/pkg"
	"github.com/lunamall/seckill/pkg/mlog"
	"github.com/lunamall/seckill/pkg/mmodel"
)

// StockWorker reconciles keystore and database stock on a fixed schedule.
// On startup it runs one pass before the first tick. Each pass covers at most
// SyncBatchSize active activities, earliest start first; active activities
// beyond that count are not reconciled.
type StockWorker struct {
	command  *command.UseCase
	logger   mlog.Logger
	interval time.Duration
}

// NewStockWorker creates an instance of StockWorker.
func NewStockWorker(uc *command.UseCase, logger mlog.Logger, interval time.Duration) *StockWorker {
	return &StockWorker{
		command:  uc,
		logger:   logger,
		interval: interval,
	}
}

// Run executes sync passes until the shutdown signal.
func (w *StockWorker) Run(_ *pkg.Launcher) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	ctx = pkg.ContextWithLogger(ctx, w.logger)

	w.logger.Info("StockWorker started, running recovery pass")

	w.runPass(ctx)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("StockWorker: shutting down...")
			return nil

		case <-ticker.C:
			w.runPass(ctx)
		}
	}
}

func (w *StockWorker) runPass(ctx context.Context) {
	records, err := w.command.SyncBatch(ctx)
	if err != nil {
		w.logger.Errorf("Stock sync pass failed: %v", err)

		return
	}

	conflicts := 0

	for _, rec := range records {
		if rec.ConflictType != mmodel.ConflictNone {
			conflicts++
		}
	}

	if conflicts > 0 {
		w.logger.Warnf("Stock sync pass resolved %d conflict(s) across %d activities", conflicts, len(records))
	}
}
