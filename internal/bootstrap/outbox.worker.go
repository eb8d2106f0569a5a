package bootstrap

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/lunamall/seckill/internal/services/command"
	"github.com/lunamall/seckill/pkg"
	cn "github.com/lunamall/seckill/pkg/constant"
	"github.com/lunamall/seckill/pkg/mlog"
)

// OutboxWorker polls the retry-due index and dispatches claimed messages to
// the broker. On startup it first requeues messages a crashed emitter left in
// flight. The worker also drives limiter backpressure from the backlog size.
type OutboxWorker struct {
	command         *command.UseCase
	logger          mlog.Logger
	processInterval time.Duration
	batchSize       int64
	inFlightTimeout time.Duration
}

// NewOutboxWorker creates an instance of OutboxWorker.
func NewOutboxWorker(uc *command.UseCase, logger mlog.Logger, processInterval time.Duration, batchSize int64, inFlightTimeout time.Duration) *OutboxWorker {
	return &OutboxWorker{
		command:         uc,
		logger:          logger,
		processInterval: processInterval,
		batchSize:       batchSize,
		inFlightTimeout: inFlightTimeout,
	}
}

// Run processes the outbox until the shutdown signal, draining the current
// batch before exiting.
func (w *OutboxWorker) Run(_ *pkg.Launcher) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	ctx = pkg.ContextWithLogger(ctx, w.logger)

	if reset, err := w.command.RecoverInFlight(ctx, w.inFlightTimeout); err != nil {
		w.logger.Errorf("Outbox in-flight recovery failed: %v", err)
	} else if reset > 0 {
		w.logger.Infof("Outbox recovery requeued %d message(s)", reset)
	}

	ticker := time.NewTicker(w.processInterval)
	defer ticker.Stop()

	w.logger.Info("OutboxWorker started")

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("OutboxWorker: shutting down...")

			drainCtx, cancel := context.WithTimeout(pkg.ContextWithLogger(context.Background(), w.logger), cn.DefaultShutdownGrace)
			defer cancel()

			if _, err := w.command.DispatchOutbox(drainCtx, time.Now(), w.batchSize); err != nil {
				w.logger.Errorf("OutboxWorker drain failed: %v", err)
			}

			return nil

		case <-ticker.C:
			if _, err := w.command.DispatchOutbox(ctx, time.Now(), w.batchSize); err != nil {
				w.logger.Errorf("OutboxWorker dispatch failed: %v", err)
			}

			w.applyBackpressure(ctx)
		}
	}
}

// applyBackpressure tightens the global admission buckets while the backlog
// exceeds the threshold, and releases them once it drained.
func (w *OutboxWorker) applyBackpressure(ctx context.Context) {
	backlog, err := w.command.OutboxBacklog(ctx)
	if err != nil {
		w.logger.Warnf("Failed to read outbox backlog: %v", err)

		return
	}

	threshold := w.command.Config.BackpressureThreshold
	if threshold <= 0 {
		threshold = 10 * w.batchSize
	}

	over := backlog > threshold

	if over != w.command.Limiter.Pressure() {
		if over {
			w.logger.Warnf("Outbox backlog %d above threshold %d, tightening global buckets", backlog, threshold)
		} else {
			w.logger.Infof("Outbox backlog %d drained below threshold %d, releasing backpressure", backlog, threshold)
		}

		w.command.Limiter.SetPressure(over)
	}
}
