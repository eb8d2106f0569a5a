package bootstrap

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/lunamall/seckill/internal/metrics"
	"github.com/lunamall/seckill/internal/services/command"
	"github.com/lunamall/seckill/pkg"
	"github.com/lunamall/seckill/pkg/mlog"
	"github.com/lunamall/seckill/pkg/mmodel"
)

// ConsistencyWorker runs the background consistency validator and the
// threshold alert evaluation, emitting alerts through the outbox
// user-notification family.
type ConsistencyWorker struct {
	command       *command.UseCase
	metrics       *metrics.Metrics
	logger        mlog.Logger
	checkInterval time.Duration
	alertInterval time.Duration
	thresholds    metrics.AlertThresholds
}

// NewConsistencyWorker creates an instance of ConsistencyWorker.
func NewConsistencyWorker(uc *command.UseCase, m *metrics.Metrics, logger mlog.Logger, checkInterval, alertInterval time.Duration) *ConsistencyWorker {
	return &ConsistencyWorker{
		command:       uc,
		metrics:       m,
		logger:        logger,
		checkInterval: checkInterval,
		alertInterval: alertInterval,
		thresholds:    metrics.DefaultAlertThresholds(),
	}
}

// Run validates consistency and evaluates alerts until the shutdown signal.
func (w *ConsistencyWorker) Run(_ *pkg.Launcher) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	ctx = pkg.ContextWithLogger(ctx, w.logger)

	checkTicker := time.NewTicker(w.checkInterval)
	defer checkTicker.Stop()

	alertTicker := time.NewTicker(w.alertInterval)
	defer alertTicker.Stop()

	w.logger.Info("ConsistencyWorker started")

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("ConsistencyWorker: shutting down...")
			return nil

		case <-checkTicker.C:
			w.runValidation(ctx)

		case <-alertTicker.C:
			w.emitAlerts(ctx, w.metrics.Evaluate(w.thresholds))
		}
	}
}

func (w *ConsistencyWorker) runValidation(ctx context.Context) {
	report, err := w.command.ValidateConsistency(ctx)
	if err != nil {
		w.logger.Errorf("Consistency validation failed: %v", err)

		return
	}

	w.logger.Infof("Consistency check: %d/%d consistent (rate %.3f) in %s",
		report.ConsistentCount, report.TotalChecked, report.ConsistencyRate, report.Duration)

	if report.ConsistencyRate < w.command.Config.AlertThreshold {
		w.emitAlerts(ctx, []mmodel.Alert{{
			Type:      "low_consistency",
			Level:     mmodel.AlertLevelError,
			Message:   "cache consistency rate below threshold",
			Value:     report.ConsistencyRate,
			Threshold: w.command.Config.AlertThreshold,
			Ts:        time.Now(),
		}})
	}
}

func (w *ConsistencyWorker) emitAlerts(ctx context.Context, alerts []mmodel.Alert) {
	for _, alert := range alerts {
		payload := mmodel.EmailPayload{
			Recipients: []string{"oncall"},
			TemplateID: "engine-alert",
			Data: map[string]any{
				"type":      alert.Type,
				"level":     alert.Level,
				"message":   alert.Message,
				"value":     alert.Value,
				"threshold": alert.Threshold,
			},
			Priority: alert.Level,
			Ts:       alert.Ts,
		}

		if err := w.command.EnqueueUserNotification(ctx, payload); err != nil {
			w.logger.Errorf("Failed to enqueue alert %s: %v", alert.Type, err)
		}
	}
}
