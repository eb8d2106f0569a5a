package bootstrap

import (
	"github.com/lunamall/seckill/pkg"
	"github.com/lunamall/seckill/pkg/mlog"
	"github.com/lunamall/seckill/pkg/mopentelemetry"
)

// Service is the application glue where we put all top level components to be used.
type Service struct {
	Server            *Server
	MetricsServer     *MetricsServer
	OutboxWorker      *OutboxWorker
	StockWorker       *StockWorker
	ConsistencyWorker *ConsistencyWorker
	Logger            mlog.Logger
	Telemetry         *mopentelemetry.Telemetry
}

// Run starts the application.
// This is the only necessary code to run an app in main.go.
func (s *Service) Run() {
	s.Telemetry.InitializeTelemetry()
	defer s.Telemetry.ShutdownTelemetry()

	pkg.NewLauncher(
		pkg.WithLogger(s.Logger),
		pkg.RunApp("HTTP Server", s.Server),
		pkg.RunApp("Metrics Server", s.MetricsServer),
		pkg.RunApp("Outbox Worker", s.OutboxWorker),
		pkg.RunApp("Stock Sync Worker", s.StockWorker),
		pkg.RunApp("Consistency Worker", s.ConsistencyWorker),
	).Run()
}
