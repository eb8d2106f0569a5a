package bootstrap

import (
	"net/http"
	"time"

	"github.com/lunamall/seckill/pkg"
	"github.com/lunamall/seckill/pkg/mlog"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsServer exposes the Prometheus scrape endpoint on a dedicated listener.
type MetricsServer struct {
	address string
	logger  mlog.Logger
}

// NewMetricsServer creates an instance of MetricsServer.
func NewMetricsServer(address string, logger mlog.Logger) *MetricsServer {
	return &MetricsServer{
		address: address,
		logger:  logger,
	}
}

// Run serves /metrics until the process exits.
func (s *MetricsServer) Run(l *pkg.Launcher) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	server := &http.Server{
		Addr:              s.address,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	s.logger.Infof("Metrics server listening on %s", s.address)

	return server.ListenAndServe()
}
