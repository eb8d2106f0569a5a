package bootstrap

import (
	"github.com/gofiber/fiber/v2"
	"github.com/lunamall/seckill/pkg"
	"github.com/lunamall/seckill/pkg/mlog"
	"github.com/lunamall/seckill/pkg/mopentelemetry"
)

// Server represents the http server for the seckill engine.
type Server struct {
	app           *fiber.App
	serverAddress string
	logger        mlog.Logger
	telemetry     *mopentelemetry.Telemetry
}

// ServerAddress returns is a convenience method to return the server address.
func (s *Server) ServerAddress() string {
	return s.serverAddress
}

// NewServer creates an instance of Server.
func NewServer(cfg *Config, app *fiber.App, logger mlog.Logger, telemetry *mopentelemetry.Telemetry) *Server {
	return &Server{
		app:           app,
		serverAddress: cfg.ServerAddress,
		logger:        logger,
		telemetry:     telemetry,
	}
}

// Run runs the server.
func (s *Server) Run(l *pkg.Launcher) error {
	err := s.app.Listen(s.ServerAddress())
	if err != nil {
		return pkg.InternalServerError{
			Message: err.Error(),
		}
	}

	return nil
}
