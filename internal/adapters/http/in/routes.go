package in

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/lunamall/seckill/pkg"
	"github.com/lunamall/seckill/pkg/mlog"
	"github.com/lunamall/seckill/pkg/mopentelemetry"
	libHTTP "github.com/lunamall/seckill/pkg/net/http"
	"go.opentelemetry.io/otel"
)

// NewRouter registers the engine routes on a fiber application.
func NewRouter(lg mlog.Logger, tl *mopentelemetry.Telemetry, handler *SeckillHandler) *fiber.App {
	f := fiber.New(fiber.Config{
		DisableStartupMessage: true,
	})

	f.Use(recover.New())
	f.Use(cors.New())
	f.Use(withContext(lg, tl))

	// Admissions
	f.Post("/v1/activities/:id/admissions", handler.CreateAdmission)

	// Stock read models
	f.Get("/v1/activities/:id/stock", handler.GetStock)
	f.Post("/v1/stock/batch", handler.GetBatchStock)

	// User quota status
	f.Get("/v1/activities/:activity_id/users/:user_id", handler.GetUserStatus)

	// Downstream cancellation
	f.Post("/v1/commits/:token/rollback", handler.RollbackCommit)

	// Health
	f.Get("/health", libHTTP.Ping)

	// Version
	f.Get("/version", libHTTP.Version(pkg.GetenvOrDefault("VERSION", "0.0.0")))

	return f
}

// withContext injects the logger and tracer into the request user context so
// the service layer can recover them from the context alone.
func withContext(lg mlog.Logger, tl *mopentelemetry.Telemetry) fiber.Handler {
	return func(c *fiber.Ctx) error {
		ctx := pkg.ContextWithLogger(c.UserContext(), lg)
		ctx = pkg.ContextWithTracer(ctx, otel.Tracer(tl.LibraryName))

		c.SetUserContext(ctx)

		return c.Next()
	}
}
