package http

import (
	"log"
	"os"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
)

const (
	headerRealIP       = "X-Real-Ip"
	headerForwardedFor = "X-Forwarded-For"
)

// Ping returns HTTP Status 200 with response "healthy".
func Ping(c *fiber.Ctx) error {
	if err := c.SendString("healthy"); err != nil {
		log.Print(err.Error())
	}

	return nil
}

// Version returns HTTP Status 200 with given version.
func Version(version string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"version":     version,
			"buildNumber": os.Getenv("BUILD_NUMBER"),
			"requestDate": time.Now().UTC(),
		})
	}
}

// GetRemoteAddress returns IP address of the client making the request.
// It checks for X-Real-Ip or X-Forwarded-For headers which is used by Proxies.
func GetRemoteAddress(c *fiber.Ctx) string {
	realIP := c.Get(headerRealIP)
	forwardedFor := c.Get(headerForwardedFor)

	if realIP == "" && forwardedFor == "" {
		return c.IP()
	}

	if forwardedFor != "" {
		parts := strings.Split(forwardedFor, ",")
		for i, p := range parts {
			parts[i] = strings.TrimSpace(p)
		}

		return parts[0]
	}

	return realIP
}
