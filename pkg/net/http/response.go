package http

import (
	"github.com/gofiber/fiber/v2"
)

// OK returns HTTP 200 with the given body.
func OK(c *fiber.Ctx, body any) error {
	return c.Status(fiber.StatusOK).JSON(body)
}

// Created returns HTTP 201 with the given body.
func Created(c *fiber.Ctx, body any) error {
	return c.Status(fiber.StatusCreated).JSON(body)
}

// BadRequest returns HTTP 400 with the given error body.
func BadRequest(c *fiber.Ctx, body any) error {
	return c.Status(fiber.StatusBadRequest).JSON(body)
}

// Forbidden returns HTTP 403 with code, title and message.
func Forbidden(c *fiber.Ctx, code, title, message string) error {
	return c.Status(fiber.StatusForbidden).JSON(fiber.Map{
		"code":    code,
		"title":   title,
		"message": message,
	})
}

// NotFound returns HTTP 404 with code, title and message.
func NotFound(c *fiber.Ctx, code, title, message string) error {
	return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
		"code":    code,
		"title":   title,
		"message": message,
	})
}

// Conflict returns HTTP 409 with code, title and message.
func Conflict(c *fiber.Ctx, code, title, message string) error {
	return c.Status(fiber.StatusConflict).JSON(fiber.Map{
		"code":    code,
		"title":   title,
		"message": message,
	})
}

// UnprocessableEntity returns HTTP 422 with code, title and message.
func UnprocessableEntity(c *fiber.Ctx, code, title, message string) error {
	return c.Status(fiber.StatusUnprocessableEntity).JSON(fiber.Map{
		"code":    code,
		"title":   title,
		"message": message,
	})
}

// TooManyRequests returns HTTP 429 with code, title and message.
func TooManyRequests(c *fiber.Ctx, code, title, message string) error {
	return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
		"code":    code,
		"title":   title,
		"message": message,
	})
}

// InternalServerError returns HTTP 500 with code, title and message.
func InternalServerError(c *fiber.Ctx, code, title, message string) error {
	return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
		"code":    code,
		"title":   title,
		"message": message,
	})
}
