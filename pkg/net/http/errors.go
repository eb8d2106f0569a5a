package http

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/lunamall/seckill/pkg"
)

// WithError maps a typed engine error onto the HTTP response contract:
// 400 validation, 403 activity state, 404 not found, 409 conflict,
// 422 business precondition, 500 everything else.
func WithError(c *fiber.Ctx, err error) error {
	switch e := err.(type) {
	case pkg.EntityNotFoundError:
		return NotFound(c, e.Code, e.Title, e.Message)
	case pkg.EntityConflictError:
		return Conflict(c, e.Code, e.Title, e.Message)
	case pkg.ValidationError:
		return BadRequest(c, fiber.Map{
			"code":    e.Code,
			"title":   e.Title,
			"message": e.Message,
		})
	case pkg.UnprocessableOperationError:
		return UnprocessableEntity(c, e.Code, e.Title, e.Message)
	case pkg.FailedPreconditionError:
		return Forbidden(c, e.Code, e.Title, e.Message)
	default:
		var iErr pkg.InternalServerError
		_ = errors.As(pkg.ValidateInternalError(err, ""), &iErr)

		return InternalServerError(c, iErr.Code, iErr.Title, iErr.Message)
	}
}
