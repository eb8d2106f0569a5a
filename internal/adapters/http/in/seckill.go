package in

import (
	"github.com/gofiber/fiber/v2"
	"github.com/lunamall/seckill/internal/services/command"
	"github.com/lunamall/seckill/internal/services/query"
	"github.com/lunamall/seckill/pkg"
	cn "github.com/lunamall/seckill/pkg/constant"
	"github.com/lunamall/seckill/pkg/mmodel"
	libHTTP "github.com/lunamall/seckill/pkg/net/http"
)

// SeckillHandler is the inbound HTTP adapter over the procedural engine API.
type SeckillHandler struct {
	Command *command.UseCase
	Query   *query.UseCase
}

type admitRequest struct {
	UserID      string `json:"userId"`
	Qty         int64  `json:"qty"`
	ClientNonce string `json:"clientNonce"`
}

type batchStockRequest struct {
	ActivityIDs []string `json:"activityIds"`
}

type rollbackRequest struct {
	Reason string `json:"reason"`
}

// CreateAdmission handles POST /v1/activities/:id/admissions.
func (h *SeckillHandler) CreateAdmission(c *fiber.Ctx) error {
	ctx := c.UserContext()
	logger := pkg.NewLoggerFromContext(ctx)

	var req admitRequest
	if err := c.BodyParser(&req); err != nil {
		return libHTTP.WithError(c, pkg.ValidateBusinessError(cn.ErrBadRequest, "AdmitInput"))
	}

	if req.UserID == "" || req.Qty <= 0 {
		return libHTTP.WithError(c, pkg.ValidateBusinessError(cn.ErrMissingFieldsInRequest, "AdmitInput"))
	}

	input := command.AdmitInput{
		ActivityID:  c.Params("id"),
		UserID:      req.UserID,
		ClientIP:    libHTTP.GetRemoteAddress(c),
		Qty:         req.Qty,
		ClientNonce: req.ClientNonce,
	}

	result, err := h.Command.Admit(ctx, input)
	if err != nil {
		logger.Errorf("Admission failed: %v", err)

		return libHTTP.WithError(c, err)
	}

	return c.Status(admitStatusCode(result.Reason)).JSON(result)
}

// GetStock handles GET /v1/activities/:id/stock.
func (h *SeckillHandler) GetStock(c *fiber.Ctx) error {
	ctx := c.UserContext()

	info, err := h.Query.GetStock(ctx, c.Params("id"))
	if err != nil {
		return libHTTP.WithError(c, err)
	}

	return libHTTP.OK(c, info)
}

// GetBatchStock handles POST /v1/stock/batch.
func (h *SeckillHandler) GetBatchStock(c *fiber.Ctx) error {
	ctx := c.UserContext()

	var req batchStockRequest
	if err := c.BodyParser(&req); err != nil || len(req.ActivityIDs) == 0 {
		return libHTTP.WithError(c, pkg.ValidateBusinessError(cn.ErrBadRequest, "BatchStock"))
	}

	result, err := h.Query.GetBatchStock(ctx, req.ActivityIDs)
	if err != nil {
		return libHTTP.WithError(c, err)
	}

	return libHTTP.OK(c, result)
}

// GetUserStatus handles GET /v1/activities/:activity_id/users/:user_id.
func (h *SeckillHandler) GetUserStatus(c *fiber.Ctx) error {
	ctx := c.UserContext()

	status, err := h.Query.GetUserStatus(ctx, c.Params("user_id"), c.Params("activity_id"))
	if err != nil {
		return libHTTP.WithError(c, err)
	}

	return libHTTP.OK(c, status)
}

// RollbackCommit handles POST /v1/commits/:token/rollback.
func (h *SeckillHandler) RollbackCommit(c *fiber.Ctx) error {
	ctx := c.UserContext()

	var req rollbackRequest
	if err := c.BodyParser(&req); err != nil {
		return libHTTP.WithError(c, pkg.ValidateBusinessError(cn.ErrBadRequest, "RollbackCommit"))
	}

	record, err := h.Command.RollbackCommit(ctx, c.Params("token"), req.Reason)
	if err != nil {
		return libHTTP.WithError(c, err)
	}

	return libHTTP.OK(c, record)
}

// admitStatusCode maps the admission reason onto the HTTP contract:
// 200 ok, 403 activity state, 409 stock and quota conflicts, 429 throttling,
// 400 validation, 404 unknown activity, 500 internal.
func admitStatusCode(reason mmodel.Reason) int {
	switch reason {
	case mmodel.ReasonOK, mmodel.ReasonDuplicate:
		return fiber.StatusOK
	case mmodel.ReasonActivityNotFound:
		return fiber.StatusNotFound
	case mmodel.ReasonActivityNotActive, mmodel.ReasonActivityNotStarted, mmodel.ReasonActivityEnded:
		return fiber.StatusForbidden
	case mmodel.ReasonInsufficientStock, mmodel.ReasonOutOfStock, mmodel.ReasonUserLimitExceeded:
		return fiber.StatusConflict
	case mmodel.ReasonRateLimitGlobal, mmodel.ReasonRateLimitIP, mmodel.ReasonRateLimitUser:
		return fiber.StatusTooManyRequests
	case mmodel.ReasonInvalidParams:
		return fiber.StatusBadRequest
	default:
		return fiber.StatusInternalServerError
	}
}
