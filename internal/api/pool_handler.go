package api

import (
	"context"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/Checker-Finance/credpool/pkg/model"
)

// PoolService is the allocator surface exposed to pool consumers.
type PoolService interface {
	Preview(ctx context.Context, identityID string, exclude []string, skipCurrent bool) (*model.Credential, error)
	Confirm(ctx context.Context, identityID, credentialID string) (*model.Credential, error)
	ReportDead(ctx context.Context, credentialID, reason string) error
	Release(ctx context.Context, identityID string) error
	Assignment(ctx context.Context, identityID string) (*model.Credential, error)
}

// PoolHandler serves the consumer endpoints. The identity always comes from
// the bearer token, never from the body.
type PoolHandler struct {
	logger  *zap.Logger
	service PoolService
}

func NewPoolHandler(logger *zap.Logger, service PoolService) *PoolHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PoolHandler{logger: logger, service: service}
}

func credentialBody(c *model.Credential) fiber.Map {
	if c == nil {
		return fiber.Map{"credential": nil}
	}
	return fiber.Map{"credential": c.ToAssigned()}
}

func (h *PoolHandler) Preview(c *fiber.Ctx) error {
	var req PreviewRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return badRequest(c, err)
		}
	}
	if err := req.Validate(); err != nil {
		return badRequest(c, err)
	}

	cred, err := h.service.Preview(c.Context(), IdentityFrom(c), req.Exclude, req.SkipCurrent)
	if err != nil {
		return respond(c, h.logger, "api.pool.preview", err)
	}
	return c.JSON(credentialBody(cred))
}

func (h *PoolHandler) Confirm(c *fiber.Ctx) error {
	var req ConfirmRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, err)
	}
	if err := req.Validate(); err != nil {
		return badRequest(c, err)
	}

	cred, err := h.service.Confirm(c.Context(), IdentityFrom(c), req.CredentialID)
	if err != nil {
		return respond(c, h.logger, "api.pool.confirm", err)
	}
	return c.JSON(credentialBody(cred))
}

func (h *PoolHandler) ReportDead(c *fiber.Ctx) error {
	var req DeadRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, err)
	}
	if err := req.Validate(); err != nil {
		return badRequest(c, err)
	}

	h.logger.Info("api.pool.dead",
		zap.String("identity", IdentityFrom(c)),
		zap.String("credential", req.CredentialID),
		zap.String("reason", req.ErrorCode))
	if err := h.service.ReportDead(c.Context(), req.CredentialID, req.ErrorCode); err != nil {
		return respond(c, h.logger, "api.pool.dead", err)
	}
	return c.JSON(fiber.Map{"status": "ok"})
}

func (h *PoolHandler) Release(c *fiber.Ctx) error {
	if err := h.service.Release(c.Context(), IdentityFrom(c)); err != nil {
		return respond(c, h.logger, "api.pool.release", err)
	}
	return c.JSON(fiber.Map{"status": "released"})
}

func (h *PoolHandler) Assignment(c *fiber.Ctx) error {
	cred, err := h.service.Assignment(c.Context(), IdentityFrom(c))
	if err != nil {
		return respond(c, h.logger, "api.pool.assignment", err)
	}
	return c.JSON(credentialBody(cred))
}
