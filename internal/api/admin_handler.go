package api

import (
	"context"
	"fmt"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/Checker-Finance/credpool/internal/pool"
	"github.com/Checker-Finance/credpool/pkg/model"
)

// AdminService is the operator surface of the allocator.
type AdminService interface {
	Get(ctx context.Context, credentialID string) (*model.Credential, error)
	List(ctx context.Context, f pool.ListFilter) (pool.ListResult, error)
	Stats(ctx context.Context) (model.PoolStats, error)
	Import(ctx context.Context, inputs []pool.CredentialInput, source string) (pool.ImportResult, error)
	Update(ctx context.Context, credentialID string, patch pool.CredentialPatch) (*model.Credential, error)
	Retire(ctx context.Context, credentialID, reason string) error
	Delete(ctx context.Context, credentialID string) error
	Vacate(ctx context.Context, credentialID string) (int, error)
	Reassign(ctx context.Context, identityID, credentialID string) (*model.Credential, error)
	AutoAssign(ctx context.Context, identityIDs []string) (pool.AutoAssignResult, error)
	SweepExpired(ctx context.Context) (int, error)
}

type AdminHandler struct {
	logger  *zap.Logger
	service AdminService
}

func NewAdminHandler(logger *zap.Logger, service AdminService) *AdminHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AdminHandler{logger: logger, service: service}
}

func (h *AdminHandler) List(c *fiber.Ctx) error {
	res, err := h.service.List(c.Context(), pool.ListFilter{
		Status: c.Query("status"),
		Search: c.Query("search"),
		Page:   c.QueryInt("page", 1),
		Limit:  c.QueryInt("limit", 50),
	})
	if err != nil {
		return respond(c, h.logger, "api.admin.list", err)
	}
	return c.JSON(res)
}

func (h *AdminHandler) Stats(c *fiber.Ctx) error {
	s, err := h.service.Stats(c.Context())
	if err != nil {
		return respond(c, h.logger, "api.admin.stats", err)
	}
	return c.JSON(s)
}

func (h *AdminHandler) Get(c *fiber.Ctx) error {
	cred, err := h.service.Get(c.Context(), c.Params("id"))
	if err != nil {
		return respond(c, h.logger, "api.admin.get", err)
	}
	return c.JSON(cred)
}

func (h *AdminHandler) Import(c *fiber.Ctx) error {
	var req ImportRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, err)
	}
	if err := req.Validate(); err != nil {
		return badRequest(c, err)
	}

	inputs := append([]pool.CredentialInput(nil), req.Credentials...)
	for i, raw := range req.Raw {
		in, err := pool.ParseRawCredential(raw)
		if err != nil {
			return badRequest(c, fmt.Errorf("raw[%d]: %w", i, err))
		}
		inputs = append(inputs, in)
	}
	source := req.Source
	if source == "" {
		source = "api"
	}

	res, err := h.service.Import(c.Context(), inputs, source)
	if err != nil {
		return respond(c, h.logger, "api.admin.import", err)
	}
	h.logger.Info("api.admin.import",
		zap.String("operator", IdentityFrom(c)),
		zap.Int("success", res.Success),
		zap.Int("failed", res.Failed))

	status := fiber.StatusCreated
	if res.Success == 0 {
		status = fiber.StatusBadRequest
	}
	return c.Status(status).JSON(res)
}

func (h *AdminHandler) Update(c *fiber.Ctx) error {
	var patch pool.CredentialPatch
	if err := c.BodyParser(&patch); err != nil {
		return badRequest(c, err)
	}
	cred, err := h.service.Update(c.Context(), c.Params("id"), patch)
	if err != nil {
		return respond(c, h.logger, "api.admin.update", err)
	}
	return c.JSON(cred)
}

func (h *AdminHandler) Retire(c *fiber.Ctx) error {
	var req RetireRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return badRequest(c, err)
		}
	}
	if err := req.Validate(); err != nil {
		return badRequest(c, err)
	}
	reason := req.Reason
	if reason == "" {
		reason = "OPERATOR"
	}
	if err := h.service.Retire(c.Context(), c.Params("id"), reason); err != nil {
		return respond(c, h.logger, "api.admin.retire", err)
	}
	return c.JSON(fiber.Map{"status": "retired"})
}

func (h *AdminHandler) Delete(c *fiber.Ctx) error {
	if err := h.service.Delete(c.Context(), c.Params("id")); err != nil {
		return respond(c, h.logger, "api.admin.delete", err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

func (h *AdminHandler) Vacate(c *fiber.Ctx) error {
	n, err := h.service.Vacate(c.Context(), c.Params("id"))
	if err != nil {
		return respond(c, h.logger, "api.admin.vacate", err)
	}
	return c.JSON(fiber.Map{"removed": n})
}

func (h *AdminHandler) Assign(c *fiber.Ctx) error {
	var req AssignRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, err)
	}
	if err := req.Validate(); err != nil {
		return badRequest(c, err)
	}
	cred, err := h.service.Reassign(c.Context(), req.IdentityID, c.Params("id"))
	if err != nil {
		return respond(c, h.logger, "api.admin.assign", err)
	}
	return c.JSON(cred)
}

func (h *AdminHandler) AutoAssign(c *fiber.Ctx) error {
	var req AutoAssignRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, err)
	}
	if err := req.Validate(); err != nil {
		return badRequest(c, err)
	}
	res, err := h.service.AutoAssign(c.Context(), req.IdentityIDs)
	if err != nil {
		return respond(c, h.logger, "api.admin.auto_assign", err)
	}
	h.logger.Info("api.admin.auto_assign",
		zap.String("operator", IdentityFrom(c)),
		zap.Int("assigned", res.Assigned),
		zap.Int("failed", res.Failed))
	return c.JSON(res)
}

func (h *AdminHandler) Sweep(c *fiber.Ctx) error {
	n, err := h.service.SweepExpired(c.Context())
	if err != nil {
		return respond(c, h.logger, "api.admin.sweep", err)
	}
	return c.JSON(fiber.Map{"retired": n})
}
