package api

import (
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/Checker-Finance/credpool/internal/pool"
	"github.com/Checker-Finance/credpool/pkg/model"
)

func fail(c *fiber.Ctx, status int, code, msg string) error {
	return c.Status(status).JSON(model.APIError{Error: msg, Code: code})
}

func badRequest(c *fiber.Ctx, err error) error {
	return fail(c, fiber.StatusBadRequest, CodeInvalidRequest, err.Error())
}

// respond maps allocator errors onto status codes. Unexpected errors are
// logged and hidden from the caller.
func respond(c *fiber.Ctx, logger *zap.Logger, event string, err error) error {
	code, status := pool.Code(err)
	if status >= fiber.StatusInternalServerError {
		logger.Error(event+".failed",
			zap.String("identity", IdentityFrom(c)),
			zap.String("path", c.Path()),
			zap.Error(err))
		if code == pool.CodeInternal {
			return fail(c, status, code, "internal error")
		}
	}
	return fail(c, status, code, err.Error())
}
