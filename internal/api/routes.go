package api

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Checker-Finance/credpool/internal/store"
)

// RegisterRoutes mounts health, metrics, the consumer API and the operator API.
// nc may be nil when event publishing to NATS is disabled.
func RegisterRoutes(app *fiber.App, nc *nats.Conn, st store.Store,
	auth fiber.Handler,
	limit fiber.Handler,
	poolHandler *PoolHandler,
	adminHandler *AdminHandler,
) {
	app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))

	app.Get("/health", func(c *fiber.Ctx) error {
		checks := map[string]string{
			"nats":  "disabled",
			"store": "ok",
		}
		status := "ok"
		code := fiber.StatusOK

		if nc != nil {
			checks["nats"] = "ok"
			if !nc.IsConnected() {
				checks["nats"] = "disconnected"
				status = "degraded"
				code = fiber.StatusServiceUnavailable
			} else if err := nc.FlushTimeout(1 * time.Second); err != nil {
				checks["nats"] = err.Error()
				status = "degraded"
				code = fiber.StatusServiceUnavailable
			}
		}

		healthCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := st.HealthCheck(healthCtx); err != nil {
			checks["store"] = err.Error()
			status = "degraded"
			code = fiber.StatusServiceUnavailable
		}

		return c.Status(code).JSON(fiber.Map{
			"status": status,
			"checks": checks,
		})
	})

	v1 := app.Group("/api/v1", auth, limit)

	p := v1.Group("/pool")
	p.Post("/preview", poolHandler.Preview)
	p.Post("/confirm", poolHandler.Confirm)
	p.Post("/dead", poolHandler.ReportDead)
	p.Post("/release", poolHandler.Release)
	p.Get("/assignment", poolHandler.Assignment)

	a := v1.Group("/admin/credentials", RequireAdmin())
	a.Get("/", adminHandler.List)
	a.Post("/", adminHandler.Import)
	a.Get("/stats", adminHandler.Stats)
	a.Post("/sweep", adminHandler.Sweep)
	a.Post("/auto-assign", adminHandler.AutoAssign)
	a.Get("/:id", adminHandler.Get)
	a.Put("/:id", adminHandler.Update)
	a.Delete("/:id", adminHandler.Delete)
	a.Post("/:id/retire", adminHandler.Retire)
	a.Post("/:id/vacate", adminHandler.Vacate)
	a.Post("/:id/assign", adminHandler.Assign)
}
