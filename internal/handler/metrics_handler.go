package handler

import (
	"github.com/gofiber/adaptor/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/kursadbilgin/oncall-engine/internal/observability"
)

func RegisterMetricsRoute(app fiber.Router, metrics *observability.Metrics) {
	app.Get("/metrics", adaptor.HTTPHandler(metrics.Handler()))
}
