package router

import (
	"github.com/ManuelReschke/SaaSBase/app/controllers"
	"github.com/gofiber/fiber/v2"
)

// HttpRouter serves unauthenticated endpoints: provider webhooks and the
// scheduled sync trigger.
type HttpRouter struct {
	svc Services
}

func (h HttpRouter) InstallRouter(app *fiber.App) {
	app.Get("/healthz", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})

	// Provider webhooks (signature-verified in controller)
	billingWebhook := controllers.NewBillingWebhookController(h.svc.Billing, h.svc.BillingWebhookSecret)
	identityWebhook := controllers.NewIdentityWebhookController(h.svc.Users, h.svc.IdentityWebhookSecret)
	app.Post("/webhooks/billing", billingWebhook.HandleWebhook)
	app.Post("/webhooks/identity", identityWebhook.HandleWebhook)

	// Scheduled trigger: GET runs the sync, POST reports health.
	cron := controllers.NewCronController(h.svc.Billing, h.svc.Locker, h.svc.CronSecret, h.svc.Dev, h.svc.HealthChecks)
	cronGroup := app.Group("/api/cron/sync-subscriptions", cron.RequireCronSecret)
	cronGroup.Get("", cron.HandleSync)
	cronGroup.Post("", cron.HandleHealth)
}

func NewHttpRouter(svc Services) *HttpRouter {
	return &HttpRouter{svc: svc}
}
