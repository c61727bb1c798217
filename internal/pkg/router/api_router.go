package router

import (
	"time"

	"github.com/ManuelReschke/SaaSBase/app/controllers"
	"github.com/ManuelReschke/SaaSBase/internal/pkg/middleware"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"
)

type ApiRouter struct {
	svc Services
}

func (h ApiRouter) InstallRouter(app *fiber.App) {
	api := app.Group("/api", limiter.New(limiter.Config{
		Max:        60,
		Expiration: time.Minute,
		Storage:    h.svc.LimiterStorage,
		LimitReached: func(c *fiber.Ctx) error {
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
				"error":   "rate_limited",
				"message": "Too many requests, please slow down",
			})
		},
	}))
	api.Get("/", func(ctx *fiber.Ctx) error {
		return ctx.Status(fiber.StatusOK).JSON(fiber.Map{
			"message": "Hello from api",
		})
	})

	billingCtrl := controllers.NewBillingController(h.svc.Billing, h.svc.Users, h.svc.Locker)
	b := api.Group("/billing", middleware.RequireIdentity(h.svc.Verifier), middleware.RequireAPISessionAuth)
	b.Get("/subscription", billingCtrl.HandleGetSubscription)
	b.Get("/can-subscribe", billingCtrl.HandleCanSubscribe)
	b.Get("/tiers", billingCtrl.HandleGetTiers)
	b.Post("/checkout", billingCtrl.HandleCheckout)
	b.Post("/upgrade", billingCtrl.HandleUpgrade)
	b.Post("/cancel", billingCtrl.HandleCancel)
	b.Post("/reactivate", billingCtrl.HandleReactivate)
	b.Get("/sync", billingCtrl.HandleSyncActions)
	b.Post("/sync", billingCtrl.HandleSync)
}

func NewApiRouter(svc Services) *ApiRouter {
	return &ApiRouter{svc: svc}
}
