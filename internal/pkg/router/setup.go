package router

import (
	"github.com/ManuelReschke/SaaSBase/app/controllers"
	"github.com/ManuelReschke/SaaSBase/internal/pkg/billing"
	"github.com/ManuelReschke/SaaSBase/internal/pkg/identity"
	"github.com/ManuelReschke/SaaSBase/internal/pkg/jobqueue"
	"github.com/ManuelReschke/SaaSBase/internal/pkg/middleware"
	"github.com/gofiber/fiber/v2"
)

type Router interface {
	InstallRouter(app *fiber.App)
}

// Services carries the wired collaborators the routes are built from.
type Services struct {
	Billing        *billing.Service
	Users          *identity.Service
	Verifier       middleware.TokenVerifier
	Locker         jobqueue.Locker
	HealthChecks   map[string]controllers.HealthCheck
	LimiterStorage fiber.Storage

	BillingWebhookSecret  string
	IdentityWebhookSecret string
	CronSecret            string
	Dev                   bool
}

func InstallRouter(app *fiber.App, svc Services) {
	// Webhooks and cron are registered before the API group so that the
	// rate limiter and the identity middleware never apply to them.
	setup(app, NewHttpRouter(svc), NewApiRouter(svc))
}

func setup(app *fiber.App, router ...Router) {
	for _, r := range router {
		r.InstallRouter(app)
	}
}
