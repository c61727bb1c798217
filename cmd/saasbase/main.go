package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/gofiber/contrib/swagger"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"github.com/ManuelReschke/SaaSBase/app/controllers"
	"github.com/ManuelReschke/SaaSBase/internal/pkg/billing"
	"github.com/ManuelReschke/SaaSBase/internal/pkg/cache"
	"github.com/ManuelReschke/SaaSBase/internal/pkg/database"
	"github.com/ManuelReschke/SaaSBase/internal/pkg/env"
	"github.com/ManuelReschke/SaaSBase/internal/pkg/identity"
	"github.com/ManuelReschke/SaaSBase/internal/pkg/jobqueue"
	"github.com/ManuelReschke/SaaSBase/internal/pkg/router"
)

func main() {
	app, manager := NewApplication()
	manager.Start()

	go func() {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
		<-quit
		log.Info("[Server] Shutting down...")
		manager.Stop()
		_ = app.Shutdown()
	}()

	if err := app.Listen(fmt.Sprintf("%s:%s", env.GetEnv("APP_HOST", "localhost"), env.GetEnv("APP_PORT", "4000"))); err != nil {
		log.Fatal(err)
	}
}

func NewApplication() (*fiber.App, *jobqueue.Manager) {
	env.SetupEnvFile()
	database.SetupDatabase()
	cache.SetupCache()

	// Find the project root so the OpenAPI file resolves from cmd/saasbase too
	basePath := ""
	for _, path := range []string{"./", "../../", "../../../"} {
		if _, err := os.Stat(path + "public/docs/v1/openapi.yml"); err == nil {
			basePath = path
			break
		}
	}

	cfg := billing.ConfigFromEnv()
	if err := cfg.Validate(); err != nil {
		log.Fatalf("[Billing] Invalid configuration: %v", err)
	}
	provider := billing.NewPolarClientFromEnv()
	billingSvc := billing.NewServiceFromDB(database.GetDB(), provider, cfg)
	users := identity.NewServiceFromDB(database.GetDB())

	verifier, err := identity.NewVerifierFromEnv()
	if err != nil {
		log.Warnf("[Identity] Session verification disabled: %v", err)
	}

	redisClient := cache.GetClient()
	locker := cache.NewLocker(redisClient)

	app := fiber.New(fiber.Config{
		AppName:   "SaaSBase",
		BodyLimit: 1 << 20,
	})

	// recovery and logging
	app.Use(recover.New(), logger.New())

	// SWAGGER / OPENAPI
	if basePath != "" {
		app.Use(swagger.New(swagger.Config{
			BasePath: "/docs/api/",
			FilePath: basePath + "public/docs/v1/openapi.yml",
			Path:     "v1",
		}))
	} else {
		log.Warn("[Server] openapi.yml not found, API docs disabled")
	}

	svc := router.Services{
		Billing:        billingSvc,
		Users:          users,
		Locker:         locker,
		LimiterStorage: router.NewLimiterStorage(redisClient),
		HealthChecks: map[string]controllers.HealthCheck{
			"database": func(ctx context.Context) error { return database.Ping(ctx, database.GetDB()) },
			"cache":    func(ctx context.Context) error { return cache.Ping(ctx, redisClient) },
			"provider": func(ctx context.Context) error {
				_, err := provider.ListSubscriptions(ctx, 1, 1)
				return err
			},
		},
		BillingWebhookSecret:  cfg.WebhookSecret,
		IdentityWebhookSecret: env.GetEnv("CLERK_WEBHOOK_SECRET", ""),
		CronSecret:            env.GetEnv("CRON_SECRET", ""),
		Dev:                   env.IsDev(),
	}
	if verifier != nil {
		svc.Verifier = verifier
	}

	// ROUTER
	router.InstallRouter(app, svc)

	return app, jobqueue.NewManagerFromEnv(billingSvc, locker)
}
