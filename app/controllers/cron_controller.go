package controllers

import (
	"context"
	"crypto/subtle"
	"strings"
	"time"

	"github.com/ManuelReschke/SaaSBase/internal/pkg/billing"
	"github.com/ManuelReschke/SaaSBase/internal/pkg/jobqueue"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"
)

const cronEndpoint = "/api/cron/sync-subscriptions"

// HealthCheck probes one dependency.
type HealthCheck func(ctx context.Context) error

// CronController serves the scheduled sync trigger and its health report.
type CronController struct {
	syncer jobqueue.StaleSyncer
	locker jobqueue.Locker
	secret string
	dev    bool
	checks map[string]HealthCheck
	now    func() time.Time
}

func NewCronController(syncer jobqueue.StaleSyncer, locker jobqueue.Locker, secret string, dev bool, checks map[string]HealthCheck) *CronController {
	return &CronController{
		syncer: syncer,
		locker: locker,
		secret: secret,
		dev:    dev,
		checks: checks,
		now:    time.Now,
	}
}

// RequireCronSecret compares the bearer token against CRON_SECRET. Without a
// secret, prod fails closed and dev lets the request through.
func (h *CronController) RequireCronSecret(c *fiber.Ctx) error {
	if h.secret == "" {
		if !h.dev {
			log.Error("[BillingSync] CRON_SECRET is not configured")
			return jsonError(c, fiber.StatusInternalServerError, "cron_not_configured", "CRON_SECRET is not configured")
		}
		log.Warn("[BillingSync] CRON_SECRET is not configured, allowing request in development")
		return c.Next()
	}

	token, ok := strings.CutPrefix(c.Get(fiber.HeaderAuthorization), "Bearer ")
	if !ok || subtle.ConstantTimeCompare([]byte(strings.TrimSpace(token)), []byte(h.secret)) != 1 {
		return jsonError(c, fiber.StatusUnauthorized, "unauthorized", "Invalid cron secret")
	}
	return c.Next()
}

// HandleSync runs the daily stale sync.
func (h *CronController) HandleSync(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.UserContext(), 10*time.Minute)
	defer cancel()

	var result *billing.BatchSyncResult
	ran, err := jobqueue.RunExclusive(ctx, h.locker, jobqueue.SyncLockKey, jobqueue.SyncLockTTL, func(ctx context.Context) error {
		var err error
		result, err = h.syncer.SyncStaleSubscriptions(ctx, billing.CronStaleAfter)
		return err
	})
	if err != nil {
		log.Errorf("[BillingSync] Scheduled sync failed: %v", err)
		return jsonError(c, fiber.StatusInternalServerError, "sync_failed", "Subscription sync failed")
	}
	if !ran {
		return c.JSON(fiber.Map{
			"ok":        true,
			"skipped":   true,
			"message":   "A subscription sync is already running",
			"timestamp": h.now().UTC(),
		})
	}

	log.Infof("[BillingSync] Scheduled run %s synced %d/%d subscriptions", result.RunID, result.SyncedCount, result.Total)
	return c.JSON(fiber.Map{
		"ok":          true,
		"runId":       result.RunID,
		"total":       result.Total,
		"syncedCount": result.SyncedCount,
		"errors":      result.Errors,
		"timestamp":   h.now().UTC(),
	})
}

// HandleHealth pings each dependency and reports the results.
func (h *CronController) HandleHealth(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.UserContext(), 5*time.Second)
	defer cancel()

	healthy := true
	checks := make(fiber.Map, len(h.checks))
	for name, check := range h.checks {
		if err := check(ctx); err != nil {
			healthy = false
			checks[name] = "error: " + err.Error()
			continue
		}
		checks[name] = "ok"
	}

	status, code, message := "healthy", fiber.StatusOK, "Subscription sync endpoint is operational"
	if !healthy {
		status, code, message = "unhealthy", fiber.StatusServiceUnavailable, "One or more dependencies are unavailable"
	}
	return c.Status(code).JSON(fiber.Map{
		"status":    status,
		"timestamp": h.now().UTC(),
		"checks":    checks,
		"endpoint":  cronEndpoint,
		"message":   message,
	})
}
