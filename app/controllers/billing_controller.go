package controllers

import (
	"context"
	"time"

	"github.com/ManuelReschke/SaaSBase/internal/pkg/billing"
	"github.com/ManuelReschke/SaaSBase/internal/pkg/entitlements"
	"github.com/ManuelReschke/SaaSBase/internal/pkg/jobqueue"
	"github.com/ManuelReschke/SaaSBase/internal/pkg/usercontext"
	"github.com/gofiber/fiber/v2"
)

const requestTimeout = 30 * time.Second

// Sync actions accepted by POST /api/billing/sync.
const (
	SyncActionUser      = "user"
	SyncActionStale     = "stale"
	SyncActionEmergency = "emergency"
)

// EmailLookup resolves the mirrored email of an owner for checkouts.
type EmailLookup interface {
	Email(ctx context.Context, externalID string) string
}

// BillingController serves the authenticated billing API.
type BillingController struct {
	billing *billing.Service
	users   EmailLookup
	locker  jobqueue.Locker
}

func NewBillingController(svc *billing.Service, users EmailLookup, locker jobqueue.Locker) *BillingController {
	return &BillingController{billing: svc, users: users, locker: locker}
}

type tierRequest struct {
	Tier string `json:"tier" validate:"required,oneof=pro business"`
}

type syncRequest struct {
	Action string `json:"action" validate:"omitempty,oneof=user stale emergency"`
}

func (h *BillingController) email(ctx context.Context, ownerID string) string {
	if h.users == nil {
		return ""
	}
	return h.users.Email(ctx, ownerID)
}

func parseTier(c *fiber.Ctx) (string, bool) {
	var req tierRequest
	if err := c.BodyParser(&req); err != nil {
		return "", false
	}
	if err := validate.Struct(req); err != nil {
		return "", false
	}
	return req.Tier, true
}

// HandleGetSubscription returns subscription info plus eligibility.
// ?sync=true forces a provider refresh.
func (h *BillingController) HandleGetSubscription(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.UserContext(), requestTimeout)
	defer cancel()

	status, err := h.billing.GetSubscriptionStatus(ctx, usercontext.GetOwnerID(c), c.QueryBool("sync"))
	if err != nil {
		return billingError(c, "load subscription", err)
	}
	return c.JSON(status)
}

func (h *BillingController) HandleCanSubscribe(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.UserContext(), requestTimeout)
	defer cancel()

	result, err := h.billing.CanCreateNewSubscription(ctx, usercontext.GetOwnerID(c))
	if err != nil {
		return billingError(c, "check subscription", err)
	}
	return c.JSON(result)
}

// HandleGetTiers lists pricing with the caller's current and upgrade flags.
func (h *BillingController) HandleGetTiers(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.UserContext(), requestTimeout)
	defer cancel()

	info, err := h.billing.GetUserSubscription(ctx, usercontext.GetOwnerID(c))
	if err != nil {
		return billingError(c, "load tiers", err)
	}
	return c.JSON(fiber.Map{
		"currentTier": info.Tier,
		"tiers":       entitlements.AvailableTiers(info.Tier),
	})
}

func (h *BillingController) HandleCheckout(c *fiber.Ctx) error {
	tier, ok := parseTier(c)
	if !ok {
		return jsonError(c, fiber.StatusBadRequest, "invalid_tier", "Tier must be one of: pro, business")
	}
	ctx, cancel := context.WithTimeout(c.UserContext(), requestTimeout)
	defer cancel()

	ownerID := usercontext.GetOwnerID(c)
	checkout, err := h.billing.CreateCheckout(ctx, ownerID, h.email(ctx, ownerID), tier)
	if err != nil {
		return billingError(c, "create checkout", err)
	}
	return c.JSON(fiber.Map{"checkoutId": checkout.ID, "url": checkout.URL})
}

func (h *BillingController) HandleUpgrade(c *fiber.Ctx) error {
	tier, ok := parseTier(c)
	if !ok {
		return jsonError(c, fiber.StatusBadRequest, "invalid_tier", "Tier must be one of: pro, business")
	}
	ctx, cancel := context.WithTimeout(c.UserContext(), requestTimeout)
	defer cancel()

	ownerID := usercontext.GetOwnerID(c)
	result, err := h.billing.Upgrade(ctx, ownerID, h.email(ctx, ownerID), tier)
	if err != nil {
		if result != nil && result.RequiresNewSubscription {
			return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{
				"error":                   "checkout_failed",
				"message":                 "Your previous subscription was canceled but the new checkout could not be created. Please subscribe again.",
				"previousSubscriptionId":  result.PreviousSubscriptionID,
				"requiresNewSubscription": true,
			})
		}
		return billingError(c, "upgrade subscription", err)
	}
	return c.JSON(fiber.Map{
		"checkoutId":             result.Checkout.ID,
		"url":                    result.Checkout.URL,
		"previousSubscriptionId": result.PreviousSubscriptionID,
	})
}

func (h *BillingController) HandleCancel(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.UserContext(), requestTimeout)
	defer cancel()

	result, err := h.billing.Cancel(ctx, usercontext.GetOwnerID(c))
	if err != nil {
		return billingError(c, "cancel subscription", err)
	}
	return c.JSON(fiber.Map{
		"ok":              true,
		"message":         "Your subscription will end at the close of the current billing period",
		"gracePeriodEnds": result.GracePeriodEnds,
	})
}

func (h *BillingController) HandleReactivate(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.UserContext(), requestTimeout)
	defer cancel()

	result, err := h.billing.Reactivate(ctx, usercontext.GetOwnerID(c))
	if err != nil {
		return billingError(c, "reactivate subscription", err)
	}
	return c.JSON(fiber.Map{
		"ok":              true,
		"message":         "Your subscription has been reactivated",
		"gracePeriodEnds": result.GracePeriodEnds,
	})
}

// HandleSyncActions describes the accepted sync actions.
func (h *BillingController) HandleSyncActions(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"actions": fiber.Map{
			SyncActionUser:      "Sync the current user's subscription from the billing provider",
			SyncActionStale:     "Sync all subscriptions not updated in the last 24 hours",
			SyncActionEmergency: "Sync the most recently updated subscriptions regardless of staleness",
		},
		"default": SyncActionUser,
	})
}

// HandleSync runs a manual sync. Batch actions share the periodic sync lock.
func (h *BillingController) HandleSync(c *fiber.Ctx) error {
	var req syncRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return jsonError(c, fiber.StatusBadRequest, "invalid_request", "Request body must be JSON")
		}
	}
	if err := validate.Struct(req); err != nil {
		return jsonError(c, fiber.StatusBadRequest, "invalid_action", "Action must be one of: user, stale, emergency")
	}

	ctx, cancel := context.WithTimeout(c.UserContext(), 10*time.Minute)
	defer cancel()

	switch req.Action {
	case SyncActionStale, SyncActionEmergency:
		var result *billing.BatchSyncResult
		ran, err := jobqueue.RunExclusive(ctx, h.locker, jobqueue.SyncLockKey, jobqueue.SyncLockTTL, func(ctx context.Context) error {
			var err error
			if req.Action == SyncActionStale {
				result, err = h.billing.SyncStaleSubscriptions(ctx, billing.CronStaleAfter)
			} else {
				result, err = h.billing.EmergencyFullSync(ctx)
			}
			return err
		})
		if err != nil {
			return billingError(c, "sync subscriptions", err)
		}
		if !ran {
			return jsonError(c, fiber.StatusConflict, "sync_in_progress", "A subscription sync is already running")
		}
		return c.JSON(fiber.Map{"action": req.Action, "result": result})
	default:
		result, err := h.billing.SyncUserSubscription(ctx, usercontext.GetOwnerID(c))
		if err != nil {
			return billingError(c, "sync subscription", err)
		}
		return c.JSON(fiber.Map{"action": SyncActionUser, "result": result})
	}
}
