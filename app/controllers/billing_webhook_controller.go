package controllers

import (
	"context"
	"errors"
	"time"

	"github.com/ManuelReschke/SaaSBase/internal/pkg/billing"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"
)

const webhookTimeout = 15 * time.Second

// BillingWebhookController receives billing provider deliveries.
type BillingWebhookController struct {
	billing *billing.Service
	secret  string
	now     func() time.Time
}

func NewBillingWebhookController(svc *billing.Service, secret string) *BillingWebhookController {
	return &BillingWebhookController{billing: svc, secret: secret, now: time.Now}
}

// signatureError maps verification failures to responses. Callers only reach
// the handler once the signature is valid.
func signatureError(c *fiber.Ctx, source string, err error) error {
	switch {
	case errors.Is(err, billing.ErrWebhookSecretMissing):
		log.Errorf("[Webhook] %s webhook secret is not configured", source)
		return jsonError(c, fiber.StatusForbidden, "webhook_not_configured", "Webhook secret not configured")
	case errors.Is(err, billing.ErrMissingSignature):
		return jsonError(c, fiber.StatusBadRequest, "missing_signature", "Missing webhook signature headers")
	default:
		log.Warnf("[Webhook] Rejected %s delivery from %s: %v", source, c.IP(), err)
		return jsonError(c, fiber.StatusForbidden, "invalid_signature", "Invalid webhook signature")
	}
}

func (h *BillingWebhookController) HandleWebhook(c *fiber.Ctx) error {
	payload := append([]byte(nil), c.BodyRaw()...)

	deliveryID, scheme, err := billing.VerifyBillingWebhook(payload, headerFunc(c), h.secret, h.now())
	if err != nil {
		return signatureError(c, "billing", err)
	}

	ctx, cancel := context.WithTimeout(c.UserContext(), webhookTimeout)
	defer cancel()

	result, err := h.billing.ProcessWebhook(ctx, deliveryID, payload)
	if err != nil {
		log.Errorf("[Webhook] Processing delivery %q (%s) failed: %v", deliveryID, scheme, err)
		return jsonError(c, fiber.StatusInternalServerError, "webhook_processing_failed", "Failed to process webhook")
	}
	if result.Duplicate {
		return c.JSON(fiber.Map{"ok": true, "duplicate": true})
	}
	return c.JSON(fiber.Map{"ok": true, "outcome": result.Outcome})
}
