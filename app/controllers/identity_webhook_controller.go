package controllers

import (
	"context"
	"errors"
	"time"

	"github.com/ManuelReschke/SaaSBase/internal/pkg/billing"
	"github.com/ManuelReschke/SaaSBase/internal/pkg/identity"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"
)

// IdentityWebhookController mirrors identity provider user events.
type IdentityWebhookController struct {
	users  *identity.Service
	secret string
	now    func() time.Time
}

func NewIdentityWebhookController(users *identity.Service, secret string) *IdentityWebhookController {
	return &IdentityWebhookController{users: users, secret: secret, now: time.Now}
}

func (h *IdentityWebhookController) HandleWebhook(c *fiber.Ctx) error {
	payload := append([]byte(nil), c.BodyRaw()...)

	if err := billing.VerifySchemeSignature(payload, headerFunc(c), billing.SvixSignatureScheme, h.secret, h.now()); err != nil {
		return signatureError(c, "identity", err)
	}

	ctx, cancel := context.WithTimeout(c.UserContext(), webhookTimeout)
	defer cancel()

	eventType, err := h.users.HandleWebhook(ctx, payload, GetClientIP(c))
	if err != nil {
		if errors.Is(err, identity.ErrInvalidPayload) {
			log.Warnf("[Identity] Dropped %s webhook: %v", eventType, err)
			return jsonError(c, fiber.StatusBadRequest, "invalid_payload", "Invalid webhook payload")
		}
		log.Errorf("[Identity] Processing %s webhook failed: %v", eventType, err)
		return jsonError(c, fiber.StatusInternalServerError, "webhook_processing_failed", "Failed to process webhook")
	}
	return c.JSON(fiber.Map{"ok": true, "type": eventType})
}
