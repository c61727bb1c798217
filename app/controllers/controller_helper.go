package controllers

import (
	"errors"
	"strings"

	"github.com/ManuelReschke/SaaSBase/internal/pkg/billing"
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"
)

var validate = validator.New()

func jsonError(c *fiber.Ctx, status int, code, message string) error {
	return c.Status(status).JSON(fiber.Map{"error": code, "message": message})
}

// headerFunc adapts fiber's header getter for signature verification.
func headerFunc(c *fiber.Ctx) billing.HeaderFunc {
	return func(name string) string {
		return c.Get(name)
	}
}

// GetClientIP returns the originating client address, honoring Cloudflare
// and X-Forwarded-For before falling back to the socket address.
func GetClientIP(c *fiber.Ctx) string {
	if ip := strings.TrimSpace(c.Get("CF-Connecting-IP")); ip != "" {
		return ip
	}
	if xff := c.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}
	return strings.TrimPrefix(c.IP(), "::ffff:")
}

var operationStatus = map[billing.OperationKind]int{
	billing.OperationNoop:           fiber.StatusOK,
	billing.OperationNotAllowed:     fiber.StatusConflict,
	billing.OperationForbidden:      fiber.StatusForbidden,
	billing.OperationRetryLater:     fiber.StatusServiceUnavailable,
	billing.OperationContactSupport: fiber.StatusBadGateway,
	billing.OperationInvalid:        fiber.StatusBadRequest,
}

// billingError writes the JSON response for a failed billing call.
func billingError(c *fiber.Ctx, action string, err error) error {
	var opErr *billing.OperationError
	switch {
	case errors.As(err, &opErr):
		if opErr.Err != nil {
			log.Warnf("[Billing] %s failed (%s): %v", action, opErr.Kind, opErr.Err)
		}
		if opErr.Kind == billing.OperationNoop {
			return c.JSON(fiber.Map{"ok": true, "noop": true, "code": opErr.Code, "message": opErr.Message})
		}
		status, ok := operationStatus[opErr.Kind]
		if !ok {
			status = fiber.StatusInternalServerError
		}
		return jsonError(c, status, opErr.Code, opErr.Message)
	case errors.Is(err, billing.ErrOwnerRequired):
		return jsonError(c, fiber.StatusUnauthorized, "unauthorized", "Missing or invalid authentication")
	case errors.Is(err, billing.ErrProviderNotConfigured):
		return jsonError(c, fiber.StatusServiceUnavailable, "billing_not_configured", "Billing is not configured")
	default:
		log.Errorf("[Billing] %s failed: %v", action, err)
		return jsonError(c, fiber.StatusInternalServerError, "internal_server_error", "Failed to "+action)
	}
}
