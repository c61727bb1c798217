package billing

import (
	"strings"

	"github.com/ManuelReschke/SaaSBase/app/models"
)

// NormalizeProviderStatus maps a provider status onto the locally stored set.
// An active subscription that will not renew is stored as canceled so the
// grace period is preserved regardless of event ordering.
func NormalizeProviderStatus(status string, cancelAtPeriodEnd bool) string {
	s := strings.ToLower(strings.TrimSpace(status))
	switch s {
	case "active", "trialing":
		if cancelAtPeriodEnd {
			return models.SubscriptionStatusCanceled
		}
		return models.SubscriptionStatusActive
	case "canceled", "cancelled", "incomplete_expired", "revoked":
		return models.SubscriptionStatusCanceled
	case "past_due", "unpaid", "incomplete":
		return s
	default:
		return s
	}
}

// IsKnownStatus reports whether status is one of the stored statuses.
func IsKnownStatus(status string) bool {
	switch status {
	case models.SubscriptionStatusActive, models.SubscriptionStatusCanceled, models.SubscriptionStatusPastDue,
		models.SubscriptionStatusUnpaid, models.SubscriptionStatusIncomplete:
		return true
	}
	return false
}
