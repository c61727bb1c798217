package billing

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Billing webhook event types.
const (
	EventSubscriptionCreated    = "subscription.created"
	EventSubscriptionUpdated    = "subscription.updated"
	EventSubscriptionActive     = "subscription.active"
	EventSubscriptionCanceled   = "subscription.canceled"
	EventSubscriptionUncanceled = "subscription.uncanceled"
	EventSubscriptionRevoked    = "subscription.revoked"
	EventCheckoutCreated        = "checkout.created"
	EventCheckoutUpdated        = "checkout.updated"
	EventCustomerCreated        = "customer.created"
	EventCustomerUpdated        = "customer.updated"
)

var informationalEvents = map[string]struct{}{
	EventCheckoutCreated: {},
	EventCheckoutUpdated: {},
	EventCustomerCreated: {},
	EventCustomerUpdated: {},
}

var (
	periodStartKeys = []string{"currentPeriodStart", "startedAt", "started_at", "current_period_start"}
	periodEndKeys   = []string{"currentPeriodEnd", "endsAt", "ends_at", "current_period_end"}
)

// webhookEnvelope is the outer shape of a billing webhook delivery.
type webhookEnvelope struct {
	Type string         `json:"type"`
	Data map[string]any `json:"data"`
}

// webhookSubscription is the normalized subscription carried by an event.
// Empty strings and nil times mean the field was absent or unparsable.
type webhookSubscription struct {
	ID                string
	OwnerID           string
	Tier              string
	ProductID         string
	Status            string
	CancelAtPeriodEnd bool
	PeriodStart       *time.Time
	PeriodEnd         *time.Time
	CanceledAt        *time.Time
	EndedAt           *time.Time
}

func parseWebhookEnvelope(payload []byte) (*webhookEnvelope, error) {
	var env webhookEnvelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return nil, fmt.Errorf("invalid webhook json: %w", err)
	}
	env.Type = strings.TrimSpace(env.Type)
	if env.Type == "" {
		return nil, errors.New("webhook payload missing type")
	}
	return &env, nil
}

// metadataSource returns the value of key from one metadata location.
type metadataSource func(data map[string]any, key string) (string, bool)

// metadataSources are tried in order; the first non-empty value wins.
var metadataSources = []metadataSource{
	func(data map[string]any, key string) (string, bool) {
		return lookupString(asMap(data["metadata"]), key)
	},
	func(data map[string]any, key string) (string, bool) {
		return lookupString(asMap(asMap(data["customer"])["metadata"]), key)
	},
	func(data map[string]any, key string) (string, bool) {
		return lookupString(asMap(asMap(data["checkout"])["metadata"]), key)
	},
}

func metadataValue(data map[string]any, key string) string {
	for _, source := range metadataSources {
		if v, ok := source(data, key); ok {
			return v
		}
	}
	return ""
}

func extractWebhookSubscription(data map[string]any) webhookSubscription {
	sub := webhookSubscription{
		ID:          firstString(data, "id"),
		OwnerID:     metadataValue(data, "userId"),
		Tier:        strings.ToLower(metadataValue(data, "tier")),
		ProductID:   firstString(data, "productId", "product_id"),
		Status:      strings.ToLower(firstString(data, "status")),
		PeriodStart: firstTimeKey(data, periodStartKeys...),
		PeriodEnd:   firstTimeKey(data, periodEndKeys...),
		CanceledAt:  firstTimeKey(data, "canceledAt", "canceled_at"),
		EndedAt:     firstTimeKey(data, "endedAt", "ended_at"),
	}
	if sub.ProductID == "" {
		sub.ProductID = firstString(asMap(data["product"]), "id")
	}
	sub.CancelAtPeriodEnd = firstBool(data, "cancelAtPeriodEnd", "cancel_at_period_end")
	return sub
}

func (s webhookSubscription) hasPeriod() bool {
	return s.PeriodStart != nil && s.PeriodEnd != nil
}

func asMap(v any) map[string]any {
	m, _ := v.(map[string]any)
	return m
}

func lookupString(m map[string]any, key string) (string, bool) {
	if m == nil {
		return "", false
	}
	s := stringValue(m[key])
	return s, s != ""
}

func firstString(m map[string]any, keys ...string) string {
	for _, key := range keys {
		if s, ok := lookupString(m, key); ok {
			return s
		}
	}
	return ""
}

func firstBool(m map[string]any, keys ...string) bool {
	for _, key := range keys {
		switch v := m[key].(type) {
		case bool:
			return v
		case string:
			if b, err := strconv.ParseBool(strings.TrimSpace(v)); err == nil {
				return b
			}
		}
	}
	return false
}

func firstTimeKey(m map[string]any, keys ...string) *time.Time {
	for _, key := range keys {
		if t := parseTime(stringValue(m[key])); t != nil {
			return t
		}
	}
	return nil
}

func firstTime(values ...string) *time.Time {
	for _, v := range values {
		if t := parseTime(v); t != nil {
			return t
		}
	}
	return nil
}

func stringValue(v any) string {
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case json.Number:
		return t.String()
	case bool:
		return strconv.FormatBool(t)
	default:
		return ""
	}
}

var timeLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02",
}

func parseTime(raw string) *time.Time {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			t = t.UTC()
			return &t
		}
	}
	return nil
}
