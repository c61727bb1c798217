package entitlements

import (
	"strings"
	"time"

	"github.com/ManuelReschke/SaaSBase/app/models"
)

// State is the discrete subscription state derived from a stored record.
type State string

const (
	StateFree                State = "free"
	StateActive              State = "active"
	StateCanceledGracePeriod State = "canceled_grace_period"
	StateCanceledExpired     State = "canceled_expired"
	StatePastDue             State = "past_due"
	StateIncomplete          State = "incomplete"
	StateUnpaid              State = "unpaid"
)

// Eligibility lists the billing actions currently permitted for an owner.
type Eligibility struct {
	CanCreateNew    bool       `json:"canCreateNew"`
	CanUpgrade      bool       `json:"canUpgrade"`
	CanCancel       bool       `json:"canCancel"`
	CanReactivate   bool       `json:"canReactivate"`
	State           State      `json:"currentState"`
	GracePeriodEnds *time.Time `json:"gracePeriodEnds,omitempty"`
}

type permissions struct {
	createNew, upgrade, cancel, reactivate bool
}

var permissionTable = map[State]permissions{
	StateFree:                {createNew: true, upgrade: true},
	StateActive:              {upgrade: true, cancel: true},
	StateCanceledGracePeriod: {createNew: true, reactivate: true},
	StateCanceledExpired:     {createNew: true, upgrade: true},
	StatePastDue:             {createNew: true, upgrade: true},
	StateIncomplete:          {createNew: true, upgrade: true},
	StateUnpaid:              {createNew: true, upgrade: true},
}

// CalculateState derives the state for a (status, tier, periodEnd) triple.
// A free tier always wins; a null status on a paid tier falls back to free.
func CalculateState(status, tier string, periodEnd *time.Time, now time.Time) State {
	if NormalizeTier(tier) == models.TierFree {
		return StateFree
	}
	switch strings.ToLower(strings.TrimSpace(status)) {
	case models.SubscriptionStatusActive:
		return StateActive
	case models.SubscriptionStatusCanceled:
		if periodEnd != nil && periodEnd.After(now) {
			return StateCanceledGracePeriod
		}
		return StateCanceledExpired
	case models.SubscriptionStatusPastDue:
		return StatePastDue
	case models.SubscriptionStatusIncomplete:
		return StateIncomplete
	case models.SubscriptionStatusUnpaid:
		return StateUnpaid
	default:
		return StateFree
	}
}

// ForState returns the permission set of a state. Unknown states get the
// free permissions.
func ForState(state State, periodEnd *time.Time) Eligibility {
	p, ok := permissionTable[state]
	if !ok {
		state = StateFree
		p = permissionTable[StateFree]
	}
	e := Eligibility{
		CanCreateNew:  p.createNew,
		CanUpgrade:    p.upgrade,
		CanCancel:     p.cancel,
		CanReactivate: p.reactivate,
		State:         state,
	}
	if state == StateCanceledGracePeriod && periodEnd != nil {
		end := *periodEnd
		e.GracePeriodEnds = &end
	}
	return e
}

// Calculate derives eligibility from a stored subscription row. A nil row is
// treated as the implicit free row.
func Calculate(sub *models.UserSubscription, now time.Time) Eligibility {
	if sub == nil {
		return ForState(StateFree, nil)
	}
	state := CalculateState(sub.Status, sub.Tier, sub.CurrentPeriodEnd, now)
	return ForState(state, sub.CurrentPeriodEnd)
}

// InGracePeriod reports whether a canceled subscription still grants access.
func InGracePeriod(sub *models.UserSubscription, now time.Time) bool {
	if sub == nil || sub.CurrentPeriodEnd == nil {
		return false
	}
	return strings.EqualFold(sub.Status, models.SubscriptionStatusCanceled) && sub.CurrentPeriodEnd.After(now)
}

// EffectiveTier is the tier the owner is entitled to right now: the stored
// tier while active or in grace, otherwise free.
func EffectiveTier(sub *models.UserSubscription, now time.Time) string {
	if sub == nil {
		return models.TierFree
	}
	tier := NormalizeTier(sub.Tier)
	if tier == models.TierFree {
		return tier
	}
	if strings.EqualFold(sub.Status, models.SubscriptionStatusActive) || InGracePeriod(sub, now) {
		return tier
	}
	return models.TierFree
}
