package entitlements

import (
	"strings"

	"github.com/ManuelReschke/SaaSBase/app/models"
)

// TierInfo describes one purchasable tier.
type TierInfo struct {
	Tier        string   `json:"tier"`
	Name        string   `json:"name"`
	Price       int      `json:"price"`
	Description string   `json:"description"`
	Features    []string `json:"features"`
}

// TierOption is a TierInfo annotated for a specific owner.
type TierOption struct {
	TierInfo
	IsCurrent bool `json:"isCurrent"`
	IsUpgrade bool `json:"isUpgrade"`
}

// Pricing is ordered from lowest to highest tier.
var Pricing = []TierInfo{
	{
		Tier:        models.TierFree,
		Name:        "Free",
		Price:       0,
		Description: "Get started with the basics",
		Features:    []string{"Core features", "Community support"},
	},
	{
		Tier:        models.TierPro,
		Name:        "Pro",
		Price:       20,
		Description: "For professionals and growing teams",
		Features:    []string{"Everything in Free", "Advanced features", "Priority support"},
	},
	{
		Tier:        models.TierBusiness,
		Name:        "Business",
		Price:       200,
		Description: "For organizations with advanced needs",
		Features:    []string{"Everything in Pro", "Team management", "Dedicated support"},
	},
}

// NormalizeTier lowercases a stored tier and maps unknown values to free.
func NormalizeTier(tier string) string {
	switch t := strings.ToLower(strings.TrimSpace(tier)); t {
	case models.TierPro, models.TierBusiness:
		return t
	default:
		return models.TierFree
	}
}

// IsValidTier reports whether tier is one of the known tiers.
func IsValidTier(tier string) bool {
	switch strings.ToLower(strings.TrimSpace(tier)) {
	case models.TierFree, models.TierPro, models.TierBusiness:
		return true
	}
	return false
}

// IsPaidTier reports whether tier is a known non-free tier.
func IsPaidTier(tier string) bool {
	t := strings.ToLower(strings.TrimSpace(tier))
	return t == models.TierPro || t == models.TierBusiness
}

// TierRank orders tiers: free < pro < business.
func TierRank(tier string) int {
	switch NormalizeTier(tier) {
	case models.TierBusiness:
		return 2
	case models.TierPro:
		return 1
	default:
		return 0
	}
}

// HasFeatureAccess reports whether userTier satisfies requiredTier.
func HasFeatureAccess(userTier, requiredTier string) bool {
	return TierRank(userTier) >= TierRank(requiredTier)
}

func PriceOf(tier string) int {
	t := NormalizeTier(tier)
	for _, info := range Pricing {
		if info.Tier == t {
			return info.Price
		}
	}
	return 0
}

// AvailableTiers annotates the pricing table relative to the current tier.
func AvailableTiers(current string) []TierOption {
	cur := NormalizeTier(current)
	curPrice := PriceOf(cur)
	out := make([]TierOption, 0, len(Pricing))
	for _, info := range Pricing {
		out = append(out, TierOption{
			TierInfo:  info,
			IsCurrent: info.Tier == cur,
			IsUpgrade: info.Price > curPrice,
		})
	}
	return out
}
