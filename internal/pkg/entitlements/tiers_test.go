package entitlements

import "testing"

func TestHasFeatureAccess(t *testing.T) {
	tests := []struct {
		user, required string
		want           bool
	}{
		{"free", "free", true},
		{"free", "pro", false},
		{"pro", "pro", true},
		{"pro", "business", false},
		{"business", "pro", true},
		{"unknown", "pro", false},
	}
	for _, tt := range tests {
		if got := HasFeatureAccess(tt.user, tt.required); got != tt.want {
			t.Fatalf("HasFeatureAccess(%q, %q) = %v, want %v", tt.user, tt.required, got, tt.want)
		}
	}
}

func TestAvailableTiers(t *testing.T) {
	opts := AvailableTiers("pro")
	if len(opts) != 3 {
		t.Fatalf("expected 3 tiers, got %d", len(opts))
	}
	byTier := map[string]TierOption{}
	for _, o := range opts {
		byTier[o.Tier] = o
	}
	if !byTier["pro"].IsCurrent || byTier["pro"].IsUpgrade {
		t.Fatalf("pro should be current and not an upgrade: %+v", byTier["pro"])
	}
	if !byTier["business"].IsUpgrade {
		t.Fatalf("business should be an upgrade from pro")
	}
	if byTier["free"].IsUpgrade || byTier["free"].IsCurrent {
		t.Fatalf("free should be neither current nor upgrade: %+v", byTier["free"])
	}
}

func TestNormalizeTier(t *testing.T) {
	if NormalizeTier(" PRO ") != "pro" {
		t.Fatalf("expected pro")
	}
	if NormalizeTier("platinum") != "free" {
		t.Fatalf("expected unknown tier to map to free")
	}
	if IsValidTier("platinum") || !IsValidTier("business") {
		t.Fatalf("unexpected IsValidTier result")
	}
	if IsPaidTier("free") || !IsPaidTier("pro") {
		t.Fatalf("unexpected IsPaidTier result")
	}
}
