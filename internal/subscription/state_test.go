package subscription

import "testing"

func TestTierOrder(t *testing.T) {
	order := []Tier{TierNone, TierLite, TierPlus, TierPro}

	for i, lower := range order {
		for j, higher := range order {
			got := higher.AtLeast(lower)
			want := j >= i
			if got != want {
				t.Errorf("%s.AtLeast(%s) = %v, want %v", higher, lower, got, want)
			}
		}
	}
}

func TestParseTierUnknownDegradesToNone(t *testing.T) {
	cases := []string{"", "premium", "PRO", "gold", "none"}
	for _, s := range cases {
		if got := ParseTier(s); got != TierNone {
			t.Errorf("ParseTier(%q) = %s, want none", s, got)
		}
	}

	for _, s := range []string{"lite", "plus", "pro"} {
		if got := ParseTier(s); string(got) != s {
			t.Errorf("ParseTier(%q) = %s, want %s", s, got, s)
		}
	}
}

func TestDeriveStatus(t *testing.T) {
	cases := []struct {
		name                      string
		isActive, onHold, inGrace bool
		want                      Status
	}{
		{"inactive", false, false, false, StatusInactive},
		{"inactive wins over hold", false, true, false, StatusInactive},
		{"inactive wins over grace", false, false, true, StatusInactive},
		{"active", true, false, false, StatusActive},
		{"hold", true, true, false, StatusAccountHold},
		{"grace", true, false, true, StatusGracePeriod},
		{"hold wins over grace", true, true, true, StatusAccountHold},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := DeriveStatus(tc.isActive, tc.onHold, tc.inGrace); got != tc.want {
				t.Errorf("DeriveStatus(%v, %v, %v) = %s, want %s",
					tc.isActive, tc.onHold, tc.inGrace, got, tc.want)
			}
		})
	}
}

func TestStateHasPremiumAccess(t *testing.T) {
	cases := []struct {
		name string
		st   State
		want bool
	}{
		{"active paid tier", State{IsActive: true, Tier: TierLite}, true},
		{"active pro", State{IsActive: true, Tier: TierPro}, true},
		{"inactive", State{IsActive: false, Tier: TierPro}, false},
		{"active but no tier", State{IsActive: true, Tier: TierNone}, false},
		{"account hold revokes", State{IsActive: true, Tier: TierPlus, OnAccountHold: true}, false},
		{"grace period keeps access", State{IsActive: true, Tier: TierPlus, InGracePeriod: true}, true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.st.HasPremiumAccess(); got != tc.want {
				t.Errorf("HasPremiumAccess() = %v, want %v", got, tc.want)
			}
		})
	}
}
