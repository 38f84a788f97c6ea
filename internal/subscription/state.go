// Package subscription implements the subscription state reconciler: a
// cache-coherence layer between the billing entitlement source, the durable
// canonical subscription store, and the device-local cache. Tier checks are
// served from the local cache and never block on the network.
package subscription

// Tier is a subscription entitlement level. Tiers form a strict total order
// with inheritance: pro covers plus, plus covers lite.
type Tier string

const (
	TierNone Tier = "none"
	TierLite Tier = "lite"
	TierPlus Tier = "plus"
	TierPro  Tier = "pro"
)

// tierLevels defines the fixed total order none < lite < plus < pro.
var tierLevels = map[Tier]int{
	TierNone: 0,
	TierLite: 1,
	TierPlus: 2,
	TierPro:  3,
}

// Level returns the tier's position in the total order. Unknown tiers map
// to the level of TierNone.
func (t Tier) Level() int {
	return tierLevels[t]
}

// AtLeast reports whether t is equal to or above other in the tier order.
func (t Tier) AtLeast(other Tier) bool {
	return t.Level() >= other.Level()
}

// ParseTier normalizes a stored tier string. Unknown values degrade to
// TierNone so a corrupt cache can never grant access.
func ParseTier(s string) Tier {
	switch Tier(s) {
	case TierLite, TierPlus, TierPro:
		return Tier(s)
	default:
		return TierNone
	}
}

// Status is the billing lifecycle status of a subscription.
type Status string

const (
	StatusInactive    Status = "inactive"
	StatusActive      Status = "active"
	StatusGracePeriod Status = "grace_period"
	StatusAccountHold Status = "account_hold"
)

// DeriveStatus computes the status from the raw flags. The flags are the
// stored truth; status is never persisted redundantly.
func DeriveStatus(isActive, onAccountHold, inGracePeriod bool) Status {
	switch {
	case !isActive:
		return StatusInactive
	case onAccountHold:
		return StatusAccountHold
	case inGracePeriod:
		return StatusGracePeriod
	default:
		return StatusActive
	}
}

// State is the complete subscription snapshot. Callers always supply the
// full state on update; partial field writes are not supported.
type State struct {
	IsActive      bool   `json:"is_active"`
	Tier          Tier   `json:"tier"`
	Period        string `json:"period"` // billing period identifier, e.g. "monthly", "yearly"
	StartTimeMs   int64  `json:"start_time_ms"`
	ExpiryTimeMs  int64  `json:"expiry_time_ms"`
	WillAutoRenew bool   `json:"will_auto_renew"`
	ProductID     string `json:"product_id"`
	PurchaseToken string `json:"purchase_token"`
	BasePlanID    string `json:"base_plan_id"`

	// Exactly one of the two lapse windows may be set at a time. The end
	// timestamps are 0 when the window does not apply.
	InGracePeriod    bool  `json:"in_grace_period"`
	GracePeriodEndMs int64 `json:"grace_period_end_ms"`
	OnAccountHold    bool  `json:"on_account_hold"`
	AccountHoldEndMs int64 `json:"account_hold_end_ms"`
}

// Status derives the lifecycle status from the snapshot's raw flags.
func (s State) Status() Status {
	return DeriveStatus(s.IsActive, s.OnAccountHold, s.InGracePeriod)
}

// HasPremiumAccess reports whether the snapshot grants premium features:
// active, on a paid tier, and not on account hold. A grace period still
// grants access.
func (s State) HasPremiumAccess() bool {
	return s.IsActive && s.Tier != TierNone && !s.OnAccountHold
}

// Document is the canonical subscription record mirrored to the durable
// store. It adds purchase metadata that never lives in the local cache.
type Document struct {
	State
	OrderID       string `json:"order_id"`
	IsNewPurchase bool   `json:"is_new_purchase"`
	UpdatedAtMs   int64  `json:"updated_at_ms"`
}
