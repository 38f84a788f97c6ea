package subscription

import (
	"log"
	"sync"
	"time"

	"github.com/chathub/backend/internal/kvstore"
)

// Local cache keys. The whole snapshot is written in one bulk write; readers
// may see the previous snapshot or the new one, never a mix.
const (
	keyIsActive      = "sub_is_active"
	keyTier          = "sub_tier"
	keyPeriod        = "sub_period"
	keyStartTime     = "sub_start_time_ms"
	keyExpiryTime    = "sub_expiry_time_ms"
	keyAutoRenew     = "sub_will_auto_renew"
	keyProductID     = "sub_product_id"
	keyPurchaseToken = "sub_purchase_token"
	keyBasePlanID    = "sub_base_plan_id"
	keyInGrace       = "sub_in_grace_period"
	keyGraceEnd      = "sub_grace_period_end_ms"
	keyOnHold        = "sub_on_account_hold"
	keyHoldEnd       = "sub_account_hold_end_ms"
	keyPendingTier   = "sub_pending_tier"

	// keyPremiumActive is the legacy "is premium" flag re-derived after every
	// state change. Older call paths read only this key.
	keyPremiumActive = "premium_active"
)

// Manager owns the local subscription cache and answers all tier predicates.
// Reads never touch the network; they reflect the last reconciled snapshot.
type Manager struct {
	mu    sync.Mutex
	store kvstore.Store
}

// NewManager creates a reconciler over the given local cache store.
func NewManager(store kvstore.Store) *Manager {
	return &Manager{store: store}
}

// UpdateFromState atomically bulk-writes the complete snapshot into the
// local cache and re-derives the legacy premium flag. It must be called any
// time any field changes; callers always supply the full new state.
func (m *Manager) UpdateFromState(st State) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.store.SetMany(map[string]interface{}{
		keyIsActive:      st.IsActive,
		keyTier:          string(st.Tier),
		keyPeriod:        st.Period,
		keyStartTime:     st.StartTimeMs,
		keyExpiryTime:    st.ExpiryTimeMs,
		keyAutoRenew:     st.WillAutoRenew,
		keyProductID:     st.ProductID,
		keyPurchaseToken: st.PurchaseToken,
		keyBasePlanID:    st.BasePlanID,
		keyInGrace:       st.InGracePeriod,
		keyGraceEnd:      st.GracePeriodEndMs,
		keyOnHold:        st.OnAccountHold,
		keyHoldEnd:       st.AccountHoldEndMs,
	})
	m.derivePremiumLocked()
	m.logState("reconciled")
}

// Current reads the cached snapshot.
func (m *Manager) Current() State {
	return State{
		IsActive:         m.store.GetBool(keyIsActive),
		Tier:             ParseTier(m.store.GetString(keyTier)),
		Period:           m.store.GetString(keyPeriod),
		StartTimeMs:      m.store.GetInt64(keyStartTime),
		ExpiryTimeMs:     m.store.GetInt64(keyExpiryTime),
		WillAutoRenew:    m.store.GetBool(keyAutoRenew),
		ProductID:        m.store.GetString(keyProductID),
		PurchaseToken:    m.store.GetString(keyPurchaseToken),
		BasePlanID:       m.store.GetString(keyBasePlanID),
		InGracePeriod:    m.store.GetBool(keyInGrace),
		GracePeriodEndMs: m.store.GetInt64(keyGraceEnd),
		OnAccountHold:    m.store.GetBool(keyOnHold),
		AccountHoldEndMs: m.store.GetInt64(keyHoldEnd),
	}
}

// Status derives the lifecycle status from the cached flags.
func (m *Manager) Status() Status {
	return m.Current().Status()
}

// HasLiteTierOrHigher reports an active subscription at lite tier or above.
func (m *Manager) HasLiteTierOrHigher() bool {
	return m.hasTierOrHigher(TierLite)
}

// HasPlusTierOrHigher reports an active subscription at plus tier or above.
func (m *Manager) HasPlusTierOrHigher() bool {
	return m.hasTierOrHigher(TierPlus)
}

// HasProTier reports an active pro subscription.
func (m *Manager) HasProTier() bool {
	return m.hasTierOrHigher(TierPro)
}

func (m *Manager) hasTierOrHigher(want Tier) bool {
	if !m.store.GetBool(keyIsActive) {
		return false
	}
	return ParseTier(m.store.GetString(keyTier)).AtLeast(want)
}

// HasPremiumAccess reports whether the cached state grants premium features.
// A grace period still grants access; an account hold revokes it.
func (m *Manager) HasPremiumAccess() bool {
	return m.Current().HasPremiumAccess()
}

// SetGracePeriod enters or leaves the grace-period window. Entering forces
// the subscription active (the lapse is pending payment retry, access is
// still granted) and clears any account hold.
func (m *Manager) SetGracePeriod(active bool, endMs int64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !active {
		endMs = 0
	}
	entries := map[string]interface{}{
		keyInGrace:  active,
		keyGraceEnd: endMs,
	}
	if active {
		entries[keyIsActive] = true
		entries[keyOnHold] = false
		entries[keyHoldEnd] = int64(0)
	}
	m.store.SetMany(entries)
	m.derivePremiumLocked()
}

// SetAccountHold enters or leaves the account-hold window. Entering clears
// the active flag (access is revoked pending resolution) and any grace
// period.
func (m *Manager) SetAccountHold(active bool, endMs int64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !active {
		endMs = 0
	}
	entries := map[string]interface{}{
		keyOnHold:  active,
		keyHoldEnd: endMs,
	}
	if active {
		entries[keyIsActive] = false
		entries[keyInGrace] = false
		entries[keyGraceEnd] = int64(0)
	}
	m.store.SetMany(entries)
	m.derivePremiumLocked()
}

// StagePendingTier records a tier change that has been purchased but not yet
// confirmed by the canonical store (upgrade/downgrade staging).
func (m *Manager) StagePendingTier(t Tier) {
	m.store.SetString(keyPendingTier, string(t))
}

// PendingTier returns the staged tier, or TierNone when nothing is staged.
func (m *Manager) PendingTier() Tier {
	return ParseTier(m.store.GetString(keyPendingTier))
}

// ClearPendingTier drops the staged tier after the canonical store confirms.
func (m *Manager) ClearPendingTier() {
	m.store.Delete(keyPendingTier)
}

// derivePremiumLocked recomputes the legacy premium flag from the cached
// state and pushes it to the shared session key. Callers hold m.mu.
func (m *Manager) derivePremiumLocked() {
	st := State{
		IsActive:      m.store.GetBool(keyIsActive),
		Tier:          ParseTier(m.store.GetString(keyTier)),
		OnAccountHold: m.store.GetBool(keyOnHold),
	}
	m.store.SetBool(keyPremiumActive, st.HasPremiumAccess())
}

// logState writes the current snapshot to the log at reconciliation points.
func (m *Manager) logState(origin string) {
	st := m.Current()
	log.Printf("[subscription] %s tier=%s status=%s active=%v expiry=%s",
		origin, st.Tier, st.Status(), st.IsActive,
		time.UnixMilli(st.ExpiryTimeMs).Format(time.RFC3339))
}
