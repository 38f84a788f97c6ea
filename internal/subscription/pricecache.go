package subscription

import (
	"fmt"
	"time"
)

// Price cache keys are derived per (product, period); the freshness
// timestamp is a single value for the whole cache and is only exposed for
// staleness decisions, never enforced.
const (
	keyPriceRefreshedAt = "price_cache_refreshed_at_ms"
	priceKeyFmt         = "price:%s:%s"        // price:<product_id>:<period>
	priceMicrosKeyFmt   = "price_micros:%s:%s" // price_micros:<product_id>:<period>
)

// SetPrice caches the formatted display price and its numeric micros value
// for a (productID, period) pair and refreshes the cache timestamp.
func (m *Manager) SetPrice(productID, period, formatted string, micros int64) {
	m.store.SetMany(map[string]interface{}{
		fmt.Sprintf(priceKeyFmt, productID, period):       formatted,
		fmt.Sprintf(priceMicrosKeyFmt, productID, period): micros,
		keyPriceRefreshedAt:                               time.Now().UnixMilli(),
	})
}

// Price returns the cached display price and micros for a (productID,
// period) pair. ok is false when the pair has never been cached.
func (m *Manager) Price(productID, period string) (formatted string, micros int64, ok bool) {
	formatted = m.store.GetString(fmt.Sprintf(priceKeyFmt, productID, period))
	if formatted == "" {
		return "", 0, false
	}
	micros = m.store.GetInt64(fmt.Sprintf(priceMicrosKeyFmt, productID, period))
	return formatted, micros, true
}

// PriceRefreshedAt returns when the price cache was last written, or the
// zero time if never. Staleness policy is the caller's decision.
func (m *Manager) PriceRefreshedAt() time.Time {
	ms := m.store.GetInt64(keyPriceRefreshedAt)
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}
