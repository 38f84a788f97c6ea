// Package substore provides the PostgreSQL-backed canonical subscription
// store: one current-state row per user, upserted with merge semantics, and
// an append-only history table for past states.
package substore

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/chathub/backend/internal/subscription"
)

// Store manages canonical subscription documents in PostgreSQL.
type Store struct {
	db *sql.DB
}

// HistoryEntry is one past subscription state, newest first.
type HistoryEntry struct {
	UserID    string
	Doc       subscription.Document
	UpdatedAt time.Time
}

// NewStore creates a store backed by the given database handle.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// SaveFullState upserts the user's current subscription state and appends
// the previous state (if any) to the history table in one transaction.
// Resending the same document is safe: the upsert is idempotent and the
// history append is keyed on the previous row's updated_at.
func (s *Store) SaveFullState(ctx context.Context, uid string, doc subscription.Document) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("substore: begin: %w", err)
	}
	defer tx.Rollback()

	// Move the previous current state into history. ON CONFLICT keeps the
	// append idempotent when a retried write re-lands.
	const archive = `
		INSERT INTO subscription_history
			(user_id, is_active, tier, period, start_time_ms, expiry_time_ms,
			 will_auto_renew, product_id, purchase_token, base_plan_id,
			 in_grace_period, grace_period_end_ms, on_account_hold,
			 account_hold_end_ms, order_id, is_new_purchase, updated_at)
		SELECT user_id, is_active, tier, period, start_time_ms, expiry_time_ms,
			 will_auto_renew, product_id, purchase_token, base_plan_id,
			 in_grace_period, grace_period_end_ms, on_account_hold,
			 account_hold_end_ms, order_id, is_new_purchase, updated_at
		FROM subscription_current
		WHERE user_id = $1
		ON CONFLICT (user_id, updated_at) DO NOTHING`
	if _, err := tx.ExecContext(ctx, archive, uid); err != nil {
		return fmt.Errorf("substore: archive previous state: %w", err)
	}

	const upsert = `
		INSERT INTO subscription_current
			(user_id, is_active, tier, period, start_time_ms, expiry_time_ms,
			 will_auto_renew, product_id, purchase_token, base_plan_id,
			 in_grace_period, grace_period_end_ms, on_account_hold,
			 account_hold_end_ms, order_id, is_new_purchase, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17)
		ON CONFLICT (user_id) DO UPDATE SET
			is_active = EXCLUDED.is_active,
			tier = EXCLUDED.tier,
			period = EXCLUDED.period,
			start_time_ms = EXCLUDED.start_time_ms,
			expiry_time_ms = EXCLUDED.expiry_time_ms,
			will_auto_renew = EXCLUDED.will_auto_renew,
			product_id = EXCLUDED.product_id,
			purchase_token = EXCLUDED.purchase_token,
			base_plan_id = EXCLUDED.base_plan_id,
			in_grace_period = EXCLUDED.in_grace_period,
			grace_period_end_ms = EXCLUDED.grace_period_end_ms,
			on_account_hold = EXCLUDED.on_account_hold,
			account_hold_end_ms = EXCLUDED.account_hold_end_ms,
			order_id = EXCLUDED.order_id,
			is_new_purchase = EXCLUDED.is_new_purchase,
			updated_at = EXCLUDED.updated_at`

	updatedAt := time.UnixMilli(doc.UpdatedAtMs).UTC()
	if doc.UpdatedAtMs == 0 {
		updatedAt = time.Now().UTC()
	}

	if _, err := tx.ExecContext(ctx, upsert,
		uid,
		doc.IsActive,
		string(doc.Tier),
		doc.Period,
		doc.StartTimeMs,
		doc.ExpiryTimeMs,
		doc.WillAutoRenew,
		doc.ProductID,
		doc.PurchaseToken,
		doc.BasePlanID,
		doc.InGracePeriod,
		doc.GracePeriodEndMs,
		doc.OnAccountHold,
		doc.AccountHoldEndMs,
		doc.OrderID,
		doc.IsNewPurchase,
		updatedAt,
	); err != nil {
		return fmt.Errorf("substore: upsert current state: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("substore: commit: %w", err)
	}
	return nil
}

// CurrentState returns the user's canonical subscription document, or nil
// if none exists.
func (s *Store) CurrentState(ctx context.Context, uid string) (*subscription.Document, error) {
	const query = `
		SELECT is_active, tier, period, start_time_ms, expiry_time_ms,
			will_auto_renew, product_id, purchase_token, base_plan_id,
			in_grace_period, grace_period_end_ms, on_account_hold,
			account_hold_end_ms, order_id, is_new_purchase, updated_at
		FROM subscription_current
		WHERE user_id = $1`

	var (
		doc       subscription.Document
		tier      string
		updatedAt time.Time
	)
	err := s.db.QueryRowContext(ctx, query, uid).Scan(
		&doc.IsActive, &tier, &doc.Period, &doc.StartTimeMs, &doc.ExpiryTimeMs,
		&doc.WillAutoRenew, &doc.ProductID, &doc.PurchaseToken, &doc.BasePlanID,
		&doc.InGracePeriod, &doc.GracePeriodEndMs, &doc.OnAccountHold,
		&doc.AccountHoldEndMs, &doc.OrderID, &doc.IsNewPurchase, &updatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("substore: current state: %w", err)
	}

	doc.Tier = subscription.ParseTier(tier)
	doc.UpdatedAtMs = updatedAt.UnixMilli()
	return &doc, nil
}

// History returns past subscription states for a user, newest first. The
// current state lives in its own table, so it is excluded by construction.
func (s *Store) History(ctx context.Context, uid string, limit, offset int) ([]HistoryEntry, error) {
	const query = `
		SELECT is_active, tier, period, start_time_ms, expiry_time_ms,
			will_auto_renew, product_id, purchase_token, base_plan_id,
			in_grace_period, grace_period_end_ms, on_account_hold,
			account_hold_end_ms, order_id, is_new_purchase, updated_at
		FROM subscription_history
		WHERE user_id = $1
		ORDER BY updated_at DESC
		LIMIT $2 OFFSET $3`

	rows, err := s.db.QueryContext(ctx, query, uid, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("substore: history: %w", err)
	}
	defer rows.Close()

	var entries []HistoryEntry
	for rows.Next() {
		var (
			e    HistoryEntry
			tier string
		)
		if err := rows.Scan(
			&e.Doc.IsActive, &tier, &e.Doc.Period, &e.Doc.StartTimeMs,
			&e.Doc.ExpiryTimeMs, &e.Doc.WillAutoRenew, &e.Doc.ProductID,
			&e.Doc.PurchaseToken, &e.Doc.BasePlanID, &e.Doc.InGracePeriod,
			&e.Doc.GracePeriodEndMs, &e.Doc.OnAccountHold,
			&e.Doc.AccountHoldEndMs, &e.Doc.OrderID, &e.Doc.IsNewPurchase,
			&e.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("substore: history scan: %w", err)
		}
		e.UserID = uid
		e.Doc.Tier = subscription.ParseTier(tier)
		e.Doc.UpdatedAtMs = e.UpdatedAt.UnixMilli()
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
