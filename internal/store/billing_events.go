package store

import (
	"context"
	"fmt"

	"github.com/aisaas-platform/aisaas/internal/models"
)

// ClaimEvent records an event id as being processed. It reports false when
// the id was already present. Call it inside the transaction that applies
// the event so the claim and the mutation commit together.
func (s *Store) ClaimEvent(ctx context.Context, id, eventType string) (bool, error) {
	result, err := s.exec(ctx, `
		INSERT INTO billing_events (id, type, outcome, reason, received_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (id) DO NOTHING`,
		id, eventType, "processing", "", s.now(),
	)
	if err != nil {
		return false, fmt.Errorf("claim event: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// FinishEvent stores the outcome of a claimed event.
func (s *Store) FinishEvent(ctx context.Context, id, outcome, reason string) error {
	result, err := s.exec(ctx,
		`UPDATE billing_events SET outcome = ?, reason = ? WHERE id = ?`,
		outcome, reason, id,
	)
	if err != nil {
		return err
	}
	return expectOne(result)
}

// GetBillingEvent loads a processed event record.
func (s *Store) GetBillingEvent(ctx context.Context, id string) (*models.BillingEvent, error) {
	ev := &models.BillingEvent{}
	err := s.queryRow(ctx,
		`SELECT id, type, outcome, reason, received_at FROM billing_events WHERE id = ?`, id,
	).Scan(&ev.ID, &ev.Type, &ev.Outcome, &ev.Reason, &ev.ReceivedAt)
	if err != nil {
		return nil, err
	}
	ev.ReceivedAt = ev.ReceivedAt.UTC()
	return ev, nil
}
