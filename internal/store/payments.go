package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/aisaas-platform/aisaas/internal/models"
)

const paymentColumns = `id, user_id, external_customer_id, external_ref, external_subscription_id,
	amount, currency, status, plan_type, metadata, created_at, updated_at`

func scanPayment(row rowScanner) (*models.Payment, error) {
	p := &models.Payment{}
	var customerID, ref, subID sql.NullString
	err := row.Scan(&p.ID, &p.UserID, &customerID, &ref, &subID,
		&p.Amount, &p.Currency, &p.Status, &p.PlanType, &p.Metadata, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}
	p.ExternalCustomerID = stringPtr(customerID)
	p.ExternalRef = stringPtr(ref)
	p.ExternalSubscriptionID = stringPtr(subID)
	p.CreatedAt = p.CreatedAt.UTC()
	p.UpdatedAt = p.UpdatedAt.UTC()
	return p, nil
}

// InsertPayment stores a new payment. A duplicate external_ref surfaces as
// a unique violation.
func (s *Store) InsertPayment(ctx context.Context, p *models.Payment) error {
	if p.ID == "" {
		p.ID = generateID()
	}
	now := s.now()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	p.CreatedAt = p.CreatedAt.UTC()
	p.UpdatedAt = now
	if p.Metadata == nil {
		p.Metadata = models.Metadata{}
	}

	_, err := s.exec(ctx, `
		INSERT INTO payments (`+paymentColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.UserID, nullString(p.ExternalCustomerID), nullString(p.ExternalRef),
		nullString(p.ExternalSubscriptionID), p.Amount, p.Currency, p.Status, p.PlanType,
		p.Metadata, p.CreatedAt, p.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert payment: %w", err)
	}
	return nil
}

// UpdatePayment rewrites the mutable fields of an existing payment.
func (s *Store) UpdatePayment(ctx context.Context, p *models.Payment) error {
	p.UpdatedAt = s.now()
	result, err := s.exec(ctx, `
		UPDATE payments SET external_customer_id = ?, external_subscription_id = ?,
			amount = ?, currency = ?, status = ?, plan_type = ?, metadata = ?, updated_at = ?
		WHERE id = ?`,
		nullString(p.ExternalCustomerID), nullString(p.ExternalSubscriptionID),
		p.Amount, p.Currency, p.Status, p.PlanType, p.Metadata, p.UpdatedAt, p.ID,
	)
	if err != nil {
		return err
	}
	return expectOne(result)
}

// GetPaymentByExternalRef finds the payment recorded for a processor
// payment or session reference.
func (s *Store) GetPaymentByExternalRef(ctx context.Context, ref string) (*models.Payment, error) {
	return scanPayment(s.queryRow(ctx, `SELECT `+paymentColumns+` FROM payments WHERE external_ref = ?`, ref))
}

// GetPayment loads one payment, scoped to userID when non-empty.
func (s *Store) GetPayment(ctx context.Context, id, userID string) (*models.Payment, error) {
	var w where
	w.add("id = ?", id)
	if userID != "" {
		w.add("user_id = ?", userID)
	}
	return scanPayment(s.queryRow(ctx, `SELECT `+paymentColumns+` FROM payments`+w.String(), w.args...))
}

func paymentWhere(filter models.PaymentFilter) *where {
	w := &where{}
	if filter.UserID != "" {
		w.add("user_id = ?", filter.UserID)
	}
	if filter.Status != "" {
		w.add("status = ?", filter.Status)
	}
	if filter.PlanType != "" {
		w.add("plan_type = ?", filter.PlanType)
	}
	return w
}

// ListPayments returns a newest-first page of payments.
func (s *Store) ListPayments(ctx context.Context, filter models.PaymentFilter, p models.Pagination) (models.Page[models.Payment], error) {
	p = p.Normalize()
	w := paymentWhere(filter)

	total, err := s.count(ctx, `SELECT COUNT(*) FROM payments`+w.String(), w.args...)
	if err != nil {
		return models.Page[models.Payment]{}, err
	}

	args := append(append([]any{}, w.args...), p.Limit, p.Offset())
	rows, err := s.query(ctx, `SELECT `+paymentColumns+` FROM payments`+w.String()+
		` ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?`, args...)
	if err != nil {
		return models.Page[models.Payment]{}, err
	}
	defer rows.Close()

	var items []models.Payment
	for rows.Next() {
		pay, err := scanPayment(rows)
		if err != nil {
			return models.Page[models.Payment]{}, err
		}
		items = append(items, *pay)
	}
	if err := rows.Err(); err != nil {
		return models.Page[models.Payment]{}, err
	}
	return models.NewPage(items, int(total), p), nil
}

// PaymentTotals is the payment side of the admin overview.
type PaymentTotals struct {
	Count     int
	Succeeded int
	Revenue   int64
}

// SumPayments computes payment counts and the succeeded-amount total.
func (s *Store) SumPayments(ctx context.Context) (PaymentTotals, error) {
	var t PaymentTotals
	var succeeded, revenue sql.NullInt64
	err := s.queryRow(ctx, `
		SELECT COUNT(*),
			SUM(CASE WHEN status = ? THEN 1 ELSE 0 END),
			SUM(CASE WHEN status = ? THEN amount ELSE 0 END)
		FROM payments`, models.PaymentSucceeded, models.PaymentSucceeded,
	).Scan(&t.Count, &succeeded, &revenue)
	if err != nil {
		return PaymentTotals{}, err
	}
	t.Succeeded = int(succeeded.Int64)
	t.Revenue = revenue.Int64
	return t, nil
}

// RevenuePoint is one succeeded payment used for time bucketing.
type RevenuePoint struct {
	Amount    int64
	CreatedAt time.Time
}

// SucceededPaymentsSince lists succeeded payment amounts created at or
// after t, oldest first.
func (s *Store) SucceededPaymentsSince(ctx context.Context, t time.Time) ([]RevenuePoint, error) {
	rows, err := s.query(ctx,
		`SELECT amount, created_at FROM payments WHERE status = ? AND created_at >= ? ORDER BY created_at`,
		models.PaymentSucceeded, t.UTC(),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var points []RevenuePoint
	for rows.Next() {
		var p RevenuePoint
		if err := rows.Scan(&p.Amount, &p.CreatedAt); err != nil {
			return nil, err
		}
		p.CreatedAt = p.CreatedAt.UTC()
		points = append(points, p)
	}
	return points, rows.Err()
}
