package billing

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/aisaas-platform/aisaas/internal/database"
	"github.com/aisaas-platform/aisaas/internal/models"
	"github.com/aisaas-platform/aisaas/internal/store"
)

// Reconciler applies processor events to users and payments. Each event is
// claimed by id in the same transaction that applies it, so redelivery and
// concurrent delivery change state at most once.
type Reconciler struct {
	store      *store.Store
	logger     *zap.Logger
	periodDays int
	currency   string
}

func NewReconciler(st *store.Store, periodDays int, currency string, logger *zap.Logger) *Reconciler {
	if periodDays <= 0 {
		periodDays = 30
	}
	return &Reconciler{store: st, logger: logger, periodDays: periodDays, currency: currency}
}

// Apply processes ev. A returned error means nothing was committed and the
// processor should retry.
func (r *Reconciler) Apply(ctx context.Context, ev Event) (Outcome, error) {
	if ev.ID == "" {
		return Outcome{}, errors.New("event id is required")
	}

	out, err := retryOnConflict(func() (Outcome, error) {
		return r.applyTx(ctx, ev)
	})
	if err != nil {
		r.logger.Error("Billing event failed",
			zap.String("event_id", ev.ID), zap.String("type", ev.SourceType), zap.Error(err))
		return Outcome{}, fmt.Errorf("apply event %s: %w", ev.ID, err)
	}

	fields := []zap.Field{
		zap.String("event_id", ev.ID),
		zap.String("type", ev.SourceType),
		zap.String("outcome", string(out.Status)),
	}
	if out.Reason != "" {
		fields = append(fields, zap.String("reason", out.Reason))
	}
	r.logger.Info("Billing event processed", fields...)
	return out, nil
}

// applyTx claims and applies ev in one transaction.
func (r *Reconciler) applyTx(ctx context.Context, ev Event) (Outcome, error) {
	var out Outcome
	err := r.store.WithTx(ctx, func(tx *store.Store) error {
		claimed, err := tx.ClaimEvent(ctx, ev.ID, ev.SourceType)
		if err != nil {
			return err
		}
		if !claimed {
			out = Outcome{Status: Duplicate}
			return nil
		}

		out, err = r.apply(ctx, tx, ev)
		if err != nil {
			return err
		}
		return tx.FinishEvent(ctx, ev.ID, string(out.Status), out.Reason)
	})
	return out, err
}

// retryOnConflict runs fn a second time when it fails on a unique
// constraint. Two events carrying the same payment reference can both miss
// the row and race to insert it; the loser's transaction is rolled back
// and its retry finds the winner's row and updates it.
func retryOnConflict(fn func() (Outcome, error)) (Outcome, error) {
	out, err := fn()
	if err != nil && database.IsUniqueViolation(err) {
		return fn()
	}
	return out, err
}

func (r *Reconciler) apply(ctx context.Context, tx *store.Store, ev Event) (Outcome, error) {
	switch p := ev.Payload.(type) {
	case SubscriptionActivated:
		return r.activate(ctx, tx, ev, p)
	case SubscriptionStatusChanged:
		return r.statusChanged(ctx, tx, p)
	case PaymentSucceeded:
		return r.paymentSucceeded(ctx, tx, ev, p)
	case PaymentFailed:
		return r.markPayment(ctx, tx, p.ExternalPaymentRef, models.PaymentFailed)
	case PaymentRefunded:
		return r.markPayment(ctx, tx, p.ExternalPaymentRef, models.PaymentRefunded)
	}
	return ignored(ReasonUnhandledType), nil
}

func (r *Reconciler) activate(ctx context.Context, tx *store.Store, ev Event, p SubscriptionActivated) (Outcome, error) {
	user, reason, err := r.findPrincipal(ctx, tx, p.PrincipalRef, p.ExternalCustomerID, "")
	if err != nil || reason != "" {
		return ignored(reason), err
	}

	end := p.PeriodEnd
	if end.IsZero() {
		end = tx.Now().AddDate(0, 0, r.periodDays)
	}
	end = end.UTC()

	user.IsPro = true
	user.SubscriptionStatus = models.SubscriptionActive
	user.SubscriptionEndDate = &end
	if p.ExternalSubscriptionID != "" {
		user.SubscriptionID = &p.ExternalSubscriptionID
	}
	if user.StripeCustomerID == nil && p.ExternalCustomerID != "" {
		user.StripeCustomerID = &p.ExternalCustomerID
	}
	if err := tx.SaveSubscription(ctx, user); err != nil {
		return Outcome{}, fmt.Errorf("save subscription: %w", err)
	}

	err = r.recordSucceeded(ctx, tx, user, &models.Payment{
		ExternalRef:            optional(p.ExternalPaymentRef),
		ExternalCustomerID:     optional(p.ExternalCustomerID),
		ExternalSubscriptionID: optional(p.ExternalSubscriptionID),
		Amount:                 p.Amount,
		Currency:               p.Currency,
		PlanType:               models.PlanPro,
		Metadata:               withEvent(p.Metadata, ev.ID),
	})
	if err != nil {
		return Outcome{}, err
	}
	return Outcome{Status: Applied}, nil
}

func (r *Reconciler) statusChanged(ctx context.Context, tx *store.Store, p SubscriptionStatusChanged) (Outcome, error) {
	if !p.NewStatus.Valid() {
		return ignored(ReasonUnhandledStatus), nil
	}
	user, reason, err := r.findPrincipal(ctx, tx, "", p.ExternalCustomerID, p.ExternalSubscriptionID)
	if err != nil || reason != "" {
		return ignored(reason), err
	}

	user.SubscriptionStatus = p.NewStatus
	if p.ExternalSubscriptionID != "" {
		user.SubscriptionID = &p.ExternalSubscriptionID
	}
	switch {
	case p.NewStatus.Revokes():
		user.IsPro = false
	case p.NewStatus == models.SubscriptionActive:
		user.IsPro = true
		if p.PeriodEnd != nil && (user.SubscriptionEndDate == nil || p.PeriodEnd.After(*user.SubscriptionEndDate)) {
			end := p.PeriodEnd.UTC()
			user.SubscriptionEndDate = &end
		}
	}
	if err := tx.SaveSubscription(ctx, user); err != nil {
		return Outcome{}, fmt.Errorf("save subscription: %w", err)
	}
	return Outcome{Status: Applied}, nil
}

func (r *Reconciler) paymentSucceeded(ctx context.Context, tx *store.Store, ev Event, p PaymentSucceeded) (Outcome, error) {
	user, reason, err := r.findPrincipal(ctx, tx, p.PrincipalRef, p.ExternalCustomerID, "")
	if err != nil || reason != "" {
		return ignored(reason), err
	}

	plan := p.PlanType
	if !plan.Valid() {
		plan = models.PlanCreditsLegacy
	}
	err = r.recordSucceeded(ctx, tx, user, &models.Payment{
		ExternalRef:        optional(p.ExternalPaymentRef),
		ExternalCustomerID: optional(p.ExternalCustomerID),
		Amount:             p.Amount,
		Currency:           p.Currency,
		PlanType:           plan,
		Metadata:           withEvent(p.Metadata, ev.ID),
	})
	if err != nil {
		return Outcome{}, err
	}

	if plan == models.PlanPro {
		end := tx.Now().AddDate(0, 0, r.periodDays)
		if user.SubscriptionEndDate != nil && user.SubscriptionEndDate.After(end) {
			end = *user.SubscriptionEndDate
		}
		user.IsPro = true
		user.SubscriptionStatus = models.SubscriptionActive
		user.SubscriptionEndDate = &end
		if err := tx.SaveSubscription(ctx, user); err != nil {
			return Outcome{}, fmt.Errorf("save subscription: %w", err)
		}
	}
	return Outcome{Status: Applied}, nil
}

func (r *Reconciler) markPayment(ctx context.Context, tx *store.Store, ref string, status models.PaymentStatus) (Outcome, error) {
	if ref == "" {
		return ignored(ReasonUnknownPayment), nil
	}
	p, err := tx.GetPaymentByExternalRef(ctx, ref)
	if errors.Is(err, sql.ErrNoRows) {
		return ignored(ReasonUnknownPayment), nil
	}
	if err != nil {
		return Outcome{}, err
	}
	p.Status = status
	if err := tx.UpdatePayment(ctx, p); err != nil {
		return Outcome{}, fmt.Errorf("update payment: %w", err)
	}
	return Outcome{Status: Applied}, nil
}

// recordSucceeded upgrades the payment already recorded under the same
// external reference (the pending checkout or intent row) or inserts a new
// one. A concurrent insert of the same reference surfaces as a unique
// violation, which Apply retries.
func (r *Reconciler) recordSucceeded(ctx context.Context, tx *store.Store, user *models.User, p *models.Payment) error {
	if p.Currency == "" {
		p.Currency = r.currency
	}
	p.UserID = user.ID
	p.Status = models.PaymentSucceeded

	if p.ExternalRef != nil {
		existing, err := tx.GetPaymentByExternalRef(ctx, *p.ExternalRef)
		switch {
		case err == nil:
			existing.Status = models.PaymentSucceeded
			existing.PlanType = p.PlanType
			if p.Amount > 0 {
				existing.Amount = p.Amount
				existing.Currency = p.Currency
			}
			if existing.ExternalCustomerID == nil {
				existing.ExternalCustomerID = p.ExternalCustomerID
			}
			if existing.ExternalSubscriptionID == nil {
				existing.ExternalSubscriptionID = p.ExternalSubscriptionID
			}
			existing.Metadata = merge(existing.Metadata, p.Metadata)
			if err := tx.UpdatePayment(ctx, existing); err != nil {
				return fmt.Errorf("update payment: %w", err)
			}
			return nil
		case !errors.Is(err, sql.ErrNoRows):
			return err
		}
	}

	if err := tx.InsertPayment(ctx, p); err != nil {
		return fmt.Errorf("record payment: %w", err)
	}
	return nil
}

// findPrincipal locates the user an event refers to. A principal
// reference wins; otherwise the processor customer id, then the
// subscription id when the customer matches nobody. A non-empty reason means the event cannot be applied.
func (r *Reconciler) findPrincipal(ctx context.Context, tx *store.Store, ref, customerID, subscriptionID string) (*models.User, string, error) {
	if ref != "" {
		u, err := tx.GetUserByID(ctx, ref)
		if errors.Is(err, sql.ErrNoRows) {
			u, err = tx.GetUserByExternalID(ctx, ref)
		}
		if err == nil {
			return u, "", nil
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return nil, "", err
		}
	}

	var users []*models.User
	var err error
	if customerID != "" {
		users, err = tx.FindUsersByCustomerID(ctx, customerID)
		if err != nil {
			return nil, "", err
		}
	}
	// The subscription may be billed under a customer other than the one
	// stored on the user.
	if len(users) == 0 && subscriptionID != "" {
		users, err = tx.FindUsersBySubscriptionID(ctx, subscriptionID)
		if err != nil {
			return nil, "", err
		}
	}
	switch len(users) {
	case 0:
		return nil, ReasonUnknownPrincipal, nil
	case 1:
		return users[0], "", nil
	}
	return nil, ReasonAmbiguousPrincipal, nil
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func withEvent(m models.Metadata, eventID string) models.Metadata {
	return merge(m, models.Metadata{models.MetaEventID: eventID})
}

func merge(dst, src models.Metadata) models.Metadata {
	out := models.Metadata{}
	for k, v := range dst {
		out[k] = v
	}
	for k, v := range src {
		out[k] = v
	}
	return out
}
