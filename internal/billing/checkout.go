package billing

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/aisaas-platform/aisaas/internal/apperr"
	"github.com/aisaas-platform/aisaas/internal/models"
	"github.com/aisaas-platform/aisaas/internal/store"
)

// ErrProcessorDisabled is returned when no billing processor is configured.
var ErrProcessorDisabled = errors.New("billing processor is not configured")

// Processor is the checkout side of the billing provider.
type Processor interface {
	CreateCustomer(ctx context.Context, u *models.User) (string, error)
	CreateCheckoutSession(ctx context.Context, req CheckoutRequest) (*CheckoutSession, error)
	CreatePaymentIntent(ctx context.Context, req CheckoutRequest) (*PaymentIntent, error)
}

// Credit purchases are whole currency units; one unit buys one credit.
const (
	MinCreditPurchase = 1
	MaxCreditPurchase = 1000
)

// CheckoutRequest describes a subscription checkout for one user.
type CheckoutRequest struct {
	UserID     string
	ExternalID string
	CustomerID string
	PlanType   models.PlanType
	Amount     int64
	Currency   string
}

// CheckoutSession is the processor's hosted checkout.
type CheckoutSession struct {
	ID  string `json:"sessionId"`
	URL string `json:"url"`
}

// PaymentIntent is a one-off charge the client confirms with its secret.
type PaymentIntent struct {
	ID           string `json:"paymentIntentId"`
	ClientSecret string `json:"clientSecret"`
}

// CreditPurchase is the response to a credit payment request.
type CreditPurchase struct {
	PaymentIntent
	Credits int64 `json:"credits"`
}

// Service starts checkouts and lists payment history.
type Service struct {
	store     *store.Store
	processor Processor
	amount    int64
	currency  string
	logger    *zap.Logger
}

// NewService builds the billing service. A nil processor disables checkout.
func NewService(st *store.Store, processor Processor, amount int64, currency string, logger *zap.Logger) *Service {
	return &Service{store: st, processor: processor, amount: amount, currency: currency, logger: logger}
}

// StartCheckout opens a Pro checkout for u, creating the processor
// customer first if u has none, and records a pending payment keyed by
// the session id so the completion event can settle it.
func (s *Service) StartCheckout(ctx context.Context, u *models.User) (*CheckoutSession, error) {
	if s.processor == nil {
		return nil, apperr.Unavailable(ErrProcessorDisabled)
	}

	customerID, err := s.ensureCustomer(ctx, u)
	if err != nil {
		return nil, err
	}

	session, err := s.processor.CreateCheckoutSession(ctx, CheckoutRequest{
		UserID:     u.ID,
		ExternalID: u.ExternalID,
		CustomerID: customerID,
		PlanType:   models.PlanPro,
		Amount:     s.amount,
		Currency:   s.currency,
	})
	if err != nil {
		return nil, apperr.Unavailable(fmt.Errorf("create checkout session: %w", err))
	}

	err = s.store.InsertPayment(ctx, &models.Payment{
		UserID:             u.ID,
		ExternalCustomerID: &customerID,
		ExternalRef:        &session.ID,
		Amount:             s.amount,
		Currency:           s.currency,
		Status:             models.PaymentPending,
		PlanType:           models.PlanPro,
		Metadata:           models.Metadata{models.MetaSessionID: session.ID},
	})
	if err != nil {
		return nil, fmt.Errorf("record pending payment: %w", err)
	}

	s.logger.Info("Checkout started", zap.String("user_id", u.ID), zap.String("session_id", session.ID))
	return session, nil
}

// StartCreditPayment opens a one-off payment of units whole currency units
// and records it as a pending credits payment keyed by the intent id, so
// success, failure and refund events all settle the same row.
func (s *Service) StartCreditPayment(ctx context.Context, u *models.User, units int64) (*CreditPurchase, error) {
	if units < MinCreditPurchase || units > MaxCreditPurchase {
		return nil, apperr.Invalid(fmt.Sprintf("amount must be between %d and %d", MinCreditPurchase, MaxCreditPurchase))
	}
	if s.processor == nil {
		return nil, apperr.Unavailable(ErrProcessorDisabled)
	}

	customerID, err := s.ensureCustomer(ctx, u)
	if err != nil {
		return nil, err
	}

	amount := units * 100
	intent, err := s.processor.CreatePaymentIntent(ctx, CheckoutRequest{
		UserID:     u.ID,
		ExternalID: u.ExternalID,
		CustomerID: customerID,
		PlanType:   models.PlanCreditsLegacy,
		Amount:     amount,
		Currency:   s.currency,
	})
	if err != nil {
		return nil, apperr.Unavailable(fmt.Errorf("create payment intent: %w", err))
	}

	err = s.store.InsertPayment(ctx, &models.Payment{
		UserID:             u.ID,
		ExternalCustomerID: &customerID,
		ExternalRef:        &intent.ID,
		Amount:             amount,
		Currency:           s.currency,
		Status:             models.PaymentPending,
		PlanType:           models.PlanCreditsLegacy,
		Metadata:           models.Metadata{models.MetaCredits: units},
	})
	if err != nil {
		return nil, fmt.Errorf("record pending payment: %w", err)
	}

	s.logger.Info("Credit payment started", zap.String("user_id", u.ID), zap.String("payment_intent_id", intent.ID))
	return &CreditPurchase{PaymentIntent: *intent, Credits: units}, nil
}

// ensureCustomer returns the processor customer stored for u, creating
// and linking one when there is none. A concurrent request may link a
// different customer first; the stored one is always returned.
func (s *Service) ensureCustomer(ctx context.Context, u *models.User) (string, error) {
	if u.StripeCustomerID != nil && *u.StripeCustomerID != "" {
		return *u.StripeCustomerID, nil
	}

	created, err := s.processor.CreateCustomer(ctx, u)
	if err != nil {
		return "", apperr.Unavailable(fmt.Errorf("create customer: %w", err))
	}
	if err := s.store.LinkCustomer(ctx, u.ID, created); err != nil {
		return "", fmt.Errorf("link customer: %w", err)
	}

	stored, err := s.store.GetUserByID(ctx, u.ID)
	if err != nil {
		return "", fmt.Errorf("reload user: %w", err)
	}
	if stored.StripeCustomerID == nil {
		return "", fmt.Errorf("link customer: no customer stored for user %s", u.ID)
	}
	if *stored.StripeCustomerID != created {
		s.logger.Warn("Customer already linked by another request",
			zap.String("user_id", u.ID),
			zap.String("customer_id", *stored.StripeCustomerID),
			zap.String("unused_customer_id", created))
	}
	u.StripeCustomerID = stored.StripeCustomerID
	return *stored.StripeCustomerID, nil
}

// History returns u's payments, newest first.
func (s *Service) History(ctx context.Context, u *models.User, p models.Pagination) (models.Page[models.Payment], error) {
	return s.store.ListPayments(ctx, models.PaymentFilter{UserID: u.ID}, p)
}

// Payment returns one of u's payments. Payments of other users are
// reported as not found.
func (s *Service) Payment(ctx context.Context, u *models.User, id string) (*models.Payment, error) {
	p, err := s.store.GetPayment(ctx, id, u.ID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.NotFound("payment")
	}
	if err != nil {
		return nil, err
	}
	return p, nil
}
