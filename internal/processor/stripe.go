// Package processor adapts the Stripe API to the billing package: it
// verifies webhook signatures, translates Stripe events into billing
// events and opens checkout sessions.
package processor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/stripe/stripe-go/v78"
	"github.com/stripe/stripe-go/v78/client"
	"github.com/stripe/stripe-go/v78/webhook"

	"github.com/aisaas-platform/aisaas/internal/billing"
	"github.com/aisaas-platform/aisaas/internal/config"
	"github.com/aisaas-platform/aisaas/internal/models"
)

// ErrInvalidSignature means the payload was not signed with the webhook
// secret or is outside the replay tolerance.
var ErrInvalidSignature = errors.New("invalid webhook signature")

// Stripe implements billing.Processor and parses Stripe webhooks.
type Stripe struct {
	api           *client.API
	webhookSecret string
	successURL    string
	cancelURL     string
	defaultAmount int64
}

// NewStripe builds the adapter. backends may be nil to use the default
// Stripe endpoints.
func NewStripe(cfg config.BillingConfig, backends *stripe.Backends) *Stripe {
	api := &client.API{}
	api.Init(cfg.StripeSecretKey, backends)
	return &Stripe{
		api:           api,
		webhookSecret: cfg.WebhookSecret,
		successURL:    cfg.SuccessURL,
		cancelURL:     cfg.CancelURL,
		defaultAmount: cfg.ProPriceCents,
	}
}

// CreateCustomer implements billing.Processor.
func (s *Stripe) CreateCustomer(ctx context.Context, u *models.User) (string, error) {
	params := &stripe.CustomerParams{}
	params.Context = ctx
	if u.Email != "" {
		params.Email = stripe.String(u.Email)
	}
	if u.Name != "" {
		params.Name = stripe.String(u.Name)
	}
	params.AddMetadata(models.MetaUserID, u.ID)
	params.AddMetadata("externalId", u.ExternalID)

	c, err := s.api.Customers.New(params)
	if err != nil {
		return "", err
	}
	return c.ID, nil
}

// CreateCheckoutSession implements billing.Processor with a monthly
// subscription at the requested price.
func (s *Stripe) CreateCheckoutSession(ctx context.Context, req billing.CheckoutRequest) (*billing.CheckoutSession, error) {
	metadata := map[string]string{
		models.MetaUserID:   req.UserID,
		"externalId":        req.ExternalID,
		models.MetaPlanType: string(req.PlanType),
	}
	params := &stripe.CheckoutSessionParams{
		Customer:          stripe.String(req.CustomerID),
		ClientReferenceID: stripe.String(req.UserID),
		Mode:              stripe.String(string(stripe.CheckoutSessionModeSubscription)),
		SuccessURL:        stripe.String(s.successURL),
		CancelURL:         stripe.String(s.cancelURL),
		LineItems: []*stripe.CheckoutSessionLineItemParams{{
			PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
				Currency: stripe.String(req.Currency),
				ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
					Name:        stripe.String("Pro Plan"),
					Description: stripe.String("Unlimited access to every AI tool"),
				},
				UnitAmount: stripe.Int64(req.Amount),
				Recurring: &stripe.CheckoutSessionLineItemPriceDataRecurringParams{
					Interval: stripe.String(string(stripe.PriceRecurringIntervalMonth)),
				},
			},
			Quantity: stripe.Int64(1),
		}},
		Metadata: metadata,
		SubscriptionData: &stripe.CheckoutSessionSubscriptionDataParams{
			Metadata: metadata,
		},
	}
	params.Context = ctx

	sess, err := s.api.CheckoutSessions.New(params)
	if err != nil {
		return nil, err
	}
	return &billing.CheckoutSession{ID: sess.ID, URL: sess.URL}, nil
}

// CreatePaymentIntent implements billing.Processor with a one-off charge.
// The metadata lets payment_intent events find the user and plan.
func (s *Stripe) CreatePaymentIntent(ctx context.Context, req billing.CheckoutRequest) (*billing.PaymentIntent, error) {
	params := &stripe.PaymentIntentParams{
		Amount:   stripe.Int64(req.Amount),
		Currency: stripe.String(req.Currency),
		Customer: stripe.String(req.CustomerID),
		AutomaticPaymentMethods: &stripe.PaymentIntentAutomaticPaymentMethodsParams{
			Enabled: stripe.Bool(true),
		},
	}
	params.AddMetadata(models.MetaUserID, req.UserID)
	params.AddMetadata("externalId", req.ExternalID)
	params.AddMetadata(models.MetaPlanType, string(req.PlanType))
	params.Context = ctx

	pi, err := s.api.PaymentIntents.New(params)
	if err != nil {
		return nil, err
	}
	return &billing.PaymentIntent{ID: pi.ID, ClientSecret: pi.ClientSecret}, nil
}

// ParseWebhook verifies the Stripe-Signature header over the raw payload
// and translates the event.
func (s *Stripe) ParseWebhook(payload []byte, signature string) (billing.Event, error) {
	event, err := webhook.ConstructEventWithOptions(payload, signature, s.webhookSecret,
		webhook.ConstructEventOptions{IgnoreAPIVersionMismatch: true})
	if err != nil {
		return billing.Event{}, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	return s.Translate(event)
}

// Translate maps a verified Stripe event onto a billing event. Types the
// service does not act on get a nil payload.
func (s *Stripe) Translate(event stripe.Event) (billing.Event, error) {
	ev := billing.Event{ID: event.ID, SourceType: string(event.Type)}
	if event.Data == nil {
		return ev, nil
	}

	var err error
	switch string(event.Type) {
	case "checkout.session.completed":
		ev.Payload, err = s.checkoutCompleted(event.Data.Raw)
	case "customer.subscription.updated", "customer.subscription.deleted":
		ev.Payload, err = subscriptionChanged(event.Data.Raw, string(event.Type) == "customer.subscription.deleted")
	case "payment_intent.succeeded":
		ev.Payload, err = paymentIntentSucceeded(event.Data.Raw)
	case "payment_intent.payment_failed":
		var pi stripe.PaymentIntent
		if err = json.Unmarshal(event.Data.Raw, &pi); err == nil {
			ev.Payload = billing.PaymentFailed{ExternalPaymentRef: pi.ID}
		}
	case "charge.refunded":
		var ch stripe.Charge
		if err = json.Unmarshal(event.Data.Raw, &ch); err == nil && ch.PaymentIntent != nil {
			ev.Payload = billing.PaymentRefunded{ExternalPaymentRef: ch.PaymentIntent.ID}
		}
	}
	if err != nil {
		return billing.Event{}, fmt.Errorf("decode %s: %w", event.Type, err)
	}
	return ev, nil
}

func (s *Stripe) checkoutCompleted(raw json.RawMessage) (billing.Payload, error) {
	var sess stripe.CheckoutSession
	if err := json.Unmarshal(raw, &sess); err != nil {
		return nil, err
	}

	ref := sess.Metadata[models.MetaUserID]
	if ref == "" {
		ref = sess.ClientReferenceID
	}
	customerID := ""
	if sess.Customer != nil {
		customerID = sess.Customer.ID
	}
	amount := sess.AmountTotal
	if amount == 0 {
		amount = s.defaultAmount
	}
	plan := models.PlanType(sess.Metadata[models.MetaPlanType])

	if sess.Mode == stripe.CheckoutSessionModePayment {
		return billing.PaymentSucceeded{
			PrincipalRef:       ref,
			ExternalCustomerID: customerID,
			ExternalPaymentRef: sess.ID,
			Amount:             amount,
			Currency:           string(sess.Currency),
			PlanType:           plan,
			Metadata:           models.Metadata{models.MetaSessionID: sess.ID},
		}, nil
	}

	act := billing.SubscriptionActivated{
		PrincipalRef:       ref,
		ExternalCustomerID: customerID,
		ExternalPaymentRef: sess.ID,
		Amount:             amount,
		Currency:           string(sess.Currency),
		Metadata: models.Metadata{
			models.MetaSessionID: sess.ID,
			models.MetaPlanType:  string(models.PlanPro),
		},
	}
	if sess.Subscription != nil {
		act.ExternalSubscriptionID = sess.Subscription.ID
		if sess.Subscription.CurrentPeriodEnd > 0 {
			act.PeriodEnd = time.Unix(sess.Subscription.CurrentPeriodEnd, 0).UTC()
		}
	}
	return act, nil
}

func subscriptionChanged(raw json.RawMessage, deleted bool) (billing.Payload, error) {
	var sub stripe.Subscription
	if err := json.Unmarshal(raw, &sub); err != nil {
		return nil, err
	}

	change := billing.SubscriptionStatusChanged{
		ExternalSubscriptionID: sub.ID,
		NewStatus:              MapSubscriptionStatus(sub.Status),
	}
	if deleted {
		change.NewStatus = models.SubscriptionCanceled
	}
	if sub.Customer != nil {
		change.ExternalCustomerID = sub.Customer.ID
	}
	if sub.CurrentPeriodEnd > 0 {
		end := time.Unix(sub.CurrentPeriodEnd, 0).UTC()
		change.PeriodEnd = &end
	}
	return change, nil
}

func paymentIntentSucceeded(raw json.RawMessage) (billing.Payload, error) {
	var pi stripe.PaymentIntent
	if err := json.Unmarshal(raw, &pi); err != nil {
		return nil, err
	}
	// Subscription invoices are settled through the checkout and
	// subscription events.
	if pi.Invoice != nil {
		return nil, nil
	}

	amount := pi.AmountReceived
	if amount == 0 {
		amount = pi.Amount
	}
	paid := billing.PaymentSucceeded{
		PrincipalRef:       pi.Metadata[models.MetaUserID],
		ExternalPaymentRef: pi.ID,
		Amount:             amount,
		Currency:           string(pi.Currency),
		PlanType:           models.PlanType(pi.Metadata[models.MetaPlanType]),
		Metadata:           models.Metadata{},
	}
	if pi.Customer != nil {
		paid.ExternalCustomerID = pi.Customer.ID
	}
	for k, v := range pi.Metadata {
		paid.Metadata[k] = v
	}
	return paid, nil
}

// MapSubscriptionStatus folds Stripe's subscription states onto the local
// ones. States with no local meaning pass through unchanged and are
// rejected by the reconciler.
func MapSubscriptionStatus(status stripe.SubscriptionStatus) models.SubscriptionStatus {
	switch status {
	case stripe.SubscriptionStatusActive, stripe.SubscriptionStatusTrialing:
		return models.SubscriptionActive
	case stripe.SubscriptionStatusPastDue, stripe.SubscriptionStatusUnpaid:
		return models.SubscriptionPastDue
	case stripe.SubscriptionStatusCanceled, stripe.SubscriptionStatusIncompleteExpired:
		return models.SubscriptionCanceled
	}
	return models.SubscriptionStatus(status)
}
