package billing

import (
	"time"

	"github.com/aisaas-platform/aisaas/internal/models"
)

// Event is a processor notification translated into local terms. ID is the
// processor's event id and serves as the idempotency key. A nil Payload
// marks an event type this service does not act on.
type Event struct {
	ID         string
	SourceType string
	Payload    Payload
}

// Payload is implemented by the event kinds below.
type Payload interface {
	payload()
}

// SubscriptionActivated is a completed subscription checkout.
type SubscriptionActivated struct {
	PrincipalRef           string // local user id or external identity id
	ExternalCustomerID     string
	ExternalSubscriptionID string
	ExternalPaymentRef     string
	PeriodEnd              time.Time // zero means one billing period from now
	Amount                 int64
	Currency               string
	Metadata               models.Metadata
}

// SubscriptionStatusChanged is a processor-side status transition.
type SubscriptionStatusChanged struct {
	ExternalCustomerID     string
	ExternalSubscriptionID string
	NewStatus              models.SubscriptionStatus
	PeriodEnd              *time.Time
}

// PaymentSucceeded is a settled charge.
type PaymentSucceeded struct {
	PrincipalRef       string
	ExternalCustomerID string
	ExternalPaymentRef string
	Amount             int64
	Currency           string
	PlanType           models.PlanType // PlanPro upgrades the principal
	Metadata           models.Metadata
}

// PaymentFailed marks a recorded payment as failed.
type PaymentFailed struct {
	ExternalPaymentRef string
}

// PaymentRefunded marks a recorded payment as refunded.
type PaymentRefunded struct {
	ExternalPaymentRef string
}

func (SubscriptionActivated) payload()     {}
func (SubscriptionStatusChanged) payload() {}
func (PaymentSucceeded) payload()          {}
func (PaymentFailed) payload()             {}
func (PaymentRefunded) payload()           {}

// Status is the disposition of an applied event.
type Status string

const (
	Applied   Status = "applied"
	Ignored   Status = "ignored"
	Duplicate Status = "duplicate"
)

// Reasons attached to Ignored outcomes.
const (
	ReasonUnknownPrincipal   = "unknown_principal"
	ReasonAmbiguousPrincipal = "ambiguous_principal"
	ReasonUnhandledType      = "unhandled_type"
	ReasonUnhandledStatus    = "unhandled_status"
	ReasonUnknownPayment     = "unknown_payment"
)

// Outcome is what Apply did with an event. Every outcome is acknowledged
// to the processor; only errors ask it to redeliver.
type Outcome struct {
	Status Status `json:"outcome"`
	Reason string `json:"reason,omitempty"`
}

func ignored(reason string) Outcome {
	return Outcome{Status: Ignored, Reason: reason}
}
