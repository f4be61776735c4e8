package models

import (
	"time"
)

type PaymentStatus string

const (
	PaymentPending   PaymentStatus = "pending"
	PaymentSucceeded PaymentStatus = "succeeded"
	PaymentFailed    PaymentStatus = "failed"
	PaymentCanceled  PaymentStatus = "canceled"
	PaymentRefunded  PaymentStatus = "refunded"
)

func (s PaymentStatus) Valid() bool {
	switch s {
	case PaymentPending, PaymentSucceeded, PaymentFailed, PaymentCanceled, PaymentRefunded:
		return true
	}
	return false
}

type PlanType string

const (
	PlanPro           PlanType = "pro"
	PlanCreditsLegacy PlanType = "credits-legacy"
)

func (p PlanType) Valid() bool {
	return p == PlanPro || p == PlanCreditsLegacy
}

// Payment records one charge attempt. Only the billing reconciler and
// checkout mutate these rows.
type Payment struct {
	ID                     string        `json:"id" db:"id"`
	UserID                 string        `json:"userId" db:"user_id"`
	ExternalCustomerID     *string       `json:"externalCustomerId,omitempty" db:"external_customer_id"`
	ExternalRef            *string       `json:"externalRef,omitempty" db:"external_ref"`
	ExternalSubscriptionID *string       `json:"externalSubscriptionId,omitempty" db:"external_subscription_id"`
	Amount                 int64         `json:"amount" db:"amount"`
	Currency               string        `json:"currency" db:"currency"`
	Status                 PaymentStatus `json:"status" db:"status"`
	PlanType               PlanType      `json:"planType" db:"plan_type"`
	Metadata               Metadata      `json:"metadata" db:"metadata"`
	CreatedAt              time.Time     `json:"createdAt" db:"created_at"`
	UpdatedAt              time.Time     `json:"updatedAt" db:"updated_at"`
}

// PaymentFilter narrows payment listings.
type PaymentFilter struct {
	UserID   string
	Status   PaymentStatus
	PlanType PlanType
}

// BillingEvent is the idempotency record for a processed webhook event.
type BillingEvent struct {
	ID         string    `json:"id" db:"id"`
	Type       string    `json:"type" db:"type"`
	Outcome    string    `json:"outcome" db:"outcome"`
	Reason     string    `json:"reason,omitempty" db:"reason"`
	ReceivedAt time.Time `json:"receivedAt" db:"received_at"`
}
