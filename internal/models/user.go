package models

import (
	"time"
)

// SubscriptionStatus mirrors the billing processor's view of a user's plan.
type SubscriptionStatus string

const (
	SubscriptionNone     SubscriptionStatus = "none"
	SubscriptionActive   SubscriptionStatus = "active"
	SubscriptionPastDue  SubscriptionStatus = "past_due"
	SubscriptionCanceled SubscriptionStatus = "canceled"
)

// Valid reports whether s is one of the known statuses.
func (s SubscriptionStatus) Valid() bool {
	switch s {
	case SubscriptionNone, SubscriptionActive, SubscriptionPastDue, SubscriptionCanceled:
		return true
	}
	return false
}

// Revokes reports whether moving to s removes Pro access immediately.
func (s SubscriptionStatus) Revokes() bool {
	return s == SubscriptionCanceled || s == SubscriptionPastDue
}

// User is the local principal for an externally verified identity.
type User struct {
	ID                  string             `json:"id" db:"id"`
	ExternalID          string             `json:"externalId" db:"external_id"`
	Email               string             `json:"email" db:"email"`
	Name                string             `json:"name" db:"name"`
	ImageURL            string             `json:"imageUrl" db:"image_url"`
	IsAdmin             bool               `json:"isAdmin" db:"is_admin"`
	IsPro               bool               `json:"isPro" db:"is_pro"`
	SubscriptionStatus  SubscriptionStatus `json:"subscriptionStatus" db:"subscription_status"`
	SubscriptionID      *string            `json:"subscriptionId,omitempty" db:"subscription_id"`
	SubscriptionEndDate *time.Time         `json:"subscriptionEndDate,omitempty" db:"subscription_end_date"`
	StripeCustomerID    *string            `json:"stripeCustomerId,omitempty" db:"stripe_customer_id"`
	LastLogin           time.Time          `json:"lastLogin" db:"last_login"`
	CreatedAt           time.Time          `json:"createdAt" db:"created_at"`
	UpdatedAt           time.Time          `json:"updatedAt" db:"updated_at"`
}

// SubscriptionExpired reports whether the stored end date lies before now.
// A user without an end date never expires.
func (u *User) SubscriptionExpired(now time.Time) bool {
	return u.SubscriptionEndDate != nil && u.SubscriptionEndDate.Before(now)
}

// UserSummary is a user row annotated for admin listings.
type UserSummary struct {
	User
	CreationCount int `json:"creationCount"`
}

// UserFilter narrows admin user listings.
type UserFilter struct {
	Search string // matched against email and name
	Status string // "pro", "free", "admin" or empty
}

// Identity is what a verified credential asserts about its holder.
type Identity struct {
	ExternalID string
	Email      string
	Name       string
	ImageURL   string
}
