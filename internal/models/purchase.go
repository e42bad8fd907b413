package models

import "time"

// Feature is a metered capability that costs credits per invocation.
type Feature string

const (
	FeatureOCRExtract Feature = "ocr_extract"
	FeatureTextRefine Feature = "text_refine"
)

// CreditPackage is a purchasable bundle of credits.
type CreditPackage struct {
	ID          string `json:"id" mapstructure:"id"`
	Name        string `json:"name" mapstructure:"name"`
	Credits     int64  `json:"credits" mapstructure:"credits"`
	Bonus       int64  `json:"bonus,omitempty" mapstructure:"bonus"`
	Price       int64  `json:"price" mapstructure:"price"` // in BDT
	Currency    string `json:"currency" mapstructure:"currency"`
	Description string `json:"description,omitempty" mapstructure:"description"`
	IsPopular   bool   `json:"is_popular" mapstructure:"is_popular"`
}

// TotalCredits is what the buyer receives, bonus included.
func (p CreditPackage) TotalCredits() int64 {
	return p.Credits + p.Bonus
}

const (
	PendingStatusPending = "pending"
	PendingStatusFailed  = "failed"
)

// PendingPurchase tracks a checkout session between redirect and provider callback.
type PendingPurchase struct {
	PaymentID           string    `json:"payment_id"`
	AccountID           string    `json:"account_id"`
	PackageID           string    `json:"package_id"`
	Credits             int64     `json:"credits"`
	Price               int64     `json:"price"`
	Currency            string    `json:"currency"`
	PaymentSessionToken string    `json:"payment_session_token"`
	Status              string    `json:"status"`
	FailureReason       string    `json:"failure_reason,omitempty"`
	CreatedAt           time.Time `json:"created_at"`
	ExpiresAt           time.Time `json:"expires_at"`
}

// Expired reports whether the pending purchase timed out at now.
func (p *PendingPurchase) Expired(now time.Time) bool {
	return p.Status == PendingStatusPending && !p.ExpiresAt.IsZero() && now.After(p.ExpiresAt)
}

// FeatureUsage aggregates net credits spent on one feature.
type FeatureUsage struct {
	Feature     Feature `json:"feature"`
	Invocations int64   `json:"invocations"`
	Refunds     int64   `json:"refunds"`
	CreditsUsed int64   `json:"credits_used"`
}
