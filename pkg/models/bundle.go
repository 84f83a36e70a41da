package models

import "time"

// Account is one customer account as returned by the accounts service.
// The first account in a customer's list is the primary account.
type Account struct {
	ID         string `json:"id"`
	Number     string `json:"number"`
	Balance    Money  `json:"balance"`
	HolderName string `json:"holder_name"`
}

// Transaction is one ledger entry on the primary account.
type Transaction struct {
	ID           string    `json:"id"`
	PostedAt     time.Time `json:"posted_at"`
	Description  string    `json:"description"`
	Amount       Money     `json:"amount"`
	Counterparty string    `json:"counterparty,omitempty"`
}

// Beneficiary is a saved transfer recipient.
type Beneficiary struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	AccountNumber string `json:"account_number"`
	Bank          string `json:"bank,omitempty"`
}

// LimitInfo holds the customer's transfer limits on the primary account.
type LimitInfo struct {
	PerTransaction Money `json:"per_transaction"`
	Daily          Money `json:"daily"`
	RemainingToday Money `json:"remaining_today"`
}

// BundleData is the payload of a cache bundle. Slices of failed best-effort
// sub-fetches are empty, never nil-vs-partial: a bundle on disk is always
// structurally complete.
type BundleData struct {
	Accounts          []Account     `json:"accounts"`
	PrimaryBalance    Money         `json:"primary_balance"`
	LastNTransactions []Transaction `json:"last_n_transactions"`
	Beneficiaries     []Beneficiary `json:"beneficiaries"`
	Limits            LimitInfo     `json:"limits"`
}

// CacheBundle is the per-customer cache payload, owned exclusively by the
// cache store. Freshness is evaluated at read time: a bundle is valid iff
// now < created_at + ttl_seconds.
type CacheBundle struct {
	CustomerID string     `json:"customer_id"`
	CreatedAt  time.Time  `json:"created_at"`
	TTLSeconds int        `json:"ttl_seconds"`
	Data       BundleData `json:"data"`
}

// ExpiresAt returns the instant after which the bundle is stale.
func (b *CacheBundle) ExpiresAt() time.Time {
	return b.CreatedAt.Add(time.Duration(b.TTLSeconds) * time.Second)
}

// Valid reports whether the bundle is fresh at the given instant.
func (b *CacheBundle) Valid(now time.Time) bool {
	return now.Before(b.ExpiresAt())
}
