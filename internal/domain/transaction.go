// Package domain defines the core types and ports for Kestrel.
package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Transaction represents a submitted financial transaction to be scored.
// Immutable once created.
type Transaction struct {
	// Core identifiers
	ID        string `json:"id"`
	TenantID  string `json:"tenantId"`
	AccountID string `json:"accountId"`

	// Transaction type (e.g., "purchase", "transfer", "withdrawal")
	Type string `json:"type"`

	// Submission channel (e.g., "web", "mobile", "pos", "atm")
	Channel string `json:"channel"`

	// Financial details
	Amount Money `json:"amount"`

	// Optional context
	Merchant *Merchant    `json:"merchant,omitempty"`
	Location *Geolocation `json:"location,omitempty"`
	DeviceID string       `json:"deviceId,omitempty"`

	// Temporal
	Timestamp time.Time `json:"timestamp"`
	CreatedAt time.Time `json:"createdAt"`
}

// Money represents a monetary value with exact decimal arithmetic.
type Money struct {
	Value    decimal.Decimal `json:"value"`
	Currency string          `json:"currency"`
}

// Merchant identifies the counterparty merchant of a transaction.
type Merchant struct {
	ID       string `json:"id"`
	Name     string `json:"name,omitempty"`
	Category string `json:"category,omitempty"`
}

// Geolocation is a point observation of where a transaction originated.
type Geolocation struct {
	Latitude   float64   `json:"latitude"`
	Longitude  float64   `json:"longitude"`
	Country    string    `json:"country,omitempty"`
	City       string    `json:"city,omitempty"`
	ObservedAt time.Time `json:"observedAt"`
}
