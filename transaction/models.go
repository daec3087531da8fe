// Package transaction models the append-only ledger of platform purchases.
//
// Each row is keyed by the platform transaction id and applied to its
// install's entitlement at most once; AppliedAt records when that happened.
package transaction

import (
	"time"
	"unicode/utf8"

	"github.com/erasekit/paywall/id"
)

// ExcerptLimit bounds the stored copy of the raw receipt.
const ExcerptLimit = 500

// Record is one accepted platform purchase.
type Record struct {
	ID                    id.ID      `json:"id"`
	TransactionID         string     `json:"transactionId"`
	OriginalTransactionID string     `json:"originalTransactionId"`
	ProductID             string     `json:"productId"`
	InstallID             string     `json:"installId"`
	Platform              string     `json:"platform"`
	Environment           string     `json:"environment,omitempty"`
	PurchasedAt           *time.Time `json:"purchasedAt"`
	RawReceiptExcerpt     string     `json:"-"`
	GrantsPro             bool       `json:"grantsPro"`
	CreditsGranted        int64      `json:"creditsGranted"`
	AppliedAt             *time.Time `json:"appliedAt,omitempty"`
	CreatedAt             time.Time  `json:"createdAt"`
}

// Applied reports whether the effect reached the entitlement.
func (r *Record) Applied() bool { return r.AppliedAt != nil }

// Excerpt truncates a raw receipt to ExcerptLimit characters.
func Excerpt(raw string) string {
	if utf8.RuneCountInString(raw) <= ExcerptLimit {
		return raw
	}
	runes := []rune(raw)
	return string(runes[:ExcerptLimit])
}

// ListOpts pages through an install's transactions, newest first.
type ListOpts struct {
	Limit  int
	Offset int
}
