package sqlite

import (
	"time"

	"github.com/xraph/grove"

	"github.com/erasekit/paywall/entitlement"
	"github.com/erasekit/paywall/id"
	"github.com/erasekit/paywall/transaction"
	"github.com/erasekit/paywall/types"
)

type entitlementModel struct {
	grove.BaseModel `grove:"table:paywall_entitlements"`

	InstallID     string    `grove:"install_id,pk"`
	IsPro         bool      `grove:"is_pro"`
	FreeUsedCount int64     `grove:"free_used_count"`
	Credits       int64     `grove:"credits"`
	CreatedAt     time.Time `grove:"created_at"`
	UpdatedAt     time.Time `grove:"updated_at"`
}

func toEntitlementModel(e *entitlement.Entitlement) *entitlementModel {
	return &entitlementModel{
		InstallID:     e.InstallID,
		IsPro:         e.IsPro,
		FreeUsedCount: e.FreeUsedCount,
		Credits:       e.Credits,
		CreatedAt:     e.CreatedAt,
		UpdatedAt:     e.UpdatedAt,
	}
}

func fromEntitlementModel(m *entitlementModel) *entitlement.Entitlement {
	return &entitlement.Entitlement{
		Entity:        types.Entity{CreatedAt: m.CreatedAt, UpdatedAt: m.UpdatedAt},
		InstallID:     m.InstallID,
		IsPro:         m.IsPro,
		FreeUsedCount: m.FreeUsedCount,
		Credits:       m.Credits,
	}
}

type transactionModel struct {
	grove.BaseModel `grove:"table:paywall_transactions"`

	ID                    string     `grove:"id,pk"`
	TransactionID         string     `grove:"transaction_id"`
	OriginalTransactionID string     `grove:"original_transaction_id"`
	ProductID             string     `grove:"product_id"`
	InstallID             string     `grove:"install_id"`
	Platform              string     `grove:"platform"`
	Environment           string     `grove:"environment"`
	PurchasedAt           *time.Time `grove:"purchased_at"`
	RawReceiptExcerpt     string     `grove:"raw_receipt_excerpt"`
	GrantsPro             bool       `grove:"grants_pro"`
	CreditsGranted        int64      `grove:"credits_granted"`
	AppliedAt             *time.Time `grove:"applied_at"`
	CreatedAt             time.Time  `grove:"created_at"`
}

func toTransactionModel(r *transaction.Record) *transactionModel {
	return &transactionModel{
		ID:                    r.ID.String(),
		TransactionID:         r.TransactionID,
		OriginalTransactionID: r.OriginalTransactionID,
		ProductID:             r.ProductID,
		InstallID:             r.InstallID,
		Platform:              r.Platform,
		Environment:           r.Environment,
		PurchasedAt:           r.PurchasedAt,
		RawReceiptExcerpt:     r.RawReceiptExcerpt,
		GrantsPro:             r.GrantsPro,
		CreditsGranted:        r.CreditsGranted,
		AppliedAt:             r.AppliedAt,
		CreatedAt:             r.CreatedAt,
	}
}

func fromTransactionModel(m *transactionModel) (*transaction.Record, error) {
	rowID, err := id.ParseTransactionID(m.ID)
	if err != nil {
		return nil, err
	}
	return &transaction.Record{
		ID:                    rowID,
		TransactionID:         m.TransactionID,
		OriginalTransactionID: m.OriginalTransactionID,
		ProductID:             m.ProductID,
		InstallID:             m.InstallID,
		Platform:              m.Platform,
		Environment:           m.Environment,
		PurchasedAt:           m.PurchasedAt,
		RawReceiptExcerpt:     m.RawReceiptExcerpt,
		GrantsPro:             m.GrantsPro,
		CreditsGranted:        m.CreditsGranted,
		AppliedAt:             m.AppliedAt,
		CreatedAt:             m.CreatedAt,
	}, nil
}
