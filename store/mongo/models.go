package mongo

import (
	"time"

	"github.com/xraph/grove"

	"github.com/erasekit/paywall/entitlement"
	"github.com/erasekit/paywall/id"
	"github.com/erasekit/paywall/transaction"
	"github.com/erasekit/paywall/types"
)

// ==================== Entitlement models ====================

// entitlementModel keeps the ids of applied transactions next to the
// counters, so a purchase and its marker change in one document update.
type entitlementModel struct {
	grove.BaseModel `grove:"table:paywall_entitlements"`

	InstallID           string    `grove:"install_id,pk"        bson:"_id"`
	IsPro               bool      `grove:"is_pro"               bson:"is_pro"`
	FreeUsedCount       int64     `grove:"free_used_count"      bson:"free_used_count"`
	Credits             int64     `grove:"credits"              bson:"credits"`
	AppliedTransactions []string  `grove:"applied_transactions" bson:"applied_transactions,omitempty"`
	CreatedAt           time.Time `grove:"created_at"           bson:"created_at"`
	UpdatedAt           time.Time `grove:"updated_at"           bson:"updated_at"`
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

// ==================== Transaction models ====================

type transactionModel struct {
	grove.BaseModel `grove:"table:paywall_transactions"`

	ID                    string     `grove:"id,pk"                   bson:"_id"`
	TransactionID         string     `grove:"transaction_id"          bson:"transaction_id"`
	OriginalTransactionID string     `grove:"original_transaction_id" bson:"original_transaction_id"`
	ProductID             string     `grove:"product_id"              bson:"product_id"`
	InstallID             string     `grove:"install_id"              bson:"install_id"`
	Platform              string     `grove:"platform"                bson:"platform"`
	Environment           string     `grove:"environment"             bson:"environment"`
	PurchasedAt           *time.Time `grove:"purchased_at"            bson:"purchased_at"`
	RawReceiptExcerpt     string     `grove:"raw_receipt_excerpt"     bson:"raw_receipt_excerpt"`
	GrantsPro             bool       `grove:"grants_pro"              bson:"grants_pro"`
	CreditsGranted        int64      `grove:"credits_granted"         bson:"credits_granted"`
	AppliedAt             *time.Time `grove:"applied_at"              bson:"applied_at"`
	CreatedAt             time.Time  `grove:"created_at"              bson:"created_at"`
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

func fromTransactionModels(models []transactionModel) ([]*transaction.Record, error) {
	result := make([]*transaction.Record, len(models))
	for i := range models {
		r, err := fromTransactionModel(&models[i])
		if err != nil {
			return nil, err
		}
		result[i] = r
	}
	return result, nil
}
