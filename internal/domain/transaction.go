/**
 * @description
 * Transaction-side domain models: the raw aggregator record, the canonical
 * Transaction produced by normalization, aggregation queries and results, and the
 * per-credential sync manifest.
 */
package domain

import (
	"github.com/shopspring/decimal"
)

// RawTransactionRecord is an aggregator transaction exactly as decoded from JSON.
// Its schema is not stable across providers or API revisions.
type RawTransactionRecord map[string]any

// Transaction is the canonical, normalized transaction.
// Positive amounts are outflows; negative amounts are inflows or credits.
type Transaction struct {
	ID        string               `json:"id"`
	AccountID string               `json:"account_id"`
	Name      string               `json:"name"`
	Amount    decimal.Decimal      `json:"amount"`
	Date      Date                 `json:"date"`
	Category  string               `json:"category"`
	Raw       RawTransactionRecord `json:"raw,omitempty"`
}

// Query narrows an aggregation. Zero values mean "no filter".
type Query struct {
	Period    Period
	Category  string
	AccountID string
}

// Totals summarizes the transactions of an aggregation result.
type Totals struct {
	Count       int                        `json:"count"`
	TotalAmount decimal.Decimal            `json:"total_amount"`
	ByCategory  map[string]decimal.Decimal `json:"by_category"`
}

// AggregationResult is derived on every query and never persisted.
type AggregationResult struct {
	Period         *Period            `json:"period,omitempty"`
	StartDate      Date               `json:"start_date"`
	EndDate        Date               `json:"end_date"`
	Transactions   []Transaction      `json:"transactions"`
	Totals         Totals             `json:"totals"`
	GoalProgress   *GoalProgress      `json:"goal_progress,omitempty"`
	PartialFailure *PartialFailure    `json:"partial_failure,omitempty"`
	Manifest       []CredentialResult `json:"manifest,omitempty"`
}

// SyncStatus is the outcome of fetching one credential.
type SyncStatus string

const (
	SyncOK     SyncStatus = "ok"
	SyncFailed SyncStatus = "failed"
)

// CredentialResult is one manifest entry: what happened when a credential was fetched.
type CredentialResult struct {
	ItemID  string     `json:"item_id"`
	Status  SyncStatus `json:"status"`
	Reason  string     `json:"reason,omitempty"`
	Records int        `json:"records"`
}

// PartialFailure marks a result built from some, but not all, credentials.
type PartialFailure struct {
	FailedCredentials []CredentialResult `json:"failed_credentials"`
}

// NewPartialFailure returns nil when every entry of the manifest succeeded.
func NewPartialFailure(manifest []CredentialResult) *PartialFailure {
	var failed []CredentialResult
	for _, entry := range manifest {
		if entry.Status == SyncFailed {
			failed = append(failed, entry)
		}
	}
	if len(failed) == 0 {
		return nil
	}
	return &PartialFailure{FailedCredentials: failed}
}

// Account is a financial account reported by the aggregator for one credential.
type Account struct {
	AccountID    string          `json:"account_id"`
	ItemID       string          `json:"item_id"`
	Name         string          `json:"name"`
	OfficialName string          `json:"official_name,omitempty"`
	Mask         string          `json:"mask,omitempty"`
	Type         string          `json:"type"`
	Subtype      string          `json:"subtype,omitempty"`
	Balances     AccountBalances `json:"balances"`
}

// AccountBalances mirrors the aggregator's balance block. Nil means "not reported".
type AccountBalances struct {
	Available       *decimal.Decimal `json:"available"`
	Current         *decimal.Decimal `json:"current"`
	ISOCurrencyCode string           `json:"iso_currency_code,omitempty"`
}
