package app

import (
	"sort"
	"strings"

	"github.com/kw-0/BudgetGator/internal/domain"
	"github.com/shopspring/decimal"
)

// Aggregate filters, sorts and totals a set of normalized transactions.
// It is a pure projection: the input slice is never modified and identical
// inputs always produce identical results.
func Aggregate(transactions []domain.Transaction, q domain.Query) domain.AggregationResult {
	category := strings.ToLower(strings.TrimSpace(q.Category))

	kept := make([]domain.Transaction, 0, len(transactions))
	for _, tx := range transactions {
		if !q.Period.IsZero() && tx.Date.Period() != q.Period {
			continue
		}
		if q.AccountID != "" && tx.AccountID != q.AccountID {
			continue
		}
		// Credits and income are not spend.
		if tx.Amount.IsNegative() {
			continue
		}
		if category != "" && !strings.Contains(strings.ToLower(tx.Category), category) {
			continue
		}
		kept = append(kept, tx)
	}

	sortByDateDesc(kept)

	result := domain.AggregationResult{
		Transactions: kept,
		Totals:       computeTotals(kept),
	}
	if !q.Period.IsZero() {
		p := q.Period
		result.Period = &p
		result.StartDate, result.EndDate = p.Window()
	}
	return result
}

// sortByDateDesc orders newest first; equal dates keep their batch order.
func sortByDateDesc(transactions []domain.Transaction) {
	sort.SliceStable(transactions, func(i, j int) bool {
		return transactions[i].Date.After(transactions[j].Date.Time)
	})
}

func computeTotals(transactions []domain.Transaction) domain.Totals {
	totals := domain.Totals{
		Count:       len(transactions),
		TotalAmount: decimal.Zero,
		ByCategory:  make(map[string]decimal.Decimal),
	}
	for _, tx := range transactions {
		totals.TotalAmount = totals.TotalAmount.Add(tx.Amount)
		totals.ByCategory[tx.Category] = totals.ByCategory[tx.Category].Add(tx.Amount)
	}
	return totals
}
