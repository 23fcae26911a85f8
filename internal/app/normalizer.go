package app

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/kw-0/BudgetGator/internal/domain"
	"github.com/shopspring/decimal"
)

const uncategorized = "Uncategorized"

// dateFields lists the date keys seen across aggregator API revisions, in priority order.
var dateFields = []string{"date", "transaction_date", "created_at"}

// transactionIDNamespace scopes the content-derived fallback ids.
var transactionIDNamespace = uuid.MustParse("6f1c9a52-3f0e-4c1b-9b87-2b1d5a0e7c41")

// Normalize converts one raw aggregator record into a canonical Transaction.
// It has no side effects and never fails.
func Normalize(raw domain.RawTransactionRecord) domain.Transaction {
	amount := rawAmount(raw["amount"])
	date := rawDate(raw)
	accountID := stringField(raw, "account_id")
	name := firstString(raw, "name", "description")
	if name == "" {
		name = "Unknown"
	}

	id := firstString(raw, "transaction_id", "id")
	if id == "" {
		id = fallbackTransactionID(accountID, date, amount, name)
	}

	return domain.Transaction{
		ID:        id,
		AccountID: accountID,
		Name:      name,
		Amount:    amount,
		Date:      date,
		Category:  rawCategory(raw),
		Raw:       raw,
	}
}

// NormalizeAll normalizes a batch, preserving its order.
func NormalizeAll(raws []domain.RawTransactionRecord) []domain.Transaction {
	out := make([]domain.Transaction, 0, len(raws))
	for _, raw := range raws {
		out = append(out, Normalize(raw))
	}
	return out
}

// fallbackTransactionID derives a stable id from the record's content so that
// repeated syncs of the same record produce the same id.
func fallbackTransactionID(accountID string, date domain.Date, amount decimal.Decimal, name string) string {
	key := strings.Join([]string{accountID, date.String(), amount.String(), name}, "|")
	return uuid.NewSHA1(transactionIDNamespace, []byte(key)).String()
}

func rawAmount(v any) decimal.Decimal {
	switch n := v.(type) {
	case float64:
		return decimal.NewFromFloat(n)
	case float32:
		return decimal.NewFromFloat32(n)
	case int:
		return decimal.NewFromInt(int64(n))
	case int64:
		return decimal.NewFromInt(n)
	case json.Number:
		if d, err := decimal.NewFromString(n.String()); err == nil {
			return d
		}
	case string:
		trimmed := strings.TrimSpace(n)
		if trimmed == "" {
			return decimal.Zero
		}
		if d, err := decimal.NewFromString(trimmed); err == nil {
			return d
		}
	}
	return decimal.Zero
}

func rawCategory(raw domain.RawTransactionRecord) string {
	if pfc, ok := raw["personal_finance_category"].(map[string]any); ok {
		if primary, ok := pfc["primary"].(string); ok && strings.TrimSpace(primary) != "" {
			return primary
		}
	}

	switch legacy := raw["category"].(type) {
	case []any:
		parts := make([]string, 0, len(legacy))
		for _, item := range legacy {
			if s, ok := item.(string); ok && s != "" {
				parts = append(parts, s)
			}
		}
		if len(parts) > 0 {
			return strings.Join(parts, ", ")
		}
	case []string:
		if joined := strings.Join(legacy, ", "); joined != "" {
			return joined
		}
	case string:
		if strings.TrimSpace(legacy) != "" {
			return legacy
		}
	}

	return uncategorized
}

func rawDate(raw domain.RawTransactionRecord) domain.Date {
	for _, field := range dateFields {
		s := stringField(raw, field)
		if s == "" {
			continue
		}
		if d, err := domain.ParseDate(s); err == nil {
			return d
		}
	}
	return domain.Date{}
}

func stringField(raw domain.RawTransactionRecord, key string) string {
	switch v := raw[key].(type) {
	case string:
		return strings.TrimSpace(v)
	case nil:
		return ""
	default:
		return fmt.Sprint(v)
	}
}

func firstString(raw domain.RawTransactionRecord, keys ...string) string {
	for _, key := range keys {
		if s := stringField(raw, key); s != "" {
			return s
		}
	}
	return ""
}
