package aslanpay

import (
	"errors"
	"strings"
)

// PurchaseIntent is the caller's description of what to buy. Amount is
// optional for fixed-cost services; Metadata is opaque passthrough and
// never participates in idempotency.
type PurchaseIntent struct {
	Merchant string
	Amount   *float64
	Category string
	Intent   string
	Metadata map[string]any
}

// Amount helper for the common literal case.
func USD(v float64) *float64 { return &v }

func (p PurchaseIntent) validate() error {
	if strings.TrimSpace(p.Merchant) == "" {
		return errors.New("merchant is required")
	}
	if strings.TrimSpace(p.Category) == "" {
		return errors.New("category is required")
	}
	if strings.TrimSpace(p.Intent) == "" {
		return errors.New("intent is required")
	}
	if p.Amount != nil && *p.Amount < 0 {
		return errors.New("amount must be non-negative")
	}
	return nil
}
