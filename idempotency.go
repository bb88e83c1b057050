package aslanpay

import (
	"github.com/coltonsakamoto/aslanpay/pkg/canonjson"
)

// DeriveIdempotencyKey computes the stable key attached to an
// authorization request. Two calls with identical (agent, merchant,
// amount, category, intent) produce the same key; any change in those
// fields produces a different key. Metadata is contextual, not
// identity-defining, and is deliberately excluded: the same purchase
// requested with different metadata still collapses to one grant.
func DeriveIdempotencyKey(agentIdentity string, intent PurchaseIntent) (string, error) {
	payload := map[string]any{
		"agent":    agentIdentity,
		"merchant": intent.Merchant,
		"category": intent.Category,
		"intent":   intent.Intent,
	}
	if intent.Amount != nil {
		payload["amount"] = *intent.Amount
	} else {
		payload["amount"] = nil
	}
	sum, _, err := canonjson.SumObject(payload)
	if err != nil {
		return "", err
	}
	return "idem_" + sum, nil
}
