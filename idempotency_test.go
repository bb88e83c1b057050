package aslanpay

import (
	"strings"
	"testing"
)

func TestDeriveIdempotencyKey_Stable(t *testing.T) {
	intent := PurchaseIntent{
		Merchant: "amazon.com",
		Amount:   USD(23.50),
		Category: "shopping",
		Intent:   "programming book",
	}
	k1, err := DeriveIdempotencyKey("agent_1", intent)
	if err != nil {
		t.Fatalf("derive: %v", err)
	}
	k2, err := DeriveIdempotencyKey("agent_1", intent)
	if err != nil {
		t.Fatalf("derive: %v", err)
	}
	if k1 != k2 {
		t.Fatalf("same intent produced different keys: %s vs %s", k1, k2)
	}
	if !strings.HasPrefix(k1, "idem_") {
		t.Fatalf("expected idem_ prefix, got %s", k1)
	}
}

func TestDeriveIdempotencyKey_SensitiveToIdentityFields(t *testing.T) {
	base := PurchaseIntent{
		Merchant: "amazon.com",
		Amount:   USD(23.50),
		Category: "shopping",
		Intent:   "programming book",
	}
	baseKey, err := DeriveIdempotencyKey("agent_1", base)
	if err != nil {
		t.Fatalf("derive: %v", err)
	}

	variants := map[string]PurchaseIntent{
		"merchant": {Merchant: "ebay.com", Amount: USD(23.50), Category: "shopping", Intent: "programming book"},
		"amount":   {Merchant: "amazon.com", Amount: USD(24.00), Category: "shopping", Intent: "programming book"},
		"category": {Merchant: "amazon.com", Amount: USD(23.50), Category: "books", Intent: "programming book"},
		"intent":   {Merchant: "amazon.com", Amount: USD(23.50), Category: "shopping", Intent: "cookbook"},
		"noAmount": {Merchant: "amazon.com", Category: "shopping", Intent: "programming book"},
	}
	for name, v := range variants {
		k, err := DeriveIdempotencyKey("agent_1", v)
		if err != nil {
			t.Fatalf("%s: derive: %v", name, err)
		}
		if k == baseKey {
			t.Fatalf("changing %s did not change the key", name)
		}
	}

	if k, _ := DeriveIdempotencyKey("agent_2", base); k == baseKey {
		t.Fatalf("changing the agent identity did not change the key")
	}
}

func TestDeriveIdempotencyKey_MetadataExcluded(t *testing.T) {
	a := PurchaseIntent{
		Merchant: "amazon.com",
		Amount:   USD(23.50),
		Category: "shopping",
		Intent:   "programming book",
		Metadata: map[string]any{"session": "abc", "attempt": 1},
	}
	b := a
	b.Metadata = map[string]any{"session": "xyz", "attempt": 7}

	ka, err := DeriveIdempotencyKey("agent_1", a)
	if err != nil {
		t.Fatalf("derive: %v", err)
	}
	kb, err := DeriveIdempotencyKey("agent_1", b)
	if err != nil {
		t.Fatalf("derive: %v", err)
	}
	if ka != kb {
		t.Fatalf("metadata leaked into the idempotency key: %s vs %s", ka, kb)
	}
}
