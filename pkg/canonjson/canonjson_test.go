package canonjson

import (
	"strings"
	"testing"
)

func TestEncode_SortsKeys(t *testing.T) {
	b, err := Encode(map[string]any{"b": 1, "a": 2, "c": map[string]any{"z": true, "y": false}})
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	want := `{"a":2,"b":1,"c":{"y":false,"z":true}}`
	if string(b) != want {
		t.Fatalf("got %s want %s", b, want)
	}
}

func TestEncode_StructAndMapAgree(t *testing.T) {
	type payload struct {
		Merchant string  `json:"merchant"`
		Amount   float64 `json:"amount"`
	}
	fromStruct, err := Encode(payload{Merchant: "amazon.com", Amount: 50})
	if err != nil {
		t.Fatalf("Encode struct: %v", err)
	}
	fromMap, err := Encode(map[string]any{"amount": 50.0, "merchant": "amazon.com"})
	if err != nil {
		t.Fatalf("Encode map: %v", err)
	}
	if string(fromStruct) != string(fromMap) {
		t.Fatalf("encodings differ: %s vs %s", fromStruct, fromMap)
	}
}

func TestSumObject_Deterministic(t *testing.T) {
	h1, _, err := SumObject(map[string]any{"x": []any{1, 2, 3}})
	if err != nil {
		t.Fatalf("SumObject: %v", err)
	}
	h2, _, err := SumObject(map[string]any{"x": []any{1, 2, 3}})
	if err != nil {
		t.Fatalf("SumObject: %v", err)
	}
	if h1 != h2 {
		t.Fatalf("hash not deterministic: %s vs %s", h1, h2)
	}
	if len(h1) != 64 || strings.ToLower(h1) != h1 {
		t.Fatalf("expected lowercase hex sha256, got %s", h1)
	}
}

func TestSumObject_SensitiveToValues(t *testing.T) {
	h1, _, _ := SumObject(map[string]any{"amount": 50.0})
	h2, _, _ := SumObject(map[string]any{"amount": 50.01})
	if h1 == h2 {
		t.Fatal("expected different hashes for different amounts")
	}
}

func TestEncode_RejectsUnencodable(t *testing.T) {
	if _, err := Encode(map[string]any{"f": func() {}}); err == nil {
		t.Fatal("expected error for func value")
	}
}
