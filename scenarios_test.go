package aslanpay

// End-to-end runs of the orchestrator against the real local control
// tower, covering the full authorize-execute-confirm protocol the way
// an agent integration exercises it.

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/coltonsakamoto/aslanpay/services/tower"
)

type e2e struct {
	srv    *httptest.Server
	client *Client
	now    time.Time
}

func newE2E(t *testing.T, pol tower.Policy) *e2e {
	t.Helper()
	h := &e2e{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
	ts, err := tower.NewServer(pol, tower.WithClock(func() time.Time { return h.now }))
	if err != nil {
		t.Fatalf("tower: %v", err)
	}
	h.srv = httptest.NewServer(ts)
	t.Cleanup(h.srv.Close)
	h.client = New(Config{Token: "ak_test_e2e", BaseURL: h.srv.URL, Timeout: 5 * time.Second})
	return h
}

// grantStatus reads the service-side status of a grant.
func (h *e2e) grantStatus(t *testing.T, grantID string) string {
	t.Helper()
	req, _ := http.NewRequest(http.MethodGet, h.srv.URL+"/v1/authorize/"+grantID, nil)
	req.Header.Set("Authorization", "Bearer ak_test_e2e")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	defer resp.Body.Close()
	var body map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	s, _ := body["status"].(string)
	return s
}

func TestEndToEnd_ConfirmedPurchase(t *testing.T) {
	h := newE2E(t, tower.DefaultPolicy())

	adapter := AdapterFunc(func(_ context.Context, g *Grant, _ PurchaseIntent) (ExecutionResult, error) {
		if g.Credential.IsZero() {
			t.Errorf("grant arrived without a scoped credential")
		}
		return ExecutionResult{
			Succeeded:   true,
			FinalAmount: 50.00,
			Evidence:    map[string]any{"orderId": "ord_1", "items": []string{"gift card"}},
		}, nil
	})

	o := quietOrchestrator(h.client, adapter,
		WithClock(func() time.Time { return h.now }))
	out := o.Run(context.Background(), "agent_1", PurchaseIntent{
		Merchant: "amazon.com",
		Amount:   USD(50.00),
		Category: "shopping",
		Intent:   "gift card",
	})

	if !out.Succeeded() {
		t.Fatalf("expected confirmed purchase, got %+v", out)
	}
	if out.TransactionID == "" {
		t.Fatalf("confirmed outcome missing transaction id")
	}
	if out.Amount != 50.00 {
		t.Fatalf("amount = %v", out.Amount)
	}
	if out.TotalCharged <= out.Amount {
		t.Fatalf("platform fee not applied: %+v", out)
	}
	if got := h.grantStatus(t, out.GrantID); got != "confirmed" {
		t.Fatalf("service-side grant status = %q", got)
	}
}

func TestEndToEnd_DailyLimitDenied(t *testing.T) {
	pol := tower.DefaultPolicy()
	pol.Limits.Daily = 30
	h := newE2E(t, pol)

	adapterCalled := false
	adapter := AdapterFunc(func(_ context.Context, _ *Grant, _ PurchaseIntent) (ExecutionResult, error) {
		adapterCalled = true
		return ExecutionResult{Succeeded: true}, nil
	})

	out := quietOrchestrator(h.client, adapter).Run(context.Background(), "agent_1", PurchaseIntent{
		Merchant: "amazon.com",
		Amount:   USD(40.00),
		Category: "shopping",
		Intent:   "bulk order",
	})

	if out.State != StateDenied {
		t.Fatalf("expected denied, got %s", out.State)
	}
	if out.Failure == nil || out.Failure.Kind != KindDenied {
		t.Fatalf("expected DENIED, got %+v", out.Failure)
	}
	if out.Failure.Message != "daily limit exceeded" {
		t.Fatalf("denial reason = %q", out.Failure.Message)
	}
	if adapterCalled {
		t.Fatalf("no execution may happen after a denial")
	}
}

func TestEndToEnd_ExecutionFailureReleasesGrant(t *testing.T) {
	h := newE2E(t, tower.DefaultPolicy())

	adapter := AdapterFunc(func(_ context.Context, _ *Grant, _ PurchaseIntent) (ExecutionResult, error) {
		return ExecutionResult{Succeeded: false, Err: "merchant unavailable"}, nil
	})

	out := quietOrchestrator(h.client, adapter).Run(context.Background(), "agent_1", PurchaseIntent{
		Merchant: "amazon.com",
		Amount:   USD(25.00),
		Category: "shopping",
		Intent:   "office supplies",
	})

	if out.State != StateExecutionFailed {
		t.Fatalf("expected execution_failed, got %s", out.State)
	}
	if out.GrantID == "" {
		t.Fatalf("grant id must be surfaced")
	}
	if got := h.grantStatus(t, out.GrantID); got != "released" {
		t.Fatalf("grant should be released on the service, got %q", got)
	}
}

func TestEndToEnd_ExpiryShortCircuit(t *testing.T) {
	pol := tower.DefaultPolicy()
	pol.GrantTTL = 120 * time.Second
	h := newE2E(t, pol)

	// The orchestrator's clock sits 130 seconds after issuance, past the
	// 120-second grant window.
	o := quietOrchestrator(h.client, okAdapter(25.00),
		WithClock(func() time.Time { return h.now.Add(130 * time.Second) }))
	out := o.Run(context.Background(), "agent_1", PurchaseIntent{
		Merchant: "amazon.com",
		Amount:   USD(25.00),
		Category: "shopping",
		Intent:   "office supplies",
	})

	if out.State != StateExpired {
		t.Fatalf("expected expired, got %s", out.State)
	}
	if out.Failure == nil || out.Failure.Kind != KindExpired {
		t.Fatalf("expected EXPIRED, got %+v", out.Failure)
	}
	// The grant never reached the service's confirm endpoint.
	if got := h.grantStatus(t, out.GrantID); got == "confirmed" {
		t.Fatalf("expired grant must not settle")
	}
}

func TestEndToEnd_IdempotentAuthorizeReplay(t *testing.T) {
	h := newE2E(t, tower.DefaultPolicy())

	intent := PurchaseIntent{
		Merchant: "amazon.com",
		Amount:   USD(23.50),
		Category: "shopping",
		Intent:   "programming book",
	}
	key, err := DeriveIdempotencyKey("agent_1", intent)
	if err != nil {
		t.Fatalf("derive: %v", err)
	}

	first, aerr := h.client.Authorize(context.Background(), intent, key)
	if aerr != nil {
		t.Fatalf("authorize: %v", aerr)
	}
	second, aerr := h.client.Authorize(context.Background(), intent, key)
	if aerr != nil {
		t.Fatalf("authorize replay: %v", aerr)
	}

	if first.Grant.Idempotent {
		t.Fatalf("first authorization must not be flagged as a replay")
	}
	if !second.Grant.Idempotent {
		t.Fatalf("second authorization must carry idempotent=true")
	}
	if first.Grant.ID != second.Grant.ID {
		t.Fatalf("replay produced a different grant: %s vs %s", first.Grant.ID, second.Grant.ID)
	}
}

func TestEndToEnd_ConcurrentConfirmsSettleOnce(t *testing.T) {
	h := newE2E(t, tower.DefaultPolicy())

	dec, aerr := h.client.Authorize(context.Background(), PurchaseIntent{
		Merchant: "amazon.com",
		Amount:   USD(25.00),
		Category: "shopping",
		Intent:   "office supplies",
	}, "")
	if aerr != nil {
		t.Fatalf("authorize: %v", aerr)
	}
	grantID := dec.Grant.ID

	const callers = 8
	txns := make([]string, callers)
	errs := make([]*Error, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			out, cerr := h.client.Confirm(context.Background(), grantID, 25.00, nil)
			if cerr != nil {
				errs[i] = cerr
				return
			}
			txns[i] = out.TransactionID
		}(i)
	}
	wg.Wait()

	var settled string
	for i := 0; i < callers; i++ {
		if errs[i] != nil {
			t.Fatalf("identical confirmation must replay, not fail: %v", errs[i])
		}
		if settled == "" {
			settled = txns[i]
		}
		if txns[i] != settled {
			t.Fatalf("confirmations settled to different transactions: %s vs %s", txns[i], settled)
		}
	}
}

func TestEndToEnd_HandoffBetweenOrchestrators(t *testing.T) {
	h := newE2E(t, tower.DefaultPolicy())

	intent := PurchaseIntent{
		Merchant: "amazon.com",
		Amount:   USD(25.00),
		Category: "shopping",
		Intent:   "office supplies",
	}

	// One party authorizes and executes.
	dec, aerr := h.client.Authorize(context.Background(), intent, "")
	if aerr != nil {
		t.Fatalf("authorize: %v", aerr)
	}
	result := ExecutionResult{Succeeded: true, FinalAmount: 24.00, Evidence: map[string]any{"orderId": "ord_7"}}

	// A different orchestrator, sharing only the grant, confirms.
	confirmer := quietOrchestrator(h.client, okAdapter(0),
		WithClock(func() time.Time { return h.now }))
	out := confirmer.ConfirmHandoff(context.Background(), dec.Grant, result)

	if !out.Succeeded() {
		t.Fatalf("handoff confirmation failed: %+v", out)
	}
	if got := h.grantStatus(t, dec.Grant.ID); got != "confirmed" {
		t.Fatalf("grant status = %q", got)
	}
}
