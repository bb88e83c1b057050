package aslanpay

import (
	"context"
	"net/http"
	"testing"
)

func TestConfirm_Success(t *testing.T) {
	srv := jsonServer(t, http.StatusOK, `{
		"success": true,
		"transactionId": "txn_1",
		"amount": 23.5,
		"platformFee": 0.68,
		"totalCharged": 24.18,
		"paymentMethod": {"type": "card", "last4": "4242"},
		"idempotent": false
	}`)

	out, err := testClient(srv.URL).Confirm(context.Background(), "auth_1", 23.5, map[string]any{"order": "o_1"})
	if err != nil {
		t.Fatalf("confirm: %v", err)
	}
	if out.TransactionID != "txn_1" || out.AmountCharged != 23.5 {
		t.Fatalf("unexpected outcome: %+v", out)
	}
	if out.TotalCharged != 24.18 || out.PlatformFee != 0.68 {
		t.Fatalf("fee fields not carried: %+v", out)
	}
	if out.PaymentMethod != "card ending in 4242" {
		t.Fatalf("payment method summary = %q", out.PaymentMethod)
	}
}

func TestConfirm_MissingTransactionID_IsProtocolError(t *testing.T) {
	srv := jsonServer(t, http.StatusOK, `{"success": true}`)

	_, err := testClient(srv.URL).Confirm(context.Background(), "auth_1", 23.5, nil)
	if err == nil || err.Kind != KindProtocol {
		t.Fatalf("expected PROTOCOL_ERROR, got %v", err)
	}
}

func TestConfirm_ExpiredCode_MapsToExpired(t *testing.T) {
	srv := jsonServer(t, http.StatusGone,
		`{"error": "authorization has expired", "code": "AUTHORIZATION_EXPIRED"}`)

	_, err := testClient(srv.URL).Confirm(context.Background(), "auth_1", 23.5, nil)
	if err == nil || err.Kind != KindExpired {
		t.Fatalf("expected EXPIRED, got %v", err)
	}
}

func TestConfirm_OtherRejection_MapsToConfirmationFailed(t *testing.T) {
	srv := jsonServer(t, http.StatusConflict,
		`{"error": "authorization already confirmed with a different amount", "code": "ALREADY_CONFIRMED"}`)

	_, err := testClient(srv.URL).Confirm(context.Background(), "auth_1", 23.5, nil)
	if err == nil || err.Kind != KindConfirmationFailed {
		t.Fatalf("expected CONFIRMATION_FAILED, got %v", err)
	}
	if err.Retryable() {
		t.Fatalf("confirmation failures must never be auto-retryable")
	}
}

func TestConfirm_ValidatesInputsLocally(t *testing.T) {
	c := testClient("http://localhost:1")
	if _, err := c.Confirm(context.Background(), "", 10, nil); err == nil || err.Kind != KindConfiguration {
		t.Fatalf("expected CONFIGURATION_ERROR for empty grant id, got %v", err)
	}
	if _, err := c.Confirm(context.Background(), "auth_1", -1, nil); err == nil || err.Kind != KindConfiguration {
		t.Fatalf("expected CONFIGURATION_ERROR for negative amount, got %v", err)
	}
}

func TestRelease_Succeeds(t *testing.T) {
	srv := jsonServer(t, http.StatusOK, `{"released": true, "authorizationId": "auth_1"}`)

	if err := testClient(srv.URL).Release(context.Background(), "auth_1", "execution failed"); err != nil {
		t.Fatalf("release: %v", err)
	}
}

func TestGetSpendingLimits(t *testing.T) {
	srv := jsonServer(t, http.StatusOK, `{
		"limits": {"daily": 100, "perTransaction": 50, "categories": {"shopping": 40}},
		"usage": {"dailySpent": 25},
		"remaining": {"daily": 75}
	}`)

	l, err := testClient(srv.URL).GetSpendingLimits(context.Background())
	if err != nil {
		t.Fatalf("limits: %v", err)
	}
	if l.DailyLimit != 100 || l.TransactionLimit != 50 || l.SpentToday != 25 || l.RemainingDaily != 75 {
		t.Fatalf("unexpected limits: %+v", l)
	}
	if l.CategoryLimits["shopping"] != 40 {
		t.Fatalf("category limits not parsed: %+v", l.CategoryLimits)
	}
}
