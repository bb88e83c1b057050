package aslanpay

import (
	"context"
	"net/http"
	"net/url"
)

// ConfirmationOutcome reports a settled grant. All fields are produced
// by the service and treated as opaque beyond presentation.
type ConfirmationOutcome struct {
	TransactionID string
	AmountCharged float64
	PlatformFee   float64
	TotalCharged  float64
	PaymentMethod string
	Idempotent    bool
}

// codes the tower uses for a grant that can no longer be confirmed.
const (
	codeAuthorizationExpired = "AUTHORIZATION_EXPIRED"
	codeAlreadyReleased      = "AUTHORIZATION_RELEASED"
)

// Confirm settles a grant with the actual charged amount and the
// execution evidence. The service keys confirmation on the grant id,
// which is single-use, so resubmitting an identical confirmation never
// double-charges.
func (c *Client) Confirm(ctx context.Context, grantID string, finalAmount float64, evidence map[string]any) (*ConfirmationOutcome, *Error) {
	if grantID == "" {
		return nil, newError(KindConfiguration, PhaseConfirm, "grant id is required")
	}
	if finalAmount < 0 {
		return nil, newError(KindConfiguration, PhaseConfirm, "final amount must be non-negative")
	}
	body := map[string]any{
		"finalAmount":        finalAmount,
		"transactionDetails": evidence,
	}
	path := "/v1/authorize/" + url.PathEscape(grantID) + "/confirm"
	status, payload, derr := c.do(ctx, http.MethodPost, path, body, nil)
	if derr != nil {
		derr.Phase = PhaseConfirm
		return nil, derr
	}
	if status >= 200 && status < 300 {
		success, _ := payload["success"].(bool)
		txn, _ := payload["transactionId"].(string)
		if !success || txn == "" {
			return nil, newError(KindProtocol, PhaseConfirm, "confirmation response missing transactionId")
		}
		out := &ConfirmationOutcome{TransactionID: txn}
		out.AmountCharged, _ = payload["amount"].(float64)
		out.PlatformFee, _ = payload["platformFee"].(float64)
		out.TotalCharged, _ = payload["totalCharged"].(float64)
		out.Idempotent, _ = payload["idempotent"].(bool)
		if pm, ok := payload["paymentMethod"].(map[string]any); ok {
			out.PaymentMethod = summarizePaymentMethod(pm)
		}
		return out, nil
	}
	code, message, details := errorBody(status, payload)
	kind := KindConfirmationFailed
	if code == codeAuthorizationExpired {
		kind = KindExpired
	}
	return nil, &Error{
		Kind:       kind,
		Phase:      PhaseConfirm,
		Message:    message,
		StatusCode: status,
		Details:    withCode(details, code),
	}
}

// Release gives a grant back so it stops counting against spend
// limits. Used best-effort after a failed execution; the service's own
// expiry is the backstop when the call cannot be delivered.
func (c *Client) Release(ctx context.Context, grantID, reason string) *Error {
	if grantID == "" {
		return newError(KindConfiguration, PhaseRelease, "grant id is required")
	}
	body := map[string]any{"reason": reason}
	path := "/v1/authorize/" + url.PathEscape(grantID) + "/release"
	status, payload, derr := c.do(ctx, http.MethodPost, path, body, nil)
	if derr != nil {
		derr.Phase = PhaseRelease
		return derr
	}
	if status >= 200 && status < 300 {
		return nil
	}
	code, message, details := errorBody(status, payload)
	return &Error{
		Kind:       KindProtocol,
		Phase:      PhaseRelease,
		Message:    message,
		StatusCode: status,
		Details:    withCode(details, code),
	}
}

// SpendingLimits is a point-in-time snapshot of the agent's limits and
// usage as reported by the control tower.
type SpendingLimits struct {
	DailyLimit       float64
	TransactionLimit float64
	SpentToday       float64
	RemainingDaily   float64
	CategoryLimits   map[string]float64
}

// GetSpendingLimits fetches current limits and usage.
func (c *Client) GetSpendingLimits(ctx context.Context) (*SpendingLimits, *Error) {
	status, payload, derr := c.do(ctx, http.MethodGet, "/v1/limits", nil, nil)
	if derr != nil {
		derr.Phase = PhaseAuthorize
		return nil, derr
	}
	if status < 200 || status >= 300 {
		code, message, details := errorBody(status, payload)
		return nil, &Error{Kind: KindDenied, Phase: PhaseAuthorize, Message: message, StatusCode: status, Details: withCode(details, code)}
	}
	out := &SpendingLimits{}
	if limits, ok := payload["limits"].(map[string]any); ok {
		out.DailyLimit, _ = limits["daily"].(float64)
		out.TransactionLimit, _ = limits["perTransaction"].(float64)
		if cats, ok := limits["categories"].(map[string]any); ok {
			out.CategoryLimits = map[string]float64{}
			for k, v := range cats {
				if f, ok := v.(float64); ok {
					out.CategoryLimits[k] = f
				}
			}
		}
	}
	if usage, ok := payload["usage"].(map[string]any); ok {
		out.SpentToday, _ = usage["dailySpent"].(float64)
	}
	if remaining, ok := payload["remaining"].(map[string]any); ok {
		out.RemainingDaily, _ = remaining["daily"].(float64)
	}
	return out, nil
}

func summarizePaymentMethod(pm map[string]any) string {
	typ, _ := pm["type"].(string)
	last4, _ := pm["last4"].(string)
	switch {
	case typ != "" && last4 != "":
		return typ + " ending in " + last4
	case typ != "":
		return typ
	default:
		return ""
	}
}
