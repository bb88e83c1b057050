package aslanpay

import (
	"context"
	"net/http"
	"time"
)

// AuthorizationRequest is the wire payload for /v1/authorize. The
// idempotency key travels both in the body and as the Idempotency-Key
// header.
type AuthorizationRequest struct {
	Merchant       string         `json:"merchant"`
	Amount         *float64       `json:"amount,omitempty"`
	Category       string         `json:"category"`
	Intent         string         `json:"intent"`
	Metadata       map[string]any `json:"metadata,omitempty"`
	IdempotencyKey string         `json:"idempotencyKey"`
}

// AuthorizationDecision is the typed result of the authorization
// phase. Exactly one of Grant, DeniedReason or the approval fields is
// meaningful, discriminated by Status.
type AuthorizationDecision struct {
	Status State // StateAuthorized, StateDenied or StateAwaitingApproval

	Grant *Grant

	// Denial, verbatim from the service.
	DeniedReason string

	// Human-approval suspension.
	ApprovalID      string
	EstimatedAmount float64

	LatencyMs float64
}

// Authorize requests a spending grant. Intent validation and the
// credential check happen before any network call; a denial is a
// terminal decision, not an error.
func (c *Client) Authorize(ctx context.Context, intent PurchaseIntent, idempotencyKey string) (*AuthorizationDecision, *Error) {
	if err := intent.validate(); err != nil {
		return nil, newError(KindConfiguration, PhaseAuthorize, err.Error())
	}
	req := AuthorizationRequest{
		Merchant:       intent.Merchant,
		Amount:         intent.Amount,
		Category:       intent.Category,
		Intent:         intent.Intent,
		Metadata:       intent.Metadata,
		IdempotencyKey: idempotencyKey,
	}
	headers := map[string]string{}
	if idempotencyKey != "" {
		headers["Idempotency-Key"] = idempotencyKey
	}
	status, payload, derr := c.do(ctx, http.MethodPost, "/v1/authorize", req, headers)
	if derr != nil {
		derr.Phase = PhaseAuthorize
		return nil, derr
	}
	return parseAuthorization(status, payload)
}

func parseAuthorization(status int, payload map[string]any) (*AuthorizationDecision, *Error) {
	dec := &AuthorizationDecision{}
	dec.LatencyMs, _ = payload["latencyMs"].(float64)

	switch {
	case status == http.StatusAccepted:
		// Parked for human approval. Terminal for this call; the
		// caller polls or is notified out of band.
		approvalID, _ := payload["approvalId"].(string)
		if approvalID == "" {
			return nil, newError(KindProtocol, PhaseAuthorize, "approval response missing approvalId")
		}
		dec.Status = StateAwaitingApproval
		dec.ApprovalID = approvalID
		dec.EstimatedAmount, _ = payload["estimatedAmount"].(float64)
		return dec, nil

	case status >= 200 && status < 300:
		authorized, _ := payload["authorized"].(bool)
		if !authorized {
			reason, _ := payload["reason"].(string)
			if reason == "" {
				reason, _ = payload["error"].(string)
			}
			if reason == "" {
				reason = "authorization denied"
			}
			dec.Status = StateDenied
			dec.DeniedReason = reason
			return dec, nil
		}
		grant, err := parseGrant(payload)
		if err != nil {
			return nil, err
		}
		dec.Status = StateAuthorized
		dec.Grant = grant
		return dec, nil

	default:
		// Policy rejections arrive as 4xx with the flat error shape.
		code, message, details := errorBody(status, payload)
		return nil, &Error{
			Kind:       KindDenied,
			Phase:      PhaseAuthorize,
			Message:    message,
			StatusCode: status,
			Details:    withCode(details, code),
		}
	}
}

func parseGrant(payload map[string]any) (*Grant, *Error) {
	id, _ := payload["authorizationId"].(string)
	if id == "" {
		return nil, newError(KindProtocol, PhaseAuthorize, "approved authorization missing authorizationId")
	}
	g := &Grant{ID: id, Status: GrantApproved}
	g.RequestedAmount, _ = payload["amount"].(float64)
	g.Idempotent, _ = payload["idempotent"].(bool)
	if tok, _ := payload["scopedToken"].(string); tok != "" {
		g.Credential = NewScopedCredential(tok)
	}
	if raw, _ := payload["expiresAt"].(string); raw != "" {
		t, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			return nil, newError(KindProtocol, PhaseAuthorize, "unparseable expiresAt: "+raw)
		}
		g.ExpiresAt = t
	}
	return g, nil
}

func withCode(details map[string]any, code string) map[string]any {
	if code == "" {
		return details
	}
	if details == nil {
		details = map[string]any{}
	}
	details["code"] = code
	return details
}
