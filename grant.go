package aslanpay

import (
	"log/slog"
	"time"
)

// State is the orchestrator's position in the AEC state machine. A run
// only moves forward; Confirmed, Denied, Expired and Released are
// terminal.
type State string

const (
	StateIdle               State = "idle"
	StateAuthorizing        State = "authorizing"
	StateDenied             State = "denied"
	StateAwaitingApproval   State = "awaiting_approval"
	StateAuthorized         State = "authorized"
	StateExecuting          State = "executing"
	StateExecutionFailed    State = "execution_failed"
	StateExecuted           State = "executed"
	StateConfirming         State = "confirming"
	StateConfirmed          State = "confirmed"
	StateConfirmationFailed State = "confirmation_failed"
	StateExpired            State = "expired"
	StateReleased           State = "released"
)

// GrantStatus is the service-side status of a spending grant as
// observed through responses. The client never mutates it locally.
type GrantStatus string

const (
	GrantPending          GrantStatus = "pending"
	GrantApproved         GrantStatus = "approved"
	GrantDenied           GrantStatus = "denied"
	GrantAwaitingApproval GrantStatus = "awaiting_approval"
	GrantExpired          GrantStatus = "expired"
	GrantConfirmed        GrantStatus = "confirmed"
	GrantReleased         GrantStatus = "released"
)

// Grant is a bounded, time-limited spending authorization issued by the
// control tower. It is immutable once issued; the scoped credential is
// carried in a redacting wrapper and is only accessible to execution
// adapters via Reveal.
type Grant struct {
	ID              string
	RequestedAmount float64
	ExpiresAt       time.Time
	Status          GrantStatus
	Idempotent      bool

	Credential ScopedCredential
}

// Expired reports whether the grant can no longer be confirmed as of
// now. The service's own expiry remains authoritative; this is the
// client-side defensive check.
func (g *Grant) Expired(now time.Time) bool {
	return !g.ExpiresAt.IsZero() && !now.Before(g.ExpiresAt)
}

// LogValue keeps grants safe to pass to slog directly.
func (g *Grant) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("grant_id", g.ID),
		slog.Float64("requested_amount", g.RequestedAmount),
		slog.Time("expires_at", g.ExpiresAt),
		slog.Bool("scoped_credential", !g.Credential.IsZero()),
	)
}

// ScopedCredential wraps the narrowly-scoped single-use token a grant
// may carry. Every rendering path (fmt, JSON, slog) is redacted; the
// raw token is only reachable through Reveal, which execution adapters
// call when presenting it to a merchant.
type ScopedCredential struct {
	token string
}

func NewScopedCredential(token string) ScopedCredential {
	return ScopedCredential{token: token}
}

func (c ScopedCredential) IsZero() bool { return c.token == "" }

// Reveal returns the raw token. Callers must not persist or log it.
func (c ScopedCredential) Reveal() string { return c.token }

func (c ScopedCredential) String() string {
	if c.IsZero() {
		return ""
	}
	return "[scoped credential redacted]"
}

func (c ScopedCredential) MarshalJSON() ([]byte, error) {
	if c.IsZero() {
		return []byte(`""`), nil
	}
	return []byte(`"[REDACTED]"`), nil
}

func (c ScopedCredential) LogValue() slog.Value {
	return slog.BoolValue(!c.IsZero())
}
