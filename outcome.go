package aslanpay

import (
	"fmt"
)

// ErrorKind classifies every failure an AEC run can surface. Callers
// branch on the kind, never on message text.
type ErrorKind string

const (
	// KindConfiguration means the request was rejected before any
	// network call: missing credential or an invalid purchase intent.
	KindConfiguration ErrorKind = "CONFIGURATION_ERROR"

	// KindNetwork is a transport-level failure. Safe for the caller to
	// retry with the same idempotency key; the orchestrator itself
	// never retries.
	KindNetwork ErrorKind = "NETWORK_ERROR"

	// KindProtocol means the service answered with something the
	// client contract does not allow (non-JSON body, missing required
	// fields). Never retried; indicates a defect, not a transient.
	KindProtocol ErrorKind = "PROTOCOL_ERROR"

	// KindDenied is a policy rejection from the control tower. The
	// reason is carried verbatim.
	KindDenied ErrorKind = "DENIED"

	// KindAwaitingApproval is not an error: the purchase is parked
	// until a human approves it out of band.
	KindAwaitingApproval ErrorKind = "AWAITING_APPROVAL"

	// KindExecutionFailed means the merchant-side purchase failed after
	// a grant was issued. The grant is released best-effort.
	KindExecutionFailed ErrorKind = "EXECUTION_FAILED"

	// KindConfirmationFailed means execution succeeded but settlement
	// could not be recorded. Money state is ambiguous; flagged for
	// manual reconciliation and never retried automatically.
	KindConfirmationFailed ErrorKind = "CONFIRMATION_FAILED"

	// KindExpired means the grant's window lapsed before confirmation.
	KindExpired ErrorKind = "EXPIRED"
)

// Phase identifies where in the AEC protocol a failure occurred, so
// operators can tell "never charged" from "charged but unreconciled".
type Phase string

const (
	PhaseAuthorize Phase = "authorize"
	PhaseExecute   Phase = "execute"
	PhaseConfirm   Phase = "confirm"
	PhaseRelease   Phase = "release"
)

// Error is the single failure type the SDK returns.
type Error struct {
	Kind       ErrorKind
	Phase      Phase
	Message    string
	StatusCode int
	Details    map[string]any
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("aslanpay: %s in %s phase: %s", e.Kind, e.Phase, e.Message)
}

// Retryable reports whether the caller may safely resubmit the same
// request. Only transport failures qualify; the idempotency key makes
// the resubmission collapse onto the original grant.
func (e *Error) Retryable() bool {
	return e != nil && e.Kind == KindNetwork
}

func newError(kind ErrorKind, phase Phase, msg string) *Error {
	return &Error{Kind: kind, Phase: phase, Message: msg}
}

// Outcome is the one terminal result of an AEC run. Exactly one of the
// success fields or Failure is meaningful; callers check Succeeded()
// first and then branch on Failure.Kind.
type Outcome struct {
	State State

	// Success path.
	TransactionID string
	Amount        float64
	PlatformFee   float64
	TotalCharged  float64
	PaymentMethod string
	Details       map[string]any

	// GrantID is set whenever an authorization was issued, including
	// on failures after approval, so cooperating callers can pick the
	// grant up.
	GrantID string

	// Idempotent mirrors the service's replay flag unchanged: true
	// when the authorization was collapsed onto an earlier grant.
	Idempotent bool

	// CredentialUsed reports that a scoped credential was presented
	// during execution. The credential itself is never surfaced.
	CredentialUsed bool

	// Human-approval suspension, populated when State is
	// StateAwaitingApproval.
	ApprovalID      string
	EstimatedAmount float64

	Failure *Error
}

// Succeeded reports whether the run reached Confirmed.
func (o Outcome) Succeeded() bool {
	return o.Failure == nil && o.State == StateConfirmed
}

func failure(state State, err *Error) Outcome {
	return Outcome{State: state, Failure: err}
}
