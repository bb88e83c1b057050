package aslanpay

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Orchestrator sequences the three AEC phases for purchase intents:
// request a bounded spending grant, hand it to the execution adapter,
// then reconcile the charged amount back with the control tower. Each
// Run is an independent unit of work; concurrent runs share nothing but
// the (immutable) grant ids they operate on.
type Orchestrator struct {
	client  *Client
	adapter ExecutionAdapter

	log    *slog.Logger
	tracer trace.Tracer
	now    func() time.Time

	phaseTimeout time.Duration
	execTimeout  time.Duration

	// executed tracks grant ids this instance has attempted, so a
	// replayed authorization can never trigger a second purchase.
	mu       sync.Mutex
	executed map[string]bool
}

type OrchestratorOption func(*Orchestrator)

func WithLogger(l *slog.Logger) OrchestratorOption {
	return func(o *Orchestrator) { o.log = l }
}

// WithClock overrides the time source; tests use it to cross expiry
// boundaries without sleeping.
func WithClock(now func() time.Time) OrchestratorOption {
	return func(o *Orchestrator) { o.now = now }
}

func WithPhaseTimeout(d time.Duration) OrchestratorOption {
	return func(o *Orchestrator) { o.phaseTimeout = d }
}

func WithExecTimeout(d time.Duration) OrchestratorOption {
	return func(o *Orchestrator) { o.execTimeout = d }
}

// NewOrchestrator wires a client and an execution adapter together.
func NewOrchestrator(client *Client, adapter ExecutionAdapter, opts ...OrchestratorOption) *Orchestrator {
	o := &Orchestrator{
		client:       client,
		adapter:      adapter,
		log:          slog.Default(),
		tracer:       otel.Tracer("aslanpay"),
		now:          time.Now,
		phaseTimeout: 15 * time.Second,
		execTimeout:  2 * time.Minute,
		executed:     map[string]bool{},
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Run performs one full AEC cycle and yields exactly one terminal
// Outcome. Obtaining a grant commits to attempting the purchase: there
// is no separate caller action between approval and execution.
func (o *Orchestrator) Run(ctx context.Context, agentIdentity string, intent PurchaseIntent) Outcome {
	key, err := DeriveIdempotencyKey(agentIdentity, intent)
	if err != nil {
		return failure(StateIdle, newError(KindConfiguration, PhaseAuthorize, "derive idempotency key: "+err.Error()))
	}

	dec, aerr := o.authorize(ctx, intent, key)
	if aerr != nil {
		// Policy rejections land in the same terminal state as a
		// body-level denial; everything else died mid-authorization.
		if aerr.Kind == KindDenied {
			return failure(StateDenied, aerr)
		}
		return failure(StateAuthorizing, aerr)
	}
	switch dec.Status {
	case StateDenied:
		return failure(StateDenied, &Error{Kind: KindDenied, Phase: PhaseAuthorize, Message: dec.DeniedReason})
	case StateAwaitingApproval:
		out := failure(StateAwaitingApproval, &Error{Kind: KindAwaitingApproval, Phase: PhaseAuthorize,
			Message: "purchase awaiting human approval"})
		out.ApprovalID = dec.ApprovalID
		out.EstimatedAmount = dec.EstimatedAmount
		return out
	}

	grant := dec.Grant
	o.log.InfoContext(ctx, "authorization approved",
		"grant", grant, "merchant", intent.Merchant, "idempotent", grant.Idempotent)

	result, xerr := o.execute(ctx, grant, intent)
	if xerr != nil {
		o.releaseBestEffort(ctx, grant.ID, xerr.Message)
		out := failure(StateExecutionFailed, xerr)
		out.GrantID = grant.ID
		out.Idempotent = grant.Idempotent
		return out
	}

	out := o.confirm(ctx, grant, result)
	out.Idempotent = grant.Idempotent
	return out
}

// ConfirmHandoff settles a grant whose execution was carried out by a
// different party. Anyone holding a valid, unexpired grant id may
// confirm exactly once; the service invalidates the grant on first
// confirmation. The orchestrator refuses locally to fabricate a
// confirmation for an execution that did not report success.
func (o *Orchestrator) ConfirmHandoff(ctx context.Context, grant *Grant, result ExecutionResult) Outcome {
	if grant == nil || grant.ID == "" {
		return failure(StateConfirming, newError(KindConfiguration, PhaseConfirm, "grant is required"))
	}
	if !result.Succeeded {
		return failure(StateConfirming, newError(KindConfiguration, PhaseConfirm,
			"refusing to confirm a grant whose execution did not succeed"))
	}
	out := o.confirm(ctx, grant, result)
	out.Idempotent = grant.Idempotent
	return out
}

func (o *Orchestrator) authorize(ctx context.Context, intent PurchaseIntent, key string) (*AuthorizationDecision, *Error) {
	ctx, span := o.tracer.Start(ctx, "aslanpay.authorize", trace.WithAttributes(
		attribute.String("merchant", intent.Merchant),
		attribute.String("category", intent.Category),
	))
	defer span.End()
	ctx, cancel := context.WithTimeout(ctx, o.phaseTimeout)
	defer cancel()
	return o.client.Authorize(ctx, intent, key)
}

func (o *Orchestrator) execute(ctx context.Context, grant *Grant, intent PurchaseIntent) (ExecutionResult, *Error) {
	if !o.markExecuting(grant.ID) {
		return ExecutionResult{}, newError(KindExecutionFailed, PhaseExecute,
			"execution already attempted for grant "+grant.ID)
	}
	ctx, span := o.tracer.Start(ctx, "aslanpay.execute", trace.WithAttributes(
		attribute.String("grant_id", grant.ID),
	))
	defer span.End()
	ctx, cancel := context.WithTimeout(ctx, o.execTimeout)
	defer cancel()

	result, err := o.adapter.Execute(ctx, grant, intent)
	if err != nil {
		return ExecutionResult{}, newError(KindExecutionFailed, PhaseExecute, err.Error())
	}
	if !result.Succeeded {
		msg := result.Err
		if msg == "" {
			msg = "purchase failed"
		}
		return ExecutionResult{}, newError(KindExecutionFailed, PhaseExecute, msg)
	}
	if result.FinalAmount < 0 {
		return ExecutionResult{}, newError(KindExecutionFailed, PhaseExecute,
			"adapter reported a negative final amount")
	}
	return result, nil
}

func (o *Orchestrator) confirm(ctx context.Context, grant *Grant, result ExecutionResult) Outcome {
	// Defensive local pre-check: an expired grant would only buy a
	// deterministic rejection round trip. Callers see the same Expired
	// semantics either way.
	if grant.Expired(o.now()) {
		out := failure(StateExpired, &Error{Kind: KindExpired, Phase: PhaseConfirm,
			Message: "grant expired before confirmation", Details: map[string]any{
				"grant_id":   grant.ID,
				"expires_at": grant.ExpiresAt,
			}})
		out.GrantID = grant.ID
		return out
	}

	ctx, span := o.tracer.Start(ctx, "aslanpay.confirm", trace.WithAttributes(
		attribute.String("grant_id", grant.ID),
		attribute.Float64("final_amount", result.FinalAmount),
	))
	defer span.End()
	cctx, cancel := context.WithTimeout(ctx, o.phaseTimeout)
	defer cancel()

	conf, cerr := o.client.Confirm(cctx, grant.ID, result.FinalAmount, result.Evidence)
	if cerr != nil {
		if cerr.Kind == KindExpired {
			out := failure(StateExpired, cerr)
			out.GrantID = grant.ID
			return out
		}
		// Execution happened but settlement is unrecorded: the most
		// dangerous state. Logged with full evidence for manual
		// reconciliation, never silently retried.
		if cerr.Kind == KindNetwork || cerr.Kind == KindProtocol {
			cerr = &Error{Kind: KindConfirmationFailed, Phase: PhaseConfirm,
				Message: cerr.Message, StatusCode: cerr.StatusCode, Details: cerr.Details}
		}
		o.log.ErrorContext(ctx, "confirmation failed after successful execution",
			"grant", grant,
			"final_amount", result.FinalAmount,
			"evidence", result.Evidence,
			"error", cerr.Message)
		out := failure(StateConfirmationFailed, cerr)
		out.GrantID = grant.ID
		return out
	}

	o.log.InfoContext(ctx, "purchase confirmed",
		"grant", grant, "transaction_id", conf.TransactionID, "total_charged", conf.TotalCharged)
	return Outcome{
		State:          StateConfirmed,
		GrantID:        grant.ID,
		TransactionID:  conf.TransactionID,
		Amount:         conf.AmountCharged,
		PlatformFee:    conf.PlatformFee,
		TotalCharged:   conf.TotalCharged,
		PaymentMethod:  conf.PaymentMethod,
		CredentialUsed: !grant.Credential.IsZero(),
	}
}

// releaseBestEffort signals the tower that a grant will not be
// confirmed. A delivery failure is logged and swallowed: the service's
// expiry is the authoritative backstop.
func (o *Orchestrator) releaseBestEffort(ctx context.Context, grantID, reason string) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.phaseTimeout)
	defer cancel()
	if err := o.client.Release(ctx, grantID, reason); err != nil {
		o.log.WarnContext(ctx, "grant release failed; relying on service-side expiry",
			"grant_id", grantID, "error", err.Message)
	}
}

func (o *Orchestrator) markExecuting(grantID string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.executed[grantID] {
		return false
	}
	o.executed[grantID] = true
	return true
}
