// Package tower is a small, faithful control-tower implementation the
// SDK can run against in tests, local development and demos. It issues
// bounded spending grants, enforces limits and velocity caps, mints
// scoped tokens and settles confirmations exactly once. It is not the
// production ledger.
package tower

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/coltonsakamoto/aslanpay/pkg/httpx"
	"github.com/coltonsakamoto/aslanpay/pkg/limits"
	"github.com/coltonsakamoto/aslanpay/pkg/webhooks"
	"github.com/coltonsakamoto/aslanpay/services/tower/internal/policy"
	"github.com/coltonsakamoto/aslanpay/services/tower/internal/scopedtoken"
	"github.com/coltonsakamoto/aslanpay/services/tower/internal/store"
)

// Policy re-exported so callers don't import the internal package.
type Policy = policy.Policy

// DefaultPolicy mirrors the hosted sandbox defaults.
func DefaultPolicy() Policy { return policy.Default() }

// LoadPolicy reads a YAML policy file.
func LoadPolicy(path string) (Policy, error) { return policy.Load(path) }

const idempotencyWindow = 10 * time.Minute

type approval struct {
	AgentID         string
	Merchant        string
	EstimatedAmount float64
	CreatedAt       time.Time
}

// Server implements the /v1 authorize API over a Store.
type Server struct {
	router *chi.Mux
	st     store.Store
	pol    policy.Policy
	signer *scopedtoken.Signer
	vel    *policy.Velocity
	log    *slog.Logger
	now    func() time.Time

	stripeSecret string

	mu        sync.Mutex
	enforcers map[string]*limits.Enforcer
	approvals map[string]approval
}

type Option func(*Server)

func WithStore(st store.Store) Option {
	return func(s *Server) { s.st = st }
}

func WithLogger(l *slog.Logger) Option {
	return func(s *Server) { s.log = l }
}

func WithClock(now func() time.Time) Option {
	return func(s *Server) { s.now = now }
}

func WithSigningSecret(secret []byte) Option {
	return func(s *Server) { s.signer, _ = scopedtoken.NewSigner(secret) }
}

// WithStripeWebhookSecret enables the Stripe webhook endpoint.
func WithStripeWebhookSecret(secret string) Option {
	return func(s *Server) { s.stripeSecret = secret }
}

// NewServer builds a tower with an in-memory store unless one is
// injected.
func NewServer(pol Policy, opts ...Option) (*Server, error) {
	s := &Server{
		st:        store.NewMemory(),
		pol:       pol,
		vel:       policy.NewVelocity(pol.VelocityPerMinute),
		log:       slog.Default(),
		now:       time.Now,
		enforcers: map[string]*limits.Enforcer{},
		approvals: map[string]approval{},
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.signer == nil {
		secret := make([]byte, 32)
		if _, err := rand.Read(secret); err != nil {
			return nil, err
		}
		var err error
		s.signer, err = scopedtoken.NewSigner(secret)
		if err != nil {
			return nil, err
		}
	}

	r := chi.NewRouter()
	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusOK) })
	r.Route("/v1", func(api chi.Router) {
		api.Post("/authorize", s.handleAuthorize)
		api.Get("/authorize/{id}", s.handleGetAuthorization)
		api.Post("/authorize/{id}/confirm", s.handleConfirm)
		api.Post("/authorize/{id}/release", s.handleRelease)
		api.Get("/limits", s.handleLimits)
		api.Post("/webhooks/stripe", s.handleStripeWebhook)
	})
	s.router = r
	return s, nil
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// agentID derives a stable identity from the bearer credential without
// keeping the credential itself around.
func (s *Server) agentID(r *http.Request) (string, bool) {
	h := r.Header.Get("Authorization")
	if !strings.HasPrefix(h, "Bearer ") {
		return "", false
	}
	token := strings.TrimSpace(strings.TrimPrefix(h, "Bearer "))
	if token == "" {
		return "", false
	}
	sum := sha256.Sum256([]byte(token))
	return "agent_" + hex.EncodeToString(sum[:8]), true
}

func (s *Server) enforcer(agentID string) *limits.Enforcer {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.enforcers[agentID]
	if !ok {
		e = limits.NewEnforcer(s.pol.Limits)
		s.enforcers[agentID] = e
	}
	return e
}

type authorizeRequest struct {
	Merchant       string         `json:"merchant"`
	Amount         *float64       `json:"amount"`
	Category       string         `json:"category"`
	Intent         string         `json:"intent"`
	Metadata       map[string]any `json:"metadata"`
	IdempotencyKey string         `json:"idempotencyKey"`
}

func (s *Server) handleAuthorize(w http.ResponseWriter, r *http.Request) {
	started := s.now()
	agentID, ok := s.agentID(r)
	if !ok {
		httpx.WriteError(w, http.StatusUnauthorized, "MISSING_API_KEY", "Missing or invalid Authorization header", nil)
		return
	}

	var req authorizeRequest
	if err := httpx.ReadJSON(r, &req); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "VALIDATION_ERROR", "Request validation failed", map[string]any{"parse": err.Error()})
		return
	}
	if strings.TrimSpace(req.Merchant) == "" || strings.TrimSpace(req.Category) == "" || strings.TrimSpace(req.Intent) == "" {
		httpx.WriteError(w, http.StatusBadRequest, "VALIDATION_ERROR", "merchant, category and intent are required", nil)
		return
	}
	amount := 0.0
	if req.Amount != nil {
		amount = *req.Amount
	}
	if amount < 0 {
		httpx.WriteError(w, http.StatusBadRequest, "INVALID_AMOUNT", "Amount must be non-negative", nil)
		return
	}

	now := s.now()

	// Idempotent replay: an equivalent request inside the window
	// returns the original grant rather than creating a duplicate.
	if req.IdempotencyKey != "" {
		if prior, err := s.st.GetByIdempotencyKey(r.Context(), agentID, req.IdempotencyKey, now.Add(-idempotencyWindow)); err == nil {
			s.log.InfoContext(r.Context(), "idempotent authorize replay", "agent_id", agentID, "authorization_id", prior.ID)
			s.writeApproved(w, prior, true, started)
			return
		}
	}

	if !s.vel.Allow(agentID) {
		httpx.WriteError(w, http.StatusTooManyRequests, "VELOCITY_LIMIT_EXCEEDED", "Daily authorization limit exceeded for new accounts", nil)
		return
	}

	enf := s.enforcer(agentID)
	if enf.RequiresApproval(amount) {
		approvalID := "appr_" + uuid.NewString()
		s.mu.Lock()
		s.approvals[approvalID] = approval{AgentID: agentID, Merchant: req.Merchant, EstimatedAmount: amount, CreatedAt: now}
		s.mu.Unlock()
		httpx.WriteJSON(w, http.StatusAccepted, map[string]any{
			"requiresApproval": true,
			"approvalId":       approvalID,
			"estimatedAmount":  amount,
			"message":          "Purchase requires user approval",
			"latencyMs":        latencyMs(started, s.now()),
		})
		return
	}

	if d := enf.Reserve(amount, req.Category, now); !d.Allowed {
		httpx.WriteError(w, http.StatusPaymentRequired, d.Code, d.Reason, nil)
		return
	}

	auth := &store.Authorization{
		ID:             "auth_" + uuid.NewString(),
		AgentID:        agentID,
		Merchant:       req.Merchant,
		Amount:         amount,
		Category:       req.Category,
		Intent:         req.Intent,
		IdempotencyKey: req.IdempotencyKey,
		Status:         store.StatusApproved,
		CreatedAt:      now,
		ExpiresAt:      now.Add(s.pol.GrantTTL),
	}
	tok, err := s.signer.Mint(agentID, auth.ID, auth.Merchant, amount, now, auth.ExpiresAt)
	if err != nil {
		httpx.WriteError(w, http.StatusInternalServerError, "TOKEN_ERROR", "failed to mint scoped token", nil)
		return
	}
	auth.ScopedToken = tok
	if err := s.st.CreateAuthorization(r.Context(), auth); err != nil {
		enf.Release(amount, req.Category, now)
		httpx.WriteError(w, http.StatusInternalServerError, "STORE_ERROR", "failed to persist authorization", nil)
		return
	}

	s.log.InfoContext(r.Context(), "authorization approved",
		"agent_id", agentID, "authorization_id", auth.ID, "merchant", auth.Merchant, "amount", amount)
	s.writeApproved(w, auth, false, started)
}

func (s *Server) writeApproved(w http.ResponseWriter, a *store.Authorization, idempotent bool, started time.Time) {
	httpx.WriteJSON(w, http.StatusOK, map[string]any{
		"authorized":      true,
		"authorizationId": a.ID,
		"amount":          a.Amount,
		"scopedToken":     a.ScopedToken,
		"expiresAt":       a.ExpiresAt.UTC().Format(time.RFC3339Nano),
		"idempotent":      idempotent,
		"latencyMs":       latencyMs(started, s.now()),
	})
}

func (s *Server) handleGetAuthorization(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.agentID(r); !ok {
		httpx.WriteError(w, http.StatusUnauthorized, "MISSING_API_KEY", "Missing or invalid Authorization header", nil)
		return
	}
	a, err := s.st.GetAuthorization(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		httpx.WriteError(w, http.StatusNotFound, "AUTHORIZATION_NOT_FOUND", "authorization not found", nil)
		return
	}
	status := a.Status
	if status == store.StatusApproved && !s.now().Before(a.ExpiresAt) {
		status = store.StatusExpired
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{
		"authorizationId": a.ID,
		"merchant":        a.Merchant,
		"amount":          a.Amount,
		"status":          string(status),
		"expiresAt":       a.ExpiresAt.UTC().Format(time.RFC3339Nano),
	})
}

type confirmRequest struct {
	FinalAmount        *float64       `json:"finalAmount"`
	TransactionDetails map[string]any `json:"transactionDetails"`
}

func (s *Server) handleConfirm(w http.ResponseWriter, r *http.Request) {
	// Confirmation is deliberately open to any authenticated holder of
	// the grant id: the authorizing agent and the executing agent may
	// be different parties.
	if _, ok := s.agentID(r); !ok {
		httpx.WriteError(w, http.StatusUnauthorized, "MISSING_API_KEY", "Missing or invalid Authorization header", nil)
		return
	}
	id := chi.URLParam(r, "id")

	var req confirmRequest
	if err := httpx.ReadJSON(r, &req); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "VALIDATION_ERROR", "Request validation failed", map[string]any{"parse": err.Error()})
		return
	}
	if req.FinalAmount == nil || *req.FinalAmount < 0 {
		httpx.WriteError(w, http.StatusBadRequest, "INVALID_AMOUNT", "finalAmount must be a non-negative number", nil)
		return
	}
	final := *req.FinalAmount

	now := s.now()
	prior, err := s.st.GetAuthorization(r.Context(), id)
	if err != nil {
		httpx.WriteError(w, http.StatusNotFound, "AUTHORIZATION_NOT_FOUND", "authorization not found", nil)
		return
	}
	if ceiling := s.pol.Ceiling(prior.Amount); ceiling > 0 && final > ceiling {
		httpx.WriteError(w, http.StatusPaymentRequired, "AMOUNT_EXCEEDS_AUTHORIZATION",
			"final amount exceeds the authorized ceiling", map[string]any{"ceiling": ceiling})
		return
	}

	fee := round2(final * s.pol.PlatformFeeRate)
	txnID := "txn_" + uuid.NewString()
	a, err := s.st.Confirm(r.Context(), id, txnID, final, fee, round2(final+fee), now)
	switch {
	case err == nil:
		s.enforcer(a.AgentID).Settle(a.Amount, final, a.Category, now)
		s.log.InfoContext(r.Context(), "authorization confirmed",
			"authorization_id", a.ID, "transaction_id", a.TransactionID, "final_amount", final)
		s.writeConfirmed(w, a, false)
	case errors.Is(err, store.ErrAlreadyConfirmed):
		// Same settlement resubmitted (client-side timeout whose
		// server-side effect was unknown): replay the original. A
		// different amount is a conflict, never a second charge.
		if a.FinalAmount == final {
			s.writeConfirmed(w, a, true)
			return
		}
		httpx.WriteError(w, http.StatusConflict, "ALREADY_CONFIRMED",
			"authorization already confirmed with a different amount",
			map[string]any{"transactionId": a.TransactionID})
	case errors.Is(err, store.ErrExpired):
		httpx.WriteError(w, http.StatusGone, "AUTHORIZATION_EXPIRED", "authorization has expired", nil)
	case errors.Is(err, store.ErrReleased):
		httpx.WriteError(w, http.StatusGone, "AUTHORIZATION_RELEASED", "authorization was released", nil)
	case errors.Is(err, store.ErrNotFound):
		httpx.WriteError(w, http.StatusNotFound, "AUTHORIZATION_NOT_FOUND", "authorization not found", nil)
	default:
		httpx.WriteError(w, http.StatusInternalServerError, "STORE_ERROR", "failed to confirm authorization", nil)
	}
}

func (s *Server) writeConfirmed(w http.ResponseWriter, a *store.Authorization, idempotent bool) {
	httpx.WriteJSON(w, http.StatusOK, map[string]any{
		"success":       true,
		"transactionId": a.TransactionID,
		"amount":        a.FinalAmount,
		"platformFee":   a.PlatformFee,
		"totalCharged":  a.TotalCharged,
		"paymentMethod": map[string]any{"type": "card", "last4": "4242"},
		"idempotent":    idempotent,
	})
}

type releaseRequest struct {
	Reason string `json:"reason"`
}

func (s *Server) handleRelease(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.agentID(r); !ok {
		httpx.WriteError(w, http.StatusUnauthorized, "MISSING_API_KEY", "Missing or invalid Authorization header", nil)
		return
	}
	var req releaseRequest
	_ = httpx.ReadJSON(r, &req)

	now := s.now()
	a, err := s.st.Release(r.Context(), chi.URLParam(r, "id"), now)
	switch {
	case err == nil:
		s.enforcer(a.AgentID).Release(a.Amount, a.Category, now)
		s.log.InfoContext(r.Context(), "authorization released",
			"authorization_id", a.ID, "reason", req.Reason)
		httpx.WriteJSON(w, http.StatusOK, map[string]any{"released": true, "authorizationId": a.ID})
	case errors.Is(err, store.ErrReleased):
		// Releasing twice is harmless; the budget was already returned.
		httpx.WriteJSON(w, http.StatusOK, map[string]any{"released": true, "authorizationId": a.ID})
	case errors.Is(err, store.ErrAlreadyConfirmed):
		httpx.WriteError(w, http.StatusConflict, "ALREADY_CONFIRMED", "authorization already confirmed", nil)
	case errors.Is(err, store.ErrNotFound):
		httpx.WriteError(w, http.StatusNotFound, "AUTHORIZATION_NOT_FOUND", "authorization not found", nil)
	default:
		httpx.WriteError(w, http.StatusInternalServerError, "STORE_ERROR", "failed to release authorization", nil)
	}
}

func (s *Server) handleLimits(w http.ResponseWriter, r *http.Request) {
	agentID, ok := s.agentID(r)
	if !ok {
		httpx.WriteError(w, http.StatusUnauthorized, "MISSING_API_KEY", "Missing or invalid Authorization header", nil)
		return
	}
	l, spent := s.enforcer(agentID).Snapshot(s.now())
	remaining := l.Daily - spent
	if remaining < 0 {
		remaining = 0
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{
		"limits": map[string]any{
			"daily":          l.Daily,
			"perTransaction": l.PerTransaction,
			"categories":     l.Categories,
		},
		"usage":     map[string]any{"dailySpent": spent},
		"remaining": map[string]any{"daily": remaining},
	})
}

// handleStripeWebhook records provider-side settlement events. The
// payload is untouched until the signature verifies.
func (s *Server) handleStripeWebhook(w http.ResponseWriter, r *http.Request) {
	if s.stripeSecret == "" {
		httpx.WriteError(w, http.StatusServiceUnavailable, "WEBHOOKS_DISABLED", "webhook secret not configured", nil)
		return
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "WEBHOOK_ERROR", "unreadable body", nil)
		return
	}
	evt, err := webhooks.VerifyStripe(r.Header, body, s.now(), s.stripeSecret, webhooks.DefaultTolerance)
	if err != nil {
		s.log.WarnContext(r.Context(), "stripe webhook rejected", "err", err)
		httpx.WriteError(w, http.StatusBadRequest, "WEBHOOK_SIGNATURE_INVALID", err.Error(), nil)
		return
	}
	s.log.InfoContext(r.Context(), "stripe webhook received", "event_id", evt.ID, "event_type", evt.Type)
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"received": true, "eventId": evt.ID})
}

func latencyMs(started, now time.Time) float64 {
	return float64(now.Sub(started).Microseconds()) / 1000.0
}

func round2(v float64) float64 {
	return float64(int64(v*100+0.5)) / 100
}
