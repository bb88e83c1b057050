// Package store persists the control tower's authorizations. The
// memory implementation backs tests and local development; the
// postgres implementation is selected when DATABASE_URL is set.
package store

import (
	"context"
	"errors"
	"time"
)

type Status string

const (
	StatusApproved  Status = "approved"
	StatusConfirmed Status = "confirmed"
	StatusReleased  Status = "released"
	StatusExpired   Status = "expired"
)

var (
	ErrNotFound         = errors.New("authorization not found")
	ErrExpired          = errors.New("authorization expired")
	ErrReleased         = errors.New("authorization released")
	ErrAlreadyConfirmed = errors.New("authorization already confirmed")
)

// Authorization is one issued spending grant as the tower sees it.
type Authorization struct {
	ID             string
	AgentID        string
	Merchant       string
	Amount         float64
	Category       string
	Intent         string
	IdempotencyKey string
	ScopedToken    string
	Status         Status
	CreatedAt      time.Time
	ExpiresAt      time.Time

	// Settlement fields, populated on confirmation.
	TransactionID string
	FinalAmount   float64
	PlatformFee   float64
	TotalCharged  float64
}

// Store is the persistence boundary. Confirm and Release are the only
// state transitions and must be atomic: exactly one confirmation can
// win for a given authorization.
type Store interface {
	CreateAuthorization(ctx context.Context, a *Authorization) error
	GetAuthorization(ctx context.Context, id string) (*Authorization, error)

	// GetByIdempotencyKey returns the newest authorization created by
	// agentID with the given key at or after notBefore, or ErrNotFound.
	GetByIdempotencyKey(ctx context.Context, agentID, key string, notBefore time.Time) (*Authorization, error)

	// Confirm transitions an approved authorization to confirmed. On a
	// repeat call it returns the stored record with
	// ErrAlreadyConfirmed so the handler can decide between replay and
	// rejection. Expired or released grants return the record with
	// ErrExpired / ErrReleased.
	Confirm(ctx context.Context, id, transactionID string, finalAmount, platformFee, totalCharged float64, now time.Time) (*Authorization, error)

	// Release transitions an approved or expired authorization to
	// released. Releasing twice returns the record with ErrReleased;
	// a confirmed grant returns ErrAlreadyConfirmed.
	Release(ctx context.Context, id string, now time.Time) (*Authorization, error)
}
