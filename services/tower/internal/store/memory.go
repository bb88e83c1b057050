package store

import (
	"context"
	"sync"
	"time"
)

// Memory is the in-process store used by tests and local development.
type Memory struct {
	mu    sync.Mutex
	auths map[string]*Authorization
}

func NewMemory() *Memory {
	return &Memory{auths: map[string]*Authorization{}}
}

func (m *Memory) CreateAuthorization(_ context.Context, a *Authorization) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *a
	m.auths[a.ID] = &cp
	return nil
}

func (m *Memory) GetAuthorization(_ context.Context, id string) (*Authorization, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.auths[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *a
	return &cp, nil
}

func (m *Memory) GetByIdempotencyKey(_ context.Context, agentID, key string, notBefore time.Time) (*Authorization, error) {
	if key == "" {
		return nil, ErrNotFound
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	var newest *Authorization
	for _, a := range m.auths {
		if a.AgentID != agentID || a.IdempotencyKey != key || a.CreatedAt.Before(notBefore) {
			continue
		}
		if newest == nil || a.CreatedAt.After(newest.CreatedAt) {
			newest = a
		}
	}
	if newest == nil {
		return nil, ErrNotFound
	}
	cp := *newest
	return &cp, nil
}

func (m *Memory) Confirm(_ context.Context, id, transactionID string, finalAmount, platformFee, totalCharged float64, now time.Time) (*Authorization, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.auths[id]
	if !ok {
		return nil, ErrNotFound
	}
	switch a.Status {
	case StatusConfirmed:
		cp := *a
		return &cp, ErrAlreadyConfirmed
	case StatusReleased:
		cp := *a
		return &cp, ErrReleased
	}
	if !a.ExpiresAt.IsZero() && !now.Before(a.ExpiresAt) {
		a.Status = StatusExpired
		cp := *a
		return &cp, ErrExpired
	}
	a.Status = StatusConfirmed
	a.TransactionID = transactionID
	a.FinalAmount = finalAmount
	a.PlatformFee = platformFee
	a.TotalCharged = totalCharged
	cp := *a
	return &cp, nil
}

func (m *Memory) Release(_ context.Context, id string, now time.Time) (*Authorization, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.auths[id]
	if !ok {
		return nil, ErrNotFound
	}
	switch a.Status {
	case StatusConfirmed:
		cp := *a
		return &cp, ErrAlreadyConfirmed
	case StatusReleased:
		cp := *a
		return &cp, ErrReleased
	}
	a.Status = StatusReleased
	cp := *a
	return &cp, nil
}
