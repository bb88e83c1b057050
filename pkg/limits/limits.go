// Package limits provides the spend-limit arithmetic behind the local
// control tower: per-transaction, daily and per-category ceilings with
// reserve/settle/release accounting. Checks fail closed; when the
// enforcer cannot decide, it denies.
package limits

import (
	"fmt"
	"sync"
	"time"
)

// Limits are the configured ceilings for one agent, in USD.
type Limits struct {
	Daily          float64            `yaml:"daily"`
	PerTransaction float64            `yaml:"per_transaction"`
	Categories     map[string]float64 `yaml:"categories"`

	// ApprovalThreshold parks amounts at or above it for human
	// approval instead of auto-approving. Zero disables the gate.
	ApprovalThreshold float64 `yaml:"approval_threshold"`
}

// Decision is the outcome of a reserve attempt.
type Decision struct {
	Allowed bool
	Code    string
	Reason  string
}

const (
	CodeTransactionLimit = "TRANSACTION_LIMIT_EXCEEDED"
	CodeDailyLimit       = "DAILY_LIMIT_EXCEEDED"
	CodeCategoryLimit    = "CATEGORY_LIMIT_EXCEEDED"
)

// Enforcer tracks one agent's usage against its limits. Reservations
// are made at authorization time and either settled (possibly at a
// different final amount) or released.
type Enforcer struct {
	mu     sync.Mutex
	limits Limits

	day           string // UTC date the counters belong to
	dailySpent    float64
	categorySpent map[string]float64
}

func NewEnforcer(l Limits) *Enforcer {
	return &Enforcer{limits: l, categorySpent: map[string]float64{}}
}

// Reserve checks amount against every ceiling and, when allowed, counts
// it as spent so concurrent authorizations cannot oversubscribe the
// budget.
func (e *Enforcer) Reserve(amount float64, category string, now time.Time) Decision {
	if amount < 0 {
		return Decision{Code: CodeTransactionLimit, Reason: "amount must be non-negative"}
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.rollover(now)

	if e.limits.PerTransaction > 0 && amount > e.limits.PerTransaction {
		return Decision{
			Code:   CodeTransactionLimit,
			Reason: fmt.Sprintf("transaction limit exceeded: $%.2f > $%.2f", amount, e.limits.PerTransaction),
		}
	}
	if e.limits.Daily > 0 && e.dailySpent+amount > e.limits.Daily {
		return Decision{
			Code:   CodeDailyLimit,
			Reason: "daily limit exceeded",
		}
	}
	if cap, ok := e.limits.Categories[category]; ok && e.categorySpent[category]+amount > cap {
		return Decision{
			Code:   CodeCategoryLimit,
			Reason: fmt.Sprintf("category %q limit exceeded", category),
		}
	}

	e.dailySpent += amount
	e.categorySpent[category] += amount
	return Decision{Allowed: true}
}

// Settle replaces a reservation with the final charged amount. Fees can
// push the final amount above the reservation; the delta is absorbed
// here so the usage snapshot reflects what was actually charged.
func (e *Enforcer) Settle(reserved, final float64, category string, now time.Time) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.rollover(now)
	delta := final - reserved
	e.dailySpent += delta
	e.categorySpent[category] += delta
	if e.dailySpent < 0 {
		e.dailySpent = 0
	}
	if e.categorySpent[category] < 0 {
		e.categorySpent[category] = 0
	}
}

// Release gives a reservation back after a failed or abandoned
// execution.
func (e *Enforcer) Release(reserved float64, category string, now time.Time) {
	e.Settle(reserved, 0, category, now)
}

// RequiresApproval reports whether amount crosses the human-approval
// threshold.
func (e *Enforcer) RequiresApproval(amount float64) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.limits.ApprovalThreshold > 0 && amount >= e.limits.ApprovalThreshold
}

// Snapshot reports the limits and current usage.
func (e *Enforcer) Snapshot(now time.Time) (Limits, float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.rollover(now)
	return e.limits, e.dailySpent
}

// rollover resets the daily counters when the UTC day changes. Callers
// hold the lock.
func (e *Enforcer) rollover(now time.Time) {
	day := now.UTC().Format("2006-01-02")
	if day != e.day {
		e.day = day
		e.dailySpent = 0
		e.categorySpent = map[string]float64{}
	}
}
