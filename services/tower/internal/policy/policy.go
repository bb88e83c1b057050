// Package policy loads the tower's spending policy from YAML and
// applies per-agent velocity caps.
package policy

import (
	"fmt"
	"os"
	"sync"
	"time"

	"golang.org/x/time/rate"
	"gopkg.in/yaml.v3"

	"github.com/coltonsakamoto/aslanpay/pkg/limits"
)

// Policy is the tower's configured behavior for every agent.
type Policy struct {
	Limits limits.Limits `yaml:"limits"`

	// VelocityPerMinute caps authorization attempts per agent. Zero
	// disables the cap.
	VelocityPerMinute int `yaml:"velocity_per_minute"`

	// GrantTTL is how long an issued grant stays confirmable.
	GrantTTL time.Duration `yaml:"grant_ttl"`

	// PlatformFeeRate is applied to the final amount at confirmation.
	PlatformFeeRate float64 `yaml:"platform_fee_rate"`

	// OverageAllowance is the fraction above the requested amount the
	// final charge may reach (taxes, fees) before confirmation is
	// rejected.
	OverageAllowance float64 `yaml:"overage_allowance"`
}

// Default mirrors the hosted service's sandbox policy.
func Default() Policy {
	return Policy{
		Limits: limits.Limits{
			Daily:          100,
			PerTransaction: 50,
		},
		VelocityPerMinute: 30,
		GrantTTL:          10 * time.Minute,
		PlatformFeeRate:   0.029,
		OverageAllowance:  0.25,
	}
}

// Load reads a policy file, filling unset fields from Default.
func Load(path string) (Policy, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Policy{}, fmt.Errorf("read policy: %w", err)
	}
	p := Default()
	if err := yaml.Unmarshal(b, &p); err != nil {
		return Policy{}, fmt.Errorf("parse policy: %w", err)
	}
	if p.GrantTTL <= 0 {
		p.GrantTTL = 10 * time.Minute
	}
	return p, nil
}

// Ceiling is the hard maximum the service will settle for a grant of
// the given requested amount. Grants without a requested amount have
// no ceiling.
func (p Policy) Ceiling(requested float64) float64 {
	if requested <= 0 {
		return 0
	}
	return requested * (1 + p.OverageAllowance)
}

// Velocity tracks per-agent authorization attempt rates.
type Velocity struct {
	perMinute int

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

func NewVelocity(perMinute int) *Velocity {
	return &Velocity{perMinute: perMinute, limiters: map[string]*rate.Limiter{}}
}

// Allow reports whether agentID may attempt another authorization now.
func (v *Velocity) Allow(agentID string) bool {
	if v.perMinute <= 0 {
		return true
	}
	v.mu.Lock()
	l, ok := v.limiters[agentID]
	if !ok {
		l = rate.NewLimiter(rate.Limit(float64(v.perMinute)/60.0), v.perMinute)
		v.limiters[agentID] = l
	}
	v.mu.Unlock()
	return l.Allow()
}
