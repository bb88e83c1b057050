package aslanpay

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config carries everything the client needs. It is resolved once at
// startup and passed to New explicitly; nothing reads the environment
// at call time.
type Config struct {
	// Token is the agent's bearer credential. Leaving it empty is not
	// an error until a call is attempted, at which point the call fails
	// with CONFIGURATION_ERROR before touching the network.
	Token string `env:"ASLANPAY_TOKEN"`

	// BaseURL of the control tower.
	BaseURL string `env:"ASLANPAY_BASE_URL" envDefault:"https://api.aslanpay.com"`

	// Timeout bounds each authorization/confirmation round trip.
	Timeout time.Duration `env:"ASLANPAY_TIMEOUT" envDefault:"10s"`

	// ExecTimeout bounds the execution phase, which usually involves a
	// much slower merchant-side purchase.
	ExecTimeout time.Duration `env:"ASLANPAY_EXEC_TIMEOUT" envDefault:"2m"`
}

// LoadConfig resolves configuration from the environment.
func LoadConfig() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	return cfg, nil
}

func (c Config) withDefaults() Config {
	if c.BaseURL == "" {
		c.BaseURL = "https://api.aslanpay.com"
	}
	if c.Timeout <= 0 {
		c.Timeout = 10 * time.Second
	}
	if c.ExecTimeout <= 0 {
		c.ExecTimeout = 2 * time.Minute
	}
	return c
}
