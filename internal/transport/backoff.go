package transport

import (
	"math"
	"math/rand"
	"time"
)

// BackoffConfig defines redial behavior.
type BackoffConfig struct {
	InitialDelay time.Duration `toml:"initial_delay" yaml:"initial_delay"`
	Multiplier   float64       `toml:"multiplier" yaml:"multiplier"`
	MaxDelay     time.Duration `toml:"max_delay" yaml:"max_delay"`
	Jitter       bool          `toml:"jitter" yaml:"jitter"`
}

func DefaultBackoff() BackoffConfig {
	return BackoffConfig{
		InitialDelay: 250 * time.Millisecond,
		Multiplier:   2.0,
		MaxDelay:     5 * time.Second,
		Jitter:       true,
	}
}

// NextBackoffDelay returns the delay before attempt N (1-based).
func NextBackoffDelay(cfg BackoffConfig, attempt int, rng *rand.Rand) time.Duration {
	if attempt <= 1 || cfg.InitialDelay <= 0 {
		return max(cfg.InitialDelay, 0)
	}
	mult := math.Max(cfg.Multiplier, 1.0)
	delay := float64(cfg.InitialDelay) * math.Pow(mult, float64(attempt-1))
	if cfg.MaxDelay > 0 {
		delay = math.Min(delay, float64(cfg.MaxDelay))
	}
	if cfg.Jitter {
		f := 0.5
		if rng != nil {
			f += rng.Float64()
		}
		delay *= f
	}
	return time.Duration(delay)
}
