package retry

import (
	"fmt"
	"math/rand"
	"time"

	"github.com/ironpike/modloader/internal/config"
)

// Policy encapsulates retry/backoff settings for transient failures.
// It is immutable after construction.
type Policy struct {
	Mode       config.RetryBackoffMode // fixed|linear|exponential
	Initial    time.Duration           // base delay
	Max        time.Duration           // cap for growth
	MaxRetries int                     // maximum retry attempts after the first failure
	Jitter     float64                 // fraction of the delay randomized, 0..1
}

// DefaultPolicy returns a sensible default policy (exponential, 1s initial, 30s cap, 3 retries, 20% jitter).
func DefaultPolicy() Policy {
	return Policy{Mode: config.RetryBackoffExponential, Initial: time.Second, Max: 30 * time.Second, MaxRetries: 3, Jitter: 0.2}
}

// FromConfig builds a policy from download settings; zero/invalid values fall back to defaults.
func FromConfig(dc config.DownloadConfig) Policy {
	return NewPolicy(dc.Backoff, dc.InitialDelay.Std(), dc.MaxDelay.Std(), dc.Retries)
}

// NewPolicy builds a policy from raw config fields; zero/invalid values fall back to defaults.
func NewPolicy(mode config.RetryBackoffMode, initial, maxDuration time.Duration, maxRetries int) Policy {
	p := DefaultPolicy()
	if maxRetries >= 0 {
		p.MaxRetries = maxRetries
	}
	if initial > 0 {
		p.Initial = initial
	}
	if maxDuration > 0 {
		p.Max = maxDuration
	}
	if mode != "" {
		switch mode {
		case config.RetryBackoffFixed, config.RetryBackoffLinear, config.RetryBackoffExponential:
			p.Mode = mode
		default:
			// unknown -> keep default
		}
	}
	if p.Initial > p.Max {
		p.Initial = p.Max
	}
	return p
}

// Delay returns the backoff delay for the given retry attempt number (1-based:
// first retry => 1). Jitter, when configured, randomizes the result within
// [d*(1-jitter), d] so that concurrent workers do not retry in lockstep.
func (p Policy) Delay(retryCount int) time.Duration {
	if retryCount <= 0 {
		return 0
	}
	var d time.Duration
	switch p.Mode {
	case config.RetryBackoffFixed:
		d = p.Initial
	case config.RetryBackoffExponential:
		d = p.Initial * (1 << (retryCount - 1))
		if d > p.Max {
			d = p.Max
		}
	default: // linear
		d = time.Duration(retryCount) * p.Initial
		if d > p.Max {
			d = p.Max
		}
	}
	if p.Jitter > 0 && p.Jitter <= 1 {
		spread := time.Duration(float64(d) * p.Jitter)
		if spread > 0 {
			d -= time.Duration(rand.Int63n(int64(spread)))
		}
	}
	return d
}

// Validate ensures invariants; returns error if policy impossible to apply.
func (p Policy) Validate() error {
	if p.Initial <= 0 {
		return fmt.Errorf("initial must be >0")
	}
	if p.Max <= 0 {
		return fmt.Errorf("max must be >0")
	}
	if p.MaxRetries < 0 {
		return fmt.Errorf("max retries cannot be negative")
	}
	if p.Jitter < 0 || p.Jitter > 1 {
		return fmt.Errorf("jitter must be within [0,1]")
	}
	return nil
}
