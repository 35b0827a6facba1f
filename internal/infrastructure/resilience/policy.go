package resilience

import "time"

type Backoff string

const (
	// BackoffExponential multiplies the wait by RetryMultiplier after each attempt.
	BackoffExponential Backoff = "exponential"
	// BackoffLinear waits RetryInitialBackoff * attempt.
	BackoffLinear Backoff = "linear"
)

type Config struct {
	RetryMaxAttempts    int
	RetryInitialBackoff time.Duration
	RetryMaxBackoff     time.Duration
	RetryMultiplier     float64
	RetryBackoff        Backoff

	BreakerEnabled          bool
	BreakerMinRequests      uint32
	BreakerFailureRatio     float64
	BreakerOpenTimeout      time.Duration
	BreakerHalfOpenMaxCalls uint32
}

func DefaultConfig() Config {
	return Config{
		RetryMaxAttempts:    3,
		RetryInitialBackoff: 100 * time.Millisecond,
		RetryMaxBackoff:     400 * time.Millisecond,
		RetryMultiplier:     2.0,
		RetryBackoff:        BackoffExponential,

		BreakerEnabled:          true,
		BreakerMinRequests:      10,
		BreakerFailureRatio:     0.5,
		BreakerOpenTimeout:      30 * time.Second,
		BreakerHalfOpenMaxCalls: 2,
	}
}

// LinearRetryConfig retries up to attempts times, waiting base*attempt
// between tries, without a circuit breaker.
func LinearRetryConfig(attempts int, base time.Duration) Config {
	cfg := DefaultConfig()
	cfg.RetryMaxAttempts = attempts
	cfg.RetryInitialBackoff = base
	cfg.RetryMaxBackoff = base * time.Duration(max(attempts, 1))
	cfg.RetryBackoff = BackoffLinear
	cfg.BreakerEnabled = false
	return cfg
}

func (c Config) normalize() Config {
	out := c
	def := DefaultConfig()

	if out.RetryMaxAttempts <= 0 {
		out.RetryMaxAttempts = def.RetryMaxAttempts
	}
	if out.RetryInitialBackoff <= 0 {
		out.RetryInitialBackoff = def.RetryInitialBackoff
	}
	if out.RetryMaxBackoff <= 0 {
		out.RetryMaxBackoff = def.RetryMaxBackoff
	}
	if out.RetryMaxBackoff < out.RetryInitialBackoff {
		out.RetryMaxBackoff = out.RetryInitialBackoff
	}
	if out.RetryMultiplier < 1.0 {
		out.RetryMultiplier = def.RetryMultiplier
	}
	if out.RetryBackoff != BackoffLinear {
		out.RetryBackoff = BackoffExponential
	}

	if out.BreakerMinRequests == 0 {
		out.BreakerMinRequests = def.BreakerMinRequests
	}
	if out.BreakerFailureRatio <= 0 || out.BreakerFailureRatio > 1 {
		out.BreakerFailureRatio = def.BreakerFailureRatio
	}
	if out.BreakerOpenTimeout <= 0 {
		out.BreakerOpenTimeout = def.BreakerOpenTimeout
	}
	if out.BreakerHalfOpenMaxCalls == 0 {
		out.BreakerHalfOpenMaxCalls = def.BreakerHalfOpenMaxCalls
	}

	return out
}

// wait returns the pause after the given failed attempt (1-based).
func (c Config) wait(attempt int) time.Duration {
	var d time.Duration
	switch c.RetryBackoff {
	case BackoffLinear:
		d = c.RetryInitialBackoff * time.Duration(attempt)
	default:
		d = c.RetryInitialBackoff
		for i := 1; i < attempt; i++ {
			d = time.Duration(float64(d) * c.RetryMultiplier)
			if d >= c.RetryMaxBackoff {
				break
			}
		}
	}
	if d > c.RetryMaxBackoff {
		d = c.RetryMaxBackoff
	}
	return d
}
