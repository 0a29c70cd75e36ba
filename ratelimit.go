package live

import "golang.org/x/time/rate"

// Click floods beyond these are answered with 429.
const (
	defaultActionRate  = 10.0
	defaultActionBurst = 20
)

// RateLimitConfig is a token bucket for actions: Rate tokens per second, at
// most Burst at once. Zero fields take the defaults (10/s, burst 20); a
// negative Rate turns limiting off.
type RateLimitConfig struct {
	Rate  float64
	Burst int
}

// limiter returns the bucket described by cfg, or nil when limiting is off.
func (cfg RateLimitConfig) limiter() *rate.Limiter {
	if cfg.Rate < 0 {
		return nil
	}
	r, b := cfg.Rate, cfg.Burst
	if r == 0 {
		r = defaultActionRate
	}
	if b == 0 {
		b = defaultActionBurst
	}
	return rate.NewLimiter(rate.Limit(r), b)
}

// ActionOption tunes one action registered with Context.Action.
type ActionOption func(*actionEntry)

type actionEntry struct {
	fn func()
	// set by WithRateLimit; limiter then replaces the page limiter, nil meaning unlimited
	override bool
	limiter  *rate.Limiter
}

// limiterFor returns the bucket a call to this action draws from.
func (e actionEntry) limiterFor(c *Context) *rate.Limiter {
	if e.override {
		return e.limiter
	}
	return c.page().actionLimiter
}

// WithRateLimit gives the action its own bucket in place of the page's.
// A negative r exempts the action from rate limiting.
func WithRateLimit(r float64, burst int) ActionOption {
	return func(e *actionEntry) {
		e.override = true
		e.limiter = RateLimitConfig{Rate: r, Burst: burst}.limiter()
	}
}
