package llm

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"skimmer/internal/logger"
	"skimmer/internal/store"
)

// Circuit states.
const (
	StateClosed = "closed"
	StateOpen   = "open"
	StateHalf   = "half"
)

// Settings keys holding the persisted breaker state.
const (
	breakerStateKey         = "llm_breaker_state"
	breakerFailuresKey      = "llm_breaker_failures"
	breakerHalfSuccessesKey = "llm_breaker_half_successes"
	breakerLastFailureKey   = "llm_breaker_last_failure"
	breakerLastCallKey      = "llm_breaker_last_call"
)

// BreakerConfig carries the circuit thresholds.
type BreakerConfig struct {
	FailureThreshold    int
	RecoveryTimeout     time.Duration
	HalfOpenMaxRequests int
	// MinInterval is the enforced spacing between upstream calls,
	// 60s / max RPM.
	MinInterval time.Duration
}

// CircuitBreaker gates LLM calls. State survives restarts through the
// settings table; rate limits (429) are handled by the key rotator and never
// trip the circuit.
type CircuitBreaker struct {
	mu            sync.Mutex
	cfg           BreakerConfig
	state         string
	failures      int
	halfSuccesses int
	lastFailure   *time.Time
	lastCall      *time.Time
	st            *store.Store
}

// NewCircuitBreaker restores persisted state, defaulting to CLOSED.
func NewCircuitBreaker(ctx context.Context, st *store.Store, cfg BreakerConfig) *CircuitBreaker {
	b := &CircuitBreaker{cfg: cfg, state: StateClosed, st: st}

	if v, ok, _ := st.GetSetting(ctx, breakerStateKey); ok {
		switch v {
		case StateClosed, StateOpen, StateHalf:
			b.state = v
		}
	}
	if v, ok, _ := st.GetSetting(ctx, breakerFailuresKey); ok {
		b.failures, _ = strconv.Atoi(v)
	}
	if v, ok, _ := st.GetSetting(ctx, breakerHalfSuccessesKey); ok {
		b.halfSuccesses, _ = strconv.Atoi(v)
	}
	if v, ok, _ := st.GetSetting(ctx, breakerLastFailureKey); ok {
		if t, err := time.Parse(time.RFC3339Nano, v); err == nil {
			b.lastFailure = &t
		}
	}
	if v, ok, _ := st.GetSetting(ctx, breakerLastCallKey); ok {
		if t, err := time.Parse(time.RFC3339Nano, v); err == nil {
			b.lastCall = &t
		}
	}
	return b
}

// CanCall reports whether an upstream call may proceed now. Deciding may
// itself transition OPEN to HALF once the recovery timeout has elapsed.
func (b *CircuitBreaker) CanCall(ctx context.Context, now time.Time) (bool, string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.lastCall != nil {
		if elapsed := now.Sub(*b.lastCall); elapsed < b.cfg.MinInterval {
			return false, fmt.Sprintf("waiting minimum interval (%.1fs left)",
				(b.cfg.MinInterval - elapsed).Seconds())
		}
	}

	if b.state == StateOpen {
		if b.lastFailure != nil && now.Sub(*b.lastFailure) >= b.cfg.RecoveryTimeout {
			b.state = StateHalf
			b.halfSuccesses = 0
			b.save(ctx)
			logger.Info("Circuit breaker transition", "from", StateOpen, "to", StateHalf)
		} else {
			return false, "circuit open"
		}
	}
	return true, ""
}

// RecordSuccess notes a successful upstream call.
func (b *CircuitBreaker) RecordSuccess(ctx context.Context, now time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.lastCall = &now
	if b.state == StateHalf {
		b.halfSuccesses++
		if b.halfSuccesses >= b.cfg.HalfOpenMaxRequests {
			b.state = StateClosed
			b.failures = 0
			logger.Info("Circuit breaker transition", "from", StateHalf, "to", StateClosed)
		}
	} else {
		b.failures = 0
	}
	b.save(ctx)
}

// RecordFailure notes a failed upstream call (5xx, 4xx, timeout, connection
// error; never 429).
func (b *CircuitBreaker) RecordFailure(ctx context.Context, now time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.lastCall = &now
	b.lastFailure = &now

	if b.state == StateHalf {
		b.state = StateOpen
		logger.Warn("Circuit breaker transition", "from", StateHalf, "to", StateOpen)
	} else {
		b.failures++
		if b.failures >= b.cfg.FailureThreshold {
			b.state = StateOpen
			logger.Warn("Circuit breaker transition", "from", StateClosed, "to", StateOpen,
				"failures", b.failures)
		}
	}
	b.save(ctx)
}

// State returns the current state name.
func (b *CircuitBreaker) State() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// save writes the state through to the settings table. Persistence errors
// are logged, not fatal: the in-memory state stays authoritative.
func (b *CircuitBreaker) save(ctx context.Context) {
	values := map[string]string{
		breakerStateKey:         b.state,
		breakerFailuresKey:      strconv.Itoa(b.failures),
		breakerHalfSuccessesKey: strconv.Itoa(b.halfSuccesses),
	}
	if b.lastFailure != nil {
		values[breakerLastFailureKey] = b.lastFailure.UTC().Format(time.RFC3339Nano)
	}
	if b.lastCall != nil {
		values[breakerLastCallKey] = b.lastCall.UTC().Format(time.RFC3339Nano)
	}
	for key, value := range values {
		if err := b.st.SetSetting(ctx, key, value); err != nil {
			logger.Error("Failed to persist circuit breaker state", "key", key, "error", err)
		}
	}
}
