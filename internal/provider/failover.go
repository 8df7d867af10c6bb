package provider

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/opencoreharness/agentcore/internal/message"
)

// FailoverConfig tunes Failover's per-provider retry and circuit-breaker
// behavior.
type FailoverConfig struct {
	// MaxRetries is the number of additional attempts against the same
	// provider before moving to the next one in the chain.
	MaxRetries int

	// RetryBackoff is the initial delay between same-provider retries;
	// it doubles each attempt up to MaxRetryBackoff.
	RetryBackoff    time.Duration
	MaxRetryBackoff time.Duration

	// CircuitBreakerThreshold is the number of consecutive failures before
	// a provider is skipped until CircuitBreakerTimeout elapses.
	CircuitBreakerThreshold int
	CircuitBreakerTimeout   time.Duration
}

// DefaultFailoverConfig returns the defaults used when a Failover is built
// without an explicit FailoverConfig.
func DefaultFailoverConfig() FailoverConfig {
	return FailoverConfig{
		MaxRetries:              2,
		RetryBackoff:            100 * time.Millisecond,
		MaxRetryBackoff:         5 * time.Second,
		CircuitBreakerThreshold: 3,
		CircuitBreakerTimeout:   30 * time.Second,
	}
}

type providerState struct {
	failures      int
	circuitOpen   bool
	circuitOpenAt time.Time
}

func (s *providerState) available(cfg FailoverConfig) bool {
	if !s.circuitOpen {
		return true
	}
	return time.Since(s.circuitOpenAt) > cfg.CircuitBreakerTimeout
}

// Failover composes an ordered chain of Providers (§4.3's Provider Port),
// trying each in turn when the one before it fails, and opening a circuit
// breaker against a provider that keeps failing so later requests skip it
// until the breaker's timeout elapses. It is itself a Provider, so the FSM
// sees a single backend and never needs to know a fallback chain exists.
//
// Grounded on haasonsaas-nexus's internal/agent/failover.go
// FailoverOrchestrator, adapted to classify errors via this package's
// Classify/ErrorClass (already used by every concrete adapter) instead of
// re-deriving error categories from string matching on the error message.
type Failover struct {
	cfg FailoverConfig

	mu        sync.RWMutex
	providers []Provider
	states    map[string]*providerState
}

// NewFailover returns a Failover that tries primary first, then each of
// fallbacks in order.
func NewFailover(primary Provider, fallbacks ...Provider) *Failover {
	return &Failover{
		cfg:       DefaultFailoverConfig(),
		providers: append([]Provider{primary}, fallbacks...),
		states:    make(map[string]*providerState),
	}
}

// AddProvider appends another fallback to the end of the chain.
func (f *Failover) AddProvider(p Provider) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.providers = append(f.providers, p)
}

// SetConfig replaces the retry/circuit-breaker tuning. Safe to call before
// the chain sees concurrent Stream calls.
func (f *Failover) SetConfig(cfg FailoverConfig) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cfg = cfg
}

// Name implements Provider.
func (f *Failover) Name() string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if len(f.providers) == 0 {
		return "failover"
	}
	return "failover:" + f.providers[0].Name()
}

// Models implements Provider, unioning every chain member's models.
func (f *Failover) Models() []Model {
	f.mu.RLock()
	defer f.mu.RUnlock()

	var all []Model
	seen := make(map[string]bool)
	for _, p := range f.providers {
		for _, m := range p.Models() {
			if !seen[m.ID] {
				seen[m.ID] = true
				all = append(all, m)
			}
		}
	}
	return all
}

// SupportsTools implements Provider.
func (f *Failover) SupportsTools() bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	for _, p := range f.providers {
		if p.SupportsTools() {
			return true
		}
	}
	return false
}

// Stream tries each provider in the chain in turn, retrying a transient
// failure against the same provider a few times before moving on. An
// overflow error never fails over, since every provider in the chain would
// reject the same oversized prompt; a permanent error (e.g. an expired key)
// does fail over, since it says nothing about the next provider's account.
func (f *Failover) Stream(ctx context.Context, model string, messages []message.Message, tools []ToolSchema, opts StreamOptions) (<-chan message.StreamEvent, error) {
	f.mu.RLock()
	chain := make([]Provider, len(f.providers))
	copy(chain, f.providers)
	f.mu.RUnlock()

	var lastErr error
	for _, p := range chain {
		state := f.stateFor(p.Name())
		if !state.available(f.cfg) {
			continue
		}

		ch, err := f.tryWithRetry(ctx, p, model, messages, tools, opts)
		if err == nil {
			f.recordSuccess(p.Name())
			return ch, nil
		}

		lastErr = err
		f.recordFailure(p.Name())

		if Classify(err) == ClassOverflow {
			return nil, err
		}
	}

	if lastErr == nil {
		lastErr = fmt.Errorf("provider failover: no available providers")
	}
	return nil, lastErr
}

func (f *Failover) tryWithRetry(ctx context.Context, p Provider, model string, messages []message.Message, tools []ToolSchema, opts StreamOptions) (<-chan message.StreamEvent, error) {
	backoff := f.cfg.RetryBackoff
	var lastErr error

	for attempt := 0; attempt <= f.cfg.MaxRetries; attempt++ {
		ch, err := p.Stream(ctx, model, messages, tools, opts)
		if err == nil {
			return ch, nil
		}
		lastErr = err

		if Classify(err) != ClassTransient {
			return nil, err
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if attempt >= f.cfg.MaxRetries {
			break
		}

		select {
		case <-time.After(backoff):
			backoff *= 2
			if backoff > f.cfg.MaxRetryBackoff {
				backoff = f.cfg.MaxRetryBackoff
			}
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	return nil, lastErr
}

func (f *Failover) stateFor(name string) *providerState {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.states[name]
	if !ok {
		s = &providerState{}
		f.states[name] = s
	}
	return s
}

func (f *Failover) recordSuccess(name string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if s, ok := f.states[name]; ok {
		s.failures = 0
		s.circuitOpen = false
	}
}

func (f *Failover) recordFailure(name string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.states[name]
	if !ok {
		s = &providerState{}
		f.states[name] = s
	}
	s.failures++
	if s.failures >= f.cfg.CircuitBreakerThreshold && !s.circuitOpen {
		s.circuitOpen = true
		s.circuitOpenAt = time.Now()
	}
}
