// Package multiagent implements capability-based routing for sub-agent
// delegation: given a task that calls for a named capability ("research",
// "code_review", ...), pick which registered agent profile should handle
// it, skipping unhealthy or overloaded profiles and falling back to a
// configured chain when the first choice can't take the work.
//
// Grounded on haasonsaas-nexus's internal/multiagent/capability_router.go
// (CapabilityRouter's capability index, fallback chains, health tracking,
// and load-balancing strategies), trimmed of the teacher's Router/
// Orchestrator base (chat-platform handoff-rule evaluation keyed off
// pkg/models.Message) since the specification's only sub-agent concept is
// a single-level, tool-triggered delegation (§REDESIGN FLAGS), not
// multi-turn conversational handoff between chat channels.
package multiagent

import (
	"fmt"
	"sort"
	"sync"
)

// AgentProfile describes one delegatable agent: the capabilities it can
// serve and the tools it is allowed to use.
type AgentProfile struct {
	ID           string
	Name         string
	Capabilities []string
	AllowedTools []string
}

// HasCapability reports whether the profile serves the named capability.
func (p AgentProfile) HasCapability(capability string) bool {
	for _, c := range p.Capabilities {
		if c == capability {
			return true
		}
	}
	return false
}

// AgentHealth tracks a profile's recent success/failure record.
type AgentHealth struct {
	ConsecutiveFailures int
	LastError           error
	Healthy             bool
}

// LoadBalanceStrategy selects among multiple equally-capable profiles.
type LoadBalanceStrategy string

const (
	StrategyRoundRobin  LoadBalanceStrategy = "round_robin"
	StrategyLeastLoaded LoadBalanceStrategy = "least_loaded"
)

// Config configures a Router.
type Config struct {
	UnhealthyThreshold int
	Strategy           LoadBalanceStrategy
	// FallbackChains maps a chain name to an ordered list of profile IDs
	// tried in sequence when the capability match alone doesn't resolve.
	FallbackChains map[string][]string
}

func (c Config) withDefaults() Config {
	if c.UnhealthyThreshold <= 0 {
		c.UnhealthyThreshold = 3
	}
	if c.Strategy == "" {
		c.Strategy = StrategyLeastLoaded
	}
	return c
}

// Router selects an AgentProfile for a requested capability.
type Router struct {
	mu       sync.RWMutex
	profiles map[string]AgentProfile
	byCap    map[string][]string // capability -> profile IDs, registration order
	health   map[string]*AgentHealth
	load     map[string]int
	rrCursor map[string]int

	cfg Config
}

// NewRouter builds an empty Router.
func NewRouter(cfg Config) *Router {
	return &Router{
		profiles: make(map[string]AgentProfile),
		byCap:    make(map[string][]string),
		health:   make(map[string]*AgentHealth),
		load:     make(map[string]int),
		rrCursor: make(map[string]int),
		cfg:      cfg.withDefaults(),
	}
}

// Register adds or replaces a profile and indexes its capabilities.
func (r *Router) Register(p AgentProfile) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.profiles[p.ID] = p
	for _, c := range p.Capabilities {
		r.byCap[c] = appendUnique(r.byCap[c], p.ID)
	}
	if _, ok := r.health[p.ID]; !ok {
		r.health[p.ID] = &AgentHealth{Healthy: true}
	}
}

// Route picks a profile ID for capability, preferring healthy,
// least-loaded (or round-robin) candidates, then falling back to
// chainName's ordered list if no registered profile serves capability
// directly.
func (r *Router) Route(capability, chainName string) (string, error) {
	r.mu.RLock()
	candidates := append([]string(nil), r.byCap[capability]...)
	r.mu.RUnlock()

	if id, ok := r.pickHealthy(candidates); ok {
		return id, nil
	}

	r.mu.RLock()
	chain := append([]string(nil), r.cfg.FallbackChains[chainName]...)
	r.mu.RUnlock()
	if id, ok := r.pickHealthy(chain); ok {
		return id, nil
	}

	return "", fmt.Errorf("multiagent: no healthy agent serves capability %q", capability)
}

func (r *Router) pickHealthy(candidates []string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var healthy []string
	for _, id := range candidates {
		if h, ok := r.health[id]; ok && h.Healthy {
			healthy = append(healthy, id)
		}
	}
	if len(healthy) == 0 {
		return "", false
	}

	switch r.cfg.Strategy {
	case StrategyRoundRobin:
		sort.Strings(healthy)
		cursor := r.rrCursor[healthy[0]]
		id := healthy[cursor%len(healthy)]
		r.rrCursor[healthy[0]] = cursor + 1
		return id, true
	default: // least loaded
		best := healthy[0]
		for _, id := range healthy[1:] {
			if r.load[id] < r.load[best] {
				best = id
			}
		}
		return best, true
	}
}

// Acquire marks a profile as handling one more in-flight request; the
// returned func releases it. Used around a delegated sub-agent run so
// least-loaded routing reflects actual concurrency.
func (r *Router) Acquire(id string) func() {
	r.mu.Lock()
	r.load[id]++
	r.mu.Unlock()
	return func() {
		r.mu.Lock()
		if r.load[id] > 0 {
			r.load[id]--
		}
		r.mu.Unlock()
	}
}

// ReportOutcome updates a profile's health record after a delegated run.
// Exceeding the configured consecutive-failure threshold marks it
// unhealthy until a subsequent success clears it.
func (r *Router) ReportOutcome(id string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	h, ok := r.health[id]
	if !ok {
		h = &AgentHealth{Healthy: true}
		r.health[id] = h
	}
	if err == nil {
		h.ConsecutiveFailures = 0
		h.LastError = nil
		h.Healthy = true
		return
	}
	h.ConsecutiveFailures++
	h.LastError = err
	if h.ConsecutiveFailures >= r.cfg.UnhealthyThreshold {
		h.Healthy = false
	}
}

// Health returns a copy of the profile's current health record.
func (r *Router) Health(id string) (AgentHealth, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.health[id]
	if !ok {
		return AgentHealth{}, false
	}
	return *h, true
}

// Profile returns the registered profile by ID.
func (r *Router) Profile(id string) (AgentProfile, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.profiles[id]
	return p, ok
}

func appendUnique(s []string, v string) []string {
	for _, existing := range s {
		if existing == v {
			return s
		}
	}
	return append(s, v)
}
