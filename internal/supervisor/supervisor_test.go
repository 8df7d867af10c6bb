package supervisor_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/opencoreharness/agentcore/internal/supervisor"
)

// countingChild fails failures times (returning errBoom), then blocks until
// ctx is cancelled.
type countingChild struct {
	name     string
	failures int32
	runs     atomic.Int32
}

var errBoom = errors.New("boom")

func (c *countingChild) Name() string { return c.name }

func (c *countingChild) Run(ctx context.Context) error {
	n := c.runs.Add(1)
	if n <= c.failures {
		return errBoom
	}
	<-ctx.Done()
	return nil
}

func TestSupervisorRestartsCrashedChild(t *testing.T) {
	child := &countingChild{name: "flaky", failures: 2}
	var reports []supervisor.CrashReport
	sup := supervisor.New(
		supervisor.RestartPolicy{MaxRestarts: 5, Window: time.Minute, BaseDelay: time.Millisecond},
		func(r supervisor.CrashReport) { reports = append(reports, r) },
		child,
	)

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()
	_ = sup.Run(ctx)

	require.GreaterOrEqual(t, int(child.runs.Load()), 3)
	require.Len(t, reports, 2)
	require.True(t, reports[0].Restarted)
	require.True(t, reports[1].Restarted)
}

func TestRestForOneRestartsDownstreamChild(t *testing.T) {
	upstream := &countingChild{name: "upstream", failures: 1}
	downstream := &blockingChild{name: "downstream"}

	sup := supervisor.New(
		supervisor.RestartPolicy{MaxRestarts: 5, Window: time.Minute, BaseDelay: time.Millisecond},
		nil,
		upstream, downstream,
	)

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()
	_ = sup.Run(ctx)

	// The downstream child must have been (re)started at least once for
	// the initial launch, plus once more when upstream crashed and
	// rest_for_one restarted everything at or after its position.
	require.GreaterOrEqual(t, int(downstream.runs.Load()), 2)
}

// blockingChild blocks on ctx and counts how many times Run is entered.
type blockingChild struct {
	name string
	runs atomic.Int32
}

func (c *blockingChild) Name() string { return c.name }

func (c *blockingChild) Run(ctx context.Context) error {
	c.runs.Add(1)
	<-ctx.Done()
	return nil
}

func TestSupervisorStopsRestartingPastIntensityLimit(t *testing.T) {
	child := &countingChild{name: "always-crashes", failures: 1000}
	var reports []supervisor.CrashReport
	sup := supervisor.New(
		supervisor.RestartPolicy{MaxRestarts: 3, Window: time.Minute, BaseDelay: time.Millisecond},
		func(r supervisor.CrashReport) { reports = append(reports, r) },
		child,
	)

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()
	_ = sup.Run(ctx)

	require.NotEmpty(t, reports)
	require.False(t, reports[len(reports)-1].Restarted)
}

func TestRunGroupCancelsSiblingsOnError(t *testing.T) {
	failing := &instantFailChild{name: "fails"}
	blocker := &blockingChild{name: "blocks"}

	err := supervisor.RunGroup(context.Background(), failing, blocker)
	require.Error(t, err)
	require.Contains(t, err.Error(), "fails")
}

type instantFailChild struct{ name string }

func (c *instantFailChild) Name() string                  { return c.name }
func (c *instantFailChild) Run(ctx context.Context) error { return errBoom }
