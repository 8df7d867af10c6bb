package supervisor_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/opencoreharness/agentcore/internal/eventbus"
	"github.com/opencoreharness/agentcore/internal/fsm"
	"github.com/opencoreharness/agentcore/internal/message"
	"github.com/opencoreharness/agentcore/internal/provider/mock"
	"github.com/opencoreharness/agentcore/internal/session"
	"github.com/opencoreharness/agentcore/internal/supervisor"
	"github.com/opencoreharness/agentcore/internal/tools"
)

func newTestServer(t *testing.T, p *mock.Provider, bus *eventbus.Bus) (*supervisor.SessionServer, *session.Session) {
	t.Helper()
	sess := session.New("sess-1", nil)
	newAgent := func(s *session.Session) *fsm.Agent {
		return fsm.New(fsm.Config{
			Provider:       p,
			Registry:       tools.NewRegistry(),
			Bus:            bus,
			Model:          "mock-model",
			StreamWatchdog: time.Minute,
		}, s)
	}
	return supervisor.NewSessionServer(sess, bus, newAgent), sess
}

func TestSessionServerDispatchesPromptThroughMailbox(t *testing.T) {
	p := mock.New(mock.TextTurn("hello"))
	bus := eventbus.New()
	server, sess := newTestServer(t, p, bus)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go server.Run(ctx)

	require.NoError(t, server.Prompt(context.Background(), "hi"))

	path, err := sess.GetPath()
	require.NoError(t, err)
	require.Len(t, path, 2)
	require.Equal(t, "hello", path[1].Content)
}

func TestSessionServerBroadcastsRecoveredOnRestartWithExistingHistory(t *testing.T) {
	p := mock.New(mock.TextTurn("ok"))
	bus := eventbus.New()
	sess := session.New("sess-2", nil)
	_, err := sess.Append(message.Message{Role: message.RoleUser, Content: "earlier"})
	require.NoError(t, err)

	sub := bus.Subscribe(sess.ID())
	defer sub.Unsubscribe()

	newAgent := func(s *session.Session) *fsm.Agent {
		return fsm.New(fsm.Config{
			Provider:       p,
			Registry:       tools.NewRegistry(),
			Bus:            bus,
			Model:          "mock-model",
			StreamWatchdog: time.Minute,
		}, s)
	}
	server := supervisor.NewSessionServer(sess, bus, newAgent)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go server.Run(ctx)

	select {
	case ev := <-sub.Events:
		require.Equal(t, message.EventAgentRecovered, ev.Type)
	case <-time.After(time.Second):
		t.Fatal("expected agent_recovered event on restart with existing history")
	}
}

func TestSessionGroupRestartsAgentAfterSessionChildCrash(t *testing.T) {
	p := mock.New(mock.TextTurn("hi again"))
	bus := eventbus.New()
	sess := session.New("sess-3", nil)
	newAgent := func(s *session.Session) *fsm.Agent {
		return fsm.New(fsm.Config{
			Provider:       p,
			Registry:       tools.NewRegistry(),
			Bus:            bus,
			Model:          "mock-model",
			StreamWatchdog: time.Minute,
		}, s)
	}

	var crashed []string
	group := supervisor.NewSessionGroup(sess, bus, newAgent,
		supervisor.RestartPolicy{MaxRestarts: 3, Window: time.Minute, BaseDelay: time.Millisecond},
		func(r supervisor.CrashReport) { crashed = append(crashed, r.Child) })

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	_ = group.Run(ctx)

	// Neither child crashes in this scenario (the store child is a no-op
	// waiter); this exercises that the group starts and shuts down
	// cleanly without spurious crash reports.
	require.Empty(t, crashed)
}
