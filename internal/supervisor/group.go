package supervisor

import (
	"context"
	"time"

	"github.com/opencoreharness/agentcore/internal/eventbus"
	"github.com/opencoreharness/agentcore/internal/fsm"
	"github.com/opencoreharness/agentcore/internal/message"
	"github.com/opencoreharness/agentcore/internal/session"
)

// sessionStoreChild is the Session (store) child of §4.9's process-group
// diagram. The store itself has no background loop to run — persistence
// happens synchronously inside Append — so its Run is a no-op that just
// waits out ctx; it exists as a named child so the rest_for_one ordering
// (Session before Agent FSM) is explicit and a future durable-store
// implementation (e.g. a flush ticker) has somewhere to live.
type sessionStoreChild struct {
	sess *session.Session
}

func (c *sessionStoreChild) Name() string { return "session:" + c.sess.ID() }

func (c *sessionStoreChild) Run(ctx context.Context) error {
	<-ctx.Done()
	return nil
}

// NewSessionGroup builds the §4.9 process group for one session:
//
//	SessionServer (strategy: rest_for_one)
//	├── Session (store)
//	└── Agent FSM
//
// rest_for_one semantics fall directly out of child ordering: a Session
// crash (position 0) restarts the Agent FSM (position 1) beneath it, while
// an Agent FSM crash (position 1, the last child) restarts only itself.
// newAgent is called fresh on every Agent (re)start, and onCrash is
// forwarded every crash/restart decision for the caller to publish or log.
func NewSessionGroup(sess *session.Session, bus *eventbus.Bus, newAgent func(*session.Session) *fsm.Agent, policy RestartPolicy, onCrash func(CrashReport)) *Supervisor {
	store := &sessionStoreChild{sess: sess}
	server := NewSessionServer(sess, bus, newAgent)

	wrapped := func(r CrashReport) {
		if bus != nil {
			bus.Publish(sess.ID(), message.AgentEvent{
				Type:      message.EventError,
				SessionID: sess.ID(),
				Time:      time.Now(),
				Reason:    "supervisor: " + r.Child + " crashed: " + r.Err.Error(),
			})
		}
		if onCrash != nil {
			onCrash(r)
		}
	}

	return New(policy, wrapped, store, server)
}
