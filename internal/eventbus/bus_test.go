package eventbus_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/opencoreharness/agentcore/internal/eventbus"
	"github.com/opencoreharness/agentcore/internal/message"
)

func TestPublishDeliversInOrderToSubscriber(t *testing.T) {
	b := eventbus.New()
	sub := b.Subscribe("sess-1")

	for i := 0; i < 5; i++ {
		b.Publish("sess-1", message.AgentEvent{Type: message.EventMessageDelta, Delta: string(rune('a' + i))})
	}

	for i := 0; i < 5; i++ {
		select {
		case ev := <-sub.Events:
			require.Equal(t, string(rune('a'+i)), ev.Delta)
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for event")
		}
	}
}

func TestSubscribeTwiceYieldsIndependentDelivery(t *testing.T) {
	b := eventbus.New()
	sub1 := b.Subscribe("sess-1")
	sub2 := b.Subscribe("sess-1")

	b.Publish("sess-1", message.AgentEvent{Type: message.EventAgentStart})

	for _, sub := range []*eventbus.Subscription{sub1, sub2} {
		select {
		case ev := <-sub.Events:
			require.Equal(t, message.EventAgentStart, ev.Type)
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for event")
		}
	}
}

func TestALLTopicReceivesEveryTopic(t *testing.T) {
	b := eventbus.New()
	all := b.Subscribe(eventbus.ALL)

	b.Publish("sess-a", message.AgentEvent{Type: message.EventAgentStart, SessionID: "sess-a"})
	b.Publish("sess-b", message.AgentEvent{Type: message.EventAgentEnd, SessionID: "sess-b"})

	seen := map[string]message.AgentEventType{}
	for i := 0; i < 2; i++ {
		select {
		case ev := <-all.Events:
			seen[ev.SessionID] = ev.Type
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for event")
		}
	}
	require.Equal(t, message.EventAgentStart, seen["sess-a"])
	require.Equal(t, message.EventAgentEnd, seen["sess-b"])
}

func TestCrossTopicNoOrderGuaranteeButNoCrossLeak(t *testing.T) {
	b := eventbus.New()
	subA := b.Subscribe("sess-a")
	subB := b.Subscribe("sess-b")

	b.Publish("sess-a", message.AgentEvent{Type: message.EventAgentStart})

	select {
	case ev := <-subA.Events:
		require.Equal(t, message.EventAgentStart, ev.Type)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}

	select {
	case <-subB.Events:
		t.Fatal("sess-b subscriber should not receive sess-a events")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestPublishNeverBlocksOnSlowSubscriber(t *testing.T) {
	b := eventbus.New()
	sub := b.Subscribe("sess-1")

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 1000; i++ {
			b.Publish("sess-1", message.AgentEvent{Type: message.EventUsageUpdate})
		}
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publisher blocked on a subscriber that never drains")
	}
	_ = sub
}

func TestUnsubscribeIsIdempotentAndStopsDelivery(t *testing.T) {
	b := eventbus.New()
	sub := b.Subscribe("sess-1")
	sub.Unsubscribe()
	sub.Unsubscribe()

	require.Equal(t, 0, b.SubscriberCount("sess-1"))
	b.Publish("sess-1", message.AgentEvent{Type: message.EventAgentStart})
}
