package pubsub

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestBroker_Subscribe(t *testing.T) {
	broker := NewBroker[string]()
	defer broker.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch := broker.Subscribe(ctx)

	broker.Publish(PublishedEvent, "10.0.0.5@@_http._tcp@@80")

	select {
	case event := <-ch:
		require.Equal(t, "10.0.0.5@@_http._tcp@@80", event.Payload)
		require.Equal(t, PublishedEvent, event.Type)
		require.False(t, event.Timestamp.IsZero())
	case <-time.After(100 * time.Millisecond):
		require.Fail(t, "timeout waiting for event")
	}
}

func TestBroker_MultipleSubscribers(t *testing.T) {
	broker := NewBroker[int]()
	defer broker.Close()

	ctx := context.Background()

	ch1 := broker.Subscribe(ctx)
	ch2 := broker.Subscribe(ctx)

	require.Equal(t, 2, broker.SubscriberCount())

	broker.Publish(UnpublishedEvent, 42)

	for i, ch := range []<-chan Event[int]{ch1, ch2} {
		select {
		case event := <-ch:
			require.Equal(t, 42, event.Payload, "subscriber %d", i)
			require.Equal(t, UnpublishedEvent, event.Type, "subscriber %d", i)
		case <-time.After(100 * time.Millisecond):
			require.Fail(t, "timeout waiting for event", "subscriber %d", i)
		}
	}
}

func TestBroker_ContextCancellation(t *testing.T) {
	broker := NewBroker[string]()
	defer broker.Close()

	ctx, cancel := context.WithCancel(context.Background())

	ch := broker.Subscribe(ctx)
	require.Equal(t, 1, broker.SubscriberCount())

	cancel()

	require.Eventually(t, func() bool { return broker.SubscriberCount() == 0 },
		time.Second, 5*time.Millisecond)

	_, ok := <-ch
	require.False(t, ok, "channel should be closed")
}

func TestBroker_NonBlockingCountsDrops(t *testing.T) {
	broker := NewBrokerWithBuffer[int](1)
	defer broker.Close()

	ch := broker.Subscribe(context.Background())

	broker.Publish(PublishedEvent, 1)

	done := make(chan struct{})
	go func() {
		broker.Publish(PublishedEvent, 2)
		broker.Publish(PublishedEvent, 3)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(100 * time.Millisecond):
		require.Fail(t, "Publish blocked")
	}

	event := <-ch
	require.Equal(t, 1, event.Payload)
	require.Equal(t, uint64(2), broker.Dropped())
}

func TestBroker_LaggingSubscriberDoesNotStarveOthers(t *testing.T) {
	broker := NewBrokerWithBuffer[string](2)
	defer broker.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	slow := broker.Subscribe(ctx)
	fast := broker.Subscribe(ctx)

	keys := []string{"a", "b", "c", "d"}
	var got []string
	for _, key := range keys {
		broker.Publish(PublishedEvent, key)
		got = append(got, (<-fast).Payload)
	}

	require.Equal(t, keys, got)
	require.Equal(t, uint64(2), broker.Dropped())
	require.Equal(t, 1, broker.Lagging())
	require.Equal(t, "a", (<-slow).Payload)
	require.Equal(t, "b", (<-slow).Payload)

	cancel()
	require.Eventually(t, func() bool {
		return broker.SubscriberCount() == 0
	}, time.Second, 10*time.Millisecond)
	require.Equal(t, 0, broker.Lagging())
}

func TestBroker_CloseIdempotent(t *testing.T) {
	broker := NewBroker[string]()

	ch := broker.Subscribe(context.Background())

	broker.Close()
	broker.Close()

	_, ok := <-ch
	require.False(t, ok, "channel should be closed")
	require.Equal(t, 0, broker.SubscriberCount())

	late := broker.Subscribe(context.Background())
	_, ok = <-late
	require.False(t, ok, "subscribe after close should return a closed channel")

	broker.Publish(ErrorEvent, "ignored")
}

func TestListenCmd(t *testing.T) {
	broker := NewBroker[string]()
	defer broker.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	listener := NewContinuousListener(ctx, broker)
	broker.Publish(StateChangedEvent, "on")

	msg := listener.Listen()()
	event, ok := msg.(Event[string])
	require.True(t, ok, "Listen() should yield an Event, got %T", msg)
	require.Equal(t, StateChangedEvent, event.Type)

	cancel()
	require.Nil(t, listener.Listen()())
}
