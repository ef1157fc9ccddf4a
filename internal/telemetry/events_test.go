package telemetry

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestEventBusDispatchesToMatchingKind(t *testing.T) {
	bus := NewEventBus(zap.NewNop(), EventBusConfig{NumWorkers: 2, BufferSize: 16})
	defer bus.Close()

	var mu sync.Mutex
	var received []Event
	bus.Subscribe(EventError, func(e Event) {
		mu.Lock()
		defer mu.Unlock()
		received = append(received, e)
	})

	bus.Publish(Event{Kind: EventError, StrategyID: "s1"})
	bus.Publish(Event{Kind: EventNoSignal, StrategyID: "s1"})

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(received) == 1
	}, time.Second, 5*time.Millisecond)
}

func TestEventBusWildcardSubscriberSeesEveryKind(t *testing.T) {
	bus := NewEventBus(zap.NewNop(), EventBusConfig{NumWorkers: 2, BufferSize: 16})
	defer bus.Close()

	var mu sync.Mutex
	count := 0
	bus.Subscribe("", func(e Event) {
		mu.Lock()
		defer mu.Unlock()
		count++
	})

	bus.Publish(Event{Kind: EventError})
	bus.Publish(Event{Kind: EventNoSignal})

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return count == 2
	}, time.Second, 5*time.Millisecond)
}

func TestEventBusDropsWhenBufferFull(t *testing.T) {
	bus := NewEventBus(zap.NewNop(), EventBusConfig{NumWorkers: 1, BufferSize: 1})
	defer bus.Close()

	block := make(chan struct{})
	bus.Subscribe("", func(e Event) {
		<-block
	})

	// The sole worker blocks on the first event; the buffer (size 1) holds
	// a second, and every further publish must be dropped.
	for i := 0; i < 5; i++ {
		bus.Publish(Event{Kind: EventError})
	}
	close(block)

	_, dropped := bus.Stats()
	require.Greater(t, dropped, int64(0))
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	bus := NewEventBus(zap.NewNop(), EventBusConfig{NumWorkers: 2, BufferSize: 16})
	defer bus.Close()

	var mu sync.Mutex
	count := 0
	sub := bus.Subscribe(EventError, func(e Event) {
		mu.Lock()
		defer mu.Unlock()
		count++
	})
	bus.Unsubscribe(sub)

	bus.Publish(Event{Kind: EventError})
	time.Sleep(20 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, 0, count)
}
