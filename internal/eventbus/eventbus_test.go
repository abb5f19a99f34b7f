package eventbus

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/Checker-Finance/credpool/pkg/model"
)

func TestEventBus_Subscribe_And_Publish(t *testing.T) {
	bus := New()

	var received model.PoolEvent
	var wg sync.WaitGroup
	wg.Add(1)

	bus.Subscribe(model.EventDead, func(event model.PoolEvent) {
		received = event
		wg.Done()
	})

	bus.Publish(model.PoolEvent{Type: model.EventDead, CredentialID: "c-1"})

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		assert.Equal(t, "c-1", received.CredentialID)
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for event")
	}
}

func TestEventBus_PublishSync(t *testing.T) {
	bus := New()

	var received model.PoolEvent
	bus.Subscribe(model.EventConfirmed, func(event model.PoolEvent) {
		received = event
	})

	bus.PublishSync(model.PoolEvent{Type: model.EventConfirmed, IdentityID: "alice"})

	assert.Equal(t, "alice", received.IdentityID)
}

func TestEventBus_AllReceivesEveryType(t *testing.T) {
	bus := New()

	var mu sync.Mutex
	var types []string
	bus.Subscribe(All, func(event model.PoolEvent) {
		mu.Lock()
		types = append(types, event.Type)
		mu.Unlock()
	})

	bus.Publish(model.PoolEvent{Type: model.EventDead})
	bus.Publish(model.PoolEvent{Type: model.EventReleased})
	bus.Drain()

	mu.Lock()
	defer mu.Unlock()
	assert.ElementsMatch(t, []string{model.EventDead, model.EventReleased}, types)
}

func TestEventBus_DifferentEventTypes(t *testing.T) {
	bus := New()

	var dead, released int
	bus.Subscribe(model.EventDead, func(model.PoolEvent) { dead++ })
	bus.Subscribe(model.EventReleased, func(model.PoolEvent) { released++ })

	bus.PublishSync(model.PoolEvent{Type: model.EventDead})

	assert.Equal(t, 1, dead)
	assert.Equal(t, 0, released)
}

func TestEventBus_NoSubscribers(t *testing.T) {
	bus := New()

	// Should not panic
	bus.Publish(model.PoolEvent{Type: model.EventDead})
	bus.Drain()
}

func TestEventBus_SubscriberCount(t *testing.T) {
	bus := New()

	assert.False(t, bus.HasSubscribers(model.EventDead))
	bus.Subscribe(model.EventDead, func(model.PoolEvent) {})
	bus.Subscribe(model.EventDead, func(model.PoolEvent) {})

	assert.True(t, bus.HasSubscribers(model.EventDead))
	assert.Equal(t, 2, bus.SubscriberCount(model.EventDead))
	assert.Equal(t, 0, bus.SubscriberCount(model.EventReleased))
}
