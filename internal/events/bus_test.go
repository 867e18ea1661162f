package events

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"assetlibrary/internal/domain"
)

func TestBusFanOut(t *testing.T) {
	bus := NewBus(nil)
	a, cancelA := bus.Subscribe(4)
	b, cancelB := bus.Subscribe(4)
	defer cancelA()
	defer cancelB()

	ev := domain.Event{Type: domain.EventVersionPublished, FamilyUUID: uuid.New(), Variant: "Base"}
	bus.Publish(ev)

	for _, ch := range []<-chan domain.Event{a, b} {
		select {
		case got := <-ch:
			assert.Equal(t, ev.Type, got.Type)
			assert.False(t, got.At.IsZero())
		case <-time.After(time.Second):
			t.Fatal("event not delivered")
		}
	}
}

func TestBusDropsWhenFull(t *testing.T) {
	bus := NewBus(nil)
	ch, cancel := bus.Subscribe(1)
	defer cancel()

	bus.Publish(domain.Event{Type: domain.EventVersionArchived})
	bus.Publish(domain.Event{Type: domain.EventVersionPromoted})

	got := <-ch
	assert.Equal(t, domain.EventVersionArchived, got.Type)
	select {
	case extra := <-ch:
		t.Fatalf("unexpected event %v", extra)
	default:
	}
}

func TestBusCancelClosesChannel(t *testing.T) {
	bus := NewBus(nil)
	ch, cancel := bus.Subscribe(1)
	require.Equal(t, 1, bus.Subscribers())

	cancel()
	cancel()
	_, ok := <-ch
	assert.False(t, ok)
	assert.Equal(t, 0, bus.Subscribers())

	// Publishing after unsubscribe must not panic.
	bus.Publish(domain.Event{Type: domain.EventScopeRetired})
}
