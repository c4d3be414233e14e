package events

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func collect(t *testing.T, ch <-chan Event, n int) []Event {
	t.Helper()
	var out []Event
	for len(out) < n {
		select {
		case e := <-ch:
			out = append(out, e)
		case <-time.After(2 * time.Second):
			t.Fatalf("got %d of %d events", len(out), n)
		}
	}
	return out
}

func TestBus_FiltersByType(t *testing.T) {
	bus := NewBus(10)
	defer bus.Close()

	got := make(chan Event, 10)
	bus.Subscribe(func(e Event) { got <- e }, EventTaskStatusChanged, EventProcessCompleted)

	bus.Publish(Event{Type: EventQueueStatusChanged})
	bus.Publish(Event{Type: EventTaskStatusChanged, TaskID: "task_1"})
	bus.Publish(Event{Type: EventProcessCompleted, EntityID: "proc_1"})

	events := collect(t, got, 2)
	assert.Equal(t, "task_1", events[0].TaskID)
	assert.Equal(t, "proc_1", events[1].EntityID)
	assert.False(t, events[0].Timestamp.IsZero(), "publish stamps events")

	select {
	case e := <-got:
		t.Fatalf("unexpected %s", e.Type)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestBus_NoTypesReceivesEverything(t *testing.T) {
	bus := NewBus(10)
	defer bus.Close()

	got := make(chan Event, 10)
	bus.Subscribe(func(e Event) { got <- e })

	bus.Publish(Event{Type: EventConnectionChanged})
	bus.Publish(Event{Type: EventSeekApplied})

	events := collect(t, got, 2)
	assert.Equal(t, EventConnectionChanged, events[0].Type)
	assert.Equal(t, EventSeekApplied, events[1].Type)
}

func TestBus_PreservesOrderPerSubscriber(t *testing.T) {
	bus := NewBus(100)
	defer bus.Close()

	got := make(chan Event, 100)
	bus.Subscribe(func(e Event) { got <- e }, EventTaskStatusChanged)
	for i := 0; i < 50; i++ {
		bus.Publish(Event{Type: EventTaskStatusChanged, Data: map[string]any{"n": i}})
	}

	for i, e := range collect(t, got, 50) {
		assert.Equal(t, i, e.Data["n"])
	}
}

func TestBus_FanOut(t *testing.T) {
	bus := NewBus(10)
	defer bus.Close()

	var mu sync.Mutex
	seen := map[int]int{}
	for i := 0; i < 3; i++ {
		i := i
		bus.Subscribe(func(Event) {
			mu.Lock()
			seen[i]++
			mu.Unlock()
		}, EventProfileSaved)
	}
	bus.Publish(Event{Type: EventProfileSaved, EntityID: "prof_a"})

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return seen[0] == 1 && seen[1] == 1 && seen[2] == 1
	}, 2*time.Second, 10*time.Millisecond)
}

func TestBus_SlowSubscriberDoesNotBlockPublisher(t *testing.T) {
	bus := NewBus(1)
	defer bus.Close()

	block := make(chan struct{})
	defer close(block)
	bus.Subscribe(func(Event) { <-block })

	done := make(chan struct{})
	go func() {
		for i := 0; i < 20; i++ {
			bus.Publish(Event{Type: EventProcessStarted})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Publish blocked on a full subscriber")
	}
	assert.GreaterOrEqual(t, bus.Dropped(), int64(18))
}

func TestBus_Unsubscribe(t *testing.T) {
	bus := NewBus(10)
	defer bus.Close()

	got := make(chan Event, 10)
	unsubscribe := bus.Subscribe(func(e Event) { got <- e })
	bus.Publish(Event{Type: EventResetApplied})
	collect(t, got, 1)

	unsubscribe()
	unsubscribe()
	bus.Publish(Event{Type: EventResetApplied})

	select {
	case <-got:
		t.Fatal("event delivered after unsubscribe")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestBus_PanickingSubscriberKeepsReceiving(t *testing.T) {
	bus := NewBus(10)
	defer bus.Close()

	got := make(chan Event, 10)
	bus.Subscribe(func(e Event) {
		if e.TaskID == "bad" {
			panic("subscriber bug")
		}
		got <- e
	})

	bus.Publish(Event{Type: EventTaskStatusChanged, TaskID: "bad"})
	bus.Publish(Event{Type: EventTaskStatusChanged, TaskID: "good"})

	assert.Equal(t, "good", collect(t, got, 1)[0].TaskID)
}

func TestBus_Closed(t *testing.T) {
	bus := NewBus(10)
	got := make(chan Event, 10)
	bus.Subscribe(func(e Event) { got <- e })
	bus.Close()
	bus.Close()

	bus.Publish(Event{Type: EventSeekApplied})
	late := bus.Subscribe(func(e Event) { got <- e })
	late()

	select {
	case <-got:
		t.Fatal("closed bus delivered an event")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestIsPushType(t *testing.T) {
	for _, typ := range PushTypes {
		assert.True(t, IsPushType(typ), typ)
	}
	for _, typ := range []EventType{EventConnectionChanged, EventSeekApplied, EventResetApplied, EventProfileSaved, "bogus"} {
		assert.False(t, IsPushType(typ), typ)
	}
}
