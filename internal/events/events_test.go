package events

import (
	"sync"
	"testing"
	"time"

	"github.com/lvonguyen/intelforge/internal/intel"
)

// ============================================================================
// Bus fan-out
// ============================================================================

// TestBus_FanOut verifies every subscriber receives every published event.
func TestBus_FanOut(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	ch1, cancel1 := bus.Subscribe(8)
	defer cancel1()
	ch2, cancel2 := bus.Subscribe(8)
	defer cancel2()

	bus.Publish(Event{Type: TaskStarted, InvestigationID: "inv-1", SourceID: "whois"})
	bus.Publish(Event{Type: TaskSucceeded, InvestigationID: "inv-1", SourceID: "whois"})

	for name, ch := range map[string]<-chan Event{"first": ch1, "second": ch2} {
		for _, want := range []Type{TaskStarted, TaskSucceeded} {
			select {
			case ev := <-ch:
				if ev.Type != want {
					t.Errorf("%s subscriber got %q, want %q", name, ev.Type, want)
				}
			case <-time.After(time.Second):
				t.Fatalf("%s subscriber timed out waiting for %q", name, want)
			}
		}
	}
}

// TestBus_PublishStampsTime verifies events without a timestamp get one.
func TestBus_PublishStampsTime(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	ch, cancel := bus.Subscribe(1)
	defer cancel()

	bus.Publish(Event{Type: InvestigationStateChanged, State: intel.StateCompleted})
	ev := <-ch
	if ev.Time.IsZero() {
		t.Error("published event has zero timestamp")
	}
}

// TestBus_CancelClosesChannel verifies cancellation closes the subscriber
// channel and later publishes do not reach it.
func TestBus_CancelClosesChannel(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	ch, cancel := bus.Subscribe(1)
	cancel()

	select {
	case _, open := <-ch:
		if open {
			t.Error("channel delivered an event after cancel")
		}
	case <-time.After(time.Second):
		t.Fatal("channel not closed after cancel")
	}

	// Must not panic or block on the departed subscriber.
	bus.Publish(Event{Type: TaskStarted})
}

// TestBus_CancelIdempotent verifies double cancellation is safe.
func TestBus_CancelIdempotent(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	_, cancel := bus.Subscribe(1)
	cancel()
	cancel()
}

// TestBus_CancelDuringPublish verifies unsubscribing while a publish is
// delivering neither panics the publisher nor deadlocks. The subscriber's
// buffer stays full and undrained, so without the done signal the publisher
// would be parked on the channel when cancel closes it.
func TestBus_CancelDuringPublish(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	for i := 0; i < 200; i++ {
		_, cancel := bus.Subscribe(1)

		var wg sync.WaitGroup
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 5; j++ {
				bus.Publish(Event{Type: TaskStarted})
			}
		}()
		cancel()
		wg.Wait()
	}
}

// TestBus_SlowSubscriberBlocksUntilDrained verifies delivery is at-least-once
// rather than lossy: a full buffer makes Publish wait for the reader.
func TestBus_SlowSubscriberBlocksUntilDrained(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	ch, cancel := bus.Subscribe(1)
	defer cancel()

	bus.Publish(Event{Type: TaskStarted})

	published := make(chan struct{})
	go func() {
		bus.Publish(Event{Type: TaskSucceeded})
		close(published)
	}()

	select {
	case <-published:
		t.Fatal("Publish returned with the buffer full and no reader")
	case <-time.After(50 * time.Millisecond):
	}

	<-ch // drain the first event
	select {
	case <-published:
	case <-time.After(time.Second):
		t.Fatal("Publish still blocked after the buffer drained")
	}
	if ev := <-ch; ev.Type != TaskSucceeded {
		t.Errorf("second event = %q, want %q", ev.Type, TaskSucceeded)
	}
}
