package events

import (
	"testing"
	"time"
)

func TestBrokerPublishSubscribe(t *testing.T) {
	b := NewMemory()
	ch := b.Subscribe(TopicBatches)

	evt := Event{Type: "batch.created", Data: map[string]any{"x": 1}}
	b.Publish(TopicBatches, evt)

	select {
	case got := <-ch:
		if got.Type != evt.Type {
			t.Fatalf("got type %s, want %s", got.Type, evt.Type)
		}
		if got.Data["x"].(int) != 1 {
			t.Fatalf("bad payload: %+v", got.Data)
		}
	case <-time.After(200 * time.Millisecond):
		t.Fatal("timeout waiting for event")
	}

	b.Unsubscribe(TopicBatches, ch)
	select {
	case _, ok := <-ch:
		if ok {
			t.Fatal("channel should be closed after unsubscribe")
		}
	case <-time.After(50 * time.Millisecond):
		t.Fatal("channel not closed")
	}
	// second unsubscribe must not panic
	b.Unsubscribe(TopicBatches, ch)
}

func TestBrokerOtherTopicsIsolated(t *testing.T) {
	b := NewMemory()
	ch := b.Subscribe("a")
	defer b.Unsubscribe("a", ch)
	b.Publish("b", Event{Type: "x"})
	select {
	case evt := <-ch:
		t.Fatalf("unexpected event %+v", evt)
	case <-time.After(30 * time.Millisecond):
	}
}

func TestTeePublishesToAll(t *testing.T) {
	a, b := NewMemory(), NewMemory()
	tee := Tee{a, b}
	ca := tee.Subscribe(TopicBatches)
	cb := b.Subscribe(TopicBatches)
	tee.Publish(TopicBatches, Event{Type: "batch.created"})
	for _, ch := range []chan Event{ca, cb} {
		select {
		case evt := <-ch:
			if evt.Type != "batch.created" {
				t.Fatalf("got %s", evt.Type)
			}
		case <-time.After(200 * time.Millisecond):
			t.Fatal("missing event")
		}
	}
	tee.Unsubscribe(TopicBatches, ca)
}
