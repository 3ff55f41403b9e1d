// Package events fans batch notifications out to stream subscribers.
package events

import (
	"sync"
)

// TopicBatches carries batch.created events.
const TopicBatches = "batches"

type Event struct {
	Type string         `json:"type"`
	Data map[string]any `json:"data"`
}

// Broker is implemented by the in-memory and Redis brokers.
type Broker interface {
	Subscribe(topic string) chan Event
	Unsubscribe(topic string, ch chan Event)
	Publish(topic string, evt Event)
}

// Memory delivers events to subscribers of this process only. Slow subscribers drop events.
type Memory struct {
	mu   sync.Mutex
	subs map[string]map[chan Event]struct{} // topic -> set of channels
}

func NewMemory() *Memory {
	return &Memory{subs: map[string]map[chan Event]struct{}{}}
}

func (b *Memory) Subscribe(topic string) chan Event {
	ch := make(chan Event, 8)
	b.mu.Lock()
	if b.subs[topic] == nil {
		b.subs[topic] = map[chan Event]struct{}{}
	}
	b.subs[topic][ch] = struct{}{}
	b.mu.Unlock()
	return ch
}

func (b *Memory) Unsubscribe(topic string, ch chan Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	m := b.subs[topic]
	if _, ok := m[ch]; !ok {
		return
	}
	delete(m, ch)
	if len(m) == 0 {
		delete(b.subs, topic)
	}
	close(ch)
}

func (b *Memory) Publish(topic string, evt Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for ch := range b.subs[topic] {
		select {
		case ch <- evt:
		default:
		}
	}
}

// Tee publishes to every broker in order and subscribes through the first one.
type Tee []Broker

func (t Tee) Subscribe(topic string) chan Event { return t[0].Subscribe(topic) }

func (t Tee) Unsubscribe(topic string, ch chan Event) { t[0].Unsubscribe(topic, ch) }

func (t Tee) Publish(topic string, evt Event) {
	for _, b := range t {
		b.Publish(topic, evt)
	}
}
