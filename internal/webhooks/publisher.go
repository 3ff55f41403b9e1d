// Package webhooks delivers batch events to configured HTTP endpoints with HMAC signatures.
package webhooks

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"orderbatch/internal/events"
)

// Endpoint is one receiver. Deliveries are signed when Secret is set.
type Endpoint struct {
	URL    string
	Secret string
}

// ParseEndpoints splits a comma-separated URL list; every endpoint shares secret.
func ParseEndpoints(urls, secret string) []Endpoint {
	var out []Endpoint
	for _, u := range strings.Split(urls, ",") {
		if u = strings.TrimSpace(u); u != "" {
			out = append(out, Endpoint{URL: u, Secret: secret})
		}
	}
	return out
}

type Delivery struct {
	ID        string
	EventType string
	URL       string
	Secret    string
	Payload   []byte
	Attempts  int
	NextAt    time.Time
	LastError string
}

// Queue holds pending deliveries in memory. Pending deliveries are lost on restart.
type Queue struct {
	mu      sync.Mutex
	pending []Delivery
	failed  []Delivery
}

func NewQueue() *Queue { return &Queue{} }

func (q *Queue) Enqueue(d Delivery) {
	q.mu.Lock()
	q.pending = append(q.pending, d)
	q.mu.Unlock()
}

// Due removes and returns up to limit deliveries whose NextAt has passed.
func (q *Queue) Due(now time.Time, limit int) []Delivery {
	q.mu.Lock()
	defer q.mu.Unlock()
	var due []Delivery
	keep := q.pending[:0]
	for _, d := range q.pending {
		if len(due) < limit && !d.NextAt.After(now) {
			due = append(due, d)
			continue
		}
		keep = append(keep, d)
	}
	q.pending = keep
	return due
}

// Fail parks a delivery that ran out of attempts.
func (q *Queue) Fail(d Delivery) {
	q.mu.Lock()
	q.failed = append(q.failed, d)
	q.mu.Unlock()
}

// Len reports pending and failed deliveries.
func (q *Queue) Len() (pending, failed int) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending), len(q.failed)
}

type Publisher struct {
	Endpoints []Endpoint
	Queue     *Queue
}

func NewPublisher(endpoints []Endpoint, q *Queue) *Publisher {
	return &Publisher{Endpoints: endpoints, Queue: q}
}

// Emit queues an event for every endpoint.
func (p *Publisher) Emit(eventType string, data any) {
	if len(p.Endpoints) == 0 {
		return
	}
	id := "evt_" + strings.ToLower(ulid.Make().String())
	payload := map[string]any{
		"id":   id,
		"type": eventType,
		"ts":   time.Now().UTC().Format(time.RFC3339),
		"data": data,
	}
	body, _ := json.Marshal(payload)
	for _, e := range p.Endpoints {
		p.Queue.Enqueue(Delivery{ID: id, EventType: eventType, URL: e.URL, Secret: e.Secret, Payload: body})
	}
}

// Forward emits every event published on topic until ctx is done.
func (p *Publisher) Forward(ctx context.Context, b events.Broker, topic string) {
	ch := b.Subscribe(topic)
	defer b.Unsubscribe(topic, ch)
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-ch:
			if !ok {
				return
			}
			p.Emit(evt.Type, evt.Data)
		}
	}
}
