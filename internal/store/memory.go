package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"orderbatch/internal/model"
)

// Memory is a simple in-memory store used when no database is configured.
type Memory struct {
	mu      sync.Mutex
	orders  map[string]model.Order // id -> order
	seq     []string               // insertion order
	batches map[string]model.Batch // id -> batch
	links   []model.BatchMembership
	now     func() time.Time
}

func NewMemory() *Memory {
	return &Memory{
		orders:  map[string]model.Order{},
		batches: map[string]model.Batch{},
		now:     time.Now,
	}
}

func (m *Memory) InsertOrders(ctx context.Context, orders []model.Order) (model.ImportResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	prepared, skipped := prepareOrders(orders, m.now())
	created := 0
	for _, o := range prepared {
		if _, exists := m.orders[o.ID]; exists {
			skipped++
			continue
		}
		m.orders[o.ID] = o
		m.seq = append(m.seq, o.ID)
		created++
	}
	return model.ImportResult{ImportID: newImportID(), Created: created, Skipped: skipped}, nil
}

func (m *Memory) ListOrders(ctx context.Context, status model.OrderStatus, cursor string, limit int) ([]model.Order, string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	limit = clampLimit(limit)
	start := 0
	if cursor != "" {
		for i, id := range m.seq {
			if id == cursor {
				start = i + 1
				break
			}
		}
	}
	out := []model.Order{}
	var next string
	for i := start; i < len(m.seq) && len(out) < limit; i++ {
		o := m.orders[m.seq[i]]
		if matchesStatus(o, status) {
			out = append(out, o)
		}
		next = m.seq[i]
	}
	if len(out) < limit {
		next = ""
	}
	return out, next, nil
}

func matchesStatus(o model.Order, status model.OrderStatus) bool {
	switch status {
	case model.OrderStatusBatched:
		return o.Batched()
	case model.OrderStatusUnbatched:
		return !o.Batched()
	}
	return true
}

func (m *Memory) ListUnbatchedOrders(ctx context.Context) ([]model.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.Order
	for _, id := range m.seq {
		if o := m.orders[id]; !o.Batched() {
			out = append(out, o)
		}
	}
	return out, nil
}

func (m *Memory) CommitBatch(ctx context.Context, batch model.Batch, orderIDs []string) error {
	if len(orderIDs) == 0 {
		return ErrEmptyBatch
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.batches[batch.ID]; exists {
		return fmt.Errorf("batch %s: %w", batch.ID, ErrConflict)
	}
	claimed := make(map[string]struct{}, len(orderIDs))
	for _, id := range orderIDs {
		o, ok := m.orders[id]
		if !ok {
			return fmt.Errorf("order %s: %w", id, ErrNotFound)
		}
		if _, dup := claimed[id]; dup || o.Batched() {
			return fmt.Errorf("order %s already batched: %w", id, ErrConflict)
		}
		claimed[id] = struct{}{}
	}
	if batch.CreatedAt.IsZero() {
		batch.CreatedAt = m.now()
	}
	batch.OrderCount = len(orderIDs)
	m.batches[batch.ID] = batch
	for _, id := range orderIDs {
		o := m.orders[id]
		o.BatchID = batch.ID
		m.orders[id] = o
		m.links = append(m.links, model.BatchMembership{BatchID: batch.ID, OrderID: id})
	}
	return nil
}

func (m *Memory) ListBatches(ctx context.Context, since time.Time) ([]model.BatchWithOrders, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	members := map[string][]string{}
	for _, l := range m.links {
		members[l.BatchID] = append(members[l.BatchID], l.OrderID)
	}
	out := []model.BatchWithOrders{}
	for _, b := range m.batches {
		if !since.IsZero() && b.CreatedAt.Before(since) {
			continue
		}
		out = append(out, model.BatchWithOrders{Batch: b, OrderIDs: members[b.ID]})
	}
	sortBatches(out)
	return out, nil
}

func (m *Memory) ListMemberships(ctx context.Context) ([]model.BatchMembership, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]model.BatchMembership{}, m.links...), nil
}

func (m *Memory) Ping(ctx context.Context) error { return nil }

func (m *Memory) Close() error { return nil }

func sortBatches(bs []model.BatchWithOrders) {
	sort.Slice(bs, func(i, j int) bool {
		if !bs[i].CreatedAt.Equal(bs[j].CreatedAt) {
			return bs[i].CreatedAt.Before(bs[j].CreatedAt)
		}
		if bs[i].Ordinal != bs[j].Ordinal {
			return bs[i].Ordinal < bs[j].Ordinal
		}
		return bs[i].ID < bs[j].ID
	})
}
