package batching

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"orderbatch/internal/events"
	"orderbatch/internal/lock"
	"orderbatch/internal/model"
	"orderbatch/internal/planner"
	"orderbatch/internal/store"
)

func order(id string, lat, lng float64) model.Order {
	return model.Order{ID: id, Location: &model.GeoPoint{Lat: lat, Lng: lng}}
}

func seed(t *testing.T, s store.Store, orders ...model.Order) {
	t.Helper()
	_, err := s.InsertOrders(context.Background(), orders)
	require.NoError(t, err)
}

func grid(n int) []model.Order {
	out := make([]model.Order, n)
	for i := range out {
		out[i] = order(fmt.Sprintf("o%02d", i), 12.9+float64(i%4)*0.05, 77.6+float64(i/4)*0.05)
	}
	return out
}

func newService(s store.Store, l lock.Locker, b events.Broker, opts Options) *Service {
	p := planner.New(planner.Config{Seed: 7, Restarts: 2}, planner.UUIDGenerator{})
	if opts.RetryInterval == 0 {
		opts.RetryInterval = time.Millisecond
	}
	return New(s, l, p, b, zerolog.Nop(), opts)
}

func TestGenerateDerivedCoversAllOrders(t *testing.T) {
	st := store.NewMemory()
	seed(t, st, grid(12)...)
	svc := newService(st, lock.NewLocal(), nil, Options{})

	sum, err := svc.Generate(context.Background(), Request{})
	require.NoError(t, err)
	assert.Equal(t, StatusOK, sum.Status)
	assert.Equal(t, 2, sum.K)
	assert.Equal(t, 12, sum.OrdersBatched)
	assert.Zero(t, sum.ClustersFailed)

	links, err := svc.Memberships(context.Background())
	require.NoError(t, err)
	assert.Len(t, links, 12)
}

func TestGenerateSecondRunNeverReassigns(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory()
	seed(t, st, grid(7)...)
	svc := newService(st, lock.NewLocal(), nil, Options{})

	first, err := svc.Generate(ctx, Request{Mode: ModeExplicit, Clusters: 3})
	require.NoError(t, err)
	require.Equal(t, StatusOK, first.Status)
	assert.LessOrEqual(t, first.ClustersCreated, 3)
	assert.Equal(t, 7, first.OrdersBatched)

	before, err := svc.Memberships(ctx)
	require.NoError(t, err)

	second, err := svc.Generate(ctx, Request{Mode: ModeExplicit, Clusters: 3})
	require.NoError(t, err)
	assert.Equal(t, StatusNothingTo, second.Status)

	after, err := svc.Memberships(ctx)
	require.NoError(t, err)
	assert.Equal(t, before, after)

	// new orders are batched on their own, old ones stay put
	seed(t, st, order("late", 12.95, 77.65))
	third, err := svc.Generate(ctx, Request{Mode: ModeExplicit, Clusters: 3})
	require.NoError(t, err)
	assert.Equal(t, 1, third.K)
	assert.True(t, third.Clamped)
	require.Len(t, third.Batches, 1)
	assert.Equal(t, []string{"late"}, third.Batches[0].OrderIDs)
}

func TestGenerateNothingToBatch(t *testing.T) {
	svc := newService(store.NewMemory(), lock.NewLocal(), nil, Options{})
	sum, err := svc.Generate(context.Background(), Request{})
	require.NoError(t, err)
	assert.Equal(t, StatusNothingTo, sum.Status)
	assert.Zero(t, sum.ClustersCreated)
}

func TestGenerateMissingCoordinatesExcluded(t *testing.T) {
	st := store.NewMemory()
	seed(t, st, model.Order{ID: "nowhere"}, order("a", 12.9, 77.6), order("b", 12.91, 77.61))
	svc := newService(st, lock.NewLocal(), nil, Options{})

	sum, err := svc.Generate(context.Background(), Request{})
	require.NoError(t, err)
	assert.Equal(t, StatusOK, sum.Status)
	assert.Equal(t, 1, sum.OrdersExcluded)
	assert.Equal(t, 2, sum.OrdersBatched)

	left, err := st.ListUnbatchedOrders(context.Background())
	require.NoError(t, err)
	require.Len(t, left, 1)
	assert.Equal(t, "nowhere", left[0].ID)

	// only the coordinate-less order is left: reported, not failed
	sum, err = svc.Generate(context.Background(), Request{})
	require.NoError(t, err)
	assert.Equal(t, StatusNothingTo, sum.Status)
	assert.Equal(t, 1, sum.OrdersExcluded)
}

// flakyStore fails CommitBatch according to fail, keyed by call number.
type flakyStore struct {
	store.Store
	mu    sync.Mutex
	calls int
	fail  func(call int) error
}

func (f *flakyStore) CommitBatch(ctx context.Context, b model.Batch, ids []string) error {
	f.mu.Lock()
	f.calls++
	call := f.calls
	f.mu.Unlock()
	if err := f.fail(call); err != nil {
		return err
	}
	return f.Store.CommitBatch(ctx, b, ids)
}

func TestGeneratePartialFailureKeepsCompletedClusters(t *testing.T) {
	st := &flakyStore{Store: store.NewMemory(), fail: func(call int) error {
		if call == 2 {
			return fmt.Errorf("constraint: %w", store.ErrConflict)
		}
		return nil
	}}
	seed(t, st, grid(12)...)
	svc := newService(st, lock.NewLocal(), nil, Options{})

	sum, err := svc.Generate(context.Background(), Request{Mode: ModeExplicit, Clusters: 3})
	require.NoError(t, err)
	assert.Equal(t, StatusPartial, sum.Status)
	assert.Equal(t, 1, sum.ClustersFailed)
	assert.Positive(t, sum.ClustersCreated)
	require.Len(t, sum.Errors, 1)
	assert.Contains(t, sum.Errors[0].Error, "conflict")
	// conflicts are not retried
	assert.Equal(t, sum.ClustersCreated+1, st.calls)

	batches, err := svc.ListBatches(context.Background(), time.Time{})
	require.NoError(t, err)
	assert.Len(t, batches, sum.ClustersCreated)
	for _, b := range batches {
		assert.NotEmpty(t, b.OrderIDs)
	}
}

func TestGenerateRetriesTransientErrors(t *testing.T) {
	st := &flakyStore{Store: store.NewMemory(), fail: func(call int) error {
		if call == 1 {
			return errors.New("connection reset")
		}
		return nil
	}}
	seed(t, st, grid(3)...)
	svc := newService(st, lock.NewLocal(), nil, Options{RetryAttempts: 3})

	sum, err := svc.Generate(context.Background(), Request{Mode: ModeExplicit, Clusters: 1})
	require.NoError(t, err)
	assert.Equal(t, StatusOK, sum.Status)
	assert.Equal(t, 2, st.calls)
}

func TestGenerateAllClustersFail(t *testing.T) {
	st := &flakyStore{Store: store.NewMemory(), fail: func(int) error { return errors.New("db down") }}
	seed(t, st, grid(4)...)
	svc := newService(st, lock.NewLocal(), nil, Options{RetryAttempts: 2})

	sum, err := svc.Generate(context.Background(), Request{Mode: ModeExplicit, Clusters: 2})
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, sum.Status)
	assert.Equal(t, 2, sum.ClustersFailed)
	assert.Equal(t, 4, st.calls)
}

func TestGenerateBusy(t *testing.T) {
	l := lock.NewLocal()
	release, err := l.Acquire(context.Background(), LockName)
	require.NoError(t, err)
	defer func() { _ = release(context.Background()) }()

	svc := newService(store.NewMemory(), l, nil, Options{LockWait: 20 * time.Millisecond})
	_, err = svc.Generate(context.Background(), Request{})
	assert.ErrorIs(t, err, ErrBusy)
}

func TestGenerateConcurrentRunsNeverDoubleAssign(t *testing.T) {
	st := store.NewMemory()
	seed(t, st, grid(40)...)
	svc := newService(st, lock.NewLocal(), nil, Options{LockWait: 5 * time.Second})

	var wg sync.WaitGroup
	var batched atomic.Int64
	for i := 0; i < 6; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			sum, err := svc.Generate(context.Background(), Request{})
			if err == nil {
				batched.Add(int64(sum.OrdersBatched))
			}
		}()
	}
	wg.Wait()
	assert.EqualValues(t, 40, batched.Load())

	links, err := st.ListMemberships(context.Background())
	require.NoError(t, err)
	seen := map[string]bool{}
	for _, l := range links {
		assert.False(t, seen[l.OrderID], "order %s assigned twice", l.OrderID)
		seen[l.OrderID] = true
	}
	assert.Len(t, seen, 40)
}

func TestGeneratePublishesBatchCreated(t *testing.T) {
	st := store.NewMemory()
	seed(t, st, grid(5)...)
	b := events.NewMemory()
	ch := b.Subscribe(events.TopicBatches)
	defer b.Unsubscribe(events.TopicBatches, ch)
	svc := newService(st, lock.NewLocal(), b, Options{})

	sum, err := svc.Generate(context.Background(), Request{})
	require.NoError(t, err)
	require.Equal(t, 1, sum.ClustersCreated)

	select {
	case evt := <-ch:
		assert.Equal(t, "batch.created", evt.Type)
		assert.Equal(t, sum.Batches[0].BatchID, evt.Data["batch_id"])
	case <-time.After(time.Second):
		t.Fatal("no batch.created event")
	}
}
