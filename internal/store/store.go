package store

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"

	"orderbatch/internal/model"
)

// Store is the persistence interface used by the batching service and the API server.
// It covers three tables: orders, batches and batch_orders.
type Store interface {
	// Orders
	InsertOrders(ctx context.Context, orders []model.Order) (model.ImportResult, error)
	ListOrders(ctx context.Context, status model.OrderStatus, cursor string, limit int) (items []model.Order, nextCursor string, err error)
	ListUnbatchedOrders(ctx context.Context) ([]model.Order, error)

	// CommitBatch writes the batch row, its membership rows and each member's batch_id in one
	// transaction. Only unbatched orders can be claimed; otherwise nothing is written and
	// ErrConflict is returned.
	CommitBatch(ctx context.Context, batch model.Batch, orderIDs []string) error

	// Batches
	ListBatches(ctx context.Context, since time.Time) ([]model.BatchWithOrders, error)
	ListMemberships(ctx context.Context) ([]model.BatchMembership, error)

	Ping(ctx context.Context) error
	Close() error
}

var (
	ErrNotFound = errors.New("not found")
	// ErrConflict means a batch id already exists or a member order was claimed by another batch.
	ErrConflict = errors.New("conflict")
	// ErrEmptyBatch rejects batches without members.
	ErrEmptyBatch = errors.New("batch has no orders")
)

const (
	defaultListLimit = 100
	maxListLimit     = 500
)

func newImportID() string { return "imp_" + strings.ToLower(ulid.Make().String()) }

// prepareOrders fills ids and timestamps and drops duplicate ids within the request.
func prepareOrders(orders []model.Order, now time.Time) (out []model.Order, skipped int) {
	seen := make(map[string]struct{}, len(orders))
	out = make([]model.Order, 0, len(orders))
	for _, o := range orders {
		if o.ID == "" {
			o.ID = uuid.NewString()
		}
		if _, dup := seen[o.ID]; dup {
			skipped++
			continue
		}
		seen[o.ID] = struct{}{}
		if o.CreatedAt.IsZero() {
			o.CreatedAt = now
		}
		// batch assignment only happens through CommitBatch
		o.BatchID = ""
		out = append(out, o)
	}
	return out, skipped
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return defaultListLimit
	}
	if limit > maxListLimit {
		return maxListLimit
	}
	return limit
}
