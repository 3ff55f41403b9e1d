// Package batching runs a batch-generation pass: lock, snapshot, plan, commit, publish.
package batching

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"

	"orderbatch/internal/events"
	"orderbatch/internal/lock"
	"orderbatch/internal/metrics"
	"orderbatch/internal/model"
	"orderbatch/internal/planner"
	"orderbatch/internal/store"
)

// LockName is the global lock held for the duration of a run.
const LockName = "batch-generation"

// ErrBusy means another run held the lock for longer than LockWait.
var ErrBusy = errors.New("batch generation already in progress")

type Mode string

const (
	ModeDerived  Mode = "derived"
	ModeExplicit Mode = "explicit"
)

// Request selects the cluster-count policy for one run. Zero values fall back to Options.
type Request struct {
	Mode      Mode
	Clusters  int
	GroupSize int
}

type Status string

const (
	StatusOK        Status = "ok"
	StatusPartial   Status = "partial"
	StatusFailed    Status = "failed"
	StatusNothingTo Status = "nothing to batch"
)

// ClusterError reports a cluster whose commit failed. Its orders stay unbatched.
type ClusterError struct {
	BatchID    string `json:"batch_id"`
	Name       string `json:"name"`
	OrderCount int    `json:"order_count"`
	Error      string `json:"error"`
}

type Summary struct {
	Status          Status          `json:"status"`
	ClustersCreated int             `json:"clusters_created"`
	ClustersFailed  int             `json:"clusters_failed"`
	OrdersBatched   int             `json:"orders_batched"`
	OrdersExcluded  int             `json:"orders_excluded"`
	K               int             `json:"k,omitempty"`
	Clamped         bool            `json:"clamped,omitempty"`
	Batches         []planner.Group `json:"batches,omitempty"`
	Errors          []ClusterError  `json:"errors,omitempty"`
}

// Options carries the service tunables taken from configuration.
type Options struct {
	TargetGroupSize int
	DefaultClusters int
	LockWait        time.Duration
	RetryAttempts   int
	RetryInterval   time.Duration
}

func (o *Options) setDefaults() {
	if o.TargetGroupSize <= 0 {
		o.TargetGroupSize = planner.DefaultTargetGroupSize
	}
	if o.DefaultClusters <= 0 {
		o.DefaultClusters = planner.DefaultClusters
	}
	if o.LockWait <= 0 {
		o.LockWait = 5 * time.Second
	}
	if o.RetryAttempts <= 0 {
		o.RetryAttempts = 3
	}
	if o.RetryInterval <= 0 {
		o.RetryInterval = 100 * time.Millisecond
	}
}

type Service struct {
	store   store.Store
	locker  lock.Locker
	planner *planner.Planner
	events  events.Broker
	log     zerolog.Logger
	opts    Options
	now     func() time.Time
}

// New wires a Service. A nil broker disables event publishing.
func New(s store.Store, l lock.Locker, p *planner.Planner, b events.Broker, log zerolog.Logger, opts Options) *Service {
	opts.setDefaults()
	return &Service{store: s, locker: l, planner: p, events: b, log: log, opts: opts, now: time.Now}
}

func (s *Service) policy(req Request) planner.Policy {
	if req.Mode == ModeExplicit {
		k := req.Clusters
		if k == 0 {
			k = s.opts.DefaultClusters
		}
		return planner.Explicit{K: k}
	}
	size := req.GroupSize
	if size <= 0 {
		size = s.opts.TargetGroupSize
	}
	return planner.Derived{TargetGroupSize: size}
}

// Generate performs one batching run. Planning problems (no orders, no coordinates) are reported in
// the Summary, not as errors. Per-cluster persistence failures are reported in Summary.Errors.
func (s *Service) Generate(ctx context.Context, req Request) (Summary, error) {
	if req.Mode == "" {
		req.Mode = ModeDerived
	}
	policy := s.policy(req)
	log := s.log.With().Str("mode", string(req.Mode)).Stringer("policy", policy).Logger()

	lockCtx, cancel := context.WithTimeout(ctx, s.opts.LockWait)
	release, err := s.locker.Acquire(lockCtx, LockName)
	cancel()
	if err != nil {
		metrics.BatchRuns.WithLabelValues(string(req.Mode), "busy").Inc()
		if errors.Is(err, lock.ErrNotAcquired) && ctx.Err() == nil {
			return Summary{}, ErrBusy
		}
		return Summary{}, fmt.Errorf("acquire run lock: %w", err)
	}
	defer func() {
		if err := release(context.Background()); err != nil {
			log.Warn().Err(err).Msg("release run lock")
		}
	}()

	orders, err := s.store.ListUnbatchedOrders(ctx)
	if err != nil {
		metrics.BatchRuns.WithLabelValues(string(req.Mode), "error").Inc()
		return Summary{}, fmt.Errorf("list unbatched orders: %w", err)
	}

	start := time.Now()
	plan, err := s.planner.Plan(orders, policy)
	metrics.PlanDuration.Observe(time.Since(start).Seconds())
	metrics.OrdersExcluded.Add(float64(len(plan.Excluded)))
	if err != nil {
		if planner.IsInputError(err) {
			log.Info().Int("orders", len(orders)).Int("excluded", len(plan.Excluded)).Msg(err.Error())
			metrics.BatchRuns.WithLabelValues(string(req.Mode), string(StatusNothingTo)).Inc()
			return Summary{Status: StatusNothingTo, OrdersExcluded: len(plan.Excluded)}, nil
		}
		return Summary{}, fmt.Errorf("plan: %w", err)
	}
	if len(plan.Excluded) > 0 {
		log.Warn().Int("excluded", len(plan.Excluded)).Strs("order_ids", plan.Excluded).Msg("orders without usable coordinates skipped")
	}

	sum := Summary{K: plan.K, Clamped: plan.Clamped, OrdersExcluded: len(plan.Excluded)}
	createdAt := s.now().UTC()
	for _, g := range plan.Groups {
		if err := s.commit(ctx, g.Batch(createdAt), g.OrderIDs); err != nil {
			log.Error().Err(err).Str("batch_id", g.BatchID).Int("orders", len(g.OrderIDs)).Msg("commit batch")
			metrics.BatchClusters.WithLabelValues("failed").Inc()
			sum.ClustersFailed++
			sum.Errors = append(sum.Errors, ClusterError{BatchID: g.BatchID, Name: g.Name, OrderCount: len(g.OrderIDs), Error: err.Error()})
			continue
		}
		metrics.BatchClusters.WithLabelValues("created").Inc()
		metrics.OrdersBatched.Add(float64(len(g.OrderIDs)))
		sum.ClustersCreated++
		sum.OrdersBatched += len(g.OrderIDs)
		sum.Batches = append(sum.Batches, g)
		s.publish(g, createdAt)
	}

	switch {
	case sum.ClustersFailed == 0:
		sum.Status = StatusOK
	case sum.ClustersCreated == 0:
		sum.Status = StatusFailed
	default:
		sum.Status = StatusPartial
	}
	metrics.BatchRuns.WithLabelValues(string(req.Mode), string(sum.Status)).Inc()
	log.Info().
		Str("status", string(sum.Status)).
		Int("k", sum.K).
		Int("created", sum.ClustersCreated).
		Int("failed", sum.ClustersFailed).
		Int("orders", sum.OrdersBatched).
		Msg("batch generation finished")
	return sum, nil
}

// commit writes one cluster, retrying transient store failures with exponential backoff.
func (s *Service) commit(ctx context.Context, b model.Batch, orderIDs []string) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = s.opts.RetryInterval
	bo.Reset()
	attempt := 0
	op := func() error {
		attempt++
		if attempt > 1 {
			metrics.CommitRetries.Inc()
		}
		err := s.store.CommitBatch(ctx, b, orderIDs)
		if err == nil {
			return nil
		}
		if permanent(err) {
			return backoff.Permanent(err)
		}
		return err
	}
	notify := func(err error, wait time.Duration) {
		s.log.Warn().Err(err).Str("batch_id", b.ID).Dur("retry_in", wait).Msg("commit batch retry")
	}
	policy := backoff.WithContext(backoff.WithMaxRetries(bo, uint64(s.opts.RetryAttempts-1)), ctx)
	return backoff.RetryNotify(op, policy, notify)
}

func permanent(err error) bool {
	return errors.Is(err, store.ErrConflict) ||
		errors.Is(err, store.ErrNotFound) ||
		errors.Is(err, store.ErrEmptyBatch) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded)
}

func (s *Service) publish(g planner.Group, createdAt time.Time) {
	if s.events == nil {
		return
	}
	s.events.Publish(events.TopicBatches, events.Event{Type: "batch.created", Data: map[string]any{
		"batch_id":     g.BatchID,
		"name":         g.Name,
		"order_ids":    g.OrderIDs,
		"centroid":     g.Centroid,
		"radius_m":     g.RadiusM,
		"total_weight": g.TotalWeight,
		"created_at":   createdAt,
	}})
}

// ListBatches returns batches created at or after since (zero means all) with their members.
func (s *Service) ListBatches(ctx context.Context, since time.Time) ([]model.BatchWithOrders, error) {
	return s.store.ListBatches(ctx, since)
}

func (s *Service) Memberships(ctx context.Context) ([]model.BatchMembership, error) {
	return s.store.ListMemberships(ctx)
}
