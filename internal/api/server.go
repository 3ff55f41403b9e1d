package api

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/rs/zerolog"

	"orderbatch/internal/batching"
	"orderbatch/internal/config"
	"orderbatch/internal/events"
	"orderbatch/internal/lock"
	"orderbatch/internal/planner"
	"orderbatch/internal/store"
	"orderbatch/internal/webhooks"
)

type Server struct {
	Store   store.Store
	Batches *batching.Service
	Broker  events.Broker

	cfg     *config.Config
	log     zerolog.Logger
	local   *events.Memory // this instance's events only
	closers []io.Closer
}

// NewServer wires the store, run lock, event broker and batching service selected by cfg.
// Without a Redis URL the lock and broker are in-process only.
func NewServer(cfg *config.Config, log zerolog.Logger) (*Server, error) {
	s := &Server{cfg: cfg, log: log}

	st, err := openStore(cfg.Store)
	if err != nil {
		return nil, fmt.Errorf("open %s store: %w", cfg.Store.Driver, err)
	}
	s.Store = st
	s.closers = append(s.closers, st)

	var locker lock.Locker = lock.NewLocal()
	s.local = events.NewMemory()
	s.Broker = s.local
	var publish events.Broker = s.local
	if cfg.Redis.URL != "" {
		rl, err := lock.NewRedisFromURL(cfg.Redis.URL)
		if err != nil {
			_ = s.Close()
			return nil, fmt.Errorf("redis lock: %w", err)
		}
		s.closers = append(s.closers, rl)
		locker = rl
		if rb, err := events.NewRedis(cfg.Redis.URL, log); err == nil {
			s.closers = append(s.closers, rb)
			s.Broker = rb
			publish = events.Tee{rb, s.local}
		} else {
			log.Warn().Err(err).Msg("redis broker unavailable, using in-process broker")
		}
	}

	ids, err := planner.NewIDGenerator(cfg.Planner.IDFormat, cfg.Planner.IDPrefix)
	if err != nil {
		_ = s.Close()
		return nil, err
	}
	p := planner.New(cfg.Planner.PlannerOptions(), ids)
	s.Batches = batching.New(s.Store, locker, p, publish, log.With().Str("component", "batching").Logger(), batching.Options{
		TargetGroupSize: cfg.Planner.TargetGroupSize,
		DefaultClusters: cfg.Planner.DefaultClusters,
		LockWait:        cfg.Batching.LockWait,
		RetryAttempts:   cfg.Batching.RetryAttempts,
		RetryInterval:   cfg.Batching.RetryInterval,
	})
	return s, nil
}

// StartWebhooks forwards batch.created events raised by this instance to the configured
// endpoints until ctx is done. It reports false when no endpoint is configured.
func (s *Server) StartWebhooks(ctx context.Context) bool {
	endpoints := webhooks.ParseEndpoints(s.cfg.Webhooks.URLs, s.cfg.Webhooks.Secret)
	if len(endpoints) == 0 {
		return false
	}
	q := webhooks.NewQueue()
	go webhooks.NewPublisher(endpoints, q).Forward(ctx, s.local, events.TopicBatches)
	webhooks.NewWorker(q, s.cfg.Webhooks.MaxAttempts, s.log.With().Str("component", "webhooks").Logger()).Start(ctx)
	return true
}

func openStore(c config.StoreConfig) (store.Store, error) {
	switch c.Driver {
	case config.DriverPostgres:
		return store.NewPostgres(c.DSN)
	case config.DriverSQLite:
		return store.NewSQLite(c.SQLitePath)
	default:
		return store.NewMemory(), nil
	}
}

// Close releases the store and Redis clients.
func (s *Server) Close() error {
	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		errs = append(errs, s.closers[i].Close())
	}
	s.closers = nil
	return errors.Join(errs...)
}
