// Package app wires the gateway and worker processes from configuration.
package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	artifactcache "skeletoncache/internal/cache/artifact"
	"skeletoncache/internal/gateway/config"
	"skeletoncache/internal/gateway/handler"
	"skeletoncache/internal/gateway/repository/refusal"
	"skeletoncache/internal/gateway/server"
	"skeletoncache/internal/gateway/service/dispatch"
	"skeletoncache/internal/gateway/service/skeletons"
	"skeletoncache/internal/geometry"
	"skeletoncache/internal/lock"
	"skeletoncache/internal/messaging"
	"skeletoncache/internal/metrics"
	"skeletoncache/internal/segmentation"
	"skeletoncache/internal/skeleton"
)

// core is everything both processes share.
type core struct {
	cfg       *config.Config
	log       logrus.FieldLogger
	metrics   *metrics.Registry
	store     *artifactcache.CachedStore
	transport messaging.Transport
	service   *skeletons.Service
	checks    map[string]handler.Checker
	closers   []func() error
}

func newCore(ctx context.Context, cfg *config.Config, log logrus.FieldLogger) (*core, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	c := &core{cfg: cfg, log: log, metrics: metrics.New(), checks: map[string]handler.Checker{}}
	if err := c.init(ctx); err != nil {
		_ = c.close()
		return nil, err
	}
	return c, nil
}

func (c *core) init(ctx context.Context) error {
	cfg, log := c.cfg, c.log

	// Storage
	origin, closeOrigin, err := openOrigin(ctx, cfg, log)
	if err != nil {
		return err
	}
	if closeOrigin != nil {
		c.closers = append(c.closers, closeOrigin)
	}
	c.store = wrapStore(origin, cfg.Store)
	if err := c.metrics.Register(c.store.Collectors()...); err != nil {
		return fmt.Errorf("register store metrics: %w", err)
	}
	c.checks["store"] = func(ctx context.Context) error {
		_, err := origin.Exists(ctx, "healthz")
		return err
	}
	refusals := refusal.New(c.store, refusal.Options{
		CacheTTL:  cfg.Refusal.CacheTTL,
		CacheSize: cfg.Refusal.CacheSize,
	})

	// Transport
	if err := c.openTransport(ctx); err != nil {
		return err
	}

	// Build lock
	var locker lock.Locker = lock.Noop{}
	if cfg.RedisURL != "" {
		rl, err := lock.NewRedisLocker(cfg.RedisURL, cfg.BuildLockTTL)
		if err != nil {
			return fmt.Errorf("failed to initialize build lock: %w", err)
		}
		c.closers = append(c.closers, rl.Close)
		c.checks["redis"] = rl.Ping
		locker = rl
		log.Info("build lock: redis")
	}

	// Collaborators
	var validator segmentation.Validator = segmentation.LayerValidator{LayerBits: cfg.LayerBits}
	if cfg.SegmentationURL != "" {
		validator = segmentation.NewHTTPValidator(cfg.SegmentationURL, cfg.LayerBits, cfg.GeometryTimeout)
	}

	svc, err := skeletons.New(skeletons.Deps{
		Registry:   skeleton.DefaultRegistry(),
		Store:      c.store,
		Refusals:   refusals,
		Validator:  validator,
		Geometry:   geometry.NewHTTPClient(cfg.GeometryURL, cfg.GeometryTimeout),
		Dispatcher: dispatch.NewDispatcher(c.transport, c.metrics),
		Locker:     locker,
		Aliases:    cfg.Aliases,
		Metrics:    c.metrics,
		Log:        log,
	}, skeletons.Config{
		MaxSynchronous: cfg.Bulk.MaxSynchronous,
		MaxAsync:       cfg.Bulk.MaxAsync,
		NumWorkers:     cfg.Bulk.NumWorkers,
		PerJobSeconds:  cfg.Bulk.PerJobSeconds,
	})
	if err != nil {
		return err
	}
	c.service = svc
	return nil
}

func (c *core) openTransport(ctx context.Context) error {
	switch c.cfg.Transport.Backend {
	case config.TransportNATS:
		js, err := messaging.NewJetStreamTransport(ctx, messaging.JetStreamConfig{
			URL:      c.cfg.Transport.NATSURL,
			Stream:   c.cfg.Transport.Stream,
			Subjects: dispatch.Topics,
		})
		if err != nil {
			return fmt.Errorf("failed to initialize nats transport: %w", err)
		}
		c.transport = js
		c.checks["nats"] = js.Ping
		c.log.WithField("stream", c.cfg.Transport.Stream).Info("transport: nats jetstream")
	default:
		c.transport = messaging.NewMemoryTransport()
		c.log.Warn("transport: in-memory, jobs stay inside this process")
	}
	c.closers = append(c.closers, c.transport.Close)
	return nil
}

func (c *core) close() error {
	var errs []error
	for i := len(c.closers) - 1; i >= 0; i-- {
		if err := c.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	c.closers = nil
	return errors.Join(errs...)
}

// ---------------------------------------------------------------------------
// Gateway
// ---------------------------------------------------------------------------

type Gateway struct {
	core   *core
	server *server.Server
	// consumer runs when the transport is in-memory, so jobs submitted by
	// this process are still processed.
	consumer messaging.Subscription
}

func NewGateway(ctx context.Context, cfg *config.Config, log logrus.FieldLogger) (*Gateway, error) {
	c, err := newCore(ctx, cfg, log)
	if err != nil {
		return nil, fmt.Errorf("failed to build gateway: %w", err)
	}
	g := &Gateway{core: c}

	// Routing & Server
	mux := server.NewMux(
		handler.NewSkeletonHandler(c.service),
		handler.NewHealthHandler(c.checks),
		c.metrics.Handler(),
		log,
	)
	g.server = server.New(cfg.Port, mux, log)

	if cfg.Transport.Backend == config.TransportMemory {
		g.consumer, err = startWorker(ctx, c)
		if err != nil {
			_ = c.close()
			return nil, err
		}
	}
	return g, nil
}

func (g *Gateway) Start() error {
	return g.server.Start()
}

func (g *Gateway) Shutdown(ctx context.Context) error {
	err := g.server.Shutdown(ctx)
	if g.consumer != nil {
		g.consumer.Stop()
	}
	return errors.Join(err, g.core.close())
}

// ---------------------------------------------------------------------------
// Worker
// ---------------------------------------------------------------------------

type Worker struct {
	core *core
}

func NewWorker(ctx context.Context, cfg *config.Config, log logrus.FieldLogger) (*Worker, error) {
	c, err := newCore(ctx, cfg, log)
	if err != nil {
		return nil, fmt.Errorf("failed to build worker: %w", err)
	}
	return &Worker{core: c}, nil
}

// Run consumes jobs until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	sub, err := startWorker(ctx, w.core)
	if err != nil {
		return err
	}
	<-ctx.Done()
	sub.Stop()
	return w.core.close()
}

func startWorker(ctx context.Context, c *core) (messaging.Subscription, error) {
	sub, err := dispatch.StartConsumer(ctx, c.transport, dispatch.Handlers{
		Ensure: c.service.Ensure,
		Refuse: c.service.Refuse,
	}, dispatch.ConsumerOptions{
		Workers: c.cfg.Bulk.NumWorkers,
		Log:     c.log,
		Metrics: c.metrics,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to start consumer: %w", err)
	}
	c.log.WithField("workers", c.cfg.Bulk.NumWorkers).Info("consuming skeleton jobs")
	return sub, nil
}
