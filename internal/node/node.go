// Package node assembles a directory node from its configuration: store,
// partition, aggregation index, propagators, fan-out, service, neighbor
// monitor and HTTP server.
package node

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/dreamware/thingdir/internal/aggregate"
	"github.com/dreamware/thingdir/internal/api"
	"github.com/dreamware/thingdir/internal/cluster"
	"github.com/dreamware/thingdir/internal/config"
	"github.com/dreamware/thingdir/internal/directory"
	"github.com/dreamware/thingdir/internal/fanout"
	"github.com/dreamware/thingdir/internal/metrics"
	"github.com/dreamware/thingdir/internal/monitor"
	"github.com/dreamware/thingdir/internal/partition"
	"github.com/dreamware/thingdir/internal/propagate"
	"github.com/dreamware/thingdir/internal/storage"
)

const shutdownTimeout = 5 * time.Second

// Node is a fully wired directory node.
type Node struct {
	Config    config.Config
	Partition *partition.Partition
	Index     *aggregate.Index
	Service   *directory.Service
	Monitor   *monitor.Monitor // nil when monitoring is disabled
	Server    *api.Server
	Registry  *prometheus.Registry
}

// Build wires a node. The caller owns the result and must Close it.
func Build(cfg config.Config, logger *slog.Logger) (*Node, error) {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With(slog.String("node", cfg.Name))

	topo, err := cfg.Topology()
	if err != nil {
		return nil, err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	met := metrics.New(reg)

	store, err := openStore(cfg.Store, logger)
	if err != nil {
		return nil, err
	}
	part := partition.New(cfg.Name, store)

	backend, _ := store.(storage.IndexBackend)
	index, err := aggregate.New(aggregate.Options{Backend: backend, Logger: logger, Metrics: met})
	if err != nil {
		part.Close()
		return nil, fmt.Errorf("load aggregation index: %w", err)
	}

	client := cluster.NewClient(cfg.Transport.Timeout)
	deps := propagate.Deps{Topology: topo, Client: client, Logger: logger, Metrics: met}
	svc := directory.New(directory.Deps{
		Partition: part,
		Router:    cluster.NewRouter(topo),
		Index:     index,
		Fanout: fanout.New(fanout.Config{
			Topology:    topo,
			Index:       index,
			Client:      client,
			Logger:      logger,
			Metrics:     met,
			Concurrency: cfg.Fanout.Concurrency,
			Timeout:     cfg.Fanout.Timeout,
		}),
		Indexer:    propagate.NewIndexPropagator(deps),
		Replicator: propagate.NewReplicator(deps),
		Client:     client,
		Logger:     logger,
		Metrics:    met,
		MaxHops:    cfg.Routing.MaxHops,
	})

	var mon *monitor.Monitor
	if cfg.Monitor.Enabled && len(topo.Neighbors()) > 0 {
		mon = monitor.New(monitor.Config{
			Topology:    topo,
			Interval:    cfg.Monitor.Interval,
			MaxFailures: cfg.Monitor.MaxFailures,
			Logger:      logger,
			Metrics:     met,
		})
		mon.OnUnhealthy(func(n cluster.Neighbor) {
			if n.Role == cluster.RoleParent {
				logger.Warn("parent unreachable, push-up and index updates will fail until it recovers",
					slog.String("parent", n.Name))
			}
		})
	}

	srv := api.New(api.Config{
		Service:   svc,
		Monitor:   mon,
		Prefix:    cfg.APIPrefix,
		RateLimit: cfg.RateLimit.RPS,
		RateBurst: cfg.RateLimit.Burst,
		Logger:    logger,
		Metrics:   met,
		Gatherer:  reg,
	})

	return &Node{
		Config:    cfg,
		Partition: part,
		Index:     index,
		Service:   svc,
		Monitor:   mon,
		Server:    srv,
		Registry:  reg,
	}, nil
}

func openStore(cfg config.StoreConfig, logger *slog.Logger) (storage.Store, error) {
	switch cfg.Backend {
	case config.BackendBadger:
		bc := storage.DefaultBadgerConfig(cfg.Path)
		bc.SyncWrites = cfg.SyncWrites
		if cfg.GCInterval > 0 {
			bc.GCInterval = cfg.GCInterval
		}
		bc.Logger = logger
		s, err := storage.OpenBadger(bc)
		if err != nil {
			return nil, fmt.Errorf("open badger store at %s: %w", cfg.Path, err)
		}
		return s, nil
	case "", config.BackendMemory:
		return storage.NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.Backend)
	}
}

// Run starts the neighbor monitor and serves until ctx is done, then shuts
// the server down gracefully.
func (n *Node) Run(ctx context.Context) error {
	if n.Monitor != nil {
		n.Monitor.Start(ctx)
		defer n.Monitor.Stop()
	}

	errc := make(chan error, 1)
	go func() { errc <- n.Server.ListenAndServe(n.Config.Listen) }()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := n.Server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return <-errc
}

// Close releases the store.
func (n *Node) Close() error {
	return n.Partition.Close()
}
