// Package directory implements the operations of a directory node.
//
// Every operation takes a target location and follows one of three paths:
// execute locally, forward to the next hop chosen by the router, or (for
// search and custom queries) execute locally and fan out to the child
// subtrees the aggregation index lists.
//
// Multi-step operations are not transactional. Register stores the record
// before pushing it up, delete removes it before retracting replicas and
// index entries, and relocate deletes the local record even when the
// remote register failed. Each step's failure is reported (or logged) as it
// happens; earlier steps are never rolled back.
package directory

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/dreamware/thingdir/internal/aggregate"
	"github.com/dreamware/thingdir/internal/cluster"
	"github.com/dreamware/thingdir/internal/fanout"
	"github.com/dreamware/thingdir/internal/metrics"
	"github.com/dreamware/thingdir/internal/partition"
	"github.com/dreamware/thingdir/internal/propagate"
)

// DefaultMaxHops bounds how far a request may be forwarded.
const DefaultMaxHops = 16

// Deps wires a Service. Logger, Metrics and MaxHops are optional.
type Deps struct {
	Partition  *partition.Partition
	Router     *cluster.Router
	Index      *aggregate.Index
	Fanout     *fanout.Aggregator
	Indexer    *propagate.IndexPropagator
	Replicator *propagate.Replicator
	Client     *cluster.Client
	Logger     *slog.Logger
	Metrics    *metrics.Metrics
	MaxHops    int
}

// Service executes directory operations for one node.
type Service struct {
	part       *partition.Partition
	router     *cluster.Router
	topo       *cluster.Topology
	index      *aggregate.Index
	fanout     *fanout.Aggregator
	indexer    *propagate.IndexPropagator
	replicator *propagate.Replicator
	client     *cluster.Client
	logger     *slog.Logger
	metrics    *metrics.Metrics
	maxHops    int
}

// New creates a Service.
func New(d Deps) *Service {
	logger := d.Logger
	if logger == nil {
		logger = slog.Default()
	}
	maxHops := d.MaxHops
	if maxHops <= 0 {
		maxHops = DefaultMaxHops
	}
	return &Service{
		part:       d.Partition,
		router:     d.Router,
		topo:       d.Router.Topology(),
		index:      d.Index,
		fanout:     d.Fanout,
		indexer:    d.Indexer,
		replicator: d.Replicator,
		client:     d.Client,
		logger:     logger,
		metrics:    d.Metrics,
		maxHops:    maxHops,
	}
}

// Name returns this node's location name.
func (s *Service) Name() string { return s.topo.Self() }

// MaxHops returns the forwarding limit.
func (s *Service) MaxHops() int { return s.maxHops }

// route resolves target and refuses remote routes once the hop budget is
// spent.
func (s *Service) route(ctx context.Context, op, target string) (cluster.Route, error) {
	r := s.router.Resolve(target)
	s.metrics.RecordRoute(op, r.Kind.String())
	switch r.Kind {
	case cluster.RouteNone:
		return r, fmt.Errorf("%w: location %q is unknown", ErrRouting, target)
	case cluster.RouteRemote:
		if hops := cluster.HopsFrom(ctx); hops >= s.maxHops {
			return r, fmt.Errorf("%w: hop limit %d reached forwarding to %q", ErrRouting, s.maxHops, target)
		}
		s.logger.Debug("forwarding request",
			slog.String("op", op),
			slog.String("target", target),
			slog.String("next_hop", r.Neighbor.Name),
			slog.String("via", r.Via),
			slog.String("request_id", cluster.RequestIDFrom(ctx)))
	}
	return r, nil
}

// fail counts and returns err.
func (s *Service) fail(op string, err error) error {
	if err != nil {
		s.metrics.RecordOpError(op, Kind(err))
	}
	return err
}

// Adjacent returns this node's topology.
func (s *Service) Adjacent() cluster.Snapshot {
	return s.topo.Snapshot()
}

// Info describes the node for the info endpoint.
type Info struct {
	Name      string              `json:"name"`
	Partition partition.Info      `json:"partition"`
	Stats     partition.Stats     `json:"stats"`
	Index     map[string][]string `json:"aggregate_index"`
	MaxHops   int                 `json:"max_hops"`
}

// Info returns the node's current state.
func (s *Service) Info() Info {
	return Info{
		Name:      s.topo.Self(),
		Partition: s.part.Info(),
		Stats:     s.part.GetStats(),
		Index:     s.index.Snapshot(),
		MaxHops:   s.maxHops,
	}
}
