// Package propagate sends a node's side effects to its parent: aggregation
// index updates and push-up replication of records.
//
// Every call is attempted once. Callers decide whether a failure matters;
// the propagators only log it and count it.
package propagate

import (
	"context"
	"log/slog"
	"net/url"

	"github.com/dreamware/thingdir/internal/cluster"
	"github.com/dreamware/thingdir/internal/metrics"
)

// Deps are shared by both propagators.
type Deps struct {
	Topology *cluster.Topology
	Client   *cluster.Client
	Logger   *slog.Logger
	Metrics  *metrics.Metrics
}

func (d Deps) logger() *slog.Logger {
	if d.Logger == nil {
		return slog.Default()
	}
	return d.Logger
}

// IndexPropagator tells the parent which locations hold which types.
type IndexPropagator struct {
	deps Deps
}

// NewIndexPropagator creates an index propagator.
func NewIndexPropagator(deps Deps) *IndexPropagator {
	return &IndexPropagator{deps: deps}
}

// Added notifies the parent that location now holds thingType.
// Without a parent it does nothing.
func (p *IndexPropagator) Added(ctx context.Context, thingType, location string) error {
	parent, ok := p.deps.Topology.Parent()
	if !ok {
		return nil
	}
	body := cluster.AggregateUpdate{ThingType: thingType, Location: location}
	err := p.deps.Client.PostJSON(ctx, cluster.JoinURL(parent.URL, cluster.PathUpdateAggregate), body, nil)
	p.report(ctx, "index_add", parent, thingType, location, err)
	return err
}

// Removed notifies the parent that location no longer holds thingType.
func (p *IndexPropagator) Removed(ctx context.Context, thingType, location string) error {
	parent, ok := p.deps.Topology.Parent()
	if !ok {
		return nil
	}
	q := url.Values{}
	q.Set("thing_type", thingType)
	q.Set("location", location)
	target := cluster.JoinURL(parent.URL, cluster.PathUpdateAggregate) + "?" + q.Encode()
	err := p.deps.Client.Delete(ctx, target)
	p.report(ctx, "index_remove", parent, thingType, location, err)
	return err
}

func (p *IndexPropagator) report(ctx context.Context, kind string, parent cluster.Neighbor, thingType, location string, err error) {
	p.deps.Metrics.RecordPropagation(kind, err)
	attrs := []any{
		slog.String("kind", kind),
		slog.String("parent", parent.Name),
		slog.String("type", thingType),
		slog.String("location", location),
		slog.String("request_id", cluster.RequestIDFrom(ctx)),
	}
	if err != nil {
		p.deps.logger().Warn("aggregation index update failed", append(attrs, slog.String("error", err.Error()))...)
		return
	}
	p.deps.logger().Debug("aggregation index update sent", attrs...)
}
