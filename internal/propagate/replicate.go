package propagate

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"

	"github.com/dreamware/thingdir/internal/cluster"
	"github.com/dreamware/thingdir/internal/thing"
)

// Replicator copies records to ancestors ("push-up") and removes the copies.
type Replicator struct {
	deps Deps
}

// NewReplicator creates a replicator.
func NewReplicator(deps Deps) *Replicator {
	return &Replicator{deps: deps}
}

// PushUp registers a copy of rec at the parent with publicity-1. The
// parent's register handler applies the same rule, so the record climbs
// publicity levels. No-op when publicity is 0 or there is no parent.
func (r *Replicator) PushUp(ctx context.Context, rec thing.Record, publicity int) error {
	if publicity <= 0 {
		return nil
	}
	parent, ok := r.deps.Topology.Parent()
	if !ok {
		return nil
	}
	td, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode record %s: %w", rec.ID, err)
	}
	body := cluster.RegisterRequest{TD: td, Location: parent.Name, Publicity: publicity - 1}
	err = r.deps.Client.PostJSON(ctx, cluster.JoinURL(parent.URL, cluster.PathRegister), body, nil)
	r.report(ctx, "push_up", parent, rec.ID, err)
	if err != nil {
		return fmt.Errorf("push up %s to %s: %w", rec.ID, parent.Name, err)
	}
	return nil
}

// DeleteUp deletes the parent's copy of a record. The parent recurses if its
// copy was itself pushed further up.
func (r *Replicator) DeleteUp(ctx context.Context, id string) error {
	parent, ok := r.deps.Topology.Parent()
	if !ok {
		return nil
	}
	q := url.Values{}
	q.Set("location", parent.Name)
	q.Set("thing_id", id)
	err := r.deps.Client.Delete(ctx, cluster.JoinURL(parent.URL, cluster.PathDelete)+"?"+q.Encode())
	r.report(ctx, "delete_up", parent, id, err)
	if err != nil {
		return fmt.Errorf("delete up %s at %s: %w", id, parent.Name, err)
	}
	return nil
}

func (r *Replicator) report(ctx context.Context, kind string, parent cluster.Neighbor, id string, err error) {
	r.deps.Metrics.RecordPropagation(kind, err)
	if err != nil {
		r.deps.logger().Warn("replication call failed",
			slog.String("kind", kind),
			slog.String("parent", parent.Name),
			slog.String("thing_id", id),
			slog.String("request_id", cluster.RequestIDFrom(ctx)),
			slog.String("error", err.Error()))
	}
}
