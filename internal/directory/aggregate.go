package directory

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/dreamware/thingdir/internal/cluster"
)

// UpdateAggregate adds (add=true) or removes location from the aggregation
// index entry of a type. When the entry changes the same update is sent to
// the parent, so every ancestor learns which descendant holds the type.
// Repeating an update is a no-op and isn't propagated.
func (s *Service) UpdateAggregate(ctx context.Context, u cluster.AggregateUpdate, add bool) error {
	const op = "update_aggregate"
	u.ThingType = strings.TrimSpace(u.ThingType)
	u.Location = strings.TrimSpace(u.Location)
	if u.ThingType == "" || u.Location == "" {
		return s.fail(op, fmt.Errorf("%w: thing_type and location are required", ErrValidation))
	}

	var changed bool
	if add {
		changed = s.index.Add(u.ThingType, u.Location)
	} else {
		changed = s.index.Remove(u.ThingType, u.Location)
	}
	s.logger.Debug("aggregation index update",
		slog.String("type", u.ThingType),
		slog.String("location", u.Location),
		slog.Bool("add", add),
		slog.Bool("changed", changed))
	if !changed {
		return nil
	}

	bg := context.WithoutCancel(ctx)
	if add {
		_ = s.indexer.Added(bg, u.ThingType, u.Location)
	} else {
		_ = s.indexer.Removed(bg, u.ThingType, u.Location)
	}
	return nil
}
