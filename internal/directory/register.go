package directory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/dreamware/thingdir/internal/cluster"
	"github.com/dreamware/thingdir/internal/storage"
	"github.com/dreamware/thingdir/internal/thing"
)

// Register stores req.TD at req.Location.
//
// At the target node the record is validated and inserted. Then, in
// parallel, a copy is pushed up to the parent when publicity > 0 and, if
// this is the node's first record of its type, the parent's aggregation
// index is told. A failed push-up fails the call but leaves the record
// stored; a failed index update is only logged.
func (s *Service) Register(ctx context.Context, req cluster.RegisterRequest) error {
	const op = "register"
	req.Location = strings.TrimSpace(req.Location)
	if req.Location == "" {
		return s.fail(op, fmt.Errorf("%w: location is required", ErrValidation))
	}
	if len(req.TD) == 0 {
		return s.fail(op, fmt.Errorf("%w: td is required", ErrValidation))
	}
	if req.Publicity < 0 {
		return s.fail(op, fmt.Errorf("%w: publicity must not be negative", ErrValidation))
	}

	r, err := s.route(ctx, op, req.Location)
	if err != nil {
		return s.fail(op, err)
	}
	if r.Kind == cluster.RouteRemote {
		if err := s.client.PostJSON(ctx, r.URL(cluster.PathRegister), req, nil); err != nil {
			return s.fail(op, fmt.Errorf("%w: register at %s: %v", ErrRemoteCall, req.Location, err))
		}
		return nil
	}

	var rec thing.Record
	if err := json.Unmarshal(req.TD, &rec); err != nil {
		return s.fail(op, fmt.Errorf("%w: %v", ErrValidation, err))
	}
	if err := rec.Validate(); err != nil {
		return s.fail(op, fmt.Errorf("%w: %v", ErrValidation, err))
	}
	return s.fail(op, s.registerLocal(ctx, rec, req.Publicity))
}

func (s *Service) registerLocal(ctx context.Context, rec thing.Record, publicity int) error {
	first, err := s.part.Insert(storage.Entry{Record: rec, Publicity: publicity})
	if err != nil {
		if errors.Is(err, storage.ErrDuplicateID) {
			return fmt.Errorf("%w: thing %q already registered: %v", ErrStorage, rec.ID, err)
		}
		return fmt.Errorf("%w: insert %q: %v", ErrStorage, rec.ID, err)
	}
	s.logger.Info("thing registered",
		slog.String("thing_id", rec.ID),
		slog.String("type", rec.Type),
		slog.Int("publicity", publicity),
		slog.Bool("first_of_type", first),
		slog.String("request_id", cluster.RequestIDFrom(ctx)))

	// propagation outlives the inbound request
	bg := context.WithoutCancel(ctx)
	var g errgroup.Group
	g.Go(func() error {
		return s.replicator.PushUp(bg, rec, publicity)
	})
	if first {
		g.Go(func() error {
			_ = s.indexer.Added(bg, rec.Type, s.topo.Self()) // logged by the propagator
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return fmt.Errorf("%w: %v", ErrRemoteCall, err)
	}
	return nil
}
