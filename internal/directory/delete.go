package directory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	"github.com/dreamware/thingdir/internal/cluster"
	"github.com/dreamware/thingdir/internal/storage"
)

// Delete removes record id from location. Deleting an absent id succeeds.
// At the target node a replicated record is also deleted at the parent, and
// removing the last record of a type retracts this node from the parent's
// aggregation index. Neither follow-up can fail the call.
func (s *Service) Delete(ctx context.Context, id, location string) error {
	const op = "delete"
	id = strings.TrimSpace(id)
	location = strings.TrimSpace(location)
	if id == "" || location == "" {
		return s.fail(op, fmt.Errorf("%w: thing_id and location are required", ErrValidation))
	}

	r, err := s.route(ctx, op, location)
	if err != nil {
		return s.fail(op, err)
	}
	if r.Kind == cluster.RouteRemote {
		q := url.Values{}
		q.Set("location", location)
		q.Set("thing_id", id)
		if err := s.client.Delete(ctx, r.URL(cluster.PathDelete)+"?"+q.Encode()); err != nil {
			return s.fail(op, fmt.Errorf("%w: delete at %s: %v", ErrRemoteCall, location, err))
		}
		return nil
	}
	return s.fail(op, s.deleteLocal(ctx, id))
}

func (s *Service) deleteLocal(ctx context.Context, id string) error {
	e, existed, last, err := s.part.Delete(id)
	if err != nil {
		return fmt.Errorf("%w: delete %q: %v", ErrStorage, id, err)
	}
	if !existed {
		return nil
	}
	s.logger.Info("thing deleted",
		slog.String("thing_id", id),
		slog.String("type", e.Record.Type),
		slog.Bool("last_of_type", last),
		slog.String("request_id", cluster.RequestIDFrom(ctx)))

	bg := context.WithoutCancel(ctx)
	if e.Publicity > 0 {
		_ = s.replicator.DeleteUp(bg, id) // logged by the replicator
	}
	if last {
		_ = s.indexer.Removed(bg, e.Record.Type, s.topo.Self())
	}
	return nil
}

// Relocate moves record id from one node to another.
//
// The node named from looks the record up, registers it at to with the
// same content and publicity, and then deletes its own copy whatever the
// outcome of the register. A failed register therefore loses the record;
// the call still reports it as ErrRemoteCall.
func (s *Service) Relocate(ctx context.Context, req cluster.RelocateRequest) error {
	const op = "relocate"
	req.ThingID = strings.TrimSpace(req.ThingID)
	req.From = strings.TrimSpace(req.From)
	req.To = strings.TrimSpace(req.To)
	if req.ThingID == "" || req.From == "" || req.To == "" {
		return s.fail(op, fmt.Errorf("%w: thing_id, from and to are required", ErrValidation))
	}

	from, err := s.route(ctx, op, req.From)
	if err != nil {
		return s.fail(op, err)
	}
	if from.Kind == cluster.RouteRemote {
		if err := s.client.PostJSON(ctx, from.URL(cluster.PathRelocate), req, nil); err != nil {
			return s.fail(op, fmt.Errorf("%w: relocate at %s: %v", ErrRemoteCall, req.From, err))
		}
		return nil
	}

	e, err := s.part.Get(req.ThingID)
	if errors.Is(err, storage.ErrNotFound) {
		return s.fail(op, fmt.Errorf("%w: thing %q is not stored at %s", ErrNotFound, req.ThingID, req.From))
	}
	if err != nil {
		return s.fail(op, fmt.Errorf("%w: get %q: %v", ErrStorage, req.ThingID, err))
	}
	if req.To == req.From {
		return nil
	}

	to, err := s.route(ctx, op, req.To)
	if err != nil {
		return s.fail(op, err)
	}
	td, err := json.Marshal(e.Record)
	if err != nil {
		return s.fail(op, fmt.Errorf("%w: encode %q: %v", ErrStorage, req.ThingID, err))
	}
	body := cluster.RegisterRequest{TD: td, Location: req.To, Publicity: e.Publicity}
	registerErr := s.client.PostJSON(context.WithoutCancel(ctx), to.URL(cluster.PathRegister), body, nil)
	if registerErr != nil {
		s.logger.Warn("relocate register failed, deleting local copy anyway",
			slog.String("thing_id", req.ThingID),
			slog.String("to", req.To),
			slog.String("error", registerErr.Error()))
	}

	if err := s.deleteLocal(ctx, req.ThingID); err != nil {
		return s.fail(op, err)
	}
	if registerErr != nil {
		return s.fail(op, fmt.Errorf("%w: register at %s: %v", ErrRemoteCall, req.To, registerErr))
	}
	return nil
}
