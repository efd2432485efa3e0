package directory

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"

	"github.com/dreamware/thingdir/internal/cluster"
	"github.com/dreamware/thingdir/internal/fanout"
	"github.com/dreamware/thingdir/internal/query"
)

// CustomQuery runs an aggregation script at its target location.
//
// The target node evaluates the script over its own records and those of
// every indexed child subtree. Children are asked with "_sub_dir" set and
// answer with (id, value) pairs; the target merges them after its own,
// keeps the first pair per id and reduces. A node that is itself a subquery
// hop returns the merged pairs unreduced.
//
// The result is a query.Result, a []query.Pair, or the raw answer of the
// node the script was forwarded to.
func (s *Service) CustomQuery(ctx context.Context, script query.Script) (any, error) {
	const op = "custom_query"
	script, err := s.validScript(script)
	if err != nil {
		return nil, s.fail(op, err)
	}
	location := script.Location
	if location == "" {
		location = s.topo.Self()
	}

	r, err := s.route(ctx, op, location)
	if err != nil {
		return nil, s.fail(op, err)
	}
	if r.Kind == cluster.RouteRemote {
		var raw json.RawMessage
		target := r.URL(cluster.PathCustomQuery) + "?data=" + url.QueryEscape(script.Encode())
		if err := s.client.GetJSON(ctx, target, &raw); err != nil {
			return nil, s.fail(op, fmt.Errorf("%w: custom query at %s: %v", ErrRemoteCall, location, err))
		}
		return raw, nil
	}

	pairs, err := s.queryLocal(ctx, script)
	if err != nil {
		return nil, s.fail(op, err)
	}
	if script.SubDir {
		return pairs, nil
	}
	return query.Reduce(script.Operation, pairs), nil
}

// validScript re-checks scripts built in code rather than parsed.
func (s *Service) validScript(script query.Script) (query.Script, error) {
	parsed, err := query.Parse(script.Encode())
	if err != nil {
		return query.Script{}, fmt.Errorf("%w: %v", ErrValidation, err)
	}
	return parsed, nil
}

func (s *Service) queryLocal(ctx context.Context, script query.Script) ([]query.Pair, error) {
	filter, err := script.StoreFilter()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}
	entries, err := s.part.Query(filter)
	if err != nil {
		return nil, fmt.Errorf("%w: query: %v", ErrStorage, err)
	}
	localIDs := make([]string, len(entries))
	for i, e := range entries {
		localIDs[i] = e.Record.ID
	}
	local := query.Extract(script, entries)

	sub := script
	sub.SubDir = true
	sub.Location = ""
	items := s.fanout.Collect(ctx, fanout.Request{
		Type:     script.Type,
		Endpoint: cluster.PathCustomQuery,
		Query:    url.Values{"data": {sub.Encode()}},
		Retarget: func(q url.Values, location string) {
			hop := sub
			hop.Location = location
			q.Set("data", hop.Encode())
		},
	})
	children := query.DecodePairs(script.Operation, items)

	return query.Merge(localIDs, local, children), nil
}
