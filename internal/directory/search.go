package directory

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"

	"github.com/dreamware/thingdir/internal/cluster"
	"github.com/dreamware/thingdir/internal/fanout"
	"github.com/dreamware/thingdir/internal/storage"
	"github.com/dreamware/thingdir/internal/thing"
)

// SearchRequest selects records. Empty fields don't constrain; an empty
// location means this node.
type SearchRequest struct {
	Location  string `form:"location"`
	Type      string `form:"thing_type"`
	ID        string `form:"thing_id"`
	Iterative bool   `form:"iterative"`
}

func (r SearchRequest) query() url.Values {
	q := url.Values{}
	if r.Location != "" {
		q.Set("location", r.Location)
	}
	if r.Type != "" {
		q.Set("thing_type", r.Type)
	}
	if r.ID != "" {
		q.Set("thing_id", r.ID)
	}
	return q
}

// SearchResult holds either the matching records or, for an iterative
// search that must continue elsewhere, the URL of the next hop.
type SearchResult struct {
	Records  []json.RawMessage
	Redirect string
}

// Search returns the records matching req from the target node and its
// subtree. Local records come first, then children's in index order; the
// first record seen for an id wins and the id filter is applied last.
func (s *Service) Search(ctx context.Context, req SearchRequest) (SearchResult, error) {
	const op = "search"
	req.Location = strings.TrimSpace(req.Location)
	req.Type = strings.TrimSpace(req.Type)
	req.ID = strings.TrimSpace(req.ID)
	if req.Location == "" {
		req.Location = s.topo.Self()
	}

	r, err := s.route(ctx, op, req.Location)
	if err != nil {
		return SearchResult{}, s.fail(op, err)
	}
	if r.Kind == cluster.RouteRemote {
		q := req.query()
		if req.Iterative {
			q.Set("iterative", "true")
			return SearchResult{Redirect: r.URL(cluster.PathSearch) + "?" + q.Encode()}, nil
		}
		var records []json.RawMessage
		if err := s.client.GetJSON(ctx, r.URL(cluster.PathSearch)+"?"+q.Encode(), &records); err != nil {
			return SearchResult{}, s.fail(op, fmt.Errorf("%w: search at %s: %v", ErrRemoteCall, req.Location, err))
		}
		return SearchResult{Records: nonNil(records)}, nil
	}

	records, err := s.searchLocal(ctx, req)
	if err != nil {
		return SearchResult{}, s.fail(op, err)
	}
	return SearchResult{Records: records}, nil
}

func (s *Service) searchLocal(ctx context.Context, req SearchRequest) ([]json.RawMessage, error) {
	entries, err := s.part.Query(storage.Filter{Type: req.Type})
	if err != nil {
		return nil, fmt.Errorf("%w: query: %v", ErrStorage, err)
	}
	all := make([]json.RawMessage, 0, len(entries))
	for _, e := range entries {
		raw, err := json.Marshal(e.Record)
		if err != nil {
			return nil, fmt.Errorf("%w: encode %q: %v", ErrStorage, e.Record.ID, err)
		}
		all = append(all, raw)
	}

	children := s.fanout.Collect(ctx, fanout.Request{
		Type:     req.Type,
		Endpoint: cluster.PathSearch,
		Query:    req.query(),
	})
	all = append(all, children...)

	return dedup(all, req.ID), nil
}

// dedup keeps the first record per id, then applies the id filter.
func dedup(records []json.RawMessage, idFilter string) []json.RawMessage {
	seen := make(map[string]bool, len(records))
	out := make([]json.RawMessage, 0, len(records))
	for _, raw := range records {
		id, ok := thing.PeekID(raw)
		if !ok || seen[id] {
			continue
		}
		seen[id] = true
		if idFilter == "" || id == idFilter {
			out = append(out, raw)
		}
	}
	return out
}

func nonNil(records []json.RawMessage) []json.RawMessage {
	if records == nil {
		return []json.RawMessage{}
	}
	return records
}
