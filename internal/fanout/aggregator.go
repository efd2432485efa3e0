// Package fanout sends one request to every child subtree that may hold
// matching records and concatenates the answers.
package fanout

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/url"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/dreamware/thingdir/internal/aggregate"
	"github.com/dreamware/thingdir/internal/cluster"
	"github.com/dreamware/thingdir/internal/metrics"
)

// Defaults used when Config leaves a field zero.
const (
	// DefaultConcurrency bounds parallel child calls.
	DefaultConcurrency = 8
	// DefaultTimeout bounds one whole fan-out round.
	DefaultTimeout = 30 * time.Second
)

// Aggregator fans a request out to the children listed in the aggregation
// index.
type Aggregator struct {
	topo        *cluster.Topology
	index       *aggregate.Index
	client      *cluster.Client
	logger      *slog.Logger
	metrics     *metrics.Metrics
	concurrency int
	timeout     time.Duration
	group       singleflight.Group
}

// Config wires an Aggregator.
type Config struct {
	Topology    *cluster.Topology
	Index       *aggregate.Index
	Client      *cluster.Client
	Logger      *slog.Logger
	Metrics     *metrics.Metrics
	Concurrency int
	Timeout     time.Duration
}

// New creates an aggregator.
func New(cfg Config) *Aggregator {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	n := cfg.Concurrency
	if n <= 0 {
		n = DefaultConcurrency
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Aggregator{
		topo:        cfg.Topology,
		index:       cfg.Index,
		client:      cfg.Client,
		logger:      logger,
		metrics:     cfg.Metrics,
		concurrency: n,
		timeout:     timeout,
	}
}

// Candidates returns the locations a fan-out for thingType visits, in
// visiting order. An empty type visits every indexed location.
func (a *Aggregator) Candidates(thingType string) []string {
	var locs []string
	if thingType != "" {
		locs = a.index.Locations(thingType)
	} else {
		locs = a.index.AllLocations()
	}
	out := locs[:0]
	for _, l := range locs {
		if l != a.topo.Self() {
			out = append(out, l)
		}
	}
	return out
}

// Request describes one fan-out round.
type Request struct {
	Type     string     // record type used to pick candidates; empty means all
	Endpoint string     // path joined onto each child's base URL
	Query    url.Values // copied for every candidate, never modified

	// Retarget points the copied query at one candidate location. Nil sets
	// the "location" parameter.
	Retarget func(q url.Values, location string)
}

// Collect issues GET req.Endpoint to every candidate location and returns
// the concatenated results in candidate order.
//
// "iterative" is always removed from outgoing queries. Children that fail,
// time out or answer non-2xx are skipped. Identical concurrent collections
// share one round of child calls; the round keeps ctx's values but not its
// cancellation and is bounded by the configured timeout, so a caller that
// goes away returns nil without cutting the round short for the others.
func (a *Aggregator) Collect(ctx context.Context, req Request) []json.RawMessage {
	candidates := a.Candidates(req.Type)
	if len(candidates) == 0 {
		return nil
	}
	if req.Retarget == nil {
		req.Retarget = setLocation
	}

	key := req.Endpoint + "|" + req.Type + "|" + req.Query.Encode()
	ch := a.group.DoChan(key, func() (interface{}, error) {
		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.timeout)
		defer cancel()
		return a.collect(rctx, candidates, req), nil
	})
	select {
	case res := <-ch:
		shared := res.Val.([]json.RawMessage)
		return append([]json.RawMessage(nil), shared...)
	case <-ctx.Done():
		return nil
	}
}

func setLocation(q url.Values, location string) {
	q.Set("location", location)
}

func (a *Aggregator) collect(ctx context.Context, candidates []string, req Request) []json.RawMessage {
	endpoint := req.Endpoint
	results := make([][]json.RawMessage, len(candidates))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(a.concurrency)
	for i, loc := range candidates {
		i, loc := i, loc
		base, ok := a.topo.ChildURL(loc)
		if !ok {
			a.metrics.RecordFanout(endpoint, "skipped")
			a.logger.Warn("no route to indexed location",
				slog.String("location", loc),
				slog.String("endpoint", endpoint))
			continue
		}
		g.Go(func() error {
			q := cloneValues(req.Query)
			q.Del("iterative")
			req.Retarget(q, loc)
			target := cluster.JoinURL(base, endpoint) + "?" + q.Encode()

			var raw json.RawMessage
			if err := a.client.GetJSON(gctx, target, &raw); err != nil {
				a.metrics.RecordFanout(endpoint, "error")
				a.logger.Warn("fan-out child failed",
					slog.String("location", loc),
					slog.String("endpoint", endpoint),
					slog.String("request_id", cluster.RequestIDFrom(ctx)),
					slog.String("error", err.Error()))
				return nil
			}
			items, err := normalize(raw)
			if err != nil {
				a.metrics.RecordFanout(endpoint, "error")
				a.logger.Warn("fan-out child sent malformed JSON",
					slog.String("location", loc),
					slog.String("error", err.Error()))
				return nil
			}
			a.metrics.RecordFanout(endpoint, "ok")
			results[i] = items
			return nil
		})
	}
	_ = g.Wait() // child errors are swallowed above

	var out []json.RawMessage
	for _, r := range results {
		out = append(out, r...)
	}
	return out
}

// normalize turns an array into its elements, an object into a one-element
// list and null into nothing.
func normalize(raw json.RawMessage) ([]json.RawMessage, error) {
	trimmed := bytes.TrimSpace(raw)
	switch {
	case len(trimmed) == 0, bytes.Equal(trimmed, []byte("null")):
		return nil, nil
	case trimmed[0] == '[':
		var items []json.RawMessage
		if err := json.Unmarshal(trimmed, &items); err != nil {
			return nil, err
		}
		return items, nil
	default:
		return []json.RawMessage{append(json.RawMessage(nil), trimmed...)}, nil
	}
}

func cloneValues(v url.Values) url.Values {
	out := make(url.Values, len(v))
	for k, vals := range v {
		out[k] = append([]string(nil), vals...)
	}
	return out
}
