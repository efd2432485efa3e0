package monitor

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dreamware/thingdir/internal/cluster"
	"github.com/dreamware/thingdir/internal/metrics"
)

func testTopology(t *testing.T, parentURL, childURL string) *cluster.Topology {
	t.Helper()
	topo, err := cluster.NewTopology("level2", []cluster.Neighbor{
		{Name: "level1", URL: parentURL, Role: cluster.RoleParent},
		{Name: "level3", URL: childURL, Role: cluster.RoleChild},
	}, nil)
	require.NoError(t, err)
	return topo
}

func TestNewMonitorDefaults(t *testing.T) {
	m := New(Config{Topology: testTopology(t, "http://a/api", "http://b/api")})

	assert.Equal(t, DefaultInterval, m.interval)
	assert.Equal(t, DefaultMaxFailures, m.maxFailures)
	assert.NotNil(t, m.check)

	snap := m.Snapshot()
	require.Len(t, snap, 2)
	assert.Equal(t, StatusUnknown, snap["level1"].Status)
	assert.Equal(t, "parent", snap["level1"].Role)
	assert.NotEqual(t, StatusHealthy, m.Snapshot()["level1"].Status)
}

func TestStatusTransitions(t *testing.T) {
	var mu sync.Mutex
	failing := map[string]bool{"level3": true}
	reg := prometheus.NewRegistry()
	met := metrics.New(reg)

	m := New(Config{
		Topology:    testTopology(t, "http://a/api", "http://b/api"),
		MaxFailures: 2,
		Metrics:     met,
		Check: func(_ context.Context, n cluster.Neighbor) error {
			mu.Lock()
			defer mu.Unlock()
			if failing[n.Name] {
				return errors.New("connection refused")
			}
			return nil
		},
	})
	unhealthy := make(chan string, 1)
	m.OnUnhealthy(func(n cluster.Neighbor) { unhealthy <- n.Name })

	ctx := context.Background()
	m.CheckAll(ctx)
	assert.Equal(t, StatusHealthy, m.Snapshot()["level1"].Status)
	assert.Equal(t, StatusUnknown, m.Snapshot()["level3"].Status, "one failure is not enough")

	m.CheckAll(ctx)
	snap := m.Snapshot()
	assert.Equal(t, StatusUnhealthy, snap["level3"].Status)
	assert.Equal(t, 2, snap["level3"].ConsecutiveFails)
	assert.Equal(t, "connection refused", snap["level3"].LastError)

	select {
	case name := <-unhealthy:
		assert.Equal(t, "level3", name)
	case <-time.After(time.Second):
		t.Fatal("unhealthy callback not called")
	}

	mu.Lock()
	failing["level3"] = false
	mu.Unlock()
	m.CheckAll(ctx)
	snap = m.Snapshot()
	assert.Equal(t, StatusHealthy, snap["level3"].Status)
	assert.Zero(t, snap["level3"].ConsecutiveFails)
	assert.Empty(t, snap["level3"].LastError)

	n, err := testutil.GatherAndCount(reg, "thingdir_monitor_neighbor_up")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestHTTPProbe(t *testing.T) {
	healthy := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/health" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer healthy.Close()
	broken := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer broken.Close()

	m := New(Config{
		Topology:    testTopology(t, healthy.URL+"/api", broken.URL+"/api"),
		MaxFailures: 1,
		Timeout:     time.Second,
	})
	m.CheckAll(context.Background())

	assert.Equal(t, StatusHealthy, m.Snapshot()["level1"].Status)
	assert.NotEqual(t, StatusHealthy, m.Snapshot()["level3"].Status)
	assert.Contains(t, m.Snapshot()["level3"].LastError, "503")
}

func TestStartStop(t *testing.T) {
	var mu sync.Mutex
	calls := 0
	m := New(Config{
		Topology: testTopology(t, "http://a/api", "http://b/api"),
		Interval: 20 * time.Millisecond,
		Check: func(context.Context, cluster.Neighbor) error {
			mu.Lock()
			calls++
			mu.Unlock()
			return nil
		},
	})
	m.Start(context.Background())
	time.Sleep(70 * time.Millisecond)
	m.Stop()

	mu.Lock()
	got := calls
	mu.Unlock()
	assert.GreaterOrEqual(t, got, 4, "initial round plus ticks for two neighbors")

	time.Sleep(40 * time.Millisecond)
	mu.Lock()
	assert.Equal(t, got, calls, "no probes after Stop")
	mu.Unlock()
}
