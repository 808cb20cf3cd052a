package metrics_test

import (
	"context"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
	"github.com/tarantool/go-slotcache"
	"github.com/tarantool/go-slotcache/metrics"
	"github.com/tarantool/go-slotcache/test_helpers"
)

type fakeSource struct {
	nodes, slots int
	stats        slotcache.Stats
}

func (s fakeSource) NodesCount() int        { return s.nodes }
func (s fakeSource) SlotsCount() int        { return s.slots }
func (s fakeSource) Stats() slotcache.Stats { return s.stats }

func TestCollector_Describe(t *testing.T) {
	collector := metrics.NewCollector(fakeSource{}, "app", nil)

	require.Equal(t, 6, testutil.CollectAndCount(collector))

	registry := prometheus.NewPedanticRegistry()
	require.Nil(t, registry.Register(collector))
}

func TestCollector_Collect(t *testing.T) {
	source := fakeSource{
		nodes: 3,
		slots: slotcache.SlotCount,
		stats: slotcache.Stats{Discoveries: 1, Renewals: 4, RenewalsFailed: 1, RenewalsSkipped: 7},
	}
	collector := metrics.NewCollector(source, "app", prometheus.Labels{"cluster": "main"})

	expected := `
# HELP app_slotcache_nodes Number of cluster nodes with a registered pool.
# TYPE app_slotcache_nodes gauge
app_slotcache_nodes{cluster="main"} 3
# HELP app_slotcache_renewals_skipped_total Renewals dropped because another one was running.
# TYPE app_slotcache_renewals_skipped_total counter
app_slotcache_renewals_skipped_total{cluster="main"} 7
`
	err := testutil.CollectAndCompare(collector, strings.NewReader(expected),
		"app_slotcache_nodes", "app_slotcache_renewals_skipped_total")
	require.Nil(t, err)
}

func TestCollector_Cache(t *testing.T) {
	cluster := test_helpers.NewFakeCluster("127.0.0.1:7000", "127.0.0.1:7001")
	cluster.SetTopology(test_helpers.SplitSlots("127.0.0.1:7000", "127.0.0.1:7001"))

	cache, err := slotcache.New(slotcache.Opts{NewPool: cluster.PoolFactory()})
	require.Nil(t, err)
	defer cache.Close()

	seed, err := cluster.Dial(context.Background(), "127.0.0.1:7000", cache.ConnOpts())
	require.Nil(t, err)
	require.Nil(t, cache.Discover(context.Background(), seed))

	collector := metrics.NewCollector(cache, "", nil)

	expected := `
# HELP slotcache_slots Number of hash slots with a known master.
# TYPE slotcache_slots gauge
slotcache_slots 16384
# HELP slotcache_discoveries_total Completed full topology discoveries.
# TYPE slotcache_discoveries_total counter
slotcache_discoveries_total 1
`
	err = testutil.CollectAndCompare(collector, strings.NewReader(expected),
		"slotcache_slots", "slotcache_discoveries_total")
	require.Nil(t, err)
}
