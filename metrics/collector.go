// Package metrics exports slotcache.Cache state to Prometheus.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/tarantool/go-slotcache"
)

// Source is what the collector reads. *slotcache.Cache implements it.
type Source interface {
	NodesCount() int
	SlotsCount() int
	Stats() slotcache.Stats
}

// Collector is a prometheus.Collector reading a cache on every scrape.
type Collector struct {
	source Source

	nodes           *prometheus.Desc
	slots           *prometheus.Desc
	discoveries     *prometheus.Desc
	renewals        *prometheus.Desc
	renewalsFailed  *prometheus.Desc
	renewalsSkipped *prometheus.Desc
}

// NewCollector creates a collector for source. Metric names are prefixed
// with namespace, and constLabels are attached to all of them.
func NewCollector(source Source, namespace string, constLabels prometheus.Labels) *Collector {
	desc := func(name, help string) *prometheus.Desc {
		return prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "slotcache", name), help, nil, constLabels)
	}

	return &Collector{
		source:          source,
		nodes:           desc("nodes", "Number of cluster nodes with a registered pool."),
		slots:           desc("slots", "Number of hash slots with a known master."),
		discoveries:     desc("discoveries_total", "Completed full topology discoveries."),
		renewals:        desc("renewals_total", "Slot table renewals started."),
		renewalsFailed:  desc("renewals_failed_total", "Renewals in which no node answered."),
		renewalsSkipped: desc("renewals_skipped_total", "Renewals dropped because another one was running."),
	}
}

func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.nodes
	ch <- c.slots
	ch <- c.discoveries
	ch <- c.renewals
	ch <- c.renewalsFailed
	ch <- c.renewalsSkipped
}

func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	stats := c.source.Stats()

	ch <- prometheus.MustNewConstMetric(c.nodes, prometheus.GaugeValue, float64(c.source.NodesCount()))
	ch <- prometheus.MustNewConstMetric(c.slots, prometheus.GaugeValue, float64(c.source.SlotsCount()))
	ch <- prometheus.MustNewConstMetric(c.discoveries, prometheus.CounterValue, float64(stats.Discoveries))
	ch <- prometheus.MustNewConstMetric(c.renewals, prometheus.CounterValue, float64(stats.Renewals))
	ch <- prometheus.MustNewConstMetric(c.renewalsFailed, prometheus.CounterValue, float64(stats.RenewalsFailed))
	ch <- prometheus.MustNewConstMetric(c.renewalsSkipped, prometheus.CounterValue, float64(stats.RenewalsSkipped))
}
