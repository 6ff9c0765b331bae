package stats

import "github.com/prometheus/client_golang/prometheus"

const namespace = "rvkernel"

// Collector implements prometheus.Collector over a Table, the same
// describe-then-collect shape talyz-systemd_exporter's Collector
// uses for its unit/cgroup gauges.
type Collector struct {
	table *Table
	descs map[string]*prometheus.Desc
}

// NewCollector wires descs up front so Describe/Collect never race on
// map initialization.
func NewCollector(table *Table) *Collector {
	c := &Collector{table: table, descs: map[string]*prometheus.Desc{}}
	for _, f := range (Snapshot{}).Fields() {
		c.descs[f.Name] = prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", f.Name),
			"rvkernel counter: "+f.Name,
			nil, nil,
		)
	}
	return c
}

func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	for _, d := range c.descs {
		ch <- d
	}
}

func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	snap := c.table.Snapshot()
	for _, f := range snap.Fields() {
		ch <- prometheus.MustNewConstMetric(c.descs[f.Name], prometheus.GaugeValue, float64(f.Value))
	}
}
