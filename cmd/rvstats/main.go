// Command rvstats is the host-side scraper for rvkernel's counter
// table: it re-reads the pprof profile cmd/rvkernel dumps on halt
// (-statsfile) and serves the same counters as Prometheus gauges,
// polling the file on an interval so a dashboard can watch a kernel
// that re-dumps periodically. Grounded on talyz-systemd_exporter's
// Collector pattern for the Prometheus side and the teacher's own
// pprof dependency for the profile format.
package main

import (
	"flag"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/google/pprof/profile"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"

	"github.com/jklincn/rvkernel/internal/stats"
)

func main() {
	statsFile := flag.String("statsfile", "", "path to the pprof profile cmd/rvkernel dumps")
	listen := flag.String("listen", ":9401", "address to serve /metrics on")
	interval := flag.Duration("interval", 2*time.Second, "poll interval for -statsfile")
	flag.Parse()

	if *statsFile == "" {
		fmt.Fprintln(os.Stderr, "rvstats: -statsfile is required")
		os.Exit(1)
	}

	collector := newFileCollector(*statsFile, *interval)
	prometheus.MustRegister(collector)

	http.Handle("/metrics", promhttp.Handler())
	log.WithFields(log.Fields{"listen": *listen, "statsfile": *statsFile}).Info("rvstats serving /metrics")
	if err := http.ListenAndServe(*listen, nil); err != nil {
		log.WithError(err).Fatal("rvstats: server exited")
	}
}

// fileCollector re-reads path at most once per interval and exposes
// whatever name->value pairs the last successful read produced. A
// missing or unreadable file just means the kernel hasn't dumped yet;
// Collect reports nothing rather than erroring.
type fileCollector struct {
	path     string
	interval time.Duration
	last     time.Time
	values   map[string]int64
	desc     *prometheus.Desc
}

func newFileCollector(path string, interval time.Duration) *fileCollector {
	return &fileCollector{
		path:     path,
		interval: interval,
		desc:     prometheus.NewDesc("rvkernel_counter", "rvkernel counter, scraped from a dumped pprof profile", []string{"name"}, nil),
	}
}

func (c *fileCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.desc
}

func (c *fileCollector) Collect(ch chan<- prometheus.Metric) {
	c.refresh()
	for name, v := range c.values {
		ch <- prometheus.MustNewConstMetric(c.desc, prometheus.GaugeValue, float64(v), name)
	}
}

func (c *fileCollector) refresh() {
	if time.Since(c.last) < c.interval {
		return
	}
	c.last = time.Now()

	f, err := os.Open(c.path)
	if err != nil {
		log.WithError(err).Debug("rvstats: statsfile not yet available")
		return
	}
	defer f.Close()

	p, err := profile.Parse(f)
	if err != nil {
		log.WithError(err).Warn("rvstats: parsing statsfile")
		return
	}
	c.values = stats.FromProfile(p)
}
