package metrics

import (
	"log/slog"

	prom "github.com/prometheus/client_golang/prometheus"

	"github.com/asgardahost/rpmbuilder/internal/logfields"
)

// StatusCounter reports how many recorded builds are in each status.
type StatusCounter interface {
	CountBuildsByStatus() (map[string]int, error)
}

// HistoryCollector exposes the build history store as a gauge per status.
// The store is queried on every scrape.
type HistoryCollector struct {
	store StatusCounter
	desc  *prom.Desc
}

// NewHistoryCollector creates a collector over store.
func NewHistoryCollector(store StatusCounter) *HistoryCollector {
	return &HistoryCollector{
		store: store,
		desc: prom.NewDesc(
			prom.BuildFQName(namespace, "history", "builds"),
			"Recorded builds by status",
			[]string{"status"}, nil,
		),
	}
}

func (c *HistoryCollector) Describe(ch chan<- *prom.Desc) {
	ch <- c.desc
}

func (c *HistoryCollector) Collect(ch chan<- prom.Metric) {
	counts, err := c.store.CountBuildsByStatus()
	if err != nil {
		slog.Warn("Failed to count recorded builds", logfields.Error(err))
		ch <- prom.NewInvalidMetric(c.desc, err)
		return
	}
	for status, n := range counts {
		ch <- prom.MustNewConstMetric(c.desc, prom.GaugeValue, float64(n), status)
	}
}
