package metrics

import (
	"fmt"
	"net/http"

	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// HTTPHandler returns an http.Handler that serves the metrics of reg.
func HTTPHandler(reg *prom.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{EnableOpenMetrics: true})
}

// WriteTextfile writes every metric of reg to path in the text exposition
// format read by the node_exporter textfile collector.
func WriteTextfile(path string, reg *prom.Registry) error {
	if err := prom.WriteToTextfile(path, reg); err != nil {
		return fmt.Errorf("failed to write metrics textfile %s: %w", path, err)
	}
	return nil
}
