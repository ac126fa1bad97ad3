// Package metrics records pipeline stage timings and build outcomes.
//
// The pipeline receives a Recorder; NoopRecorder is the default. A
// PrometheusRecorder registers its collectors on a caller supplied registry,
// which can then be served over HTTP or written to a node_exporter textfile
// once a build finishes.
package metrics
