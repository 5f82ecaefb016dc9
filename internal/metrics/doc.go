// Package metrics exposes preload outcomes as Prometheus metrics.
//
// Each [Metrics] owns its registry, so several preloaders in one process
// (and parallel tests) never collide on metric registration.
package metrics
