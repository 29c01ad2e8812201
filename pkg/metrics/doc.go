/*
Package metrics exposes Prometheus metrics and component health for Burrow.

Collectors cover the action engine (executions by result, durations, policy
checks), the dispatcher (queue depth, node sub-actions), inventory gauges,
and the reconciler. The health registry backs the /health and /livez HTTP
endpoints served next to /metrics.
*/
package metrics
