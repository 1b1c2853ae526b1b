// Package metrics collects proxy traffic metrics for the dev server.
//
// It uses a channel-based event pipeline to asynchronously collect, per proxy
// route:
//   - Forwarded request counts
//   - Upstream failures (unreachable backend, failed upgrade)
//   - Response times with percentile calculations (P50, P95, P99)
//   - HTTP status code distribution
//   - Backend reachability as reported by health probes
//
// The collector runs in a dedicated goroutine. Emit never blocks the request
// path: when the buffer is full the event is dropped.
//
// Example usage:
//
//	collector := metrics.NewCollector(1000, logger)
//	collector.Start(ctx)
//
//	collector.Emit(metrics.MetricEvent{
//		Type:       metrics.EventResponseCompleted,
//		Route:      "/api",
//		Backend:    "http://localhost:9000/api",
//		Duration:   150 * time.Millisecond,
//		StatusCode: 200,
//	})
//
//	snapshot := collector.Snapshot()
package metrics
