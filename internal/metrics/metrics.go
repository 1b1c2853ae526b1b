package metrics

import (
	"slices"
	"sync"
	"time"
)

// maxSamples bounds the latency window kept per route.
const maxSamples = 1000

// Metrics aggregates per-route proxy statistics.
type Metrics struct {
	mutex   sync.RWMutex
	routes  map[string]*routeStats
	started time.Time
}

type routeStats struct {
	backend   string
	requests  int64
	failures  int64
	latencies []time.Duration
	statuses  map[int]int64
	reachable *bool
}

type Snapshot struct {
	TotalRequests int64                   `json:"total_requests"`
	TotalFailures int64                   `json:"total_failures"`
	Uptime        time.Duration           `json:"uptime"`
	Routes        map[string]RouteMetrics `json:"routes"`
}

type RouteMetrics struct {
	Backend     string        `json:"backend"`
	Requests    int64         `json:"requests"`
	Failures    int64         `json:"failures"`
	Healthy     *bool         `json:"healthy,omitempty"`
	AvgResponse time.Duration `json:"avg_response"`
	P50Response time.Duration `json:"p50_response"`
	P95Response time.Duration `json:"p95_response"`
	P99Response time.Duration `json:"p99_response"`
	StatusCodes map[int]int64 `json:"status_codes,omitempty"`
}

func NewMetrics() *Metrics {
	return &Metrics{
		routes:  make(map[string]*routeStats),
		started: time.Now(),
	}
}

// stats returns the record for route, creating it. Callers hold the write lock.
func (m *Metrics) stats(route string) *routeStats {
	rs, ok := m.routes[route]
	if !ok {
		rs = &routeStats{statuses: make(map[int]int64)}
		m.routes[route] = rs
	}
	return rs
}

// Register records the backend a route forwards to. Empty routes are ignored.
func (m *Metrics) Register(route, backend string) {
	if route == "" || backend == "" {
		return
	}

	m.mutex.Lock()
	m.stats(route).backend = backend
	m.mutex.Unlock()
}

func (m *Metrics) RecordRequest(route string) {
	m.mutex.Lock()
	m.stats(route).requests++
	m.mutex.Unlock()
}

func (m *Metrics) RecordFailure(route string) {
	m.mutex.Lock()
	m.stats(route).failures++
	m.mutex.Unlock()
}

// RecordResponse adds a latency sample and counts the status code. Only the
// most recent maxSamples latencies are retained.
func (m *Metrics) RecordResponse(route string, took time.Duration, status int) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	rs := m.stats(route)
	if len(rs.latencies) == maxSamples {
		rs.latencies = append(rs.latencies[:0], rs.latencies[1:]...)
	}
	rs.latencies = append(rs.latencies, took)
	rs.statuses[status]++
}

func (m *Metrics) SetReachable(route string, reachable bool) {
	m.mutex.Lock()
	m.stats(route).reachable = &reachable
	m.mutex.Unlock()
}

func (m *Metrics) Snapshot() Snapshot {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	snap := Snapshot{
		Uptime: time.Since(m.started),
		Routes: make(map[string]RouteMetrics, len(m.routes)),
	}

	for route, rs := range m.routes {
		snap.TotalRequests += rs.requests
		snap.TotalFailures += rs.failures
		snap.Routes[route] = rs.view()
	}

	return snap
}

func (rs *routeStats) view() RouteMetrics {
	rm := RouteMetrics{
		Backend:  rs.backend,
		Requests: rs.requests,
		Failures: rs.failures,
	}

	if rs.reachable != nil {
		v := *rs.reachable
		rm.Healthy = &v
	}

	if len(rs.statuses) > 0 {
		rm.StatusCodes = make(map[int]int64, len(rs.statuses))
		for code, n := range rs.statuses {
			rm.StatusCodes[code] = n
		}
	}

	if len(rs.latencies) > 0 {
		sorted := slices.Clone(rs.latencies)
		slices.Sort(sorted)

		var sum time.Duration
		for _, d := range sorted {
			sum += d
		}
		rm.AvgResponse = sum / time.Duration(len(sorted))
		rm.P50Response = percentile(sorted, 0.50)
		rm.P95Response = percentile(sorted, 0.95)
		rm.P99Response = percentile(sorted, 0.99)
	}

	return rm
}

// percentile picks the nearest-rank sample from an ascending slice.
func percentile(sorted []time.Duration, p float64) time.Duration {
	i := min(int(float64(len(sorted))*p), len(sorted)-1)
	return sorted[i]
}
