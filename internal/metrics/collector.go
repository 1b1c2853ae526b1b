package metrics

import (
	"context"
	"log/slog"
	"time"
)

type EventType string

const (
	EventRequestForwarded  EventType = "request_forwarded"
	EventResponseCompleted EventType = "response_completed"
	EventUpstreamFailed    EventType = "upstream_failed"
	EventHealthChanged     EventType = "health_changed"
)

type MetricEvent struct {
	Type       EventType
	Timestamp  time.Time
	Route      string
	Backend    string
	Duration   time.Duration
	StatusCode int
	Healthy    bool
}

type Collector struct {
	eventCh chan MetricEvent
	metrics *Metrics
	logger  *slog.Logger
}

func NewCollector(bufferSize int, logger *slog.Logger) *Collector {
	return &Collector{
		eventCh: make(chan MetricEvent, bufferSize),
		metrics: NewMetrics(),
		logger:  logger,
	}
}

// Emit queues an event without blocking. A nil collector ignores events.
func (c *Collector) Emit(event MetricEvent) {
	if c == nil {
		return
	}

	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	select {
	case c.eventCh <- event:
	default:
	}
}

// Start consumes events until ctx is cancelled. Events already queued at
// cancellation are still applied.
func (c *Collector) Start(ctx context.Context) {
	go func() {
		c.logger.Debug("Metrics collector started")
		defer c.logger.Debug("Metrics collector stopped")

		for {
			select {
			case event := <-c.eventCh:
				c.apply(event)
			case <-ctx.Done():
				for len(c.eventCh) > 0 {
					c.apply(<-c.eventCh)
				}
				return
			}
		}
	}()
}

func (c *Collector) apply(event MetricEvent) {
	c.metrics.Register(event.Route, event.Backend)

	switch event.Type {
	case EventRequestForwarded:
		c.metrics.RecordRequest(event.Route)
	case EventResponseCompleted:
		c.metrics.RecordResponse(event.Route, event.Duration, event.StatusCode)
	case EventUpstreamFailed:
		c.metrics.RecordFailure(event.Route)
	case EventHealthChanged:
		c.metrics.SetReachable(event.Route, event.Healthy)
	}
}

func (c *Collector) Snapshot() Snapshot {
	return c.metrics.Snapshot()
}
