package healthcheck

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/angeloszaimis/devserve/internal/metrics"
)

const probeTimeout = 5 * time.Second

// HealthCheck periodically sends a HEAD request to the target's backend URL.
// Any HTTP response counts as reachable; only transport errors mark the
// target down. Status changes are logged and reported to the collector,
// which may be nil.
func HealthCheck(
	ctx context.Context,
	target *Target,
	interval time.Duration,
	client *http.Client,
	logger *slog.Logger,
	collector *metrics.Collector,
) {
	if interval <= 0 {
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Debug("Health check stopped",
				slog.String("backend", target.URL().String()))
			return

		case <-ticker.C:
			healthy := probe(ctx, client, target)
			if ctx.Err() != nil {
				return
			}

			if !target.SetHealthy(healthy) {
				continue
			}

			collector.Emit(metrics.MetricEvent{
				Type:    metrics.EventHealthChanged,
				Route:   target.Route(),
				Backend: target.URL().String(),
				Healthy: healthy,
			})

			if healthy {
				logger.Info("Backend is reachable again",
					slog.String("route", target.Route()),
					slog.String("backend", target.URL().String()))
			} else {
				logger.Warn("Backend is unreachable",
					slog.String("route", target.Route()),
					slog.String("backend", target.URL().String()))
			}
		}
	}
}

func probe(ctx context.Context, client *http.Client, target *Target) bool {
	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodHead, target.URL().String(), nil)
	if err != nil {
		return false
	}

	res, err := client.Do(req)
	if err != nil {
		return false
	}
	res.Body.Close()

	return true
}
