package serve

import (
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/angeloszaimis/devserve/config"
	"github.com/angeloszaimis/devserve/internal/proxy"
)

// MetricsPath serves the proxy traffic snapshot.
const MetricsPath = "/_trunk/metrics"

// route is one configured proxy together with the handler built for it.
type route struct {
	handler proxy.Handler
	backend *url.URL
	cfg     config.ProxyConfig
}

// NewRouter builds the request router: static files under the public URL,
// the reload endpoint, and the configured proxies.
func NewRouter(state *State, cfg *config.Config) (chi.Router, error) {
	r, _, err := buildRouter(state, cfg)
	return r, err
}

func buildRouter(state *State, cfg *config.Config) (chi.Router, []route, error) {
	r := chi.NewRouter()

	static := requestLogger(state.Logger)(newStaticHandler(state.DistDir, mountPoint(state.PublicURL), state.Logger))
	r.NotFound(static.ServeHTTP)

	r.Get(ReloadPath, state.handleReload)
	if state.Collector != nil {
		r.Get(MetricsPath, state.Collector.Handler())
	}

	state.Logger.Info("Serving static assets",
		slog.String("public_url", state.PublicURL),
		slog.String("dist", state.DistDir))
	if state.NoAutoreload {
		state.Logger.Info("Autoreload disabled")
	}

	routes, err := proxyRoutes(state, effectiveProxies(cfg))
	if err != nil {
		return nil, nil, err
	}

	handlers := make([]proxy.Handler, 0, len(routes))
	for _, rt := range routes {
		handlers = append(handlers, rt.handler)
	}

	reserved := []string{ReloadPath}
	if state.Collector != nil {
		reserved = append(reserved, MetricsPath)
	}
	if err := proxy.RegisterAll(r, handlers, reserved...); err != nil {
		return nil, nil, err
	}

	for _, rt := range routes {
		kind := "http"
		if rt.cfg.WS {
			kind = "websocket"
		}
		state.Logger.Info("Proxying",
			slog.String("kind", kind),
			slog.String("path", rt.handler.Path()),
			slog.String("backend", rt.backend.String()))
	}

	return r, routes, nil
}

// effectiveProxies applies precedence: a single configured proxy hides the
// list form entirely.
func effectiveProxies(cfg *config.Config) []config.ProxyConfig {
	if single, ok := cfg.SingleProxy(); ok {
		return []config.ProxyConfig{single}
	}
	return cfg.Proxies
}

func proxyRoutes(state *State, entries []config.ProxyConfig) ([]route, error) {
	routes := make([]route, 0, len(entries))

	for _, entry := range entries {
		backend, err := url.Parse(entry.Backend)
		if err != nil {
			return nil, fmt.Errorf("parse proxy backend %q: %w", entry.Backend, err)
		}

		opts := []proxy.Option{
			proxy.WithLogger(state.Logger),
			proxy.WithCollector(state.Collector),
		}

		var h proxy.Handler
		if entry.WS {
			h = proxy.NewWebSocket(backend, entry.Rewrite, append(opts, proxy.WithInsecure(entry.Insecure))...)
		} else {
			client := state.Client
			if entry.Insecure {
				client = state.InsecureClient
			}
			h = proxy.NewHTTP(client, backend, entry.Rewrite, opts...)
		}

		routes = append(routes, route{handler: h, backend: backend, cfg: entry})
	}

	return routes, nil
}

// mountPoint strips a trailing slash from the public URL unless it is "/".
func mountPoint(publicURL string) string {
	if publicURL == "" || publicURL == "/" {
		return "/"
	}
	return strings.TrimSuffix(publicURL, "/")
}
