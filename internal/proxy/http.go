package proxy

import (
	"log/slog"
	"net/http"
	"net/http/httputil"
	"net/url"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/angeloszaimis/devserve/internal/metrics"
)

// HTTPHandler forwards plain HTTP requests to a backend.
type HTTPHandler struct {
	backend *url.URL
	path    string
	proxy   *httputil.ReverseProxy
	opts    options
}

// NewHTTP creates a handler that forwards requests under its mount path to
// backend using client's transport.
func NewHTTP(client *http.Client, backend *url.URL, rewrite string, opts ...Option) *HTTPHandler {
	h := &HTTPHandler{
		backend: backend,
		path:    mountPath(backend, rewrite),
		opts:    newOptions(opts),
	}

	transport := client.Transport
	if transport == nil {
		transport = http.DefaultTransport
	}

	h.proxy = &httputil.ReverseProxy{
		Rewrite:       h.rewrite,
		Transport:     transport,
		FlushInterval: -1,
		ErrorHandler:  h.handleError,
		ErrorLog:      slog.NewLogLogger(h.opts.logger.Handler(), slog.LevelWarn),
	}

	return h
}

// Path returns the mount path.
func (h *HTTPHandler) Path() string {
	return h.path
}

// Register mounts the handler for every method under its path.
func (h *HTTPHandler) Register(r chi.Router) {
	r.Mount(h.path, h)
}

func (h *HTTPHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.opts.collector.Emit(metrics.MetricEvent{
		Type:    metrics.EventRequestForwarded,
		Route:   h.path,
		Backend: h.backend.String(),
	})

	start := time.Now()
	wrapped := &statusRecorder{ResponseWriter: w, statusCode: http.StatusOK}
	h.proxy.ServeHTTP(wrapped, r)

	h.opts.collector.Emit(metrics.MetricEvent{
		Type:       metrics.EventResponseCompleted,
		Route:      h.path,
		Backend:    h.backend.String(),
		Duration:   time.Since(start),
		StatusCode: wrapped.statusCode,
	})
}

func (h *HTTPHandler) rewrite(pr *httputil.ProxyRequest) {
	out := pr.Out.URL
	out.Scheme = httpScheme(h.backend.Scheme)
	out.Host = h.backend.Host
	setUpstreamPath(out, h.backend, h.path, pr.In.URL)

	pr.Out.Host = h.backend.Host
	pr.SetXForwarded()
}

func (h *HTTPHandler) handleError(w http.ResponseWriter, r *http.Request, err error) {
	h.opts.logger.Warn("Upstream request failed",
		slog.String("route", h.path),
		slog.String("backend", h.backend.String()),
		slog.String("path", r.URL.Path),
		slog.String("err", err.Error()))

	h.opts.collector.Emit(metrics.MetricEvent{
		Type:    metrics.EventUpstreamFailed,
		Route:   h.path,
		Backend: h.backend.String(),
	})

	w.WriteHeader(http.StatusBadGateway)
}

type statusRecorder struct {
	http.ResponseWriter
	statusCode int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.statusCode = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}
