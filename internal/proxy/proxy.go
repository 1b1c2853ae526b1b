package proxy

import (
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"slices"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/angeloszaimis/devserve/internal/metrics"
)

// ErrDuplicateMount is returned when two handlers claim the same path.
var ErrDuplicateMount = errors.New("proxy: duplicate mount path")

// ErrReservedMount is returned when a handler claims a path the router
// already serves itself.
var ErrReservedMount = errors.New("proxy: mount path is reserved")

// Handler is a proxy route that can attach itself to a router.
type Handler interface {
	// Path is the mount path requests are matched against.
	Path() string
	// Register mounts the handler on r at Path.
	Register(r chi.Router)
}

// Option configures a handler.
type Option func(*options)

type options struct {
	logger    *slog.Logger
	collector *metrics.Collector
	insecure  bool
}

// WithLogger sets the logger used for upstream failures.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithCollector reports proxied traffic to c.
func WithCollector(c *metrics.Collector) Option {
	return func(o *options) {
		o.collector = c
	}
}

// WithInsecure skips upstream certificate verification. Only WebSocket
// handlers read it; HTTP handlers take the client they are given.
func WithInsecure(insecure bool) Option {
	return func(o *options) {
		o.insecure = insecure
	}
}

func newOptions(opts []Option) options {
	o := options{logger: slog.Default()}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// RegisterAll mounts every handler in order. Two handlers with the same
// path, or a handler on one of the reserved paths, are rejected before
// anything is mounted.
func RegisterAll(r chi.Router, handlers []Handler, reserved ...string) error {
	seen := make(map[string]struct{}, len(handlers))
	for _, h := range handlers {
		if slices.Contains(reserved, h.Path()) {
			return fmt.Errorf("%w: %s", ErrReservedMount, h.Path())
		}
		if _, ok := seen[h.Path()]; ok {
			return fmt.Errorf("%w: %s", ErrDuplicateMount, h.Path())
		}
		seen[h.Path()] = struct{}{}
	}

	for _, h := range handlers {
		h.Register(r)
	}

	return nil
}

// mountPath is the rewrite prefix when given, otherwise the backend path
// without its trailing slash.
func mountPath(backend *url.URL, rewrite string) string {
	p := rewrite
	if p == "" {
		p = backend.Path
	}

	p = strings.TrimSuffix(p, "/")
	if p == "" {
		return "/"
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}

	return p
}

// upstreamPath joins the backend path with whatever follows the mount path
// in the incoming request.
func upstreamPath(backendPath, mount, reqPath string) string {
	rest := reqPath
	if mount != "/" {
		rest = strings.TrimPrefix(reqPath, mount)
	}

	p := strings.TrimSuffix(backendPath, "/") + rest
	if p == "" {
		return "/"
	}

	return p
}

// setUpstreamPath points out at the backend location for in. The escaped
// form is kept so encoded separators such as %2F reach the backend intact.
func setUpstreamPath(out, backend *url.URL, mount string, in *url.URL) {
	escapedMount := (&url.URL{Path: mount}).EscapedPath()

	out.Path = upstreamPath(backend.Path, mount, in.Path)
	out.RawPath = upstreamPath(backend.EscapedPath(), escapedMount, in.EscapedPath())
	out.RawQuery = in.RawQuery
}

// httpScheme maps WebSocket schemes onto their HTTP equivalents.
func httpScheme(scheme string) string {
	switch scheme {
	case "ws":
		return "http"
	case "wss":
		return "https"
	}
	return scheme
}
