package proxy

import (
	"crypto/tls"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/angeloszaimis/devserve/internal/metrics"
)

const closeGrace = time.Second

// Headers the dialer produces itself or that only apply to one hop.
var skipHeaders = map[string]struct{}{
	"Host":                     {},
	"Upgrade":                  {},
	"Connection":               {},
	"Keep-Alive":               {},
	"Proxy-Connection":         {},
	"Te":                       {},
	"Trailer":                  {},
	"Transfer-Encoding":        {},
	"Sec-Websocket-Key":        {},
	"Sec-Websocket-Version":    {},
	"Sec-Websocket-Extensions": {},
	"Sec-Websocket-Protocol":   {},
}

// WebSocketHandler relays WebSocket sessions to a backend.
type WebSocketHandler struct {
	backend  *url.URL
	path     string
	dialer   websocket.Dialer
	upgrader websocket.Upgrader
	opts     options
}

// NewWebSocket creates a handler that upgrades requests under its mount
// path and relays them to backend.
func NewWebSocket(backend *url.URL, rewrite string, opts ...Option) *WebSocketHandler {
	h := &WebSocketHandler{
		backend: backend,
		path:    mountPath(backend, rewrite),
		opts:    newOptions(opts),
		dialer: websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: 10 * time.Second,
		},
		upgrader: websocket.Upgrader{
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}

	if h.opts.insecure {
		h.dialer.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec // opt-in for self-signed dev backends
	}

	return h
}

// Path returns the mount path.
func (h *WebSocketHandler) Path() string {
	return h.path
}

// Register mounts the handler under its path.
func (h *WebSocketHandler) Register(r chi.Router) {
	r.Mount(h.path, h)
}

func (h *WebSocketHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !websocket.IsWebSocketUpgrade(r) {
		http.Error(w, "expected a websocket upgrade", http.StatusBadRequest)
		return
	}

	target := h.targetURL(r.URL)

	h.opts.collector.Emit(metrics.MetricEvent{
		Type:    metrics.EventRequestForwarded,
		Route:   h.path,
		Backend: h.backend.String(),
	})

	dialer := h.dialer
	dialer.Subprotocols = websocket.Subprotocols(r)

	upstream, resp, err := dialer.DialContext(r.Context(), target.String(), forwardHeaders(r.Header))
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		h.opts.logger.Warn("Upstream websocket dial failed",
			slog.String("route", h.path),
			slog.String("backend", target.String()),
			slog.String("err", err.Error()))

		h.opts.collector.Emit(metrics.MetricEvent{
			Type:    metrics.EventUpstreamFailed,
			Route:   h.path,
			Backend: h.backend.String(),
		})

		http.Error(w, http.StatusText(http.StatusBadGateway), http.StatusBadGateway)
		return
	}
	defer upstream.Close()

	var respHeader http.Header
	if p := upstream.Subprotocol(); p != "" {
		respHeader = http.Header{"Sec-Websocket-Protocol": {p}}
	}

	client, err := h.upgrader.Upgrade(w, r, respHeader)
	if err != nil {
		h.opts.logger.Debug("Client websocket upgrade failed",
			slog.String("route", h.path),
			slog.String("err", err.Error()))
		return
	}
	defer client.Close()

	start := time.Now()
	errc := make(chan error, 2)
	go relay(upstream, client, errc)
	go relay(client, upstream, errc)

	err = <-errc
	if !isClosure(err) {
		h.opts.logger.Debug("Websocket relay ended",
			slog.String("route", h.path),
			slog.String("err", err.Error()))
	}

	h.opts.collector.Emit(metrics.MetricEvent{
		Type:       metrics.EventResponseCompleted,
		Route:      h.path,
		Backend:    h.backend.String(),
		Duration:   time.Since(start),
		StatusCode: http.StatusSwitchingProtocols,
	})
}

func (h *WebSocketHandler) targetURL(in *url.URL) *url.URL {
	out := *h.backend
	switch out.Scheme {
	case "http":
		out.Scheme = "ws"
	case "https":
		out.Scheme = "wss"
	}

	setUpstreamPath(&out, h.backend, h.path, in)

	return &out
}

// relay copies messages from src to dst until either side fails. A close
// frame read from src is passed on to dst with the same code.
func relay(dst, src *websocket.Conn, errc chan<- error) {
	for {
		kind, msg, err := src.ReadMessage()
		if err != nil {
			_ = dst.WriteControl(websocket.CloseMessage, closePayload(err), time.Now().Add(closeGrace))
			errc <- err
			return
		}

		if err := dst.WriteMessage(kind, msg); err != nil {
			errc <- err
			return
		}
	}
}

func closePayload(err error) []byte {
	var ce *websocket.CloseError
	if !errors.As(err, &ce) {
		return websocket.FormatCloseMessage(websocket.CloseGoingAway, "")
	}

	switch ce.Code {
	case websocket.CloseAbnormalClosure, websocket.CloseTLSHandshake:
		return websocket.FormatCloseMessage(websocket.CloseGoingAway, "")
	}

	return websocket.FormatCloseMessage(ce.Code, ce.Text)
}

func isClosure(err error) bool {
	return websocket.IsCloseError(err,
		websocket.CloseNormalClosure,
		websocket.CloseGoingAway,
		websocket.CloseNoStatusReceived)
}

func forwardHeaders(in http.Header) http.Header {
	out := make(http.Header, len(in))
	for k, vs := range in {
		if _, skip := skipHeaders[http.CanonicalHeaderKey(k)]; skip {
			continue
		}
		out[k] = append([]string(nil), vs...)
	}
	return out
}
