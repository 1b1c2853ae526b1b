package serve

import (
	"crypto/tls"
	"log/slog"
	"net/http"

	"github.com/angeloszaimis/devserve/internal/broadcast"
	"github.com/angeloszaimis/devserve/internal/metrics"
)

// State is shared by every request handler. It is built once before the
// router and never modified afterwards.
type State struct {
	// Client forwards proxied requests and verifies upstream certificates.
	Client *http.Client
	// InsecureClient forwards requests for proxies marked insecure.
	InsecureClient *http.Client
	DistDir        string
	PublicURL      string
	BuildDone      *broadcast.Sender[struct{}]
	NoAutoreload   bool
	Logger         *slog.Logger
	Collector      *metrics.Collector
}

// NewState builds the shared state with both proxy clients.
func NewState(
	distDir, publicURL string,
	buildDone *broadcast.Sender[struct{}],
	noAutoreload bool,
	logger *slog.Logger,
	collector *metrics.Collector,
) *State {
	return &State{
		Client:         newProxyClient(false),
		InsecureClient: newProxyClient(true),
		DistDir:        distDir,
		PublicURL:      publicURL,
		BuildDone:      buildDone,
		NoAutoreload:   noAutoreload,
		Logger:         logger,
		Collector:      collector,
	}
}

// newProxyClient returns an HTTP/1.1-only client.
func newProxyClient(insecure bool) *http.Client {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.ForceAttemptHTTP2 = false
	transport.TLSNextProto = make(map[string]func(string, *tls.Conn) http.RoundTripper)

	if insecure {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec // opt-in per proxy
	}

	return &http.Client{
		Transport: transport,
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
}
