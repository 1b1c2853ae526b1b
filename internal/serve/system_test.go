package serve_test

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"time"

	"github.com/gorilla/websocket"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/onsi/gomega/gbytes"

	"github.com/angeloszaimis/devserve/config"
	"github.com/angeloszaimis/devserve/internal/broadcast"
	"github.com/angeloszaimis/devserve/internal/serve"
	"github.com/angeloszaimis/devserve/internal/shutdown"
)

type fakeWatcher struct {
	buildErr error
	panics   bool
	emit     chan struct{}
	done     *broadcast.Sender[struct{}]
	listener *shutdown.Listener
}

func (f *fakeWatcher) factory(sig *shutdown.Signal, done *broadcast.Sender[struct{}]) (serve.Watcher, error) {
	f.done = done
	f.listener = sig.Subscribe()
	return f, nil
}

func (f *fakeWatcher) Build(context.Context) error {
	return f.buildErr
}

func (f *fakeWatcher) Run(context.Context) error {
	defer f.Close()

	if f.panics {
		panic("watcher exploded")
	}

	for {
		select {
		case <-f.listener.Done():
			return nil
		case <-f.emit:
			if f.done != nil {
				_, _ = f.done.Send(struct{}{})
			}
		}
	}
}

func (f *fakeWatcher) Close() {
	f.listener.Close()
	if f.done != nil {
		f.done.Close()
	}
}

var _ = Describe("System", func() {
	var (
		cfg      *config.Config
		sig      *shutdown.Signal
		watcher  *fakeWatcher
		listener net.Listener
		logs     *gbytes.Buffer
		logger   *slog.Logger
		base     string
	)

	BeforeEach(func() {
		cfg = &config.Config{
			Serve: config.ServeConfig{Address: "127.0.0.1", Port: 8080, HealthInterval: "0s"},
			Build: config.BuildConfig{Dist: writeDist(), PublicURL: "/"},
		}
		sig = shutdown.New()
		watcher = &fakeWatcher{emit: make(chan struct{}, 1)}

		var err error
		listener, err = net.Listen("tcp", "127.0.0.1:0")
		Expect(err).NotTo(HaveOccurred())
		base = "http://" + listener.Addr().String()

		logs = gbytes.NewBuffer()
		logger = slog.New(slog.NewTextHandler(logs, &slog.HandlerOptions{Level: slog.LevelDebug}))
	})

	run := func(opts ...serve.Option) chan error {
		opts = append([]serve.Option{
			serve.WithWatcher(watcher.factory),
			serve.WithListener(listener),
		}, opts...)

		sys, err := serve.New(cfg, sig, logger, opts...)
		Expect(err).NotTo(HaveOccurred())

		finished := make(chan error, 1)
		go func() { finished <- sys.Run(context.Background()) }()

		Eventually(func() error {
			resp, err := http.Get(base + "/")
			if err == nil {
				resp.Body.Close()
			}
			return err
		}).Should(Succeed())

		return finished
	}

	It("derives the display address from the config", func() {
		cfg.Build.PublicURL = "/app/"
		sys, err := serve.New(cfg, sig, logger, serve.WithWatcher(watcher.factory))
		Expect(err).NotTo(HaveOccurred())
		Expect(sys.HTTPAddr()).To(Equal("http://127.0.0.1:8080/app/"))

		cfg.Serve.TLS = config.TLSConfig{CertPath: "c.pem", KeyPath: "k.pem"}
		sys, err = serve.New(cfg, sig, logger, serve.WithWatcher(watcher.factory))
		Expect(err).NotTo(HaveOccurred())
		Expect(sys.HTTPAddr()).To(HavePrefix("https://"))
	})

	It("returns the watcher construction error", func() {
		failing := func(*shutdown.Signal, *broadcast.Sender[struct{}]) (serve.Watcher, error) {
			return nil, errors.New("no inotify")
		}

		_, err := serve.New(cfg, sig, logger, serve.WithWatcher(failing))
		Expect(err).To(MatchError(ContainSubstring("no inotify")))
	})

	It("returns once the last shutdown handle is released", func() {
		finished := run()
		Consistently(finished, 100*time.Millisecond).ShouldNot(Receive())

		sig.Close()
		Eventually(finished, 2*time.Second).Should(Receive(BeNil()))

		_, err := http.Get(base + "/")
		Expect(err).To(HaveOccurred())
	})

	It("stops on an explicit trigger", func() {
		finished := run()

		sig.Trigger()
		Eventually(finished, 2*time.Second).Should(Receive(BeNil()))
		sig.Close()
	})

	It("keeps serving when the initial build fails", func() {
		watcher.buildErr = errors.New("compile error")
		finished := run()

		resp, err := http.Get(base + "/missing")
		Expect(err).NotTo(HaveOccurred())
		resp.Body.Close()
		Expect(resp.StatusCode).To(Equal(http.StatusOK))
		Expect(string(logs.Contents())).To(ContainSubstring("Initial build failed"))

		sig.Close()
		Eventually(finished, 2*time.Second).Should(Receive(BeNil()))
	})

	It("logs a panicking watcher and keeps serving", func() {
		watcher.panics = true
		finished := run()

		Eventually(func() string { return string(logs.Contents()) }).Should(ContainSubstring("watcher exploded"))

		resp, err := http.Get(base + "/")
		Expect(err).NotTo(HaveOccurred())
		resp.Body.Close()

		sig.Close()
		Eventually(finished, 2*time.Second).Should(Receive(BeNil()))
	})

	It("opens the browser when asked and logs failures", func() {
		cfg.Serve.Open = true
		opened := make(chan string, 1)
		finished := run(serve.WithBrowser(func(url string) error {
			opened <- url
			return errors.New("no display")
		}))

		Eventually(opened).Should(Receive(Equal("http://127.0.0.1:8080/")))
		Eventually(func() string { return string(logs.Contents()) }).Should(ContainSubstring("no display"))

		sig.Close()
		Eventually(finished, 2*time.Second).Should(Receive(BeNil()))
	})

	It("does not hand the build-done channel to the watcher without autoreload", func() {
		cfg.Serve.NoAutoreload = true
		finished := run()

		Expect(watcher.done).To(BeNil())

		conn, _, err := websocket.DefaultDialer.Dial(wsURL(base, serve.ReloadPath), nil)
		Expect(err).NotTo(HaveOccurred())
		defer conn.Close()

		sig.Close()
		Eventually(finished, 2*time.Second).Should(Receive(BeNil()))

		_, _, err = conn.ReadMessage()
		Expect(err).To(HaveOccurred())
	})

	Describe("setup failures", func() {
		It("returns bind errors", func() {
			cfg.Serve.Port = listener.Addr().(*net.TCPAddr).Port
			sys, err := serve.New(cfg, sig, logger, serve.WithWatcher(watcher.factory))
			Expect(err).NotTo(HaveOccurred())

			err = sys.Run(context.Background())
			Expect(err).To(MatchError(ContainSubstring("listen on")))
			listener.Close()
		})

		It("returns TLS load errors", func() {
			cfg.Serve.TLS = config.TLSConfig{CertPath: "/nonexistent/cert.pem", KeyPath: "/nonexistent/key.pem"}
			sys, err := serve.New(cfg, sig, logger, serve.WithWatcher(watcher.factory), serve.WithListener(listener))
			Expect(err).NotTo(HaveOccurred())

			err = sys.Run(context.Background())
			Expect(err).To(MatchError(ContainSubstring("failed to load TLS certificate")))
			listener.Close()
		})
	})

	It("lists only loopback and private addresses for an unspecified bind", func() {
		cfg.Serve.Address = "0.0.0.0"
		addrs := func() ([]net.Addr, error) {
			return []net.Addr{
				&net.IPNet{IP: net.ParseIP("127.0.0.1"), Mask: net.CIDRMask(8, 32)},
				&net.IPNet{IP: net.ParseIP("192.168.0.10"), Mask: net.CIDRMask(24, 32)},
				&net.IPNet{IP: net.ParseIP("203.0.113.9"), Mask: net.CIDRMask(24, 32)},
				&net.IPNet{IP: net.ParseIP("2001:db8::1"), Mask: net.CIDRMask(64, 128)},
			}, nil
		}
		finished := run(serve.WithInterfaceAddrs(addrs))

		port := listener.Addr().(*net.TCPAddr).Port
		out := string(logs.Contents())
		Expect(out).To(ContainSubstring(net.JoinHostPort("127.0.0.1", strconv.Itoa(port))))
		Expect(out).To(ContainSubstring(net.JoinHostPort("192.168.0.10", strconv.Itoa(port))))
		Expect(out).NotTo(ContainSubstring("203.0.113.9"))
		Expect(out).NotTo(ContainSubstring("2001:db8::1"))

		sig.Close()
		Eventually(finished, 2*time.Second).Should(Receive(BeNil()))
	})

	It("serves files, proxies and reloads end to end", func() {
		upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			body, _ := io.ReadAll(r.Body)
			w.Header().Set("X-Echo-Header", r.Header.Get("X-Test"))
			w.WriteHeader(http.StatusAccepted)
			w.Write([]byte(r.Method + " " + r.URL.Path + " " + string(body)))
		}))
		defer upstream.Close()

		cfg.Serve.Address = "0.0.0.0"
		cfg.Proxy = config.ProxyConfig{Backend: upstream.URL + "/api"}
		finished := run(serve.WithInterfaceAddrs(func() ([]net.Addr, error) { return nil, errors.New("none") }))

		resp, err := http.Get(base + "/missing/page")
		Expect(err).NotTo(HaveOccurred())
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		Expect(resp.StatusCode).To(Equal(http.StatusOK))
		Expect(string(body)).To(Equal(indexBody))

		req, err := http.NewRequest(http.MethodPut, base+"/api/items", bytes.NewBufferString("payload"))
		Expect(err).NotTo(HaveOccurred())
		req.Header.Set("X-Test", "yes")
		resp, err = http.DefaultClient.Do(req)
		Expect(err).NotTo(HaveOccurred())
		body, _ = io.ReadAll(resp.Body)
		resp.Body.Close()
		Expect(resp.StatusCode).To(Equal(http.StatusAccepted))
		Expect(resp.Header.Get("X-Echo-Header")).To(Equal("yes"))
		Expect(string(body)).To(Equal("PUT /api/items payload"))

		conn, _, err := websocket.DefaultDialer.Dial(wsURL(base, serve.ReloadPath), nil)
		Expect(err).NotTo(HaveOccurred())
		defer conn.Close()

		watcher.emit <- struct{}{}
		kind, msg, err := conn.ReadMessage()
		Expect(err).NotTo(HaveOccurred())
		Expect(kind).To(Equal(websocket.TextMessage))
		Expect(string(msg)).To(Equal(reloadMessage))

		sig.Close()
		Eventually(finished, 2*time.Second).Should(Receive(BeNil()))
	})
})
