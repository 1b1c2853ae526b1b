package proxy_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"

	"github.com/go-chi/chi/v5"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/angeloszaimis/devserve/internal/metrics"
	"github.com/angeloszaimis/devserve/internal/proxy"
)

var _ = Describe("HTTPHandler", func() {
	var (
		upstream *httptest.Server
		client   *http.Client
	)

	BeforeEach(func() {
		upstream = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("X-Upstream-Host", r.Host)
			w.Header().Set("X-Upstream-Method", r.Method)
			w.Write([]byte(r.URL.RequestURI()))
		}))
		client = &http.Client{}
	})

	AfterEach(func() {
		upstream.Close()
	})

	get := func(router http.Handler, target string) *httptest.ResponseRecorder {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))
		return rec
	}

	Describe("Path", func() {
		It("uses the backend path without its trailing slash", func() {
			h := proxy.NewHTTP(client, mustParseURL("http://localhost:9000/api/"), "")
			Expect(h.Path()).To(Equal("/api"))
		})

		It("uses / for a backend without a path", func() {
			h := proxy.NewHTTP(client, mustParseURL("http://localhost:9000"), "")
			Expect(h.Path()).To(Equal("/"))
		})

		It("prefers the rewrite prefix", func() {
			h := proxy.NewHTTP(client, mustParseURL("http://localhost:9000/v1"), "/app/")
			Expect(h.Path()).To(Equal("/app"))
		})
	})

	Describe("forwarding", func() {
		It("forwards the request path and query unchanged", func() {
			r := chi.NewRouter()
			proxy.NewHTTP(client, mustParseURL(upstream.URL+"/api/"), "").Register(r)

			rec := get(r, "/api/users?page=2")
			Expect(rec.Code).To(Equal(http.StatusOK))
			Expect(rec.Body.String()).To(Equal("/api/users?page=2"))
			Expect(rec.Header().Get("X-Upstream-Host")).To(Equal(mustParseURL(upstream.URL).Host))
		})

		It("maps the rewrite prefix onto the backend path", func() {
			r := chi.NewRouter()
			proxy.NewHTTP(client, mustParseURL(upstream.URL+"/v1"), "/app").Register(r)

			Expect(get(r, "/app/items").Body.String()).To(Equal("/v1/items"))
			Expect(get(r, "/app").Body.String()).To(Equal("/v1"))
		})

		It("keeps encoded separators in the forwarded path", func() {
			r := chi.NewRouter()
			proxy.NewHTTP(client, mustParseURL(upstream.URL+"/api"), "").Register(r)

			Expect(get(r, "/api/files/a%2Fb?x=1").Body.String()).To(Equal("/api/files/a%2Fb?x=1"))
		})

		It("speaks HTTP to a backend given with a websocket scheme", func() {
			backend := mustParseURL(upstream.URL + "/api")
			backend.Scheme = "ws"

			r := chi.NewRouter()
			proxy.NewHTTP(client, backend, "").Register(r)

			rec := get(r, "/api/users")
			Expect(rec.Code).To(Equal(http.StatusOK))
			Expect(rec.Body.String()).To(Equal("/api/users"))
		})

		It("forwards every method", func() {
			r := chi.NewRouter()
			proxy.NewHTTP(client, mustParseURL(upstream.URL+"/api"), "").Register(r)

			rec := httptest.NewRecorder()
			r.ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/api/items/1", nil))
			Expect(rec.Code).To(Equal(http.StatusOK))
			Expect(rec.Header().Get("X-Upstream-Method")).To(Equal(http.MethodDelete))
		})

		It("does not match paths outside the mount", func() {
			r := chi.NewRouter()
			proxy.NewHTTP(client, mustParseURL(upstream.URL+"/api"), "").Register(r)

			Expect(get(r, "/apiary").Code).To(Equal(http.StatusNotFound))
		})

		It("returns 502 when the backend is unreachable", func() {
			dead := httptest.NewServer(http.NotFoundHandler())
			deadURL := dead.URL
			dead.Close()

			r := chi.NewRouter()
			proxy.NewHTTP(client, mustParseURL(deadURL+"/api"), "",
				proxy.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))).Register(r)

			Expect(get(r, "/api/x").Code).To(Equal(http.StatusBadGateway))
		})

		It("reports traffic to the collector", func() {
			collector := metrics.NewCollector(16, slog.New(slog.NewTextHandler(io.Discard, nil)))
			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()
			collector.Start(ctx)

			r := chi.NewRouter()
			proxy.NewHTTP(client, mustParseURL(upstream.URL+"/api"), "", proxy.WithCollector(collector)).Register(r)
			get(r, "/api/x")

			Eventually(func() int64 {
				return collector.Snapshot().Routes["/api"].Requests
			}).Should(Equal(int64(1)))
			Eventually(func() map[int]int64 {
				return collector.Snapshot().Routes["/api"].StatusCodes
			}).Should(HaveKeyWithValue(http.StatusOK, int64(1)))
		})
	})

	Describe("RegisterAll", func() {
		It("rejects two handlers on the same path", func() {
			handlers := []proxy.Handler{
				proxy.NewHTTP(client, mustParseURL("http://localhost:9000/api"), ""),
				proxy.NewWebSocket(mustParseURL("http://localhost:9001/ws"), "/api"),
			}

			err := proxy.RegisterAll(chi.NewRouter(), handlers)
			Expect(errors.Is(err, proxy.ErrDuplicateMount)).To(BeTrue())
			Expect(err.Error()).To(ContainSubstring("/api"))
		})

		It("rejects a handler on a reserved path", func() {
			r := chi.NewRouter()
			handlers := []proxy.Handler{
				proxy.NewHTTP(client, mustParseURL(upstream.URL+"/x"), "/_trunk/ws"),
			}

			err := proxy.RegisterAll(r, handlers, "/_trunk/ws")
			Expect(errors.Is(err, proxy.ErrReservedMount)).To(BeTrue())
			Expect(get(r, "/_trunk/ws").Code).To(Equal(http.StatusNotFound))
		})

		It("mounts handlers in order", func() {
			r := chi.NewRouter()
			handlers := []proxy.Handler{
				proxy.NewHTTP(client, mustParseURL(upstream.URL+"/a"), ""),
				proxy.NewHTTP(client, mustParseURL(upstream.URL+"/b"), ""),
			}

			Expect(proxy.RegisterAll(r, handlers)).To(Succeed())
			Expect(get(r, "/a/1").Body.String()).To(Equal("/a/1"))
			Expect(get(r, "/b/2").Body.String()).To(Equal("/b/2"))
		})
	})
})
