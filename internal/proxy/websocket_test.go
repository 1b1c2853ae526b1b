package proxy_test

import (
	"net/http"
	"net/http/httptest"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/angeloszaimis/devserve/internal/proxy"
)

var _ = Describe("WebSocketHandler", func() {
	var (
		upstream *httptest.Server
		front    *httptest.Server
		seenPath chan string
	)

	BeforeEach(func() {
		seenPath = make(chan string, 1)
		upgrader := websocket.Upgrader{Subprotocols: []string{"chat"}}

		upstream = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			seenPath <- r.URL.RequestURI()
			conn, err := upgrader.Upgrade(w, r, nil)
			if err != nil {
				return
			}
			defer conn.Close()

			for {
				kind, msg, err := conn.ReadMessage()
				if err != nil {
					return
				}
				if string(msg) == "bye" {
					conn.WriteMessage(websocket.CloseMessage,
						websocket.FormatCloseMessage(4001, "done"))
					return
				}
				if err := conn.WriteMessage(kind, append([]byte("echo:"), msg...)); err != nil {
					return
				}
			}
		}))

		r := chi.NewRouter()
		proxy.NewWebSocket(mustParseURL(upstream.URL+"/socket"), "/ws").Register(r)
		front = httptest.NewServer(r)
	})

	AfterEach(func() {
		front.Close()
		upstream.Close()
	})

	wsURL := func(s *httptest.Server, path string) string {
		return "ws" + strings.TrimPrefix(s.URL, "http") + path
	}

	It("mounts at the rewrite prefix", func() {
		Expect(proxy.NewWebSocket(mustParseURL("http://localhost:9000/socket"), "/ws").Path()).To(Equal("/ws"))
	})

	It("relays frames in both directions", func() {
		conn, resp, err := websocket.DefaultDialer.Dial(wsURL(front, "/ws/room?id=7"), nil)
		Expect(err).NotTo(HaveOccurred())
		defer conn.Close()
		Expect(resp.StatusCode).To(Equal(http.StatusSwitchingProtocols))

		Eventually(seenPath).Should(Receive(Equal("/socket/room?id=7")))

		Expect(conn.WriteMessage(websocket.TextMessage, []byte("hello"))).To(Succeed())
		kind, msg, err := conn.ReadMessage()
		Expect(err).NotTo(HaveOccurred())
		Expect(kind).To(Equal(websocket.TextMessage))
		Expect(string(msg)).To(Equal("echo:hello"))

		Expect(conn.WriteMessage(websocket.BinaryMessage, []byte{1, 2})).To(Succeed())
		kind, msg, err = conn.ReadMessage()
		Expect(err).NotTo(HaveOccurred())
		Expect(kind).To(Equal(websocket.BinaryMessage))
		Expect(msg).To(Equal([]byte("echo:\x01\x02")))
	})

	It("keeps encoded separators in the upstream path", func() {
		conn, _, err := websocket.DefaultDialer.Dial(wsURL(front, "/ws/a%2Fb"), nil)
		Expect(err).NotTo(HaveOccurred())
		defer conn.Close()

		Eventually(seenPath).Should(Receive(Equal("/socket/a%2Fb")))
	})

	It("negotiates the upstream subprotocol", func() {
		dialer := websocket.Dialer{Subprotocols: []string{"chat"}}
		conn, _, err := dialer.Dial(wsURL(front, "/ws"), nil)
		Expect(err).NotTo(HaveOccurred())
		defer conn.Close()

		Expect(conn.Subprotocol()).To(Equal("chat"))
	})

	It("passes the upstream close code to the client", func() {
		conn, _, err := websocket.DefaultDialer.Dial(wsURL(front, "/ws"), nil)
		Expect(err).NotTo(HaveOccurred())
		defer conn.Close()

		Expect(conn.WriteMessage(websocket.TextMessage, []byte("bye"))).To(Succeed())
		_, _, err = conn.ReadMessage()
		Expect(websocket.IsCloseError(err, 4001)).To(BeTrue())
	})

	It("rejects plain HTTP requests", func() {
		resp, err := http.Get(front.URL + "/ws")
		Expect(err).NotTo(HaveOccurred())
		resp.Body.Close()
		Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
	})

	It("answers 502 when the upstream is down", func() {
		upstream.Close()

		_, resp, err := websocket.DefaultDialer.Dial(wsURL(front, "/ws"), nil)
		Expect(err).To(MatchError(websocket.ErrBadHandshake))
		Expect(resp.StatusCode).To(Equal(http.StatusBadGateway))
	})
})
