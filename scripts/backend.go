// Backend is a small test server for trying out devserve proxies by hand.
// It echoes HTTP requests as JSON under /api and echoes WebSocket messages
// on /ws.
//
// Usage:
//
//	go run backend.go -port 9000
//	devserve --proxy-backend http://localhost:9000/api
//	devserve --proxy-backend ws://localhost:9000/ws --proxy-ws
package main

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
)

// Echo describes the request the backend received.
type Echo struct {
	ID      string              `json:"id"`
	Method  string              `json:"method"`
	Path    string              `json:"path"`
	Query   string              `json:"query,omitempty"`
	Host    string              `json:"host"`
	Headers map[string][]string `json:"headers"`
	Body    string              `json:"body,omitempty"`
}

func newID() string {
	b := make([]byte, 8)
	if _, err := rand.Read(b); err != nil {
		return ""
	}
	return hex.EncodeToString(b)
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(*http.Request) bool { return true },
}

func main() {
	port := flag.Int("port", 9000, "port to listen on")
	flag.Parse()

	log := slog.New(slog.NewTextHandler(os.Stdout, nil))

	r := chi.NewRouter()
	r.HandleFunc("/api/*", func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		if err != nil {
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}

		log.Info("request",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.String("from", r.RemoteAddr))

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(Echo{
			ID:      newID(),
			Method:  r.Method,
			Path:    r.URL.Path,
			Query:   r.URL.RawQuery,
			Host:    r.Host,
			Headers: r.Header,
			Body:    string(body),
		})
	})

	r.Get("/ws", func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		log.Info("websocket opened", slog.String("from", r.RemoteAddr))
		for {
			kind, msg, err := conn.ReadMessage()
			if err != nil {
				log.Info("websocket closed", slog.String("err", err.Error()))
				return
			}
			if err := conn.WriteMessage(kind, msg); err != nil {
				return
			}
		}
	})

	addr := fmt.Sprintf(":%d", *port)
	log.Info("starting backend", slog.String("addr", addr))

	srv := &http.Server{Addr: addr, Handler: r, ReadHeaderTimeout: 10 * time.Second}
	if err := srv.ListenAndServe(); err != nil {
		log.Error("server failed", slog.String("err", err.Error()))
		os.Exit(1)
	}
}
