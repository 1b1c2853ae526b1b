package httpserver

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"
)

// Server is the dev server's listener plus the shutdown mode its TLS setting implies.
type Server struct {
	server   *http.Server
	listener net.Listener
	tls      bool
}

// New validates addr before creating the server. A non-nil tlsConfig
// selects HTTPS; HTTP/2 is not negotiated either way.
func New(addr string, handler http.Handler, tlsConfig *tls.Config) (*Server, error) {
	if err := validation.Validate(addr, validation.By(checkListenAddr)); err != nil {
		return nil, err
	}

	srv := &Server{
		server: &http.Server{
			Addr:              addr,
			Handler:           handler,
			ReadHeaderTimeout: 10 * time.Second,
			IdleTimeout:       60 * time.Second,
			TLSConfig:         tlsConfig,
		},
		tls: tlsConfig != nil,
	}

	if srv.tls {
		srv.server.TLSNextProto = make(map[string]func(*http.Server, *tls.Conn, http.Handler))
	}

	return srv, nil
}

// UseListener makes the server accept on l instead of binding its address.
func (s *Server) UseListener(l net.Listener) {
	s.listener = l
}

// Listen binds the configured address unless a listener is already set.
func (s *Server) Listen() error {
	if s.listener != nil {
		return nil
	}

	l, err := net.Listen("tcp", s.server.Addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.server.Addr, err)
	}

	s.listener = l
	return nil
}

// Addr returns the bound address, or nil before Listen.
func (s *Server) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// TLS reports whether the server terminates TLS.
func (s *Server) TLS() bool {
	return s.tls
}

// Start binds if needed and serves until shutdown. A closed server is not an error.
func (s *Server) Start() error {
	if err := s.Listen(); err != nil {
		return err
	}

	var err error
	if s.tls {
		err = s.server.ServeTLS(s.listener, "", "")
	} else {
		err = s.server.Serve(s.listener)
	}

	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}

	return nil
}

// Shutdown stops accepting connections and waits for in-flight requests
// until ctx ends.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

// ShutdownNow stops accepting connections with a zero grace period and
// closes every connection that is still open.
func (s *Server) ShutdownNow() error {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := s.server.Shutdown(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}

	return s.server.Close()
}

// ServeUntil serves until done becomes readable, then shuts down: gracefully
// for plaintext, immediately for TLS. It returns once serving has stopped and
// the shutdown has completed.
func (s *Server) ServeUntil(done <-chan struct{}) error {
	stopped := make(chan struct{})
	shutdownErr := make(chan error, 1)

	go func() {
		select {
		case <-done:
		case <-stopped:
			shutdownErr <- nil
			return
		}

		if s.tls {
			shutdownErr <- s.ShutdownNow()
		} else {
			shutdownErr <- s.Shutdown(context.Background())
		}
	}()

	err := s.Start()
	close(stopped)

	if serr := <-shutdownErr; serr != nil && err == nil {
		err = serr
	}

	return err
}

func checkListenAddr(value interface{}) error {
	addr, _ := value.(string)

	host, port, err := net.SplitHostPort(addr)
	switch {
	case err != nil:
		return validation.NewError("validation_listen_addr", "expected host:port")
	case port == "":
		return validation.NewError("validation_listen_port", "missing port")
	case host == "":
		return nil
	}

	return is.Host.Validate(host)
}
