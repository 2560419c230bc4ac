// Package proxy implements the HTTP edge of planbridge: routing tenant
// requests to upstreams, relaying streams, and writing Anthropic-shaped
// answers.
package proxy

import (
	"context"
	"net/http"
	"time"

	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"
)

// Server wraps http.Server with planbridge timeouts.
type Server struct {
	httpServer *http.Server
	addr       string
}

// NewServer creates a Server with timeouts sized for streaming:
//   - ReadTimeout 10s: protect against slowloris clients
//   - WriteTimeout 600s: model streams can run for minutes
//   - IdleTimeout 120s: keep-alive reuse
//
// enableHTTP2 turns on HTTP/2 cleartext (h2c) for non-TLS deployments
// behind a terminating load balancer.
func NewServer(addr string, handler http.Handler, enableHTTP2 bool) *Server {
	finalHandler := handler
	if enableHTTP2 {
		h2s := &http2.Server{}
		finalHandler = h2c.NewHandler(handler, h2s)
	}

	return &Server{
		addr: addr,
		httpServer: &http.Server{
			Addr:         addr,
			Handler:      finalHandler,
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 600 * time.Second,
			IdleTimeout:  120 * time.Second,
		},
	}
}

// Addr reports the configured listen address.
func (s *Server) Addr() string {
	return s.addr
}

// ListenAndServe starts the server (blocks).
func (s *Server) ListenAndServe() error {
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully stops the server, letting in-flight streams drain
// until ctx expires.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
