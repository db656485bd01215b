package cmd

import (
	"context"
	"net"
	"net/http"

	"go.uber.org/multierr"
)

// httpServer wraps a single http.Server with a listen-then-serve split so
// listen failures surface before the calling goroutine returns.
type httpServer struct {
	endpoint string
	http     *http.Server
}

func newHTTPServer(endpoint string, handler http.Handler) *httpServer {
	return &httpServer{
		endpoint: endpoint,
		http:     &http.Server{Handler: handler},
	}
}

// Serve blocks until the listener is closed.
func (s *httpServer) Serve() error {
	listener, err := net.Listen("tcp", s.endpoint)
	if err != nil {
		return err
	}
	return s.http.Serve(listener)
}

// Shutdown gracefully drains in-flight requests.
func (s *httpServer) Shutdown(ctx context.Context) error {
	return multierr.Combine(s.http.Shutdown(ctx))
}
