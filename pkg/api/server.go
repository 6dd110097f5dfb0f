// Package api serves the daemon's operational HTTP surface: liveness,
// readiness, and Prometheus metrics. It never touches the DNS or LB
// models directly — it reads the same health registry the core and
// generators update as they run.
package api

import (
	"net/http"
	"time"

	"github.com/lionelnicolas/dalidock/pkg/metrics"
)

// Server is the daemon's small HTTP surface for operators and
// container/VM orchestration probes.
type Server struct {
	mux *http.ServeMux
	srv *http.Server
}

// New builds a Server listening on addr once Start is called.
func New(addr string) *Server {
	mux := http.NewServeMux()
	s := &Server{mux: mux}

	mux.HandleFunc("/healthz", metrics.LivenessHandler())
	mux.HandleFunc("/readyz", metrics.ReadyHandler())
	mux.Handle("/metrics", metrics.Handler())

	s.srv = &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

// Start blocks serving HTTP until the server is stopped or fails.
func (s *Server) Start() error {
	err := s.srv.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Stop closes the server's listener and any open connections
// immediately, without waiting for in-flight requests.
func (s *Server) Stop() error {
	return s.srv.Close()
}
