// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package api serves the read-only status surface of the daemon:
// Prometheus metrics, the registered modes and the running topology.
package api

import (
	"context"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"grimm.is/ipsd/internal/errors"
	"grimm.is/ipsd/internal/logging"
	"grimm.is/ipsd/internal/runmode"
)

// RateSource reports per-role packet rates.
type RateSource interface {
	Rates() map[string]float64
	LastUpdate() time.Time
}

// Options configures a Server.
type Options struct {
	Registry  *runmode.Registry
	Transport runmode.Transport
	Gatherer  prometheus.Gatherer // defaults to prometheus.DefaultGatherer
	Rates     RateSource          // optional
	Logger    *logging.Logger
}

// Server is the HTTP status server.
type Server struct {
	opts   Options
	router *mux.Router
	logger *logging.Logger

	mu   sync.RWMutex
	topo *runmode.Topology

	httpServer *http.Server
}

// NewServer creates a server and registers its routes.
func NewServer(opts Options) *Server {
	if opts.Gatherer == nil {
		opts.Gatherer = prometheus.DefaultGatherer
	}
	if opts.Transport == "" {
		opts.Transport = runmode.TransportNFQ
	}
	if opts.Logger == nil {
		opts.Logger = logging.WithComponent("api")
	}

	s := &Server{
		opts:   opts,
		router: mux.NewRouter(),
		logger: opts.Logger,
	}
	s.RegisterRoutes(s.router)
	return s
}

// RegisterRoutes registers the status routes on router.
func (s *Server) RegisterRoutes(router *mux.Router) {
	router.Handle("/metrics", promhttp.HandlerFor(s.opts.Gatherer, promhttp.HandlerOpts{})).Methods("GET")
	router.HandleFunc("/healthz", s.handleHealth).Methods("GET")

	api := router.PathPrefix("/api").Subrouter()
	api.HandleFunc("/modes", s.handleListModes).Methods("GET")
	api.HandleFunc("/modes/{name}", s.handleGetMode).Methods("GET")
	api.HandleFunc("/topology", s.handleGetTopology).Methods("GET")
	api.HandleFunc("/stats", s.handleGetStats).Methods("GET")
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// SetTopology publishes the running topology. nil clears it.
func (s *Server) SetTopology(t *runmode.Topology) {
	s.mu.Lock()
	s.topo = t
	s.mu.Unlock()
}

func (s *Server) topology() *runmode.Topology {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.topo
}

// Start listens on addr and serves in the background. It returns the
// bound address, which differs from addr when addr asks for port 0.
func (s *Server) Start(addr string) (string, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return "", errors.Wrapf(err, errors.KindUnavailable, "listen on %s", addr)
	}

	s.httpServer = &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := s.httpServer.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.logger.Error("API server failed", "error", err)
		}
	}()

	s.logger.Info("API server listening", "addr", ln.Addr().String())
	return ln.Addr().String(), nil
}

// Shutdown stops a started server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}
