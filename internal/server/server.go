// ============================================================================
// Ledger-Scheduler HTTP Server
// ============================================================================
//
// Package: internal/server
// File: server.go
// Function: JSON-over-HTTP transport in front of the controller
//
// Routes:
//   GET  /jobs                      list jobs
//   POST /jobs                      submit a job, returns all jobs
//   GET  /nodes                     list nodes
//   POST /nodes/register            register a node
//   GET  /nodes/{id}/jobs           jobs matching the node's specs
//   POST /nodes/assign-provider     {job_id, address}
//   POST /nodes/{id}/result         {node_id, result_hash, logs}; id is the job id
//   GET  /settlements               settlement journal view
//   GET  /health                    liveness and counts
//   GET  /metrics                   Prometheus (when a gatherer is set)
//
// Middleware (outermost first): request id → access log → panic recovery
//
// ============================================================================

package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/ChuLiYu/ledger-scheduler/internal/controller"
	"github.com/ChuLiYu/ledger-scheduler/internal/metrics"
)

// Options configures the HTTP listener
type Options struct {
	Addr         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	// Gatherer backs /metrics; nil leaves the route out.
	Gatherer prometheus.Gatherer
}

// Server serves the scheduler API
type Server struct {
	ctrl   *controller.Controller
	logger *zap.Logger
	router *mux.Router
	http   *http.Server
}

// New builds the router and the underlying http.Server
func New(ctrl *controller.Controller, logger *zap.Logger, opts Options) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		ctrl:   ctrl,
		logger: logger,
		router: mux.NewRouter(),
	}
	s.routes(opts.Gatherer)

	s.http = &http.Server{
		Addr:              opts.Addr,
		Handler:           s.Handler(),
		ReadTimeout:       opts.ReadTimeout,
		ReadHeaderTimeout: opts.ReadTimeout,
		WriteTimeout:      opts.WriteTimeout,
		ErrorLog:          zap.NewStdLog(logger.Named("http")),
	}
	return s
}

func (s *Server) routes(gatherer prometheus.Gatherer) {
	r := s.router

	r.HandleFunc("/jobs", s.listJobs).Methods(http.MethodGet)
	r.HandleFunc("/jobs", s.submitJob).Methods(http.MethodPost)

	nodes := r.PathPrefix("/nodes").Subrouter()
	nodes.HandleFunc("", s.listNodes).Methods(http.MethodGet)
	nodes.HandleFunc("/register", s.registerNode).Methods(http.MethodPost)
	nodes.HandleFunc("/assign-provider", s.assignProvider).Methods(http.MethodPost)
	nodes.HandleFunc("/{id}/jobs", s.nodeJobs).Methods(http.MethodGet)
	nodes.HandleFunc("/{id}/result", s.submitResult).Methods(http.MethodPost)

	r.HandleFunc("/settlements", s.listSettlements).Methods(http.MethodGet)
	r.HandleFunc("/health", s.health).Methods(http.MethodGet)
	if gatherer != nil {
		r.Handle("/metrics", metrics.Handler(gatherer)).Methods(http.MethodGet)
	}

	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeErrorCode(w, http.StatusNotFound, codeNotFound, "route not found")
	})
	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeErrorCode(w, http.StatusMethodNotAllowed, codeMethodNotAllowed, "method not allowed")
	})
}

// Handler returns the router wrapped in the middleware chain
func (s *Server) Handler() http.Handler {
	return requestID(accessLog(s.logger)(recovery(s.logger)(s.router)))
}

// Serve accepts connections on l until Shutdown
func (s *Server) Serve(l net.Listener) error {
	s.logger.Info("http server listening", zap.String("addr", l.Addr().String()))
	if err := s.http.Serve(l); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// ListenAndServe listens on the configured address
func (s *Server) ListenAndServe() error {
	l, err := net.Listen("tcp", s.http.Addr)
	if err != nil {
		return err
	}
	return s.Serve(l)
}

// Shutdown stops accepting requests and waits for in-flight ones
func (s *Server) Shutdown(ctx context.Context) error {
	s.http.SetKeepAlivesEnabled(false)
	return s.http.Shutdown(ctx)
}
