// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package metrics

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/Thermoquad/heatpumpmon/pkg/lwz"
)

// Server serves /metrics, /values and /health
type Server struct {
	collector  *Collector
	router     *mux.Router
	server     *http.Server
	logger     zerolog.Logger
	staleAfter time.Duration
	addr       net.Addr
}

// NewServer creates the HTTP server. /health fails once no cycle has
// succeeded for staleAfter.
func NewServer(addr string, collector *Collector, staleAfter time.Duration, logger zerolog.Logger) *Server {
	s := &Server{
		collector:  collector,
		router:     mux.NewRouter(),
		logger:     logger.With().Str("component", "http").Logger(),
		staleAfter: staleAfter,
	}
	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.Handle("/metrics", promhttp.HandlerFor(s.collector.Registry(), promhttp.HandlerOpts{})).Methods("GET")
	s.router.HandleFunc("/values", s.handleValues).Methods("GET")
	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")
}

// Handler returns the router, for embedding or tests
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start binds the listen address and serves in the background. A bind
// failure is returned to the caller.
func (s *Server) Start(ctx context.Context) error {
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", s.server.Addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.server.Addr, err)
	}
	s.addr = ln.Addr()

	s.logger.Info().Str("addr", s.addr.String()).Msg("Starting HTTP server")
	go func() {
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error().Err(err).Msg("HTTP server failed")
		}
	}()
	return nil
}

// Addr returns the bound address once Start has succeeded
func (s *Server) Addr() net.Addr {
	return s.addr
}

// Shutdown stops the server gracefully
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info().Msg("Shutting down HTTP server")
	return s.server.Shutdown(ctx)
}

type valuesResponse struct {
	Time   *time.Time `json:"time"`
	Values lwz.Result `json:"values"`
	Error  string     `json:"error,omitempty"`
}

func (s *Server) handleValues(w http.ResponseWriter, _ *http.Request) {
	result, at := s.collector.Latest()
	resp := valuesResponse{Values: result}
	if !at.IsZero() {
		resp.Time = &at
	}
	if resp.Values == nil {
		resp.Values = lwz.Result{}
	}
	if err := s.collector.LastError(); err != nil {
		resp.Error = err.Error()
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	_, at := s.collector.Latest()
	status := http.StatusOK
	state := "ok"
	if at.IsZero() || time.Since(at) > s.staleAfter {
		status = http.StatusServiceUnavailable
		state = "stale"
	}
	s.writeJSON(w, status, map[string]string{"status": state})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error().Err(err).Msg("Failed to encode response")
	}
}
