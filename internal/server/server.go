// Package server exposes the engine over HTTP: node state, alerts, and the
// user commands the presentation layer issues.
package server

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/icpmesh/meshwatch/internal/engine"
	"github.com/icpmesh/meshwatch/internal/mesh"
	"github.com/icpmesh/meshwatch/internal/metrics"
	"github.com/icpmesh/meshwatch/pkg/log"
	"github.com/icpmesh/meshwatch/pkg/options"
)

// Server is the HTTP presentation surface.
type Server struct {
	network string
	server  *http.Server
	facade  *engine.Facade
}

// New builds the API server around an engine facade.
func New(opts *options.HttpOptions, facade *engine.Facade) *Server {
	s := &Server{facade: facade}

	r := mux.NewRouter()

	api := r.PathPrefix("/api/v1").Subrouter()
	api.HandleFunc("/nodes", s.handleListNodes).Methods(http.MethodGet)
	api.HandleFunc("/nodes/{id}", s.handleGetNode).Methods(http.MethodGet)
	api.HandleFunc("/nodes/{id}", s.handleForgetNode).Methods(http.MethodDelete)
	api.HandleFunc("/messages", s.handleSendMessage).Methods(http.MethodPost)
	api.HandleFunc("/alerts", s.handleListAlerts).Methods(http.MethodGet)
	api.HandleFunc("/help", s.handleRequestHelp).Methods(http.MethodPost)
	api.HandleFunc("/help", s.handleClearHelp).Methods(http.MethodDelete)

	r.Handle("/metrics", promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{}))

	// Basic Liveness Probe
	r.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	// Readiness follows the transport link.
	r.HandleFunc("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if !facade.Ready() {
			http.Error(w, "transport not connected", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	s.network = opts.Network
	s.server = &http.Server{
		Addr:         opts.Addr,
		Handler:      r,
		ReadTimeout:  opts.Timeout,
		WriteTimeout: opts.Timeout,
	}
	return s
}

// Start serves until ctx is canceled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	log.Info("Starting HTTP Server", "network", s.network, "addr", s.server.Addr)

	ln, err := net.Listen(s.network, s.server.Addr)
	if err != nil {
		return err
	}

	errCh := make(chan error, 1)
	go func() {
		if err := s.server.Serve(ln); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.server.Shutdown(shutdownCtx)
	}
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler { return s.server.Handler }

func (s *Server) handleListNodes(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.facade.Nodes())
}

func (s *Server) handleGetNode(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	view, ok := s.facade.Node(id)
	if !ok {
		writeError(w, http.StatusNotFound, "unknown node "+id)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *Server) handleForgetNode(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if !s.facade.ForgetNode(id) {
		writeError(w, http.StatusNotFound, "unknown node "+id)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type sendRequest struct {
	Destination string `json:"destination"`
	Text        string `json:"text"`
	WantAck     bool   `json:"want_ack"`
}

func (s *Server) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	var req sendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Text == "" {
		writeError(w, http.StatusBadRequest, "text is required")
		return
	}
	if err := s.facade.RequestSend(r.Context(), req.Destination, req.Text, req.WantAck); err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) handleListAlerts(w http.ResponseWriter, r *http.Request) {
	alerts := s.facade.ActiveAlerts()
	if alerts == nil {
		alerts = []mesh.AlertEvent{}
	}
	writeJSON(w, http.StatusOK, alerts)
}

func (s *Server) handleRequestHelp(w http.ResponseWriter, r *http.Request) {
	s.facade.RequestHelp()
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) handleClearHelp(w http.ResponseWriter, r *http.Request) {
	s.facade.ClearHelp()
	w.WriteHeader(http.StatusNoContent)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Warn("Failed to encode response", "err", err.Error())
	}
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}
