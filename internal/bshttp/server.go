// Package bshttp is the health/metrics HTTP surface for bgpstream-serve,
// adapted from the teacher's internal/http package: same
// healthz/readyz/metrics mux and listen/shutdown shape, generalized from
// a dual-Kafka-consumer-plus-Postgres readiness check down to a single
// Coordinator (one stream, one backend, no database of its own).
package bshttp

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// CoordinatorStatus is the slice of coordinator.Coordinator this package
// depends on, kept as an interface so tests can substitute a fake.
type CoordinatorStatus interface {
	IsJoined() bool
}

type Server struct {
	srv         *http.Server
	coordinator CoordinatorStatus
	logger      *zap.Logger
}

// NewServer builds the mux (/healthz, /readyz, /metrics) bound to addr.
func NewServer(addr string, coordinator CoordinatorStatus, logger *zap.Logger) *Server {
	s := &Server{
		coordinator: coordinator,
		logger:      logger,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealthz)
	mux.HandleFunc("/readyz", s.handleReadyz)
	mux.Handle("/metrics", promhttp.Handler())

	s.srv = &http.Server{
		Addr:    addr,
		Handler: mux,
	}
	return s
}

func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.srv.Addr)
	if err != nil {
		return err
	}
	s.logger.Info("HTTP server listening", zap.String("addr", s.srv.Addr))
	go func() {
		if err := s.srv.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.logger.Error("HTTP server error", zap.Error(err))
		}
	}()
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	_, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	checks := map[string]string{}
	allOK := true

	if s.coordinator != nil && s.coordinator.IsJoined() {
		checks["coordinator"] = "ok"
	} else {
		checks["coordinator"] = "not_on"
		allOK = false
	}

	w.Header().Set("Content-Type", "application/json")
	status := "ready"
	httpStatus := http.StatusOK
	if !allOK {
		status = "not_ready"
		httpStatus = http.StatusServiceUnavailable
	}

	w.WriteHeader(httpStatus)
	json.NewEncoder(w).Encode(map[string]any{
		"status": status,
		"checks": checks,
	})
}
