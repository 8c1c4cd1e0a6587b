// Package server exposes the operational surface of the service: an HTTP
// API for health, metrics and cycle reports, and a gRPC health service.
package server

import (
	"context"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/postfiatorg/validator-history-service/internal/cycle"
	"github.com/postfiatorg/validator-history-service/internal/events"
)

// Cycles is the part of the orchestrator the server drives.
type Cycles interface {
	Run(ctx context.Context) (*cycle.Report, error)
	LastReport() *cycle.Report
	Running() bool
}

// Server serves the operational endpoints.
type Server struct {
	cycles   Cycles
	hub      *events.Hub
	gatherer prometheus.Gatherer
	health   *health.Server
	logger   *slog.Logger
}

// New returns a Server. gatherer backs /metrics; nil uses the default
// registry. A nil hub disables the event stream.
func New(cycles Cycles, hub *events.Hub, gatherer prometheus.Gatherer, logger *slog.Logger) *Server {
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	hs := health.NewServer()
	hs.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
	return &Server{cycles: cycles, hub: hub, gatherer: gatherer, health: hs, logger: logger}
}

// SetServing flips the gRPC health status of the service.
func (s *Server) SetServing(serving bool) {
	st := healthpb.HealthCheckResponse_NOT_SERVING
	if serving {
		st = healthpb.HealthCheckResponse_SERVING
	}
	s.health.SetServingStatus("", st)
}

// Shutdown marks every service NOT_SERVING.
func (s *Server) Shutdown() {
	s.health.Shutdown()
}
