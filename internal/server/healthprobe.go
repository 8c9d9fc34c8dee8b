// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

package server

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/sustainable-computing-io/uncorepmu/internal/service"
)

// HealthProbe serves liveness and readiness endpoints aggregated over all
// services implementing service.LiveChecker or service.ReadyChecker
type HealthProbe struct {
	logger    *slog.Logger
	apiServer APIService
	services  []service.Service
}

// ServiceHealth represents the health status of a single service
type ServiceHealth struct {
	Name  string `json:"name"`
	Live  *bool  `json:"live,omitempty"`
	Ready *bool  `json:"ready,omitempty"`
}

// HealthStatus represents the overall health status
type HealthStatus struct {
	Status   string          `json:"status"` // "ok" or "unhealthy"
	Services []ServiceHealth `json:"services"`
}

var (
	_ service.Initializer = (*HealthProbe)(nil)
	_ service.Runner      = (*HealthProbe)(nil)
)

// NewHealthProbe creates a new HealthProbe service
func NewHealthProbe(apiServer APIService, services []service.Service, logger *slog.Logger) *HealthProbe {
	return &HealthProbe{
		logger:    logger.With("service", "health-probe"),
		apiServer: apiServer,
		services:  services,
	}
}

func (h *HealthProbe) Name() string {
	return "health-probe"
}

func (h *HealthProbe) Init() error {
	h.logger.Info("Initializing health probe endpoints")

	if err := h.apiServer.Register(
		"/probe/livez",
		"Liveness Probe",
		"Returns 200 if all services are alive",
		http.HandlerFunc(h.handleLiveness),
	); err != nil {
		return err
	}

	return h.apiServer.Register(
		"/probe/readyz",
		"Readiness Probe",
		"Returns 200 if all services are ready",
		http.HandlerFunc(h.handleReadiness),
	)
}

// Run blocks until ctx is done; probes are served by the API server
func (h *HealthProbe) Run(ctx context.Context) error {
	<-ctx.Done()
	return nil
}

func (h *HealthProbe) handleLiveness(w http.ResponseWriter, _ *http.Request) {
	h.respond(w, func(svc service.Service) (ServiceHealth, bool, bool) {
		lc, ok := svc.(service.LiveChecker)
		if !ok {
			return ServiceHealth{}, false, false
		}
		live := lc.IsLive()
		return ServiceHealth{Name: svc.Name(), Live: &live}, live, true
	})
}

func (h *HealthProbe) handleReadiness(w http.ResponseWriter, _ *http.Request) {
	h.respond(w, func(svc service.Service) (ServiceHealth, bool, bool) {
		rc, ok := svc.(service.ReadyChecker)
		if !ok {
			return ServiceHealth{}, false, false
		}
		ready := rc.IsReady()
		return ServiceHealth{Name: svc.Name(), Ready: &ready}, ready, true
	})
}

// respond reports every service check applies to
func (h *HealthProbe) respond(w http.ResponseWriter, check func(service.Service) (health ServiceHealth, healthy, applies bool)) {
	status := HealthStatus{Status: "ok", Services: []ServiceHealth{}}
	for _, svc := range h.services {
		health, healthy, applies := check(svc)
		if !applies {
			continue
		}
		status.Services = append(status.Services, health)
		if !healthy {
			status.Status = "unhealthy"
		}
	}

	code := http.StatusOK
	if status.Status != "ok" {
		code = http.StatusServiceUnavailable
	}
	writeJSON(h.logger, w, code, status)
}
