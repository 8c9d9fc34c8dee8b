// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

package server

import (
	"log/slog"
	"net/http"
	"net/http/pprof"

	"github.com/sustainable-computing-io/uncorepmu/internal/service"
)

type pp struct {
	api    APIService
	logger *slog.Logger
}

var _ service.Initializer = (*pp)(nil)

// NewPprof exposes the runtime profiles under /debug/pprof/
func NewPprof(api APIService, logger *slog.Logger) *pp {
	return &pp{
		api:    api,
		logger: logger.With("service", "pprof"),
	}
}

func (p *pp) Name() string {
	return "pprof"
}

func (p *pp) Init() error {
	p.logger.Warn("Profiling endpoints enabled")
	return p.api.Register("/debug/pprof/", "pprof", "Profiling Data", pprofHandlers())
}

func pprofHandlers() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/debug/pprof/", pprof.Index)
	mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
	mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
	return mux
}
