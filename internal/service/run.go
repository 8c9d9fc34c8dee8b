// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

package service

import (
	"context"
	"log/slog"
	"os"

	"github.com/oklog/run"
)

// Run runs every Runner in its own actor of a run group. When the first one
// returns, all others are interrupted and every service implementing
// Shutdowner is shut down.
func Run(outer context.Context, logger *slog.Logger, services []Service) error {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(os.Stderr, nil))
	}

	ctx, cancel := context.WithCancel(outer)
	defer cancel()

	var g run.Group
	for _, s := range services {
		runner, ok := s.(Runner)
		if !ok {
			logger.Debug("service does not run in background", "service", s.Name())
			continue
		}

		g.Add(
			func() error {
				logger.Info("Running service", "service", s.Name())
				return runner.Run(ctx)
			},
			func(err error) {
				cancel()
				if err != nil {
					logger.Warn("service terminated", "service", s.Name(), "reason", err)
				}
				shutdown(logger, s)
			},
		)
	}

	logger.Info("Running all services")
	return g.Run()
}

func shutdown(logger *slog.Logger, s Service) {
	srv, ok := s.(Shutdowner)
	if !ok {
		return
	}
	logger.Info("shutting down", "service", s.Name())
	if err := srv.Shutdown(); err != nil {
		logger.Warn("service shutdown failed", "service", s.Name(), "error", err)
	}
}
