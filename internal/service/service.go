// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

package service

import "context"

// Service is the interface that all services must implement
type Service interface {
	// Name returns the name of the service
	Name() string
}

// Initializer is implemented by services that need to be set up before any
// service runs
type Initializer interface {
	Service
	Init() error
}

// Runner is implemented by services that run in background
type Runner interface {
	Service
	// Run runs the service and is expected to block until ctx is done
	Run(ctx context.Context) error
}

// Shutdowner is implemented by services that hold resources to release
type Shutdowner interface {
	Service
	Shutdown() error
}

// LiveChecker is implemented by services that can report being stuck
type LiveChecker interface {
	Service
	IsLive() bool
}

// ReadyChecker is implemented by services that take a while to become usable
type ReadyChecker interface {
	Service
	IsReady() bool
}
