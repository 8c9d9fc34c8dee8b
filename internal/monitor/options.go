// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

package monitor

import (
	"log/slog"
	"time"

	"k8s.io/utils/clock"
)

type Opts struct {
	logger       *slog.Logger
	interval     time.Duration
	clock        clock.WithTicker
	maxStaleness time.Duration

	// missed intervals after which the monitor is no longer live
	livenessFactor int
}

// DefaultOpts returns the options used when none are given
func DefaultOpts() Opts {
	return Opts{
		logger:       slog.Default(),
		interval:     5 * time.Second,
		clock:        clock.RealClock{},
		maxStaleness: 500 * time.Millisecond,

		livenessFactor: 3,
	}
}

// OptionFn is a function sets one more more options in Opts struct
type OptionFn func(*Opts)

// WithInterval sets the collection interval; 0 collects only on demand
func WithInterval(d time.Duration) OptionFn {
	return func(o *Opts) {
		o.interval = d
	}
}

// WithLogger sets the logger for the CounterMonitor
func WithLogger(logger *slog.Logger) OptionFn {
	return func(o *Opts) {
		o.logger = logger
	}
}

// WithClock sets the clock the CounterMonitor
func WithClock(c clock.WithTicker) OptionFn {
	return func(o *Opts) {
		o.clock = c
	}
}

// WithMaxStaleness sets how old a snapshot may be before Snapshot collects
func WithMaxStaleness(d time.Duration) OptionFn {
	return func(o *Opts) {
		o.maxStaleness = d
	}
}

// WithLivenessFactor sets how many intervals may pass without a collection
// before IsLive fails. Values below 1 are ignored.
func WithLivenessFactor(n int) OptionFn {
	return func(o *Opts) {
		if n >= 1 {
			o.livenessFactor = n
		}
	}
}
