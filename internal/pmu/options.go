// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

package pmu

import (
	"log/slog"
	"slices"
	"time"

	"k8s.io/utils/clock"
)

type Opts struct {
	logger     *slog.Logger
	interval   time.Duration
	clock      clock.Clock
	pinSampler bool
	kinds      []Kind
	groups     []GroupSpec
}

// DefaultOpts returns the registry options used when none are given
func DefaultOpts() Opts {
	return Opts{
		logger:   slog.Default(),
		interval: DefaultInterval,
		clock:    clock.RealClock{},
		kinds:    slices.Clone(Kinds),
	}
}

// OptionFn is a function sets one more more options in Opts struct
type OptionFn func(*Opts)

// WithLogger sets the logger for the Registry and its devices
func WithLogger(logger *slog.Logger) OptionFn {
	return func(o *Opts) {
		o.logger = logger
	}
}

// WithInterval sets the accumulator interval of every device
func WithInterval(d time.Duration) OptionFn {
	return func(o *Opts) {
		o.interval = d
	}
}

// WithClock sets the clock driving the accumulators
func WithClock(c clock.Clock) OptionFn {
	return func(o *Opts) {
		o.clock = c
	}
}

// WithPinSampler pins each accumulator to its device's affinity cpu
func WithPinSampler(pin bool) OptionFn {
	return func(o *Opts) {
		o.pinSampler = pin
	}
}

// WithKinds limits registration to devices of the given kinds
func WithKinds(kinds ...Kind) OptionFn {
	return func(o *Opts) {
		o.kinds = kinds
	}
}

// WithGroups sets the event groups opened by Init
func WithGroups(groups ...GroupSpec) OptionFn {
	return func(o *Opts) {
		o.groups = groups
	}
}
