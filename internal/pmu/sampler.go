// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

package pmu

import "context"

// armLocked starts the accumulator goroutine; d.mu must be held
func (d *Device) armLocked() {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	d.armed = true
	d.stopSampler = cancel
	d.samplerDone = done
	d.arms.Add(1)

	d.logger.Debug("accumulator armed", "interval", d.interval)
	go d.runSampler(ctx, done)
}

// disarm stops the accumulator, if armed, and waits for it to exit
func (d *Device) disarm() {
	d.mu.Lock()
	cancel, done := d.stopSampler, d.samplerDone
	d.armed = false
	d.stopSampler = nil
	d.samplerDone = nil
	d.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

func (d *Device) runSampler(ctx context.Context, done chan struct{}) {
	defer close(done)

	if d.pin {
		if err := pinThread(d.cpu); err != nil {
			d.logger.Warn("failed to pin accumulator", "cpu", d.cpu, "error", err)
		}
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-d.clock.After(d.interval):
		}

		if !d.sample(ctx) {
			return
		}
	}
}

// sample folds every running session once. It returns false after disarming
// the accumulator because no occupied slot is running.
func (d *Device) sample(ctx context.Context) bool {
	d.mu.Lock()
	if ctx.Err() != nil {
		d.mu.Unlock()
		return false
	}
	sessions := d.runningSessionsLocked()
	if len(sessions) == 0 {
		d.stopSampler()
		d.armed = false
		d.stopSampler = nil
		d.samplerDone = nil
		d.mu.Unlock()
		d.logger.Debug("accumulator disarmed, no running counters")
		return false
	}
	d.mu.Unlock()

	for _, s := range sessions {
		s.sample()
	}
	return true
}
