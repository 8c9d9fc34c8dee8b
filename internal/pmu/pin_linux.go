// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

//go:build linux

package pmu

import (
	"fmt"
	"runtime"

	"golang.org/x/sys/unix"
)

// pinThread binds the calling goroutine to its OS thread and that thread to
// cpu. The thread is never unlocked so it is discarded when the goroutine
// exits.
func pinThread(cpu int) error {
	if cpu < 0 {
		return fmt.Errorf("no affinity cpu")
	}
	runtime.LockOSThread()

	var set unix.CPUSet
	set.Set(cpu)
	if err := unix.SchedSetaffinity(0, &set); err != nil {
		return fmt.Errorf("sched_setaffinity(%d): %w", cpu, err)
	}
	return nil
}
