// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

package pmu

import (
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	testingclock "k8s.io/utils/clock/testing"

	"github.com/sustainable-computing-io/uncorepmu/internal/firmware"
)

type testDevice struct {
	*Device
	fw    *firmware.Fake
	clock *testingclock.FakeClock
}

func newTestDevice(t *testing.T, kind Kind) testDevice {
	t.Helper()
	fw := firmware.NewFake(firmware.WithFakeNodes(2))
	return newTestDeviceWith(t, fw, kind, 0, 0)
}

func newTestDeviceWith(t *testing.T, fw *firmware.Fake, kind Kind, node, cpu int) testDevice {
	t.Helper()
	fc := testingclock.NewFakeClock(time.Now())
	ss, rd := kind.Selectors()
	dev, err := NewDevice(DeviceConfig{
		Kind:     kind,
		Node:     node,
		CPU:      cpu,
		Counters: firmware.NewCounters(fw, ss, rd, slog.Default()),
		Interval: DefaultInterval,
		Clock:    fc,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = dev.Close() })
	return testDevice{Device: dev, fw: fw, clock: fc}
}

// advance moves the raw hardware counter of slot forward
func (td testDevice) advance(slot int, delta uint32) {
	_, rd := td.kind.Selectors()
	td.fw.Advance(rd, td.node, slot, delta)
}

func (td testDevice) reads() int {
	_, rd := td.kind.Selectors()
	return td.fw.CallCount(rd)
}

// tick fires the accumulator once it is waiting on the clock
func (td testDevice) tick(t *testing.T) {
	t.Helper()
	require.Eventually(t, td.clock.HasWaiters, time.Second, time.Millisecond, "accumulator not waiting")
	td.clock.Step(td.interval)
}

func (td testDevice) open(t *testing.T, event uint32, start bool) *Session {
	t.Helper()
	s, err := td.NewSession(Attr{Event: event})
	require.NoError(t, err)
	require.NoError(t, s.Add(start))
	return s
}
