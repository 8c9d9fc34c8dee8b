// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

package collector

import (
	"errors"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/sustainable-computing-io/uncorepmu/internal/monitor"
)

type mockDataProvider struct {
	mock.Mock
	ch chan struct{}
}

func newMockDataProvider() *mockDataProvider {
	return &mockDataProvider{ch: make(chan struct{}, 1)}
}

func (m *mockDataProvider) Snapshot() (*monitor.Snapshot, error) {
	args := m.Called()
	if s := args.Get(0); s != nil {
		return s.(*monitor.Snapshot), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockDataProvider) DataChannel() <-chan struct{} {
	return m.ch
}

func testSnapshot() *monitor.Snapshot {
	return &monitor.Snapshot{
		Timestamp: time.Now(),
		Devices: []monitor.DeviceStats{{
			Name: "uncore_dmc_0", Kind: "dmc", Node: 0, CPU: 0,
			ActiveSlots: 1, MaxSlots: 4, SamplerArmed: true, FirmwareErrors: 2,
			Sessions: []monitor.SessionStats{{
				ID: "uncore_dmc_0:1", Event: "data_transfers", EventID: 0xd,
				Slot: 0, State: "running", Count: 4096, Rate: 12.5,
			}},
		}, {
			Name: "uncore_l3c_1", Kind: "l3c", Node: 1, CPU: 32,
		}},
	}
}

func readyCollector(t *testing.T, dp *mockDataProvider) *CounterCollector {
	t.Helper()
	c := NewCounterCollector(dp, slog.Default())
	dp.ch <- struct{}{}
	require.Eventually(t, c.isReady, time.Second, time.Millisecond)
	return c
}

func TestCounterCollector_Describe(t *testing.T) {
	c := NewCounterCollector(newMockDataProvider(), slog.Default())
	ch := make(chan *prometheus.Desc, 10)
	c.Describe(ch)
	assert.Len(t, ch, 6)
}

func TestCounterCollector_NotReady(t *testing.T) {
	dp := newMockDataProvider()
	c := NewCounterCollector(dp, slog.Default())

	assert.Equal(t, 0, testutil.CollectAndCount(c))
	dp.AssertNotCalled(t, "Snapshot")
}

func TestCounterCollector_Collect(t *testing.T) {
	dp := newMockDataProvider()
	dp.On("Snapshot").Return(testSnapshot(), nil)
	c := readyCollector(t, dp)

	expected := `
# HELP uncore_device_info Uncore PMU device with its kind, node and affinity cpu
# TYPE uncore_device_info gauge
uncore_device_info{cpu="0",device="uncore_dmc_0",kind="dmc",node="0"} 1
uncore_device_info{cpu="32",device="uncore_l3c_1",kind="l3c",node="1"} 1
# HELP uncore_device_active_slots Number of hardware counters in use
# TYPE uncore_device_active_slots gauge
uncore_device_active_slots{device="uncore_dmc_0"} 1
uncore_device_active_slots{device="uncore_l3c_1"} 0
# HELP uncore_device_sampler_armed 1 while the periodic accumulator of the device is running
# TYPE uncore_device_sampler_armed gauge
uncore_device_sampler_armed{device="uncore_dmc_0"} 1
uncore_device_sampler_armed{device="uncore_l3c_1"} 0
# HELP uncore_firmware_errors_total Failed counter control calls
# TYPE uncore_firmware_errors_total counter
uncore_firmware_errors_total{device="uncore_dmc_0"} 2
uncore_firmware_errors_total{device="uncore_l3c_1"} 0
# HELP uncore_event_count_total Accumulated count of a monitoring session
# TYPE uncore_event_count_total counter
uncore_event_count_total{device="uncore_dmc_0",event="data_transfers",event_id="0xd",session="uncore_dmc_0:1",slot="0"} 4096
# HELP uncore_event_rate Count increase per second of a monitoring session between the last two collections
# TYPE uncore_event_rate gauge
uncore_event_rate{device="uncore_dmc_0",event="data_transfers",event_id="0xd",session="uncore_dmc_0:1",slot="0"} 12.5
`
	require.NoError(t, testutil.CollectAndCompare(c, strings.NewReader(expected)))
	dp.AssertExpectations(t)
}

func TestCounterCollector_SnapshotError(t *testing.T) {
	dp := newMockDataProvider()
	dp.On("Snapshot").Return(nil, errors.New("collection failed"))
	c := readyCollector(t, dp)

	assert.Equal(t, 0, testutil.CollectAndCount(c))
}

func TestCounterCollector_ConcurrentCollect(t *testing.T) {
	dp := newMockDataProvider()
	dp.On("Snapshot").Return(testSnapshot(), nil)
	c := readyCollector(t, dp)

	var wg sync.WaitGroup
	for range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ch := make(chan prometheus.Metric, 32)
			c.Collect(ch)
			assert.Len(t, ch, 10)
		}()
	}
	wg.Wait()
}
