// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

package collector

import (
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/sustainable-computing-io/uncorepmu/internal/monitor"
)

// CounterCollector exposes devices and session totals from a single monitor
// snapshot per scrape
type CounterCollector struct {
	dp     monitor.DataProvider
	logger *slog.Logger

	mutex sync.RWMutex
	ready bool

	deviceInfo     *prometheus.Desc
	activeSlots    *prometheus.Desc
	samplerArmed   *prometheus.Desc
	firmwareErrors *prometheus.Desc

	eventCount *prometheus.Desc
	eventRate  *prometheus.Desc
}

// NewCounterCollector creates a collector reading from dp. It reports
// nothing until dp signals its first data.
func NewCounterCollector(dp monitor.DataProvider, logger *slog.Logger) *CounterCollector {
	const device = "device"
	sessionLabels := []string{device, "event", "event_id", "slot", "session"}

	c := &CounterCollector{
		dp:     dp,
		logger: logger.With("collector", "counter"),

		deviceInfo: prometheus.NewDesc(
			prometheus.BuildFQName(uncoreNS, device, "info"),
			"Uncore PMU device with its kind, node and affinity cpu",
			[]string{device, "kind", "node", "cpu"}, nil),
		activeSlots: prometheus.NewDesc(
			prometheus.BuildFQName(uncoreNS, device, "active_slots"),
			"Number of hardware counters in use",
			[]string{device}, nil),
		samplerArmed: prometheus.NewDesc(
			prometheus.BuildFQName(uncoreNS, device, "sampler_armed"),
			"1 while the periodic accumulator of the device is running",
			[]string{device}, nil),
		firmwareErrors: prometheus.NewDesc(
			prometheus.BuildFQName(uncoreNS, "firmware", "errors_total"),
			"Failed counter control calls",
			[]string{device}, nil),

		eventCount: prometheus.NewDesc(
			prometheus.BuildFQName(uncoreNS, "event", "count_total"),
			"Accumulated count of a monitoring session",
			sessionLabels, nil),
		eventRate: prometheus.NewDesc(
			prometheus.BuildFQName(uncoreNS, "event", "rate"),
			"Count increase per second of a monitoring session between the last two collections",
			sessionLabels, nil),
	}

	go c.waitForData()
	return c
}

func (c *CounterCollector) waitForData() {
	<-c.dp.DataChannel()
	c.mutex.Lock()
	c.ready = true
	c.mutex.Unlock()
}

func (c *CounterCollector) isReady() bool {
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	return c.ready
}

// Describe implements the prometheus.Collector interface
func (c *CounterCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.deviceInfo
	ch <- c.activeSlots
	ch <- c.samplerArmed
	ch <- c.firmwareErrors
	ch <- c.eventCount
	ch <- c.eventRate
}

// Collect implements the prometheus.Collector interface
func (c *CounterCollector) Collect(ch chan<- prometheus.Metric) {
	if !c.isReady() {
		c.logger.Debug("Collect called before monitor is ready")
		return
	}

	started := time.Now()
	defer func() {
		c.logger.Debug("Collected counter data", "duration", time.Since(started))
	}()

	snapshot, err := c.dp.Snapshot()
	if err != nil {
		c.logger.Error("Failed to collect counter data", "error", err)
		return
	}

	for _, d := range snapshot.Devices {
		ch <- prometheus.MustNewConstMetric(c.deviceInfo, prometheus.GaugeValue, 1,
			d.Name, d.Kind, strconv.Itoa(d.Node), strconv.Itoa(d.CPU))
		ch <- prometheus.MustNewConstMetric(c.activeSlots, prometheus.GaugeValue,
			float64(d.ActiveSlots), d.Name)
		ch <- prometheus.MustNewConstMetric(c.samplerArmed, prometheus.GaugeValue,
			boolToFloat(d.SamplerArmed), d.Name)
		ch <- prometheus.MustNewConstMetric(c.firmwareErrors, prometheus.CounterValue,
			float64(d.FirmwareErrors), d.Name)

		for _, s := range d.Sessions {
			labels := []string{
				d.Name,
				s.Event,
				"0x" + strconv.FormatUint(uint64(s.EventID), 16),
				strconv.Itoa(s.Slot),
				s.ID,
			}
			ch <- prometheus.MustNewConstMetric(c.eventCount, prometheus.CounterValue, float64(s.Count), labels...)
			ch <- prometheus.MustNewConstMetric(c.eventRate, prometheus.GaugeValue, s.Rate, labels...)
		}
	}
}

func boolToFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
