// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

package monitor

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"
	"k8s.io/utils/clock"

	"github.com/sustainable-computing-io/uncorepmu/internal/pmu"
	"github.com/sustainable-computing-io/uncorepmu/internal/service"
)

// DeviceSource lists the devices to monitor; *pmu.Registry implements it
type DeviceSource interface {
	Devices() []*pmu.Device
}

type DataProvider interface {
	// Snapshot returns the current counter data
	Snapshot() (*Snapshot, error)

	// DataChannel returns a channel that signals when new data is available
	DataChannel() <-chan struct{}
}

// Service defines the interface for the counter monitoring service
type Service interface {
	service.Service
	DataProvider
}

// CounterMonitor periodically reads every running session and keeps the
// latest view of all devices as an immutable snapshot
type CounterMonitor struct {
	logger *slog.Logger
	source DeviceSource

	interval     time.Duration
	clock        clock.WithTicker
	maxStaleness time.Duration
	liveWindow   time.Duration

	// signals when a snapshot has been updated
	dataCh chan struct{}

	computeGroup singleflight.Group
	snapshot     atomic.Pointer[Snapshot]

	// unix nano time of the last completed collection
	lastCollect atomic.Int64

	collectionCtx    context.Context
	collectionCancel context.CancelFunc
}

var (
	_ Service              = (*CounterMonitor)(nil)
	_ service.Initializer  = (*CounterMonitor)(nil)
	_ service.Runner       = (*CounterMonitor)(nil)
	_ service.Shutdowner   = (*CounterMonitor)(nil)
	_ service.LiveChecker  = (*CounterMonitor)(nil)
	_ service.ReadyChecker = (*CounterMonitor)(nil)
)

// NewCounterMonitor creates a monitor over the devices of source
func NewCounterMonitor(source DeviceSource, applyOpts ...OptionFn) *CounterMonitor {
	opts := DefaultOpts()
	for _, apply := range applyOpts {
		apply(&opts)
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &CounterMonitor{
		logger:           opts.logger.With("service", "monitor"),
		source:           source,
		interval:         opts.interval,
		clock:            opts.clock,
		maxStaleness:     opts.maxStaleness,
		liveWindow:       time.Duration(opts.livenessFactor) * opts.interval,
		dataCh:           make(chan struct{}, 1),
		collectionCtx:    ctx,
		collectionCancel: cancel,
	}
}

func (m *CounterMonitor) Name() string {
	return "monitor"
}

func (m *CounterMonitor) Init() error {
	// signal now so that exporters can construct descriptors
	m.signalNewData()
	return nil
}

func (m *CounterMonitor) Run(ctx context.Context) error {
	m.logger.Info("Monitor is running...", "interval", m.interval)
	m.collectionLoop()
	<-ctx.Done()
	m.collectionCancel()
	m.logger.Info("Monitor has terminated.")
	return nil
}

func (m *CounterMonitor) Shutdown() error {
	m.logger.Info("shutting down monitor")
	m.collectionCancel()
	return nil
}

// IsLive reports whether periodic collection keeps up. Without an interval
// the monitor is passive and always live.
func (m *CounterMonitor) IsLive() bool {
	if m.interval <= 0 {
		return true
	}
	last := m.lastCollect.Load()
	if last == 0 {
		// not collected yet; Run may not have started
		return true
	}
	age := m.clock.Since(time.Unix(0, last))
	return age <= m.liveWindow
}

// IsReady reports whether a snapshot has been taken
func (m *CounterMonitor) IsReady() bool {
	return m.snapshot.Load() != nil
}

func (m *CounterMonitor) DataChannel() <-chan struct{} {
	return m.dataCh
}

// Snapshot returns a copy of recent data, collecting first if the last
// snapshot is older than the staleness limit
func (m *CounterMonitor) Snapshot() (*Snapshot, error) {
	if err := m.ensureFreshData(); err != nil {
		return nil, err
	}

	snapshot := m.snapshot.Load()
	if snapshot == nil {
		return nil, fmt.Errorf("failed to get snapshot")
	}
	return snapshot.Clone(), nil
}

func (m *CounterMonitor) signalNewData() {
	select {
	case m.dataCh <- struct{}{}:
		m.logger.Debug("Data channel updated")
	default:
		m.logger.Debug("Data channel is full")
	}
}

func (m *CounterMonitor) collectionLoop() {
	if err := m.synchronizedRefresh(); err != nil {
		m.logger.Error("Failed to collect initial counter data", "error", err)
	}

	if m.interval > 0 {
		m.scheduleNextCollection()
	}
}

func (m *CounterMonitor) scheduleNextCollection() {
	timer := m.clock.After(m.interval)
	go func() {
		select {
		case <-timer:
			if err := m.synchronizedRefresh(); err != nil {
				m.logger.Error("Failed to collect counter data", "error", err)
			}
			m.scheduleNextCollection()

		case <-m.collectionCtx.Done():
			m.logger.Info("Collection loop terminated")
			return
		}
	}()
}

func (m *CounterMonitor) ensureFreshData() error {
	if m.isFresh() {
		return nil
	}
	return m.synchronizedRefresh()
}

// synchronizedRefresh takes a new snapshot while ensuring that only one
// goroutine collects at a time
func (m *CounterMonitor) synchronizedRefresh() error {
	_, err, _ := m.computeGroup.Do("collect", func() (any, error) {
		// callers that waited on an in-flight collection find fresh data here
		if m.isFresh() {
			return nil, nil
		}
		return nil, m.refreshSnapshot()
	})
	return err
}

func (m *CounterMonitor) isFresh() bool {
	snapshot := m.snapshot.Load()
	if snapshot == nil || snapshot.Timestamp.IsZero() {
		return false
	}
	return m.clock.Since(snapshot.Timestamp) <= m.maxStaleness
}

func (m *CounterMonitor) refreshSnapshot() error {
	started := m.clock.Now()
	prev := m.snapshot.Load()

	devices := m.source.Devices()
	next := &Snapshot{
		Timestamp: started,
		Devices:   make([]DeviceStats, 0, len(devices)),
	}

	readErrors := 0
	for _, dev := range devices {
		stats, failed := m.collectDevice(dev)
		readErrors += failed
		next.Devices = append(next.Devices, stats)
	}
	if prev != nil {
		next.computeRates(prev)
	}

	m.snapshot.Store(next)
	m.lastCollect.Store(started.UnixNano())
	m.signalNewData()

	m.logger.Debug("snapshot refreshed",
		"devices", len(next.Devices),
		"read-errors", readErrors,
		"duration", m.clock.Since(started))
	return nil
}

// collectDevice reads every running session of dev. Read failures keep the
// last total and are reported by the device's firmware error count.
func (m *CounterMonitor) collectDevice(dev *pmu.Device) (DeviceStats, int) {
	sessions := dev.Sessions()
	stats := DeviceStats{
		Name:         dev.Name(),
		Kind:         dev.Kind().String(),
		Node:         dev.Node(),
		CPU:          dev.CPU(),
		MaxSlots:     dev.MaxSlots(),
		SamplerArmed: dev.SamplerArmed(),
		Sessions:     make([]SessionStats, 0, len(sessions)),
	}

	failed := 0
	for _, s := range sessions {
		if _, err := s.Read(); err != nil {
			failed++
			m.logger.Debug("session read failed", "session", s.ID(), "error", err)
		}
		info := s.Info()
		stats.Sessions = append(stats.Sessions, SessionStats{
			ID:      info.ID,
			Event:   info.Event.Name,
			EventID: info.Event.ID,
			Slot:    info.Slot,
			State:   info.State.String(),
			Count:   info.Count,
		})
	}

	// read after the sessions so a failure above is included
	stats.ActiveSlots = dev.ActiveSlots()
	stats.FirmwareErrors = dev.FirmwareErrors()
	return stats, failed
}
