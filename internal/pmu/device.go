// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

package pmu

import (
	"cmp"
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"k8s.io/utils/clock"
)

// DefaultInterval is how often running counters are folded into their
// totals. 32-bit counters on these devices take well over 2s to wrap.
const DefaultInterval = 2 * time.Second

// MaxInterval bounds the accumulator interval so that no counter can wrap
// twice between folds. At this interval a wrap needs more than 850M events
// per second, above what an L3 or DRAM controller counts.
const MaxInterval = 5 * time.Second

// CounterControl programs, stops and reads the physical counters of one
// device kind. firmware.Counters is the production implementation.
type CounterControl interface {
	StartOrConfigure(node, slot int, event uint32) error
	Stop(node, slot int) error
	Read(node, slot int) (uint64, error)
}

// DeviceConfig holds everything needed to create a Device
type DeviceConfig struct {
	Kind     Kind
	Node     int
	CPU      int    // affinity cpu, -1 if the node has no online cpu
	Base     string // opaque handle from discovery
	Counters CounterControl

	Interval   time.Duration
	Clock      clock.Clock
	Logger     *slog.Logger
	PinSampler bool
}

// Device is one uncore PMU instance: a bank of MaxSlots counters of a single
// kind on a single node.
type Device struct {
	name     string
	kind     Kind
	node     int
	cpu      int
	base     string
	interval time.Duration
	counters CounterControl
	clock    clock.Clock
	logger   *slog.Logger
	pin      bool

	fwErrors atomic.Uint64
	arms     atomic.Uint64

	// mu guards everything below; never held across a firmware call
	mu       sync.Mutex
	slots    slotAllocator
	table    [MaxSlots]*Session
	running  uint32 // slots whose session is counting
	sessions map[string]*Session
	seq      uint64
	closed   bool

	armed       bool
	stopSampler context.CancelFunc
	samplerDone chan struct{}
}

// NewDevice creates a device; no hardware is touched until a session starts
func NewDevice(cfg DeviceConfig) (*Device, error) {
	if !cfg.Kind.Valid() {
		return nil, fmt.Errorf("invalid device kind %d", int(cfg.Kind))
	}
	if cfg.Node < 0 {
		return nil, fmt.Errorf("invalid node %d", cfg.Node)
	}
	if cfg.Counters == nil {
		return nil, fmt.Errorf("no counter control for %s", DeviceName(cfg.Kind, cfg.Node))
	}
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.Interval > MaxInterval {
		return nil, fmt.Errorf("interval %s of %s exceeds %s: counters could wrap twice between folds",
			cfg.Interval, DeviceName(cfg.Kind, cfg.Node), MaxInterval)
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.RealClock{}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	name := DeviceName(cfg.Kind, cfg.Node)
	return &Device{
		name:     name,
		kind:     cfg.Kind,
		node:     cfg.Node,
		cpu:      cfg.CPU,
		base:     cfg.Base,
		interval: cfg.Interval,
		counters: cfg.Counters,
		clock:    cfg.Clock,
		logger:   cfg.Logger.With("device", name),
		pin:      cfg.PinSampler,
		slots:    newSlotAllocator(MaxSlots),
		sessions: make(map[string]*Session),
	}, nil
}

func (d *Device) Name() string {
	return d.name
}

func (d *Device) Kind() Kind {
	return d.kind
}

func (d *Device) Node() int {
	return d.node
}

// CPU returns the affinity cpu of the device or -1
func (d *Device) CPU() int {
	return d.cpu
}

// Base returns the discovery handle of the device
func (d *Device) Base() string {
	return d.base
}

func (d *Device) MaxSlots() int {
	return MaxSlots
}

func (d *Device) MaxEvents() uint32 {
	return d.kind.MaxEvents()
}

func (d *Device) Interval() time.Duration {
	return d.interval
}

// Events returns the named events the device can count
func (d *Device) Events() []Event {
	return d.kind.Events()
}

// ActiveSlots returns the number of occupied counter slots
func (d *Device) ActiveSlots() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.slots.count()
}

// SamplerArmed reports whether the periodic accumulator is running
func (d *Device) SamplerArmed() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.armed
}

// SamplerArms returns how many times the accumulator has been armed
func (d *Device) SamplerArms() uint64 {
	return d.arms.Load()
}

// FirmwareErrors returns the number of failed firmware calls on this device
func (d *Device) FirmwareErrors() uint64 {
	return d.fwErrors.Load()
}

// Sessions returns all sessions that have not been removed, oldest first
func (d *Device) Sessions() []*Session {
	d.mu.Lock()
	sessions := make([]*Session, 0, len(d.sessions))
	for _, s := range d.sessions {
		sessions = append(sessions, s)
	}
	d.mu.Unlock()

	slices.SortFunc(sessions, func(a, b *Session) int {
		return cmp.Compare(a.seq, b.seq)
	})
	return sessions
}

// Session returns the session with the given id
func (d *Device) Session(id string) (*Session, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	s, ok := d.sessions[id]
	if !ok {
		return nil, fmt.Errorf("session %q: %w", id, ErrNotFound)
	}
	return s, nil
}

// Close removes every session, disarms the accumulator and waits for it to
// exit. The device cannot be used afterwards.
func (d *Device) Close() error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	sessions := make([]*Session, 0, len(d.sessions))
	for _, s := range d.sessions {
		sessions = append(sessions, s)
	}
	d.mu.Unlock()

	var errs []error
	for _, s := range sessions {
		if err := s.Remove(); err != nil {
			errs = append(errs, err)
		}
	}

	d.disarm()
	d.logger.Info("device closed", "sessions", len(sessions))

	if len(errs) > 0 {
		return fmt.Errorf("failed to cleanly remove sessions of %s: %v", d.name, errs)
	}
	return nil
}

func (d *Device) isClosed() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.closed
}

// register assigns the id and logger of a freshly initialized session and
// publishes it; both are set before Close can observe the session
func (d *Device) register(s *Session) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return fmt.Errorf("%s: %w", d.name, ErrNotFound)
	}
	d.seq++
	s.seq = d.seq
	s.id = fmt.Sprintf("%s:%d", d.name, s.seq)
	s.logger = d.logger.With("session", s.id, "event", s.event.Name)
	d.sessions[s.id] = s
	return nil
}

// attach reserves a slot for s
func (d *Device) attach(s *Session) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return -1, fmt.Errorf("%s: %w", d.name, ErrNotFound)
	}
	slot, err := d.slots.alloc()
	if err != nil {
		return -1, fmt.Errorf("%s: %d of %d counters in use: %w", d.name, d.slots.count(), MaxSlots, err)
	}
	d.table[slot] = s
	return slot, nil
}

// detach releases the slot of s (if any) and forgets the session
func (d *Device) detach(s *Session, slot int) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if slot >= 0 && d.table[slot] == s {
		d.running &^= 1 << slot
		d.table[slot] = nil
		d.slots.free(slot)
	}
	delete(d.sessions, s.id)
}

// setRunning flips the running bit of slot. Marking a slot running arms the
// accumulator in the same critical section.
func (d *Device) setRunning(slot int, running bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !running {
		d.running &^= 1 << slot
		return
	}
	d.running |= 1 << slot
	if !d.armed && !d.closed {
		d.armLocked()
	}
}

// runningSessions returns the sessions occupying running slots
func (d *Device) runningSessionsLocked() []*Session {
	var sessions []*Session
	for slot, s := range d.table {
		if s != nil && d.running&(1<<slot) != 0 {
			sessions = append(sessions, s)
		}
	}
	return sessions
}

func (d *Device) firmwareError(op string, slot int, err error) {
	d.fwErrors.Add(1)
	d.logger.Error("firmware call failed", "op", op, "slot", slot, "error", err)
}
