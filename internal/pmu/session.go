// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

package pmu

import (
	"fmt"
	"log/slog"
	"slices"
	"sync"
)

// State is the lifecycle state of a Session
type State int

const (
	StateCreated State = iota // initialized, no slot
	StateAdded                // owns a slot, counter not running
	StateRunning
	StateStopped // owns a slot, total is up to date
	StateRemoved
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateAdded:
		return "added"
	case StateRunning:
		return "running"
	case StateStopped:
		return "stopped"
	case StateRemoved:
		return "removed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Exclude is a set of privilege level filters. Uncore counters observe the
// whole socket and cannot honour any of them.
type Exclude uint8

const (
	ExcludeUser Exclude = 1 << iota
	ExcludeKernel
	ExcludeHypervisor
	ExcludeIdle
	ExcludeHost
	ExcludeGuest
)

// Attr describes what a session counts
type Attr struct {
	Event        uint32
	SamplePeriod uint64
	PerTask      bool
	Exclude      Exclude
}

// Member is an entry of an event group. Software members report a nil device.
type Member interface {
	Device() *Device
}

// SoftwareEvent is a group member that does not use a hardware counter
type SoftwareEvent struct {
	Name string
}

func (SoftwareEvent) Device() *Device {
	return nil
}

// Session is one logical counter on a device. It owns at most one slot and
// keeps a 64-bit total across stop/start cycles.
type Session struct {
	dev    *Device
	event  Event
	logger *slog.Logger

	// assigned by the device on registration
	id  string
	seq uint64

	mu        sync.Mutex
	state     State
	slot      int
	prev      uint32 // last raw value folded
	count     uint64
	remainder uint64 // raw counts not yet making a full unit
	upToDate  bool
}

var _ Member = (*Session)(nil)

// NewSession validates attr and group and creates a session on d. group lists
// the other members of the event group the session joins.
func (d *Device) NewSession(attr Attr, group ...Member) (*Session, error) {
	if attr.SamplePeriod != 0 || attr.PerTask {
		return nil, fmt.Errorf("%s: sampling and per-task counting: %w", d.name, ErrUnsupported)
	}
	if attr.Exclude != 0 {
		return nil, fmt.Errorf("%s: exclude filters 0x%x: %w", d.name, uint8(attr.Exclude), ErrUnsupported)
	}
	if d.cpu < 0 {
		return nil, fmt.Errorf("%s on node %d: %w", d.name, d.node, ErrInvalidTarget)
	}
	event, err := d.kind.Event(attr.Event)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", d.name, err)
	}

	s := &Session{
		dev:   d,
		event: event,
		state: StateCreated,
		slot:  -1,
	}
	if err := ValidateGroup(d, append(slices.Clone(group), s)); err != nil {
		return nil, err
	}
	if err := d.register(s); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Session) ID() string {
	return s.id
}

// Device returns the device the session counts on
func (s *Session) Device() *Device {
	return s.dev
}

func (s *Session) Event() Event {
	return s.event
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Slot returns the counter slot of the session or -1
func (s *Session) Slot() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.slot
}

// Count returns the accumulated total without touching hardware
func (s *Session) Count() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.count
}

// Add reserves a counter slot and, if start is set, starts counting.
// ErrResourceExhausted is returned while all slots are taken.
func (s *Session) Add(start bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateCreated {
		return fmt.Errorf("add %s in state %s: %w", s.id, s.state, ErrInvalidState)
	}

	slot, err := s.dev.attach(s)
	if err != nil {
		return err
	}
	s.slot = slot
	s.state = StateAdded
	s.upToDate = true
	s.logger.Debug("session added", "slot", slot)

	if !start {
		return nil
	}
	return s.startLocked()
}

// Start programs the counter and starts counting from zero. Starting a running
// session is a no-op.
func (s *Session) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.startLocked()
}

func (s *Session) startLocked() error {
	switch s.state {
	case StateRunning:
		return nil
	case StateAdded, StateStopped:
	default:
		return fmt.Errorf("start %s in state %s: %w", s.id, s.state, ErrInvalidState)
	}
	if s.dev.isClosed() {
		return fmt.Errorf("%s: %w", s.dev.name, ErrNotFound)
	}

	if err := s.dev.counters.StartOrConfigure(s.dev.node, s.slot, s.event.ID); err != nil {
		s.dev.firmwareError("start", s.slot, err)
		return fmt.Errorf("start %s: %w", s.id, err)
	}

	// programming resets the hardware counter
	s.prev = 0
	s.upToDate = false
	s.state = StateRunning
	s.dev.setRunning(s.slot, true)
	return nil
}

// Stop stops the counter and folds its final value. Stopping a session that
// is not running is a no-op.
func (s *Session) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopLocked()
}

func (s *Session) stopLocked() error {
	if s.state != StateRunning {
		return nil
	}

	s.dev.setRunning(s.slot, false)
	s.state = StateStopped

	var stopErr error
	if err := s.dev.counters.Stop(s.dev.node, s.slot); err != nil {
		s.dev.firmwareError("stop", s.slot, err)
		stopErr = fmt.Errorf("stop %s: %w", s.id, err)
	}
	if !s.upToDate {
		if err := s.foldLocked(); err != nil && stopErr == nil {
			stopErr = fmt.Errorf("stop %s: %w", s.id, err)
		}
		s.upToDate = true
	}
	return stopErr
}

// Read folds the current hardware value of a running session and returns
// the total. Sessions that are not running return their total as is.
func (s *Session) Read() (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateRunning {
		return s.count, nil
	}
	if err := s.foldLocked(); err != nil {
		return s.count, fmt.Errorf("read %s: %w", s.id, err)
	}
	return s.count, nil
}

// Remove stops the session, releases its slot and detaches it from the
// device. Removing a removed session is a no-op.
func (s *Session) Remove() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == StateRemoved {
		return nil
	}

	err := s.stopLocked()
	s.dev.detach(s, s.slot)
	s.logger.Debug("session removed", "slot", s.slot, "count", s.count)

	s.slot = -1
	s.state = StateRemoved
	return err
}

// sample is called by the accumulator for sessions it saw running
func (s *Session) sample() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateRunning || s.slot < 0 {
		return
	}
	// failures are counted and logged by foldLocked
	_ = s.foldLocked()
}

// foldLocked reads the counter and adds the 32-bit delta since the last fold
// to the total. A failed read leaves the baseline and total untouched.
func (s *Session) foldLocked() error {
	raw, err := s.dev.counters.Read(s.dev.node, s.slot)
	if err != nil {
		s.dev.firmwareError("read", s.slot, err)
		return err
	}

	cur := uint32(raw)
	delta := uint64(cur - s.prev)
	s.prev = cur

	// the remainder of the division carries into the next fold
	units := delta + s.remainder
	div := s.event.Divisor
	if div <= 1 {
		s.count += units
		s.remainder = 0
		return nil
	}
	s.count += units / div
	s.remainder = units % div
	return nil
}

// Info is a point in time view of a session
type Info struct {
	ID     string
	Device string
	Event  Event
	State  State
	Slot   int
	Count  uint64
}

// Info returns the session's current state without touching hardware
func (s *Session) Info() Info {
	s.mu.Lock()
	defer s.mu.Unlock()

	return Info{
		ID:     s.id,
		Device: s.dev.name,
		Event:  s.event,
		State:  s.state,
		Slot:   s.slot,
		Count:  s.count,
	}
}
