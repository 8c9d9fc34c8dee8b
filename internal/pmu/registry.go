// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

package pmu

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"

	"github.com/sustainable-computing-io/uncorepmu/internal/firmware"
	"github.com/sustainable-computing-io/uncorepmu/internal/service"
)

// Descriptor identifies a device found by discovery
type Descriptor struct {
	Node int
	Kind Kind
	Base string // e.g. sysfs path of the firmware device node
}

func (d Descriptor) String() string {
	return DeviceName(d.Kind, d.Node)
}

// Discoverer enumerates the uncore devices of the system in a stable order
type Discoverer interface {
	Discover() ([]Descriptor, error)
}

// Topology maps a node to the cpu its devices are associated with
type Topology interface {
	// AffinityCPU returns the first online cpu of node or -1
	AffinityCPU(node int) (int, error)
}

// GroupSpec describes an event group opened at boot
type GroupSpec struct {
	Device string
	Events []string
	Start  bool
}

// Registry owns the devices of the system. It is the single entry point for
// opening and finding sessions.
type Registry struct {
	logger     *slog.Logger
	caller     firmware.Caller
	discoverer Discoverer
	topology   Topology
	opts       Opts

	mu      sync.RWMutex
	devices map[string]*Device
}

var (
	_ service.Initializer  = (*Registry)(nil)
	_ service.Runner       = (*Registry)(nil)
	_ service.Shutdowner   = (*Registry)(nil)
	_ service.ReadyChecker = (*Registry)(nil)
)

// NewRegistry creates an empty registry. Devices are discovered in Init.
func NewRegistry(caller firmware.Caller, discoverer Discoverer, topology Topology, applyOpts ...OptionFn) *Registry {
	opts := DefaultOpts()
	for _, apply := range applyOpts {
		apply(&opts)
	}

	return &Registry{
		logger:     opts.logger.With("service", "registry"),
		caller:     caller,
		discoverer: discoverer,
		topology:   topology,
		opts:       opts,
		devices:    make(map[string]*Device),
	}
}

func (r *Registry) Name() string {
	return "registry"
}

// Init discovers and registers devices, then opens the configured groups.
// Devices that fail to register are logged and skipped.
func (r *Registry) Init() error {
	descs, err := r.discoverer.Discover()
	if err != nil {
		return fmt.Errorf("device discovery failed: %w", err)
	}

	for _, desc := range descs {
		if !slices.Contains(r.opts.kinds, desc.Kind) {
			r.logger.Debug("skipping device of disabled kind", "device", desc.String())
			continue
		}
		if _, err := r.Register(desc); err != nil {
			r.logger.Error("failed to register device", "device", desc.String(), "error", err)
			continue
		}
	}
	r.logger.Info("devices registered", "count", len(r.Devices()), "discovered", len(descs))

	for _, g := range r.opts.groups {
		sessions, err := r.OpenGroup(g.Device, g.Events, g.Start)
		if err != nil {
			return fmt.Errorf("failed to open group %v on %s: %w", g.Events, g.Device, err)
		}
		ids := make([]string, len(sessions))
		for i, s := range sessions {
			ids[i] = s.ID()
		}
		r.logger.Info("group opened", "device", g.Device, "sessions", ids, "started", g.Start)
	}
	return nil
}

func (r *Registry) Run(ctx context.Context) error {
	r.logger.Info("registry is running", "devices", len(r.Devices()))
	<-ctx.Done()
	return nil
}

// Shutdown removes every device and releases the firmware caller
func (r *Registry) Shutdown() error {
	r.logger.Info("shutting down registry")

	var errs []error
	for _, d := range r.Devices() {
		if err := r.Remove(d.Name()); err != nil {
			errs = append(errs, err)
		}
	}
	if err := r.caller.Close(); err != nil {
		errs = append(errs, fmt.Errorf("failed to close firmware caller: %w", err))
	}
	return errors.Join(errs...)
}

// IsReady reports whether at least one device is registered
func (r *Registry) IsReady() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.devices) > 0
}

// Register creates the device described by desc
func (r *Registry) Register(desc Descriptor) (*Device, error) {
	if !desc.Kind.Valid() {
		return nil, fmt.Errorf("invalid device kind %d", int(desc.Kind))
	}
	name := desc.String()

	cpu, err := r.topology.AffinityCPU(desc.Node)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve affinity cpu of %s: %w", name, err)
	}
	if cpu < 0 {
		r.logger.Warn("node has no online cpu, sessions will be rejected", "device", name, "node", desc.Node)
	}

	startStop, read := desc.Kind.Selectors()
	dev, err := NewDevice(DeviceConfig{
		Kind:       desc.Kind,
		Node:       desc.Node,
		CPU:        cpu,
		Base:       desc.Base,
		Counters:   firmware.NewCounters(r.caller, startStop, read, r.logger.With("device", name)),
		Interval:   r.opts.interval,
		Clock:      r.opts.clock,
		Logger:     r.opts.logger,
		PinSampler: r.opts.pinSampler,
	})
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.devices[name]; ok {
		return nil, fmt.Errorf("%s: %w", name, ErrDeviceExists)
	}
	r.devices[name] = dev

	r.logger.Info("device registered", "device", name, "cpu", cpu, "base", desc.Base)
	return dev, nil
}

// Remove tears down all sessions of the device and forgets it
func (r *Registry) Remove(name string) error {
	r.mu.Lock()
	dev, ok := r.devices[name]
	delete(r.devices, name)
	r.mu.Unlock()

	if !ok {
		return fmt.Errorf("device %q: %w", name, ErrNotFound)
	}
	return dev.Close()
}

// Device returns the registered device with the given name
func (r *Registry) Device(name string) (*Device, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	dev, ok := r.devices[name]
	if !ok {
		return nil, fmt.Errorf("device %q: %w", name, ErrNotFound)
	}
	return dev, nil
}

// Devices returns all registered devices ordered by name
func (r *Registry) Devices() []*Device {
	r.mu.RLock()
	devices := make([]*Device, 0, len(r.devices))
	for _, d := range r.devices {
		devices = append(devices, d)
	}
	r.mu.RUnlock()

	slices.SortFunc(devices, func(a, b *Device) int {
		return strings.Compare(a.Name(), b.Name())
	})
	return devices
}

// Session finds a session by id across all devices
func (r *Registry) Session(id string) (*Session, error) {
	name, _, ok := strings.Cut(id, ":")
	if !ok {
		return nil, fmt.Errorf("session %q: %w", id, ErrNotFound)
	}
	dev, err := r.Device(name)
	if err != nil {
		return nil, fmt.Errorf("session %q: %w", id, ErrNotFound)
	}
	return dev.Session(id)
}

// Sessions returns the live sessions of all devices
func (r *Registry) Sessions() []*Session {
	var sessions []*Session
	for _, d := range r.Devices() {
		sessions = append(sessions, d.Sessions()...)
	}
	return sessions
}

// OpenGroup resolves events by name on the named device and opens them as
// one group. Every member is added (and started if start is set); if any
// member fails, the members opened so far are removed again.
func (r *Registry) OpenGroup(device string, events []string, start bool) ([]*Session, error) {
	dev, err := r.Device(device)
	if err != nil {
		return nil, err
	}
	if len(events) == 0 {
		return nil, fmt.Errorf("%w: empty group", ErrInvalidEvent)
	}

	attrs := make([]Attr, len(events))
	for i, name := range events {
		ev, err := dev.Kind().LookupEvent(name)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", dev.Name(), err)
		}
		attrs[i] = Attr{Event: ev.ID}
	}
	return OpenGroup(dev, attrs, start)
}

// OpenGroup creates, adds and optionally starts one session per attr on dev
// as a single group. On failure no session of the group is left behind.
func OpenGroup(dev *Device, attrs []Attr, start bool) ([]*Session, error) {
	// validate the whole group up front, before any slot is taken
	members := make([]Member, len(attrs))
	for i := range attrs {
		members[i] = placeholder{dev}
	}
	if err := ValidateGroup(dev, members); err != nil {
		return nil, err
	}

	var (
		group   []Member
		opened  []*Session
		openErr error
	)
	for _, attr := range attrs {
		s, err := dev.NewSession(attr, group...)
		if err != nil {
			openErr = err
			break
		}
		opened = append(opened, s)
		if err := s.Add(start); err != nil {
			openErr = err
			break
		}
		group = append(group, s)
	}

	if openErr == nil {
		return opened, nil
	}
	for _, s := range opened {
		if err := s.Remove(); err != nil {
			dev.logger.Warn("failed to roll back group member", "session", s.ID(), "error", err)
		}
	}
	return nil, openErr
}

// placeholder stands in for a not yet created member during validation
type placeholder struct {
	dev *Device
}

func (p placeholder) Device() *Device {
	return p.dev
}
