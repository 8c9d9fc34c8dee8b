// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

package firmware

import (
	"fmt"
	"log/slog"
	"math/rand"
	"sync"
)

// NOTE: the fake firmware is not intended to be used in production; it backs
// dev mode and tests

// Status codes returned by the fake firmware
const (
	StatusInvalidParameter uint64 = 0xFFFFFFFE
	StatusNotSupported     uint64 = 0xFFFFFFFF
)

// FakeCounters is the number of counters per bank the fake firmware exposes
const FakeCounters = 4

// DefaultFakeCallLog is the number of recent calls a Fake keeps for Calls
const DefaultFakeCallLog = 1024

type bank int

const (
	bankL3C bank = iota
	bankDMC
)

func bankFor(sel Selector) (bank, bool, bool) {
	switch sel {
	case SelectL3CStartStop:
		return bankL3C, true, true
	case SelectL3CRead:
		return bankL3C, false, true
	case SelectDMCStartStop:
		return bankDMC, true, true
	case SelectDMCRead:
		return bankDMC, false, true
	default:
		return 0, false, false
	}
}

type counterKey struct {
	bank    bank
	node    uint64
	counter uint64
}

// fakeCounter is a simulated 32-bit hardware counter
type fakeCounter struct {
	event   uint64
	running bool
	value   uint32
}

// Fake simulates the counter control firmware of a multi node system
type Fake struct {
	logger *slog.Logger
	nodes  int

	// increment is added (with up to 50% random jitter) to every running
	// counter on each read; 0 keeps counters still until Advance is called
	increment uint32

	mu       sync.Mutex
	counters map[counterKey]*fakeCounter
	failures map[Selector]uint64
	counts   map[Selector]int

	// most recent calls, at most callLog of them
	calls   []Args
	callLog int
}

var _ Caller = (*Fake)(nil)

// FakeOptFn is a functional option for configuring Fake
type FakeOptFn func(*Fake)

// WithFakeNodes sets the number of nodes the fake firmware accepts
func WithFakeNodes(n int) FakeOptFn {
	return func(f *Fake) {
		f.nodes = n
	}
}

// WithFakeIncrement makes running counters advance on every read
func WithFakeIncrement(inc uint32) FakeOptFn {
	return func(f *Fake) {
		f.increment = inc
	}
}

// WithFakeCallLog sets how many recent calls are kept for Calls; 0 keeps
// none. Per selector counts are always kept.
func WithFakeCallLog(n int) FakeOptFn {
	return func(f *Fake) {
		f.callLog = max(n, 0)
	}
}

// WithFakeLogger sets the logger of the fake firmware
func WithFakeLogger(l *slog.Logger) FakeOptFn {
	return func(f *Fake) {
		f.logger = l.With("caller", f.Name())
	}
}

// NewFake creates a fake firmware with a single node and still counters
func NewFake(opts ...FakeOptFn) *Fake {
	f := &Fake{
		logger:   slog.Default().With("caller", "fake-firmware"),
		nodes:    1,
		counters: make(map[counterKey]*fakeCounter),
		failures: make(map[Selector]uint64),
		counts:   make(map[Selector]int),
		callLog:  DefaultFakeCallLog,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

func (f *Fake) Name() string {
	return "fake-firmware"
}

func (f *Fake) Close() error {
	return nil
}

// Call implements Caller
func (f *Fake) Call(args Args) (Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.record(args)

	if args.Vendor != VendorCallID {
		return Result{Status: StatusNotSupported}, nil
	}
	b, startStop, ok := bankFor(args.Selector)
	if !ok {
		return Result{Status: StatusNotSupported}, nil
	}
	if status, fail := f.failures[args.Selector]; fail {
		return Result{Status: status}, nil
	}
	if args.Node >= uint64(f.nodes) || args.Counter >= FakeCounters {
		return Result{Status: StatusInvalidParameter}, nil
	}

	c := f.counter(counterKey{bank: b, node: args.Node, counter: args.Counter})
	if startStop {
		if args.Value == StopValue {
			c.running = false
		} else {
			c.event = args.Value
			c.value = 0
			c.running = true
		}
		return Result{Status: StatusOK}, nil
	}

	if c.running && f.increment > 0 {
		jitter := uint32(rand.Float64() * float64(f.increment) * 0.5)
		c.value += f.increment + jitter
	}
	return Result{Status: StatusOK, Value: uint64(c.value)}, nil
}

func (f *Fake) record(args Args) {
	f.counts[args.Selector]++
	if f.callLog == 0 {
		return
	}
	if len(f.calls) >= f.callLog {
		n := copy(f.calls, f.calls[len(f.calls)-f.callLog+1:])
		f.calls = f.calls[:n]
	}
	f.calls = append(f.calls, args)
}

func (f *Fake) counter(key counterKey) *fakeCounter {
	c, ok := f.counters[key]
	if !ok {
		c = &fakeCounter{}
		f.counters[key] = c
	}
	return c
}

// Advance adds delta to a counter the way hardware would, wrapping at 2^32.
// Stopped counters do not advance.
func (f *Fake) Advance(sel Selector, node, counter int, delta uint32) {
	f.mu.Lock()
	defer f.mu.Unlock()

	b, _, ok := bankFor(sel)
	if !ok {
		panic(fmt.Sprintf("fake firmware: unknown selector %s", sel))
	}
	c := f.counter(counterKey{bank: b, node: uint64(node), counter: uint64(counter)})
	if c.running {
		c.value += delta
	}
}

// Set forces the raw value of a counter
func (f *Fake) Set(sel Selector, node, counter int, value uint32) {
	f.mu.Lock()
	defer f.mu.Unlock()

	b, _, ok := bankFor(sel)
	if !ok {
		panic(fmt.Sprintf("fake firmware: unknown selector %s", sel))
	}
	f.counter(counterKey{bank: b, node: uint64(node), counter: uint64(counter)}).value = value
}

// Running reports whether a counter is currently counting and its event
func (f *Fake) Running(sel Selector, node, counter int) (uint64, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()

	b, _, _ := bankFor(sel)
	c, ok := f.counters[counterKey{bank: b, node: uint64(node), counter: uint64(counter)}]
	if !ok {
		return 0, false
	}
	return c.event, c.running
}

// FailWith makes every subsequent call using sel return status
func (f *Fake) FailWith(sel Selector, status uint64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures[sel] = status
}

// Recover clears a failure injected with FailWith
func (f *Fake) Recover(sel Selector) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.failures, sel)
}

// Calls returns a copy of the most recent calls, oldest first
func (f *Fake) Calls() []Args {
	f.mu.Lock()
	defer f.mu.Unlock()

	calls := make([]Args, len(f.calls))
	copy(calls, f.calls)
	return calls
}

// CallCount returns the number of calls received using sel
func (f *Fake) CallCount(sel Selector) int {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.counts[sel]
}
