// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

package firmware

import (
	"errors"
	"fmt"
	"log/slog"
)

// VendorCallID is the vendor specific call identifier passed as the first
// argument of every counter control call.
const VendorCallID uint64 = 0xC200FF00

// Selector picks the operation a firmware call performs
type Selector uint64

const (
	SelectL3CStartStop Selector = 0xB0B0
	SelectL3CRead      Selector = 0xB0B1
	SelectDMCStartStop Selector = 0xB0B2
	SelectDMCRead      Selector = 0xB0B3
)

// StopValue is passed in place of an event id to stop a counter
const StopValue uint64 = 0

// StatusOK is the only status that indicates a successful call
const StatusOK uint64 = 0

func (s Selector) String() string {
	switch s {
	case SelectL3CStartStop:
		return "l3c-startstop"
	case SelectL3CRead:
		return "l3c-read"
	case SelectDMCStartStop:
		return "dmc-startstop"
	case SelectDMCRead:
		return "dmc-read"
	default:
		return fmt.Sprintf("selector(0x%x)", uint64(s))
	}
}

// Args is the fixed argument list of a counter control call
type Args struct {
	Vendor   uint64
	Selector Selector
	Node     uint64
	Counter  uint64
	Value    uint64 // event id for start, StopValue for stop, unused for read
}

// Result is what a counter control call returns
type Result struct {
	Status uint64
	Value  uint64
}

// Caller issues one synchronous, privileged firmware call. Implementations
// must be safe for concurrent use.
type Caller interface {
	// Name returns a string identifying the caller implementation
	Name() string

	// Call performs the call. A returned error means the call could not be
	// issued at all; a call that was issued but rejected reports it through
	// Result.Status.
	Call(args Args) (Result, error)

	// Close releases the resources held by the caller
	Close() error
}

// ErrCallFailed is wrapped by every error reporting a failed firmware call
var ErrCallFailed = errors.New("firmware call failed")

// CallError describes a firmware call that returned a non-zero status
type CallError struct {
	Args   Args
	Status uint64
}

func (e *CallError) Error() string {
	return fmt.Sprintf("%s: %s node=%d counter=%d value=0x%x status=0x%x",
		ErrCallFailed, e.Args.Selector, e.Args.Node, e.Args.Counter, e.Args.Value, e.Status)
}

func (e *CallError) Unwrap() error {
	return ErrCallFailed
}

// Counters binds a Caller to the selector pair of one device kind and
// exposes the three counter operations.
type Counters struct {
	caller    Caller
	startStop Selector
	read      Selector
	logger    *slog.Logger
}

// NewCounters creates Counters for the given start/stop and read selectors
func NewCounters(caller Caller, startStop, read Selector, logger *slog.Logger) *Counters {
	if logger == nil {
		logger = slog.Default()
	}
	return &Counters{
		caller:    caller,
		startStop: startStop,
		read:      read,
		logger:    logger,
	}
}

// StartOrConfigure programs counter slot on node to count event and starts it.
// Programming a counter resets its value to zero.
func (c *Counters) StartOrConfigure(node, slot int, event uint32) error {
	_, err := c.call(c.startStop, node, slot, uint64(event))
	return err
}

// Stop stops counter slot on node; the counter keeps its last value
func (c *Counters) Stop(node, slot int) error {
	_, err := c.call(c.startStop, node, slot, StopValue)
	return err
}

// Read returns the raw value of counter slot on node. On failure the value is
// always 0.
func (c *Counters) Read(node, slot int) (uint64, error) {
	res, err := c.call(c.read, node, slot, 0)
	if err != nil {
		return 0, err
	}
	return res.Value, nil
}

func (c *Counters) call(sel Selector, node, slot int, value uint64) (Result, error) {
	args := Args{
		Vendor:   VendorCallID,
		Selector: sel,
		Node:     uint64(node),
		Counter:  uint64(slot),
		Value:    value,
	}

	res, err := c.caller.Call(args)
	if err != nil {
		return Result{}, fmt.Errorf("%w: %s via %s: %w", ErrCallFailed, sel, c.caller.Name(), err)
	}
	if res.Status != StatusOK {
		return Result{}, &CallError{Args: args, Status: res.Status}
	}
	c.logger.Debug("firmware call", "selector", sel, "node", node, "counter", slot, "value", res.Value)
	return res, nil
}
