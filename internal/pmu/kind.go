// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

package pmu

import (
	"fmt"
	"slices"
	"strconv"
	"strings"

	"github.com/sustainable-computing-io/uncorepmu/internal/firmware"
)

// MaxSlots is the number of physical counters every uncore device exposes
const MaxSlots = 4

// Kind identifies the type of an uncore device
type Kind int

const (
	KindL3C Kind = iota // L3 cache controller
	KindDMC             // DRAM memory controller
)

// Kinds lists all supported device kinds in discovery order
var Kinds = []Kind{KindL3C, KindDMC}

// Event describes one countable hardware event of a device kind
type Event struct {
	Name string
	ID   uint32

	// Divisor normalizes raw counts to 64 byte units
	Divisor uint64
}

// Config renders the event the way it is written in PMU event descriptions
func (e Event) Config() string {
	return fmt.Sprintf("event=0x%x", e.ID)
}

type kindSpec struct {
	name      string
	maxEvents uint32
	events    []Event
	aliases   map[string]string
	startStop firmware.Selector
	read      firmware.Selector
}

// L3C event ids
const (
	L3EventReadRequest      uint32 = 0xD
	L3EventWritebackRequest uint32 = 0xE
	L3EventInvNWriteRequest uint32 = 0xF
	L3EventInvRequest       uint32 = 0x10
	L3EventEvictRequest     uint32 = 0x13
	L3EventInvNWriteHit     uint32 = 0x14
	L3EventInvHit           uint32 = 0x15
	L3EventReadHit          uint32 = 0x17
	L3EventMax              uint32 = 0x18
)

// DMC event ids
const (
	DMCEventCountCycles   uint32 = 0x1
	DMCEventWriteTxns     uint32 = 0xB
	DMCEventDataTransfers uint32 = 0xD
	DMCEventReadTxns      uint32 = 0xF
	DMCEventMax           uint32 = 0x10
)

var kindSpecs = map[Kind]kindSpec{
	KindL3C: {
		name:      "l3c",
		maxEvents: L3EventMax,
		events: []Event{
			{Name: "read_request", ID: L3EventReadRequest, Divisor: 1},
			{Name: "writeback_request", ID: L3EventWritebackRequest, Divisor: 1},
			{Name: "inv_nwrite_request", ID: L3EventInvNWriteRequest, Divisor: 1},
			{Name: "inv_request", ID: L3EventInvRequest, Divisor: 1},
			{Name: "evict_request", ID: L3EventEvictRequest, Divisor: 1},
			{Name: "inv_nwrite_hit", ID: L3EventInvNWriteHit, Divisor: 1},
			{Name: "inv_hit", ID: L3EventInvHit, Divisor: 1},
			{Name: "read_hit", ID: L3EventReadHit, Divisor: 1},
		},
		aliases: map[string]string{
			"inv_n_write_request": "inv_nwrite_request",
			"inv_n_write_hit":     "inv_nwrite_hit",
		},
		startStop: firmware.SelectL3CStartStop,
		read:      firmware.SelectL3CRead,
	},
	KindDMC: {
		name:      "dmc",
		maxEvents: DMCEventMax,
		events: []Event{
			{Name: "cnt_cycles", ID: DMCEventCountCycles, Divisor: 1},
			{Name: "write_txns", ID: DMCEventWriteTxns, Divisor: 1},
			// data_transfers counts 16 byte beats
			{Name: "data_transfers", ID: DMCEventDataTransfers, Divisor: 4},
			{Name: "read_txns", ID: DMCEventReadTxns, Divisor: 1},
		},
		startStop: firmware.SelectDMCStartStop,
		read:      firmware.SelectDMCRead,
	},
}

func (k Kind) spec() kindSpec {
	s, ok := kindSpecs[k]
	if !ok {
		panic(fmt.Sprintf("pmu: unknown device kind %d", int(k)))
	}
	return s
}

// Valid reports whether k is a known kind
func (k Kind) Valid() bool {
	_, ok := kindSpecs[k]
	return ok
}

func (k Kind) String() string {
	if s, ok := kindSpecs[k]; ok {
		return s.name
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// ParseKind parses "l3c" or "dmc"
func ParseKind(s string) (Kind, error) {
	name := strings.ToLower(strings.TrimSpace(s))
	for _, k := range Kinds {
		if kindSpecs[k].name == name {
			return k, nil
		}
	}
	return 0, fmt.Errorf("unknown device kind: %q", s)
}

// MaxEvents is the exclusive upper bound of event ids of the kind
func (k Kind) MaxEvents() uint32 {
	return k.spec().maxEvents
}

// Events returns the named events of the kind ordered by id
func (k Kind) Events() []Event {
	return slices.Clone(k.spec().events)
}

// Selectors returns the firmware selectors used to control devices of the kind
func (k Kind) Selectors() (startStop, read firmware.Selector) {
	s := k.spec()
	return s.startStop, s.read
}

// Event returns the event with the given id. Ids below MaxEvents without a
// name are valid and get a generated one.
func (k Kind) Event(id uint32) (Event, error) {
	s := k.spec()
	if id >= s.maxEvents {
		return Event{}, fmt.Errorf("%w: id 0x%x, %s supports ids below 0x%x", ErrInvalidEvent, id, k, s.maxEvents)
	}
	for _, e := range s.events {
		if e.ID == id {
			return e, nil
		}
	}
	return Event{Name: fmt.Sprintf("raw_0x%x", id), ID: id, Divisor: 1}, nil
}

// LookupEvent resolves an event by name, alias or numeric id ("0x13", "19")
func (k Kind) LookupEvent(name string) (Event, error) {
	s := k.spec()
	n := strings.ToLower(strings.TrimSpace(name))
	if alias, ok := s.aliases[n]; ok {
		n = alias
	}
	for _, e := range s.events {
		if e.Name == n {
			return e, nil
		}
	}

	if id, err := strconv.ParseUint(strings.TrimPrefix(n, "raw_"), 0, 32); err == nil {
		return k.Event(uint32(id))
	}
	return Event{}, fmt.Errorf("%w: %q is not a %s event", ErrInvalidEvent, name, k)
}

// DeviceName returns the conventional name of the device of kind k on node
func DeviceName(k Kind, node int) string {
	return fmt.Sprintf("uncore_%s_%d", k, node)
}
