// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

package pmu

import "math/bits"

// slotAllocator tracks occupancy of a device's counter slots. It is not safe
// for concurrent use; Device serializes access with its mutex.
type slotAllocator struct {
	max  int
	used uint32
}

func newSlotAllocator(max int) slotAllocator {
	if max <= 0 || max > 32 {
		panic("pmu: slot count must be in [1, 32]")
	}
	return slotAllocator{max: max}
}

// alloc reserves the lowest free slot
func (a *slotAllocator) alloc() (int, error) {
	free := ^a.used
	slot := bits.TrailingZeros32(free)
	if slot >= a.max {
		return -1, ErrResourceExhausted
	}
	a.used |= 1 << slot
	return slot, nil
}

// free releases slot; releasing a free slot is a no-op
func (a *slotAllocator) free(slot int) {
	if slot < 0 || slot >= a.max {
		return
	}
	a.used &^= 1 << slot
}

func (a *slotAllocator) isSet(slot int) bool {
	if slot < 0 || slot >= a.max {
		return false
	}
	return a.used&(1<<slot) != 0
}

func (a *slotAllocator) count() int {
	return bits.OnesCount32(a.used)
}
