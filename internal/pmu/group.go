// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

package pmu

import "fmt"

// ValidateGroup checks that members can be counted together on target.
// Software members are ignored; every hardware member must belong to target
// and together they must fit in its counters. Passing validation does not
// reserve anything.
func ValidateGroup(target *Device, members []Member) error {
	hw := 0
	for _, m := range members {
		dev := m.Device()
		if dev == nil {
			continue
		}
		if dev != target {
			return fmt.Errorf("%w: member on %s in a group for %s", ErrGroupUnschedulable, dev.Name(), target.Name())
		}
		hw++
	}

	if hw > target.MaxSlots() {
		return fmt.Errorf("%w: %d hardware events, %s has %d counters",
			ErrGroupUnschedulable, hw, target.Name(), target.MaxSlots())
	}
	return nil
}
