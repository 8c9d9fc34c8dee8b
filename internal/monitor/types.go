// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

package monitor

import (
	"slices"
	"time"
)

// Snapshot is a point in time view of all devices and their sessions
type Snapshot struct {
	Timestamp time.Time
	Devices   []DeviceStats
}

type DeviceStats struct {
	Name           string
	Kind           string
	Node           int
	CPU            int
	ActiveSlots    int
	MaxSlots       int
	SamplerArmed   bool
	FirmwareErrors uint64
	Sessions       []SessionStats
}

type SessionStats struct {
	ID      string
	Event   string
	EventID uint32
	Slot    int
	State   string
	Count   uint64

	// Rate is the count increase per second since the previous snapshot;
	// 0 for sessions that were not in it
	Rate float64
}

// Clone returns a deep copy of the snapshot
func (s *Snapshot) Clone() *Snapshot {
	if s == nil {
		return nil
	}
	ret := &Snapshot{
		Timestamp: s.Timestamp,
		Devices:   make([]DeviceStats, len(s.Devices)),
	}
	for i, d := range s.Devices {
		d.Sessions = slices.Clone(d.Sessions)
		ret.Devices[i] = d
	}
	return ret
}

// Device returns the stats of the named device
func (s *Snapshot) Device(name string) (DeviceStats, bool) {
	for _, d := range s.Devices {
		if d.Name == name {
			return d, true
		}
	}
	return DeviceStats{}, false
}

func (s *Snapshot) computeRates(prev *Snapshot) {
	elapsed := s.Timestamp.Sub(prev.Timestamp).Seconds()
	if elapsed <= 0 {
		return
	}

	before := make(map[string]uint64)
	for _, d := range prev.Devices {
		for _, ss := range d.Sessions {
			before[ss.ID] = ss.Count
		}
	}

	for i := range s.Devices {
		sessions := s.Devices[i].Sessions
		for j := range sessions {
			count, ok := before[sessions[j].ID]
			if !ok || sessions[j].Count < count {
				continue
			}
			sessions[j].Rate = float64(sessions[j].Count-count) / elapsed
		}
	}
}
