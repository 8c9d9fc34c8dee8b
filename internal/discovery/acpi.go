// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

package discovery

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"

	"github.com/sustainable-computing-io/uncorepmu/internal/pmu"
)

// ACPI hardware ids of the uncore PMU platform device and its children
const (
	HIDPlatform = "CAV901C"
	HIDL3C      = "CAV901D"
	HIDDMC      = "CAV901F"
)

// acpiStatusPresent is the "device present" bit of the _STA result
const acpiStatusPresent = 0x1

var kindForHID = map[string]pmu.Kind{
	HIDL3C: pmu.KindL3C,
	HIDDMC: pmu.KindDMC,
}

// ACPI discovers uncore devices from the ACPI namespace exposed in sysfs
type ACPI struct {
	sysfs  string
	logger *slog.Logger
}

var _ pmu.Discoverer = (*ACPI)(nil)

// NewACPI creates a discoverer reading <sysfs>/bus/acpi/devices
func NewACPI(sysfs string, logger *slog.Logger) *ACPI {
	if logger == nil {
		logger = slog.Default()
	}
	return &ACPI{
		sysfs:  sysfs,
		logger: logger.With("discoverer", "acpi"),
	}
}

// Discover returns one descriptor per present l3c and dmc device, ordered by
// platform device and then by child name. Platform devices that cannot be
// read are logged and skipped.
func (a *ACPI) Discover() ([]pmu.Descriptor, error) {
	root := filepath.Join(a.sysfs, "bus", "acpi", "devices")
	platforms, err := filepath.Glob(filepath.Join(root, HIDPlatform+":*"))
	if err != nil {
		return nil, err
	}
	if len(platforms) == 0 {
		return nil, fmt.Errorf("no %s device found in %s", HIDPlatform, root)
	}
	slices.Sort(platforms)

	var descs []pmu.Descriptor
	for _, platform := range platforms {
		found, err := a.scanPlatform(platform)
		if err != nil {
			a.logger.Error("failed to scan uncore platform device", "path", platform, "error", err)
			continue
		}
		descs = append(descs, found...)
	}
	return descs, nil
}

func (a *ACPI) scanPlatform(dir string) ([]pmu.Descriptor, error) {
	if !present(dir) {
		a.logger.Info("uncore platform device not present", "path", dir)
		return nil, nil
	}

	node := numaNode(dir)
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	var descs []pmu.Descriptor
	for _, e := range entries {
		hid, _, ok := strings.Cut(e.Name(), ":")
		if !ok {
			continue
		}
		kind, known := kindForHID[hid]
		if !known {
			continue
		}

		child := filepath.Join(dir, e.Name())
		if !present(child) {
			a.logger.Debug("skipping absent uncore device", "path", child)
			continue
		}
		descs = append(descs, pmu.Descriptor{Node: node, Kind: kind, Base: child})
	}

	a.logger.Debug("uncore platform device scanned", "path", dir, "node", node, "devices", len(descs))
	return descs, nil
}

// present reads the ACPI _STA value of dir. Devices without a status
// attribute are always present.
func present(dir string) bool {
	raw, err := os.ReadFile(filepath.Join(dir, "status"))
	if errors.Is(err, fs.ErrNotExist) {
		return true
	}
	if err != nil {
		return false
	}
	sta, err := strconv.ParseUint(strings.TrimSpace(string(raw)), 0, 32)
	if err != nil {
		return false
	}
	return sta&acpiStatusPresent != 0
}

// numaNode returns the node of an ACPI device, or 0 on systems without NUMA
// information
func numaNode(dir string) int {
	for _, p := range []string{
		filepath.Join(dir, "physical_node", "numa_node"),
		filepath.Join(dir, "numa_node"),
	} {
		raw, err := os.ReadFile(p)
		if err != nil {
			continue
		}
		node, err := strconv.Atoi(strings.TrimSpace(string(raw)))
		if err != nil || node < 0 {
			continue
		}
		return node
	}
	return 0
}
