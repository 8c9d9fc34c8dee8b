// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

package discovery

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sustainable-computing-io/uncorepmu/internal/pmu"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func mkdir(t *testing.T, path string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(path, 0o755))
}

// acpiFixture lays out two sockets the way the ACPI bus shows them
func acpiFixture(t *testing.T) (string, string) {
	t.Helper()
	sysfs := t.TempDir()
	devices := filepath.Join(sysfs, "bus", "acpi", "devices")

	p0 := filepath.Join(devices, "CAV901C:00")
	writeFile(t, filepath.Join(p0, "physical_node", "numa_node"), "0\n")
	writeFile(t, filepath.Join(p0, "status"), "15\n")
	mkdir(t, filepath.Join(p0, "CAV901D:00"))
	writeFile(t, filepath.Join(p0, "CAV901F:00", "status"), "15\n")
	mkdir(t, filepath.Join(p0, "LNXPOWER:00")) // unrelated child
	writeFile(t, filepath.Join(p0, "hid"), "CAV901C\n")

	p1 := filepath.Join(devices, "CAV901C:01")
	writeFile(t, filepath.Join(p1, "numa_node"), "1\n")
	mkdir(t, filepath.Join(p1, "CAV901D:01"))
	writeFile(t, filepath.Join(p1, "CAV901F:01", "status"), "0\n") // disabled

	mkdir(t, filepath.Join(devices, "PNP0A08:00"))
	return sysfs, devices
}

func TestACPI_Discover(t *testing.T) {
	sysfs, devices := acpiFixture(t)

	descs, err := NewACPI(sysfs, nil).Discover()
	require.NoError(t, err)

	assert.Equal(t, []pmu.Descriptor{
		{Node: 0, Kind: pmu.KindL3C, Base: filepath.Join(devices, "CAV901C:00", "CAV901D:00")},
		{Node: 0, Kind: pmu.KindDMC, Base: filepath.Join(devices, "CAV901C:00", "CAV901F:00")},
		{Node: 1, Kind: pmu.KindL3C, Base: filepath.Join(devices, "CAV901C:01", "CAV901D:01")},
	}, descs)
}

func TestACPI_PlatformAbsent(t *testing.T) {
	sysfs, devices := acpiFixture(t)
	writeFile(t, filepath.Join(devices, "CAV901C:01", "status"), "0x0\n")

	descs, err := NewACPI(sysfs, nil).Discover()
	require.NoError(t, err)
	assert.Len(t, descs, 2)
	for _, d := range descs {
		assert.Equal(t, 0, d.Node)
	}
}

func TestACPI_NoDevices(t *testing.T) {
	sysfs := t.TempDir()
	mkdir(t, filepath.Join(sysfs, "bus", "acpi", "devices", "PNP0A08:00"))

	_, err := NewACPI(sysfs, nil).Discover()
	assert.Error(t, err)
}

func TestNumaNode(t *testing.T) {
	dir := t.TempDir()
	assert.Equal(t, 0, numaNode(dir), "missing information means node 0")

	writeFile(t, filepath.Join(dir, "numa_node"), "-1\n")
	assert.Equal(t, 0, numaNode(dir))

	writeFile(t, filepath.Join(dir, "numa_node"), "3\n")
	assert.Equal(t, 3, numaNode(dir))

	writeFile(t, filepath.Join(dir, "physical_node", "numa_node"), "1\n")
	assert.Equal(t, 1, numaNode(dir), "physical node wins")
}

func TestPresent(t *testing.T) {
	dir := t.TempDir()
	assert.True(t, present(dir), "no _STA means present")

	tt := map[string]bool{
		"15":   true,
		"0xf":  true,
		"1":    true,
		"0":    false,
		"14":   false,
		"junk": false,
	}
	for content, want := range tt {
		writeFile(t, filepath.Join(dir, "status"), content+"\n")
		assert.Equal(t, want, present(dir), content)
	}
}

func TestStatic(t *testing.T) {
	descs, err := NewStatic(2).Discover()
	require.NoError(t, err)
	require.Len(t, descs, 4)
	assert.Equal(t, pmu.Descriptor{Node: 1, Kind: pmu.KindDMC, Base: "static:1"}, descs[3])

	_, err = NewStatic(0).Discover()
	assert.Error(t, err)

	cpu, err := NewStatic(2).AffinityCPU(1)
	require.NoError(t, err)
	assert.Zero(t, cpu)
	_, err = NewStatic(2).AffinityCPU(2)
	assert.Error(t, err)
}

func TestTopology_AffinityCPU(t *testing.T) {
	sysfs := t.TempDir()
	system := filepath.Join(sysfs, "devices", "system")
	writeFile(t, filepath.Join(system, "cpu", "online"), "1-31,33-63\n")
	writeFile(t, filepath.Join(system, "node", "node0", "cpulist"), "0-31\n")
	writeFile(t, filepath.Join(system, "node", "node1", "cpulist"), "32-63\n")
	writeFile(t, filepath.Join(system, "node", "node2", "cpulist"), "\n")
	writeFile(t, filepath.Join(system, "node", "node3", "cpulist"), "64-71\n")

	topo := NewTopology(sysfs, nil)

	tt := []struct {
		node int
		cpu  int
		err  bool
	}{
		{node: 0, cpu: 1},  // cpu0 offline
		{node: 1, cpu: 33}, // cpu32 offline
		{node: 2, cpu: -1}, // memory only node
		{node: 3, cpu: -1}, // all offline
		{node: 4, err: true},
	}
	for _, tc := range tt {
		cpu, err := topo.AffinityCPU(tc.node)
		if tc.err {
			assert.Error(t, err, "node %d", tc.node)
			continue
		}
		require.NoError(t, err)
		assert.Equal(t, tc.cpu, cpu, "node %d", tc.node)
	}
}

func TestTopology_NoNUMA(t *testing.T) {
	sysfs := t.TempDir()
	writeFile(t, filepath.Join(sysfs, "devices", "system", "cpu", "online"), "0-3\n")

	topo := NewTopology(sysfs, nil)
	cpu, err := topo.AffinityCPU(0)
	require.NoError(t, err)
	assert.Equal(t, 0, cpu)

	_, err = topo.AffinityCPU(1)
	assert.Error(t, err)
}

func TestTopology_BadCPUList(t *testing.T) {
	sysfs := t.TempDir()
	writeFile(t, filepath.Join(sysfs, "devices", "system", "cpu", "online"), "zero-three\n")

	_, err := NewTopology(sysfs, nil).AffinityCPU(0)
	assert.Error(t, err)
}
