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
	"strings"

	"k8s.io/utils/cpuset"

	"github.com/sustainable-computing-io/uncorepmu/internal/pmu"
)

// Topology resolves the affinity cpu of a node from sysfs
type Topology struct {
	sysfs  string
	logger *slog.Logger
}

var _ pmu.Topology = (*Topology)(nil)

func NewTopology(sysfs string, logger *slog.Logger) *Topology {
	if logger == nil {
		logger = slog.Default()
	}
	return &Topology{
		sysfs:  sysfs,
		logger: logger.With("component", "topology"),
	}
}

// AffinityCPU returns the lowest online cpu of node, or -1 when the node has
// none. On systems without node information every online cpu belongs to
// node 0.
func (t *Topology) AffinityCPU(node int) (int, error) {
	online, err := t.OnlineCPUs()
	if err != nil {
		return -1, err
	}

	cpus, err := t.NodeCPUs(node)
	switch {
	case errors.Is(err, fs.ErrNotExist) && node == 0:
		t.logger.Debug("no numa information, using all online cpus")
		cpus = online
	case err != nil:
		return -1, err
	}

	usable := cpus.Intersection(online).List()
	if len(usable) == 0 {
		return -1, nil
	}
	return usable[0], nil
}

// OnlineCPUs returns the cpus currently online
func (t *Topology) OnlineCPUs() (cpuset.CPUSet, error) {
	return readCPUList(filepath.Join(t.sysfs, "devices", "system", "cpu", "online"))
}

// NodeCPUs returns the cpus of node, online or not
func (t *Topology) NodeCPUs(node int) (cpuset.CPUSet, error) {
	return readCPUList(filepath.Join(t.sysfs, "devices", "system", "node", fmt.Sprintf("node%d", node), "cpulist"))
}

func readCPUList(path string) (cpuset.CPUSet, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return cpuset.New(), err
	}
	set, err := cpuset.Parse(strings.TrimSpace(string(raw)))
	if err != nil {
		return cpuset.New(), fmt.Errorf("failed to parse cpu list %s: %w", path, err)
	}
	return set, nil
}
