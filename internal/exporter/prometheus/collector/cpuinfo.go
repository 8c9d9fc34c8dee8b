// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

package collector

import (
	"fmt"
	"log/slog"
	"strconv"
	"sync"

	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/procfs"

	"github.com/sustainable-computing-io/uncorepmu/internal/pmu"
)

// procFS is an interface for CPUInfo.
type procFS interface {
	CPUInfo() ([]procfs.CPUInfo, error)
}

type realProcFS struct {
	fs procfs.FS
}

func (r *realProcFS) CPUInfo() ([]procfs.CPUInfo, error) {
	return r.fs.CPUInfo()
}

func newProcFS(mountPoint string) (procFS, error) {
	fs, err := procfs.NewFS(mountPoint)
	if err != nil {
		return nil, err
	}
	return &realProcFS{fs: fs}, nil
}

// DeviceLister lists the registered devices; *pmu.Registry implements it
type DeviceLister interface {
	Devices() []*pmu.Device
}

// cpuInfoCollector describes the affinity cpu of every device from procfs
type cpuInfoCollector struct {
	sync.Mutex

	fs      procFS
	devices DeviceLister
	logger  *slog.Logger
	desc    *prom.Desc
}

// NewCPUInfoCollector creates a cpuInfoCollector using a procfs mount path.
func NewCPUInfoCollector(procPath string, devices DeviceLister, logger *slog.Logger) (*cpuInfoCollector, error) {
	fs, err := newProcFS(procPath)
	if err != nil {
		return nil, fmt.Errorf("creating procfs failed: %w", err)
	}
	return newCPUInfoCollectorWithFS(fs, devices, logger), nil
}

// newCPUInfoCollectorWithFS injects a procFS interface
func newCPUInfoCollectorWithFS(fs procFS, devices DeviceLister, logger *slog.Logger) *cpuInfoCollector {
	if logger == nil {
		logger = slog.Default()
	}
	return &cpuInfoCollector{
		fs:      fs,
		devices: devices,
		logger:  logger.With("collector", "cpu_info"),
		desc: prom.NewDesc(
			prom.BuildFQName(uncoreNS, "device", "cpu_info"),
			"Affinity CPU of an uncore device with its procfs information",
			[]string{"device", "processor", "vendor_id", "model_name", "physical_id", "core_id"},
			nil,
		),
	}
}

func (c *cpuInfoCollector) Describe(ch chan<- *prom.Desc) {
	ch <- c.desc
}

func (c *cpuInfoCollector) Collect(ch chan<- prom.Metric) {
	c.Lock()
	defer c.Unlock()

	cpuInfos, err := c.fs.CPUInfo()
	if err != nil {
		c.logger.Warn("failed to read cpuinfo", "error", err)
		return
	}
	byProcessor := make(map[int]procfs.CPUInfo, len(cpuInfos))
	for _, ci := range cpuInfos {
		byProcessor[int(ci.Processor)] = ci
	}

	for _, dev := range c.devices.Devices() {
		ci, ok := byProcessor[dev.CPU()]
		if !ok {
			continue
		}
		ch <- prom.MustNewConstMetric(
			c.desc,
			prom.GaugeValue,
			1,
			dev.Name(),
			strconv.Itoa(int(ci.Processor)),
			ci.VendorID,
			ci.ModelName,
			ci.PhysicalID,
			ci.CoreID,
		)
	}
}
