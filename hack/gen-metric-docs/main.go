// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/alecthomas/kingpin/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sustainable-computing-io/uncorepmu/internal/exporter/prometheus/collector"
	"github.com/sustainable-computing-io/uncorepmu/internal/monitor"
	"github.com/sustainable-computing-io/uncorepmu/internal/pmu"
)

// MetricInfo holds information about a Prometheus metric
type MetricInfo struct {
	Name        string
	Type        string
	Description string
	Labels      []string
	ConstLabels map[string]string
}

// emptyMonitor satisfies monitor.DataProvider without any devices
type emptyMonitor struct {
	ch chan struct{}
}

func (m *emptyMonitor) Snapshot() (*monitor.Snapshot, error) {
	return &monitor.Snapshot{}, nil
}

func (m *emptyMonitor) DataChannel() <-chan struct{} {
	return m.ch
}

type noDevices struct{}

func (noDevices) Devices() []*pmu.Device {
	return nil
}

var (
	fqNameRegex    = regexp.MustCompile(`fqName: "([^"]+)"`)
	helpRegex      = regexp.MustCompile(`help: "([^"]+)"`)
	varLabelsRegex = regexp.MustCompile(`variableLabels: \{([^}]*)\}`)
	constRegex     = regexp.MustCompile(`constLabels: \{([^}]*)\}`)
	labelPairRegex = regexp.MustCompile(`(\w+)="([^"]*)"`)
)

// extractMetricsInfo parses the descriptions a collector advertises
func extractMetricsInfo(c prometheus.Collector) []MetricInfo {
	ch := make(chan *prometheus.Desc, 100)
	c.Describe(ch)
	close(ch)

	var metrics []MetricInfo
	for desc := range ch {
		s := desc.String()
		name := fqNameRegex.FindStringSubmatch(s)
		help := helpRegex.FindStringSubmatch(s)
		if len(name) < 2 || len(help) < 2 {
			slog.Warn("Could not parse metric description", "desc", s)
			continue
		}

		var labels []string
		if m := varLabelsRegex.FindStringSubmatch(s); len(m) >= 2 && m[1] != "" {
			for _, l := range strings.Split(m[1], ",") {
				labels = append(labels, strings.TrimSpace(l))
			}
		}

		constLabels := map[string]string{}
		if m := constRegex.FindStringSubmatch(s); len(m) >= 2 {
			for _, pair := range labelPairRegex.FindAllStringSubmatch(m[1], -1) {
				constLabels[pair[1]] = pair[2]
			}
		}

		typ := "GAUGE"
		if strings.HasSuffix(name[1], "_total") {
			typ = "COUNTER"
		}

		metrics = append(metrics, MetricInfo{
			Name:        name[1],
			Type:        typ,
			Description: help[1],
			Labels:      labels,
			ConstLabels: constLabels,
		})
	}
	return metrics
}

var sections = []struct {
	prefix string
	title  string
	intro  string
}{
	{"uncore_event_", "Event Metrics", "Accumulated counts of the monitoring sessions, one series per session."},
	{"uncore_device_", "Device Metrics", "State of every registered uncore PMU device."},
	{"uncore_firmware_", "Firmware Metrics", "Health of the firmware call path used to control the counters."},
	{"", "Other Metrics", "Additional metrics of the service."},
}

// generateMarkdown renders the metrics grouped by subsystem
func generateMarkdown(metrics []MetricInfo) string {
	sort.Slice(metrics, func(i, j int) bool {
		return metrics[i].Name < metrics[j].Name
	})

	var md strings.Builder
	md.WriteString("# Uncore PMU Metrics\n\n")
	md.WriteString("Metrics exported on `/metrics` for the L3 cache and DRAM controller counters.\n\n")
	md.WriteString("- **COUNTER**: A cumulative metric that only increases over time\n")
	md.WriteString("- **GAUGE**: A metric that can increase and decrease\n\n")

	grouped := make([][]MetricInfo, len(sections))
	for _, m := range metrics {
		for i, s := range sections {
			if strings.HasPrefix(m.Name, s.prefix) {
				grouped[i] = append(grouped[i], m)
				break
			}
		}
	}

	for i, s := range sections {
		if len(grouped[i]) == 0 {
			continue
		}
		fmt.Fprintf(&md, "## %s\n\n%s\n\n", s.title, s.intro)
		writeMetricsSection(&md, grouped[i])
	}

	md.WriteString("---\n\nThis documentation was automatically generated by the gen-metric-docs tool.\n")
	return md.String()
}

func writeMetricsSection(w io.Writer, metrics []MetricInfo) {
	for _, m := range metrics {
		fmt.Fprintf(w, "### %s\n\n", m.Name)
		fmt.Fprintf(w, "- **Type**: %s\n", m.Type)
		fmt.Fprintf(w, "- **Description**: %s\n", m.Description)
		if len(m.Labels) > 0 {
			fmt.Fprintln(w, "- **Labels**:")
			for _, l := range m.Labels {
				fmt.Fprintf(w, "  - `%s`\n", l)
			}
		}
		if len(m.ConstLabels) > 0 {
			fmt.Fprintln(w, "- **Constant Labels**:")
			keys := make([]string, 0, len(m.ConstLabels))
			for k := range m.ConstLabels {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			for _, k := range keys {
				fmt.Fprintf(w, "  - `%s`\n", k)
			}
		}
		fmt.Fprintln(w)
	}
}

// collectors returns every collector exported by the service
func collectors(procfs string, logger *slog.Logger) []prometheus.Collector {
	dp := &emptyMonitor{ch: make(chan struct{})}
	close(dp.ch)

	cs := []prometheus.Collector{
		collector.NewBuildInfoCollector(),
		collector.NewCounterCollector(dp, logger),
	}
	cpuInfo, err := collector.NewCPUInfoCollector(procfs, noDevices{}, logger)
	if err != nil {
		logger.Warn("Skipping cpu info collector", "error", err)
		return cs
	}
	return append(cs, cpuInfo)
}

func run(output, procfs string, logger *slog.Logger) error {
	var metrics []MetricInfo
	for _, c := range collectors(procfs, logger) {
		metrics = append(metrics, extractMetricsInfo(c)...)
	}
	logger.Info("Extracted metrics", "count", len(metrics))

	if dir := filepath.Dir(output); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create output directory: %w", err)
		}
	}
	if err := os.WriteFile(output, []byte(generateMarkdown(metrics)), 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", output, err)
	}
	logger.Info("Metrics documentation generated", "output", output)
	return nil
}

func main() {
	app := kingpin.New("gen-metric-docs", "Generates the metrics reference of the uncore PMU service")
	output := app.Flag("output", "Path to output Markdown file").Default("metrics.md").String()
	procfs := app.Flag("procfs", "procfs mount used by the cpu info collector").Default("/proc").String()
	kingpin.MustParse(app.Parse(os.Args[1:]))

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	if err := run(*output, *procfs, logger); err != nil {
		logger.Error("Failed to generate metrics documentation", "error", err)
		os.Exit(1)
	}
}
