// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

//go:build e2e

package e2e

import (
	"flag"
	"os"
	"path/filepath"
	"testing"
	"time"
)

// Based on monitor.interval (1s) from e2e-config.yaml
const (
	waitForMetricsAvailable = 5 * time.Second
	waitBetweenSnapshots    = 2 * time.Second
)

var testConfig = struct {
	binary     string
	port       int
	configFile string
}{
	binary: "bin/uncorepmu",
	port:   28283,
}

func init() {
	flag.StringVar(&testConfig.binary, "uncorepmu.binary", testConfig.binary, "Path to the uncorepmu binary")
	flag.IntVar(&testConfig.port, "uncorepmu.port", testConfig.port, "Port of the API server")
	flag.StringVar(&testConfig.configFile, "uncorepmu.config", "", "Path to the config file")
}

func TestMain(m *testing.M) {
	flag.Parse()

	if testConfig.configFile == "" {
		testConfig.configFile = findConfigFile()
	}
	os.Exit(m.Run())
}

func findConfigFile() string {
	for _, c := range []string{
		"test/testdata/e2e-config.yaml",
		"../testdata/e2e-config.yaml",
		"testdata/e2e-config.yaml",
	} {
		if abs, err := filepath.Abs(c); err == nil {
			if _, err := os.Stat(abs); err == nil {
				return abs
			}
		}
	}
	return ""
}

func setup(t *testing.T) (*Instance, *MetricsScraper) {
	t.Helper()
	if testConfig.configFile == "" {
		t.Skip("e2e config file not found")
	}
	u := start(t, withLogOutput(os.Stderr))
	return u, NewMetricsScraper(u.URL("/metrics"))
}
