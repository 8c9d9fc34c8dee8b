// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

//go:build e2e

package e2e

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"syscall"
	"testing"
	"time"

	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"
)

// Instance is a running uncorepmu process
type Instance struct {
	cmd        *exec.Cmd
	configPath string
	binaryPath string
	port       int
	logOutput  io.Writer
	client     *http.Client
}

type option func(*Instance)

func withLogOutput(w io.Writer) option {
	return func(u *Instance) { u.logOutput = w }
}

// start runs the binary and stops it when the test ends
func start(t *testing.T, opts ...option) *Instance {
	t.Helper()

	u := &Instance{
		port:       testConfig.port,
		binaryPath: testConfig.binary,
		configPath: testConfig.configFile,
		logOutput:  io.Discard,
		client:     &http.Client{Timeout: 10 * time.Second},
	}
	for _, opt := range opts {
		opt(u)
	}

	if err := u.start(t); err != nil {
		t.Fatalf("Failed to start uncorepmu: %v", err)
	}
	t.Cleanup(func() {
		if err := u.stop(); err != nil {
			t.Logf("Warning: failed to stop uncorepmu: %v", err)
		}
	})
	return u
}

func (u *Instance) start(t *testing.T) error {
	t.Helper()

	binary, err := u.findBinary()
	if err != nil {
		return err
	}

	args := []string{
		fmt.Sprintf("--web.listen-address=:%d", u.port),
		fmt.Sprintf("--config.file=%s", u.configPath),
	}
	u.cmd = exec.Command(binary, args...)
	u.cmd.Stdout = u.logOutput
	u.cmd.Stderr = u.logOutput

	t.Logf("Starting uncorepmu: %s %v", binary, args)
	if err := u.cmd.Start(); err != nil {
		return fmt.Errorf("failed to start uncorepmu: %w", err)
	}

	if err := u.waitForReady(30 * time.Second); err != nil {
		_ = u.stop()
		return fmt.Errorf("uncorepmu failed to become ready: %w", err)
	}
	return nil
}

func (u *Instance) findBinary() (string, error) {
	if _, err := os.Stat(u.binaryPath); err == nil {
		return filepath.Abs(u.binaryPath)
	}
	if path, err := exec.LookPath("uncorepmu"); err == nil {
		return path, nil
	}
	return "", fmt.Errorf("uncorepmu binary not found at %s or in PATH", u.binaryPath)
}

func (u *Instance) waitForReady(timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()
	for {
		resp, err := u.client.Get(u.URL("/probe/readyz"))
		if err == nil {
			_ = resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				return nil
			}
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (u *Instance) stop() error {
	if u.cmd == nil || u.cmd.Process == nil || u.cmd.ProcessState != nil {
		return nil
	}
	_ = u.cmd.Process.Signal(syscall.SIGTERM)

	done := make(chan error, 1)
	go func() { done <- u.cmd.Wait() }()

	select {
	case <-time.After(10 * time.Second):
		_ = u.cmd.Process.Kill()
		return errors.New("uncorepmu did not stop gracefully")
	case err := <-done:
		return err
	}
}

// URL returns the address of path on the API server
func (u *Instance) URL(path string) string {
	return fmt.Sprintf("http://localhost:%d%s", u.port, path)
}

// IsRunning returns true if the process accepts signals
func (u *Instance) IsRunning() bool {
	if u.cmd == nil || u.cmd.Process == nil {
		return false
	}
	return u.cmd.Process.Signal(syscall.Signal(0)) == nil
}

// Do sends a JSON request and decodes a JSON response into out when non nil
func (u *Instance) Do(method, path string, body, out any) (int, error) {
	var r io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return 0, err
		}
		r = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, u.URL(path), r)
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := u.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer func() { _ = resp.Body.Close() }()

	if out != nil && resp.StatusCode < http.StatusBadRequest {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return resp.StatusCode, fmt.Errorf("failed to decode response: %w", err)
		}
	}
	return resp.StatusCode, nil
}

// Metric is one sample of a scraped metric family
type Metric struct {
	Labels map[string]string
	Value  float64
}

// MetricsScraper scrapes Prometheus metrics from a URL
type MetricsScraper struct {
	url    string
	client *http.Client
}

func NewMetricsScraper(url string) *MetricsScraper {
	return &MetricsScraper{url: url, client: &http.Client{Timeout: 10 * time.Second}}
}

// Scrape fetches all metric families from the endpoint
func (s *MetricsScraper) Scrape() (map[string][]Metric, error) {
	resp, err := s.client.Get(s.url)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch metrics: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status: %d", resp.StatusCode)
	}

	families := map[string][]Metric{}
	decoder := expfmt.NewDecoder(resp.Body, expfmt.ResponseFormat(resp.Header))
	for {
		var mf dto.MetricFamily
		if err := decoder.Decode(&mf); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, fmt.Errorf("failed to decode metrics: %w", err)
		}

		for _, m := range mf.GetMetric() {
			labels := map[string]string{}
			for _, lp := range m.GetLabel() {
				labels[lp.GetName()] = lp.GetValue()
			}
			families[mf.GetName()] = append(families[mf.GetName()], Metric{
				Labels: labels,
				Value:  value(m),
			})
		}
	}
	return families, nil
}

// Find returns the samples of name whose labels contain all of labels
func (s *MetricsScraper) Find(name string, labels map[string]string) ([]Metric, error) {
	families, err := s.Scrape()
	if err != nil {
		return nil, err
	}

	var matched []Metric
	for _, m := range families[name] {
		if matchLabels(m.Labels, labels) {
			matched = append(matched, m)
		}
	}
	return matched, nil
}

func matchLabels(have, want map[string]string) bool {
	for k, v := range want {
		if have[k] != v {
			return false
		}
	}
	return true
}

func value(m *dto.Metric) float64 {
	switch {
	case m.GetCounter() != nil:
		return m.GetCounter().GetValue()
	case m.GetGauge() != nil:
		return m.GetGauge().GetValue()
	case m.GetUntyped() != nil:
		return m.GetUntyped().GetValue()
	}
	return 0
}
