// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

package logger

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	tt := []struct {
		name    string
		format  string
		level   string
		logInfo bool
	}{
		{"json debug", "json", "debug", true},
		{"json info", "json", "info", true},
		{"json warn", "json", "warn", false},
		{"text info", "text", "info", true},
		{"text error", "text", "error", false},
		{"text upper case", "text", "WARN", false},
		{"unknown level is info", "text", "verbose", true},
	}

	for _, tc := range tt {
		t.Run(tc.name, func(t *testing.T) {
			var buf bytes.Buffer
			l := New(tc.level, tc.format, &buf)

			l.Info("counter folded", "slot", 2)
			assert.Equal(t, tc.logInfo, strings.Contains(buf.String(), "counter folded"))

			buf.Reset()
			l.Error("firmware call failed")
			assert.Contains(t, buf.String(), "firmware call failed")
		})
	}
}

func TestNew_InvalidFormat(t *testing.T) {
	assert.Panics(t, func() { New("info", "yaml", &bytes.Buffer{}) })
}

func TestLogLevel(t *testing.T) {
	New("debug", "text", &bytes.Buffer{})
	assert.Equal(t, slog.LevelDebug, LogLevel())
	New("error", "json", &bytes.Buffer{})
	assert.Equal(t, slog.LevelError, LogLevel())
}

func TestJSONFields(t *testing.T) {
	var buf bytes.Buffer
	New("info", "json", &buf).Info("device registered", "device", "uncore_l3c_0")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "INFO", entry["level"])
	assert.Equal(t, "uncore_l3c_0", entry["device"])
	assert.Contains(t, entry, "source")
}

func TestShortSource(t *testing.T) {
	tt := []struct {
		file string
		want string
	}{
		{"/home/dev/src/uncorepmu/internal/pmu/session.go", "internal/pmu/session.go"},
		{"pmu/session.go", "pmu/session.go"},
		{"session.go", "session.go"},
	}
	for _, tc := range tt {
		t.Run(tc.file, func(t *testing.T) {
			a := shortSource(nil, slog.Any(slog.SourceKey, &slog.Source{File: tc.file, Line: 10}))
			assert.Equal(t, tc.want, a.Value.Any().(*slog.Source).File)
		})
	}

	other := slog.String("msg", "x")
	assert.Equal(t, other, shortSource(nil, other))
}
