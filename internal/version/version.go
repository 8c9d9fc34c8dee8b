// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

package version

import (
	"fmt"
	"runtime"
)

// set with -ldflags "-X github.com/sustainable-computing-io/uncorepmu/internal/version.version=..."
var (
	version   string
	buildTime string
	gitBranch string
	gitCommit string
)

type VersionInfo struct {
	Version   string
	BuildTime string
	GitBranch string
	GitCommit string

	GoVersion string
	GoOS      string
	GoArch    string
}

// Info returns the version information
func Info() VersionInfo {
	return VersionInfo{
		Version:   orUnknown(version),
		BuildTime: buildTime,
		GitBranch: gitBranch,
		GitCommit: gitCommit,

		GoVersion: runtime.Version(),
		GoOS:      runtime.GOOS,
		GoArch:    runtime.GOARCH,
	}
}

// String renders the information the way --version prints it
func (v VersionInfo) String() string {
	return fmt.Sprintf("uncorepmu %s (branch: %s, revision: %s, built: %s) %s %s/%s",
		v.Version, orUnknown(v.GitBranch), orUnknown(v.GitCommit), orUnknown(v.BuildTime),
		v.GoVersion, v.GoOS, v.GoArch)
}

func orUnknown(s string) string {
	if s == "" {
		return "unknown"
	}
	return s
}
