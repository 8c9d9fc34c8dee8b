// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

//go:build !linux

package pmu

import "errors"

func pinThread(int) error {
	return errors.New("thread pinning is only supported on linux")
}
