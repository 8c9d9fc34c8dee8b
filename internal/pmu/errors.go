// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

package pmu

import (
	"errors"

	"github.com/sustainable-computing-io/uncorepmu/internal/firmware"
)

var (
	// ErrInvalidEvent is returned for event ids at or above the kind's maximum
	ErrInvalidEvent = errors.New("invalid event")

	// ErrUnsupported is returned for sampling, per-task or filtered sessions
	ErrUnsupported = errors.New("unsupported session attributes")

	// ErrInvalidTarget is returned when the device has no CPU to count on
	ErrInvalidTarget = errors.New("device has no affinity cpu")

	// ErrResourceExhausted is returned when all counter slots are in use.
	// The caller may retry once another session is removed.
	ErrResourceExhausted = errors.New("no free counter slot")

	// ErrGroupUnschedulable is returned when a group can never fit on its device
	ErrGroupUnschedulable = errors.New("event group cannot be scheduled")

	// ErrFirmwareCallFailed is wrapped by every failed counter control call
	ErrFirmwareCallFailed = firmware.ErrCallFailed

	// ErrInvalidState is returned for operations not allowed in the session's state
	ErrInvalidState = errors.New("invalid session state")

	// ErrDeviceExists is returned when a (node, kind) pair is registered twice
	ErrDeviceExists = errors.New("device already registered")

	// ErrNotFound is returned for unknown devices and sessions
	ErrNotFound = errors.New("not found")
)
