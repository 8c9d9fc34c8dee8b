// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

package firmware

import (
	"encoding/binary"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"golang.org/x/sys/unix"
)

// DefaultDevicePath is where the privileged call bridge is expected
const DefaultDevicePath = "/dev/uncore-smc"

const (
	requestSize  = 5 * 8
	responseSize = 2 * 8
)

// deviceFile implements Caller on top of a character device that forwards
// each written request to firmware and answers with the call's result.
//
// Request:  vendor | selector | node | counter | value   (5 x uint64, LE)
// Response: status | value                               (2 x uint64, LE)
type deviceFile struct {
	path   string
	logger *slog.Logger

	mu sync.Mutex // one call in flight per handle
	fd int
}

var _ Caller = (*deviceFile)(nil)

// NewDeviceFile creates a Caller using the device at path
func NewDeviceFile(path string, logger *slog.Logger) *deviceFile {
	if logger == nil {
		logger = slog.Default()
	}
	return &deviceFile{
		path:   path,
		logger: logger.With("caller", "device-file"),
		fd:     -1,
	}
}

func (d *deviceFile) Name() string {
	return "device-file"
}

// Available checks that the device exists and is a character device
func (d *deviceFile) Available() bool {
	fi, err := os.Stat(d.path)
	if err != nil {
		d.logger.Debug("firmware device not available", "path", d.path, "error", err)
		return false
	}
	return fi.Mode()&os.ModeCharDevice != 0
}

// Init opens the device
func (d *deviceFile) Init() error {
	if !d.Available() {
		return fmt.Errorf("firmware device %s not available", d.path)
	}

	fd, err := unix.Open(d.path, unix.O_RDWR|unix.O_CLOEXEC, 0)
	if err != nil {
		return fmt.Errorf("failed to open firmware device %s: %w", d.path, err)
	}

	d.mu.Lock()
	d.fd = fd
	d.mu.Unlock()

	d.logger.Info("firmware device opened", "path", d.path)
	return nil
}

// Call implements Caller
func (d *deviceFile) Call(args Args) (Result, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.fd < 0 {
		return Result{}, fmt.Errorf("firmware device %s not opened", d.path)
	}

	req := encodeRequest(args)
	n, err := unix.Write(d.fd, req)
	if err != nil {
		return Result{}, fmt.Errorf("failed to write request: %w", err)
	}
	if n != requestSize {
		return Result{}, fmt.Errorf("short request write: %d of %d bytes", n, requestSize)
	}

	resp := make([]byte, responseSize)
	n, err = unix.Read(d.fd, resp)
	if err != nil {
		return Result{}, fmt.Errorf("failed to read response: %w", err)
	}
	if n != responseSize {
		return Result{}, fmt.Errorf("short response read: %d of %d bytes", n, responseSize)
	}

	return decodeResponse(resp), nil
}

func (d *deviceFile) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.fd < 0 {
		return nil
	}
	err := unix.Close(d.fd)
	d.fd = -1
	return err
}

func encodeRequest(args Args) []byte {
	buf := make([]byte, requestSize)
	binary.LittleEndian.PutUint64(buf[0:], args.Vendor)
	binary.LittleEndian.PutUint64(buf[8:], uint64(args.Selector))
	binary.LittleEndian.PutUint64(buf[16:], args.Node)
	binary.LittleEndian.PutUint64(buf[24:], args.Counter)
	binary.LittleEndian.PutUint64(buf[32:], args.Value)
	return buf
}

func decodeResponse(buf []byte) Result {
	return Result{
		Status: binary.LittleEndian.Uint64(buf[0:]),
		Value:  binary.LittleEndian.Uint64(buf[8:]),
	}
}
