// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

package service

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSignalHandler(t *testing.T) {
	t.Run("returns on signal", func(t *testing.T) {
		// keeps the default action (exit) away until Run has registered
		guard := make(chan os.Signal, 8)
		signal.Notify(guard, syscall.SIGUSR1)
		defer signal.Stop(guard)

		sh := NewSignalHandler(nil, syscall.SIGUSR1)
		errCh := make(chan error, 1)
		go func() { errCh <- sh.Run(context.Background()) }()

		var err error
		require.Eventually(t, func() bool {
			require.NoError(t, syscall.Kill(syscall.Getpid(), syscall.SIGUSR1))
			select {
			case err = <-errCh:
				return true
			case <-time.After(10 * time.Millisecond):
				return false
			}
		}, 2*time.Second, 20*time.Millisecond)
		assert.NoError(t, err)
	})

	t.Run("returns when context is canceled", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		sh := NewSignalHandler(nil, syscall.SIGINT)
		errCh := make(chan error, 1)
		go func() { errCh <- sh.Run(ctx) }()
		cancel()

		select {
		case err := <-errCh:
			assert.ErrorIs(t, err, context.Canceled)
		case <-time.After(time.Second):
			t.Fatal("Run did not return after context cancellation")
		}
	})
}
