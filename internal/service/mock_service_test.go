// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

package service

import (
	"context"
	"sync"
)

// journal records lifecycle calls across services in order
type journal struct {
	mu      sync.Mutex
	entries []string
}

func (j *journal) add(entry string) {
	if j == nil {
		return
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	j.entries = append(j.entries, entry)
}

func (j *journal) list() []string {
	j.mu.Lock()
	defer j.mu.Unlock()
	return append([]string(nil), j.entries...)
}

// fakeService implements every lifecycle interface; nil funcs succeed
type fakeService struct {
	name    string
	journal *journal

	initFn     func() error
	runFn      func(ctx context.Context) error
	shutdownFn func() error
}

func (f *fakeService) Name() string {
	return f.name
}

func (f *fakeService) Init() error {
	f.journal.add("init:" + f.name)
	if f.initFn != nil {
		return f.initFn()
	}
	return nil
}

func (f *fakeService) Run(ctx context.Context) error {
	f.journal.add("run:" + f.name)
	if f.runFn != nil {
		return f.runFn(ctx)
	}
	<-ctx.Done()
	return nil
}

func (f *fakeService) Shutdown() error {
	f.journal.add("shutdown:" + f.name)
	if f.shutdownFn != nil {
		return f.shutdownFn()
	}
	return nil
}

// plainService implements only Service
type plainService struct {
	name string
}

func (p plainService) Name() string {
	return p.name
}
