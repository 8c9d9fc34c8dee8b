// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/sustainable-computing-io/uncorepmu/internal/discovery"
	"github.com/sustainable-computing-io/uncorepmu/internal/firmware"
	"github.com/sustainable-computing-io/uncorepmu/internal/pmu"
	testingclock "k8s.io/utils/clock/testing"
)

type cpuZero struct{}

func (cpuZero) AffinityCPU(int) (int, error) {
	return 0, nil
}

type apiFixture struct {
	fw      *firmware.Fake
	handler http.Handler
}

func newAPIFixture(t *testing.T) apiFixture {
	t.Helper()
	fw := firmware.NewFake()
	r := pmu.NewRegistry(fw, discovery.NewStatic(1), cpuZero{},
		pmu.WithClock(testingclock.NewFakeClock(time.Now())))
	require.NoError(t, r.Init())
	t.Cleanup(func() { assert.NoError(t, r.Shutdown()) })

	apiServer := newMockAPIServer()
	m := NewManagementAPI(apiServer, r, slog.Default())
	require.NoError(t, m.Init())
	require.Contains(t, apiServer.handlers, "/api/v1/")

	return apiFixture{fw: fw, handler: apiServer.handlers["/api/v1/"]}
}

func (f apiFixture) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
	}
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&v))
	return v
}

func (f apiFixture) openGroup(t *testing.T, device string, start bool, events ...string) []SessionView {
	t.Helper()
	body, err := json.Marshal(GroupRequest{Device: device, Events: events, Start: start})
	require.NoError(t, err)
	rec := f.do(t, http.MethodPost, "/api/v1/groups", string(body))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	return decode[[]SessionView](t, rec)
}

func TestManagementAPI_Devices(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.do(t, http.MethodGet, "/api/v1/devices", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	devices := decode[[]DeviceView](t, rec)
	require.Len(t, devices, 2)
	assert.Equal(t, "uncore_dmc_0", devices[0].Name)
	assert.Equal(t, "uncore_l3c_0", devices[1].Name)
	assert.Equal(t, "l3c", devices[1].Kind)
	assert.Equal(t, 4, devices[1].MaxSlots)
	assert.Equal(t, uint32(0x18), devices[1].MaxEvents)
	assert.Contains(t, devices[1].Events, EventView{Name: "read_hit", ID: 0x17, Config: "event=0x17"})

	rec = f.do(t, http.MethodGet, "/api/v1/devices/uncore_dmc_0", "")
	require.Equal(t, http.StatusOK, rec.Code)
	dmc := decode[DeviceView](t, rec)
	assert.Equal(t, uint32(0x10), dmc.MaxEvents)

	rec = f.do(t, http.MethodGet, "/api/v1/devices/uncore_dmc_7", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, decode[errorResponse](t, rec).Error, "not found")
}

func TestManagementAPI_SessionLifecycle(t *testing.T) {
	f := newAPIFixture(t)

	group := f.openGroup(t, "uncore_l3c_0", true, "read_hit", "0x15")
	require.Len(t, group, 2)
	assert.Equal(t, "read_hit", group[0].Event)
	assert.Equal(t, "inv_hit", group[1].Event)
	assert.Equal(t, 0, group[0].Slot)
	assert.Equal(t, 1, group[1].Slot)
	assert.Equal(t, "running", group[0].State)

	rec := f.do(t, http.MethodGet, "/api/v1/sessions", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]SessionView](t, rec), 2)

	id := group[0].ID
	f.fw.Advance(firmware.SelectL3CRead, 0, 0, 100)
	rec = f.do(t, http.MethodGet, "/api/v1/sessions/"+id, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, uint64(100), decode[SessionView](t, rec).Count, "reads fold the live value")

	rec = f.do(t, http.MethodPost, "/api/v1/sessions/"+id+"/stop", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "stopped", decode[SessionView](t, rec).State)

	rec = f.do(t, http.MethodPost, "/api/v1/sessions/"+id+"/start", "")
	require.Equal(t, http.StatusOK, rec.Code)
	started := decode[SessionView](t, rec)
	assert.Equal(t, "running", started.State)
	assert.Equal(t, uint64(100), started.Count, "restarting keeps the total")

	rec = f.do(t, http.MethodDelete, "/api/v1/sessions/"+id, "")
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = f.do(t, http.MethodGet, "/api/v1/sessions/"+id, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	rec = f.do(t, http.MethodDelete, "/api/v1/sessions/"+id, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestManagementAPI_OpenGroupErrors(t *testing.T) {
	tt := []struct {
		name string
		body string
		code int
	}{
		{"malformed body", `{"device":`, http.StatusBadRequest},
		{"unknown field", `{"device":"uncore_l3c_0","events":["read_hit"],"bogus":1}`, http.StatusBadRequest},
		{"unknown device", `{"device":"uncore_l3c_9","events":["read_hit"]}`, http.StatusNotFound},
		{"empty group", `{"device":"uncore_l3c_0","events":[]}`, http.StatusBadRequest},
		{"unknown event", `{"device":"uncore_l3c_0","events":["bogus"]}`, http.StatusBadRequest},
		{"event id out of range", `{"device":"uncore_dmc_0","events":["0x10"]}`, http.StatusBadRequest},
		{"oversized group", `{"device":"uncore_dmc_0","events":["0x1","0x2","0x3","0x4","0x5"]}`, http.StatusConflict},
	}

	for _, tc := range tt {
		t.Run(tc.name, func(t *testing.T) {
			f := newAPIFixture(t)
			rec := f.do(t, http.MethodPost, "/api/v1/groups", tc.body)
			assert.Equal(t, tc.code, rec.Code, rec.Body.String())
			assert.NotEmpty(t, decode[errorResponse](t, rec).Error)

			rec = f.do(t, http.MethodGet, "/api/v1/sessions", "")
			assert.Empty(t, decode[[]SessionView](t, rec), "failed groups leave no sessions")
		})
	}
}

func TestManagementAPI_ResourceExhausted(t *testing.T) {
	f := newAPIFixture(t)
	f.openGroup(t, "uncore_dmc_0", false, "0x1", "0x2", "0x3", "0x4")

	rec := f.do(t, http.MethodPost, "/api/v1/groups", `{"device":"uncore_dmc_0","events":["read_txns"]}`)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, retryAfter, rec.Header().Get("Retry-After"))

	// other devices keep their own slots
	f.openGroup(t, "uncore_l3c_0", false, "read_hit")
}

func TestManagementAPI_FirmwareFailure(t *testing.T) {
	f := newAPIFixture(t)
	f.fw.FailWith(firmware.SelectL3CStartStop, firmware.StatusNotSupported)

	rec := f.do(t, http.MethodPost, "/api/v1/groups", `{"device":"uncore_l3c_0","events":["read_hit"],"start":true}`)
	assert.Equal(t, http.StatusBadGateway, rec.Code)

	f.fw.Recover(firmware.SelectL3CStartStop)
	group := f.openGroup(t, "uncore_l3c_0", false, "read_hit")
	assert.Equal(t, 0, group[0].Slot, "the failed group released its slot")

	f.fw.FailWith(firmware.SelectL3CStartStop, firmware.StatusNotSupported)
	rec = f.do(t, http.MethodPost, "/api/v1/sessions/"+group[0].ID+"/start", "")
	assert.Equal(t, http.StatusBadGateway, rec.Code)
}

func TestManagementAPI_Routing(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.do(t, http.MethodPut, "/api/v1/groups", "{}")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)

	rec = f.do(t, http.MethodGet, "/api/v1/nothing", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = f.do(t, http.MethodPost, "/api/v1/sessions/no-separator/start", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestStatusFor(t *testing.T) {
	wrap := func(err error) error { return fmt.Errorf("uncore_l3c_0:1: %w", err) }

	tt := []struct {
		err  error
		code int
	}{
		{wrap(pmu.ErrInvalidEvent), http.StatusBadRequest},
		{wrap(pmu.ErrUnsupported), http.StatusBadRequest},
		{wrap(pmu.ErrInvalidTarget), http.StatusBadRequest},
		{wrap(pmu.ErrNotFound), http.StatusNotFound},
		{wrap(pmu.ErrGroupUnschedulable), http.StatusConflict},
		{wrap(pmu.ErrInvalidState), http.StatusConflict},
		{wrap(pmu.ErrDeviceExists), http.StatusConflict},
		{wrap(pmu.ErrResourceExhausted), http.StatusServiceUnavailable},
		{wrap(&firmware.CallError{Status: 3}), http.StatusBadGateway},
		{errors.New("boom"), http.StatusInternalServerError},
	}

	for _, tc := range tt {
		t.Run(tc.err.Error(), func(t *testing.T) {
			assert.Equal(t, tc.code, statusFor(tc.err))
		})
	}
}
