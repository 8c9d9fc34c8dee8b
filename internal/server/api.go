// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/sustainable-computing-io/uncorepmu/internal/pmu"
	"github.com/sustainable-computing-io/uncorepmu/internal/service"
)

const (
	apiPrefix    = "/api/v1/"
	maxBodyBytes = 1 << 20

	// retryAfter is sent with 503 responses when all counter slots are in use
	retryAfter = "5"
)

// Controller is the part of the device registry the management API drives;
// *pmu.Registry implements it
type Controller interface {
	Devices() []*pmu.Device
	Device(name string) (*pmu.Device, error)
	Sessions() []*pmu.Session
	Session(id string) (*pmu.Session, error)
	OpenGroup(device string, events []string, start bool) ([]*pmu.Session, error)
}

// ManagementAPI exposes devices and counting sessions as JSON resources
type ManagementAPI struct {
	logger *slog.Logger
	api    APIService
	ctrl   Controller
}

var _ service.Initializer = (*ManagementAPI)(nil)

func NewManagementAPI(api APIService, ctrl Controller, logger *slog.Logger) *ManagementAPI {
	return &ManagementAPI{
		logger: logger.With("service", "management-api"),
		api:    api,
		ctrl:   ctrl,
	}
}

func (m *ManagementAPI) Name() string {
	return "management-api"
}

func (m *ManagementAPI) Init() error {
	return m.api.Register(apiPrefix, "API", "Uncore devices and counting sessions", m.handlers())
}

func (m *ManagementAPI) handlers() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/v1/devices", m.listDevices)
	mux.HandleFunc("GET /api/v1/devices/{name}", m.getDevice)
	mux.HandleFunc("GET /api/v1/sessions", m.listSessions)
	mux.HandleFunc("GET /api/v1/sessions/{id}", m.readSession)
	mux.HandleFunc("POST /api/v1/groups", m.openGroup)
	mux.HandleFunc("POST /api/v1/sessions/{id}/start", m.startSession)
	mux.HandleFunc("POST /api/v1/sessions/{id}/stop", m.stopSession)
	mux.HandleFunc("DELETE /api/v1/sessions/{id}", m.removeSession)
	return mux
}

// DeviceView is the JSON representation of a device
type DeviceView struct {
	Name           string      `json:"name"`
	Kind           string      `json:"kind"`
	Node           int         `json:"node"`
	CPU            int         `json:"cpu"`
	Base           string      `json:"base"`
	MaxSlots       int         `json:"maxSlots"`
	ActiveSlots    int         `json:"activeSlots"`
	MaxEvents      uint32      `json:"maxEvents"`
	Interval       string      `json:"interval"`
	SamplerArmed   bool        `json:"samplerArmed"`
	FirmwareErrors uint64      `json:"firmwareErrors"`
	Events         []EventView `json:"events"`
}

type EventView struct {
	Name   string `json:"name"`
	ID     uint32 `json:"id"`
	Config string `json:"config"`
}

// SessionView is the JSON representation of a counting session
type SessionView struct {
	ID      string `json:"id"`
	Device  string `json:"device"`
	Event   string `json:"event"`
	EventID uint32 `json:"eventId"`
	State   string `json:"state"`
	Slot    int    `json:"slot"`
	Count   uint64 `json:"count"`
}

// GroupRequest opens events on device as one group
type GroupRequest struct {
	Device string   `json:"device"`
	Events []string `json:"events"`
	Start  bool     `json:"start"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func deviceView(d *pmu.Device) DeviceView {
	events := d.Events()
	ev := make([]EventView, 0, len(events))
	for _, e := range events {
		ev = append(ev, EventView{Name: e.Name, ID: e.ID, Config: e.Config()})
	}
	return DeviceView{
		Name:           d.Name(),
		Kind:           d.Kind().String(),
		Node:           d.Node(),
		CPU:            d.CPU(),
		Base:           d.Base(),
		MaxSlots:       d.MaxSlots(),
		ActiveSlots:    d.ActiveSlots(),
		MaxEvents:      d.MaxEvents(),
		Interval:       d.Interval().String(),
		SamplerArmed:   d.SamplerArmed(),
		FirmwareErrors: d.FirmwareErrors(),
		Events:         ev,
	}
}

func sessionView(s *pmu.Session) SessionView {
	info := s.Info()
	return SessionView{
		ID:      info.ID,
		Device:  info.Device,
		Event:   info.Event.Name,
		EventID: info.Event.ID,
		State:   info.State.String(),
		Slot:    info.Slot,
		Count:   info.Count,
	}
}

func (m *ManagementAPI) listDevices(w http.ResponseWriter, _ *http.Request) {
	devices := m.ctrl.Devices()
	views := make([]DeviceView, 0, len(devices))
	for _, d := range devices {
		views = append(views, deviceView(d))
	}
	writeJSON(m.logger, w, http.StatusOK, views)
}

func (m *ManagementAPI) getDevice(w http.ResponseWriter, r *http.Request) {
	d, err := m.ctrl.Device(r.PathValue("name"))
	if err != nil {
		m.writeError(w, err)
		return
	}
	writeJSON(m.logger, w, http.StatusOK, deviceView(d))
}

func (m *ManagementAPI) listSessions(w http.ResponseWriter, _ *http.Request) {
	sessions := m.ctrl.Sessions()
	views := make([]SessionView, 0, len(sessions))
	for _, s := range sessions {
		views = append(views, sessionView(s))
	}
	writeJSON(m.logger, w, http.StatusOK, views)
}

// readSession folds the live hardware value before answering
func (m *ManagementAPI) readSession(w http.ResponseWriter, r *http.Request) {
	s, err := m.ctrl.Session(r.PathValue("id"))
	if err != nil {
		m.writeError(w, err)
		return
	}
	if _, err := s.Read(); err != nil {
		m.writeError(w, err)
		return
	}
	writeJSON(m.logger, w, http.StatusOK, sessionView(s))
}

func (m *ManagementAPI) openGroup(w http.ResponseWriter, r *http.Request) {
	var req GroupRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		writeJSON(m.logger, w, http.StatusBadRequest, errorResponse{Error: fmt.Sprintf("invalid request body: %v", err)})
		return
	}

	sessions, err := m.ctrl.OpenGroup(req.Device, req.Events, req.Start)
	if err != nil {
		m.writeError(w, err)
		return
	}

	views := make([]SessionView, 0, len(sessions))
	for _, s := range sessions {
		views = append(views, sessionView(s))
	}
	m.logger.Info("group opened", "device", req.Device, "events", req.Events, "start", req.Start)
	writeJSON(m.logger, w, http.StatusCreated, views)
}

func (m *ManagementAPI) startSession(w http.ResponseWriter, r *http.Request) {
	m.transition(w, r, (*pmu.Session).Start)
}

func (m *ManagementAPI) stopSession(w http.ResponseWriter, r *http.Request) {
	m.transition(w, r, (*pmu.Session).Stop)
}

func (m *ManagementAPI) transition(w http.ResponseWriter, r *http.Request, op func(*pmu.Session) error) {
	s, err := m.ctrl.Session(r.PathValue("id"))
	if err != nil {
		m.writeError(w, err)
		return
	}
	if err := op(s); err != nil {
		m.writeError(w, err)
		return
	}
	writeJSON(m.logger, w, http.StatusOK, sessionView(s))
}

func (m *ManagementAPI) removeSession(w http.ResponseWriter, r *http.Request) {
	s, err := m.ctrl.Session(r.PathValue("id"))
	if err != nil {
		m.writeError(w, err)
		return
	}
	if err := s.Remove(); err != nil {
		// the session is gone even if the final stop call failed
		m.logger.Warn("session removed with error", "session", s.ID(), "error", err)
	}
	w.WriteHeader(http.StatusNoContent)
}

// statusFor maps pmu errors to HTTP status codes
func statusFor(err error) int {
	switch {
	case errors.Is(err, pmu.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, pmu.ErrInvalidEvent),
		errors.Is(err, pmu.ErrUnsupported),
		errors.Is(err, pmu.ErrInvalidTarget):
		return http.StatusBadRequest
	case errors.Is(err, pmu.ErrGroupUnschedulable),
		errors.Is(err, pmu.ErrInvalidState),
		errors.Is(err, pmu.ErrDeviceExists):
		return http.StatusConflict
	case errors.Is(err, pmu.ErrResourceExhausted):
		return http.StatusServiceUnavailable
	case errors.Is(err, pmu.ErrFirmwareCallFailed):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func (m *ManagementAPI) writeError(w http.ResponseWriter, err error) {
	code := statusFor(err)
	if code == http.StatusServiceUnavailable {
		w.Header().Set("Retry-After", retryAfter)
	}
	if code >= http.StatusInternalServerError {
		m.logger.Error("request failed", "status", code, "error", err)
	}
	writeJSON(m.logger, w, code, errorResponse{Error: err.Error()})
}

func writeJSON(logger *slog.Logger, w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Error("failed to encode JSON response", "error", err)
	}
}
