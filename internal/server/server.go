// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

package server

import (
	"context"
	"fmt"
	"html/template"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/exporter-toolkit/web"
	"github.com/sustainable-computing-io/uncorepmu/config"
	"github.com/sustainable-computing-io/uncorepmu/internal/service"
)

// APIService defines the interface for the HTTP server providing API endpoints
type APIService interface {
	service.Service
	Register(endpoint, summary, description string, handler http.Handler) error
}

// APIServer serves all endpoints registered by other services on a single
// listener configured through the exporter-toolkit web config
type APIServer struct {
	logger *slog.Logger

	server    *http.Server
	mux       *http.ServeMux
	webConfig *web.FlagConfig

	mu        sync.Mutex
	routes []route
}

type route struct {
	path        string
	summary     string
	description string
}

var _ APIService = (*APIServer)(nil)

type Opts struct {
	logger    *slog.Logger
	webConfig *web.FlagConfig
}

// OptionFn is a function sets one more more options in Opts struct
type OptionFn func(*Opts)

// WithLogger sets the logger for the APIServer
func WithLogger(logger *slog.Logger) OptionFn {
	return func(o *Opts) {
		o.logger = logger
	}
}

// WithListen sets the listening addresses and webconfig path for the APIServer
func WithListen(addr []string, path string) OptionFn {
	return func(o *Opts) {
		o.webConfig = &web.FlagConfig{
			WebListenAddresses: &addr,
			WebConfigFile:      &path,
		}
	}
}

func WithWebConfig(Config *web.FlagConfig) OptionFn {
	return func(o *Opts) {
		o.webConfig = Config
	}
}

// DefaultOpts returns the default options
func DefaultOpts() Opts {
	TLSconfig := ""
	return Opts{
		logger: slog.Default(),
		webConfig: &web.FlagConfig{
			WebListenAddresses: &[]string{config.DefaultListenAddress},
			WebConfigFile:      &TLSconfig,
		},
	}
}

// NewAPIServer creates a new HTTPAPIServer instance
func NewAPIServer(applyOpts ...OptionFn) *APIServer {
	opts := DefaultOpts()
	for _, apply := range applyOpts {
		apply(&opts)
	}

	mux := http.NewServeMux()
	return &APIServer{
		logger: opts.logger.With("service", "api-server"),
		mux:    mux,
		server: &http.Server{
			Handler:           mux,
			ReadHeaderTimeout: 10 * time.Second,
		},
		webConfig: opts.webConfig,
	}
}

var landingPage = template.Must(template.New("landing").Parse(`<html>
<head><title>uncorepmu</title></head>
<body>
<h1>Uncore PMU Service</h1>
<p>Available endpoints:</p>
<ul>
{{- range . }}
	<li> <a href="{{ .path }}"> {{ .summary }} </a> {{ .description }} </li>
{{- end }}
</ul>
</body>
</html>
`))

func (s *APIServer) Name() string {
	return "api-server"
}

func (s *APIServer) Init() error {
	s.logger.Info("Initializing API server")
	s.mux.HandleFunc("/", s.handleLanding)
	return nil
}

func (s *APIServer) handleLanding(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}

	s.mu.Lock()
	links := make([]map[string]string, 0, len(s.routes))
	for _, e := range s.routes {
		links = append(links, map[string]string{
			"path":        e.path,
			"summary":     e.summary,
			"description": e.description,
		})
	}
	s.mu.Unlock()

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := landingPage.Execute(w, links); err != nil {
		s.logger.Error("failed to write landing page", "error", err)
	}
}

func (s *APIServer) Run(ctx context.Context) error {
	s.logger.Info("Running API server")
	errCh := make(chan error)
	go func() {
		errCh <- web.ListenAndServe(s.server, s.webConfig, s.logger)
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("shutting down API server on context done")
		return nil

	case err := <-errCh:
		s.logger.Error("API server returned an error", "error", err)
		return err
	}
}

func (s *APIServer) Shutdown() error {
	s.logger.Info("shutting down API server on request")

	// NOTE: ensure http server shuts down within 5 seconds
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.server.Shutdown(ctx)
}

// Register serves handler at endpoint and lists it on the landing page
func (s *APIServer) Register(endpoint, summary, description string, handler http.Handler) (err error) {
	defer func() {
		// ServeMux panics on conflicting patterns
		if r := recover(); r != nil {
			err = fmt.Errorf("failed to register %s: %v", endpoint, r)
		}
	}()

	s.mux.Handle(endpoint, handler)
	s.logger.Debug("Endpoint Registered", "endpoint", endpoint)

	s.mu.Lock()
	s.routes = append(s.routes, route{path: endpoint, summary: summary, description: description})
	s.mu.Unlock()
	return nil
}
