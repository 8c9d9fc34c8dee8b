// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

package stdout

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/olekukonko/tablewriter/tw"
	"github.com/sustainable-computing-io/uncorepmu/internal/monitor"
	"github.com/sustainable-computing-io/uncorepmu/internal/service"
)

type (
	Initializer = service.Initializer
	Runner      = service.Runner
	Shutdowner  = service.Shutdowner
	Monitor     = monitor.DataProvider
)

// Exporter periodically prints the counters of all sessions as a table
type Exporter struct {
	logger   *slog.Logger
	monitor  Monitor
	out      io.WriteCloser
	ticker   *time.Ticker
	interval time.Duration
}

var (
	_ Initializer = (*Exporter)(nil)
	_ Runner      = (*Exporter)(nil)
	_ Shutdowner  = (*Exporter)(nil)
)

type Opts struct {
	logger   *slog.Logger
	out      io.WriteCloser
	interval time.Duration
}

// DefaultOpts() returns a new Opts with defaults set
func DefaultOpts() Opts {
	return Opts{
		logger:   slog.Default(),
		out:      os.Stdout,
		interval: 2 * time.Second,
	}
}

// OptionFn is a function sets one more more options in Opts struct
type OptionFn func(*Opts)

// WithLogger sets the logger for the exporter
func WithLogger(logger *slog.Logger) OptionFn {
	return func(o *Opts) {
		o.logger = logger
	}
}

func WithOutput(out io.WriteCloser) OptionFn {
	return func(o *Opts) {
		o.out = out
	}
}

func WithInterval(interval time.Duration) OptionFn {
	return func(o *Opts) {
		o.interval = interval
	}
}

func NewExporter(m Monitor, applyOpts ...OptionFn) *Exporter {
	opts := DefaultOpts()
	for _, apply := range applyOpts {
		apply(&opts)
	}

	return &Exporter{
		logger:   opts.logger.With("service", "stdout"),
		monitor:  m,
		out:      opts.out,
		interval: opts.interval,
	}
}

func (e *Exporter) Name() string {
	return "stdout"
}

func (e *Exporter) Init() error {
	if e.interval <= 0 {
		return fmt.Errorf("invalid stdout interval %s", e.interval)
	}
	e.ticker = time.NewTicker(e.interval)
	return nil
}

func (e *Exporter) Run(ctx context.Context) error {
	defer e.ticker.Stop()
	for {
		select {
		case now := <-e.ticker.C:
			snapshot, err := e.monitor.Snapshot()
			if err != nil {
				e.logger.Error("Failed to collect counter data", "error", err)
				continue
			}
			write(e.out, now, snapshot)
		case <-ctx.Done():
			e.logger.Info("Exiting ticker")
			return nil
		}
	}
}

func write(out io.Writer, now time.Time, snapshot *monitor.Snapshot) {
	fmt.Fprintf(out, "%s\n", now.Format(time.RFC3339))
	writeDevices(out, snapshot.Devices)
	writeSessions(out, snapshot.Devices)
}

func writeDevices(out io.Writer, devices []monitor.DeviceStats) {
	rows := make([][]string, 0, len(devices))
	for _, d := range devices {
		rows = append(rows, []string{
			d.Name,
			d.Kind,
			strconv.Itoa(d.Node),
			strconv.Itoa(d.CPU),
			fmt.Sprintf("%d/%d", d.ActiveSlots, d.MaxSlots),
			strconv.FormatBool(d.SamplerArmed),
			strconv.FormatUint(d.FirmwareErrors, 10),
		})
	}
	render(out, []string{"Device", "Kind", "Node", "CPU", "Slots", "Sampler", "FW Errors"}, rows)
}

func writeSessions(out io.Writer, devices []monitor.DeviceStats) {
	rows := [][]string{}
	for _, d := range devices {
		for _, s := range d.Sessions {
			rows = append(rows, []string{
				s.ID,
				s.Event,
				strconv.Itoa(s.Slot),
				s.State,
				strconv.FormatUint(s.Count, 10),
				fmt.Sprintf("%.2f", s.Rate),
			})
		}
	}
	if len(rows) == 0 {
		fmt.Fprintln(out, "no sessions")
		return
	}
	render(out, []string{"Session", "Event", "Slot", "State", "Count", "Rate(/s)"}, rows)
}

func render(out io.Writer, header []string, rows [][]string) {
	table := tablewriter.NewWriter(out)
	table.Configure(func(cfg *tablewriter.Config) {
		cfg.Row.Formatting.Alignment = tw.AlignRight
	})
	table.Header(header)
	_ = table.Bulk(rows)
	_ = table.Render()
}

func (e *Exporter) Shutdown() error {
	if e.out == os.Stdout {
		return nil
	}
	return e.out.Close()
}
