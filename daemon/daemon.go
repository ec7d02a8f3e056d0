/*
Copyright (c) Facebook, Inc. and its affiliates.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package daemon

import (
	"context"
	"fmt"
	"time"

	sddaemon "github.com/coreos/go-systemd/daemon"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/facebook/hpclock"
	"github.com/facebook/hpclock/clock"
	"github.com/facebook/hpclock/cycles"
	"github.com/facebook/hpclock/stats"
	"github.com/facebook/hpclock/supervisor"
)

// probeReads is how many reads we average read cost over
const probeReads = 1000

// Daemon keeps a calibrated clock running and exposes how well it tracks the system clock
type Daemon struct {
	cfg   *Config
	stats *stats.JSONStats
	l     supervisor.Logger
	wall  clock.WallClock

	// notify tells service manager we are ready
	notify func() error
}

// New creates new hpclock daemon
func New(cfg *Config, st *stats.JSONStats, l supervisor.Logger) *Daemon {
	d := &Daemon{
		cfg:    cfg,
		stats:  st,
		l:      l,
		wall:   clock.SystemWallClock{},
		notify: notifyReady,
	}
	// values measured by probe
	d.stats.SetCounter("probe.offset_ns", 0)
	d.stats.SetCounter("probe.read_cost_ns", 0)
	return d
}

func notifyReady() error {
	sent, err := sddaemon.SdNotify(false, sddaemon.SdNotifyReady)
	if err != nil {
		return fmt.Errorf("notifying systemd: %w", err)
	}
	if !sent {
		log.Debug("not running under systemd, readiness notification was not sent")
	}
	return nil
}

func (d *Daemon) options(ctx context.Context) ([]hpclock.Option, error) {
	kind, err := cycles.ParseKind(d.cfg.Source)
	if err != nil {
		return nil, err
	}
	policy, err := clock.ParsePolicy(d.cfg.Policy)
	if err != nil {
		return nil, err
	}
	rt, err := supervisor.ParseRuntime(d.cfg.Runtime)
	if err != nil {
		return nil, err
	}
	return []hpclock.Option{
		hpclock.WithContext(ctx),
		hpclock.WithSourceKind(kind),
		hpclock.WithPolicy(policy),
		hpclock.WithRuntime(rt),
		hpclock.WithStats(d.stats),
		hpclock.WithLogger(d.l),
		hpclock.WithWindow(d.cfg.Window),
		hpclock.WithHistory(d.cfg.History),
		hpclock.WithSyncSamples(d.cfg.SyncSamples),
		hpclock.WithBaselineSleep(d.cfg.BaselineSleep),
		hpclock.WithMaxAdjustmentPPB(d.cfg.MaxAdjustmentPPB),
	}, nil
}

// probe compares the clock with the system clock and measures read cost
func (d *Daemon) probe(c *hpclock.Clock) {
	wall, err := d.wall.Now()
	if err != nil {
		log.Errorf("Failed to read system clock: %v", err)
		return
	}
	offset := c.NowNS() - wall
	d.stats.SetCounter("probe.offset_ns", offset)

	start := time.Now()
	for range probeReads {
		c.NowNS()
	}
	cost := time.Since(start) / probeReads
	d.stats.SetCounter("probe.read_cost_ns", int64(cost))

	tt := c.TrueTime()
	log.Debugf("probe: offset from system clock %v, window %v, read cost %v", time.Duration(offset), tt.Latest.Sub(tt.Earliest)/2, cost)
}

func (d *Daemon) runProbe(ctx context.Context, c *hpclock.Clock) error {
	ticker := time.NewTicker(d.cfg.ProbeInterval)
	defer ticker.Stop()
	for {
		d.probe(c)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Run calibrates the clock and serves until ctx is done
func (d *Daemon) Run(ctx context.Context) error {
	eg, ctx := errgroup.WithContext(ctx)
	opts, err := d.options(ctx)
	if err != nil {
		return err
	}
	c, err := hpclock.New(int64(d.cfg.WarningThreshold), d.cfg.Interval, opts...)
	if err != nil {
		return fmt.Errorf("creating clock: %w", err)
	}
	log.Infof("Clock is ready, %s counter (%s), %s", c.Source().Kind(), c.Capability(), c.State())

	if d.cfg.MonitoringPort != 0 {
		eg.Go(func() error {
			return d.stats.Start(ctx, d.cfg.MonitoringPort)
		})
	}
	if d.cfg.PrometheusPort != 0 {
		exporter := stats.NewPrometheusExporter(d.stats, d.cfg.PrometheusPort, d.cfg.Interval)
		eg.Go(func() error {
			return exporter.Start(ctx)
		})
	}
	if d.cfg.ProbeInterval > 0 {
		eg.Go(func() error {
			return d.runProbe(ctx, c)
		})
	}
	if err := d.notify(); err != nil {
		log.Warning(err)
	}
	eg.Go(func() error {
		<-ctx.Done()
		return ctx.Err()
	})
	return eg.Wait()
}
