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
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/facebook/hpclock"
	"github.com/facebook/hpclock/clock"
	"github.com/facebook/hpclock/clock/clocktest"
	"github.com/facebook/hpclock/stats"
	"github.com/facebook/hpclock/supervisor"
)

func TestProbe(t *testing.T) {
	sim := clocktest.NewSim(time.Date(2024, time.March, 1, 12, 0, 0, 0, time.UTC), 2.0)
	c, err := hpclock.New(int64(time.Millisecond), time.Second,
		hpclock.WithSource(sim.Counter()),
		hpclock.WithWallClock(sim),
		hpclock.WithSleepFunc(sim.Sleep),
		hpclock.WithManualCalibration(),
	)
	require.NoError(t, err)

	st := stats.NewJSONStats()
	d := New(DefaultConfig(), st, nil)
	d.wall = sim

	sim.JumpWall(-5 * time.Microsecond)
	d.probe(c)
	counters := st.Get()
	// system clock was read first, clock is ahead by the jump plus one wall clock read
	require.InDelta(t, int64(5*time.Microsecond), counters["probe.offset_ns"], 50)
	require.Contains(t, counters, "probe.read_cost_ns")

	sim.SetWallError(errors.New("no clock"))
	d.probe(c)
	require.Equal(t, counters["probe.offset_ns"], st.Get()["probe.offset_ns"])
}

func TestRun(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Source = "monotonic"
	cfg.Runtime = string(supervisor.RuntimeTask)
	cfg.Interval = 20 * time.Millisecond
	cfg.BaselineSleep = 10 * time.Millisecond
	cfg.ProbeInterval = 10 * time.Millisecond
	cfg.MonitoringPort = 0
	cfg.PrometheusPort = 0

	st := stats.NewJSONStats()
	d := New(cfg, st, nil)
	notified := 0
	d.notify = func() error {
		notified++
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 150*time.Millisecond)
	defer cancel()
	err := d.Run(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.Equal(t, 1, notified)

	counters := st.Get()
	require.Greater(t, counters["calibration.count"], int64(0))
	require.Greater(t, counters["generation"], int64(1))
	require.Less(t, counters["probe.offset_ns"], int64(time.Millisecond))
	require.Greater(t, counters["probe.offset_ns"], -int64(time.Millisecond))
}

func TestRunBadConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Policy = "ntp"
	d := New(cfg, stats.NewJSONStats(), nil)
	require.Error(t, d.Run(context.Background()))

	cfg = DefaultConfig()
	cfg.Source = "monotonic"
	cfg.WarningThreshold = 0
	d = New(cfg, stats.NewJSONStats(), nil)
	d.wall = clock.SystemWallClock{}
	require.Error(t, d.Run(context.Background()))
}
