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

package hpclock

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shirou/gopsutil/cpu"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/facebook/hpclock/clock"
	"github.com/facebook/hpclock/clock/clocktest"
	"github.com/facebook/hpclock/cycles"
	"github.com/facebook/hpclock/stats"
	"github.com/facebook/hpclock/supervisor"
)

var simStart = time.Date(2024, time.March, 1, 12, 0, 0, 0, time.UTC)

func invariantCPU() ([]cpu.InfoStat, error) {
	return []cpu.InfoStat{{Mhz: 2500, Flags: []string{"fpu", cycles.FlagConstantTSC, cycles.FlagNonstopTSC}}}, nil
}

func oldCPU() ([]cpu.InfoStat, error) {
	return []cpu.InfoStat{{Mhz: 2500, Flags: []string{"fpu", "tsc"}}}, nil
}

func simOptions(sim *clocktest.Sim) []Option {
	return []Option{
		WithSource(sim.Counter()),
		WithWallClock(sim),
		WithSleepFunc(sim.Sleep),
		WithCPUInfo(invariantCPU),
		WithManualCalibration(),
	}
}

func absNS(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}

func TestNowElapsed(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	c, err := New(int64(100*time.Millisecond), time.Second, WithContext(ctx), WithRuntime(supervisor.RuntimeTask))
	require.NoError(t, err)

	start := c.Now()
	time.Sleep(100 * time.Millisecond)
	elapsed := c.Now().Sub(start)
	require.InDelta(t, 100*time.Millisecond, elapsed, float64(10*time.Millisecond))
}

func TestNowMatchesWallClock(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	c, err := New(int64(time.Millisecond), 50*time.Millisecond, WithContext(ctx), WithSourceKind(cycles.KindMonotonic))
	require.NoError(t, err)
	require.Equal(t, cycles.NotApplicable, c.Capability())
	require.Equal(t, cycles.KindMonotonic, c.Source().Kind())

	now := c.Now()
	require.Equal(t, time.UTC, now.Location())
	require.InDelta(t, time.Now().UnixNano(), now.UnixNano(), float64(time.Millisecond))

	loc := time.FixedZone("UTC+3", 3*60*60)
	require.Equal(t, loc, c.In(loc).Location())
}

func TestConcurrentReaders(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	c, err := New(int64(time.Millisecond), 10*time.Millisecond, WithContext(ctx), WithRuntime(supervisor.RuntimeTask), WithBaselineSleep(10*time.Millisecond))
	require.NoError(t, err)

	deadline := time.Now().Add(100 * time.Millisecond)
	var g errgroup.Group
	for range 8 {
		g.Go(func() error {
			for time.Now().Before(deadline) {
				wall := time.Now().UnixNano()
				if d := absNS(c.NowNS() - wall); d > int64(10*time.Millisecond) {
					return errors.New("clock is too far from wall clock")
				}
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())
	require.Greater(t, c.State().Generation, uint64(1))
}

func TestJumpThenCalibrate(t *testing.T) {
	sim := clocktest.NewSim(simStart, 2.0)
	c, err := New(int64(100*time.Millisecond), time.Second, simOptions(sim)...)
	require.NoError(t, err)

	sim.JumpWall(2 * time.Second)
	sim.Advance(time.Second)
	wall, err := sim.Now()
	require.NoError(t, err)
	before := absNS(wall - c.NowNS())
	require.Greater(t, before, int64(time.Second))

	r, ok := c.Calibrate()
	require.True(t, ok)
	require.True(t, r.Exceeded)

	sim.Advance(2 * time.Second)
	wall, err = sim.Now()
	require.NoError(t, err)
	after := absNS(wall - c.NowNS())
	require.Less(t, after, before)
	require.Less(t, after, int64(time.Microsecond))
}

func TestCalibrateCadence(t *testing.T) {
	sim := clocktest.NewSim(simStart, 2.0)
	c, err := New(int64(100*time.Millisecond), time.Second, simOptions(sim)...)
	require.NoError(t, err)

	_, ok := c.Calibrate()
	require.False(t, ok)
	sim.Advance(500 * time.Millisecond)
	_, ok = c.Calibrate()
	require.False(t, ok)
	sim.Advance(500 * time.Millisecond)
	_, ok = c.Calibrate()
	require.True(t, ok)
	require.Equal(t, uint64(2), c.State().Generation)
}

func TestTrueTime(t *testing.T) {
	sim := clocktest.NewSim(simStart, 2.0)
	opts := append(simOptions(sim), WithPolicy(clock.PolicyReset), WithWindow("max(driftabs, 10)"))
	c, err := New(int64(100*time.Millisecond), time.Second, opts...)
	require.NoError(t, err)

	tt := c.TrueTime()
	require.Equal(t, tt.Earliest, tt.Latest)

	sim.JumpWall(300 * time.Nanosecond)
	sim.Advance(time.Second)
	_, ok := c.Calibrate()
	require.True(t, ok)
	require.Equal(t, int64(300), c.State().WindowNS)

	tt = c.TrueTime()
	require.Equal(t, 600*time.Nanosecond, tt.Latest.Sub(tt.Earliest))
	now := c.Now()
	require.True(t, tt.Earliest.Before(now))
}

func TestCapabilityStats(t *testing.T) {
	sim := clocktest.NewSim(simStart, 2.0)
	st := stats.NewStats()
	c, err := New(int64(time.Millisecond), time.Second, append(simOptions(sim), WithStats(st))...)
	require.NoError(t, err)
	require.Equal(t, cycles.Invariant, c.Capability())
	require.Equal(t, int64(1), st.Get()["capability.invariant"])

	st = stats.NewStats()
	c, err = New(int64(time.Millisecond), time.Second, append(simOptions(sim), WithStats(st), WithCPUInfo(oldCPU))...)
	require.NoError(t, err)
	require.Equal(t, cycles.NotInvariant, c.Capability())
	v, ok := st.Get()["capability.invariant"]
	require.True(t, ok)
	require.Zero(t, v)
}

func TestFrequencyPolicy(t *testing.T) {
	sim := clocktest.NewSim(simStart, 2.0)
	c, err := New(int64(time.Millisecond), time.Second, append(simOptions(sim), WithPolicy(clock.PolicyFrequency))...)
	require.NoError(t, err)
	// 2500MHz
	require.Equal(t, 0.4, c.State().NsPerCount)
	require.InDelta(t, 0, c.FactorChangePPB(), 1e-9)
}

func TestNewErrors(t *testing.T) {
	sim := clocktest.NewSim(simStart, 2.0)
	sim.SetWallError(errors.New("no clock"))
	_, err := New(int64(time.Millisecond), time.Second, simOptions(sim)...)
	require.Error(t, err)

	sim = clocktest.NewSim(simStart, 2.0)
	_, err = New(int64(time.Millisecond), time.Second, append(simOptions(sim), WithPolicy("ntp"))...)
	require.Error(t, err)

	_, err = New(0, time.Second, simOptions(sim)...)
	require.Error(t, err)

	_, err = New(int64(time.Millisecond), time.Second, append(simOptions(sim), WithRuntime("fiber"))...)
	require.Error(t, err)
}
