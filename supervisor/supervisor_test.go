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

package supervisor

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/facebook/hpclock/clock"
	"github.com/facebook/hpclock/clock/clocktest"
	"github.com/facebook/hpclock/cycles"
	"github.com/facebook/hpclock/stats"
)

var simStart = time.Date(2024, time.March, 1, 12, 0, 0, 0, time.UTC)

func testConfig(p clock.Policy) Config {
	return Config{
		Policy:             p,
		Interval:           time.Second,
		WarningThresholdNS: int64(time.Millisecond),
	}
}

func synced() (clock.SysClockStatus, error) {
	return clock.SysClockStatus{Supported: true, Synchronized: true}, nil
}

func newSimSupervisor(t *testing.T, cfg Config, st stats.Server) (*Supervisor, *clocktest.Sim) {
	sim := clocktest.NewSim(simStart, 2.0)
	cal := clock.NewCalibrator(sim.Counter(), sim)
	cal.Sleep = sim.Sleep
	s, err := New(cfg, cal, st, nil)
	require.NoError(t, err)
	s.sysClockStatus = synced
	return s, sim
}

type panicSource struct{}

func (panicSource) Read() uint64                     { panic("counter is gone") }
func (panicSource) Kind() cycles.Kind                { return cycles.KindTSC }
func (panicSource) FixedNsPerCount() (float64, bool) { return 0, false }

type simSleeper struct {
	sim   *clocktest.Sim
	ticks int
}

func (s *simSleeper) Sleep(_ context.Context, d time.Duration) error {
	if s.ticks == 0 {
		return context.Canceled
	}
	s.ticks--
	s.sim.Advance(d)
	return nil
}

func TestParseRuntime(t *testing.T) {
	for _, r := range []Runtime{RuntimeThread, RuntimeTask, RuntimeManual} {
		got, err := ParseRuntime(string(r))
		require.NoError(t, err)
		require.Equal(t, r, got)
	}
	_, err := ParseRuntime("fiber")
	require.Error(t, err)
}

func TestConfigValidate(t *testing.T) {
	testCases := []struct {
		name    string
		mutate  func(c *Config)
		wantErr bool
	}{
		{name: "good", mutate: func(*Config) {}},
		{name: "bad policy", mutate: func(c *Config) { c.Policy = "ntp" }, wantErr: true},
		{name: "zero interval", mutate: func(c *Config) { c.Interval = 0 }, wantErr: true},
		{name: "zero threshold", mutate: func(c *Config) { c.WarningThresholdNS = 0 }, wantErr: true},
		{name: "negative adjustment", mutate: func(c *Config) { c.MaxAdjustmentPPB = -1 }, wantErr: true},
		{name: "negative history", mutate: func(c *Config) { c.History = -1 }, wantErr: true},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			c := testConfig(clock.PolicyFeedback)
			tc.mutate(&c)
			err := c.Validate()
			if tc.wantErr {
				require.Error(t, err)
			} else {
				require.NoError(t, err)
			}
		})
	}
}

func TestNewBadWindow(t *testing.T) {
	cfg := testConfig(clock.PolicyFeedback)
	cfg.Window = "stddev(offset, 10)"
	_, err := New(cfg, nil, nil, nil)
	require.Error(t, err)
}

func TestSupervisorInitAndStep(t *testing.T) {
	st := stats.NewStats()
	s, sim := newSimSupervisor(t, testConfig(clock.PolicyFeedback), st)
	require.Equal(t, PhaseUninitialized, s.Phase())
	require.Nil(t, s.Shared())

	_, err := s.Step()
	require.ErrorIs(t, err, ErrNotServing)

	require.NoError(t, s.Init())
	require.Equal(t, PhaseServing, s.Phase())
	require.NotNil(t, s.Shared())
	require.Equal(t, 0.5, s.Shared().Load().NsPerCount)
	require.Error(t, s.Init())

	sim.Advance(time.Second)
	r, err := s.Step()
	require.NoError(t, err)
	require.Zero(t, r.ObservedDriftNS)
	require.Equal(t, clock.PolicyFeedback, r.Policy)
	require.Equal(t, PhaseServing, s.Phase())

	counters := st.Get()
	require.Equal(t, int64(1), counters["calibration.count"])
	require.Equal(t, int64(2), counters["generation"])
	require.Equal(t, int64(0), counters["factor.ppb"])
	require.Equal(t, int64(0), counters["calibration.skipped"])
}

func TestSupervisorStepStepsLargeDrift(t *testing.T) {
	st := stats.NewStats()
	s, sim := newSimSupervisor(t, testConfig(clock.PolicyFeedback), st)
	require.NoError(t, s.Init())

	sim.JumpWall(2 * time.Second)
	sim.Advance(time.Second)
	r, err := s.Step()
	require.NoError(t, err)
	require.True(t, r.Exceeded)
	require.True(t, r.Stepped)

	counters := st.Get()
	require.Equal(t, int64(1), counters["calibration.step"])
	require.Equal(t, int64(1), counters["drift.exceeded"])
	require.Equal(t, int64(2*time.Second), counters["drift.abs_ns"])
	require.Equal(t, int64(2*time.Second), counters["drift.abs_max_ns.100"])

	// after the step prediction matches wall clock again
	wall, err := sim.Now()
	require.NoError(t, err)
	require.InDelta(t, wall, s.Shared().NowNS(), 100)
}

func TestSupervisorStepReadError(t *testing.T) {
	ctrl := gomock.NewController(t)
	st := stats.NewMockServer(ctrl)
	st.EXPECT().SetCounter(gomock.Any(), gomock.Any()).AnyTimes()
	st.EXPECT().UpdateCounterBy("calibration.read_error", int64(1))

	s, sim := newSimSupervisor(t, testConfig(clock.PolicyFeedback), st)
	require.NoError(t, s.Init())
	gen := s.Shared().Load().Generation

	sim.SetWallError(errors.New("no clock"))
	_, err := s.Step()
	require.ErrorIs(t, err, ErrSample)
	require.Equal(t, gen, s.Shared().Load().Generation)
	require.Equal(t, PhaseServing, s.Phase())
}

func TestSupervisorStepPanic(t *testing.T) {
	st := stats.NewStats()
	s, sim := newSimSupervisor(t, testConfig(clock.PolicyFeedback), st)
	require.NoError(t, s.Init())

	src := s.cal.Source
	s.cal.Source = panicSource{}
	_, err := s.Step()
	require.ErrorIs(t, err, ErrRecalibrationPanic)
	require.Equal(t, int64(1), st.Get()["calibration.skipped"])
	require.Equal(t, PhaseServing, s.Phase())

	// exclusive access is released after the panic
	s.cal.Source = src
	sim.Advance(time.Second)
	_, err = s.Step()
	require.NoError(t, err)
}

func TestSupervisorStepBusy(t *testing.T) {
	st := stats.NewStats()
	s, _ := newSimSupervisor(t, testConfig(clock.PolicyFeedback), st)
	require.NoError(t, s.Init())

	var inner error
	err := s.Shared().Update(func(cur *clock.State) (*clock.State, error) {
		_, inner = s.Step()
		return cur, nil
	})
	require.NoError(t, err)
	require.ErrorIs(t, inner, clock.ErrBusy)
	require.Equal(t, int64(1), st.Get()["calibration.skipped"])
}

func TestSupervisorWindow(t *testing.T) {
	st := stats.NewStats()
	s, sim := newSimSupervisor(t, testConfig(clock.PolicyReset), st)
	require.NoError(t, s.Init())

	for _, jump := range []time.Duration{100, -300, 200} {
		sim.JumpWall(jump)
		sim.Advance(time.Second)
		r, err := s.Step()
		require.NoError(t, err)
		require.Equal(t, int64(jump), r.ObservedDriftNS)
	}
	drifts := []float64{200, -300, 100}
	want := math.Abs(mean(drifts)) + 3.0*stddev(drifts)
	require.InDelta(t, want, s.Shared().Load().WindowNS, 1)
	require.Equal(t, s.Shared().Load().WindowNS, st.Get()["window.ns"])
	require.Equal(t, int64(300), st.Get()["drift.abs_max_ns.100"])
}

func TestSupervisorFrequencyPolicy(t *testing.T) {
	cfg := testConfig(clock.PolicyFrequency)
	cfg.NominalNsPerCount = 0.4
	s, sim := newSimSupervisor(t, cfg, nil)
	require.NoError(t, s.Init())
	require.Equal(t, 0.4, s.Shared().Load().NsPerCount)

	sim.Advance(time.Second)
	r, err := s.Step()
	require.NoError(t, err)
	require.Equal(t, clock.PolicyFrequency, r.Policy)
	require.True(t, r.Stepped)
	// counter runs at 2 counts per ns, nominal factor undercounts by 20%
	require.InDelta(t, int64(200*time.Millisecond), r.ObservedDriftNS, 1000)
	require.Equal(t, 0.4, s.Shared().Load().NsPerCount)
}

func TestSupervisorCalibrateCadence(t *testing.T) {
	s, sim := newSimSupervisor(t, testConfig(clock.PolicyFeedback), nil)
	_, ok := s.Calibrate()
	require.False(t, ok)
	require.NoError(t, s.Init())

	_, ok = s.Calibrate()
	require.False(t, ok)
	sim.Advance(time.Second - 2*time.Millisecond)
	_, ok = s.Calibrate()
	require.False(t, ok)
	sim.Advance(2 * time.Millisecond)
	_, ok = s.Calibrate()
	require.True(t, ok)
	// baseline was just replaced
	_, ok = s.Calibrate()
	require.False(t, ok)
}

func TestSupervisorRun(t *testing.T) {
	st := stats.NewStats()
	s, sim := newSimSupervisor(t, testConfig(clock.PolicyFeedback), st)
	require.ErrorIs(t, s.Run(context.Background(), &simSleeper{sim: sim}), ErrNotServing)
	require.NoError(t, s.Init())

	sim.SetRate(2.0002)
	err := s.Run(context.Background(), &simSleeper{sim: sim, ticks: 5})
	require.ErrorIs(t, err, context.Canceled)
	require.Equal(t, int64(5), st.Get()["calibration.count"])
	require.Equal(t, int64(6), st.Get()["generation"])
	require.Less(t, st.Get()["drift.abs_ns"], int64(1000))
	require.Less(t, st.Get()["factor.ppb"], int64(-90000))
}

func TestSupervisorServe(t *testing.T) {
	for _, rt := range []Runtime{RuntimeThread, RuntimeTask} {
		t.Run(string(rt), func(t *testing.T) {
			st := stats.NewStats()
			cfg := testConfig(clock.PolicyFeedback)
			cfg.Interval = 20 * time.Millisecond
			cal := clock.NewCalibrator(cycles.NewMonotonic(), clock.SystemWallClock{})
			s, err := New(cfg, cal, st, nil)
			require.NoError(t, err)
			require.NoError(t, s.Init())

			ctx, cancel := context.WithTimeout(context.Background(), 150*time.Millisecond)
			defer cancel()
			err = s.Serve(ctx, rt)
			require.ErrorIs(t, err, context.DeadlineExceeded)
			require.GreaterOrEqual(t, st.Get()["calibration.count"], int64(2))
		})
	}
}

func TestSupervisorServeManual(t *testing.T) {
	s, _ := newSimSupervisor(t, testConfig(clock.PolicyFeedback), nil)
	require.NoError(t, s.Init())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.ErrorIs(t, s.Serve(ctx, RuntimeManual), context.Canceled)
	require.Error(t, s.Serve(ctx, Runtime("fiber")))
	require.Error(t, s.Start(ctx, Runtime("fiber")))
	require.NoError(t, s.Start(ctx, RuntimeManual))
}

func TestSupervisorSystemClockUnsynchronized(t *testing.T) {
	st := stats.NewStats()
	s, _ := newSimSupervisor(t, testConfig(clock.PolicyFeedback), st)
	s.sysClockStatus = func() (clock.SysClockStatus, error) {
		return clock.SysClockStatus{Supported: true, State: 5}, nil
	}
	require.NoError(t, s.Init())
	require.Equal(t, int64(1), st.Get()["sysclock.unsynchronized"])
}

func TestPhaseString(t *testing.T) {
	require.Equal(t, "uninitialized", PhaseUninitialized.String())
	require.Equal(t, "calibrating", PhaseCalibrating.String())
	require.Equal(t, "serving", PhaseServing.String())
	require.Equal(t, "phase(7)", Phase(7).String())
}
