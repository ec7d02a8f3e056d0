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

package clock

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/facebook/hpclock/clock/clocktest"
	"github.com/facebook/hpclock/cycles"
)

var simStart = time.Date(2024, time.March, 1, 12, 0, 0, 0, time.UTC)

type scriptedSource struct {
	vals []uint64
	i    int
}

func (s *scriptedSource) Read() uint64 {
	v := s.vals[s.i%len(s.vals)]
	s.i++
	return v
}

func (s *scriptedSource) Kind() cycles.Kind                { return cycles.KindTSC }
func (s *scriptedSource) FixedNsPerCount() (float64, bool) { return 0, false }

func newSimCalibrator(sim *clocktest.Sim, src cycles.Source) *Calibrator {
	c := NewCalibrator(src, sim)
	c.Sleep = sim.Sleep
	return c
}

func TestSyncTimePicksShortestSpan(t *testing.T) {
	ctrl := gomock.NewController(t)
	wall := NewMockWallClock(ctrl)
	gomock.InOrder(
		wall.EXPECT().Now().Return(int64(1000), nil),
		wall.EXPECT().Now().Return(int64(2000), nil),
		wall.EXPECT().Now().Return(int64(3000), nil),
	)
	src := &scriptedSource{vals: []uint64{100, 200, 300, 320, 400, 450}}
	c := NewCalibrator(src, wall)
	c.SyncSamples = 3

	s, err := c.SyncTime()
	require.NoError(t, err)
	require.Equal(t, Sample{Count: 310, WallNS: 2000, SpanCounts: 20}, s)
}

func TestSyncTimeSkipsBackwardCounter(t *testing.T) {
	ctrl := gomock.NewController(t)
	wall := NewMockWallClock(ctrl)
	wall.EXPECT().Now().Return(int64(1000), nil).Times(2)
	c := NewCalibrator(&scriptedSource{vals: []uint64{500, 400, 600, 700}}, wall)
	c.SyncSamples = 2

	s, err := c.SyncTime()
	require.NoError(t, err)
	require.Equal(t, uint64(650), s.Count)

	wall.EXPECT().Now().Return(int64(1000), nil).Times(2)
	c.Source = &scriptedSource{vals: []uint64{500, 400}}
	_, err = c.SyncTime()
	require.ErrorIs(t, err, ErrNoValidSample)
}

func TestSyncTimeWallClockError(t *testing.T) {
	ctrl := gomock.NewController(t)
	wall := NewMockWallClock(ctrl)
	boom := errors.New("boom")
	wall.EXPECT().Now().Return(int64(0), boom)
	c := NewCalibrator(&scriptedSource{vals: []uint64{1, 2}}, wall)

	_, err := c.SyncTime()
	require.ErrorIs(t, err, boom)
}

func TestSyncTimeSim(t *testing.T) {
	sim := clocktest.NewSim(simStart, 2.0)
	c := newSimCalibrator(sim, sim.Counter())
	s, err := c.SyncTime()
	require.NoError(t, err)
	// every read takes 10ns, counter runs at 2 counts per ns
	require.Equal(t, uint64(40), s.SpanCounts)
	require.Equal(t, simStart.UnixNano()+10, s.WallNS)
}

func TestEstablishBaseline(t *testing.T) {
	sim := clocktest.NewSim(simStart, 3.0)
	c := newSimCalibrator(sim, sim.Counter())
	st, err := c.EstablishBaseline(100000)
	require.NoError(t, err)
	require.InDelta(t, 1.0/3.0, st.NsPerCount, 1e-9)
	require.Equal(t, int64(100000), st.WarningThresholdNS)
	require.Equal(t, uint64(1), st.Generation)
	require.Zero(t, st.AccumulatedErrorNS)
	// baseline is taken after the sleep
	require.GreaterOrEqual(t, st.BaseWallNS, simStart.UnixNano()+int64(DefaultBaselineSleep))
}

func TestEstablishBaselineFixedFactor(t *testing.T) {
	sim := clocktest.NewSim(simStart, 1.0)
	src := sim.Counter()
	src.Fixed = true
	c := newSimCalibrator(sim, src)
	c.Sleep = func(time.Duration) {
		require.FailNow(t, "fallback timer must not be calibrated")
	}
	st, err := c.EstablishBaseline(100000)
	require.NoError(t, err)
	require.Equal(t, 1.0, st.NsPerCount)
}

func TestEstablishBaselineNoCounterProgress(t *testing.T) {
	sim := clocktest.NewSim(simStart, 1.0)
	c := newSimCalibrator(sim, &scriptedSource{vals: []uint64{42}})
	_, err := c.EstablishBaseline(100000)
	require.ErrorIs(t, err, ErrNoCounterProgress)
}

func TestEstablishBaselineWallClockStuck(t *testing.T) {
	ctrl := gomock.NewController(t)
	wall := NewMockWallClock(ctrl)
	wall.EXPECT().Now().Return(int64(1000), nil).AnyTimes()
	sim := clocktest.NewSim(simStart, 1.0)
	c := newSimCalibrator(sim, sim.Counter())
	c.Wall = wall
	_, err := c.EstablishBaseline(100000)
	require.ErrorIs(t, err, ErrWallClockNotAdvancing)
}

func TestEstablishBaselineWallClockError(t *testing.T) {
	sim := clocktest.NewSim(simStart, 1.0)
	sim.SetWallError(errors.New("no clock"))
	c := newSimCalibrator(sim, sim.Counter())
	_, err := c.EstablishBaseline(100000)
	require.Error(t, err)
}

func TestEstablishBaselineRealSource(t *testing.T) {
	src, err := cycles.New(cycles.KindAuto)
	require.NoError(t, err)
	c := NewCalibrator(src, SystemWallClock{})
	c.BaselineSleep = 20 * time.Millisecond
	st, err := c.EstablishBaseline(int64(time.Millisecond))
	require.NoError(t, err)
	require.NoError(t, st.Validate())

	now, err := SystemWallClock{}.Now()
	require.NoError(t, err)
	require.InDelta(t, now, st.WallNS(src.Read()), float64(5*time.Millisecond))
}
