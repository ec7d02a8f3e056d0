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

/*
Package hpclock provides wall clock time read from CPU cycle counter.

Counter is calibrated against the system wall clock at construction and then periodically
recalibrated in background, so reading time costs one counter read and one multiplication.
The system clock itself is expected to be kept accurate by an external daemon (chrony, ntpd, ptp4l).
*/
package hpclock

import (
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/facebook/hpclock/clock"
	"github.com/facebook/hpclock/cycles"
	"github.com/facebook/hpclock/supervisor"
)

// TrueTime is a time interval we are confident the clock is right now
type TrueTime struct {
	Earliest time.Time
	Latest   time.Time
}

// Clock is a calibrated cycle counter clock. It is safe for concurrent use.
type Clock struct {
	sv         *supervisor.Supervisor
	shared     *clock.Shared
	capability cycles.Capability
}

// New calibrates the counter and starts background recalibration every calibrationInterval.
// Drift of at least warningThresholdNS observed at recalibration is logged as a warning.
func New(warningThresholdNS int64, calibrationInterval time.Duration, opts ...Option) (*Clock, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(o)
	}
	src := o.source
	if src == nil {
		var err error
		src, err = cycles.New(o.kind)
		if err != nil {
			return nil, err
		}
	}

	capability := cycles.CheckInvariant(src, o.info)
	switch capability {
	case cycles.NotInvariant:
		log.Warningf("%s counter is not invariant, time may drift between recalibrations", src.Kind())
		o.stats.SetCounter("capability.invariant", 0)
	case cycles.Invariant:
		o.stats.SetCounter("capability.invariant", 1)
	}

	var nominalNsPerCount float64
	if o.policy == clock.PolicyFrequency {
		hz, err := cycles.NominalFrequencyHz(o.info)
		if err != nil {
			log.Warningf("Failed to get nominal CPU frequency, using measured conversion factor: %v", err)
		} else {
			nominalNsPerCount = 1e9 / hz
		}
	}

	cal := clock.NewCalibrator(src, o.wall)
	if o.syncSamples > 0 {
		cal.SyncSamples = o.syncSamples
	}
	if o.baselineSleep > 0 {
		cal.BaselineSleep = o.baselineSleep
	}
	if o.sleep != nil {
		cal.Sleep = o.sleep
	}
	sv, err := supervisor.New(supervisor.Config{
		Policy:             o.policy,
		Interval:           calibrationInterval,
		WarningThresholdNS: warningThresholdNS,
		MaxAdjustmentPPB:   o.maxAdjustmentPPB,
		NominalNsPerCount:  nominalNsPerCount,
		Window:             o.window,
		History:            o.history,
	}, cal, o.stats, o.logger)
	if err != nil {
		return nil, err
	}
	if err := sv.Init(); err != nil {
		return nil, fmt.Errorf("calibrating %s counter: %w", src.Kind(), err)
	}
	if err := sv.Start(o.ctx, o.runtime); err != nil {
		return nil, err
	}
	return &Clock{
		sv:         sv,
		shared:     sv.Shared(),
		capability: capability,
	}, nil
}

// NowNS returns current time as nanoseconds since Unix epoch
func (c *Clock) NowNS() int64 {
	return c.shared.NowNS()
}

// Now returns current time in UTC
func (c *Clock) Now() time.Time {
	return time.Unix(0, c.NowNS()).UTC()
}

// In returns current time in loc
func (c *Clock) In(loc *time.Location) time.Time {
	return c.Now().In(loc)
}

// TrueTime returns current time widened by the uncertainty window
func (c *Clock) TrueTime() TrueTime {
	st := c.shared.Load()
	now := st.WallNS(c.shared.Source().Read())
	return TrueTime{
		Earliest: time.Unix(0, now-st.WindowNS).UTC(),
		Latest:   time.Unix(0, now+st.WindowNS).UTC(),
	}
}

// Calibrate recalibrates right away unless the last recalibration was less than an interval ago.
// It reports whether recalibration happened.
func (c *Clock) Calibrate() (clock.DriftReport, bool) {
	return c.sv.Calibrate()
}

// State returns current calibration state
func (c *Clock) State() *clock.State {
	return c.shared.Load()
}

// Source returns the counter backing the clock
func (c *Clock) Source() cycles.Source {
	return c.shared.Source()
}

// Capability returns result of counter invariance check done at construction
func (c *Clock) Capability() cycles.Capability {
	return c.capability
}

// FactorChangePPB is relative change of the conversion factor since construction
func (c *Clock) FactorChangePPB() float64 {
	return c.sv.FactorChangePPB(c.shared.Load())
}
