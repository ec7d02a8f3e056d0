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
	"fmt"
	"math"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/facebook/hpclock/cycles"
)

const (
	// DefaultSyncSamples is how many triples SyncTime takes
	DefaultSyncSamples = 10
	// DefaultBaselineSleep is how long initial calibration waits between passes
	DefaultBaselineSleep = 50 * time.Millisecond
)

// Calibration errors
var (
	ErrNoValidSample         = errors.New("no valid counter/wall clock sample")
	ErrNoCounterProgress     = errors.New("counter did not advance between calibration passes")
	ErrWallClockNotAdvancing = errors.New("wall clock did not advance between calibration passes")
)

// Sample is a counter value paired with wall clock reading
type Sample struct {
	Count  uint64
	WallNS int64
	// SpanCounts is how many counts passed while wall clock was read
	SpanCounts uint64
}

// Calibrator builds counter to wall clock mappings
type Calibrator struct {
	Source cycles.Source
	Wall   WallClock
	// SyncSamples is number of triples SyncTime takes, DefaultSyncSamples if 0
	SyncSamples int
	// BaselineSleep is pause between passes of EstablishBaseline, DefaultBaselineSleep if 0
	BaselineSleep time.Duration
	// Sleep is time.Sleep unless overridden
	Sleep func(time.Duration)
}

// NewCalibrator returns Calibrator with default settings
func NewCalibrator(src cycles.Source, wall WallClock) *Calibrator {
	return &Calibrator{
		Source:        src,
		Wall:          wall,
		SyncSamples:   DefaultSyncSamples,
		BaselineSleep: DefaultBaselineSleep,
		Sleep:         time.Sleep,
	}
}

// SyncTime takes back-to-back (count, wall, count) triples and returns the one
// with the smallest counter span, using midpoint of its counter values.
// Loosely based on sysoff_estimate from ptp4l sysoff.c
func (c *Calibrator) SyncTime() (Sample, error) {
	n := c.SyncSamples
	if n <= 0 {
		n = DefaultSyncSamples
	}
	best := Sample{}
	bestSpan := uint64(math.MaxUint64)
	for range n {
		before := c.Source.Read()
		wallNS, err := c.Wall.Now()
		after := c.Source.Read()
		if err != nil {
			return Sample{}, fmt.Errorf("reading wall clock: %w", err)
		}
		// rescheduled to a core with counter behind
		if after < before {
			continue
		}
		span := after - before
		if span < bestSpan {
			bestSpan = span
			best = Sample{
				Count:      before + span/2,
				WallNS:     wallNS,
				SpanCounts: span,
			}
		}
	}
	if bestSpan == math.MaxUint64 {
		return Sample{}, ErrNoValidSample
	}
	return best, nil
}

// EstablishBaseline creates the very first State.
// For sources with fixed conversion factor a single pass is enough.
func (c *Calibrator) EstablishBaseline(warningThresholdNS int64) (*State, error) {
	first, err := c.SyncTime()
	if err != nil {
		return nil, fmt.Errorf("first calibration pass: %w", err)
	}
	factor, fixed := c.Source.FixedNsPerCount()
	base := first
	if !fixed {
		sleep := c.Sleep
		if sleep == nil {
			sleep = time.Sleep
		}
		d := c.BaselineSleep
		if d <= 0 {
			d = DefaultBaselineSleep
		}
		sleep(d)
		second, err := c.SyncTime()
		if err != nil {
			return nil, fmt.Errorf("second calibration pass: %w", err)
		}
		if second.Count <= first.Count {
			return nil, ErrNoCounterProgress
		}
		dWall := second.WallNS - first.WallNS
		if dWall <= 0 {
			return nil, ErrWallClockNotAdvancing
		}
		factor = float64(dWall) / float64(second.Count-first.Count)
		base = second
		log.Debugf("calibrated %s: %d counts in %v, %.9f ns per count", c.Source.Kind(), second.Count-first.Count, time.Duration(dWall), factor)
	}
	s := &State{
		BaseCount:          base.Count,
		BaseWallNS:         base.WallNS,
		NsPerCount:         factor,
		WarningThresholdNS: warningThresholdNS,
		Generation:         1,
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}
