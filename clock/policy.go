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
	"fmt"
	"math"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
)

// DefaultMaxAdjustmentPPB limits a single slope correction, value came from linuxptp project (clockadj.c)
const DefaultMaxAdjustmentPPB = 500000.0

// Policy is how a fresh sample is turned into the next State
type Policy string

// Policies we support
const (
	// PolicyFeedback corrects the slope so drift trends to zero, steps on large offsets
	PolicyFeedback Policy = "feedback"
	// PolicyReset rebases on every sample keeping the conversion factor
	PolicyReset Policy = "reset"
	// PolicyFrequency rebases on every sample using CPU nominal frequency for the factor
	PolicyFrequency Policy = "frequency"
)

// ParsePolicy converts string to Policy
func ParsePolicy(s string) (Policy, error) {
	switch p := Policy(strings.ToLower(s)); p {
	case PolicyFeedback, PolicyReset, PolicyFrequency:
		return p, nil
	}
	return "", fmt.Errorf("unknown calibration policy %q, must be one of %q, %q or %q", s, PolicyFeedback, PolicyReset, PolicyFrequency)
}

// DriftReport describes drift observed at recalibration
type DriftReport struct {
	// ObservedDriftNS is true wall clock minus predicted wall clock
	ObservedDriftNS int64
	ThresholdNS     int64
	Exceeded        bool
	// Stepped means offset was removed by rebasing instead of slope correction
	Stepped    bool
	Policy     Policy
	NsPerCount float64
	Generation uint64
}

func newDriftReport(driftNS, thresholdNS int64, p Policy) DriftReport {
	return DriftReport{
		ObservedDriftNS: driftNS,
		ThresholdNS:     thresholdNS,
		Exceeded:        abs(driftNS) >= thresholdNS,
		Policy:          p,
	}
}

// Log reports drift: routine drift at trace level, threshold exceedance as a warning
func (r DriftReport) Log(desc string) {
	d := abs(r.ObservedDriftNS)
	if r.Exceeded {
		log.Warningf("Significant time drift detected (%s): %d(ns), threshold %d(ns)", desc, d, r.ThresholdNS)
		return
	}
	log.Tracef("Time drift detected (%s): %d(ns)", desc, d)
}

// Params tune Recalibrate
type Params struct {
	// Interval is time between recalibrations
	Interval time.Duration
	// MaxAdjustmentPPB bounds a single slope correction
	MaxAdjustmentPPB float64
	// FixedFactor means source counts can't be slope corrected
	FixedFactor bool
	// NominalNsPerCount is derived from CPU frequency, 0 if unknown
	NominalNsPerCount float64
}

// Recalibrate produces next State from current one and a fresh sample using policy p
func Recalibrate(p Policy, cur *State, s Sample, params Params) (*State, DriftReport) {
	switch p {
	case PolicyFrequency:
		factor := cur.NsPerCount
		if params.NominalNsPerCount > 0 && !params.FixedFactor {
			factor = params.NominalNsPerCount
		}
		next, r := ResetBaseline(cur, s, factor)
		r.Policy = PolicyFrequency
		return next, r
	case PolicyFeedback:
		if params.FixedFactor {
			next, r := ResetBaseline(cur, s, cur.NsPerCount)
			r.Policy = PolicyFeedback
			return next, r
		}
		maxAdj := params.MaxAdjustmentPPB
		if maxAdj <= 0 {
			maxAdj = DefaultMaxAdjustmentPPB
		}
		return RecalibrateFactor(cur, s, params.Interval, maxAdj)
	default:
		return ResetBaseline(cur, s, cur.NsPerCount)
	}
}

// RecalibrateFactor is error feedback calibration.
// It estimates error expected at the next calibration from current and previous errors
// and adjusts the conversion factor to cancel it, keeping the mapping continuous at the sample.
// Offsets at or above the warning threshold are not rate errors, those are stepped away.
func RecalibrateFactor(cur *State, s Sample, interval time.Duration, maxAdjustmentPPB float64) (*State, DriftReport) {
	predicted := cur.WallNS(s.Count)
	nsErr := predicted - s.WallNS
	r := newDriftReport(-nsErr, cur.WarningThresholdNS, PolicyFeedback)
	if r.Exceeded {
		next, rr := ResetBaseline(cur, s, cur.NsPerCount)
		rr.Policy = PolicyFeedback
		rr.Stepped = true
		return next, rr
	}

	factor := cur.NsPerCount
	// true wall clock time passed since previous baseline
	elapsedTrue := s.WallNS - (cur.BaseWallNS - cur.AccumulatedErrorNS)
	intervalNS := float64(interval)
	if elapsedTrue > 0 && intervalNS > 0 {
		expectedErrNext := float64(nsErr) + float64(nsErr-cur.AccumulatedErrorNS)*intervalNS/float64(elapsedTrue)
		adj := expectedErrNext / intervalNS
		maxAdj := maxAdjustmentPPB / 1e9
		adj = math.Max(-maxAdj, math.Min(maxAdj, adj))
		factor *= 1 - adj
	} else {
		log.Warningf("no wall clock time passed since previous baseline (%dns), keeping conversion factor", elapsedTrue)
	}

	next := &State{
		BaseCount:          s.Count,
		BaseWallNS:         predicted,
		NsPerCount:         factor,
		WarningThresholdNS: cur.WarningThresholdNS,
		AccumulatedErrorNS: nsErr,
		WindowNS:           cur.WindowNS,
		Generation:         cur.Generation + 1,
	}
	r.NsPerCount = factor
	r.Generation = next.Generation
	return next, r
}

// ResetBaseline is hard reset calibration: baseline is replaced by the sample, factor is given.
// Drift is measured before the baseline is overwritten.
func ResetBaseline(cur *State, s Sample, factor float64) (*State, DriftReport) {
	drift := s.WallNS - cur.WallNS(s.Count)
	r := newDriftReport(drift, cur.WarningThresholdNS, PolicyReset)
	if !(factor > 0) {
		factor = cur.NsPerCount
	}
	next := &State{
		BaseCount:          s.Count,
		BaseWallNS:         s.WallNS,
		NsPerCount:         factor,
		WarningThresholdNS: cur.WarningThresholdNS,
		WindowNS:           cur.WindowNS,
		Generation:         cur.Generation + 1,
	}
	r.Stepped = true
	r.NsPerCount = factor
	r.Generation = next.Generation
	return next, r
}

func abs(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}
