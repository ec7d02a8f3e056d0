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
	"fmt"
	"math"
	"runtime"
	"strings"
	"sync/atomic"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/facebook/hpclock/clock"
	"github.com/facebook/hpclock/stats"
)

// CadenceSlack is how much sooner than the interval a manual recalibration is still allowed
const CadenceSlack = time.Millisecond

var (
	// ErrNotServing is returned when the initial calibration did not happen yet
	ErrNotServing = errors.New("clock is not calibrated")
	// ErrRecalibrationPanic wraps a panic recovered during recalibration
	ErrRecalibrationPanic = errors.New("recalibration panicked")
	// ErrSample is returned when counter could not be paired with wall clock
	ErrSample = errors.New("sampling counter against wall clock")
)

// Phase of the supervisor
type Phase int32

// Phases we go through: Uninitialized -> Calibrating -> Serving -> Calibrating -> ...
const (
	PhaseUninitialized Phase = iota
	PhaseCalibrating
	PhaseServing
)

func (p Phase) String() string {
	switch p {
	case PhaseUninitialized:
		return "uninitialized"
	case PhaseCalibrating:
		return "calibrating"
	case PhaseServing:
		return "serving"
	}
	return fmt.Sprintf("phase(%d)", int32(p))
}

// Runtime is how periodic recalibration is scheduled
type Runtime string

// Runtimes we support
const (
	// RuntimeThread runs recalibration on a dedicated OS thread
	RuntimeThread Runtime = "thread"
	// RuntimeTask runs recalibration as a goroutine waiting on timers
	RuntimeTask Runtime = "task"
	// RuntimeManual never recalibrates on its own
	RuntimeManual Runtime = "manual"
)

// ParseRuntime converts string to Runtime
func ParseRuntime(s string) (Runtime, error) {
	switch r := Runtime(strings.ToLower(s)); r {
	case RuntimeThread, RuntimeTask, RuntimeManual:
		return r, nil
	}
	return "", fmt.Errorf("unknown runtime %q, must be one of %q, %q or %q", s, RuntimeThread, RuntimeTask, RuntimeManual)
}

// Config of the Supervisor
type Config struct {
	Policy             clock.Policy
	Interval           time.Duration
	WarningThresholdNS int64
	MaxAdjustmentPPB   float64
	// NominalNsPerCount is used by frequency policy, 0 if unknown
	NominalNsPerCount float64
	// Window is govaluate expression over drift history
	Window  string
	History int
}

// Validate checks Config for errors
func (c *Config) Validate() error {
	if _, err := clock.ParsePolicy(string(c.Policy)); err != nil {
		return err
	}
	if c.Interval <= 0 {
		return fmt.Errorf("interval must be positive, got %v", c.Interval)
	}
	if c.WarningThresholdNS <= 0 {
		return fmt.Errorf("warning threshold must be positive, got %dns", c.WarningThresholdNS)
	}
	if c.MaxAdjustmentPPB < 0 {
		return fmt.Errorf("max adjustment must be non-negative, got %v", c.MaxAdjustmentPPB)
	}
	if c.History < 0 {
		return fmt.Errorf("history must be non-negative, got %d", c.History)
	}
	return nil
}

// Supervisor owns the clock state: it performs initial calibration and keeps correcting drift
type Supervisor struct {
	cfg     Config
	cal     *clock.Calibrator
	stats   stats.Server
	l       Logger
	window  *Window
	history *driftHistory

	phase         atomic.Int32
	shared        atomic.Pointer[clock.Shared]
	initialFactor atomic.Uint64

	sysClockStatus func() (clock.SysClockStatus, error)
}

// New creates Supervisor. Nothing is calibrated until Init.
func New(cfg Config, cal *clock.Calibrator, st stats.Server, l Logger) (*Supervisor, error) {
	if cfg.Window == "" {
		cfg.Window = DefaultWindow
	}
	if cfg.History == 0 {
		cfg.History = DefaultHistory
	}
	if cfg.MaxAdjustmentPPB == 0 {
		cfg.MaxAdjustmentPPB = clock.DefaultMaxAdjustmentPPB
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid supervisor config: %w", err)
	}
	w, err := NewWindow(cfg.Window)
	if err != nil {
		return nil, err
	}
	if st == nil {
		st = stats.NoopStats{}
	}
	if l == nil {
		l = NoopLogger{}
	}
	s := &Supervisor{
		cfg:            cfg,
		cal:            cal,
		stats:          st,
		l:              l,
		window:         w,
		history:        newDriftHistory(cfg.History),
		sysClockStatus: clock.SystemClockStatus,
	}
	// recalibration results
	s.stats.SetCounter("calibration.count", 0)
	s.stats.SetCounter("calibration.step", 0)
	s.stats.SetCounter("drift.ns", 0)
	s.stats.SetCounter("drift.abs_ns", 0)
	s.stats.SetCounter("drift.exceeded", 0)
	s.stats.SetCounter(s.absMaxKey(), 0)
	s.stats.SetCounter("factor.ppb", 0)
	s.stats.SetCounter("window.ns", 0)
	s.stats.SetCounter("generation", 0)
	// error counters
	s.stats.SetCounter("calibration.skipped", 0)
	s.stats.SetCounter("calibration.read_error", 0)
	s.stats.SetCounter("sysclock.unsynchronized", 0)
	return s, nil
}

func (s *Supervisor) absMaxKey() string {
	return fmt.Sprintf("drift.abs_max_ns.%d", s.cfg.History)
}

// Phase returns current phase
func (s *Supervisor) Phase() Phase {
	return Phase(s.phase.Load())
}

// Shared returns published clock state, nil before Init
func (s *Supervisor) Shared() *clock.Shared {
	return s.shared.Load()
}

// Interval returns recalibration interval
func (s *Supervisor) Interval() time.Duration {
	return s.cfg.Interval
}

// Init runs initial calibration and publishes the State
func (s *Supervisor) Init() error {
	if !s.phase.CompareAndSwap(int32(PhaseUninitialized), int32(PhaseCalibrating)) {
		return fmt.Errorf("supervisor is already %s", s.Phase())
	}
	st, err := s.cal.EstablishBaseline(s.cfg.WarningThresholdNS)
	if err != nil {
		s.phase.Store(int32(PhaseUninitialized))
		return fmt.Errorf("establishing baseline: %w", err)
	}
	if _, fixed := s.cal.Source.FixedNsPerCount(); s.cfg.Policy == clock.PolicyFrequency && s.cfg.NominalNsPerCount > 0 && !fixed {
		log.Debugf("using nominal %.12f ns per count instead of measured %.12f", s.cfg.NominalNsPerCount, st.NsPerCount)
		st.NsPerCount = s.cfg.NominalNsPerCount
	}
	s.initialFactor.Store(math.Float64bits(st.NsPerCount))
	s.shared.Store(clock.NewShared(s.cal.Source, st))
	s.stats.SetCounter("generation", int64(st.Generation))
	s.phase.Store(int32(PhaseServing))
	log.Infof("Initial calibration done: %s", st)
	s.checkSystemClock()
	return nil
}

func (s *Supervisor) params() clock.Params {
	_, fixed := s.cal.Source.FixedNsPerCount()
	return clock.Params{
		Interval:          s.cfg.Interval,
		MaxAdjustmentPPB:  s.cfg.MaxAdjustmentPPB,
		FixedFactor:       fixed,
		NominalNsPerCount: s.cfg.NominalNsPerCount,
	}
}

// Step forces one recalibration: sample, compute next State, install it.
// Sampling happens outside of readers lock.
func (s *Supervisor) Step() (report clock.DriftReport, err error) {
	sh := s.shared.Load()
	if sh == nil {
		return report, ErrNotServing
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrRecalibrationPanic, r)
		}
		if err != nil {
			s.countFailure(err)
		}
	}()
	var sample clock.Sample
	err = sh.Update(func(cur *clock.State) (*clock.State, error) {
		s.phase.Store(int32(PhaseCalibrating))
		defer s.phase.Store(int32(PhaseServing))

		var err error
		sample, err = s.cal.SyncTime()
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrSample, err)
		}
		next, r := clock.Recalibrate(s.cfg.Policy, cur, sample, s.params())
		report = r
		s.history.push(historyEntry{
			driftNS:         r.ObservedDriftNS,
			factorChangePPB: (next.NsPerCount/cur.NsPerCount - 1) * 1e9,
			stepped:         r.Stepped,
		})
		w, err := s.window.Evaluate(prepareWindowParameters(s.history.take(s.cfg.History)))
		if err != nil {
			log.Errorf("Failed to calculate window, keeping previous one: %v", err)
			w = float64(cur.WindowNS)
		}
		next.WindowNS = int64(w)
		return next, nil
	})
	if err != nil {
		return report, err
	}
	s.afterStep(report, sample, sh.Load())
	return report, nil
}

func (s *Supervisor) countFailure(err error) {
	if errors.Is(err, ErrSample) {
		s.stats.UpdateCounterBy("calibration.read_error", 1)
		return
	}
	s.stats.UpdateCounterBy("calibration.skipped", 1)
}

func (s *Supervisor) afterStep(r clock.DriftReport, sample clock.Sample, st *clock.State) {
	r.Log(string(r.Policy))
	s.stats.UpdateCounterBy("calibration.count", 1)
	if r.Stepped && s.cfg.Policy == clock.PolicyFeedback {
		s.stats.UpdateCounterBy("calibration.step", 1)
	}
	if r.Exceeded {
		s.stats.UpdateCounterBy("drift.exceeded", 1)
	}
	s.stats.SetCounter("drift.ns", r.ObservedDriftNS)
	s.stats.SetCounter("drift.abs_ns", abs(r.ObservedDriftNS))
	s.stats.SetCounter(s.absMaxKey(), s.history.absMaxDrift())
	factorPPB := s.FactorChangePPB(st)
	s.stats.SetCounter("factor.ppb", int64(factorPPB))
	s.stats.SetCounter("window.ns", st.WindowNS)
	s.stats.SetCounter("generation", int64(st.Generation))

	params := prepareWindowParameters(s.history.take(s.cfg.History))
	logSample := &LogSample{
		Generation:     st.Generation,
		DriftNS:        r.ObservedDriftNS,
		DriftMeanNS:    mean(params["drift"]),
		DriftStddevNS:  stddev(params["drift"]),
		Stepped:        r.Stepped,
		NsPerCount:     st.NsPerCount,
		FactorPPB:      factorPPB,
		WindowNS:       float64(st.WindowNS),
		SyncSpanCounts: sample.SpanCounts,
	}
	if err := s.l.Log(logSample); err != nil {
		log.Errorf("Failed to log sample: %v", err)
	}
	s.checkSystemClock()
}

// FactorChangePPB is relative change of the conversion factor since initial calibration
func (s *Supervisor) FactorChangePPB(st *clock.State) float64 {
	initial := math.Float64frombits(s.initialFactor.Load())
	if initial == 0 {
		return 0
	}
	return (st.NsPerCount/initial - 1) * 1e9
}

func (s *Supervisor) checkSystemClock() {
	st, err := s.sysClockStatus()
	if err != nil {
		log.Debugf("Failed to check system clock status: %v", err)
		return
	}
	if !st.Synchronized {
		log.Warningf("System clock is not synchronized (adjtimex state %d), corrections follow an unsynchronized clock", st.State)
		s.stats.SetCounter("sysclock.unsynchronized", 1)
		return
	}
	s.stats.SetCounter("sysclock.unsynchronized", 0)
}

// Calibrate is manual recalibration. It does nothing when called sooner than
// the interval since the last baseline, and reports whether recalibration happened.
func (s *Supervisor) Calibrate() (clock.DriftReport, bool) {
	sh := s.shared.Load()
	if sh == nil {
		return clock.DriftReport{}, false
	}
	cur := sh.Load()
	if sinceBase := sh.NowNS() - cur.BaseWallNS; sinceBase < int64(s.cfg.Interval-CadenceSlack) {
		log.Tracef("Skipping manual recalibration, only %v since last one", time.Duration(sinceBase))
		return clock.DriftReport{}, false
	}
	r, err := s.Step()
	if err != nil {
		log.Errorf("Manual recalibration failed: %v", err)
		return r, false
	}
	return r, true
}

// Run recalibrates every interval until sleeper returns an error
func (s *Supervisor) Run(ctx context.Context, sl Sleeper) error {
	if s.shared.Load() == nil {
		return ErrNotServing
	}
	log.Infof("Starting %s recalibration every %v", s.cfg.Policy, s.cfg.Interval)
	for {
		if err := sl.Sleep(ctx, s.cfg.Interval); err != nil {
			log.Infof("Stopping recalibration: %v", err)
			return err
		}
		s.tick()
	}
}

func (s *Supervisor) tick() {
	if _, err := s.Step(); err != nil {
		log.Errorf("Skipping recalibration: %v", err)
	}
}

// Serve runs recalibration loop for given runtime and blocks until ctx is done
func (s *Supervisor) Serve(ctx context.Context, rt Runtime) error {
	switch rt {
	case RuntimeThread:
		runtime.LockOSThread()
		defer runtime.UnlockOSThread()
		return s.Run(ctx, ThreadSleeper{})
	case RuntimeTask:
		return s.Run(ctx, TaskSleeper{})
	case RuntimeManual:
		<-ctx.Done()
		return ctx.Err()
	}
	return fmt.Errorf("unknown runtime %q", rt)
}

// Start spawns recalibration loop in background
func (s *Supervisor) Start(ctx context.Context, rt Runtime) error {
	if _, err := ParseRuntime(string(rt)); err != nil {
		return err
	}
	if rt == RuntimeManual {
		return nil
	}
	go func() {
		if err := s.Serve(ctx, rt); err != nil && !errors.Is(err, context.Canceled) {
			log.Errorf("Recalibration loop stopped: %v", err)
		}
	}()
	return nil
}

func abs(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}
