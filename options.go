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
	"time"

	"github.com/facebook/hpclock/clock"
	"github.com/facebook/hpclock/cycles"
	"github.com/facebook/hpclock/stats"
	"github.com/facebook/hpclock/supervisor"
)

type options struct {
	kind             cycles.Kind
	source           cycles.Source
	wall             clock.WallClock
	info             cycles.InfoFunc
	policy           clock.Policy
	runtime          supervisor.Runtime
	ctx              context.Context
	stats            stats.Server
	logger           supervisor.Logger
	window           string
	history          int
	syncSamples      int
	baselineSleep    time.Duration
	sleep            func(time.Duration)
	maxAdjustmentPPB float64
}

func defaultOptions() *options {
	return &options{
		kind:    cycles.KindAuto,
		wall:    clock.SystemWallClock{},
		info:    cycles.DefaultInfo,
		policy:  clock.PolicyFeedback,
		runtime: supervisor.RuntimeThread,
		ctx:     context.Background(),
		stats:   stats.NoopStats{},
		window:  supervisor.DefaultWindow,
		history: supervisor.DefaultHistory,
	}
}

// Option customizes Clock
type Option func(*options)

// WithSourceKind selects counter kind, KindAuto by default
func WithSourceKind(kind cycles.Kind) Option {
	return func(o *options) {
		o.kind = kind
	}
}

// WithSource uses given counter instead of creating one
func WithSource(src cycles.Source) Option {
	return func(o *options) {
		o.source = src
	}
}

// WithWallClock overrides the wall clock we calibrate against
func WithWallClock(w clock.WallClock) Option {
	return func(o *options) {
		o.wall = w
	}
}

// WithCPUInfo overrides source of CPU capability metadata
func WithCPUInfo(info cycles.InfoFunc) Option {
	return func(o *options) {
		o.info = info
	}
}

// WithPolicy selects recalibration policy, PolicyFeedback by default
func WithPolicy(p clock.Policy) Option {
	return func(o *options) {
		o.policy = p
	}
}

// WithRuntime selects how recalibration is scheduled, RuntimeThread by default
func WithRuntime(rt supervisor.Runtime) Option {
	return func(o *options) {
		o.runtime = rt
	}
}

// WithManualCalibration disables background recalibration, Calibrate has to be called instead
func WithManualCalibration() Option {
	return WithRuntime(supervisor.RuntimeManual)
}

// WithContext ties background recalibration to ctx
func WithContext(ctx context.Context) Option {
	return func(o *options) {
		o.ctx = ctx
	}
}

// WithStats reports recalibration counters to st
func WithStats(st stats.Server) Option {
	return func(o *options) {
		o.stats = st
	}
}

// WithLogger logs every recalibration sample to l
func WithLogger(l supervisor.Logger) Option {
	return func(o *options) {
		o.logger = l
	}
}

// WithWindow sets uncertainty window expression, see supervisor.WindowHelp
func WithWindow(expr string) Option {
	return func(o *options) {
		o.window = expr
	}
}

// WithHistory sets number of recalibrations the window is computed over
func WithHistory(n int) Option {
	return func(o *options) {
		o.history = n
	}
}

// WithSyncSamples sets number of samples taken per synchronization
func WithSyncSamples(n int) Option {
	return func(o *options) {
		o.syncSamples = n
	}
}

// WithBaselineSleep sets pause between two passes of initial calibration
func WithBaselineSleep(d time.Duration) Option {
	return func(o *options) {
		o.baselineSleep = d
	}
}

// WithSleepFunc replaces time.Sleep used by initial calibration
func WithSleepFunc(f func(time.Duration)) Option {
	return func(o *options) {
		o.sleep = f
	}
}

// WithMaxAdjustmentPPB bounds a single conversion factor correction
func WithMaxAdjustmentPPB(ppb float64) Option {
	return func(o *options) {
		o.maxAdjustmentPPB = ppb
	}
}
