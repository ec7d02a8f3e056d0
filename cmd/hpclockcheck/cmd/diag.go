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

package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/fatih/color"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/exp/constraints"

	"github.com/facebook/hpclock"
	"github.com/facebook/hpclock/clock"
	"github.com/facebook/hpclock/cycles"
)

// flags
var (
	diagIntervalFlag  time.Duration
	diagThresholdFlag time.Duration
)

type status int

// possible check results
const (
	OK status = iota
	WARN
	FAIL
)

// diagResult is everything we measured for diagnosis
type diagResult struct {
	Capability   cycles.Capability
	SysClock     clock.SysClockStatus
	SysClockErr  error
	Recalibrated bool
	Drift        clock.DriftReport
	Offset       time.Duration
	ReadCost     time.Duration
	Threshold    time.Duration
}

// diagnoser is function that does checks on diagResult
type diagnoser func(r *diagResult) (status, string)

var okString = color.GreenString("[ OK ]")
var warnString = color.YellowString("[WARN]")
var failString = color.RedString("[FAIL]")

var statusToColor = []string{okString, warnString, failString}

func fmtThreshold(warnThreshold any) string {
	return color.BlueString("%v", warnThreshold)
}

// generic function to check value against some thresholds
func checkAgainstThreshold[T constraints.Ordered](name string, value, warnThreshold, failThreshold T, explanation string) (status, string) {
	msgTemplate := "%s is %s, we expect it to be within %s%s"
	thresholdStr := fmtThreshold(warnThreshold)

	if value > failThreshold {
		return FAIL, fmt.Sprintf(msgTemplate, name, color.RedString("%v", value), thresholdStr, ". "+explanation)
	}
	if value > warnThreshold {
		return WARN, fmt.Sprintf(msgTemplate, name, color.YellowString("%v", value), thresholdStr, ". "+explanation)
	}
	return OK, fmt.Sprintf(msgTemplate, name, color.GreenString("%v", value), thresholdStr, "")
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}

func checkCapability(r *diagResult) (status, string) {
	switch r.Capability {
	case cycles.Invariant:
		return OK, "TSC is invariant"
	case cycles.NotApplicable:
		return WARN, "Clock runs on monotonic timer fallback, reads are slower than TSC"
	}
	return WARN, fmt.Sprintf("TSC is not invariant, CPU must report both %q and %q", cycles.FlagConstantTSC, cycles.FlagNonstopTSC)
}

func checkSystemClock(r *diagResult) (status, string) {
	if r.SysClockErr != nil {
		return WARN, fmt.Sprintf("System clock status is unknown: %v", r.SysClockErr)
	}
	if !r.SysClock.Supported {
		return OK, "System clock status is not available on this platform"
	}
	if !r.SysClock.Synchronized {
		return FAIL, "System clock is not synchronized, clock follows an undisciplined system clock"
	}
	return OK, "System clock is synchronized"
}

func checkRecalibrated(r *diagResult) (status, string) {
	if !r.Recalibrated {
		return FAIL, "Recalibration did not happen"
	}
	return OK, "Recalibration succeeded"
}

func checkDrift(r *diagResult) (status, string) {
	return checkAgainstThreshold(
		"Drift at recalibration",
		absDuration(time.Duration(r.Drift.ObservedDriftNS)),
		r.Threshold,
		10*r.Threshold,
		"Drift is how far the clock moved away from the system clock during one interval",
	)
}

func checkOffset(r *diagResult) (status, string) {
	// clock was just recalibrated, it must be close to the system clock
	const warnThreshold = 10 * time.Microsecond
	const failThreshold = 100 * time.Microsecond
	return checkAgainstThreshold(
		"Offset from system clock",
		absDuration(r.Offset),
		warnThreshold,
		failThreshold,
		"Offset is the difference between our clock and the system clock right after recalibration.",
	)
}

func checkReadCost(r *diagResult) (status, string) {
	const warnThreshold = 100 * time.Nanosecond
	const failThreshold = time.Microsecond
	return checkAgainstThreshold(
		"Read cost",
		r.ReadCost,
		warnThreshold,
		failThreshold,
		"Reading the clock is expected to cost tens of nanoseconds",
	)
}

var diagnosers = []diagnoser{
	checkCapability,
	checkSystemClock,
	checkRecalibrated,
	checkDrift,
	checkOffset,
	checkReadCost,
}

func runDiagnosers(r *diagResult, toRun []diagnoser) int {
	failed := 0
	for _, check := range toRun {
		status, msg := check(r)
		if status != OK {
			failed++
		}
		fmt.Printf("%s %s\n", statusToColor[status], msg)
	}
	return failed
}

func collect(c *hpclock.Clock, interval, threshold time.Duration) *diagResult {
	r := &diagResult{
		Capability: c.Capability(),
		Threshold:  threshold,
	}
	r.SysClock, r.SysClockErr = clock.SystemClockStatus()
	time.Sleep(interval)
	r.Drift, r.Recalibrated = c.Calibrate()

	wall, err := clock.SystemWallClock{}.Now()
	if err != nil {
		log.Errorf("reading system clock: %v", err)
	} else {
		r.Offset = time.Duration(c.NowNS() - wall)
	}
	const reads = 1000
	start := time.Now()
	for range reads {
		c.NowNS()
	}
	r.ReadCost = time.Since(start) / reads
	return r
}

func init() {
	RootCmd.AddCommand(diagCmd)
	diagCmd.Flags().DurationVarP(&diagIntervalFlag, "interval", "i", time.Second, "interval to measure drift over")
	diagCmd.Flags().DurationVarP(&diagThresholdFlag, "threshold", "t", 100*time.Microsecond, "drift warning threshold")
}

var diagCmd = &cobra.Command{
	Use:   "diag",
	Short: "Perform basic clock diagnosis, report in human-readable form.",
	Long: `Perform basic clock diagnosis, report in human-readable form.
Calibrates the clock, recalibrates it once after the interval and runs a set of checks.
Exit code will be equal to sum of failed checks.
`,
	Run: func(_ *cobra.Command, _ []string) {
		ConfigureVerbosity()
		src, err := source()
		if err != nil {
			log.Fatal(err)
		}
		c, err := hpclock.New(int64(diagThresholdFlag), diagIntervalFlag, hpclock.WithSource(src), hpclock.WithManualCalibration())
		if err != nil {
			log.Fatal(err)
		}
		os.Exit(runDiagnosers(collect(c, diagIntervalFlag, diagThresholdFlag), diagnosers))
	},
}
