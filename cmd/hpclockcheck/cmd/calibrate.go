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
	"time"

	"github.com/davecgh/go-spew/spew"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/facebook/hpclock/clock"
)

// flags
var (
	calibrateSamplesFlag   int
	calibrateSleepFlag     time.Duration
	calibrateThresholdFlag time.Duration
)

func init() {
	RootCmd.AddCommand(calibrateCmd)
	calibrateCmd.Flags().IntVarP(&calibrateSamplesFlag, "samples", "n", clock.DefaultSyncSamples, "number of samples per synchronization")
	calibrateCmd.Flags().DurationVarP(&calibrateSleepFlag, "sleep", "d", clock.DefaultBaselineSleep, "pause between two synchronizations")
	calibrateCmd.Flags().DurationVarP(&calibrateThresholdFlag, "threshold", "t", time.Millisecond, "warning threshold recorded in the state")
}

func calibrateRun(cal *clock.Calibrator, threshold time.Duration) (*clock.State, error) {
	start := time.Now()
	st, err := cal.EstablishBaseline(int64(threshold))
	if err != nil {
		return nil, err
	}
	took := time.Since(start)
	fmt.Printf("source:        %s\n", cal.Source.Kind())
	fmt.Printf("ns per count:  %.12f\n", st.NsPerCount)
	if st.NsPerCount > 0 {
		fmt.Printf("frequency:     %.3f MHz\n", 1e3/st.NsPerCount)
	}
	fmt.Printf("baseline:      %d -> %s\n", st.BaseCount, time.Unix(0, st.BaseWallNS).UTC().Format(time.RFC3339Nano))
	fmt.Printf("took:          %v\n", took)
	return st, nil
}

var calibrateCmd = &cobra.Command{
	Use:   "calibrate",
	Short: "Run initial calibration and print the result",
	Run: func(_ *cobra.Command, _ []string) {
		ConfigureVerbosity()
		src, err := source()
		if err != nil {
			log.Fatal(err)
		}
		cal := clock.NewCalibrator(src, clock.SystemWallClock{})
		cal.SyncSamples = calibrateSamplesFlag
		cal.BaselineSleep = calibrateSleepFlag
		st, err := calibrateRun(cal, calibrateThresholdFlag)
		if err != nil {
			log.Fatal(err)
		}
		if rootVerboseFlag {
			spew.Dump(st)
		}
	},
}
