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
	"io"
	"os"
	"time"

	"github.com/olekukonko/tablewriter"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/facebook/hpclock"
	"github.com/facebook/hpclock/clock"
)

// flags
var (
	driftPolicyFlag    string
	driftIntervalFlag  time.Duration
	driftCountFlag     int
	driftThresholdFlag time.Duration
)

func init() {
	RootCmd.AddCommand(driftCmd)
	driftCmd.Flags().StringVarP(&driftPolicyFlag, "policy", "p", string(clock.PolicyFeedback), "recalibration policy: feedback, reset or frequency")
	driftCmd.Flags().DurationVarP(&driftIntervalFlag, "interval", "i", time.Second, "interval between recalibrations")
	driftCmd.Flags().IntVarP(&driftCountFlag, "count", "c", 10, "number of recalibrations to watch")
	driftCmd.Flags().DurationVarP(&driftThresholdFlag, "threshold", "t", time.Millisecond, "drift warning threshold")
}

func driftRow(i int, r clock.DriftReport, c *hpclock.Clock) []string {
	st := c.State()
	return []string{
		fmt.Sprintf("%d", i),
		time.Duration(r.ObservedDriftNS).String(),
		fmt.Sprintf("%v", r.Exceeded),
		fmt.Sprintf("%v", r.Stepped),
		fmt.Sprintf("%.12f", st.NsPerCount),
		fmt.Sprintf("%.3f", c.FactorChangePPB()),
		time.Duration(st.WindowNS).String(),
	}
}

func driftRun(w io.Writer, c *hpclock.Clock, count int, interval time.Duration, sleep func(time.Duration)) {
	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"#", "drift", "exceeded", "stepped", "ns per count", "factor(ppb)", "window"})
	for i := 1; i <= count; i++ {
		sleep(interval)
		r, ok := c.Calibrate()
		if !ok {
			log.Warningf("recalibration %d did not happen", i)
			continue
		}
		table.Append(driftRow(i, r, c))
	}
	table.Render()
}

var driftCmd = &cobra.Command{
	Use:   "drift",
	Short: "Watch drift observed at recalibrations",
	Run: func(_ *cobra.Command, _ []string) {
		ConfigureVerbosity()
		src, err := source()
		if err != nil {
			log.Fatal(err)
		}
		policy, err := clock.ParsePolicy(driftPolicyFlag)
		if err != nil {
			log.Fatal(err)
		}
		c, err := hpclock.New(int64(driftThresholdFlag), driftIntervalFlag,
			hpclock.WithSource(src),
			hpclock.WithPolicy(policy),
			hpclock.WithManualCalibration(),
		)
		if err != nil {
			log.Fatal(err)
		}
		driftRun(os.Stdout, c, driftCountFlag, driftIntervalFlag, time.Sleep)
	},
}
