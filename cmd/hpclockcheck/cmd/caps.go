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

	"github.com/olekukonko/tablewriter"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/facebook/hpclock/clock"
	"github.com/facebook/hpclock/cycles"
)

func init() {
	RootCmd.AddCommand(capsCmd)
}

func capsRows(src cycles.Source, info cycles.InfoFunc, sysStatus func() (clock.SysClockStatus, error)) [][]string {
	rows := [][]string{
		{"source", string(src.Kind())},
		{"tsc supported", fmt.Sprintf("%v", cycles.TSCSupported())},
		{"capability", cycles.CheckInvariant(src, info).String()},
	}
	if factor, fixed := src.FixedNsPerCount(); fixed {
		rows = append(rows, []string{"fixed ns per count", fmt.Sprintf("%v", factor)})
	}
	if hz, err := cycles.NominalFrequencyHz(info); err != nil {
		rows = append(rows, []string{"nominal frequency", fmt.Sprintf("unknown: %v", err)})
	} else {
		rows = append(rows, []string{"nominal frequency", fmt.Sprintf("%.0f Hz", hz)})
	}
	st, err := sysStatus()
	switch {
	case err != nil:
		rows = append(rows, []string{"system clock", fmt.Sprintf("unknown: %v", err)})
	case !st.Supported:
		rows = append(rows, []string{"system clock", "not supported on this platform"})
	default:
		rows = append(rows,
			[]string{"system clock synchronized", fmt.Sprintf("%v", st.Synchronized)},
			[]string{"system clock frequency", fmt.Sprintf("%.3f PPB", st.FreqPPB)},
			[]string{"system clock max error", time.Duration(st.MaxErrorNS).String()},
		)
	}
	return rows
}

func capsRun(src cycles.Source) {
	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"property", "value"})
	for _, row := range capsRows(src, cycles.DefaultInfo, clock.SystemClockStatus) {
		table.Append(row)
	}
	table.Render()
}

var capsCmd = &cobra.Command{
	Use:   "caps",
	Short: "Print counter capabilities",
	Run: func(_ *cobra.Command, _ []string) {
		ConfigureVerbosity()
		src, err := source()
		if err != nil {
			log.Fatal(err)
		}
		capsRun(src)
	},
}
