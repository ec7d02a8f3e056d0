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

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/facebook/hpclock/cycles"
)

// RootCmd is a main entry point. It's exported so hpclockcheck could be easily extended without touching core functionality.
var RootCmd = &cobra.Command{
	Use:   "hpclockcheck",
	Short: "Inspect and exercise cycle counter clock",
}

// flags
var rootVerboseFlag bool
var rootSourceFlag string

func init() {
	RootCmd.PersistentFlags().BoolVarP(&rootVerboseFlag, "verbose", "v", false, "verbose output")
	RootCmd.PersistentFlags().StringVarP(&rootSourceFlag, "source", "s", string(cycles.KindAuto), "counter to use: auto, tsc or monotonic")
}

// ConfigureVerbosity configures log verbosity based on parsed flags. Needs to be called by any subcommand.
func ConfigureVerbosity() {
	log.SetLevel(log.InfoLevel)
	if rootVerboseFlag {
		log.SetLevel(log.DebugLevel)
	}
}

// source returns counter selected by flags
func source() (cycles.Source, error) {
	kind, err := cycles.ParseKind(rootSourceFlag)
	if err != nil {
		return nil, err
	}
	return cycles.New(kind)
}

// Execute is the main entry point for CLI interface
func Execute() {
	if err := RootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}
