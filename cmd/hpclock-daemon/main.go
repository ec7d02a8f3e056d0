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

package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/facebook/hpclock/daemon"
	"github.com/facebook/hpclock/stats"
	"github.com/facebook/hpclock/supervisor"
)

func main() {
	var (
		cfgPath              string
		sourceFlag           string
		policyFlag           string
		intervalFlag         time.Duration
		warningThresholdFlag time.Duration
		monitoringPortFlag   int
		verbose              bool
	)
	defaults := daemon.DefaultConfig()

	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "hpclock daemon\n")
		fmt.Fprintf(flag.CommandLine.Output(), "%s\n\nFlags:\n", supervisor.WindowHelp)
		flag.PrintDefaults()
	}

	flag.StringVar(&cfgPath, "cfg", "", "Path to config")
	flag.StringVar(&sourceFlag, "source", defaults.Source, "Counter to use: auto, tsc or monotonic")
	flag.StringVar(&policyFlag, "policy", defaults.Policy, "Recalibration policy: feedback, reset or frequency")
	flag.DurationVar(&intervalFlag, "interval", defaults.Interval, "Interval at which we recalibrate the clock")
	flag.DurationVar(&warningThresholdFlag, "threshold", defaults.WarningThreshold, "Drift above this value is reported as a warning")
	flag.IntVar(&monitoringPortFlag, "monitoringport", defaults.MonitoringPort, "Port to run monitoring server on")
	flag.BoolVar(&verbose, "verbose", false, "Verbose logging")

	flag.Parse()
	setFlags := make(map[string]bool)
	flag.Visit(func(f *flag.Flag) {
		setFlags[f.Name] = true
	})

	log.SetReportCaller(true)
	log.SetLevel(log.InfoLevel)
	if verbose {
		log.SetLevel(log.DebugLevel)
	}
	cfg, err := daemon.PrepareConfig(cfgPath, sourceFlag, policyFlag, intervalFlag, warningThresholdFlag, monitoringPortFlag, setFlags)
	if err != nil {
		log.Fatal(err)
	}

	// set up sample logging
	w := log.StandardLogger().Writer()
	defer w.Close()
	var l supervisor.Logger = supervisor.NewDummyLogger(w)
	if cfg.CSVLog {
		csvW := io.Writer(w)
		// set up logging of CSV samples to file
		if cfg.CSVPath != "" {
			f, err := os.Create(cfg.CSVPath)
			if err != nil {
				log.Fatal(err)
			}
			defer f.Close()
			// write both to stderr and file
			csvW = io.MultiWriter(w, f)
		}
		l = supervisor.NewCSVLogger(csvW)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	d := daemon.New(cfg, stats.NewJSONStats(), l)
	if err := d.Run(ctx); err != nil && ctx.Err() == nil {
		log.Fatal(err)
	}
}
