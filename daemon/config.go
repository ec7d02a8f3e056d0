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

package daemon

import (
	"fmt"
	"os"
	"time"

	log "github.com/sirupsen/logrus"
	yaml "gopkg.in/yaml.v2"

	"github.com/facebook/hpclock/clock"
	"github.com/facebook/hpclock/cycles"
	"github.com/facebook/hpclock/supervisor"
)

// Config specifies hpclock daemon run options
type Config struct {
	Source           string        `yaml:"source"`             // which counter to use: auto, tsc or monotonic
	Policy           string        `yaml:"policy"`             // recalibration policy: feedback, reset or frequency
	Runtime          string        `yaml:"runtime"`            // how recalibration is scheduled: thread, task or manual
	Interval         time.Duration `yaml:"interval"`           // how often we recalibrate
	WarningThreshold time.Duration `yaml:"warning_threshold"`  // drift above this is reported as a warning
	SyncSamples      int           `yaml:"sync_samples"`       // number of samples taken per synchronization
	BaselineSleep    time.Duration `yaml:"baseline_sleep"`     // pause between passes of initial calibration
	MaxAdjustmentPPB float64       `yaml:"max_adjustment_ppb"` // limit of a single conversion factor correction
	Window           string        `yaml:"window"`             // expression for uncertainty window
	History          int           `yaml:"history"`            // number of recalibrations window is calculated over
	MonitoringPort   int           `yaml:"monitoring_port"`    // port for JSON stats, 0 disables
	PrometheusPort   int           `yaml:"prometheus_port"`    // port for prometheus exporter, 0 disables
	ProbeInterval    time.Duration `yaml:"probe_interval"`     // how often we compare clock with the system clock, 0 disables
	CSVLog           bool          `yaml:"csv_log"`            // log every recalibration as CSV
	CSVPath          string        `yaml:"csv_path"`           // also write CSV log into this file
}

// DefaultConfig returns Config initialized with default values
func DefaultConfig() *Config {
	return &Config{
		Source:           string(cycles.KindAuto),
		Policy:           string(clock.PolicyFeedback),
		Runtime:          string(supervisor.RuntimeThread),
		Interval:         time.Second,
		WarningThreshold: time.Millisecond,
		SyncSamples:      clock.DefaultSyncSamples,
		BaselineSleep:    clock.DefaultBaselineSleep,
		MaxAdjustmentPPB: clock.DefaultMaxAdjustmentPPB,
		Window:           supervisor.DefaultWindow,
		History:          supervisor.DefaultHistory,
		MonitoringPort:   4270,
		PrometheusPort:   0,
		ProbeInterval:    time.Second,
	}
}

// Validate Config is sane
func (c *Config) Validate() error {
	if _, err := cycles.ParseKind(c.Source); err != nil {
		return err
	}
	if _, err := clock.ParsePolicy(c.Policy); err != nil {
		return err
	}
	if _, err := supervisor.ParseRuntime(c.Runtime); err != nil {
		return err
	}
	if c.Interval <= 0 {
		return fmt.Errorf("interval must be greater than zero")
	}
	if c.Interval > time.Hour {
		return fmt.Errorf("interval is over an hour")
	}
	if c.WarningThreshold <= 0 {
		return fmt.Errorf("warning_threshold must be greater than zero")
	}
	if c.SyncSamples <= 0 {
		return fmt.Errorf("sync_samples must be greater than zero")
	}
	if c.BaselineSleep <= 0 {
		return fmt.Errorf("baseline_sleep must be greater than zero")
	}
	if c.MaxAdjustmentPPB < 0 {
		return fmt.Errorf("max_adjustment_ppb must be 0 or positive")
	}
	if c.History <= 0 {
		return fmt.Errorf("history must be greater than zero")
	}
	if _, err := supervisor.NewWindow(c.Window); err != nil {
		return err
	}
	if c.MonitoringPort < 0 || c.MonitoringPort > 65535 {
		return fmt.Errorf("monitoring_port must be between 0 and 65535")
	}
	if c.PrometheusPort < 0 || c.PrometheusPort > 65535 {
		return fmt.Errorf("prometheus_port must be between 0 and 65535")
	}
	if c.MonitoringPort != 0 && c.MonitoringPort == c.PrometheusPort {
		return fmt.Errorf("monitoring_port and prometheus_port must differ")
	}
	if c.ProbeInterval < 0 {
		return fmt.Errorf("probe_interval must be 0 or positive")
	}
	if c.CSVPath != "" && !c.CSVLog {
		return fmt.Errorf("csv_path requires csv_log")
	}
	if c.Runtime == string(supervisor.RuntimeManual) {
		log.Warning("runtime is manual, nothing will recalibrate the clock")
	}
	return nil
}

// ReadConfig reads config from the file
func ReadConfig(path string) (*Config, error) {
	c := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if err := yaml.UnmarshalStrict(data, c); err != nil {
		return nil, err
	}
	return c, nil
}

// PrepareConfig prepares final version of config based on defaults, CLI flags and on-disk config, and validates resulting config
func PrepareConfig(cfgPath string, source string, policy string, interval time.Duration, warningThreshold time.Duration, monitoringPort int, setFlags map[string]bool) (*Config, error) {
	cfg := DefaultConfig()
	var err error
	warn := func(name string) {
		log.Warningf("overriding %s from CLI flag", name)
	}
	if cfgPath != "" {
		cfg, err = ReadConfig(cfgPath)
		if err != nil {
			return nil, fmt.Errorf("reading config from %q: %w", cfgPath, err)
		}
	}
	if setFlags["source"] {
		warn("source")
		cfg.Source = source
	}
	if setFlags["policy"] {
		warn("policy")
		cfg.Policy = policy
	}
	if setFlags["interval"] {
		warn("interval")
		cfg.Interval = interval
	}
	if setFlags["threshold"] {
		warn("warningThreshold")
		cfg.WarningThreshold = warningThreshold
	}
	if setFlags["monitoringport"] {
		warn("monitoringPort")
		cfg.MonitoringPort = monitoringPort
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	log.Debugf("config: %+v", cfg)
	return cfg, nil
}
