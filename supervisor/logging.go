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
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"time"
)

// LogSample has all the measurements of one recalibration we may want to log
type LogSample struct {
	Generation     uint64
	DriftNS        int64
	DriftMeanNS    float64
	DriftStddevNS  float64
	Stepped        bool
	NsPerCount     float64
	FactorPPB      float64
	WindowNS       float64
	SyncSpanCounts uint64
}

var header = []string{
	"generation",
	"drift",
	"drift_mean",
	"drift_stddev",
	"stepped",
	"ns_per_count",
	"factor_ppb",
	"window",
	"sync_span",
}

// CSVRecords returns all data from this sample as CSV. Must by synced with `header` variable.
func (s *LogSample) CSVRecords() []string {
	return []string{
		strconv.FormatUint(s.Generation, 10),
		strconv.FormatInt(s.DriftNS, 10),
		strconv.FormatFloat(s.DriftMeanNS, 'f', -1, 64),
		strconv.FormatFloat(s.DriftStddevNS, 'f', -1, 64),
		strconv.FormatBool(s.Stepped),
		strconv.FormatFloat(s.NsPerCount, 'f', -1, 64),
		strconv.FormatFloat(s.FactorPPB, 'f', -1, 64),
		strconv.FormatFloat(s.WindowNS, 'f', -1, 64),
		strconv.FormatUint(s.SyncSpanCounts, 10),
	}
}

// Logger is something that can store LogSample somewhere
type Logger interface {
	Log(*LogSample) error
}

// CSVLogger logs Sample as CSV into given writer
type CSVLogger struct {
	csvwriter     *csv.Writer
	printedHeader bool
}

// NewCSVLogger returns new CSVLogger
func NewCSVLogger(w io.Writer) *CSVLogger {
	return &CSVLogger{
		csvwriter: csv.NewWriter(w),
	}
}

// Log implements Logger interface
func (l *CSVLogger) Log(s *LogSample) error {
	if !l.printedHeader {
		if err := l.csvwriter.Write(header); err != nil {
			return err
		}
		l.printedHeader = true
	}
	if err := l.csvwriter.Write(s.CSVRecords()); err != nil {
		return err
	}
	l.csvwriter.Flush()
	return l.csvwriter.Error()
}

// DummyLogger logs drift and window to given writer
type DummyLogger struct {
	w io.Writer
}

// NewDummyLogger returns new DummyLogger
func NewDummyLogger(w io.Writer) *DummyLogger {
	return &DummyLogger{w: w}
}

// Log implements Logger interface
func (l *DummyLogger) Log(s *LogSample) error {
	_, err := fmt.Fprintf(l.w, "gen = %d, drift = %v, window = %v\n", s.Generation, time.Duration(s.DriftNS), time.Duration(s.WindowNS))
	return err
}

// NoopLogger drops samples
type NoopLogger struct{}

// Log implements Logger interface
func (NoopLogger) Log(*LogSample) error { return nil }
