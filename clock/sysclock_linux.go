//go:build linux

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

package clock

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// TIME_ERROR from linux/timex.h
const timeError = 5

// SystemClockStatus reads system clock state via adjtimex(2) without modifying anything
func SystemClockStatus() (SysClockStatus, error) {
	tx := &unix.Timex{}
	state, err := unix.Adjtimex(tx)
	if err != nil {
		return SysClockStatus{}, fmt.Errorf("reading adjtimex: %w", err)
	}
	// man(2) clock_adjtime, maxerror is in microseconds
	return SysClockStatus{
		Supported:    true,
		Synchronized: state != timeError,
		State:        state,
		FreqPPB:      float64(tx.Freq) / PPBToTimexPPM,
		MaxErrorNS:   int64(tx.Maxerror) * 1000,
	}, nil
}
