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

package cycles

import (
	"fmt"

	"github.com/shirou/gopsutil/cpu"
)

// CPU flags required for TSC to be used as a clock
const (
	FlagConstantTSC = "constant_tsc"
	FlagNonstopTSC  = "nonstop_tsc"
)

// InfoFunc returns CPU capability metadata
type InfoFunc func() ([]cpu.InfoStat, error)

// DefaultInfo reads CPU metadata of the running host
var DefaultInfo InfoFunc = cpu.Info

// Capability is the result of TSC invariance check
type Capability uint8

// All the results of invariance check
const (
	// NotApplicable means the source is not a TSC
	NotApplicable Capability = iota
	// Invariant means TSC ticks at constant rate and does not stop in idle states
	Invariant
	// NotInvariant means we could not prove TSC is invariant
	NotInvariant
)

func (c Capability) String() string {
	switch c {
	case NotApplicable:
		return "NOT_APPLICABLE"
	case Invariant:
		return "INVARIANT"
	case NotInvariant:
		return "NOT_INVARIANT"
	}
	return "UNSUPPORTED"
}

// CheckInvariant checks whether src is safe to use as a stable frequency-invariant clock.
// Failure to read CPU metadata is treated as NotInvariant.
func CheckInvariant(src Source, info InfoFunc) Capability {
	if src.Kind() != KindTSC {
		return NotApplicable
	}
	infos, err := info()
	if err != nil || len(infos) == 0 {
		return NotInvariant
	}
	// every logical CPU must report both flags
	for _, i := range infos {
		if !hasFlags(i.Flags, FlagConstantTSC, FlagNonstopTSC) {
			return NotInvariant
		}
	}
	return Invariant
}

func hasFlags(flags []string, want ...string) bool {
	found := 0
	for _, w := range want {
		for _, f := range flags {
			if f == w {
				found++
				break
			}
		}
	}
	return found == len(want)
}

// NominalFrequencyHz returns CPU nominal frequency in Hz
func NominalFrequencyHz(info InfoFunc) (float64, error) {
	infos, err := info()
	if err != nil {
		return 0, fmt.Errorf("reading cpu info: %w", err)
	}
	for _, i := range infos {
		if i.Mhz > 0 {
			return i.Mhz * 1e6, nil
		}
	}
	return 0, fmt.Errorf("no cpu reports its frequency")
}
