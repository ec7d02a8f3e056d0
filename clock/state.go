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
	"time"
)

// State is a baseline of the counter to wall clock mapping.
// It is never modified after being published, recalibration creates a new one.
type State struct {
	// BaseCount and BaseWallNS always come from the same synchronization pass
	BaseCount  uint64
	BaseWallNS int64
	// NsPerCount is conversion factor, always > 0
	NsPerCount float64
	// WarningThresholdNS separates routine drift from drift worth a warning
	WarningThresholdNS int64
	// AccumulatedErrorNS is predicted minus true wall clock at BaseCount
	AccumulatedErrorNS int64
	// WindowNS is estimated uncertainty of the mapping
	WindowNS int64
	// Generation is incremented on every install
	Generation uint64
}

// WallNS converts counter value to wall clock nanoseconds since epoch.
// Counter values below BaseCount (TSC read on a core slightly behind) give times before BaseWallNS.
func (s *State) WallNS(count uint64) int64 {
	delta := int64(count - s.BaseCount)
	return s.BaseWallNS + int64(float64(delta)*s.NsPerCount)
}

// Validate checks State invariants
func (s *State) Validate() error {
	if !(s.NsPerCount > 0) {
		return fmt.Errorf("ns per count must be positive, got %v", s.NsPerCount)
	}
	if s.WarningThresholdNS <= 0 {
		return fmt.Errorf("warning threshold must be positive, got %d", s.WarningThresholdNS)
	}
	return nil
}

func (s *State) String() string {
	return fmt.Sprintf("gen=%d base_count=%d base_wall=%s ns_per_count=%.12f acc_err=%v window=%v",
		s.Generation, s.BaseCount, time.Unix(0, s.BaseWallNS).UTC().Format(time.RFC3339Nano),
		s.NsPerCount, time.Duration(s.AccumulatedErrorNS), time.Duration(s.WindowNS))
}
