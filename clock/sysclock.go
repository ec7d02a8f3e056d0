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

// PPBToTimexPPM is what we use to convert PPB to PPM.
// man clock_adjtime(2):
// In struct timex, freq, ppsfreq, and stabil are ppm (parts per million) with a 16-bit fractional part.
const PPBToTimexPPM = 65.536

// SysClockStatus is how the kernel sees discipline of the system clock.
// hpclock relies on an external daemon (chrony, ntpd, ptp4l) keeping it synchronized.
type SysClockStatus struct {
	// Supported is false when the platform can't tell
	Supported    bool
	Synchronized bool
	// State is the clock state returned by adjtimex(2)
	State int
	// FreqPPB is frequency adjustment applied by the sync daemon
	FreqPPB float64
	// MaxErrorNS is maximum error reported by the sync daemon
	MaxErrorNS int64
}
