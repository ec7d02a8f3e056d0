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

/*
Package cycles provides cheap, monotonically non-decreasing counters used as the fast path of hpclock.

Two implementations exist:
  - TSC reads the x86 time stamp counter with RDTSC. Counts are CPU cycles and
    need a calibrated conversion factor.
  - Monotonic reads a nanosecond monotonic timer. Counts are already nanoseconds,
    the conversion factor is fixed at 1.0.

The implementation is chosen once with New and never switched per call.
CheckInvariant tells whether the TSC can be trusted as a constant rate clock.
*/
package cycles
