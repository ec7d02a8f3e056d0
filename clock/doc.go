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
Package clock contains the calibration and drift correction engine of hpclock.

A State maps counter values of a cycles.Source to wall clock nanoseconds:

	wall_ns = BaseWallNS + (count - BaseCount) * NsPerCount

The Calibrator builds the first State from two synchronization passes against the
wall clock and produces high confidence samples for recalibration.
Recalibrate turns a sample into the next State using one of the policies:
  - feedback corrects the slope of the mapping so drift trends to zero
  - reset rebases the mapping on every sample keeping the factor
  - frequency rebases like reset, using CPU nominal frequency for the factor

Shared owns the current State. Readers take a shared lock only to load the pointer,
a recalibration replaces the whole State at once.
*/
package clock
