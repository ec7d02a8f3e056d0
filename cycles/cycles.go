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
	"strings"
)

// Kind is the kind of counter backing a Source
type Kind string

// Kinds we support
const (
	KindAuto      Kind = "auto"
	KindTSC       Kind = "tsc"
	KindMonotonic Kind = "monotonic"
)

// ParseKind converts string to Kind
func ParseKind(s string) (Kind, error) {
	switch k := Kind(strings.ToLower(s)); k {
	case KindAuto, KindTSC, KindMonotonic:
		return k, nil
	}
	return "", fmt.Errorf("unknown counter source %q, must be one of %q, %q or %q", s, KindAuto, KindTSC, KindMonotonic)
}

// Source is a monotonically non-decreasing counter
type Source interface {
	// Read returns current counter value. It must be cheap enough to be called on every time query.
	Read() uint64
	// Kind returns the kind of the counter
	Kind() Kind
	// FixedNsPerCount returns conversion factor if it is known upfront and must not be calibrated
	FixedNsPerCount() (float64, bool)
}

// New returns Source of requested kind.
// KindAuto picks TSC when the platform has one and falls back to Monotonic otherwise.
func New(kind Kind) (Source, error) {
	switch kind {
	case KindAuto:
		if TSCSupported() {
			return &TSC{}, nil
		}
		return NewMonotonic(), nil
	case KindTSC:
		if !TSCSupported() {
			return nil, fmt.Errorf("tsc counter is not supported on this platform")
		}
		return &TSC{}, nil
	case KindMonotonic:
		return NewMonotonic(), nil
	}
	return nil, fmt.Errorf("unknown counter source %q", kind)
}

// TSC reads time stamp counter
type TSC struct{}

// Read returns current TSC value
func (t *TSC) Read() uint64 {
	return rdtsc()
}

// Kind returns KindTSC
func (t *TSC) Kind() Kind {
	return KindTSC
}

// FixedNsPerCount returns false, TSC rate has to be calibrated
func (t *TSC) FixedNsPerCount() (float64, bool) {
	return 0, false
}

// Monotonic reads nanosecond monotonic timer
type Monotonic struct {
	origin int64
}

// NewMonotonic returns Monotonic source. Counts start close to zero.
func NewMonotonic() *Monotonic {
	return &Monotonic{origin: monotonicNS()}
}

// Read returns nanoseconds passed since the source was created
func (m *Monotonic) Read() uint64 {
	return uint64(monotonicNS() - m.origin)
}

// Kind returns KindMonotonic
func (m *Monotonic) Kind() Kind {
	return KindMonotonic
}

// FixedNsPerCount returns 1.0, counts are nanoseconds already
func (m *Monotonic) FixedNsPerCount() (float64, bool) {
	return 1.0, true
}
