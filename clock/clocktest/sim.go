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

// Package clocktest provides a deterministic simulated machine for testing hpclock:
// a counter and a wall clock driven by the same virtual time.
package clocktest

import (
	"sync"
	"time"

	"github.com/facebook/hpclock/cycles"
)

// DefaultReadCost is virtual time every counter or wall clock read takes
const DefaultReadCost = 10 * time.Nanosecond

// Sim is a simulated machine. Every read advances virtual time by ReadCost.
type Sim struct {
	mu sync.Mutex

	nowNS    int64 // true time, ns since epoch
	readCost int64

	// counter runs at countsPerNS since rateSinceNS, having countAtRate counts at that moment
	countsPerNS float64
	rateSinceNS int64
	countAtRate uint64

	wallOffsetNS int64
	wallErr      error
}

// NewSim returns Sim starting at start with counter ticking countsPerNS times per nanosecond
func NewSim(start time.Time, countsPerNS float64) *Sim {
	ns := start.UnixNano()
	return &Sim{
		nowNS:       ns,
		readCost:    int64(DefaultReadCost),
		countsPerNS: countsPerNS,
		rateSinceNS: ns,
		countAtRate: 1 << 32,
	}
}

func (s *Sim) countLocked() uint64 {
	return s.countAtRate + uint64(float64(s.nowNS-s.rateSinceNS)*s.countsPerNS)
}

// Advance moves virtual time forward
func (s *Sim) Advance(d time.Duration) {
	s.mu.Lock()
	s.nowNS += int64(d)
	s.mu.Unlock()
}

// Sleep is Advance, handy as Calibrator.Sleep
func (s *Sim) Sleep(d time.Duration) {
	s.Advance(d)
}

// TrueNS returns true time without advancing it
func (s *Sim) TrueNS() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.nowNS
}

// JumpWall steps wall clock by d without touching the counter, like a sync daemon stepping the clock
func (s *Sim) JumpWall(d time.Duration) {
	s.mu.Lock()
	s.wallOffsetNS += int64(d)
	s.mu.Unlock()
}

// SetRate changes counter frequency from now on
func (s *Sim) SetRate(countsPerNS float64) {
	s.mu.Lock()
	s.countAtRate = s.countLocked()
	s.rateSinceNS = s.nowNS
	s.countsPerNS = countsPerNS
	s.mu.Unlock()
}

// SetReadCost changes virtual time every read takes
func (s *Sim) SetReadCost(d time.Duration) {
	s.mu.Lock()
	s.readCost = int64(d)
	s.mu.Unlock()
}

// SetWallError makes every wall clock read fail with err, nil restores it
func (s *Sim) SetWallError(err error) {
	s.mu.Lock()
	s.wallErr = err
	s.mu.Unlock()
}

// Now implements clock.WallClock
func (s *Sim) Now() (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.wallErr != nil {
		return 0, s.wallErr
	}
	v := s.nowNS + s.wallOffsetNS
	s.nowNS += s.readCost
	return v, nil
}

// Counter returns cycles.Source backed by the simulated counter
func (s *Sim) Counter() *Counter {
	return &Counter{sim: s}
}

// Counter is a simulated cycles.Source
type Counter struct {
	sim *Sim
	// Fixed makes the counter behave like nanosecond fallback timer
	Fixed bool
}

// Read implements cycles.Source
func (c *Counter) Read() uint64 {
	c.sim.mu.Lock()
	defer c.sim.mu.Unlock()
	v := c.sim.countLocked()
	c.sim.nowNS += c.sim.readCost
	return v
}

// Kind implements cycles.Source
func (c *Counter) Kind() cycles.Kind {
	if c.Fixed {
		return cycles.KindMonotonic
	}
	return cycles.KindTSC
}

// FixedNsPerCount implements cycles.Source
func (c *Counter) FixedNsPerCount() (float64, bool) {
	if c.Fixed {
		return 1.0, true
	}
	return 0, false
}
