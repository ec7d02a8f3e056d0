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
	"errors"
	"fmt"
	"sync"

	"github.com/facebook/hpclock/cycles"
)

// ErrBusy is returned when another recalibration holds exclusive access
var ErrBusy = errors.New("another recalibration is in progress")

// Shared owns the current State and gives concurrent readers access to it.
// Recalibrations are serialized by a separate mutex, so sampling never blocks readers.
type Shared struct {
	src cycles.Source

	mu    sync.RWMutex
	state *State

	calMu sync.Mutex
}

// NewShared publishes initial State
func NewShared(src cycles.Source, initial *State) *Shared {
	return &Shared{
		src:   src,
		state: initial,
	}
}

// Source returns the counter used by the fast path
func (s *Shared) Source() cycles.Source {
	return s.src
}

// Load returns current State. Returned State must not be modified.
func (s *Shared) Load() *State {
	s.mu.RLock()
	st := s.state
	s.mu.RUnlock()
	return st
}

// NowNS is the fast path: one counter read and one multiplication
func (s *Shared) NowNS() int64 {
	st := s.Load()
	return st.WallNS(s.src.Read())
}

// install swaps State. Write lock is held only for the pointer swap.
func (s *Shared) install(next *State) {
	s.mu.Lock()
	s.state = next
	s.mu.Unlock()
}

// Update runs fn with exclusive recalibration access and installs State it returns.
// fn runs outside of the readers lock. ErrBusy is returned if another update is running.
func (s *Shared) Update(fn func(cur *State) (*State, error)) error {
	if !s.calMu.TryLock() {
		return ErrBusy
	}
	defer s.calMu.Unlock()
	next, err := fn(s.Load())
	if err != nil {
		return err
	}
	if err := next.Validate(); err != nil {
		return fmt.Errorf("refusing to install state: %w", err)
	}
	s.install(next)
	return nil
}
