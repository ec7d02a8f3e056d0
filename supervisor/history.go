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
	"container/ring"
	"sync"
)

type historyEntry struct {
	driftNS         int64
	factorChangePPB float64
	stepped         bool
}

// driftHistory keeps last N recalibration results, guarded by mutex
type driftHistory struct {
	sync.Mutex

	entries *ring.Ring
	size    int
}

func newDriftHistory(size int) *driftHistory {
	h := &driftHistory{
		entries: ring.New(size),
		size:    size,
	}
	// init ring buffer with nils
	for i := 0; i < size; i++ {
		h.entries.Value = nil
		h.entries = h.entries.Next()
	}
	return h
}

func (h *driftHistory) push(e historyEntry) {
	h.Lock()
	defer h.Unlock()
	h.entries.Value = e
	h.entries = h.entries.Next()
}

// take returns up to n newest entries, newest first
func (h *driftHistory) take(n int) []historyEntry {
	h.Lock()
	defer h.Unlock()
	result := []historyEntry{}
	r := h.entries.Prev()
	for j := 0; j < n && j < h.size; j++ {
		if r.Value == nil {
			break
		}
		result = append(result, r.Value.(historyEntry))
		r = r.Prev()
	}
	return result
}

// absMaxDrift returns max abs drift among all stored entries
func (h *driftHistory) absMaxDrift() int64 {
	var m int64
	for _, e := range h.take(h.size) {
		d := e.driftNS
		if d < 0 {
			d = -d
		}
		if d > m {
			m = d
		}
	}
	return m
}
