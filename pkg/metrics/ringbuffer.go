// SPDX-License-Identifier: AGPL-3.0
// Copyright 2025 Kadir Pekel
//
// Licensed under the GNU Affero General Public License v3.0 (AGPL-3.0) (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     https://www.gnu.org/licenses/agpl-3.0.en.html
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package metrics

import "sync/atomic"

// RingBuffer is a fixed-capacity, lock-free multi-producer/single-consumer
// ring buffer of Events (spec.md §5 "Shared resources" and §8 invariant
// 10). Many producers call Publish concurrently using only atomic
// compare-and-swap on the write cursor; draining is single-threaded by
// contract — Drain must never be called from more than one goroutine at
// a time, a misuse this package cannot itself prevent, matching the
// source's "must be prevented at configuration time" note.
type RingBuffer struct {
	slots    []atomic.Pointer[Event]
	mask     uint64
	writeIdx atomic.Uint64
	readIdx  uint64
	dropped  atomic.Uint64
}

// NewRingBuffer allocates a buffer of the given capacity, rounded up to
// the next power of two.
func NewRingBuffer(capacity int) *RingBuffer {
	size := nextPowerOfTwo(capacity)
	rb := &RingBuffer{
		slots: make([]atomic.Pointer[Event], size),
		mask:  uint64(size - 1),
	}
	return rb
}

// Publish reserves the next slot by compare-and-swap on the write
// cursor and writes the event. It never blocks. It returns false,
// incrementing Dropped and leaving the cursor where it is, when the
// buffer is saturated (the next slot has not yet been drained) —
// matching spec.md §6's "publish(MetricEvent) → boolean" contract.
func (rb *RingBuffer) Publish(e Event) bool {
	for {
		idx := rb.writeIdx.Load()
		slot := &rb.slots[idx&rb.mask]

		if slot.Load() != nil {
			rb.dropped.Add(1)
			return false
		}

		if rb.writeIdx.CompareAndSwap(idx, idx+1) {
			ev := e
			slot.Store(&ev)
			return true
		}
	}
}

// Drain removes and returns up to max pending events in publish order.
// Single-consumer only.
func (rb *RingBuffer) Drain(max int) []Event {
	out := make([]Event, 0, max)
	for len(out) < max {
		slot := &rb.slots[rb.readIdx&rb.mask]
		ev := slot.Load()
		if ev == nil {
			break
		}
		out = append(out, *ev)
		slot.Store(nil)
		rb.readIdx++
	}
	return out
}

// Dropped returns the cumulative count of events lost to saturation.
func (rb *RingBuffer) Dropped() uint64 {
	return rb.dropped.Load()
}

func nextPowerOfTwo(n int) int {
	if n < 1 {
		n = 1
	}
	p := 1
	for p < n {
		p <<= 1
	}
	return p
}
