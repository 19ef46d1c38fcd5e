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

import (
	"context"
	"log/slog"
	"time"

	"github.com/StarkFactory/arcreactor/pkg/observability"
)

// Emitter owns the ring buffer and the single drainer goroutine that
// feeds events into the teacher's Prometheus/OTel sink
// (pkg/observability.Metrics). Metric emission is fail-silent (spec.md
// §7): sink errors are logged, never returned to a caller.
type Emitter struct {
	buf      *RingBuffer
	sink     observability.Metrics
	interval time.Duration
	stopCh   chan struct{}
	doneCh   chan struct{}
}

// NewEmitter builds an Emitter with the given ring-buffer capacity,
// draining into sink every interval. Pass nil for sink to use
// observability.GetGlobalMetrics().
func NewEmitter(capacity int, sink observability.Metrics, interval time.Duration) *Emitter {
	if sink == nil {
		sink = observability.GetGlobalMetrics()
	}
	if interval <= 0 {
		interval = 200 * time.Millisecond
	}
	return &Emitter{
		buf:      NewRingBuffer(capacity),
		sink:     sink,
		interval: interval,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

// Publish is the lock-free producer entry point (spec.md §5: "never a
// checkpoint"). It never blocks and never returns an error.
func (em *Emitter) Publish(e Event) bool {
	return em.buf.Publish(e)
}

// Dropped returns the cumulative count of events lost to ring-buffer
// saturation (spec.md §8 invariant 10).
func (em *Emitter) Dropped() uint64 {
	return em.buf.Dropped()
}

// Run starts the single drainer goroutine. It blocks until ctx is
// cancelled or Stop is called. Running more than one Run concurrently
// for the same Emitter violates the single-consumer contract and is a
// caller error.
func (em *Emitter) Run(ctx context.Context) {
	defer close(em.doneCh)
	ticker := time.NewTicker(em.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			em.drainOnce(ctx)
			return
		case <-em.stopCh:
			em.drainOnce(ctx)
			return
		case <-ticker.C:
			em.drainOnce(ctx)
		}
	}
}

// Stop signals Run to drain once more and exit, then waits for it to
// finish.
func (em *Emitter) Stop() {
	close(em.stopCh)
	<-em.doneCh
}

func (em *Emitter) drainOnce(ctx context.Context) {
	for _, e := range em.buf.Drain(256) {
		em.forward(ctx, e)
	}
}

func (em *Emitter) forward(ctx context.Context, e Event) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("metrics sink panicked", "recover", r, "kind", e.Kind)
		}
	}()

	switch e.Kind {
	case KindAgentExecution:
		p := e.AgentExecution
		var err error
		if !p.Success {
			err = errFromString(string(p.ErrorCode))
		}
		em.sink.RecordAgentCall(ctx, time.Duration(p.DurationMs)*time.Millisecond, 0, err)
	case KindToolCall:
		p := e.ToolCall
		var err error
		if !p.Success {
			err = errFromString(p.ErrorKind)
		}
		em.sink.RecordToolExecution(ctx, p.ToolName, time.Duration(p.DurationMs)*time.Millisecond, err)
	case KindTokenUsage:
		p := e.TokenUsage
		em.sink.RecordLLMCall(ctx, p.Model, 0, p.Prompt, p.Completion, nil)
	case KindSession:
		p := e.Session
		em.sink.RecordSession(ctx, p.SessionID, 0, true)
	case KindGuard, KindHitl, KindMcpHealth:
		// No dedicated teacher recorder method for these arms; logged for
		// observability until the admin control plane (out of scope, §1)
		// grows dedicated counters.
		slog.Debug("metric event", "kind", e.Kind, "tenant", e.TenantID, "run", e.RunID)
	}
}

type sinkError string

func (e sinkError) Error() string { return string(e) }

func errFromString(s string) error {
	if s == "" {
		return nil
	}
	return sinkError(s)
}
