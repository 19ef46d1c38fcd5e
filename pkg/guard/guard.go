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

// Package guard implements the Guard Pipeline (spec.md §4.1): an
// ordered, fail-closed sequence of pre-request checks run before any
// external call.
package guard

import (
	"context"
	"sort"
	"sync"

	"github.com/StarkFactory/arcreactor/pkg/agent"
	arcerrors "github.com/StarkFactory/arcreactor/pkg/errors"
)

// Decision is the outcome of running the pipeline or a single stage.
type Decision struct {
	Allowed bool
	Reason  string
	Stage   string
	Code    arcerrors.Code
}

// Allowed constructs an Allowed decision.
func Allowed() Decision { return Decision{Allowed: true} }

// Rejected constructs a Rejected decision carrying the rejecting
// stage's name, a human-readable reason, and the error code to surface.
func Rejected(stage, reason string, code arcerrors.Code) Decision {
	return Decision{Allowed: false, Stage: stage, Reason: reason, Code: code}
}

// Stage is one ordered pre-request check. Priorities 1-9 are reserved
// for built-ins (spec.md §4.1 "Extensibility"); custom stages should
// use 10+.
type Stage interface {
	Name() string
	Priority() int
	Check(ctx context.Context, cmd *agent.Command) Decision
}

// Pipeline runs an ordered set of Stages. Fail-closed: a stage that
// panics is converted into a Rejected decision rather than propagating,
// except that a panic carrying a cancellation error is re-raised.
type Pipeline struct {
	mu     sync.RWMutex
	stages []Stage
}

// New builds a Pipeline seeded with stages, sorted ascending by
// Priority.
func New(stages ...Stage) *Pipeline {
	p := &Pipeline{}
	for _, s := range stages {
		p.Register(s)
	}
	return p
}

// Register adds a stage, keeping the stage list sorted by Priority.
func (p *Pipeline) Register(s Stage) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stages = append(p.stages, s)
	sort.SliceStable(p.stages, func(i, j int) bool {
		return p.stages[i].Priority() < p.stages[j].Priority()
	})
}

// Run executes every stage in priority order, stopping at the first
// rejection. A stage panic is recovered and converted to a Rejected
// decision bearing arcerrors.Unknown, preserving fail-closed semantics;
// a panic carrying a cancellation error is re-raised rather than
// converted. If ctx is already done before a stage runs, Run returns a
// Rejected decision bearing arcerrors.Cancelled.
func (p *Pipeline) Run(ctx context.Context, cmd *agent.Command) (decision Decision) {
	p.mu.RLock()
	stages := make([]Stage, len(p.stages))
	copy(stages, p.stages)
	p.mu.RUnlock()

	for _, stage := range stages {
		if err := ctx.Err(); err != nil {
			return Rejected(stage.Name(), err.Error(), arcerrors.Cancelled)
		}

		d := p.runStage(ctx, stage, cmd)
		if !d.Allowed {
			return d
		}
	}
	return Allowed()
}

func (p *Pipeline) runStage(ctx context.Context, stage Stage, cmd *agent.Command) (d Decision) {
	defer func() {
		if r := recover(); r != nil {
			if err, ok := r.(error); ok && arcerrors.IsCancellation(err) {
				panic(r)
			}
			d = Rejected(stage.Name(), "guard stage panicked", arcerrors.Unknown)
		}
	}()
	return stage.Check(ctx, cmd)
}
