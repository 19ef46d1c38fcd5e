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

// Package tools implements the Tool Registry and Selector strategies
// (spec.md §4.4): aggregation of local and remote tools, dedup-keep-
// first registration, and request-scoped narrowing by selection
// strategy.
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/StarkFactory/arcreactor/pkg/agent"
	arcerrors "github.com/StarkFactory/arcreactor/pkg/errors"
)

// Invoker is the runtime behavior behind one registered tool.
type Invoker interface {
	Invoke(ctx context.Context, args json.RawMessage) (string, error)
}

// entry pairs a ToolSpec with its runtime behavior and the source that
// registered it, for diagnostics.
type entry struct {
	spec   agent.ToolSpec
	invoke Invoker
	source string
}

// Registry aggregates local and remote tools under a single namespace.
// On a duplicate tool name, the first registration wins and the
// duplicate is logged as a warning (spec.md §4.4).
type Registry struct {
	mu      sync.RWMutex
	entries map[string]entry
	order   []string
}

// New builds an empty Registry.
func New() *Registry {
	return &Registry{entries: make(map[string]entry)}
}

// Register adds a tool from source ("local" or a remote server name).
// Returns false if the name was already registered (the existing
// registration is kept).
func (r *Registry) Register(source string, spec agent.ToolSpec, invoke Invoker) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.entries[spec.Name]; exists {
		slog.Warn("duplicate tool registration ignored", "tool", spec.Name, "source", source)
		return false
	}
	r.entries[spec.Name] = entry{spec: spec, invoke: invoke, source: source}
	r.order = append(r.order, spec.Name)
	return true
}

// Unregister removes every tool previously registered from source,
// used when a remote tool server disconnects.
func (r *Registry) Unregister(source string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	kept := r.order[:0]
	for _, name := range r.order {
		if r.entries[name].source == source {
			delete(r.entries, name)
			continue
		}
		kept = append(kept, name)
	}
	r.order = kept
}

// Get resolves a tool by name.
func (r *Registry) Get(name string) (agent.ToolSpec, Invoker, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[name]
	if !ok {
		return agent.ToolSpec{}, nil, false
	}
	return e.spec, e.invoke, true
}

// All returns every registered ToolSpec, in registration order.
func (r *Registry) All() []agent.ToolSpec {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]agent.ToolSpec, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.entries[name].spec)
	}
	return out
}

// Len returns the total number of registered tools.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.order)
}

// Invoke resolves name and runs it, returning ErrToolNotFound if it
// isn't registered (spec.md §4.5 step 1).
func (r *Registry) Invoke(ctx context.Context, name string, args json.RawMessage) (string, error) {
	_, invoke, ok := r.Get(name)
	if !ok {
		return "", fmt.Errorf("%w: %q", arcerrors.ErrToolNotFound, name)
	}
	return invoke.Invoke(ctx, args)
}

// LimitTo truncates specs to at most max entries (spec.md §4.4: "the
// set exposed per request is min(totalTools, maxToolsPerRequest)").
// max<=0 means no limit.
func LimitTo(specs []agent.ToolSpec, max int) []agent.ToolSpec {
	if max <= 0 || len(specs) <= max {
		return specs
	}
	return specs[:max]
}
