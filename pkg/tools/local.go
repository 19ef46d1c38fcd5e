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

package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/invopop/jsonschema"

	"github.com/StarkFactory/arcreactor/pkg/agent"
)

// Function is a local, in-process tool handler. The raw arguments are
// decoded into Args with encoding/json before Fn runs; they are not
// validated against the generated schema. The return value is the
// tool's stringified output.
type Function[Args any] struct {
	Name             string
	Description      string
	Category         string
	Timeout          time.Duration
	RequiresApproval bool
	Fn               func(ctx context.Context, args Args) (string, error)
}

type functionInvoker[Args any] struct {
	fn func(ctx context.Context, args Args) (string, error)
}

func (f functionInvoker[Args]) Invoke(ctx context.Context, raw json.RawMessage) (string, error) {
	var args Args
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &args); err != nil {
			return "", fmt.Errorf("decode arguments: %w", err)
		}
	}
	return f.fn(ctx, args)
}

// RegisterFunction generates a JSON-Schema for Args (via
// invopop/jsonschema, following the teacher's
// pkg/tool/functiontool/schema.go convention) and registers the
// resulting ToolSpec as a local tool.
func RegisterFunction[Args any](r *Registry, f Function[Args]) error {
	schema, err := generateSchema[Args]()
	if err != nil {
		return fmt.Errorf("tools: generating schema for %q: %w", f.Name, err)
	}
	raw, err := json.Marshal(schema)
	if err != nil {
		return fmt.Errorf("tools: marshaling schema for %q: %w", f.Name, err)
	}

	spec := agent.ToolSpec{
		Name:             f.Name,
		Description:      f.Description,
		Schema:           raw,
		Timeout:          f.Timeout,
		Category:         f.Category,
		RequiresApproval: f.RequiresApproval,
	}
	r.Register("local", spec, functionInvoker[Args]{fn: f.Fn})
	return nil
}

// generateSchema reflects a JSON-Schema object for T, following the
// teacher's pkg/tool/functiontool/schema.go: inline everything (no
// $ref), require fields tagged jsonschema:"required", strip $schema/$id.
func generateSchema[T any]() (map[string]any, error) {
	reflector := &jsonschema.Reflector{
		RequiredFromJSONSchemaTags: true,
		ExpandedStruct:             true,
		DoNotReference:             true,
	}
	schema := reflector.Reflect(new(T))

	data, err := json.Marshal(schema)
	if err != nil {
		return nil, err
	}
	var result map[string]any
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, err
	}
	delete(result, "$schema")
	delete(result, "$id")
	return result, nil
}
