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

package react

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"
	"gopkg.in/yaml.v3"

	"github.com/StarkFactory/arcreactor/pkg/agent"
)

// schemaCache memoizes compiled schemas by their literal text, since
// the same ResponseSchema string is reused across every iteration and
// every repair call of one session's requests.
var schemaCache sync.Map

// ValidateStructured parses text according to format and, when schema
// is non-empty, validates the parsed document against it (spec.md
// §4.6 step 5). A TEXT format or empty schema is always valid.
func ValidateStructured(format agent.ResponseFormat, schema, text string) error {
	if format == agent.FormatText {
		return nil
	}

	var decoded any
	switch format {
	case agent.FormatJSON:
		if err := json.Unmarshal([]byte(text), &decoded); err != nil {
			return fmt.Errorf("response is not valid JSON: %w", err)
		}
	case agent.FormatYAML:
		if err := yaml.Unmarshal([]byte(text), &decoded); err != nil {
			return fmt.Errorf("response is not valid YAML: %w", err)
		}
	default:
		return fmt.Errorf("unknown response format %q", format)
	}

	if strings.TrimSpace(schema) == "" {
		return nil
	}

	compiled, err := compileSchema(schema)
	if err != nil {
		return fmt.Errorf("compile response schema: %w", err)
	}

	// jsonschema validates against the plain Go value tree produced by
	// encoding/json: re-marshal the YAML-decoded document through JSON
	// so map keys and numeric types match what the compiler expects.
	normalized, err := normalizeForSchema(decoded)
	if err != nil {
		return fmt.Errorf("normalize response for validation: %w", err)
	}

	if err := compiled.Validate(normalized); err != nil {
		return fmt.Errorf("response does not match the required schema: %w", err)
	}
	return nil
}

func normalizeForSchema(v any) (any, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var out any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func compileSchema(schema string) (*jsonschema.Schema, error) {
	if cached, ok := schemaCache.Load(schema); ok {
		return cached.(*jsonschema.Schema), nil
	}

	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("response-schema.json", strings.NewReader(schema)); err != nil {
		return nil, err
	}
	compiled, err := compiler.Compile("response-schema.json")
	if err != nil {
		return nil, err
	}
	schemaCache.Store(schema, compiled)
	return compiled, nil
}
