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
	"hash/fnv"
	"math"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/StarkFactory/arcreactor/pkg/agent"
)

// Selector narrows the Registry's full tool set to the subset exposed
// for one request (spec.md §4.4).
type Selector interface {
	Select(ctx context.Context, prompt string, all []agent.ToolSpec) []agent.ToolSpec
}

// AllSelector returns every registered tool unfiltered.
type AllSelector struct{}

func (AllSelector) Select(_ context.Context, _ string, all []agent.ToolSpec) []agent.ToolSpec {
	return all
}

// KeywordSelector matches prompt terms against each tool's declared
// category keywords. A tool is included if any of its category's
// keywords appears anywhere in the prompt as a substring
// (case-insensitive; word boundaries are not checked).
// Tools with an empty category always match, since they declared no
// keyword to narrow on.
type KeywordSelector struct {
	// Keywords maps a category tag to the terms that select it.
	Keywords map[string][]string
}

// NewKeywordSelector builds a KeywordSelector from a category->terms map.
func NewKeywordSelector(keywords map[string][]string) *KeywordSelector {
	return &KeywordSelector{Keywords: keywords}
}

func (s *KeywordSelector) Select(_ context.Context, prompt string, all []agent.ToolSpec) []agent.ToolSpec {
	lower := strings.ToLower(prompt)
	out := make([]agent.ToolSpec, 0, len(all))
	for _, spec := range all {
		if spec.Category == "" {
			out = append(out, spec)
			continue
		}
		terms := s.Keywords[spec.Category]
		if len(terms) == 0 {
			out = append(out, spec)
			continue
		}
		for _, term := range terms {
			if strings.Contains(lower, strings.ToLower(term)) {
				out = append(out, spec)
				break
			}
		}
	}
	return out
}

// Embedder produces vector embeddings from text, consumed by the
// SemanticSelector to rank tools by cosine similarity to the prompt.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// SemanticSelector ranks tools by cosine similarity between an
// embedding of the prompt and a cached embedding of each tool's
// name+description (§4.4). Embeddings are cached and invalidated by a
// fingerprint of the full tool set; any failure in this path degrades
// to returning the full set rather than rejecting the request.
type SemanticSelector struct {
	embedder   Embedder
	threshold  float64
	maxResults int

	mu          sync.Mutex
	fingerprint string
	cache       map[string][]float32
}

// NewSemanticSelector builds a SemanticSelector. threshold and
// maxResults come from config.ToolSelectionConfig.
func NewSemanticSelector(embedder Embedder, threshold float64, maxResults int) *SemanticSelector {
	return &SemanticSelector{embedder: embedder, threshold: threshold, maxResults: maxResults, cache: map[string][]float32{}}
}

func (s *SemanticSelector) Select(ctx context.Context, prompt string, all []agent.ToolSpec) []agent.ToolSpec {
	if s.embedder == nil || len(all) == 0 {
		return all
	}

	s.mu.Lock()
	fp := fingerprint(all)
	if fp != s.fingerprint {
		s.cache = map[string][]float32{}
		s.fingerprint = fp
	}
	missing := make([]agent.ToolSpec, 0)
	for _, spec := range all {
		if _, ok := s.cache[spec.Name]; !ok {
			missing = append(missing, spec)
		}
	}
	s.mu.Unlock()

	for _, spec := range missing {
		vec, err := s.embedder.Embed(ctx, spec.Name+": "+spec.Description)
		if err != nil {
			// Degrade to All on any embedding failure (§4.4 "Fallbacks").
			return all
		}
		s.mu.Lock()
		s.cache[spec.Name] = vec
		s.mu.Unlock()
	}

	promptVec, err := s.embedder.Embed(ctx, prompt)
	if err != nil {
		return all
	}

	type scored struct {
		spec  agent.ToolSpec
		score float64
	}
	var ranked []scored
	s.mu.Lock()
	for _, spec := range all {
		vec := s.cache[spec.Name]
		ranked = append(ranked, scored{spec: spec, score: cosineSimilarity(promptVec, vec)})
	}
	s.mu.Unlock()

	sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].score > ranked[j].score })

	out := make([]agent.ToolSpec, 0, len(ranked))
	for _, r := range ranked {
		if r.score < s.threshold {
			continue
		}
		out = append(out, r.spec)
		if s.maxResults > 0 && len(out) >= s.maxResults {
			break
		}
	}
	if len(out) == 0 {
		return all
	}
	return out
}

// fingerprint hashes the sorted name+description pairs of a tool set,
// matching original_source/'s cache-invalidation key (SPEC_FULL.md §12).
func fingerprint(specs []agent.ToolSpec) string {
	pairs := make([]string, 0, len(specs))
	for _, s := range specs {
		pairs = append(pairs, s.Name+"\x00"+s.Description)
	}
	sort.Strings(pairs)
	h := fnv.New64a()
	for _, p := range pairs {
		_, _ = h.Write([]byte(p))
		_, _ = h.Write([]byte{0})
	}
	return strconv.FormatUint(h.Sum64(), 16)
}

func cosineSimilarity(a, b []float32) float64 {
	if len(a) == 0 || len(b) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
