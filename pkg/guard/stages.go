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

package guard

import (
	"context"
	"fmt"
	"regexp"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"

	"github.com/StarkFactory/arcreactor/pkg/agent"
	"github.com/StarkFactory/arcreactor/pkg/config"
	arcerrors "github.com/StarkFactory/arcreactor/pkg/errors"
	"github.com/StarkFactory/arcreactor/pkg/ratelimit"
)

// RateLimitStage is the built-in priority-1 stage: per-user sliding
// windows for requests-per-minute and requests-per-hour (§4.1 stage 1).
type RateLimitStage struct {
	limiter ratelimit.RateLimiter
}

// NewRateLimitStage builds the stage from the Guard configuration,
// backed by pkg/ratelimit's in-memory sliding-window counters.
func NewRateLimitStage(cfg config.GuardConfig) (*RateLimitStage, error) {
	limiter, err := ratelimit.NewGuardRateLimiter(cfg.RequestsPerMinute, cfg.RequestsPerHour)
	if err != nil {
		return nil, fmt.Errorf("guard: building rate limiter: %w", err)
	}
	return &RateLimitStage{limiter: limiter}, nil
}

func (s *RateLimitStage) Name() string { return "rate_limit" }
func (s *RateLimitStage) Priority() int { return 1 }

func (s *RateLimitStage) Check(ctx context.Context, cmd *agent.Command) Decision {
	identifier := cmd.UserID
	if identifier == "" {
		identifier = "anonymous"
	}
	result, err := s.limiter.CheckAndRecord(ctx, ratelimit.ScopeUser, identifier, 0, 1)
	if err != nil {
		if arcerrors.IsCancellation(err) {
			panic(err)
		}
		return Rejected(s.Name(), err.Error(), arcerrors.Unknown)
	}
	if !result.Allowed {
		return Rejected(s.Name(), result.Reason, arcerrors.RateLimited)
	}
	return Allowed()
}

// InputValidationStage is the built-in priority-2 stage: rejects
// userPrompt outside [minLength, maxLength] characters (§4.1 stage 2).
type InputValidationStage struct {
	MinLength int
	MaxLength int
}

func NewInputValidationStage(cfg config.GuardConfig) *InputValidationStage {
	return &InputValidationStage{MinLength: 1, MaxLength: cfg.MaxInputLength}
}

func (s *InputValidationStage) Name() string  { return "input_validation" }
func (s *InputValidationStage) Priority() int { return 2 }

func (s *InputValidationStage) Check(_ context.Context, cmd *agent.Command) Decision {
	n := utf8.RuneCountInString(cmd.UserPrompt)
	if n < s.MinLength {
		return Rejected(s.Name(), "prompt is shorter than the minimum allowed length", arcerrors.GuardRejected)
	}
	if s.MaxLength > 0 && n > s.MaxLength {
		return Rejected(s.Name(), "prompt exceeds the maximum allowed length", arcerrors.GuardRejected)
	}
	return Allowed()
}

// InjectionDetectionStage is the built-in priority-3 stage: case-
// insensitive pattern matching against a configured set of injection
// signatures (§4.1 stage 3).
type InjectionDetectionStage struct {
	patterns []*regexp.Regexp
}

// NewInjectionDetectionStage compiles patterns, defaulting to
// config.DefaultInjectionPatterns when patterns is empty.
func NewInjectionDetectionStage(patterns []string) (*InjectionDetectionStage, error) {
	if len(patterns) == 0 {
		patterns = config.DefaultInjectionPatterns
	}
	compiled := make([]*regexp.Regexp, 0, len(patterns))
	for _, p := range patterns {
		re, err := regexp.Compile("(?i)" + p)
		if err != nil {
			return nil, fmt.Errorf("guard: compiling injection pattern %q: %w", p, err)
		}
		compiled = append(compiled, re)
	}
	return &InjectionDetectionStage{patterns: compiled}, nil
}

func (s *InjectionDetectionStage) Name() string  { return "injection_detection" }
func (s *InjectionDetectionStage) Priority() int { return 3 }

func (s *InjectionDetectionStage) Check(_ context.Context, cmd *agent.Command) Decision {
	for _, re := range s.patterns {
		if re.MatchString(cmd.UserPrompt) {
			return Rejected(s.Name(), fmt.Sprintf("prompt matched injection pattern: %s", re.String()), arcerrors.GuardRejected)
		}
	}
	return Allowed()
}

// UnicodeNormalizationStage is the built-in priority-4 stage: applies
// NFKC and rejects prompts whose zero-width-character ratio exceeds a
// threshold (§4.1 stage 4).
type UnicodeNormalizationStage struct {
	MaxZeroWidthRatio float64
}

func NewUnicodeNormalizationStage(cfg config.GuardConfig) *UnicodeNormalizationStage {
	return &UnicodeNormalizationStage{MaxZeroWidthRatio: cfg.MaxZeroWidthRatio}
}

func (s *UnicodeNormalizationStage) Name() string  { return "unicode_normalization" }
func (s *UnicodeNormalizationStage) Priority() int { return 4 }

var zeroWidthRunes = map[rune]bool{
	'​': true, // zero width space
	'‌': true, // zero width non-joiner
	'‍': true, // zero width joiner
	0xFEFF: true, // zero width no-break space / BOM
	'⁠': true, // word joiner
}

func (s *UnicodeNormalizationStage) Check(_ context.Context, cmd *agent.Command) Decision {
	normalized := norm.NFKC.String(cmd.UserPrompt)

	total := utf8.RuneCountInString(normalized)
	if total == 0 {
		return Allowed()
	}
	zeroWidth := 0
	for _, r := range normalized {
		if zeroWidthRunes[r] {
			zeroWidth++
		}
	}
	ratio := float64(zeroWidth) / float64(total)
	if s.MaxZeroWidthRatio > 0 && ratio > s.MaxZeroWidthRatio {
		return Rejected(s.Name(), "prompt exceeds the maximum zero-width character ratio", arcerrors.GuardRejected)
	}
	return Allowed()
}

// ClassificationFunc is a pluggable content-category check for the
// optional priority-5 Classification stage (§4.1 stage 5).
type ClassificationFunc func(ctx context.Context, cmd *agent.Command) Decision

// ClassificationStage wraps a rule-based or model-based content
// classifier. Optional — callers only register it when configured.
type ClassificationStage struct {
	fn ClassificationFunc
}

// NewClassificationStage builds the stage from fn.
func NewClassificationStage(fn ClassificationFunc) *ClassificationStage {
	return &ClassificationStage{fn: fn}
}

func (s *ClassificationStage) Name() string  { return "classification" }
func (s *ClassificationStage) Priority() int { return 5 }

func (s *ClassificationStage) Check(ctx context.Context, cmd *agent.Command) Decision {
	return s.fn(ctx, cmd)
}

// BuildDefault assembles the standard built-in stage set from a Guard
// configuration, honoring the individual Enabled sub-toggles. When the
// guard as a whole is disabled it returns an empty pipeline.
func BuildDefault(cfg config.GuardConfig) (*Pipeline, error) {
	p := New()
	if !cfg.IsEnabled() {
		return p, nil
	}

	rl, err := NewRateLimitStage(cfg)
	if err != nil {
		return nil, err
	}
	p.Register(rl)
	p.Register(NewInputValidationStage(cfg))

	if cfg.IsInjectionDetectionEnabled() {
		inj, err := NewInjectionDetectionStage(cfg.InjectionPatterns)
		if err != nil {
			return nil, err
		}
		p.Register(inj)
	}
	if cfg.IsUnicodeNormalizationEnabled() {
		p.Register(NewUnicodeNormalizationStage(cfg))
	}
	return p, nil
}
