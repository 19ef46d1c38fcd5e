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

// Package config defines the engine's configuration surface: every
// option is optional and carries a literal default applied by
// SetDefaults, so a zero-value Config is always usable.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config aggregates every configuration surface named in the engine's
// external interfaces.
type Config struct {
	Engine    EngineConfig       `yaml:"engine"`
	LLM       LLMConfig          `yaml:"llm"`
	Retry     RetryConfig        `yaml:"retry"`
	Guard     GuardConfig        `yaml:"guard"`
	Concurrency ConcurrencyConfig `yaml:"concurrency"`
	ToolSelection ToolSelectionConfig `yaml:"tool_selection"`
	Memory    MemorySummaryConfig `yaml:"memory_summary"`
	CircuitBreaker CircuitBreakerConfig `yaml:"circuit_breaker"`
	Approval  ApprovalConfig     `yaml:"approval"`
	Quota     QuotaConfig        `yaml:"quota"`
}

// SetDefaults applies every sub-config's defaults in place.
func (c *Config) SetDefaults() {
	c.Engine.SetDefaults()
	c.LLM.SetDefaults()
	c.Retry.SetDefaults()
	c.Guard.SetDefaults()
	c.Concurrency.SetDefaults()
	c.ToolSelection.SetDefaults()
	c.Memory.SetDefaults()
	c.CircuitBreaker.SetDefaults()
	c.Approval.SetDefaults()
	c.Quota.SetDefaults()
}

// Load reads a YAML document from path, applying defaults to every
// field the document leaves unset.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	return Parse(data)
}

// Parse applies defaults to cfg, then unmarshals data over it so that
// only fields present in the document override the defaults.
func Parse(data []byte) (*Config, error) {
	cfg := &Config{}
	cfg.SetDefaults()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return cfg, nil
}

// EngineConfig bounds the tool-call loop.
type EngineConfig struct {
	MaxToolCalls       int `yaml:"max_tool_calls"`
	MaxToolsPerRequest int `yaml:"max_tools_per_request"`
}

func (c *EngineConfig) SetDefaults() {
	if c.MaxToolCalls <= 0 {
		c.MaxToolCalls = 10
	}
	if c.MaxToolsPerRequest <= 0 {
		c.MaxToolsPerRequest = 20
	}
}

// LLMConfig configures model invocation defaults.
type LLMConfig struct {
	Temperature            float64 `yaml:"temperature"`
	MaxOutputTokens        int     `yaml:"max_output_tokens"`
	MaxContextWindowTokens int     `yaml:"max_context_window_tokens"`
	MaxConversationTurns   int     `yaml:"max_conversation_turns"`
}

func (c *LLMConfig) SetDefaults() {
	if c.Temperature == 0 {
		c.Temperature = 0.3
	}
	if c.MaxOutputTokens <= 0 {
		c.MaxOutputTokens = 4096
	}
	if c.MaxContextWindowTokens <= 0 {
		c.MaxContextWindowTokens = 128000
	}
	if c.MaxConversationTurns <= 0 {
		c.MaxConversationTurns = 10
	}
}

// RetryConfig configures the ReAct loop's LLM-call retry policy.
type RetryConfig struct {
	MaxAttempts  int           `yaml:"max_attempts"`
	InitialDelay time.Duration `yaml:"initial_delay_ms"`
	Multiplier   float64       `yaml:"multiplier"`
	MaxDelay     time.Duration `yaml:"max_delay_ms"`
}

func (c *RetryConfig) SetDefaults() {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 3
	}
	if c.InitialDelay <= 0 {
		c.InitialDelay = 1000 * time.Millisecond
	}
	if c.Multiplier == 0 {
		c.Multiplier = 2.0
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = 10000 * time.Millisecond
	}
}

// GuardConfig configures the Guard Pipeline's built-in stages.
// Enabled, InjectionDetection, and UnicodeNormalization are *bool
// (unlike pkg/ratelimit's Config.Enabled, a plain bool) so that an
// explicit "false" in a YAML document survives SetDefaults, which a
// bare bool could not distinguish from "unset".
type GuardConfig struct {
	Enabled              *bool    `yaml:"enabled,omitempty"`
	RequestsPerMinute    int      `yaml:"requests_per_minute"`
	RequestsPerHour      int      `yaml:"requests_per_hour"`
	MaxInputLength       int      `yaml:"max_input_length"`
	MinInputLength       int      `yaml:"min_input_length"`
	InjectionDetection   *bool    `yaml:"injection_detection,omitempty"`
	InjectionPatterns    []string `yaml:"injection_patterns"`
	UnicodeNormalization *bool    `yaml:"unicode_normalization,omitempty"`
	MaxZeroWidthRatio    float64  `yaml:"max_zero_width_ratio"`
}

// IsEnabled reports the effective enabled state, defaulting to true.
func (c *GuardConfig) IsEnabled() bool { return c.Enabled == nil || *c.Enabled }

// IsInjectionDetectionEnabled reports the effective state, defaulting to true.
func (c *GuardConfig) IsInjectionDetectionEnabled() bool {
	return c.InjectionDetection == nil || *c.InjectionDetection
}

// IsUnicodeNormalizationEnabled reports the effective state, defaulting to true.
func (c *GuardConfig) IsUnicodeNormalizationEnabled() bool {
	return c.UnicodeNormalization == nil || *c.UnicodeNormalization
}

func (c *GuardConfig) SetDefaults() {
	if c.RequestsPerMinute <= 0 {
		c.RequestsPerMinute = 10
	}
	if c.RequestsPerHour <= 0 {
		c.RequestsPerHour = 100
	}
	if c.MaxInputLength <= 0 {
		c.MaxInputLength = 10000
	}
	if c.MaxZeroWidthRatio == 0 {
		c.MaxZeroWidthRatio = 0.1
	}
	if len(c.InjectionPatterns) == 0 {
		c.InjectionPatterns = DefaultInjectionPatterns
	}
}

// DefaultInjectionPatterns are the built-in prompt-injection signatures
// (§4.1.3): English phrasings for instruction override, role-switching,
// and system-prompt extraction. Matched case-insensitively.
var DefaultInjectionPatterns = []string{
	`ignore (all|any|the) (previous|prior|above) instructions`,
	`disregard (all|any|the) (previous|prior|above) (instructions|rules)`,
	`you are now (in )?(dan|developer mode|jailbreak)`,
	`act as (if you are|a) (an? )?(unfiltered|unrestricted|uncensored)`,
	`reveal (your|the) system prompt`,
	`print (your|the) (system|initial) (prompt|instructions)`,
	`what (is|are) your (system|initial) (prompt|instructions)`,
	`pretend (you are|to be) .* without (restrictions|limitations)`,
}

// ConcurrencyConfig bounds request and tool concurrency.
type ConcurrencyConfig struct {
	MaxConcurrentRequests int           `yaml:"max_concurrent_requests"`
	RequestTimeout        time.Duration `yaml:"request_timeout_ms"`
	ToolCallTimeout        time.Duration `yaml:"tool_call_timeout_ms"`
	MaxConcurrentTools     int           `yaml:"max_concurrent_tools"`
}

func (c *ConcurrencyConfig) SetDefaults() {
	if c.MaxConcurrentRequests <= 0 {
		c.MaxConcurrentRequests = 20
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = 30000 * time.Millisecond
	}
	if c.ToolCallTimeout <= 0 {
		c.ToolCallTimeout = 15000 * time.Millisecond
	}
	if c.MaxConcurrentTools <= 0 {
		c.MaxConcurrentTools = 8
	}
}

// ToolSelectionStrategy names a Tool Registry selector strategy.
type ToolSelectionStrategy string

const (
	StrategyAll      ToolSelectionStrategy = "all"
	StrategyKeyword  ToolSelectionStrategy = "keyword"
	StrategySemantic ToolSelectionStrategy = "semantic"
)

// ToolSelectionConfig configures the Tool Registry's Selector.
type ToolSelectionConfig struct {
	Strategy            ToolSelectionStrategy `yaml:"strategy"`
	SimilarityThreshold float64               `yaml:"similarity_threshold"`
	MaxResults          int                   `yaml:"max_results"`
}

func (c *ToolSelectionConfig) SetDefaults() {
	if c.Strategy == "" {
		c.Strategy = StrategyAll
	}
	if c.SimilarityThreshold == 0 {
		c.SimilarityThreshold = 0.3
	}
	if c.MaxResults <= 0 {
		c.MaxResults = 10
	}
}

// MemorySummaryConfig configures hierarchical conversation summarization.
// Disabled by default (§6): summarization only activates when a
// document explicitly turns it on.
type MemorySummaryConfig struct {
	Enabled             bool `yaml:"enabled"`
	TriggerMessageCount int  `yaml:"trigger_message_count"`
	RecentMessageCount  int  `yaml:"recent_message_count"`
	MaxNarrativeTokens  int  `yaml:"max_narrative_tokens"`
	MaxMessagesPerSession int `yaml:"max_messages_per_session"`
}

func (c *MemorySummaryConfig) SetDefaults() {
	if c.TriggerMessageCount <= 0 {
		c.TriggerMessageCount = 20
	}
	if c.RecentMessageCount <= 0 {
		c.RecentMessageCount = 10
	}
	if c.MaxNarrativeTokens <= 0 {
		c.MaxNarrativeTokens = 500
	}
	if c.MaxMessagesPerSession <= 0 {
		c.MaxMessagesPerSession = 500
	}
}

// CircuitBreakerConfig configures the breaker shared by the Quota
// Enforcer and remote-tool call sites.
type CircuitBreakerConfig struct {
	FailureThreshold int           `yaml:"failure_threshold"`
	ResetTimeout     time.Duration `yaml:"reset_timeout_ms"`
	HalfOpenMaxCalls int           `yaml:"half_open_max_calls"`
}

func (c *CircuitBreakerConfig) SetDefaults() {
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = 5
	}
	if c.ResetTimeout <= 0 {
		c.ResetTimeout = 30000 * time.Millisecond
	}
	if c.HalfOpenMaxCalls <= 0 {
		c.HalfOpenMaxCalls = 1
	}
}

// ApprovalConfig configures the HITL approval policy hook.
type ApprovalConfig struct {
	Enabled   bool          `yaml:"enabled"`
	Timeout   time.Duration `yaml:"timeout_ms"`
	ToolNames []string      `yaml:"tool_names"`
}

func (c *ApprovalConfig) SetDefaults() {
	if c.Timeout <= 0 {
		c.Timeout = 300000 * time.Millisecond
	}
}

// QuotaConfig configures the per-tenant monthly limit check.
type QuotaConfig struct {
	Enabled          bool `yaml:"enabled"`
	MonthlyTokenLimit int64 `yaml:"monthly_token_limit"`
	MonthlyRequestLimit int64 `yaml:"monthly_request_limit"`
}

func (c *QuotaConfig) SetDefaults() {
	if c.MonthlyTokenLimit <= 0 {
		c.MonthlyTokenLimit = 5_000_000
	}
	if c.MonthlyRequestLimit <= 0 {
		c.MonthlyRequestLimit = 100_000
	}
}
