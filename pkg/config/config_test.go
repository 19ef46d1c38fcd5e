package config

import "testing"

func TestConfig_SetDefaults_MatchesSpecLiterals(t *testing.T) {
	var c Config
	c.SetDefaults()

	cases := []struct {
		name string
		got  any
		want any
	}{
		{"MaxToolCalls", c.Engine.MaxToolCalls, 10},
		{"MaxToolsPerRequest", c.Engine.MaxToolsPerRequest, 20},
		{"Temperature", c.LLM.Temperature, 0.3},
		{"MaxOutputTokens", c.LLM.MaxOutputTokens, 4096},
		{"MaxContextWindowTokens", c.LLM.MaxContextWindowTokens, 128000},
		{"MaxConversationTurns", c.LLM.MaxConversationTurns, 10},
		{"RetryMaxAttempts", c.Retry.MaxAttempts, 3},
		{"RetryMultiplier", c.Retry.Multiplier, 2.0},
		{"RequestsPerMinute", c.Guard.RequestsPerMinute, 10},
		{"RequestsPerHour", c.Guard.RequestsPerHour, 100},
		{"MaxInputLength", c.Guard.MaxInputLength, 10000},
		{"MaxZeroWidthRatio", c.Guard.MaxZeroWidthRatio, 0.1},
		{"MaxConcurrentRequests", c.Concurrency.MaxConcurrentRequests, 20},
		{"Strategy", c.ToolSelection.Strategy, StrategyAll},
		{"SimilarityThreshold", c.ToolSelection.SimilarityThreshold, 0.3},
		{"MaxResults", c.ToolSelection.MaxResults, 10},
		{"TriggerMessageCount", c.Memory.TriggerMessageCount, 20},
		{"RecentMessageCount", c.Memory.RecentMessageCount, 10},
		{"MaxNarrativeTokens", c.Memory.MaxNarrativeTokens, 500},
		{"FailureThreshold", c.CircuitBreaker.FailureThreshold, 5},
		{"HalfOpenMaxCalls", c.CircuitBreaker.HalfOpenMaxCalls, 1},
	}

	for _, tc := range cases {
		if tc.got != tc.want {
			t.Errorf("%s = %v, want %v", tc.name, tc.got, tc.want)
		}
	}

	if !c.Guard.IsEnabled() {
		t.Error("Guard.IsEnabled() = false, want true (default)")
	}
	if !c.Guard.IsInjectionDetectionEnabled() {
		t.Error("Guard.IsInjectionDetectionEnabled() = false, want true (default)")
	}
	if c.Memory.Enabled {
		t.Error("Memory.Enabled = true, want false (default)")
	}
	if c.Approval.Enabled {
		t.Error("Approval.Enabled = true, want false (default)")
	}
}

func TestParse_DocumentOverridesDefaultsOnly(t *testing.T) {
	doc := []byte(`
engine:
  max_tool_calls: 3
guard:
  enabled: false
  requests_per_minute: 5
`)
	c, err := Parse(doc)
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}

	if c.Engine.MaxToolCalls != 3 {
		t.Errorf("MaxToolCalls = %d, want 3", c.Engine.MaxToolCalls)
	}
	if c.Guard.IsEnabled() {
		t.Error("Guard.IsEnabled() = true, want false (explicit override)")
	}
	if c.Guard.RequestsPerMinute != 5 {
		t.Errorf("RequestsPerMinute = %d, want 5", c.Guard.RequestsPerMinute)
	}
	// Untouched fields keep their defaults.
	if c.Engine.MaxToolsPerRequest != 20 {
		t.Errorf("MaxToolsPerRequest = %d, want default 20", c.Engine.MaxToolsPerRequest)
	}
	if c.LLM.Temperature != 0.3 {
		t.Errorf("Temperature = %v, want default 0.3", c.LLM.Temperature)
	}
}
