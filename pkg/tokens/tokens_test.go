package tokens

import (
	"strings"
	"testing"

	"github.com/StarkFactory/arcreactor/pkg/agent"
)

func TestNew_KnownAndUnknownModels(t *testing.T) {
	tests := []string{"gpt-4o", "gpt-4", "gpt-3.5-turbo", "claude-3-5-sonnet"}
	for _, model := range tests {
		e := New(model)
		if e.Model() != model {
			t.Errorf("Model() = %v, want %v", e.Model(), model)
		}
		if e.Count("hello world") <= 0 {
			t.Errorf("Count() for model %v returned non-positive", model)
		}
	}
}

func TestCount_Monotonic(t *testing.T) {
	e := New("gpt-4o")
	short := e.Count("hi")
	long := e.Count(strings.Repeat("hello there ", 50))
	if long <= short {
		t.Errorf("Count() not monotonic in input length: short=%d long=%d", short, long)
	}
}

func TestCountMessages_IncludesOverhead(t *testing.T) {
	e := New("gpt-4o")
	messages := []agent.Message{
		{Role: agent.RoleUser, Content: "hi"},
	}
	got := e.CountMessages(messages)
	bare := e.Count(string(agent.RoleUser)) + e.Count("hi")
	if got <= bare {
		t.Errorf("CountMessages() = %d, want > bare content count %d (missing overhead)", got, bare)
	}
}

func TestEstimateDensity_CJKDenserThanLatin(t *testing.T) {
	latin := strings.Repeat("hello world ", 10)
	cjk := strings.Repeat("你好世界", 10)

	latinTokens := EstimateDensity(latin)
	cjkTokens := EstimateDensity(cjk)

	latinRatio := float64(latinTokens) / float64(len([]rune(latin)))
	cjkRatio := float64(cjkTokens) / float64(len([]rune(cjk)))

	if cjkRatio <= latinRatio {
		t.Errorf("CJK text should yield more tokens per rune: cjkRatio=%f latinRatio=%f", cjkRatio, latinRatio)
	}
}

func TestEstimateDensity_Empty(t *testing.T) {
	if got := EstimateDensity(""); got != 0 {
		t.Errorf("EstimateDensity(\"\") = %d, want 0", got)
	}
}
