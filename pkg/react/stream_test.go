package react

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/StarkFactory/arcreactor/pkg/agent"
	"github.com/StarkFactory/arcreactor/pkg/llm"
	"github.com/StarkFactory/arcreactor/pkg/tools"
)

func drain(t *testing.T, ch <-chan Fragment, timeout time.Duration) []Fragment {
	t.Helper()
	var out []Fragment
	deadline := time.After(timeout)
	for {
		select {
		case f, ok := <-ch:
			if !ok {
				return out
			}
			out = append(out, f)
		case <-deadline:
			t.Fatal("timed out draining fragment stream")
		}
	}
}

func TestExecuteStream_RejectsStructuredOutputUpfront(t *testing.T) {
	e := newTestExecutor(&scriptedClient{}, nil)
	cmd := &agent.Command{UserPrompt: "go", ResponseFormat: agent.FormatJSON}
	run := agent.NewHookContext(cmd)

	_, err := e.ExecuteStream(context.Background(), cmd, run, "sys", nil, nil)
	if err == nil {
		t.Fatal("expected an error for streaming + structured output")
	}
}

func TestExecuteStream_TextOnlyEmitsFragmentsThenCloses(t *testing.T) {
	client := &scriptedClient{steps: []func(llm.Request) (*llm.Response, error){
		func(req llm.Request) (*llm.Response, error) {
			return &llm.Response{Text: "hello world"}, nil
		},
	}}
	e := newTestExecutor(client, nil)
	cmd := &agent.Command{UserPrompt: "hi"}
	run := agent.NewHookContext(cmd)

	ch, err := e.ExecuteStream(context.Background(), cmd, run, "sys", nil, nil)
	if err != nil {
		t.Fatalf("ExecuteStream error: %v", err)
	}
	frags := drain(t, ch, 2*time.Second)

	if len(frags) == 0 {
		t.Fatal("expected at least one fragment")
	}
	var text string
	for _, f := range frags {
		if f.Kind != FragmentText {
			t.Errorf("unexpected non-text fragment: %+v", f)
		}
		text += f.Text
	}
	if text != "hello world" {
		t.Errorf("reassembled text = %q, want %q", text, "hello world")
	}
}

func TestExecuteStream_ToolCallsEmitMarkers(t *testing.T) {
	reg := tools.New()
	reg.Register("local", agent.ToolSpec{Name: "echo"}, fnInvoker(func(ctx context.Context, args json.RawMessage) (string, error) {
		return "echoed", nil
	}))

	client := &scriptedClient{steps: []func(llm.Request) (*llm.Response, error){
		func(req llm.Request) (*llm.Response, error) {
			return &llm.Response{ToolCalls: []agent.ToolCall{{ID: "1", ToolName: "echo"}}}, nil
		},
		func(req llm.Request) (*llm.Response, error) {
			return &llm.Response{Text: "done"}, nil
		},
	}}
	e := newTestExecutor(client, reg)
	cmd := &agent.Command{UserPrompt: "go"}
	run := agent.NewHookContext(cmd)

	ch, err := e.ExecuteStream(context.Background(), cmd, run, "sys", []agent.ToolSpec{{Name: "echo"}}, nil)
	if err != nil {
		t.Fatalf("ExecuteStream error: %v", err)
	}
	frags := drain(t, ch, 2*time.Second)

	var sawStart, sawEnd bool
	for _, f := range frags {
		if f.Kind == FragmentToolStart && f.Detail == "echo" {
			sawStart = true
		}
		if f.Kind == FragmentToolEnd && f.Detail == "echo" {
			sawEnd = true
		}
	}
	if !sawStart || !sawEnd {
		t.Errorf("expected tool_start/tool_end markers, got %+v", frags)
	}
}

func TestExecuteStream_ProducerErrorEmitsOneErrorFragment(t *testing.T) {
	client := &scriptedClient{steps: nil}
	e := newTestExecutor(client, nil)
	cmd := &agent.Command{UserPrompt: "go"}
	run := agent.NewHookContext(cmd)

	ch, err := e.ExecuteStream(context.Background(), cmd, run, "sys", nil, nil)
	if err != nil {
		t.Fatalf("ExecuteStream error: %v", err)
	}
	frags := drain(t, ch, 2*time.Second)

	if len(frags) != 1 || frags[0].Kind != FragmentError {
		t.Fatalf("expected exactly one error fragment, got %+v", frags)
	}
}
