package react

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/StarkFactory/arcreactor/pkg/agent"
	"github.com/StarkFactory/arcreactor/pkg/hooks"
	"github.com/StarkFactory/arcreactor/pkg/llm"
	"github.com/StarkFactory/arcreactor/pkg/orchestrator"
	"github.com/StarkFactory/arcreactor/pkg/tools"
)

type scriptedClient struct {
	calls int
	steps []func(req llm.Request) (*llm.Response, error)
}

func (c *scriptedClient) Generate(ctx context.Context, req llm.Request) (*llm.Response, error) {
	if c.calls >= len(c.steps) {
		return nil, errors.New("scriptedClient: no more steps")
	}
	step := c.steps[c.calls]
	c.calls++
	return step(req)
}

func newTestExecutor(client llm.Client, reg *tools.Registry) *Executor {
	if reg == nil {
		reg = tools.New()
	}
	orch := orchestrator.New(reg, hooks.New(), nil, orchestrator.Config{})
	return NewExecutor(client, orch, nil, Config{MaxContextWindowTokens: 8000, MaxOutputTokens: 256, MaxToolCalls: 5})
}

func TestExecutor_Execute_TerminalTextNoTools(t *testing.T) {
	client := &scriptedClient{steps: []func(llm.Request) (*llm.Response, error){
		func(req llm.Request) (*llm.Response, error) {
			return &llm.Response{Text: "hello there"}, nil
		},
	}}
	e := newTestExecutor(client, nil)
	cmd := &agent.Command{UserPrompt: "hi"}
	run := agent.NewHookContext(cmd)

	out, err := e.Execute(context.Background(), cmd, run, "you are a helper", nil, nil)
	if err != nil {
		t.Fatalf("Execute returned error: %v", err)
	}
	if out.Content != "hello there" {
		t.Errorf("Content = %q", out.Content)
	}
	if len(out.ToolsUsed) != 0 {
		t.Errorf("ToolsUsed = %v, want empty", out.ToolsUsed)
	}
}

func TestExecutor_Execute_DispatchesToolCallsThenTerminates(t *testing.T) {
	reg := tools.New()
	reg.Register("local", agent.ToolSpec{Name: "echo"}, fnInvoker(func(ctx context.Context, args json.RawMessage) (string, error) {
		return "echoed", nil
	}))

	calls := 0
	client := &scriptedClient{steps: []func(llm.Request) (*llm.Response, error){
		func(req llm.Request) (*llm.Response, error) {
			calls++
			return &llm.Response{ToolCalls: []agent.ToolCall{{ID: "1", ToolName: "echo"}}}, nil
		},
		func(req llm.Request) (*llm.Response, error) {
			calls++
			// verify the tool result was appended to the transcript
			foundTool := false
			for _, m := range req.Messages {
				if m.Role == agent.RoleTool && m.Content == "echoed" {
					foundTool = true
				}
			}
			if !foundTool {
				t.Errorf("expected tool result message in second request, got %+v", req.Messages)
			}
			return &llm.Response{Text: "done"}, nil
		},
	}}

	e := newTestExecutor(client, reg)
	cmd := &agent.Command{UserPrompt: "do it"}
	run := agent.NewHookContext(cmd)

	out, err := e.Execute(context.Background(), cmd, run, "sys", []agent.ToolSpec{{Name: "echo"}}, nil)
	if err != nil {
		t.Fatalf("Execute error: %v", err)
	}
	if out.Content != "done" {
		t.Errorf("Content = %q", out.Content)
	}
	if len(out.ToolsUsed) != 1 || out.ToolsUsed[0] != "echo" {
		t.Errorf("ToolsUsed = %v", out.ToolsUsed)
	}
	if calls != 2 {
		t.Errorf("LLM calls = %d, want 2", calls)
	}
}

func TestExecutor_Execute_StopsExposingToolsAtMax(t *testing.T) {
	reg := tools.New()
	reg.Register("local", agent.ToolSpec{Name: "noop"}, fnInvoker(func(ctx context.Context, args json.RawMessage) (string, error) {
		return "ok", nil
	}))

	client := &scriptedClient{steps: []func(llm.Request) (*llm.Response, error){
		func(req llm.Request) (*llm.Response, error) {
			if len(req.Tools) == 0 {
				t.Fatal("expected tools exposed on first call")
			}
			return &llm.Response{ToolCalls: []agent.ToolCall{{ID: "1", ToolName: "noop"}}}, nil
		},
		func(req llm.Request) (*llm.Response, error) {
			if len(req.Tools) != 0 {
				t.Fatal("expected tools NOT exposed once maxToolCalls reached")
			}
			return &llm.Response{Text: "final"}, nil
		},
	}}

	e := newTestExecutor(client, reg)
	e.cfg.MaxToolCalls = 1
	cmd := &agent.Command{UserPrompt: "go", MaxToolCalls: 1}
	run := agent.NewHookContext(cmd)

	out, err := e.Execute(context.Background(), cmd, run, "sys", []agent.ToolSpec{{Name: "noop"}}, nil)
	if err != nil {
		t.Fatalf("Execute error: %v", err)
	}
	if out.Content != "final" {
		t.Errorf("Content = %q", out.Content)
	}
}

func TestExecutor_Execute_StructuredOutputRepairSucceeds(t *testing.T) {
	client := &scriptedClient{steps: []func(llm.Request) (*llm.Response, error){
		func(req llm.Request) (*llm.Response, error) {
			return &llm.Response{Text: "not json"}, nil
		},
		func(req llm.Request) (*llm.Response, error) {
			foundRepairPrompt := false
			for _, m := range req.Messages {
				if m.Role == agent.RoleUser && m.Content != "go" {
					foundRepairPrompt = true
				}
			}
			if !foundRepairPrompt {
				t.Errorf("expected repair instruction in repair request messages")
			}
			return &llm.Response{Text: `{"ok":true}`}, nil
		},
	}}
	e := newTestExecutor(client, nil)
	cmd := &agent.Command{UserPrompt: "go", ResponseFormat: agent.FormatJSON}
	run := agent.NewHookContext(cmd)

	out, err := e.Execute(context.Background(), cmd, run, "sys", nil, nil)
	if err != nil {
		t.Fatalf("Execute error: %v", err)
	}
	if out.Content != `{"ok":true}` {
		t.Errorf("Content = %q", out.Content)
	}
}

func TestExecutor_Execute_StructuredOutputRepairFails(t *testing.T) {
	client := &scriptedClient{steps: []func(llm.Request) (*llm.Response, error){
		func(req llm.Request) (*llm.Response, error) {
			return &llm.Response{Text: "not json"}, nil
		},
		func(req llm.Request) (*llm.Response, error) {
			return &llm.Response{Text: "still not json"}, nil
		},
	}}
	e := newTestExecutor(client, nil)
	cmd := &agent.Command{UserPrompt: "go", ResponseFormat: agent.FormatJSON}
	run := agent.NewHookContext(cmd)

	_, err := e.Execute(context.Background(), cmd, run, "sys", nil, nil)
	if err == nil {
		t.Fatal("expected an error after repair also fails validation")
	}
}

type fnInvoker func(ctx context.Context, args json.RawMessage) (string, error)

func (f fnInvoker) Invoke(ctx context.Context, args json.RawMessage) (string, error) {
	return f(ctx, args)
}
