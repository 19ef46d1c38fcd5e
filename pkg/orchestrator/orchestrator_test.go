package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/StarkFactory/arcreactor/pkg/agent"
	"github.com/StarkFactory/arcreactor/pkg/hooks"
	"github.com/StarkFactory/arcreactor/pkg/tools"
)

type fnInvoker struct {
	fn func(ctx context.Context, args json.RawMessage) (string, error)
}

func (f fnInvoker) Invoke(ctx context.Context, args json.RawMessage) (string, error) {
	return f.fn(ctx, args)
}

func newRun() *agent.HookContext {
	return agent.NewHookContext(&agent.Command{UserID: "u1"})
}

func TestOrchestrator_Dispatch_PreservesOrder(t *testing.T) {
	reg := tools.New()
	for _, name := range []string{"a", "b", "c"} {
		name := name
		reg.Register("local", agent.ToolSpec{Name: name}, fnInvoker{fn: func(ctx context.Context, args json.RawMessage) (string, error) {
			return "out:" + name, nil
		}})
	}

	o := New(reg, hooks.New(), nil, Config{})
	calls := []agent.ToolCall{
		{ID: "1", ToolName: "a"},
		{ID: "2", ToolName: "b"},
		{ID: "3", ToolName: "c"},
	}
	var used int64
	results := o.Dispatch(context.Background(), newRun(), calls, &used)

	if len(results) != 3 {
		t.Fatalf("got %d results, want 3", len(results))
	}
	want := []string{"out:a", "out:b", "out:c"}
	for i, r := range results {
		if !r.Success || r.Output != want[i] {
			t.Errorf("result[%d] = %+v, want output %q", i, r, want[i])
		}
	}
	if atomic.LoadInt64(&used) != 3 {
		t.Errorf("toolCallsUsed = %d, want 3", used)
	}
}

func TestOrchestrator_Dispatch_ToolNotFound(t *testing.T) {
	reg := tools.New()
	o := New(reg, hooks.New(), nil, Config{})

	var used int64
	results := o.Dispatch(context.Background(), newRun(), []agent.ToolCall{{ID: "1", ToolName: "missing"}}, &used)

	if len(results) != 1 {
		t.Fatalf("got %d results", len(results))
	}
	if results[0].Success {
		t.Fatalf("expected failure for missing tool")
	}
	if results[0].ErrorMessage != "Error: Tool 'missing' not found" {
		t.Errorf("ErrorMessage = %q", results[0].ErrorMessage)
	}
	if atomic.LoadInt64(&used) != 1 {
		t.Errorf("toolCallsUsed = %d, want 1 (counted even on not-found)", used)
	}
}

func TestOrchestrator_Dispatch_OneFailureDoesNotAffectSiblings(t *testing.T) {
	reg := tools.New()
	reg.Register("local", agent.ToolSpec{Name: "bad"}, fnInvoker{fn: func(ctx context.Context, args json.RawMessage) (string, error) {
		return "", errors.New("connection refused")
	}})
	reg.Register("local", agent.ToolSpec{Name: "good"}, fnInvoker{fn: func(ctx context.Context, args json.RawMessage) (string, error) {
		return "ok", nil
	}})

	o := New(reg, hooks.New(), nil, Config{})
	var used int64
	results := o.Dispatch(context.Background(), newRun(), []agent.ToolCall{
		{ID: "1", ToolName: "bad"},
		{ID: "2", ToolName: "good"},
	}, &used)

	if results[0].Success {
		t.Errorf("expected failure for bad tool")
	}
	if !results[1].Success || results[1].Output != "ok" {
		t.Errorf("sibling affected: %+v", results[1])
	}
}

type rejectHook struct{}

func (rejectHook) Name() string      { return "reject" }
func (rejectHook) Order() int        { return 1 }
func (rejectHook) FailOnError() bool { return true }
func (rejectHook) BeforeToolCall(ctx context.Context, tc hooks.ToolCallContext) (hooks.Result, error) {
	return hooks.Result{Outcome: hooks.Reject, Reason: "policy denied"}, nil
}

func TestOrchestrator_Dispatch_HookReject(t *testing.T) {
	reg := tools.New()
	reg.Register("local", agent.ToolSpec{Name: "a"}, fnInvoker{fn: func(ctx context.Context, args json.RawMessage) (string, error) {
		t.Fatal("tool should not have been invoked after reject")
		return "", nil
	}})

	chain := hooks.New()
	chain.RegisterBeforeToolCall(rejectHook{})

	o := New(reg, chain, nil, Config{})
	var used int64
	results := o.Dispatch(context.Background(), newRun(), []agent.ToolCall{{ID: "1", ToolName: "a"}}, &used)

	if results[0].Success {
		t.Fatalf("expected rejection failure, got %+v", results[0])
	}
	if atomic.LoadInt64(&used) != 1 {
		t.Errorf("toolCallsUsed = %d, want 1 (counted on reject)", used)
	}
}

type suspendHook struct {
	mgr *ApprovalManager
}

func (h suspendHook) Name() string      { return "approval_policy" }
func (h suspendHook) Order() int        { return 40 }
func (h suspendHook) FailOnError() bool { return false }
func (h suspendHook) BeforeToolCall(ctx context.Context, tc hooks.ToolCallContext) (hooks.Result, error) {
	id, err := h.mgr.RequestApproval(ctx, tc.ToolCall.ToolName, tc.ToolCall.Arguments, tc.Run.UserID, "", tc.Run.UserPrompt)
	if err != nil {
		return hooks.Result{}, err
	}
	return hooks.Result{Outcome: hooks.Suspend, ApprovalID: id}, nil
}

func TestOrchestrator_Dispatch_SuspendThenApprove(t *testing.T) {
	reg := tools.New()
	reg.Register("local", agent.ToolSpec{Name: "a"}, fnInvoker{fn: func(ctx context.Context, args json.RawMessage) (string, error) {
		return "ran", nil
	}})

	mgr := NewApprovalManager()
	chain := hooks.New()
	chain.RegisterBeforeToolCall(suspendHook{mgr: mgr})

	o := New(reg, chain, mgr, Config{ApprovalTimeout: 2 * time.Second})

	resultCh := make(chan agent.ToolResult, 1)
	go func() {
		var used int64
		results := o.Dispatch(context.Background(), newRun(), []agent.ToolCall{{ID: "1", ToolName: "a"}}, &used)
		resultCh <- results[0]
	}()

	// Give the dispatch goroutine time to register the approval, and wait
	// past hitlThreshold so the approval wait is long enough to be tagged.
	time.Sleep(150 * time.Millisecond)
	approved := false
	for i := 0; i < 50 && !approved; i++ {
		mgr.mu.Lock()
		var ids []string
		for id := range mgr.pending {
			ids = append(ids, id)
		}
		mgr.mu.Unlock()
		for _, id := range ids {
			approved = mgr.Approve(id, nil)
		}
		if approved {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	if !approved {
		t.Fatal("never found pending approval to approve")
	}

	select {
	case result := <-resultCh:
		if !result.Success || result.Output != "ran" {
			t.Errorf("result = %+v, want success output 'ran'", result)
		}
		if !result.HITLRequired || !result.HITLApproved {
			t.Errorf("expected HITL tagged approved, got %+v", result)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("dispatch did not complete after approval")
	}
}

func TestOrchestrator_Dispatch_SuspendThenReject(t *testing.T) {
	reg := tools.New()
	reg.Register("local", agent.ToolSpec{Name: "a"}, fnInvoker{fn: func(ctx context.Context, args json.RawMessage) (string, error) {
		t.Fatal("rejected tool should not run")
		return "", nil
	}})

	mgr := NewApprovalManager()
	chain := hooks.New()
	chain.RegisterBeforeToolCall(suspendHook{mgr: mgr})

	o := New(reg, chain, mgr, Config{ApprovalTimeout: 2 * time.Second})

	resultCh := make(chan agent.ToolResult, 1)
	go func() {
		var used int64
		results := o.Dispatch(context.Background(), newRun(), []agent.ToolCall{{ID: "1", ToolName: "a"}}, &used)
		resultCh <- results[0]
	}()

	// Wait past hitlThreshold so the rejection is tagged as HITL.
	time.Sleep(150 * time.Millisecond)
	rejected := false
	for i := 0; i < 50 && !rejected; i++ {
		mgr.mu.Lock()
		var ids []string
		for id := range mgr.pending {
			ids = append(ids, id)
		}
		mgr.mu.Unlock()
		for _, id := range ids {
			rejected = mgr.Reject(id, "not allowed")
		}
		if rejected {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	if !rejected {
		t.Fatal("never found pending approval to reject")
	}

	select {
	case result := <-resultCh:
		if result.Success {
			t.Errorf("expected failure result, got %+v", result)
		}
		if !result.HITLRequired || result.HITLApproved {
			t.Errorf("expected HITL tagged not-approved, got %+v", result)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("dispatch did not complete after rejection")
	}
}

func TestOrchestrator_Dispatch_ContextCancellation(t *testing.T) {
	reg := tools.New()
	reg.Register("local", agent.ToolSpec{Name: "slow"}, fnInvoker{fn: func(ctx context.Context, args json.RawMessage) (string, error) {
		<-ctx.Done()
		return "", ctx.Err()
	}})

	o := New(reg, hooks.New(), nil, Config{ToolCallTimeout: 5 * time.Second})
	ctx, cancel := context.WithCancel(context.Background())

	resultCh := make(chan []agent.ToolResult, 1)
	go func() {
		var used int64
		resultCh <- o.Dispatch(ctx, newRun(), []agent.ToolCall{{ID: "1", ToolName: "slow"}}, &used)
	}()

	time.Sleep(10 * time.Millisecond)
	cancel()

	select {
	case results := <-resultCh:
		if results[0].Success {
			t.Errorf("expected failure on cancellation, got %+v", results[0])
		}
	case <-time.After(2 * time.Second):
		t.Fatal("dispatch did not return after cancellation")
	}
}
