package graphie

import (
	"context"
	"errors"
	"testing"
)

func newExecutor(t *testing.T, store *MemStore, registry *Registry) *StepExecutor {
	t.Helper()
	if registry == nil {
		registry = NewRegistry()
	}
	return NewStepExecutor(registry, NewResolver(store, testLogger()), testLogger())
}

func TestExecuteNoFunction(t *testing.T) {
	sess := NewSession("s1")
	store := storeWithSession(t, sess)
	e := newExecutor(t, store, nil)

	outcome := e.Execute(context.Background(), sess, Step{ID: "root"})
	if outcome != OutcomeAdvanced {
		t.Errorf("a step without a function should advance, got %v", outcome)
	}
	if len(sess.Memory) != 0 {
		t.Errorf("no output should be recorded, got %v", sess.Memory)
	}
}

func TestExecuteRecordsOutput(t *testing.T) {
	sess := NewSession("s1")
	sess.AppendOutput("ask", map[string]any{"response": "Ada"})
	store := storeWithSession(t, sess)

	registry := NewRegistry()
	registry.Register("utils.echo.echo", func(ctx context.Context, act *Activation, input map[string]any) (map[string]any, error) {
		return map[string]any{"echoed": input["text"]}, nil
	})
	e := newExecutor(t, store, registry)

	step := Step{ID: "echo", Function: "echo.echo", Input: `{"text": "@{SESSION_ID}.ask.response"}`}
	outcome := e.Execute(context.Background(), sess, step)
	if outcome != OutcomeAdvanced {
		t.Fatalf("got outcome %v, want advanced", outcome)
	}

	latest, ok := sess.LatestOutput("echo")
	if !ok {
		t.Fatal("expected output recorded under the step id")
	}
	if latest["echoed"] != "Ada" {
		t.Errorf("input reference should resolve before dispatch, got %v", latest["echoed"])
	}
}

func TestExecuteNilOutputRecordsNothing(t *testing.T) {
	sess := NewSession("s1")
	store := storeWithSession(t, sess)

	registry := NewRegistry()
	registry.Register("utils.silent.silent", func(ctx context.Context, act *Activation, input map[string]any) (map[string]any, error) {
		return nil, nil
	})
	e := newExecutor(t, store, registry)

	outcome := e.Execute(context.Background(), sess, Step{ID: "quiet", Function: "silent.silent"})
	if outcome != OutcomeAdvanced {
		t.Fatalf("got outcome %v, want advanced", outcome)
	}
	if sess.Cycle("quiet") != 0 {
		t.Error("nil output must not append a memory cycle")
	}
}

func TestExecuteInvalidInputJSON(t *testing.T) {
	sess := NewSession("s1")
	store := storeWithSession(t, sess)
	e := newExecutor(t, store, nil)

	outcome := e.Execute(context.Background(), sess, Step{ID: "bad", Function: "reply.reply", Input: `{broken`})
	if outcome != OutcomeFailed {
		t.Fatalf("got outcome %v, want failed", outcome)
	}
	if len(sess.Errors) != 1 {
		t.Fatalf("expected one recorded error, got %d", len(sess.Errors))
	}
	if sess.Errors[0].StepID != "bad" {
		t.Errorf("error should carry the step id, got %q", sess.Errors[0].StepID)
	}
}

func TestExecuteUnknownFunction(t *testing.T) {
	sess := NewSession("s1")
	store := storeWithSession(t, sess)
	e := newExecutor(t, store, nil)

	outcome := e.Execute(context.Background(), sess, Step{ID: "x", Function: "nowhere.nothing"})
	if outcome != OutcomeFailed {
		t.Errorf("got outcome %v, want failed", outcome)
	}
	if len(sess.Errors) != 1 {
		t.Errorf("expected one recorded error, got %d", len(sess.Errors))
	}
}

func TestExecuteFunctionError(t *testing.T) {
	sess := NewSession("s1")
	store := storeWithSession(t, sess)

	registry := NewRegistry()
	registry.Register("utils.fail.fail", func(ctx context.Context, act *Activation, input map[string]any) (map[string]any, error) {
		return nil, errors.New("boom")
	})
	e := newExecutor(t, store, registry)

	outcome := e.Execute(context.Background(), sess, Step{ID: "f", Function: "fail.fail"})
	if outcome != OutcomeFailed {
		t.Errorf("got outcome %v, want failed", outcome)
	}
}

func TestExecutePanicBecomesError(t *testing.T) {
	sess := NewSession("s1")
	store := storeWithSession(t, sess)

	registry := NewRegistry()
	registry.Register("utils.panic.panic", func(ctx context.Context, act *Activation, input map[string]any) (map[string]any, error) {
		panic("unexpected")
	})
	e := newExecutor(t, store, registry)

	outcome := e.Execute(context.Background(), sess, Step{ID: "p", Function: "panic.panic"})
	if outcome != OutcomeFailed {
		t.Fatalf("got outcome %v, want failed", outcome)
	}
	if len(sess.Errors) != 1 {
		t.Fatal("panic should be recorded as a session error")
	}
}

func TestExecutePause(t *testing.T) {
	sess := NewSession("s1")
	store := storeWithSession(t, sess)

	registry := NewRegistry()
	registry.Register("utils.request.request", requestFunc)
	e := newExecutor(t, store, registry)

	step := Step{ID: "ask", Function: "request.request", Input: `{"statement": "Name?"}`}
	outcome := e.Execute(context.Background(), sess, step)
	if outcome != OutcomePaused {
		t.Fatalf("got outcome %v, want paused", outcome)
	}

	latest, ok := sess.LatestOutput("ask")
	if !ok || latest["statement"] != "Name?" {
		t.Errorf("pause should still record the statement output, got %v", latest)
	}
	if len(sess.ChatHistory) != 1 || sess.ChatHistory[0].Role != "assistant" {
		t.Errorf("statement should land in chat history, got %v", sess.ChatHistory)
	}
}
