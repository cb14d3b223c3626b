package graphie

import (
	"context"
	"fmt"
	"reflect"
	"testing"
)

func testConfig() Config {
	return Config{RootStep: "root", MaxDrivePasses: 5}
}

func newTestEngine(t *testing.T, store *MemStore, registry *Registry) *Engine {
	t.Helper()
	if registry == nil {
		registry = NewRegistry()
	}
	return NewEngine(store, registry, testConfig(), testLogger())
}

// buildGraph loads steps and edges without going through YAML.
func buildGraph(t *testing.T, store *MemStore, steps []Step, edges []Edge) {
	t.Helper()
	ctx := context.Background()
	for _, s := range steps {
		if err := store.UpsertStep(ctx, s); err != nil {
			t.Fatalf("upserting step %s: %v", s.ID, err)
		}
	}
	for _, e := range edges {
		if err := store.UpsertEdge(ctx, e); err != nil {
			t.Fatalf("upserting edge %s->%s: %v", e.From, e.To, err)
		}
	}
}

func TestEngineLinearConversation(t *testing.T) {
	store := NewMemStore()
	registry := NewRegistry()
	RegisterBuiltins(registry, nil)

	buildGraph(t, store,
		[]Step{
			{ID: "root", Description: "entry point"},
			{ID: "ask", Function: "request.request", Input: `{"statement": "What is your name?"}`},
			{ID: "answer", Function: "reply.reply", Input: `{"response": "Hello @{SESSION_ID}.ask.response"}`},
		},
		[]Edge{
			{From: "root", To: "ask"},
			{From: "ask", To: "answer"},
		},
	)

	engine := newTestEngine(t, store, registry)
	ctx := context.Background()

	state, err := engine.Start(ctx, "conv-1")
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if !state.AwaitingInput {
		t.Fatal("workflow should pause at the request step")
	}
	if state.Statement != "What is your name?" {
		t.Errorf("statement = %q", state.Statement)
	}

	sess, err := engine.Status(ctx, "conv-1")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if sess.Status != StatusAwaitingInput {
		t.Errorf("status = %q, want awaiting_input", sess.Status)
	}
	if !reflect.DeepEqual(sess.NextSteps, []string{"ask"}) {
		t.Errorf("paused step must stay pending, got %v", sess.NextSteps)
	}

	state, err = engine.Continue(ctx, "conv-1", "Ada")
	if err != nil {
		t.Fatalf("continue: %v", err)
	}
	if state.AwaitingInput {
		t.Error("workflow should resume after input")
	}
	if state.Reply != "Hello Ada" {
		t.Errorf("reply = %q, want reference resolved against the response", state.Reply)
	}

	sess, _ = engine.Status(ctx, "conv-1")
	if sess.Status != StatusCompleted {
		t.Errorf("status = %q, want completed", sess.Status)
	}

	// The response is recorded under both the response- alias and the
	// paused step's own id.
	for _, key := range []string{"response-ask", "ask"} {
		latest, ok := sess.LatestOutput(key)
		if !ok || latest["response"] != "Ada" {
			t.Errorf("memory[%s] = %v, want the user response", key, latest)
		}
	}
}

func TestEngineStartCreatesMissingSession(t *testing.T) {
	store := NewMemStore()
	buildGraph(t, store, []Step{{ID: "root"}}, nil)
	engine := newTestEngine(t, store, nil)

	if _, err := engine.Start(context.Background(), "fresh"); err != nil {
		t.Fatalf("start should create the session: %v", err)
	}
	sess, err := engine.Status(context.Background(), "fresh")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if sess.Status != StatusCompleted {
		t.Errorf("a bare root should complete immediately, got %q", sess.Status)
	}
}

func TestEngineFanOut(t *testing.T) {
	store := NewMemStore()
	registry := NewRegistry()
	for _, name := range []string{"left", "right"} {
		name := name
		registry.Register("utils.mark."+name, func(ctx context.Context, act *Activation, input map[string]any) (map[string]any, error) {
			return map[string]any{"mark": name}, nil
		})
	}

	buildGraph(t, store,
		[]Step{
			{ID: "root"},
			{ID: "left", Function: "mark.left"},
			{ID: "right", Function: "mark.right"},
		},
		[]Edge{
			{From: "root", To: "left"},
			{From: "root", To: "right"},
		},
	)

	engine := newTestEngine(t, store, registry)
	if _, err := engine.Start(context.Background(), "fan"); err != nil {
		t.Fatalf("start: %v", err)
	}

	sess, _ := engine.Status(context.Background(), "fan")
	if sess.Status != StatusCompleted {
		t.Fatalf("status = %q, want completed", sess.Status)
	}
	for _, id := range []string{"left", "right"} {
		if sess.Cycle(id) != 1 {
			t.Errorf("branch %s should run exactly once, cycles = %d", id, sess.Cycle(id))
		}
	}
}

func TestEngineConditionalBranch(t *testing.T) {
	store := NewMemStore()
	registry := NewRegistry()
	registry.Register("utils.classify.classify", func(ctx context.Context, act *Activation, input map[string]any) (map[string]any, error) {
		return map[string]any{"category": "billing"}, nil
	})
	registry.Register("utils.mark.mark", func(ctx context.Context, act *Activation, input map[string]any) (map[string]any, error) {
		return map[string]any{"done": true}, nil
	})

	buildGraph(t, store,
		[]Step{
			{ID: "root", Function: "classify.classify"},
			{ID: "billing", Function: "mark.mark"},
			{ID: "support", Function: "mark.mark"},
		},
		[]Edge{
			{From: "root", To: "billing", Conditions: []Condition{
				{Variable: "@{SESSION_ID}.root.category", Value: "billing"},
			}},
			{From: "root", To: "support", Conditions: []Condition{
				{Variable: "@{SESSION_ID}.root.category", Value: "support"},
			}},
		},
	)

	engine := newTestEngine(t, store, registry)
	if _, err := engine.Start(context.Background(), "branch"); err != nil {
		t.Fatalf("start: %v", err)
	}

	sess, _ := engine.Status(context.Background(), "branch")
	if sess.Cycle("billing") != 1 {
		t.Error("matching branch should run")
	}
	if sess.Cycle("support") != 0 {
		t.Error("non-matching branch should not run")
	}
}

func TestEngineCycleIsBounded(t *testing.T) {
	store := NewMemStore()
	registry := NewRegistry()
	var runs int
	registry.Register("utils.tick.tick", func(ctx context.Context, act *Activation, input map[string]any) (map[string]any, error) {
		runs++
		return map[string]any{"n": runs}, nil
	})

	buildGraph(t, store,
		[]Step{
			{ID: "root", Function: "tick.tick"},
			{ID: "again", Function: "tick.tick"},
		},
		[]Edge{
			{From: "root", To: "again"},
			{From: "again", To: "root"},
		},
	)

	engine := newTestEngine(t, store, registry)
	if _, err := engine.Start(context.Background(), "loop"); err != nil {
		t.Fatalf("start: %v", err)
	}

	if runs != 5 {
		t.Errorf("cyclic graph should run exactly one step per pass up to the limit, got %d runs", runs)
	}
	sess, _ := engine.Status(context.Background(), "loop")
	if sess.Status != StatusActive {
		t.Errorf("session should stay active when the pass guard trips, got %q", sess.Status)
	}
	if len(sess.NextSteps) == 0 {
		t.Error("pending steps should survive the guard so a later call can drive again")
	}
}

func TestEngineMemoryAppendsPerCycle(t *testing.T) {
	store := NewMemStore()
	registry := NewRegistry()
	var runs int
	registry.Register("utils.tick.tick", func(ctx context.Context, act *Activation, input map[string]any) (map[string]any, error) {
		runs++
		return map[string]any{"n": runs}, nil
	})

	buildGraph(t, store,
		[]Step{{ID: "root", Function: "tick.tick"}, {ID: "again", Function: "tick.tick"}},
		[]Edge{{From: "root", To: "again"}, {From: "again", To: "root"}},
	)

	engine := newTestEngine(t, store, registry)
	if _, err := engine.Start(context.Background(), "cycles"); err != nil {
		t.Fatalf("start: %v", err)
	}

	sess, _ := engine.Status(context.Background(), "cycles")
	if sess.Cycle("root") < 2 {
		t.Fatalf("re-executed step should append cycles, got %d", sess.Cycle("root"))
	}
	latest, _ := sess.LatestOutput("root")
	first := sess.Memory["root"][0]
	if fmt.Sprint(latest["n"]) == fmt.Sprint(first["n"]) {
		t.Error("memory must preserve distinct cycles in order")
	}
}

func TestEngineContinueWithoutInputStaysPaused(t *testing.T) {
	store := NewMemStore()
	registry := NewRegistry()
	RegisterBuiltins(registry, nil)

	buildGraph(t, store,
		[]Step{
			{ID: "root", Function: "request.request", Input: `{"statement": "Ready?"}`},
		},
		nil,
	)

	engine := newTestEngine(t, store, registry)
	ctx := context.Background()
	if _, err := engine.Start(ctx, "wait"); err != nil {
		t.Fatalf("start: %v", err)
	}

	state, err := engine.Continue(ctx, "wait", "")
	if err != nil {
		t.Fatalf("continue: %v", err)
	}
	if !state.AwaitingInput {
		t.Error("empty input must not resume a paused session")
	}
}

func TestEngineFailedStepRecordsErrorAndStalls(t *testing.T) {
	store := NewMemStore()
	buildGraph(t, store,
		[]Step{{ID: "root", Function: "nowhere.nothing"}},
		nil,
	)

	engine := newTestEngine(t, store, nil)
	if _, err := engine.Start(context.Background(), "broken"); err != nil {
		t.Fatalf("start: %v", err)
	}

	sess, _ := engine.Status(context.Background(), "broken")
	if len(sess.Errors) == 0 {
		t.Fatal("failure should be recorded on the session")
	}
	if sess.Status != StatusActive {
		t.Errorf("stalled session should stay active, got %q", sess.Status)
	}
	if !reflect.DeepEqual(sess.NextSteps, []string{"root"}) {
		t.Errorf("failed step should stay pending, got %v", sess.NextSteps)
	}
}

func TestEngineUserMessageLandsInChatHistory(t *testing.T) {
	store := NewMemStore()
	registry := NewRegistry()
	RegisterBuiltins(registry, nil)

	buildGraph(t, store,
		[]Step{
			{ID: "root", Function: "request.request", Input: `{"statement": "Name?"}`},
		},
		nil,
	)

	engine := newTestEngine(t, store, registry)
	ctx := context.Background()
	if _, err := engine.Start(ctx, "chat"); err != nil {
		t.Fatalf("start: %v", err)
	}
	if _, err := engine.Continue(ctx, "chat", "Ada"); err != nil {
		t.Fatalf("continue: %v", err)
	}

	sess, _ := engine.Status(ctx, "chat")
	var roles []string
	for _, m := range sess.ChatHistory {
		roles = append(roles, m.Role)
	}
	if !reflect.DeepEqual(roles, []string{"assistant", "user"}) {
		t.Errorf("chat history roles = %v, want [assistant user]", roles)
	}
}
