package graphie

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
)

// Engine owns the per-session drive loop: it pulls pending step ids, executes
// them, evaluates outgoing paths, and repeats until the workflow pauses for
// input or runs out of eligible steps. One engine serves many sessions;
// sessions are independent and a single session is driven by one caller at a
// time.
type Engine struct {
	store     GraphStore
	registry  *Registry
	rootStep  string
	maxPasses int
	l         *slog.Logger
}

func NewEngine(store GraphStore, registry *Registry, cfg Config, l *slog.Logger) *Engine {
	return &Engine{
		store:     store,
		registry:  registry,
		rootStep:  cfg.RootStep,
		maxPasses: cfg.MaxDrivePasses,
		l:         l,
	}
}

// components builds the per-session executor and path evaluator. The resolver
// overlays the in-flight session so references to it see unsaved memory.
func (e *Engine) components(sess *Session) (*StepExecutor, *PathEvaluator) {
	resolver := NewResolver(liveSessionSource{store: e.store, sess: sess}, e.l)
	return NewStepExecutor(e.registry, resolver, e.l),
		NewPathEvaluator(e.store, resolver, e.registry, e.l)
}

// CreateSession creates a new SESSION node seeded with the root step.
func (e *Engine) CreateSession(ctx context.Context) (*Session, error) {
	sess := NewSession(uuid.NewString())
	sess.NextSteps = []string{e.rootStep}
	if err := e.store.CreateSession(ctx, sess); err != nil {
		return nil, fmt.Errorf("creating session: %w", err)
	}
	e.l.Info("created session", "session", sess.ID)
	return sess, nil
}

// Start begins (or restarts) the workflow for a session from the root step
// and drives it until it pauses or completes. A missing session is created
// under the supplied id.
func (e *Engine) Start(ctx context.Context, sessionID string) (FrontendState, error) {
	sess, err := e.store.GetSession(ctx, sessionID)
	if errors.Is(err, ErrNotFound) {
		sess = NewSession(sessionID)
		if err := e.store.CreateSession(ctx, sess); err != nil {
			return FrontendState{}, fmt.Errorf("creating session %q: %w", sessionID, err)
		}
	} else if err != nil {
		return FrontendState{}, fmt.Errorf("loading session %q: %w", sessionID, err)
	}

	sess.NextSteps = []string{e.rootStep}
	sess.Status = StatusActive
	e.l.Info("starting workflow", "session", sess.ID, "root", e.rootStep)

	e.drive(ctx, sess)
	return e.projectState(sess), nil
}

// Continue resumes a session after external input. The user message is
// appended to chat history; if the session was awaiting input, the response
// is recorded as the paused step's output (under both response-<step> and
// <step>) and the paused step's outgoing edges are evaluated with the fresh
// response in memory before driving resumes.
func (e *Engine) Continue(ctx context.Context, sessionID, userInput string) (FrontendState, error) {
	sess, err := e.store.GetSession(ctx, sessionID)
	if err != nil {
		return FrontendState{}, fmt.Errorf("loading session %q: %w", sessionID, err)
	}

	if userInput != "" {
		sess.AddMessage("user", userInput)
	}

	if sess.Status == StatusAwaitingInput {
		if userInput == "" {
			// Still blocked; nothing to resume with.
			return e.projectState(sess), nil
		}
		e.resume(ctx, sess, userInput)
	}

	e.drive(ctx, sess)
	return e.projectState(sess), nil
}

func (e *Engine) resume(ctx context.Context, sess *Session, userInput string) {
	if len(sess.NextSteps) == 0 {
		e.l.Warn("session awaiting input with no pending step", "session", sess.ID)
		sess.Status = StatusActive
		return
	}

	pausedStep := sess.NextSteps[0]
	e.l.Info("resuming after input", "session", sess.ID, "step", pausedStep)

	response := map[string]any{"response": userInput}
	sess.AppendOutput("response-"+pausedStep, response)
	sess.AppendOutput(pausedStep, response)

	_, paths := e.components(sess)
	successors := paths.NextSteps(ctx, sess, pausedStep)
	sess.NextSteps = dedupe(append(successors, sess.NextSteps[1:]...))
	sess.Status = StatusActive
	e.saveSession(ctx, sess)
}

// Status returns the full session record.
func (e *Engine) Status(ctx context.Context, sessionID string) (*Session, error) {
	return e.store.GetSession(ctx, sessionID)
}

// FrontendState returns the derived projection for a session without driving.
func (e *Engine) FrontendState(ctx context.Context, sessionID string) (FrontendState, error) {
	sess, err := e.store.GetSession(ctx, sessionID)
	if err != nil {
		return FrontendState{}, fmt.Errorf("loading session %q: %w", sessionID, err)
	}
	return e.projectState(sess), nil
}

// drive executes pending steps until the session pauses, completes, or the
// bounded pass guard trips. The guard keeps mis-authored cyclic graphs from
// hanging a single call: the session is left active and the caller may drive
// again.
func (e *Engine) drive(ctx context.Context, sess *Session) {
	executor, paths := e.components(sess)

	for pass := 0; pass < e.maxPasses; pass++ {
		if sess.Status == StatusAwaitingInput {
			return
		}

		pending := sess.NextSteps
		if len(pending) == 0 {
			sess.Status = StatusCompleted
			e.l.Info("workflow completed", "session", sess.ID)
			e.saveSession(ctx, sess)
			return
		}

		var processed, stalled []string
		for i, stepID := range pending {
			step, err := e.store.GetStep(ctx, stepID)
			if err != nil {
				e.l.Error("step not found", "session", sess.ID, "step", stepID, "error", err)
				sess.RecordError(stepID, newEngineError(ErrorCodeStore, stepID, err))
				stalled = append(stalled, stepID)
				e.saveSession(ctx, sess)
				continue
			}

			outcome := executor.Execute(ctx, sess, step)
			switch outcome {
			case OutcomePaused:
				// The paused step stays first in next_steps as the pending
				// resumption point; no successor edges are evaluated.
				sess.Status = StatusAwaitingInput
				sess.NextSteps = dedupe(append([]string{stepID}, pending[i+1:]...))
				e.saveSession(ctx, sess)
				return
			case OutcomeFailed:
				stalled = append(stalled, stepID)
			default:
				processed = append(processed, stepID)
			}
			e.saveSession(ctx, sess)
		}

		var next []string
		for _, stepID := range processed {
			next = append(next, paths.NextSteps(ctx, sess, stepID)...)
		}
		next = append(next, stalled...)
		sess.NextSteps = dedupe(next)

		if len(sess.NextSteps) == 0 {
			sess.Status = StatusCompleted
			e.l.Info("workflow completed", "session", sess.ID)
			e.saveSession(ctx, sess)
			return
		}
		e.saveSession(ctx, sess)

		if len(processed) == 0 {
			// Every pending step failed; re-driving now would spin.
			e.l.Warn("no steps advanced this pass", "session", sess.ID, "stalled", stalled)
			return
		}
	}

	e.l.Warn("drive pass limit reached, leaving session active", "session", sess.ID, "max_passes", e.maxPasses)
}

// saveSession persists best-effort after each step and transition; a store
// hiccup mid-drive is logged, not fatal, and the next save retries.
func (e *Engine) saveSession(ctx context.Context, sess *Session) {
	if err := e.store.SaveSession(ctx, sess); err != nil {
		e.l.Error("failed to persist session", "session", sess.ID, "error", err)
	}
}
