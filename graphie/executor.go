package graphie

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
)

// Outcome is the result of executing one step.
type Outcome int

const (
	// OutcomeAdvanced means the step completed and its outgoing edges may be
	// evaluated.
	OutcomeAdvanced Outcome = iota
	// OutcomePaused means the step requested human input; the session must
	// not advance past it.
	OutcomePaused
	// OutcomeFailed means the step errored; the error is recorded on the
	// session and the step stays pending.
	OutcomeFailed
)

// Activation is the handle passed to step functions. It exposes the session
// and the pause marker without giving functions direct store access.
type Activation struct {
	session  *Session
	resolver *Resolver
	l        *slog.Logger
	paused   bool
}

func (a *Activation) SessionID() string {
	return a.session.ID
}

func (a *Activation) Session() *Session {
	return a.session
}

func (a *Activation) AddMessage(role, content string) {
	a.session.AddMessage(role, content)
}

// RequestInput marks the session as waiting for human input. The executor
// reports OutcomePaused and the state machine stops driving until the caller
// supplies a response.
func (a *Activation) RequestInput() {
	a.paused = true
}

// Resolve evaluates a variable reference against the live session, for
// functions that receive references in free text rather than in their input.
func (a *Activation) Resolve(ctx context.Context, ref any) any {
	return a.resolver.Resolve(ctx, a.session.ID, ref)
}

// StepExecutor resolves a step's input template and dispatches its function.
type StepExecutor struct {
	registry *Registry
	resolver *Resolver
	l        *slog.Logger
}

func NewStepExecutor(registry *Registry, resolver *Resolver, l *slog.Logger) *StepExecutor {
	return &StepExecutor{registry: registry, resolver: resolver, l: l}
}

// Execute runs one step against the session. Failures never propagate as
// errors; they are recorded on the session and reported via the outcome.
func (e *StepExecutor) Execute(ctx context.Context, sess *Session, step Step) Outcome {
	if step.Function == "" {
		e.l.Info("step has no function, advancing", "session", sess.ID, "step", step.ID)
		return OutcomeAdvanced
	}

	input := map[string]any{}
	if step.Input != "" {
		if err := json.Unmarshal([]byte(step.Input), &input); err != nil {
			e.l.Error("step input is not valid JSON", "session", sess.ID, "step", step.ID, "error", err)
			sess.RecordError(step.ID, newEngineError(ErrorCodeInputParse, step.ID, err))
			return OutcomeFailed
		}
	}

	resolved, _ := e.resolver.Process(ctx, sess.ID, input).(map[string]any)

	fn, err := e.registry.Resolve(step.Function)
	if err != nil {
		e.l.Error("step function not registered", "session", sess.ID, "step", step.ID, "function", step.Function)
		sess.RecordError(step.ID, newEngineError(ErrorCodeUnknownFunction, step.ID, err))
		return OutcomeFailed
	}

	act := &Activation{session: sess, resolver: e.resolver, l: e.l}
	output, err := dispatch(ctx, fn, act, resolved)
	if err != nil {
		e.l.Error("step function failed", "session", sess.ID, "step", step.ID, "function", step.Function, "error", err)
		sess.RecordError(step.ID, newEngineError(ErrorCodeDispatch, step.ID, err))
		return OutcomeFailed
	}

	if output != nil {
		sess.AppendOutput(step.ID, output)
	}

	if act.paused {
		e.l.Info("step requested input, pausing", "session", sess.ID, "step", step.ID)
		return OutcomePaused
	}

	e.l.Info("executed step", "session", sess.ID, "step", step.ID, "function", step.Function)
	return OutcomeAdvanced
}

// dispatch invokes a step function, converting panics into errors so a
// misbehaving pluggable function cannot take the session down with it.
func dispatch(ctx context.Context, fn StepFunc, act *Activation, input map[string]any) (output map[string]any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("step function panicked: %v", r)
		}
	}()
	return fn(ctx, act, input)
}
