package graphie

import "time"

// Status is the lifecycle state of a session.
type Status string

const (
	StatusActive        Status = "active"
	StatusAwaitingInput Status = "awaiting_input"
	StatusCompleted     Status = "completed"
)

// Step is one unit of workflow logic, stored as a STEP node in the graph.
// Input is the JSON object template carried on the node; string leaf values
// may contain @{session}.step.key|default references. An empty Function
// means the step is a no-op that just advances.
type Step struct {
	ID          string `json:"id"`
	Function    string `json:"function,omitempty"`
	Input       string `json:"input,omitempty"`
	Description string `json:"description,omitempty"`
}

// Condition is one clause on a NEXT edge. Either Variable/Operator/Value
// describe a comparison against a resolved reference, or Expression holds an
// expr-lang expression evaluated against the session's latest outputs.
type Condition struct {
	Variable   string `json:"variable,omitempty" yaml:"variable,omitempty"`
	Operator   string `json:"operator,omitempty" yaml:"operator,omitempty"`
	Value      any    `json:"value,omitempty" yaml:"value,omitempty"`
	Expression string `json:"expression,omitempty" yaml:"expression,omitempty"`
}

// Edge is a directed NEXT relationship between two steps. An edge with no
// conditions and no legacy function is unconditional. Function/Input carry
// the legacy condition-callable form: the named function is dispatched like a
// step function and its "result" output decides the edge.
type Edge struct {
	From       string      `json:"from"`
	To         string      `json:"to"`
	Conditions []Condition `json:"conditions,omitempty"`
	Operator   string      `json:"operator,omitempty"`
	Function   string      `json:"function,omitempty"`
	Input      string      `json:"input,omitempty"`
}

// Message is one chat history entry.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ErrorRecord is one non-fatal error captured during a session.
type ErrorRecord struct {
	StepID    string    `json:"step_id"`
	Cycle     int       `json:"cycle"`
	Error     string    `json:"error"`
	Timestamp time.Time `json:"timestamp"`
}

// Session is the sole unit of runtime state, stored as a SESSION node.
// Memory maps step id to the ordered list of output records, one per
// execution cycle; it is append-only and never reordered.
type Session struct {
	ID          string                      `json:"id"`
	Status      Status                      `json:"status"`
	NextSteps   []string                    `json:"next_steps"`
	Memory      map[string][]map[string]any `json:"memory"`
	ChatHistory []Message                   `json:"chat_history"`
	Errors      []ErrorRecord               `json:"errors"`
	CreatedAt   time.Time                   `json:"created_at"`
	UpdatedAt   time.Time                   `json:"updated_at"`
}

func NewSession(id string) *Session {
	now := time.Now().UTC()
	return &Session{
		ID:          id,
		Status:      StatusActive,
		NextSteps:   []string{},
		Memory:      make(map[string][]map[string]any),
		ChatHistory: []Message{},
		Errors:      []ErrorRecord{},
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// LatestOutput returns the most recent recorded output for a step.
func (s *Session) LatestOutput(stepID string) (map[string]any, bool) {
	outputs := s.Memory[stepID]
	if len(outputs) == 0 {
		return nil, false
	}
	return outputs[len(outputs)-1], true
}

// AppendOutput records a new execution cycle for a step.
func (s *Session) AppendOutput(stepID string, output map[string]any) {
	if s.Memory == nil {
		s.Memory = make(map[string][]map[string]any)
	}
	s.Memory[stepID] = append(s.Memory[stepID], output)
}

// Cycle returns the number of recorded cycles for a step.
func (s *Session) Cycle(stepID string) int {
	return len(s.Memory[stepID])
}

func (s *Session) AddMessage(role, content string) {
	s.ChatHistory = append(s.ChatHistory, Message{Role: role, Content: content})
}

// RecordError appends a non-fatal error to the session. The session stays
// usable; callers inspect Errors to surface failures.
func (s *Session) RecordError(stepID string, err error) {
	s.Errors = append(s.Errors, ErrorRecord{
		StepID:    stepID,
		Cycle:     s.Cycle(stepID),
		Error:     err.Error(),
		Timestamp: time.Now().UTC(),
	})
}

func dedupe(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
