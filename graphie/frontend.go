package graphie

import (
	"sort"
	"strings"
)

// FrontendState is the derived projection consumed by the chat front end. It
// is always well-formed; engine failures set Error and Message instead of
// propagating.
type FrontendState struct {
	Error           bool           `json:"error,omitempty"`
	Message         string         `json:"message,omitempty"`
	AwaitingInput   bool           `json:"awaiting_input"`
	Statement       string         `json:"statement,omitempty"`
	Reply           string         `json:"reply,omitempty"`
	HasPendingSteps bool           `json:"has_pending_steps"`
	StructuredData  map[string]any `json:"structured_data,omitempty"`
}

// ErrorState builds the substitute response returned when a caller-facing
// operation fails.
func ErrorState(message string) FrontendState {
	return FrontendState{Error: true, Message: message}
}

// projectState inspects the latest memory entries of designated steps:
// request- steps produce the statement shown while awaiting input, reply-
// producing steps supply the reply text, generate- steps supply structured
// data. Step ids are scanned in sorted order so the projection is
// deterministic; later ids win within a category.
func (e *Engine) projectState(sess *Session) FrontendState {
	state := FrontendState{
		AwaitingInput:   sess.Status == StatusAwaitingInput,
		HasPendingSteps: sess.Status == StatusActive && len(sess.NextSteps) > 0,
	}

	stepIDs := make([]string, 0, len(sess.Memory))
	for stepID := range sess.Memory {
		stepIDs = append(stepIDs, stepID)
	}
	sort.Strings(stepIDs)

	for _, stepID := range stepIDs {
		latest, ok := sess.LatestOutput(stepID)
		if !ok {
			continue
		}
		if statement, ok := latest["statement"].(string); ok {
			state.Statement = statement
		}
		if reply, ok := latest["reply"].(string); ok {
			state.Reply = reply
		}
		if strings.HasPrefix(stepID, "generate-") {
			state.StructuredData = latest
		}
	}

	return state
}
