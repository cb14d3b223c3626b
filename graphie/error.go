package graphie

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned by stores when a step or session does not exist.
var ErrNotFound = errors.New("not found")

// EngineErrorCode identifies known engine-generated error codes.
type EngineErrorCode string

const (
	ErrorCodeInputParse      EngineErrorCode = "INPUT_PARSE"
	ErrorCodeUnknownFunction EngineErrorCode = "UNKNOWN_FUNCTION"
	ErrorCodeDispatch        EngineErrorCode = "DISPATCH_FAILED"
	ErrorCodeStore           EngineErrorCode = "STORE_ERROR"
)

// EngineError is the canonical error recorded against a session when a step
// fails. It is JSON-serializable so it survives the store boundary intact.
type EngineError struct {
	Code    EngineErrorCode `json:"code"`
	StepID  string          `json:"step"`
	Message string          `json:"message"`
	Cause   error           `json:"-"`
}

func (e *EngineError) Error() string {
	return fmt.Sprintf("[%s] %s (step: %s)", e.Code, e.Message, e.StepID)
}

func (e *EngineError) Unwrap() error {
	return e.Cause
}

func newEngineError(code EngineErrorCode, stepID string, cause error) *EngineError {
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	return &EngineError{Code: code, StepID: stepID, Message: msg, Cause: cause}
}
