package bridge

import (
	"errors"
	"fmt"
)

var (
	ErrAlreadyCompleted = errors.New("bridge: completion already invoked")
	ErrFunctionsFrozen  = errors.New("bridge: functions are frozen once a webview is attached")
	ErrCallTimeout      = errors.New("bridge: native function did not complete in time")
	ErrViewDestroyed    = errors.New("bridge: webview destroyed")
)

// unknownFailure stands in for rejections whose error has no message, so
// the page still sees a failure.
const unknownFailure = "native function failed"

// EvaluationErrorKind classifies script evaluation failures.
type EvaluationErrorKind int

const (
	EvaluationFailed EvaluationErrorKind = iota
	UnsupportedReturnType
	JavascriptException
	EvaluationCanceled
)

func (k EvaluationErrorKind) String() string {
	switch k {
	case UnsupportedReturnType:
		return "unsupported return type"
	case JavascriptException:
		return "javascript exception"
	case EvaluationCanceled:
		return "canceled"
	default:
		return "evaluation failed"
	}
}

// EvaluationError is reported by WebView.EvaluateJavascript.
type EvaluationError struct {
	Kind    EvaluationErrorKind
	Message string
}

func (e *EvaluationError) Error() string {
	if e.Message == "" {
		return "evaluate javascript: " + e.Kind.String()
	}
	return fmt.Sprintf("evaluate javascript: %s: %s", e.Kind, e.Message)
}

// Is matches any EvaluationError of the same kind, so errors.Is works
// against the sentinels below regardless of the message.
func (e *EvaluationError) Is(target error) bool {
	t, ok := target.(*EvaluationError)
	return ok && t.Kind == e.Kind
}

var (
	// ErrUnsupportedReturnType is returned when a script completes with a
	// value the host cannot convert, typically undefined.
	ErrUnsupportedReturnType = &EvaluationError{Kind: UnsupportedReturnType}
	ErrJavascriptException   = &EvaluationError{Kind: JavascriptException}
	ErrEvaluationCanceled    = &EvaluationError{Kind: EvaluationCanceled}
)
