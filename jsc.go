package webkitgtk

import (
	"encoding/json"
	"sync"

	"github.com/ebitengine/purego"

	"github.com/malivvan/hellowebview/bridge"
)

type evaluation struct {
	window      *Window
	cancellable ptr
	done        func(any, error)
}

// Pending evaluations are keyed by the id passed as user data to a single
// shared finish callback.
var evals = struct {
	sync.Mutex
	once     sync.Once
	callback uintptr
	next     uint
	pending  map[uint]*evaluation
}{pending: make(map[uint]*evaluation)}

func evalFinishCallback() uintptr {
	evals.once.Do(func() {
		evals.callback = purego.NewCallback(func(source ptr, result ptr, data ptr) {
			ev := takeEvaluation(uint(data))
			if ev == nil {
				return
			}
			var errPtr ptr
			value := lib.webkit.WebViewEvaluateJavascriptFinish(webviewPtr(source), result, &errPtr)
			cancelled := lib.g.CancellableIsCancelled(ev.cancellable)
			lib.g.ObjectUnref(ev.cancellable)

			var (
				v   any
				err error
			)
			if value == 0 {
				err = evaluationError(takeGError(errPtr), cancelled, lib.webkit.JavascriptErrorQuark(), lib.g.IoErrorQuark())
			} else {
				v, err = jscToGo(value)
				lib.g.ObjectUnref(value)
			}
			if ev.done != nil {
				ev.done(v, err)
			}
		})
	})
	return evals.callback
}

func registerEvaluation(ev *evaluation) uint {
	evals.Lock()
	defer evals.Unlock()
	evals.next++
	evals.pending[evals.next] = ev
	return evals.next
}

func takeEvaluation(id uint) *evaluation {
	evals.Lock()
	defer evals.Unlock()
	ev := evals.pending[id]
	delete(evals.pending, id)
	return ev
}

// cancelEvaluations cancels everything still running in w. The finish
// callbacks then report EvaluationCanceled.
func cancelEvaluations(w *Window) int {
	evals.Lock()
	defer evals.Unlock()
	n := 0
	for _, ev := range evals.pending {
		if ev.window == w {
			lib.g.CancellableCancel(ev.cancellable)
			n++
		}
	}
	return n
}

// evaluationError classifies a failed evaluate_javascript call.
func evaluationError(e *glibError, cancelled bool, jsDomain, ioDomain uint32) error {
	switch {
	case cancelled || (e != nil && e.domain == ioDomain && e.code == gIOErrorCancelled):
		return &bridge.EvaluationError{Kind: bridge.EvaluationCanceled, Message: "evaluation cancelled"}
	case e == nil:
		return &bridge.EvaluationError{Kind: bridge.EvaluationFailed, Message: "no result"}
	case e.domain == jsDomain && e.code == webkitJavascriptErrorScriptFailed:
		return &bridge.EvaluationError{Kind: bridge.JavascriptException, Message: e.message}
	case e.domain == jsDomain && e.code == webkitJavascriptErrorInvalidValue:
		return &bridge.EvaluationError{Kind: bridge.UnsupportedReturnType, Message: e.message}
	default:
		return &bridge.EvaluationError{Kind: bridge.EvaluationFailed, Message: e.Error()}
	}
}

func jscToGo(value ptr) (any, error) {
	switch {
	case lib.jsc.ValueIsUndefined(value), lib.jsc.ValueIsNull(value):
		return nil, &bridge.EvaluationError{Kind: bridge.UnsupportedReturnType, Message: "script returned no value"}
	case lib.jsc.ValueIsString(value):
		return takeString(lib.jsc.ValueToString(value), lib.g.Free), nil
	case lib.jsc.ValueIsNumber(value):
		return lib.jsc.ValueToDouble(value), nil
	case lib.jsc.ValueIsBoolean(value):
		return lib.jsc.ValueToBoolean(value), nil
	case lib.jsc.ValueIsArray(value), lib.jsc.ValueIsObject(value):
		return decodeJSON(takeString(lib.jsc.ValueToJson(value, 0), lib.g.Free))
	}
	return nil, &bridge.EvaluationError{Kind: bridge.UnsupportedReturnType, Message: "unknown value type"}
}

func decodeJSON(text string) (any, error) {
	var v any
	if err := json.Unmarshal([]byte(text), &v); err != nil {
		return nil, &bridge.EvaluationError{Kind: bridge.UnsupportedReturnType, Message: err.Error()}
	}
	return v, nil
}
