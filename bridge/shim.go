package bridge

import (
	"encoding/json"
	"fmt"
	"strings"
	"text/template"
)

// ScriptOptions parameterise the front-end shim for a host.
type ScriptOptions struct {
	// PostMessage is a JS statement sending the string variable `message`
	// to the native side.
	PostMessage string
	// InitialisationData is exposed as window.__JUCE__.initialisationData.
	InitialisationData map[string]string
}

// Script renders the front-end half of the bridge. It must run before any
// page script, e.g. as a user script injected at document start.
func Script(opts ScriptOptions) (string, error) {
	if opts.PostMessage == "" {
		return "", fmt.Errorf("render bridge script: PostMessage is required")
	}
	data := opts.InitialisationData
	if data == nil {
		data = map[string]string{}
	}
	init, err := json.Marshal(data)
	if err != nil {
		return "", fmt.Errorf("render bridge script: %w", err)
	}

	var buf strings.Builder
	if err := shimTmpl.Execute(&buf, struct {
		PostMessage        string
		InitialisationData string
		InvokeEvent        string
		CompleteEvent      string
	}{
		PostMessage:        opts.PostMessage,
		InitialisationData: string(init),
		InvokeEvent:        InvokeEvent,
		CompleteEvent:      CompleteEvent,
	}); err != nil {
		return "", fmt.Errorf("render bridge script: %w", err)
	}
	return buf.String(), nil
}

var shimTmpl = template.Must(template.New("bridge.js").Parse(`(function(window) {
if (window.__JUCE__ && window.__JUCE__.backend) return;
const post = function(message) { {{.PostMessage}} };
class Backend {
	constructor() {
		this._lastId = 0;
		this._listeners = new Map();
	}
	addEventListener(eventId, fn) {
		if (!this._listeners.has(eventId)) this._listeners.set(eventId, new Map());
		const id = ++this._lastId;
		this._listeners.get(eventId).set(id, fn);
		return [eventId, id];
	}
	removeEventListener(token) {
		const fns = this._listeners.get(token[0]);
		if (fns) fns.delete(token[1]);
	}
	emitEvent(eventId, payload) {
		post(JSON.stringify({eventId: eventId, payload: payload === undefined ? null : payload}));
	}
	emitByBackend(eventId, payload) {
		const fns = this._listeners.get(eventId);
		if (!fns) return;
		const value = JSON.parse(payload);
		for (const fn of Array.from(fns.values())) fn(value);
	}
}
const backend = new Backend();
const pending = new Map();
let nextResultId = 0;
backend.addEventListener("{{.CompleteEvent}}", function(data) {
	const call = pending.get(data.promiseId);
	if (!call) return;
	pending.delete(data.promiseId);
	if ("error" in data) call[1](new Error(data.error));
	else call[0](data.result);
});
window.__JUCE__ = {
	backend: backend,
	initialisationData: {{.InitialisationData}},
	getNativeFunction: function(name) {
		return function() {
			const params = Array.prototype.slice.call(arguments);
			const resultId = nextResultId++;
			return new Promise(function(resolve, reject) {
				pending.set(resultId, [resolve, reject]);
				backend.emitEvent("{{.InvokeEvent}}", {name: name, params: params, resultId: resultId});
			});
		};
	}
};
})(globalThis);`))
