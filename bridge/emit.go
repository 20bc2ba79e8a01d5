package bridge

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"
)

// DefaultEntryPoint is the front-end function receiving backend events.
const DefaultEntryPoint = "window.__JUCE__.backend.emitByBackend"

var singleQuoteEscaper = strings.NewReplacer(`\`, `\\`, `'`, `\'`)

// EscapeSingleQuoted escapes s for embedding in a single-quoted JS string.
func EscapeSingleQuoted(s string) string {
	return singleQuoteEscaper.Replace(s)
}

// EmitScript builds the script delivering value as eventID to entryPoint.
// The value travels as JSON text inside a single-quoted string literal.
func EmitScript(entryPoint, eventID string, value any) (string, error) {
	id, err := json.Marshal(eventID)
	if err != nil {
		return "", fmt.Errorf("marshal event id: %w", err)
	}

	var payload bytes.Buffer
	enc := json.NewEncoder(&payload)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(value); err != nil {
		return "", fmt.Errorf("marshal event payload: %w", err)
	}
	text := strings.TrimSuffix(payload.String(), "\n")

	return entryPoint + "(" + string(id) + ", '" + EscapeSingleQuoted(text) + "');", nil
}

// Emitter delivers events from native code into the page. It must only be
// used on the webview's owner thread.
type Emitter struct {
	view       WebView
	entryPoint string
	log        zerolog.Logger
}

func NewEmitter(view WebView, entryPoint string, log zerolog.Logger) *Emitter {
	if entryPoint == "" {
		entryPoint = DefaultEntryPoint
	}
	return &Emitter{
		view:       view,
		entryPoint: entryPoint,
		log:        log.With().Str("component", "emitter").Logger(),
	}
}

// EmitIfVisible emits only while the webview is visible. Hidden webviews
// drop the event and report false.
func (e *Emitter) EmitIfVisible(eventID string, value any) (bool, error) {
	if !e.view.IsVisible() {
		e.log.Debug().Str("event", eventID).Msg("webview hidden, event dropped")
		return false, nil
	}
	if err := e.Emit(eventID, value); err != nil {
		return false, err
	}
	return true, nil
}

// Emit evaluates the dispatch script regardless of visibility.
func (e *Emitter) Emit(eventID string, value any) error {
	script, err := EmitScript(e.entryPoint, eventID, value)
	if err != nil {
		return err
	}
	e.log.Debug().Str("event", eventID).Msg("emitting event")
	e.view.EvaluateJavascript(script, func(_ any, err error) {
		e.handleDispatchResult(eventID, err)
	})
	return nil
}

// handleDispatchResult filters the outcome of a dispatch script. The dispatch
// call returns nothing, so an unsupported return type is the normal outcome
// here and only here.
func (e *Emitter) handleDispatchResult(eventID string, err error) {
	if err == nil {
		return
	}
	if errors.Is(err, ErrUnsupportedReturnType) {
		e.log.Trace().Str("event", eventID).Msg("dispatch returned no value")
		return
	}
	e.log.Error().Err(err).Str("event", eventID).Msg("event dispatch failed")
}
