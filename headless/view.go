// Package headless runs pages without a browser. Scripts execute in an
// embedded JavaScript engine owned by a single goroutine, which plays the
// part of the GUI thread of a real webview.
package headless

import (
	"errors"
	"fmt"
	"time"

	"github.com/grafana/sobek"
	"github.com/rs/zerolog"

	"github.com/malivvan/hellowebview/bridge"
	"github.com/malivvan/hellowebview/internal/dispatch"
	"github.com/malivvan/hellowebview/resource"
)

// postFunction is the global the front-end shim posts messages through.
const postFunction = "__bridgePost"

type Options struct {
	Functions          *bridge.Functions
	InitialisationData map[string]string
	// UserScripts run after the bridge shim and before any page script.
	UserScripts []string
	EntryPoint  string
	CallTimeout time.Duration
	// Hidden starts the view invisible.
	Hidden bool
	Logger zerolog.Logger
}

// View is a headless webview. Every exported method is safe to call from
// any goroutine except Run and Load, which must not be called from
// callbacks running on the owner goroutine.
type View struct {
	bridge.Lifecycle

	log    zerolog.Logger
	rt     *sobek.Runtime
	bridge *bridge.Bridge

	queue *dispatch.Queue
	done  chan struct{}
}

// New starts the owner goroutine and installs the bridge shim and user
// scripts.
func New(opts Options) (*View, error) {
	v := &View{
		log:   opts.Logger.With().Str("component", "headless").Logger(),
		queue: dispatch.NewQueue(),
		done:  make(chan struct{}),
	}
	v.bridge = bridge.New(v, opts.Functions, bridge.Options{
		EntryPoint:  opts.EntryPoint,
		CallTimeout: opts.CallTimeout,
		Logger:      opts.Logger,
	})
	go v.loop()

	shim, err := bridge.Script(bridge.ScriptOptions{
		PostMessage:        postFunction + "(message);",
		InitialisationData: opts.InitialisationData,
	})
	if err != nil {
		v.Close()
		return nil, err
	}

	var setupErr error
	v.invokeSync(func() {
		v.rt = sobek.New()
		if setupErr = v.installGlobals(); setupErr != nil {
			return
		}
		if _, setupErr = v.rt.RunString(shim); setupErr != nil {
			setupErr = fmt.Errorf("install bridge script: %w", setupErr)
			return
		}
		for i, script := range opts.UserScripts {
			if _, err := v.rt.RunString(script); err != nil {
				setupErr = fmt.Errorf("user script %d: %w", i, err)
				return
			}
		}
		if !opts.Hidden {
			v.SetVisible(true)
		}
	})
	if setupErr != nil {
		v.Close()
		return nil, setupErr
	}
	return v, nil
}

func (v *View) installGlobals() error {
	global := v.rt.GlobalObject()
	if err := v.rt.Set("window", global); err != nil {
		return err
	}

	console := v.rt.NewObject()
	for name, level := range map[string]zerolog.Level{
		"log":   zerolog.InfoLevel,
		"info":  zerolog.InfoLevel,
		"debug": zerolog.DebugLevel,
		"warn":  zerolog.WarnLevel,
		"error": zerolog.ErrorLevel,
	} {
		level := level
		if err := console.Set(name, func(call sobek.FunctionCall) sobek.Value {
			args := make([]any, len(call.Arguments))
			for i, a := range call.Arguments {
				args[i] = a.String()
			}
			v.log.WithLevel(level).Str("source", "console").Msg(fmt.Sprint(args...))
			return sobek.Undefined()
		}); err != nil {
			return err
		}
	}
	if err := v.rt.Set("console", console); err != nil {
		return err
	}

	return v.rt.Set(postFunction, func(message string) {
		if err := v.bridge.HandleMessage([]byte(message)); err != nil {
			v.log.Warn().Err(err).Msg("invalid bridge message")
		}
	})
}

// Bridge returns the bridge attached to this view.
func (v *View) Bridge() *bridge.Bridge {
	return v.bridge
}

// Dispatch queues fn onto the owner goroutine. Work queued after Close is
// dropped.
func (v *View) Dispatch(fn func()) {
	if !v.queue.Push(fn) {
		v.log.Debug().Msg("view closed, dispatch dropped")
	}
}

func (v *View) loop() {
	defer close(v.done)
	v.queue.Loop(func(r any) {
		v.log.Error().Interface("panic", r).Msg("panic on owner goroutine")
	})
}

func (v *View) invokeSync(fn func()) bool {
	ran := make(chan struct{})
	v.Dispatch(func() {
		defer close(ran)
		fn()
	})
	select {
	case <-ran:
		return true
	case <-v.done:
		return false
	}
}

// EvaluateJavascript implements bridge.WebView. Results are delivered in a
// later owner task, like a browser engine reporting back asynchronously.
func (v *View) EvaluateJavascript(script string, done func(any, error)) {
	value, err := v.evaluate(script)
	if done == nil {
		return
	}
	v.Dispatch(func() { done(value, err) })
}

func (v *View) evaluate(script string) (any, error) {
	if v.Lifecycle.Destroyed() {
		return nil, &bridge.EvaluationError{Kind: bridge.EvaluationCanceled, Message: "view destroyed"}
	}
	value, err := v.rt.RunString(script)
	if err != nil {
		var exception *sobek.Exception
		if errors.As(err, &exception) {
			return nil, &bridge.EvaluationError{Kind: bridge.JavascriptException, Message: exception.Error()}
		}
		var interrupted *sobek.InterruptedError
		if errors.As(err, &interrupted) {
			return nil, &bridge.EvaluationError{Kind: bridge.EvaluationCanceled, Message: interrupted.Error()}
		}
		return nil, &bridge.EvaluationError{Kind: bridge.EvaluationFailed, Message: err.Error()}
	}
	if value == nil || sobek.IsUndefined(value) || sobek.IsNull(value) {
		return nil, &bridge.EvaluationError{Kind: bridge.UnsupportedReturnType, Message: "script returned no value"}
	}
	return value.Export(), nil
}

// Run evaluates script on the owner goroutine and waits for the result.
func (v *View) Run(script string) (any, error) {
	var (
		value any
		err   error
	)
	if !v.invokeSync(func() { value, err = v.evaluate(script) }) {
		return nil, bridge.ErrViewDestroyed
	}
	return value, err
}

// Load runs the resource at path as a script, like a page including it.
func (v *View) Load(provider *resource.Provider, path string) error {
	res, ok := provider.Provide(path)
	if !ok {
		return fmt.Errorf("load %s: %w", path, resource.ErrNotFound)
	}
	_, err := v.Run(string(res.Data))
	if err != nil && !errors.Is(err, bridge.ErrUnsupportedReturnType) {
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

// Show and Hide change visibility on the owner goroutine.
func (v *View) Show() {
	v.Dispatch(func() { v.SetVisible(true) })
}

func (v *View) Hide() {
	v.Dispatch(func() { v.SetVisible(false) })
}

// Sync waits until all work queued before it has run.
func (v *View) Sync() {
	v.invokeSync(func() {})
}

// Close destroys the view, then drains the queue and stops the owner
// goroutine.
func (v *View) Close() {
	v.Dispatch(v.Destroy)
	v.queue.Close()
	<-v.done
}

// Done is closed once the owner goroutine stopped.
func (v *View) Done() <-chan struct{} {
	return v.done
}
