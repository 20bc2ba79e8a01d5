package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

const (
	// InvokeEvent carries native function calls from the page.
	InvokeEvent = "__juce__invoke"
	// CompleteEvent carries native function results back to the page.
	CompleteEvent = "__juce__complete"
)

// WebView is the part of a browser component the bridge drives. Apart from
// Dispatch, which may be called from any goroutine, every method must be
// called on the owner thread.
type WebView interface {
	// EvaluateJavascript runs script asynchronously and reports the result
	// to done on the owner thread. done may be nil.
	EvaluateJavascript(script string, done func(value any, err error))
	IsVisible() bool
	// Dispatch queues fn onto the owner thread, FIFO with other owner work.
	Dispatch(fn func())
	AddListener(l Listener) (remove func())
}

// Options configure a Bridge.
type Options struct {
	// EntryPoint receives backend events, DefaultEntryPoint when empty.
	EntryPoint string
	// CallTimeout rejects calls a native function never completed. Zero disables it.
	CallTimeout time.Duration
	Logger      zerolog.Logger
}

// Message is the envelope posted by the page.
type Message struct {
	EventID string          `json:"eventId"`
	Payload json.RawMessage `json:"payload"`
}

type invocation struct {
	Name     string `json:"name"`
	Params   []any  `json:"params"`
	ResultID int64  `json:"resultId"`
}

type completion struct {
	PromiseID int64  `json:"promiseId"`
	Result    string `json:"result"`
	Error     string `json:"error,omitempty"`
}

// ScheduledEvent is emitted once after Delay through both emission paths.
type ScheduledEvent struct {
	ID string
	// Payload goes through the visibility guarded path.
	Payload any
	// DirectPayload goes through direct evaluation, Payload when nil.
	DirectPayload any
	Delay         time.Duration
	// Fired runs on the owner thread after both emissions.
	Fired func()
}

// Bridge connects one webview to the registered native functions.
type Bridge struct {
	view      WebView
	functions *Functions
	emitter   *Emitter
	scheduler *Scheduler
	timeout   time.Duration
	log       zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	alive  atomic.Bool

	mu        sync.RWMutex
	listeners map[string][]func(json.RawMessage)

	detach func()
}

// New attaches a bridge to view. The function set is frozen from here on.
func New(view WebView, functions *Functions, opts Options) *Bridge {
	if functions == nil {
		functions = NewFunctions()
	}
	functions.freeze()

	log := opts.Logger.With().Str("component", "bridge").Logger()
	ctx, cancel := context.WithCancel(context.Background())
	b := &Bridge{
		view:      view,
		functions: functions,
		emitter:   NewEmitter(view, opts.EntryPoint, opts.Logger),
		scheduler: NewScheduler(),
		timeout:   opts.CallTimeout,
		log:       log,
		ctx:       ctx,
		cancel:    cancel,
		listeners: make(map[string][]func(json.RawMessage)),
	}
	b.alive.Store(true)
	b.detach = view.AddListener(b)
	return b
}

func (b *Bridge) Emitter() *Emitter {
	return b.emitter
}

func (b *Bridge) Scheduler() *Scheduler {
	return b.scheduler
}

// Alive is false once the webview was destroyed.
func (b *Bridge) Alive() bool {
	return b.alive.Load()
}

// VisibilityChanged implements Listener
func (b *Bridge) VisibilityChanged(visible bool) {
	state := "hidden"
	if visible {
		state = "visible"
	}
	b.log.Info().Str("state", state).Msg("webview visibility changed")
}

// Destroyed implements Listener
func (b *Bridge) Destroyed() {
	if !b.alive.CompareAndSwap(true, false) {
		return
	}
	b.log.Info().Int("pending", b.scheduler.Pending()).Msg("webview destroyed, cancelling scheduled events")
	b.scheduler.Close()
	b.cancel()
}

// Close detaches the bridge as if the webview was destroyed.
func (b *Bridge) Close() {
	b.Destroyed()
	if b.detach != nil {
		b.detach()
	}
}

// On registers fn for events the page emits with eventID.
func (b *Bridge) On(eventID string, fn func(payload json.RawMessage)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.listeners[eventID] = append(b.listeners[eventID], fn)
}

// HandleMessage routes a raw message posted by the page. It runs on the
// owner thread.
func (b *Bridge) HandleMessage(raw []byte) error {
	var msg Message
	if err := json.Unmarshal(raw, &msg); err != nil {
		return fmt.Errorf("decode message: %w", err)
	}
	if msg.EventID == "" {
		return fmt.Errorf("decode message: missing eventId")
	}

	if msg.EventID == InvokeEvent {
		var inv invocation
		if err := json.Unmarshal(msg.Payload, &inv); err != nil {
			return fmt.Errorf("decode invocation: %w", err)
		}
		b.invoke(inv)
		return nil
	}

	b.mu.RLock()
	fns := b.listeners[msg.EventID]
	b.mu.RUnlock()
	if len(fns) == 0 {
		b.log.Debug().Str("event", msg.EventID).Msg("no listener for page event")
		return nil
	}
	for _, fn := range fns {
		fn(msg.Payload)
	}
	return nil
}

func (b *Bridge) invoke(inv invocation) {
	b.log.Debug().Str("function", inv.Name).Int64("result_id", inv.ResultID).Msg("native function call")
	b.call(inv.Name, inv.Params, func(result string, err error) {
		b.respond(inv.ResultID, result, err)
	})
}

// Invoke calls a registered function from native code and returns its
// completion. Nothing is sent to the page.
func (b *Bridge) Invoke(name string, params ...any) *Completion {
	return b.call(name, params, nil)
}

func (b *Bridge) call(name string, params []any, respond func(string, error)) *Completion {
	var timer atomic.Pointer[time.Timer]
	done := newCompletion(func(result string, err error) {
		if t := timer.Load(); t != nil {
			t.Stop()
		}
		if err != nil {
			b.log.Warn().Err(err).Str("function", name).Msg("native function rejected")
		}
		if respond != nil {
			respond(result, err)
		}
	})

	fn, ok := b.functions.lookup(name)
	if !ok {
		_ = done.Reject(fmt.Errorf("function %s not found", name))
		return done
	}

	if b.timeout > 0 {
		timer.Store(time.AfterFunc(b.timeout, func() {
			_ = done.Reject(fmt.Errorf("%s: %w", name, ErrCallTimeout))
		}))
	}

	call := &Call{
		ctx:        b.ctx,
		completion: done,
		Name:       name,
		Params:     params,
		Bridge:     b,
	}
	func() {
		defer func() {
			if r := recover(); r != nil {
				if err := done.Reject(fmt.Errorf("%s panicked: %v", name, r)); err != nil {
					b.log.Error().Interface("panic", r).Str("function", name).Msg("native function panicked after completing")
				}
			}
		}()
		fn(call)
	}()
	return done
}

// respond sends a completion to the page. It may run on any goroutine.
func (b *Bridge) respond(resultID int64, result string, err error) {
	payload := completion{PromiseID: resultID, Result: result}
	if err != nil {
		payload.Error = err.Error()
		if payload.Error == "" {
			payload.Error = unknownFailure
		}
	}
	b.view.Dispatch(func() {
		if !b.Alive() {
			b.log.Debug().Int64("result_id", resultID).Msg("webview gone, completion dropped")
			return
		}
		if err := b.emitter.Emit(CompleteEvent, payload); err != nil {
			b.log.Error().Err(err).Int64("result_id", resultID).Msg("deliver completion")
		}
	})
}

// ScheduleEvent emits ev after its delay through the guarded and the direct
// path. The returned function cancels it if it has not fired yet.
func (b *Bridge) ScheduleEvent(ev ScheduledEvent) (cancel func() bool) {
	return b.scheduler.After(ev.Delay, func() {
		b.log.Info().Str("event", ev.ID).Dur("delay", ev.Delay).Msg("scheduled action executed")
		b.view.Dispatch(func() {
			if !b.Alive() {
				b.log.Debug().Str("event", ev.ID).Msg("webview gone, scheduled event dropped")
				return
			}
			if _, err := b.emitter.EmitIfVisible(ev.ID, ev.Payload); err != nil {
				b.log.Error().Err(err).Str("event", ev.ID).Msg("guarded emission")
			}
			direct := ev.DirectPayload
			if direct == nil {
				direct = ev.Payload
			}
			if err := b.emitter.Emit(ev.ID, direct); err != nil {
				b.log.Error().Err(err).Str("event", ev.ID).Msg("direct emission")
			}
			if ev.Fired != nil {
				ev.Fired()
			}
		})
	})
}
