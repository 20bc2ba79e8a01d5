package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestBridge(t *testing.T, view *fakeView, register func(*Functions), opts Options) *Bridge {
	t.Helper()
	fns := NewFunctions()
	if register != nil {
		register(fns)
	}
	b := New(view, fns, opts)
	t.Cleanup(b.Close)
	return b
}

func invokeMessage(t *testing.T, name string, resultID int, params ...any) []byte {
	t.Helper()
	payload, err := json.Marshal(map[string]any{"name": name, "params": params, "resultId": resultID})
	require.NoError(t, err)
	raw, err := json.Marshal(Message{EventID: InvokeEvent, Payload: payload})
	require.NoError(t, err)
	return raw
}

func TestBridge_InvokeResolves(t *testing.T) {
	view := newFakeView(true)
	b := newTestBridge(t, view, func(fns *Functions) {
		require.NoError(t, fns.Register("sayHello", func(call *Call) {
			_ = call.Resolve("Received in Go: " + call.String(0))
		}))
	}, Options{})

	require.NoError(t, b.HandleMessage(invokeMessage(t, "sayHello", 7, "hi")))
	assert.Equal(t, []string{
		`window.__JUCE__.backend.emitByBackend("__juce__complete", '{"promiseId":7,"result":"Received in Go: hi"}');`,
	}, view.Scripts())
}

func TestBridge_InvokeUnknownFunctionRejects(t *testing.T) {
	view := newFakeView(true)
	b := newTestBridge(t, view, nil, Options{})

	require.NoError(t, b.HandleMessage(invokeMessage(t, "missing", 1)))
	require.Len(t, view.Scripts(), 1)
	assert.Contains(t, view.Scripts()[0], `"error":"function missing not found"`)
}

func TestBridge_RejectWithEmptyMessageStillFails(t *testing.T) {
	view := newFakeView(true)
	b := newTestBridge(t, view, func(fns *Functions) {
		require.NoError(t, fns.Register("fail", func(call *Call) {
			_ = call.Reject(errors.New(""))
		}))
	}, Options{})

	require.NoError(t, b.HandleMessage(invokeMessage(t, "fail", 3)))
	require.Len(t, view.Scripts(), 1)
	assert.Contains(t, view.Scripts()[0], `"error":"native function failed"`)
}

func TestBridge_AsyncCompletionFromOtherGoroutine(t *testing.T) {
	view := newFakeView(true)
	view.queue = true
	release := make(chan struct{})
	b := newTestBridge(t, view, func(fns *Functions) {
		require.NoError(t, fns.Register("later", func(call *Call) {
			go func() {
				<-release
				_ = call.Resolve("done")
			}()
		}))
	}, Options{})

	c := b.Invoke("later")
	assert.False(t, c.Completed())
	close(release)

	result, err := c.Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "done", result)
	// Native Invoke sends nothing to the page.
	view.drain()
	assert.Empty(t, view.Scripts())
}

func TestBridge_DoubleCompletionRejected(t *testing.T) {
	view := newFakeView(true)
	var second error
	b := newTestBridge(t, view, func(fns *Functions) {
		require.NoError(t, fns.Register("twice", func(call *Call) {
			_ = call.Resolve("a")
			second = call.Resolve("b")
		}))
	}, Options{})

	require.NoError(t, b.HandleMessage(invokeMessage(t, "twice", 3)))
	assert.ErrorIs(t, second, ErrAlreadyCompleted)
	assert.Len(t, view.Scripts(), 1)
}

func TestBridge_CallTimeout(t *testing.T) {
	view := newFakeView(true)
	b := newTestBridge(t, view, func(fns *Functions) {
		require.NoError(t, fns.Register("never", func(*Call) {}))
	}, Options{CallTimeout: 20 * time.Millisecond})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_, err := b.Invoke("never").Wait(ctx)
	assert.ErrorIs(t, err, ErrCallTimeout)
}

func TestBridge_PanicRejects(t *testing.T) {
	view := newFakeView(true)
	b := newTestBridge(t, view, func(fns *Functions) {
		require.NoError(t, fns.Register("boom", func(*Call) { panic("kaput") }))
	}, Options{})

	_, err := b.Invoke("boom").Wait(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "kaput")
}

func TestBridge_PageEventsReachListeners(t *testing.T) {
	view := newFakeView(true)
	b := newTestBridge(t, view, nil, Options{})

	var got []string
	b.On("ping", func(payload json.RawMessage) {
		got = append(got, string(payload))
	})

	require.NoError(t, b.HandleMessage([]byte(`{"eventId":"ping","payload":{"n":1}}`)))
	require.NoError(t, b.HandleMessage([]byte(`{"eventId":"other","payload":null}`)))
	assert.Equal(t, []string{`{"n":1}`}, got)

	assert.Error(t, b.HandleMessage([]byte(`not json`)))
	assert.Error(t, b.HandleMessage([]byte(`{"payload":1}`)))
}

func TestBridge_FreezesFunctions(t *testing.T) {
	fns := NewFunctions()
	log, _ := testLogger()
	b := New(newFakeView(true), fns, Options{Logger: log})
	defer b.Close()

	assert.ErrorIs(t, fns.Register("late", func(*Call) {}), ErrFunctionsFrozen)
}

func TestBridge_DestroyCancelsCallContext(t *testing.T) {
	view := newFakeView(true)
	var ctx context.Context
	b := newTestBridge(t, view, func(fns *Functions) {
		require.NoError(t, fns.Register("hold", func(call *Call) { ctx = call.Context() }))
	}, Options{})

	b.Invoke("hold")
	require.NotNil(t, ctx)
	assert.NoError(t, ctx.Err())

	view.Destroy()
	assert.ErrorIs(t, ctx.Err(), context.Canceled)
	assert.False(t, b.Alive())
}

func TestBridge_CompletionDroppedAfterDestroy(t *testing.T) {
	view := newFakeView(true)
	var pending *Call
	b := newTestBridge(t, view, func(fns *Functions) {
		require.NoError(t, fns.Register("hold", func(call *Call) { pending = call }))
	}, Options{})

	require.NoError(t, b.HandleMessage(invokeMessage(t, "hold", 1)))
	view.Destroy()
	require.NoError(t, pending.Resolve("late"))
	assert.Empty(t, view.Scripts())
}

func waitFired(t *testing.T, fired <-chan struct{}) {
	t.Helper()
	select {
	case <-fired:
	case <-time.After(2 * time.Second):
		t.Fatal("scheduled event did not fire")
	}
}

func TestBridge_ScheduleEventVisible(t *testing.T) {
	view := newFakeView(true)
	b := newTestBridge(t, view, nil, Options{})

	fired := make(chan struct{})
	b.ScheduleEvent(ScheduledEvent{
		ID:            "exampleEvent",
		Payload:       42,
		DirectPayload: 67,
		Delay:         10 * time.Millisecond,
		Fired:         func() { close(fired) },
	})
	waitFired(t, fired)

	assert.Equal(t, []string{
		`window.__JUCE__.backend.emitByBackend("exampleEvent", '42');`,
		`window.__JUCE__.backend.emitByBackend("exampleEvent", '67');`,
	}, view.Scripts())
}

func TestBridge_ScheduleEventHidden(t *testing.T) {
	view := newFakeView(false)
	b := newTestBridge(t, view, nil, Options{})

	fired := make(chan struct{})
	b.ScheduleEvent(ScheduledEvent{
		ID:            "exampleEvent",
		Payload:       42,
		DirectPayload: 67,
		Delay:         time.Millisecond,
		Fired:         func() { close(fired) },
	})
	waitFired(t, fired)

	assert.Equal(t, []string{`window.__JUCE__.backend.emitByBackend("exampleEvent", '67');`}, view.Scripts())
}

func TestBridge_ScheduleEventCancelledByDestroy(t *testing.T) {
	view := newFakeView(true)
	log, buf := testLogger()
	b := newTestBridge(t, view, nil, Options{Logger: log})

	b.ScheduleEvent(ScheduledEvent{ID: "exampleEvent", Payload: 42, Delay: 30 * time.Millisecond})
	assert.Equal(t, 1, b.Scheduler().Pending())
	view.Destroy()
	assert.Equal(t, 0, b.Scheduler().Pending())

	time.Sleep(60 * time.Millisecond)
	assert.Empty(t, view.Scripts())
	assert.NotContains(t, buf.String(), "scheduled action executed")

	cancel := b.ScheduleEvent(ScheduledEvent{ID: "again", Delay: time.Millisecond})
	assert.False(t, cancel())
}

func TestBridge_ScheduleEventDroppedWhenDestroyedInFlight(t *testing.T) {
	view := newFakeView(true)
	view.queue = true
	b := newTestBridge(t, view, nil, Options{})

	fired := false
	b.ScheduleEvent(ScheduledEvent{ID: "ev", Payload: 1, Fired: func() { fired = true }})
	require.Eventually(t, func() bool {
		view.mu.Lock()
		defer view.mu.Unlock()
		return len(view.pending) == 1
	}, time.Second, time.Millisecond)

	view.Destroy()
	view.drain()
	assert.False(t, fired)
	assert.Empty(t, view.Scripts())
}

func TestBridge_EvaluationErrorsSurface(t *testing.T) {
	view := newFakeView(true)
	log, buf := testLogger()
	b := newTestBridge(t, view, nil, Options{Logger: log})
	view.evalErr = errors.New("renderer crashed")

	require.NoError(t, b.Emitter().Emit("ev", 1))
	assert.Contains(t, buf.String(), "renderer crashed")
}
