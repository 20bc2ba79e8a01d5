package headless

import (
	"bytes"
	"errors"
	"sync"
	"testing"
	"testing/fstest"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/malivvan/hellowebview/bridge"
	"github.com/malivvan/hellowebview/resource"
)

type logBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *logBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *logBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func newView(t *testing.T, opts Options) (*View, *logBuffer) {
	t.Helper()
	buf := &logBuffer{}
	opts.Logger = zerolog.New(buf).Level(zerolog.TraceLevel)
	v, err := New(opts)
	require.NoError(t, err)
	t.Cleanup(v.Close)
	return v, buf
}

func helloFunctions(t *testing.T, onCall func(*bridge.Call)) *bridge.Functions {
	t.Helper()
	fns := bridge.NewFunctions()
	require.NoError(t, fns.Register("sayHelloToJuce", func(call *bridge.Call) {
		if onCall != nil {
			onCall(call)
		}
		_ = call.Resolve("Received in Go: " + call.String(0))
	}))
	return fns
}

func TestView_EvaluateResults(t *testing.T) {
	v, _ := newView(t, Options{})

	got, err := v.Run(`1 + 2`)
	require.NoError(t, err)
	assert.EqualValues(t, 3, got)

	_, err = v.Run(`undefined`)
	assert.ErrorIs(t, err, bridge.ErrUnsupportedReturnType)

	_, err = v.Run(`null`)
	assert.ErrorIs(t, err, bridge.ErrUnsupportedReturnType)

	_, err = v.Run(`throw new Error("boom")`)
	assert.ErrorIs(t, err, bridge.ErrJavascriptException)
	assert.Contains(t, err.Error(), "boom")

	_, err = v.Run(`this is not javascript`)
	require.Error(t, err)
}

func TestView_InitialisationDataAndUserScripts(t *testing.T) {
	v, buf := newView(t, Options{
		InitialisationData: map[string]string{"vendor": "COMPANY", "pluginVersion": "1.0.0"},
		UserScripts:        []string{`console.log("backend here")`, `var fromUserScript = window.__JUCE__.initialisationData.vendor;`},
	})

	got, err := v.Run(`fromUserScript + "/" + window.__JUCE__.initialisationData.pluginVersion`)
	require.NoError(t, err)
	assert.Equal(t, "COMPANY/1.0.0", got)
	assert.Contains(t, buf.String(), "backend here")
}

func TestView_BrokenUserScript(t *testing.T) {
	_, err := New(Options{UserScripts: []string{`(`}})
	assert.Error(t, err)
}

func TestView_NativeFunctionRoundTrip(t *testing.T) {
	v, _ := newView(t, Options{Functions: helloFunctions(t, nil)})

	_, err := v.Run(`
		var reply;
		window.__JUCE__.getNativeFunction("sayHelloToJuce")("hi").then(function(r) { reply = r; });
		undefined;
	`)
	require.ErrorIs(t, err, bridge.ErrUnsupportedReturnType)

	assert.Eventually(t, func() bool {
		got, err := v.Run(`reply`)
		return err == nil && got == "Received in Go: hi"
	}, time.Second, 5*time.Millisecond)
}

func TestView_UnknownFunctionRejects(t *testing.T) {
	v, _ := newView(t, Options{})

	_, err := v.Run(`
		var failure;
		window.__JUCE__.getNativeFunction("nope")().catch(function(e) { failure = e.message; });
		undefined;
	`)
	require.ErrorIs(t, err, bridge.ErrUnsupportedReturnType)

	assert.Eventually(t, func() bool {
		got, err := v.Run(`failure`)
		return err == nil && got == "function nope not found"
	}, time.Second, 5*time.Millisecond)
}

func TestView_EmptyRejectionReachesPageAsFailure(t *testing.T) {
	fns := bridge.NewFunctions()
	require.NoError(t, fns.Register("fail", func(call *bridge.Call) {
		_ = call.Reject(errors.New(""))
	}))
	v, _ := newView(t, Options{Functions: fns})

	_, err := v.Run(`
		var outcome;
		window.__JUCE__.getNativeFunction("fail")().then(
			function(r) { outcome = "resolved:" + r; },
			function(e) { outcome = "rejected:" + e.message; });
		undefined;
	`)
	require.ErrorIs(t, err, bridge.ErrUnsupportedReturnType)

	assert.Eventually(t, func() bool {
		got, err := v.Run(`outcome`)
		return err == nil && got == "rejected:native function failed"
	}, time.Second, 5*time.Millisecond)
}

func scheduleFromCall(delay time.Duration, fired chan struct{}) func(*bridge.Call) {
	return func(call *bridge.Call) {
		call.Bridge.ScheduleEvent(bridge.ScheduledEvent{
			ID:            "exampleEvent",
			Payload:       42,
			DirectPayload: 67,
			Delay:         delay,
			Fired:         func() { close(fired) },
		})
	}
}

const collectEvents = `
	var events = [];
	window.__JUCE__.backend.addEventListener("exampleEvent", function(v) { events.push(v); });
	window.__JUCE__.getNativeFunction("sayHelloToJuce")("hi");
	undefined;
`

func TestView_ScheduledEventBothPathsWhenVisible(t *testing.T) {
	fired := make(chan struct{})
	v, buf := newView(t, Options{Functions: helloFunctions(t, scheduleFromCall(10*time.Millisecond, fired))})

	_, err := v.Run(collectEvents)
	require.ErrorIs(t, err, bridge.ErrUnsupportedReturnType)

	select {
	case <-fired:
	case <-time.After(2 * time.Second):
		t.Fatal("scheduled event did not fire")
	}
	v.Sync()

	got, err := v.Run(`JSON.stringify(events)`)
	require.NoError(t, err)
	assert.Equal(t, "[42,67]", got)
	assert.Contains(t, buf.String(), "scheduled action executed")
	assert.NotContains(t, buf.String(), `"level":"error"`)
}

func TestView_ScheduledEventDirectOnlyWhenHidden(t *testing.T) {
	fired := make(chan struct{})
	v, _ := newView(t, Options{Functions: helloFunctions(t, scheduleFromCall(10*time.Millisecond, fired))})
	v.Hide()

	_, err := v.Run(collectEvents)
	require.ErrorIs(t, err, bridge.ErrUnsupportedReturnType)
	assert.False(t, v.IsVisible())

	<-fired
	v.Sync()

	got, err := v.Run(`JSON.stringify(events)`)
	require.NoError(t, err)
	assert.Equal(t, "[67]", got)
}

func TestView_CloseCancelsScheduledEvent(t *testing.T) {
	fired := make(chan struct{})
	buf := &logBuffer{}
	v, err := New(Options{
		Functions: helloFunctions(t, scheduleFromCall(30*time.Millisecond, fired)),
		Logger:    zerolog.New(buf),
	})
	require.NoError(t, err)

	_, err = v.Run(collectEvents)
	require.ErrorIs(t, err, bridge.ErrUnsupportedReturnType)
	v.Sync()
	v.Close()

	assert.False(t, v.Bridge().Alive())
	assert.Zero(t, v.Bridge().Scheduler().Pending())

	select {
	case <-fired:
		t.Fatal("scheduled event fired after close")
	case <-time.After(60 * time.Millisecond):
	}
	assert.NotContains(t, buf.String(), "scheduled action executed")

	_, err = v.Run(`1`)
	assert.ErrorIs(t, err, bridge.ErrViewDestroyed)
}

func TestView_Visibility(t *testing.T) {
	v, buf := newView(t, Options{Hidden: true})
	assert.False(t, v.IsVisible())

	v.Show()
	v.Sync()
	assert.True(t, v.IsVisible())
	assert.Contains(t, buf.String(), "webview visibility changed")
}

func TestView_Load(t *testing.T) {
	var archive bytes.Buffer
	require.NoError(t, resource.Pack(&archive, fstest.MapFS{
		"app.js": {Data: []byte(`var loaded = "yes";`)},
	}, "webview_files/"))

	store, err := resource.NewStore(archive.Bytes(), "webview_files/", zerolog.Nop())
	require.NoError(t, err)
	provider := resource.NewProvider(store, resource.NewMimeResolver(resource.DefaultMimeTable(), zerolog.Nop()), zerolog.Nop())

	v, _ := newView(t, Options{})
	require.NoError(t, v.Load(provider, "/app.js"))
	assert.ErrorIs(t, v.Load(provider, "/missing.js"), resource.ErrNotFound)

	got, err := v.Run(`loaded`)
	require.NoError(t, err)
	assert.Equal(t, "yes", got)
}
