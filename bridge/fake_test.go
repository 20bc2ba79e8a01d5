package bridge

import (
	"bytes"
	"sync"

	"github.com/rs/zerolog"
)

// fakeView records evaluated scripts. Dispatched work runs inline unless
// queue is set, in which case it waits for drain.
type fakeView struct {
	Lifecycle

	mu      sync.Mutex
	scripts []string
	evalErr error
	queue   bool
	pending []func()
}

func newFakeView(visible bool) *fakeView {
	v := &fakeView{}
	v.SetVisible(visible)
	return v
}

func (v *fakeView) EvaluateJavascript(script string, done func(any, error)) {
	v.mu.Lock()
	v.scripts = append(v.scripts, script)
	err := v.evalErr
	v.mu.Unlock()
	if done != nil {
		done(nil, err)
	}
}

func (v *fakeView) Dispatch(fn func()) {
	v.mu.Lock()
	if v.queue {
		v.pending = append(v.pending, fn)
		v.mu.Unlock()
		return
	}
	v.mu.Unlock()
	fn()
}

func (v *fakeView) drain() {
	v.mu.Lock()
	fns := v.pending
	v.pending = nil
	v.mu.Unlock()
	for _, fn := range fns {
		fn()
	}
}

func (v *fakeView) Scripts() []string {
	v.mu.Lock()
	defer v.mu.Unlock()
	return append([]string(nil), v.scripts...)
}

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func testLogger() (zerolog.Logger, *syncBuffer) {
	buf := &syncBuffer{}
	return zerolog.New(buf).Level(zerolog.TraceLevel), buf
}
