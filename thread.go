package webkitgtk

import (
	"sync"
	"sync/atomic"

	"github.com/ebitengine/purego"
	"github.com/rs/zerolog"

	"github.com/malivvan/hellowebview/internal/dispatch"
)

// mainThread marshals work onto the GTK main loop. Functions are queued in
// FIFO order and drained from a single idle source, so only one purego
// callback exists no matter how much is dispatched. Work queued before the
// application activates waits in the same queue until start.
type mainThread struct {
	id        atomic.Uint64
	log       zerolog.Logger
	queue     *dispatch.Queue
	started   atomic.Bool
	scheduled atomic.Bool
}

var (
	idleOnce     sync.Once
	idleCallback uintptr
	idleThread   atomic.Pointer[mainThread]
)

func newMainThread(log zerolog.Logger) *mainThread {
	return &mainThread{
		log:   log.With().Str("component", "main-thread").Logger(),
		queue: dispatch.NewQueue(),
	}
}

// start binds the queue to the calling thread, which must be the GTK main
// thread, and schedules everything queued so far.
func (mt *mainThread) start() {
	idleOnce.Do(func() {
		idleCallback = purego.NewCallback(func(ptr) int {
			if mt := idleThread.Load(); mt != nil {
				mt.drain()
			}
			return gSourceRemove
		})
	})
	idleThread.Store(mt)
	mt.id.Store(lib.g.ThreadSelf())
	mt.started.Store(true)
	mt.schedule()
	mt.log.Debug().Uint64("thread", mt.id.Load()).Int("queued", mt.queue.Len()).Msg("main thread started")
}

func (mt *mainThread) ID() uint64 {
	return mt.id.Load()
}

func (mt *mainThread) Running() bool {
	id := mt.id.Load()
	return id != 0 && id == lib.g.ThreadSelf()
}

// dispatch queues fn behind everything dispatched before it. It never runs
// fn inline, even on the main thread.
func (mt *mainThread) dispatch(fn func()) bool {
	if !mt.queue.Push(fn) {
		mt.log.Debug().Msg("main loop stopped, dispatch dropped")
		return false
	}
	if mt.started.Load() {
		mt.schedule()
	}
	return true
}

func (mt *mainThread) schedule() {
	if mt.scheduled.CompareAndSwap(false, true) {
		lib.g.IdleAdd(idleCallback, 0)
	}
}

func (mt *mainThread) drain() {
	mt.scheduled.Store(false)
	mt.queue.Drain(func(r any) {
		mt.log.Error().Interface("panic", r).Msg("panic on main thread")
		if h := PanicHandler; h != nil {
			h(r)
		}
	})
}

// stop drops work dispatched after the main loop returned.
func (mt *mainThread) stop() {
	mt.queue.Close()
}

func (mt *mainThread) InvokeSync(fn func()) {
	if mt.Running() {
		fn()
		return
	}
	done := make(chan struct{})
	if mt.dispatch(func() {
		defer close(done)
		fn()
	}) {
		<-done
	}
}

func (mt *mainThread) InvokeAsync(fn func()) {
	mt.dispatch(fn)
}
