package bridge

import "sync"

// Listener observes a webview's visibility and destruction.
type Listener interface {
	VisibilityChanged(visible bool)
	Destroyed()
}

// Lifecycle tracks visibility and destruction of a webview and fans the
// changes out to listeners. Hosts embed it to satisfy the corresponding
// part of WebView.
type Lifecycle struct {
	mu        sync.Mutex
	visible   bool
	destroyed bool
	nextID    int
	listeners map[int]Listener
}

// IsVisible reports the last visibility passed to SetVisible.
func (l *Lifecycle) IsVisible() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.visible && !l.destroyed
}

// Destroyed reports whether Destroy was called.
func (l *Lifecycle) Destroyed() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.destroyed
}

// AddListener registers x and returns a function removing it again.
func (l *Lifecycle) AddListener(x Listener) (remove func()) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.listeners == nil {
		l.listeners = make(map[int]Listener)
	}
	id := l.nextID
	l.nextID++
	l.listeners[id] = x
	return func() {
		l.mu.Lock()
		delete(l.listeners, id)
		l.mu.Unlock()
	}
}

// SetVisible records a visibility change. Listeners are only notified when
// the value actually changes.
func (l *Lifecycle) SetVisible(visible bool) {
	l.mu.Lock()
	if l.destroyed || l.visible == visible {
		l.mu.Unlock()
		return
	}
	l.visible = visible
	listeners := l.snapshot()
	l.mu.Unlock()

	for _, x := range listeners {
		x.VisibilityChanged(visible)
	}
}

// Destroy marks the webview as gone. Only the first call notifies.
func (l *Lifecycle) Destroy() {
	l.mu.Lock()
	if l.destroyed {
		l.mu.Unlock()
		return
	}
	l.destroyed = true
	l.visible = false
	listeners := l.snapshot()
	l.listeners = nil
	l.mu.Unlock()

	for _, x := range listeners {
		x.Destroyed()
	}
}

func (l *Lifecycle) snapshot() []Listener {
	out := make([]Listener, 0, len(l.listeners))
	for _, x := range l.listeners {
		out = append(out, x)
	}
	return out
}
