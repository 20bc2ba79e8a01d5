package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"sync"
)

// NativeFunction is invoked from JavaScript. It must complete the call
// exactly once, either before returning or later from any goroutine.
type NativeFunction func(call *Call)

// Functions holds the native functions exposed to JavaScript. Registration
// happens before any webview is created; the set is frozen afterwards.
type Functions struct {
	mu     sync.RWMutex
	fns    map[string]NativeFunction
	frozen bool
}

func NewFunctions() *Functions {
	return &Functions{fns: make(map[string]NativeFunction)}
}

// Register exposes fn under name.
func (f *Functions) Register(name string, fn NativeFunction) error {
	if name == "" {
		return errors.New("function name cannot be empty")
	}
	if fn == nil {
		return errors.New("native function cannot be nil")
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.frozen {
		return fmt.Errorf("register %s: %w", name, ErrFunctionsFrozen)
	}
	if _, exists := f.fns[name]; exists {
		return fmt.Errorf("function %s already exists", name)
	}
	f.fns[name] = fn
	return nil
}

// Names returns the registered names in sorted order.
func (f *Functions) Names() []string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	names := make([]string, 0, len(f.fns))
	for name := range f.fns {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (f *Functions) freeze() {
	f.mu.Lock()
	f.frozen = true
	f.mu.Unlock()
}

func (f *Functions) lookup(name string) (NativeFunction, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	fn, ok := f.fns[name]
	return fn, ok
}

// Call is a single invocation of a native function.
type Call struct {
	ctx        context.Context
	completion *Completion

	Name   string
	Params []any
	Bridge *Bridge
}

// Context is cancelled when the webview owning the call is destroyed.
func (c *Call) Context() context.Context {
	return c.ctx
}

// String renders parameter i as text. Missing parameters render empty.
func (c *Call) String(i int) string {
	if i < 0 || i >= len(c.Params) {
		return ""
	}
	switch v := c.Params[i].(type) {
	case nil:
		return ""
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(v)
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprint(v)
		}
		return string(b)
	}
}

func (c *Call) Resolve(result string) error {
	return c.completion.Resolve(result)
}

func (c *Call) Reject(err error) error {
	return c.completion.Reject(err)
}

func (c *Call) Completion() *Completion {
	return c.completion
}
