package webkitgtk

import (
	"fmt"
	"runtime"
	"sync"
	"time"
	"unsafe"

	"github.com/ebitengine/purego"
	"github.com/rs/zerolog"

	"github.com/malivvan/hellowebview/bridge"
)

// scriptMessageHandler is the name pages post bridge messages through:
// window.webkit.messageHandlers.__bridge__.postMessage(message).
const scriptMessageHandler = "__bridge__"

const webkitUserContentInjectTopFrame = 1

var (
	windowID     uint
	windowIDLock sync.Mutex
)

func getWindowID() uint {
	windowIDLock.Lock()
	defer windowIDLock.Unlock()
	windowID++
	return windowID
}

type WindowOptions struct {
	// Name identifies the window in logs.
	Name string

	// Title of the window.
	Title string

	// URL to load, usually built with SchemeURL.
	URL string

	// Width is the starting width of the window.
	Width int

	// Height is the starting height of the window.
	Height int

	// Color specifies the background as a hex string (#RGB, #RGBA, #RRGGBB, #RRGGBBAA).
	Color string

	// Hidden keeps the window hidden when it is first created.
	Hidden bool

	// HideOnClose hides the window instead of destroying it.
	HideOnClose bool

	// DevToolsEnabled enables the web inspector.
	DevToolsEnabled bool

	// Functions callable from the page through window.__JUCE__.getNativeFunction.
	Functions *bridge.Functions

	// InitialisationData is exposed as window.__JUCE__.initialisationData.
	InitialisationData map[string]string

	// UserScripts run at document start after the bridge script.
	UserScripts []string

	// EntryPoint overrides the function backend events are delivered to.
	EntryPoint string

	// CallTimeout rejects native calls that never complete.
	CallTimeout time.Duration
}

// Window is a GTK window holding one webview. It implements bridge.WebView;
// EvaluateJavascript and the lifecycle setters run on the main thread.
type Window struct {
	bridge.Lifecycle

	log     zerolog.Logger
	options WindowOptions
	app     *App
	id      uint
	bridge  *bridge.Bridge

	pointer windowPtr
	webview webviewPtr
	vbox    ptr
}

// Open creates a window on the main thread. Before Run has activated the
// application the window is created as soon as it does.
func (a *App) Open(options WindowOptions) (*Window, error) {
	if options.Width == 0 {
		options.Width = 800
	}
	if options.Height == 0 {
		options.Height = 600
	}
	if options.Color == "" {
		options.Color = "#FFFFFF"
	}
	if _, _, _, _, err := parseColour(options.Color); err != nil {
		return nil, err
	}

	w := &Window{
		app:     a,
		id:      getWindowID(),
		options: options,
	}
	w.log = a.log.With().Str("component", "window").Uint("window", w.id).Str("name", options.Name).Logger()
	w.bridge = bridge.New(w, options.Functions, bridge.Options{
		EntryPoint:  options.EntryPoint,
		CallTimeout: options.CallTimeout,
		Logger:      w.log,
	})

	a.Dispatch(w.create)
	return w, nil
}

func (w *Window) ID() uint {
	return w.id
}

// Bridge returns the bridge attached to the webview.
func (w *Window) Bridge() *bridge.Bridge {
	return w.bridge
}

func (w *Window) create() {
	openTime := time.Now()
	w.log.Debug().Msg("creating window")

	w.app.windowsLock.Lock()
	w.app.windows[w.id] = w
	w.app.windowsLock.Unlock()

	w.pointer = lib.gtk.ApplicationWindowNew(w.app.pointer)
	lib.g.ObjectRefSink(ptr(w.pointer))

	// 1. Create the web context once.
	if w.app.webContext == 0 {
		w.app.createWebContext()
	}

	// 2. Create the webview with bridge and user scripts installed.
	w.webview = lib.webkit.WebViewNewWithContext(w.app.webContext)
	if err := w.installScripts(); err != nil {
		w.log.Error().Err(err).Msg("unable to install bridge script")
	}

	// 3. Apply the webkit settings to the webview.
	settings := lib.webkit.WebViewGetSettings(w.webview)
	lib.webkitSettings.SetEnableJavascript(settings, true)
	lib.webkitSettings.SetDefaultCharset(settings, "utf-8")
	lib.webkitSettings.SetAutoLoadImages(settings, true)
	lib.webkitSettings.SetEnableHtml5LocalStorage(settings, !w.app.ephemeral)
	lib.webkitSettings.SetEnableSmoothScrolling(settings, true)
	lib.webkitSettings.SetEnableWriteConsoleMessagesToStdout(settings, false)
	lib.webkitSettings.SetJavascriptCanAccessClipboard(settings, false)
	lib.webkitSettings.SetAllowModalDialogs(settings, false)
	lib.webkitSettings.SetEnableDeveloperExtras(settings, w.options.DevToolsEnabled)

	// 4. Pack the webview and wire signals.
	w.vbox = lib.gtk.BoxNew(gtkOrientationVertical, 0)
	lib.gtk.ContainerAdd(w.pointer, w.vbox)
	lib.gtk.WidgetSetName(w.vbox, "webview-box")
	lib.gtk.BoxPackStart(w.vbox, ptr(w.webview), true, true, 0)
	w.setupSignalHandlers()

	if w.options.Title != "" {
		lib.gtk.WindowSetTitle(w.pointer, w.options.Title)
	}
	lib.gtk.WindowResize(w.pointer, w.options.Width, w.options.Height)
	if err := w.setBackgroundColour(w.options.Color); err != nil {
		w.log.Warn().Err(err).Msg("unable to set background colour")
	}

	// 5. Load and show.
	if w.options.URL != "" {
		lib.webkit.WebViewLoadUri(w.webview, w.options.URL)
	}
	if !w.options.Hidden {
		lib.gtk.WidgetShowAll(w.pointer)
	}

	w.log.Info().Str("url", w.options.URL).Dur("since_open", time.Since(openTime)).Msg("window created")
}

func (a *App) createWebContext() {
	// 1. Prepare the data manager.
	var dataManager ptr
	if a.ephemeral {
		dataManager = lib.webkit.WebsiteDataManagerNewEphemeral()
	} else {
		dataManager = lib.webkit.WebsiteDataManagerNew(
			"base-cache-directory", a.cacheDir,
			"base-data-directory", a.dataDir,
			0)
	}
	a.webContext = lib.webkit.WebContextNewWithWebsiteDataManager(dataManager)
	lib.webkit.WebContextSetCacheModel(a.webContext, int(a.cacheModel))

	// 2. Register the app URI scheme.
	securityManager := lib.webkit.WebContextGetSecurityManager(a.webContext)
	lib.webkit.SecurityManagerRegisterUriSchemeAsCorsEnabled(securityManager, uriScheme)
	lib.webkit.SecurityManagerRegisterUriSchemeAsSecure(securityManager, uriScheme)
	lib.webkit.WebContextRegisterUriScheme(a.webContext, uriScheme, callbacks().scheme, 0, 0)

	a.log.Debug().Str("cache_dir", a.cacheDir).Str("data_dir", a.dataDir).Bool("ephemeral", a.ephemeral).Msg("web context created")
}

func (w *Window) installScripts() error {
	manager := lib.webkit.WebViewGetUserContentManager(w.webview)

	lib.g.SignalConnectData(ptr(manager), "script-message-received::"+scriptMessageHandler,
		callbacks().scriptMessage, ptr(w.id), 0, 0)
	if !lib.webkit.UserContentManagerRegisterScriptMessageHandler(manager, scriptMessageHandler) {
		return fmt.Errorf("register script message handler %q", scriptMessageHandler)
	}

	shim, err := bridge.Script(bridge.ScriptOptions{
		PostMessage:        "window.webkit.messageHandlers." + scriptMessageHandler + ".postMessage(message);",
		InitialisationData: w.options.InitialisationData,
	})
	if err != nil {
		return err
	}
	for _, source := range append([]string{shim}, w.options.UserScripts...) {
		script := lib.webkit.UserScriptNew(source, webkitUserContentInjectTopFrame, webkitUserScriptInjectAtDocStart, 0, 0)
		lib.webkit.UserContentManagerAddScript(manager, script)
		lib.webkit.UserScriptUnref(script)
	}
	return nil
}

// windowCallbacks are created once and find their window through the id
// passed as signal user data.
type windowCallbacks struct {
	deleteEvent   uintptr
	destroy       uintptr
	mapped        uintptr
	unmapped      uintptr
	loadChanged   uintptr
	scriptMessage uintptr
	scheme        uintptr
}

var (
	windowCallbacksOnce sync.Once
	windowCallbacksSet  windowCallbacks
)

func callbacks() *windowCallbacks {
	windowCallbacksOnce.Do(func() {
		windowCallbacksSet = windowCallbacks{
			deleteEvent: purego.NewCallback(func(widget, event, data ptr) int {
				if w := lookupWindow(uint(data)); w != nil && w.options.HideOnClose {
					w.log.Debug().Msg("window hiding")
					w.Hide()
					return 1
				}
				return 0
			}),
			destroy: purego.NewCallback(func(widget, data ptr) {
				if w := lookupWindow(uint(data)); w != nil {
					w.handleDestroy()
				}
			}),
			mapped: purego.NewCallback(func(widget, data ptr) {
				if w := lookupWindow(uint(data)); w != nil {
					w.visibilityChanged(true)
				}
			}),
			unmapped: purego.NewCallback(func(widget, data ptr) {
				if w := lookupWindow(uint(data)); w != nil {
					w.visibilityChanged(false)
				}
			}),
			loadChanged: purego.NewCallback(func(webview ptr, event int, data ptr) {
				if w := lookupWindow(uint(data)); w != nil && event == 3 { // WEBKIT_LOAD_FINISHED
					w.log.Debug().Msg("load finished")
				}
			}),
			scriptMessage: purego.NewCallback(func(manager, result, data ptr) {
				w := lookupWindow(uint(data))
				if w == nil {
					return
				}
				message := takeString(lib.jsc.ValueToString(lib.webkit.JavascriptResultGetJsValue(result)), lib.g.Free)
				if err := w.bridge.HandleMessage([]byte(message)); err != nil {
					w.log.Warn().Err(err).Msg("invalid bridge message")
				}
			}),
			scheme: purego.NewCallback(func(request, data ptr) {
				if _app != nil {
					_app.handleSchemeRequest(request)
				}
			}),
		}
	})
	return &windowCallbacksSet
}

func lookupWindow(id uint) *Window {
	if _app == nil {
		return nil
	}
	_app.windowsLock.RLock()
	defer _app.windowsLock.RUnlock()
	return _app.windows[id]
}

func (w *Window) setupSignalHandlers() {
	cb := callbacks()
	data := ptr(w.id)
	lib.g.SignalConnectData(ptr(w.pointer), "delete-event", cb.deleteEvent, data, 0, 0)
	lib.g.SignalConnectData(ptr(w.pointer), "destroy", cb.destroy, data, 0, 0)
	lib.g.SignalConnectData(ptr(w.pointer), "map", cb.mapped, data, 0, 0)
	lib.g.SignalConnectData(ptr(w.pointer), "unmap", cb.unmapped, data, 0, 0)
	lib.g.SignalConnectData(ptr(w.webview), "load-changed", cb.loadChanged, data, 0, 0)
}

func (w *Window) visibilityChanged(visible bool) {
	w.log.Info().Bool("visible", visible).Msg("webview visibility changed")
	w.SetVisible(visible)
}

func (w *Window) handleDestroy() {
	w.log.Info().Msg("webview destroyed")
	w.Destroy()
	if n := cancelEvaluations(w); n > 0 {
		w.log.Debug().Int("evaluations", n).Msg("pending evaluations cancelled")
	}
	lib.g.ObjectUnref(ptr(w.pointer))

	w.app.windowsLock.Lock()
	delete(w.app.windows, w.id)
	w.app.windowsLock.Unlock()

	if w.app.windowCount() == 0 && !w.app.hold {
		w.app.log.Info().Msg("last window closed, quitting")
		w.app.Quit()
	}
}

// Dispatch implements bridge.WebView.
func (w *Window) Dispatch(fn func()) {
	w.app.Dispatch(fn)
}

// EvaluateJavascript implements bridge.WebView. It must be called on the
// main thread.
func (w *Window) EvaluateJavascript(script string, done func(any, error)) {
	if w.Lifecycle.Destroyed() || w.webview == 0 {
		if done != nil {
			w.Dispatch(func() {
				done(nil, &bridge.EvaluationError{Kind: bridge.EvaluationCanceled, Message: "webview destroyed"})
			})
		}
		return
	}
	ev := &evaluation{window: w, cancellable: lib.g.CancellableNew(), done: done}
	id := registerEvaluation(ev)
	lib.webkit.WebViewEvaluateJavascript(w.webview, script, len(script), 0, 0, ev.cancellable, evalFinishCallback(), ptr(id))
}

// onWidget runs fn on the main thread while the window still exists.
func (w *Window) onWidget(fn func()) {
	w.Dispatch(func() {
		if w.Lifecycle.Destroyed() || w.pointer == 0 {
			return
		}
		fn()
	})
}

// Show presents the window, bringing it back if it was hidden.
func (w *Window) Show() {
	w.onWidget(func() {
		lib.gtk.WidgetShowAll(w.pointer)
		lib.gtk.WindowPresent(w.pointer)
	})
}

func (w *Window) Hide() {
	w.onWidget(func() { lib.gtk.WidgetHide(w.pointer) })
}

// Close destroys the window unless HideOnClose is set.
func (w *Window) Close() {
	w.onWidget(func() { lib.gtk.WindowClose(w.pointer) })
}

func (w *Window) SetTitle(title string) {
	w.onWidget(func() { lib.gtk.WindowSetTitle(w.pointer, title) })
}

func (w *Window) SetSize(width, height int) {
	w.onWidget(func() { lib.gtk.WindowResize(w.pointer, width, height) })
}

func (w *Window) setBackgroundColour(s string) error {
	red, green, blue, alpha, err := parseColour(s)
	if err != nil {
		return err
	}

	// Transparency needs an RGBA visual on a composited screen.
	screen := lib.gtk.WidgetGetScreen(w.pointer)
	visual := lib.gdk.ScreenGetRgbaVisual(screen)
	if visual != 0 && lib.gdk.ScreenIsComposited(screen) {
		lib.gtk.WidgetSetAppPaintable(w.pointer, true)
		lib.gtk.WidgetSetVisual(w.pointer, visual)
	} else {
		alpha = 255
	}

	// GdkRGBA is four doubles.
	rgba := make([]byte, 4*8)
	rgbaPtr := ptr(unsafe.Pointer(&rgba[0]))
	if !lib.gdk.RgbaParse(rgbaPtr, fmt.Sprintf("rgba(%v,%v,%v,%v)", red, green, blue, float32(alpha)/255.0)) {
		return fmt.Errorf("invalid colour %q", s)
	}
	lib.webkit.WebViewSetBackgroundColor(w.webview, rgbaPtr)
	runtime.KeepAlive(rgba)
	return nil
}
