package webkitgtk

import (
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"syscall"
	"time"

	"github.com/ebitengine/purego"
	"github.com/rs/zerolog"
)

func init() {
	runtime.LockOSThread()
}

type AppOptions struct {
	// ID is the application identifier, e.g. com.github.malivvan.hellowebview.
	ID string

	// Name of the application.
	Name string

	// Hold the app open after the last window is closed.
	Hold bool

	// Handle internal app:// requests by host.
	Handle map[string]http.Handler

	// Ephemeral mode disables all persistent storage.
	Ephemeral bool

	// DataDir is where WebKit stores website data. It defaults to a data
	// directory below CacheDir; with neither set the session is ephemeral.
	DataDir string

	// CacheDir is created on startup when missing.
	CacheDir string

	// CacheModel is the cache model used by the webview.
	CacheModel WebkitCacheModel

	// Notify connects to the session bus for desktop notifications.
	Notify bool

	Logger zerolog.Logger
}

var (
	_app     *App
	_appLock sync.Mutex
)

type App struct {
	log zerolog.Logger

	id   string
	pid  int
	name string

	thread  *mainThread
	pointer ptr

	notifier *dbusNotify
	session  *dbusSession

	windows     map[uint]*Window
	windowsLock sync.RWMutex

	handler     map[string]http.Handler
	handlerLock sync.RWMutex

	webContext ptr
	hold       bool
	ephemeral  bool
	notify     bool
	dataDir    string
	cacheDir   string
	cacheModel WebkitCacheModel
}

// New creates the application. GTK allows one application per process, so
// later calls return the first one.
func New(options AppOptions) *App {
	_appLock.Lock()
	defer _appLock.Unlock()
	if _app != nil {
		return _app
	}

	if options.ID == "" {
		options.ID = "com.github.malivvan.hellowebview"
	}
	if options.Name == "" {
		options.Name = "Unnamed Application"
	}

	log := options.Logger.With().Str("component", "app").Logger()
	dataDir, ephemeral := storageDirs(options.DataDir, options.CacheDir, options.Ephemeral)
	app := &App{
		log:  log,
		pid:  syscall.Getpid(),
		id:   options.ID,
		name: options.Name,

		windows: make(map[uint]*Window),
		handler: make(map[string]http.Handler),

		hold:       options.Hold,
		ephemeral:  ephemeral,
		notify:     options.Notify,
		dataDir:    dataDir,
		cacheDir:   options.CacheDir,
		cacheModel: options.CacheModel,

		thread: newMainThread(log),
	}
	for host, h := range options.Handle {
		app.handler[host] = h
	}

	_app = app
	return app
}

// Handle serves app://host/ requests with handler.
func (a *App) Handle(host string, handler http.Handler) {
	a.handlerLock.Lock()
	a.handler[host] = handler
	a.handlerLock.Unlock()
}

func (a *App) lookupHandler(host string) (http.Handler, bool) {
	a.handlerLock.RLock()
	defer a.handlerLock.RUnlock()
	h, ok := a.handler[host]
	return h, ok
}

// storageDirs decides where website data lives. Nothing is written outside
// the cache directory unless a data directory is given explicitly.
func storageDirs(dataDir, cacheDir string, ephemeral bool) (string, bool) {
	switch {
	case ephemeral:
		return "", true
	case dataDir != "":
		return dataDir, false
	case cacheDir != "":
		return filepath.Join(cacheDir, "data"), false
	default:
		return "", true
	}
}

// ensureCacheDir creates dir when it does not exist yet.
func ensureCacheDir(dir string, log zerolog.Logger) error {
	info, err := os.Stat(dir)
	switch {
	case err == nil && info.IsDir():
		log.Info().Str("dir", dir).Msg("cache directory exists")
		return nil
	case err == nil:
		return fmt.Errorf("cache path %s is not a directory", dir)
	case !errors.Is(err, fs.ErrNotExist):
		return fmt.Errorf("stat cache directory: %w", err)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create cache directory: %w", err)
	}
	log.Info().Str("dir", dir).Msg("cache directory created")
	return nil
}

// Run blocks on the GTK main loop until Quit is called or the last window
// closes. It must be called from the main goroutine.
func (a *App) Run() (err error) {
	defer panicHandlerRecover()

	// >>> STARTUP
	startupTime := time.Now()
	a.log.Info().Str("identifier", a.id).Int("pid", a.pid).Msg("application startup")

	// 1. Fix console spam (USR1)
	if err := os.Setenv("JSC_SIGNAL_FOR_GC", "20"); err != nil {
		return fmt.Errorf("failed to set JSC_SIGNAL_FOR_GC: %w", err)
	}

	// 2. Prepare the cache directory
	if a.cacheDir != "" && !a.ephemeral {
		if err := ensureCacheDir(a.cacheDir, a.log); err != nil {
			return err
		}
	}

	// 3. Load shared libraries
	if err := loadSharedLibs(a.log); err != nil {
		return fmt.Errorf("failed to load shared libraries: %w", err)
	}

	// 4. Validate application identifier
	if !lib.g.ApplicationIdIsValid(a.id) {
		return fmt.Errorf("invalid application identifier: %s", a.id)
	}

	// 5. Create GTK application
	a.pointer = lib.gtk.ApplicationNew(a.id, 0)
	a.log.Debug().Msg("application created")

	// 6. Establish dbus session
	if a.notify {
		a.notifier = &dbusNotify{appName: a.name}
		a.session, err = newDBusSession([]dbusPlugin{a.notifier}, a.log)
		if err != nil {
			a.log.Warn().Err(err).Msg("desktop notifications unavailable")
			a.notifier = nil
		}
	}

	// 7. Setup activate signal
	lib.g.SignalConnectData(
		a.pointer,
		"activate",
		purego.NewCallback(func(ptr, ptr) {
			lib.g.ApplicationHold(a.pointer)
			a.thread.start()
			a.log.Info().Dur("since_startup", time.Since(startupTime)).Msg("application startup complete")
		}),
		0, 0, 0)

	// 8. Run GTK application
	status := lib.g.ApplicationRun(a.pointer, 0, nil) // BLOCKING

	// >>> SHUTDOWN
	shutdownTime := time.Now()
	a.log.Info().Int("status", status).Msg("application shutdown")

	a.thread.stop()
	if a.session != nil {
		a.session.close()
	}
	lib.g.ApplicationRelease(a.pointer)
	lib.g.ObjectUnref(a.pointer)

	if status != 0 {
		err = fmt.Errorf("exit code: %d", status)
	}
	a.log.Info().Err(err).Dur("since_shutdown", time.Since(shutdownTime)).Msg("application shutdown done")
	return err
}

// Quit stops the main loop. It is safe to call from any goroutine; before
// Run it makes the main loop stop right after activation.
func (a *App) Quit() {
	a.thread.InvokeAsync(func() {
		lib.g.ApplicationQuit(a.pointer)
	})
}

// Dispatch runs fn on the main thread after the work already queued. Work
// dispatched before Run waits for activation.
func (a *App) Dispatch(fn func()) {
	a.thread.InvokeAsync(fn)
}

func (a *App) windowCount() int {
	a.windowsLock.RLock()
	defer a.windowsLock.RUnlock()
	return len(a.windows)
}
