package webkitgtk

import (
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"regexp"
	"runtime"
	"strings"
	"time"
	"unsafe"

	"github.com/ebitengine/purego"
	"github.com/rs/zerolog"
)

type (
	ptr                   uintptr
	webkitSettingsPtr     uintptr
	webviewPtr            uintptr
	windowPtr             uintptr
	userContentManagerPtr uintptr

	// gError mirrors the C layout of GError.
	gError struct {
		domain  uint32
		code    int32
		message *byte
	}
)

const (
	gSourceRemove = 0

	gtkOrientationVertical = 1

	webkitUserScriptInjectAtDocStart  = 0
	webkitJavascriptErrorInvalidValue = 601
	webkitJavascriptErrorScriptFailed = 699

	gIOErrorCancelled = 19
)

// The host is written against the GTK 3 widget API, so only the
// webkit2gtk-4.1 pairing is loaded.
var libs = [][]string{
	{"gtk-3", "webkit2gtk-4.1"},
}

var lib struct {
	Target string

	GTK    uintptr
	Webkit uintptr

	g struct {
		ApplicationHold               func(ptr)
		ApplicationIdIsValid          func(string) bool
		ApplicationQuit               func(ptr)
		ApplicationRelease            func(ptr)
		ApplicationRun                func(ptr, int, []string) int
		BytesNew                      func(ptr, uint) ptr
		BytesUnref                    func(ptr)
		CancellableCancel             func(ptr)
		CancellableIsCancelled        func(ptr) bool
		CancellableNew                func() ptr
		ErrorFree                     func(ptr)
		Free                          func(ptr)
		IdleAdd                       func(uintptr, ptr) uint
		IoErrorQuark                  func() uint32
		MemoryInputStreamNewFromBytes func(ptr) ptr
		ObjectRefSink                 func(ptr) ptr
		ObjectUnref                   func(ptr)
		SignalConnectData             func(ptr, string, uintptr, ptr, ptr, int) uint64
		ThreadSelf                    func() uint64
	}
	gdk struct {
		RgbaParse           func(ptr, string) bool
		ScreenGetRgbaVisual func(ptr) ptr
		ScreenIsComposited  func(ptr) bool
	}
	gtk struct {
		ApplicationNew        func(string, uint) ptr
		ApplicationWindowNew  func(ptr) windowPtr
		BoxNew                func(int, int) ptr
		BoxPackStart          func(ptr, ptr, bool, bool, uint)
		ContainerAdd          func(windowPtr, ptr)
		WidgetGetScreen       func(windowPtr) ptr
		WidgetHide            func(windowPtr)
		WidgetSetAppPaintable func(windowPtr, bool)
		WidgetSetName         func(ptr, string)
		WidgetSetVisual       func(windowPtr, ptr)
		WidgetShowAll         func(windowPtr)
		WindowClose           func(windowPtr)
		WindowPresent         func(windowPtr)
		WindowResize          func(windowPtr, int, int)
		WindowSetTitle        func(windowPtr, string)
	}
	webkitSettings struct {
		SetAllowModalDialogs                  func(webkitSettingsPtr, bool)
		SetAutoLoadImages                     func(webkitSettingsPtr, bool)
		SetDefaultCharset                     func(webkitSettingsPtr, string)
		SetEnableDeveloperExtras              func(webkitSettingsPtr, bool)
		SetEnableHtml5LocalStorage            func(webkitSettingsPtr, bool)
		SetEnableJavascript                   func(webkitSettingsPtr, bool)
		SetEnableSmoothScrolling              func(webkitSettingsPtr, bool)
		SetEnableWriteConsoleMessagesToStdout func(webkitSettingsPtr, bool)
		SetJavascriptCanAccessClipboard       func(webkitSettingsPtr, bool)
	}
	jsc struct {
		ValueIsArray     func(ptr) bool
		ValueIsBoolean   func(ptr) bool
		ValueIsNull      func(ptr) bool
		ValueIsNumber    func(ptr) bool
		ValueIsObject    func(ptr) bool
		ValueIsString    func(ptr) bool
		ValueIsUndefined func(ptr) bool
		ValueToBoolean   func(ptr) bool
		ValueToDouble    func(ptr) float64
		ValueToJson      func(ptr, uint) *byte
		ValueToString    func(ptr) *byte
	}
	webkit struct {
		JavascriptErrorQuark       func() uint32
		JavascriptResultGetJsValue func(ptr) ptr

		SecurityManagerRegisterUriSchemeAsCorsEnabled func(ptr, string)
		SecurityManagerRegisterUriSchemeAsSecure      func(ptr, string)

		UriSchemeRequestFinishWithResponse func(ptr, ptr)
		UriSchemeRequestGetHttpMethod      func(ptr) string
		UriSchemeRequestGetUri             func(ptr) string
		UriSchemeResponseNew               func(ptr, int64) ptr
		UriSchemeResponseSetContentType    func(ptr, string)
		UriSchemeResponseSetStatus         func(ptr, uint, string)

		UserContentManagerAddScript                    func(userContentManagerPtr, ptr)
		UserContentManagerRegisterScriptMessageHandler func(userContentManagerPtr, string) bool
		UserScriptNew                                  func(string, int, int, ptr, ptr) ptr
		UserScriptUnref                                func(ptr)

		WebContextGetSecurityManager        func(ptr) ptr
		WebContextNewWithWebsiteDataManager func(ptr) ptr
		WebContextRegisterUriScheme         func(ptr, string, uintptr, ptr, ptr)
		WebContextSetCacheModel             func(ptr, int)

		WebViewEvaluateJavascript       func(webviewPtr, string, int, ptr, ptr, ptr, uintptr, ptr)
		WebViewEvaluateJavascriptFinish func(webviewPtr, ptr, *ptr) ptr
		WebViewGetSettings              func(webviewPtr) webkitSettingsPtr
		WebViewGetUserContentManager    func(webviewPtr) userContentManagerPtr
		WebViewLoadUri                  func(webviewPtr, string)
		WebViewNewWithContext           func(ptr) webviewPtr
		WebViewSetBackgroundColor       func(webviewPtr, ptr)

		// variadic in C, called with a fixed NULL terminated property list
		WebsiteDataManagerNew          func(string, string, string, string, ptr) ptr `name:"webkit_website_data_manager_new"`
		WebsiteDataManagerNewEphemeral func() ptr
	}
}

// glibError is a Go copy of a GError.
type glibError struct {
	domain  uint32
	code    int32
	message string
}

func (e *glibError) Error() string {
	return fmt.Sprintf("%s (code %d)", e.message, e.code)
}

func cString(p *byte) string {
	if p == nil {
		return ""
	}
	n := 0
	for *(*byte)(unsafe.Add(unsafe.Pointer(p), n)) != 0 {
		n++
	}
	return string(unsafe.Slice(p, n))
}

// takeString copies a newly allocated C string and releases it with free.
func takeString(p *byte, free func(ptr)) string {
	if p == nil {
		return ""
	}
	s := cString(p)
	free(ptr(unsafe.Pointer(p)))
	return s
}

// takeGError copies a GError set through an out parameter and frees it.
func takeGError(p ptr) *glibError {
	if p == 0 {
		return nil
	}
	src := (*gError)(unsafe.Pointer(p))
	out := &glibError{domain: src.domain, code: src.code, message: cString(src.message)}
	lib.g.ErrorFree(p)
	return out
}

func registerFunctions(lib uintptr, prefix string, v interface{}) error {
	if reflect.TypeOf(v).Kind() != reflect.Pointer {
		return fmt.Errorf("v must be a struct pointer")
	}
	vElem := reflect.ValueOf(v).Elem()
	if vElem.Kind() != reflect.Struct {
		return fmt.Errorf("v must be a struct pointer")
	}
	vType := vElem.Type()
	re := regexp.MustCompile("(\\p{Lu}\\P{Lu}*)")
	for i := 0; i < vElem.NumField(); i++ {
		field := vElem.Field(i)
		if field.Kind() != reflect.Func {
			continue
		}
		name := vType.Field(i).Tag.Get("name")
		if name == "" {
			name = prefix + strings.ToLower(re.ReplaceAllString(vType.Field(i).Name, "_${1}"))
		}
		sym, err := purego.Dlsym(lib, name)
		if err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
		purego.RegisterFunc(field.Addr().Interface(), sym)
	}
	return nil
}

func getLibTarget() (string, error) {
	switch runtime.GOOS + "/" + runtime.GOARCH {
	case "linux/amd64":
		return "x86_64-linux-gnu", nil
	case "linux/arm64":
		return "aarch64-linux-gnu", nil
	case "freebsd/amd64":
		return "x86_64-unknown-freebsd", nil
	case "freebsd/arm64":
		return "aarch64-unknown-freebsd", nil
	default:
		return "", fmt.Errorf("unsupported platform: %s/%s", runtime.GOOS, runtime.GOARCH)
	}
}

func libDirs(target string) []string {
	return []string{
		"/lib/" + target + "/",
		"/lib64/" + target + "/",
		"/usr/lib/" + target + "/",
		"/usr/lib64/" + target + "/",
		"/usr/local/lib64/" + target + "/",
		"/usr/local/lib/" + target + "/",
		"/usr/lib64/",
		"/usr/lib/",
	}
}

func findSharedLib(dirs []string, names []string) []string {
	var paths []string
	for _, name := range names {
		for _, libDir := range dirs {
			if info, err := os.Stat(libDir); err != nil || !info.IsDir() {
				continue
			}
			libPath := filepath.Join(libDir, "lib"+name+".so")
			if info, err := os.Stat(libPath); err == nil && !info.IsDir() {
				paths = append(paths, libPath)
				break
			}
			matches, err := filepath.Glob(libPath + ".*")
			if err != nil || len(matches) == 0 {
				continue
			}
			paths = append(paths, matches[0])
			break
		}
	}
	if len(paths) != len(names) {
		return nil
	}
	return paths
}

func loadSharedLibs(log zerolog.Logger) error {
	log.Debug().Str("goos", runtime.GOOS).Str("goarch", runtime.GOARCH).Msg("loading shared libraries")
	loadTime := time.Now()

	// 1. Locate shared libraries
	target, err := getLibTarget()
	if err != nil {
		return err
	}
	var libPaths []string
	for _, names := range libs {
		if libPaths = findSharedLib(libDirs(target), names); libPaths != nil {
			break
		}
	}
	if libPaths == nil {
		return fmt.Errorf("unable to locate shared libraries for %s", target)
	}
	lib.Target = target

	// 2. Load shared libraries
	lib.GTK, err = purego.Dlopen(libPaths[0], purego.RTLD_NOW|purego.RTLD_GLOBAL)
	if err != nil {
		return fmt.Errorf("unable to load gtk library: %w", err)
	}
	lib.Webkit, err = purego.Dlopen(libPaths[1], purego.RTLD_NOW|purego.RTLD_GLOBAL)
	if err != nil {
		return fmt.Errorf("unable to load webkit library: %w", err)
	}

	// 3. Register functions
	for _, r := range []struct {
		handle uintptr
		prefix string
		v      interface{}
	}{
		{lib.GTK, "g", &lib.g},
		{lib.GTK, "gdk", &lib.gdk},
		{lib.GTK, "gtk", &lib.gtk},
		{lib.Webkit, "jsc", &lib.jsc},
		{lib.Webkit, "webkit", &lib.webkit},
		{lib.Webkit, "webkit_settings", &lib.webkitSettings},
	} {
		if err := registerFunctions(r.handle, r.prefix, r.v); err != nil {
			return fmt.Errorf("unable to register %s functions: %w", r.prefix, err)
		}
	}

	log.Info().Strs("paths", libPaths).Dur("took", time.Since(loadTime)).Msg("shared libraries loaded")
	return nil
}
