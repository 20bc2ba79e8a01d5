// Package webkitgtk hosts pages in a GTK 3 window with a WebKit webview,
// loading libgtk and libwebkit2gtk at runtime through purego. Windows serve
// a resource provider through the app:// scheme and attach a bridge so
// page scripts can call registered Go functions.
package webkitgtk

import (
	"fmt"
	"net/url"
	"strings"
)

const uriScheme = "app"

// PanicHandler is called with values recovered from functions dispatched to
// the main thread, after they were logged.
var PanicHandler func(v any)

func panicHandlerRecover() {
	if err := recover(); err != nil {
		if h := PanicHandler; h != nil {
			h(err)
			return
		}
		panic(err)
	}
}

type WebkitCacheModel int

const (
	CacheNone WebkitCacheModel = iota
	CacheLite
	CacheFull
)

// ParseCacheModel maps "none", "lite" or "full" to a cache model. Empty
// selects CacheNone.
func ParseCacheModel(s string) (WebkitCacheModel, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "none":
		return CacheNone, nil
	case "lite":
		return CacheLite, nil
	case "full":
		return CacheFull, nil
	}
	return CacheNone, fmt.Errorf("unknown cache model %q", s)
}

// SchemeURL maps an http(s) origin and path onto the app:// scheme the
// window serves resources from, e.g. http://app.local + /x.js becomes
// app://app.local/x.js. WebKitGTK cannot intercept http requests, so the
// origin host is kept and the scheme swapped.
func SchemeURL(origin, path string) (string, error) {
	u, err := url.Parse(origin)
	if err != nil {
		return "", fmt.Errorf("parse origin: %w", err)
	}
	if u.Host == "" {
		return "", fmt.Errorf("origin %q has no host", origin)
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return (&url.URL{Scheme: uriScheme, Host: u.Host, Path: path}).String(), nil
}

// parseColour decodes #RGB, #RGBA, #RRGGBB and #RRGGBBAA.
func parseColour(s string) (red, green, blue, alpha uint8, err error) {
	s = strings.TrimPrefix(s, "#")
	alpha = 255
	switch len(s) {
	case 3:
		_, err = fmt.Sscanf(s, "%1x%1x%1x", &red, &green, &blue)
		red, green, blue = red*17, green*17, blue*17
	case 4:
		_, err = fmt.Sscanf(s, "%1x%1x%1x%1x", &red, &green, &blue, &alpha)
		red, green, blue, alpha = red*17, green*17, blue*17, alpha*17
	case 6:
		_, err = fmt.Sscanf(s, "%2x%2x%2x", &red, &green, &blue)
	case 8:
		_, err = fmt.Sscanf(s, "%2x%2x%2x%2x", &red, &green, &blue, &alpha)
	default:
		err = fmt.Errorf("invalid colour %q", s)
	}
	return red, green, blue, alpha, err
}
