package webkitgtk

import (
	"bytes"
	"fmt"
	"net/http"
	"net/url"
	"runtime"
	"unsafe"
)

// schemeResponse buffers a handler response until it can be handed to
// WebKit in one piece.
type schemeResponse struct {
	header http.Header
	code   int
	body   bytes.Buffer
}

func newSchemeResponse() *schemeResponse {
	return &schemeResponse{header: http.Header{}}
}

func (rw *schemeResponse) Header() http.Header {
	return rw.header
}

func (rw *schemeResponse) WriteHeader(code int) {
	if rw.code == 0 {
		rw.code = code
	}
}

func (rw *schemeResponse) Write(buf []byte) (int, error) {
	rw.WriteHeader(http.StatusOK)
	return rw.body.Write(buf)
}

func (rw *schemeResponse) status() int {
	if rw.code == 0 {
		return http.StatusOK
	}
	return rw.code
}

func (rw *schemeResponse) contentType() string {
	if ct := rw.header.Get("Content-Type"); ct != "" {
		return ct
	}
	return http.DetectContentType(rw.body.Bytes())
}

// newSchemeRequest turns an app:// request into an http.Request for the
// handler registered for its host.
func newSchemeRequest(uri, method string) (*http.Request, error) {
	u, err := url.Parse(uri)
	if err != nil {
		return nil, fmt.Errorf("parse request uri: %w", err)
	}
	if u.Scheme != uriScheme {
		return nil, fmt.Errorf("unexpected scheme %q", u.Scheme)
	}
	if method == "" {
		method = http.MethodGet
	}
	return &http.Request{
		Method:     method,
		URL:        u,
		RequestURI: u.RequestURI(),
		Host:       u.Host,
		Proto:      "HTTP/1.1",
		ProtoMajor: 1,
		ProtoMinor: 1,
		Header:     http.Header{},
		Body:       http.NoBody,
	}, nil
}

// serveScheme answers one request with the handler registered for its
// host, or 404 when there is none.
func (a *App) serveScheme(uri, method string) *schemeResponse {
	rw := newSchemeResponse()
	req, err := newSchemeRequest(uri, method)
	if err != nil {
		a.log.Warn().Err(err).Str("uri", uri).Msg("invalid scheme request")
		http.Error(rw, err.Error(), http.StatusBadRequest)
		return rw
	}
	handler, ok := a.lookupHandler(req.URL.Host)
	if !ok {
		a.log.Warn().Str("host", req.URL.Host).Str("path", req.URL.Path).Msg("no handler found for request")
		http.NotFound(rw, req)
		return rw
	}
	a.log.Trace().Str("host", req.URL.Host).Str("path", req.URL.Path).Msg("handler request")
	handler.ServeHTTP(rw, req)
	return rw
}

// finishSchemeRequest copies the buffered body into GBytes and completes
// the WebKit request with it.
func finishSchemeRequest(request ptr, rw *schemeResponse) {
	data := rw.body.Bytes()
	var data0 ptr
	if len(data) > 0 {
		data0 = ptr(unsafe.Pointer(&data[0]))
	}
	gbytes := lib.g.BytesNew(data0, uint(len(data)))
	runtime.KeepAlive(data)

	stream := lib.g.MemoryInputStreamNewFromBytes(gbytes)
	lib.g.BytesUnref(gbytes)

	resp := lib.webkit.UriSchemeResponseNew(stream, int64(len(data)))
	lib.webkit.UriSchemeResponseSetStatus(resp, uint(rw.status()), http.StatusText(rw.status()))
	lib.webkit.UriSchemeResponseSetContentType(resp, rw.contentType())
	lib.webkit.UriSchemeRequestFinishWithResponse(request, resp)

	lib.g.ObjectUnref(resp)
	lib.g.ObjectUnref(stream)
}

func (a *App) handleSchemeRequest(request ptr) {
	uri := lib.webkit.UriSchemeRequestGetUri(request)
	method := lib.webkit.UriSchemeRequestGetHttpMethod(request)
	finishSchemeRequest(request, a.serveScheme(uri, method))
}
