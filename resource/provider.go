package resource

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/rs/zerolog"
)

// DefaultDocument is served for the root path.
const DefaultDocument = "index.html"

// Lookuper resolves a logical name to file bytes.
type Lookuper interface {
	Lookup(name string) ([]byte, bool)
}

// Resource is a provider response: the payload and its content type.
type Resource struct {
	Data     []byte
	MimeType string
}

// Provider answers webview resource requests from a Lookuper.
type Provider struct {
	store Lookuper
	mime  *MimeResolver
	log   zerolog.Logger
}

func NewProvider(store Lookuper, mime *MimeResolver, log zerolog.Logger) *Provider {
	return &Provider{
		store: store,
		mime:  mime,
		log:   log.With().Str("component", "resource-provider").Logger(),
	}
}

// Normalize maps a request path to an archive name.
func Normalize(requestPath string) string {
	if requestPath == "/" || requestPath == "" {
		return DefaultDocument
	}
	return strings.TrimPrefix(requestPath, "/")
}

// Provide returns the resource for requestPath. The second result is false
// when nothing is bundled under that path, leaving the host to report 404.
// An empty entry counts as nothing bundled.
func (p *Provider) Provide(requestPath string) (*Resource, bool) {
	p.log.Debug().Str("path", requestPath).Msg("resource provider called")

	name := Normalize(requestPath)
	data, ok := p.store.Lookup(name)
	if !ok || len(data) == 0 {
		return nil, false
	}
	return &Resource{
		Data:     data,
		MimeType: p.mime.Resolve(Ext(name)),
	}, true
}

// ServeHTTP implements http.Handler
func (p *Provider) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		w.Header().Set("Allow", "GET, HEAD")
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	res, ok := p.Provide(r.URL.Path)
	if !ok {
		http.NotFound(w, r)
		return
	}

	w.Header().Set("Content-Type", res.MimeType)
	w.Header().Set("Content-Length", strconv.Itoa(len(res.Data)))
	w.WriteHeader(http.StatusOK)
	if r.Method == http.MethodHead {
		return
	}
	if _, err := w.Write(res.Data); err != nil {
		p.log.Debug().Err(err).Str("path", r.URL.Path).Msg("write response")
	}
}
