package resource

import (
	"strings"

	"github.com/rs/zerolog"
)

// FallbackMimeType is served for extensions missing from the table.
const FallbackMimeType = "application/octet-stream"

// MimeTable maps lower-case extensions (without dot) to content types.
// Values are immutable: constructors copy their input.
type MimeTable struct {
	types map[string]string
}

// NewMimeTable builds a table from extension/type pairs. Keys are lower-cased.
func NewMimeTable(types map[string]string) MimeTable {
	t := MimeTable{types: make(map[string]string, len(types))}
	for ext, typ := range types {
		t.types[strings.ToLower(strings.TrimPrefix(ext, "."))] = typ
	}
	return t
}

// DefaultMimeTable covers the file types bundled with web front-ends.
func DefaultMimeTable() MimeTable {
	return NewMimeTable(map[string]string{
		"htm":   "text/html",
		"html":  "text/html",
		"txt":   "text/plain",
		"jpg":   "image/jpeg",
		"jpeg":  "image/jpeg",
		"svg":   "image/svg+xml",
		"ico":   "image/vnd.microsoft.icon",
		"json":  "application/json",
		"png":   "image/png",
		"css":   "text/css",
		"map":   "application/json",
		"js":    "text/javascript",
		"woff2": "font/woff2",
	})
}

// Lookup returns the type registered for ext.
func (t MimeTable) Lookup(ext string) (string, bool) {
	typ, ok := t.types[strings.ToLower(strings.TrimPrefix(ext, "."))]
	return typ, ok
}

// Len is the number of registered extensions.
func (t MimeTable) Len() int {
	return len(t.types)
}

// MimeResolver resolves extensions against a table and never fails.
type MimeResolver struct {
	table MimeTable
	log   zerolog.Logger
}

func NewMimeResolver(table MimeTable, log zerolog.Logger) *MimeResolver {
	return &MimeResolver{
		table: table,
		log:   log.With().Str("component", "mime").Logger(),
	}
}

// Resolve returns the content type for ext, or FallbackMimeType with a warning.
func (r *MimeResolver) Resolve(ext string) string {
	if typ, ok := r.table.Lookup(ext); ok {
		return typ
	}
	r.log.Warn().Str("extension", ext).Str("mime", FallbackMimeType).Msg("unknown extension")
	return FallbackMimeType
}
