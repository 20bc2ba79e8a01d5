package resource

import (
	"bytes"
	"errors"
	"io/fs"
	"testing"
	"testing/fstest"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testPrefix = "webview_files/"

func packTestArchive(t *testing.T, files fstest.MapFS) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, Pack(&buf, files, testPrefix))
	return buf.Bytes()
}

func testFiles() fstest.MapFS {
	return fstest.MapFS{
		"index.html":         {Data: []byte("<html>hello</html>")},
		"app.js":             {Data: []byte("X")},
		"assets/logo.svg":    {Data: []byte("<svg/>")},
		"assets/font.WOFF2":  {Data: []byte{0x77, 0x4f, 0x46, 0x32}},
		"empty.txt":          {Data: []byte{}},
		"nested/dir/data.js": {Data: []byte("console.log(1)")},
	}
}

func TestStore_LookupReturnsEntryBytes(t *testing.T) {
	store, err := NewStore(packTestArchive(t, testFiles()), testPrefix, zerolog.Nop())
	require.NoError(t, err)

	for name, file := range testFiles() {
		data, ok := store.Lookup(name)
		require.True(t, ok, name)
		assert.Equal(t, file.Data, data, name)
	}
}

func TestStore_LookupMissingIsAbsent(t *testing.T) {
	store, err := NewStore(packTestArchive(t, testFiles()), testPrefix, zerolog.Nop())
	require.NoError(t, err)

	for _, name := range []string{"missing.xyz", "assets", "assets/", "../index.html", "", "/app.js"} {
		data, ok := store.Lookup(name)
		assert.False(t, ok, "name %q", name)
		assert.Nil(t, data)
	}

	_, err = store.Find("missing.xyz")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestStore_PrefixIsComposedBeforeSearch(t *testing.T) {
	data := packTestArchive(t, testFiles())

	store, err := NewStore(data, "other/", zerolog.Nop())
	require.NoError(t, err)
	_, ok := store.Lookup("app.js")
	assert.False(t, ok)

	store, err = NewStore(data, "", zerolog.Nop())
	require.NoError(t, err)
	got, ok := store.Lookup(testPrefix + "app.js")
	require.True(t, ok)
	assert.Equal(t, []byte("X"), got)
}

func TestNewStore_RejectsGarbage(t *testing.T) {
	_, err := NewStore([]byte("not a zip"), testPrefix, zerolog.Nop())
	require.Error(t, err)
}

func TestStore_Entries(t *testing.T) {
	store, err := NewStore(packTestArchive(t, testFiles()), testPrefix, zerolog.Nop())
	require.NoError(t, err)

	names, err := store.Entries()
	require.NoError(t, err)
	assert.Equal(t, []string{
		"app.js",
		"assets/font.WOFF2",
		"assets/logo.svg",
		"empty.txt",
		"index.html",
		"nested/dir/data.js",
	}, names)
}

// shortFS claims every file is larger than the data it can deliver.
type shortFS struct {
	fstest.MapFS
}

func (s shortFS) Open(name string) (fs.File, error) {
	f, err := s.MapFS.Open(name)
	if err != nil {
		return nil, err
	}
	return shortFile{f}, nil
}

type shortFile struct {
	fs.File
}

func (f shortFile) Stat() (fs.FileInfo, error) {
	info, err := f.File.Stat()
	if err != nil {
		return nil, err
	}
	return shortInfo{info}, nil
}

type shortInfo struct {
	fs.FileInfo
}

func (i shortInfo) Size() int64 { return i.FileInfo.Size() + 10 }

// brokenFS refuses to open anything.
type brokenFS struct{}

func (brokenFS) Open(name string) (fs.File, error) {
	return nil, errors.New("stream unavailable")
}

func TestStore_ShortReadIsInconsistentAndAbsent(t *testing.T) {
	store := NewFSStore(shortFS{fstest.MapFS{"a.js": {Data: []byte("abc")}}}, "", zerolog.Nop())

	_, err := store.Find("a.js")
	require.ErrorIs(t, err, ErrInconsistent)

	data, ok := store.Lookup("a.js")
	assert.False(t, ok)
	assert.Nil(t, data)
}

func TestStore_UnopenableEntryIsLoggedAndAbsent(t *testing.T) {
	var buf bytes.Buffer
	store := NewFSStore(brokenFS{}, "", zerolog.New(&buf))

	_, ok := store.Lookup("a.js")
	assert.False(t, ok)
	assert.Contains(t, buf.String(), `"level":"error"`)
	assert.Contains(t, buf.String(), "stream unavailable")
}

func TestExt(t *testing.T) {
	assert.Equal(t, "js", Ext("app.js"))
	assert.Equal(t, "woff2", Ext("assets/font.WOFF2"))
	assert.Equal(t, "gz", Ext("bundle.tar.gz"))
	assert.Equal(t, "", Ext("LICENSE"))
	assert.Equal(t, "", Ext("dir.v2/LICENSE"))
}
