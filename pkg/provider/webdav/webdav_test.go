package webdav

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aeroftp/aerocore/pkg/provider"
	"github.com/aeroftp/aerocore/pkg/providererr"
)

const sampleMultiStatus = `<?xml version="1.0" encoding="utf-8"?>
<D:multistatus xmlns:D="DAV:">
  <D:response>
    <D:href>/remote/</D:href>
    <D:propstat>
      <D:prop>
        <D:resourcetype><D:collection/></D:resourcetype>
      </D:prop>
      <D:status>HTTP/1.1 200 OK</D:status>
    </D:propstat>
  </D:response>
  <D:response>
    <D:href>/remote/a.txt</D:href>
    <D:propstat>
      <D:prop>
        <D:resourcetype/>
        <D:getcontentlength>42</D:getcontentlength>
        <D:getlastmodified>Mon, 01 Jan 2024 00:00:00 GMT</D:getlastmodified>
        <D:getcontenttype>text/plain</D:getcontenttype>
      </D:prop>
      <D:status>HTTP/1.1 200 OK</D:status>
    </D:propstat>
  </D:response>
  <D:response>
    <D:href>/remote/sub/</D:href>
    <D:propstat>
      <D:prop>
        <D:resourcetype><D:collection/></D:resourcetype>
      </D:prop>
      <D:status>HTTP/1.1 200 OK</D:status>
    </D:propstat>
  </D:response>
</D:multistatus>`

func newTestServer(t *testing.T, handler http.HandlerFunc) (*httptest.Server, *Provider) {
	t.Helper()
	srv := httptest.NewServer(handler)
	p := New(provider.WebDAVConfig{URL: srv.URL, Username: "bob", Password: "secret"})
	return srv, p
}

func TestConnectProbesWithPropfindDepthZero(t *testing.T) {
	var gotDepth string
	srv, p := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "PROPFIND", r.Method)
		gotDepth = r.Header.Get("Depth")
		w.WriteHeader(http.StatusMultiStatus)
	})
	defer srv.Close()

	require.NoError(t, p.Connect(context.Background()))
	assert.Equal(t, "0", gotDepth)
	assert.True(t, p.IsConnected())
}

func TestConnectRejectsUnauthorized(t *testing.T) {
	srv, p := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	})
	defer srv.Close()

	err := p.Connect(context.Background())
	require.Error(t, err)
	assert.True(t, providererr.Matches(err, providererr.AuthenticationFailed))
	assert.False(t, p.IsConnected())
}

func TestListParsesMultiStatus(t *testing.T) {
	srv, p := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case "PROPFIND":
			assert.Equal(t, "1", r.Header.Get("Depth"))
			w.WriteHeader(http.StatusMultiStatus)
			w.Write([]byte(sampleMultiStatus))
		default:
			w.WriteHeader(http.StatusMultiStatus)
		}
	})
	defer srv.Close()
	require.NoError(t, p.Connect(context.Background()))

	entries, err := p.List(context.Background(), "/remote")
	require.NoError(t, err)
	require.Len(t, entries, 2)

	byName := map[string]provider.RemoteEntry{}
	for _, e := range entries {
		byName[e.Name] = e
	}
	assert.Equal(t, int64(42), byName["a.txt"].Size)
	assert.False(t, byName["a.txt"].IsDir)
	assert.Equal(t, "text/plain", byName["a.txt"].MimeType)
	assert.True(t, byName["sub"].IsDir)
}

func TestListFailsWhenNotConnected(t *testing.T) {
	p := New(provider.WebDAVConfig{URL: "http://example.invalid"})
	_, err := p.List(context.Background(), "/anything")
	require.Error(t, err)
	assert.True(t, providererr.Matches(err, providererr.NotConnected))
}

func TestListReturnsNotFoundOn404(t *testing.T) {
	srv, p := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method == "PROPFIND" && r.URL.Path == "/missing" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.WriteHeader(http.StatusMultiStatus)
	})
	defer srv.Close()
	require.NoError(t, p.Connect(context.Background()))

	_, err := p.List(context.Background(), "/missing")
	require.Error(t, err)
	assert.True(t, providererr.Matches(err, providererr.NotFound))
}

func TestUploadSendsPutWithBody(t *testing.T) {
	var gotBody []byte
	srv, p := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case "PROPFIND":
			w.WriteHeader(http.StatusMultiStatus)
		case "PUT":
			b, _ := io.ReadAll(r.Body)
			gotBody = b
			w.WriteHeader(http.StatusCreated)
		}
	})
	defer srv.Close()
	require.NoError(t, p.Connect(context.Background()))

	dir := t.TempDir()
	local := filepath.Join(dir, "up.txt")
	require.NoError(t, os.WriteFile(local, []byte("hello world"), 0o644))

	err := p.Upload(context.Background(), local, "/remote/up.txt", nil)
	require.NoError(t, err)
	assert.Equal(t, "hello world", string(gotBody))
}

func TestDownloadWritesLocalFile(t *testing.T) {
	srv, p := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case "PROPFIND":
			w.WriteHeader(http.StatusMultiStatus)
		case "GET":
			w.Write([]byte("remote contents"))
		}
	})
	defer srv.Close()
	require.NoError(t, p.Connect(context.Background()))

	dir := t.TempDir()
	local := filepath.Join(dir, "down.txt")
	require.NoError(t, p.Download(context.Background(), "/remote/down.txt", local, nil))

	data, err := os.ReadFile(local)
	require.NoError(t, err)
	assert.Equal(t, "remote contents", string(data))
}

func TestMkdirIssuesMkcol(t *testing.T) {
	var gotMethod string
	srv, p := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method == "PROPFIND" {
			w.WriteHeader(http.StatusMultiStatus)
			return
		}
		gotMethod = r.Method
		w.WriteHeader(http.StatusCreated)
	})
	defer srv.Close()
	require.NoError(t, p.Connect(context.Background()))

	require.NoError(t, p.Mkdir(context.Background(), "/remote/newdir"))
	assert.Equal(t, "MKCOL", gotMethod)
}

func TestRenameSetsDestinationHeader(t *testing.T) {
	var gotDest string
	srv, p := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method == "PROPFIND" {
			w.WriteHeader(http.StatusMultiStatus)
			return
		}
		if r.Method == "MOVE" {
			gotDest = r.Header.Get("Destination")
			w.WriteHeader(http.StatusCreated)
		}
	})
	defer srv.Close()
	require.NoError(t, p.Connect(context.Background()))

	require.NoError(t, p.Rename(context.Background(), "/remote/old.txt", "/remote/new.txt"))
	assert.Contains(t, gotDest, "/remote/new.txt")
}

func TestDeletePropagatesServerError(t *testing.T) {
	srv, p := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method == "PROPFIND" {
			w.WriteHeader(http.StatusMultiStatus)
			return
		}
		w.WriteHeader(http.StatusInternalServerError)
	})
	defer srv.Close()
	require.NoError(t, p.Connect(context.Background()))

	err := p.Delete(context.Background(), "/remote/a.txt")
	require.Error(t, err)
	assert.True(t, providererr.Matches(err, providererr.IoError))
}

func TestAccountEmailNotSupported(t *testing.T) {
	p := New(provider.WebDAVConfig{})
	_, err := p.AccountEmail(context.Background())
	require.Error(t, err)
	assert.True(t, providererr.Matches(err, providererr.NotSupported))
}

func TestStatRootReturnsSyntheticDirEntry(t *testing.T) {
	p := New(provider.WebDAVConfig{})
	e, err := p.Stat(context.Background(), "/")
	require.NoError(t, err)
	assert.True(t, e.IsDir)
}
