package internxt

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aeroftp/aerocore/pkg/provider"
	"github.com/aeroftp/aerocore/pkg/providererr"
	"github.com/aeroftp/aerocore/pkg/zkcrypto"
)

const (
	testMnemonic = "abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon about"
	testPassword = "correct horse battery staple"
	testSaltHex  = "aabbccddeeff0011"
	testBucket   = "000000000000000000000001"
	testRootUUID = "root-folder-uuid"
)

func TestComputeBasicAuth(t *testing.T) {
	// sha256("user-1") hex, then base64("bridge@example.com:<hex>")
	got := computeBasicAuth("bridge@example.com", "user-1")
	require.True(t, strings.HasPrefix(got, "Basic "))
	// Stable: same inputs, same header.
	assert.Equal(t, got, computeBasicAuth("bridge@example.com", "user-1"))
	assert.NotEqual(t, got, computeBasicAuth("bridge@example.com", "user-2"))
}

func TestSplitNameExt(t *testing.T) {
	cases := []struct {
		in, name, ext string
	}{
		{"document.pdf", "document", "pdf"},
		{"archive.tar.gz", "archive.tar", "gz"},
		{"README", "README", ""},
		{".bashrc", ".bashrc", ""},
	}
	for _, c := range cases {
		name, ext := splitNameExt(c.in)
		assert.Equal(t, c.name, name, c.in)
		assert.Equal(t, c.ext, ext, c.in)
	}
}

func TestFileDisplayName(t *testing.T) {
	assert.Equal(t, "report.pdf", fileDisplayName(fileItem{PlainName: "report", Type: "pdf"}))
	assert.Equal(t, "report", fileDisplayName(fileItem{PlainName: "report"}))
	assert.Equal(t, "fallback.txt", fileDisplayName(fileItem{Name: "fallback", Type: "txt"}))
	assert.Equal(t, "unnamed", fileDisplayName(fileItem{}))
}

func TestExtractSize(t *testing.T) {
	assert.Equal(t, int64(42), extractSize(json.RawMessage(`42`)))
	assert.Equal(t, int64(42), extractSize(json.RawMessage(`"42"`)))
	assert.Equal(t, int64(0), extractSize(json.RawMessage(`null`)))
	assert.Equal(t, int64(0), extractSize(nil))
}

// fakeDrive is an in-memory Internxt gateway: auth handshake, folder/file
// listing, and the two-phase network upload. Uploaded shard bytes are kept
// verbatim so tests can assert what actually crossed the wire.
type fakeDrive struct {
	t  *testing.T
	mu sync.Mutex

	srv *httptest.Server

	files      map[string]fakeFile // keyed by drive UUID
	shards     map[string][]byte   // keyed by network file id
	uploadTmp  map[string][]byte   // part uuid -> PUT body
	indexByID  map[string]string   // network file id -> encryption index
	nextPartID int
}

type fakeFile struct {
	uuid      string
	plainName string
	fileType  string
	fileID    string
	size      int64
}

func newFakeDrive(t *testing.T) *fakeDrive {
	f := &fakeDrive{
		t:         t,
		files:     make(map[string]fakeFile),
		shards:    make(map[string][]byte),
		uploadTmp: make(map[string][]byte),
		indexByID: make(map[string]string),
	}
	f.srv = httptest.NewServer(http.HandlerFunc(f.handle))
	t.Cleanup(f.srv.Close)
	return f
}

func (f *fakeDrive) handle(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	path := r.URL.Path

	switch {
	case path == "/drive/auth/login":
		sKey, err := zkcrypto.EncryptText(testSaltHex)
		require.NoError(f.t, err)
		json.NewEncoder(w).Encode(map[string]interface{}{"hasKeys": true, "sKey": sKey, "tfa": false})

	case path == "/drive/auth/cli/login/access":
		var body struct {
			Email    string `json:"email"`
			Password string `json:"password"`
		}
		json.NewDecoder(r.Body).Decode(&body)
		// The client must have sent EncryptText(PassToHash(password, salt)).
		gotHash, err := zkcrypto.DecryptText(body.Password)
		require.NoError(f.t, err)
		wantHash, err := zkcrypto.PassToHash(testPassword, testSaltHex)
		require.NoError(f.t, err)
		if gotHash != wantHash {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		encMnemonic, err := zkcrypto.EncryptTextWithKey(testMnemonic, testPassword)
		require.NoError(f.t, err)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"token": "jwt-token",
			"user": map[string]interface{}{
				"email":        body.Email,
				"userId":       "user-123",
				"mnemonic":     encMnemonic,
				"rootFolderId": testRootUUID,
				"bucket":       testBucket,
				"bridgeUser":   "bridge@example.com",
			},
		})

	case strings.HasPrefix(path, "/drive/folders/content/") && strings.HasSuffix(path, "/folders"):
		json.NewEncoder(w).Encode(map[string]interface{}{"folders": []interface{}{}})

	case strings.HasPrefix(path, "/drive/folders/content/") && strings.HasSuffix(path, "/files"):
		files := make([]map[string]interface{}, 0)
		for _, file := range f.files {
			files = append(files, map[string]interface{}{
				"uuid":      file.uuid,
				"fileId":    file.fileID,
				"plainName": file.plainName,
				"type":      file.fileType,
				"bucket":    testBucket,
				"size":      file.size,
				"status":    "EXISTS",
			})
		}
		json.NewEncoder(w).Encode(map[string]interface{}{"files": files})

	case strings.HasPrefix(path, "/network/buckets/") && strings.HasSuffix(path, "/info"):
		parts := strings.Split(path, "/")
		fileID := parts[len(parts)-2]
		data, ok := f.shards[fileID]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		json.NewEncoder(w).Encode(map[string]interface{}{
			"bucket": testBucket,
			"index":  f.indexByID[fileID],
			"size":   len(data),
			"shards": []map[string]interface{}{
				{"index": 0, "hash": "h", "url": f.srv.URL + "/shard/" + fileID},
			},
		})

	case strings.HasPrefix(path, "/shard/"):
		w.Write(f.shards[strings.TrimPrefix(path, "/shard/")])

	case strings.Contains(path, "/files/start"):
		f.nextPartID++
		partUUID := "part-" + hex.EncodeToString([]byte{byte(f.nextPartID)})
		json.NewEncoder(w).Encode(map[string]interface{}{
			"uploads": []map[string]interface{}{
				{"index": 0, "uuid": partUUID, "url": f.srv.URL + "/put/" + partUUID},
			},
		})

	case strings.HasPrefix(path, "/put/"):
		body, _ := io.ReadAll(r.Body)
		f.uploadTmp[strings.TrimPrefix(path, "/put/")] = body

	case strings.Contains(path, "/files/finish"):
		var body struct {
			Index  string `json:"index"`
			Shards []struct {
				Hash string `json:"hash"`
				UUID string `json:"uuid"`
			} `json:"shards"`
		}
		json.NewDecoder(r.Body).Decode(&body)
		require.Len(f.t, body.Shards, 1)
		data := f.uploadTmp[body.Shards[0].UUID]
		wantHash := hex.EncodeToString(zkcrypto.IntegrityHash(data))
		require.Equal(f.t, wantHash, body.Shards[0].Hash, "finish must carry RIPEMD-160(SHA-256(ciphertext))")
		networkID := "net-" + body.Shards[0].UUID
		f.shards[networkID] = data
		f.indexByID[networkID] = body.Index
		json.NewEncoder(w).Encode(map[string]interface{}{"id": networkID})

	case path == "/drive/files" && r.Method == http.MethodPost:
		var body struct {
			PlainName string `json:"plainName"`
			Type      string `json:"type"`
			FileID    string `json:"fileId"`
			Size      int64  `json:"size"`
		}
		json.NewDecoder(r.Body).Decode(&body)
		uuid := "file-" + body.PlainName
		f.files[uuid] = fakeFile{uuid: uuid, plainName: body.PlainName, fileType: body.Type, fileID: body.FileID, size: body.Size}
		json.NewEncoder(w).Encode(map[string]interface{}{"uuid": uuid, "plainName": body.PlainName})

	case strings.HasPrefix(path, "/drive/files/") && r.Method == http.MethodDelete:
		delete(f.files, strings.TrimPrefix(path, "/drive/files/"))
		w.WriteHeader(http.StatusNoContent)

	default:
		f.t.Logf("fakeDrive: unhandled %s %s", r.Method, path)
		w.WriteHeader(http.StatusNotFound)
	}
}

func newTestProvider(t *testing.T, f *fakeDrive) *Provider {
	p := New(provider.InternxtConfig{Email: "alice@example.com", Password: testPassword})
	p.gateway = f.srv.URL
	p.authAPI = f.srv.URL
	p.apiBase = f.srv.URL
	return p
}

func TestConnectHandshake(t *testing.T) {
	f := newFakeDrive(t)
	p := newTestProvider(t, f)

	require.NoError(t, p.Connect(context.Background()))
	assert.True(t, p.IsConnected())

	p.mu.Lock()
	assert.Equal(t, testMnemonic, p.mnemonic)
	assert.Equal(t, testBucket, p.bucket)
	assert.Equal(t, "jwt-token", p.token)
	p.mu.Unlock()

	// Disconnect wipes key material.
	require.NoError(t, p.Disconnect(context.Background()))
	p.mu.Lock()
	assert.Empty(t, p.mnemonic)
	assert.Empty(t, p.token)
	p.mu.Unlock()
}

func TestConnectRejectsBadMnemonic(t *testing.T) {
	// A server returning a mnemonic that doesn't validate as BIP-39 must be
	// rejected: it means the password decryption produced garbage.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/drive/auth/login":
			sKey, _ := zkcrypto.EncryptText(testSaltHex)
			json.NewEncoder(w).Encode(map[string]interface{}{"sKey": sKey, "tfa": false})
		case "/drive/auth/cli/login/access":
			encMnemonic, _ := zkcrypto.EncryptTextWithKey("twelve garbage words that are not in any bip39 wordlist at all", testPassword)
			json.NewEncoder(w).Encode(map[string]interface{}{
				"token": "t",
				"user":  map[string]interface{}{"mnemonic": encMnemonic, "rootFolderId": "r", "bucket": testBucket, "bridgeUser": "b", "userId": "u"},
			})
		}
	}))
	defer srv.Close()

	p := New(provider.InternxtConfig{Email: "a@b.c", Password: testPassword})
	p.gateway = srv.URL
	p.authAPI = srv.URL
	err := p.Connect(context.Background())
	require.Error(t, err)
	assert.True(t, providererr.Matches(err, providererr.AuthenticationFailed))
}

func TestUploadDownloadRoundTrip(t *testing.T) {
	f := newFakeDrive(t)
	p := newTestProvider(t, f)
	ctx := context.Background()
	require.NoError(t, p.Connect(ctx))

	dir := t.TempDir()
	src := filepath.Join(dir, "hello.txt")
	content := []byte("the quick brown fox jumps over the lazy dog")
	require.NoError(t, os.WriteFile(src, content, 0o644))

	require.NoError(t, p.Upload(ctx, src, "/hello.txt", nil))

	// Zero-knowledge: the bytes stored server-side are ciphertext.
	f.mu.Lock()
	var stored []byte
	for _, data := range f.shards {
		stored = data
	}
	f.mu.Unlock()
	require.Len(t, stored, len(content))
	assert.False(t, bytes.Equal(stored, content), "wire content must not equal plaintext")

	got, err := p.DownloadToBytes(ctx, "/hello.txt", 0)
	require.NoError(t, err)
	assert.Equal(t, content, got)

	dst := filepath.Join(dir, "out.txt")
	require.NoError(t, p.Download(ctx, "/hello.txt", dst, nil))
	back, err := os.ReadFile(dst)
	require.NoError(t, err)
	assert.Equal(t, content, back)
}

func TestStatAndDeleteLifecycle(t *testing.T) {
	f := newFakeDrive(t)
	p := newTestProvider(t, f)
	ctx := context.Background()
	require.NoError(t, p.Connect(ctx))

	dir := t.TempDir()
	src := filepath.Join(dir, "doc.pdf")
	require.NoError(t, os.WriteFile(src, []byte("pdf-bytes"), 0o644))
	require.NoError(t, p.Upload(ctx, src, "/doc.pdf", nil))

	entry, err := p.Stat(ctx, "/doc.pdf")
	require.NoError(t, err)
	assert.Equal(t, "doc.pdf", entry.Name)
	assert.False(t, entry.IsDir)
	assert.Equal(t, int64(9), entry.Size)

	ok, err := p.Exists(ctx, "/doc.pdf")
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, p.Delete(ctx, "/doc.pdf"))
	ok, err = p.Exists(ctx, "/doc.pdf")
	require.NoError(t, err)
	assert.False(t, ok)

	// Idempotent: deleting an absent file absorbs NotFound.
	require.NoError(t, p.Delete(ctx, "/doc.pdf"))
}
