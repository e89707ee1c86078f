// Package internxt implements the StorageProvider capability over Internxt
// Drive's REST API with zero-knowledge client-side encryption: every file
// body is AES-256-CTR encrypted locally before it leaves the process, keys
// derive from the user's BIP-39 mnemonic, and the server only ever sees
// ciphertext. Filenames are stored as plainName (unencrypted).
//
// Auth handshake:
//  1. POST /drive/auth/login {email} returns sKey (encrypted salt) + TFA flag
//  2. decrypt sKey under the shared app secret, PBKDF2 the password against
//     it, re-encrypt the hash under the app secret
//  3. POST /drive/auth/cli/login/access returns a JWT + encrypted mnemonic
//     (free-tier accounts get 402 here; the web auth endpoint is the fallback)
//  4. decrypt the mnemonic under the user's own plaintext password and
//     validate it as a BIP-39 phrase
package internxt

import (
	"bytes"
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/aeroftp/aerocore/pkg/pathutil"
	"github.com/aeroftp/aerocore/pkg/provider"
	"github.com/aeroftp/aerocore/pkg/providererr"
	"github.com/aeroftp/aerocore/pkg/retrypolicy"
	"github.com/aeroftp/aerocore/pkg/zkcrypto"
)

const providerTag = "internxt"

const (
	gatewayURL = "https://gateway.internxt.com"
	apiURL     = "https://api.internxt.com"

	clientHeader  = "aerocore"
	clientVersion = "v1.0.436"

	listPageSize = 50
)

func init() {
	provider.Register("internxt", func(cfg provider.ProviderConfig) (provider.StorageProvider, error) {
		return New(*cfg.Internxt), nil
	})
}

type loginResponse struct {
	HasKeys bool   `json:"hasKeys"`
	SKey    string `json:"sKey"`
	TFA     bool   `json:"tfa"`
}

type accessUser struct {
	Email          string `json:"email"`
	UserID         string `json:"userId"`
	Mnemonic       string `json:"mnemonic"`
	RootFolderID   string `json:"rootFolderId"`
	Bucket         string `json:"bucket"`
	BridgeUser     string `json:"bridgeUser"`
	UUID           string `json:"uuid"`
	RootFolderUUID string `json:"rootFolderUuid"`
}

type accessResponse struct {
	User     accessUser `json:"user"`
	Token    string     `json:"token"`
	NewToken string     `json:"newToken"`
}

type folderItem struct {
	UUID      string `json:"uuid"`
	PlainName string `json:"plainName"`
	Name      string `json:"name"`
	Status    string `json:"status"`
	UpdatedAt string `json:"updatedAt"`
}

type fileItem struct {
	UUID             string          `json:"uuid"`
	FileID           string          `json:"fileId"`
	PlainName        string          `json:"plainName"`
	Name             string          `json:"name"`
	Type             string          `json:"type"`
	Bucket           string          `json:"bucket"`
	Size             json.RawMessage `json:"size"` // number or string, depending on endpoint
	Status           string          `json:"status"`
	UpdatedAt        string          `json:"updatedAt"`
	ModificationTime string          `json:"modificationTime"`
}

type foldersWrapper struct {
	Folders []folderItem `json:"folders"`
}

type filesWrapper struct {
	Files []fileItem `json:"files"`
}

type shardInfo struct {
	Index int    `json:"index"`
	Hash  string `json:"hash"`
	URL   string `json:"url"`
}

type bucketFileInfo struct {
	Bucket string      `json:"bucket"`
	Index  string      `json:"index"`
	Size   int64       `json:"size"`
	Shards []shardInfo `json:"shards"`
}

type uploadPart struct {
	Index int      `json:"index"`
	UUID  string   `json:"uuid"`
	URL   string   `json:"url"`
	URLs  []string `json:"urls"`
}

type startUploadResp struct {
	Uploads []uploadPart `json:"uploads"`
}

type finishUploadResp struct {
	Bucket string `json:"bucket"`
	Index  string `json:"index"`
	ID     string `json:"id"`
}

type createMetaResponse struct {
	UUID      string `json:"uuid"`
	PlainName string `json:"plainName"`
}

type usageResponse struct {
	Drive int64 `json:"drive"`
	Total int64 `json:"total"`
}

type limitResponse struct {
	MaxSpaceBytes int64 `json:"maxSpaceBytes"`
}

// Provider is a StorageProvider backed by Internxt Drive.
type Provider struct {
	cfg     provider.InternxtConfig
	client  *http.Client
	retry   retrypolicy.Policy
	logger  *slog.Logger
	gateway string // /network host; fixed in production, overridable in tests
	authAPI string // web-auth fallback host

	mu           sync.Mutex
	connected    bool
	token        string
	mnemonic     string
	bucket       string
	basicAuth    string
	rootFolderID string
	apiBase      string
	cwd          string
	cwdUUID      string
	dirCache     map[string]string // canonical path -> folder UUID
}

// New builds an unconnected Internxt provider.
func New(cfg provider.InternxtConfig) *Provider {
	return &Provider{
		cfg: cfg,
		client: &http.Client{
			Timeout: 300 * time.Second,
		},
		retry:    retrypolicy.DefaultPolicy(),
		logger:   slog.Default().With("component", "internxt-provider"),
		gateway:  gatewayURL,
		authAPI:  apiURL,
		apiBase:  gatewayURL,
		cwd:      "/",
		dirCache: make(map[string]string),
	}
}

const dirCacheMaxEntries = 10000

func (p *Provider) cacheInsert(path, uuid string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.dirCache) >= dirCacheMaxEntries {
		p.dirCache = map[string]string{"/": p.rootFolderID}
	}
	p.dirCache[path] = uuid
}

func (p *Provider) cacheGet(path string) (string, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	uuid, ok := p.dirCache[path]
	return uuid, ok
}

func (p *Provider) cacheRemove(path string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.dirCache, path)
}

// computeBasicAuth builds the /network/* credential:
// Basic base64(bridgeUser:sha256hex(userID)).
func computeBasicAuth(bridgeUser, userID string) string {
	hash := sha256.Sum256([]byte(userID))
	creds := bridgeUser + ":" + hex.EncodeToString(hash[:])
	return "Basic " + base64.StdEncoding.EncodeToString([]byte(creds))
}

// splitNameExt splits "document.pdf" into ("document", "pdf") and leaves
// extensionless names whole; a leading dot is not an extension separator.
func splitNameExt(filename string) (string, string) {
	if pos := strings.LastIndex(filename, "."); pos > 0 {
		return filename[:pos], filename[pos+1:]
	}
	return filename, ""
}

// fileDisplayName reassembles the visible filename from plainName + type.
func fileDisplayName(f fileItem) string {
	base := f.PlainName
	if base == "" {
		base = f.Name
	}
	if base == "" {
		base = "unnamed"
	}
	if f.Type == "" {
		return base
	}
	return base + "." + f.Type
}

// extractSize handles the API reporting size as either a JSON number or a
// quoted string.
func extractSize(raw json.RawMessage) int64 {
	if len(raw) == 0 {
		return 0
	}
	var n int64
	if json.Unmarshal(raw, &n) == nil {
		return n
	}
	var s string
	if json.Unmarshal(raw, &s) == nil {
		var parsed int64
		if _, err := fmt.Sscan(s, &parsed); err == nil {
			return parsed
		}
	}
	return 0
}

func folderDisplayName(f folderItem) string {
	if f.PlainName != "" {
		return f.PlainName
	}
	if f.Name != "" {
		return f.Name
	}
	return "unnamed"
}

func isTrashed(status string) bool {
	return status == "TRASHED" || status == "DELETED"
}

func parseInternxtTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}
	}
	return t.UTC()
}

// driveRequest issues a request against /drive/* with the JWT bearer token.
func (p *Provider) driveRequest(ctx context.Context, method, path string, body io.Reader, contentType string) (*http.Response, error) {
	p.mu.Lock()
	base, token := p.apiBase, p.token
	p.mu.Unlock()

	req, err := http.NewRequestWithContext(ctx, method, base+"/drive"+path, body)
	if err != nil {
		return nil, providererr.Wrap(providererr.Other, providerTag, "building request", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("internxt-client", clientHeader)
	req.Header.Set("internxt-version", clientVersion)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return nil, providererr.Wrap(providererr.ConnectionFailed, providerTag, "request failed", err)
	}
	return resp, nil
}

// networkRequest issues a request against /network/*; those endpoints always
// live on the gateway host regardless of which drive API base is in use, and
// authenticate with the bridge Basic credential instead of the JWT.
func (p *Provider) networkRequest(ctx context.Context, method, path string, body io.Reader, contentType string) (*http.Response, error) {
	p.mu.Lock()
	auth := p.basicAuth
	p.mu.Unlock()

	req, err := http.NewRequestWithContext(ctx, method, p.gateway+"/network"+path, body)
	if err != nil {
		return nil, providererr.Wrap(providererr.Other, providerTag, "building request", err)
	}
	req.Header.Set("Authorization", auth)
	req.Header.Set("internxt-client", clientHeader)
	req.Header.Set("internxt-version", "1.0")
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return nil, providererr.Wrap(providererr.ConnectionFailed, providerTag, "request failed", err)
	}
	return resp, nil
}

func drainError(resp *http.Response, kind providererr.Kind, what string) error {
	body, _ := pathutil.ReadWithLimit(resp.Body, 4096)
	return providererr.New(kind, providerTag, fmt.Sprintf("%s (%d): %s", what, resp.StatusCode, pathutil.SanitizeAPIError(string(body))))
}

func (p *Provider) Connect(ctx context.Context) error {
	email := p.cfg.Email
	password := p.cfg.Password
	tfa := p.cfg.TwoFactorOTP

	loginBody, _ := json.Marshal(map[string]string{"email": email})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.gateway+"/drive/auth/login", bytes.NewReader(loginBody))
	if err != nil {
		return providererr.Wrap(providererr.Other, providerTag, "building login request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("internxt-client", clientHeader)
	resp, err := p.client.Do(req)
	if err != nil {
		return providererr.Wrap(providererr.ConnectionFailed, providerTag, "login request failed", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return drainError(resp, providererr.AuthenticationFailed, "login failed")
	}
	var login loginResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&login); err != nil {
		return providererr.Wrap(providererr.AuthenticationFailed, providerTag, "parse login response failed", err)
	}

	if login.TFA && tfa == "" {
		return providererr.New(providererr.AuthenticationFailed, providerTag, "2FA code required for this account")
	}

	encryptedPassword, err := zkcrypto.EncryptPasswordHash(password, login.SKey)
	if err != nil {
		return providererr.Wrap(providererr.AuthenticationFailed, providerTag, "password key schedule failed", err)
	}

	accessBody := map[string]string{"email": email, "password": encryptedPassword}
	if tfa != "" {
		accessBody["tfa"] = tfa
	}
	payload, _ := json.Marshal(accessBody)

	access, status, err := p.postAccess(ctx, p.gateway+"/drive/auth/cli/login/access", payload)
	if err != nil {
		// Free accounts are blocked from the CLI tier with 402; the web auth
		// endpoint accepts the same encrypted password.
		if status == http.StatusPaymentRequired {
			p.logger.Info("cli auth blocked, falling back to web auth endpoint")
			access, _, err = p.postAccess(ctx, p.authAPI+"/drive/auth/login/access", payload)
			if err != nil {
				return err
			}
			return p.finishLogin(access, password, p.authAPI)
		}
		return err
	}
	return p.finishLogin(access, password, p.gateway)
}

// postAccess exchanges the encrypted password for tokens at url. The HTTP
// status is returned alongside the error so Connect can route the 402
// free-tier block to the fallback endpoint.
func (p *Provider) postAccess(ctx context.Context, url string, payload []byte) (*accessResponse, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, 0, providererr.Wrap(providererr.Other, providerTag, "building access request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("internxt-client", clientHeader)
	resp, err := p.client.Do(req)
	if err != nil {
		return nil, 0, providererr.Wrap(providererr.ConnectionFailed, providerTag, "access request failed", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return nil, resp.StatusCode, drainError(resp, providererr.AuthenticationFailed, "authentication failed")
	}
	var access accessResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 4<<20)).Decode(&access); err != nil {
		return nil, resp.StatusCode, providererr.Wrap(providererr.AuthenticationFailed, providerTag, "parse access response failed", err)
	}
	return &access, resp.StatusCode, nil
}

// finishLogin decrypts the mnemonic under the user's own password (not the
// app secret), validates it, and installs the connected state.
func (p *Provider) finishLogin(access *accessResponse, password, base string) error {
	mnemonic, err := zkcrypto.DecryptTextWithKey(access.User.Mnemonic, password)
	if err != nil {
		return providererr.Wrap(providererr.AuthenticationFailed, providerTag, "mnemonic decryption failed", err)
	}
	if err := zkcrypto.ValidateMnemonic(mnemonic); err != nil {
		return providererr.Wrap(providererr.AuthenticationFailed, providerTag, "mnemonic validation failed", err)
	}

	token := access.Token
	if access.NewToken != "" {
		token = access.NewToken
	}

	p.mu.Lock()
	p.token = token
	p.mnemonic = mnemonic
	p.bucket = access.User.Bucket
	p.rootFolderID = access.User.RootFolderID
	p.basicAuth = computeBasicAuth(access.User.BridgeUser, access.User.UserID)
	p.apiBase = base
	p.cwd = "/"
	p.cwdUUID = access.User.RootFolderID
	p.dirCache = map[string]string{"/": access.User.RootFolderID}
	p.connected = true
	p.mu.Unlock()

	p.logger.Info("connected", "bucket", access.User.Bucket)
	return nil
}

// Disconnect wipes every piece of key material the session held.
func (p *Provider) Disconnect(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.connected = false
	p.token = ""
	p.mnemonic = ""
	p.bucket = ""
	p.basicAuth = ""
	p.rootFolderID = ""
	p.cwd = "/"
	p.cwdUUID = ""
	p.apiBase = p.gateway
	p.dirCache = make(map[string]string)
	return nil
}

func (p *Provider) IsConnected() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.connected
}

// KeepAlive is a no-op: the JWT lasts days and there is no idle connection
// to keep open.
func (p *Provider) KeepAlive(ctx context.Context) error {
	if !p.IsConnected() {
		return providererr.New(providererr.NotConnected, providerTag, "not connected")
	}
	return nil
}

func (p *Provider) ServerInfo(ctx context.Context) (string, error) {
	return "Internxt Drive (" + p.cfg.Email + ")", nil
}

func (p *Provider) AccountEmail(ctx context.Context) (string, error) {
	return p.cfg.Email, nil
}

func (p *Provider) resolvePath(path string) (string, error) {
	if path == "" || path == "." {
		return p.Pwd(), nil
	}
	return pathutil.Join(p.Pwd(), path)
}

// listFolderPage fetches one page of subfolders of parentUUID.
func (p *Provider) listFolderPage(ctx context.Context, parentUUID string, offset int) ([]folderItem, error) {
	url := fmt.Sprintf("/folders/content/%s/folders?offset=%d&limit=%d&sort=plainName&order=ASC", parentUUID, offset, listPageSize)
	resp, err := p.driveRequest(ctx, http.MethodGet, url, nil, "")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return nil, providererr.New(providererr.NotFound, providerTag, "folder not found")
	}
	if resp.StatusCode >= 400 {
		return nil, drainError(resp, providererr.ServerError, "list folders failed")
	}
	var wrapper foldersWrapper
	if err := json.NewDecoder(io.LimitReader(resp.Body, 8<<20)).Decode(&wrapper); err != nil {
		return nil, providererr.Wrap(providererr.ParseError, providerTag, "parse folders response failed", err)
	}
	return wrapper.Folders, nil
}

// listFilePage fetches one page of files in parentUUID.
func (p *Provider) listFilePage(ctx context.Context, parentUUID string, offset int) ([]fileItem, error) {
	url := fmt.Sprintf("/folders/content/%s/files?offset=%d&limit=%d&sort=plainName&order=ASC", parentUUID, offset, listPageSize)
	resp, err := p.driveRequest(ctx, http.MethodGet, url, nil, "")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return nil, providererr.New(providererr.NotFound, providerTag, "folder not found")
	}
	if resp.StatusCode >= 400 {
		return nil, drainError(resp, providererr.ServerError, "list files failed")
	}
	var wrapper filesWrapper
	if err := json.NewDecoder(io.LimitReader(resp.Body, 8<<20)).Decode(&wrapper); err != nil {
		return nil, providererr.Wrap(providererr.ParseError, providerTag, "parse files response failed", err)
	}
	return wrapper.Files, nil
}

func (p *Provider) allSubfolders(ctx context.Context, parentUUID string) ([]folderItem, error) {
	var all []folderItem
	for offset := 0; ; offset += listPageSize {
		page, err := p.listFolderPage(ctx, parentUUID, offset)
		if err != nil {
			return nil, err
		}
		all = append(all, page...)
		if len(page) < listPageSize {
			return all, nil
		}
	}
}

func (p *Provider) allFiles(ctx context.Context, parentUUID string) ([]fileItem, error) {
	var all []fileItem
	for offset := 0; ; offset += listPageSize {
		page, err := p.listFilePage(ctx, parentUUID, offset)
		if err != nil {
			return nil, err
		}
		all = append(all, page...)
		if len(page) < listPageSize {
			return all, nil
		}
	}
}

// resolveFolderUUID walks path component by component from the root,
// consulting and populating the dir cache.
func (p *Provider) resolveFolderUUID(ctx context.Context, path string) (string, error) {
	norm, err := pathutil.Normalize(path)
	if err != nil {
		return "", providererr.Wrap(providererr.InvalidPath, providerTag, "invalid path", err)
	}
	if norm == "/" {
		p.mu.Lock()
		root := p.rootFolderID
		p.mu.Unlock()
		return root, nil
	}
	if uuid, ok := p.cacheGet(norm); ok {
		return uuid, nil
	}

	p.mu.Lock()
	currentUUID := p.rootFolderID
	p.mu.Unlock()
	currentPath := ""
	for _, part := range strings.Split(strings.Trim(norm, "/"), "/") {
		currentPath += "/" + part
		if uuid, ok := p.cacheGet(currentPath); ok {
			currentUUID = uuid
			continue
		}
		folders, err := p.allSubfolders(ctx, currentUUID)
		if err != nil {
			return "", err
		}
		found := ""
		for _, f := range folders {
			if isTrashed(f.Status) {
				continue
			}
			if strings.EqualFold(folderDisplayName(f), part) {
				found = f.UUID
				break
			}
		}
		if found == "" {
			return "", providererr.New(providererr.NotFound, providerTag, "folder not found: "+currentPath)
		}
		currentUUID = found
		p.cacheInsert(currentPath, found)
	}
	return currentUUID, nil
}

// findFileInFolder locates a file by visible name, returning its drive UUID,
// network file ID, and bucket.
func (p *Provider) findFileInFolder(ctx context.Context, folderUUID, filename string) (*fileItem, error) {
	files, err := p.allFiles(ctx, folderUUID)
	if err != nil {
		return nil, err
	}
	for i := range files {
		if isTrashed(files[i].Status) {
			continue
		}
		if strings.EqualFold(fileDisplayName(files[i]), filename) {
			return &files[i], nil
		}
	}
	return nil, nil
}

func (p *Provider) List(ctx context.Context, path string) ([]provider.RemoteEntry, error) {
	if !p.IsConnected() {
		return nil, providererr.New(providererr.NotConnected, providerTag, "not connected")
	}
	resolved, err := p.resolvePath(path)
	if err != nil {
		return nil, providererr.Wrap(providererr.InvalidPath, providerTag, "invalid path", err)
	}
	folderUUID, err := p.resolveFolderUUID(ctx, resolved)
	if err != nil {
		return nil, err
	}

	var entries []provider.RemoteEntry

	folders, err := p.allSubfolders(ctx, folderUUID)
	if err != nil {
		return nil, err
	}
	for _, f := range folders {
		if isTrashed(f.Status) {
			continue
		}
		name := folderDisplayName(f)
		childPath, _ := pathutil.Join(resolved, name)
		p.cacheInsert(childPath, f.UUID)
		entries = append(entries, provider.RemoteEntry{
			Path:         childPath,
			Name:         name,
			IsDir:        true,
			ModTime:      parseInternxtTime(f.UpdatedAt),
			ProviderMeta: map[string]string{"uuid": f.UUID},
		})
	}

	files, err := p.allFiles(ctx, folderUUID)
	if err != nil {
		return nil, err
	}
	for _, f := range files {
		if isTrashed(f.Status) {
			continue
		}
		name := fileDisplayName(f)
		childPath, _ := pathutil.Join(resolved, name)
		modTime := f.ModificationTime
		if modTime == "" {
			modTime = f.UpdatedAt
		}
		entries = append(entries, provider.RemoteEntry{
			Path:         childPath,
			Name:         name,
			IsDir:        false,
			Size:         extractSize(f.Size),
			ModTime:      parseInternxtTime(modTime),
			ProviderMeta: map[string]string{"uuid": f.UUID, "fileId": f.FileID},
		})
	}
	return entries, nil
}

func (p *Provider) Pwd() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cwd
}

func (p *Provider) Cd(ctx context.Context, path string) error {
	resolved, err := p.resolvePath(path)
	if err != nil {
		return providererr.Wrap(providererr.InvalidPath, providerTag, "invalid path", err)
	}
	uuid, err := p.resolveFolderUUID(ctx, resolved)
	if err != nil {
		return err
	}
	p.mu.Lock()
	p.cwd, p.cwdUUID = resolved, uuid
	p.mu.Unlock()
	return nil
}

func (p *Provider) CdUp(ctx context.Context) error {
	return p.Cd(ctx, pathutil.Dir(p.Pwd()))
}

func (p *Provider) Stat(ctx context.Context, path string) (provider.RemoteEntry, error) {
	resolved, err := p.resolvePath(path)
	if err != nil {
		return provider.RemoteEntry{}, providererr.Wrap(providererr.InvalidPath, providerTag, "invalid path", err)
	}
	parentPath, name := pathutil.Dir(resolved), pathutil.Base(resolved)
	parentUUID, err := p.resolveFolderUUID(ctx, parentPath)
	if err != nil {
		return provider.RemoteEntry{}, err
	}

	file, err := p.findFileInFolder(ctx, parentUUID, name)
	if err != nil {
		return provider.RemoteEntry{}, err
	}
	if file != nil {
		modTime := file.ModificationTime
		if modTime == "" {
			modTime = file.UpdatedAt
		}
		return provider.RemoteEntry{
			Path:         resolved,
			Name:         name,
			IsDir:        false,
			Size:         extractSize(file.Size),
			ModTime:      parseInternxtTime(modTime),
			ProviderMeta: map[string]string{"uuid": file.UUID, "fileId": file.FileID},
		}, nil
	}

	if uuid, ferr := p.resolveFolderUUID(ctx, resolved); ferr == nil {
		return provider.RemoteEntry{
			Path:         resolved,
			Name:         name,
			IsDir:        true,
			ProviderMeta: map[string]string{"uuid": uuid},
		}, nil
	}
	return provider.RemoteEntry{}, providererr.New(providererr.NotFound, providerTag, "'"+name+"' not found")
}

func (p *Provider) Size(ctx context.Context, path string) (int64, error) {
	e, err := p.Stat(ctx, path)
	if err != nil {
		return 0, err
	}
	return e.Size, nil
}

func (p *Provider) Exists(ctx context.Context, path string) (bool, error) {
	_, err := p.Stat(ctx, path)
	if err == nil {
		return true, nil
	}
	if providererr.Matches(err, providererr.NotFound) {
		return false, nil
	}
	return false, err
}

// downloadCiphertext fetches a file's shard ciphertext along with the key
// material needed to decrypt it. maxBytes bounds the in-memory ciphertext
// (CTR mode: ciphertext length == plaintext length).
func (p *Provider) downloadCiphertext(ctx context.Context, remote string, maxBytes int64, progress provider.ProgressFunc) (ciphertext []byte, key [32]byte, iv [16]byte, empty bool, err error) {
	resolved, rerr := p.resolvePath(remote)
	if rerr != nil {
		err = providererr.Wrap(providererr.InvalidPath, providerTag, "invalid path", rerr)
		return
	}
	parentPath, filename := pathutil.Dir(resolved), pathutil.Base(resolved)
	parentUUID, rerr := p.resolveFolderUUID(ctx, parentPath)
	if rerr != nil {
		err = rerr
		return
	}
	file, rerr := p.findFileInFolder(ctx, parentUUID, filename)
	if rerr != nil {
		err = rerr
		return
	}
	if file == nil {
		err = providererr.New(providererr.NotFound, providerTag, "file not found: "+resolved)
		return
	}
	fileBucket := file.Bucket
	if fileBucket == "" {
		p.mu.Lock()
		fileBucket = p.bucket
		p.mu.Unlock()
	}

	resp, rerr := p.networkRequest(ctx, http.MethodGet, fmt.Sprintf("/buckets/%s/files/%s/info", fileBucket, file.FileID), nil, "")
	if rerr != nil {
		err = rerr
		return
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		err = drainError(resp, providererr.ServerError, "get file info failed")
		return
	}
	var info bucketFileInfo
	if derr := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&info); derr != nil {
		err = providererr.Wrap(providererr.ParseError, providerTag, "parse file info failed", derr)
		return
	}

	if info.Size == 0 {
		empty = true
		return
	}
	if len(info.Shards) == 0 {
		err = providererr.New(providererr.ServerError, providerTag, "no shards found for file")
		return
	}

	p.mu.Lock()
	mnemonic := p.mnemonic
	p.mu.Unlock()
	key, iv, rerr = zkcrypto.GenerateFileKey(mnemonic, fileBucket, info.Index)
	if rerr != nil {
		err = providererr.Wrap(providererr.Other, providerTag, "file key derivation failed", rerr)
		return
	}

	// Files below the multi-shard threshold always arrive as one shard.
	shard := info.Shards[0]
	dlReq, rerr := http.NewRequestWithContext(ctx, http.MethodGet, shard.URL, nil)
	if rerr != nil {
		err = providererr.Wrap(providererr.Other, providerTag, "building shard request", rerr)
		return
	}
	dlResp, rerr := p.client.Do(dlReq)
	if rerr != nil {
		err = providererr.Wrap(providererr.ConnectionFailed, providerTag, "shard download failed", rerr)
		return
	}
	defer dlResp.Body.Close()
	if dlResp.StatusCode >= 400 {
		err = providererr.New(providererr.TransferFailed, providerTag, fmt.Sprintf("shard download failed (%d)", dlResp.StatusCode))
		return
	}

	ciphertext, rerr = pathutil.ReadWithLimit(dlResp.Body, maxBytes)
	if rerr != nil {
		if pathutil.IsCapExceeded(rerr) {
			err = providererr.Wrap(providererr.TransferFailed, providerTag, "download exceeded byte cap", rerr)
		} else {
			err = providererr.Wrap(providererr.TransferFailed, providerTag, "shard read failed", rerr)
		}
		return
	}
	if progress != nil {
		progress(int64(len(ciphertext)), info.Size)
	}
	return
}

func (p *Provider) Download(ctx context.Context, remote, local string, progress provider.ProgressFunc) error {
	ciphertext, key, iv, empty, err := p.downloadCiphertext(ctx, remote, 1<<31, progress)
	if err != nil {
		return err
	}
	if empty {
		return os.WriteFile(local, nil, 0o644)
	}
	plain, err := zkcrypto.DecryptFileContent(ciphertext, key, iv)
	if err != nil {
		return providererr.Wrap(providererr.TransferFailed, providerTag, "content decryption failed", err)
	}
	if err := os.WriteFile(local, plain, 0o644); err != nil {
		return providererr.Wrap(providererr.IoError, providerTag, "write local file", err)
	}
	return nil
}

func (p *Provider) DownloadToBytes(ctx context.Context, remote string, maxBytes int64) ([]byte, error) {
	if maxBytes <= 0 {
		maxBytes = pathutil.DefaultDownloadCap
	}
	ciphertext, key, iv, empty, err := p.downloadCiphertext(ctx, remote, maxBytes, nil)
	if err != nil {
		return nil, err
	}
	if empty {
		return []byte{}, nil
	}
	plain, err := zkcrypto.DecryptFileContent(ciphertext, key, iv)
	if err != nil {
		return nil, providererr.Wrap(providererr.TransferFailed, providerTag, "content decryption failed", err)
	}
	return plain, nil
}

// Upload encrypts the file locally and runs the two-phase network upload:
// start (allocate a part URL), PUT the ciphertext, finish with the
// RIPEMD-160(SHA-256(ciphertext)) integrity hash, then create the drive
// metadata record pointing at the network file.
func (p *Provider) Upload(ctx context.Context, local, remote string, progress provider.ProgressFunc) error {
	resolved, err := p.resolvePath(remote)
	if err != nil {
		return providererr.Wrap(providererr.InvalidPath, providerTag, "invalid path", err)
	}
	parentPath, filename := pathutil.Dir(resolved), pathutil.Base(resolved)
	parentUUID, err := p.resolveFolderUUID(ctx, parentPath)
	if err != nil {
		return err
	}

	data, err := os.ReadFile(local)
	if err != nil {
		return providererr.Wrap(providererr.IoError, providerTag, "read local file", err)
	}
	plainSize := int64(len(data))

	// The drive API 409s on same-name creates; deleting the old record
	// first lets the server process the delete while we encrypt and push.
	if existing, ferr := p.findFileInFolder(ctx, parentUUID, filename); ferr == nil && existing != nil {
		if resp, derr := p.driveRequest(ctx, http.MethodDelete, "/files/"+existing.UUID, nil, ""); derr == nil {
			resp.Body.Close()
		}
	}

	name, ext := splitNameExt(filename)
	if plainSize == 0 {
		return p.createFileMeta(ctx, "", parentUUID, name, ext, 0)
	}

	indexBytes := make([]byte, 32)
	if _, err := rand.Read(indexBytes); err != nil {
		return providererr.Wrap(providererr.Other, providerTag, "generate file index", err)
	}
	encIndex := hex.EncodeToString(indexBytes)

	p.mu.Lock()
	mnemonic, bucket := p.mnemonic, p.bucket
	p.mu.Unlock()
	key, iv, err := zkcrypto.GenerateFileKey(mnemonic, bucket, encIndex)
	if err != nil {
		return providererr.Wrap(providererr.Other, providerTag, "file key derivation failed", err)
	}
	encrypted, err := zkcrypto.EncryptFileContent(data, key, iv)
	if err != nil {
		return providererr.Wrap(providererr.TransferFailed, providerTag, "content encryption failed", err)
	}
	if progress != nil {
		progress(0, int64(len(encrypted)))
	}

	part, err := p.startUpload(ctx, bucket, plainSize)
	if err != nil {
		return err
	}
	uploadURL := part.URL
	if len(part.URLs) > 0 {
		uploadURL = part.URLs[0]
	}
	if uploadURL == "" {
		return providererr.New(providererr.ServerError, providerTag, "no upload URL provided")
	}

	putReq, err := http.NewRequestWithContext(ctx, http.MethodPut, uploadURL, bytes.NewReader(encrypted))
	if err != nil {
		return providererr.Wrap(providererr.Other, providerTag, "building transfer request", err)
	}
	putReq.Header.Set("Content-Type", "application/octet-stream")
	putResp, err := p.client.Do(putReq)
	if err != nil {
		return providererr.Wrap(providererr.ConnectionFailed, providerTag, "upload transfer failed", err)
	}
	defer putResp.Body.Close()
	if putResp.StatusCode >= 400 {
		return drainError(putResp, providererr.TransferFailed, "upload transfer failed")
	}
	if progress != nil {
		progress(int64(len(encrypted)), int64(len(encrypted)))
	}

	integrityHash := hex.EncodeToString(zkcrypto.IntegrityHash(encrypted))
	finishBody, _ := json.Marshal(map[string]interface{}{
		"index": encIndex,
		"shards": []map[string]string{
			{"hash": integrityHash, "uuid": part.UUID},
		},
	})
	finishResp, err := p.networkRequest(ctx, http.MethodPost, "/v2/buckets/"+bucket+"/files/finish", bytes.NewReader(finishBody), "application/json; charset=utf-8")
	if err != nil {
		return err
	}
	defer finishResp.Body.Close()
	if finishResp.StatusCode >= 400 {
		return drainError(finishResp, providererr.ServerError, "finish upload failed")
	}
	var finish finishUploadResp
	if err := json.NewDecoder(io.LimitReader(finishResp.Body, 1<<20)).Decode(&finish); err != nil {
		return providererr.Wrap(providererr.ParseError, providerTag, "parse finish upload response failed", err)
	}

	return p.createFileMeta(ctx, finish.ID, parentUUID, name, ext, plainSize)
}

// startUpload allocates an upload part. The gateway intermittently 500s on
// this endpoint under load, so it goes through the shared retry policy.
func (p *Provider) startUpload(ctx context.Context, bucket string, plainSize int64) (*uploadPart, error) {
	startBody, _ := json.Marshal(map[string]interface{}{
		"uploads": []map[string]int64{{"index": 0, "size": plainSize}},
	})
	p.mu.Lock()
	auth := p.basicAuth
	p.mu.Unlock()

	resp, err := retrypolicy.SendWithRetry(ctx, p.client, p.retry, func(ctx context.Context) (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost,
			p.gateway+"/network/v2/buckets/"+bucket+"/files/start?multiparts=1", bytes.NewReader(startBody))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Authorization", auth)
		req.Header.Set("internxt-client", clientHeader)
		req.Header.Set("internxt-version", "1.0")
		req.Header.Set("Content-Type", "application/json; charset=utf-8")
		return req, nil
	})
	if err != nil {
		return nil, providererr.Wrap(providererr.ConnectionFailed, providerTag, "start upload failed", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return nil, drainError(resp, providererr.ServerError, "start upload failed")
	}
	var start startUploadResp
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&start); err != nil {
		return nil, providererr.Wrap(providererr.ParseError, providerTag, "parse start upload response failed", err)
	}
	if len(start.Uploads) == 0 {
		return nil, providererr.New(providererr.ServerError, providerTag, "no upload parts returned")
	}
	return &start.Uploads[0], nil
}

// createFileMeta records the uploaded network file in the drive tree.
// networkFileID is empty for zero-byte files, which have no network object.
func (p *Provider) createFileMeta(ctx context.Context, networkFileID, folderUUID, plainName, fileType string, size int64) error {
	p.mu.Lock()
	bucket := p.bucket
	p.mu.Unlock()
	now := time.Now().UTC().Format(time.RFC3339)
	body := map[string]interface{}{
		"name":             plainName,
		"bucket":           bucket,
		"encryptVersion":   "03-aes",
		"folderUuid":       folderUUID,
		"size":             size,
		"plainName":        plainName,
		"type":             fileType,
		"creationTime":     now,
		"date":             now,
		"modificationTime": now,
	}
	if networkFileID != "" {
		body["fileId"] = networkFileID
	}
	payload, _ := json.Marshal(body)
	resp, err := p.driveRequest(ctx, http.MethodPost, "/files", bytes.NewReader(payload), "application/json; charset=utf-8")
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return drainError(resp, providererr.ServerError, "create file meta failed")
	}
	var meta createMetaResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&meta); err != nil {
		return providererr.Wrap(providererr.ParseError, providerTag, "parse create file meta response failed", err)
	}
	return nil
}

func (p *Provider) Mkdir(ctx context.Context, path string) error {
	resolved, err := p.resolvePath(path)
	if err != nil {
		return providererr.Wrap(providererr.InvalidPath, providerTag, "invalid path", err)
	}
	parentPath, folderName := pathutil.Dir(resolved), pathutil.Base(resolved)
	parentUUID, err := p.resolveFolderUUID(ctx, parentPath)
	if err != nil {
		return err
	}
	now := time.Now().UTC().Format(time.RFC3339)
	body, _ := json.Marshal(map[string]string{
		"plainName":        folderName,
		"parentFolderUuid": parentUUID,
		"creationTime":     now,
		"modificationTime": now,
	})
	resp, err := p.driveRequest(ctx, http.MethodPost, "/folders", bytes.NewReader(body), "application/json")
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return drainError(resp, providererr.ServerError, "create folder failed")
	}
	var created struct {
		UUID string `json:"uuid"`
	}
	if json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&created) == nil && created.UUID != "" {
		p.cacheInsert(resolved, created.UUID)
	}
	return nil
}

func (p *Provider) Delete(ctx context.Context, path string) error {
	resolved, err := p.resolvePath(path)
	if err != nil {
		return providererr.Wrap(providererr.InvalidPath, providerTag, "invalid path", err)
	}
	parentPath, filename := pathutil.Dir(resolved), pathutil.Base(resolved)
	parentUUID, err := p.resolveFolderUUID(ctx, parentPath)
	if err != nil {
		if providererr.Matches(err, providererr.NotFound) {
			return nil // absorb: idempotent delete
		}
		return err
	}
	file, err := p.findFileInFolder(ctx, parentUUID, filename)
	if err != nil {
		return err
	}
	if file == nil {
		return nil
	}
	resp, err := p.driveRequest(ctx, http.MethodDelete, "/files/"+file.UUID, nil, "")
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return nil
	}
	if resp.StatusCode >= 400 {
		return drainError(resp, providererr.ServerError, "delete failed")
	}
	return nil
}

func (p *Provider) Rmdir(ctx context.Context, path string) error {
	resolved, err := p.resolvePath(path)
	if err != nil {
		return providererr.Wrap(providererr.InvalidPath, providerTag, "invalid path", err)
	}
	uuid, err := p.resolveFolderUUID(ctx, resolved)
	if err != nil {
		if providererr.Matches(err, providererr.NotFound) {
			return nil
		}
		return err
	}
	resp, err := p.driveRequest(ctx, http.MethodDelete, "/folders/"+uuid, nil, "")
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		p.cacheRemove(resolved)
		return nil
	}
	if resp.StatusCode >= 400 && resp.StatusCode != http.StatusNoContent {
		return drainError(resp, providererr.ServerError, "delete folder failed")
	}
	p.cacheRemove(resolved)
	return nil
}

// RmdirRecursive walks the subtree iteratively with an explicit stack,
// deleting files as it discovers them and directories afterwards in
// children-before-parents order.
func (p *Provider) RmdirRecursive(ctx context.Context, path string) error {
	resolved, err := p.resolvePath(path)
	if err != nil {
		return providererr.Wrap(providererr.InvalidPath, providerTag, "invalid path", err)
	}
	if _, err := p.resolveFolderUUID(ctx, resolved); err != nil {
		if providererr.Matches(err, providererr.NotFound) {
			return nil
		}
		return err
	}

	var dirs []string // discovery order: parents before children
	stack := []string{resolved}
	for len(stack) > 0 {
		dir := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		dirs = append(dirs, dir)

		entries, err := p.List(ctx, dir)
		if err != nil {
			if providererr.Matches(err, providererr.NotFound) {
				continue
			}
			return err
		}
		for _, e := range entries {
			if e.IsDir {
				stack = append(stack, e.Path)
				continue
			}
			if err := p.Delete(ctx, e.Path); err != nil && !providererr.Matches(err, providererr.NotFound) {
				return err
			}
		}
	}
	for i := len(dirs) - 1; i >= 0; i-- {
		if err := p.Rmdir(ctx, dirs[i]); err != nil && !providererr.Matches(err, providererr.NotFound) {
			return err
		}
	}
	return nil
}

// Rename updates a file's plainName/type metadata. The drive API has no
// folder rename, and no move endpoint is exposed to this client, so
// cross-parent renames and folder renames report NotSupported.
func (p *Provider) Rename(ctx context.Context, from, to string) error {
	resolvedFrom, err := p.resolvePath(from)
	if err != nil {
		return providererr.Wrap(providererr.InvalidPath, providerTag, "invalid from path", err)
	}
	resolvedTo, err := p.resolvePath(to)
	if err != nil {
		return providererr.Wrap(providererr.InvalidPath, providerTag, "invalid to path", err)
	}
	fromParent, fromName := pathutil.Dir(resolvedFrom), pathutil.Base(resolvedFrom)
	toParent, toName := pathutil.Dir(resolvedTo), pathutil.Base(resolvedTo)
	if fromParent != toParent {
		return providererr.New(providererr.NotSupported, providerTag, "cross-folder move is not supported by the Internxt API")
	}
	parentUUID, err := p.resolveFolderUUID(ctx, fromParent)
	if err != nil {
		return err
	}

	file, err := p.findFileInFolder(ctx, parentUUID, fromName)
	if err != nil {
		return err
	}
	if file == nil {
		if _, ok := p.cacheGet(resolvedFrom); ok {
			return providererr.New(providererr.NotSupported, providerTag, "folder rename is not supported by the Internxt API")
		}
		return providererr.New(providererr.NotFound, providerTag, "'"+fromName+"' not found")
	}

	newName, newType := splitNameExt(toName)
	payload := map[string]string{"plainName": newName}
	if newType != "" {
		payload["type"] = newType
	}
	body, _ := json.Marshal(payload)
	resp, err := p.driveRequest(ctx, http.MethodPut, "/files/"+file.UUID+"/meta", bytes.NewReader(body), "application/json")
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return drainError(resp, providererr.ServerError, "rename failed")
	}
	return nil
}

func (p *Provider) SupportsServerSideCopy() bool { return false }
func (p *Provider) SupportsShareLinks() bool     { return false }
func (p *Provider) SupportsSearch() bool         { return false }
func (p *Provider) SupportsStorageInfo() bool    { return true }
func (p *Provider) SupportsVersions() bool       { return false }
func (p *Provider) SupportsLocking() bool        { return false }
func (p *Provider) SupportsThumbnails() bool     { return false }
func (p *Provider) SupportsPermissions() bool    { return false }
func (p *Provider) SupportsChangeFeed() bool     { return false }
func (p *Provider) SupportsResumable() bool      { return false }

func (p *Provider) StorageInfoOf(ctx context.Context) (provider.StorageInfo, error) {
	var used, total int64

	resp, err := p.driveRequest(ctx, http.MethodGet, "/users/usage", nil, "")
	if err != nil {
		return provider.StorageInfo{}, err
	}
	if resp.StatusCode < 400 {
		var usage usageResponse
		if json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&usage) == nil {
			used = usage.Total
			if used == 0 {
				used = usage.Drive
			}
		}
	}
	resp.Body.Close()

	resp, err = p.driveRequest(ctx, http.MethodGet, "/users/limit", nil, "")
	if err != nil {
		return provider.StorageInfo{}, err
	}
	if resp.StatusCode < 400 {
		var limit limitResponse
		if json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&limit) == nil {
			total = limit.MaxSpaceBytes
		}
	}
	resp.Body.Close()

	return provider.StorageInfo{UsedBytes: used, TotalBytes: total}, nil
}
