// Package kdrive implements the StorageProvider capability over
// Infomaniak kDrive's REST API, grounded on
// _examples/original_source/src-tauri/src/providers/kdrive.rs. Auth is a
// bare bearer API token, no OAuth2 dance. Listing endpoints accept either
// a flat JSON array or a {data,has_more,cursor} wrapper depending on
// kDrive API version, so both shapes are decoded. Uploads set
// conflict=version rather than deleting-then-creating, so a failed
// upload never destroys the existing file.
package kdrive

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/aeroftp/aerocore/pkg/pathutil"
	"github.com/aeroftp/aerocore/pkg/provider"
	"github.com/aeroftp/aerocore/pkg/providererr"
)

const providerTag = "kdrive"

const apiBase = "https://api.infomaniak.com"

func init() {
	provider.Register("kdrive", func(cfg provider.ProviderConfig) (provider.StorageProvider, error) {
		return New(*cfg.KDrive), nil
	})
}

type apiError struct {
	Code        string `json:"code"`
	Description string `json:"description"`
}

type apiEnvelope struct {
	Result string          `json:"result"`
	Data   json.RawMessage `json:"data"`
	Error  *apiError       `json:"error"`
}

type kdriveFile struct {
	ID             int64  `json:"id"`
	Name           string `json:"name"`
	Type           string `json:"type"` // "dir" or "file"
	Size           int64  `json:"size"`
	LastModifiedAt int64  `json:"last_modified_at"`
	Path           string `json:"path"`
}

type filesPaginated struct {
	Data    []kdriveFile `json:"data"`
	HasMore bool         `json:"has_more"`
	Cursor  string       `json:"cursor"`
}

type driveInfo struct {
	UsedSize int64 `json:"used_size"`
	Size     int64 `json:"size"`
}

type shareLinkData struct {
	URL  string `json:"url"`
	UUID string `json:"uuid"`
}

type kdriveVersion struct {
	ID            int64 `json:"id"`
	Size          int64 `json:"size"`
	CreatedAt     int64 `json:"created_at"`
	VersionNumber int64 `json:"version_number"`
}

// Provider is a StorageProvider backed by Infomaniak kDrive.
type Provider struct {
	cfg    provider.KDriveConfig
	client *http.Client

	mu          sync.Mutex
	connected   bool
	cwd         string
	cwdID       int64
	rootFileID  int64
	dirCache    map[string]int64
}

// New builds an unconnected kDrive provider.
func New(cfg provider.KDriveConfig) *Provider {
	return &Provider{
		cfg:        cfg,
		client:     &http.Client{Timeout: 300 * time.Second},
		cwd:        "/",
		rootFileID: 1,
		cwdID:      1,
		dirCache:   make(map[string]int64),
	}
}

// dirCacheMaxEntries bounds the path-ID cache; it's cleared wholesale and
// repopulated through navigation once it fills.
const dirCacheMaxEntries = 10000

func (p *Provider) cacheInsert(path string, id int64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.dirCache) >= dirCacheMaxEntries {
		p.dirCache = make(map[string]int64)
	}
	p.dirCache[path] = id
}

func (p *Provider) cacheGet(path string) (int64, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	id, ok := p.dirCache[path]
	return id, ok
}

func (p *Provider) cacheRemove(path string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.dirCache, path)
}

func (p *Provider) apiURLv2(path string) string {
	return fmt.Sprintf("%s/2/drive/%s%s", apiBase, p.cfg.DriveID, path)
}

func (p *Provider) apiURLv3(path string) string {
	return fmt.Sprintf("%s/3/drive/%s%s", apiBase, p.cfg.DriveID, path)
}

func (p *Provider) authHeader() string {
	return "Bearer " + p.cfg.APIToken
}

func (p *Provider) do(ctx context.Context, method, url string, contentType string, body io.Reader) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, providererr.Wrap(providererr.Other, providerTag, "building request", err)
	}
	req.Header.Set("Authorization", p.authHeader())
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return nil, providererr.Wrap(providererr.ConnectionFailed, providerTag, "request failed", err)
	}
	return resp, nil
}

func unwrapEnvelope(data []byte, out interface{}) error {
	var env apiEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return err
	}
	if len(env.Data) == 0 || string(env.Data) == "null" {
		return nil
	}
	return json.Unmarshal(env.Data, out)
}

// decodeFiles accepts both the flat-array and {data,has_more,cursor} list
// shapes kDrive's API returns interchangeably.
func decodeFiles(raw json.RawMessage) (files []kdriveFile, hasMore bool, cursor string) {
	var paginated filesPaginated
	if json.Unmarshal(raw, &paginated) == nil && paginated.Data != nil {
		return paginated.Data, paginated.HasMore, paginated.Cursor
	}
	var flat []kdriveFile
	_ = json.Unmarshal(raw, &flat)
	return flat, false, ""
}

func (p *Provider) resolvePath(path string) (string, error) {
	if path == "" || path == "." {
		return p.Pwd(), nil
	}
	return pathutil.Join(p.Pwd(), path)
}

// listFolder lists folderID's immediate children, paging through cursors.
func (p *Provider) listFolder(ctx context.Context, folderID int64) ([]kdriveFile, error) {
	var all []kdriveFile
	baseURL := p.apiURLv3(fmt.Sprintf("/files/%d/files", folderID))
	cursor := ""
	for {
		u := baseURL
		if cursor != "" {
			u += "?cursor=" + url.QueryEscape(cursor)
		}
		resp, err := p.do(ctx, "GET", u, "", nil)
		if err != nil {
			return nil, err
		}
		data, rerr := pathutil.ReadWithLimit(resp.Body, 8<<20)
		resp.Body.Close()
		if rerr != nil {
			return nil, providererr.Wrap(providererr.IoError, providerTag, "reading list response", rerr)
		}
		if resp.StatusCode == http.StatusNotFound {
			return nil, providererr.New(providererr.NotFound, providerTag, "folder not found")
		}
		if resp.StatusCode >= 400 {
			return nil, providererr.New(providererr.ServerError, providerTag, fmt.Sprintf("list returned %d: %s", resp.StatusCode, pathutil.SanitizeAPIError(string(data))))
		}
		var env apiEnvelope
		if err := json.Unmarshal(data, &env); err != nil {
			return nil, providererr.Wrap(providererr.ServerError, providerTag, "parse list response failed", err)
		}
		files, hasMore, next := decodeFiles(env.Data)
		all = append(all, files...)
		if !hasMore || next == "" {
			break
		}
		cursor = next
	}
	return all, nil
}

func (p *Provider) findFileInFolder(ctx context.Context, folderID int64, name string) (*kdriveFile, error) {
	files, err := p.listFolder(ctx, folderID)
	if err != nil {
		return nil, err
	}
	for i := range files {
		if files[i].Name == name {
			return &files[i], nil
		}
	}
	return nil, nil
}

// resolveFolderID walks path component by component from the root,
// consulting and populating the dir cache.
func (p *Provider) resolveFolderID(ctx context.Context, path string) (int64, error) {
	norm, err := pathutil.Normalize(path)
	if err != nil {
		return 0, providererr.Wrap(providererr.InvalidPath, providerTag, "invalid path", err)
	}
	if norm == "/" {
		return p.rootFileID, nil
	}
	if id, ok := p.cacheGet(norm); ok {
		return id, nil
	}
	parts := strings.Split(strings.Trim(norm, "/"), "/")
	currentID := p.rootFileID
	currentPath := ""
	for _, part := range parts {
		currentPath += "/" + part
		if id, ok := p.cacheGet(currentPath); ok {
			currentID = id
			continue
		}
		f, err := p.findFileInFolder(ctx, currentID, part)
		if err != nil {
			return 0, err
		}
		if f == nil || f.Type != "dir" {
			return 0, providererr.New(providererr.NotFound, providerTag, fmt.Sprintf("folder '%s' not found in %s", part, currentPath))
		}
		currentID = f.ID
		p.cacheInsert(currentPath, currentID)
	}
	return currentID, nil
}

func (p *Provider) Connect(ctx context.Context) error {
	connectCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	resp, err := p.do(connectCtx, "GET", p.apiURLv2(""), "", nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	data, rerr := pathutil.ReadWithLimit(resp.Body, 1<<20)
	if rerr != nil {
		return providererr.Wrap(providererr.IoError, providerTag, "reading connect response", rerr)
	}
	if resp.StatusCode == http.StatusNotFound {
		return providererr.New(providererr.ConnectionFailed, providerTag, fmt.Sprintf("drive ID '%s' not found; check your kDrive ID in the Infomaniak dashboard", p.cfg.DriveID))
	}
	if resp.StatusCode >= 400 {
		return providererr.New(providererr.ConnectionFailed, providerTag, fmt.Sprintf("connection failed (%d): %s", resp.StatusCode, pathutil.SanitizeAPIError(string(data))))
	}
	var info driveInfo
	if err := unwrapEnvelope(data, &info); err != nil {
		return providererr.Wrap(providererr.ConnectionFailed, providerTag, "failed to parse drive info", err)
	}

	p.mu.Lock()
	p.connected = true
	p.cwd, p.cwdID = "/", p.rootFileID
	p.mu.Unlock()
	return nil
}

func (p *Provider) Disconnect(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.connected = false
	return nil
}

func (p *Provider) IsConnected() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.connected
}

func (p *Provider) KeepAlive(ctx context.Context) error {
	if !p.IsConnected() {
		return providererr.New(providererr.NotConnected, providerTag, "not connected")
	}
	return nil
}

func (p *Provider) ServerInfo(ctx context.Context) (string, error) {
	return "Infomaniak kDrive — Drive ID: " + p.cfg.DriveID, nil
}

func (p *Provider) AccountEmail(ctx context.Context) (string, error) {
	return "", providererr.New(providererr.NotSupported, providerTag, "kDrive has no account-email endpoint")
}

func toRemoteEntry(f kdriveFile, basePath string) provider.RemoteEntry {
	isDir := f.Type == "dir"
	path := basePath
	e := provider.RemoteEntry{
		Path:  path,
		Name:  f.Name,
		IsDir: isDir,
		Size:  f.Size,
	}
	if f.LastModifiedAt > 0 {
		e.ModTime = time.Unix(f.LastModifiedAt, 0).UTC()
	}
	return e
}

func (p *Provider) List(ctx context.Context, path string) ([]provider.RemoteEntry, error) {
	if !p.IsConnected() {
		return nil, providererr.New(providererr.NotConnected, providerTag, "not connected")
	}
	resolved, err := p.resolvePath(path)
	if err != nil {
		return nil, providererr.Wrap(providererr.InvalidPath, providerTag, "invalid path", err)
	}
	folderID, err := p.resolveFolderID(ctx, resolved)
	if err != nil {
		return nil, err
	}
	files, err := p.listFolder(ctx, folderID)
	if err != nil {
		return nil, err
	}
	out := make([]provider.RemoteEntry, 0, len(files))
	for _, f := range files {
		name := f.Name
		if name == "" {
			name = fmt.Sprintf("unnamed_%d", f.ID)
		}
		childPath := "/" + name
		if resolved != "/" {
			childPath = strings.TrimSuffix(resolved, "/") + "/" + name
		}
		f.Name = name
		out = append(out, toRemoteEntry(f, childPath))
	}
	return out, nil
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
	id, err := p.resolveFolderID(ctx, resolved)
	if err != nil {
		return err
	}
	p.mu.Lock()
	p.cwd, p.cwdID = resolved, id
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
	parentPath, filename := pathutil.Dir(resolved), pathutil.Base(resolved)
	parentID, err := p.resolveFolderID(ctx, parentPath)
	if err != nil {
		return provider.RemoteEntry{}, err
	}
	f, err := p.findFileInFolder(ctx, parentID, filename)
	if err != nil {
		return provider.RemoteEntry{}, err
	}
	if f == nil {
		return provider.RemoteEntry{}, providererr.New(providererr.NotFound, providerTag, "'"+filename+"' not found")
	}
	return toRemoteEntry(*f, resolved), nil
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

func (p *Provider) resolveFile(ctx context.Context, path string) (parentID int64, file *kdriveFile, err error) {
	resolved, rerr := p.resolvePath(path)
	if rerr != nil {
		return 0, nil, providererr.Wrap(providererr.InvalidPath, providerTag, "invalid path", rerr)
	}
	parentPath, filename := pathutil.Dir(resolved), pathutil.Base(resolved)
	parentID, err = p.resolveFolderID(ctx, parentPath)
	if err != nil {
		return 0, nil, err
	}
	file, err = p.findFileInFolder(ctx, parentID, filename)
	if err != nil {
		return 0, nil, err
	}
	if file == nil {
		return 0, nil, providererr.New(providererr.NotFound, providerTag, "'"+filename+"' not found")
	}
	return parentID, file, nil
}

func (p *Provider) Download(ctx context.Context, remote, local string, progress provider.ProgressFunc) error {
	_, file, err := p.resolveFile(ctx, remote)
	if err != nil {
		return err
	}
	resp, err := p.do(ctx, "GET", p.apiURLv2(fmt.Sprintf("/files/%d/download", file.ID)), "", nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		body, _ := pathutil.ReadWithLimit(resp.Body, 4096)
		return providererr.New(providererr.TransferFailed, providerTag, "download failed: "+pathutil.SanitizeAPIError(string(body)))
	}
	f, cerr := os.Create(local)
	if cerr != nil {
		return providererr.Wrap(providererr.TransferFailed, providerTag, "create local file", cerr)
	}
	defer f.Close()
	var written int64
	buf := make([]byte, 256*1024)
	for {
		n, rerr := resp.Body.Read(buf)
		if n > 0 {
			if _, werr := f.Write(buf[:n]); werr != nil {
				return providererr.Wrap(providererr.TransferFailed, providerTag, "write error", werr)
			}
			written += int64(n)
			if progress != nil {
				progress(written, file.Size)
			}
		}
		if rerr == io.EOF {
			break
		}
		if rerr != nil {
			return providererr.Wrap(providererr.TransferFailed, providerTag, "download stream error", rerr)
		}
	}
	return nil
}

func (p *Provider) DownloadToBytes(ctx context.Context, remote string, maxBytes int64) ([]byte, error) {
	_, file, err := p.resolveFile(ctx, remote)
	if err != nil {
		return nil, err
	}
	if maxBytes <= 0 {
		maxBytes = pathutil.DefaultDownloadCap
	}
	resp, err := p.do(ctx, "GET", p.apiURLv2(fmt.Sprintf("/files/%d/download", file.ID)), "", nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return nil, providererr.New(providererr.TransferFailed, providerTag, "download failed")
	}
	data, err := pathutil.ReadWithLimit(resp.Body, maxBytes)
	if err != nil {
		if pathutil.IsCapExceeded(err) {
			return nil, providererr.Wrap(providererr.TransferFailed, providerTag, "download exceeded byte cap", err)
		}
		return nil, providererr.Wrap(providererr.IoError, providerTag, "read failed", err)
	}
	return data, nil
}

// Upload streams the local file with conflict=version so kDrive creates a
// new version atomically instead of the caller deleting the old file
// first — a failed upload never destroys existing data.
func (p *Provider) Upload(ctx context.Context, local, remote string, progress provider.ProgressFunc) error {
	resolved, err := p.resolvePath(remote)
	if err != nil {
		return providererr.Wrap(providererr.InvalidPath, providerTag, "invalid path", err)
	}
	parentPath, filename := pathutil.Dir(resolved), pathutil.Base(resolved)
	parentID, err := p.resolveFolderID(ctx, parentPath)
	if err != nil {
		return err
	}

	f, err := os.Open(local)
	if err != nil {
		return providererr.Wrap(providererr.TransferFailed, providerTag, "open local file", err)
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return providererr.Wrap(providererr.TransferFailed, providerTag, "stat local file", err)
	}
	fileSize := info.Size()
	if progress != nil {
		progress(0, fileSize)
	}

	u := fmt.Sprintf("%s?directory_id=%d&file_name=%s&total_size=%d&last_modified_at=%d&conflict=version",
		p.apiURLv3("/upload"), parentID, url.QueryEscape(filename), fileSize, info.ModTime().Unix())

	resp, err := p.do(ctx, "POST", u, "application/octet-stream", f)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	data, _ := pathutil.ReadWithLimit(resp.Body, 4096)
	if resp.StatusCode >= 400 {
		return providererr.New(providererr.TransferFailed, providerTag, fmt.Sprintf("upload failed (%d): %s", resp.StatusCode, pathutil.SanitizeAPIError(string(data))))
	}
	if progress != nil {
		progress(fileSize, fileSize)
	}
	p.cacheRemove(resolved)
	return nil
}

func (p *Provider) Mkdir(ctx context.Context, path string) error {
	resolved, err := p.resolvePath(path)
	if err != nil {
		return providererr.Wrap(providererr.InvalidPath, providerTag, "invalid path", err)
	}
	parentPath, dirName := pathutil.Dir(resolved), pathutil.Base(resolved)
	parentID, err := p.resolveFolderID(ctx, parentPath)
	if err != nil {
		return err
	}
	body, _ := json.Marshal(map[string]string{"name": dirName})
	resp, err := p.do(ctx, "POST", p.apiURLv3(fmt.Sprintf("/files/%d/directory", parentID)), "application/json", strings.NewReader(string(body)))
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	data, rerr := pathutil.ReadWithLimit(resp.Body, 1<<20)
	if rerr != nil {
		return providererr.Wrap(providererr.IoError, providerTag, "reading mkdir response", rerr)
	}
	if resp.StatusCode >= 400 {
		return providererr.New(providererr.IoError, providerTag, fmt.Sprintf("create directory failed (%d): %s", resp.StatusCode, pathutil.SanitizeAPIError(string(data))))
	}
	var file kdriveFile
	if unwrapEnvelope(data, &file) == nil && file.ID != 0 {
		p.cacheInsert(resolved, file.ID)
	}
	return nil
}

func (p *Provider) Delete(ctx context.Context, path string) error {
	_, file, err := p.resolveFile(ctx, path)
	if err != nil {
		if providererr.Matches(err, providererr.NotFound) {
			return nil // absorb: idempotent delete
		}
		return err
	}
	resp, err := p.do(ctx, "DELETE", p.apiURLv2(fmt.Sprintf("/files/%d", file.ID)), "", nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return nil
	}
	if resp.StatusCode >= 400 {
		body, _ := pathutil.ReadWithLimit(resp.Body, 4096)
		return providererr.New(providererr.IoError, providerTag, fmt.Sprintf("delete failed (%d): %s", resp.StatusCode, pathutil.SanitizeAPIError(string(body))))
	}
	resolved, _ := p.resolvePath(path)
	p.cacheRemove(resolved)
	return nil
}

func (p *Provider) Rmdir(ctx context.Context, path string) error {
	return p.Delete(ctx, path)
}

// RmdirRecursive relies on kDrive's DELETE-on-a-folder already being
// recursive (moves the whole subtree to trash).
func (p *Provider) RmdirRecursive(ctx context.Context, path string) error {
	return p.Delete(ctx, path)
}

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
	fromParentID, err := p.resolveFolderID(ctx, fromParent)
	if err != nil {
		return err
	}
	file, err := p.findFileInFolder(ctx, fromParentID, fromName)
	if err != nil {
		return err
	}
	if file == nil {
		return providererr.New(providererr.NotFound, providerTag, "'"+fromName+"' not found")
	}
	toParentID := fromParentID
	if fromParent != toParent {
		toParentID, err = p.resolveFolderID(ctx, toParent)
		if err != nil {
			return err
		}
	}
	body, _ := json.Marshal(map[string]string{"name": toName})
	resp, err := p.do(ctx, "POST", p.apiURLv3(fmt.Sprintf("/files/%d/move/%d", file.ID, toParentID)), "application/json", strings.NewReader(string(body)))
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		data, _ := pathutil.ReadWithLimit(resp.Body, 4096)
		return providererr.New(providererr.IoError, providerTag, fmt.Sprintf("rename failed (%d): %s", resp.StatusCode, pathutil.SanitizeAPIError(string(data))))
	}
	p.cacheRemove(resolvedFrom)
	return nil
}

func (p *Provider) SupportsServerSideCopy() bool { return true }
func (p *Provider) SupportsShareLinks() bool      { return true }
func (p *Provider) SupportsSearch() bool          { return true }
func (p *Provider) SupportsStorageInfo() bool     { return true }
func (p *Provider) SupportsVersions() bool        { return true }
func (p *Provider) SupportsLocking() bool         { return false }
func (p *Provider) SupportsThumbnails() bool      { return false }
func (p *Provider) SupportsPermissions() bool     { return false }
func (p *Provider) SupportsChangeFeed() bool      { return false }
func (p *Provider) SupportsResumable() bool       { return false }

// Copy performs a server-side copy; kDrive has no rename endpoint either,
// so both Rename and Copy route through /move and /copy respectively.
func (p *Provider) Copy(ctx context.Context, from, to string) error {
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
	fromParentID, err := p.resolveFolderID(ctx, fromParent)
	if err != nil {
		return err
	}
	toParentID, err := p.resolveFolderID(ctx, toParent)
	if err != nil {
		return err
	}
	file, err := p.findFileInFolder(ctx, fromParentID, fromName)
	if err != nil {
		return err
	}
	if file == nil {
		return providererr.New(providererr.NotFound, providerTag, "'"+fromName+"' not found")
	}
	body, _ := json.Marshal(map[string]string{"name": toName})
	resp, err := p.do(ctx, "POST", p.apiURLv3(fmt.Sprintf("/files/%d/copy/%d", file.ID, toParentID)), "application/json", strings.NewReader(string(body)))
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		data, _ := pathutil.ReadWithLimit(resp.Body, 4096)
		return providererr.New(providererr.IoError, providerTag, fmt.Sprintf("copy failed (%d): %s", resp.StatusCode, pathutil.SanitizeAPIError(string(data))))
	}
	return nil
}

func (p *Provider) StorageInfoOf(ctx context.Context) (provider.StorageInfo, error) {
	resp, err := p.do(ctx, "GET", p.apiURLv2(""), "", nil)
	if err != nil {
		return provider.StorageInfo{}, err
	}
	defer resp.Body.Close()
	data, rerr := pathutil.ReadWithLimit(resp.Body, 1<<20)
	if rerr != nil {
		return provider.StorageInfo{}, providererr.Wrap(providererr.IoError, providerTag, "reading quota response", rerr)
	}
	if resp.StatusCode >= 400 {
		return provider.StorageInfo{}, providererr.New(providererr.ServerError, providerTag, "quota request failed: "+pathutil.SanitizeAPIError(string(data)))
	}
	var drive driveInfo
	if err := unwrapEnvelope(data, &drive); err != nil {
		return provider.StorageInfo{}, providererr.Wrap(providererr.ServerError, providerTag, "parse quota response failed", err)
	}
	return provider.StorageInfo{UsedBytes: drive.UsedSize, TotalBytes: drive.Size}, nil
}

// Find performs a server-side filename search under path.
func (p *Provider) Find(ctx context.Context, path, pattern string) ([]provider.RemoteEntry, error) {
	resolved, err := p.resolvePath(path)
	if err != nil {
		return nil, providererr.Wrap(providererr.InvalidPath, providerTag, "invalid path", err)
	}
	folderID, err := p.resolveFolderID(ctx, resolved)
	if err != nil {
		return nil, err
	}
	baseURL := p.apiURLv3(fmt.Sprintf("/files/%d/search", folderID))
	var all []provider.RemoteEntry
	cursor := ""
	for {
		u := fmt.Sprintf("%s?query=%s", baseURL, url.QueryEscape(pattern))
		if cursor != "" {
			u += "&cursor=" + url.QueryEscape(cursor)
		}
		resp, err := p.do(ctx, "GET", u, "", nil)
		if err != nil {
			return nil, err
		}
		data, rerr := pathutil.ReadWithLimit(resp.Body, 8<<20)
		resp.Body.Close()
		if rerr != nil {
			return nil, providererr.Wrap(providererr.IoError, providerTag, "reading search response", rerr)
		}
		if resp.StatusCode >= 400 {
			return nil, providererr.New(providererr.ServerError, providerTag, "parse search response failed: "+pathutil.SanitizeAPIError(string(data)))
		}
		var env apiEnvelope
		if err := json.Unmarshal(data, &env); err != nil {
			return nil, providererr.Wrap(providererr.ServerError, providerTag, "parse search response failed", err)
		}
		files, hasMore, next := decodeFiles(env.Data)
		for _, f := range files {
			name := f.Name
			if name == "" {
				name = fmt.Sprintf("unnamed_%d", f.ID)
			}
			filePath := f.Path
			if filePath == "" {
				filePath = "/" + name
			}
			f.Name = name
			all = append(all, toRemoteEntry(f, filePath))
		}
		if !hasMore || next == "" {
			break
		}
		cursor = next
	}
	return all, nil
}

func (p *Provider) CreateShareLink(ctx context.Context, path string, perm provider.SharePermission) (provider.ShareLink, error) {
	_, file, err := p.resolveFile(ctx, path)
	if err != nil {
		return provider.ShareLink{}, err
	}
	resp, err := p.do(ctx, "POST", p.apiURLv2(fmt.Sprintf("/files/%d/link", file.ID)), "application/json", strings.NewReader("{}"))
	if err != nil {
		return provider.ShareLink{}, err
	}
	defer resp.Body.Close()
	data, rerr := pathutil.ReadWithLimit(resp.Body, 1<<20)
	if rerr != nil {
		return provider.ShareLink{}, providererr.Wrap(providererr.IoError, providerTag, "reading share response", rerr)
	}
	if resp.StatusCode >= 400 {
		return provider.ShareLink{}, providererr.New(providererr.ServerError, providerTag, "parse share link response failed: "+pathutil.SanitizeAPIError(string(data)))
	}
	var link shareLinkData
	if err := unwrapEnvelope(data, &link); err != nil {
		return provider.ShareLink{}, providererr.Wrap(providererr.ServerError, providerTag, "parse share link response failed", err)
	}
	return provider.ShareLink{URL: link.URL, ID: link.UUID, ExpiresAt: perm.ExpiresAt}, nil
}

// RemoveShareLink revokes the share link on the given file path (kDrive
// addresses this endpoint by file, not by an opaque link ID).
func (p *Provider) RemoveShareLink(ctx context.Context, id string) error {
	_, file, err := p.resolveFile(ctx, id)
	if err != nil {
		if providererr.Matches(err, providererr.NotFound) {
			return nil
		}
		return err
	}
	resp, err := p.do(ctx, "DELETE", p.apiURLv2(fmt.Sprintf("/files/%d/link", file.ID)), "", nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return nil
	}
	if resp.StatusCode >= 400 {
		data, _ := pathutil.ReadWithLimit(resp.Body, 4096)
		return providererr.New(providererr.ServerError, providerTag, "remove share link failed: "+pathutil.SanitizeAPIError(string(data)))
	}
	return nil
}

func (p *Provider) ListVersions(ctx context.Context, path string) ([]provider.FileVersion, error) {
	_, file, err := p.resolveFile(ctx, path)
	if err != nil {
		return nil, err
	}
	resp, err := p.do(ctx, "GET", p.apiURLv3(fmt.Sprintf("/files/%d/versions", file.ID)), "", nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	data, rerr := pathutil.ReadWithLimit(resp.Body, 4<<20)
	if rerr != nil {
		return nil, providererr.Wrap(providererr.IoError, providerTag, "reading versions response", rerr)
	}
	if resp.StatusCode >= 400 {
		return nil, providererr.New(providererr.ServerError, providerTag, "parse versions response failed: "+pathutil.SanitizeAPIError(string(data)))
	}
	var versions []kdriveVersion
	if err := unwrapEnvelope(data, &versions); err != nil {
		return nil, providererr.Wrap(providererr.ServerError, providerTag, "parse versions response failed", err)
	}
	out := make([]provider.FileVersion, 0, len(versions))
	for i, v := range versions {
		out = append(out, provider.FileVersion{
			ID:       fmt.Sprint(v.ID),
			ModTime:  time.Unix(v.CreatedAt, 0).UTC(),
			Size:     v.Size,
			IsLatest: i == 0,
		})
	}
	return out, nil
}

func (p *Provider) DownloadVersion(ctx context.Context, path, versionID string, w io.Writer) error {
	_, file, err := p.resolveFile(ctx, path)
	if err != nil {
		return err
	}
	resp, err := p.do(ctx, "GET", p.apiURLv3(fmt.Sprintf("/files/%d/versions/%s/download", file.ID, versionID)), "", nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return providererr.New(providererr.TransferFailed, providerTag, "version download failed")
	}
	if _, err := io.Copy(w, resp.Body); err != nil {
		return providererr.Wrap(providererr.TransferFailed, providerTag, "version download error", err)
	}
	return nil
}

func (p *Provider) RestoreVersion(ctx context.Context, path, versionID string) error {
	_, file, err := p.resolveFile(ctx, path)
	if err != nil {
		return err
	}
	resp, err := p.do(ctx, "POST", p.apiURLv3(fmt.Sprintf("/files/%d/versions/%s/restore", file.ID, versionID)), "application/json", strings.NewReader("{}"))
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		data, _ := pathutil.ReadWithLimit(resp.Body, 4096)
		return providererr.New(providererr.ServerError, providerTag, "restore version failed: "+pathutil.SanitizeAPIError(string(data)))
	}
	return nil
}
