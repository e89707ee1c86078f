// Package gdrive implements the StorageProvider capability over Google
// Drive using the official google.golang.org/api/drive/v3 client and
// golang.org/x/oauth2. Listing is by parent ID rather than by path, hence
// the DirCache; Workspace-native files (Docs/Sheets/Slides/Drawings) are
// exported to Office formats on download via the fixed export
// table, and uploads above the resumable threshold chunk automatically via
// the client library's own resumable-upload support.
package gdrive

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"google.golang.org/api/drive/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/aeroftp/aerocore/pkg/oauthmgr"
	"github.com/aeroftp/aerocore/pkg/pathutil"
	"github.com/aeroftp/aerocore/pkg/provider"
	"github.com/aeroftp/aerocore/pkg/providererr"
)

const providerTag = "gdrive"

// ResumableThreshold is the size above which uploads switch to resumable
// sessions; ChunkSize is the per-request chunk for those sessions.
const (
	ResumableThreshold = 5 * 1024 * 1024
	ChunkSize          = 10 * 1024 * 1024
)

// workspaceExport maps a Google Workspace native MIME type to the Office
// export MIME type and file extension appended on download.
var workspaceExport = []struct{ mime, exportMime, ext string }{
	{"application/vnd.google-apps.document", "application/vnd.openxmlformats-officedocument.wordprocessingml.document", ".docx"},
	{"application/vnd.google-apps.spreadsheet", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet", ".xlsx"},
	{"application/vnd.google-apps.presentation", "application/vnd.openxmlformats-officedocument.presentationml.presentation", ".pptx"},
	{"application/vnd.google-apps.drawing", "application/pdf", ".pdf"},
	{"application/vnd.google-apps.jam", "application/pdf", ".pdf"},
}

func workspaceExportInfo(mimeType string) (exportMime, ext string, ok bool) {
	for _, e := range workspaceExport {
		if e.mime == mimeType {
			return e.exportMime, e.ext, true
		}
	}
	return "", "", false
}

func oauthConfig(cfg provider.OAuthConfig) oauthmgr.ProviderOAuthConfig {
	return oauthmgr.ProviderOAuthConfig{
		ProviderTag:  providerTag,
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		AuthURL:      "https://accounts.google.com/o/oauth2/v2/auth",
		TokenURL:     "https://oauth2.googleapis.com/token",
		Scopes:       []string{"https://www.googleapis.com/auth/drive"},
		RequiresPKCE: true,
		ExtraAuthParams: map[string]string{
			"access_type": "offline",
			"prompt":      "consent",
		},
	}
}

// sharedManager is the process-wide OAuth manager every OAuth-backed
// provider (gdrive, zoho, jottacloud) registers against, so token refreshes
// for the same provider family coalesce through one oauthmgr.Manager
// regardless of how many Provider instances exist. The host sets it once
// at startup via SetManager before connecting any such provider.
var sharedManager *oauthmgr.Manager

// SetManager installs the process-wide OAuth manager used by factories
// registered through the default provider.Registry.
func SetManager(m *oauthmgr.Manager) { sharedManager = m }

func init() {
	provider.Register("gdrive", func(cfg provider.ProviderConfig) (provider.StorageProvider, error) {
		if sharedManager == nil {
			return nil, providererr.New(providererr.Other, providerTag, "gdrive.SetManager must be called before connecting via the registry")
		}
		return New(*cfg.GDrive, sharedManager), nil
	})
}

// tokenRoundTripper injects a fresh bearer token on every request, sourced
// from the shared OAuth manager so refreshes stay coalesced process-wide.
type tokenRoundTripper struct {
	mgr *oauthmgr.Manager
	cfg oauthmgr.ProviderOAuthConfig
}

func (t *tokenRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	tok, err := t.mgr.GetValidToken(req.Context(), t.cfg)
	if err != nil {
		return nil, err
	}
	req2 := req.Clone(req.Context())
	req2.Header.Set("Authorization", "Bearer "+tok)
	return http.DefaultTransport.RoundTrip(req2)
}

// Provider is a StorageProvider backed by the Google Drive API.
type Provider struct {
	oauthCfg provider.OAuthConfig
	mgr      *oauthmgr.Manager

	mu        sync.Mutex
	connected bool
	srv       *drive.Service
	cwd       string
	cwdID     string
	cache     *provider.DirCache
	email     string
}

// New builds an unconnected Google Drive provider. mgr is the process-wide
// OAuth manager shared across every OAuth-backed provider.
func New(cfg provider.OAuthConfig, mgr *oauthmgr.Manager) *Provider {
	return &Provider{oauthCfg: cfg, mgr: mgr, cwd: "/", cwdID: "root", cache: provider.NewDirCache(0)}
}

func (p *Provider) Connect(ctx context.Context) error {
	rt := &tokenRoundTripper{mgr: p.mgr, cfg: oauthConfig(p.oauthCfg)}
	httpClient := &http.Client{Transport: rt, Timeout: 300 * time.Second}

	srv, err := drive.NewService(ctx, option.WithHTTPClient(httpClient))
	if err != nil {
		return providererr.Wrap(providererr.ConnectionFailed, providerTag, "build Drive client", err)
	}

	connectCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	about, err := srv.About.Get().Fields("user").Context(connectCtx).Do()
	if err != nil {
		if isUnauthorized(err) {
			return providererr.Wrap(providererr.AuthenticationFailed, providerTag, "token rejected", err)
		}
		return providererr.Wrap(providererr.ConnectionFailed, providerTag, "About.Get failed", err)
	}

	p.mu.Lock()
	p.srv = srv
	p.connected = true
	p.cwd, p.cwdID = "/", "root"
	if about.User != nil {
		p.email = about.User.EmailAddress
	}
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

func (p *Provider) ServerInfo(ctx context.Context) (string, error) { return "Google Drive", nil }

func (p *Provider) AccountEmail(ctx context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.email, nil
}

func isUnauthorized(err error) bool {
	var gerr *googleapi.Error
	if ge, ok := err.(*googleapi.Error); ok {
		gerr = ge
	}
	return gerr != nil && gerr.Code == http.StatusUnauthorized
}

func isNotFound(err error) bool {
	var gerr *googleapi.Error
	if ge, ok := err.(*googleapi.Error); ok {
		gerr = ge
	}
	return gerr != nil && gerr.Code == http.StatusNotFound
}

func (p *Provider) srvLocked() (*drive.Service, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.connected {
		return nil, providererr.New(providererr.NotConnected, providerTag, "not connected")
	}
	return p.srv, nil
}

const driveFields = "files(id,name,mimeType,size,modifiedTime,parents,md5Checksum),nextPageToken"

// resolveID walks path component-by-component from root, using and
// populating the DirCache for intermediate directories; it never re-enters
// the walker by value, so cyclic parent graphs cannot loop it.
func (p *Provider) resolveID(ctx context.Context, path string) (id string, isDir bool, err error) {
	norm, err := pathutil.Normalize(path)
	if err != nil {
		return "", false, providererr.Wrap(providererr.InvalidPath, providerTag, "invalid path", err)
	}
	if norm == "/" {
		return "root", true, nil
	}
	if cached, ok := p.cache.Get(norm); ok {
		return cached, true, nil
	}

	srv, err := p.srvLocked()
	if err != nil {
		return "", false, err
	}

	parentID := "root"
	segs := strings.Split(strings.Trim(norm, "/"), "/")
	cur := ""
	for i, seg := range segs {
		cur += "/" + seg
		if cached, ok := p.cache.Get(cur); ok {
			parentID = cached
			continue
		}
		q := fmt.Sprintf("name = %q and %q in parents and trashed = false", seg, parentID)
		list, err := srv.Files.List().Q(q).Fields("files(id,name,mimeType)").Context(ctx).Do()
		if err != nil {
			return "", false, providererr.Wrap(providererr.ServerError, providerTag, "resolve path", err)
		}
		if len(list.Files) == 0 {
			return "", false, providererr.New(providererr.NotFound, providerTag, "no such path "+norm)
		}
		f := list.Files[0]
		isLastSeg := i == len(segs)-1
		isDirSeg := f.MimeType == "application/vnd.google-apps.folder"
		if isDirSeg {
			p.cache.Put(cur, f.Id)
		}
		parentID = f.Id
		if isLastSeg {
			return f.Id, isDirSeg, nil
		}
		if !isDirSeg {
			return "", false, providererr.New(providererr.InvalidPath, providerTag, seg+" is not a directory")
		}
	}
	return parentID, true, nil
}

func toEntry(f *drive.File, parentPath string) provider.RemoteEntry {
	isDir := f.MimeType == "application/vnd.google-apps.folder"
	e := provider.RemoteEntry{
		Path:     pathutil.MustNormalize(parentPath + "/" + f.Name),
		Name:     f.Name,
		IsDir:    isDir,
		Size:     f.Size,
		MimeType: f.MimeType,
		ProviderMeta: map[string]string{
			"id":          f.Id,
			"mimeType":    f.MimeType,
			"md5Checksum": f.Md5Checksum,
		},
	}
	if isDir {
		e.Size = 0
	}
	if f.ModifiedTime != "" {
		if t, err := time.Parse(time.RFC3339, f.ModifiedTime); err == nil {
			e.ModTime = t
		}
	}
	return e
}

func (p *Provider) List(ctx context.Context, path string) ([]provider.RemoteEntry, error) {
	norm, err := pathutil.Normalize(path)
	if err != nil {
		return nil, providererr.Wrap(providererr.InvalidPath, providerTag, "invalid path", err)
	}
	folderID, isDir, err := p.resolveID(ctx, norm)
	if err != nil {
		return nil, err
	}
	if !isDir {
		return nil, providererr.New(providererr.InvalidPath, providerTag, norm+" is not a directory")
	}
	srv, err := p.srvLocked()
	if err != nil {
		return nil, err
	}

	var out []provider.RemoteEntry
	pageToken := ""
	for {
		call := srv.Files.List().
			Q(fmt.Sprintf("%q in parents and trashed = false", folderID)).
			Fields(googleapi.Field(driveFields)).
			PageSize(1000).Context(ctx)
		if pageToken != "" {
			call = call.PageToken(pageToken)
		}
		list, err := call.Do()
		if err != nil {
			return nil, providererr.Wrap(providererr.ServerError, providerTag, "Files.List failed", err)
		}
		for _, f := range list.Files {
			if f.MimeType == "application/vnd.google-apps.folder" {
				p.cache.Put(pathutil.MustNormalize(norm+"/"+f.Name), f.Id)
			}
			out = append(out, toEntry(f, norm))
		}
		if list.NextPageToken == "" {
			break
		}
		pageToken = list.NextPageToken
	}
	return out, nil
}

func (p *Provider) Pwd() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cwd
}

func (p *Provider) Cd(ctx context.Context, path string) error {
	norm, err := pathutil.Normalize(path)
	if err != nil {
		return providererr.Wrap(providererr.InvalidPath, providerTag, "invalid path", err)
	}
	id, isDir, err := p.resolveID(ctx, norm)
	if err != nil {
		return err
	}
	if !isDir {
		return providererr.New(providererr.InvalidPath, providerTag, norm+" is not a directory")
	}
	p.mu.Lock()
	p.cwd, p.cwdID = norm, id
	p.mu.Unlock()
	return nil
}

func (p *Provider) CdUp(ctx context.Context) error {
	return p.Cd(ctx, pathutil.Dir(p.Pwd()))
}

func (p *Provider) Stat(ctx context.Context, path string) (provider.RemoteEntry, error) {
	norm, err := pathutil.Normalize(path)
	if err != nil {
		return provider.RemoteEntry{}, providererr.Wrap(providererr.InvalidPath, providerTag, "invalid path", err)
	}
	if norm == "/" {
		return provider.RemoteEntry{Path: "/", Name: "/", IsDir: true}, nil
	}
	id, _, err := p.resolveID(ctx, norm)
	if err != nil {
		return provider.RemoteEntry{}, err
	}
	srv, err := p.srvLocked()
	if err != nil {
		return provider.RemoteEntry{}, err
	}
	f, err := srv.Files.Get(id).Fields(googleapi.Field("id,name,mimeType,size,modifiedTime,md5Checksum")).Context(ctx).Do()
	if err != nil {
		if isNotFound(err) {
			return provider.RemoteEntry{}, providererr.New(providererr.NotFound, providerTag, "no such path "+norm)
		}
		return provider.RemoteEntry{}, providererr.Wrap(providererr.ServerError, providerTag, "Files.Get failed", err)
	}
	return toEntry(f, pathutil.Dir(norm)), nil
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

func (p *Provider) Download(ctx context.Context, remote, local string, progress provider.ProgressFunc) error {
	norm, err := pathutil.Normalize(remote)
	if err != nil {
		return providererr.Wrap(providererr.InvalidPath, providerTag, "invalid path", err)
	}
	id, isDir, err := p.resolveID(ctx, norm)
	if err != nil {
		return err
	}
	if isDir {
		return providererr.New(providererr.InvalidPath, providerTag, norm+" is a directory")
	}
	srv, err := p.srvLocked()
	if err != nil {
		return err
	}
	f, err := srv.Files.Get(id).Fields("mimeType,size").Context(ctx).Do()
	if err != nil {
		return providererr.Wrap(providererr.ServerError, providerTag, "Files.Get failed", err)
	}

	var resp *http.Response
	if exportMime, ext, ok := workspaceExportInfo(f.MimeType); ok {
		resp, err = srv.Files.Export(id, exportMime).Context(ctx).Download()
		if !strings.HasSuffix(strings.ToLower(local), ext) {
			local += ext
		}
	} else {
		resp, err = srv.Files.Get(id).Context(ctx).Download()
	}
	if err != nil {
		return providererr.Wrap(providererr.TransferFailed, providerTag, "download failed", err)
	}
	defer resp.Body.Close()

	out, err := os.Create(local)
	if err != nil {
		return providererr.Wrap(providererr.IoError, providerTag, "create local file", err)
	}
	defer out.Close()
	return copyWithProgress(ctx, out, resp.Body, f.Size, progress)
}

func (p *Provider) DownloadToBytes(ctx context.Context, remote string, maxBytes int64) ([]byte, error) {
	norm, err := pathutil.Normalize(remote)
	if err != nil {
		return nil, providererr.Wrap(providererr.InvalidPath, providerTag, "invalid path", err)
	}
	if maxBytes <= 0 {
		maxBytes = pathutil.DefaultDownloadCap
	}
	id, _, err := p.resolveID(ctx, norm)
	if err != nil {
		return nil, err
	}
	srv, err := p.srvLocked()
	if err != nil {
		return nil, err
	}
	f, err := srv.Files.Get(id).Fields("mimeType").Context(ctx).Do()
	if err != nil {
		return nil, providererr.Wrap(providererr.ServerError, providerTag, "Files.Get failed", err)
	}
	var resp *http.Response
	if exportMime, _, ok := workspaceExportInfo(f.MimeType); ok {
		resp, err = srv.Files.Export(id, exportMime).Context(ctx).Download()
	} else {
		resp, err = srv.Files.Get(id).Context(ctx).Download()
	}
	if err != nil {
		return nil, providererr.Wrap(providererr.TransferFailed, providerTag, "download failed", err)
	}
	defer resp.Body.Close()
	data, err := pathutil.ReadWithLimit(resp.Body, maxBytes)
	if err != nil {
		if pathutil.IsCapExceeded(err) {
			return nil, providererr.Wrap(providererr.TransferFailed, providerTag, "download exceeded byte cap", err)
		}
		return nil, providererr.Wrap(providererr.IoError, providerTag, "read failed", err)
	}
	return data, nil
}

// Upload uses the client library's own resumable-upload implementation
// once the source exceeds ResumableThreshold, chunked at ChunkSize, per
// the 10 MiB chunk size.
func (p *Provider) Upload(ctx context.Context, local, remote string, progress provider.ProgressFunc) error {
	norm, err := pathutil.Normalize(remote)
	if err != nil {
		return providererr.Wrap(providererr.InvalidPath, providerTag, "invalid path", err)
	}
	f, err := os.Open(local)
	if err != nil {
		return providererr.Wrap(providererr.IoError, providerTag, "open local file", err)
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return providererr.Wrap(providererr.IoError, providerTag, "stat local file", err)
	}

	parentID, isDir, err := p.resolveID(ctx, pathutil.Dir(norm))
	if err != nil {
		return err
	}
	if !isDir {
		return providererr.New(providererr.InvalidPath, providerTag, "parent is not a directory")
	}
	srv, err := p.srvLocked()
	if err != nil {
		return err
	}

	var body io.Reader = f
	if progress != nil {
		body = &progressReader{r: f, total: info.Size(), progress: progress}
	}

	meta := &drive.File{Name: pathutil.Base(norm), Parents: []string{parentID}}
	call := srv.Files.Create(meta).Context(ctx)
	if info.Size() > ResumableThreshold {
		call = call.Media(body, googleapi.ChunkSize(ChunkSize))
	} else {
		call = call.Media(body)
	}
	_, err = call.Do()
	if err != nil {
		return providererr.Wrap(providererr.TransferFailed, providerTag, "Files.Create failed", err)
	}
	return nil
}

func (p *Provider) Mkdir(ctx context.Context, path string) error {
	norm, err := pathutil.Normalize(path)
	if err != nil {
		return providererr.Wrap(providererr.InvalidPath, providerTag, "invalid path", err)
	}
	parentID, isDir, err := p.resolveID(ctx, pathutil.Dir(norm))
	if err != nil {
		return err
	}
	if !isDir {
		return providererr.New(providererr.InvalidPath, providerTag, "parent is not a directory")
	}
	srv, err := p.srvLocked()
	if err != nil {
		return err
	}
	meta := &drive.File{
		Name:     pathutil.Base(norm),
		MimeType: "application/vnd.google-apps.folder",
		Parents:  []string{parentID},
	}
	f, err := srv.Files.Create(meta).Context(ctx).Do()
	if err != nil {
		return providererr.Wrap(providererr.IoError, providerTag, "Files.Create (folder) failed", err)
	}
	p.cache.Put(norm, f.Id)
	return nil
}

func (p *Provider) Delete(ctx context.Context, path string) error {
	norm, err := pathutil.Normalize(path)
	if err != nil {
		return providererr.Wrap(providererr.InvalidPath, providerTag, "invalid path", err)
	}
	id, _, err := p.resolveID(ctx, norm)
	if err != nil {
		return err
	}
	srv, err := p.srvLocked()
	if err != nil {
		return err
	}
	if err := srv.Files.Delete(id).Context(ctx).Do(); err != nil {
		if isNotFound(err) {
			return providererr.New(providererr.NotFound, providerTag, "no such path "+norm)
		}
		return providererr.Wrap(providererr.IoError, providerTag, "Files.Delete failed", err)
	}
	p.cache.Invalidate(norm)
	return nil
}

func (p *Provider) Rmdir(ctx context.Context, path string) error {
	return p.Delete(ctx, path)
}

// RmdirRecursive relies on Drive's own recursive delete semantics: deleting
// a folder removes its whole subtree server-side.
func (p *Provider) RmdirRecursive(ctx context.Context, path string) error {
	return p.Delete(ctx, path)
}

func (p *Provider) Rename(ctx context.Context, from, to string) error {
	normFrom, err := pathutil.Normalize(from)
	if err != nil {
		return providererr.Wrap(providererr.InvalidPath, providerTag, "invalid from path", err)
	}
	normTo, err := pathutil.Normalize(to)
	if err != nil {
		return providererr.Wrap(providererr.InvalidPath, providerTag, "invalid to path", err)
	}
	id, _, err := p.resolveID(ctx, normFrom)
	if err != nil {
		return err
	}
	srv, err := p.srvLocked()
	if err != nil {
		return err
	}

	update := &drive.File{Name: pathutil.Base(normTo)}
	call := srv.Files.Update(id, update).Context(ctx)
	if pathutil.Dir(normFrom) != pathutil.Dir(normTo) {
		newParent, isDir, perr := p.resolveID(ctx, pathutil.Dir(normTo))
		if perr != nil {
			return perr
		}
		if !isDir {
			return providererr.New(providererr.InvalidPath, providerTag, "destination parent is not a directory")
		}
		oldParent, _, _ := p.resolveID(ctx, pathutil.Dir(normFrom))
		call = call.AddParents(newParent).RemoveParents(oldParent)
	}
	if _, err := call.Do(); err != nil {
		return providererr.Wrap(providererr.IoError, providerTag, "Files.Update failed", err)
	}
	p.cache.Invalidate(normFrom)
	return nil
}

// --- Optional capabilities ---

func (p *Provider) SupportsServerSideCopy() bool { return true }
func (p *Provider) SupportsShareLinks() bool      { return true }
func (p *Provider) SupportsSearch() bool          { return true }
func (p *Provider) SupportsStorageInfo() bool     { return true }
func (p *Provider) SupportsVersions() bool        { return false }
func (p *Provider) SupportsLocking() bool         { return false }
func (p *Provider) SupportsThumbnails() bool      { return true }
func (p *Provider) SupportsPermissions() bool     { return true }
func (p *Provider) SupportsChangeFeed() bool      { return true }
func (p *Provider) SupportsResumable() bool       { return true }

func (p *Provider) Copy(ctx context.Context, from, to string) error {
	normFrom, err := pathutil.Normalize(from)
	if err != nil {
		return providererr.Wrap(providererr.InvalidPath, providerTag, "invalid from path", err)
	}
	normTo, err := pathutil.Normalize(to)
	if err != nil {
		return providererr.Wrap(providererr.InvalidPath, providerTag, "invalid to path", err)
	}
	id, _, err := p.resolveID(ctx, normFrom)
	if err != nil {
		return err
	}
	parentID, isDir, err := p.resolveID(ctx, pathutil.Dir(normTo))
	if err != nil {
		return err
	}
	if !isDir {
		return providererr.New(providererr.InvalidPath, providerTag, "destination parent is not a directory")
	}
	srv, err := p.srvLocked()
	if err != nil {
		return err
	}
	meta := &drive.File{Name: pathutil.Base(normTo), Parents: []string{parentID}}
	if _, err := srv.Files.Copy(id, meta).Context(ctx).Do(); err != nil {
		return providererr.Wrap(providererr.IoError, providerTag, "Files.Copy failed", err)
	}
	return nil
}

func (p *Provider) CreateShareLink(ctx context.Context, path string, perm provider.SharePermission) (provider.ShareLink, error) {
	norm, err := pathutil.Normalize(path)
	if err != nil {
		return provider.ShareLink{}, providererr.Wrap(providererr.InvalidPath, providerTag, "invalid path", err)
	}
	id, _, err := p.resolveID(ctx, norm)
	if err != nil {
		return provider.ShareLink{}, err
	}
	srv, err := p.srvLocked()
	if err != nil {
		return provider.ShareLink{}, err
	}
	role := "writer"
	if perm.ReadOnly {
		role = "reader"
	}
	grant := &drive.Permission{Role: role, Type: "anyone"}
	if perm.ExpiresAt != nil {
		grant.ExpirationTime = perm.ExpiresAt.UTC().Format(time.RFC3339)
	}
	created, err := srv.Permissions.Create(id, grant).Fields("id").Context(ctx).Do()
	if err != nil {
		return provider.ShareLink{}, providererr.Wrap(providererr.IoError, providerTag, "Permissions.Create failed", err)
	}
	return provider.ShareLink{
		URL:       "https://drive.google.com/file/d/" + id + "/view",
		ID:        created.Id,
		ExpiresAt: perm.ExpiresAt,
	}, nil
}

// RemoveShareLink absorbs a 404: the link may already be gone from a
// race with another cleanup, per the idempotent-delete policy.
func (p *Provider) RemoveShareLink(ctx context.Context, id string) error {
	srv, err := p.srvLocked()
	if err != nil {
		return err
	}
	parts := strings.SplitN(id, ":", 2)
	if len(parts) != 2 {
		return providererr.New(providererr.InvalidPath, providerTag, "share id must be fileID:permissionID")
	}
	if err := srv.Permissions.Delete(parts[0], parts[1]).Context(ctx).Do(); err != nil {
		if isNotFound(err) {
			return nil
		}
		return providererr.Wrap(providererr.IoError, providerTag, "Permissions.Delete failed", err)
	}
	return nil
}

func (p *Provider) Find(ctx context.Context, path, pattern string) ([]provider.RemoteEntry, error) {
	norm, err := pathutil.Normalize(path)
	if err != nil {
		return nil, providererr.Wrap(providererr.InvalidPath, providerTag, "invalid path", err)
	}
	folderID, isDir, err := p.resolveID(ctx, norm)
	if err != nil {
		return nil, err
	}
	if !isDir {
		return nil, providererr.New(providererr.InvalidPath, providerTag, norm+" is not a directory")
	}
	srv, err := p.srvLocked()
	if err != nil {
		return nil, err
	}
	q := fmt.Sprintf("%q in parents and name contains %q and trashed = false", folderID, pattern)
	list, err := srv.Files.List().Q(q).Fields(googleapi.Field(driveFields)).Context(ctx).Do()
	if err != nil {
		return nil, providererr.Wrap(providererr.ServerError, providerTag, "Files.List (find) failed", err)
	}
	out := make([]provider.RemoteEntry, 0, len(list.Files))
	for _, f := range list.Files {
		out = append(out, toEntry(f, norm))
	}
	return out, nil
}

func (p *Provider) StorageInfoOf(ctx context.Context) (provider.StorageInfo, error) {
	srv, err := p.srvLocked()
	if err != nil {
		return provider.StorageInfo{}, err
	}
	about, err := srv.About.Get().Fields("storageQuota").Context(ctx).Do()
	if err != nil {
		return provider.StorageInfo{}, providererr.Wrap(providererr.ServerError, providerTag, "About.Get failed", err)
	}
	return provider.StorageInfo{
		UsedBytes:  about.StorageQuota.Usage,
		TotalBytes: about.StorageQuota.Limit,
	}, nil
}

func (p *Provider) GetChangeToken(ctx context.Context) (string, error) {
	srv, err := p.srvLocked()
	if err != nil {
		return "", err
	}
	tok, err := srv.Changes.GetStartPageToken().Context(ctx).Do()
	if err != nil {
		return "", providererr.Wrap(providererr.ServerError, providerTag, "Changes.GetStartPageToken failed", err)
	}
	return tok.StartPageToken, nil
}

func (p *Provider) ListChanges(ctx context.Context, token string) ([]provider.ChangeEntry, string, error) {
	srv, err := p.srvLocked()
	if err != nil {
		return nil, "", err
	}
	list, err := srv.Changes.List(token).Fields("changes(fileId,removed,file(name,mimeType,modifiedTime)),newStartPageToken,nextPageToken").Context(ctx).Do()
	if err != nil {
		return nil, "", providererr.Wrap(providererr.ServerError, providerTag, "Changes.List failed", err)
	}
	out := make([]provider.ChangeEntry, 0, len(list.Changes))
	for _, c := range list.Changes {
		ce := provider.ChangeEntry{Path: c.FileId, Removed: c.Removed}
		if c.File != nil {
			entry := toEntry(c.File, "")
			ce.Entry = &entry
		}
		out = append(out, ce)
	}
	next := list.NextPageToken
	if next == "" {
		next = list.NewStartPageToken
	}
	return out, next, nil
}

type progressReader struct {
	r        io.Reader
	read     int64
	total    int64
	progress provider.ProgressFunc
}

func (pr *progressReader) Read(buf []byte) (int, error) {
	n, err := pr.r.Read(buf)
	if n > 0 {
		pr.read += int64(n)
		pr.progress(pr.read, pr.total)
	}
	return n, err
}

func copyWithProgress(ctx context.Context, dst io.Writer, src io.Reader, total int64, progress provider.ProgressFunc) error {
	buf := make([]byte, 32*1024)
	var written int64
	for {
		if err := ctx.Err(); err != nil {
			return providererr.Wrap(providererr.TransferFailed, providerTag, "transfer cancelled", err)
		}
		n, rerr := src.Read(buf)
		if n > 0 {
			if _, werr := dst.Write(buf[:n]); werr != nil {
				return providererr.Wrap(providererr.IoError, providerTag, "local write failed", werr)
			}
			written += int64(n)
			if progress != nil {
				progress(written, total)
			}
		}
		if rerr == io.EOF {
			return nil
		}
		if rerr != nil {
			return providererr.Wrap(providererr.IoError, providerTag, "read failed", rerr)
		}
	}
}
