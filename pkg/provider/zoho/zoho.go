// Package zoho implements the StorageProvider capability over Zoho
// WorkDrive's JSON:API-shaped v1 API using stdlib net/http and
// encoding/json (no pack example vendors a Zoho client). Root listing is a
// synthetic merge of the user's "privatespace" (My Folders) contents with
// the team's virtual top-level Team Folders; the API domain and the
// download domain differ per region, and trash/restore/permanent-delete
// are modeled as a status PATCH (1 active, 51 trash, 61 permanent),
// chunked at 200 items, WorkDrive's documented batch ceiling.
package zoho

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/aeroftp/aerocore/pkg/oauthmgr"
	"github.com/aeroftp/aerocore/pkg/pathutil"
	"github.com/aeroftp/aerocore/pkg/provider"
	"github.com/aeroftp/aerocore/pkg/providererr"
)

const providerTag = "zoho"

// statusBatchSize is Zoho's documented max-200-items-per-batch limit.
const statusBatchSize = 200

var apiDomains = map[string]string{
	"eu": "www.zohoapis.eu", "in": "www.zohoapis.in", "au": "www.zohoapis.com.au",
	"jp": "www.zohoapis.jp", "uk": "www.zohoapis.uk", "ca": "www.zohoapis.ca",
	"sa": "www.zohoapis.sa", "cn": "www.zohoapis.com.cn", "ae": "www.zohoapis.ae",
}

var downloadDomains = map[string]string{
	"eu": "download.zoho.eu", "in": "download.zoho.in", "au": "download.zoho.com.au",
	"jp": "download.zoho.jp", "cn": "download.zoho.com.cn", "ae": "files.zoho.ae",
	"ca": "download.zohocloud.ca", "sa": "files.zoho.sa", "uk": "download.zoho.uk",
}

func apiDomain(region string) string {
	if d, ok := apiDomains[region]; ok {
		return d
	}
	return "www.zohoapis.com"
}

func downloadDomain(region string) string {
	if d, ok := downloadDomains[region]; ok {
		return d
	}
	return "download.zoho.com"
}

func apiBase(region string) string {
	return "https://" + apiDomain(region) + "/workdrive/api/v1"
}

func oauthConfig(cfg provider.ZohoConfig) oauthmgr.ProviderOAuthConfig {
	tld := "com"
	switch cfg.Region {
	case "eu", "uk":
		tld = cfg.Region
	}
	return oauthmgr.ProviderOAuthConfig{
		ProviderTag:  providerTag,
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		AuthURL:      fmt.Sprintf("https://accounts.zoho.%s/oauth/v2/auth", tld),
		TokenURL:     fmt.Sprintf("https://accounts.zoho.%s/oauth/v2/token", tld),
		Scopes:       []string{"WorkDrive.files.ALL", "WorkDrive.team.READ"},
		RequiresPKCE: true,
	}
}

var sharedManager *oauthmgr.Manager

// SetManager installs the process-wide OAuth manager used by the registry
// factory registered in init().
func SetManager(m *oauthmgr.Manager) { sharedManager = m }

func init() {
	provider.Register("zoho", func(cfg provider.ProviderConfig) (provider.StorageProvider, error) {
		if sharedManager == nil {
			return nil, providererr.New(providererr.Other, providerTag, "zoho.SetManager must be called before connecting via the registry")
		}
		return New(*cfg.Zoho, sharedManager), nil
	})
}

// fileAttributes mirrors a WorkDrive file/folder resource's attributes.
type fileAttributes struct {
	Name         string `json:"name"`
	Type         string `json:"type"`
	IsFolder     *bool  `json:"is_folder,omitempty"`
	ModifiedTime string `json:"modified_time,omitempty"`
	StorageInfo  *struct {
		SizeInBytes int64 `json:"size_in_bytes"`
	} `json:"storage_info,omitempty"`
}

type fileResource struct {
	ID         string         `json:"id"`
	Attributes fileAttributes `json:"attributes"`
}

type jsonAPIList struct {
	Data []fileResource `json:"data"`
}

type jsonAPISingle struct {
	Data fileResource `json:"data"`
}

type workspaceResource struct {
	ID         string `json:"id"`
	Attributes struct {
		Name string `json:"name"`
	} `json:"attributes"`
}

type workspaceList struct {
	Data []workspaceResource `json:"data"`
}

type userResource struct {
	Attributes struct {
		EmailID string `json:"email_id"`
	} `json:"attributes"`
}

type userSingle struct {
	Data userResource `json:"data"`
}

type teamFolder struct {
	id, name string
}

// Provider is a StorageProvider backed by Zoho WorkDrive.
type Provider struct {
	cfg    provider.ZohoConfig
	mgr    *oauthmgr.Manager
	client *http.Client

	mu             sync.Mutex
	connected      bool
	cwd            string
	cwdID          string
	cache          *provider.DirCache
	privatespaceID string
	teamFolders    []teamFolder
	email          string
}

// New builds an unconnected Zoho WorkDrive provider. mgr is the process-wide
// OAuth manager shared across every OAuth-backed provider.
func New(cfg provider.ZohoConfig, mgr *oauthmgr.Manager) *Provider {
	return &Provider{cfg: cfg, mgr: mgr, client: &http.Client{Timeout: 300 * time.Second}, cwd: "/", cache: provider.NewDirCache(0)}
}

func (p *Provider) authHeader(ctx context.Context) (string, error) {
	tok, err := p.mgr.GetValidToken(ctx, oauthConfig(p.cfg))
	if err != nil {
		return "", err
	}
	return "Zoho-oauthtoken " + tok, nil
}

func (p *Provider) newRequest(ctx context.Context, method, url string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, providererr.Wrap(providererr.Other, providerTag, "building request", err)
	}
	auth, err := p.authHeader(ctx)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", auth)
	req.Header.Set("Accept", "application/vnd.api+json")
	return req, nil
}

func (p *Provider) Connect(ctx context.Context) error {
	connectCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	req, err := p.newRequest(connectCtx, "GET", apiBase(p.cfg.Region)+"/users/me", nil)
	if err != nil {
		return err
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return providererr.Wrap(providererr.ConnectionFailed, providerTag, "users/me failed", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusUnauthorized {
		return providererr.New(providererr.AuthenticationFailed, providerTag, "token rejected")
	}
	data, err := pathutil.ReadWithLimit(resp.Body, pathutil.DefaultDownloadCap)
	if err != nil {
		return providererr.Wrap(providererr.IoError, providerTag, "read users/me body", err)
	}
	if resp.StatusCode >= 400 {
		return providererr.New(providererr.ServerError, providerTag, "users/me returned "+fmt.Sprint(resp.StatusCode)+": "+pathutil.SanitizeAPIError(string(data)))
	}
	var user userSingle
	_ = json.Unmarshal(data, &user)

	teamFolders, privatespaceID := p.discoverTeam(connectCtx)

	p.mu.Lock()
	p.connected = true
	p.email = user.Data.Attributes.EmailID
	p.teamFolders = teamFolders
	p.privatespaceID = privatespaceID
	p.cwd, p.cwdID = "/", ""
	p.mu.Unlock()
	return nil
}

// discoverTeam probes for the user's team workspaces (treated as virtual
// top-level team folders) and privatespace ID; failures here are
// non-fatal; discovery is best-effort.
func (p *Provider) discoverTeam(ctx context.Context) ([]teamFolder, string) {
	req, err := p.newRequest(ctx, "GET", apiBase(p.cfg.Region)+"/workspaces", nil)
	if err != nil {
		return nil, ""
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return nil, ""
	}
	defer resp.Body.Close()
	data, err := pathutil.ReadWithLimit(resp.Body, pathutil.DefaultDownloadCap)
	if err != nil || resp.StatusCode >= 400 {
		return nil, ""
	}
	var list workspaceList
	if json.Unmarshal(data, &list) != nil {
		return nil, ""
	}
	var folders []teamFolder
	var privatespaceID string
	for _, ws := range list.Data {
		if strings.EqualFold(ws.Attributes.Name, "my folders") || strings.EqualFold(ws.Attributes.Name, "privatespace") {
			privatespaceID = ws.ID
			continue
		}
		folders = append(folders, teamFolder{id: ws.ID, name: ws.Attributes.Name})
		p.cache.Put("/"+ws.Attributes.Name, ws.ID)
	}
	return folders, privatespaceID
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
	return "Zoho WorkDrive (" + p.cfg.Region + ")", nil
}

func (p *Provider) AccountEmail(ctx context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.email, nil
}

func (p *Provider) doJSON(ctx context.Context, method, url string, body io.Reader, out interface{}) (int, []byte, error) {
	if !p.IsConnected() {
		return 0, nil, providererr.New(providererr.NotConnected, providerTag, "not connected")
	}
	req, err := p.newRequest(ctx, method, url, body)
	if err != nil {
		return 0, nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/vnd.api+json")
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return 0, nil, providererr.Wrap(providererr.ConnectionFailed, providerTag, method+" "+url+" failed", err)
	}
	defer resp.Body.Close()
	data, rerr := pathutil.ReadWithLimit(resp.Body, pathutil.DefaultDownloadCap)
	if rerr != nil {
		return resp.StatusCode, nil, providererr.Wrap(providererr.IoError, providerTag, "reading response", rerr)
	}
	if out != nil && resp.StatusCode < 300 && len(data) > 0 {
		_ = json.Unmarshal(data, out)
	}
	return resp.StatusCode, data, nil
}

// listFolder lists a folder's contents by ID, paging at 50 items (the
// original's page size), using the dedicated privatespace endpoint when
// folderID is the privatespace root and the universal /files/{id}/files
// endpoint otherwise.
func (p *Provider) listFolder(ctx context.Context, folderID string) ([]fileResource, error) {
	var all []fileResource
	limit, offset := 50, 0
	p.mu.Lock()
	isPrivatespace := folderID == p.privatespaceID
	p.mu.Unlock()
	for {
		var url string
		if isPrivatespace {
			url = fmt.Sprintf("%s/privatespace/%s/files?page%%5Blimit%%5D=%d&page%%5Boffset%%5D=%d", apiBase(p.cfg.Region), folderID, limit, offset)
		} else {
			url = fmt.Sprintf("%s/files/%s/files?page%%5Blimit%%5D=%d&page%%5Boffset%%5D=%d", apiBase(p.cfg.Region), folderID, limit, offset)
		}
		var list jsonAPIList
		status, data, err := p.doJSON(ctx, "GET", url, nil, &list)
		if err != nil {
			return nil, err
		}
		if status == http.StatusNotFound {
			return nil, providererr.New(providererr.NotFound, providerTag, "no such folder")
		}
		if status >= 400 {
			return nil, providererr.New(providererr.ServerError, providerTag, fmt.Sprintf("list returned %d: %s", status, pathutil.SanitizeAPIError(string(data))))
		}
		all = append(all, list.Data...)
		if len(list.Data) < limit {
			break
		}
		offset += limit
	}
	return all, nil
}

func isDirResource(f fileResource) bool {
	return f.Attributes.Type == "folder" || (f.Attributes.IsFolder != nil && *f.Attributes.IsFolder)
}

func toEntry(f fileResource, parentPath string) provider.RemoteEntry {
	var size int64
	if f.Attributes.StorageInfo != nil {
		size = f.Attributes.StorageInfo.SizeInBytes
	}
	isDir := isDirResource(f)
	if isDir {
		size = 0
	}
	path := "/" + f.Attributes.Name
	if parentPath != "/" {
		path = strings.TrimSuffix(parentPath, "/") + "/" + f.Attributes.Name
	}
	e := provider.RemoteEntry{
		Path:         path,
		Name:         f.Attributes.Name,
		IsDir:        isDir,
		Size:         size,
		ProviderMeta: map[string]string{"id": f.ID},
	}
	if f.Attributes.ModifiedTime != "" {
		if t, err := time.Parse(time.RFC3339, f.Attributes.ModifiedTime); err == nil {
			e.ModTime = t
		}
	}
	return e
}

func (p *Provider) findByName(ctx context.Context, name, parentID string) (*fileResource, error) {
	files, err := p.listFolder(ctx, parentID)
	if err != nil {
		return nil, err
	}
	for i := range files {
		if files[i].Attributes.Name == name {
			return &files[i], nil
		}
	}
	return nil, nil
}

// resolveID resolves path to its WorkDrive ID, checking team folder names
// for the first path component and falling back to privatespace contents.
func (p *Provider) resolveID(ctx context.Context, path string) (id string, isDir bool, err error) {
	norm, err := pathutil.Normalize(path)
	if err != nil {
		return "", false, providererr.Wrap(providererr.InvalidPath, providerTag, "invalid path", err)
	}
	if norm == "/" {
		return "", true, nil
	}
	if cached, ok := p.cache.Get(norm); ok {
		return cached, true, nil
	}
	parts := strings.Split(strings.Trim(norm, "/"), "/")

	p.mu.Lock()
	teamFolders := p.teamFolders
	privatespaceID := p.privatespaceID
	p.mu.Unlock()

	first := parts[0]
	firstPath := "/" + first
	var curID string
	if cached, ok := p.cache.Get(firstPath); ok {
		curID = cached
	} else {
		var found *teamFolder
		for i := range teamFolders {
			if teamFolders[i].name == first {
				found = &teamFolders[i]
				break
			}
		}
		if found != nil {
			curID = found.id
			p.cache.Put(firstPath, curID)
		} else {
			f, ferr := p.findByName(ctx, first, privatespaceID)
			if ferr != nil {
				return "", false, ferr
			}
			if f == nil {
				return "", false, providererr.New(providererr.NotFound, providerTag, "no such path "+norm)
			}
			curID = f.ID
			if isDirResource(*f) {
				p.cache.Put(firstPath, curID)
			}
		}
	}

	curPath := firstPath
	var curIsDir = true
	for _, part := range parts[1:] {
		curPath += "/" + part
		if cached, ok := p.cache.Get(curPath); ok {
			curID = cached
			continue
		}
		f, ferr := p.findByName(ctx, part, curID)
		if ferr != nil {
			return "", false, ferr
		}
		if f == nil {
			return "", false, providererr.New(providererr.NotFound, providerTag, "no such path "+curPath)
		}
		curID = f.ID
		curIsDir = isDirResource(*f)
		if curIsDir {
			p.cache.Put(curPath, curID)
		}
	}
	return curID, curIsDir, nil
}

func (p *Provider) List(ctx context.Context, path string) ([]provider.RemoteEntry, error) {
	norm, err := pathutil.Normalize(path)
	if err != nil {
		return nil, providererr.Wrap(providererr.InvalidPath, providerTag, "invalid path", err)
	}
	if norm == "/" {
		return p.listRoot(ctx)
	}
	id, isDir, err := p.resolveID(ctx, norm)
	if err != nil {
		return nil, err
	}
	if !isDir {
		return nil, providererr.New(providererr.InvalidPath, providerTag, norm+" is not a directory")
	}
	files, err := p.listFolder(ctx, id)
	if err != nil {
		return nil, err
	}
	out := make([]provider.RemoteEntry, 0, len(files))
	for _, f := range files {
		out = append(out, toEntry(f, norm))
	}
	return out, nil
}

// listRoot merges virtual team-folder directories with the privatespace's
// own contents, presented as one synthetic root listing.
func (p *Provider) listRoot(ctx context.Context) ([]provider.RemoteEntry, error) {
	p.mu.Lock()
	teamFolders := p.teamFolders
	privatespaceID := p.privatespaceID
	p.mu.Unlock()

	out := make([]provider.RemoteEntry, 0, len(teamFolders))
	for _, tf := range teamFolders {
		out = append(out, provider.RemoteEntry{Path: "/" + tf.name, Name: tf.name, IsDir: true, ProviderMeta: map[string]string{"id": tf.id, "resource_type": "teamfolder"}})
	}
	if privatespaceID != "" {
		files, err := p.listFolder(ctx, privatespaceID)
		if err != nil {
			if len(out) == 0 {
				return nil, err
			}
		} else {
			for _, f := range files {
				out = append(out, toEntry(f, "/"))
			}
		}
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
	entries, err := p.List(ctx, pathutil.Dir(norm))
	if err != nil {
		return provider.RemoteEntry{}, err
	}
	for _, e := range entries {
		if e.Path == norm {
			return e, nil
		}
	}
	return provider.RemoteEntry{}, providererr.New(providererr.NotFound, providerTag, "no such path "+norm)
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
	data, err := p.DownloadToBytes(ctx, remote, 0)
	if err != nil {
		return err
	}
	if err := os.WriteFile(local, data, 0o644); err != nil {
		return providererr.Wrap(providererr.IoError, providerTag, "write local file", err)
	}
	if progress != nil {
		progress(int64(len(data)), int64(len(data)))
	}
	return nil
}

func (p *Provider) DownloadToBytes(ctx context.Context, remote string, maxBytes int64) ([]byte, error) {
	norm, err := pathutil.Normalize(remote)
	if err != nil {
		return nil, providererr.Wrap(providererr.InvalidPath, providerTag, "invalid path", err)
	}
	if maxBytes <= 0 {
		maxBytes = pathutil.DefaultDownloadCap
	}
	id, isDir, err := p.resolveID(ctx, norm)
	if err != nil {
		return nil, err
	}
	if isDir {
		return nil, providererr.New(providererr.InvalidPath, providerTag, norm+" is a directory")
	}
	url := fmt.Sprintf("https://%s/v1/workdrive/download/%s", downloadDomain(p.cfg.Region), id)
	req, err := p.newRequest(ctx, "GET", url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return nil, providererr.Wrap(providererr.TransferFailed, providerTag, "download failed", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return nil, providererr.New(providererr.NotFound, providerTag, "no such path "+norm)
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

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	_ = w.WriteField("parent_id", parentID)
	part, err := w.CreateFormFile("content", pathutil.Base(norm))
	if err != nil {
		return providererr.Wrap(providererr.Other, providerTag, "build multipart form", err)
	}
	if _, err := io.Copy(part, f); err != nil {
		return providererr.Wrap(providererr.IoError, providerTag, "read local file", err)
	}
	w.Close()

	req, err := p.newRequest(ctx, "POST", apiBase(p.cfg.Region)+"/upload", &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", w.FormDataContentType())
	resp, err := p.client.Do(req)
	if err != nil {
		return providererr.Wrap(providererr.TransferFailed, providerTag, "upload failed", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		body, _ := pathutil.ReadWithLimit(resp.Body, 4096)
		return providererr.New(providererr.TransferFailed, providerTag, fmt.Sprintf("upload returned %d: %s", resp.StatusCode, pathutil.SanitizeAPIError(string(body))))
	}
	if progress != nil {
		progress(info.Size(), info.Size())
	}
	p.cache.Invalidate(norm)
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
	payload := map[string]interface{}{
		"data": map[string]interface{}{
			"attributes": map[string]interface{}{"name": pathutil.Base(norm), "parent_id": parentID},
			"type":       "files",
		},
	}
	body, _ := json.Marshal(payload)
	var single jsonAPISingle
	status, data, err := p.doJSON(ctx, "POST", apiBase(p.cfg.Region)+"/files", bytes.NewReader(body), &single)
	if err != nil {
		return err
	}
	if status >= 400 {
		return providererr.New(providererr.IoError, providerTag, fmt.Sprintf("mkdir returned %d: %s", status, pathutil.SanitizeAPIError(string(data))))
	}
	p.cache.Put(norm, single.Data.ID)
	return nil
}

// patchStatus PATCHes a single file/folder's status (1=active, 51=trash,
// 61=permanent delete).
func (p *Provider) patchStatus(ctx context.Context, id, status string) error {
	payload := map[string]interface{}{
		"data": map[string]interface{}{
			"attributes": map[string]interface{}{"status": status},
			"type":       "files",
		},
	}
	body, _ := json.Marshal(payload)
	code, data, err := p.doJSON(ctx, "PATCH", apiBase(p.cfg.Region)+"/files/"+id, bytes.NewReader(body), nil)
	if err != nil {
		return err
	}
	if code == http.StatusNotFound {
		return providererr.New(providererr.NotFound, providerTag, "no such id "+id)
	}
	if code >= 400 {
		return providererr.New(providererr.IoError, providerTag, fmt.Sprintf("status PATCH %s returned %d: %s", status, code, pathutil.SanitizeAPIError(string(data))))
	}
	return nil
}

// patchStatusBatch PATCHes many ids' status in chunks of statusBatchSize.
func (p *Provider) patchStatusBatch(ctx context.Context, ids []string, status string) error {
	for i := 0; i < len(ids); i += statusBatchSize {
		end := i + statusBatchSize
		if end > len(ids) {
			end = len(ids)
		}
		chunk := ids[i:end]
		items := make([]map[string]interface{}, 0, len(chunk))
		for _, id := range chunk {
			items = append(items, map[string]interface{}{
				"id":         id,
				"type":       "files",
				"attributes": map[string]interface{}{"status": status},
			})
		}
		body, _ := json.Marshal(map[string]interface{}{"data": items})
		code, data, err := p.doJSON(ctx, "PATCH", apiBase(p.cfg.Region)+"/files", bytes.NewReader(body), nil)
		if err != nil {
			return err
		}
		if code >= 400 {
			return providererr.New(providererr.IoError, providerTag, fmt.Sprintf("batch status PATCH %s returned %d: %s", status, code, pathutil.SanitizeAPIError(string(data))))
		}
	}
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
	if err := p.patchStatus(ctx, id, "51"); err != nil {
		if providererr.Matches(err, providererr.NotFound) {
			return nil // absorb: idempotent delete
		}
		return err
	}
	p.cache.Invalidate(norm)
	return nil
}

func (p *Provider) Rmdir(ctx context.Context, path string) error {
	return p.Delete(ctx, path)
}

// RmdirRecursive trashes the folder itself: WorkDrive's trash semantics
// cascade to contents server-side, so no separate child enumeration is
// needed.
func (p *Provider) RmdirRecursive(ctx context.Context, path string) error {
	return p.Delete(ctx, path)
}

// PermanentDeleteBatch permanently deletes (status 61) many already-trashed
// ids, chunked at statusBatchSize.
func (p *Provider) PermanentDeleteBatch(ctx context.Context, ids []string) error {
	return p.patchStatusBatch(ctx, ids, "61")
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
	payload := map[string]interface{}{
		"data": map[string]interface{}{
			"attributes": map[string]interface{}{"name": pathutil.Base(normTo)},
			"type":       "files",
		},
	}
	body, _ := json.Marshal(payload)
	code, data, err := p.doJSON(ctx, "PATCH", apiBase(p.cfg.Region)+"/files/"+id, bytes.NewReader(body), nil)
	if err != nil {
		return err
	}
	if code >= 400 {
		return providererr.New(providererr.IoError, providerTag, fmt.Sprintf("rename returned %d: %s", code, pathutil.SanitizeAPIError(string(data))))
	}
	p.cache.Invalidate(normFrom)
	return nil
}

func (p *Provider) SupportsServerSideCopy() bool { return false }
func (p *Provider) SupportsShareLinks() bool      { return true }
func (p *Provider) SupportsSearch() bool          { return false }
func (p *Provider) SupportsStorageInfo() bool     { return false }
func (p *Provider) SupportsVersions() bool        { return false }
func (p *Provider) SupportsLocking() bool         { return false }
func (p *Provider) SupportsThumbnails() bool      { return false }
func (p *Provider) SupportsPermissions() bool     { return false }
func (p *Provider) SupportsChangeFeed() bool      { return false }
func (p *Provider) SupportsResumable() bool       { return false }

func (p *Provider) CreateShareLink(ctx context.Context, path string, perm provider.SharePermission) (provider.ShareLink, error) {
	id, _, err := p.resolveID(ctx, path)
	if err != nil {
		return provider.ShareLink{}, err
	}
	role := "editor"
	if perm.ReadOnly {
		role = "viewer"
	}
	payload := map[string]interface{}{
		"data": map[string]interface{}{
			"attributes": map[string]interface{}{"role": role},
			"type":       "links",
		},
	}
	body, _ := json.Marshal(payload)
	var single jsonAPISingle
	code, data, err := p.doJSON(ctx, "POST", apiBase(p.cfg.Region)+"/files/"+id+"/links", bytes.NewReader(body), &single)
	if err != nil {
		return provider.ShareLink{}, err
	}
	if code >= 400 {
		return provider.ShareLink{}, providererr.New(providererr.IoError, providerTag, fmt.Sprintf("create share link returned %d: %s", code, pathutil.SanitizeAPIError(string(data))))
	}
	return provider.ShareLink{ID: single.Data.ID, ExpiresAt: perm.ExpiresAt}, nil
}

// RemoveShareLink absorbs a 404: the link may already be gone.
func (p *Provider) RemoveShareLink(ctx context.Context, id string) error {
	code, data, err := p.doJSON(ctx, "DELETE", apiBase(p.cfg.Region)+"/links/"+id, nil, nil)
	if err != nil {
		return err
	}
	if code == http.StatusNotFound {
		return nil
	}
	if code >= 400 {
		return providererr.New(providererr.IoError, providerTag, fmt.Sprintf("remove share link returned %d: %s", code, pathutil.SanitizeAPIError(string(data))))
	}
	return nil
}
