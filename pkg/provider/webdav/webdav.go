// Package webdav implements the StorageProvider capability over a generic
// WebDAV server using plain net/http and encoding/xml: no pack example
// vendors a WebDAV client library (golang.org/x/net/webdav is a server
// package), so PROPFIND/MOVE are issued by hand, the way rclone's own
// webdav backend does it. The connection is stateless HTTP; Cd is purely a
// local cursor layered on top.
package webdav

import (
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/aeroftp/aerocore/pkg/pathutil"
	"github.com/aeroftp/aerocore/pkg/provider"
	"github.com/aeroftp/aerocore/pkg/providererr"
	"github.com/aeroftp/aerocore/pkg/retrypolicy"
)

func init() {
	provider.Register("webdav", func(cfg provider.ProviderConfig) (provider.StorageProvider, error) {
		return New(*cfg.WebDAV), nil
	})
}

const (
	connectTimeout = 30 * time.Second
	metaTimeout    = 30 * time.Second
	transferTimeout = 300 * time.Second
)

// Provider is a StorageProvider backed by a WebDAV HTTP endpoint.
type Provider struct {
	cfg    provider.WebDAVConfig
	client *http.Client
	policy retrypolicy.Policy

	mu        sync.Mutex
	connected bool
	cwd       string
	base      *url.URL
}

// New builds an unconnected WebDAV provider from cfg.
func New(cfg provider.WebDAVConfig) *Provider {
	return &Provider{
		cfg:    cfg,
		client: &http.Client{Timeout: transferTimeout},
		policy: retrypolicy.DefaultPolicy(),
		cwd:    "/",
	}
}

func (p *Provider) Connect(ctx context.Context) error {
	base, err := url.Parse(p.cfg.URL)
	if err != nil {
		return providererr.Wrap(providererr.InvalidPath, "webdav", "invalid base URL", err)
	}
	p.mu.Lock()
	p.base = base
	p.mu.Unlock()

	connectCtx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()
	req, err := p.newRequest(connectCtx, "PROPFIND", "/", nil)
	if err != nil {
		return err
	}
	req.Header.Set("Depth", "0")
	resp, err := p.client.Do(req)
	if err != nil {
		return providererr.Wrap(providererr.ConnectionFailed, "webdav", "probe request failed", err)
	}
	resp.Body.Close()
	if resp.StatusCode == http.StatusUnauthorized {
		return providererr.New(providererr.AuthenticationFailed, "webdav", "authentication rejected")
	}
	if resp.StatusCode >= 500 {
		return providererr.New(providererr.ServerError, "webdav", fmt.Sprintf("server returned %d", resp.StatusCode))
	}

	p.mu.Lock()
	p.connected = true
	p.cwd = "/"
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
		return providererr.New(providererr.NotConnected, "webdav", "not connected")
	}
	return nil
}

func (p *Provider) ServerInfo(ctx context.Context) (string, error) {
	if !p.IsConnected() {
		return "", providererr.New(providererr.NotConnected, "webdav", "not connected")
	}
	return "webdav", nil
}

func (p *Provider) AccountEmail(ctx context.Context) (string, error) {
	return "", providererr.New(providererr.NotSupported, "webdav", "WebDAV has no account identity concept")
}

func (p *Provider) resolveURL(path string) string {
	p.mu.Lock()
	base := *p.base
	p.mu.Unlock()
	base.Path = strings.TrimRight(base.Path, "/") + path
	return base.String()
}

// newRequest builds an HTTP request against path. Per-call deadlines are
// the caller's responsibility (see Connect's connectCtx); the shared
// client's own Timeout covers the rest.
func (p *Provider) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, p.resolveURL(path), body)
	if err != nil {
		return nil, providererr.Wrap(providererr.Other, "webdav", "building request", err)
	}
	if p.cfg.Username != "" {
		req.SetBasicAuth(p.cfg.Username, p.cfg.Password)
	}
	return req, nil
}

type davMultiStatus struct {
	XMLName   xml.Name     `xml:"multistatus"`
	Responses []davResponse `xml:"response"`
}

type davResponse struct {
	Href     string   `xml:"href"`
	Propstat []davPropstat `xml:"propstat"`
}

type davPropstat struct {
	Status string  `xml:"status"`
	Prop   davProp `xml:"prop"`
}

type davProp struct {
	ResourceType      davResourceType `xml:"resourcetype"`
	ContentLength     string          `xml:"getcontentlength"`
	LastModified      string          `xml:"getlastmodified"`
	ContentType       string          `xml:"getcontenttype"`
}

type davResourceType struct {
	Collection *struct{} `xml:"collection"`
}

const propfindBody = `<?xml version="1.0" encoding="utf-8"?>
<D:propfind xmlns:D="DAV:">
  <D:prop>
    <D:resourcetype/>
    <D:getcontentlength/>
    <D:getlastmodified/>
    <D:getcontenttype/>
  </D:prop>
</D:propfind>`

func (p *Provider) List(ctx context.Context, path string) ([]provider.RemoteEntry, error) {
	norm, err := pathutil.Normalize(path)
	if err != nil {
		return nil, providererr.Wrap(providererr.InvalidPath, "webdav", "invalid path", err)
	}
	if !p.IsConnected() {
		return nil, providererr.New(providererr.NotConnected, "webdav", "not connected")
	}

	req, err := p.newRequest(ctx, "PROPFIND", norm, strings.NewReader(propfindBody))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Depth", "1")
	req.Header.Set("Content-Type", "application/xml; charset=utf-8")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, providererr.Wrap(providererr.ConnectionFailed, "webdav", "PROPFIND failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, providererr.New(providererr.NotFound, "webdav", "no such path "+norm)
	}
	if resp.StatusCode != http.StatusMultiStatus {
		return nil, providererr.New(providererr.ServerError, "webdav", fmt.Sprintf("PROPFIND returned %d", resp.StatusCode))
	}

	data, err := pathutil.ReadWithLimit(resp.Body, pathutil.DefaultDownloadCap)
	if err != nil {
		return nil, providererr.Wrap(providererr.ParseError, "webdav", "reading multistatus body", err)
	}
	var ms davMultiStatus
	if err := xml.Unmarshal(data, &ms); err != nil {
		return nil, providererr.Wrap(providererr.ParseError, "webdav", "parsing multistatus XML", err)
	}

	out := make([]provider.RemoteEntry, 0, len(ms.Responses))
	for _, r := range ms.Responses {
		hrefPath, err := url.PathUnescape(r.Href)
		if err != nil {
			continue
		}
		entryPath, nerr := pathutil.Normalize(hrefPath)
		if nerr != nil {
			continue
		}
		if entryPath == norm {
			continue // self-entry for the requested collection
		}
		if len(r.Propstat) == 0 {
			continue
		}
		prop := r.Propstat[0].Prop
		entry := provider.RemoteEntry{
			Path:     entryPath,
			Name:     pathutil.Base(entryPath),
			IsDir:    prop.ResourceType.Collection != nil,
			MimeType: prop.ContentType,
		}
		if size, perr := strconv.ParseInt(prop.ContentLength, 10, 64); perr == nil {
			entry.Size = size
		}
		if t, terr := http.ParseTime(prop.LastModified); terr == nil {
			entry.ModTime = t
		}
		out = append(out, entry)
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
		return providererr.Wrap(providererr.InvalidPath, "webdav", "invalid path", err)
	}
	e, err := p.Stat(ctx, norm)
	if err != nil {
		return err
	}
	if !e.IsDir {
		return providererr.New(providererr.InvalidPath, "webdav", norm+" is not a directory")
	}
	p.mu.Lock()
	p.cwd = norm
	p.mu.Unlock()
	return nil
}

func (p *Provider) CdUp(ctx context.Context) error {
	return p.Cd(ctx, pathutil.Dir(p.Pwd()))
}

func (p *Provider) Stat(ctx context.Context, path string) (provider.RemoteEntry, error) {
	norm, err := pathutil.Normalize(path)
	if err != nil {
		return provider.RemoteEntry{}, providererr.Wrap(providererr.InvalidPath, "webdav", "invalid path", err)
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
	return provider.RemoteEntry{}, providererr.New(providererr.NotFound, "webdav", "no such path "+norm)
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
		return providererr.Wrap(providererr.InvalidPath, "webdav", "invalid path", err)
	}
	if !p.IsConnected() {
		return providererr.New(providererr.NotConnected, "webdav", "not connected")
	}

	resp, err := retrypolicy.SendWithRetry(ctx, p.client, p.policy, func(ctx context.Context) (*http.Request, error) {
		return p.newRequest(ctx, "GET", norm, nil)
	})
	if err != nil {
		return providererr.Wrap(providererr.TransferFailed, "webdav", "GET failed", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return providererr.New(providererr.NotFound, "webdav", "no such path "+norm)
	}
	if resp.StatusCode >= 400 {
		return providererr.New(providererr.TransferFailed, "webdav", fmt.Sprintf("GET returned %d", resp.StatusCode))
	}

	f, err := os.Create(local)
	if err != nil {
		return providererr.Wrap(providererr.IoError, "webdav", "create local file", err)
	}
	defer f.Close()

	return copyWithProgress(ctx, f, resp.Body, resp.ContentLength, progress)
}

func (p *Provider) DownloadToBytes(ctx context.Context, remote string, maxBytes int64) ([]byte, error) {
	norm, err := pathutil.Normalize(remote)
	if err != nil {
		return nil, providererr.Wrap(providererr.InvalidPath, "webdav", "invalid path", err)
	}
	if maxBytes <= 0 {
		maxBytes = pathutil.DefaultDownloadCap
	}
	if !p.IsConnected() {
		return nil, providererr.New(providererr.NotConnected, "webdav", "not connected")
	}

	resp, err := retrypolicy.SendWithRetry(ctx, p.client, p.policy, func(ctx context.Context) (*http.Request, error) {
		return p.newRequest(ctx, "GET", norm, nil)
	})
	if err != nil {
		return nil, providererr.Wrap(providererr.TransferFailed, "webdav", "GET failed", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return nil, providererr.New(providererr.NotFound, "webdav", "no such path "+norm)
	}

	data, err := pathutil.ReadWithLimit(resp.Body, maxBytes)
	if err != nil {
		if pathutil.IsCapExceeded(err) {
			return nil, providererr.Wrap(providererr.TransferFailed, "webdav", "download exceeded byte cap", err)
		}
		return nil, providererr.Wrap(providererr.IoError, "webdav", "read failed", err)
	}
	return data, nil
}

func (p *Provider) Upload(ctx context.Context, local, remote string, progress provider.ProgressFunc) error {
	norm, err := pathutil.Normalize(remote)
	if err != nil {
		return providererr.Wrap(providererr.InvalidPath, "webdav", "invalid path", err)
	}
	f, err := os.Open(local)
	if err != nil {
		return providererr.Wrap(providererr.IoError, "webdav", "open local file", err)
	}
	defer f.Close()

	info, _ := f.Stat()
	var total int64
	if info != nil {
		total = info.Size()
	}
	var body io.Reader = f
	if progress != nil {
		body = &progressReader{r: f, total: total, progress: progress}
	}

	if !p.IsConnected() {
		return providererr.New(providererr.NotConnected, "webdav", "not connected")
	}

	req, err := p.newRequest(ctx, "PUT", norm, body)
	if err != nil {
		return err
	}
	req.ContentLength = total
	resp, err := p.client.Do(req)
	if err != nil {
		return providererr.Wrap(providererr.TransferFailed, "webdav", "PUT failed", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return providererr.New(providererr.TransferFailed, "webdav", fmt.Sprintf("PUT returned %d", resp.StatusCode))
	}
	return nil
}

func (p *Provider) Mkdir(ctx context.Context, path string) error {
	norm, err := pathutil.Normalize(path)
	if err != nil {
		return providererr.Wrap(providererr.InvalidPath, "webdav", "invalid path", err)
	}
	if !p.IsConnected() {
		return providererr.New(providererr.NotConnected, "webdav", "not connected")
	}
	req, err := p.newRequest(ctx, "MKCOL", norm, nil)
	if err != nil {
		return err
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return providererr.Wrap(providererr.IoError, "webdav", "MKCOL failed", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return providererr.New(providererr.IoError, "webdav", fmt.Sprintf("MKCOL returned %d", resp.StatusCode))
	}
	return nil
}

func (p *Provider) Delete(ctx context.Context, path string) error {
	return p.delete(ctx, path)
}

func (p *Provider) Rmdir(ctx context.Context, path string) error {
	return p.delete(ctx, path)
}

func (p *Provider) delete(ctx context.Context, path string) error {
	norm, err := pathutil.Normalize(path)
	if err != nil {
		return providererr.Wrap(providererr.InvalidPath, "webdav", "invalid path", err)
	}
	if !p.IsConnected() {
		return providererr.New(providererr.NotConnected, "webdav", "not connected")
	}
	req, err := p.newRequest(ctx, "DELETE", norm, nil)
	if err != nil {
		return err
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return providererr.Wrap(providererr.IoError, "webdav", "DELETE failed", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return providererr.New(providererr.NotFound, "webdav", "no such path "+norm)
	}
	if resp.StatusCode >= 400 {
		return providererr.New(providererr.IoError, "webdav", fmt.Sprintf("DELETE returned %d", resp.StatusCode))
	}
	return nil
}

// RmdirRecursive relies on the server's own recursive DELETE semantics for
// a collection (mandated by RFC 4918): a single DELETE on a collection
// removes its whole subtree.
func (p *Provider) RmdirRecursive(ctx context.Context, path string) error {
	return p.delete(ctx, path)
}

func (p *Provider) Rename(ctx context.Context, from, to string) error {
	normFrom, err := pathutil.Normalize(from)
	if err != nil {
		return providererr.Wrap(providererr.InvalidPath, "webdav", "invalid from path", err)
	}
	normTo, err := pathutil.Normalize(to)
	if err != nil {
		return providererr.Wrap(providererr.InvalidPath, "webdav", "invalid to path", err)
	}
	if !p.IsConnected() {
		return providererr.New(providererr.NotConnected, "webdav", "not connected")
	}
	req, err := p.newRequest(ctx, "MOVE", normFrom, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Destination", p.resolveURL(normTo))
	req.Header.Set("Overwrite", "T")
	resp, err := p.client.Do(req)
	if err != nil {
		return providererr.Wrap(providererr.IoError, "webdav", "MOVE failed", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return providererr.New(providererr.IoError, "webdav", fmt.Sprintf("MOVE returned %d", resp.StatusCode))
	}
	return nil
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
			return providererr.Wrap(providererr.TransferFailed, "webdav", "transfer cancelled", err)
		}
		n, rerr := src.Read(buf)
		if n > 0 {
			if _, werr := dst.Write(buf[:n]); werr != nil {
				return providererr.Wrap(providererr.IoError, "webdav", "local write failed", werr)
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
			return providererr.Wrap(providererr.IoError, "webdav", "read failed", rerr)
		}
	}
}

