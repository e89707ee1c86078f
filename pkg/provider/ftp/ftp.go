// Package ftp implements the StorageProvider capability over FTP and FTPS
// using a stateful command channel with a data channel per transfer. List
// must cd into the target directory first, matching the protocol's
// working-directory model; passive mode is the default, with active mode a
// config knob, and an idle-timer NOOP keeps the control channel alive.
package ftp

import (
	"context"
	"io"
	"os"
	"strconv"
	"sync"
	"time"

	goftp "github.com/jlaffaye/ftp"

	"github.com/aeroftp/aerocore/pkg/pathutil"
	"github.com/aeroftp/aerocore/pkg/provider"
	"github.com/aeroftp/aerocore/pkg/providererr"
)

func init() {
	provider.Register("ftp", func(cfg provider.ProviderConfig) (provider.StorageProvider, error) {
		return New(*cfg.FTP), nil
	})
}

const (
	dialTimeout   = 30 * time.Second
	keepAliveTick = 20 * time.Second
)

// Provider is a StorageProvider backed by an FTP/FTPS control connection.
type Provider struct {
	cfg provider.FTPConfig

	mu      sync.Mutex
	conn    *goftp.ServerConn
	cwd     string
	stopKA  chan struct{}
}

// New builds an unconnected FTP provider from cfg.
func New(cfg provider.FTPConfig) *Provider {
	return &Provider{cfg: cfg, cwd: "/"}
}

func addr(host string, port int) string {
	if port == 0 {
		port = 21
	}
	return host + ":" + strconv.Itoa(port)
}

func (p *Provider) Connect(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	opts := []goftp.DialOption{goftp.DialWithTimeout(dialTimeout), goftp.DialWithContext(ctx)}
	if !p.cfg.Passive {
		opts = append(opts, goftp.DialWithDisabledEPSV(true))
	}
	if p.cfg.ExplicitTLS {
		opts = append(opts, goftp.DialWithExplicitTLS(nil))
	}

	conn, err := goftp.Dial(addr(p.cfg.Host, p.cfg.Port), opts...)
	if err != nil {
		return providererr.Wrap(providererr.ConnectionFailed, "ftp", "dial failed", err)
	}
	if err := conn.Login(p.cfg.Username, p.cfg.Password); err != nil {
		conn.Quit()
		return providererr.Wrap(providererr.AuthenticationFailed, "ftp", "login failed", err)
	}
	p.conn = conn
	p.cwd = "/"
	p.startKeepAlive()
	return nil
}

func (p *Provider) startKeepAlive() {
	p.stopKA = make(chan struct{})
	stop := p.stopKA
	go func() {
		ticker := time.NewTicker(keepAliveTick)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				p.mu.Lock()
				if p.conn != nil {
					_ = p.conn.NoOp()
				}
				p.mu.Unlock()
			}
		}
	}()
}

func (p *Provider) Disconnect(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.conn == nil {
		return nil
	}
	if p.stopKA != nil {
		close(p.stopKA)
		p.stopKA = nil
	}
	err := p.conn.Quit()
	p.conn = nil
	if err != nil {
		return providererr.Wrap(providererr.IoError, "ftp", "quit failed", err)
	}
	return nil
}

func (p *Provider) IsConnected() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.conn != nil
}

// reconnect re-issues login and restores the last known cwd, per the
// documented reconnection contract.
func (p *Provider) reconnect(ctx context.Context) error {
	savedCwd := p.cwd
	p.conn = nil
	if err := p.connectLocked(ctx); err != nil {
		return err
	}
	if savedCwd != "/" && savedCwd != "" {
		if err := p.conn.ChangeDir(savedCwd); err == nil {
			p.cwd = savedCwd
		}
	}
	return nil
}

func (p *Provider) connectLocked(ctx context.Context) error {
	opts := []goftp.DialOption{goftp.DialWithTimeout(dialTimeout), goftp.DialWithContext(ctx)}
	conn, err := goftp.Dial(addr(p.cfg.Host, p.cfg.Port), opts...)
	if err != nil {
		return providererr.Wrap(providererr.ConnectionFailed, "ftp", "reconnect dial failed", err)
	}
	if err := conn.Login(p.cfg.Username, p.cfg.Password); err != nil {
		conn.Quit()
		return providererr.Wrap(providererr.AuthenticationFailed, "ftp", "reconnect login failed", err)
	}
	p.conn = conn
	return nil
}

func (p *Provider) KeepAlive(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.conn == nil {
		return providererr.New(providererr.NotConnected, "ftp", "not connected")
	}
	if err := p.conn.NoOp(); err != nil {
		return providererr.Wrap(providererr.ConnectionFailed, "ftp", "keepalive failed", err)
	}
	return nil
}

func (p *Provider) ServerInfo(ctx context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.conn == nil {
		return "", providererr.New(providererr.NotConnected, "ftp", "not connected")
	}
	return "ftp", nil
}

func (p *Provider) AccountEmail(ctx context.Context) (string, error) {
	return "", providererr.New(providererr.NotSupported, "ftp", "FTP has no account identity concept")
}

func (p *Provider) List(ctx context.Context, path string) ([]provider.RemoteEntry, error) {
	norm, err := pathutil.Normalize(path)
	if err != nil {
		return nil, providererr.Wrap(providererr.InvalidPath, "ftp", "invalid path", err)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.conn == nil {
		return nil, providererr.New(providererr.NotConnected, "ftp", "not connected")
	}
	// FTP's LIST is relative to the current directory; cd there first.
	if err := p.conn.ChangeDir(norm); err != nil {
		return nil, providererr.Wrap(providererr.NotFound, "ftp", "cannot cd into "+norm, err)
	}
	p.cwd = norm
	entries, err := p.conn.List(".")
	if err != nil {
		return nil, providererr.Wrap(providererr.IoError, "ftp", "LIST failed", err)
	}
	out := make([]provider.RemoteEntry, 0, len(entries))
	for _, e := range entries {
		if e.Name == "." || e.Name == ".." {
			continue
		}
		childPath, _ := pathutil.Join(norm, e.Name)
		out = append(out, provider.RemoteEntry{
			Path:    childPath,
			Name:    e.Name,
			IsDir:   e.Type == goftp.EntryTypeFolder,
			Size:    int64(e.Size),
			ModTime: e.Time,
		})
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
		return providererr.Wrap(providererr.InvalidPath, "ftp", "invalid path", err)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.conn == nil {
		return providererr.New(providererr.NotConnected, "ftp", "not connected")
	}
	if err := p.conn.ChangeDir(norm); err != nil {
		return providererr.Wrap(providererr.NotFound, "ftp", "cd failed", err)
	}
	p.cwd = norm
	return nil
}

func (p *Provider) CdUp(ctx context.Context) error {
	return p.Cd(ctx, pathutil.Dir(p.Pwd()))
}

func (p *Provider) Stat(ctx context.Context, path string) (provider.RemoteEntry, error) {
	norm, err := pathutil.Normalize(path)
	if err != nil {
		return provider.RemoteEntry{}, providererr.Wrap(providererr.InvalidPath, "ftp", "invalid path", err)
	}
	parent := pathutil.Dir(norm)
	name := pathutil.Base(norm)
	entries, err := p.List(ctx, parent)
	if err != nil {
		return provider.RemoteEntry{}, err
	}
	for _, e := range entries {
		if e.Name == name {
			return e, nil
		}
	}
	return provider.RemoteEntry{}, providererr.New(providererr.NotFound, "ftp", "no such path "+norm)
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
		return providererr.Wrap(providererr.InvalidPath, "ftp", "invalid path", err)
	}
	p.mu.Lock()
	if p.conn == nil {
		p.mu.Unlock()
		return providererr.New(providererr.NotConnected, "ftp", "not connected")
	}
	resp, err := p.conn.Retr(norm)
	p.mu.Unlock()
	if err != nil {
		return providererr.Wrap(providererr.NotFound, "ftp", "RETR failed", err)
	}
	defer resp.Close()

	f, err := os.Create(local)
	if err != nil {
		return providererr.Wrap(providererr.IoError, "ftp", "create local file", err)
	}
	defer f.Close()

	var total int64
	if e, serr := p.Stat(ctx, norm); serr == nil {
		total = e.Size
	}
	return copyWithProgress(ctx, f, resp, total, progress)
}

func (p *Provider) DownloadToBytes(ctx context.Context, remote string, maxBytes int64) ([]byte, error) {
	norm, err := pathutil.Normalize(remote)
	if err != nil {
		return nil, providererr.Wrap(providererr.InvalidPath, "ftp", "invalid path", err)
	}
	if maxBytes <= 0 {
		maxBytes = pathutil.DefaultDownloadCap
	}
	p.mu.Lock()
	if p.conn == nil {
		p.mu.Unlock()
		return nil, providererr.New(providererr.NotConnected, "ftp", "not connected")
	}
	resp, err := p.conn.Retr(norm)
	p.mu.Unlock()
	if err != nil {
		return nil, providererr.Wrap(providererr.NotFound, "ftp", "RETR failed", err)
	}
	defer resp.Close()

	data, err := pathutil.ReadWithLimit(resp, maxBytes)
	if err != nil {
		if pathutil.IsCapExceeded(err) {
			return nil, providererr.Wrap(providererr.TransferFailed, "ftp", "download exceeded byte cap", err)
		}
		return nil, providererr.Wrap(providererr.IoError, "ftp", "read failed", err)
	}
	return data, nil
}

func (p *Provider) Upload(ctx context.Context, local, remote string, progress provider.ProgressFunc) error {
	norm, err := pathutil.Normalize(remote)
	if err != nil {
		return providererr.Wrap(providererr.InvalidPath, "ftp", "invalid path", err)
	}
	f, err := os.Open(local)
	if err != nil {
		return providererr.Wrap(providererr.IoError, "ftp", "open local file", err)
	}
	defer f.Close()

	info, _ := f.Stat()
	var total int64
	if info != nil {
		total = info.Size()
	}

	var reader io.Reader = f
	if progress != nil {
		reader = &progressReader{r: f, total: total, progress: progress}
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.conn == nil {
		return providererr.New(providererr.NotConnected, "ftp", "not connected")
	}
	if err := p.conn.Stor(norm, reader); err != nil {
		return providererr.Wrap(providererr.TransferFailed, "ftp", "STOR failed", err)
	}
	return nil
}

func (p *Provider) Mkdir(ctx context.Context, path string) error {
	norm, err := pathutil.Normalize(path)
	if err != nil {
		return providererr.Wrap(providererr.InvalidPath, "ftp", "invalid path", err)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.conn == nil {
		return providererr.New(providererr.NotConnected, "ftp", "not connected")
	}
	if err := p.conn.MakeDir(norm); err != nil {
		return providererr.Wrap(providererr.IoError, "ftp", "MKD failed", err)
	}
	return nil
}

func (p *Provider) Delete(ctx context.Context, path string) error {
	norm, err := pathutil.Normalize(path)
	if err != nil {
		return providererr.Wrap(providererr.InvalidPath, "ftp", "invalid path", err)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.conn == nil {
		return providererr.New(providererr.NotConnected, "ftp", "not connected")
	}
	if err := p.conn.Delete(norm); err != nil {
		return providererr.Wrap(providererr.NotFound, "ftp", "DELE failed", err)
	}
	return nil
}

func (p *Provider) Rmdir(ctx context.Context, path string) error {
	norm, err := pathutil.Normalize(path)
	if err != nil {
		return providererr.Wrap(providererr.InvalidPath, "ftp", "invalid path", err)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.conn == nil {
		return providererr.New(providererr.NotConnected, "ftp", "not connected")
	}
	if err := p.conn.RemoveDir(norm); err != nil {
		return providererr.Wrap(providererr.NotFound, "ftp", "RMD failed", err)
	}
	return nil
}

func (p *Provider) RmdirRecursive(ctx context.Context, path string) error {
	entries, err := p.List(ctx, path)
	if err != nil {
		return err
	}
	for _, e := range entries {
		if e.IsDir {
			if err := p.RmdirRecursive(ctx, e.Path); err != nil {
				return err
			}
		} else if err := p.Delete(ctx, e.Path); err != nil && !providererr.Matches(err, providererr.NotFound) {
			return err
		}
	}
	return p.Rmdir(ctx, path)
}

func (p *Provider) Rename(ctx context.Context, from, to string) error {
	normFrom, err := pathutil.Normalize(from)
	if err != nil {
		return providererr.Wrap(providererr.InvalidPath, "ftp", "invalid from path", err)
	}
	normTo, err := pathutil.Normalize(to)
	if err != nil {
		return providererr.Wrap(providererr.InvalidPath, "ftp", "invalid to path", err)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.conn == nil {
		return providererr.New(providererr.NotConnected, "ftp", "not connected")
	}
	if err := p.conn.Rename(normFrom, normTo); err != nil {
		return providererr.Wrap(providererr.IoError, "ftp", "RNFR/RNTO failed", err)
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
			return providererr.Wrap(providererr.TransferFailed, "ftp", "transfer cancelled", err)
		}
		n, rerr := src.Read(buf)
		if n > 0 {
			if _, werr := dst.Write(buf[:n]); werr != nil {
				return providererr.Wrap(providererr.IoError, "ftp", "local write failed", werr)
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
			return providererr.Wrap(providererr.IoError, "ftp", "read failed", rerr)
		}
	}
}

