// Package sftp implements the StorageProvider capability over an SSH
// session using a single sftp.Client. Host-key verification is TOFU: the
// first connection to a host records its fingerprint in a known_hosts-style
// file and every later connection is checked against it, unless the caller
// pinned a fingerprint up front. A sticky current directory is tracked for
// Pwd/Cd/CdUp convenience, but every wire operation takes an absolute path.
package sftp

import (
	"context"
	"fmt"
	"io"
	"net"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"

	"github.com/aeroftp/aerocore/pkg/pathutil"
	"github.com/aeroftp/aerocore/pkg/provider"
	"github.com/aeroftp/aerocore/pkg/providererr"
)

func init() {
	provider.Register("sftp", func(cfg provider.ProviderConfig) (provider.StorageProvider, error) {
		return New(*cfg.SFTP), nil
	})
}

const dialTimeout = 30 * time.Second

// Provider is a StorageProvider backed by an SSH/SFTP session.
type Provider struct {
	cfg provider.SFTPConfig

	mu     sync.Mutex
	sshC   *ssh.Client
	client *sftp.Client
	cwd    string
}

// New builds an unconnected SFTP provider from cfg.
func New(cfg provider.SFTPConfig) *Provider {
	return &Provider{cfg: cfg, cwd: "/"}
}

func addr(host string, port int) string {
	if port == 0 {
		port = 22
	}
	return net.JoinHostPort(host, strconv.Itoa(port))
}

// hostKeyCallback builds the TOFU verification function: if HostKeyPin is
// set, the connection is accepted only when the presented key's SHA256
// fingerprint matches; otherwise a known_hosts file is consulted, and an
// unseen host is recorded rather than rejected, matching the "TOFU prompt
// handed to the host UI, answer re-used thereafter" contract — the actual
// prompt/confirmation lives in the host layer above this package.
func (p *Provider) hostKeyCallback() (ssh.HostKeyCallback, error) {
	if p.cfg.HostKeyPin != "" {
		want := p.cfg.HostKeyPin
		return func(hostname string, remote net.Addr, key ssh.PublicKey) error {
			got := ssh.FingerprintSHA256(key)
			if got != want {
				return fmt.Errorf("host key fingerprint mismatch: got %s, want %s", got, want)
			}
			return nil
		}, nil
	}

	path := p.cfg.KnownHostsPath
	if path == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, err
		}
		path = home + "/.ssh/known_hosts"
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		if f, cerr := os.OpenFile(path, os.O_CREATE|os.O_WRONLY, 0o600); cerr == nil {
			f.Close()
		}
	}
	cb, err := knownhosts.New(path)
	if err != nil {
		return nil, err
	}
	return func(hostname string, remote net.Addr, key ssh.PublicKey) error {
		err := cb(hostname, remote, key)
		if err == nil {
			return nil
		}
		var keyErr *knownhosts.KeyError
		if ok := asKeyError(err, &keyErr); ok && len(keyErr.Want) == 0 {
			// first time seeing this host: trust on first use and record it.
			return appendKnownHost(path, hostname, key)
		}
		return err
	}, nil
}

func asKeyError(err error, target **knownhosts.KeyError) bool {
	if ke, ok := err.(*knownhosts.KeyError); ok {
		*target = ke
		return true
	}
	return false
}

func appendKnownHost(path, hostname string, key ssh.PublicKey) error {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	defer f.Close()
	line := knownhosts.Line([]string{hostname}, key)
	_, err = f.WriteString(line + "\n")
	return err
}

func (p *Provider) authMethods() ([]ssh.AuthMethod, error) {
	var methods []ssh.AuthMethod
	if len(p.cfg.PrivateKeyPEM) > 0 {
		var signer ssh.Signer
		var err error
		if p.cfg.Passphrase != "" {
			signer, err = ssh.ParsePrivateKeyWithPassphrase(p.cfg.PrivateKeyPEM, []byte(p.cfg.Passphrase))
		} else {
			signer, err = ssh.ParsePrivateKey(p.cfg.PrivateKeyPEM)
		}
		if err != nil {
			return nil, err
		}
		methods = append(methods, ssh.PublicKeys(signer))
	}
	if p.cfg.Password != "" {
		methods = append(methods, ssh.Password(p.cfg.Password))
	}
	return methods, nil
}

func (p *Provider) Connect(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	auths, err := p.authMethods()
	if err != nil {
		return providererr.Wrap(providererr.AuthenticationFailed, "sftp", "parsing private key", err)
	}
	hkcb, err := p.hostKeyCallback()
	if err != nil {
		return providererr.Wrap(providererr.ConnectionFailed, "sftp", "host key verification setup", err)
	}

	config := &ssh.ClientConfig{
		User:            p.cfg.Username,
		Auth:            auths,
		HostKeyCallback: hkcb,
		Timeout:         dialTimeout,
	}

	dialer := net.Dialer{Timeout: dialTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr(p.cfg.Host, p.cfg.Port))
	if err != nil {
		return providererr.Wrap(providererr.ConnectionFailed, "sftp", "dial failed", err)
	}
	sshConn, chans, reqs, err := ssh.NewClientConn(conn, addr(p.cfg.Host, p.cfg.Port), config)
	if err != nil {
		conn.Close()
		return providererr.Wrap(providererr.AuthenticationFailed, "sftp", "ssh handshake failed", err)
	}
	sshC := ssh.NewClient(sshConn, chans, reqs)

	client, err := sftp.NewClient(sshC)
	if err != nil {
		sshC.Close()
		return providererr.Wrap(providererr.ConnectionFailed, "sftp", "sftp subsystem init failed", err)
	}

	p.sshC = sshC
	p.client = client
	p.cwd = "/"
	return nil
}

func (p *Provider) Disconnect(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.client == nil {
		return nil
	}
	cerr := p.client.Close()
	serr := p.sshC.Close()
	p.client = nil
	p.sshC = nil
	if cerr != nil {
		return providererr.Wrap(providererr.IoError, "sftp", "close sftp client", cerr)
	}
	if serr != nil {
		return providererr.Wrap(providererr.IoError, "sftp", "close ssh connection", serr)
	}
	return nil
}

func (p *Provider) IsConnected() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.client != nil
}

func (p *Provider) KeepAlive(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.sshC == nil {
		return providererr.New(providererr.NotConnected, "sftp", "not connected")
	}
	_, _, err := p.sshC.SendRequest("keepalive@aerocore", true, nil)
	if err != nil {
		return providererr.Wrap(providererr.ConnectionFailed, "sftp", "keepalive failed", err)
	}
	return nil
}

func (p *Provider) ServerInfo(ctx context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.sshC == nil {
		return "", providererr.New(providererr.NotConnected, "sftp", "not connected")
	}
	return string(p.sshC.ServerVersion()), nil
}

func (p *Provider) AccountEmail(ctx context.Context) (string, error) {
	return "", providererr.New(providererr.NotSupported, "sftp", "SFTP has no account identity concept")
}

func (p *Provider) List(ctx context.Context, path string) ([]provider.RemoteEntry, error) {
	norm, err := pathutil.Normalize(path)
	if err != nil {
		return nil, providererr.Wrap(providererr.InvalidPath, "sftp", "invalid path", err)
	}
	p.mu.Lock()
	client := p.client
	p.mu.Unlock()
	if client == nil {
		return nil, providererr.New(providererr.NotConnected, "sftp", "not connected")
	}

	infos, err := client.ReadDir(norm)
	if err != nil {
		return nil, providererr.Wrap(providererr.NotFound, "sftp", "readdir failed", err)
	}
	out := make([]provider.RemoteEntry, 0, len(infos))
	for _, fi := range infos {
		childPath, _ := pathutil.Join(norm, fi.Name())
		entry := provider.RemoteEntry{
			Path:    childPath,
			Name:    fi.Name(),
			IsDir:   fi.IsDir(),
			Size:    fi.Size(),
			ModTime: fi.ModTime(),
		}
		if fi.Mode()&os.ModeSymlink != 0 {
			entry.IsSymlink = true
			if target, lerr := client.ReadLink(childPath); lerr == nil {
				entry.LinkTarget = target
			}
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
		return providererr.Wrap(providererr.InvalidPath, "sftp", "invalid path", err)
	}
	p.mu.Lock()
	client := p.client
	p.mu.Unlock()
	if client == nil {
		return providererr.New(providererr.NotConnected, "sftp", "not connected")
	}
	fi, err := client.Stat(norm)
	if err != nil {
		return providererr.Wrap(providererr.NotFound, "sftp", "stat failed", err)
	}
	if !fi.IsDir() {
		return providererr.New(providererr.InvalidPath, "sftp", norm+" is not a directory")
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
		return provider.RemoteEntry{}, providererr.Wrap(providererr.InvalidPath, "sftp", "invalid path", err)
	}
	p.mu.Lock()
	client := p.client
	p.mu.Unlock()
	if client == nil {
		return provider.RemoteEntry{}, providererr.New(providererr.NotConnected, "sftp", "not connected")
	}
	fi, err := client.Stat(norm)
	if err != nil {
		return provider.RemoteEntry{}, providererr.Wrap(providererr.NotFound, "sftp", "stat failed", err)
	}
	return provider.RemoteEntry{
		Path:    norm,
		Name:    pathutil.Base(norm),
		IsDir:   fi.IsDir(),
		Size:    fi.Size(),
		ModTime: fi.ModTime(),
	}, nil
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
		return providererr.Wrap(providererr.InvalidPath, "sftp", "invalid path", err)
	}
	p.mu.Lock()
	client := p.client
	p.mu.Unlock()
	if client == nil {
		return providererr.New(providererr.NotConnected, "sftp", "not connected")
	}

	rf, err := client.Open(norm)
	if err != nil {
		return providererr.Wrap(providererr.NotFound, "sftp", "open remote file failed", err)
	}
	defer rf.Close()

	var total int64
	if fi, serr := rf.Stat(); serr == nil {
		total = fi.Size()
	}

	lf, err := os.Create(local)
	if err != nil {
		return providererr.Wrap(providererr.IoError, "sftp", "create local file", err)
	}
	defer lf.Close()

	return copyWithProgress(ctx, lf, rf, total, progress)
}

func (p *Provider) DownloadToBytes(ctx context.Context, remote string, maxBytes int64) ([]byte, error) {
	norm, err := pathutil.Normalize(remote)
	if err != nil {
		return nil, providererr.Wrap(providererr.InvalidPath, "sftp", "invalid path", err)
	}
	if maxBytes <= 0 {
		maxBytes = pathutil.DefaultDownloadCap
	}
	p.mu.Lock()
	client := p.client
	p.mu.Unlock()
	if client == nil {
		return nil, providererr.New(providererr.NotConnected, "sftp", "not connected")
	}

	rf, err := client.Open(norm)
	if err != nil {
		return nil, providererr.Wrap(providererr.NotFound, "sftp", "open remote file failed", err)
	}
	defer rf.Close()

	data, err := pathutil.ReadWithLimit(rf, maxBytes)
	if err != nil {
		if pathutil.IsCapExceeded(err) {
			return nil, providererr.Wrap(providererr.TransferFailed, "sftp", "download exceeded byte cap", err)
		}
		return nil, providererr.Wrap(providererr.IoError, "sftp", "read failed", err)
	}
	return data, nil
}

func (p *Provider) Upload(ctx context.Context, local, remote string, progress provider.ProgressFunc) error {
	norm, err := pathutil.Normalize(remote)
	if err != nil {
		return providererr.Wrap(providererr.InvalidPath, "sftp", "invalid path", err)
	}
	lf, err := os.Open(local)
	if err != nil {
		return providererr.Wrap(providererr.IoError, "sftp", "open local file", err)
	}
	defer lf.Close()

	info, _ := lf.Stat()
	var total int64
	if info != nil {
		total = info.Size()
	}

	p.mu.Lock()
	client := p.client
	p.mu.Unlock()
	if client == nil {
		return providererr.New(providererr.NotConnected, "sftp", "not connected")
	}

	rf, err := client.Create(norm)
	if err != nil {
		return providererr.Wrap(providererr.TransferFailed, "sftp", "create remote file failed", err)
	}
	defer rf.Close()

	return copyWithProgress(ctx, rf, lf, total, progress)
}

func (p *Provider) Mkdir(ctx context.Context, path string) error {
	norm, err := pathutil.Normalize(path)
	if err != nil {
		return providererr.Wrap(providererr.InvalidPath, "sftp", "invalid path", err)
	}
	p.mu.Lock()
	client := p.client
	p.mu.Unlock()
	if client == nil {
		return providererr.New(providererr.NotConnected, "sftp", "not connected")
	}
	if err := client.Mkdir(norm); err != nil {
		return providererr.Wrap(providererr.IoError, "sftp", "mkdir failed", err)
	}
	return nil
}

func (p *Provider) Delete(ctx context.Context, path string) error {
	norm, err := pathutil.Normalize(path)
	if err != nil {
		return providererr.Wrap(providererr.InvalidPath, "sftp", "invalid path", err)
	}
	p.mu.Lock()
	client := p.client
	p.mu.Unlock()
	if client == nil {
		return providererr.New(providererr.NotConnected, "sftp", "not connected")
	}
	if err := client.Remove(norm); err != nil {
		return providererr.Wrap(providererr.NotFound, "sftp", "remove failed", err)
	}
	return nil
}

func (p *Provider) Rmdir(ctx context.Context, path string) error {
	norm, err := pathutil.Normalize(path)
	if err != nil {
		return providererr.Wrap(providererr.InvalidPath, "sftp", "invalid path", err)
	}
	p.mu.Lock()
	client := p.client
	p.mu.Unlock()
	if client == nil {
		return providererr.New(providererr.NotConnected, "sftp", "not connected")
	}
	if err := client.RemoveDirectory(norm); err != nil {
		return providererr.Wrap(providererr.NotFound, "sftp", "rmdir failed", err)
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
		return providererr.Wrap(providererr.InvalidPath, "sftp", "invalid from path", err)
	}
	normTo, err := pathutil.Normalize(to)
	if err != nil {
		return providererr.Wrap(providererr.InvalidPath, "sftp", "invalid to path", err)
	}
	p.mu.Lock()
	client := p.client
	p.mu.Unlock()
	if client == nil {
		return providererr.New(providererr.NotConnected, "sftp", "not connected")
	}
	if err := client.Rename(normFrom, normTo); err != nil {
		return providererr.Wrap(providererr.IoError, "sftp", "rename failed", err)
	}
	return nil
}

func copyWithProgress(ctx context.Context, dst io.Writer, src io.Reader, total int64, progress provider.ProgressFunc) error {
	buf := make([]byte, 32*1024)
	var written int64
	for {
		if err := ctx.Err(); err != nil {
			return providererr.Wrap(providererr.TransferFailed, "sftp", "transfer cancelled", err)
		}
		n, rerr := src.Read(buf)
		if n > 0 {
			if _, werr := dst.Write(buf[:n]); werr != nil {
				return providererr.Wrap(providererr.IoError, "sftp", "write failed", werr)
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
			return providererr.Wrap(providererr.IoError, "sftp", "read failed", rerr)
		}
	}
}
