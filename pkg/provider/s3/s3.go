// Package s3 implements the StorageProvider capability over an S3-compatible
// bucket using aws-sdk-go-v2. The connection is stateless HTTP; Cd is purely
// a local cursor. Directories are simulated as key prefixes: Mkdir writes a
// zero-byte marker object ending in "/", Rename is copy-then-delete, and
// RmdirRecursive is a paged list-then-batch-delete over the prefix.
package s3

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awssdkconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	awsconfig "github.com/scttfrdmn/cargoship/pkg/aws/config"
	cargoships3 "github.com/scttfrdmn/cargoship/pkg/aws/s3"

	"github.com/aeroftp/aerocore/pkg/pathutil"
	"github.com/aeroftp/aerocore/pkg/provider"
	"github.com/aeroftp/aerocore/pkg/providererr"
)

func init() {
	provider.Register("s3", func(cfg provider.ProviderConfig) (provider.StorageProvider, error) {
		return New(*cfg.S3), nil
	})
}

// deleteBatchSize is S3's DeleteObjects limit per request.
const deleteBatchSize = 1000

// Provider is a StorageProvider backed by an S3-compatible bucket.
type Provider struct {
	cfg provider.S3Config

	mu          sync.Mutex
	client      *s3.Client
	connected   bool
	cwd         string
	transporter *cargoships3.Transporter
	logger      *slog.Logger
}

// New builds an unconnected S3 provider from cfg.
func New(cfg provider.S3Config) *Provider {
	return &Provider{cfg: cfg, cwd: "/", logger: slog.Default().With("component", "s3-provider", "bucket", cfg.Bucket)}
}

func (p *Provider) key(path string) string {
	if path == "/" {
		return ""
	}
	return strings.TrimPrefix(path, "/")
}

func (p *Provider) Connect(ctx context.Context) error {
	awsCfg, err := awssdkconfig.LoadDefaultConfig(ctx,
		awssdkconfig.WithRegion(p.cfg.Region),
		awssdkconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(p.cfg.AccessKey, p.cfg.SecretKey, "")),
	)
	if err != nil {
		return providererr.Wrap(providererr.ConnectionFailed, "s3", "load AWS config", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if p.cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(p.cfg.Endpoint)
			o.UsePathStyle = true
		}
	})

	transporter := cargoships3.NewTransporter(client, awsconfig.S3Config{
		Bucket:             p.cfg.Bucket,
		StorageClass:       awsconfig.StorageClassStandard,
		MultipartThreshold: 32 * 1024 * 1024,
		MultipartChunkSize: 16 * 1024 * 1024,
		Concurrency:        4,
	})

	connectCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	_, err = client.HeadBucket(connectCtx, &s3.HeadBucketInput{Bucket: aws.String(p.cfg.Bucket)})
	if err != nil {
		return providererr.Wrap(providererr.ConnectionFailed, "s3", "HeadBucket failed", err)
	}

	p.mu.Lock()
	p.client = client
	p.transporter = transporter
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
		return providererr.New(providererr.NotConnected, "s3", "not connected")
	}
	return nil
}

func (p *Provider) ServerInfo(ctx context.Context) (string, error) {
	return fmt.Sprintf("s3:%s", p.cfg.Bucket), nil
}

func (p *Provider) AccountEmail(ctx context.Context) (string, error) {
	return "", providererr.New(providererr.NotSupported, "s3", "S3 credentials carry no account email")
}

func (p *Provider) client_() (*s3.Client, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.connected {
		return nil, providererr.New(providererr.NotConnected, "s3", "not connected")
	}
	return p.client, nil
}

func (p *Provider) translateErr(err error, op, key string) error {
	var nf *s3types.NoSuchKey
	if asType(err, &nf) {
		return providererr.Wrap(providererr.NotFound, "s3", "no such key "+key, err)
	}
	var nb *s3types.NoSuchBucket
	if asType(err, &nb) {
		return providererr.Wrap(providererr.NotFound, "s3", "no such bucket", err)
	}
	return providererr.Wrap(providererr.ServerError, "s3", op+" failed for "+key, err)
}

func asType[T error](err error, target *T) bool {
	type unwrapper interface{ Unwrap() error }
	for err != nil {
		if t, ok := err.(T); ok {
			*target = t
			return true
		}
		u, ok := err.(unwrapper)
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}

func (p *Provider) List(ctx context.Context, path string) ([]provider.RemoteEntry, error) {
	norm, err := pathutil.Normalize(path)
	if err != nil {
		return nil, providererr.Wrap(providererr.InvalidPath, "s3", "invalid path", err)
	}
	client, err := p.client_()
	if err != nil {
		return nil, err
	}

	prefix := p.key(norm)
	if prefix != "" {
		prefix += "/"
	}

	out := make([]provider.RemoteEntry, 0, 32)
	var token *string
	for {
		resp, err := client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
			Bucket:            aws.String(p.cfg.Bucket),
			Prefix:            aws.String(prefix),
			Delimiter:         aws.String("/"),
			ContinuationToken: token,
		})
		if err != nil {
			return nil, p.translateErr(err, "ListObjectsV2", prefix)
		}
		for _, cp := range resp.CommonPrefixes {
			name := strings.TrimSuffix(strings.TrimPrefix(aws.ToString(cp.Prefix), prefix), "/")
			if name == "" {
				continue
			}
			out = append(out, provider.RemoteEntry{
				Path:  pathutil.MustNormalize(norm + "/" + name),
				Name:  name,
				IsDir: true,
			})
		}
		for _, obj := range resp.Contents {
			k := aws.ToString(obj.Key)
			if k == prefix {
				continue // zero-byte directory marker for this level
			}
			name := strings.TrimPrefix(k, prefix)
			if name == "" || strings.Contains(name, "/") {
				continue
			}
			out = append(out, provider.RemoteEntry{
				Path:         pathutil.MustNormalize(norm + "/" + name),
				Name:         name,
				IsDir:        false,
				Size:         aws.ToInt64(obj.Size),
				ModTime:      aws.ToTime(obj.LastModified),
				ProviderMeta: map[string]string{"etag": strings.Trim(aws.ToString(obj.ETag), `"`)},
			})
		}
		if !aws.ToBool(resp.IsTruncated) {
			break
		}
		token = resp.NextContinuationToken
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
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
		return providererr.Wrap(providererr.InvalidPath, "s3", "invalid path", err)
	}
	if norm != "/" {
		e, err := p.Stat(ctx, norm)
		if err != nil {
			return err
		}
		if !e.IsDir {
			return providererr.New(providererr.InvalidPath, "s3", norm+" is not a directory")
		}
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
		return provider.RemoteEntry{}, providererr.Wrap(providererr.InvalidPath, "s3", "invalid path", err)
	}
	if norm == "/" {
		return provider.RemoteEntry{Path: "/", Name: "/", IsDir: true}, nil
	}
	client, err := p.client_()
	if err != nil {
		return provider.RemoteEntry{}, err
	}
	k := p.key(norm)
	head, err := client.HeadObject(ctx, &s3.HeadObjectInput{Bucket: aws.String(p.cfg.Bucket), Key: aws.String(k)})
	if err == nil {
		return provider.RemoteEntry{
			Path:    norm,
			Name:    pathutil.Base(norm),
			IsDir:   strings.HasSuffix(k, "/"),
			Size:    aws.ToInt64(head.ContentLength),
			ModTime: aws.ToTime(head.LastModified),
		}, nil
	}
	// Not a plain object; check whether it is a directory prefix.
	entries, lerr := p.List(ctx, pathutil.Dir(norm))
	if lerr != nil {
		return provider.RemoteEntry{}, p.translateErr(err, "HeadObject", k)
	}
	for _, e := range entries {
		if e.Path == norm {
			return e, nil
		}
	}
	return provider.RemoteEntry{}, providererr.New(providererr.NotFound, "s3", "no such path "+norm)
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
		return providererr.Wrap(providererr.InvalidPath, "s3", "invalid path", err)
	}
	client, err := p.client_()
	if err != nil {
		return err
	}
	resp, err := client.GetObject(ctx, &s3.GetObjectInput{Bucket: aws.String(p.cfg.Bucket), Key: aws.String(p.key(norm))})
	if err != nil {
		return p.translateErr(err, "GetObject", p.key(norm))
	}
	defer resp.Body.Close()

	f, err := os.Create(local)
	if err != nil {
		return providererr.Wrap(providererr.IoError, "s3", "create local file", err)
	}
	defer f.Close()

	total := aws.ToInt64(resp.ContentLength)
	return copyWithProgress(ctx, f, resp.Body, total, progress)
}

func (p *Provider) DownloadToBytes(ctx context.Context, remote string, maxBytes int64) ([]byte, error) {
	norm, err := pathutil.Normalize(remote)
	if err != nil {
		return nil, providererr.Wrap(providererr.InvalidPath, "s3", "invalid path", err)
	}
	if maxBytes <= 0 {
		maxBytes = pathutil.DefaultDownloadCap
	}
	client, err := p.client_()
	if err != nil {
		return nil, err
	}
	resp, err := client.GetObject(ctx, &s3.GetObjectInput{Bucket: aws.String(p.cfg.Bucket), Key: aws.String(p.key(norm))})
	if err != nil {
		return nil, p.translateErr(err, "GetObject", p.key(norm))
	}
	defer resp.Body.Close()
	data, err := pathutil.ReadWithLimit(resp.Body, maxBytes)
	if err != nil {
		if pathutil.IsCapExceeded(err) {
			return nil, providererr.Wrap(providererr.TransferFailed, "s3", "download exceeded byte cap", err)
		}
		return nil, providererr.Wrap(providererr.IoError, "s3", "read failed", err)
	}
	return data, nil
}

// Upload prefers the CargoShip-optimized transporter and falls back to a
// plain PutObject if that fails, the way the cargoship transporter
// attempts optimized uploads first.
func (p *Provider) Upload(ctx context.Context, local, remote string, progress provider.ProgressFunc) error {
	norm, err := pathutil.Normalize(remote)
	if err != nil {
		return providererr.Wrap(providererr.InvalidPath, "s3", "invalid path", err)
	}
	f, err := os.Open(local)
	if err != nil {
		return providererr.Wrap(providererr.IoError, "s3", "open local file", err)
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return providererr.Wrap(providererr.IoError, "s3", "stat local file", err)
	}

	p.mu.Lock()
	connected := p.connected
	client := p.client
	transporter := p.transporter
	p.mu.Unlock()
	if !connected {
		return providererr.New(providererr.NotConnected, "s3", "not connected")
	}

	key := p.key(norm)
	if transporter != nil {
		result, uerr := transporter.Upload(ctx, cargoships3.Archive{
			Key:          key,
			Reader:       f,
			Size:         info.Size(),
			StorageClass: awsconfig.StorageClassStandard,
		})
		if uerr == nil {
			if progress != nil {
				progress(info.Size(), info.Size())
			}
			_ = result
			return nil
		}
		p.logger.Warn("cargoship optimized upload failed, falling back to PutObject", "key", key, "error", uerr)
		if _, serr := f.Seek(0, io.SeekStart); serr != nil {
			return providererr.Wrap(providererr.IoError, "s3", "rewind local file", serr)
		}
	}

	var body io.Reader = f
	if progress != nil {
		body = &progressReader{r: f, total: info.Size(), progress: progress}
	}
	_, err = client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(p.cfg.Bucket),
		Key:           aws.String(key),
		Body:          body,
		ContentLength: aws.Int64(info.Size()),
	})
	if err != nil {
		return p.translateErr(err, "PutObject", key)
	}
	return nil
}

func (p *Provider) Mkdir(ctx context.Context, path string) error {
	norm, err := pathutil.Normalize(path)
	if err != nil {
		return providererr.Wrap(providererr.InvalidPath, "s3", "invalid path", err)
	}
	client, err := p.client_()
	if err != nil {
		return err
	}
	key := p.key(norm) + "/"
	_, err = client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(p.cfg.Bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(nil),
		ContentLength: aws.Int64(0),
	})
	if err != nil {
		return p.translateErr(err, "PutObject", key)
	}
	return nil
}

func (p *Provider) Delete(ctx context.Context, path string) error {
	norm, err := pathutil.Normalize(path)
	if err != nil {
		return providererr.Wrap(providererr.InvalidPath, "s3", "invalid path", err)
	}
	client, err := p.client_()
	if err != nil {
		return err
	}
	key := p.key(norm)
	_, err = client.DeleteObject(ctx, &s3.DeleteObjectInput{Bucket: aws.String(p.cfg.Bucket), Key: aws.String(key)})
	if err != nil {
		return p.translateErr(err, "DeleteObject", key)
	}
	return nil
}

func (p *Provider) Rmdir(ctx context.Context, path string) error {
	norm, err := pathutil.Normalize(path)
	if err != nil {
		return providererr.Wrap(providererr.InvalidPath, "s3", "invalid path", err)
	}
	client, err := p.client_()
	if err != nil {
		return err
	}
	key := p.key(norm) + "/"
	_, err = client.DeleteObject(ctx, &s3.DeleteObjectInput{Bucket: aws.String(p.cfg.Bucket), Key: aws.String(key)})
	if err != nil {
		return p.translateErr(err, "DeleteObject", key)
	}
	return nil
}

// RmdirRecursive pages through every object under the prefix and deletes it
// in batches of up to 1000 keys, the DeleteObjects limit.
func (p *Provider) RmdirRecursive(ctx context.Context, path string) error {
	norm, err := pathutil.Normalize(path)
	if err != nil {
		return providererr.Wrap(providererr.InvalidPath, "s3", "invalid path", err)
	}
	client, err := p.client_()
	if err != nil {
		return err
	}
	prefix := p.key(norm)
	if prefix != "" {
		prefix += "/"
	}

	var batch []s3types.ObjectIdentifier
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		_, err := client.DeleteObjects(ctx, &s3.DeleteObjectsInput{
			Bucket: aws.String(p.cfg.Bucket),
			Delete: &s3types.Delete{Objects: batch, Quiet: aws.Bool(true)},
		})
		batch = batch[:0]
		if err != nil {
			return p.translateErr(err, "DeleteObjects", prefix)
		}
		return nil
	}

	var token *string
	for {
		resp, err := client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
			Bucket:            aws.String(p.cfg.Bucket),
			Prefix:            aws.String(prefix),
			ContinuationToken: token,
		})
		if err != nil {
			if providererr.Matches(p.translateErr(err, "ListObjectsV2", prefix), providererr.NotFound) {
				return nil // absorb: already gone
			}
			return p.translateErr(err, "ListObjectsV2", prefix)
		}
		for _, obj := range resp.Contents {
			batch = append(batch, s3types.ObjectIdentifier{Key: obj.Key})
			if len(batch) == deleteBatchSize {
				if err := flush(); err != nil {
					return err
				}
			}
		}
		if !aws.ToBool(resp.IsTruncated) {
			break
		}
		token = resp.NextContinuationToken
	}
	return flush()
}

// Rename is copy-then-delete: S3 has no native rename.
func (p *Provider) Rename(ctx context.Context, from, to string) error {
	normFrom, err := pathutil.Normalize(from)
	if err != nil {
		return providererr.Wrap(providererr.InvalidPath, "s3", "invalid from path", err)
	}
	normTo, err := pathutil.Normalize(to)
	if err != nil {
		return providererr.Wrap(providererr.InvalidPath, "s3", "invalid to path", err)
	}
	if err := p.Copy(ctx, normFrom, normTo); err != nil {
		return err
	}
	return p.Delete(ctx, normFrom)
}

// Copy is the provider.ServerSideCopier implementation: S3's CopyObject
// never streams content through the client.
func (p *Provider) Copy(ctx context.Context, from, to string) error {
	normFrom, err := pathutil.Normalize(from)
	if err != nil {
		return providererr.Wrap(providererr.InvalidPath, "s3", "invalid from path", err)
	}
	normTo, err := pathutil.Normalize(to)
	if err != nil {
		return providererr.Wrap(providererr.InvalidPath, "s3", "invalid to path", err)
	}
	client, err := p.client_()
	if err != nil {
		return err
	}
	src := p.cfg.Bucket + "/" + p.key(normFrom)
	_, err = client.CopyObject(ctx, &s3.CopyObjectInput{
		Bucket:     aws.String(p.cfg.Bucket),
		Key:        aws.String(p.key(normTo)),
		CopySource: aws.String(src),
	})
	if err != nil {
		return p.translateErr(err, "CopyObject", src)
	}
	return nil
}

func (p *Provider) SupportsServerSideCopy() bool { return true }
func (p *Provider) SupportsShareLinks() bool      { return false }
func (p *Provider) SupportsSearch() bool          { return false }
func (p *Provider) SupportsStorageInfo() bool     { return false }
func (p *Provider) SupportsVersions() bool        { return false }
func (p *Provider) SupportsLocking() bool         { return false }
func (p *Provider) SupportsThumbnails() bool      { return false }
func (p *Provider) SupportsPermissions() bool     { return false }
func (p *Provider) SupportsChangeFeed() bool      { return false }
func (p *Provider) SupportsResumable() bool       { return false }

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
			return providererr.Wrap(providererr.TransferFailed, "s3", "transfer cancelled", err)
		}
		n, rerr := src.Read(buf)
		if n > 0 {
			if _, werr := dst.Write(buf[:n]); werr != nil {
				return providererr.Wrap(providererr.IoError, "s3", "local write failed", werr)
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
			return providererr.Wrap(providererr.IoError, "s3", "read failed", rerr)
		}
	}
}
