// Package provider defines the StorageProvider capability every concrete
// backend (FTP, SFTP, WebDAV, S3, Google Drive, Zoho, Jottacloud, kDrive,
// Internxt) implements, plus the shared RemoteEntry/ProviderConfig/
// StorageInfo value types and the directory-ID cache used by providers
// that list by parent ID rather than by path.
package provider

import (
	"context"
	"io"
	"time"
)

// ProgressFunc receives (transferred, total) during a transfer. total may be
// 0 when the size is unknown ahead of time (e.g. a chunked upload source).
type ProgressFunc func(transferred, total int64)

// RemoteEntry describes one file or directory as reported by a provider's
// list/stat call. Name is never empty; Path always begins with "/"; Size is
// 0 when IsDir is true. Permissions/Owner/Group/MimeType are populated only
// where the underlying protocol exposes them.
type RemoteEntry struct {
	Path        string
	Name        string
	IsDir       bool
	Size        int64
	ModTime     time.Time
	Permissions string
	Owner       string
	Group       string
	IsSymlink   bool
	LinkTarget  string
	MimeType    string

	ProviderMeta map[string]string // provider-specific extras (e.g. Drive file ID, ETag, MD5)
}

// StorageInfo reports quota usage where a provider supports it.
type StorageInfo struct {
	UsedBytes  int64
	TotalBytes int64 // 0 when unlimited/unknown
}

// FileVersion describes one historical version of a file, for providers
// that support versioning.
type FileVersion struct {
	ID         string
	ModTime    time.Time
	Size       int64
	ModifiedBy string // display name of the last editor, where the API reports one
	IsLatest   bool
}

// SharePermission configures a created share link.
type SharePermission struct {
	ReadOnly  bool
	ExpiresAt *time.Time
}

// ShareLink is the result of creating a share.
type ShareLink struct {
	URL       string
	ID        string
	ExpiresAt *time.Time
}

// ChangeEntry is one entry in a provider's change feed.
type ChangeEntry struct {
	Path    string
	Removed bool
	Entry   *RemoteEntry
}

// StorageProvider is the capability every concrete backend implements.
// Implementations must serialize their own wire access: a StorageProvider
// instance sits behind an exclusive lock at the call site (see session.Manager
// and bulk.Engine), so methods here do not need to be independently
// goroutine-safe against each other, only safe to call from one goroutine
// at a time.
type StorageProvider interface {
	// Lifecycle
	Connect(ctx context.Context) error
	Disconnect(ctx context.Context) error // idempotent
	IsConnected() bool
	KeepAlive(ctx context.Context) error
	ServerInfo(ctx context.Context) (string, error)
	AccountEmail(ctx context.Context) (string, error)

	// Navigation & listing
	List(ctx context.Context, path string) ([]RemoteEntry, error)
	Pwd() string
	Cd(ctx context.Context, path string) error
	CdUp(ctx context.Context) error
	Stat(ctx context.Context, path string) (RemoteEntry, error)
	Size(ctx context.Context, path string) (int64, error)
	Exists(ctx context.Context, path string) (bool, error)

	// Transfer
	Download(ctx context.Context, remote, local string, progress ProgressFunc) error
	DownloadToBytes(ctx context.Context, remote string, maxBytes int64) ([]byte, error)
	Upload(ctx context.Context, local, remote string, progress ProgressFunc) error

	// Mutations
	Mkdir(ctx context.Context, path string) error
	Delete(ctx context.Context, path string) error
	Rmdir(ctx context.Context, path string) error
	RmdirRecursive(ctx context.Context, path string) error
	Rename(ctx context.Context, from, to string) error
}

// OptionalCapabilities is implemented by providers supporting any of the
// gated optional operations. A provider that does not support a given
// capability simply does not implement the corresponding narrow interface
// below (or returns providererr.NotSupported); callers type-assert.
type OptionalCapabilities interface {
	SupportsServerSideCopy() bool
	SupportsShareLinks() bool
	SupportsSearch() bool
	SupportsStorageInfo() bool
	SupportsVersions() bool
	SupportsLocking() bool
	SupportsThumbnails() bool
	SupportsPermissions() bool
	SupportsChangeFeed() bool
	SupportsResumable() bool
}

// ServerSideCopier is implemented by providers with a native copy operation.
type ServerSideCopier interface {
	Copy(ctx context.Context, from, to string) error
}

// Sharer is implemented by providers that can mint and revoke share links.
type Sharer interface {
	CreateShareLink(ctx context.Context, path string, perm SharePermission) (ShareLink, error)
	RemoveShareLink(ctx context.Context, id string) error
}

// Searcher is implemented by providers with a native find/search endpoint.
type Searcher interface {
	Find(ctx context.Context, path, pattern string) ([]RemoteEntry, error)
}

// QuotaReporter is implemented by providers that can report storage usage.
type QuotaReporter interface {
	StorageInfoOf(ctx context.Context) (StorageInfo, error)
}

// Versioner is implemented by providers with file version history.
type Versioner interface {
	ListVersions(ctx context.Context, path string) ([]FileVersion, error)
	DownloadVersion(ctx context.Context, path, versionID string, w io.Writer) error
	RestoreVersion(ctx context.Context, path, versionID string) error
}

// ChangeFeed is implemented by providers with a change/delta feed.
type ChangeFeed interface {
	GetChangeToken(ctx context.Context) (string, error)
	ListChanges(ctx context.Context, token string) (changes []ChangeEntry, nextToken string, err error)
}
