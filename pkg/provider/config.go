package provider

// ProviderConfig is a discriminated union over every connection-input shape
// named in the external interfaces: exactly one of the embedded pointers is
// non-nil. Credential fields within each shape are expected to be backed by
// credstore.Secret at the call site that constructs these; ProviderConfig
// itself just carries plain strings since it is assembled right before
// Connect and is not persisted as-is.
type ProviderConfig struct {
	FTP        *FTPConfig
	SFTP       *SFTPConfig
	WebDAV     *WebDAVConfig
	S3         *S3Config
	GDrive     *OAuthConfig
	Zoho       *ZohoConfig
	Jottacloud *JottacloudConfig
	KDrive     *KDriveConfig
	Internxt   *InternxtConfig
}

// Kind reports which variant is populated, or "" if none/more than one.
func (c ProviderConfig) Kind() string {
	set := 0
	kind := ""
	check := func(ok bool, name string) {
		if ok {
			set++
			kind = name
		}
	}
	check(c.FTP != nil, "ftp")
	check(c.SFTP != nil, "sftp")
	check(c.WebDAV != nil, "webdav")
	check(c.S3 != nil, "s3")
	check(c.GDrive != nil, "gdrive")
	check(c.Zoho != nil, "zoho")
	check(c.Jottacloud != nil, "jottacloud")
	check(c.KDrive != nil, "kdrive")
	check(c.Internxt != nil, "internxt")
	if set != 1 {
		return ""
	}
	return kind
}

// FTPConfig covers both FTP and implicit/explicit FTPS.
type FTPConfig struct {
	Host       string
	Port       int
	Username   string
	Password   string
	Passive    bool
	ExplicitTLS bool
}

// SFTPConfig configures an SSH-backed SFTP connection.
type SFTPConfig struct {
	Host           string
	Port           int
	Username       string
	Password       string // empty if using a key
	PrivateKeyPEM  []byte
	Passphrase     string
	HostKeyPin     string // optional pinned host key fingerprint; TOFU if empty
	KnownHostsPath string
}

// WebDAVConfig configures a generic WebDAV server.
type WebDAVConfig struct {
	URL      string
	Username string
	Password string
}

// S3Config configures an S3-compatible bucket.
type S3Config struct {
	Endpoint  string
	Region    string
	AccessKey string
	SecretKey string
	Bucket    string
}

// OAuthConfig covers OAuth2-driven providers (Google Drive and the base
// shape Zoho/Jottacloud extend).
type OAuthConfig struct {
	ClientID     string
	ClientSecret string
	ProviderTag  string
}

// ZohoConfig extends OAuthConfig with WorkDrive's region routing.
type ZohoConfig struct {
	OAuthConfig
	Region string // "us", "eu", "in", "au", "jp", "uk", "ca", "sa", "cn", "ae"
}

// JottacloudConfig drives the personal-login-token + OIDC exchange.
type JottacloudConfig struct {
	PersonalLoginToken string
	Username           string
	Device             string
	Mountpoint         string
}

// KDriveConfig configures an Infomaniak kDrive.
type KDriveConfig struct {
	APIToken string
	DriveID  string
}

// InternxtConfig drives the zero-knowledge login handshake.
type InternxtConfig struct {
	Email       string
	Password    string
	TwoFactorOTP string
}
