package jottacloud

import (
	"crypto/md5"
	"encoding/base64"
	"encoding/json"
	"encoding/xml"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeLoginToken(t *testing.T) {
	raw, _ := json.Marshal(map[string]string{
		"username":      "jotta-user",
		"auth_token":    "tok-abc",
		"wellKnownLink": "https://id.jottacloud.com/auth/realms/jottacloud/.well-known/openid-configuration",
	})
	encoded := base64.StdEncoding.EncodeToString(raw)

	tok, err := decodeLoginToken(encoded)
	require.NoError(t, err)
	assert.Equal(t, "jotta-user", tok.Username)
	assert.Equal(t, "tok-abc", tok.AuthToken)
	assert.Contains(t, tok.WellKnownLink, ".well-known")
}

func TestDecodeLoginTokenRejectsGarbage(t *testing.T) {
	_, err := decodeLoginToken("%%%not-base64%%%")
	assert.Error(t, err)
}

func TestParseJottaTimeDashBeforeT(t *testing.T) {
	// JFS timestamps carry an extra dash before the T.
	got := parseJottaTime("2024-03-01-T12:30:45Z")
	require.False(t, got.IsZero())
	assert.Equal(t, 2024, got.Year())
	assert.Equal(t, time.March, got.Month())
	assert.Equal(t, 12, got.Hour())

	assert.True(t, parseJottaTime("garbage").IsZero())
	assert.True(t, parseJottaTime("").IsZero())
}

func TestUploadTimestampFormat(t *testing.T) {
	// The header format writes the same extra dash parseJottaTime reads.
	stamp := time.Date(2024, 3, 1, 12, 30, 45, 0, time.UTC).Format("2006-01-02-T15:04:05Z")
	assert.Equal(t, "2024-03-01-T12:30:45Z", stamp)
	assert.Equal(t, stamp, parseJottaTime(stamp).Format("2006-01-02-T15:04:05Z"))
}

func TestUploadMd5HeaderValue(t *testing.T) {
	// A 3-byte "hi\n" body must produce this exact JMd5 value.
	sum := fmt.Sprintf("%x", md5.Sum([]byte("hi\n")))
	assert.Equal(t, "764efa883dda1e11db47671c4a3bbd9e", sum)
}

const sampleListing = `<?xml version="1.0" encoding="UTF-8"?>
<folder name="docs">
  <folders>
    <folder name="reports"/>
    <folder name="old" deleted="2023-01-01-T00:00:00Z"/>
  </folders>
  <files>
    <file name="a.txt">
      <currentRevision>
        <size>42</size>
        <mime>text/plain</mime>
        <md5>0123456789abcdef0123456789abcdef</md5>
        <state>COMPLETED</state>
        <modified>2024-03-01-T12:30:45Z</modified>
      </currentRevision>
    </file>
    <file name="partial.bin">
      <currentRevision>
        <size>7</size>
        <state>INCOMPLETE</state>
      </currentRevision>
    </file>
  </files>
</folder>`

func TestXMLFolderToEntries(t *testing.T) {
	var listing xmlListing
	require.NoError(t, xml.Unmarshal([]byte(sampleListing), &listing))

	entries := xmlFolderToEntries(listing.Folders, listing.Files, "/docs")

	// Deleted folders and incomplete revisions are filtered out.
	require.Len(t, entries, 2)

	assert.Equal(t, "reports", entries[0].Name)
	assert.True(t, entries[0].IsDir)
	assert.Equal(t, "/docs/reports", entries[0].Path)

	assert.Equal(t, "a.txt", entries[1].Name)
	assert.False(t, entries[1].IsDir)
	assert.Equal(t, int64(42), entries[1].Size)
	assert.Equal(t, "text/plain", entries[1].MimeType)
	assert.Equal(t, "0123456789abcdef0123456789abcdef", entries[1].ProviderMeta["md5"])
	assert.Equal(t, 2024, entries[1].ModTime.Year())
}

func TestJoinPath(t *testing.T) {
	assert.Equal(t, "/a", joinPath("/", "a"))
	assert.Equal(t, "/a", joinPath("", "a"))
	assert.Equal(t, "/a/b", joinPath("/a", "b"))
	assert.Equal(t, "/a/b", joinPath("/a/", "b"))
}
