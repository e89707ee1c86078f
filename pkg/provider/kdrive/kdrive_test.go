package kdrive

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aeroftp/aerocore/pkg/provider"
)

func TestDecodeFilesFlatArray(t *testing.T) {
	raw := json.RawMessage(`[
		{"id": 1, "name": "a.txt", "type": "file", "size": 10},
		{"id": 2, "name": "dir", "type": "dir"}
	]`)
	files, hasMore, cursor := decodeFiles(raw)
	require.Len(t, files, 2)
	assert.False(t, hasMore)
	assert.Empty(t, cursor)
	assert.Equal(t, "a.txt", files[0].Name)
}

func TestDecodeFilesPaginatedWrapper(t *testing.T) {
	raw := json.RawMessage(`{
		"data": [{"id": 3, "name": "b.txt", "type": "file", "size": 5}],
		"has_more": true,
		"cursor": "next-page"
	}`)
	files, hasMore, cursor := decodeFiles(raw)
	require.Len(t, files, 1)
	assert.True(t, hasMore)
	assert.Equal(t, "next-page", cursor)
	assert.Equal(t, int64(3), files[0].ID)
}

func TestDecodeFilesEmptyShapes(t *testing.T) {
	files, hasMore, _ := decodeFiles(json.RawMessage(`[]`))
	assert.Empty(t, files)
	assert.False(t, hasMore)

	files, _, _ = decodeFiles(json.RawMessage(`null`))
	assert.Empty(t, files)
}

func TestUnwrapEnvelope(t *testing.T) {
	var info driveInfo
	require.NoError(t, unwrapEnvelope([]byte(`{"result":"success","data":{"used_size":10,"size":100}}`), &info))
	assert.Equal(t, int64(10), info.UsedSize)
	assert.Equal(t, int64(100), info.Size)

	// Null data leaves the target untouched.
	var empty driveInfo
	require.NoError(t, unwrapEnvelope([]byte(`{"result":"success","data":null}`), &empty))
	assert.Zero(t, empty.Size)
}

func TestToRemoteEntry(t *testing.T) {
	e := toRemoteEntry(kdriveFile{
		ID: 7, Name: "x.bin", Type: "file", Size: 99, LastModifiedAt: 1714557600,
	}, "/folder/x.bin")
	assert.Equal(t, "/folder/x.bin", e.Path)
	assert.Equal(t, "x.bin", e.Name)
	assert.False(t, e.IsDir)
	assert.Equal(t, int64(99), e.Size)
	assert.Equal(t, 2024, e.ModTime.Year())

	d := toRemoteEntry(kdriveFile{ID: 8, Name: "d", Type: "dir"}, "/d")
	assert.True(t, d.IsDir)
	assert.True(t, d.ModTime.IsZero())
}

func TestDirCacheBounded(t *testing.T) {
	p := New(provider.KDriveConfig{APIToken: "t", DriveID: "1"})
	for i := 0; i < dirCacheMaxEntries; i++ {
		p.cacheInsert(string(rune('a'+i%26))+string(rune(i)), int64(i))
	}
	// Inserting past the cap resets rather than growing without bound.
	p.cacheInsert("/fresh", 42)
	id, ok := p.cacheGet("/fresh")
	assert.True(t, ok)
	assert.Equal(t, int64(42), id)
	assert.LessOrEqual(t, len(p.dirCache), dirCacheMaxEntries)
}
