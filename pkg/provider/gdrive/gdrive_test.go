package gdrive

import (
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	drive "google.golang.org/api/drive/v3"
	"google.golang.org/api/googleapi"
)

func TestWorkspaceExportInfo(t *testing.T) {
	cases := []struct {
		mime, exportMime, ext string
	}{
		{"application/vnd.google-apps.document", "application/vnd.openxmlformats-officedocument.wordprocessingml.document", ".docx"},
		{"application/vnd.google-apps.spreadsheet", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet", ".xlsx"},
		{"application/vnd.google-apps.presentation", "application/vnd.openxmlformats-officedocument.presentationml.presentation", ".pptx"},
		{"application/vnd.google-apps.drawing", "application/pdf", ".pdf"},
	}
	for _, c := range cases {
		exportMime, ext, ok := workspaceExportInfo(c.mime)
		require.True(t, ok, c.mime)
		assert.Equal(t, c.exportMime, exportMime)
		assert.Equal(t, c.ext, ext)
	}

	_, _, ok := workspaceExportInfo("text/plain")
	assert.False(t, ok)
	_, _, ok = workspaceExportInfo("application/vnd.google-apps.folder")
	assert.False(t, ok)
}

func TestResumableConstants(t *testing.T) {
	assert.Equal(t, 5*1024*1024, ResumableThreshold)
	assert.Equal(t, 10*1024*1024, ChunkSize)
}

func TestToEntry(t *testing.T) {
	f := &drive.File{
		Id:           "abc",
		Name:         "My Doc",
		MimeType:     "application/vnd.google-apps.document",
		Size:         0,
		ModifiedTime: "2024-06-15T08:00:00Z",
		Md5Checksum:  "",
	}
	e := toEntry(f, "/")
	assert.Equal(t, "/My Doc", e.Path)
	assert.Equal(t, "My Doc", e.Name)
	assert.False(t, e.IsDir)
	assert.Equal(t, "application/vnd.google-apps.document", e.ProviderMeta["mimeType"])
	assert.Equal(t, time.Date(2024, 6, 15, 8, 0, 0, 0, time.UTC), e.ModTime.UTC())
}

func TestToEntryFolderZeroesSize(t *testing.T) {
	f := &drive.File{
		Id:       "dir1",
		Name:     "Folder",
		MimeType: "application/vnd.google-apps.folder",
		Size:     512, // Drive sometimes reports folder sizes; they are dropped
	}
	e := toEntry(f, "/parent")
	assert.True(t, e.IsDir)
	assert.Equal(t, int64(0), e.Size)
	assert.Equal(t, "/parent/Folder", e.Path)
}

func TestGoogleAPIErrorClassification(t *testing.T) {
	assert.True(t, isNotFound(&googleapi.Error{Code: http.StatusNotFound}))
	assert.False(t, isNotFound(&googleapi.Error{Code: http.StatusForbidden}))
	assert.True(t, isUnauthorized(&googleapi.Error{Code: http.StatusUnauthorized}))
	assert.False(t, isUnauthorized(nil))
	assert.False(t, isNotFound(assert.AnError))
}
