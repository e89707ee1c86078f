package pathutil

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalize(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want string
	}{
		{"root", "/", "/"},
		{"simple", "/a/b/c", "/a/b/c"},
		{"backslashes", `\a\b\c`, "/a/b/c"},
		{"collapsed slashes", "/a//b///c", "/a/b/c"},
		{"trailing slash dropped", "/a/b/", "/a/b"},
		{"dot segments removed", "/a/./b", "/a/b"},
		{"dotdot resolved", "/a/b/../c", "/a/c"},
		{"dotdot cannot escape root", "/../../etc", "/etc"},
		{"relative becomes absolute", "a/b", "/a/b"},
		{"windows drive letter stripped", `C:\Users\x`, "/Users/x"},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			got, err := Normalize(c.in)
			require.NoError(t, err)
			assert.Equal(t, c.want, got)
		})
	}
}

func TestNormalizeIdempotent(t *testing.T) {
	inputs := []string{"/a/b/c", `\a\\b\c\`, "a/../b/./c", "/"}
	for _, in := range inputs {
		once, err := Normalize(in)
		require.NoError(t, err)
		twice, err := Normalize(once)
		require.NoError(t, err)
		assert.Equal(t, once, twice)
	}
}

func TestValidateRejectsTraversal(t *testing.T) {
	_, err := Normalize("/a/../../b")
	require.NoError(t, err) // lexical resolution, not an error - clamps at root

	err = Validate("/a/..")
	assert.Error(t, err)
}

func TestValidateRejectsNulAndLength(t *testing.T) {
	err := Validate("/a\x00b")
	assert.Error(t, err)

	long := "/" + strings.Repeat("a", MaxPathBytes+1)
	err = Validate(long)
	assert.Error(t, err)
}

func TestSanitizeAPIErrorRedactsCredentials(t *testing.T) {
	body := `error talking to server: Authorization: Bearer abc123.def456 query=?access_token=SECRETVALUE&other=1`
	out := SanitizeAPIError(body)
	assert.NotContains(t, out, "abc123.def456")
	assert.NotContains(t, out, "SECRETVALUE")
	assert.Contains(t, out, "[redacted]")
}

func TestSanitizeAPIErrorTruncates(t *testing.T) {
	body := strings.Repeat("x", MaxSanitizedErrorBytes*2)
	out := SanitizeAPIError(body)
	assert.LessOrEqual(t, len(out), MaxSanitizedErrorBytes)
}

func TestReadWithLimit(t *testing.T) {
	r := strings.NewReader(strings.Repeat("a", 100))
	data, err := ReadWithLimit(r, 200)
	require.NoError(t, err)
	assert.Len(t, data, 100)

	r2 := strings.NewReader(strings.Repeat("a", 300))
	_, err = ReadWithLimit(r2, 200)
	require.Error(t, err)
	assert.True(t, IsCapExceeded(err))
}

func TestJoin(t *testing.T) {
	got, err := Join("/a/b", "c", "d")
	require.NoError(t, err)
	assert.Equal(t, "/a/b/c/d", got)

	got, err = Join("/a", "../../etc")
	require.NoError(t, err)
	assert.Equal(t, "/etc", got)
}
