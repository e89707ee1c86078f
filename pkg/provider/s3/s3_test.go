package s3

import (
	"fmt"
	"testing"

	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/stretchr/testify/assert"

	"github.com/aeroftp/aerocore/pkg/provider"
	"github.com/aeroftp/aerocore/pkg/providererr"
)

func TestKeyMapping(t *testing.T) {
	p := New(provider.S3Config{Bucket: "b"})
	assert.Equal(t, "", p.key("/"))
	assert.Equal(t, "a/b.txt", p.key("/a/b.txt"))
	assert.Equal(t, "top", p.key("/top"))
}

func TestTranslateErrNoSuchKey(t *testing.T) {
	p := New(provider.S3Config{Bucket: "b"})
	err := p.translateErr(&s3types.NoSuchKey{}, "GetObject", "a/b")
	assert.True(t, providererr.Matches(err, providererr.NotFound))

	err = p.translateErr(fmt.Errorf("wrapped: %w", &s3types.NoSuchKey{}), "GetObject", "a/b")
	assert.True(t, providererr.Matches(err, providererr.NotFound))
}

func TestTranslateErrNoSuchBucket(t *testing.T) {
	p := New(provider.S3Config{Bucket: "b"})
	err := p.translateErr(&s3types.NoSuchBucket{}, "ListObjectsV2", "")
	assert.True(t, providererr.Matches(err, providererr.NotFound))
}

func TestTranslateErrGenericIsServerError(t *testing.T) {
	p := New(provider.S3Config{Bucket: "b"})
	err := p.translateErr(assert.AnError, "PutObject", "k")
	assert.True(t, providererr.Matches(err, providererr.ServerError))
}

func TestAsTypeUnwrapsChains(t *testing.T) {
	var nf *s3types.NoSuchKey
	inner := &s3types.NoSuchKey{}
	assert.True(t, asType(fmt.Errorf("a: %w", fmt.Errorf("b: %w", inner)), &nf))
	assert.Same(t, inner, nf)

	var nb *s3types.NoSuchBucket
	assert.False(t, asType(assert.AnError, &nb))
}

func TestNotConnectedGuards(t *testing.T) {
	p := New(provider.S3Config{Bucket: "b"})
	assert.False(t, p.IsConnected())
	_, err := p.client_()
	assert.True(t, providererr.Matches(err, providererr.NotConnected))
}
