package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aeroftp/aerocore/pkg/providererr"
)

func TestRecordOperationCountsByOutcome(t *testing.T) {
	c := NewCollector(&Config{Enabled: true, Namespace: "aerocore"})

	c.RecordOperation("ftp", "list", 5*time.Millisecond, nil)
	c.RecordOperation("ftp", "list", 5*time.Millisecond, nil)
	c.RecordOperation("ftp", "list", 5*time.Millisecond, providererr.New(providererr.ServerError, "ftp", "boom"))

	ok := testutil.ToFloat64(c.operationCounter.WithLabelValues("ftp", "list", "ok"))
	errs := testutil.ToFloat64(c.operationCounter.WithLabelValues("ftp", "list", "error"))
	assert.Equal(t, 2.0, ok)
	assert.Equal(t, 1.0, errs)

	byKind := testutil.ToFloat64(c.errorCounter.WithLabelValues("ftp", providererr.ServerError.String()))
	assert.Equal(t, 1.0, byKind)
}

func TestRecordBytesByDirection(t *testing.T) {
	c := NewCollector(nil)
	c.RecordBytes("s3", "up", 1024)
	c.RecordBytes("s3", "up", 1024)
	c.RecordBytes("s3", "down", 10)
	c.RecordBytes("s3", "down", -5) // ignored

	assert.Equal(t, 2048.0, testutil.ToFloat64(c.bytesTransferred.WithLabelValues("s3", "up")))
	assert.Equal(t, 10.0, testutil.ToFloat64(c.bytesTransferred.WithLabelValues("s3", "down")))
}

func TestSessionGauge(t *testing.T) {
	c := NewCollector(nil)
	c.SessionOpened()
	c.SessionOpened()
	c.SessionClosed()
	assert.Equal(t, 1.0, testutil.ToFloat64(c.activeSessions))
}

func TestDisabledCollectorIsNoOp(t *testing.T) {
	c := NewCollector(&Config{Enabled: false})
	require.NotNil(t, c)
	// None of these may panic on the nil metric families.
	c.RecordOperation("ftp", "list", time.Millisecond, nil)
	c.RecordBytes("ftp", "down", 100)
	c.SessionOpened()
	c.SessionClosed()
	assert.Nil(t, c.Registry())
}
