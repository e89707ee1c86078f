package bulk

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeTree is an in-memory Lister used to drive Scan deterministically.
type fakeTree struct {
	entries map[string][]ListEntry
}

func (f *fakeTree) List(ctx context.Context, path string) ([]ListEntry, error) {
	return f.entries[path], nil
}

func newTestTree() *fakeTree {
	return &fakeTree{entries: map[string][]ListEntry{
		"/src": {
			{Name: "a.txt", IsDir: false, Size: 10},
			{Name: "sub", IsDir: true},
		},
		"/src/sub": {
			{Name: "b.txt", IsDir: false, Size: 20},
			{Name: "nested", IsDir: true},
		},
		"/src/sub/nested": {
			{Name: "c.txt", IsDir: false, Size: 5},
		},
	}}
}

func TestScanBuildsFullInventory(t *testing.T) {
	tree := newTestTree()
	items, err := Scan(context.Background(), tree, "/src", "/dst", nil)
	require.NoError(t, err)
	assert.Len(t, items, 5) // a.txt, sub, b.txt, nested, c.txt

	var names []string
	for _, it := range items {
		names = append(names, it.Name)
	}
	assert.ElementsMatch(t, []string{"a.txt", "sub", "b.txt", "nested", "c.txt"}, names)
}

func TestScanMapsDestinationPaths(t *testing.T) {
	tree := newTestTree()
	items, err := Scan(context.Background(), tree, "/src", "/dst", nil)
	require.NoError(t, err)

	byName := make(map[string]Item)
	for _, it := range items {
		byName[it.Name] = it
	}
	assert.Equal(t, "/dst/a.txt", byName["a.txt"].DestinationPath)
	assert.Equal(t, "/dst/sub/b.txt", byName["b.txt"].DestinationPath)
	assert.Equal(t, "/dst/sub/nested/c.txt", byName["c.txt"].DestinationPath)
}

func TestScanEmitsProgress(t *testing.T) {
	tree := newTestTree()
	var events []Event
	_, err := Scan(context.Background(), tree, "/src", "/dst", func(e Event) {
		events = append(events, e)
	})
	require.NoError(t, err)
	assert.NotEmpty(t, events)
	assert.Equal(t, EventScanProgress, events[len(events)-1].Kind)
}

func TestOrderForUploadPutsDirsBeforeFilesByDepth(t *testing.T) {
	items := []Item{
		{Name: "deep-dir", IsDir: true, Depth: 2},
		{Name: "file.txt", IsDir: false, Depth: 1},
		{Name: "shallow-dir", IsDir: true, Depth: 1},
	}
	ordered := OrderForUpload(items)
	require.Len(t, ordered, 3)
	assert.True(t, ordered[0].IsDir)
	assert.Equal(t, "shallow-dir", ordered[0].Name)
	assert.True(t, ordered[1].IsDir)
	assert.Equal(t, "deep-dir", ordered[1].Name)
	assert.False(t, ordered[2].IsDir)
}

func TestOrderForDeletePutsFilesBeforeDirsByDescendingDepth(t *testing.T) {
	items := []Item{
		{Name: "root-dir", IsDir: true, Depth: 1},
		{Name: "nested-dir", IsDir: true, Depth: 2},
		{Name: "file.txt", IsDir: false, Depth: 2},
	}
	ordered := OrderForDelete(items)
	require.Len(t, ordered, 3)
	assert.False(t, ordered[0].IsDir)
	assert.True(t, ordered[1].IsDir)
	assert.Equal(t, "nested-dir", ordered[1].Name)
	assert.Equal(t, "root-dir", ordered[2].Name)
}

func TestActReportsPerItemFailuresWithoutAborting(t *testing.T) {
	items := []Item{
		{Name: "ok1", SourcePath: "/a"},
		{Name: "bad", SourcePath: "/b"},
		{Name: "ok2", SourcePath: "/c"},
	}
	summary := Act(context.Background(), items, func(ctx context.Context, item Item) error {
		if item.Name == "bad" {
			return assertErr
		}
		return nil
	}, nil, nil)

	assert.Equal(t, 3, summary.TotalItems)
	assert.Equal(t, 2, summary.Succeeded)
	assert.Equal(t, 1, summary.Failed)
	require.Len(t, summary.Errors, 1)
	assert.Equal(t, "bad", summary.Errors[0].Item.Name)
}

var assertErr = &testError{"boom"}

type testError struct{ msg string }

func (e *testError) Error() string { return e.msg }

func TestActHonorsCancelFlag(t *testing.T) {
	items := []Item{{Name: "a"}, {Name: "b"}, {Name: "c"}}
	processed := 0
	summary := Act(context.Background(), items, func(ctx context.Context, item Item) error {
		processed++
		return nil
	}, func() bool { return processed >= 1 }, nil)

	assert.True(t, summary.Cancelled)
	assert.Equal(t, 1, processed)
}

func TestActEmitsLifecycleEvents(t *testing.T) {
	items := []Item{{Name: "a", SourcePath: "/a"}}
	var kinds []string
	Act(context.Background(), items, func(ctx context.Context, item Item) error {
		return nil
	}, nil, func(e Event) {
		kinds = append(kinds, e.Kind)
	})
	assert.Contains(t, kinds, EventFileStart)
	assert.Contains(t, kinds, EventFileComplete)
	assert.Contains(t, kinds, EventProgress)
}

func TestValidateRenameBatchRejectsCollisions(t *testing.T) {
	err := ValidateRenameBatch(map[string]string{
		"/a": "/z",
		"/b": "/z",
	})
	assert.Error(t, err)
}

func TestValidateRenameBatchAcceptsDistinctTargets(t *testing.T) {
	err := ValidateRenameBatch(map[string]string{
		"/a": "/x",
		"/b": "/y",
	})
	assert.NoError(t, err)
}

func TestBandwidthLimiterUnlimitedDoesNotSleep(t *testing.T) {
	limiter := NewBandwidthLimiter(0)
	start := time.Now()
	limiter.Record(context.Background(), 1<<20, time.Microsecond)
	assert.Less(t, time.Since(start), 50*time.Millisecond)
}

func TestBandwidthLimiterThrottlesFastTransfer(t *testing.T) {
	limiter := NewBandwidthLimiter(1000) // 1000 bytes/sec
	start := time.Now()
	limiter.Record(context.Background(), 500, time.Millisecond) // should take ~500ms at this rate
	elapsed := time.Since(start)
	assert.GreaterOrEqual(t, elapsed, 400*time.Millisecond)
}

func TestBandwidthLimiterRespectsContextCancellation(t *testing.T) {
	limiter := NewBandwidthLimiter(1)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	start := time.Now()
	limiter.Record(ctx, 1000, time.Millisecond)
	assert.Less(t, time.Since(start), 200*time.Millisecond)
}
