// Package bulk implements the two-phase scan-then-act engine shared by
// every recursive transfer and delete: an iterative scan builds an
// inventory (never recursion, so depth is bounded only by an explicit
// work-stack), then an act phase replays it in the order each operation
// kind requires.
package bulk

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/aeroftp/aerocore/pkg/pathutil"
	"github.com/aeroftp/aerocore/pkg/providererr"
)

// Item is one entry discovered during the scan phase.
type Item struct {
	IsDir           bool
	SourcePath      string
	DestinationPath string
	Size            int64
	Name            string
	Depth           int
}

// ItemResult is the outcome of acting on one Item.
type ItemResult struct {
	Item  Item
	Err   error // nil on success
}

// Event is emitted during scan or act. Kind is one of the constants below.
type Event struct {
	Kind        string // "scan_progress", "file_start", "file_complete", "file_error", "progress", "cancelled"
	ItemsScanned int
	Path        string
	Transferred int64
	Total       int64
	Err         error
	Sequence    int64
}

const (
	EventScanProgress = "scan_progress"
	EventFileStart    = "file_start"
	EventFileComplete = "file_complete"
	EventFileError    = "file_error"
	EventProgress     = "progress"
	EventCancelled    = "cancelled"
)

// Summary is the final report for a bulk operation.
type Summary struct {
	TotalItems   int
	Succeeded    int
	Failed       int
	Errors       []ItemResult
	Cancelled    bool
}

// Lister is the minimal source abstraction the scan phase walks. Both a
// local filesystem and a StorageProvider can implement it.
type Lister interface {
	List(ctx context.Context, path string) ([]ListEntry, error)
}

// ListEntry is the minimal shape the scanner needs from a Lister.
type ListEntry struct {
	Name  string
	IsDir bool
	Size  int64
}

// MaxScanDepth bounds recursive descent so a pathological tree (or a
// symlink loop a provider's API doesn't expose as such) cannot run forever.
const MaxScanDepth = 256

type scanFrame struct {
	sourcePath string
	destPath   string
	depth      int
}

// eventThrottle limits scan progress events to at most one per
// scanProgressInterval or scanProgressEvery items, whichever comes first.
const (
	scanProgressInterval = 500 * time.Millisecond
	scanProgressEvery    = 100
)

// Scan walks src starting at rootSource (mapped to rootDest in the
// resulting inventory) iteratively via an explicit stack, never recursion.
// Symlinks are not followed; Lister implementations are expected not to
// report them as directories to descend into.
func Scan(ctx context.Context, src Lister, rootSource, rootDest string, emit func(Event)) ([]Item, error) {
	rootSource, err := pathutil.Normalize(rootSource)
	if err != nil {
		return nil, providererr.Wrap(providererr.InvalidPath, "", "invalid scan root", err)
	}
	rootDest, err = pathutil.Normalize(rootDest)
	if err != nil {
		return nil, providererr.Wrap(providererr.InvalidPath, "", "invalid destination root", err)
	}

	var inventory []Item
	stack := []scanFrame{{sourcePath: rootSource, destPath: rootDest, depth: 0}}
	lastEmit := time.Time{}
	sinceEmit := 0

	for len(stack) > 0 {
		if err := ctx.Err(); err != nil {
			return inventory, err
		}
		frame := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		if frame.depth > MaxScanDepth {
			return nil, providererr.New(providererr.InvalidPath, "", "scan exceeded max depth")
		}

		entries, err := src.List(ctx, frame.sourcePath)
		if err != nil {
			return nil, err
		}

		for _, e := range entries {
			childSource, _ := pathutil.Join(frame.sourcePath, e.Name)
			childDest, _ := pathutil.Join(frame.destPath, e.Name)
			item := Item{
				IsDir:           e.IsDir,
				SourcePath:      childSource,
				DestinationPath: childDest,
				Size:            e.Size,
				Name:            e.Name,
				Depth:           frame.depth + 1,
			}
			inventory = append(inventory, item)
			sinceEmit++

			if e.IsDir {
				stack = append(stack, scanFrame{sourcePath: childSource, destPath: childDest, depth: frame.depth + 1})
			}

			if emit != nil && (sinceEmit >= scanProgressEvery || time.Since(lastEmit) >= scanProgressInterval) {
				emit(Event{Kind: EventScanProgress, ItemsScanned: len(inventory), Path: childSource})
				lastEmit = time.Now()
				sinceEmit = 0
			}
		}
	}

	if emit != nil {
		emit(Event{Kind: EventScanProgress, ItemsScanned: len(inventory)})
	}
	return inventory, nil
}

// OrderForUpload sorts an inventory directories-first (ascending depth),
// then files, matching the upload/copy act-phase contract: parents before
// children.
func OrderForUpload(items []Item) []Item {
	out := append([]Item(nil), items...)
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].IsDir != out[j].IsDir {
			return out[i].IsDir // dirs first
		}
		if out[i].IsDir {
			return out[i].Depth < out[j].Depth
		}
		return false
	})
	return out
}

// OrderForDelete sorts an inventory files-first, then directories by
// descending depth: children before parents.
func OrderForDelete(items []Item) []Item {
	out := append([]Item(nil), items...)
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].IsDir != out[j].IsDir {
			return !out[i].IsDir // files first
		}
		if out[i].IsDir {
			return out[i].Depth > out[j].Depth
		}
		return false
	})
	return out
}

// Act runs fn over ordered items in order, never parallelizing across items
// (each provider call must already be serialized by its session lock; bulk relies on
// that rather than adding its own concurrency here). A single item's
// failure is recorded and does not abort the remaining items. cancel, if
// non-nil, is polled between items; when it reports true the walk stops
// and the summary is marked Cancelled.
func Act(ctx context.Context, items []Item, fn func(ctx context.Context, item Item) error, cancel func() bool, emit func(Event)) Summary {
	var seq int64
	summary := Summary{TotalItems: len(items)}

	for _, item := range items {
		if cancel != nil && cancel() {
			summary.Cancelled = true
			if emit != nil {
				emit(Event{Kind: EventCancelled, Path: item.SourcePath, Sequence: atomic.AddInt64(&seq, 1)})
			}
			break
		}
		if err := ctx.Err(); err != nil {
			summary.Cancelled = true
			break
		}

		if emit != nil {
			emit(Event{Kind: EventFileStart, Path: item.SourcePath, Sequence: atomic.AddInt64(&seq, 1)})
		}

		err := fn(ctx, item)
		if err != nil {
			summary.Failed++
			summary.Errors = append(summary.Errors, ItemResult{Item: item, Err: err})
			if emit != nil {
				emit(Event{Kind: EventFileError, Path: item.SourcePath, Err: err, Sequence: atomic.AddInt64(&seq, 1)})
			}
		} else {
			summary.Succeeded++
			if emit != nil {
				emit(Event{Kind: EventFileComplete, Path: item.SourcePath, Sequence: atomic.AddInt64(&seq, 1)})
			}
		}

		if emit != nil {
			emit(Event{Kind: EventProgress, ItemsScanned: summary.Succeeded + summary.Failed, Sequence: atomic.AddInt64(&seq, 1)})
		}
	}
	return summary
}

// ValidateRenameBatch pre-computes the new-name set for a batch rename and
// rejects the whole batch if any two inputs would collide on the same
// destination.
func ValidateRenameBatch(renames map[string]string) error {
	seen := make(map[string]string, len(renames))
	for from, to := range renames {
		normTo, err := pathutil.Normalize(to)
		if err != nil {
			return providererr.Wrap(providererr.InvalidPath, "", "invalid rename destination "+to, err)
		}
		if existing, ok := seen[normTo]; ok {
			return providererr.New(providererr.Other, "", "rename collision: both "+existing+" and "+from+" would become "+normTo)
		}
		seen[normTo] = from
	}
	return nil
}

// BandwidthLimiter throttles a stream to a target bytes/second rate. A
// limit of 0 means unlimited. Separate limiters are used for upload and
// download directions.
type BandwidthLimiter struct {
	limitBytesPerSec int64 // atomic
	mu               sync.Mutex
	windowStart      time.Time
	windowBytes      int64
}

// NewBandwidthLimiter builds a limiter with the given bytes/second cap (0 = unlimited).
func NewBandwidthLimiter(bytesPerSec int64) *BandwidthLimiter {
	return &BandwidthLimiter{limitBytesPerSec: bytesPerSec, windowStart: time.Now()}
}

// SetLimit atomically updates the throttle rate.
func (b *BandwidthLimiter) SetLimit(bytesPerSec int64) {
	atomic.StoreInt64(&b.limitBytesPerSec, bytesPerSec)
}

// Record accounts for n bytes transferred over elapsed wall time, sleeping
// if the transfer ran faster than the configured rate allows.
func (b *BandwidthLimiter) Record(ctx context.Context, n int64, elapsed time.Duration) {
	limit := atomic.LoadInt64(&b.limitBytesPerSec)
	if limit <= 0 || n <= 0 {
		return
	}
	expected := time.Duration(float64(n) / float64(limit) * float64(time.Second))
	if expected <= elapsed {
		return
	}
	sleep := expected - elapsed
	select {
	case <-ctx.Done():
	case <-time.After(sleep):
	}
}

// LimitedReaderAt-style helper isn't needed: providers call Record directly
// around their chunked read/write loops, passing the chunk size and the
// time it took to move it over the wire.
