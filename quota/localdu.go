package quota

import (
	"context"
	"errors"
	"os"
	"time"

	"github.com/karrick/godirwalk"
	"golang.org/x/sync/singleflight"
)

// LocalDU bounds a recursive directory walk by wall-clock and entry count
// (§4.3 local-du tier), deduplicating concurrent walks of the same root
// and caching the result briefly.
type LocalDU struct {
	timeout    time.Duration
	maxEntries int
	cache      *ttlCache
	group      singleflight.Group
}

func NewLocalDU(timeout time.Duration, maxEntries int, cacheTTL time.Duration) *LocalDU {
	return &LocalDU{timeout: timeout, maxEntries: maxEntries, cache: newTTLCache(cacheTTL)}
}

var errBudgetExceeded = errors.New("quota: local-du budget exceeded")

// Compute returns the total size in bytes under root, or ok=false if the
// walk exceeded its time or entry budget (the caller treats that as "this
// tier yielded no result", falling through to the next tier).
func (d *LocalDU) Compute(ctx context.Context, root string) (bytes int64, ok bool) {
	if v, hit := d.cache.get(root); hit {
		return v.(int64), true
	}

	v, err, _ := d.group.Do(root, func() (interface{}, error) {
		return d.walk(ctx, root)
	})
	if err != nil {
		return 0, false
	}
	total := v.(int64)
	d.cache.set(root, total)
	return total, true
}

func (d *LocalDU) walk(ctx context.Context, root string) (int64, error) {
	deadline := time.Now().Add(d.timeout)
	var total int64
	var entries int

	err := godirwalk.Walk(root, &godirwalk.Options{
		Unsorted: true,
		Callback: func(osPathname string, de *godirwalk.Dirent) error {
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
			}
			entries++
			if entries > d.maxEntries || time.Now().After(deadline) {
				return errBudgetExceeded
			}
			if de.IsDir() {
				return nil
			}
			if fi, statErr := os.Lstat(osPathname); statErr == nil {
				total += fi.Size()
			}
			return nil
		},
		ErrorCallback: func(osPathname string, err error) godirwalk.ErrorAction {
			if errors.Is(err, errBudgetExceeded) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return godirwalk.Halt
			}
			return godirwalk.SkipNode
		},
	})
	if err != nil {
		return 0, err
	}
	return total, nil
}
