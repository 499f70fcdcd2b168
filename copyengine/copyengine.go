// Package copyengine is a jobrunner handler copying {sourcePath,targetPath}
// pairs (§4.7). Grounded on the teacher's mirror package naming and its
// native-copy-vs-streamed duality; the erasure-coded HA replication that
// mirror actually performs is not carried over, since this handler only
// ever produces one destination copy.
package copyengine

import (
	"context"
	"encoding/json"
	"io"

	"github.com/filehaven/engine/jobrunner"
	"github.com/filehaven/engine/registry"
	"github.com/filehaven/engine/store"
)

// ExistingPolicy governs what happens when a stream-and-put copy's target
// path already exists.
type ExistingPolicy string

const (
	ExistingOverwrite ExistingPolicy = "overwrite"
	ExistingSkip      ExistingPolicy = "skip"
)

// Config is the copy engine's one open decision (spec §9): whether a
// pre-existing target is overwritten or skipped.
type Config struct {
	ExistingPolicy ExistingPolicy
}

func (c *Config) normalized() ExistingPolicy {
	if c.ExistingPolicy == "" {
		return ExistingOverwrite
	}
	return c.ExistingPolicy
}

// Pair is one item's work spec, carried as the jobrunner ItemResult's
// PayloadJSON so a retry can re-run it without the caller resubmitting.
type Pair struct {
	SourceStorageConfigID string `json:"sourceStorageConfigId"`
	SourcePath            string `json:"sourcePath"`
	TargetStorageConfigID string `json:"targetStorageConfigId"`
	TargetPath            string `json:"targetPath"`
}

// DriverResolver looks up a live Enforcer for a storage config, the same
// way an HTTP handler would before calling into the registry.
type DriverResolver interface {
	Resolve(ctx context.Context, storageConfigID string) (*registry.Enforcer, error)
}

// NewWorker builds a jobrunner.ItemWorker that performs one Pair's copy,
// choosing driver-native copyItem when source and target are the same
// enforcer instance (same storage config, hence the same credentials and
// namespace a server-side copy call needs) and falling back to a
// stream-read/stream-write otherwise.
func NewWorker(resolver DriverResolver, cfg Config) jobrunner.ItemWorker {
	return func(ctx context.Context, itemID string, payload json.RawMessage, progress jobrunner.ProgressFunc) error {
		var p Pair
		if err := json.Unmarshal(payload, &p); err != nil {
			return err
		}

		srcEnf, err := resolver.Resolve(ctx, p.SourceStorageConfigID)
		if err != nil {
			return err
		}

		if p.SourceStorageConfigID == p.TargetStorageConfigID && srcEnf.HasCapability(store.CapWriter) {
			res, err := srcEnf.CopyItem(ctx, p.SourcePath, p.TargetPath)
			if err != nil {
				return err
			}
			switch res.Status {
			case registry.CopySkipped:
				return jobrunner.ErrSkip
			case registry.CopyFailed:
				return errorFrom(res.Message)
			default:
				progress(1)
				return nil
			}
		}

		dstEnf, err := resolver.Resolve(ctx, p.TargetStorageConfigID)
		if err != nil {
			return err
		}
		return streamAndPut(ctx, srcEnf, dstEnf, p, cfg.normalized(), progress)
	}
}

func streamAndPut(ctx context.Context, srcEnf, dstEnf *registry.Enforcer, p Pair, policy ExistingPolicy, progress jobrunner.ProgressFunc) error {
	if policy == ExistingSkip {
		if info, err := dstEnf.GetFileInfo(ctx, p.TargetPath); err == nil && info != nil {
			return jobrunner.ErrSkip
		}
	}

	dl, err := srcEnf.DownloadFile(ctx, p.SourcePath)
	if err != nil {
		return err
	}
	body, err := dl.GetStream(ctx)
	if err != nil {
		return err
	}
	defer body.Close()

	var size int64
	if dl.Size != nil {
		size = *dl.Size
	}

	counted := &countingReader{r: body, progress: progress}
	_, err = dstEnf.UploadFile(ctx, p.TargetPath, counted, size)
	return err
}

// countingReader reports cumulative bytes read so the jobrunner progress
// callback can track a streamed copy the same way it tracks a native one.
type countingReader struct {
	r        io.Reader
	total    int64
	progress jobrunner.ProgressFunc
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	if n > 0 {
		c.total += int64(n)
		c.progress(c.total)
	}
	return n, err
}

type copyError string

func (e copyError) Error() string { return string(e) }

func errorFrom(msg string) error {
	if msg == "" {
		msg = "copy failed"
	}
	return copyError(msg)
}
