package quota

import (
	ferrors "github.com/filehaven/engine/cmn/errors"
	"github.com/filehaven/engine/store"
)

// AdmissionRequest is the input to the §4.3 upload admission guard.
type AdmissionRequest struct {
	StorageConfigID string
	IncomingBytes   int64
	OldBytes        int64 // 0 when this is not a replace-in-place
}

// CheckAdmission implements the §4.3 admission guard exactly: it never
// synchronously computes a fresh snapshot (an upload must not stall on a
// scan or an upstream probe), only consulting whatever is already cached.
func (e *Engine) CheckAdmission(cfg *store.StorageConfig, req AdmissionRequest) error {
	limit := cfg.TotalStorageBytes
	if limit <= 0 {
		return nil // unlimited
	}

	v, hit := e.snapshotCache.get(cfg.ID)
	if !hit {
		snap, err := e.store.GetMetricsSnapshot("storage_config", cfg.ID, "computed_usage")
		if err != nil || snap == nil || snap.ValueNum < 0 {
			return nil // no cached snapshot: allow
		}
		v = &UsageResult{UsedBytes: snap.ValueNum}
	}
	used := v.(*UsageResult).UsedBytes

	effectiveIncoming := req.IncomingBytes - req.OldBytes
	if effectiveIncoming < 0 {
		effectiveIncoming = 0
	}

	if used+effectiveIncoming > limit {
		remainingMB := float64(limit-used) / (1 << 20)
		if remainingMB < 0 {
			remainingMB = 0
		}
		neededMB := float64(effectiveIncoming) / (1 << 20)
		return ferrors.ValidationError("storage full: remaining %.1f MB, needs %.1f MB", remainingMB, neededMB)
	}
	return nil
}
