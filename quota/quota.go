package quota

import (
	"context"
	"encoding/json"
	"time"

	"github.com/filehaven/engine/cmn/config"
	"github.com/filehaven/engine/ios"
	"github.com/filehaven/engine/metrics"
	"github.com/filehaven/engine/registry"
	"github.com/filehaven/engine/store"
)

// Source names which tier of §4.3's computeUsage produced a UsageResult.
type Source string

const (
	SourceLocalDU       Source = "local_du"
	SourceProviderQuota Source = "provider_quota"
	SourceVFSInventory  Source = "vfs_inventory"
	SourceSearchIndex   Source = "search_index"
)

// UsageResult is the outcome of one computeUsage call.
type UsageResult struct {
	UsedBytes  int64
	Source     Source
	SnapshotAt time.Time
	Details    map[string]interface{}
}

// Engine is the quota & usage computation service (§4.3).
type Engine struct {
	store          *store.Store
	localDU        *LocalDU
	providerQuota  *ProviderQuota
	snapshotCache  *ttlCache

	metrics *metrics.Registry
}

// NewEngine builds an Engine from the process configuration.
func NewEngine(s *store.Store, cfg config.QuotaConf) *Engine {
	return &Engine{
		store:         s,
		localDU:       NewLocalDU(cfg.LocalDUTimeout, cfg.LocalDUMaxEntries, cfg.ProviderQuotaCacheTTL),
		providerQuota: NewProviderQuota(cfg.ProviderQuotaTimeout, cfg.ProviderQuotaCacheTTL),
		snapshotCache: newTTLCache(cfg.SnapshotCacheTTL),
	}
}

// WithMetrics attaches a metrics registry; usage gauges and compute-error
// counters recorded after this call show up under the filehaven_quota_*
// collectors. A nil registry (the default) makes every recording call a
// no-op.
func (e *Engine) WithMetrics(reg *metrics.Registry) *Engine {
	e.metrics = reg
	return e
}

// ComputeUsage runs the tiered computation for one StorageConfig (§4.3).
// enf may be nil when no live driver instance is available (e.g. a
// scheduled refresh running against a transiently unreachable backend);
// in that case only the vfs-inventory/search-index tiers are attempted.
func (e *Engine) ComputeUsage(ctx context.Context, cfg *store.StorageConfig, enf *registry.Enforcer) (*UsageResult, error) {
	if v, hit := e.snapshotCache.get(cfg.ID); hit {
		return v.(*UsageResult), nil
	}

	res := e.computeTiered(ctx, cfg, enf)
	if res != nil {
		e.snapshotCache.set(cfg.ID, res)
	}
	return res, nil
}

func (e *Engine) computeTiered(ctx context.Context, cfg *store.StorageConfig, enf *registry.Enforcer) *UsageResult {
	if cfg.StorageType == store.TypeLocal && cfg.EnableDiskUsage {
		if root, ok := rootPathOf(cfg); ok {
			if bytes, ok := e.localDU.Compute(ctx, root); ok {
				return &UsageResult{
					UsedBytes:  bytes,
					Source:     SourceLocalDU,
					SnapshotAt: time.Now(),
					Details:    localDUDetails(),
				}
			}
		}
	} else if enf != nil {
		if stats, implemented := e.providerQuota.Compute(ctx, cfg.ID, enf, false); implemented && stats != nil && stats.Supported && stats.UsedBytes != nil {
			return &UsageResult{
				UsedBytes:  *stats.UsedBytes,
				Source:     SourceProviderQuota,
				SnapshotAt: time.Now(),
				Details:    quotaStatsDetails(stats),
			}
		}
	}

	if bytes, found, err := e.store.SumVfsNodeSizes("storage_config", cfg.ID); err == nil && found {
		return &UsageResult{UsedBytes: bytes, Source: SourceVFSInventory, SnapshotAt: time.Now()}
	}

	mounts, err := e.store.ListMountsByStorageConfig(cfg.ID)
	if err == nil && len(mounts) > 0 {
		ids := make([]string, len(mounts))
		for i, m := range mounts {
			ids[i] = m.ID
		}
		bytes, stale, err := e.store.SumSearchIndexSizes(ids)
		if err == nil {
			details := map[string]interface{}{}
			if len(stale) > 0 {
				details["staleMountIds"] = stale
			}
			return &UsageResult{UsedBytes: bytes, Source: SourceSearchIndex, SnapshotAt: time.Now(), Details: details}
		}
	}

	return nil
}

// localDUDetails surfaces a point-in-time host disk IO sample alongside the
// local-du tier's byte count, so an operator staring at a slow du can tell
// whether the disk itself was busy. Absent on platforms lufia/iostat can't
// read (the sample list is simply empty there).
func localDUDetails() map[string]interface{} {
	samples := ios.SampleDisks()
	if len(samples) == 0 {
		return nil
	}
	return map[string]interface{}{"diskSamples": samples}
}

func quotaStatsDetails(s *registry.QuotaStats) map[string]interface{} {
	d := map[string]interface{}{}
	if s.TotalBytes != nil {
		d["totalBytes"] = *s.TotalBytes
	}
	if s.RemainingBytes != nil {
		d["remainingBytes"] = *s.RemainingBytes
	}
	if s.DeletedBytes != nil {
		d["deletedBytes"] = *s.DeletedBytes
	}
	if s.TrashBytes != nil {
		d["trashBytes"] = *s.TrashBytes
	}
	if s.DriveBytes != nil {
		d["driveBytes"] = *s.DriveBytes
	}
	if s.PercentUsed != nil {
		d["percentUsed"] = *s.PercentUsed
	}
	if s.State != "" {
		d["state"] = s.State
	}
	return d
}

func rootPathOf(cfg *store.StorageConfig) (string, bool) {
	if len(cfg.ConfigJSON) == 0 {
		return "", false
	}
	var m map[string]interface{}
	if err := json.Unmarshal(cfg.ConfigJSON, &m); err != nil {
		return "", false
	}
	root, ok := m["root_path"].(string)
	if !ok || root == "" {
		return "", false
	}
	return root, true
}

// Refresh computes and persists one MetricsSnapshot row for cfg, per the
// §4.3 persistence rule: on failure the prior non-null value/text/json
// are preserved, only updated_at_ms and error_message move.
func (e *Engine) Refresh(ctx context.Context, cfg *store.StorageConfig, enf *registry.Enforcer) error {
	now := time.Now()
	res, err := e.ComputeUsage(ctx, cfg, enf)
	if err != nil || res == nil {
		e.metrics.RecordQuotaError(cfg.ID)
		msg := "no usage source available"
		if err != nil {
			msg = err.Error()
		}
		return e.store.UpsertMetricsSnapshot(&store.MetricsSnapshot{
			ScopeType: "storage_config", ScopeID: cfg.ID, MetricKey: "computed_usage",
			ValueNum: -1, UpdatedAtMs: now.UnixMilli(), ErrorMessage: msg,
		})
	}

	var percent float64
	if cfg.TotalStorageBytes > 0 {
		percent = float64(res.UsedBytes) / float64(cfg.TotalStorageBytes) * 100
	}
	e.metrics.RecordQuotaUsage(cfg.ID, res.UsedBytes, percent)

	var detailsJSON string
	if len(res.Details) > 0 {
		if b, err := json.Marshal(res.Details); err == nil {
			detailsJSON = string(b)
		}
	}
	return e.store.UpsertMetricsSnapshot(&store.MetricsSnapshot{
		ScopeType:     "storage_config",
		ScopeID:       cfg.ID,
		MetricKey:     "computed_usage",
		ValueNum:      res.UsedBytes,
		ValueText:     string(res.Source),
		ValueJSONText: detailsJSON,
		SnapshotAtMs:  res.SnapshotAt.UnixMilli(),
		UpdatedAtMs:   now.UnixMilli(),
	})
}
