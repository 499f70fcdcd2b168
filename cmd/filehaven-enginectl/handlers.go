package main

import (
	"context"
	"encoding/json"
	"fmt"

	ferrors "github.com/filehaven/engine/cmn/errors"
	"github.com/filehaven/engine/cmn/secrets"
	"github.com/filehaven/engine/index"
	"github.com/filehaven/engine/quota"
	"github.com/filehaven/engine/registry"
	"github.com/filehaven/engine/scheduler"
	"github.com/filehaven/engine/store"
)

// mountPayload is the ScheduledJob.PayloadJSON shape for the two
// per-mount index handlers: which mount to rebuild or drain dirty
// entries for.
type mountPayload struct {
	MountID string `json:"mountId"`
}

// driverFor opens a live Enforcer for cfg, decrypting its stored secret
// with key. Returns nil, nil (not an error) when the backend is
// transiently uncreatable, matching ComputeUsage's "enf may be nil"
// convention for its fallback tiers.
func driverFor(ctx context.Context, cfg *store.StorageConfig, key secrets.Key) (*registry.Enforcer, error) {
	secret, err := secrets.Decrypt(key, cfg.EncryptedSecrets)
	if err != nil {
		return nil, err
	}
	enf, err := registry.CreateDriver(ctx, cfg.StorageType, cfg.ConfigJSON, secret)
	if err != nil {
		return nil, nil
	}
	return enf, nil
}

// registerHandlers wires every well-known scheduler handler name (§4.4) to
// a real implementation, so cmdTick's scheduler actually does the work its
// registered jobs name instead of failing lookup on every tick.
func registerHandlers(s *store.Store, key secrets.Key, quotaEngine *quota.Engine, indexEngine *index.Engine) *scheduler.HandlerRegistry {
	reg := scheduler.NewHandlerRegistry()

	reg.Register(scheduler.HandlerStorageUsageRefresh, func(ctx context.Context, job *store.ScheduledJob) (json.RawMessage, error) {
		configs, err := s.ListStorageConfigs()
		if err != nil {
			return nil, err
		}
		stats := &scheduler.RefreshStats{}
		for _, cfg := range configs {
			enf, err := driverFor(ctx, cfg, key)
			if err != nil {
				stats.Failed++
				continue
			}
			if err := quotaEngine.Refresh(ctx, cfg, enf); err != nil {
				stats.Failed++
				continue
			}
			stats.Refreshed++
		}
		return scheduler.EncodeStatsJSON(stats)
	})

	reg.Register(scheduler.HandlerFSIndexRebuild, func(ctx context.Context, job *store.ScheduledJob) (json.RawMessage, error) {
		mountID, enf, err := resolveMountDriver(ctx, s, key, job.PayloadJSON)
		if err != nil {
			return nil, err
		}
		stats, err := indexEngine.Rebuild(ctx, mountID, enf)
		if err != nil {
			return nil, err
		}
		return json.Marshal(stats)
	})

	reg.Register(scheduler.HandlerFSIndexApplyDirty, func(ctx context.Context, job *store.ScheduledJob) (json.RawMessage, error) {
		var p mountPayload
		if err := json.Unmarshal(job.PayloadJSON, &p); err != nil || p.MountID == "" {
			return nil, ferrors.ValidationError("fs_index_apply_dirty: payload_json must carry a mountId")
		}
		stats, err := indexEngine.ApplyDirty(ctx, p.MountID)
		if err != nil {
			return nil, err
		}
		return json.Marshal(stats)
	})

	return reg
}

// resolveMountDriver loads the mount and a live driver over its backing
// storage config, as fs_index_rebuild needs a Reader to walk.
func resolveMountDriver(ctx context.Context, s *store.Store, key secrets.Key, payload json.RawMessage) (mountID string, enf *registry.Enforcer, err error) {
	var p mountPayload
	if err := json.Unmarshal(payload, &p); err != nil || p.MountID == "" {
		return "", nil, ferrors.ValidationError("fs_index_rebuild: payload_json must carry a mountId")
	}
	mount, err := s.GetMount(p.MountID)
	if err != nil {
		return "", nil, fmt.Errorf("resolving mount %s: %w", p.MountID, err)
	}
	cfg, err := s.GetStorageConfig(mount.StorageConfigID)
	if err != nil {
		return "", nil, fmt.Errorf("resolving storage config %s: %w", mount.StorageConfigID, err)
	}
	enf, err = driverFor(ctx, cfg, key)
	if err != nil {
		return "", nil, err
	}
	if enf == nil {
		return "", nil, ferrors.BusyError("fs_index_rebuild: backend for mount %s is currently unreachable", p.MountID)
	}
	return p.MountID, enf, nil
}
