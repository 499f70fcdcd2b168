package quota

import (
	"context"
	"time"

	"github.com/filehaven/engine/registry"
)

// ProviderQuota wraps a driver's getStats probe with a timeout and a
// per-StorageConfig TTL cache (§4.3 provider-quota tier).
type ProviderQuota struct {
	timeout time.Duration
	cache   *ttlCache
}

func NewProviderQuota(timeout, cacheTTL time.Duration) *ProviderQuota {
	return &ProviderQuota{timeout: timeout, cache: newTTLCache(cacheTTL)}
}

// Compute probes enf's driver for quota stats, bounded by the configured
// timeout. cacheOnly, when true, never calls the driver: it reports
// supported=false if nothing cached exists yet, per §4.3.
func (p *ProviderQuota) Compute(ctx context.Context, storageConfigID string, enf *registry.Enforcer, cacheOnly bool) (*registry.QuotaStats, bool) {
	if v, hit := p.cache.get(storageConfigID); hit {
		return v.(*registry.QuotaStats), true
	}
	if cacheOnly {
		return &registry.QuotaStats{Supported: false}, true
	}

	probeCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()
	stats, implemented, err := enf.GetStats(probeCtx)
	if !implemented {
		return nil, false
	}
	if err != nil || stats == nil {
		return &registry.QuotaStats{Supported: false, Message: errMessage(err)}, true
	}
	p.cache.set(storageConfigID, stats)
	return stats, true
}

func errMessage(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
