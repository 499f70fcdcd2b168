package registry

import (
	"context"
	"time"
)

// QuotaStats is the normalized result of a driver's getStats call (§4.3
// provider-quota tier). Pointer fields are nil when the provider does not
// report that dimension.
type QuotaStats struct {
	Supported      bool
	TotalBytes     *int64
	UsedBytes      *int64
	RemainingBytes *int64
	DeletedBytes   *int64
	TrashBytes     *int64
	DriveBytes     *int64
	PercentUsed    *float64
	State          string
	Message        string
	SnapshotAt     time.Time
}

// QuotaProber is an optional driver capability (not gated by the core
// §4.1 capability set) consulted by the quota engine's provider-quota
// tier.
type QuotaProber interface {
	GetStats(ctx context.Context) (*QuotaStats, error)
}

// GetStats probes the wrapped driver's quota reporting, if it implements
// QuotaProber. supported=false (not an error) means the driver simply
// doesn't expose this.
func (e *Enforcer) GetStats(ctx context.Context) (stats *QuotaStats, supported bool, err error) {
	p, ok := e.driver.(QuotaProber)
	if !ok {
		return nil, false, nil
	}
	stats, err = p.GetStats(ctx)
	return stats, true, err
}
