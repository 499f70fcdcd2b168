package quota

import (
	"context"
	"testing"
	"time"

	"github.com/filehaven/engine/cmn/config"
	"github.com/filehaven/engine/registry"
	"github.com/filehaven/engine/store"
)

func testEngine(t *testing.T) (*Engine, *store.Store) {
	t.Helper()
	s, err := store.Open(":memory:")
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	qc := config.QuotaConf{}
	_ = qc.Validate()
	return NewEngine(s, qc), s
}

func TestAdmissionUnlimitedAllows(t *testing.T) {
	e, _ := testEngine(t)
	cfg := &store.StorageConfig{ID: "sc1", TotalStorageBytes: 0}
	if err := e.CheckAdmission(cfg, AdmissionRequest{IncomingBytes: 1 << 40}); err != nil {
		t.Fatalf("expected unlimited config to always allow, got %v", err)
	}
}

func TestAdmissionNoCachedSnapshotAllows(t *testing.T) {
	e, _ := testEngine(t)
	cfg := &store.StorageConfig{ID: "sc1", TotalStorageBytes: 1000}
	if err := e.CheckAdmission(cfg, AdmissionRequest{IncomingBytes: 900}); err != nil {
		t.Fatalf("expected admission to allow without a cached snapshot, got %v", err)
	}
}

func TestAdmissionRejectsOverLimit(t *testing.T) {
	e, s := testEngine(t)
	cfg := &store.StorageConfig{ID: "sc1", TotalStorageBytes: 1000}
	if err := s.UpsertMetricsSnapshot(&store.MetricsSnapshot{
		ScopeType: "storage_config", ScopeID: "sc1", MetricKey: "computed_usage", ValueNum: 900,
	}); err != nil {
		t.Fatalf("seed snapshot: %v", err)
	}

	err := e.CheckAdmission(cfg, AdmissionRequest{IncomingBytes: 200})
	if err == nil {
		t.Fatalf("expected rejection when used+incoming exceeds limit")
	}
}

func TestAdmissionAccountsForReplacedFile(t *testing.T) {
	e, s := testEngine(t)
	cfg := &store.StorageConfig{ID: "sc1", TotalStorageBytes: 1000}
	if err := s.UpsertMetricsSnapshot(&store.MetricsSnapshot{
		ScopeType: "storage_config", ScopeID: "sc1", MetricKey: "computed_usage", ValueNum: 900,
	}); err != nil {
		t.Fatalf("seed snapshot: %v", err)
	}
	// replacing a 150-byte file with a 200-byte one: effective incoming is
	// only 50, which fits under the 1000 limit at used=900.
	if err := e.CheckAdmission(cfg, AdmissionRequest{IncomingBytes: 200, OldBytes: 150}); err != nil {
		t.Fatalf("expected replace-in-place to net out correctly, got %v", err)
	}
}

func TestComputeUsageFallsBackToVFSInventory(t *testing.T) {
	e, s := testEngine(t)
	cfg := &store.StorageConfig{ID: "sc1", StorageType: store.TypeS3}

	size := int64(500)
	if err := s.PutVfsNode(&store.VfsNode{ScopeType: "storage_config", ScopeID: "sc1", NodeType: store.NodeFile, Path: "/a", Size: &size, Status: store.NodeActive}); err != nil {
		t.Fatalf("PutVfsNode: %v", err)
	}

	res, err := e.ComputeUsage(context.Background(), cfg, nil)
	if err != nil {
		t.Fatalf("ComputeUsage: %v", err)
	}
	if res == nil || res.Source != SourceVFSInventory || res.UsedBytes != 500 {
		t.Fatalf("expected vfs-inventory fallback with 500 bytes, got %+v", res)
	}
}

func TestComputeUsageProviderQuota(t *testing.T) {
	e, _ := testEngine(t)
	cfg := &store.StorageConfig{ID: "sc2", StorageType: store.StorageType("TEST_QUOTA")}

	enf := mustCreateQuotaTestDriver(t, cfg.StorageType)
	res, err := e.ComputeUsage(context.Background(), cfg, enf)
	if err != nil {
		t.Fatalf("ComputeUsage: %v", err)
	}
	if res == nil || res.Source != SourceProviderQuota || res.UsedBytes != 42 {
		t.Fatalf("expected provider-quota source with 42 bytes, got %+v", res)
	}
}

type quotaFakeDriver struct {
	st store.StorageType
}

func (d *quotaFakeDriver) GetType() store.StorageType          { return d.st }
func (d *quotaFakeDriver) GetCapabilities() []store.Capability { return nil }
func (d *quotaFakeDriver) GetStats(ctx context.Context) (*registry.QuotaStats, error) {
	used := int64(42)
	return &registry.QuotaStats{Supported: true, UsedBytes: &used, SnapshotAt: time.Now()}, nil
}

func mustCreateQuotaTestDriver(t *testing.T, st store.StorageType) *registry.Enforcer {
	t.Helper()
	registry.Register(&registry.Record{
		StorageType: st,
		Constructor: func(rawConfig, secret []byte) (registry.Driver, error) {
			return &quotaFakeDriver{st: st}, nil
		},
	})
	enf, err := registry.CreateDriver(context.Background(), st, nil, nil)
	if err != nil {
		t.Fatalf("CreateDriver: %v", err)
	}
	return enf
}
