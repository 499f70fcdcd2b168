package store

import "testing"

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestStorageConfigCRUD(t *testing.T) {
	s := openTestStore(t)
	cfg := &StorageConfig{ID: "sc1", Name: "main", StorageType: TypeS3}
	if err := s.PutStorageConfig(cfg); err != nil {
		t.Fatalf("Put: %v", err)
	}
	got, err := s.GetStorageConfig("sc1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Name != "main" || got.StorageType != TypeS3 {
		t.Fatalf("unexpected round-trip: %+v", got)
	}
	if err := s.DeleteStorageConfig("sc1"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := s.GetStorageConfig("sc1"); err == nil {
		t.Fatalf("expected not-found after delete")
	}
}

func TestMountUniquePathEnforced(t *testing.T) {
	s := openTestStore(t)
	if err := s.PutMount(&Mount{ID: "m1", StorageConfigID: "sc1", MountPath: "/data"}); err != nil {
		t.Fatalf("Put m1: %v", err)
	}
	if err := s.PutMount(&Mount{ID: "m2", StorageConfigID: "sc2", MountPath: "/data"}); err == nil {
		t.Fatalf("expected conflict on duplicate mount_path")
	}
	// updating the same mount's own path is not a conflict
	if err := s.PutMount(&Mount{ID: "m1", StorageConfigID: "sc1", MountPath: "/data2"}); err != nil {
		t.Fatalf("expected self-update to succeed: %v", err)
	}
}

func TestMetricsSnapshotPreservesPriorValueOnFailedRefresh(t *testing.T) {
	s := openTestStore(t)
	good := &MetricsSnapshot{ScopeType: "storage_config", ScopeID: "sc1", MetricKey: "computed_usage", ValueNum: 1024, ValueText: "1024"}
	if err := s.UpsertMetricsSnapshot(good); err != nil {
		t.Fatalf("upsert good: %v", err)
	}
	failed := &MetricsSnapshot{ScopeType: "storage_config", ScopeID: "sc1", MetricKey: "computed_usage", ValueNum: -1, ErrorMessage: "timeout", UpdatedAtMs: 42}
	if err := s.UpsertMetricsSnapshot(failed); err != nil {
		t.Fatalf("upsert failed: %v", err)
	}
	got, err := s.GetMetricsSnapshot("storage_config", "sc1", "computed_usage")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.ValueNum != 1024 {
		t.Fatalf("expected prior value preserved, got %d", got.ValueNum)
	}
	if got.ErrorMessage != "timeout" || got.UpdatedAtMs != 42 {
		t.Fatalf("expected error message/updated_at refreshed, got %+v", got)
	}
}

func TestMetricsSnapshotFirstEverFailureStoresZeroNotSentinel(t *testing.T) {
	s := openTestStore(t)
	failed := &MetricsSnapshot{ScopeType: "storage_config", ScopeID: "sc-new", MetricKey: "computed_usage", ValueNum: -1, ErrorMessage: "unreachable", UpdatedAtMs: 7}
	if err := s.UpsertMetricsSnapshot(failed); err != nil {
		t.Fatalf("upsert failed: %v", err)
	}
	got, err := s.GetMetricsSnapshot("storage_config", "sc-new", "computed_usage")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.ValueNum != 0 {
		t.Fatalf("expected value_num clamped to 0 with no prior row, got %d", got.ValueNum)
	}
	if got.ErrorMessage != "unreachable" {
		t.Fatalf("expected error message recorded, got %q", got.ErrorMessage)
	}
}

func TestDeleteSearchIndexEntry(t *testing.T) {
	s := openTestStore(t)
	if err := s.PutSearchIndexEntry(&SearchIndexEntry{MountID: "m1", Path: "/a.txt", State: "ready"}); err != nil {
		t.Fatalf("put: %v", err)
	}
	if err := s.DeleteSearchIndexEntry("m1", "/a.txt"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	bytes, stale, err := s.SumSearchIndexSizes([]string{"m1"})
	if err != nil {
		t.Fatalf("sum: %v", err)
	}
	if bytes != 0 || len(stale) != 0 {
		t.Fatalf("expected the deleted entry to be gone, got bytes=%d stale=%v", bytes, stale)
	}
	// deleting an already-absent entry is a no-op, not an error
	if err := s.DeleteSearchIndexEntry("m1", "/a.txt"); err != nil {
		t.Fatalf("delete again: %v", err)
	}
}

func TestScheduledJobLeaseCAS(t *testing.T) {
	s := openTestStore(t)
	job := &ScheduledJob{TaskID: "t1", HandlerName: "usage_refresh", Enabled: true, NextRunAfter: 100}
	if err := s.PutScheduledJob(job); err != nil {
		t.Fatalf("put: %v", err)
	}

	due, err := s.DueJobs(200)
	if err != nil {
		t.Fatalf("DueJobs: %v", err)
	}
	if len(due) != 1 {
		t.Fatalf("expected 1 due job, got %d", len(due))
	}

	won, leased, err := s.TryAcquireLease("t1", 0, 1000)
	if err != nil {
		t.Fatalf("TryAcquireLease: %v", err)
	}
	if !won || leased.LockUntil != 1000 {
		t.Fatalf("expected to win the lease, got won=%v leased=%+v", won, leased)
	}

	wonAgain, _, err := s.TryAcquireLease("t1", 0, 2000)
	if err != nil {
		t.Fatalf("TryAcquireLease racer: %v", err)
	}
	if wonAgain {
		t.Fatalf("expected second racer to lose the CAS")
	}

	if err := s.ReleaseLease("t1", 1500, 900000); err != nil {
		t.Fatalf("ReleaseLease: %v", err)
	}
	after, err := s.GetScheduledJob("t1")
	if err != nil {
		t.Fatalf("GetScheduledJob: %v", err)
	}
	if after.LockUntil != 0 || after.RunCount != 1 || after.NextRunAfter != 900000 {
		t.Fatalf("unexpected post-release state: %+v", after)
	}
}

func TestJobRunEvictionKeepsNewest(t *testing.T) {
	s := openTestStore(t)
	for i := 0; i < 5; i++ {
		r := &JobRun{TaskID: "t1", RunID: string(rune('a' + i)), StartedAt: int64(i), Status: RunStatusSuccess}
		if err := s.PutJobRun(r); err != nil {
			t.Fatalf("PutJobRun %d: %v", i, err)
		}
	}
	if err := s.EvictOldestRuns("t1", 2); err != nil {
		t.Fatalf("EvictOldestRuns: %v", err)
	}
	runs, err := s.ListJobRuns("t1")
	if err != nil {
		t.Fatalf("ListJobRuns: %v", err)
	}
	if len(runs) != 2 {
		t.Fatalf("expected 2 runs remaining, got %d", len(runs))
	}
	if runs[0].StartedAt != 3 || runs[1].StartedAt != 4 {
		t.Fatalf("expected the 2 newest runs to survive, got %+v", runs)
	}
}

func TestDirtyQueueFIFO(t *testing.T) {
	s := openTestStore(t)
	for i := int64(0); i < 3; i++ {
		e := &DirtyEntry{Seq: i, MountID: "m1", Path: "/a", Op: DirtyUpsert, EnqueuedAt: i}
		if err := s.EnqueueDirty(e); err != nil {
			t.Fatalf("Enqueue %d: %v", i, err)
		}
	}
	batch, err := s.DequeueDirtyBatch("m1", 2)
	if err != nil {
		t.Fatalf("DequeueDirtyBatch: %v", err)
	}
	if len(batch) != 2 || batch[0].Seq != 0 || batch[1].Seq != 1 {
		t.Fatalf("expected FIFO batch [0,1], got %+v", batch)
	}
	if err := s.RemoveDirty("m1", 0); err != nil {
		t.Fatalf("RemoveDirty: %v", err)
	}
	n, err := s.CountDirty("m1")
	if err != nil {
		t.Fatalf("CountDirty: %v", err)
	}
	if n != 2 {
		t.Fatalf("expected 2 remaining, got %d", n)
	}
}
