package adopt

import (
	"testing"

	"github.com/filehaven/engine/store"
)

func openTestStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(":memory:")
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestAdoptEmptyStoreInitializes(t *testing.T) {
	s := openTestStore(t)

	res, err := Adopt(s)
	if err != nil {
		t.Fatalf("Adopt: %v", err)
	}
	if res.Action != "initialized" {
		t.Fatalf("expected initialized, got %s", res.Action)
	}
	if res.MarkedUpTo != CurrentSchemaVersion {
		t.Fatalf("expected marked up to %d, got %d", CurrentSchemaVersion, res.MarkedUpTo)
	}

	applied, err := s.ListAppliedMigrations()
	if err != nil {
		t.Fatalf("ListAppliedMigrations: %v", err)
	}
	if len(applied) != CurrentSchemaVersion {
		t.Fatalf("expected %d applied migrations, got %d", CurrentSchemaVersion, len(applied))
	}
}

func TestAdoptIsIdempotent(t *testing.T) {
	s := openTestStore(t)

	if _, err := Adopt(s); err != nil {
		t.Fatalf("first Adopt: %v", err)
	}
	res, err := Adopt(s)
	if err != nil {
		t.Fatalf("second Adopt: %v", err)
	}
	if res.Action != "squash_marked" {
		t.Fatalf("expected repeat call to report squash_marked (already applied), got %s", res.Action)
	}
}

func TestAdoptEmptiedTablesInitialize(t *testing.T) {
	s := openTestStore(t)

	if err := s.PutMount(&store.Mount{ID: "m1", StorageConfigID: "sc1", MountPath: "/x"}); err != nil {
		t.Fatalf("PutMount: %v", err)
	}
	if err := s.DeleteMount("m1"); err != nil {
		t.Fatalf("DeleteMount: %v", err)
	}

	res, err := Adopt(s)
	if err != nil {
		t.Fatalf("Adopt: %v", err)
	}
	if res.Action != "initialized" {
		t.Fatalf("expected initialized (no tables survive the delete), got %s", res.Action)
	}
}

func TestAdoptPopulatedNoLegacyVersionRefused(t *testing.T) {
	s := openTestStore(t)

	if err := s.PutStorageConfig(&store.StorageConfig{ID: "sc1", Name: "local", StorageType: store.TypeLocal}); err != nil {
		t.Fatalf("PutStorageConfig: %v", err)
	}

	res, err := Adopt(s)
	if err == nil {
		t.Fatalf("expected Adopt to refuse, got nil error")
	}
	if res == nil || !res.Refused {
		t.Fatalf("expected Refused result, got %+v", res)
	}
}

func TestAdoptPopulatedWithLegacyVersionSquashMarksCapped(t *testing.T) {
	s := openTestStore(t)

	if err := s.PutStorageConfig(&store.StorageConfig{ID: "sc1", Name: "local", StorageType: store.TypeLocal}); err != nil {
		t.Fatalf("PutStorageConfig: %v", err)
	}
	if err := s.SetLegacySchemaVersion(99); err != nil {
		t.Fatalf("SetLegacySchemaVersion: %v", err)
	}

	res, err := Adopt(s)
	if err != nil {
		t.Fatalf("Adopt: %v", err)
	}
	if res.Action != "squash_marked_legacy" {
		t.Fatalf("expected squash_marked_legacy, got %s", res.Action)
	}
	if res.MarkedUpTo != CurrentSchemaVersion {
		t.Fatalf("expected marked up to capped %d, got %d", CurrentSchemaVersion, res.MarkedUpTo)
	}

	if _, found, err := s.LegacySchemaVersion(); err != nil {
		t.Fatalf("LegacySchemaVersion: %v", err)
	} else if found {
		t.Fatalf("expected legacy schema_version cleared after adopt")
	}
}
