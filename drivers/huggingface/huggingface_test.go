package huggingface

import "testing"

func TestNormalize(t *testing.T) {
	if got := normalize(""); got != "/" {
		t.Fatalf("expected root, got %q", got)
	}
}

func TestParentOf(t *testing.T) {
	if got := parentOf("/a/b/c.txt"); got != "/a/b" {
		t.Fatalf("expected /a/b, got %q", got)
	}
}

func TestBaseName(t *testing.T) {
	if got := baseName("/a/b/c.txt"); got != "c.txt" {
		t.Fatalf("expected c.txt, got %q", got)
	}
}

func TestRepoPathStripsLeadingSlash(t *testing.T) {
	if got := repoPath("/data/train.parquet"); got != "data/train.parquet" {
		t.Fatalf("expected data/train.parquet, got %q", got)
	}
}

func TestConstructRequiresRepoID(t *testing.T) {
	if _, err := construct([]byte(`{}`), nil); err == nil {
		t.Fatalf("expected an error when repo_id is missing")
	}
}

func TestConstructDefaultsRevision(t *testing.T) {
	drv, err := construct([]byte(`{"repo_id":"org/dataset"}`), nil)
	if err != nil {
		t.Fatalf("construct: %v", err)
	}
	d := drv.(*Driver)
	if d.revision != "main" {
		t.Fatalf("expected default revision main, got %q", d.revision)
	}
}
