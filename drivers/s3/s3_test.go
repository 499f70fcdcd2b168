package s3

import "testing"

func TestKeyAppliesConfiguredPrefix(t *testing.T) {
	d := &Driver{prefix: "tenant-a"}
	if got := d.key("/dir/file.txt"); got != "tenant-a/dir/file.txt" {
		t.Fatalf("expected prefixed key, got %q", got)
	}
}

func TestKeyWithoutPrefix(t *testing.T) {
	d := &Driver{}
	if got := d.key("/dir/file.txt"); got != "dir/file.txt" {
		t.Fatalf("expected unprefixed key, got %q", got)
	}
}

func TestJoinPathHandlesRoot(t *testing.T) {
	if got := joinPath("/", "file.txt"); got != "/file.txt" {
		t.Fatalf("expected /file.txt, got %q", got)
	}
	if got := joinPath("/a/b", "c.txt"); got != "/a/b/c.txt" {
		t.Fatalf("expected /a/b/c.txt, got %q", got)
	}
}

func TestBaseName(t *testing.T) {
	if got := baseName("/a/b/c.txt"); got != "c.txt" {
		t.Fatalf("expected c.txt, got %q", got)
	}
	if got := baseName("file.txt"); got != "file.txt" {
		t.Fatalf("expected file.txt, got %q", got)
	}
}

func TestConstructRequiresBucket(t *testing.T) {
	if _, err := construct([]byte(`{}`), nil); err == nil {
		t.Fatalf("expected an error when bucket is missing")
	}
}

func TestConstructDefaultsRegion(t *testing.T) {
	drv, err := construct([]byte(`{"bucket":"my-bucket"}`), nil)
	if err != nil {
		t.Fatalf("construct: %v", err)
	}
	d := drv.(*Driver)
	if d.cfg.Region != "us-east-1" {
		t.Fatalf("expected default region us-east-1, got %q", d.cfg.Region)
	}
}
