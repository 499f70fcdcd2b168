package mirror

import (
	"context"
	"testing"
)

func TestNormalize(t *testing.T) {
	if got := normalize(""); got != "/" {
		t.Fatalf("expected root, got %q", got)
	}
	if got := normalize("a.iso"); got != "/a.iso" {
		t.Fatalf("expected /a.iso, got %q", got)
	}
}

func TestParentOf(t *testing.T) {
	if got := parentOf("/distros/ubuntu.iso"); got != "/distros" {
		t.Fatalf("expected /distros, got %q", got)
	}
}

func TestConstructRequiresEntries(t *testing.T) {
	if _, err := construct([]byte(`{"entries":[]}`), nil); err == nil {
		t.Fatalf("expected an error with no entries")
	}
}

func TestConstructRequiresPathAndURL(t *testing.T) {
	if _, err := construct([]byte(`{"entries":[{"path":"/a.iso"}]}`), nil); err == nil {
		t.Fatalf("expected an error when url is missing")
	}
}

func TestConstructIndexesEntriesByNormalizedPath(t *testing.T) {
	drv, err := construct([]byte(`{"entries":[{"path":"distros/ubuntu.iso","url":"https://example.com/ubuntu.iso","size":100}]}`), nil)
	if err != nil {
		t.Fatalf("construct: %v", err)
	}
	d := drv.(*Driver)
	if _, ok := d.entries["/distros/ubuntu.iso"]; !ok {
		t.Fatalf("expected entry indexed under normalized path")
	}
}

func TestGenerateProxyURLMintsTokenForKnownEntry(t *testing.T) {
	drv, err := construct([]byte(`{"entries":[{"path":"/a.iso","url":"https://example.com/a.iso","size":10}]}`), nil)
	if err != nil {
		t.Fatalf("construct: %v", err)
	}
	d := drv.(*Driver)
	res, err := d.GenerateProxyURL(context.Background(), "/a.iso")
	if err != nil {
		t.Fatalf("GenerateProxyURL: %v", err)
	}
	if res.Type != "proxy" || res.URL == "" {
		t.Fatalf("unexpected result: %+v", res)
	}
}

func TestGenerateProxyURLRejectsUnknownEntry(t *testing.T) {
	drv, err := construct([]byte(`{"entries":[{"path":"/a.iso","url":"https://example.com/a.iso","size":10}]}`), nil)
	if err != nil {
		t.Fatalf("construct: %v", err)
	}
	d := drv.(*Driver)
	if _, err := d.GenerateProxyURL(context.Background(), "/missing.iso"); err == nil {
		t.Fatalf("expected not-found for an unconfigured entry")
	}
}
