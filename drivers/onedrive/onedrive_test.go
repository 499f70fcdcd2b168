package onedrive

import "testing"

func TestParentOf(t *testing.T) {
	if got := parentOf("/a/b/c.txt"); got != "/a/b" {
		t.Fatalf("expected /a/b, got %q", got)
	}
	if got := parentOf("a.txt"); got != "/" {
		t.Fatalf("expected root, got %q", got)
	}
}

func TestBaseName(t *testing.T) {
	if got := baseName("/a/b/c.txt"); got != "c.txt" {
		t.Fatalf("expected c.txt, got %q", got)
	}
}

func TestJoinPath(t *testing.T) {
	if got := joinPath("/", "a.txt"); got != "/a.txt" {
		t.Fatalf("expected /a.txt, got %q", got)
	}
}

func TestConstructRequiresSecret(t *testing.T) {
	if _, err := construct(nil, []byte(`{}`)); err == nil {
		t.Fatalf("expected an error when oauth credentials are missing")
	}
}

func TestConstructDefaultsDriveRoot(t *testing.T) {
	drv, err := construct(nil, []byte(`{"refresh_token":"r","client_id":"c","client_secret":"s"}`))
	if err != nil {
		t.Fatalf("construct: %v", err)
	}
	d := drv.(*Driver)
	if d.driveRoot != "/me/drive" {
		t.Fatalf("expected default drive_root, got %q", d.driveRoot)
	}
}
