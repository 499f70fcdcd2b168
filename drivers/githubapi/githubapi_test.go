package githubapi

import "testing"

func TestJoinPathHandlesRoot(t *testing.T) {
	if got := joinPath("/", "a.txt"); got != "/a.txt" {
		t.Fatalf("expected /a.txt, got %q", got)
	}
	if got := joinPath("/dir", "a.txt"); got != "/dir/a.txt" {
		t.Fatalf("expected /dir/a.txt, got %q", got)
	}
}

func TestRepoPathStripsLeadingSlash(t *testing.T) {
	if got := repoPath("/a/b.txt"); got != "a/b.txt" {
		t.Fatalf("expected a/b.txt, got %q", got)
	}
}

func TestConstructRequiresOwnerAndRepo(t *testing.T) {
	if _, err := construct([]byte(`{}`), []byte(`{"token":"t"}`)); err == nil {
		t.Fatalf("expected an error when owner/repo are missing")
	}
}

func TestConstructRequiresToken(t *testing.T) {
	if _, err := construct([]byte(`{"owner":"o","repo":"r"}`), []byte(`{}`)); err == nil {
		t.Fatalf("expected an error when token is missing")
	}
}

func TestConstructDefaultsBranch(t *testing.T) {
	drv, err := construct([]byte(`{"owner":"o","repo":"r"}`), []byte(`{"token":"t"}`))
	if err != nil {
		t.Fatalf("construct: %v", err)
	}
	d := drv.(*Driver)
	if d.branch != "main" {
		t.Fatalf("expected default branch main, got %q", d.branch)
	}
}
