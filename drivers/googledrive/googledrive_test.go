package googledrive

import "testing"

func TestNormalize(t *testing.T) {
	cases := map[string]string{"": "/", "a": "/a", "/a/b/": "/a/b", "/": "/"}
	for in, want := range cases {
		if got := normalize(in); got != want {
			t.Fatalf("normalize(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestParentOf(t *testing.T) {
	if got := parentOf("/a/b/c.txt"); got != "/a/b" {
		t.Fatalf("expected /a/b, got %q", got)
	}
	if got := parentOf("/a.txt"); got != "/" {
		t.Fatalf("expected root, got %q", got)
	}
}

func TestBaseName(t *testing.T) {
	if got := baseName("/a/b/c.txt"); got != "c.txt" {
		t.Fatalf("expected c.txt, got %q", got)
	}
}

func TestConstructRequiresSecret(t *testing.T) {
	if _, err := construct([]byte(`{}`), []byte(`{}`)); err == nil {
		t.Fatalf("expected an error when oauth credentials are missing")
	}
}
