package webdav

import "testing"

func TestJoinPathHandlesRoot(t *testing.T) {
	if got := joinPath("/", "a.txt"); got != "/a.txt" {
		t.Fatalf("expected /a.txt, got %q", got)
	}
}

func TestResolveJoinsBasePath(t *testing.T) {
	d, err := construct([]byte(`{"base_url":"https://dav.example.com/remote.php/dav/files/alice"}`), nil)
	if err != nil {
		t.Fatalf("construct: %v", err)
	}
	drv := d.(*Driver)
	got := drv.resolve("/docs/report.pdf")
	want := "https://dav.example.com/remote.php/dav/files/alice/docs/report.pdf"
	if got != want {
		t.Fatalf("expected %q, got %q", want, got)
	}
}

func TestConstructRequiresBaseURL(t *testing.T) {
	if _, err := construct([]byte(`{}`), nil); err == nil {
		t.Fatalf("expected an error when base_url is missing")
	}
}

func TestParseHTTPDate(t *testing.T) {
	if _, ok := parseHTTPDate(""); ok {
		t.Fatalf("expected empty string to fail parsing")
	}
	if _, ok := parseHTTPDate("Mon, 02 Jan 2006 15:04:05 GMT"); !ok {
		t.Fatalf("expected a valid RFC1123 date to parse")
	}
}
