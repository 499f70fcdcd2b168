package githubreleases

import "testing"

func TestEncodeDecodeAssetNameRoundTrips(t *testing.T) {
	p := "/datasets/2026/file.csv"
	encoded := encodeAssetName(p)
	if encoded != "datasets__2026__file.csv" {
		t.Fatalf("unexpected encoded name: %q", encoded)
	}
	if decoded := decodeAssetName(encoded); decoded != p {
		t.Fatalf("expected round trip to %q, got %q", p, decoded)
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

func TestConstructDefaultsTag(t *testing.T) {
	drv, err := construct([]byte(`{"owner":"o","repo":"r"}`), []byte(`{"token":"t"}`))
	if err != nil {
		t.Fatalf("construct: %v", err)
	}
	d := drv.(*Driver)
	if d.tag != "filehaven-storage" {
		t.Fatalf("expected default tag, got %q", d.tag)
	}
}
