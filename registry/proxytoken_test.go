package registry

import "testing"

func TestProxyTokenRoundTrip(t *testing.T) {
	res, err := MintProxyURLResult("MIRROR", "/a/b.txt")
	if err != nil {
		t.Fatalf("MintProxyURLResult: %v", err)
	}
	if res.Type != "proxy" || res.URL == "" {
		t.Fatalf("unexpected result shape: %+v", res)
	}

	token := res.URL[len("/api/proxy?token="):]
	storageType, path, err := VerifyProxyToken(token)
	if err != nil {
		t.Fatalf("VerifyProxyToken: %v", err)
	}
	if storageType != "MIRROR" || path != "/a/b.txt" {
		t.Fatalf("unexpected claims: storageType=%q path=%q", storageType, path)
	}
}

func TestVerifyProxyTokenRejectsGarbage(t *testing.T) {
	if _, _, err := VerifyProxyToken("not-a-token"); err == nil {
		t.Fatalf("expected an error for a malformed token")
	}
}
