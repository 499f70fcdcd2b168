package secrets

import "testing"

func testKey(t *testing.T) Key {
	t.Helper()
	k, err := ParseKey("0102030405060708090a0b0c0d0e0f101112131415161718191a1b1c1d1e1f20")
	if err != nil {
		t.Fatalf("ParseKey: %v", err)
	}
	return k
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	key := testKey(t)
	plaintext := []byte(`{"token":"super-secret"}`)

	blob, err := Encrypt(key, plaintext)
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	if string(blob) == string(plaintext) {
		t.Fatalf("ciphertext must not equal plaintext")
	}

	got, err := Decrypt(key, blob)
	if err != nil {
		t.Fatalf("Decrypt: %v", err)
	}
	if string(got) != string(plaintext) {
		t.Fatalf("round-trip mismatch: got %q want %q", got, plaintext)
	}
}

func TestDecryptEmptyBlobIsNil(t *testing.T) {
	key := testKey(t)
	got, err := Decrypt(key, nil)
	if err != nil {
		t.Fatalf("Decrypt: %v", err)
	}
	if got != nil {
		t.Fatalf("expected nil secret for an empty blob, got %q", got)
	}
}

func TestDecryptWrongKeyFails(t *testing.T) {
	key := testKey(t)
	blob, err := Encrypt(key, []byte("hello"))
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	other, err := ParseKey("ffffffffffffffffffffffffffffffffffffffffffffffffffffffffffffffff")
	if err != nil {
		t.Fatalf("ParseKey: %v", err)
	}
	if _, err := Decrypt(other, blob); err == nil {
		t.Fatalf("expected decryption to fail under the wrong key")
	}
}

func TestParseKeyRejectsBadInput(t *testing.T) {
	if _, err := ParseKey("not-hex"); err == nil {
		t.Fatalf("expected error for non-hex input")
	}
	if _, err := ParseKey("ab"); err == nil {
		t.Fatalf("expected error for a too-short key")
	}
}
