// Package secrets encrypts and decrypts StorageConfig.EncryptedSecrets
// (§3/§6) with nacl/secretbox, keyed by the process's configured master
// key (cmn/config.SecretsConf).
package secrets

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"

	"golang.org/x/crypto/nacl/secretbox"

	ferrors "github.com/filehaven/engine/cmn/errors"
)

const keySize = 32
const nonceSize = 24

// Key is a parsed master key, ready for Encrypt/Decrypt.
type Key [keySize]byte

// ParseKey decodes a 64-character hex master key (cmn/config.SecretsConf's
// MasterKeyHex) into a Key.
func ParseKey(hexKey string) (Key, error) {
	var k Key
	raw, err := hex.DecodeString(hexKey)
	if err != nil {
		return k, ferrors.ValidationError("secrets: master key is not valid hex: %v", err)
	}
	if len(raw) != keySize {
		return k, ferrors.ValidationError("secrets: master key must decode to %d bytes, got %d", keySize, len(raw))
	}
	copy(k[:], raw)
	return k, nil
}

// Encrypt seals plaintext under key, producing the blob stored in
// StorageConfig.EncryptedSecrets: a random nonce followed by the sealed
// box.
func Encrypt(key Key, plaintext []byte) ([]byte, error) {
	var nonce [nonceSize]byte
	if _, err := io.ReadFull(rand.Reader, nonce[:]); err != nil {
		return nil, fmt.Errorf("secrets: generating nonce: %w", err)
	}
	out := make([]byte, 0, nonceSize+len(plaintext)+secretbox.Overhead)
	out = append(out, nonce[:]...)
	rawKey := [keySize]byte(key)
	out = secretbox.Seal(out, plaintext, &nonce, &rawKey)
	return out, nil
}

// Decrypt opens a blob produced by Encrypt. An empty blob decrypts to nil,
// nil — the common case of a driver that carries no secret at all (e.g.
// MIRROR), so callers never need a separate "has secrets" branch.
func Decrypt(key Key, blob []byte) ([]byte, error) {
	if len(blob) == 0 {
		return nil, nil
	}
	if len(blob) < nonceSize {
		return nil, ferrors.ValidationError("secrets: encrypted blob is shorter than the nonce")
	}
	var nonce [nonceSize]byte
	copy(nonce[:], blob[:nonceSize])
	rawKey := [keySize]byte(key)
	plaintext, ok := secretbox.Open(nil, blob[nonceSize:], &nonce, &rawKey)
	if !ok {
		return nil, ferrors.ValidationError("secrets: decryption failed (wrong master key or corrupted blob)")
	}
	return plaintext, nil
}
