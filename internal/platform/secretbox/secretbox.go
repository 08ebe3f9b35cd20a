// Package secretbox encrypts per-entity secrets at rest. Each entity gets its
// own key derived from the master key with HKDF-SHA256, and values are sealed
// with XChaCha20-Poly1305 bound to the entity id.
package secretbox

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
)

const minMasterKeyLen = 32

var ErrInvalidCiphertext = errors.New("secretbox: invalid ciphertext")

type Box struct {
	master []byte
}

// New accepts a base64 (std or url) encoded key or raw key material of at
// least 32 bytes.
func New(masterKey string) (*Box, error) {
	raw := strings.TrimSpace(masterKey)
	if raw == "" {
		return nil, errors.New("secretbox: empty master key")
	}
	key := []byte(raw)
	for _, enc := range []*base64.Encoding{base64.StdEncoding, base64.URLEncoding, base64.RawStdEncoding, base64.RawURLEncoding} {
		if decoded, err := enc.DecodeString(raw); err == nil && len(decoded) >= minMasterKeyLen {
			key = decoded
			break
		}
	}
	if len(key) < minMasterKeyLen {
		return nil, fmt.Errorf("secretbox: master key must be at least %d bytes", minMasterKeyLen)
	}
	return &Box{master: key}, nil
}

func (b *Box) aead(entityID string) (cipherAEAD, error) {
	r := hkdf.New(sha256.New, b.master, nil, []byte("forge/entity/"+entityID))
	key := make([]byte, chacha20poly1305.KeySize)
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, fmt.Errorf("secretbox: derive key: %w", err)
	}
	return chacha20poly1305.NewX(key)
}

type cipherAEAD interface {
	NonceSize() int
	Overhead() int
	Seal(dst, nonce, plaintext, additionalData []byte) []byte
	Open(dst, nonce, ciphertext, additionalData []byte) ([]byte, error)
}

// Encrypt seals plaintext for entityID and returns base64(nonce || ciphertext).
func (b *Box) Encrypt(entityID string, plaintext []byte) (string, error) {
	aead, err := b.aead(entityID)
	if err != nil {
		return "", err
	}
	nonce := make([]byte, aead.NonceSize(), aead.NonceSize()+len(plaintext)+aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("secretbox: nonce: %w", err)
	}
	sealed := aead.Seal(nonce, nonce, plaintext, []byte(entityID))
	return base64.StdEncoding.EncodeToString(sealed), nil
}

func (b *Box) Decrypt(entityID, encoded string) ([]byte, error) {
	sealed, err := base64.StdEncoding.DecodeString(strings.TrimSpace(encoded))
	if err != nil {
		return nil, ErrInvalidCiphertext
	}
	aead, err := b.aead(entityID)
	if err != nil {
		return nil, err
	}
	if len(sealed) < aead.NonceSize()+aead.Overhead() {
		return nil, ErrInvalidCiphertext
	}
	nonce, ct := sealed[:aead.NonceSize()], sealed[aead.NonceSize():]
	out, err := aead.Open(nil, nonce, ct, []byte(entityID))
	if err != nil {
		return nil, ErrInvalidCiphertext
	}
	return out, nil
}

// EncryptEnv seals an environment map. An empty map encrypts to "{}".
func (b *Box) EncryptEnv(entityID string, env map[string]string) (string, error) {
	if env == nil {
		env = map[string]string{}
	}
	raw, err := json.Marshal(env)
	if err != nil {
		return "", err
	}
	return b.Encrypt(entityID, raw)
}

// DecryptEnv reverses EncryptEnv. An empty input yields an empty map.
func (b *Box) DecryptEnv(entityID, encoded string) (map[string]string, error) {
	if strings.TrimSpace(encoded) == "" {
		return map[string]string{}, nil
	}
	raw, err := b.Decrypt(entityID, encoded)
	if err != nil {
		return nil, err
	}
	out := map[string]string{}
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("secretbox: decode env: %w", err)
	}
	return out, nil
}
