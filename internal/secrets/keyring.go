// Package secrets seals tracker credentials at rest and supports rotating
// the sealing key without a restart.
package secrets

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
)

// ErrUndecryptable is returned when no configured key opens a sealed value.
var ErrUndecryptable = errors.New("credential cannot be decrypted")

// ErrNoKey is returned when no active encryption key is configured.
var ErrNoKey = errors.New("crypto.encryption_key is required")

const sealPrefix = "v1."

// Loader returns the active passphrase and any previous passphrases that
// may still open older values.
type Loader func() (active string, previous []string, err error)

// Static returns a Loader with fixed keys.
func Static(active string, previous ...string) Loader {
	return func() (string, []string, error) { return active, previous, nil }
}

// Keyring holds derived sealing keys in memory and supports atomic reloading.
// The first key seals; every key is tried when opening.
type Keyring struct {
	mu     sync.RWMutex
	keys   [][]byte
	loader Loader
}

// NewKeyring creates a Keyring, calling the loader once to derive keys.
func NewKeyring(loader Loader) (*Keyring, error) {
	k := &Keyring{loader: loader}
	if err := k.Reload(); err != nil {
		return nil, fmt.Errorf("initial key load: %w", err)
	}
	return k, nil
}

// Reload calls the loader and swaps in the new keys atomically.
// If the loader fails, existing keys are preserved.
func (k *Keyring) Reload() error {
	active, previous, err := k.loader()
	if err != nil {
		return fmt.Errorf("reload keys: %w", err)
	}
	if strings.TrimSpace(active) == "" {
		return ErrNoKey
	}
	keys := [][]byte{deriveKey(active)}
	for _, p := range previous {
		if p = strings.TrimSpace(p); p != "" && p != active {
			keys = append(keys, deriveKey(p))
		}
	}
	k.mu.Lock()
	k.keys = keys
	k.mu.Unlock()
	return nil
}

func deriveKey(passphrase string) []byte {
	r := hkdf.New(sha256.New, []byte(passphrase), []byte("lanesync"), []byte("credential-seal-v1"))
	key := make([]byte, chacha20poly1305.KeySize)
	if _, err := io.ReadFull(r, key); err != nil {
		panic(fmt.Sprintf("secrets: hkdf read: %v", err))
	}
	return key
}

// Seal encrypts plaintext with the active key using XChaCha20-Poly1305.
func (k *Keyring) Seal(plaintext string) (string, error) {
	k.mu.RLock()
	key := k.keys[0]
	k.mu.RUnlock()

	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return "", fmt.Errorf("init cipher: %w", err)
	}
	nonce := make([]byte, aead.NonceSize(), aead.NonceSize()+len(plaintext)+aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("nonce: %w", err)
	}
	out := aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return sealPrefix + base64.RawStdEncoding.EncodeToString(out), nil
}

// Open decrypts a sealed value. Stale is true when a previous key opened it
// and the value should be sealed again with the active key.
func (k *Keyring) Open(sealed string) (plaintext string, stale bool, err error) {
	if !strings.HasPrefix(sealed, sealPrefix) {
		return "", false, ErrUndecryptable
	}
	raw, err := base64.RawStdEncoding.DecodeString(strings.TrimPrefix(sealed, sealPrefix))
	if err != nil || len(raw) < chacha20poly1305.NonceSizeX {
		return "", false, ErrUndecryptable
	}
	nonce, ct := raw[:chacha20poly1305.NonceSizeX], raw[chacha20poly1305.NonceSizeX:]

	k.mu.RLock()
	keys := k.keys
	k.mu.RUnlock()

	for i, key := range keys {
		aead, err := chacha20poly1305.NewX(key)
		if err != nil {
			continue
		}
		if pt, err := aead.Open(nil, nonce, ct, nil); err == nil {
			return string(pt), i > 0, nil
		}
	}
	return "", false, ErrUndecryptable
}
