package vault

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"io"
)

const keySize = 32

// Keyring holds the configured AEAD keys by id. The current key encrypts all
// writes; prior keys stay resident so key-versioned rows remain readable.
type Keyring struct {
	keys      map[string][]byte
	currentID string
}

// NewKeyring builds a keyring from base64-encoded 256-bit keys. An empty key
// map yields a nil keyring, which callers treat as plaintext mode.
func NewKeyring(encoded map[string]string, currentID string) (*Keyring, error) {
	if len(encoded) == 0 {
		return nil, nil
	}
	keys := make(map[string][]byte, len(encoded))
	for id, b64 := range encoded {
		key, err := base64.StdEncoding.DecodeString(b64)
		if err != nil {
			return nil, fmt.Errorf("decode key %s: %w", id, err)
		}
		if len(key) != keySize {
			return nil, fmt.Errorf("key %s: expected %d bytes, got %d", id, keySize, len(key))
		}
		keys[id] = key
	}
	if _, ok := keys[currentID]; !ok {
		return nil, fmt.Errorf("current key id %q not present in keyring", currentID)
	}
	return &Keyring{keys: keys, currentID: currentID}, nil
}

// CurrentID returns the id of the write key.
func (r *Keyring) CurrentID() string {
	return r.currentID
}

// Encrypt seals plaintext with the current key using AES-256-GCM.
// The stored blob is nonce || ciphertext.
func (r *Keyring) Encrypt(plaintext []byte) ([]byte, string, error) {
	blob, err := seal(plaintext, r.keys[r.currentID])
	if err != nil {
		return nil, "", err
	}
	return blob, r.currentID, nil
}

// Decrypt opens a blob sealed under the named key.
func (r *Keyring) Decrypt(blob []byte, keyID string) ([]byte, error) {
	key, ok := r.keys[keyID]
	if !ok {
		return nil, fmt.Errorf("unknown encryption key id %q", keyID)
	}
	return open(blob, key)
}

func seal(plaintext, key []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("create GCM: %w", err)
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}

	return gcm.Seal(nonce, nonce, plaintext, nil), nil
}

func open(blob, key []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("create GCM: %w", err)
	}
	if len(blob) < gcm.NonceSize() {
		return nil, fmt.Errorf("blob shorter than nonce")
	}

	nonce, ciphertext := blob[:gcm.NonceSize()], blob[gcm.NonceSize():]
	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("decrypt: %w", err)
	}
	return plaintext, nil
}
