// Package fieldcrypt provides authenticated encryption for individual PII
// field values. Envelopes are stored as hex(iv):hex(tag):hex(ciphertext) and
// are opaque to every caller except this package.
package fieldcrypt

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/scrypt"
)

// ErrDecryptionFailed is returned for any malformed envelope, failed tag
// check, or key mismatch. Callers must treat it as "field unavailable", not
// as a process fault.
var ErrDecryptionFailed = errors.New("decryption failed")

const (
	nonceSize = 16
	keySize   = 32

	// Static salt: the derived key must be stable across process restarts so
	// previously stored envelopes remain decryptable.
	kdfSalt = "salt"
)

// Cipher encrypts and decrypts individual field values with a key derived
// once from an external passphrase. A Cipher is immutable after construction
// and safe for unlimited concurrent use.
type Cipher struct {
	aead cipher.AEAD
}

// New derives a 256-bit key from the passphrase using scrypt and returns a
// ready-to-use Cipher. Call once at startup and share the instance.
func New(passphrase string) (*Cipher, error) {
	if passphrase == "" {
		return nil, errors.New("fieldcrypt: empty passphrase")
	}

	key, err := scrypt.Key([]byte(passphrase), []byte(kdfSalt), 1<<14, 8, 1, keySize)
	if err != nil {
		return nil, fmt.Errorf("fieldcrypt: derive key: %w", err)
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("fieldcrypt: init cipher: %w", err)
	}

	aead, err := cipher.NewGCMWithNonceSize(block, nonceSize)
	if err != nil {
		return nil, fmt.Errorf("fieldcrypt: init gcm: %w", err)
	}

	return &Cipher{aead: aead}, nil
}

// Encrypt seals plaintext into a three-part hex envelope with a fresh random
// 16-byte nonce. Empty input passes through unchanged; it is never encrypted.
func (c *Cipher) Encrypt(plaintext string) (string, error) {
	if plaintext == "" {
		return "", nil
	}

	iv := make([]byte, nonceSize)
	if _, err := rand.Read(iv); err != nil {
		return "", fmt.Errorf("fieldcrypt: generate nonce: %w", err)
	}

	sealed := c.aead.Seal(nil, iv, []byte(plaintext), nil)
	tagAt := len(sealed) - c.aead.Overhead()
	ciphertext, tag := sealed[:tagAt], sealed[tagAt:]

	return hex.EncodeToString(iv) + ":" + hex.EncodeToString(tag) + ":" + hex.EncodeToString(ciphertext), nil
}

// Decrypt opens an envelope produced by Encrypt. Empty input passes through
// unchanged. Any malformed component or authentication failure yields
// ErrDecryptionFailed.
func (c *Cipher) Decrypt(envelope string) (string, error) {
	if envelope == "" {
		return "", nil
	}

	parts := strings.Split(envelope, ":")
	if len(parts) != 3 {
		return "", ErrDecryptionFailed
	}

	iv, err := hex.DecodeString(parts[0])
	if err != nil || len(iv) != nonceSize {
		return "", ErrDecryptionFailed
	}
	tag, err := hex.DecodeString(parts[1])
	if err != nil || len(tag) != c.aead.Overhead() {
		return "", ErrDecryptionFailed
	}
	ciphertext, err := hex.DecodeString(parts[2])
	if err != nil {
		return "", ErrDecryptionFailed
	}

	plaintext, err := c.aead.Open(nil, iv, append(ciphertext, tag...), nil)
	if err != nil {
		return "", ErrDecryptionFailed
	}

	return string(plaintext), nil
}
