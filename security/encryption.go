package security

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

const (
	// sealedVersion prefixes every blob produced by SealWithKey.
	sealedVersion byte = 1

	// keyDerivationInfo binds derived keys to this use so the same key string
	// cannot be replayed against another HKDF consumer.
	keyDerivationInfo = "authentication-api/state/v1"

	// MinKeyLength is the minimum length accepted for SealWithKey keys.
	MinKeyLength = 16
)

// sealedEncoding rejects non-zero padding bits, so no two strings open to
// the same blob.
var sealedEncoding = base64.RawURLEncoding.Strict()

// ErrDecryptionFailed is returned by OpenWithKey for any blob that cannot be
// opened: bad encoding, unknown version, truncated input, wrong key or
// modified ciphertext. Callers must reject, never retry.
var ErrDecryptionFailed = errors.New("decryption failed")

// Encryptor handles token encryption at rest using AES-256-GCM.
type Encryptor struct {
	key     []byte
	enabled bool
}

// NewEncryptor creates a new encryptor.
// If key is nil or empty, encryption is disabled.
// The key must be exactly 32 bytes for AES-256.
func NewEncryptor(key []byte) (*Encryptor, error) {
	if len(key) == 0 {
		return &Encryptor{enabled: false}, nil
	}

	if len(key) != 32 {
		return nil, fmt.Errorf("encryption key must be exactly 32 bytes for AES-256, got %d", len(key))
	}

	return &Encryptor{
		key:     key,
		enabled: true,
	}, nil
}

// Encrypt encrypts plaintext using AES-256-GCM.
// Returns base64-encoded ciphertext.
func (e *Encryptor) Encrypt(plaintext string) (string, error) {
	if !e.IsEnabled() {
		return plaintext, nil
	}

	gcm, err := newGCM(e.key)
	if err != nil {
		return "", err
	}

	sealed, err := seal(gcm, []byte(plaintext))
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Decrypt decrypts base64-encoded ciphertext using AES-256-GCM.
func (e *Encryptor) Decrypt(encoded string) (string, error) {
	if !e.IsEnabled() {
		return encoded, nil
	}

	ciphertext, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", fmt.Errorf("failed to decode base64: %w", err)
	}

	gcm, err := newGCM(e.key)
	if err != nil {
		return "", err
	}

	plaintext, err := open(gcm, ciphertext)
	if err != nil {
		return "", err
	}
	return string(plaintext), nil
}

// IsEnabled returns true if encryption is enabled
func (e *Encryptor) IsEnabled() bool {
	return e != nil && e.enabled
}

// SealWithKey encrypts plaintext under a one-time key string.
//
// The AES-256 key is derived from key with HKDF-SHA256 and every call uses a
// fresh random nonce. The result is URL safe and self-contained:
//
//	base64url( version(1) || nonce(12) || ciphertext+tag )
func SealWithKey(plaintext, key string) (string, error) {
	if len(key) < MinKeyLength {
		return "", fmt.Errorf("key must be at least %d bytes, got %d", MinKeyLength, len(key))
	}

	gcm, err := deriveGCM(key)
	if err != nil {
		return "", err
	}

	sealed, err := seal(gcm, []byte(plaintext))
	if err != nil {
		return "", err
	}

	blob := make([]byte, 0, 1+len(sealed))
	blob = append(blob, sealedVersion)
	blob = append(blob, sealed...)
	return sealedEncoding.EncodeToString(blob), nil
}

// OpenWithKey reverses SealWithKey. Every failure wraps ErrDecryptionFailed.
func OpenWithKey(blob, key string) (string, error) {
	raw, err := sealedEncoding.DecodeString(blob)
	if err != nil {
		return "", fmt.Errorf("%w: malformed encoding", ErrDecryptionFailed)
	}
	if len(raw) == 0 || raw[0] != sealedVersion {
		return "", fmt.Errorf("%w: unsupported version", ErrDecryptionFailed)
	}
	if len(key) < MinKeyLength {
		return "", fmt.Errorf("%w: key too short", ErrDecryptionFailed)
	}

	gcm, err := deriveGCM(key)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrDecryptionFailed, err)
	}

	plaintext, err := open(gcm, raw[1:])
	if err != nil {
		return "", err
	}
	return string(plaintext), nil
}

func deriveGCM(key string) (cipher.AEAD, error) {
	derived := make([]byte, 32)
	kdf := hkdf.New(sha256.New, []byte(key), nil, []byte(keyDerivationInfo))
	if _, err := io.ReadFull(kdf, derived); err != nil {
		return nil, fmt.Errorf("failed to derive key: %w", err)
	}
	return newGCM(derived)
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}
	return gcm, nil
}

// seal produces [nonce][ciphertext] using the nonce slice as destination.
func seal(gcm cipher.AEAD, plaintext []byte) ([]byte, error) {
	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}
	return gcm.Seal(nonce, nonce, plaintext, nil), nil
}

func open(gcm cipher.AEAD, sealed []byte) ([]byte, error) {
	nonceSize := gcm.NonceSize()
	if len(sealed) < nonceSize+gcm.Overhead() {
		return nil, fmt.Errorf("%w: ciphertext too short", ErrDecryptionFailed)
	}

	nonce, ciphertext := sealed[:nonceSize], sealed[nonceSize:]
	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecryptionFailed, err)
	}
	return plaintext, nil
}

// GenerateKey generates a new 32-byte encryption key for AES-256
func GenerateKey() ([]byte, error) {
	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("failed to generate key: %w", err)
	}
	return key, nil
}

// KeyFromBase64 decodes a base64-encoded encryption key
func KeyFromBase64(s string) ([]byte, error) {
	key, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("failed to decode base64 key: %w", err)
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("key must be 32 bytes, got %d", len(key))
	}
	return key, nil
}

// KeyToBase64 encodes an encryption key to base64
func KeyToBase64(key []byte) string {
	return base64.StdEncoding.EncodeToString(key)
}
