package security

import (
	"bytes"
	"encoding/base64"
	"errors"
	"strings"
	"testing"
)

func TestGenerateKey(t *testing.T) {
	key, err := GenerateKey()
	if err != nil {
		t.Fatalf("GenerateKey() error = %v", err)
	}

	if len(key) != 32 {
		t.Errorf("GenerateKey() returned key of length %d, want 32", len(key))
	}

	key2, err := GenerateKey()
	if err != nil {
		t.Fatalf("GenerateKey() error = %v", err)
	}
	if bytes.Equal(key, key2) {
		t.Error("GenerateKey() returned identical keys")
	}
}

func TestNewEncryptor(t *testing.T) {
	tests := []struct {
		name       string
		key        []byte
		wantErr    bool
		wantEnable bool
	}{
		{name: "32-byte key", key: make([]byte, 32), wantEnable: true},
		{name: "nil key disables", key: nil},
		{name: "empty key disables", key: []byte{}},
		{name: "16-byte key", key: make([]byte, 16), wantErr: true},
		{name: "64-byte key", key: make([]byte, 64), wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			enc, err := NewEncryptor(tt.key)
			if (err != nil) != tt.wantErr {
				t.Fatalf("NewEncryptor() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil {
				return
			}
			if enc.IsEnabled() != tt.wantEnable {
				t.Errorf("IsEnabled() = %v, want %v", enc.IsEnabled(), tt.wantEnable)
			}
		})
	}
}

func TestEncryptor_RoundTrip(t *testing.T) {
	key, err := GenerateKey()
	if err != nil {
		t.Fatalf("GenerateKey() error = %v", err)
	}
	enc, err := NewEncryptor(key)
	if err != nil {
		t.Fatalf("NewEncryptor() error = %v", err)
	}

	for _, plaintext := range []string{"refresh-token-value", "", strings.Repeat("x", 4096)} {
		ciphertext, err := enc.Encrypt(plaintext)
		if err != nil {
			t.Fatalf("Encrypt() error = %v", err)
		}
		if plaintext != "" && ciphertext == plaintext {
			t.Error("Encrypt() returned plaintext")
		}
		got, err := enc.Decrypt(ciphertext)
		if err != nil {
			t.Fatalf("Decrypt() error = %v", err)
		}
		if got != plaintext {
			t.Errorf("Decrypt() = %q, want %q", got, plaintext)
		}
	}
}

func TestEncryptor_Disabled(t *testing.T) {
	enc, _ := NewEncryptor(nil)

	out, err := enc.Encrypt("value")
	if err != nil || out != "value" {
		t.Errorf("Encrypt() = %q, %v; want passthrough", out, err)
	}
	out, err = enc.Decrypt("value")
	if err != nil || out != "value" {
		t.Errorf("Decrypt() = %q, %v; want passthrough", out, err)
	}

	var nilEnc *Encryptor
	if nilEnc.IsEnabled() {
		t.Error("nil Encryptor reported enabled")
	}
}

func TestEncryptor_WrongKey(t *testing.T) {
	k1, _ := GenerateKey()
	k2, _ := GenerateKey()
	e1, _ := NewEncryptor(k1)
	e2, _ := NewEncryptor(k2)

	ciphertext, err := e1.Encrypt("secret")
	if err != nil {
		t.Fatalf("Encrypt() error = %v", err)
	}
	if _, err := e2.Decrypt(ciphertext); !errors.Is(err, ErrDecryptionFailed) {
		t.Errorf("Decrypt() with wrong key error = %v, want ErrDecryptionFailed", err)
	}
}

func TestSealWithKey_RoundTrip(t *testing.T) {
	key := "0123456789abcdef0123456789abcdef"
	tests := []string{
		"abcdefghijklmnopqrstuvwxyz012345",
		"",
		"state with spaces and unicode é",
	}

	for _, plaintext := range tests {
		blob, err := SealWithKey(plaintext, key)
		if err != nil {
			t.Fatalf("SealWithKey() error = %v", err)
		}
		if strings.ContainsAny(blob, "+/=") {
			t.Errorf("SealWithKey() = %q, want URL-safe unpadded output", blob)
		}
		got, err := OpenWithKey(blob, key)
		if err != nil {
			t.Fatalf("OpenWithKey() error = %v", err)
		}
		if got != plaintext {
			t.Errorf("OpenWithKey() = %q, want %q", got, plaintext)
		}
	}
}

func TestSealWithKey_FreshNonce(t *testing.T) {
	key := "0123456789abcdef0123456789abcdef"
	a, _ := SealWithKey("same", key)
	b, _ := SealWithKey("same", key)
	if a == b {
		t.Error("SealWithKey() produced identical blobs for identical input")
	}
}

func TestSealWithKey_ShortKey(t *testing.T) {
	if _, err := SealWithKey("plain", "short"); err == nil {
		t.Error("SealWithKey() with short key expected error")
	}
}

func TestOpenWithKey_RejectsEveryBitFlip(t *testing.T) {
	key := "0123456789abcdef0123456789abcdef"
	for _, plaintext := range []string{"plain", "abcdefghijklmnopqrstuvwxyz012345"} {
		blob, err := SealWithKey(plaintext, key)
		if err != nil {
			t.Fatalf("SealWithKey() error = %v", err)
		}
		for i := 0; i < len(blob); i++ {
			for bit := 0; bit < 8; bit++ {
				b := []byte(blob)
				b[i] ^= 1 << bit
				if got, err := OpenWithKey(string(b), key); !errors.Is(err, ErrDecryptionFailed) {
					t.Fatalf("OpenWithKey() with byte %d bit %d flipped = %q, %v, want ErrDecryptionFailed", i, bit, got, err)
				}
			}
		}
	}
}

func TestOpenWithKey_Failures(t *testing.T) {
	key := "0123456789abcdef0123456789abcdef"
	blob, err := SealWithKey("plain", key)
	if err != nil {
		t.Fatalf("SealWithKey() error = %v", err)
	}
	raw, _ := base64.RawURLEncoding.DecodeString(blob)

	flipped := bytes.Clone(raw)
	flipped[len(flipped)-1] ^= 0x01

	badVersion := bytes.Clone(raw)
	badVersion[0] = 9

	tests := []struct {
		name string
		blob string
		key  string
	}{
		{name: "wrong key", blob: blob, key: "fedcba9876543210fedcba9876543210"},
		{name: "tampered tag", blob: base64.RawURLEncoding.EncodeToString(flipped), key: key},
		{name: "unknown version", blob: base64.RawURLEncoding.EncodeToString(badVersion), key: key},
		{name: "truncated", blob: base64.RawURLEncoding.EncodeToString(raw[:10]), key: key},
		{name: "not base64", blob: "!!not-base64!!", key: key},
		{name: "empty", blob: "", key: key},
		{name: "short key", blob: blob, key: "short"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := OpenWithKey(tt.blob, tt.key)
			if !errors.Is(err, ErrDecryptionFailed) {
				t.Errorf("OpenWithKey() error = %v, want ErrDecryptionFailed", err)
			}
		})
	}
}

func TestKeyBase64(t *testing.T) {
	key, _ := GenerateKey()
	encoded := KeyToBase64(key)

	decoded, err := KeyFromBase64(encoded)
	if err != nil {
		t.Fatalf("KeyFromBase64() error = %v", err)
	}
	if !bytes.Equal(decoded, key) {
		t.Error("KeyFromBase64() did not return original key")
	}

	if _, err := KeyFromBase64(base64.StdEncoding.EncodeToString(make([]byte, 16))); err == nil {
		t.Error("KeyFromBase64() with 16-byte key expected error")
	}
	if _, err := KeyFromBase64("%%%"); err == nil {
		t.Error("KeyFromBase64() with invalid base64 expected error")
	}
}
