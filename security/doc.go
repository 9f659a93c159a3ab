// Package security provides the cryptographic and request-protection
// primitives used by the authentication service.
//
// # State sealing
//
// SealWithKey and OpenWithKey protect the CSRF state value handed to the
// browser. Each state gets its own random key string; the AES-256 key is
// derived from it with HKDF-SHA256 and the blob is versioned:
//
//	blob := base64url( 0x01 || nonce(12) || AES-GCM(plaintext) )
//
// Any failure to open a blob wraps ErrDecryptionFailed.
//
// # Encryption at rest
//
// Encryptor wraps a fixed 32-byte AES-256-GCM key and is used to protect
// refresh tokens held in the cache tier. A nil or empty key disables it and
// values pass through unchanged.
//
//	key, _ := security.GenerateKey()
//	enc, _ := security.NewEncryptor(key)
//	sealed, _ := enc.Encrypt(refreshToken)
//
// # Request protection
//
// RateLimiter is a per-IP token bucket with LRU eviction, bounded at
// MaxEntries identifiers:
//
//	limiter := security.NewRateLimiter(security.RateLimitConfig{
//	    RequestsPerSecond: 10,
//	    Burst:             20,
//	})
//	defer limiter.Stop()
//	handler = limiter.Middleware(ips, auditor, handler)
//
// RequestIDMiddleware and HeadersMiddleware complete the middleware chain.
package security
