// Package tokencodec converts provider access tokens to and from the form
// handed to clients.
//
// The encoding is reversible obfuscation (unpadded base64url), not a secret.
// Anything that holds the transport form can present it.
package tokencodec

import (
	"encoding/base64"
	"errors"
	"unicode"
)

// ErrMalformed is returned by Decode when the input cannot be a transport
// token. It is a client input error, distinct from an unknown credential.
var ErrMalformed = errors.New("malformed transport token")

// Encode returns the transport form of accessToken.
func Encode(accessToken string) string {
	return base64.RawURLEncoding.EncodeToString([]byte(accessToken))
}

// Decode reverses Encode.
func Decode(transport string) (string, error) {
	if transport == "" {
		return "", ErrMalformed
	}

	raw, err := base64.RawURLEncoding.Strict().DecodeString(transport)
	if err != nil {
		return "", ErrMalformed
	}
	if len(raw) == 0 {
		return "", ErrMalformed
	}
	for _, r := range string(raw) {
		if r == unicode.ReplacementChar || !unicode.IsPrint(r) || unicode.IsSpace(r) {
			return "", ErrMalformed
		}
	}
	return string(raw), nil
}
