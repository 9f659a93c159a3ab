package util

import "strings"

// TokenPrefixLength is how much of a credential may appear in logs.
const TokenPrefixLength = 8

// SafeTruncate returns at most maxLen bytes of s. A negative maxLen yields "".
func SafeTruncate(s string, maxLen int) string {
	if maxLen < 0 {
		return ""
	}
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen]
}

// TokenPrefix returns the loggable prefix of a credential.
func TokenPrefix(token string) string {
	return SafeTruncate(token, TokenPrefixLength)
}

// NormalizeURL strips trailing slashes so base URLs can be joined with paths.
//
//	NormalizeURL("https://users.internal/") // "https://users.internal"
func NormalizeURL(url string) string {
	return strings.TrimRight(url, "/")
}
