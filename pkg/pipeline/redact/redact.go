package redact

import (
	"regexp"
	"strings"
)

var (
	// Matches "Bearer <token>" (JWTs and opaque tokens).
	bearerTokenRe = regexp.MustCompile(`(?i)\bBearer\s+[^\s"']+`)

	// Common key=value and JSON key formats that sometimes leak in error strings.
	secretKVRe = regexp.MustCompile(`(?i)"?\b(api[_-]?key|access[_-]?token|refresh[_-]?token|client[_-]?secret)\b"?\s*[:=]\s*"?[^\s"',}]+"?`)

	// Google OAuth access tokens.
	oauthTokenRe = regexp.MustCompile(`\bya29\.[0-9A-Za-z_\-.]+`)
)

// Secrets removes obvious secret-bearing substrings from error/log strings.
func Secrets(s string) string {
	if s == "" {
		return ""
	}
	out := s
	out = bearerTokenRe.ReplaceAllString(out, "Bearer <redacted>")
	out = secretKVRe.ReplaceAllString(out, "<redacted_kv>")
	out = oauthTokenRe.ReplaceAllString(out, "<redacted_token>")
	return strings.TrimSpace(out)
}
