package identity

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

const (
	// CookieName is the browser identity cookie
	CookieName = "vs_bid"

	// cookieMaxAge keeps the identity cookie around for a year
	cookieMaxAge = 365 * 24 * 60 * 60

	minLength = 16
	maxLength = 128
)

// Resolve extracts the browser identity from the inbound Cookie header,
// minting a fresh one when the cookie is absent or fails the shape check.
// The second return value is a Set-Cookie directive the caller must attach
// to the response (on every path, including errors); it is empty when the
// existing cookie was accepted.
func Resolve(cookieHeader string) (string, string) {
	if existing := cookieValue(cookieHeader, CookieName); IsValid(existing) {
		return existing, ""
	}

	id := uuid.New().String()
	directive := fmt.Sprintf("%s=%s; Path=/; Max-Age=%d; SameSite=Lax; HttpOnly",
		CookieName, id, cookieMaxAge)
	return id, directive
}

// IsValid reports whether a cookie value looks like an identity we issued:
// bounded length, alphanumerics and hyphens only. This rejects injected or
// garbage values without needing a signature.
func IsValid(value string) bool {
	if len(value) < minLength || len(value) > maxLength {
		return false
	}
	for _, ch := range value {
		switch {
		case ch >= 'a' && ch <= 'z':
		case ch >= 'A' && ch <= 'Z':
		case ch >= '0' && ch <= '9':
		case ch == '-':
		default:
			return false
		}
	}
	return true
}

// cookieValue pulls a single cookie value out of a raw Cookie header
func cookieValue(header, name string) string {
	for _, part := range strings.Split(header, ";") {
		key, value, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			continue
		}
		if key == name {
			return value
		}
	}
	return ""
}
