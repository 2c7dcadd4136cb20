// Package session issues operator session tokens and moves them in and out
// of the transport cookie. Tokens carry no claims; authorization is the
// server-side lookup of the token in the store.
package session

import (
	"crypto/rand"
	"encoding/base64"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	CookieName  = "capnet_session"
	Lifetime    = 7 * 24 * time.Hour
	TokenPrefix = "sess_"

	tokenBytes = 24
)

// MaxAgeSeconds is the cookie Max-Age matching Lifetime.
var MaxAgeSeconds = int(Lifetime / time.Second)

// NewToken returns a fresh high-entropy opaque token.
func NewToken() (string, error) {
	b := make([]byte, tokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return TokenPrefix + base64.RawURLEncoding.EncodeToString(b), nil
}

// Cookie builds the session cookie for token.
func Cookie(token string, secure bool) *http.Cookie {
	return &http.Cookie{
		Name:     CookieName,
		Value:    url.PathEscape(token),
		Path:     "/",
		MaxAge:   MaxAgeSeconds,
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
	}
}

// EncodeCookie returns the Set-Cookie header value for token.
func EncodeCookie(token string, secure bool) string {
	return Cookie(token, secure).String()
}

// SetCookie writes the session cookie to w.
func SetCookie(w http.ResponseWriter, token string, secure bool) {
	http.SetCookie(w, Cookie(token, secure))
}

// DecodeToken extracts the session token from a raw Cookie header.
// The name match is exact and case-sensitive; the first non-empty value
// wins. It returns "" when the cookie is absent or its value is malformed.
func DecodeToken(header string) string {
	if header == "" {
		return ""
	}
	for _, part := range strings.Split(header, ";") {
		name, value, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok || strings.TrimSpace(name) != CookieName {
			continue
		}
		value = strings.TrimSpace(value)
		if value == "" {
			continue
		}
		decoded, err := url.PathUnescape(value)
		if err != nil {
			return ""
		}
		return decoded
	}
	return ""
}

// FromRequest returns the session token carried by r, or "".
func FromRequest(r *http.Request) string {
	return DecodeToken(r.Header.Get("Cookie"))
}
