package identity

import (
	"regexp"
	"strings"

	"github.com/go-openapi/strfmt"
)

var emailRx = regexp.MustCompile(`^[^@\s]+@[^@\s]+\.[^@\s]+$`)

// NormalizeEmail trims and lower-cases an email address. The result is the
// natural key of an operator.
func NormalizeEmail(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// ValidEmail reports whether s (already trimmed) looks like a deliverable
// address: local@domain.tld without whitespace, at most 320 bytes.
func ValidEmail(s string) bool {
	if s == "" || len(s) > 320 {
		return false
	}
	return emailRx.MatchString(s) && strfmt.IsEmail(s)
}
