// Package identity validates and canonicalizes agent and operator identifiers.
//
// Canonical identifiers look like {kind}:{namespace}:{localId}. A UUID literal
// is accepted as-is for either kind.
package identity

import (
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

// Kind is the leading segment of a canonical identifier.
type Kind string

const (
	KindAgent    Kind = "agent"
	KindOperator Kind = "operator"
)

// DefaultNamespace is used when configuration does not name one.
const DefaultNamespace = "praxis"

const maxLocalIDLen = 128

// Normalizer issues and canonicalizes identifiers under a fixed namespace.
type Normalizer struct {
	namespace string
	now       func() time.Time
}

// New returns a Normalizer for namespace. An empty namespace means DefaultNamespace.
func New(namespace string) *Normalizer {
	namespace = strings.TrimSpace(namespace)
	if namespace == "" {
		namespace = DefaultNamespace
	}
	return &Normalizer{namespace: namespace, now: time.Now}
}

// Namespace returns the namespace applied by Normalize and Assign.
func (n *Normalizer) Namespace() string { return n.namespace }

// Validate reports whether id is a UUID literal or {kind}:{namespace}:{localId}
// with non-empty namespace and localId. localId may contain colons.
func Validate(id string, kind Kind) bool {
	t := strings.TrimSpace(id)
	if t == "" {
		return false
	}
	if isUUID(t) {
		return true
	}
	rest, ok := strings.CutPrefix(t, string(kind)+":")
	if !ok {
		return false
	}
	ns, local, ok := strings.Cut(rest, ":")
	if !ok || ns == "" {
		return false
	}
	localHead, _, _ := strings.Cut(local, ":")
	return localHead != ""
}

// Normalize returns id unchanged when it is already valid for kind, and
// otherwise wraps a sanitized form as {kind}:{namespace}:{sanitized}.
// It reports false for empty input.
func (n *Normalizer) Normalize(id string, kind Kind) (string, bool) {
	t := strings.TrimSpace(id)
	if t == "" {
		return "", false
	}
	if Validate(t, kind) {
		return t, true
	}
	local := sanitize(t)
	if local == "" {
		local = sanitize(strconv.FormatInt(n.now().UnixMilli(), 10))
	}
	return string(kind) + ":" + n.namespace + ":" + local, true
}

// Assign generates a fresh identifier. There is no collision check; the
// random part is a ULID.
func (n *Normalizer) Assign(kind Kind) string {
	return string(kind) + ":" + n.namespace + ":" + strings.ToLower(ulid.Make().String())
}

func (n *Normalizer) NormalizeAgentID(id string) (string, bool) { return n.Normalize(id, KindAgent) }

func (n *Normalizer) NormalizeOperatorID(id string) (string, bool) {
	return n.Normalize(id, KindOperator)
}

func (n *Normalizer) AssignAgentID() string    { return n.Assign(KindAgent) }
func (n *Normalizer) AssignOperatorID() string { return n.Assign(KindOperator) }

func ValidateAgentID(id string) bool    { return Validate(id, KindAgent) }
func ValidateOperatorID(id string) bool { return Validate(id, KindOperator) }

// isUUID accepts only the hyphenated 36-character form.
func isUUID(s string) bool {
	return len(s) == 36 && uuid.Validate(s) == nil
}

// sanitize keeps [A-Za-z0-9_-] and truncates to 128 characters.
func sanitize(s string) string {
	var b strings.Builder
	for _, r := range s {
		if b.Len() >= maxLocalIDLen {
			break
		}
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == '-':
			b.WriteRune(r)
		}
	}
	return b.String()
}
