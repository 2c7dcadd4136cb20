package validate

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/andperez123/capnet/internal/identity"
)

const MaxMessageLen = 2000

// Email checks a trimmed address.
func Email(v string) error {
	if v == "" {
		return fmt.Errorf("email is required")
	}
	if !identity.ValidEmail(v) {
		return fmt.Errorf("invalid email")
	}
	return nil
}

func NonEmpty(field, v string) error {
	if strings.TrimSpace(v) == "" {
		return fmt.Errorf("%s is required", field)
	}
	return nil
}

func MaxLen(field string, v *string, limit int) error {
	if v == nil {
		return nil
	}
	if len(*v) > limit {
		return fmt.Errorf("%s exceeds %d characters", field, limit)
	}
	return nil
}

// Skills accepts a JSON array of strings or a comma separated string.
// Anything else, including an absent field, yields no skills.
func Skills(raw json.RawMessage) []string {
	if len(raw) == 0 {
		return []string{}
	}
	var list []string
	if err := json.Unmarshal(raw, &list); err == nil {
		return list
	}
	var mixed []interface{}
	if err := json.Unmarshal(raw, &mixed); err == nil {
		out := make([]string, 0, len(mixed))
		for _, v := range mixed {
			if s, ok := v.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	var csv string
	if err := json.Unmarshal(raw, &csv); err == nil {
		out := []string{}
		for _, s := range strings.Split(csv, ",") {
			if s = strings.TrimSpace(s); s != "" {
				out = append(out, s)
			}
		}
		return out
	}
	return []string{}
}

// Truthy reads flags sent either as a JSON boolean or as the string "true".
func Truthy(raw json.RawMessage) bool {
	var b bool
	if json.Unmarshal(raw, &b) == nil {
		return b
	}
	var s string
	return json.Unmarshal(raw, &s) == nil && s == "true"
}

// OptionalString returns the value of a JSON string field and whether it
// was a string at all.
func OptionalString(raw json.RawMessage) (string, bool) {
	var s string
	if len(raw) == 0 || json.Unmarshal(raw, &s) != nil {
		return "", false
	}
	return s, true
}
