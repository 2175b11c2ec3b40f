// Package kv parses repeatable "key=value" style CLI arguments.
package kv

import (
	"fmt"
	"strings"
)

// Parse converts entries of the form "key<sep>value" into a map.
// Keys and values are trimmed; an entry without sep or with an empty key is an error.
func Parse(entries []string, sep string) (map[string]string, error) {
	m := make(map[string]string, len(entries))
	for _, entry := range entries {
		key, value, ok := strings.Cut(entry, sep)
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, fmt.Errorf("expected key%svalue, got %q", sep, entry)
		}
		m[key] = strings.TrimSpace(value)
	}
	return m, nil
}

// Range parses "min-max" into two integers
func Range(s string) (lo, hi int, err error) {
	a, b, ok := strings.Cut(s, "-")
	if !ok {
		return 0, 0, fmt.Errorf("expected min-max, got %q", s)
	}
	if _, err := fmt.Sscanf(strings.TrimSpace(a), "%d", &lo); err != nil {
		return 0, 0, fmt.Errorf("invalid range start %q", a)
	}
	if _, err := fmt.Sscanf(strings.TrimSpace(b), "%d", &hi); err != nil {
		return 0, 0, fmt.Errorf("invalid range end %q", b)
	}
	if lo < 0 || hi < lo {
		return 0, 0, fmt.Errorf("range must satisfy 0 <= min <= max, got %q", s)
	}
	return lo, hi, nil
}
