package services

import (
	"slices"
	"strings"
)

// ParseScope splits a scope parameter on spaces and commas, dropping
// duplicates while keeping the order.
func ParseScope(scope string) []string {
	fields := strings.FieldsFunc(scope, func(r rune) bool {
		return r == ' ' || r == ','
	})
	if len(fields) == 0 {
		return nil
	}

	out := make([]string, 0, len(fields))
	for _, f := range fields {
		if !slices.Contains(out, f) {
			out = append(out, f)
		}
	}
	return out
}

// FormatScope joins scopes into the space delimited wire form.
func FormatScope(scopes []string) string {
	return strings.Join(scopes, " ")
}

// firstNotIn returns the first scope of requested missing from allowed.
func firstNotIn(requested, allowed []string) (string, bool) {
	for _, s := range requested {
		if !slices.Contains(allowed, s) {
			return s, true
		}
	}
	return "", false
}
