// Package tags turns free-form tag input into a canonical tag set.
package tags

import "strings"

// isSeparator matches the delimiters accepted between tags: commas and
// line breaks (so both "a, b" and one-tag-per-line textareas work).
func isSeparator(r rune) bool {
	return r == ',' || r == '\n' || r == '\r'
}

// Normalize splits every value on commas and newlines, trims and lowercases
// each candidate, drops empties and removes duplicates.
//
// The result is never nil, so callers can store or serialize it directly
// (an empty set marshals as [] rather than null). Order follows first
// appearance but callers must not rely on it.
//
// Normalize is idempotent: Normalize(Normalize(x)) equals Normalize(x),
// because a normalized tag contains no separators, surrounding space or
// upper-case letters.
func Normalize(values []string) []string {
	out := make([]string, 0, len(values))
	seen := make(map[string]struct{}, len(values))

	for _, value := range values {
		for _, candidate := range strings.FieldsFunc(value, isSeparator) {
			tag := strings.ToLower(strings.TrimSpace(candidate))
			if tag == "" {
				continue
			}
			if _, dup := seen[tag]; dup {
				continue
			}
			seen[tag] = struct{}{}
			out = append(out, tag)
		}
	}

	return out
}

// Parse normalizes a single delimited string such as "a, B\nc".
func Parse(input string) []string {
	return Normalize([]string{input})
}
