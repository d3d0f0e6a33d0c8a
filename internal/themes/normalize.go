package themes

import "strings"

// Normalize lowercases raw and splits it into distinct theme names. A name is
// a maximal run of latin a-z, cyrillic а-я or digits; everything else
// separates names. First-seen order is kept.
func Normalize(raw string) []string {
	fields := strings.FieldsFunc(strings.ToLower(raw), func(r rune) bool {
		return !isNameRune(r)
	})

	seen := make(map[string]struct{}, len(fields))
	out := make([]string, 0, len(fields))
	for _, field := range fields {
		if _, ok := seen[field]; ok {
			continue
		}
		seen[field] = struct{}{}
		out = append(out, field)
	}
	return out
}

// ё sits outside а-я and is treated as a separator.
func isNameRune(r rune) bool {
	switch {
	case r >= 'a' && r <= 'z':
		return true
	case r >= '0' && r <= '9':
		return true
	case r >= 'а' && r <= 'я':
		return true
	default:
		return false
	}
}
