package middleware

import (
	"strconv"
	"strings"
)

// SanitizeText strips NUL and control characters from submitted contract
// text. Tabs and line breaks survive since they carry paragraph structure.
func SanitizeText(input string) string {
	input = strings.ReplaceAll(input, "\x00", "")

	var result strings.Builder
	result.Grow(len(input))
	for _, r := range input {
		if r >= 32 || r == '\t' || r == '\n' || r == '\r' {
			result.WriteRune(r)
		}
	}
	return strings.TrimSpace(result.String())
}

// ValidateLimit clamps a limit to [1, max], using def for missing values.
func ValidateLimit(limit, def, max int) int {
	if limit <= 0 {
		return def
	}
	if limit > max {
		return max
	}
	return limit
}

// ParseInt reads an optional integer query value. Garbage reads as zero.
func ParseInt(raw string) int {
	v, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return 0
	}
	return v
}

// ParseBool accepts the usual spellings of true; everything else is false.
func ParseBool(raw string) bool {
	v, err := strconv.ParseBool(strings.TrimSpace(raw))
	return err == nil && v
}
