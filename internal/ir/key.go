package ir

import (
	"fmt"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// NormalizeKey canonicalizes an entity key (kennitala): NFKC folds
// full-width digits, surrounding space and the dash are removed, and the
// result must be exactly ten ASCII digits.
func NormalizeKey(raw string) (string, error) {
	s := norm.NFKC.String(strings.TrimSpace(raw))
	s = strings.ReplaceAll(s, "-", "")
	if len(s) != 10 {
		return "", fmt.Errorf("entity key %q: want 10 digits, got %d characters", MaskKey(raw), len(s))
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return "", fmt.Errorf("entity key %q: non-digit character", MaskKey(raw))
		}
	}
	return s, nil
}

// MaskKey hides all but the last four characters of an entity key for
// logging: "0101701234" becomes "******1234".
func MaskKey(key string) string {
	if len(key) < 4 {
		return "****"
	}
	return strings.Repeat("*", len(key)-4) + key[len(key)-4:]
}
