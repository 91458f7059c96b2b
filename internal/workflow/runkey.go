package workflow

import (
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

const maxRunKeyBytes = 200

// NormalizeRunKey implements Open Question decision #1: Unicode NFKC
// normalization, case-folding, trimming, and an 200-byte cap (truncated on
// a rune boundary so we never split a multi-byte character), giving a
// stable dedup key across operator-supplied strings that differ only in
// case, width, or incidental whitespace.
func NormalizeRunKey(raw string) string {
	trimmed := strings.TrimSpace(raw)
	folded := cases.Fold().String(trimmed)
	normalized := norm.NFKC.String(folded)
	return truncateRunes(normalized, maxRunKeyBytes)
}

func truncateRunes(s string, maxBytes int) string {
	if len(s) <= maxBytes {
		return s
	}
	b := []byte(s)[:maxBytes]
	for len(b) > 0 && !isRuneBoundaryStart(b[len(b)-1]) {
		b = b[:len(b)-1]
	}
	return string(b)
}

// isRuneBoundaryStart reports whether byte b is not a UTF-8 continuation
// byte (10xxxxxx), i.e. it is safe to end a string right before it.
func isRuneBoundaryStart(b byte) bool {
	return b&0xC0 != 0x80
}
