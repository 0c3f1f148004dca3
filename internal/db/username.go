package db

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// CanonicalUsername produces the stored form of a username: trimmed,
// unicode-decomposed with combining marks stripped, and lowercased. Lookups
// and inserts both go through this so "Alice" and "alíce" collide with the
// same stored row they would create.
func CanonicalUsername(username string) string {
	username = strings.TrimSpace(username)

	t := transform.Chain(norm.NFKD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	normalized, _, err := transform.String(t, username)
	if err != nil {
		normalized = username
	}

	return strings.ToLower(normalized)
}
