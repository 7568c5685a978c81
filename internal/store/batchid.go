package store

import (
	"strings"
	"unicode"

	"github.com/google/uuid"
)

// NewBatchID builds a batch identifier from a slug of the tenant name and
// a fresh UUID, e.g. "acme-corp-6f1c…".
func NewBatchID(tenant string) string {
	slug := Slugify(tenant)
	if slug == "" {
		slug = "batch"
	}
	return slug + "-" + uuid.NewString()
}

// Slugify lowercases s and collapses every run of non-alphanumeric runes
// into a single hyphen, trimming hyphens at both ends.
func Slugify(s string) string {
	var b strings.Builder
	lastHyphen := true // suppress a leading hyphen
	for _, r := range strings.ToLower(s) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
			lastHyphen = false
			continue
		}
		if !lastHyphen {
			b.WriteByte('-')
			lastHyphen = true
		}
	}
	return strings.TrimRight(b.String(), "-")
}
