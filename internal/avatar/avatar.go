// Package avatar builds deterministic avatar image URLs for chat profiles.
// The same seed always yields the same image, so upserting a user is
// idempotent with respect to its picture.
package avatar

import (
	"net/url"
	"strings"
	"unicode"
)

const apiBase = "https://api.dicebear.com/9.x"

// Variants used for generated profiles. Agents get the neutral bot style,
// humans get initials.
const (
	VariantBotttsNeutral = "botttsNeutral"
	VariantInitials      = "initials"
)

// GeneratedURI returns the SVG avatar URL for the given seed and variant.
// Unknown variants fall back to the neutral bot style.
func GeneratedURI(seed, variant string) string {
	style := styleSlug(variant)
	if style == "" {
		style = styleSlug(VariantBotttsNeutral)
	}
	return apiBase + "/" + style + "/svg?seed=" + url.QueryEscape(strings.TrimSpace(seed))
}

// styleSlug converts a camelCase variant name into the kebab-case style
// segment the image API expects.
func styleSlug(variant string) string {
	variant = strings.TrimSpace(variant)
	if variant == "" {
		return ""
	}
	var b strings.Builder
	for i, r := range variant {
		if unicode.IsUpper(r) {
			if i > 0 {
				b.WriteByte('-')
			}
			b.WriteRune(unicode.ToLower(r))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
