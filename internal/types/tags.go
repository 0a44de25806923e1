package types

// voteTags is the closed tag vocabulary. Tags outside this set yield
// INVALID_TAG.
var voteTags = map[string]bool{
	"fun":            true,
	"boring":         true,
	"good_flow":      true,
	"creative":       true,
	"unfair":         true,
	"confusing":      true,
	"too_hard":       true,
	"too_easy":       true,
	"not_mario_like": true,
}

// IsAllowedTag reports whether tag belongs to the vocabulary.
func IsAllowedTag(tag string) bool { return voteTags[tag] }

// ValidateTags returns the first tag not in the vocabulary, or "" when
// all tags are legal.
func ValidateTags(tags []string) string {
	for _, t := range tags {
		if !voteTags[t] {
			return t
		}
	}
	return ""
}

// AllowedTags returns the vocabulary as a slice, for stats reporting.
func AllowedTags() []string {
	out := make([]string, 0, len(voteTags))
	for t := range voteTags {
		out = append(out, t)
	}
	return out
}
