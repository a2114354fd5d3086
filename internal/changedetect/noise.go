package changedetect

import (
	"regexp"
	"strings"
)

// noisePatterns implements spec §4.6's noise-field predicate: tracking
// parameters, session/token names, copyright/year strings, experiment
// names, analytics substrings, CSS class-hash fields, comment/share
// counters, and cookie-consent fields never produce a ChangeEvent on their
// own.
var noisePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)^utm_`),
	regexp.MustCompile(`(?i)gclid`),
	regexp.MustCompile(`(?i)fbclid`),
	regexp.MustCompile(`(?i)session`),
	regexp.MustCompile(`(?i)token`),
	regexp.MustCompile(`(?i)copyright`),
	regexp.MustCompile(`(?i)(^|_)year$`),
	regexp.MustCompile(`(?i)experiment`),
	regexp.MustCompile(`(?i)variant(_|-)?id`),
	regexp.MustCompile(`(?i)analytics`),
	regexp.MustCompile(`(?i)track(ing)?`),
	regexp.MustCompile(`(?i)class.?hash`),
	regexp.MustCompile(`(?i)(comment|share)(_|-)?count`),
	regexp.MustCompile(`(?i)cookie.?consent`),
}

// isNoiseField reports whether a field name matches any noise pattern.
func isNoiseField(field string) bool {
	for _, p := range noisePatterns {
		if p.MatchString(field) {
			return true
		}
	}
	return false
}

func containsPrice(field string) bool {
	return strings.Contains(strings.ToLower(field), "price")
}

func isImageField(field string) bool {
	lower := strings.ToLower(field)
	return strings.Contains(lower, "image") || strings.HasSuffix(lower, "imageref")
}
