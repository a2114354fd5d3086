package fetch

import (
	"crypto/sha256"
	"encoding/hex"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
)

// noiseAttrPatterns matches attribute names whose values churn between
// equivalent page loads and must not affect the fingerprint: tracking
// parameters, CSRF tokens, analytics/session ids, and hashed build
// identifiers that Normalize strips before hashing.
var noiseAttrPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)^utm_`),
	regexp.MustCompile(`(?i)^data-(csrf|session|token|request-id|nonce)`),
	regexp.MustCompile(`(?i)^data-(ga|gtm|analytics|track)`),
	regexp.MustCompile(`(?i)^data-build(-|_)?(id|hash|version)?$`),
	regexp.MustCompile(`(?i)^csrf`),
	regexp.MustCompile(`(?i)^nonce$`),
	regexp.MustCompile(`(?i)cookie.?consent`),
}

var noiseElementSelectors = []string{
	"script", "style",
}

// Normalize reduces raw HTML to a stable, lowercase string: script/style
// elements and comments are dropped entirely, noise attributes are stripped
// from every remaining element, and whitespace is collapsed. Two fetches of
// an unchanged page always normalize to byte-identical strings even when
// tracking params, CSRF tokens, or cookie-consent attributes differ between
// loads.
func Normalize(html string) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return ""
	}

	doc.Find(strings.Join(noiseElementSelectors, ", ")).Remove()
	removeComments(doc.Selection)

	doc.Find("*").Each(func(_ int, s *goquery.Selection) {
		node := s.Get(0)
		if node == nil {
			return
		}
		var noisy []string
		for _, attr := range node.Attr {
			if isNoiseAttr(attr.Key) {
				noisy = append(noisy, attr.Key)
			}
		}
		for _, key := range noisy {
			s.RemoveAttr(key)
		}
	})

	text, err := doc.Html()
	if err != nil {
		return ""
	}
	return collapseWhitespace(strings.ToLower(text))
}

func isNoiseAttr(name string) bool {
	for _, p := range noiseAttrPatterns {
		if p.MatchString(name) {
			return true
		}
	}
	return false
}

var whitespaceRun = regexp.MustCompile(`\s+`)

func collapseWhitespace(s string) string {
	return strings.TrimSpace(whitespaceRun.ReplaceAllString(s, " "))
}

// removeComments strips HTML comment nodes recursively. goquery exposes the
// underlying golang.org/x/net/html tree via Selection.Nodes; comments carry
// html.CommentNode type, which goquery.Html() otherwise preserves verbatim.
func removeComments(sel *goquery.Selection) {
	sel.Contents().Each(func(_ int, s *goquery.Selection) {
		node := s.Get(0)
		if node == nil {
			return
		}
		if node.Type == html.CommentNode {
			s.Remove()
			return
		}
		removeComments(s)
	})
}

// Fingerprint returns the SHA-256 hex digest of a normalized HTML string,
// the (fingerprint, normalized_html) pair the scheduler's cheap check emits
// upstream.
func Fingerprint(normalizedHTML string) string {
	sum := sha256.Sum256([]byte(normalizedHTML))
	return hex.EncodeToString(sum[:])
}
