// Package selfheal implements the per-selector state machine: try the
// cached CSS selector, fall back to LLM-assisted repair after repeated
// failures, and track a rolling success rate per selector.
package selfheal

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/Paul008/oem-agent-sub002/internal/llm"
)

// Config is one selector slot's persisted state (spec §4.4's SelectorConfig).
// Semantic is a human-readable description of what the selector should
// match, drawn from a fixed vocabulary of extraction slots — one entry per
// slot, never freeform per-attempt text.
type Config struct {
	Selector     string
	Semantic     string
	LastVerified string
	SuccessRate  float64
	FailureCount int
	HitCount     int
	RepairCount  int
}

// Layer identifies which extraction layer produced a result.
type Layer string

const (
	LayerL2       Layer = "L2"
	LayerL2Failed Layer = "L2_FAILED"
	LayerL3       Layer = "L3_ADAPTIVE"
	LayerL3Failed Layer = "L3_FAILED"
)

// Options tunes the state machine; zero value uses spec defaults.
type Options struct {
	FailureThreshold int
	MaxDOMSize       int
	RepairTimeoutMs  int
}

func (o Options) withDefaults() Options {
	if o.FailureThreshold <= 0 {
		o.FailureThreshold = 3
	}
	if o.MaxDOMSize <= 0 {
		o.MaxDOMSize = 50000
	}
	if o.RepairTimeoutMs <= 0 {
		o.RepairTimeoutMs = 30000
	}
	return o
}

// AttemptResult is the outcome of one Attempt call.
type AttemptResult struct {
	Layer   Layer
	Value   string
	Found   bool
	Updated Config
}

var validSelectorStart = regexp.MustCompile(`^[.#\[\w]`)

// parseSelectorCandidate implements spec §4.4's LLM-response parsing: strip
// code fences and wrapping quotes, then reject anything empty, longer than
// 500 characters, or not starting with '.', '#', '[' or a word character;
// only the first character is checked. A rejected candidate is a plain signal, not an
// error — the state machine falls back to L3_FAILED and keeps the old
// selector, never re-queries.
func parseSelectorCandidate(raw string) (string, bool) {
	s := strings.TrimSpace(raw)
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	s = strings.TrimSpace(s)
	s = strings.Trim(s, `"'`)
	s = strings.TrimSpace(s)

	if s == "" || len(s) > 500 {
		return "", false
	}
	if !validSelectorStart.MatchString(s) {
		return "", false
	}
	return s, true
}

func updateSuccessRate(rate float64, success bool) float64 {
	indicator := 0.0
	if success {
		indicator = 1.0
	}
	return 0.9*rate + 0.1*indicator
}

// tryOnDOM reports whether selector matches at least one node in doc.
func tryOnDOM(doc *goquery.Document, selector string) (string, bool) {
	sel := doc.Find(selector)
	if sel.Length() == 0 {
		return "", false
	}
	return strings.TrimSpace(sel.First().Text()), true
}

// Attempt runs the state machine for one selector slot against an already
// parsed DOM document. oracle may be nil only if cfg never needs repair in
// the caller's tests; production callers always supply a real Oracle.
func Attempt(ctx context.Context, oracle llm.Oracle, cfg Config, doc *goquery.Document, domHTML, url, tenantID string, opts Options) (AttemptResult, error) {
	opts = opts.withDefaults()

	if value, ok := tryOnDOM(doc, cfg.Selector); ok {
		next := cfg
		next.HitCount++
		next.FailureCount = 0
		next.SuccessRate = updateSuccessRate(cfg.SuccessRate, true)
		return AttemptResult{Layer: LayerL2, Value: value, Found: true, Updated: next}, nil
	}

	next := cfg
	next.FailureCount++
	next.SuccessRate = updateSuccessRate(cfg.SuccessRate, false)

	if next.FailureCount < opts.FailureThreshold {
		return AttemptResult{Layer: LayerL2Failed, Updated: next}, nil
	}

	if oracle == nil {
		return AttemptResult{Layer: LayerL3Failed, Updated: next}, nil
	}

	raw, err := oracle.RepairSelector(ctx, llm.RepairRequest{
		Semantic:    cfg.Semantic,
		OldSelector: cfg.Selector,
		DOM:         domHTML,
		URL:         url,
		TenantID:    tenantID,
		MaxDOMSize:  opts.MaxDOMSize,
		DeadlineMs:  opts.RepairTimeoutMs,
	})
	if err != nil {
		// Transient I/O per the driver's error taxonomy: selector state is
		// preserved, the slot is abandoned for this run.
		return AttemptResult{Layer: LayerL3Failed, Updated: next}, fmt.Errorf("selfheal: repair request: %w", err)
	}

	candidate, ok := parseSelectorCandidate(raw)
	if !ok {
		return AttemptResult{Layer: LayerL3Failed, Updated: next}, nil
	}

	value, found := tryOnDOM(doc, candidate)
	if !found {
		return AttemptResult{Layer: LayerL3Failed, Updated: next}, nil
	}

	next.Selector = candidate
	next.RepairCount++
	next.FailureCount = 0
	next.SuccessRate = updateSuccessRate(next.SuccessRate, true)
	return AttemptResult{Layer: LayerL3, Value: value, Found: true, Updated: next}, nil
}
