package selfheal

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/PuerkitoBio/goquery"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Paul008/oem-agent-sub002/internal/llm"
)

func parseDoc(t *testing.T, html string) *goquery.Document {
	t.Helper()
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	require.NoError(t, err)
	return doc
}

func TestAttempt_L2SuccessUpdatesStats(t *testing.T) {
	doc := parseDoc(t, `<div class="price-value">$100</div>`)
	cfg := Config{Selector: ".price-value", SuccessRate: 0.5, FailureCount: 2}

	res, err := Attempt(context.Background(), nil, cfg, doc, "", "", "", Options{})
	require.NoError(t, err)
	assert.Equal(t, LayerL2, res.Layer)
	assert.Equal(t, "$100", res.Value)
	assert.Equal(t, 0, res.Updated.FailureCount)
	assert.InDelta(t, 0.55, res.Updated.SuccessRate, 1e-9)
}

func TestAttempt_SuccessRateStaysInUnitInterval(t *testing.T) {
	rate := 0.0
	for i := 0; i < 50; i++ {
		rate = updateSuccessRate(rate, true)
		assert.GreaterOrEqual(t, rate, 0.0)
		assert.LessOrEqual(t, rate, 1.0)
	}
	for i := 0; i < 50; i++ {
		rate = updateSuccessRate(rate, false)
		assert.GreaterOrEqual(t, rate, 0.0)
		assert.LessOrEqual(t, rate, 1.0)
	}
}

func TestAttempt_BelowThresholdReturnsL2Failed(t *testing.T) {
	doc := parseDoc(t, `<div class="other">$100</div>`)
	cfg := Config{Selector: ".price-value", FailureCount: 0}

	res, err := Attempt(context.Background(), nil, cfg, doc, "", "", "", Options{FailureThreshold: 3})
	require.NoError(t, err)
	assert.Equal(t, LayerL2Failed, res.Layer)
	assert.Equal(t, 1, res.Updated.FailureCount)
}

func TestAttempt_NthFailureTriggersRepair(t *testing.T) {
	doc := parseDoc(t, `<div data-testid="variant-price">$99</div>`)
	oracle := fakeOracle{selector: `[data-testid="variant-price"]`}
	cfg := Config{Selector: ".price-value", FailureCount: 1}

	res, err := Attempt(context.Background(), oracle, cfg, doc, "<html></html>", "https://oem.example/p", "oem-a", Options{FailureThreshold: 2})
	require.NoError(t, err)
	assert.Equal(t, LayerL3, res.Layer)
	assert.Equal(t, "$99", res.Value)
	assert.Equal(t, `[data-testid="variant-price"]`, res.Updated.Selector)
	assert.Equal(t, 1, res.Updated.RepairCount)
	assert.Equal(t, 0, res.Updated.FailureCount)
}

func TestAttempt_RepairFailsKeepsOldSelector(t *testing.T) {
	doc := parseDoc(t, `<div class="price-value">$100</div>`)
	oracle := fakeOracle{selector: ".nonexistent-selector"}
	cfg := Config{Selector: ".old-selector", FailureCount: 2}

	res, err := Attempt(context.Background(), oracle, cfg, doc, "", "", "", Options{FailureThreshold: 3})
	require.NoError(t, err)
	assert.Equal(t, LayerL3Failed, res.Layer)
	assert.Equal(t, ".old-selector", res.Updated.Selector)
}

func TestAttempt_OracleErrorAbandonsSlotWithoutPanicking(t *testing.T) {
	doc := parseDoc(t, `<div></div>`)
	oracle := fakeOracle{err: errors.New("boom")}
	cfg := Config{Selector: ".x", FailureCount: 2}

	res, err := Attempt(context.Background(), oracle, cfg, doc, "", "", "", Options{FailureThreshold: 3})
	require.Error(t, err)
	assert.Equal(t, LayerL3Failed, res.Layer)
	assert.Equal(t, ".x", res.Updated.Selector)
}

func TestParseSelectorCandidate_RejectsInvalidShapes(t *testing.T) {
	cases := []struct {
		in string
		ok bool
	}{
		{"```\n.price\n```", true},
		{`"[data-testid='x']"`, true},
		{"", false},
		{strings.Repeat("a", 501), false},
		{"!! not a selector at all", false},
		{".valid-one", true},
		{"#valid-two", true},
		{"valid_three", true},
	}
	for _, tc := range cases {
		_, ok := parseSelectorCandidate(tc.in)
		assert.Equal(t, tc.ok, ok, "input %q", tc.in)
	}
}

type fakeOracle struct {
	selector string
	err      error
}

func (f fakeOracle) RepairSelector(ctx context.Context, req llm.RepairRequest) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	return f.selector, nil
}
