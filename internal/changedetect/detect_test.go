package changedetect

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Paul008/oem-agent-sub002/internal/wire"
)

func TestDetect_NoiseOnlyChangeReturnsNil(t *testing.T) {
	prev := Fields{"title": "Model X", "utm_source": "google", "price_amount": 30000.0}
	next := Fields{"title": "Model X", "utm_source": "bing", "price_amount": 30000.0}

	got := Detect(wire.EntityProduct, "Model X", prev, next, nil)
	assert.Nil(t, got)
}

func TestDetect_PriceChangeIsCriticalPriceChanged(t *testing.T) {
	prev := Fields{"title": "Model X", "price_amount": 30000.0}
	next := Fields{"title": "Model X", "price_amount": 29990.0}

	got := Detect(wire.EntityProduct, "Model X", prev, next, nil)
	require.NotNil(t, got)
	assert.Equal(t, wire.EventPriceChanged, got.EventType)
	assert.Equal(t, wire.SeverityCritical, got.Severity)
	assert.Contains(t, got.Summary, "price changed from 30000 to 29990")
}

func TestDetect_DeterministicAndIdentityIsNil(t *testing.T) {
	prev := Fields{"title": "Model X", "price_amount": 30000.0}
	next := Fields{"title": "Model X", "price_amount": 29990.0}

	a := Detect(wire.EntityProduct, "Model X", prev, next, nil)
	b := Detect(wire.EntityProduct, "Model X", prev, next, nil)
	assert.Equal(t, a, b)

	assert.Nil(t, Detect(wire.EntityProduct, "Model X", prev, prev, nil))
}

func TestDetect_CreatedIsCriticalForProductHighForOffer(t *testing.T) {
	next := Fields{"title": "New Model"}
	p := Detect(wire.EntityProduct, "New Model", nil, next, nil)
	require.NotNil(t, p)
	assert.Equal(t, wire.EventCreated, p.EventType)
	assert.Equal(t, wire.SeverityCritical, p.Severity)

	o := Detect(wire.EntityOffer, "New Offer", nil, next, nil)
	require.NotNil(t, o)
	assert.Equal(t, wire.SeverityHigh, o.Severity)
}

func TestDetect_RemovedEntity(t *testing.T) {
	prev := Fields{"title": "Gone Model"}
	got := Detect(wire.EntityProduct, "Gone Model", prev, nil, nil)
	require.NotNil(t, got)
	assert.Equal(t, wire.EventRemoved, got.EventType)
}

func TestDetect_AvailabilityChangeIsMeaningful(t *testing.T) {
	prev := Fields{"availability": "in_stock"}
	next := Fields{"availability": "out_of_stock"}
	got := Detect(wire.EntityProduct, "", prev, next, nil)
	require.NotNil(t, got)
	assert.Equal(t, wire.EventAvailabilityChanged, got.EventType)
	assert.Equal(t, wire.SeverityCritical, got.Severity)
}

func TestDetect_ImageFieldRequiresFingerprintChange(t *testing.T) {
	prev := Fields{"primary_image_ref": "https://cdn/a.jpg?v=1"}
	next := Fields{"primary_image_ref": "https://cdn/a.jpg?v=2"}

	sameFp := ImageFingerprints{"primary_image_ref:old": "fp1", "primary_image_ref:new": "fp1"}
	assert.Nil(t, Detect(wire.EntityProduct, "", prev, next, sameFp))

	diffFp := ImageFingerprints{"primary_image_ref:old": "fp1", "primary_image_ref:new": "fp2"}
	got := Detect(wire.EntityProduct, "", prev, next, diffFp)
	require.NotNil(t, got)
	assert.Equal(t, wire.EventImageChanged, got.EventType)
}

func TestDetect_EmptyToNonEmptyIsMeaningful(t *testing.T) {
	prev := Fields{"key_features": []string{}}
	next := Fields{"key_features": []string{"awd", "leather seats"}}
	got := Detect(wire.EntityProduct, "", prev, next, nil)
	require.NotNil(t, got)
}

func TestIsMeaningfulChange_NoisePatterns(t *testing.T) {
	noisy := []string{"utm_source", "gclid", "fbclid", "session_id", "csrf_token", "copyright_year", "experiment_bucket", "ga_analytics_id", "class_hash", "share_count", "cookie_consent"}
	for _, f := range noisy {
		assert.False(t, isMeaningfulChange(f, "a", "b", nil), "field %q should be noise", f)
	}
}

func TestValuesEqual_NullishValuesAreEqual(t *testing.T) {
	assert.True(t, valuesEqual(nil, ""))
	assert.True(t, valuesEqual([]string{}, nil))
	assert.True(t, valuesEqual(map[string]string{}, nil))
	assert.False(t, valuesEqual("a", "b"))
}

func TestDiffFields_OrderSensitiveArrayComparison(t *testing.T) {
	prev := Fields{"key_features": []string{"awd", "sunroof"}}
	next := Fields{"key_features": []string{"sunroof", "awd"}}
	diffs := diffFields(prev, next, nil)
	require.Len(t, diffs, 1)
	assert.True(t, diffs[0].IsMeaningful)
}
