package extract

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Paul008/oem-agent-sub002/internal/discovery"
	"github.com/Paul008/oem-agent-sub002/internal/selfheal"
)

func TestDecideLayer_NoCacheGoesToL4(t *testing.T) {
	assert.Equal(t, LayerL4, DecideLayer(discovery.HealthSummary{HasCache: false}))
}

func TestDecideLayer_LowHealthRatioGoesToL4(t *testing.T) {
	h := discovery.HealthSummary{HasCache: true, SelectorCount: 10, HealthySelectorCount: 2}
	assert.Equal(t, LayerL4, DecideLayer(h))
}

func TestDecideLayer_HealthyCacheGoesToL2(t *testing.T) {
	h := discovery.HealthSummary{HasCache: true, SelectorCount: 10, HealthySelectorCount: 5}
	assert.Equal(t, LayerL2, DecideLayer(h))
}

func TestRunBatch_AllSucceedIsL2(t *testing.T) {
	dom := `<div class="price">$10</div><div class="title">Widget</div>`
	slots := []Slot{
		{Name: "price", Cfg: selfheal.Config{Selector: ".price"}},
		{Name: "title", Cfg: selfheal.Config{Selector: ".title"}},
	}
	res, err := RunBatch(context.Background(), nil, slots, dom, "https://oem.example/p", "oem-a", selfheal.Options{})
	require.NoError(t, err)
	assert.Equal(t, selfheal.LayerL2, res.Layer)
	assert.Equal(t, 0, res.SelectorsFailed)
	assert.True(t, res.Success)
}

func TestRunBatch_IsIdempotentExceptTiming(t *testing.T) {
	dom := `<div class="price">$10</div>`
	slots := []Slot{{Name: "price", Cfg: selfheal.Config{Selector: ".price"}}}

	a, err := RunBatch(context.Background(), nil, slots, dom, "u", "t", selfheal.Options{})
	require.NoError(t, err)
	b, err := RunBatch(context.Background(), nil, slots, dom, "u", "t", selfheal.Options{})
	require.NoError(t, err)

	a.DurationMs, b.DurationMs = 0, 0
	assert.Equal(t, a, b)
}

func TestRunBatch_MajorityFailedIsNotSuccess(t *testing.T) {
	dom := `<div class="title">Widget</div>`
	slots := []Slot{
		{Name: "price", Cfg: selfheal.Config{Selector: ".missing-a", FailureCount: 10}},
		{Name: "offer", Cfg: selfheal.Config{Selector: ".missing-b", FailureCount: 10}},
		{Name: "title", Cfg: selfheal.Config{Selector: ".title"}},
	}
	res, err := RunBatch(context.Background(), nil, slots, dom, "u", "t", selfheal.Options{FailureThreshold: 100})
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Equal(t, 2, res.SelectorsFailed)
}
