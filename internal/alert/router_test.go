package alert

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/Paul008/oem-agent-sub002/internal/changedetect"
	"github.com/Paul008/oem-agent-sub002/internal/wire"
)

func TestRoute_MatchesRuleForMeaningfulField(t *testing.T) {
	a := &changedetect.Analysis{
		EntityType: wire.EntityProduct,
		Diff:       []wire.FieldDiff{{Field: "price_amount", IsMeaningful: true}},
	}
	assert.Equal(t, wire.ChannelSlackImmediate, Route(nil, a))
}

func TestRoute_IgnoresNonMeaningfulDiffs(t *testing.T) {
	a := &changedetect.Analysis{
		EntityType: wire.EntityBanner,
		Diff:       []wire.FieldDiff{{Field: "price_amount", IsMeaningful: false}},
	}
	assert.Equal(t, wire.ChannelSlackBatchHourly, Route(nil, a))
}

func TestRoute_FallsBackToEntityDefault(t *testing.T) {
	a := &changedetect.Analysis{
		EntityType: wire.EntityProduct,
		Diff:       []wire.FieldDiff{{Field: "unmapped_field", IsMeaningful: true}},
	}
	assert.Equal(t, wire.ChannelSlackImmediate, Route(nil, a))

	b := &changedetect.Analysis{
		EntityType: wire.EntityBanner,
		Diff:       []wire.FieldDiff{{Field: "unmapped_field", IsMeaningful: true}},
	}
	assert.Equal(t, wire.ChannelSlackBatchHourly, Route(nil, b))
}

func TestBatcher_ClearHourlyEmptiesOnlyHourly(t *testing.T) {
	b := NewBatcher()
	b.Add("oem-a", wire.ChannelSlackBatchHourly, &changedetect.Analysis{})
	b.Add("oem-a", wire.ChannelSlackBatchDaily, &changedetect.Analysis{})

	assert.Len(t, b.HourlyBatch("oem-a"), 1)
	b.ClearHourly("oem-a")
	assert.Empty(t, b.HourlyBatch("oem-a"))
	assert.Len(t, b.DailyBatch("oem-a"), 1)
}

func TestBatcher_ImmediateChannelIsNeverBatched(t *testing.T) {
	b := NewBatcher()
	b.Add("oem-a", wire.ChannelSlackImmediate, &changedetect.Analysis{})
	assert.Empty(t, b.HourlyBatch("oem-a"))
	assert.Empty(t, b.DailyBatch("oem-a"))
	assert.Empty(t, b.Tenants())
}
