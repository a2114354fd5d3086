// Package alert routes a changedetect.Analysis to a notification channel
// and batches non-immediate channels for periodic flush by the driver.
package alert

import (
	"github.com/Paul008/oem-agent-sub002/internal/changedetect"
	"github.com/Paul008/oem-agent-sub002/internal/wire"
)

// Rule is one entry of the ordered routing table, keyed by (entity type,
// field). The table is scanned linearly — at most ~30 entries, per spec §9's
// "data table, not a class hierarchy" guidance.
type Rule struct {
	EntityType wire.EntityType
	Field      string
	Channel    wire.AlertChannel
}

// DefaultRules is the routing table used when no tenant-specific override
// is configured.
var DefaultRules = []Rule{
	{EntityType: wire.EntityProduct, Field: "price_amount", Channel: wire.ChannelSlackImmediate},
	{EntityType: wire.EntityProduct, Field: "availability", Channel: wire.ChannelSlackImmediate},
	{EntityType: wire.EntityOffer, Field: "price_amount", Channel: wire.ChannelSlackImmediate},
	{EntityType: wire.EntityOffer, Field: "saving_amount", Channel: wire.ChannelSlackImmediate},
	{EntityType: wire.EntityOffer, Field: "valid_to", Channel: wire.ChannelSlackBatchHourly},
	{EntityType: wire.EntityBanner, Field: "headline", Channel: wire.ChannelSlackBatchHourly},
	{EntityType: wire.EntityProduct, Field: "disclaimer", Channel: wire.ChannelEmail},
	{EntityType: wire.EntityOffer, Field: "disclaimer", Channel: wire.ChannelEmail},
}

func defaultChannelForEntity(entityType wire.EntityType) wire.AlertChannel {
	switch entityType {
	case wire.EntityProduct, wire.EntityOffer:
		return wire.ChannelSlackImmediate
	case wire.EntityBanner:
		return wire.ChannelSlackBatchHourly
	default:
		return wire.ChannelSlackBatchDaily
	}
}

// Route implements spec §4.6's alert routing: the first meaningful change
// with a matching rule wins; otherwise the entity-type default applies.
func Route(rules []Rule, analysis *changedetect.Analysis) wire.AlertChannel {
	if rules == nil {
		rules = DefaultRules
	}
	for _, d := range analysis.Diff {
		if !d.IsMeaningful {
			continue
		}
		for _, r := range rules {
			if r.EntityType == analysis.EntityType && r.Field == d.Field {
				return r.Channel
			}
		}
	}
	return defaultChannelForEntity(analysis.EntityType)
}
