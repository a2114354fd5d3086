package alert

import (
	"sync"

	"github.com/Paul008/oem-agent-sub002/internal/changedetect"
	"github.com/Paul008/oem-agent-sub002/internal/wire"
)

// Batcher accumulates pending analyses per tenant for the hourly and daily
// channels; the driver owns the tick that drains them (spec §4.6: "On tick
// (owned by the driver, not the detector)...").
type Batcher struct {
	mu     sync.Mutex
	hourly map[string][]*changedetect.Analysis
	daily  map[string][]*changedetect.Analysis
}

// NewBatcher returns an empty batcher.
func NewBatcher() *Batcher {
	return &Batcher{
		hourly: make(map[string][]*changedetect.Analysis),
		daily:  make(map[string][]*changedetect.Analysis),
	}
}

// Add appends analysis to the pending list for tenant under channel. It is
// a no-op for slack_immediate and email, which bypass batching entirely.
func (b *Batcher) Add(tenant string, channel wire.AlertChannel, analysis *changedetect.Analysis) {
	b.mu.Lock()
	defer b.mu.Unlock()
	switch channel {
	case wire.ChannelSlackBatchHourly:
		b.hourly[tenant] = append(b.hourly[tenant], analysis)
	case wire.ChannelSlackBatchDaily:
		b.daily[tenant] = append(b.daily[tenant], analysis)
	}
}

// HourlyBatch returns tenant's pending hourly analyses without clearing them.
func (b *Batcher) HourlyBatch(tenant string) []*changedetect.Analysis {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]*changedetect.Analysis(nil), b.hourly[tenant]...)
}

// DailyBatch returns tenant's pending daily analyses without clearing them.
func (b *Batcher) DailyBatch(tenant string) []*changedetect.Analysis {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]*changedetect.Analysis(nil), b.daily[tenant]...)
}

// ClearHourly empties tenant's hourly batch.
func (b *Batcher) ClearHourly(tenant string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.hourly, tenant)
}

// ClearDaily empties tenant's daily batch.
func (b *Batcher) ClearDaily(tenant string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.daily, tenant)
}

// Tenants returns every tenant with at least one pending hourly or daily
// analysis, used by the driver to know who to flush on tick.
func (b *Batcher) Tenants() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	seen := make(map[string]bool)
	var out []string
	for t := range b.hourly {
		if !seen[t] {
			seen[t] = true
			out = append(out, t)
		}
	}
	for t := range b.daily {
		if !seen[t] {
			seen[t] = true
			out = append(out, t)
		}
	}
	return out
}
