// Package scheduler decides, for each SourcePage, whether now is a valid
// moment for a cheap check and whether to escalate to a full render, under
// the monthly render budgets and per-tenant backoff rules. It owns
// SourcePage's check/render timestamps and no-change counter; no other
// component mutates those fields.
package scheduler

import (
	"time"

	"github.com/Paul008/oem-agent-sub002/internal/registry"
	"github.com/Paul008/oem-agent-sub002/internal/wire"
)

// baseIntervals are the per-page-type base check intervals, in minutes.
var baseIntervals = map[wire.PageType]int{
	wire.PageHomepage:   120,
	wire.PageOffers:     240,
	wire.PageVehicle:    720,
	wire.PageNews:       1440,
	wire.PageSitemap:    1440,
	wire.PagePriceGuide: 1440,
	wire.PageCategory:   720,
	wire.PageBuildPrice: 720,
	wire.PageOther:      720,
}

// BaseIntervalMinutes returns the configured base interval for a page type,
// applying any tenant schedule override.
func BaseIntervalMinutes(pageType wire.PageType, overrides []registry.ScheduleOverride) int {
	for _, o := range overrides {
		if o.PageType == pageType {
			return o.IntervalMinutes
		}
	}
	if m, ok := baseIntervals[pageType]; ok {
		return m
	}
	return baseIntervals[wire.PageOther]
}

// Decision is the scheduler's verdict for one SourcePage at one instant.
type Decision struct {
	ShouldCheck  bool
	ShouldRender bool
	Reason       string
	NextCheckAt  time.Time
}

// EffectiveIntervalMinutes applies backoff to the base interval once a page
// has gone quiet for backoffAfterDays worth of checks.
func EffectiveIntervalMinutes(baseMinutes int, consecutiveNoChange int, backoffAfterDays int, backoffMultiplier float64) int {
	if baseMinutes <= 0 {
		return baseMinutes
	}
	threshold := backoffAfterDays * (1440 / baseMinutes)
	if consecutiveNoChange < threshold {
		return baseMinutes
	}
	if backoffMultiplier <= 0 {
		backoffMultiplier = 0.5
	}
	return int(float64(baseMinutes) / backoffMultiplier)
}

// ShouldCheck implements spec §4.1's shouldCheck policy.
func ShouldCheck(page wire.SourcePage, tenant registry.Tenant, now time.Time) Decision {
	base := BaseIntervalMinutes(page.PageType, tenant.ScheduleOverrides)
	effective := EffectiveIntervalMinutes(base, page.ConsecutiveNoChange, tenant.BackoffAfterDays, tenant.BackoffMultiplier)
	interval := time.Duration(effective) * time.Minute

	if page.LastCheckedAt.IsZero() {
		return Decision{ShouldCheck: true, Reason: "never checked", NextCheckAt: now.Add(interval)}
	}

	elapsed := now.Sub(page.LastCheckedAt)
	if elapsed < interval {
		return Decision{
			ShouldCheck: false,
			Reason:      "interval not elapsed",
			NextCheckAt: page.LastCheckedAt.Add(interval),
		}
	}
	return Decision{ShouldCheck: true, Reason: "interval elapsed", NextCheckAt: now.Add(interval)}
}

// RenderDecision is the verdict of ShouldRender, kept separate from Decision
// because it depends on a freshly fetched hash the caller only has after the
// cheap check runs.
type RenderDecision struct {
	Allow  bool
	Reason string
}

// ShouldRender implements spec §4.1's shouldRender policy. It must only be
// called when ShouldCheck returned true for the same page.
func ShouldRender(page wire.SourcePage, tenant registry.Tenant, newHash string, now time.Time) RenderDecision {
	maxRenderInterval := time.Duration(tenant.MaxRenderIntervalMinutes) * time.Minute
	if !page.LastRenderedAt.IsZero() && now.Sub(page.LastRenderedAt) < maxRenderInterval {
		return RenderDecision{Allow: false, Reason: "render rate limit"}
	}
	if tenant.RequiresBrowserRendering {
		return RenderDecision{Allow: true, Reason: "tenant requires browser rendering"}
	}
	if newHash == page.LastHTMLHash {
		return RenderDecision{Allow: false, Reason: "HTML hash unchanged — cost control"}
	}
	return RenderDecision{Allow: true, Reason: "hash changed"}
}

// ApplyCrawlResult computes the next SourcePage state after a crawl attempt,
// per spec §4.1's atomic state-update rule. It does not mutate page; callers
// persist the returned copy via the Repository.
func ApplyCrawlResult(page wire.SourcePage, now time.Time, htmlChanged bool, newHash string, rendered bool) wire.SourcePage {
	next := page
	next.LastCheckedAt = now
	next.LastHTMLHash = newHash
	if htmlChanged {
		next.LastChangedAt = now
		next.ConsecutiveNoChange = 0
	} else {
		next.ConsecutiveNoChange++
	}
	if rendered {
		next.LastRenderedAt = now
		next.LastRenderedHash = newHash
	}
	return next
}

// ApplyFetchFailure marks a page as errored without retrying: spec §4.1
// "the scheduler itself never retries" plus §7's permanent-fetch taxonomy.
func ApplyFetchFailure(page wire.SourcePage, now time.Time, message string) wire.SourcePage {
	next := page
	next.LastCheckedAt = now
	next.Status = wire.PageError
	next.LastError = message
	return next
}
