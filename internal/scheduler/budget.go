package scheduler

import (
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// RenderCounts is the current month's render tallies for a tenant, as
// returned by the Repository's getRenderCounts per spec §6.
type RenderCounts struct {
	Tenant int
	Global int
}

// BudgetVerdict is the outcome of a budget check: allowed or denied, with an
// observability warning attached once a cap is 80% consumed.
type BudgetVerdict struct {
	Allowed bool
	Reason  string
	Warning string
}

// CheckBudget implements spec §4.1's budget gating, consulted by the driver
// before dispatching a render.
func CheckBudget(counts RenderCounts, tenantCap, globalCap int) BudgetVerdict {
	if tenantCap <= 0 {
		tenantCap = 1000
	}
	if globalCap <= 0 {
		globalCap = 10000
	}
	if counts.Tenant >= tenantCap {
		return BudgetVerdict{Allowed: false, Reason: "tenant monthly render cap exceeded"}
	}
	if counts.Global >= globalCap {
		return BudgetVerdict{Allowed: false, Reason: "global monthly render cap exceeded"}
	}

	v := BudgetVerdict{Allowed: true, Reason: "within budget"}
	if float64(counts.Tenant) >= 0.8*float64(tenantCap) {
		v.Warning = fmt.Sprintf("tenant render budget at %.0f%% of cap", 100*float64(counts.Tenant)/float64(tenantCap))
	} else if float64(counts.Global) >= 0.8*float64(globalCap) {
		v.Warning = fmt.Sprintf("global render budget at %.0f%% of cap", 100*float64(counts.Global)/float64(globalCap))
	}
	return v
}

// BudgetTracker is an in-process, monthly-windowed counter pair per tenant
// plus one global counter, read by the driver before granting a render and
// updated atomically when a render succeeds or fails (spec §5 "Rate
// limits"). It also holds a golang.org/x/time/rate limiter, exposed through
// AllowBurst, that is separate from the hard monthly cap; the driver's
// render path does not call AllowBurst, so renders are not paced by it.
type BudgetTracker struct {
	mu          sync.Mutex
	month       time.Time
	perTenant   map[string]int
	global      int
	burstLimiter *rate.Limiter
}

// NewBudgetTracker creates a tracker with a burst-smoothing rate of
// rendersPerSecond sustained renders and the given burst size.
func NewBudgetTracker(rendersPerSecond float64, burst int) *BudgetTracker {
	if rendersPerSecond <= 0 {
		rendersPerSecond = 2
	}
	if burst <= 0 {
		burst = 5
	}
	return &BudgetTracker{
		month:        monthOf(time.Now()),
		perTenant:    make(map[string]int),
		burstLimiter: rate.NewLimiter(rate.Limit(rendersPerSecond), burst),
	}
}

func monthOf(t time.Time) time.Time {
	y, m, _ := t.Date()
	return time.Date(y, m, 1, 0, 0, 0, 0, time.UTC)
}

func (b *BudgetTracker) rolloverLocked(now time.Time) {
	cur := monthOf(now)
	if !cur.Equal(b.month) {
		b.month = cur
		b.perTenant = make(map[string]int)
		b.global = 0
	}
}

// Counts returns the current month's counters for a tenant.
func (b *BudgetTracker) Counts(tenant string, now time.Time) RenderCounts {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.rolloverLocked(now)
	return RenderCounts{Tenant: b.perTenant[tenant], Global: b.global}
}

// RecordRender increments both counters after a render attempt. Spec §5
// says the driver updates counters "when a render succeeds or fails" —
// budget consumption is about render attempts, not outcomes, so this is
// called unconditionally once a render is dispatched.
func (b *BudgetTracker) RecordRender(tenant string, now time.Time) {
	b.mu.Lock()
	b.rolloverLocked(now)
	b.perTenant[tenant]++
	b.global++
	b.mu.Unlock()
}

// AllowBurst reports whether the burst-smoothing limiter currently permits a
// render to proceed; it never substitutes for CheckBudget, only paces it.
func (b *BudgetTracker) AllowBurst() bool {
	return b.burstLimiter.Allow()
}
