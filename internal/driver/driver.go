// Package driver runs the parallel worker pool that ties the scheduler,
// fetcher, renderer, extractor, change detector, and alert router together
// into one crawl job per SourcePage (spec §5's "driver is a parallel worker
// pool" model), grounded on the crawler's multi-stage pipeline but
// collapsed to a single per-job pipeline run to completion rather than
// separate discovery/extraction/processing/output stage queues — spec §5
// explicitly wants one worker owning fetch→render→extract→compare→emit for
// its job, not a hand-off between stage-specific worker pools.
package driver

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Paul008/oem-agent-sub002/internal/alert"
	"github.com/Paul008/oem-agent-sub002/internal/changedetect"
	"github.com/Paul008/oem-agent-sub002/internal/discovery"
	"github.com/Paul008/oem-agent-sub002/internal/extract"
	"github.com/Paul008/oem-agent-sub002/internal/fetch"
	"github.com/Paul008/oem-agent-sub002/internal/format"
	"github.com/Paul008/oem-agent-sub002/internal/llm"
	"github.com/Paul008/oem-agent-sub002/internal/registry"
	"github.com/Paul008/oem-agent-sub002/internal/render"
	"github.com/Paul008/oem-agent-sub002/internal/repository"
	"github.com/Paul008/oem-agent-sub002/internal/scheduler"
	"github.com/Paul008/oem-agent-sub002/internal/selfheal"
	"github.com/Paul008/oem-agent-sub002/internal/telemetry"
	"github.com/Paul008/oem-agent-sub002/internal/transport"
	"github.com/Paul008/oem-agent-sub002/internal/wire"
)

// Slots returns the extraction targets for a page type, shared across
// tenants; the slot set itself is configuration the driver is handed, not
// something it derives.
type Slots func(pageType wire.PageType) []extract.Slot

// Driver owns the worker pool and every external collaborator it drives.
type Driver struct {
	Registry   *registry.Registry
	Queue      *scheduler.PriorityQueue
	KeyLock    *scheduler.KeyedMutex
	Budget     *scheduler.BudgetTracker
	Repo       repository.Repository
	Fetcher    *fetch.Fetcher
	Renderer   render.Renderer
	Oracle     llm.Oracle
	Discovery  *discovery.Registry
	Batcher    *alert.Batcher
	Transport  transport.Transport
	Metrics    *telemetry.Metrics
	Logger     *telemetry.Logger
	Slots      Slots
	WorkerCount int

	pages    sync.Map // PageID (string) -> wire.SourcePage
	inFlight sync.Map // URL (string) -> struct{}
}

// Run starts WorkerCount workers draining the queue until ctx is cancelled,
// and blocks until every worker has exited.
func (d *Driver) Run(ctx context.Context) {
	workers := d.WorkerCount
	if workers <= 0 {
		workers = 4
	}
	var wg sync.WaitGroup
	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer wg.Done()
			d.workerLoop(ctx)
		}()
	}
	wg.Wait()
}

func (d *Driver) workerLoop(ctx context.Context) {
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			job, ok := d.Queue.Dequeue()
			if !ok {
				continue
			}
			if _, already := d.inFlight.LoadOrStore(job.URL, struct{}{}); already {
				d.Queue.Enqueue(job)
				continue
			}
			d.processJob(ctx, job)
			d.inFlight.Delete(job.URL)
		}
	}
}

// ScheduleTick runs one scheduling pass for tenant: loads its due pages,
// caches them, enqueues a Job for every page ShouldCheck approves, and
// records an ImportRun summarizing how many pages this pass touched. The
// caller (cmd's cron loop) decides how often to call this per tenant.
//
// The ImportRun this creates is marked completed immediately with the
// enqueue count standing in for pages_checked: the actual fetch/render/
// extract work happens asynchronously on the worker pool afterward, so a
// single run row can't wait for it without blocking the scheduling loop.
// Per-job outcome counts are visible in Metrics, not folded back into this
// row.
func (d *Driver) ScheduleTick(ctx context.Context, tenant registry.Tenant, now time.Time) (int, error) {
	pages, err := d.Repo.GetPagesToCheck(ctx, tenant.ID, now)
	if err != nil {
		return 0, fmt.Errorf("driver: get pages to check for %s: %w", tenant.ID, err)
	}

	runID := uuid.NewString()
	enqueued := 0
	for _, page := range pages {
		d.pages.Store(page.ID, page)
		decision := scheduler.ShouldCheck(page, tenant, now)
		if !decision.ShouldCheck {
			continue
		}
		d.Queue.Enqueue(&scheduler.Job{
			PageID:      page.ID,
			URL:         page.URL,
			TenantID:    page.TenantID,
			PageType:    string(page.PageType),
			Priority:    priorityFor(page),
			ScheduledAt: now,
			ImportRunID: runID,
		})
		enqueued++
	}
	if d.Metrics != nil {
		d.Metrics.QueueDepth.WithLabelValues(tenant.ID).Set(float64(d.Queue.Len()))
	}

	run := wire.ImportRun{
		ID: runID, TenantID: tenant.ID, StartedAt: now, FinishedAt: now,
		Status: wire.ImportCompleted, PagesChecked: enqueued,
	}
	if err := d.Repo.InsertImportRun(ctx, run); err != nil {
		d.Logger.Error(ctx, "driver: insert import run failed", "tenant", tenant.ID, "error", err)
	}

	return enqueued, nil
}

// priorityFor gives homepage/offers pages higher priority than slow-moving
// vehicle/news pages, so a busy queue drains the pages most likely to have
// changed first.
func priorityFor(page wire.SourcePage) int {
	switch page.PageType {
	case wire.PageHomepage, wire.PageOffers:
		return 9
	case wire.PageBuildPrice, wire.PagePriceGuide:
		return 5
	default:
		return 1
	}
}

func (d *Driver) processJob(ctx context.Context, job *scheduler.Job) {
	logger := d.Logger.With("tenant", job.TenantID, "url", job.URL)
	now := time.Now()

	pageVal, ok := d.pages.Load(job.PageID)
	if !ok {
		logger.Warn(ctx, "driver: page not cached, skipping job")
		return
	}
	page := pageVal.(wire.SourcePage)

	tenant, ok := d.Registry.Tenant(job.TenantID)
	if !ok {
		logger.Warn(ctx, "driver: unknown tenant, skipping job")
		return
	}

	fetchResult, err := d.Fetcher.Fetch(ctx, job.URL)
	if err != nil {
		logger.Error(ctx, "driver: fetch failed", "error", err)
		if d.Metrics != nil {
			d.Metrics.FetchesTotal.WithLabelValues(job.TenantID, "error").Inc()
		}
		failed := scheduler.ApplyFetchFailure(page, now, err.Error())
		d.persistPage(ctx, job.PageID, failed)
		return
	}
	if d.Metrics != nil {
		d.Metrics.FetchesTotal.WithLabelValues(job.TenantID, "ok").Inc()
	}

	htmlChanged := fetchResult.Fingerprint != page.LastHTMLHash
	domHTML := fetchResult.NormalizedHTML
	rendered := false

	renderDecision := scheduler.ShouldRender(page, tenant, fetchResult.Fingerprint, now)
	if renderDecision.Allow {
		if verdict := d.checkRenderBudget(tenant); verdict.Allowed {
			if verdict.Warning != "" {
				logger.Warn(ctx, "driver: render budget warning", "warning", verdict.Warning)
			}
			renderedHTML, rerr := d.renderPage(ctx, job.URL)
			d.Budget.RecordRender(job.TenantID, now)
			if rerr != nil {
				logger.Error(ctx, "driver: render failed", "error", rerr)
				if d.Metrics != nil {
					d.Metrics.RendersTotal.WithLabelValues(job.TenantID, "error").Inc()
				}
			} else {
				domHTML = renderedHTML
				rendered = true
				if d.Metrics != nil {
					d.Metrics.RendersTotal.WithLabelValues(job.TenantID, "ok").Inc()
				}
			}
		} else {
			logger.Warn(ctx, "driver: render denied by budget", "reason", verdict.Reason)
		}
	}

	next := scheduler.ApplyCrawlResult(page, now, htmlChanged, fetchResult.Fingerprint, rendered)
	d.persistPage(ctx, job.PageID, next)

	if !htmlChanged && !rendered {
		return
	}

	d.runExtractionAndAlerting(ctx, job, domHTML, logger)
}

func (d *Driver) checkRenderBudget(tenant registry.Tenant) scheduler.BudgetVerdict {
	counts := d.Budget.Counts(tenant.ID, time.Now())
	return scheduler.CheckBudget(counts, tenant.MonthlyRenderCap, d.Registry.GlobalRenderCap())
}

func (d *Driver) renderPage(ctx context.Context, url string) (string, error) {
	session, err := d.Renderer.Open(ctx)
	if err != nil {
		return "", err
	}
	defer session.Close(ctx)

	if err := session.Navigate(ctx, url); err != nil {
		return "", err
	}
	if err := session.WaitForLoad(ctx, 10*time.Second); err != nil {
		return "", err
	}
	return session.DOM(ctx)
}

// persistPage applies the scheduler's updated SourcePage state. The keyed
// mutex here guards only this read-decide-update triplet (cache store plus
// repository write), not the network I/O that produced page — see
// KeyedMutex's own doc comment on why no suspension belongs inside it.
func (d *Driver) persistPage(ctx context.Context, pageID string, page wire.SourcePage) {
	var updateErr error
	d.KeyLock.With(pageID, func() {
		d.pages.Store(pageID, page)
		updateErr = d.Repo.UpdatePage(ctx, pageID, page)
	})
	if updateErr != nil {
		d.Logger.Error(ctx, "driver: update page failed", "pageId", pageID, "error", updateErr)
	}
}

func (d *Driver) runExtractionAndAlerting(ctx context.Context, job *scheduler.Job, domHTML string, logger *telemetry.Logger) {
	cache := d.Discovery.Get(job.TenantID)
	layer := extract.DecideLayer(cache.HealthSummary())
	if layer == extract.LayerL4 && d.Metrics != nil {
		d.Metrics.DiscoveryRunsTotal.WithLabelValues(job.TenantID).Inc()
	}

	slots := d.Slots(wire.PageType(job.PageType))
	if len(slots) == 0 {
		return
	}
	for i, s := range slots {
		if cfg, ok := cache.GetSelector(s.Name); ok {
			slots[i].Cfg = cfg
		}
	}

	batch, err := extract.RunBatch(ctx, d.Oracle, slots, domHTML, job.URL, job.TenantID, selfheal.Options{})
	if err != nil {
		logger.Error(ctx, "driver: extraction failed", "error", err)
		return
	}
	for _, res := range batch.Results {
		cache.SetSelector(res.Slot, res.Updated)
	}
	cache.AppendStat(discovery.ExtractionStat{
		Timestamp: time.Now(), SelectorsUsed: batch.SelectorsUsed, SelectorsFailed: batch.SelectorsFailed,
		SelectorsRepaired: batch.SelectorsRepaired, LLMCalls: batch.LLMCalls, DurationMs: batch.DurationMs,
		Layer: batch.Layer, Success: batch.Success,
	})
	d.Discovery.MarkDirty(job.TenantID)
	if d.Metrics != nil && batch.LLMCalls > 0 {
		d.Metrics.LLMCallsTotal.WithLabelValues(job.TenantID).Add(float64(batch.LLMCalls))
	}

	if !batch.Success {
		return
	}

	d.upsertAndEvaluate(ctx, job, wire.PageType(job.PageType), batch.Results, logger)
}

// upsertAndEvaluate turns one page's slot batch into the page-type-
// appropriate entities, upserts each against its previous row, and runs
// change detection on every one that was found. A single page can yield a
// Product/Offer and a Banner at once (spec §3: a homepage carries both
// offer cards and hero banners).
func (d *Driver) upsertAndEvaluate(ctx context.Context, job *scheduler.Job, pageType wire.PageType, results []extract.SlotResult, logger *telemetry.Logger) {
	now := time.Now()

	switch pageType {
	case wire.PageHomepage, wire.PageOffers:
		if fields, ok := buildOfferFields(results); ok {
			d.upsertOffer(ctx, job, fields, now, logger)
		}
		if fields, ok := buildBannerFields(results); ok {
			d.upsertBanner(ctx, job, fields, now, logger)
		}
	case wire.PageBuildPrice, wire.PagePriceGuide, wire.PageVehicle, wire.PageCategory:
		if fields, ok := buildVehicleFields(results); ok {
			d.upsertProduct(ctx, job, fields, now, logger)
		}
	}
}

func (d *Driver) upsertProduct(ctx context.Context, job *scheduler.Job, fields changedetect.Fields, now time.Time, logger *telemetry.Logger) {
	existing, found, err := d.Repo.GetProductByKey(ctx, job.TenantID, job.URL)
	if err != nil {
		logger.Error(ctx, "driver: get product failed", "error", err)
		return
	}
	if !found {
		existing.ID = uuid.NewString()
	}
	var previous changedetect.Fields
	if found {
		previous = fieldsFromProduct(existing)
	}

	updated := applyProductFields(existing, job.TenantID, job.URL, job.URL, fields, now)
	if err := d.Repo.UpsertProduct(ctx, updated); err != nil {
		logger.Error(ctx, "driver: upsert product failed", "error", err)
		return
	}

	title := updated.Title
	if err := d.EvaluateChange(ctx, job.TenantID, job.ImportRunID, wire.EntityProduct, updated.ID, title,
		previous, fields, nil, updated.ContentHash); err != nil {
		logger.Error(ctx, "driver: evaluate product change failed", "error", err)
	}
}

func (d *Driver) upsertOffer(ctx context.Context, job *scheduler.Job, fields changedetect.Fields, now time.Time, logger *telemetry.Logger) {
	existing, found, err := d.Repo.GetOfferByKey(ctx, job.TenantID, job.URL)
	if err != nil {
		logger.Error(ctx, "driver: get offer failed", "error", err)
		return
	}
	if !found {
		existing.ID = uuid.NewString()
	}
	var previous changedetect.Fields
	if found {
		previous = fieldsFromOffer(existing)
	}

	updated := applyOfferFields(existing, job.TenantID, job.URL, job.URL, fields, now)
	if err := d.Repo.UpsertOffer(ctx, updated); err != nil {
		logger.Error(ctx, "driver: upsert offer failed", "error", err)
		return
	}

	title := updated.Title
	if err := d.EvaluateChange(ctx, job.TenantID, job.ImportRunID, wire.EntityOffer, updated.ID, title,
		previous, fields, nil, updated.ContentHash); err != nil {
		logger.Error(ctx, "driver: evaluate offer change failed", "error", err)
	}
}

func (d *Driver) upsertBanner(ctx context.Context, job *scheduler.Job, fields changedetect.Fields, now time.Time, logger *telemetry.Logger) {
	const position = 0
	existing, found, err := d.Repo.GetBannerByPosition(ctx, job.TenantID, job.URL, position)
	if err != nil {
		logger.Error(ctx, "driver: get banner failed", "error", err)
		return
	}
	if !found {
		existing.ID = uuid.NewString()
		existing.Position = position
	}
	var previous changedetect.Fields
	if found {
		previous = fieldsFromBanner(existing)
	}

	updated := applyBannerFields(existing, job.TenantID, job.URL, fields, now)
	if err := d.Repo.UpsertBanner(ctx, updated); err != nil {
		logger.Error(ctx, "driver: upsert banner failed", "error", err)
		return
	}

	title := updated.Headline
	if err := d.EvaluateChange(ctx, job.TenantID, job.ImportRunID, wire.EntityBanner, updated.ID, title,
		previous, fields, nil, updated.ContentHash); err != nil {
		logger.Error(ctx, "driver: evaluate banner change failed", "error", err)
	}
}

// EvaluateChange runs change detection for one entity against its previous
// Fields snapshot, persists a Version when content changed, records and
// routes a ChangeEvent when the change is meaningful, and posts the
// notification (or queues it for batch delivery).
func (d *Driver) EvaluateChange(ctx context.Context, tenantID, importRunID string, entityType wire.EntityType, entityID, title string, previous, next changedetect.Fields, images changedetect.ImageFingerprints, contentHash string) error {
	analysis := changedetect.Detect(entityType, title, previous, next, images)
	now := time.Now()

	if err := d.Repo.InsertVersion(ctx, wire.Version{
		ID: uuid.NewString(), EntityType: entityType, EntityID: entityID, ImportRunID: importRunID,
		ContentHash: contentHash, CreatedAt: now,
	}); err != nil {
		return fmt.Errorf("driver: insert version: %w", err)
	}

	if analysis == nil {
		return nil
	}

	channel := alert.Route(nil, analysis)
	event := wire.ChangeEvent{
		ID: uuid.NewString(), TenantID: tenantID, ImportRunID: importRunID, EntityType: entityType,
		EntityID: entityID, EventType: analysis.EventType, Severity: analysis.Severity,
		Summary: analysis.Summary, Diff: analysis.Diff, NotifiedChannel: channel,
	}

	if d.Metrics != nil {
		d.Metrics.ChangeEventsTotal.WithLabelValues(tenantID, string(analysis.Severity)).Inc()
	}

	switch channel {
	case wire.ChannelSlackImmediate, wire.ChannelEmail:
		if err := d.notify(ctx, tenantID, channel, analysis); err == nil {
			event.NotifiedAt = now
		}
	default:
		d.Batcher.Add(tenantID, channel, analysis)
	}

	if err := d.Repo.InsertChangeEvent(ctx, event); err != nil {
		return fmt.Errorf("driver: insert change event: %w", err)
	}
	return nil
}

// longFormFields lists the Diff fields whose NewValue is raw HTML worth
// rendering to markdown in the notification body rather than quoting
// verbatim; every other field is summarized as plain text by changedetect.
var longFormFields = map[string]bool{"disclaimer": true, "description": true}

func (d *Driver) notify(ctx context.Context, tenantID string, channel wire.AlertChannel, analysis *changedetect.Analysis) error {
	msg := transport.Message{
		Text: analysis.Summary,
		Blocks: []transport.Block{
			{Type: transport.BlockHeader, Text: string(analysis.EventType)},
			{Type: transport.BlockSection, Text: analysis.Summary},
		},
	}
	for _, diff := range analysis.Diff {
		if !diff.IsMeaningful || !longFormFields[diff.Field] {
			continue
		}
		html, ok := diff.NewValue.(string)
		if !ok || html == "" {
			continue
		}
		md, err := format.ToMarkdown(html)
		if err != nil {
			d.Logger.Warn(ctx, "driver: markdown conversion failed", "field", diff.Field, "error", err)
			continue
		}
		msg.Blocks = append(msg.Blocks, transport.Block{Type: transport.BlockSection, Text: fmt.Sprintf("*%s*: %s", diff.Field, md)})
	}
	err := d.Transport.Post(ctx, string(channel), msg)
	outcome := "ok"
	if err != nil {
		outcome = "error"
		d.Logger.Error(ctx, "driver: notify failed", "tenant", tenantID, "channel", channel, "error", err)
	}
	if d.Metrics != nil {
		d.Metrics.AlertsSentTotal.WithLabelValues(tenantID, string(channel), outcome).Inc()
	}
	return err
}

// FlushBatches posts every tenant's pending batch for channel and clears it;
// the caller's cron loop invokes this hourly and daily respectively.
func (d *Driver) FlushBatches(ctx context.Context, channel wire.AlertChannel) {
	for _, tenant := range d.Batcher.Tenants() {
		var batch []*changedetect.Analysis
		switch channel {
		case wire.ChannelSlackBatchHourly:
			batch = d.Batcher.HourlyBatch(tenant)
		case wire.ChannelSlackBatchDaily:
			batch = d.Batcher.DailyBatch(tenant)
		default:
			continue
		}
		if len(batch) == 0 {
			continue
		}
		summary := fmt.Sprintf("%d changes detected", len(batch))
		msg := transport.Message{Text: summary}
		for _, a := range batch {
			msg.Blocks = append(msg.Blocks, transport.Block{Type: transport.BlockSection, Text: a.Summary})
		}
		if err := d.Transport.Post(ctx, string(channel), msg); err != nil {
			d.Logger.Error(ctx, "driver: batch flush failed", "tenant", tenant, "channel", channel, "error", err)
			continue
		}
		switch channel {
		case wire.ChannelSlackBatchHourly:
			d.Batcher.ClearHourly(tenant)
		case wire.ChannelSlackBatchDaily:
			d.Batcher.ClearDaily(tenant)
		}
	}
}
